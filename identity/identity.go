// Package identity implements the administrative surface over resellers,
// accounts, users, and services: every operation is a composite of
// backing-store calls, each translated into *apierr.Error at the HTTP
// status-class boundary.
package identity

import (
	"context"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/pkg/log"
)

// Store is the identity administration surface described in spec section 4.5.
type Store struct {
	// Auth talks to the dedicated auth account, typically in-process via
	// backing.PreAuthorizedDoer.
	Auth *backing.Client

	// Cluster talks to the primary storage cluster where reseller storage
	// accounts actually live, typically over external HTTP.
	Cluster *backing.Client

	Internal *backing.InternalTokenManager

	Prefix      string
	ClusterName string
	// ClusterPublicURL is the base URL under which a reseller's storage
	// account is reachable, e.g. "https://storage.example.com/v1".
	ClusterPublicURL string

	Logger log.Logger
}

func (s *Store) authAccountPath() string {
	return "/" + backing.AuthAccount(s.Prefix)
}

func (s *Store) accountPath(account string) string {
	return s.authAccountPath() + "/" + account
}

func (s *Store) userPath(account, user string) string {
	return s.accountPath(account) + "/" + user
}

func (s *Store) servicesPath(account string) string {
	return s.accountPath(account) + "/" + backing.ServicesObject
}

func (s *Store) accountIDMappingPath(accountID string) string {
	return s.authAccountPath() + "/" + backing.AccountIDMappingObject(accountID)
}

// Prep initializes the auth account and its fixed shard containers. It is
// idempotent: re-running it against an already-prepped cluster only
// re-issues 2xx PUTs.
func (s *Store) Prep(ctx context.Context) error {
	authPath := s.authAccountPath()
	if err := s.putContainer(ctx, authPath); err != nil {
		return err
	}
	if err := s.putContainer(ctx, authPath+"/"+backing.AccountIDDir); err != nil {
		return err
	}
	for _, shard := range backing.AllTokenShards() {
		if err := s.putContainer(ctx, authPath+"/"+backing.TokenContainer(shard)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) putContainer(ctx context.Context, path string) error {
	resp, err := s.Auth.Put(ctx, path, nil, nil)
	if err != nil {
		return err
	}
	return backing.CheckStatus(resp, path, http.StatusCreated, http.StatusAccepted, http.StatusOK)
}

// ListAccounts returns the non-reserved account names under the auth
// account.
func (s *Store) ListAccounts(ctx context.Context) ([]string, error) {
	var names []string
	resp, err := s.Auth.GetJSON(ctx, s.authAccountPath(), nil, &names)
	if err != nil {
		return nil, err
	}
	if err := backing.CheckStatus(resp, s.authAccountPath(), http.StatusOK); err != nil {
		return nil, err
	}
	return filterReserved(names), nil
}

func filterReserved(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !backing.IsReservedName(n) {
			out = append(out, n)
		}
	}
	return out
}

// AccountInfo is the result of GetAccount.
type AccountInfo struct {
	AccountID string
	Services  backing.ServicesDocument
	Users     []string
}

// GetAccount returns an account's id, services document, and user list.
func (s *Store) GetAccount(ctx context.Context, account string) (AccountInfo, error) {
	path := s.accountPath(account)
	resp, err := s.Auth.Head(ctx, path, nil)
	if err != nil {
		return AccountInfo{}, err
	}
	if err := backing.CheckStatus(resp, path, http.StatusOK, http.StatusNoContent); err != nil {
		return AccountInfo{}, err
	}
	accountID := resp.Header.Get("X-Container-Meta-" + backing.AccountIDMetaKey)
	if accountID == "" {
		return AccountInfo{}, apierr.NotFound(account, nil)
	}

	var services backing.ServicesDocument
	if _, err := s.Auth.GetJSON(ctx, s.servicesPath(account), nil, &services); err != nil {
		return AccountInfo{}, err
	}

	var names []string
	listResp, err := s.Auth.GetJSON(ctx, path, nil, &names)
	if err != nil {
		return AccountInfo{}, err
	}
	if err := backing.CheckStatus(listResp, path, http.StatusOK); err != nil {
		return AccountInfo{}, err
	}

	return AccountInfo{AccountID: accountID, Services: services, Users: filterReserved(names)}, nil
}

// CreateAccountResult is the result of CreateAccount.
type CreateAccountResult struct {
	AccountID string
	// Created is false when the account already existed and the call was
	// an idempotent no-op (spec's "AlreadyExists" outcome).
	Created bool
}

// CreateAccount creates reseller account "account", generating a random
// suffix if suffix is empty, per spec section 4.5's seven-step sequence.
func (s *Store) CreateAccount(ctx context.Context, account, suffix string, now time.Time) (CreateAccountResult, error) {
	path := s.accountPath(account)

	headResp, err := s.Auth.Head(ctx, path, nil)
	if err != nil {
		return CreateAccountResult{}, err
	}

	containerExists := headResp.StatusCode == http.StatusOK || headResp.StatusCode == http.StatusNoContent
	if containerExists {
		if existingID := headResp.Header.Get("X-Container-Meta-" + backing.AccountIDMetaKey); existingID != "" {
			return CreateAccountResult{AccountID: existingID, Created: false}, nil
		}
		// Present without account-id metadata: a prior partial create.
		// Continue with the remaining steps, skipping only the container
		// PUT. A suffix is generated if none was supplied, so a retry
		// without the original suffix gets a fresh account id, and the
		// storage account is PUT again either way.
	} else if headResp.StatusCode != http.StatusNotFound {
		if err := backing.CheckStatus(headResp, path, http.StatusOK); err != nil {
			return CreateAccountResult{}, err
		}
	}

	if suffix == "" {
		suffix = backing.NewAccountSuffix()
	}
	accountID := backing.AccountIDValue(s.Prefix, suffix)

	if err := s.createClusterAccount(ctx, accountID, now); err != nil {
		return CreateAccountResult{}, err
	}

	if !containerExists {
		if err := s.putContainer(ctx, path); err != nil {
			return CreateAccountResult{}, err
		}
	}

	mappingPath := s.accountIDMappingPath(accountID)
	if resp, err := s.Auth.Put(ctx, mappingPath, nil, []byte(account)); err != nil {
		return CreateAccountResult{}, err
	} else if err := backing.CheckStatus(resp, mappingPath, http.StatusCreated, http.StatusAccepted); err != nil {
		return CreateAccountResult{}, err
	}

	services := backing.ServicesDocument{
		"storage": {
			s.ClusterName: s.ClusterPublicURL + "/" + accountID,
			"default":     s.ClusterName,
		},
	}
	if resp, err := s.Auth.PutJSON(ctx, s.servicesPath(account), nil, services); err != nil {
		return CreateAccountResult{}, err
	} else if err := backing.CheckStatus(resp, s.servicesPath(account), http.StatusCreated, http.StatusAccepted); err != nil {
		return CreateAccountResult{}, err
	}

	completeHeaders := http.Header{"X-Container-Meta-" + backing.AccountIDMetaKey: []string{accountID}}
	if resp, err := s.Auth.Post(ctx, path, completeHeaders); err != nil {
		return CreateAccountResult{}, err
	} else if err := backing.CheckStatus(resp, path, http.StatusNoContent, http.StatusAccepted); err != nil {
		return CreateAccountResult{}, err
	}

	return CreateAccountResult{AccountID: accountID, Created: true}, nil
}

func (s *Store) createClusterAccount(ctx context.Context, accountID string, now time.Time) error {
	tok, err := s.Internal.Get(ctx, now, false)
	if err != nil {
		return err
	}
	url := s.ClusterPublicURL + "/" + accountID
	resp, err := s.clusterRequest(ctx, http.MethodPut, url, tok)
	if err != nil {
		return err
	}
	return backing.CheckStatus(resp, url, http.StatusCreated, http.StatusAccepted)
}

// clusterRequest issues a request against an absolute storage-cluster URL,
// bypassing Cluster.BaseURL since a services document's endpoint is already
// a complete URL that may point at any configured cluster, not just
// ClusterPublicURL.
func (s *Store) clusterRequest(ctx context.Context, method, url, token string) (*backing.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, apierr.Internal("build cluster request", err)
	}
	req.Header.Set("X-Auth-Token", token)

	resp, err := s.Cluster.Doer.Do(req)
	if err != nil {
		return nil, apierr.Internal(method+" "+url+": request failed", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Internal("read cluster response body", err)
	}
	return &backing.Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// DeleteAccount removes account "account" and every storage-cluster account
// its services document names, per spec section 4.5.
func (s *Store) DeleteAccount(ctx context.Context, account string, now time.Time) error {
	info, err := s.GetAccount(ctx, account)
	if err != nil {
		return err
	}
	if len(info.Users) > 0 {
		return apierr.Conflict("account has users", nil)
	}

	storageSvcs := info.Services["storage"]
	anyDeleted := false
	for name, url := range storageSvcs {
		if name == "default" {
			continue
		}
		if err := s.deleteClusterAccount(ctx, url, now); err != nil {
			if apierr.Is(err, apierr.KindConflict) {
				if anyDeleted {
					return apierr.Internal("partial failure deleting storage accounts", err)
				}
				return err
			}
			if !apierr.Is(err, apierr.KindNotFound) {
				return err
			}
		} else {
			anyDeleted = true
		}
	}

	path := s.accountPath(account)
	if resp, err := s.Auth.Delete(ctx, s.servicesPath(account), nil); err != nil {
		return err
	} else if err := tolerateNotFound(resp, s.servicesPath(account)); err != nil {
		return err
	}
	if resp, err := s.Auth.Delete(ctx, s.accountIDMappingPath(info.AccountID), nil); err != nil {
		return err
	} else if err := tolerateNotFound(resp, s.accountIDMappingPath(info.AccountID)); err != nil {
		return err
	}
	if resp, err := s.Auth.Delete(ctx, path, nil); err != nil {
		return err
	} else if err := tolerateNotFound(resp, path); err != nil {
		return err
	}
	return nil
}

func tolerateNotFound(resp *backing.Response, path string) error {
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return backing.CheckStatus(resp, path, http.StatusOK, http.StatusNoContent, http.StatusAccepted)
}

func (s *Store) deleteClusterAccount(ctx context.Context, accountURL string, now time.Time) error {
	tok, err := s.Internal.Get(ctx, now, false)
	if err != nil {
		return err
	}
	resp, err := s.clusterRequest(ctx, http.MethodDelete, accountURL, tok)
	if err != nil {
		return err
	}
	return backing.CheckStatus(resp, accountURL, http.StatusOK, http.StatusNoContent, http.StatusAccepted)
}

// SetServices merges update into account's services document (top-level
// keys merged, inner maps merged with per-key overwrite) and returns the
// merged document.
func (s *Store) SetServices(ctx context.Context, account string, update backing.ServicesDocument) (backing.ServicesDocument, error) {
	var current backing.ServicesDocument
	if _, err := s.Auth.GetJSON(ctx, s.servicesPath(account), nil, &current); err != nil {
		return nil, err
	}
	if current == nil {
		current = backing.ServicesDocument{}
	}
	for svc, endpoints := range update {
		if current[svc] == nil {
			current[svc] = map[string]string{}
		}
		for k, v := range endpoints {
			current[svc][k] = v
		}
	}
	if resp, err := s.Auth.PutJSON(ctx, s.servicesPath(account), nil, current); err != nil {
		return nil, err
	} else if err := backing.CheckStatus(resp, s.servicesPath(account), http.StatusCreated, http.StatusAccepted); err != nil {
		return nil, err
	}
	return current, nil
}

// GetUser reads a user's stored record.
func (s *Store) GetUser(ctx context.Context, account, user string) (backing.UserRecord, error) {
	var rec backing.UserRecord
	if _, err := s.Auth.GetJSON(ctx, s.userPath(account, user), nil, &rec); err != nil {
		return backing.UserRecord{}, err
	}
	return rec, nil
}

// GetUserWithAccountID reads a:u's record along with its account id,
// preferring the object-meta written at user-creation time and falling back
// to a HEAD of the account container for older records that predate it.
func (s *Store) GetUserWithAccountID(ctx context.Context, account, user string) (backing.UserRecord, string, error) {
	userPath := s.userPath(account, user)
	var rec backing.UserRecord
	resp, err := s.Auth.GetJSON(ctx, userPath, nil, &rec)
	if err != nil {
		return backing.UserRecord{}, "", err
	}

	accountID := resp.Header.Get("X-Object-Meta-" + backing.ObjectAccountIDMetaKey)
	if accountID != "" {
		return rec, accountID, nil
	}

	accountPath := s.accountPath(account)
	headResp, err := s.Auth.Head(ctx, accountPath, nil)
	if err != nil {
		return backing.UserRecord{}, "", err
	}
	if err := backing.CheckStatus(headResp, accountPath, http.StatusOK, http.StatusNoContent); err != nil {
		return backing.UserRecord{}, "", err
	}
	accountID = headResp.Header.Get("X-Container-Meta-" + backing.AccountIDMetaKey)
	if accountID == "" {
		return backing.UserRecord{}, "", apierr.Internal("account missing account-id metadata", nil)
	}
	return rec, accountID, nil
}

// PutUserOptions controls CreateOrUpdateUser.
type PutUserOptions struct {
	// Key is a cleartext password; ignored if PreHashed is set.
	Key string
	// PreHashed is an already-encoded credential string (validated by the
	// caller with creds.Parse before calling here).
	PreHashed string

	Admin         bool
	ResellerAdmin bool

	Codec creds.Codec
}

// CreateOrUpdateUser writes or overwrites a:u's record, per spec section
// 4.5. The caller is responsible for validating PreHashed beforehand and
// for all AdminGate escalation checks.
func (s *Store) CreateOrUpdateUser(ctx context.Context, account, user string, opts PutUserOptions) error {
	accountPath := s.accountPath(account)
	headResp, err := s.Auth.Head(ctx, accountPath, nil)
	if err != nil {
		return err
	}
	if err := backing.CheckStatus(headResp, accountPath, http.StatusOK, http.StatusNoContent); err != nil {
		return err
	}
	accountID := headResp.Header.Get("X-Container-Meta-" + backing.AccountIDMetaKey)

	authValue := opts.PreHashed
	if authValue == "" {
		encoded, err := opts.Codec.Encode(opts.Key)
		if err != nil {
			return apierr.Internal("encode credential", err)
		}
		authValue = encoded
	}

	groups := []backing.GroupEntry{{Name: account + ":" + user}, {Name: account}}
	if opts.ResellerAdmin {
		opts.Admin = true
	}
	if opts.Admin {
		groups = append(groups, backing.GroupEntry{Name: ".admin"})
	}
	if opts.ResellerAdmin {
		groups = append(groups, backing.GroupEntry{Name: ".reseller_admin"})
	}

	rec := backing.UserRecord{Auth: authValue, Groups: groups}
	headers := http.Header{}
	if accountID != "" {
		headers.Set("X-Object-Meta-"+backing.ObjectAccountIDMetaKey, accountID)
	}
	userPath := s.userPath(account, user)
	resp, err := s.Auth.PutJSON(ctx, userPath, headers, rec)
	if err != nil {
		return err
	}
	return backing.CheckStatus(resp, userPath, http.StatusCreated, http.StatusAccepted)
}

// DeleteUser removes a:u, best-effort revoking any token it references.
// The caller must have already enforced the reseller-admin-target
// restriction via AdminGate.
func (s *Store) DeleteUser(ctx context.Context, account, user string, revoke func(ctx context.Context, token string) error) error {
	userPath := s.userPath(account, user)
	headResp, err := s.Auth.Head(ctx, userPath, nil)
	if err != nil {
		return err
	}
	if headResp.StatusCode == http.StatusNotFound {
		return apierr.NotFound(userPath, nil)
	}
	if err := backing.CheckStatus(headResp, userPath, http.StatusOK, http.StatusNoContent); err != nil {
		return err
	}

	if tok := headResp.Header.Get("X-Object-Meta-" + backing.AuthTokenMetaKey); tok != "" && revoke != nil {
		if err := revoke(ctx, tok); err != nil && s.Logger != nil {
			s.Logger.Warnf("revoke token on user delete: %v", err)
		}
	}

	resp, err := s.Auth.Delete(ctx, userPath, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusNotFound {
		return apierr.NotFound(userPath, nil)
	}
	return backing.CheckStatus(resp, userPath, http.StatusOK, http.StatusNoContent, http.StatusAccepted)
}

// ListAccountGroups unions the group names of every user in account,
// sorted.
func (s *Store) ListAccountGroups(ctx context.Context, account string) ([]string, error) {
	path := s.accountPath(account)
	var names []string
	if _, err := s.Auth.GetJSON(ctx, path, nil, &names); err != nil {
		return nil, err
	}
	names = filterReserved(names)

	seen := map[string]struct{}{}
	for _, u := range names {
		rec, err := s.GetUser(ctx, account, u)
		if err != nil {
			return nil, err
		}
		for _, g := range rec.GroupNames() {
			seen[g] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}
