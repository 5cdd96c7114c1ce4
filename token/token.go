// Package token implements the durable token lifecycle on the backing
// store: issuing tokens, validating them (through the shared cache first),
// revoking them, and maintaining the user-to-token back-reference.
package token

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/pkg/log"
	"github.com/swauth/swauth/pkg/metrics"
)

// Store is the token lifecycle manager described in spec section 4.4.
type Store struct {
	Backing    *backing.Client
	Cache      *cache.TokenCache
	Prefix     string
	HashPrefix string
	HashSuffix string

	DefaultLife time.Duration
	MaxLife     time.Duration

	Logger  log.Logger
	Metrics *metrics.Metrics
}

func (s *Store) authAccount() string {
	return backing.AuthAccount(s.Prefix)
}

func (s *Store) tokenObjectPath(token string) (container, name string) {
	name = backing.TokenObjectName(s.HashPrefix, token, s.HashSuffix)
	container = backing.TokenContainer(backing.TokenShard(name))
	return container, name
}

func (s *Store) tokenPath(token string) string {
	container, name := s.tokenObjectPath(token)
	return "/" + s.authAccount() + "/" + container + "/" + name
}

func (s *Store) userPath(account, user string) string {
	return "/" + s.authAccount() + "/" + account + "/" + user
}

func (s *Store) accountPath(account string) string {
	return "/" + s.authAccount() + "/" + account
}

// ValidateResult is the outcome of a successful Validate call.
type ValidateResult struct {
	Groups string
	TTL    time.Duration
}

// Validator is the narrow seam middleware.Classifier needs: resolving a
// token to its groups and remaining TTL. *Store satisfies it directly;
// cmd/swauth's remote-delegating mode (spec section 6's swauth_remote)
// satisfies it by forwarding to another swauth instance's internal
// validate endpoint instead of reading the local backing store.
type Validator interface {
	Validate(ctx context.Context, tok string, now time.Time) (ValidateResult, error)
}

// translateStoredGroups replaces ".admin" with the account id in a stored
// token's group list, per spec section 3: "Returned group strings
// substitute the account id for .admin."
func translateStoredGroups(groups []string, accountID string) string {
	out := make([]string, 0, len(groups)+1)
	hadAdmin := false
	for _, g := range groups {
		if g == ".admin" {
			hadAdmin = true
			continue
		}
		out = append(out, g)
	}
	if hadAdmin {
		out = append(out, accountID)
	}
	return strings.Join(out, ",")
}

// Validate resolves a token to its group string and remaining TTL, per
// spec section 4.4: cache lookup first, then the backing object, deleting
// and rejecting an expired or missing token object.
func (s *Store) Validate(ctx context.Context, tok string, now time.Time) (ValidateResult, error) {
	if s.Metrics != nil {
		timer := prometheus.NewTimer(s.Metrics.TokenValidateSeconds)
		defer timer.ObserveDuration()
	}

	if entry, ok, err := s.Cache.Get(ctx, tok, now); err != nil {
		return ValidateResult{}, err
	} else if ok {
		return ValidateResult{Groups: entry.Groups, TTL: entry.Expires.Sub(now)}, nil
	}

	path := s.tokenPath(tok)
	var rec backing.TokenRecord
	resp, err := s.Backing.GetJSON(ctx, path, nil, &rec)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return ValidateResult{}, apierr.Unauthorized("no such token", nil)
		}
		return ValidateResult{}, err
	}
	_ = resp

	if rec.Expired(now) {
		// Best-effort reap; failures here never affect the caller's result.
		if _, delErr := s.Backing.Delete(ctx, path, nil); delErr != nil && s.Logger != nil {
			s.Logger.Warnf("reap expired token: %v", delErr)
		}
		return ValidateResult{}, apierr.Unauthorized("token expired", nil)
	}

	groups := translateStoredGroups(rec.Groups, rec.AccountID)
	ttl := rec.Expires.Sub(now)

	if err := s.Cache.Set(ctx, tok, rec.Expires, groups, now); err != nil && s.Logger != nil {
		s.Logger.Warnf("write token cache: %v", err)
	}

	return ValidateResult{Groups: groups, TTL: ttl}, nil
}

// IssueOptions controls non-default Issue behavior.
type IssueOptions struct {
	// ForceNewToken discards any live existing token instead of reusing it.
	ForceNewToken bool

	// RequestedLife overrides DefaultLife, still capped by MaxLife.
	RequestedLife time.Duration
}

// IssueResult is the outcome of a successful Issue call.
type IssueResult struct {
	Token    string
	Expires  time.Time
	Services backing.ServicesDocument
}

// Issue creates or reuses a token for an already-authenticated (account,
// user) pair, per spec section 4.4.
func (s *Store) Issue(ctx context.Context, account, user string, opts IssueOptions, now time.Time) (IssueResult, error) {
	userPath := s.userPath(account, user)

	var rec backing.UserRecord
	resp, err := s.Backing.GetJSON(ctx, userPath, nil, &rec)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return IssueResult{}, apierr.Unauthorized("unknown user", nil)
		}
		return IssueResult{}, err
	}

	existingTok := resp.Header.Get("X-Object-Meta-" + backing.AuthTokenMetaKey)
	if existingTok != "" {
		existing, err := s.loadIfLive(ctx, existingTok, now)
		if err != nil {
			return IssueResult{}, err
		}
		if existing != nil {
			if opts.ForceNewToken {
				if err := s.deleteTokenAndCache(ctx, existingTok); err != nil {
					return IssueResult{}, err
				}
			} else {
				services, err := s.readServices(ctx, account)
				if err != nil {
					return IssueResult{}, err
				}
				return IssueResult{Token: existingTok, Expires: existing.Expires, Services: services}, nil
			}
		} else if existingTok != "" {
			// Stale back-reference to an expired/missing token: clean up and continue.
			_ = s.deleteTokenAndCache(ctx, existingTok)
		}
	}

	accountID, err := s.accountID(ctx, account)
	if err != nil {
		return IssueResult{}, err
	}

	life := s.DefaultLife
	if opts.RequestedLife > 0 && opts.RequestedLife < s.MaxLife {
		life = opts.RequestedLife
	} else if opts.RequestedLife >= s.MaxLife {
		life = s.MaxLife
	}

	newTok, err := backing.NewToken(s.Prefix)
	if err != nil {
		return IssueResult{}, apierr.Internal("mint token", err)
	}
	expires := now.Add(life)

	tokenRec := backing.TokenRecord{
		Account:   account,
		User:      user,
		AccountID: accountID,
		Groups:    rec.GroupNames(),
		Expires:   expires,
	}
	tokPath := s.tokenPath(newTok)
	putResp, err := s.Backing.PutJSON(ctx, tokPath, nil, tokenRec)
	if err != nil {
		return IssueResult{}, apierr.Internal("write token object", err)
	}
	if err := backing.CheckStatus(putResp, tokPath, http.StatusCreated, http.StatusOK, http.StatusAccepted); err != nil {
		return IssueResult{}, err
	}

	backRefHeaders := http.Header{"X-Object-Meta-" + backing.AuthTokenMetaKey: []string{newTok}}
	postResp, err := s.Backing.Post(ctx, userPath, backRefHeaders)
	if err != nil {
		return IssueResult{}, apierr.Internal("write token back-reference", err)
	}
	if err := backing.CheckStatus(postResp, userPath, http.StatusNoContent, http.StatusAccepted, http.StatusOK); err != nil {
		return IssueResult{}, err
	}

	services, err := s.readServices(ctx, account)
	if err != nil {
		return IssueResult{}, err
	}

	return IssueResult{Token: newTok, Expires: expires, Services: services}, nil
}

// loadIfLive returns the token record for tok if it exists and is not
// expired, or nil if it's missing or expired (never an error for either).
func (s *Store) loadIfLive(ctx context.Context, tok string, now time.Time) (*backing.TokenRecord, error) {
	var rec backing.TokenRecord
	_, err := s.Backing.GetJSON(ctx, s.tokenPath(tok), nil, &rec)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Expired(now) {
		return nil, nil
	}
	return &rec, nil
}

func (s *Store) deleteTokenAndCache(ctx context.Context, tok string) error {
	if _, err := s.Backing.Delete(ctx, s.tokenPath(tok), nil); err != nil && !apierr.Is(err, apierr.KindNotFound) {
		return apierr.Internal("delete token object", err)
	}
	if err := s.Cache.Delete(ctx, tok); err != nil && s.Logger != nil {
		s.Logger.Warnf("delete token cache entry: %v", err)
	}
	return nil
}

// Revoke deletes a token's object and cache entry. 404s and 5xx on the
// backing delete are tolerated per spec section 4.4.
func (s *Store) Revoke(ctx context.Context, tok string) error {
	if _, err := s.Backing.Delete(ctx, s.tokenPath(tok), nil); err != nil && s.Logger != nil {
		s.Logger.Debugf("revoke token delete (tolerated): %v", err)
	}
	if err := s.Cache.Delete(ctx, tok); err != nil {
		return err
	}
	return nil
}

func (s *Store) accountID(ctx context.Context, account string) (string, error) {
	resp, err := s.Backing.Head(ctx, s.accountPath(account), nil)
	if err != nil {
		return "", err
	}
	if err := backing.CheckStatus(resp, s.accountPath(account), http.StatusOK, http.StatusNoContent); err != nil {
		return "", err
	}
	id := resp.Header.Get("X-Container-Meta-" + backing.AccountIDMetaKey)
	if id == "" {
		return "", apierr.Internal("account missing account-id metadata", nil)
	}
	return id, nil
}

func (s *Store) readServices(ctx context.Context, account string) (backing.ServicesDocument, error) {
	var doc backing.ServicesDocument
	path := s.accountPath(account) + "/" + backing.ServicesObject
	if _, err := s.Backing.GetJSON(ctx, path, nil, &doc); err != nil {
		return nil, apierr.Internal("read services document", err)
	}
	return doc, nil
}
