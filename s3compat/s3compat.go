// Package s3compat implements the S3-compatible signature adapter described
// in spec section 4.9: it translates an S3-style signed request (an
// "account:user" access key plus an HMAC-SHA1 signature keyed by the user's
// stored key material) into
// the same (groups, path-rewrite) result the token path produces, without a
// swauth-minted token ever existing.
package s3compat

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // mandated by the S3 signature algorithm, not a choice
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
)

// Details carries the S3 auth-details struct a prior translator in the
// middleware chain has already extracted from the Authorization header.
type Details struct {
	// AccessKey is "account:user".
	AccessKey string
	// Signature is the base64-encoded HMAC-SHA1 digest the client sent.
	Signature string
	// StringToSign is the canonical S3 signing string, and also the cache
	// key this verification result is stored under.
	StringToSign string
}

// Result is the outcome of a successful Verify.
type Result struct {
	Account   string
	User      string
	AccountID string
	// Groups is the translated group string, .admin already substituted
	// for the account id, ready to hand to the authorization layer.
	Groups string
	// RewrittenPath is PATH_INFO with the "account:user" access key
	// replaced by the account id, per spec section 4.9 step 3.
	RewrittenPath string
}

// cacheEntry is what Verify stores under a string_to_sign, holding
// everything a cache hit needs to rebuild Result without a backing lookup.
type cacheEntry struct {
	AccountID string `json:"account_id"`
	Groups    string `json:"groups"`
}

const cacheKeyPrefix = "swauth/s3/"

// Adapter verifies S3-style signed requests against stored credentials.
type Adapter struct {
	Identity *identity.Store
	Cache    cache.Cache

	// CacheTTL bounds how long a verified signature's groups are cached
	// under its string_to_sign. S3 requests carry no token to later
	// revoke, so this should stay short relative to token DefaultLife.
	CacheTTL time.Duration
}

// Verify implements the five-step S3 verification algorithm of spec section
// 4.9, returning the rewritten path and translated groups on success.
func (a *Adapter) Verify(ctx context.Context, path string, details Details, now time.Time) (Result, error) {
	account, user, ok := strings.Cut(details.AccessKey, ":")
	if !ok || account == "" || user == "" {
		return Result{}, apierr.Unauthorized("malformed S3 access key", nil)
	}

	if entry, hit, err := a.cacheGet(ctx, details.StringToSign); err != nil {
		return Result{}, err
	} else if hit {
		return Result{
			Account:       account,
			User:          user,
			AccountID:     entry.AccountID,
			Groups:        entry.Groups,
			RewrittenPath: rewritePath(path, details.AccessKey, entry.AccountID),
		}, nil
	}

	rec, accountID, err := a.Identity.GetUserWithAccountID(ctx, account, user)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return Result{}, apierr.Unauthorized("unknown user", nil)
		}
		return Result{}, err
	}

	keyMaterial, err := creds.KeyMaterialFor(rec.Auth)
	if err != nil {
		return Result{}, apierr.Unauthorized("credential unusable for S3 signing", nil)
	}

	mac := hmac.New(sha1.New, keyMaterial) //nolint:gosec // S3 signature algorithm mandates SHA1
	mac.Write([]byte(details.StringToSign))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(want), []byte(details.Signature)) != 1 {
		return Result{}, apierr.Unauthorized("S3 signature mismatch", nil)
	}

	groups := translateGroups(rec.GroupNames(), accountID)
	if err := a.cacheSet(ctx, details.StringToSign, cacheEntry{AccountID: accountID, Groups: groups}); err != nil {
		return Result{}, err
	}

	return Result{
		Account:       account,
		User:          user,
		AccountID:     accountID,
		Groups:        groups,
		RewrittenPath: rewritePath(path, details.AccessKey, accountID),
	}, nil
}

func (a *Adapter) cacheGet(ctx context.Context, stringToSign string) (cacheEntry, bool, error) {
	raw, ok, err := a.Cache.Get(ctx, cacheKeyPrefix+stringToSign)
	if err != nil {
		return cacheEntry{}, false, apierr.Internal("read s3 signature cache", err)
	}
	if !ok {
		return cacheEntry{}, false, nil
	}
	var entry cacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return cacheEntry{}, false, nil
	}
	return entry, true, nil
}

func (a *Adapter) cacheSet(ctx context.Context, stringToSign string, entry cacheEntry) error {
	if a.CacheTTL <= 0 {
		return nil
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return apierr.Internal("encode s3 signature cache entry", err)
	}
	if err := a.Cache.SetTTL(ctx, cacheKeyPrefix+stringToSign, string(raw), a.CacheTTL); err != nil {
		return apierr.Internal("write s3 signature cache", err)
	}
	return nil
}

// rewritePath replaces the "a:u" access key with accountID in path, per
// spec section 4.9 step 3.
func rewritePath(path, accessKey, accountID string) string {
	return strings.Replace(path, accessKey, accountID, 1)
}

// translateGroups mirrors token.translateStoredGroups: it substitutes
// accountID for ".admin" in a stored group list, since S3 callers receive
// the same account-id-bearing group string a token validation would.
func translateGroups(groups []string, accountID string) string {
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
