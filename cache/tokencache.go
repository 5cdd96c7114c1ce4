package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/swauth/swauth/apierr"
)

// tokenCacheKeyPrefix namespaces swauth's entries within a cache that may be
// shared with other subsystems.
const tokenCacheKeyPrefix = "swauth/token/"

// TokenEntry is the cached value for a validated token: its absolute expiry
// and canonical group string.
type TokenEntry struct {
	Expires time.Time `json:"expires"`
	Groups  string    `json:"groups"`
}

// TokenCache is a read-through cache of token -> (expiry, groupString),
// per spec section 4.3. It never stores a token for which validation
// failed, and treats a cached entry whose embedded expiry has already
// passed as a miss even if the backing cache hasn't evicted it yet.
type TokenCache struct {
	cache Cache
}

// NewTokenCache wraps a shared Cache with the token-cache encoding.
func NewTokenCache(c Cache) *TokenCache {
	return &TokenCache{cache: c}
}

func tokenCacheKey(token string) string {
	return tokenCacheKeyPrefix + token
}

// Get returns the cached groups for token, or (TokenEntry{}, false, nil) on
// a cache miss or an embedded-expiry miss.
func (t *TokenCache) Get(ctx context.Context, token string, now time.Time) (TokenEntry, bool, error) {
	raw, ok, err := t.cache.Get(ctx, tokenCacheKey(token))
	if err != nil {
		return TokenEntry{}, false, apierr.Internal("read token cache", err)
	}
	if !ok {
		return TokenEntry{}, false, nil
	}
	var entry TokenEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// A corrupt cache entry is treated as a miss rather than an error,
		// matching the conservative "validate and repair" posture of
		// spec section 9's weak back-reference guidance.
		return TokenEntry{}, false, nil
	}
	if !now.Before(entry.Expires) {
		return TokenEntry{}, false, nil
	}
	return entry, true, nil
}

// Set caches groups for token, with TTL equal to the token's remaining life.
func (t *TokenCache) Set(ctx context.Context, token string, expires time.Time, groups string, now time.Time) error {
	ttl := expires.Sub(now)
	if ttl <= 0 {
		return nil
	}
	raw, err := json.Marshal(TokenEntry{Expires: expires, Groups: groups})
	if err != nil {
		return apierr.Internal("encode token cache entry", err)
	}
	if err := t.cache.SetTTL(ctx, tokenCacheKey(token), string(raw), ttl); err != nil {
		return apierr.Internal("write token cache", err)
	}
	return nil
}

// Delete removes token's cached entry, used on revocation.
func (t *TokenCache) Delete(ctx context.Context, token string) error {
	if err := t.cache.Delete(ctx, tokenCacheKey(token)); err != nil {
		return apierr.Internal("delete token cache entry", err)
	}
	return nil
}
