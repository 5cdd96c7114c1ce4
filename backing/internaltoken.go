package backing

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/cache"
)

// internalToken is the process-scoped bearer the middleware mints to act
// against the backing cluster on its own behalf.
type internalToken struct {
	value   string
	expires time.Time
}

// InternalTokenManager owns the single internal token a process holds at a
// time (spec section 9: "a small state object guarded by whatever cheap
// synchronization is idiomatic"). Minting under contention is acceptable;
// correctness does not depend on uniqueness, so an atomic pointer swap is
// enough — no mutex.
type InternalTokenManager struct {
	current atomic.Pointer[internalToken]

	prefix    string
	tokenLife time.Duration
	cache     *cache.TokenCache // nil means "no shared cache configured"
	authAcct  string
}

// NewInternalTokenManager constructs a manager. tokenCache may be nil, in
// which case Get always fails with *apierr.Error since minting requires a
// shared cache so peer instances can validate this instance's internal
// token (spec section 4.2).
func NewInternalTokenManager(prefix string, tokenLife time.Duration, tokenCache *cache.TokenCache) *InternalTokenManager {
	return &InternalTokenManager{
		prefix:    prefix,
		tokenLife: tokenLife,
		cache:     tokenCache,
		authAcct:  AuthAccount(prefix),
	}
}

// internalTokenGroups is the fixed group string written to the cache for a
// freshly minted internal token: ".reseller_admin" grants reseller-admin
// privilege over every reseller account except the auth account itself, and
// the auth account's own name grants account-admin privilege over it.
func (m *InternalTokenManager) internalTokenGroups() string {
	return ".auth,.reseller_admin," + m.authAcct
}

// Get returns the current internal token, minting a fresh one if absent,
// expired, or forceNew is set.
func (m *InternalTokenManager) Get(ctx context.Context, now time.Time, forceNew bool) (string, error) {
	if cur := m.current.Load(); cur != nil && !forceNew && now.Before(cur.expires) {
		return cur.value, nil
	}
	return m.mint(ctx, now)
}

func (m *InternalTokenManager) mint(ctx context.Context, now time.Time) (string, error) {
	if m.cache == nil {
		return "", apierr.Internal("cannot mint internal token: no shared cache configured", nil)
	}

	value, err := NewInternalToken(m.prefix)
	if err != nil {
		return "", apierr.Internal("mint internal token", err)
	}
	expires := now.Add(m.tokenLife)

	if err := m.cache.Set(ctx, value, expires, m.internalTokenGroups(), now); err != nil {
		return "", err
	}

	m.current.Store(&internalToken{value: value, expires: expires})
	return value, nil
}
