package backing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swauth/swauth/cache"
)

func TestInternalTokenManagerMintsAndReuses(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	tc := cache.NewTokenCache(cache.NewMemCache(time.Minute))
	m := NewInternalTokenManager("AUTH_", time.Hour, tc)

	tok1, err := m.Get(ctx, now, false)
	req.NoError(err)
	req.True(len(tok1) > len("AUTH_itk"))

	tok2, err := m.Get(ctx, now.Add(time.Minute), false)
	req.NoError(err)
	req.Equal(tok1, tok2, "a live internal token should be reused")

	entry, ok, err := tc.Get(ctx, tok1, now)
	req.NoError(err)
	req.True(ok)
	req.Equal(".auth,.reseller_admin,AUTH_.auth", entry.Groups)

	tok3, err := m.Get(ctx, now, true)
	req.NoError(err)
	req.NotEqual(tok1, tok3, "forceNew must mint a fresh token")

	tok4, err := m.Get(ctx, now.Add(2*time.Hour), false)
	req.NoError(err)
	req.NotEqual(tok3, tok4, "an expired token must be re-minted")
}

func TestInternalTokenManagerRequiresCache(t *testing.T) {
	req := require.New(t)
	m := NewInternalTokenManager("AUTH_", time.Hour, nil)
	_, err := m.Get(context.Background(), time.Now(), false)
	req.Error(err)
}
