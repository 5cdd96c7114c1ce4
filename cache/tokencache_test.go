package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenCacheRoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	tc := NewTokenCache(NewMemCache(time.Minute))

	_, ok, err := tc.Get(ctx, "AUTH_tkabc", now)
	req.NoError(err)
	req.False(ok)

	expires := now.Add(time.Hour)
	req.NoError(tc.Set(ctx, "AUTH_tkabc", expires, "act:usr,act", now))

	entry, ok, err := tc.Get(ctx, "AUTH_tkabc", now)
	req.NoError(err)
	req.True(ok)
	req.Equal("act:usr,act", entry.Groups)
}

func TestTokenCacheExpiredEntryIsMiss(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	tc := NewTokenCache(NewMemCache(time.Minute))
	req.NoError(tc.Set(ctx, "AUTH_tkabc", now.Add(time.Hour), "act:usr,act", now))

	_, ok, err := tc.Get(ctx, "AUTH_tkabc", now.Add(2*time.Hour))
	req.NoError(err)
	req.False(ok, "entry past its embedded expiry must be treated as a miss")
}

func TestTokenCacheDelete(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	tc := NewTokenCache(NewMemCache(time.Minute))
	req.NoError(tc.Set(ctx, "AUTH_tkabc", now.Add(time.Hour), "act:usr,act", now))
	req.NoError(tc.Delete(ctx, "AUTH_tkabc"))

	_, ok, err := tc.Get(ctx, "AUTH_tkabc", now)
	req.NoError(err)
	req.False(ok)
}
