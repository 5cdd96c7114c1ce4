package s3compat

import (
	"context"
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // test builds a valid S3-style signature
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/backing/backingtest"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
)

func newTestAdapter(t *testing.T) (*Adapter, *identity.Store) {
	t.Helper()
	fake := backingtest.New()
	auth := &backing.Client{Doer: backing.PreAuthorizedDoer{Next: fake}}
	tc := cache.NewTokenCache(cache.NewMemCache(time.Minute))

	idStore := &identity.Store{
		Auth:             auth,
		Cluster:          auth,
		Internal:         backing.NewInternalTokenManager("AUTH_", time.Hour, tc),
		Prefix:           "AUTH_",
		ClusterName:      "local",
		ClusterPublicURL: "",
	}

	ctx := context.Background()
	require.NoError(t, idStore.Prep(ctx))
	_, err := idStore.CreateAccount(ctx, "act", "", time.Now())
	require.NoError(t, err)
	require.NoError(t, idStore.CreateOrUpdateUser(ctx, "act", "usr", identity.PutUserOptions{
		Key: "secretkey", Codec: creds.PlaintextCodec{},
	}))
	require.NoError(t, idStore.CreateOrUpdateUser(ctx, "act", "adm", identity.PutUserOptions{
		Key: "adminsecret", Admin: true, Codec: creds.PlaintextCodec{},
	}))

	adapter := &Adapter{
		Identity: idStore,
		Cache:    cache.NewMemCache(time.Minute),
		CacheTTL: time.Minute,
	}
	return adapter, idStore
}

func sign(key, stringToSign string) string {
	mac := hmac.New(sha1.New, []byte(key)) //nolint:gosec // matches production signing
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySucceedsAndRewritesPath(t *testing.T) {
	req := require.New(t)
	adapter, idStore := newTestAdapter(t)
	ctx := context.Background()

	info, err := idStore.GetAccount(ctx, "act")
	req.NoError(err)

	stringToSign := "GET\n\n\n0\n/act:usr/c1"
	details := Details{
		AccessKey:    "act:usr",
		Signature:    sign("secretkey", stringToSign),
		StringToSign: stringToSign,
	}

	result, err := adapter.Verify(ctx, "/v1/act:usr/c1", details, time.Now())
	req.NoError(err)
	req.Equal("act", result.Account)
	req.Equal("usr", result.User)
	req.Equal(info.AccountID, result.AccountID)
	req.Equal("/v1/"+info.AccountID+"/c1", result.RewrittenPath)
}

func TestVerifySubstitutesAccountIDForAdminGroup(t *testing.T) {
	req := require.New(t)
	adapter, idStore := newTestAdapter(t)
	ctx := context.Background()

	info, err := idStore.GetAccount(ctx, "act")
	req.NoError(err)

	stringToSign := "GET\n\n\n0\n/act:adm/c1"
	details := Details{
		AccessKey:    "act:adm",
		Signature:    sign("adminsecret", stringToSign),
		StringToSign: stringToSign,
	}

	result, err := adapter.Verify(ctx, "/v1/act:adm/c1", details, time.Now())
	req.NoError(err)
	req.Contains(result.Groups, info.AccountID)
	req.NotContains(result.Groups, ".admin")
}

func TestVerifyWrongSignatureIsUnauthorized(t *testing.T) {
	req := require.New(t)
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	details := Details{
		AccessKey:    "act:usr",
		Signature:    sign("wrongkey", "GET\n\n\n0\n/act:usr/c1"),
		StringToSign: "GET\n\n\n0\n/act:usr/c1",
	}

	_, err := adapter.Verify(ctx, "/v1/act:usr/c1", details, time.Now())
	req.Error(err)
}

func TestVerifyUnknownUserIsUnauthorized(t *testing.T) {
	req := require.New(t)
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	stringToSign := "GET\n\n\n0\n/act:ghost/c1"
	details := Details{
		AccessKey:    "act:ghost",
		Signature:    sign("whatever", stringToSign),
		StringToSign: stringToSign,
	}

	_, err := adapter.Verify(ctx, "/v1/act:ghost/c1", details, time.Now())
	req.Error(err)
}

func TestVerifyMalformedAccessKeyIsUnauthorized(t *testing.T) {
	req := require.New(t)
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	details := Details{AccessKey: "notanaccesskeypair", Signature: "x", StringToSign: "y"}
	_, err := adapter.Verify(ctx, "/v1/notanaccesskeypair/c1", details, time.Now())
	req.Error(err)
}

func TestVerifyUsesCacheOnSecondCall(t *testing.T) {
	req := require.New(t)
	adapter, idStore := newTestAdapter(t)
	ctx := context.Background()

	stringToSign := "GET\n\n\n0\n/act:usr/c1"
	details := Details{
		AccessKey:    "act:usr",
		Signature:    sign("secretkey", stringToSign),
		StringToSign: stringToSign,
	}

	first, err := adapter.Verify(ctx, "/v1/act:usr/c1", details, time.Now())
	req.NoError(err)

	// Deleting the user doesn't affect a cached signature verification.
	require.NoError(t, idStore.DeleteUser(ctx, "act", "usr", nil))

	second, err := adapter.Verify(ctx, "/v1/act:usr/c1", details, time.Now())
	req.NoError(err)
	req.Equal(first.RewrittenPath, second.RewrittenPath)
	req.Equal(first.AccountID, second.AccountID)
}
