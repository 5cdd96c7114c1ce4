package admingate

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/backing/backingtest"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
)

func newTestGate(t *testing.T) *Gate {
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
		Key: "key", Codec: creds.PlaintextCodec{},
	}))
	require.NoError(t, idStore.CreateOrUpdateUser(ctx, "act", "adm", identity.PutUserOptions{
		Key: "adminkey", Admin: true, Codec: creds.PlaintextCodec{},
	}))
	require.NoError(t, idStore.CreateOrUpdateUser(ctx, "act", "rsadm", identity.PutUserOptions{
		Key: "rskey", ResellerAdmin: true, Codec: creds.PlaintextCodec{},
	}))

	return &Gate{Identity: idStore, SuperAdminKey: "superkey"}
}

func adminRequest(user, key string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/v2/act", nil)
	req.Header.Set("X-Auth-Admin-User", user)
	req.Header.Set("X-Auth-Admin-Key", key)
	return req
}

func TestClassifySuperAdmin(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, principal, err := g.Classify(context.Background(), adminRequest(SuperAdminUser, "superkey"))
	req.NoError(err)
	req.Equal(LevelSuperAdmin, level)
	req.Equal(SuperAdminUser, principal.User)
}

func TestClassifyWrongSuperAdminKey(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, _, err := g.Classify(context.Background(), adminRequest(SuperAdminUser, "wrong"))
	req.NoError(err)
	req.Equal(LevelNone, level)
}

func TestClassifyResellerAdmin(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, principal, err := g.Classify(context.Background(), adminRequest("act:rsadm", "rskey"))
	req.NoError(err)
	req.Equal(LevelResellerAdmin, level)
	req.Equal("act", principal.Account)
}

func TestClassifyAccountAdmin(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, _, err := g.Classify(context.Background(), adminRequest("act:adm", "adminkey"))
	req.NoError(err)
	req.Equal(LevelAccountAdmin, level)
}

func TestClassifySelf(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, _, err := g.Classify(context.Background(), adminRequest("act:usr", "key"))
	req.NoError(err)
	req.Equal(LevelSelf, level)
}

func TestClassifyWrongKeyIsNone(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, _, err := g.Classify(context.Background(), adminRequest("act:usr", "wrongkey"))
	req.NoError(err)
	req.Equal(LevelNone, level)
}

func TestClassifyUnknownUserIsNone(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	level, _, err := g.Classify(context.Background(), adminRequest("act:ghost", "key"))
	req.NoError(err)
	req.Equal(LevelNone, level)
}

func TestClassifyNoCredentialsIsNone(t *testing.T) {
	req := require.New(t)
	g := newTestGate(t)

	httpReq := httptest.NewRequest(http.MethodGet, "/auth/v2/act", nil)
	level, _, err := g.Classify(context.Background(), httpReq)
	req.NoError(err)
	req.Equal(LevelNone, level)
}

func TestEscalationChecks(t *testing.T) {
	req := require.New(t)

	req.False(CanGrantAdmin(LevelSelf))
	req.False(CanGrantAdmin(LevelAccountAdmin), "account admins cannot grant .admin")
	req.True(CanGrantAdmin(LevelResellerAdmin))
	req.True(CanGrantAdmin(LevelSuperAdmin))

	req.False(CanGrantResellerAdmin(LevelResellerAdmin))
	req.True(CanGrantResellerAdmin(LevelSuperAdmin))
}

func TestIsSelfKeyChange(t *testing.T) {
	req := require.New(t)
	p := Principal{Account: "act", User: "usr"}

	req.True(IsSelfKeyChange(LevelSelf, p, "act", "usr", false, false))
	req.False(IsSelfKeyChange(LevelSelf, p, "act", "usr", true, false), "self cannot grant admin")
	req.False(IsSelfKeyChange(LevelSelf, p, "act", "other", false, false), "not the same target user")

	resellerPrincipal := Principal{Account: "act", User: "rsadm", Groups: []string{".reseller_admin"}}
	req.True(IsSelfKeyChange(LevelResellerAdmin, resellerPrincipal, "act", "rsadm", true, false))
	req.False(IsSelfKeyChange(LevelResellerAdmin, resellerPrincipal, "act", "rsadm", false, true), "reseller admin cannot grant reseller-admin to self without being super-admin")
}

func TestIsAccountAdmin(t *testing.T) {
	req := require.New(t)
	p := Principal{Account: "act", User: "adm"}

	req.True(IsAccountAdmin(LevelAccountAdmin, p, "act"))
	req.False(IsAccountAdmin(LevelAccountAdmin, p, "otheract"))
	req.True(IsAccountAdmin(LevelResellerAdmin, p, "otheract"))
	req.True(IsAccountAdmin(LevelSuperAdmin, p, "otheract"))
}
