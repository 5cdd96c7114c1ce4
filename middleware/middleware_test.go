package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swauth/swauth/authz"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/backing/backingtest"
	"github.com/swauth/swauth/cache"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
	"github.com/swauth/swauth/s3compat"
	"github.com/swauth/swauth/token"
)

func newTestClassifier(t *testing.T) (*Classifier, *identity.Store, *token.Store) {
	t.Helper()
	fake := backingtest.New()
	client := &backing.Client{Doer: backing.PreAuthorizedDoer{Next: fake}}
	tc := cache.NewTokenCache(cache.NewMemCache(time.Minute))

	idStore := &identity.Store{
		Auth: client, Cluster: client,
		Internal:    backing.NewInternalTokenManager("AUTH_", time.Hour, tc),
		Prefix:      "AUTH_",
		ClusterName: "local",
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

	tokens := &token.Store{
		Backing: client, Cache: tc, Prefix: "AUTH_",
		DefaultLife: time.Hour, MaxLife: 24 * time.Hour,
	}
	s3 := &s3compat.Adapter{Identity: idStore, Cache: cache.NewMemCache(time.Minute), CacheTTL: time.Minute}

	c := &Classifier{
		Tokens:         tokens,
		S3:             s3,
		ResellerPrefix: "AUTH_",
		S3Support:      true,
	}
	return c, idStore, tokens
}

func captureNext() (http.HandlerFunc, *context.Context) {
	var captured context.Context
	h := func(w http.ResponseWriter, r *http.Request) {
		captured = r.Context()
		w.WriteHeader(http.StatusOK)
	}
	return h, &captured
}

func TestClassifierValidTokenInstallsPrincipalAndHook(t *testing.T) {
	req := require.New(t)
	c, idStore, tokens := newTestClassifier(t)
	ctx := context.Background()

	info, err := idStore.GetAccount(ctx, "act")
	req.NoError(err)

	issued, err := tokens.Issue(ctx, "act", "adm", token.IssueOptions{}, time.Now())
	req.NoError(err)

	next, captured := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/"+info.AccountID+"/c1", nil)
	httpReq.Header.Set("X-Auth-Token", issued.Token)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	principal, ok := PrincipalFromContext(*captured)
	req.True(ok)
	req.Contains(principal.Groups, info.AccountID, "an account-admin's .admin group is translated to the account id")

	hook, ok := AuthorizeFromContext(*captured)
	req.True(ok)
	decision, err := hook(authz.ACL{}, "")
	req.NoError(err)
	req.True(decision.Allow, "an account admin is swift_owner over their own account")
	req.True(decision.SwiftOwner)
}

func TestClassifierInvalidTokenWithMatchingPrefixIsUnauthorized(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	next, _ := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/AUTH_act/c1", nil)
	httpReq.Header.Set("X-Auth-Token", "AUTH_tkdeadbeef")
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusUnauthorized, w.Code)
}

func TestClassifierNoTokenOwnedAccountInstallsAnonymousHook(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	next, captured := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/AUTH_act/c1", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	_, hasPrincipal := PrincipalFromContext(*captured)
	req.False(hasPrincipal)
	hook, ok := AuthorizeFromContext(*captured)
	req.True(ok)

	acl := authz.ParseACL(".r:example.com")
	_, err := hook(acl, "")
	req.Error(err, "anonymous caller with no matching referrer rule is unauthorized")
}

func TestClassifierNoTokenForeignAccountInstallsDenyHook(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	next, captured := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/OTHER_act/c1", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	hook, ok := AuthorizeFromContext(*captured)
	req.True(ok)
	decision, err := hook(authz.ACL{Groups: []string{"anyone"}}, "")
	req.NoError(err)
	req.False(decision.Allow)
}

func TestClassifierOptionsPassesThroughUnmodified(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	next, captured := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodOptions, "/v1/AUTH_act/c1", nil)
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	_, ok := AuthorizeFromContext(*captured)
	req.False(ok, "OPTIONS passthrough installs no hook")
}

func TestClassifierUpstreamIdentityHeaderPassesThrough(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	c.UpstreamIdentityHeader = "X-Identity-Status"
	next, captured := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/AUTH_act/c1", nil)
	httpReq.Header.Set("X-Identity-Status", "Confirmed")
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusOK, w.Code)
	_, ok := AuthorizeFromContext(*captured)
	req.False(ok)
}

func TestClassifierOversizeTokenIsBadRequest(t *testing.T) {
	req := require.New(t)
	c, _, _ := newTestClassifier(t)
	c.MaxTokenLength = 8
	next, _ := captureNext()
	c.Next = http.HandlerFunc(next)

	httpReq := httptest.NewRequest(http.MethodGet, "/v1/AUTH_act/c1", nil)
	httpReq.Header.Set("X-Auth-Token", "AUTH_tkwaytoolongtoken")
	w := httptest.NewRecorder()
	c.ServeHTTP(w, httpReq)

	req.Equal(http.StatusBadRequest, w.Code)
	req.Equal("Token exceeds maximum length.\n", w.Body.String())
}
