package token

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/backing/backingtest"
	"github.com/swauth/swauth/cache"
)

func newTestStore(t *testing.T) (*Store, *backing.Client) {
	t.Helper()
	fake := backingtest.New()
	client := &backing.Client{Doer: backing.PreAuthorizedDoer{Next: fake}}
	tc := cache.NewTokenCache(cache.NewMemCache(time.Minute))

	s := &Store{
		Backing:     client,
		Cache:       tc,
		Prefix:      "AUTH_",
		HashPrefix:  "prefix",
		HashSuffix:  "suffix",
		DefaultLife: time.Hour,
		MaxLife:     24 * time.Hour,
	}
	return s, client
}

type userDoc struct {
	Auth   string               `json:"auth"`
	Groups []backing.GroupEntry `json:"groups"`
}

func seedAccountAndUser(t *testing.T, client *backing.Client, account, accountID, user string) {
	t.Helper()
	ctx := context.Background()
	req := require.New(t)

	_, err := client.Put(ctx, "/AUTH_.auth/"+account, nil, nil)
	req.NoError(err)

	_, err = client.Post(ctx, "/AUTH_.auth/"+account, http.Header{
		"X-Container-Meta-Account-Id": {accountID},
	})
	req.NoError(err)

	_, err = client.PutJSON(ctx, "/AUTH_.auth/"+account+"/.services", nil, backing.ServicesDocument{
		"storage": {"default": "local", "local": "http://storage.example/v1/" + accountID},
	})
	req.NoError(err)

	_, err = client.PutJSON(ctx, "/AUTH_.auth/"+account+"/"+user, nil, userDoc{
		Auth:   "plaintext:key",
		Groups: []backing.GroupEntry{{Name: account + ":" + user}, {Name: account}},
	})
	req.NoError(err)
}

func TestIssueThenValidateRoundTrip(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	issued, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)
	req.NotEmpty(issued.Token)
	req.Equal("http://storage.example/v1/AUTH_acctid", issued.Services["storage"]["local"])

	result, err := s.Validate(ctx, issued.Token, now.Add(time.Minute))
	req.NoError(err)
	req.Contains(result.Groups, "act:usr")
	req.Contains(result.Groups, "act")
	req.True(result.TTL > 0)
}

func TestIssueReusesLiveToken(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	first, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)

	second, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now.Add(time.Minute))
	req.NoError(err)

	req.Equal(first.Token, second.Token)
}

func TestIssueForceNewToken(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	first, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)

	second, err := s.Issue(ctx, "act", "usr", IssueOptions{ForceNewToken: true}, now.Add(time.Minute))
	req.NoError(err)

	req.NotEqual(first.Token, second.Token)

	_, err = s.Validate(ctx, first.Token, now.Add(2*time.Minute))
	req.True(apierr.Is(err, apierr.KindUnauthorized))
}

func TestValidateExpiredTokenIsUnauthorizedAndReaped(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	s.DefaultLife = time.Minute
	issued, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)

	_, err = s.Validate(ctx, issued.Token, now.Add(2*time.Minute))
	req.True(apierr.Is(err, apierr.KindUnauthorized))

	resp, err := client.Head(ctx, s.tokenPath(issued.Token), nil)
	req.NoError(err)
	req.Equal(404, resp.StatusCode)
}

func TestValidateUnknownTokenIsUnauthorized(t *testing.T) {
	req := require.New(t)
	s, _ := newTestStore(t)
	_, err := s.Validate(context.Background(), "AUTH_tkdoesnotexist", time.Now())
	req.True(apierr.Is(err, apierr.KindUnauthorized))
}

func TestValidateUsesCacheBeforeBacking(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	issued, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)

	_, err = s.Validate(ctx, issued.Token, now.Add(time.Second))
	req.NoError(err)

	_, err = client.Delete(ctx, s.tokenPath(issued.Token), nil)
	req.NoError(err)

	result, err := s.Validate(ctx, issued.Token, now.Add(2*time.Second))
	req.NoError(err, "a cached entry must satisfy Validate even if the backing object is gone")
	req.True(result.TTL > 0)
}

func TestRevokeDeletesObjectAndCache(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	now := time.Now()

	s, client := newTestStore(t)
	seedAccountAndUser(t, client, "act", "AUTH_acctid", "usr")

	issued, err := s.Issue(ctx, "act", "usr", IssueOptions{}, now)
	req.NoError(err)

	_, err = s.Validate(ctx, issued.Token, now.Add(time.Second))
	req.NoError(err)

	req.NoError(s.Revoke(ctx, issued.Token))

	resp, err := client.Head(ctx, s.tokenPath(issued.Token), nil)
	req.NoError(err)
	req.Equal(404, resp.StatusCode)

	_, err = s.Validate(ctx, issued.Token, now.Add(2*time.Second))
	req.True(apierr.Is(err, apierr.KindUnauthorized))
}

func TestRevokeToleratesMissingToken(t *testing.T) {
	req := require.New(t)
	s, _ := newTestStore(t)
	req.NoError(s.Revoke(context.Background(), "AUTH_tknever-issued"))
}
