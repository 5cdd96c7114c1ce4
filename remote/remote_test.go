package remote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateSuccess(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal(".super_admin", r.Header.Get("X-Auth-Admin-User"))
		req.Equal("sharedsecret", r.Header.Get("X-Auth-Admin-Key"))
		req.Equal("/v2/.token/AUTH_tk123", r.URL.Path)
		w.Header().Set("X-Auth-Ttl", "3600")
		w.Header().Set("X-Auth-Groups", "act,act:usr")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	v := New(srv.URL, "sharedsecret", time.Second)
	result, err := v.Validate(context.Background(), "AUTH_tk123", time.Now())
	req.NoError(err)
	req.Equal("act,act:usr", result.Groups)
	req.Equal(time.Hour, result.TTL)
}

func TestValidateUnauthorized(t *testing.T) {
	req := require.New(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := New(srv.URL, "sharedsecret", time.Second)
	_, err := v.Validate(context.Background(), "AUTH_badtoken", time.Now())
	req.Error(err)
}
