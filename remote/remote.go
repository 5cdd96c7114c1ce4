// Package remote implements the swauth_remote delegation mode described in
// spec section 6: instead of validating tokens against the local backing
// store, a swauth instance forwards validation to another instance's
// internal "v2/.token/<T>" endpoint over HTTP. It is grounded on
// backing.NewExternalDoer's retryablehttp wiring for timeouts and bounded
// retries against a remote service.
package remote

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/token"
)

// Validator implements token.Validator by delegating to another swauth
// instance's internal validate endpoint, authenticating as that instance's
// ".super_admin" user (the shared secret configured on both sides).
type Validator struct {
	Doer backing.Doer

	// BaseURL is the remote instance's admin-API base, e.g.
	// "https://swauth-primary.example.com/auth/".
	BaseURL string

	// AdminKey is presented as X-Auth-Admin-Key for the ".super_admin"
	// admin user, matching the remote instance's configured super_admin_key.
	AdminKey string
}

// New builds a Validator whose outbound calls each respect timeout.
func New(baseURL, adminKey string, timeout time.Duration) *Validator {
	return &Validator{
		Doer:     backing.NewExternalDoer(timeout),
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		AdminKey: adminKey,
	}
}

// Validate forwards tok to the remote instance's internal validate
// endpoint and translates its response headers back into a ValidateResult.
func (v *Validator) Validate(ctx context.Context, tok string, now time.Time) (token.ValidateResult, error) {
	url := v.BaseURL + "/v2/.token/" + tok
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return token.ValidateResult{}, apierr.Internal("build remote validate request", err)
	}
	req.Header.Set("X-Auth-Admin-User", ".super_admin")
	req.Header.Set("X-Auth-Admin-Key", v.AdminKey)

	resp, err := v.Doer.Do(req)
	if err != nil {
		return token.ValidateResult{}, apierr.Internal(fmt.Sprintf("remote validate %s", url), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return token.ValidateResult{}, apierr.Unauthorized("invalid or expired token", nil)
	}
	if resp.StatusCode != http.StatusNoContent {
		return token.ValidateResult{}, apierr.Internal(fmt.Sprintf("remote validate %s: unexpected status %d", url, resp.StatusCode), nil)
	}

	ttlSeconds, err := strconv.Atoi(resp.Header.Get("X-Auth-Ttl"))
	if err != nil {
		return token.ValidateResult{}, apierr.Internal("remote validate: malformed X-Auth-Ttl", err)
	}
	return token.ValidateResult{
		Groups: resp.Header.Get("X-Auth-Groups"),
		TTL:    time.Duration(ttlSeconds) * time.Second,
	}, nil
}
