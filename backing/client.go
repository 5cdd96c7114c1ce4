package backing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/pkg/metrics"
)

// Doer is the minimal seam swauth needs against the backing object-storage
// service. It is satisfied both by an external HTTP round-tripper and by an
// in-process adapter that hands the request straight to the hosting proxy's
// own request pipeline.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// preAuthorizedKey is the context key a hosting storage proxy's own
// authorization middleware is expected to check for before swauth's
// PreAuthorizedDoer hands it a request, so that access to the dedicated auth
// account never itself requires a token.
type preAuthorizedKey struct{}

// WithPreAuthorized marks a context so that a cooperating downstream
// request pipeline treats the request as already authorized. This is the
// in-process call style described in the design: constructing the request
// and marking it so the downstream storage stack bypasses auth, with no
// network round trip.
func WithPreAuthorized(ctx context.Context) context.Context {
	return context.WithValue(ctx, preAuthorizedKey{}, true)
}

// IsPreAuthorized reports whether ctx was marked by WithPreAuthorized. A
// hosting proxy's auth middleware calls this to decide whether to skip its
// own authorization check.
func IsPreAuthorized(ctx context.Context) bool {
	v, _ := ctx.Value(preAuthorizedKey{}).(bool)
	return v
}

// PreAuthorizedDoer implements Doer by handing the request directly to an
// in-process http.Handler (the rest of the storage proxy's pipeline) after
// marking its context, avoiding a real HTTP round trip for the auth
// account's own traffic.
type PreAuthorizedDoer struct {
	Next http.Handler
}

func (d PreAuthorizedDoer) Do(req *http.Request) (*http.Response, error) {
	rec := newResponseRecorder()
	req = req.WithContext(WithPreAuthorized(req.Context()))
	d.Next.ServeHTTP(rec, req)
	return resultFrom(rec, req), nil
}

// Client performs typed operations against containers and objects in the
// dedicated auth account, translating the backing store's HTTP status codes
// into *apierr.Error per the rule in spec section 4.5: 2xx success, 404
// semantic-not-found, anything else Internal.
type Client struct {
	Doer    Doer
	BaseURL string // e.g. "http://127.0.0.1:8080/v1"

	// Metrics, if set, records every call's method and resulting status in
	// swauth_backing_requests_total.
	Metrics *metrics.Metrics
}

// Response is the normalized result of a backing-store call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (c *Client) do(ctx context.Context, method, path string, headers http.Header, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, apierr.Internal("build backing store request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.Doer.Do(req)
	if err != nil {
		if c.Metrics != nil {
			c.Metrics.BackingRequestsTotal.WithLabelValues(method, "error").Inc()
		}
		return nil, apierr.Internal(fmt.Sprintf("%s %s: request failed", method, path), err)
	}
	defer resp.Body.Close()

	if c.Metrics != nil {
		c.Metrics.BackingRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Internal(fmt.Sprintf("%s %s: read response body", method, path), err)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

// CheckStatus maps a backing-store status code to an *apierr.Error per
// spec section 4.5: any of validCodes is success, 404 is semantic
// not-found, 409 is Conflict, everything else is Internal.
func CheckStatus(resp *Response, path string, validCodes ...int) error {
	for _, code := range validCodes {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode == http.StatusNotFound {
		return apierr.NotFound(path, nil)
	}
	if resp.StatusCode == http.StatusConflict {
		return apierr.Conflict(path, nil)
	}
	return apierr.Internal(fmt.Sprintf("backing store returned %d for %s", resp.StatusCode, path), nil)
}

// Head issues a HEAD request and returns the response (including headers)
// without requiring a particular status; callers inspect StatusCode
// themselves since HEAD is frequently used for existence checks.
func (c *Client) Head(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodHead, path, headers, nil)
}

// Get issues a GET and returns the raw response.
func (c *Client) Get(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, headers, nil)
}

// GetJSON issues a GET and decodes a 200 response body into v.
func (c *Client) GetJSON(ctx context.Context, path string, headers http.Header, v interface{}) (*Response, error) {
	resp, err := c.Get(ctx, path, headers)
	if err != nil {
		return nil, err
	}
	if err := CheckStatus(resp, path, http.StatusOK); err != nil {
		return resp, err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return resp, apierr.Internal(fmt.Sprintf("decode response body for %s", path), err)
	}
	return resp, nil
}

// Put issues a PUT with a raw body.
func (c *Client) Put(ctx context.Context, path string, headers http.Header, body []byte) (*Response, error) {
	return c.do(ctx, http.MethodPut, path, headers, body)
}

// PutJSON issues a PUT with a JSON-encoded body.
func (c *Client) PutJSON(ctx context.Context, path string, headers http.Header, v interface{}) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, apierr.Internal(fmt.Sprintf("encode request body for %s", path), err)
	}
	if headers == nil {
		headers = http.Header{}
	}
	headers.Set("Content-Type", "application/json")
	return c.Put(ctx, path, headers, body)
}

// Post issues a POST, typically used to update container/object metadata.
func (c *Client) Post(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodPost, path, headers, nil)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, headers http.Header) (*Response, error) {
	return c.do(ctx, http.MethodDelete, path, headers, nil)
}
