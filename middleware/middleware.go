// Package middleware implements the per-request classification pipeline
// described in spec section 4.8: it decides whether a storage-path request
// carries a usable token or S3 signature, resolves the caller's groups, and
// attaches an authorization hook to the request context for the downstream
// storage pipeline to consult once it knows the target container's ACL.
//
// It does not itself proxy storage requests; that pipeline is an external
// collaborator (spec section 1's "backing storage service itself ... out of
// scope"). Classifier only ever calls Next once it has finished annotating
// the request.
package middleware

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/authz"
	"github.com/swauth/swauth/pkg/log"
	"github.com/swauth/swauth/s3compat"
	"github.com/swauth/swauth/token"
)

type contextKey int

const (
	principalKey contextKey = iota
	authorizeKey
	s3DetailsKey
)

// Principal is the caller a token or S3 signature resolved to.
type Principal struct {
	Groups   string
	Reseller bool // set when .reseller_admin is among Groups, per spec step 7
}

// AuthorizeFunc is installed on the request context so a downstream storage
// pipeline can ask, once it has read the target container's ACL and
// configured sync key off its metadata, whether this request may proceed.
// Everything else authz.Decide needs (method, path components, principal
// groups, referer, sync/remote-addr headers) is already closed over, since
// it's available off the incoming request at classification time.
type AuthorizeFunc func(acl authz.ACL, containerSyncKey string) (authz.Decision, error)

// PrincipalFromContext returns the principal Classifier resolved, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// AuthorizeFromContext returns the authorize hook Classifier installed, if any.
func AuthorizeFromContext(ctx context.Context) (AuthorizeFunc, bool) {
	f, ok := ctx.Value(authorizeKey).(AuthorizeFunc)
	return f, ok
}

// WithS3Details attaches S3 auth-details extracted by an upstream
// translator (e.g. an Authorization-header parser mounted ahead of
// Classifier), per spec step 6.
func WithS3Details(ctx context.Context, details s3compat.Details) context.Context {
	return context.WithValue(ctx, s3DetailsKey, details)
}

func s3DetailsFromContext(ctx context.Context) (s3compat.Details, bool) {
	d, ok := ctx.Value(s3DetailsKey).(s3compat.Details)
	return d, ok
}

// denyAuthorize always denies, regardless of ACL, for step 7/8's
// "install a deny-hook" case.
func denyAuthorize(authz.ACL, string) (authz.Decision, error) {
	return authz.Decision{}, nil
}

// Classifier implements spec section 4.8 steps 1-9. It wraps Next, the
// downstream storage pipeline.
type Classifier struct {
	Tokens token.Validator
	S3     *s3compat.Adapter

	ResellerPrefix   string
	MaxTokenLength   int
	S3Support        bool
	AllowOverrides   bool
	TrustedSyncHosts []string

	// UpstreamIdentityHeader, if set and present on the request, causes an
	// unconditional passthrough (step 1): another identity provider has
	// already authenticated this request.
	UpstreamIdentityHeader string

	Logger log.Logger
	Next   http.Handler
}

func (c *Classifier) maxTokenLength() int {
	if c.MaxTokenLength > 0 {
		return c.MaxTokenLength
	}
	return 8192
}

func (c *Classifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.UpstreamIdentityHeader != "" && r.Header.Get(c.UpstreamIdentityHeader) != "" {
		c.Next.ServeHTTP(w, r)
		return
	}
	if r.Method == http.MethodOptions {
		c.Next.ServeHTTP(w, r)
		return
	}
	if c.AllowOverrides && r.Header.Get("X-Auth-Override") == "allow" {
		c.Next.ServeHTTP(w, r)
		return
	}

	tok := r.Header.Get("X-Auth-Token")
	if tok == "" {
		tok = r.Header.Get("X-Storage-Token")
	}
	if len(tok) > c.maxTokenLength() {
		http.Error(w, "Token exceeds maximum length.", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	now := time.Now()

	var (
		groups   string
		resolved bool
	)

	if details, ok := s3DetailsFromContext(ctx); ok && c.S3Support {
		result, err := c.S3.Verify(ctx, r.URL.Path, details, now)
		if err != nil {
			c.unauthorized(w, err)
			return
		}
		r.URL.Path = result.RewrittenPath
		groups = result.Groups
		resolved = true
	} else if tok != "" && (c.ResellerPrefix == "" || strings.HasPrefix(tok, c.ResellerPrefix)) {
		result, err := c.Tokens.Validate(ctx, tok, now)
		if err != nil {
			if c.ResellerPrefix != "" {
				// The token plainly belongs to this reseller and failed:
				// reject outright rather than falling through to anonymous.
				c.unauthorized(w, err)
				return
			}
			ctx = context.WithValue(ctx, authorizeKey, AuthorizeFunc(denyAuthorize))
			c.Next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		groups = result.Groups
		resolved = true
	}

	base := c.baseRequest(r, groups)

	if resolved {
		principal := Principal{Groups: groups, Reseller: hasGroup(groups, ".reseller_admin")}
		ctx = context.WithValue(ctx, principalKey, principal)
		ctx = context.WithValue(ctx, authorizeKey, c.authorizeFor(base))
		r = r.WithContext(ctx)
		// Identifies this request in the access log (spec section 7's
		// "identifier" field), using the account named in the request path.
		r.URL.User = url.User(base.Account)
		c.Next.ServeHTTP(w, r)
		return
	}

	if c.ResellerPrefix != "" {
		if strings.HasPrefix(base.Account, c.ResellerPrefix) {
			ctx = context.WithValue(ctx, authorizeKey, c.authorizeFor(base))
		} else {
			ctx = context.WithValue(ctx, authorizeKey, AuthorizeFunc(denyAuthorize))
		}
		c.Next.ServeHTTP(w, r.WithContext(ctx))
		return
	}

	// Empty reseller prefix: install C6 without overriding a pre-existing hook.
	if _, already := AuthorizeFromContext(ctx); !already {
		ctx = context.WithValue(ctx, authorizeKey, c.authorizeFor(base))
	}
	c.Next.ServeHTTP(w, r.WithContext(ctx))
}

// baseRequest builds everything authz.Decide needs except the container ACL
// and its configured sync key, both only known once the downstream pipeline
// has read the target container's metadata.
func (c *Classifier) baseRequest(r *http.Request, groups string) authz.Request {
	account, container, object := parsePath(r.URL.Path)
	return authz.Request{
		Method:           r.Method,
		Account:          account,
		Container:        container,
		Object:           object,
		Groups:           groups,
		Referer:          r.Header.Get("Referer"),
		RequestSyncKey:   r.Header.Get("X-Container-Sync-Key"),
		RequestTimestamp: r.Header.Get("X-Timestamp"),
		RemoteAddr:       remoteHost(r.RemoteAddr),
		ForwardedFor:     r.Header.Get("X-Forwarded-For"),
		TrustedSyncHosts: c.TrustedSyncHosts,
	}
}

// authorizeFor closes over the parts of an authz.Request the classifier
// already knows, letting the downstream pipeline supply the container ACL
// and sync key once it has read them off the target container's metadata.
func (c *Classifier) authorizeFor(base authz.Request) AuthorizeFunc {
	return func(acl authz.ACL, containerSyncKey string) (authz.Decision, error) {
		req := base
		req.ACL = acl
		req.ContainerSyncKey = containerSyncKey
		return authz.Decide(req, c.ResellerPrefix)
	}
}

func remoteHost(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func (c *Classifier) unauthorized(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		http.Error(w, apiErr.Msg, apiErr.Status())
		return
	}
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func hasGroup(groups, name string) bool {
	for _, g := range strings.Split(groups, ",") {
		if g == name {
			return true
		}
	}
	return false
}

// parsePath decomposes a "/v1/<account>/<container?>/<object?>" style
// storage path into its components. The leading version segment is
// discarded; its value doesn't matter here.
func parsePath(path string) (account, container, object string) {
	trimmed := strings.TrimPrefix(path, "/")
	parts := strings.SplitN(trimmed, "/", 4)
	if len(parts) < 2 {
		return "", "", ""
	}
	account = parts[1]
	if len(parts) >= 3 {
		container = parts[2]
	}
	if len(parts) >= 4 {
		object = parts[3]
	}
	return account, container, object
}
