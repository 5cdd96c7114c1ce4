// Package server builds the HTTP surface described in spec section 4.8: an
// admin API (account/user/service management, token grant and validation)
// layered in front of the per-request Classifier that annotates storage
// traffic for a downstream proxy. It is grounded on the teacher's
// server/server.go router assembly (gorilla/mux with SkipClean and
// UseEncodedPath, a handleWithCORS helper for the few CORS-eligible
// endpoints, and handlers.CombinedLoggingHandler for the access log).
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/swauth/swauth/admingate"
	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
	"github.com/swauth/swauth/middleware"
	"github.com/swauth/swauth/pkg/log"
	"github.com/swauth/swauth/pkg/metrics"
	"github.com/swauth/swauth/token"
)

// Config assembles everything Server needs. It is built by cmd/swauth from
// the loaded Config file and passed through verbatim.
type Config struct {
	Identity   *identity.Store
	Tokens     *token.Store
	Gate       *admingate.Gate
	Classifier *middleware.Classifier

	// ResellerPrefix is echoed here (rather than read off Classifier) so
	// admin handlers that never touch Classifier still see it.
	ResellerPrefix string

	// AuthPrefix is the admin-API mount point, e.g. "/auth/". A request
	// path equal to AuthPrefix without its trailing slash is redirected
	// (spec section 4.8 step 4).
	AuthPrefix string

	// AdminAPIEnabled gates the whole v2 surface: false when no
	// super-admin key is configured, or when swauth_remote delegates
	// token validation elsewhere (spec section 6's swauth_remote note).
	AdminAPIEnabled bool

	// AllowedOrigins enables CORS on the token-grant endpoint when
	// non-empty, per the teacher's handleWithCORS.
	AllowedOrigins []string
	AllowedHeaders []string

	// Codec hashes a new cleartext key when the admin API creates or
	// updates a user, per the configured auth_type.
	Codec creds.Codec

	Now func() time.Time

	Logger  log.Logger
	Metrics *metrics.Metrics
}

// Server is the top-level http.Handler: admin-prefix requests are routed by
// the mux below, everything else falls through to Classifier, which in turn
// calls its own Next (the storage proxy, out of scope here).
type Server struct {
	cfg    Config
	router http.Handler
}

func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.AuthPrefix = normalizeAuthPrefix(cfg.AuthPrefix)

	s := &Server{cfg: cfg}
	s.router = s.buildRouter()
	return s
}

func normalizeAuthPrefix(prefix string) string {
	if prefix == "" {
		prefix = "/auth/"
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Metrics != nil {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		s.serveHTTP(rec, r)
		s.cfg.Metrics.RequestsTotal.WithLabelValues(metrics.Outcome(rec.status)).Inc()
		return
	}
	s.serveHTTP(w, r)
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	bare := strings.TrimSuffix(s.cfg.AuthPrefix, "/")
	if r.URL.Path == bare {
		http.Redirect(w, r, s.cfg.AuthPrefix, http.StatusMovedPermanently)
		return
	}
	if strings.HasPrefix(r.URL.Path, s.cfg.AuthPrefix) {
		s.router.ServeHTTP(w, r)
		return
	}
	s.cfg.Classifier.ServeHTTP(w, r)
}

// statusRecorder captures the status code a handler wrote, for the request
// counter in Config.Metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter().SkipClean(true).UseEncodedPath()
	prefix := s.cfg.AuthPrefix

	tokenGrant := s.corsWrap(http.HandlerFunc(s.handleGrantToken))
	r.Handle(prefix+"v1.0", tokenGrant).Methods(http.MethodGet)
	r.Handle(prefix+"v1/{account}/auth", tokenGrant).Methods(http.MethodGet)
	r.Handle(prefix+"auth", tokenGrant).Methods(http.MethodGet)

	r.HandleFunc(prefix+"v2/.prep", s.requireAdminAPI(s.requireLevel(admingate.IsSuperAdmin, s.handlePrep))).Methods(http.MethodPost)
	r.HandleFunc(prefix+"v2/.token/{token}", s.requireAdminAPI(s.requireLevel(admingate.IsResellerAdmin, s.handleValidateToken))).Methods(http.MethodGet)
	r.HandleFunc(prefix+"v2", s.requireAdminAPI(s.requireLevel(admingate.IsResellerAdmin, s.handleListAccounts))).Methods(http.MethodGet)
	r.HandleFunc(prefix+"v2/{account}/.services", s.requireAdminAPI(s.requireLevel(admingate.IsResellerAdmin, s.handleSetServices))).Methods(http.MethodPost)
	r.HandleFunc(prefix+"v2/{account}/{user}", s.requireAdminAPI(s.handleUser)).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)
	r.HandleFunc(prefix+"v2/{account}", s.requireAdminAPI(s.handleAccount)).Methods(http.MethodGet, http.MethodPut, http.MethodDelete)

	r.PathPrefix(prefix).HandlerFunc(s.handleStatic)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, apierr.NotFound("unknown admin path", nil))
	})

	var h http.Handler = r
	if s.cfg.Logger != nil {
		h = handlers.CombinedLoggingHandler(accessLogWriter{s.cfg.Logger}, h)
	}
	return h
}

// accessLogWriter adapts log.Logger to io.Writer so
// handlers.CombinedLoggingHandler, which writes one pre-formatted access log
// line per request, can go through the same structured logger as everything
// else (spec section 7's access-log field list).
type accessLogWriter struct {
	logger log.Logger
}

func (w accessLogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func (s *Server) corsWrap(h http.Handler) http.Handler {
	if len(s.cfg.AllowedOrigins) == 0 {
		return h
	}
	cors := handlers.CORS(
		handlers.AllowedOrigins(s.cfg.AllowedOrigins),
		handlers.AllowedHeaders(s.cfg.AllowedHeaders),
	)
	return cors(h)
}
