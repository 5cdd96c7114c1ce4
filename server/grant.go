package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/swauth/swauth/admingate"
	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/token"
)

// handleGrantToken implements the token-grant endpoint of spec section 4.8's
// admin API table: it accepts either the new-style x-auth-user/x-auth-key
// headers or the legacy x-storage-user/x-storage-pass pair, plus the
// special .super_admin user for bootstrapping.
func (s *Server) handleGrantToken(w http.ResponseWriter, r *http.Request) {
	authUser := r.Header.Get("X-Auth-User")
	authKey := r.Header.Get("X-Auth-Key")
	if authUser == "" {
		authUser = r.Header.Get("X-Storage-User")
		authKey = r.Header.Get("X-Storage-Pass")
	}
	if authUser == "" || authKey == "" {
		writeError(w, apierr.Unauthorized("missing auth credentials", nil))
		return
	}

	if authUser == admingate.SuperAdminUser {
		s.handleSuperAdminGrant(w, r, authKey)
		return
	}

	account, user, ok := cutAccountUser(authUser, mux.Vars(r)["account"])
	if !ok {
		writeError(w, apierr.BadRequest("malformed auth user", nil))
		return
	}

	ctx := r.Context()
	rec, err := s.cfg.Identity.GetUser(ctx, account, user)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			writeError(w, apierr.Unauthorized("unknown user", nil))
			return
		}
		writeError(w, err)
		return
	}

	ok, err = creds.Verify(authKey, rec.Auth)
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeError(w, apierr.Unauthorized("invalid key", nil))
		return
	}

	now := s.cfg.Now()
	issued, err := s.cfg.Tokens.Issue(ctx, account, user, token.IssueOptions{}, now)
	if err != nil {
		writeError(w, err)
		return
	}

	storageURL, _ := issued.Services.DefaultStorageURL()
	w.Header().Set("X-Auth-Token", issued.Token)
	w.Header().Set("X-Storage-Token", issued.Token)
	w.Header().Set("X-Storage-Url", storageURL)
	w.Header().Set("X-Auth-Token-Expires", strconv.Itoa(int(issued.Expires.Sub(now).Seconds())))
	writeJSON(w, http.StatusOK, issued.Services)
}

// cutAccountUser splits "a:u" into account and user. If authUser carries no
// colon, it falls back to a path-supplied account (the legacy
// "v1/<account>/auth" route, where authUser is the bare user name).
func cutAccountUser(authUser, pathAccount string) (account, user string, ok bool) {
	if a, u, found := strings.Cut(authUser, ":"); found {
		return a, u, true
	}
	if pathAccount != "" {
		return pathAccount, authUser, true
	}
	return "", "", false
}

// handleSuperAdminGrant implements the "grant token for .super_admin"
// variant of the token-grant endpoint: the response points at the auth
// account itself so the super-admin can administer it via standard storage
// operations, per spec section 4.8.
func (s *Server) handleSuperAdminGrant(w http.ResponseWriter, r *http.Request, authKey string) {
	if s.cfg.Gate.SuperAdminKey == "" {
		writeError(w, apierr.Unauthorized("super-admin not configured", nil))
		return
	}
	if subtle.ConstantTimeCompare([]byte(authKey), []byte(s.cfg.Gate.SuperAdminKey)) != 1 {
		writeError(w, apierr.Unauthorized("invalid key", nil))
		return
	}

	now := s.cfg.Now()
	tok, err := s.cfg.Identity.Internal.Get(r.Context(), now, true)
	if err != nil {
		writeError(w, err)
		return
	}

	storageURL := s.cfg.Identity.ClusterPublicURL + "/" + backing.AuthAccount(s.cfg.ResellerPrefix)
	w.Header().Set("X-Auth-Token", tok)
	w.Header().Set("X-Storage-Token", tok)
	w.Header().Set("X-Storage-Url", storageURL)
	writeNoContent(w, nil)
}
