package server

import (
	"net/http"
	"strings"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
)

// webadminContainer is the fixed container under the auth account that
// serves the admin UI's static assets, per spec section 4.8's "anything
// else under admin-prefix" row.
const webadminContainer = ".webadmin"

// handleStatic passes GET/HEAD requests under the admin prefix, that
// matched no other route, through to the .webadmin container.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		writeError(w, apierr.BadRequest("method not allowed under admin prefix", nil))
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, s.cfg.AuthPrefix)
	objPath := "/" + backing.AuthAccount(s.cfg.ResellerPrefix) + "/" + webadminContainer
	if rest != "" {
		objPath += "/" + rest
	}

	var (
		resp *backing.Response
		err  error
	)
	if r.Method == http.MethodHead {
		resp, err = s.cfg.Identity.Auth.Head(r.Context(), objPath, nil)
	} else {
		resp, err = s.cfg.Identity.Auth.Get(r.Context(), objPath, nil)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	if resp.StatusCode == http.StatusNotFound {
		writeError(w, apierr.NotFound("static asset not found", nil))
		return
	}
	if err := backing.CheckStatus(resp, objPath, http.StatusOK, http.StatusNoContent); err != nil {
		writeError(w, err)
		return
	}

	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		w.Write(resp.Body)
	}
}
