package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/swauth/swauth/admingate"
	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
)

// handleUser dispatches GET/PUT/DELETE on "v2/<a>/<u>", each enforcing the
// escalation rules of spec section 4.7.
func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	account, user := vars["account"], vars["user"]
	if !backing.ValidUserName(user) {
		writeError(w, apierr.BadRequest("invalid user name", nil))
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetUser(w, r, account, user)
	case http.MethodPut:
		s.handlePutUser(w, r, account, user)
	case http.MethodDelete:
		s.handleDeleteUser(w, r, account, user)
	}
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request, account, user string) {
	req, ok := s.classifyOrDeny(w, r, func(level admingate.Level, principal admingate.Principal) bool {
		return admingate.IsAccountAdmin(level, principal, account)
	})
	if !ok {
		return
	}
	rec, err := s.cfg.Identity.GetUser(req.Context(), account, user)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request, account, user string) {
	key := r.Header.Get("X-Auth-User-Key")
	preHashed := r.Header.Get("X-Auth-User-Key-Hash")
	if key == "" && preHashed == "" {
		writeError(w, apierr.BadRequest("missing X-Auth-User-Key or X-Auth-User-Key-Hash", nil))
		return
	}
	if preHashed != "" {
		if _, err := creds.Parse(preHashed); err != nil {
			writeError(w, err)
			return
		}
	}
	grantAdmin := r.Header.Get("X-Auth-User-Admin") == "true"
	grantResellerAdmin := r.Header.Get("X-Auth-User-Reseller-Admin") == "true"

	level, principal, err := s.cfg.Gate.Classify(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}

	selfChange := admingate.IsSelfKeyChange(level, principal, account, user, grantAdmin, grantResellerAdmin)
	if !selfChange && !admingate.IsAccountAdmin(level, principal, account) {
		if level == admingate.LevelNone {
			writeError(w, apierr.Unauthorized("admin credentials required", nil))
		} else {
			writeError(w, apierr.Forbidden("insufficient privilege", nil))
		}
		return
	}
	if grantResellerAdmin && !admingate.CanGrantResellerAdmin(level) {
		writeError(w, apierr.Forbidden("cannot grant reseller-admin", nil))
		return
	}
	if grantAdmin && !admingate.CanGrantAdmin(level) {
		writeError(w, apierr.Forbidden("cannot grant account-admin", nil))
		return
	}

	err = s.cfg.Identity.CreateOrUpdateUser(r.Context(), account, user, identity.PutUserOptions{
		Key:           key,
		PreHashed:     preHashed,
		Admin:         grantAdmin,
		ResellerAdmin: grantResellerAdmin,
		Codec:         s.cfg.Codec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w, nil)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request, account, user string) {
	level, principal, err := s.cfg.Gate.Classify(r.Context(), r)
	if err != nil {
		writeError(w, err)
		return
	}
	if !admingate.IsAccountAdmin(level, principal, account) {
		if level == admingate.LevelNone {
			writeError(w, apierr.Unauthorized("admin credentials required", nil))
		} else {
			writeError(w, apierr.Forbidden("insufficient privilege", nil))
		}
		return
	}

	rec, err := s.cfg.Identity.GetUser(r.Context(), account, user)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.HasGroup(".reseller_admin") && !admingate.IsSuperAdmin(level) {
		writeError(w, apierr.Forbidden("only super-admin may delete a reseller-admin", nil))
		return
	}

	if err := s.cfg.Identity.DeleteUser(r.Context(), account, user, s.cfg.Tokens.Revoke); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w, nil)
}
