package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/swauth/swauth/admingate"
	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
)

// handlePrep implements "POST v2/.prep", gated to super-admin by the
// requireLevel wrapper registered in buildRouter.
func (s *Server) handlePrep(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Identity.Prep(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeNoContent(w, nil)
}

type accountsResponse struct {
	Accounts []string `json:"accounts"`
}

// handleListAccounts implements "GET v2", gated to reseller-admin.
func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	names, err := s.cfg.Identity.ListAccounts(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountsResponse{Accounts: names})
}

type accountResponse struct {
	Services backing.ServicesDocument `json:"services"`
	Users    []string                 `json:"users"`
}

// handleAccount dispatches GET/PUT/DELETE on "v2/<a>", each with its own
// privilege requirement per spec section 4.8's table.
func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if !backing.ValidAccountName(account) {
		writeError(w, apierr.BadRequest("invalid account name", nil))
		return
	}

	switch r.Method {
	case http.MethodGet:
		req, ok := s.classifyOrDeny(w, r, func(level admingate.Level, principal admingate.Principal) bool {
			return admingate.IsAccountAdmin(level, principal, account)
		})
		if !ok {
			return
		}
		info, err := s.cfg.Identity.GetAccount(req.Context(), account)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, accountResponse{Services: info.Services, Users: info.Users})

	case http.MethodPut:
		req, ok := s.classifyOrDeny(w, r, func(level admingate.Level, _ admingate.Principal) bool {
			return admingate.IsResellerAdmin(level)
		})
		if !ok {
			return
		}
		suffix := req.Header.Get("X-Account-Suffix")
		result, err := s.cfg.Identity.CreateAccount(req.Context(), account, suffix, s.cfg.Now())
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusCreated
		if !result.Created {
			status = http.StatusAccepted
		}
		writeJSON(w, status, map[string]string{"account_id": result.AccountID})

	case http.MethodDelete:
		req, ok := s.classifyOrDeny(w, r, func(level admingate.Level, _ admingate.Principal) bool {
			return admingate.IsResellerAdmin(level)
		})
		if !ok {
			return
		}
		if err := s.cfg.Identity.DeleteAccount(req.Context(), account, s.cfg.Now()); err != nil {
			writeError(w, err)
			return
		}
		writeNoContent(w, nil)
	}
}

// handleSetServices implements "POST v2/<a>/.services", gated to
// reseller-admin.
func (s *Server) handleSetServices(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]

	var update backing.ServicesDocument
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, apierr.BadRequest("invalid services document", nil))
		return
	}

	merged, err := s.cfg.Identity.SetServices(r.Context(), account, update)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, merged)
}
