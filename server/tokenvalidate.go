package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// handleValidateToken implements "GET v2/.token/<T>", the internal API
// other swauth instances (or a swauth_remote-delegating front end) use to
// validate a token without going through the storage-path Classifier, per
// spec section 4.8.
func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	tok := mux.Vars(r)["token"]
	result, err := s.cfg.Tokens.Validate(r.Context(), tok, s.cfg.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("X-Auth-Ttl", strconv.Itoa(int(result.TTL.Seconds())))
	w.Header().Set("X-Auth-Groups", result.Groups)
	w.WriteHeader(http.StatusNoContent)
}
