package server

import (
	"encoding/json"
	"net/http"

	"github.com/swauth/swauth/apierr"
)

// writeJSON marshals v as the response body, per spec section 7: "admin API
// responses are JSON where data is returned."
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		writeError(w, apierr.Internal("encode response", err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError maps err to the HTTP status table of spec section 7. A short
// plain-text body is sent; the wrapped cause, if any, is never included.
func writeError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*apierr.Error); ok {
		http.Error(w, apiErr.Msg, apiErr.Status())
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func writeNoContent(w http.ResponseWriter, headers http.Header) {
	for k, vs := range headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
