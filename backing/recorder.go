package backing

import (
	"net/http"
	"net/http/httptest"
)

// newResponseRecorder returns an httptest.ResponseRecorder for use by
// PreAuthorizedDoer, which drives an in-process http.Handler directly
// instead of performing a real HTTP round trip.
func newResponseRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// resultFrom finalizes the recorder into an *http.Response with req attached,
// matching what a real RoundTripper would return.
func resultFrom(rec *httptest.ResponseRecorder, req *http.Request) *http.Response {
	resp := rec.Result()
	resp.Request = req
	return resp
}
