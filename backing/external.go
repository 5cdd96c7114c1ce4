package backing

import (
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewExternalDoer returns a Doer for external HTTP calls against storage
// accounts outside the auth account: creating a user's storage account on
// the primary cluster, and deleting storage accounts on primary and
// secondary clusters during account delete. Each call has an independent
// timeout (nodeTimeout) per spec section 5; transient failures are retried
// a small, bounded number of times.
func NewExternalDoer(nodeTimeout time.Duration) Doer {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil // component loggers are attached by callers, not the HTTP layer
	rc.HTTPClient.Timeout = nodeTimeout

	return externalDoer{rc}
}

type externalDoer struct {
	rc *retryablehttp.Client
}

func (d externalDoer) Do(req *http.Request) (*http.Response, error) {
	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, err
	}
	return d.rc.Do(rreq)
}
