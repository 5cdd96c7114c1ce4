// Package authz implements the authorization decision described in spec
// section 4.6: reseller/account-admin allowances, container-sync,
// referrer rules, and plain group membership against a container ACL.
package authz

import (
	"net/http"
	"strings"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/backing"
)

// Request carries everything Decide needs to reach a verdict about one
// storage request. Callers (middleware) are responsible for parsing the
// path and selecting the correct ACL header (read for GET/HEAD/OPTIONS,
// write otherwise) before calling Decide.
type Request struct {
	Method    string
	Account   string
	Container string
	Object    string

	// Groups is the authenticated principal's comma-separated group
	// string, or empty for an anonymous request.
	Groups string

	// ACL is the parsed x-container-read or x-container-write value
	// relevant to Method, or the zero value if the container has none
	// configured.
	ACL ACL

	Referer string

	// Sync-related fields, populated only when the container has sync
	// configured.
	RequestSyncKey   string
	RequestTimestamp string
	ContainerSyncKey string
	RemoteAddr       string
	ForwardedFor     string
	TrustedSyncHosts []string
}

// Decision is the outcome of a successful Decide call.
type Decision struct {
	Allow bool
	// SwiftOwner is set when the caller may perform owner-only operations
	// (e.g. setting arbitrary container ACLs) on this account.
	SwiftOwner bool
}

// groupSet splits a comma-separated group string into a set.
func groupSet(groups string) map[string]bool {
	set := map[string]bool{}
	for _, g := range strings.Split(groups, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			set[g] = true
		}
	}
	return set
}

func isBareAccountRequest(req Request) bool {
	return req.Container == "" && req.Object == ""
}

// Decide runs the seven-step algorithm from spec section 4.6.
//
// A returned error is always *apierr.Error with KindUnauthorized (step 5's
// explicit "no principal established" case); any other denial is expressed
// as Decision{Allow: false} with a nil error, leaving the Forbidden-vs-not
// distinction to the caller, which already knows whether a principal was
// established elsewhere in the pipeline.
func Decide(req Request, prefix string) (Decision, error) {
	if !strings.HasPrefix(req.Account, prefix) {
		return Decision{}, nil
	}

	groups := groupSet(req.Groups)
	authenticated := req.Groups != ""
	resellerBareAccount := prefix
	authAccount := backing.AuthAccount(prefix)

	// Step 2: reseller-admins may act on any account except the bare
	// reseller account and the dedicated auth account.
	if groups[".reseller_admin"] && req.Account != resellerBareAccount && req.Account != authAccount {
		return Decision{Allow: true, SwiftOwner: true}, nil
	}

	// Step 3: account admins may act on their own account, except they may
	// not create or destroy the account itself — only reseller admins can.
	if groups[req.Account] {
		bareMutation := isBareAccountRequest(req) && (req.Method == http.MethodPut || req.Method == http.MethodDelete)
		if !bareMutation {
			return Decision{Allow: true, SwiftOwner: true}, nil
		}
	}

	// Step 4: container-sync traffic authenticates via a shared secret and
	// a trusted source address instead of a token.
	if req.RequestSyncKey != "" && req.RequestTimestamp != "" && req.ContainerSyncKey != "" &&
		req.RequestSyncKey == req.ContainerSyncKey && sourceIPTrusted(req) {
		return Decision{Allow: true}, nil
	}

	// Step 5: referrer rule. An allowed referer grants access to objects,
	// or to container listings when the ACL also grants .rlistings.
	if req.ACL.AllowsReferrer(req.Referer) && (req.Object != "" || req.ACL.RListings) {
		return Decision{Allow: true}, nil
	}
	if !authenticated {
		return Decision{}, apierr.Unauthorized("no authenticated principal and referrer rule denied", nil)
	}

	// Step 6: plain group membership against the ACL.
	for g := range groups {
		if req.ACL.HasGroup(g) {
			return Decision{Allow: true}, nil
		}
	}

	// Step 7: otherwise forbidden.
	return Decision{}, nil
}

func sourceIPTrusted(req Request) bool {
	candidates := []string{req.RemoteAddr}
	if req.ForwardedFor != "" {
		for _, part := range strings.Split(req.ForwardedFor, ",") {
			candidates = append(candidates, strings.TrimSpace(part))
		}
	}
	for _, c := range candidates {
		for _, trusted := range req.TrustedSyncHosts {
			if c == trusted {
				return true
			}
		}
	}
	return false
}
