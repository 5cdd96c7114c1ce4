package authz

import (
	"strings"
)

// ACL is a parsed container x-container-read/x-container-write value: a
// comma-separated list of group names and referrer rules (".r:<spec>",
// negated with a leading "-", plus the ".rlistings" flag).
type ACL struct {
	Groups    []string
	Referrers []referrerRule
	RListings bool
}

type referrerRule struct {
	deny bool
	spec string // "*", "example.com", or ".example.com" (both host forms also match subdomains)
}

// ParseACL decomposes a raw container ACL header value into its group list
// and referrer rules, per the generic "parse a structured header value"
// pattern used throughout the backing layer's metadata handling.
func ParseACL(raw string) ACL {
	var acl ACL
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		switch {
		case entry == ".rlistings":
			acl.RListings = true
		case strings.HasPrefix(entry, ".r:"):
			spec := entry[len(".r:"):]
			rule := referrerRule{}
			if strings.HasPrefix(spec, "-") {
				rule.deny = true
				spec = spec[1:]
			}
			rule.spec = strings.ToLower(spec)
			acl.Referrers = append(acl.Referrers, rule)
		default:
			acl.Groups = append(acl.Groups, entry)
		}
	}
	return acl
}

// HasGroup reports whether group appears in the ACL's group list.
func (a ACL) HasGroup(group string) bool {
	for _, g := range a.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// AllowsReferrer reports whether referer is permitted by the ACL's referrer
// rules. Rules are evaluated in order; the last matching rule wins, per the
// conventional "most specific/most recent override" referrer-ACL semantics.
// An empty or unparseable referer is never allowed (except by "*").
func (a ACL) AllowsReferrer(referer string) bool {
	host := refererHost(referer)
	allowed := false
	for _, rule := range a.Referrers {
		if rule.spec == "*" {
			allowed = !rule.deny
			continue
		}
		if host == "" {
			continue
		}
		if matchesHost(host, rule.spec) {
			allowed = !rule.deny
		}
	}
	return allowed
}

// refererHost extracts the hostname portion of a Referer header value.
func refererHost(referer string) string {
	referer = strings.TrimSpace(referer)
	referer = strings.TrimPrefix(referer, "https://")
	referer = strings.TrimPrefix(referer, "http://")
	if i := strings.IndexAny(referer, "/?#"); i >= 0 {
		referer = referer[:i]
	}
	if i := strings.LastIndex(referer, "@"); i >= 0 {
		referer = referer[i+1:]
	}
	if i := strings.LastIndex(referer, ":"); i >= 0 {
		referer = referer[:i]
	}
	return strings.ToLower(referer)
}

// matchesHost reports whether host is spec or a subdomain of it, per the
// referrer-ACL convention used throughout: a leading "." on spec is
// optional and does not change matching, so ".r:example.com" also allows
// "www.example.com".
func matchesHost(host, spec string) bool {
	spec = strings.TrimPrefix(spec, ".")
	if spec == "" {
		return false
	}
	return host == spec || strings.HasSuffix(host, "."+spec)
}
