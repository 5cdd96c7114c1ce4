// Package backing defines the persisted data model swauth keeps inside the
// backing object-storage cluster (accounts, users, services, tokens) and a
// typed HTTP client for reading and writing it.
package backing

import "time"

// GroupEntry is one element of a UserRecord's groups list.
type GroupEntry struct {
	Name string `json:"name"`
}

// UserRecord is the JSON body of R_.auth/<account>/<user>.
type UserRecord struct {
	Auth   string       `json:"auth"`
	Groups []GroupEntry `json:"groups"`
}

// GroupNames returns the plain list of group names from a UserRecord.
func (u UserRecord) GroupNames() []string {
	names := make([]string, len(u.Groups))
	for i, g := range u.Groups {
		names[i] = g.Name
	}
	return names
}

// HasGroup reports whether the user record carries the named group.
func (u UserRecord) HasGroup(name string) bool {
	for _, g := range u.Groups {
		if g.Name == name {
			return true
		}
	}
	return false
}

// ServicesDocument is the JSON body of R_.auth/<account>/.services.
type ServicesDocument map[string]map[string]string

// DefaultStorageURL returns the URL of the account's default storage
// endpoint, per the "storage" service's "default" selector.
func (d ServicesDocument) DefaultStorageURL() (string, bool) {
	storageSvc, ok := d["storage"]
	if !ok {
		return "", false
	}
	defaultName, ok := storageSvc["default"]
	if !ok {
		return "", false
	}
	url, ok := storageSvc[defaultName]
	return url, ok
}

// TokenRecord is the JSON body of a token object under a .token_<x> shard.
type TokenRecord struct {
	Account   string    `json:"account"`
	User      string    `json:"user"`
	AccountID string    `json:"account_id"`
	Groups    []string  `json:"groups"`
	Expires   time.Time `json:"expires"`
}

// Expired reports whether the token record's expiry is in the past relative to now.
func (t TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.Expires)
}
