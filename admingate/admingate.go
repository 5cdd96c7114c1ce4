// Package admingate classifies the caller of an admin-API request into a
// privilege level, per spec section 4.7.
package admingate

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/creds"
	"github.com/swauth/swauth/identity"
)

// Level is the discriminated privilege level a Classify call establishes.
type Level int

const (
	LevelNone Level = iota
	LevelSelf
	LevelAccountAdmin
	LevelResellerAdmin
	LevelSuperAdmin
)

func (l Level) String() string {
	switch l {
	case LevelSelf:
		return "self"
	case LevelAccountAdmin:
		return "account_admin"
	case LevelResellerAdmin:
		return "reseller_admin"
	case LevelSuperAdmin:
		return "super_admin"
	default:
		return "none"
	}
}

// SuperAdminUser is the literal user name super-admin credentials present.
const SuperAdminUser = ".super_admin"

// Principal is the admin caller Classify established, or the zero value
// for an unauthenticated request.
type Principal struct {
	Account string
	User    string
	Groups  []string
}

func (p Principal) HasGroup(name string) bool {
	for _, g := range p.Groups {
		if g == name {
			return true
		}
	}
	return false
}

// Gate verifies admin credentials and derives privilege predicates.
type Gate struct {
	Identity *identity.Store

	// SuperAdminKey is the configured super-admin secret, compared with a
	// constant-time comparison. Empty disables the super-admin user.
	SuperAdminKey string
}

// Classify reads x-auth-admin-user/x-auth-admin-key from req and resolves
// the caller's privilege level, per spec section 4.7. A request with no
// admin credentials returns (LevelNone, Principal{}, nil) — callers treat
// that as 401 unless the operation permits anonymous access (it never
// does for the admin API). Invalid credentials (wrong key, unknown user)
// also return LevelNone rather than an error, so the caller can respond
// 401 uniformly.
func (g *Gate) Classify(ctx context.Context, req *http.Request) (Level, Principal, error) {
	adminUser := req.Header.Get("X-Auth-Admin-User")
	adminKey := req.Header.Get("X-Auth-Admin-Key")
	if adminUser == "" || adminKey == "" {
		return LevelNone, Principal{}, nil
	}

	if adminUser == SuperAdminUser {
		if g.SuperAdminKey == "" {
			return LevelNone, Principal{}, nil
		}
		if subtle.ConstantTimeCompare([]byte(adminKey), []byte(g.SuperAdminKey)) == 1 {
			return LevelSuperAdmin, Principal{User: SuperAdminUser}, nil
		}
		return LevelNone, Principal{}, nil
	}

	account, user, ok := strings.Cut(adminUser, ":")
	if !ok {
		return LevelNone, Principal{}, nil
	}

	rec, err := g.Identity.GetUser(ctx, account, user)
	if err != nil {
		if apierr.Is(err, apierr.KindNotFound) {
			return LevelNone, Principal{}, nil
		}
		return LevelNone, Principal{}, err
	}

	ok, err = creds.Verify(adminKey, rec.Auth)
	if err != nil {
		return LevelNone, Principal{}, err
	}
	if !ok {
		return LevelNone, Principal{}, nil
	}

	groups := rec.GroupNames()
	principal := Principal{Account: account, User: user, Groups: groups}

	switch {
	case contains(groups, ".reseller_admin"):
		return LevelResellerAdmin, principal, nil
	case contains(groups, ".admin"):
		return LevelAccountAdmin, principal, nil
	default:
		return LevelSelf, principal, nil
	}
}

func contains(groups []string, name string) bool {
	for _, g := range groups {
		if g == name {
			return true
		}
	}
	return false
}

// IsSuperAdmin reports whether level is the super-admin level.
func IsSuperAdmin(level Level) bool { return level == LevelSuperAdmin }

// IsResellerAdmin reports whether level grants reseller-admin privilege
// (super-admin counts, since it dominates every lesser level).
func IsResellerAdmin(level Level) bool {
	return level == LevelSuperAdmin || level == LevelResellerAdmin
}

// IsAccountAdmin reports whether level grants account-admin privilege over
// account "account": super-admin and reseller-admin always qualify; an
// account-admin principal qualifies only for its own account.
func IsAccountAdmin(level Level, principal Principal, account string) bool {
	if IsResellerAdmin(level) {
		return true
	}
	return level == LevelAccountAdmin && principal.Account == account
}

// CanGrantAdmin reports whether a caller at level may set the .admin flag
// on a user record: only reseller-admin-or-higher may.
func CanGrantAdmin(level Level) bool {
	return IsResellerAdmin(level)
}

// CanGrantResellerAdmin reports whether a caller at level may set the
// .reseller_admin flag on a user record: only super-admin may.
func CanGrantResellerAdmin(level Level) bool {
	return IsSuperAdmin(level)
}

// IsSelfKeyChange reports whether this admin request is the caller
// changing only their own key, with no attempt to escalate privilege
// beyond what CanGrantAdmin/CanGrantResellerAdmin already allow them.
func IsSelfKeyChange(level Level, principal Principal, targetAccount, targetUser string, grantAdmin, grantResellerAdmin bool) bool {
	if level == LevelNone {
		return false
	}
	if principal.Account != targetAccount || principal.User != targetUser {
		return false
	}
	if grantResellerAdmin && !CanGrantResellerAdmin(level) {
		return false
	}
	if grantAdmin && !CanGrantAdmin(level) {
		return false
	}
	return true
}
