package backing

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/swauth/swauth/pkg/crypto"
)

// AccountIDMetaKey is the container metadata key recording an account's id.
const AccountIDMetaKey = "Account-Id"

// ObjectAccountIDMetaKey is the object metadata key recording an account's
// id on user objects, set at user-create time so s3compat can avoid a HEAD.
const ObjectAccountIDMetaKey = "Account-Id"

// AuthTokenMetaKey is the object metadata key on a user object holding the
// back-reference to that user's current token.
const AuthTokenMetaKey = "Auth-Token"

// Reserved names used for listing and administrative objects.
const (
	GroupsListingUser = ".groups"
	ServicesObject    = ".services"
	AccountIDDir      = ".account_id"
)

// NormalizePrefix appends a trailing "_" to a reseller prefix if missing.
// An empty prefix is returned unchanged (spec: empty prefix is permitted and
// switches the middleware into fallback mode).
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return prefix
	}
	if strings.HasSuffix(prefix, "_") {
		return prefix
	}
	return prefix + "_"
}

// AuthAccount returns the name of the dedicated auth account, e.g. "AUTH_.auth".
func AuthAccount(prefix string) string {
	return prefix + ".auth"
}

// IsReservedName reports whether name begins with ".". It makes no
// exceptions; ValidUserName is where ".groups" is accepted as a user name
// (it is never valid as an account name).
func IsReservedName(name string) bool {
	return strings.HasPrefix(name, ".")
}

// ValidAccountName reports whether a can be used as an account name.
func ValidAccountName(a string) bool {
	return a != "" && !IsReservedName(a)
}

// ValidUserName reports whether u can be used as a user name for account a.
// ".groups" is allowed only for the group-listing pseudo-user.
func ValidUserName(u string) bool {
	if u == GroupsListingUser {
		return true
	}
	return u != "" && !IsReservedName(u)
}

// AccountIDValue formats a freshly generated or admin-supplied account
// suffix into the stored account-id value, e.g. "AUTH_abc123".
func AccountIDValue(prefix, suffix string) string {
	return prefix + suffix
}

// NewAccountSuffix returns a fresh random account suffix.
func NewAccountSuffix() string {
	return uuid.NewString()
}

// AccountIDMappingObject returns the path, under the auth account, of the
// reverse account-id -> account-name mapping object.
func AccountIDMappingObject(accountID string) string {
	return AccountIDDir + "/" + accountID
}

const (
	tokenPrefix         = "tk"
	internalTokenPrefix = "itk"
	tokenRandomBytes    = 32
)

// NewToken returns a fresh opaque bearer token, e.g. "AUTH_tk<64 hex chars>".
func NewToken(prefix string) (string, error) {
	return newPrefixedToken(prefix, tokenPrefix)
}

// NewInternalToken returns a fresh internal bearer token, e.g. "AUTH_itk<64 hex chars>".
func NewInternalToken(prefix string) (string, error) {
	return newPrefixedToken(prefix, internalTokenPrefix)
}

func newPrefixedToken(prefix, kind string) (string, error) {
	buf, err := crypto.RandBytes(tokenRandomBytes)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + kind + hex.EncodeToString(buf), nil
}

// TokenObjectName derives the on-disk object name for a token, per the
// on-disk contract: SHA-512(hashPrefix ":" token ":" hashSuffix) as lowercase
// hex. The raw token value never appears in the object name, so it cannot
// leak through storage access logs.
func TokenObjectName(hashPrefix, token, hashSuffix string) string {
	sum := sha512.Sum512([]byte(hashPrefix + ":" + token + ":" + hashSuffix))
	return hex.EncodeToString(sum[:])
}

// TokenShard returns the .token_<nibble> container an object name belongs
// in: the last hex nibble of the derived object name.
func TokenShard(objectName string) string {
	if objectName == "" {
		return "0"
	}
	return objectName[len(objectName)-1:]
}

// TokenContainer returns the full container name for a token shard nibble.
func TokenContainer(nibble string) string {
	return ".token_" + nibble
}

// AllTokenShards returns the 16 shard nibbles used by prep and validate.
func AllTokenShards() []string {
	const hexDigits = "0123456789abcdef"
	shards := make([]string, len(hexDigits))
	for i, c := range hexDigits {
		shards[i] = string(c)
	}
	return shards
}
