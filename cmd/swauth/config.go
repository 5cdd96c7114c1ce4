package main

import (
	"fmt"
	"strings"

	"github.com/swauth/swauth/creds"
)

// Config is the config format for swauth serve, mirroring the teacher's
// cmd/dex/config.go layout and its fast-check Validate pattern.
type Config struct {
	// SuperAdminKey is the secret compared against X-Auth-Admin-Key for the
	// literal ".super_admin" admin user. When empty, the v2 admin API
	// returns 404 for every request (spec section 6).
	SuperAdminKey string `json:"superAdminKey"`

	// ResellerPrefix defaults to "AUTH", with a trailing underscore
	// appended if missing. An empty value is treated as unset and also
	// yields "AUTH_"; an empty prefix cannot be configured through this
	// field.
	ResellerPrefix string `json:"resellerPrefix"`

	// AuthPrefix is the admin-API mount point, defaulting to "/auth/".
	AuthPrefix string `json:"authPrefix"`

	// DefaultSwiftCluster is "name#publicUrl[#privateUrl]".
	DefaultSwiftCluster string `json:"defaultSwiftCluster"`

	// TokenLife and MaxTokenLife are Go duration strings, e.g. "24h".
	TokenLife    string `json:"tokenLife"`
	MaxTokenLife string `json:"maxTokenLife"`

	// NodeTimeout bounds calls to the backing cluster, e.g. "10s".
	NodeTimeout string `json:"nodeTimeout"`

	// AuthType selects the credential codec: Plaintext, Sha1, or Sha512.
	AuthType     string `json:"authType"`
	AuthTypeSalt string `json:"authTypeSalt"`

	S3Support        bool     `json:"s3Support"`
	AllowOverrides   bool     `json:"allowOverrides"`
	AllowedSyncHosts []string `json:"allowedSyncHosts"`

	// DefaultStoragePolicy, if set, is injected as a header on account
	// creation (spec section 6).
	DefaultStoragePolicy string `json:"defaultStoragePolicy"`

	// SwauthRemote, when set, delegates token validation to a remote
	// swauth instance instead of the local backing store; in that mode
	// the v2 admin API is disabled and S3 is unsupported (spec section 6).
	SwauthRemote        string `json:"swauthRemote"`
	SwauthRemoteTimeout string `json:"swauthRemoteTimeout"`

	Web       Web       `json:"web"`
	Telemetry Telemetry `json:"telemetry"`
	Logger    Logger    `json:"logger"`
}

// Web is the config format for the HTTP server.
type Web struct {
	HTTP    string `json:"http"`
	HTTPS   string `json:"https"`
	TLSCert string `json:"tlsCert"`
	TLSKey  string `json:"tlsKey"`

	AllowedOrigins []string `json:"allowedOrigins"`
	AllowedHeaders []string `json:"allowedHeaders"`
}

// Telemetry is the config format for the metrics/health endpoint.
type Telemetry struct {
	HTTP string `json:"http"`
}

// Logger is the config format for the structured logger.
type Logger struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// swiftCluster is DefaultSwiftCluster, decomposed.
type swiftCluster struct {
	name       string
	publicURL  string
	privateURL string
}

func parseSwiftCluster(s string) (swiftCluster, error) {
	parts := strings.Split(s, "#")
	if len(parts) < 2 || len(parts) > 3 {
		return swiftCluster{}, fmt.Errorf("default_swift_cluster must be name#publicUrl[#privateUrl], got %q", s)
	}
	c := swiftCluster{name: parts[0], publicURL: parts[1]}
	if len(parts) == 3 {
		c.privateURL = parts[2]
	}
	if c.name == "" || c.publicURL == "" {
		return swiftCluster{}, fmt.Errorf("default_swift_cluster must be name#publicUrl[#privateUrl], got %q", s)
	}
	return c, nil
}

// codecFor builds the credential codec the config names.
func codecFor(c Config) (creds.Codec, error) {
	switch strings.ToLower(c.AuthType) {
	case "", "plaintext":
		return creds.PlaintextCodec{}, nil
	case "sha1":
		return creds.SaltedCodec{Type: creds.SHA1, FixedSalt: c.AuthTypeSalt}, nil
	case "sha512":
		return creds.SaltedCodec{Type: creds.SHA512, FixedSalt: c.AuthTypeSalt}, nil
	default:
		return nil, fmt.Errorf("auth_type must be one of Plaintext, Sha1, Sha512, got %q", c.AuthType)
	}
}

// Validate the configuration. Fast checks first, matching the teacher's
// {bad bool; errMsg string} table.
func (c Config) Validate() error {
	lowerAuthType := strings.ToLower(c.AuthType)

	checks := []struct {
		bad    bool
		errMsg string
	}{
		{c.Web.HTTP == "" && c.Web.HTTPS == "", "must supply a HTTP/HTTPS address to listen on"},
		{c.Web.HTTPS != "" && c.Web.TLSCert == "", "no cert specified for HTTPS"},
		{c.Web.HTTPS != "" && c.Web.TLSKey == "", "no private key specified for HTTPS"},
		{c.DefaultSwiftCluster == "", "no default_swift_cluster configured"},
		{lowerAuthType != "" && lowerAuthType != "plaintext" && lowerAuthType != "sha1" && lowerAuthType != "sha512",
			"auth_type must be one of Plaintext, Sha1, Sha512"},
		{c.S3Support && (lowerAuthType == "sha1" || lowerAuthType == "sha512") && c.AuthTypeSalt == "",
			"s3_support requires a fixed auth_type_salt when using a salted auth_type"},
		{c.SwauthRemote != "" && c.S3Support, "s3_support is incompatible with swauth_remote"},
	}

	var checkErrors []string
	for _, check := range checks {
		if check.bad {
			checkErrors = append(checkErrors, check.errMsg)
		}
	}
	if len(checkErrors) != 0 {
		return fmt.Errorf("invalid config:\n\t-\t%s", strings.Join(checkErrors, "\n\t-\t"))
	}
	if _, err := parseSwiftCluster(c.DefaultSwiftCluster); err != nil {
		return err
	}
	return nil
}
