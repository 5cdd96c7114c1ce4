// Package creds implements the credential-hashing subsystem: encoding a
// cleartext key into a stored credential string, and verifying a cleartext
// key (or, for S3 signature verification, recovering raw HMAC key material)
// against one.
//
// A stored credential is a closed set of three variants, modeled as a sum
// type rather than runtime attribute lookup:
//
//	plaintext:K
//	sha1:S$H
//	sha512:S$H
package creds

import (
	"crypto/sha1" //nolint:gosec // required by the on-disk credential format, not used for anything security-critical on its own
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/swauth/swauth/apierr"
	"github.com/swauth/swauth/pkg/crypto"
)

// Type names the credential variant, doubling as the "type" component of the
// stored string.
type Type string

const (
	Plaintext Type = "plaintext"
	SHA1      Type = "sha1"
	SHA512    Type = "sha512"
)

const saltBytes = 32

// Codec encodes and verifies credentials of a single variant.
type Codec interface {
	// Encode produces a stored credential string for the cleartext key.
	Encode(key string) (string, error)

	// Match reports whether key is the cleartext key behind stored.
	Match(key, stored string) (bool, error)

	// KeyMaterial returns the raw bytes used as the HMAC-SHA1 key for S3
	// signature verification. For plaintext this is the cleartext key
	// itself; for salted variants it's the stored hex hash, since the
	// server never retains the cleartext key.
	KeyMaterial(stored string) ([]byte, error)
}

// Parsed is the decomposed form of a stored credential string.
type Parsed struct {
	Type Type
	Salt string
	Hash string
}

// Parse decomposes a stored credential string into its type, salt, and hash
// components. It fails with apierr.BadRequest if the string is malformed.
func Parse(stored string) (Parsed, error) {
	typ, rest, ok := strings.Cut(stored, ":")
	if !ok {
		return Parsed{}, apierr.BadRequest("invalid credential: missing type separator", nil)
	}

	switch Type(typ) {
	case Plaintext:
		if rest == "" {
			return Parsed{}, apierr.BadRequest("invalid credential: empty plaintext key", nil)
		}
		return Parsed{Type: Plaintext, Hash: rest}, nil
	case SHA1, SHA512:
		salt, hash, ok := strings.Cut(rest, "$")
		if !ok {
			return Parsed{}, apierr.BadRequest("invalid credential: missing salt separator", nil)
		}
		if salt == "" || hash == "" {
			return Parsed{}, apierr.BadRequest("invalid credential: empty salt or hash", nil)
		}
		wantLen := 40
		if Type(typ) == SHA512 {
			wantLen = 128
		}
		if len(hash) != wantLen {
			return Parsed{}, apierr.BadRequest(fmt.Sprintf("invalid credential: hash must be %d hex characters", wantLen), nil)
		}
		if _, err := hex.DecodeString(hash); err != nil {
			return Parsed{}, apierr.BadRequest("invalid credential: hash is not hexadecimal", nil)
		}
		return Parsed{Type: Type(typ), Salt: salt, Hash: hash}, nil
	default:
		return Parsed{}, apierr.BadRequest(fmt.Sprintf("invalid credential: unknown type %q", typ), nil)
	}
}

// PlaintextCodec stores credentials in cleartext. It is the only variant
// compatible with S3 signature verification when no fixed salt is configured
// for the other variants.
type PlaintextCodec struct{}

func (PlaintextCodec) Encode(key string) (string, error) {
	return string(Plaintext) + ":" + key, nil
}

func (PlaintextCodec) Match(key, stored string) (bool, error) {
	p, err := Parse(stored)
	if err != nil {
		return false, err
	}
	if p.Type != Plaintext {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(p.Hash)) == 1, nil
}

func (PlaintextCodec) KeyMaterial(stored string) ([]byte, error) {
	p, err := Parse(stored)
	if err != nil {
		return nil, err
	}
	if p.Type != Plaintext {
		return nil, apierr.BadRequest("credential is not plaintext", nil)
	}
	return []byte(p.Hash), nil
}

// SaltedCodec implements the sha1 and sha512 variants. Type selects which;
// FixedSalt, if non-empty, is used instead of generating a fresh salt on
// every Encode call, and is required for S3 support (see KeyMaterial).
type SaltedCodec struct {
	Type      Type // SHA1 or SHA512
	FixedSalt string
}

func sumHex(t Type, salt, key string) (string, error) {
	switch t {
	case SHA1:
		sum := sha1.Sum([]byte(salt + key)) //nolint:gosec // format-mandated, not a security boundary by itself
		return hex.EncodeToString(sum[:]), nil
	case SHA512:
		sum := sha512.Sum512([]byte(salt + key))
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", apierr.Internal(fmt.Sprintf("unsupported salted credential type %q", t), nil)
	}
}

func (c SaltedCodec) salt() (string, error) {
	if c.FixedSalt != "" {
		return c.FixedSalt, nil
	}
	buf, err := crypto.RandBytes(saltBytes)
	if err != nil {
		return "", apierr.Internal("generate credential salt", err)
	}
	return base64.RawStdEncoding.EncodeToString(buf), nil
}

func (c SaltedCodec) Encode(key string) (string, error) {
	salt, err := c.salt()
	if err != nil {
		return "", err
	}
	hash, err := sumHex(c.Type, salt, key)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%s$%s", c.Type, salt, hash), nil
}

func (c SaltedCodec) Match(key, stored string) (bool, error) {
	p, err := Parse(stored)
	if err != nil {
		return false, err
	}
	if p.Type != c.Type {
		return false, nil
	}
	recomputed, err := sumHex(p.Type, p.Salt, key)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(recomputed), []byte(p.Hash)) == 1, nil
}

// KeyMaterial returns the stored hex hash. S3 verification therefore only
// works when the codec is configured with FixedSalt, since the server never
// retains the cleartext key for salted variants; callers must check
// RequiresFixedSaltForS3 at startup.
func (c SaltedCodec) KeyMaterial(stored string) ([]byte, error) {
	p, err := Parse(stored)
	if err != nil {
		return nil, err
	}
	if p.Type != c.Type {
		return nil, apierr.BadRequest("credential type mismatch", nil)
	}
	return []byte(p.Hash), nil
}

// RequiresFixedSaltForS3 reports whether this codec configuration must be
// rejected at startup when S3 compatibility is enabled.
func (c SaltedCodec) RequiresFixedSaltForS3() bool {
	return c.FixedSalt == ""
}

// Verify checks key against a stored credential string of any variant,
// dispatching to the matching codec without requiring the caller to know
// the variant ahead of time. Used by the admin gate, where a user's stored
// credential type isn't known until it's read.
func Verify(key, stored string) (bool, error) {
	p, err := Parse(stored)
	if err != nil {
		return false, err
	}
	switch p.Type {
	case Plaintext:
		return PlaintextCodec{}.Match(key, stored)
	case SHA1, SHA512:
		return SaltedCodec{Type: p.Type}.Match(key, stored)
	default:
		return false, apierr.BadRequest(fmt.Sprintf("unknown credential type %q", p.Type), nil)
	}
}

// KeyMaterialFor returns the S3 HMAC key material for a stored credential
// string of any variant, dispatching the same way Verify does.
func KeyMaterialFor(stored string) ([]byte, error) {
	p, err := Parse(stored)
	if err != nil {
		return nil, err
	}
	switch p.Type {
	case Plaintext:
		return PlaintextCodec{}.KeyMaterial(stored)
	case SHA1, SHA512:
		return SaltedCodec{Type: p.Type}.KeyMaterial(stored)
	default:
		return nil, apierr.BadRequest(fmt.Sprintf("unknown credential type %q", p.Type), nil)
	}
}

// CheckS3Compatible validates that a configured codec may be used for S3
// signature verification, per spec: non-plaintext codecs need a fixed salt.
func CheckS3Compatible(codec Codec) error {
	if salted, ok := codec.(SaltedCodec); ok && salted.RequiresFixedSaltForS3() {
		return apierr.BadRequest("S3 support requires a fixed auth_type_salt when using a salted credential type", nil)
	}
	return nil
}
