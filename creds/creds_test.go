package creds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlaintextRoundTrip(t *testing.T) {
	req := require.New(t)

	c := PlaintextCodec{}
	stored, err := c.Encode("hunter2")
	req.NoError(err)
	req.Equal("plaintext:hunter2", stored)

	ok, err := c.Match("hunter2", stored)
	req.NoError(err)
	req.True(ok)

	ok, err = c.Match("wrong", stored)
	req.NoError(err)
	req.False(ok)
}

func TestSaltedRoundTrip(t *testing.T) {
	for _, typ := range []Type{SHA1, SHA512} {
		typ := typ
		t.Run(string(typ), func(t *testing.T) {
			req := require.New(t)

			c := SaltedCodec{Type: typ}
			stored, err := c.Encode("hunter2")
			req.NoError(err)

			p, err := Parse(stored)
			req.NoError(err)
			req.Equal(typ, p.Type)
			req.NotEmpty(p.Salt)

			ok, err := c.Match("hunter2", stored)
			req.NoError(err)
			req.True(ok)

			ok, err = c.Match("hunter3", stored)
			req.NoError(err)
			req.False(ok)
		})
	}
}

func TestSaltedFixedSalt(t *testing.T) {
	req := require.New(t)

	c := SaltedCodec{Type: SHA512, FixedSalt: "fixedsalt"}
	first, err := c.Encode("hunter2")
	req.NoError(err)
	second, err := c.Encode("hunter2")
	req.NoError(err)
	req.Equal(first, second, "fixed salt should produce deterministic credentials")
}

func TestParseErrors(t *testing.T) {
	cases := []string{
		"",
		"plaintext",
		"sha1:nosaltseparator",
		"sha1:salt$",
		"sha1:$hash",
		"sha1:salt$nothex!!",
		"sha1:salt$" + string(make([]byte, 39)),
		"unknown:salt$hash",
	}
	for _, stored := range cases {
		_, err := Parse(stored)
		require.Error(t, err, "stored=%q", stored)
	}
}

func TestKeyMaterial(t *testing.T) {
	req := require.New(t)

	pc := PlaintextCodec{}
	stored, err := pc.Encode("secret-key")
	req.NoError(err)
	km, err := pc.KeyMaterial(stored)
	req.NoError(err)
	req.Equal("secret-key", string(km))

	sc := SaltedCodec{Type: SHA1, FixedSalt: "salt"}
	stored, err = sc.Encode("secret-key")
	req.NoError(err)
	km, err = sc.KeyMaterial(stored)
	req.NoError(err)
	p, err := Parse(stored)
	req.NoError(err)
	req.Equal(p.Hash, string(km))
}

func TestCheckS3Compatible(t *testing.T) {
	req := require.New(t)

	req.NoError(CheckS3Compatible(PlaintextCodec{}))
	req.NoError(CheckS3Compatible(SaltedCodec{Type: SHA512, FixedSalt: "x"}))
	req.Error(CheckS3Compatible(SaltedCodec{Type: SHA512}))
}
