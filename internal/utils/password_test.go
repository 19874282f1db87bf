package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerifyPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("12345", bcrypt.MinCost)
	require.NoError(t, err)
	require.True(t, IsBcrypt(hash))

	ok, rehash := VerifyPassword(hash, "12345")
	assert.True(t, ok)
	assert.False(t, rehash)

	ok, _ = VerifyPassword(hash, "54321")
	assert.False(t, ok)
}

func TestVerifyPasswordLegacyDigests(t *testing.T) {
	sha := sha256.Sum256([]byte("12345"))
	md := md5.Sum([]byte("12345"))
	for name, hash := range map[string]string{
		"sha256":       hex.EncodeToString(sha[:]),
		"sha256 upper": strings.ToUpper(hex.EncodeToString(sha[:])),
		"md5":          hex.EncodeToString(md[:]),
	} {
		t.Run(name, func(t *testing.T) {
			ok, rehash := VerifyPassword(hash, "12345")
			assert.True(t, ok)
			assert.True(t, rehash)

			ok, rehash = VerifyPassword(hash, "123456")
			assert.False(t, ok)
			assert.False(t, rehash)
		})
	}
}

func TestVerifyPasswordUnknownFormat(t *testing.T) {
	ok, rehash := VerifyPassword("", "")
	assert.False(t, ok)
	assert.False(t, rehash)

	ok, _ = VerifyPassword("12345", "12345")
	assert.False(t, ok, "plaintext storage is never accepted")
}
