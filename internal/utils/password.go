package utils

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// IsBcrypt reports whether hash is in modular crypt format ($2a$, $2b$, $2y$).
func IsBcrypt(hash string) bool {
	return strings.HasPrefix(hash, "$2a$") || strings.HasPrefix(hash, "$2b$") || strings.HasPrefix(hash, "$2y$")
}

// VerifyPassword checks plain against a bcrypt hash or one of the legacy
// unsalted hex digests (SHA-256, MD5). needsRehash is true when the match
// was against a legacy digest and the caller should store a bcrypt hash.
func VerifyPassword(hash, plain string) (ok, needsRehash bool) {
	if IsBcrypt(hash) {
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil, false
	}
	want := strings.ToLower(strings.TrimSpace(hash))
	var got string
	switch len(want) {
	case sha256.Size * 2:
		sum := sha256.Sum256([]byte(plain))
		got = hex.EncodeToString(sum[:])
	case md5.Size * 2:
		sum := md5.Sum([]byte(plain))
		got = hex.EncodeToString(sum[:])
	default:
		return false, false
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return false, false
	}
	return true, true
}
