// Package auth provides password hashing and signed session tokens.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Hasher turns plaintext passwords into stored digests and checks them.
type Hasher interface {
	Hash(plaintext string) (string, error)
	Verify(digest, plaintext string) bool
}

// HashPassword returns the lower-hex SHA-256 digest of the UTF-8 bytes of
// plaintext. It is unsalted: every installation that still stores these
// digests shares the same rainbow-table exposure.
func HashPassword(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// SHA256Hasher is the legacy digest format.
type SHA256Hasher struct{}

func (SHA256Hasher) Hash(plaintext string) (string, error) {
	return HashPassword(plaintext), nil
}

func (SHA256Hasher) Verify(digest, plaintext string) bool {
	return subtle.ConstantTimeCompare([]byte(digest), []byte(HashPassword(plaintext))) == 1
}

// BcryptHasher stores salted bcrypt hashes and still accepts legacy
// SHA-256 digests.
type BcryptHasher struct {
	Cost int
}

func (h BcryptHasher) Hash(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt hash: %w", err)
	}
	return string(b), nil
}

func (h BcryptHasher) Verify(digest, plaintext string) bool {
	if !isBcrypt(digest) {
		return SHA256Hasher{}.Verify(digest, plaintext)
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext)) == nil
}

func isBcrypt(digest string) bool {
	return strings.HasPrefix(digest, "$2a$") || strings.HasPrefix(digest, "$2b$") || strings.HasPrefix(digest, "$2y$")
}

// NewHasher selects a hasher by name: "sha256" (default) or "bcrypt".
func NewHasher(name string) (Hasher, error) {
	switch strings.ToLower(name) {
	case "", "sha256":
		return SHA256Hasher{}, nil
	case "bcrypt":
		return BcryptHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password hasher %q", name)
	}
}
