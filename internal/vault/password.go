package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"unicode"

	"golang.org/x/crypto/pbkdf2"
)

// ErrWeakPassword is returned when a password fails the applicable policy.
var ErrWeakPassword = errors.New("vault: password does not meet policy")

// PasswordHash is the persisted unlock gate: a PBKDF2-SHA256 hash of the
// password and its salt, both base64.
type PasswordHash struct {
	Hash string `json:"hash_b64"`
	Salt string `json:"salt_b64"`
}

// HashPassword derives the unlock-gate hash with the same PBKDF2
// parameters the envelope uses.
func HashPassword(password string) (PasswordHash, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return PasswordHash{}, fmt.Errorf("vault: salt: %w", err)
	}
	hash := pbkdf2.Key([]byte(password), salt, IterationsV3, keySize, sha256.New)
	return PasswordHash{
		Hash: base64.StdEncoding.EncodeToString(hash),
		Salt: base64.StdEncoding.EncodeToString(salt),
	}, nil
}

// VerifyPassword recomputes the hash and compares in constant time across
// the full length. Mismatched lengths return false without short-circuit:
// the comparison still runs against a zero buffer of the expected size.
func VerifyPassword(password string, stored PasswordHash) bool {
	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return false
	}
	want, err := base64.StdEncoding.DecodeString(stored.Hash)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(password), salt, IterationsV3, keySize, sha256.New)
	defer Zero(got)

	if len(want) != len(got) {
		var dummy [keySize]byte
		subtle.ConstantTimeCompare(got, dummy[:])
		return false
	}
	return subtle.ConstantTimeCompare(got, want) == 1
}

// ValidateSetupPassword enforces the initial-setup policy: at least 8
// characters with at least one letter and one digit.
func ValidateSetupPassword(password string) error {
	if len(password) < 8 {
		return ErrWeakPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrWeakPassword
	}
	return nil
}

// ValidateEncryptionPassword enforces the enable/change-encryption policy:
// at least 12 characters.
func ValidateEncryptionPassword(password string) error {
	if len(password) < 12 {
		return ErrWeakPassword
	}
	return nil
}

// PasswordStrength scores a password 0-100 from length tiers and
// character-class coverage.
func PasswordStrength(password string) int {
	score := 0
	switch n := len(password); {
	case n >= 16:
		score += 40
	case n >= 12:
		score += 30
	case n >= 8:
		score += 20
	case n >= 1:
		score += 10
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}
	for _, present := range []bool{lower, upper, digit, symbol} {
		if present {
			score += 15
		}
	}
	if score > 100 {
		score = 100
	}
	return score
}
