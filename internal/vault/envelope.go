// Package vault implements the at-rest encryption envelope for wallet
// state: PBKDF2-SHA256 key derivation, AES-GCM-256, and the versioned
// "X1W:v3:" wire format with a legacy read path for migration.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// EnvelopePrefix tags the versioned envelope format.
	EnvelopePrefix = "X1W:v3:"

	envelopeVersion = 0x03

	saltSize = 16
	ivSize   = 12
	keySize  = 32
	tagSize  = 16

	// IterationsV3 is the PBKDF2-SHA256 iteration count for envelopes
	// written today.
	IterationsV3 = 600_000

	// IterationsLegacy is the count for pre-versioned envelopes, kept for
	// the unlock-time migration path only.
	IterationsLegacy = 100_000
)

var (
	// ErrDecryptionFailed is returned for a wrong password or a corrupted
	// envelope; the two are deliberately indistinguishable.
	ErrDecryptionFailed = errors.New("vault: decryption failed")

	// ErrUnsupportedVersion is returned when the envelope carries a
	// version byte this build does not understand.
	ErrUnsupportedVersion = errors.New("vault: unsupported envelope version")
)

// Encrypt seals plaintext under password into a v3 envelope:
// "X1W:v3:" + base64([0x03] ‖ salt16 ‖ iv12 ‖ ciphertext+tag).
func Encrypt(plaintext []byte, password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: iv: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, IterationsV3, keySize, sha256.New)
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	ct := aead.Seal(nil, iv, plaintext, nil)

	payload := make([]byte, 0, 1+saltSize+ivSize+len(ct))
	payload = append(payload, envelopeVersion)
	payload = append(payload, salt...)
	payload = append(payload, iv...)
	payload = append(payload, ct...)

	return EnvelopePrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a v3 or legacy envelope with password. Wrong passwords and
// corrupted payloads both surface as ErrDecryptionFailed.
func Decrypt(envelope, password string) ([]byte, error) {
	if strings.HasPrefix(envelope, EnvelopePrefix) {
		payload, err := base64.StdEncoding.DecodeString(envelope[len(EnvelopePrefix):])
		if err != nil {
			return nil, ErrDecryptionFailed
		}
		if len(payload) < 1+saltSize+ivSize+tagSize {
			return nil, ErrDecryptionFailed
		}
		if payload[0] != envelopeVersion {
			return nil, ErrUnsupportedVersion
		}
		return open(payload[1:], password, IterationsV3)
	}
	payload, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(payload) < saltSize+ivSize+tagSize {
		return nil, ErrDecryptionFailed
	}
	return open(payload, password, IterationsLegacy)
}

// IsLegacy reports whether the envelope is in the pre-versioned format.
func IsLegacy(envelope string) bool {
	return !strings.HasPrefix(envelope, EnvelopePrefix) && IsEncrypted(envelope)
}

// Version returns the envelope's version byte (0 for legacy envelopes).
func Version(envelope string) (byte, error) {
	if !strings.HasPrefix(envelope, EnvelopePrefix) {
		return 0, nil
	}
	payload, err := base64.StdEncoding.DecodeString(envelope[len(EnvelopePrefix):])
	if err != nil || len(payload) == 0 {
		return 0, ErrDecryptionFailed
	}
	return payload[0], nil
}

// IsEncrypted deterministically classifies a stored payload. The prefix
// wins outright; otherwise valid JSON is plaintext and anything that
// base64-decodes to at least a salt, IV and tag is a legacy envelope.
func IsEncrypted(payload string) bool {
	if strings.HasPrefix(payload, EnvelopePrefix) {
		return true
	}
	if json.Valid([]byte(payload)) {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return false
	}
	return len(raw) >= saltSize+ivSize+tagSize
}

func open(payload []byte, password string, iterations int) ([]byte, error) {
	salt := payload[:saltSize]
	iv := payload[saltSize : saltSize+ivSize]
	ct := payload[saltSize+ivSize:]

	key := pbkdf2.Key([]byte(password), salt, iterations, keySize, sha256.New)
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}
	return aead, nil
}

// Zero overwrites b with zeros before release.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// EncryptLegacy writes a pre-versioned envelope. It exists only so the
// migration path can be exercised in tests and tooling; production code
// always writes v3.
func EncryptLegacy(plaintext []byte, password string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("vault: salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("vault: iv: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, IterationsLegacy, keySize, sha256.New)
	defer Zero(key)

	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	ct := aead.Seal(nil, iv, plaintext, nil)

	payload := make([]byte, 0, saltSize+ivSize+len(ct))
	payload = append(payload, salt...)
	payload = append(payload, iv...)
	payload = append(payload, ct...)
	return base64.StdEncoding.EncodeToString(payload), nil
}
