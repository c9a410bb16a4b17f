package keys

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	bip39 "github.com/tyler-smith/go-bip39"
)

const (
	slip10Curve    = "ed25519 seed"
	hardenedOffset = uint32(0x80000000)
)

var (
	// ErrInvalidMnemonic is returned for phrases failing the BIP-39
	// wordlist or checksum validation.
	ErrInvalidMnemonic = errors.New("keys: invalid mnemonic")

	// ErrInvalidDerivationPath is returned for malformed paths and for any
	// non-hardened segment; SLIP-10 ed25519 supports hardened steps only.
	ErrInvalidDerivationPath = errors.New("keys: invalid derivation path")
)

// NewMnemonic generates a fresh BIP-39 phrase. bits must be 128 (12 words)
// or 256 (24 words).
func NewMnemonic(bits int) (string, error) {
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", fmt.Errorf("keys: entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("keys: mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks the phrase against the BIP-39 wordlist and checksum.
func ValidateMnemonic(phrase string) error {
	if !bip39.IsMnemonicValid(strings.TrimSpace(phrase)) {
		return ErrInvalidMnemonic
	}
	return nil
}

// MnemonicToSeed derives the 512-bit BIP-39 seed:
// PBKDF2-HMAC-SHA512(phrase, "mnemonic"+passphrase, 2048 iterations).
func MnemonicToSeed(phrase, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(phrase), passphrase)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	return seed, nil
}

// DefaultDerivationPath returns the canonical BIP-44 path for an account
// index: m/44'/501'/<account>'/0'.
func DefaultDerivationPath(account uint32) string {
	return fmt.Sprintf("m/44'/501'/%d'/0'", account)
}

// ParsePath parses a BIP-44 style path into hardened child indexes (with
// the hardened bit applied). Every segment must carry the ' marker.
func ParsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, ErrInvalidDerivationPath
	}
	segments := make([]uint32, 0, len(parts)-1)
	for _, p := range parts[1:] {
		if p == "" {
			return nil, ErrInvalidDerivationPath
		}
		hardened := strings.HasSuffix(p, "'") || strings.HasSuffix(p, "h")
		if !hardened {
			return nil, ErrInvalidDerivationPath
		}
		n, err := strconv.ParseUint(p[:len(p)-1], 10, 32)
		if err != nil || uint32(n) >= hardenedOffset {
			return nil, ErrInvalidDerivationPath
		}
		segments = append(segments, uint32(n)|hardenedOffset)
	}
	return segments, nil
}

// DerivePath performs SLIP-10 ed25519 hardened derivation and returns the
// 32-byte child key seed and chain code.
func DerivePath(path string, seed []byte) (key, chain [32]byte, err error) {
	segments, err := ParsePath(path)
	if err != nil {
		return key, chain, err
	}

	// Master node: I = HMAC-SHA512("ed25519 seed", seed).
	mac := hmac.New(sha512.New, []byte(slip10Curve))
	mac.Write(seed)
	I := mac.Sum(nil)
	copy(key[:], I[:32])
	copy(chain[:], I[32:])
	Zero(I)

	// Hardened steps: I = HMAC-SHA512(chain, 0x00 ‖ key ‖ be32(index)).
	var data [37]byte
	for _, index := range segments {
		data[0] = 0x00
		copy(data[1:33], key[:])
		binary.BigEndian.PutUint32(data[33:], index)

		mac = hmac.New(sha512.New, chain[:])
		mac.Write(data[:])
		I = mac.Sum(nil)
		copy(key[:], I[:32])
		copy(chain[:], I[32:])
		Zero(I)
	}
	Zero(data[:])
	return key, chain, nil
}

// MnemonicToKeypair derives the packed keypair for a phrase at the given
// path (empty path means the default account-0 path).
func MnemonicToKeypair(phrase, path string) (Keypair, error) {
	if path == "" {
		path = DefaultDerivationPath(0)
	}
	seed, err := MnemonicToSeed(phrase, "")
	if err != nil {
		return Keypair{}, err
	}
	defer Zero(seed)

	child, _, err := DerivePath(path, seed)
	if err != nil {
		return Keypair{}, err
	}
	defer Zero(child[:])

	return NewKeypairFromSeed(child[:])
}

// MnemonicToKeypairAt derives the keypair for the BIP-44 account index
// under the default path layout.
func MnemonicToKeypairAt(phrase string, account uint32) (Keypair, error) {
	return MnemonicToKeypair(phrase, DefaultDerivationPath(account))
}
