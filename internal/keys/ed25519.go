// Package keys implements Ed25519 account keys for the X1/Solana account
// model: RFC 8032 key derivation and signing, BIP-39 seed generation and
// SLIP-10 hardened path derivation.
//
// Scalar and point arithmetic is delegated to filippo.io/edwards25519,
// whose operations run in constant time; no code path here branches on
// secret bytes.
package keys

import (
	"crypto/sha512"
	"errors"
	"fmt"

	"filippo.io/edwards25519"

	"x1-wallet-go/pkg/base58"
)

// Ed25519 sizes in bytes.
const (
	// SeedSize is the size of the private scalar seed.
	SeedSize = 32

	// PublicKeySize is the size of a compressed public key.
	PublicKeySize = 32

	// SecretKeySize is the size of the packed secret key (seed ‖ public).
	SecretKeySize = 64

	// SignatureSize is the size of a signature (R ‖ S).
	SignatureSize = 64
)

var (
	// ErrInvalidSeedLength is returned when a seed is not 32 bytes.
	ErrInvalidSeedLength = errors.New("keys: seed must be 32 bytes")

	// ErrInvalidSecretLength is returned when a packed secret key is not 64 bytes.
	ErrInvalidSecretLength = errors.New("keys: secret key must be 64 bytes")
)

// Keypair is a packed Ed25519 keypair: the 32-byte scalar seed followed by
// the 32-byte compressed public key.
type Keypair struct {
	Secret [SecretKeySize]byte
	Public [PublicKeySize]byte
}

// NewKeypairFromSeed expands a 32-byte seed into a packed keypair.
func NewKeypairFromSeed(seed []byte) (Keypair, error) {
	var kp Keypair
	pub, err := DerivePublic(seed)
	if err != nil {
		return kp, err
	}
	copy(kp.Secret[:SeedSize], seed)
	copy(kp.Secret[SeedSize:], pub[:])
	kp.Public = pub
	return kp, nil
}

// KeypairFromSecretBase58 parses a base58-encoded 64-byte packed secret key.
func KeypairFromSecretBase58(s string) (Keypair, error) {
	var kp Keypair
	raw, err := base58.Decode(s)
	if err != nil {
		return kp, fmt.Errorf("keys: invalid secret key: %w", err)
	}
	if len(raw) != SecretKeySize {
		return kp, ErrInvalidSecretLength
	}
	copy(kp.Secret[:], raw)
	copy(kp.Public[:], raw[SeedSize:])
	Zero(raw)
	return kp, nil
}

// PublicBase58 returns the base58 account address of the keypair.
func (kp *Keypair) PublicBase58() string {
	return base58.Encode(kp.Public[:])
}

// SecretBase58 returns the packed secret key as base58. Callers must not
// log or persist the result outside the encrypted envelope.
func (kp *Keypair) SecretBase58() string {
	return base58.Encode(kp.Secret[:])
}

// Wipe overwrites the secret half with zeros.
func (kp *Keypair) Wipe() {
	Zero(kp.Secret[:])
}

// DerivePublic computes the compressed public key for a 32-byte seed:
// SHA-512 the seed, clamp the lower half, multiply the base point.
func DerivePublic(seed []byte) ([PublicKeySize]byte, error) {
	var pk [PublicKeySize]byte
	if len(seed) != SeedSize {
		return pk, ErrInvalidSeedLength
	}
	h := sha512.Sum512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return pk, fmt.Errorf("keys: clamping failed: %w", err)
	}
	A := new(edwards25519.Point).ScalarBaseMult(s)
	copy(pk[:], A.Bytes())
	Zero(h[:])
	return pk, nil
}

// Sign produces an RFC 8032 signature (R ‖ S) over message with the packed
// 64-byte secret key. The only failures are argument-length errors.
func Sign(message []byte, secret []byte) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte
	if len(secret) != SecretKeySize {
		return sig, ErrInvalidSecretLength
	}
	seed, pub := secret[:SeedSize], secret[SeedSize:]

	h := sha512.Sum512(seed)
	s, err := edwards25519.NewScalar().SetBytesWithClamping(h[:32])
	if err != nil {
		return sig, fmt.Errorf("keys: clamping failed: %w", err)
	}
	prefix := h[32:]

	// r = SHA512(prefix ‖ M) mod L; R = r·B
	mh := sha512.New()
	mh.Write(prefix)
	mh.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(mh.Sum(nil))
	if err != nil {
		return sig, fmt.Errorf("keys: reducing r failed: %w", err)
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)

	// k = SHA512(R ‖ A ‖ M) mod L
	kh := sha512.New()
	kh.Write(R.Bytes())
	kh.Write(pub)
	kh.Write(message)
	k, err := edwards25519.NewScalar().SetUniformBytes(kh.Sum(nil))
	if err != nil {
		return sig, fmt.Errorf("keys: reducing k failed: %w", err)
	}

	// S = (r + k·s) mod L
	S := edwards25519.NewScalar().MultiplyAdd(k, s, r)

	copy(sig[:32], R.Bytes())
	copy(sig[32:], S.Bytes())
	Zero(h[:])
	return sig, nil
}

// IsOnCurve reports whether b is a valid compressed Ed25519 point. PDA
// derivation requires the opposite: a 32-byte digest that fails
// decompression is off the curve and therefore has no private key.
func IsOnCurve(b []byte) bool {
	if len(b) != PublicKeySize {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// Zero overwrites b with zero bytes. Buffers holding seeds or secret
// scalars go through here before release.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
