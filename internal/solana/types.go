// Package solana implements the subset of the SVM wire model the wallet
// emits: legacy transaction messages, the instruction set for native and
// token transfers, and the JSON-RPC client used to simulate and submit.
package solana

import (
	"errors"
	"fmt"

	"x1-wallet-go/pkg/base58"
)

// Pubkey is a 32-byte Ed25519 account key.
type Pubkey [32]byte

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// PublicKeyFromBase58 parses a base58 account key through the fixed-size
// decoder (short input zero-pads, oversize input errors).
func PublicKeyFromBase58(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.DecodeSized(s, 32)
	if err != nil {
		return pk, fmt.Errorf("solana: invalid pubkey %q: %w", s, err)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustPublicKeyFromBase58 parses a compile-time constant address and
// panics on error.
func MustPublicKeyFromBase58(s string) Pubkey {
	pk, err := PublicKeyFromBase58(s)
	if err != nil {
		panic(err)
	}
	return pk
}

// PublicKeyFromBytes copies b into a Pubkey.
func PublicKeyFromBytes(b []byte) Pubkey {
	var pk Pubkey
	copy(pk[:], b)
	return pk
}

// String returns the base58 form.
func (p Pubkey) String() string { return base58.Encode(p[:]) }

// Bytes returns the raw 32 bytes.
func (p Pubkey) Bytes() []byte { return p[:] }

// IsZero reports whether the key is all zeros. Note the system program ID
// is the zero key; callers distinguish by context.
func (p Pubkey) IsZero() bool { return p == Pubkey{} }

// SignatureFromBase58 parses a base58 signature.
func SignatureFromBase58(s string) (Signature, error) {
	var sig Signature
	raw, err := base58.Decode(s)
	if err != nil {
		return sig, fmt.Errorf("solana: invalid signature: %w", err)
	}
	if len(raw) != 64 {
		return sig, fmt.Errorf("solana: signature length %d, want 64", len(raw))
	}
	copy(sig[:], raw)
	return sig, nil
}

// String returns the base58 form.
func (s Signature) String() string { return base58.Encode(s[:]) }

// Blockhash is a 32-byte recent blockhash.
type Blockhash [32]byte

// BlockhashFromBase58 parses a base58 blockhash through the fixed-size
// decoder.
func BlockhashFromBase58(s string) (Blockhash, error) {
	var bh Blockhash
	raw, err := base58.DecodeSized(s, 32)
	if err != nil {
		return bh, fmt.Errorf("solana: invalid blockhash %q: %w", s, err)
	}
	copy(bh[:], raw)
	return bh, nil
}

// String returns the base58 form.
func (b Blockhash) String() string { return base58.Encode(b[:]) }

// Program addresses the wallet emits instructions for.
var (
	// SystemProgramID is the native system program (the zero key).
	SystemProgramID = MustPublicKeyFromBase58("11111111111111111111111111111111")

	// TokenProgramID is the canonical SPL token program.
	TokenProgramID = MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// Token2022ProgramID is the Token-2022 program; Transfer layouts match
	// the SPL program.
	Token2022ProgramID = MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

	// AssociatedTokenProgramID owns all associated token accounts.
	AssociatedTokenProgramID = MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")

	// ComputeBudgetProgramID prices compute units for priority fees.
	ComputeBudgetProgramID = MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

	// NativeMint is the wrapped-native SPL mint.
	NativeMint = MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

	// BubblegumProgramID is the compressed-NFT (Merkle leaf) program.
	BubblegumProgramID = MustPublicKeyFromBase58("BGUMAp9Gq7iTEuizy4pqaxsTyUCBK68MDfK752saRPUY")

	// NoopProgramID is the SPL log-wrapper invoked by compression programs.
	NoopProgramID = MustPublicKeyFromBase58("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")

	// AccountCompressionProgramID manages concurrent Merkle trees.
	AccountCompressionProgramID = MustPublicKeyFromBase58("cmtDvXumGCrqC1Age74AVPhSRVXJMd8PJS91L8KbNCK")
)

// ErrAccountLoadedTwice is returned when a builder would emit the same
// account in two distinct required slots; the runtime rejects such
// transactions after submission, so the builder fails first.
var ErrAccountLoadedTwice = errors.New("solana: account loaded twice")
