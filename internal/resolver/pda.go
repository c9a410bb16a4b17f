// Package resolver derives program addresses and associated token
// accounts, and resolves the token account a transfer should target. It
// layers RPC-backed lookups and caches over the pure derivation math.
package resolver

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"x1-wallet-go/internal/keys"
	"x1-wallet-go/internal/solana"
)

// pdaMarker is the domain separator appended to every PDA preimage.
const pdaMarker = "ProgramDerivedAddress"

const (
	maxSeeds   = 16
	maxSeedLen = 32
)

var (
	// ErrInvalidSeeds is returned when the seed list violates the
	// runtime's limits.
	ErrInvalidSeeds = errors.New("resolver: invalid seeds")

	// ErrOnCurve is returned when a candidate address decompresses to a
	// valid Ed25519 point and therefore cannot be a PDA.
	ErrOnCurve = errors.New("resolver: address is on the ed25519 curve")

	// ErrNoValidBump is returned when no bump in [0,255] yields an
	// off-curve address.
	ErrNoValidBump = errors.New("resolver: no valid bump found")
)

// CreateProgramAddress hashes seeds ‖ programID ‖ marker and returns the
// digest as an address, failing with ErrOnCurve when the digest is a valid
// curve point. Callers supply the bump as the final seed.
func CreateProgramAddress(seeds [][]byte, programID solana.Pubkey) (solana.Pubkey, error) {
	if len(seeds) > maxSeeds {
		return solana.Pubkey{}, fmt.Errorf("%w: %d seeds, max %d", ErrInvalidSeeds, len(seeds), maxSeeds)
	}
	h := sha256.New()
	for _, seed := range seeds {
		if len(seed) > maxSeedLen {
			return solana.Pubkey{}, fmt.Errorf("%w: seed length %d, max %d", ErrInvalidSeeds, len(seed), maxSeedLen)
		}
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write([]byte(pdaMarker))

	var addr solana.Pubkey
	copy(addr[:], h.Sum(nil))
	if keys.IsOnCurve(addr[:]) {
		return solana.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress searches bumps from 255 downward for the first
// off-curve address and returns it with the bump used.
func FindProgramAddress(seeds [][]byte, programID solana.Pubkey) (solana.Pubkey, uint8, error) {
	if len(seeds)+1 > maxSeeds {
		return solana.Pubkey{}, 0, fmt.Errorf("%w: no room for bump seed", ErrInvalidSeeds)
	}
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateProgramAddress(append(seeds, []byte{byte(bump)}), programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return solana.Pubkey{}, 0, err
		}
	}
	return solana.Pubkey{}, 0, ErrNoValidBump
}

// FindAssociatedTokenAddress derives the canonical ATA for an owner and
// mint under the given token program.
func FindAssociatedTokenAddress(owner, tokenProgram, mint solana.Pubkey) (solana.Pubkey, uint8, error) {
	return FindProgramAddress(
		[][]byte{owner[:], tokenProgram[:], mint[:]},
		solana.AssociatedTokenProgramID,
	)
}
