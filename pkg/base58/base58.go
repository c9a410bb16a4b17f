// Package base58 wraps the Bitcoin-alphabet base58 codec with the
// fixed-size decode semantics used for account keys, signatures and
// blockhashes.
package base58

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// Encode encodes data to a base58 string using the Bitcoin alphabet.
// Leading zero bytes are preserved as leading '1' characters.
func Encode(data []byte) string {
	return base58.Encode(data)
}

// Decode decodes a base58 string to bytes.
func Decode(encoded string) ([]byte, error) {
	return base58.Decode(encoded)
}

// DecodeSized decodes a base58 string into a buffer of exactly size bytes.
// Short results are left-padded with zero bytes; oversize input is an
// error. Account keys and blockhashes always decode through this helper.
func DecodeSized(encoded string, size int) ([]byte, error) {
	decoded, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base58: %w", err)
	}
	if len(decoded) > size {
		return nil, fmt.Errorf("decoded length %d exceeds %d", len(decoded), size)
	}
	out := make([]byte, size)
	copy(out[size-len(decoded):], decoded)
	return out, nil
}

// IsValid reports whether s decodes as base58.
func IsValid(s string) bool {
	_, err := base58.Decode(s)
	return err == nil
}
