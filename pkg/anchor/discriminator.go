// Package anchor computes the 8-byte instruction discriminators used by
// Anchor-framework programs such as Bubblegum.
package anchor

import (
	"crypto/sha256"
	"fmt"
)

// Discriminator is the 8-byte prefix that selects an instruction handler
// in an Anchor program.
type Discriminator [8]byte

// String returns the hex form.
func (d Discriminator) String() string {
	return fmt.Sprintf("%x", d[:])
}

// Bytes returns the discriminator as a byte slice.
func (d Discriminator) Bytes() []byte {
	return d[:]
}

// InstructionDiscriminator computes sha256("<namespace>:<name>")[:8].
// Instruction handlers live in the "global" namespace.
func InstructionDiscriminator(namespace, name string) Discriminator {
	hash := sha256.Sum256([]byte(namespace + ":" + name))
	var d Discriminator
	copy(d[:], hash[:8])
	return d
}
