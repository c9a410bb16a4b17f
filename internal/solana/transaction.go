package solana

import (
	"encoding/base64"
	"fmt"

	"x1-wallet-go/internal/keys"
)

// Transaction pairs a compiled message with its signatures.
type Transaction struct {
	Signatures []Signature
	Message    *Message
}

// NewTransaction wraps msg with an empty signature slot per required signer.
func NewTransaction(msg *Message) *Transaction {
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    msg,
	}
}

// Sign fills the signature slot for every required signer the provided
// keypairs cover. Signers are the first NumRequiredSignatures account keys.
func (tx *Transaction) Sign(signers ...keys.Keypair) error {
	serialized := tx.Message.Serialize()
	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures); i++ {
		signerKey := tx.Message.AccountKeys[i]
		for j := range signers {
			if PublicKeyFromBytes(signers[j].Public[:]) != signerKey {
				continue
			}
			sig, err := keys.Sign(serialized, signers[j].Secret[:])
			if err != nil {
				return fmt.Errorf("solana: signing for %s: %w", signerKey, err)
			}
			tx.Signatures[i] = Signature(sig)
			break
		}
	}
	return nil
}

// MissingSigners returns the required signer keys that still have empty
// signature slots.
func (tx *Transaction) MissingSigners() []Pubkey {
	var missing []Pubkey
	for i := 0; i < int(tx.Message.Header.NumRequiredSignatures); i++ {
		if tx.Signatures[i] == (Signature{}) {
			missing = append(missing, tx.Message.AccountKeys[i])
		}
	}
	return missing
}

// Serialize encodes the wire transaction:
// shortvec(sig_count) ‖ signatures ‖ message.
func (tx *Transaction) Serialize() []byte {
	msg := tx.Message.Serialize()
	out := make([]byte, 0, 1+64*len(tx.Signatures)+len(msg))
	out = AppendShortvec(out, uint16(len(tx.Signatures)))
	for _, sig := range tx.Signatures {
		out = append(out, sig[:]...)
	}
	return append(out, msg...)
}

// SerializeBase64 returns the base64 wire form submitted over RPC.
func (tx *Transaction) SerializeBase64() string {
	return base64.StdEncoding.EncodeToString(tx.Serialize())
}
