package solana

import (
	stded25519 "crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x1-wallet-go/internal/keys"
)

func randomKeypair(t *testing.T) keys.Keypair {
	t.Helper()
	var seed [32]byte
	_, err := rand.Read(seed[:])
	require.NoError(t, err)
	kp, err := keys.NewKeypairFromSeed(seed[:])
	require.NoError(t, err)
	return kp
}

func TestTransactionSignAndSerialize(t *testing.T) {
	payer := randomKeypair(t)
	recipient := randomPubkey(t)
	blockhash := randomBlockhash(t)

	msg, err := NewMessage(PublicKeyFromBytes(payer.Public[:]), blockhash, []Instruction{
		NewTransferInstruction(PublicKeyFromBytes(payer.Public[:]), recipient, 500),
	})
	require.NoError(t, err)

	tx := NewTransaction(msg)
	require.Len(t, tx.Signatures, 1)
	require.Equal(t, []Pubkey{PublicKeyFromBytes(payer.Public[:])}, tx.MissingSigners())

	require.NoError(t, tx.Sign(payer))
	assert.Empty(t, tx.MissingSigners())

	// The signature must verify over the serialized message bytes.
	serialized := msg.Serialize()
	assert.True(t, stded25519.Verify(payer.Public[:], serialized, tx.Signatures[0][:]))

	// Wire form: shortvec(1) ‖ sig ‖ message.
	wire := tx.Serialize()
	require.Equal(t, byte(1), wire[0])
	assert.Equal(t, tx.Signatures[0][:], wire[1:65])
	assert.Equal(t, serialized, wire[65:])
}

func TestTransactionSignIgnoresUnrelatedKeys(t *testing.T) {
	payer := randomKeypair(t)
	stranger := randomKeypair(t)

	msg, err := NewMessage(PublicKeyFromBytes(payer.Public[:]), randomBlockhash(t), []Instruction{
		NewTransferInstruction(PublicKeyFromBytes(payer.Public[:]), randomPubkey(t), 1),
	})
	require.NoError(t, err)

	tx := NewTransaction(msg)
	require.NoError(t, tx.Sign(stranger))
	assert.Len(t, tx.MissingSigners(), 1)
}

func TestTransactionSerializeBase64RoundTrip(t *testing.T) {
	payer := randomKeypair(t)

	msg, err := NewMessage(PublicKeyFromBytes(payer.Public[:]), randomBlockhash(t), []Instruction{
		NewTransferInstruction(PublicKeyFromBytes(payer.Public[:]), randomPubkey(t), 9),
	})
	require.NoError(t, err)

	tx := NewTransaction(msg)
	require.NoError(t, tx.Sign(payer))
	assert.NotEmpty(t, tx.SerializeBase64())
}
