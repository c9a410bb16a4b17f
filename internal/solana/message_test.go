package solana

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomPubkey(t *testing.T) Pubkey {
	t.Helper()
	var pk Pubkey
	_, err := rand.Read(pk[:])
	require.NoError(t, err)
	return pk
}

func randomBlockhash(t *testing.T) Blockhash {
	t.Helper()
	var bh Blockhash
	_, err := rand.Read(bh[:])
	require.NoError(t, err)
	return bh
}

func TestNewMessageNativeTransfer(t *testing.T) {
	payer := randomPubkey(t)
	recipient := randomPubkey(t)
	blockhash := randomBlockhash(t)

	msg, err := NewMessage(payer, blockhash, []Instruction{
		NewTransferInstruction(payer, recipient, 1_000_000),
	})
	require.NoError(t, err)

	assert.Equal(t, MessageHeader{
		NumRequiredSignatures: 1,
		NumReadonlySigned:     0,
		NumReadonlyUnsigned:   1,
	}, msg.Header)
	require.Equal(t, []Pubkey{payer, recipient, SystemProgramID}, msg.AccountKeys)

	require.Len(t, msg.Instructions, 1)
	ins := msg.Instructions[0]
	assert.Equal(t, uint8(2), ins.ProgramIDIndex)
	assert.Equal(t, []uint8{0, 1}, ins.AccountIndexes)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x40, 0x42, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00}, ins.Data)
}

func TestMessageSerializeNativeTransfer(t *testing.T) {
	payer := randomPubkey(t)
	recipient := randomPubkey(t)
	blockhash := randomBlockhash(t)

	msg, err := NewMessage(payer, blockhash, []Instruction{
		NewTransferInstruction(payer, recipient, 1_000_000),
	})
	require.NoError(t, err)

	var want []byte
	want = append(want, 1, 0, 1) // header
	want = append(want, 3)       // account count
	want = append(want, payer[:]...)
	want = append(want, recipient[:]...)
	want = append(want, SystemProgramID[:]...)
	want = append(want, blockhash[:]...)
	want = append(want, 1)       // instruction count
	want = append(want, 2)       // program index
	want = append(want, 2, 0, 1) // account indices
	want = append(want, 12, 0x02, 0x00, 0x00, 0x00, 0x40, 0x42, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00)

	assert.Equal(t, want, msg.Serialize())
}

func TestNewMessageAccountOrdering(t *testing.T) {
	payer := randomPubkey(t)
	readonlySigner := randomPubkey(t)
	writable := randomPubkey(t)
	readonly := randomPubkey(t)
	program := randomPubkey(t)

	msg, err := NewMessage(payer, randomBlockhash(t), []Instruction{{
		ProgramID: program,
		Accounts: []AccountMeta{
			{Pubkey: readonly},
			{Pubkey: writable, IsWritable: true},
			{Pubkey: readonlySigner, IsSigner: true},
			{Pubkey: payer, IsSigner: true, IsWritable: true},
		},
		Data: []byte{1},
	}})
	require.NoError(t, err)

	// Writable signers, readonly signers, writable non-signers, readonly
	// non-signers; readonly non-signers keep first-seen order.
	require.Equal(t, []Pubkey{payer, readonlySigner, writable, readonly, program}, msg.AccountKeys)
	assert.Equal(t, MessageHeader{
		NumRequiredSignatures: 2,
		NumReadonlySigned:     1,
		NumReadonlyUnsigned:   2,
	}, msg.Header)
}

func TestNewMessageDeduplicatesWithFlagMerge(t *testing.T) {
	payer := randomPubkey(t)
	shared := randomPubkey(t)

	// shared appears readonly in one instruction and writable in another;
	// the roster keeps one entry with merged flags.
	msg, err := NewMessage(payer, randomBlockhash(t), []Instruction{
		{
			ProgramID: SystemProgramID,
			Accounts:  []AccountMeta{{Pubkey: shared}},
			Data:      []byte{0},
		},
		{
			ProgramID: SystemProgramID,
			Accounts:  []AccountMeta{{Pubkey: shared, IsWritable: true}},
			Data:      []byte{0},
		},
	})
	require.NoError(t, err)

	require.Equal(t, []Pubkey{payer, shared, SystemProgramID}, msg.AccountKeys)
	assert.Equal(t, uint8(1), msg.Header.NumReadonlyUnsigned)

	// Both instructions reference the single merged slot.
	assert.Equal(t, []uint8{1}, msg.Instructions[0].AccountIndexes)
	assert.Equal(t, []uint8{1}, msg.Instructions[1].AccountIndexes)
}

func TestNewMessageFeePayerRequired(t *testing.T) {
	_, err := NewMessage(Pubkey{}, randomBlockhash(t), []Instruction{
		NewTransferInstruction(randomPubkey(t), randomPubkey(t), 1),
	})
	assert.ErrorIs(t, err, ErrFeePayerMissing)
}

func TestNewMessageRejectsOversizedInstructionData(t *testing.T) {
	payer := randomPubkey(t)
	ins := Instruction{
		ProgramID: SystemProgramID,
		Accounts:  []AccountMeta{{Pubkey: payer, IsSigner: true, IsWritable: true}},
		Data:      make([]byte, 0x10000),
	}
	_, err := NewMessage(payer, randomBlockhash(t), []Instruction{ins})
	assert.ErrorIs(t, err, ErrShortvecOverflow)
}

func TestNewMessagePriorityFeeFirst(t *testing.T) {
	payer := randomPubkey(t)
	recipient := randomPubkey(t)

	msg, err := NewMessage(payer, randomBlockhash(t), []Instruction{
		NewSetComputeUnitPriceInstruction(5_000),
		NewTransferInstruction(payer, recipient, 42),
	})
	require.NoError(t, err)

	require.Len(t, msg.Instructions, 2)
	budget := msg.Instructions[0]
	assert.Equal(t, ComputeBudgetProgramID, msg.AccountKeys[budget.ProgramIDIndex])
	assert.Empty(t, budget.AccountIndexes)
	assert.Equal(t, []byte{0x03, 0x88, 0x13, 0, 0, 0, 0, 0, 0}, budget.Data)
}
