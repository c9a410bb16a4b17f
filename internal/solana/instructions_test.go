package solana

import (
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTransferInstructionLayout(t *testing.T) {
	from := randomPubkey(t)
	to := randomPubkey(t)

	ins := NewTransferInstruction(from, to, 1_000_000)
	assert.Equal(t, SystemProgramID, ins.ProgramID)
	require.Len(t, ins.Accounts, 2)
	assert.True(t, ins.Accounts[0].IsSigner)
	assert.True(t, ins.Accounts[0].IsWritable)
	assert.False(t, ins.Accounts[1].IsSigner)
	assert.True(t, ins.Accounts[1].IsWritable)
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x40, 0x42, 0x0f, 0x00, 0x00, 0x00, 0x00, 0x00}, ins.Data)
}

func TestNewTokenTransferInstructionLayout(t *testing.T) {
	source := randomPubkey(t)
	dest := randomPubkey(t)
	owner := randomPubkey(t)

	ins := NewTokenTransferInstruction(Token2022ProgramID, source, dest, owner, 123_456)
	assert.Equal(t, Token2022ProgramID, ins.ProgramID)
	require.Len(t, ins.Accounts, 3)
	assert.Equal(t, source, ins.Accounts[0].Pubkey)
	assert.True(t, ins.Accounts[0].IsWritable)
	assert.Equal(t, dest, ins.Accounts[1].Pubkey)
	assert.True(t, ins.Accounts[1].IsWritable)
	assert.Equal(t, owner, ins.Accounts[2].Pubkey)
	assert.True(t, ins.Accounts[2].IsSigner)

	require.Len(t, ins.Data, 9)
	assert.Equal(t, byte(0x03), ins.Data[0])
	assert.Equal(t, uint64(123_456), binary.LittleEndian.Uint64(ins.Data[1:]))
}

func TestNewCreateATAIdempotentInstruction(t *testing.T) {
	payer := randomPubkey(t)
	ata := randomPubkey(t)
	owner := randomPubkey(t)
	mint := randomPubkey(t)

	ins := NewCreateATAIdempotentInstruction(payer, ata, owner, mint, TokenProgramID)
	assert.Equal(t, AssociatedTokenProgramID, ins.ProgramID)
	assert.Equal(t, []byte{0x01}, ins.Data)

	require.Len(t, ins.Accounts, 6)
	assert.Equal(t, payer, ins.Accounts[0].Pubkey)
	assert.True(t, ins.Accounts[0].IsSigner)
	assert.True(t, ins.Accounts[0].IsWritable)
	assert.Equal(t, ata, ins.Accounts[1].Pubkey)
	assert.True(t, ins.Accounts[1].IsWritable)
	assert.Equal(t, SystemProgramID, ins.Accounts[4].Pubkey)
	assert.Equal(t, TokenProgramID, ins.Accounts[5].Pubkey)
}

func TestWrapAndCloseInstructionBytes(t *testing.T) {
	ata := randomPubkey(t)
	owner := randomPubkey(t)

	sync := NewSyncNativeInstruction(TokenProgramID, ata)
	assert.Equal(t, []byte{0x11}, sync.Data)
	require.Len(t, sync.Accounts, 1)
	assert.True(t, sync.Accounts[0].IsWritable)

	closeIns := NewCloseAccountInstruction(TokenProgramID, ata, owner, owner)
	assert.Equal(t, []byte{0x09}, closeIns.Data)
	require.Len(t, closeIns.Accounts, 3)
	assert.True(t, closeIns.Accounts[2].IsSigner)
}

func TestNewSetComputeUnitLimitInstruction(t *testing.T) {
	ins := NewSetComputeUnitLimitInstruction(200_000)
	assert.Equal(t, ComputeBudgetProgramID, ins.ProgramID)
	require.Len(t, ins.Data, 5)
	assert.Equal(t, byte(0x02), ins.Data[0])
	assert.Equal(t, uint32(200_000), binary.LittleEndian.Uint32(ins.Data[1:]))
}

func bubblegumParams(t *testing.T) BubblegumTransferParams {
	t.Helper()
	p := BubblegumTransferParams{
		TreeAuthority: randomPubkey(t),
		LeafOwner:     randomPubkey(t),
		NewLeafOwner:  randomPubkey(t),
		MerkleTree:    randomPubkey(t),
		Nonce:         7,
		Index:         3,
		Proof:         []Pubkey{randomPubkey(t), randomPubkey(t)},
	}
	_, err := rand.Read(p.Root[:])
	require.NoError(t, err)
	_, err = rand.Read(p.DataHash[:])
	require.NoError(t, err)
	_, err = rand.Read(p.CreatorHash[:])
	require.NoError(t, err)
	return p
}

func TestBubblegumTransferData(t *testing.T) {
	p := bubblegumParams(t)

	ins, err := NewBubblegumTransferInstruction(p)
	require.NoError(t, err)
	assert.Equal(t, BubblegumProgramID, ins.ProgramID)

	require.Len(t, ins.Data, 8+32+32+32+8+4)
	assert.Equal(t, []byte{0xa3, 0x34, 0xc8, 0xe7, 0x8c, 0x03, 0x45, 0xba}, ins.Data[:8])
	assert.Equal(t, p.Root[:], ins.Data[8:40])
	assert.Equal(t, p.DataHash[:], ins.Data[40:72])
	assert.Equal(t, p.CreatorHash[:], ins.Data[72:104])
	assert.Equal(t, uint64(7), binary.LittleEndian.Uint64(ins.Data[104:112]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(ins.Data[112:116]))
}

func TestBubblegumTransferAccounts(t *testing.T) {
	p := bubblegumParams(t)

	ins, err := NewBubblegumTransferInstruction(p)
	require.NoError(t, err)

	require.Len(t, ins.Accounts, 8+len(p.Proof))
	assert.Equal(t, p.TreeAuthority, ins.Accounts[0].Pubkey)
	assert.True(t, ins.Accounts[1].IsSigner)
	assert.True(t, ins.Accounts[1].IsWritable)
	// Unset delegate aliases the leaf owner.
	assert.Equal(t, p.LeafOwner, ins.Accounts[2].Pubkey)
	assert.Equal(t, p.NewLeafOwner, ins.Accounts[3].Pubkey)
	assert.True(t, ins.Accounts[4].IsWritable)
	assert.Equal(t, NoopProgramID, ins.Accounts[5].Pubkey)
	assert.Equal(t, AccountCompressionProgramID, ins.Accounts[6].Pubkey)
	assert.Equal(t, SystemProgramID, ins.Accounts[7].Pubkey)
	for i, node := range p.Proof {
		assert.Equal(t, node, ins.Accounts[8+i].Pubkey)
	}
}

func TestBubblegumTransferDuplicateAccounts(t *testing.T) {
	p := bubblegumParams(t)
	p.Proof = append(p.Proof, p.MerkleTree)
	_, err := NewBubblegumTransferInstruction(p)
	assert.ErrorIs(t, err, ErrAccountLoadedTwice)

	p = bubblegumParams(t)
	p.NewLeafOwner = p.LeafOwner
	_, err = NewBubblegumTransferInstruction(p)
	assert.ErrorIs(t, err, ErrAccountLoadedTwice)

	p = bubblegumParams(t)
	p.Proof = append(p.Proof, BubblegumProgramID)
	_, err = NewBubblegumTransferInstruction(p)
	assert.ErrorIs(t, err, ErrAccountLoadedTwice)
}
