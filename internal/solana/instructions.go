package solana

import (
	"encoding/binary"

	"x1-wallet-go/pkg/anchor"
)

// System program instruction discriminants (u32 little-endian).
const (
	systemInstructionTransfer uint32 = 2
)

// Token program instruction bytes shared by SPL and Token-2022.
const (
	tokenInstructionTransfer     byte = 0x03
	tokenInstructionCloseAccount byte = 0x09
	tokenInstructionSyncNative   byte = 0x11
)

// Associated-token program instruction bytes.
const (
	ataInstructionCreateIdempotent byte = 0x01
)

// Compute-budget program instruction bytes.
const (
	computeBudgetSetUnitLimit byte = 0x02
	computeBudgetSetUnitPrice byte = 0x03
)

// BubblegumTransferDiscriminator is the Anchor discriminator of the
// Bubblegum Transfer instruction.
var BubblegumTransferDiscriminator = anchor.InstructionDiscriminator("global", "transfer")

// NewTransferInstruction builds a System-program lamport transfer.
func NewTransferInstruction(from, to Pubkey, lamports uint64) Instruction {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemInstructionTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)

	return Instruction{
		ProgramID: SystemProgramID,
		Accounts: []AccountMeta{
			{Pubkey: from, IsSigner: true, IsWritable: true},
			{Pubkey: to, IsWritable: true},
		},
		Data: data,
	}
}

// NewSetComputeUnitPriceInstruction prices compute units in micro-lamports
// for priority fees.
func NewSetComputeUnitPriceInstruction(microLamports uint64) Instruction {
	data := make([]byte, 9)
	data[0] = computeBudgetSetUnitPrice
	binary.LittleEndian.PutUint64(data[1:9], microLamports)

	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// NewSetComputeUnitLimitInstruction caps compute units for the transaction.
func NewSetComputeUnitLimitInstruction(units uint32) Instruction {
	data := make([]byte, 5)
	data[0] = computeBudgetSetUnitLimit
	binary.LittleEndian.PutUint32(data[1:5], units)

	return Instruction{ProgramID: ComputeBudgetProgramID, Data: data}
}

// NewTokenTransferInstruction builds a token Transfer under the given
// token program (SPL or Token-2022; the layout is identical).
func NewTokenTransferInstruction(tokenProgram, source, destination, owner Pubkey, amount uint64) Instruction {
	data := make([]byte, 9)
	data[0] = tokenInstructionTransfer
	binary.LittleEndian.PutUint64(data[1:9], amount)

	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			{Pubkey: source, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
			{Pubkey: owner, IsSigner: true},
		},
		Data: data,
	}
}

// NewCreateATAIdempotentInstruction builds the associated-token-account
// CreateIdempotent instruction; it is a no-op when the account exists.
func NewCreateATAIdempotentInstruction(payer, ata, owner, mint, tokenProgram Pubkey) Instruction {
	return Instruction{
		ProgramID: AssociatedTokenProgramID,
		Accounts: []AccountMeta{
			{Pubkey: payer, IsSigner: true, IsWritable: true},
			{Pubkey: ata, IsWritable: true},
			{Pubkey: owner},
			{Pubkey: mint},
			{Pubkey: SystemProgramID},
			{Pubkey: tokenProgram},
		},
		Data: []byte{ataInstructionCreateIdempotent},
	}
}

// NewSyncNativeInstruction reconciles a wrapped-native account's token
// balance with its lamports after a direct transfer.
func NewSyncNativeInstruction(tokenProgram, ata Pubkey) Instruction {
	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			{Pubkey: ata, IsWritable: true},
		},
		Data: []byte{tokenInstructionSyncNative},
	}
}

// NewCloseAccountInstruction closes a token account, returning its
// lamports to destination.
func NewCloseAccountInstruction(tokenProgram, account, destination, owner Pubkey) Instruction {
	return Instruction{
		ProgramID: tokenProgram,
		Accounts: []AccountMeta{
			{Pubkey: account, IsWritable: true},
			{Pubkey: destination, IsWritable: true},
			{Pubkey: owner, IsSigner: true},
		},
		Data: []byte{tokenInstructionCloseAccount},
	}
}

// BubblegumTransferParams carries the Merkle proof material for a
// compressed-NFT transfer.
type BubblegumTransferParams struct {
	TreeAuthority Pubkey
	LeafOwner     Pubkey
	LeafDelegate  Pubkey
	NewLeafOwner  Pubkey
	MerkleTree    Pubkey
	Root          [32]byte
	DataHash      [32]byte
	CreatorHash   [32]byte
	Nonce         uint64
	Index         uint32
	Proof         []Pubkey
}

// NewBubblegumTransferInstruction builds a compressed-NFT Transfer. When
// the delegate equals the owner they share one account slot; any other
// collision among the required accounts fails with ErrAccountLoadedTwice
// before serialization, since the runtime would reject the transaction.
func NewBubblegumTransferInstruction(p BubblegumTransferParams) (Instruction, error) {
	delegate := p.LeafDelegate
	if delegate.IsZero() {
		delegate = p.LeafOwner
	}

	accounts := []AccountMeta{
		{Pubkey: p.TreeAuthority},
		{Pubkey: p.LeafOwner, IsSigner: true, IsWritable: true},
		{Pubkey: delegate},
		{Pubkey: p.NewLeafOwner},
		{Pubkey: p.MerkleTree, IsWritable: true},
		{Pubkey: NoopProgramID},
		{Pubkey: AccountCompressionProgramID},
		{Pubkey: SystemProgramID},
	}
	for _, node := range p.Proof {
		accounts = append(accounts, AccountMeta{Pubkey: node})
	}

	seen := make(map[Pubkey]bool, len(accounts)+1)
	for i, m := range accounts {
		// The delegate legitimately aliases the owner.
		if i == 2 && delegate == p.LeafOwner {
			continue
		}
		if seen[m.Pubkey] {
			return Instruction{}, ErrAccountLoadedTwice
		}
		seen[m.Pubkey] = true
	}
	if seen[BubblegumProgramID] {
		return Instruction{}, ErrAccountLoadedTwice
	}

	data := make([]byte, 0, 8+32*3+8+4)
	data = append(data, BubblegumTransferDiscriminator[:]...)
	data = append(data, p.Root[:]...)
	data = append(data, p.DataHash[:]...)
	data = append(data, p.CreatorHash[:]...)
	data = binary.LittleEndian.AppendUint64(data, p.Nonce)
	data = binary.LittleEndian.AppendUint32(data, p.Index)

	return Instruction{
		ProgramID: BubblegumProgramID,
		Accounts:  accounts,
		Data:      data,
	}, nil
}
