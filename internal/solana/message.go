package solana

import (
	"errors"
	"fmt"
	"math"
)

// AccountMeta describes one account an instruction touches.
type AccountMeta struct {
	Pubkey     Pubkey
	IsSigner   bool
	IsWritable bool
}

// Instruction is a program invocation before compilation into a message.
type Instruction struct {
	ProgramID Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// MessageHeader counts signers and readonly accounts in the final roster.
type MessageHeader struct {
	NumRequiredSignatures uint8
	NumReadonlySigned     uint8
	NumReadonlyUnsigned   uint8
}

// CompiledInstruction references accounts by index into the message roster.
type CompiledInstruction struct {
	ProgramIDIndex uint8
	AccountIndexes []uint8
	Data           []byte
}

// Message is a legacy-format SVM transaction message.
type Message struct {
	Header          MessageHeader
	AccountKeys     []Pubkey
	RecentBlockhash Blockhash
	Instructions    []CompiledInstruction
}

// ErrFeePayerMissing is returned when a message is built without a fee payer.
var ErrFeePayerMissing = errors.New("solana: fee payer required")

// NewMessage compiles instructions into a legacy message. Accounts are
// deduplicated with flag merging and ordered writable signers, readonly
// signers, writable non-signers, readonly non-signers; the fee payer is
// always accounts[0] and the header is recomputed from the final roster.
func NewMessage(feePayer Pubkey, recentBlockhash Blockhash, instructions []Instruction) (*Message, error) {
	if feePayer.IsZero() {
		return nil, ErrFeePayerMissing
	}
	if len(instructions) == 0 {
		return nil, errors.New("solana: at least one instruction required")
	}
	if len(instructions) > math.MaxUint16 {
		return nil, ErrShortvecOverflow
	}
	for _, ins := range instructions {
		if len(ins.Data) > math.MaxUint16 {
			return nil, ErrShortvecOverflow
		}
	}

	type slot struct {
		meta  AccountMeta
		order int
	}
	slots := make(map[Pubkey]*slot)
	order := 0
	observe := func(m AccountMeta) {
		if s, ok := slots[m.Pubkey]; ok {
			s.meta.IsSigner = s.meta.IsSigner || m.IsSigner
			s.meta.IsWritable = s.meta.IsWritable || m.IsWritable
			return
		}
		slots[m.Pubkey] = &slot{meta: m, order: order}
		order++
	}

	observe(AccountMeta{Pubkey: feePayer, IsSigner: true, IsWritable: true})
	for _, ins := range instructions {
		for _, m := range ins.Accounts {
			observe(m)
		}
		observe(AccountMeta{Pubkey: ins.ProgramID})
	}

	// Class rank: 0 writable signers, 1 readonly signers, 2 writable
	// non-signers, 3 readonly non-signers. First-seen order within a class.
	rank := func(m AccountMeta) int {
		switch {
		case m.IsSigner && m.IsWritable:
			return 0
		case m.IsSigner:
			return 1
		case m.IsWritable:
			return 2
		default:
			return 3
		}
	}

	ordered := make([]*slot, 0, len(slots))
	for _, s := range slots {
		ordered = append(ordered, s)
	}
	// Insertion sort keeps the first-seen order stable within classes and
	// suits the small rosters the wallet builds.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0; j-- {
			a, b := ordered[j-1], ordered[j]
			ra, rb := rank(a.meta), rank(b.meta)
			if ra < rb || (ra == rb && a.order < b.order) {
				break
			}
			ordered[j-1], ordered[j] = b, a
		}
	}
	// The fee payer is a writable signer seen first, so it already sorts
	// to the front; assert rather than trust.
	if ordered[0].meta.Pubkey != feePayer {
		return nil, fmt.Errorf("solana: fee payer not first after ordering")
	}

	msg := &Message{RecentBlockhash: recentBlockhash}
	index := make(map[Pubkey]uint8, len(ordered))
	for i, s := range ordered {
		if i > 255 {
			return nil, errors.New("solana: too many accounts")
		}
		msg.AccountKeys = append(msg.AccountKeys, s.meta.Pubkey)
		index[s.meta.Pubkey] = uint8(i)

		if s.meta.IsSigner {
			msg.Header.NumRequiredSignatures++
			if !s.meta.IsWritable {
				msg.Header.NumReadonlySigned++
			}
		} else if !s.meta.IsWritable {
			msg.Header.NumReadonlyUnsigned++
		}
	}

	for _, ins := range instructions {
		ci := CompiledInstruction{
			ProgramIDIndex: index[ins.ProgramID],
			Data:           ins.Data,
		}
		for _, m := range ins.Accounts {
			ci.AccountIndexes = append(ci.AccountIndexes, index[m.Pubkey])
		}
		msg.Instructions = append(msg.Instructions, ci)
	}
	return msg, nil
}

// Serialize encodes the message in the legacy wire layout:
// header(3) ‖ shortvec(N) ‖ keys ‖ blockhash ‖ shortvec(M) ‖ instructions.
func (m *Message) Serialize() []byte {
	out := make([]byte, 0, 3+1+32*len(m.AccountKeys)+32+64)
	out = append(out, m.Header.NumRequiredSignatures, m.Header.NumReadonlySigned, m.Header.NumReadonlyUnsigned)

	out = AppendShortvec(out, uint16(len(m.AccountKeys)))
	for _, k := range m.AccountKeys {
		out = append(out, k[:]...)
	}
	out = append(out, m.RecentBlockhash[:]...)

	out = AppendShortvec(out, uint16(len(m.Instructions)))
	for _, ins := range m.Instructions {
		out = append(out, ins.ProgramIDIndex)
		out = AppendShortvec(out, uint16(len(ins.AccountIndexes)))
		out = append(out, ins.AccountIndexes...)
		out = AppendShortvec(out, uint16(len(ins.Data)))
		out = append(out, ins.Data...)
	}
	return out
}
