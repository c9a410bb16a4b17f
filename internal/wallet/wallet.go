// Package wallet orchestrates transfers: it builds transactions from the
// keystore's active key, resolves token accounts, simulates before
// submission, and submits with optional confirmation.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"x1-wallet-go/internal/keys"
	"x1-wallet-go/internal/keystore"
	"x1-wallet-go/internal/resolver"
	"x1-wallet-go/internal/solana"
)

var (
	// ErrInvalidAddress is returned for unparseable recipient addresses.
	ErrInvalidAddress = errors.New("wallet: invalid address")

	// ErrInvalidAmount rejects zero-value transfers.
	ErrInvalidAmount = errors.New("wallet: amount must be positive")

	// ErrInvalidDerivation is returned when a derived destination ATA
	// collides with another account in the transfer.
	ErrInvalidDerivation = errors.New("wallet: derived token account collides with another account")

	// ErrNoWrappedAccount is returned by Unwrap when the owner holds no
	// wrapped-native account.
	ErrNoWrappedAccount = errors.New("wallet: no wrapped native account")

	// ErrNoTokenAccount is returned when the sender holds no account for
	// the mint being transferred.
	ErrNoTokenAccount = errors.New("wallet: no token account for mint")
)

// SimulationError carries the user-visible reason a pre-flight simulation
// rejected a transaction. The transaction was not submitted.
type SimulationError struct {
	Reason string
	Logs   []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("wallet: simulation failed: %s", e.Reason)
}

// TransferResult reports a completed transfer. SelfTransfer marks the
// no-op short circuit; no transaction was submitted and Signature is empty.
type TransferResult struct {
	Signature    string
	SelfTransfer bool
}

// Options tunes transaction building and submission.
type Options struct {
	// PriorityFeeMicroLamports prepends a compute-unit price instruction
	// when non-zero. Applied to native transfers only.
	PriorityFeeMicroLamports uint64
	// ComputeUnitLimit prepends a compute-unit limit instruction when
	// non-zero.
	ComputeUnitLimit uint32
	// SkipPreflight submits without local simulation.
	SkipPreflight bool
	// ConfirmTimeout bounds the post-submit confirmation wait; zero
	// means fire-and-forget.
	ConfirmTimeout time.Duration
}

// Service is the signing and submission façade over the keystore.
type Service struct {
	keystore *keystore.Keystore
	client   *solana.Client
	resolver *resolver.Resolver
	ws       *solana.WSClient // optional confirmation watcher
	logger   *logrus.Logger
	opts     Options
}

// New creates a wallet service. ws may be nil; confirmation then polls
// getSignatureStatuses.
func New(ks *keystore.Keystore, client *solana.Client, res *resolver.Resolver, ws *solana.WSClient, logger *logrus.Logger, opts Options) *Service {
	return &Service{
		keystore: ks,
		client:   client,
		resolver: res,
		ws:       ws,
		logger:   logger,
		opts:     opts,
	}
}

// activeSigner returns the active keypair and its pubkey.
func (s *Service) activeSigner() (keys.Keypair, solana.Pubkey, error) {
	kp, err := s.keystore.ActiveKeypair()
	if err != nil {
		return keys.Keypair{}, solana.Pubkey{}, err
	}
	return kp, solana.PublicKeyFromBytes(kp.Public[:]), nil
}

// Balance returns the active address's lamports.
func (s *Service) Balance(ctx context.Context) (uint64, error) {
	address, err := s.keystore.ActivePublicKey()
	if err != nil {
		return 0, err
	}
	return s.client.GetBalance(ctx, address)
}

// TokenAccounts enumerates the active address's token accounts across the
// SPL and Token-2022 programs.
func (s *Service) TokenAccounts(ctx context.Context) ([]solana.TokenAccount, error) {
	address, err := s.keystore.ActivePublicKey()
	if err != nil {
		return nil, err
	}
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, err
	}

	var out []solana.TokenAccount
	for _, program := range []solana.Pubkey{solana.TokenProgramID, solana.Token2022ProgramID} {
		program := program
		accounts, err := s.client.GetTokenAccountsByOwner(ctx, owner, solana.TokenAccountFilter{ProgramID: &program})
		if err != nil {
			return nil, err
		}
		out = append(out, accounts...)
	}
	return out, nil
}

// Transfer sends lamports to a recipient. A configured priority fee and
// compute-unit limit are prepended as ComputeBudget instructions.
func (s *Service) Transfer(ctx context.Context, to string, lamports uint64) (*TransferResult, error) {
	if lamports == 0 {
		return nil, ErrInvalidAmount
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	kp, sender, err := s.activeSigner()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	instructions := s.budgetInstructions()
	instructions = append(instructions, solana.NewTransferInstruction(sender, recipient, lamports))

	signature, err := s.buildSignSubmit(ctx, sender, instructions, kp)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"lamports": lamports,
		"to":       recipient.String(),
	}).Info("transfer submitted")
	return &TransferResult{Signature: signature}, nil
}

// TransferToken sends token base units to a recipient wallet, creating
// the destination ATA when needed. A transfer to the sender's own account
// is a no-op that never reaches the network.
func (s *Service) TransferToken(ctx context.Context, to string, mintAddress string, amount uint64) (*TransferResult, error) {
	if amount == 0 {
		return nil, ErrInvalidAmount
	}
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	mint, err := solana.PublicKeyFromBase58(mintAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	kp, sender, err := s.activeSigner()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	// Self transfer is resolved before any network traffic.
	if sender == recipient {
		s.logger.Debug("self transfer short-circuited")
		return &TransferResult{SelfTransfer: true}, nil
	}

	source, err := s.resolver.ResolveTokenAccount(ctx, sender, mint)
	if err != nil {
		return nil, err
	}
	if !source.Exists {
		return nil, ErrNoTokenAccount
	}
	dest, err := s.resolver.ResolveTokenAccount(ctx, recipient, mint)
	if err != nil {
		return nil, err
	}
	if !dest.Exists {
		// A destination we are about to create gets its derivation
		// cross-checked against the runtime before funds move to it.
		validated, err := s.resolver.ValidateATAViaSimulation(ctx, sender, recipient, mint)
		if err != nil {
			return nil, err
		}
		dest.Address = validated
	}
	// The sender/recipient pair already differs here, so a destination
	// aliasing the source, the mint, or either wallet means the
	// derivation went wrong; never sign such a transfer.
	switch dest.Address {
	case source.Address, mint, sender, recipient:
		return nil, ErrInvalidDerivation
	}

	var instructions []solana.Instruction
	if !dest.Exists {
		instructions = append(instructions,
			solana.NewCreateATAIdempotentInstruction(sender, dest.Address, recipient, mint, dest.TokenProgram))
	}
	instructions = append(instructions,
		solana.NewTokenTransferInstruction(dest.TokenProgram, source.Address, dest.Address, sender, amount))

	signature, err := s.buildSignSubmit(ctx, sender, instructions, kp)
	if err != nil {
		return nil, err
	}
	s.logger.WithFields(logrus.Fields{
		"amount": amount,
		"mint":   mint.String(),
		"to":     recipient.String(),
	}).Info("token transfer submitted")
	return &TransferResult{Signature: signature}, nil
}

// Wrap converts lamports into wrapped-native tokens: create the ATA if
// missing, fund it, and sync its token balance.
func (s *Service) Wrap(ctx context.Context, lamports uint64) (*TransferResult, error) {
	if lamports == 0 {
		return nil, ErrInvalidAmount
	}
	kp, owner, err := s.activeSigner()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	ata, _, err := resolver.FindAssociatedTokenAddress(owner, solana.TokenProgramID, solana.NativeMint)
	if err != nil {
		return nil, err
	}

	instructions := []solana.Instruction{
		solana.NewCreateATAIdempotentInstruction(owner, ata, owner, solana.NativeMint, solana.TokenProgramID),
		solana.NewTransferInstruction(owner, ata, lamports),
		solana.NewSyncNativeInstruction(solana.TokenProgramID, ata),
	}
	signature, err := s.buildSignSubmit(ctx, owner, instructions, kp)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("lamports", lamports).Info("wrap submitted")
	return &TransferResult{Signature: signature}, nil
}

// Unwrap closes the wrapped-native account, returning all of its lamports
// to the owner.
func (s *Service) Unwrap(ctx context.Context) (*TransferResult, error) {
	kp, owner, err := s.activeSigner()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	mint := solana.NativeMint
	accounts, err := s.client.GetTokenAccountsByOwner(ctx, owner, solana.TokenAccountFilter{Mint: &mint})
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, ErrNoWrappedAccount
	}

	instructions := []solana.Instruction{
		solana.NewCloseAccountInstruction(solana.TokenProgramID, accounts[0].Pubkey, owner, owner),
	}
	signature, err := s.buildSignSubmit(ctx, owner, instructions, kp)
	if err != nil {
		return nil, err
	}
	s.logger.Info("unwrap submitted")
	return &TransferResult{Signature: signature}, nil
}

// CompressedTransferParams carries the Merkle proof material the indexer
// supplies for a compressed-NFT transfer.
type CompressedTransferParams struct {
	MerkleTree  solana.Pubkey
	NewOwner    solana.Pubkey
	Root        [32]byte
	DataHash    [32]byte
	CreatorHash [32]byte
	Nonce       uint64
	Index       uint32
	Proof       []solana.Pubkey
}

// TransferCompressedNFT moves a compressed NFT leaf to a new owner. The
// tree authority is the PDA of the Merkle tree under the Bubblegum
// program.
func (s *Service) TransferCompressedNFT(ctx context.Context, p CompressedTransferParams) (*TransferResult, error) {
	kp, owner, err := s.activeSigner()
	if err != nil {
		return nil, err
	}
	defer kp.Wipe()

	treeAuthority, _, err := resolver.FindProgramAddress(
		[][]byte{p.MerkleTree[:]}, solana.BubblegumProgramID)
	if err != nil {
		return nil, err
	}

	ins, err := solana.NewBubblegumTransferInstruction(solana.BubblegumTransferParams{
		TreeAuthority: treeAuthority,
		LeafOwner:     owner,
		NewLeafOwner:  p.NewOwner,
		MerkleTree:    p.MerkleTree,
		Root:          p.Root,
		DataHash:      p.DataHash,
		CreatorHash:   p.CreatorHash,
		Nonce:         p.Nonce,
		Index:         p.Index,
		Proof:         p.Proof,
	})
	if err != nil {
		return nil, err
	}

	signature, err := s.buildSignSubmit(ctx, owner, []solana.Instruction{ins}, kp)
	if err != nil {
		return nil, err
	}
	s.logger.WithField("tree", p.MerkleTree.String()).Info("compressed transfer submitted")
	return &TransferResult{Signature: signature}, nil
}

// SignMessage signs arbitrary bytes with the active key.
func (s *Service) SignMessage(message []byte) ([64]byte, error) {
	kp, err := s.keystore.ActiveKeypair()
	if err != nil {
		return [64]byte{}, err
	}
	defer kp.Wipe()
	return keys.Sign(message, kp.Secret[:])
}

// SignTransaction fills the active key's signature slot of a prebuilt
// transaction.
func (s *Service) SignTransaction(tx *solana.Transaction) error {
	kp, err := s.keystore.ActiveKeypair()
	if err != nil {
		return err
	}
	defer kp.Wipe()
	return tx.Sign(kp)
}

func (s *Service) budgetInstructions() []solana.Instruction {
	var out []solana.Instruction
	if s.opts.ComputeUnitLimit > 0 {
		out = append(out, solana.NewSetComputeUnitLimitInstruction(s.opts.ComputeUnitLimit))
	}
	if s.opts.PriorityFeeMicroLamports > 0 {
		out = append(out, solana.NewSetComputeUnitPriceInstruction(s.opts.PriorityFeeMicroLamports))
	}
	return out
}

// buildSignSubmit fetches a blockhash, compiles and signs the message,
// simulates unless disabled, submits, and optionally waits for
// confirmation.
func (s *Service) buildSignSubmit(ctx context.Context, feePayer solana.Pubkey, instructions []solana.Instruction, signer keys.Keypair) (string, error) {
	latest, err := s.client.GetLatestBlockhash(ctx, "confirmed")
	if err != nil {
		return "", err
	}
	msg, err := solana.NewMessage(feePayer, latest.Blockhash, instructions)
	if err != nil {
		return "", err
	}
	tx := solana.NewTransaction(msg)
	if err := tx.Sign(signer); err != nil {
		return "", err
	}
	if missing := tx.MissingSigners(); len(missing) > 0 {
		return "", fmt.Errorf("wallet: unsigned required signers: %v", missing)
	}

	encoded := tx.SerializeBase64()
	if !s.opts.SkipPreflight {
		result, err := s.client.SimulateTransaction(ctx, encoded, solana.SimulateOptions{
			Commitment: "confirmed",
		})
		if err != nil {
			return "", err
		}
		if result.Failed() {
			return "", mapSimulationError(result)
		}
	}

	signature, err := s.client.SendTransaction(ctx, encoded, solana.SendOptions{
		SkipPreflight:       s.opts.SkipPreflight,
		PreflightCommitment: "confirmed",
	})
	if err != nil {
		return "", err
	}

	if s.opts.ConfirmTimeout > 0 {
		if err := s.confirm(ctx, signature); err != nil {
			return signature, err
		}
	}
	return signature, nil
}

// confirm waits for the signature to reach confirmed commitment via the
// WebSocket watcher when available, falling back to status polling.
func (s *Service) confirm(ctx context.Context, signature string) error {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.ConfirmTimeout)
	defer cancel()

	if s.ws != nil {
		txErr, err := s.ws.WaitForSignature(waitCtx, signature, "confirmed")
		if err == nil {
			if len(txErr) > 0 && string(txErr) != "null" {
				return fmt.Errorf("wallet: transaction failed on chain: %s", txErr)
			}
			return nil
		}
		s.logger.WithError(err).Debug("websocket confirmation failed, polling")
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("wallet: confirmation timed out for %s", signature)
		case <-ticker.C:
			status, err := s.client.GetSignatureStatus(waitCtx, signature)
			if err != nil {
				continue
			}
			if status == nil {
				continue
			}
			if len(status.Err) > 0 && string(status.Err) != "null" {
				return fmt.Errorf("wallet: transaction failed on chain: %s", status.Err)
			}
			if status.ConfirmationStatus == "confirmed" || status.ConfirmationStatus == "finalized" {
				return nil
			}
		}
	}
}

// mapSimulationError converts the node's InstructionError shape into a
// readable reason.
func mapSimulationError(result *solana.SimulationResult) *SimulationError {
	reason := string(result.Err)

	var shaped struct {
		InstructionError []json.RawMessage `json:"InstructionError"`
	}
	if err := json.Unmarshal(result.Err, &shaped); err == nil && len(shaped.InstructionError) == 2 {
		var index int
		_ = json.Unmarshal(shaped.InstructionError[0], &index)
		detail := strings.Trim(string(shaped.InstructionError[1]), `"`)
		reason = fmt.Sprintf("Instruction %d failed: %s", index, detail)
	}
	if strings.Contains(string(result.Err), "InsufficientFunds") {
		reason = "InsufficientFunds"
	}
	return &SimulationError{Reason: reason, Logs: result.Logs}
}
