package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"x1-wallet-go/internal/solana"
	"x1-wallet-go/internal/store"
)

const (
	mintProgramCacheTTL    = 30 * time.Minute
	negativeLookupCacheTTL = 10 * time.Minute
	cacheSize              = 512

	// Candidate bumps tried during simulation-assisted validation;
	// 255 is correct for almost every owner×mint pair.
	lowestSimulatedBump = 250
)

var (
	// ErrMintNotFound is returned when a mint account does not exist on
	// the connected network.
	ErrMintNotFound = errors.New("resolver: mint account not found")

	// ErrUnknownTokenProgram is returned when a mint is owned by neither
	// token program.
	ErrUnknownTokenProgram = errors.New("resolver: mint owned by unknown program")
)

// Resolver answers "which token account does this transfer touch" using
// the derivation math plus RPC lookups, with per-install caches.
type Resolver struct {
	client *solana.Client
	store  store.Store
	logger *logrus.Logger

	mintPrograms *expirable.LRU[string, solana.Pubkey]
	negative     *expirable.LRU[string, struct{}]
}

// New creates a resolver. The store persists negative lookups across
// sessions; pass a MemoryStore when persistence is not wanted.
func New(client *solana.Client, st store.Store, logger *logrus.Logger) *Resolver {
	r := &Resolver{
		client:       client,
		store:        st,
		logger:       logger,
		mintPrograms: expirable.NewLRU[string, solana.Pubkey](cacheSize, nil, mintProgramCacheTTL),
		negative:     expirable.NewLRU[string, struct{}](cacheSize, nil, negativeLookupCacheTTL),
	}
	r.loadNegativeLookups()
	return r
}

// MintTokenProgram returns the token program owning mint (SPL or
// Token-2022). Results are cached for 30 minutes; missing mints are
// negative-cached and persisted.
func (r *Resolver) MintTokenProgram(ctx context.Context, mint solana.Pubkey) (solana.Pubkey, error) {
	key := mint.String()
	if program, ok := r.mintPrograms.Get(key); ok {
		return program, nil
	}
	if _, ok := r.negative.Get(key); ok {
		return solana.Pubkey{}, ErrMintNotFound
	}

	info, err := r.client.GetAccountInfo(ctx, key)
	if err != nil {
		return solana.Pubkey{}, fmt.Errorf("mint lookup failed: %w", err)
	}
	if info == nil {
		r.negative.Add(key, struct{}{})
		r.saveNegativeLookups()
		return solana.Pubkey{}, ErrMintNotFound
	}

	switch info.Owner {
	case solana.TokenProgramID, solana.Token2022ProgramID:
		r.mintPrograms.Add(key, info.Owner)
		return info.Owner, nil
	default:
		return solana.Pubkey{}, fmt.Errorf("%w: %s", ErrUnknownTokenProgram, info.Owner)
	}
}

// TokenAccountResolution is the outcome of ResolveTokenAccount.
type TokenAccountResolution struct {
	Address solana.Pubkey
	// Exists is true when the account was found on chain; a false value
	// means the address was derived and must be created before use.
	Exists bool
	// TokenProgram owns the mint (and therefore the account).
	TokenProgram solana.Pubkey
}

// ResolveTokenAccount finds the token account for owner×mint. Existing
// accounts reported by the node win over derivation, which also covers
// non-ATA token accounts.
func (r *Resolver) ResolveTokenAccount(ctx context.Context, owner, mint solana.Pubkey) (TokenAccountResolution, error) {
	program, err := r.MintTokenProgram(ctx, mint)
	if err != nil {
		return TokenAccountResolution{}, err
	}

	accounts, err := r.client.GetTokenAccountsByOwner(ctx, owner, solana.TokenAccountFilter{Mint: &mint})
	if err != nil {
		r.logger.WithError(err).WithField("owner", owner.String()).Debug("token account enumeration failed, falling back to derivation")
	} else if len(accounts) > 0 {
		best := accounts[0]
		for _, acct := range accounts[1:] {
			if acct.Amount > best.Amount {
				best = acct
			}
		}
		return TokenAccountResolution{Address: best.Pubkey, Exists: true, TokenProgram: program}, nil
	}

	ata, _, err := FindAssociatedTokenAddress(owner, program, mint)
	if err != nil {
		return TokenAccountResolution{}, err
	}
	return TokenAccountResolution{Address: ata, Exists: false, TokenProgram: program}, nil
}

// ValidateATAViaSimulation double-checks a derived ATA by simulating a
// CreateIdempotent transaction against it, trying bumps 255 down to 250.
// When the RPC is uncooperative the bump-255 derivation is returned, since
// the heuristic alone is correct in practice.
func (r *Resolver) ValidateATAViaSimulation(ctx context.Context, payer, owner, mint solana.Pubkey) (solana.Pubkey, error) {
	program, err := r.MintTokenProgram(ctx, mint)
	if err != nil {
		return solana.Pubkey{}, err
	}

	seeds := [][]byte{owner[:], program[:], mint[:]}
	fallback, _, err := FindAssociatedTokenAddress(owner, program, mint)
	if err != nil {
		return solana.Pubkey{}, err
	}

	for bump := 255; bump >= lowestSimulatedBump; bump-- {
		candidate, err := CreateProgramAddress(append(seeds, []byte{byte(bump)}), solana.AssociatedTokenProgramID)
		if errors.Is(err, ErrOnCurve) {
			continue
		}
		if err != nil {
			return solana.Pubkey{}, err
		}

		valid, err := r.simulateCreate(ctx, payer, candidate, owner, mint, program)
		if err != nil {
			r.logger.WithError(err).Debug("bump simulation unavailable, using derived address")
			return fallback, nil
		}
		if valid {
			return candidate, nil
		}
		r.logger.WithFields(logrus.Fields{
			"bump": bump,
			"mint": mint.String(),
		}).Debug("simulation rejected bump, trying next")
	}
	return fallback, nil
}

// simulateCreate runs an unsigned CreateIdempotent through the node's
// simulator and classifies the error.
func (r *Resolver) simulateCreate(ctx context.Context, payer, ata, owner, mint, tokenProgram solana.Pubkey) (bool, error) {
	msg, err := solana.NewMessage(payer, solana.Blockhash{}, []solana.Instruction{
		solana.NewCreateATAIdempotentInstruction(payer, ata, owner, mint, tokenProgram),
	})
	if err != nil {
		return false, err
	}
	tx := solana.NewTransaction(msg)

	result, err := r.client.SimulateTransaction(ctx, tx.SerializeBase64(), solana.SimulateOptions{
		ReplaceRecentBlockhash: true,
		SigVerify:              false,
	})
	if err != nil {
		return false, err
	}
	if !result.Failed() {
		return true, nil
	}
	return classifySimulationError(result.Err), nil
}

// classifySimulationError decides whether a simulation error still
// implies the address derivation itself is sound. Fund and existence
// errors are fine; seed and account-shape errors mean a bad bump.
func classifySimulationError(raw json.RawMessage) bool {
	text := string(raw)
	switch {
	case strings.Contains(text, "InsufficientFunds"),
		strings.Contains(text, "AccountNotFound"):
		return true
	case strings.Contains(text, "InvalidSeeds"),
		strings.Contains(text, "InvalidAccountData"),
		strings.Contains(text, "IncorrectProgramId"),
		strings.Contains(text, "Custom"):
		return false
	default:
		// An unrecognized error says nothing about the derivation.
		return true
	}
}

func (r *Resolver) loadNegativeLookups() {
	raw, ok, err := r.store.Get(store.KeyFailedLookups)
	if err != nil || !ok {
		return
	}
	var entries map[string]int64
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return
	}
	now := time.Now().Unix()
	for key, expiresAt := range entries {
		if expiresAt > now {
			r.negative.Add(key, struct{}{})
		}
	}
}

func (r *Resolver) saveNegativeLookups() {
	expiresAt := time.Now().Add(negativeLookupCacheTTL).Unix()
	entries := make(map[string]int64)
	for _, key := range r.negative.Keys() {
		entries[key] = expiresAt
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return
	}
	if err := r.store.Set(store.KeyFailedLookups, string(raw)); err != nil {
		r.logger.WithError(err).Debug("failed to persist negative lookups")
	}
}
