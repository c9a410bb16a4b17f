package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x1-wallet-go/internal/solana"
	"x1-wallet-go/internal/store"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// rpcServer routes JSON-RPC methods to handler funcs returning raw result
// JSON strings.
func rpcServer(t *testing.T, handlers map[string]func(params []json.RawMessage) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		handler, ok := handlers[req.Method]
		require.True(t, ok, "unexpected rpc method %s", req.Method)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, handler(req.Params))
	}))
}

func mintInfoResult(owner solana.Pubkey) string {
	return fmt.Sprintf(`{"context":{"slot":1},"value":{"lamports":1461600,"owner":%q,"data":["",""],"executable":false}}`, owner.String())
}

func TestMintTokenProgramCached(t *testing.T) {
	mint := randomPubkey(t)
	var calls atomic.Int32
	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			calls.Add(1)
			return mintInfoResult(solana.Token2022ProgramID)
		},
	})
	defer srv.Close()

	r := New(solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger()), store.NewMemoryStore(), testLogger())

	program, err := r.MintTokenProgram(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, solana.Token2022ProgramID, program)

	// Second call is served from cache.
	_, err = r.MintTokenProgram(context.Background(), mint)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMintTokenProgramNegativeCachePersists(t *testing.T) {
	mint := randomPubkey(t)
	var calls atomic.Int32
	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			calls.Add(1)
			return `{"context":{"slot":1},"value":null}`
		},
	})
	defer srv.Close()

	st := store.NewMemoryStore()
	client := solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger())

	r := New(client, st, testLogger())
	_, err := r.MintTokenProgram(context.Background(), mint)
	assert.ErrorIs(t, err, ErrMintNotFound)

	// A fresh resolver over the same store inherits the negative entry
	// and skips the RPC.
	r2 := New(client, st, testLogger())
	_, err = r2.MintTokenProgram(context.Background(), mint)
	assert.ErrorIs(t, err, ErrMintNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMintTokenProgramUnknownOwner(t *testing.T) {
	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			return mintInfoResult(randomPubkey(t))
		},
	})
	defer srv.Close()

	r := New(solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger()), store.NewMemoryStore(), testLogger())
	_, err := r.MintTokenProgram(context.Background(), randomPubkey(t))
	assert.ErrorIs(t, err, ErrUnknownTokenProgram)
}

func TestResolveTokenAccountPrefersExisting(t *testing.T) {
	mint := randomPubkey(t)
	owner := randomPubkey(t)
	existing := randomPubkey(t)

	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			return mintInfoResult(solana.TokenProgramID)
		},
		"getTokenAccountsByOwner": func([]json.RawMessage) string {
			return fmt.Sprintf(
				`{"context":{"slot":1},"value":[{"pubkey":%q,"account":{"owner":%q,"data":{"parsed":{"info":{"mint":%q,"owner":%q,"tokenAmount":{"amount":"10"}}}}}}]}`,
				existing.String(), solana.TokenProgramID.String(), mint.String(), owner.String())
		},
	})
	defer srv.Close()

	r := New(solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger()), store.NewMemoryStore(), testLogger())
	res, err := r.ResolveTokenAccount(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, existing, res.Address)
	assert.Equal(t, solana.TokenProgramID, res.TokenProgram)
}

func TestResolveTokenAccountDerivesWhenMissing(t *testing.T) {
	mint := randomPubkey(t)
	owner := randomPubkey(t)

	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			return mintInfoResult(solana.TokenProgramID)
		},
		"getTokenAccountsByOwner": func([]json.RawMessage) string {
			return `{"context":{"slot":1},"value":[]}`
		},
	})
	defer srv.Close()

	r := New(solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger()), store.NewMemoryStore(), testLogger())
	res, err := r.ResolveTokenAccount(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.False(t, res.Exists)

	want, _, err := FindAssociatedTokenAddress(owner, solana.TokenProgramID, mint)
	require.NoError(t, err)
	assert.Equal(t, want, res.Address)
}

func TestValidateATAViaSimulationAcceptsBenignErrors(t *testing.T) {
	mint := randomPubkey(t)
	owner := randomPubkey(t)
	payer := randomPubkey(t)

	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			return mintInfoResult(solana.TokenProgramID)
		},
		"simulateTransaction": func([]json.RawMessage) string {
			return `{"context":{"slot":1},"value":{"err":{"InstructionError":[0,"InsufficientFunds"]},"logs":[]}}`
		},
	})
	defer srv.Close()

	r := New(solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger()), store.NewMemoryStore(), testLogger())
	addr, err := r.ValidateATAViaSimulation(context.Background(), payer, owner, mint)
	require.NoError(t, err)

	want, _, err := FindAssociatedTokenAddress(owner, solana.TokenProgramID, mint)
	require.NoError(t, err)
	assert.Equal(t, want, addr)
}

func TestValidateATAViaSimulationFallsBackWhenRPCFails(t *testing.T) {
	mint := randomPubkey(t)
	owner := randomPubkey(t)
	payer := randomPubkey(t)

	srv := rpcServer(t, map[string]func([]json.RawMessage) string{
		"getAccountInfo": func([]json.RawMessage) string {
			return mintInfoResult(solana.TokenProgramID)
		},
	})
	// simulateTransaction is not routed; close the server after the mint
	// lookup so the simulation errors at the transport layer.
	client := solana.NewClient(solana.ClientConfig{Endpoint: srv.URL}, testLogger())
	r := New(client, store.NewMemoryStore(), testLogger())
	_, err := r.MintTokenProgram(context.Background(), mint)
	require.NoError(t, err)
	srv.Close()

	addr, err := r.ValidateATAViaSimulation(context.Background(), payer, owner, mint)
	require.NoError(t, err)

	want, _, err := FindAssociatedTokenAddress(owner, solana.TokenProgramID, mint)
	require.NoError(t, err)
	assert.Equal(t, want, addr)
}

func TestClassifySimulationError(t *testing.T) {
	valid := []string{
		`{"InstructionError":[0,"InsufficientFunds"]}`,
		`"AccountNotFound"`,
		`{"SomethingElse":true}`,
	}
	for _, raw := range valid {
		assert.True(t, classifySimulationError(json.RawMessage(raw)), raw)
	}

	invalid := []string{
		`{"InstructionError":[0,"InvalidSeeds"]}`,
		`{"InstructionError":[0,"InvalidAccountData"]}`,
		`{"InstructionError":[0,"IncorrectProgramId"]}`,
		`{"InstructionError":[0,{"Custom":1}]}`,
	}
	for _, raw := range invalid {
		assert.False(t, classifySimulationError(json.RawMessage(raw)), raw)
	}
}
