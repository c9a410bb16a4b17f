package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// rpcHandler answers one JSON-RPC method with a canned result.
func rpcHandler(t *testing.T, method string, result string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, method, req.Method)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "getBalance", `{"context":{"slot":1},"value":123456789}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	balance, err := c.GetBalance(context.Background(), randomPubkey(t).String())
	require.NoError(t, err)
	assert.Equal(t, uint64(123456789), balance)
}

func TestGetLatestBlockhash(t *testing.T) {
	bh := randomBlockhash(t)
	srv := httptest.NewServer(rpcHandler(t, "getLatestBlockhash",
		fmt.Sprintf(`{"context":{"slot":1},"value":{"blockhash":%q,"lastValidBlockHeight":5000}}`, bh.String())))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	got, err := c.GetLatestBlockhash(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, bh, got.Blockhash)
	assert.Equal(t, uint64(5000), got.LastValidBlockHeight)
}

func TestGetLatestBlockhashUnavailable(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "getLatestBlockhash", `{"context":{"slot":1},"value":{"blockhash":"","lastValidBlockHeight":0}}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	_, err := c.GetLatestBlockhash(context.Background(), "confirmed")
	assert.ErrorIs(t, err, ErrBlockhashUnavailable)
}

func TestGetAccountInfo(t *testing.T) {
	owner := randomPubkey(t)
	srv := httptest.NewServer(rpcHandler(t, "getAccountInfo",
		fmt.Sprintf(`{"context":{"slot":1},"value":{"lamports":42,"owner":%q,"data":["aGVsbG8=","base64"],"executable":false}}`, owner.String())))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	info, err := c.GetAccountInfo(context.Background(), randomPubkey(t).String())
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, uint64(42), info.Lamports)
	assert.Equal(t, owner, info.Owner)
	assert.Equal(t, []byte("hello"), info.Data)
}

func TestGetAccountInfoMissing(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "getAccountInfo", `{"context":{"slot":1},"value":null}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	info, err := c.GetAccountInfo(context.Background(), randomPubkey(t).String())
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestGetTokenAccountsByOwner(t *testing.T) {
	ata := randomPubkey(t)
	mint := randomPubkey(t)
	owner := randomPubkey(t)
	srv := httptest.NewServer(rpcHandler(t, "getTokenAccountsByOwner", fmt.Sprintf(
		`{"context":{"slot":1},"value":[{"pubkey":%q,"account":{"owner":%q,"data":{"parsed":{"info":{"mint":%q,"owner":%q,"tokenAmount":{"amount":"250000"}}}}}}]}`,
		ata.String(), TokenProgramID.String(), mint.String(), owner.String())))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	accounts, err := c.GetTokenAccountsByOwner(context.Background(), owner, TokenAccountFilter{Mint: &mint})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, ata, accounts[0].Pubkey)
	assert.Equal(t, mint, accounts[0].Mint)
	assert.Equal(t, owner, accounts[0].Owner)
	assert.Equal(t, uint64(250000), accounts[0].Amount)
	assert.Equal(t, TokenProgramID, accounts[0].Program)
}

func TestGetTokenAccountsByOwnerMalformedAmount(t *testing.T) {
	ata := randomPubkey(t)
	mint := randomPubkey(t)
	owner := randomPubkey(t)
	srv := httptest.NewServer(rpcHandler(t, "getTokenAccountsByOwner", fmt.Sprintf(
		`{"context":{"slot":1},"value":[{"pubkey":%q,"account":{"owner":%q,"data":{"parsed":{"info":{"mint":%q,"owner":%q,"tokenAmount":{"amount":"12x"}}}}}}]}`,
		ata.String(), TokenProgramID.String(), mint.String(), owner.String())))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	_, err := c.GetTokenAccountsByOwner(context.Background(), owner, TokenAccountFilter{Mint: &mint})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid token amount")
}

func TestGetTokenAccountsByOwnerRequiresFilter(t *testing.T) {
	c := NewClient(ClientConfig{Endpoint: "http://localhost:0"}, testLogger())
	_, err := c.GetTokenAccountsByOwner(context.Background(), randomPubkey(t), TokenAccountFilter{})
	assert.Error(t, err)
}

func TestSimulateTransaction(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "simulateTransaction",
		`{"context":{"slot":1},"value":{"err":{"InstructionError":[0,"Custom"]},"logs":["Program log: fail"]}}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	result, err := c.SimulateTransaction(context.Background(), "dGVzdA==", SimulateOptions{
		ReplaceRecentBlockhash: true,
	})
	require.NoError(t, err)
	assert.True(t, result.Failed())
	assert.Contains(t, string(result.Err), "InstructionError")
	assert.Len(t, result.Logs, 1)
}

func TestSimulateTransactionClean(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "simulateTransaction",
		`{"context":{"slot":1},"value":{"err":null,"logs":[]}}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	result, err := c.SimulateTransaction(context.Background(), "dGVzdA==", SimulateOptions{})
	require.NoError(t, err)
	assert.False(t, result.Failed())
}

func TestSendTransaction(t *testing.T) {
	sig := "5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW"
	var sawPreflight atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sendTransaction", req.Method)

		var opts map[string]interface{}
		require.NoError(t, json.Unmarshal(req.Params[1], &opts))
		if opts["preflightCommitment"] == "confirmed" && opts["encoding"] == "base64" {
			sawPreflight.Store(true)
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%q}`, sig)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	got, err := c.SendTransaction(context.Background(), "dGVzdA==", SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, sig, got)
	assert.True(t, sawPreflight.Load())
}

func TestRPCErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32002,"message":"Transaction simulation failed"}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	_, err := c.SendTransaction(context.Background(), "dGVzdA==", SendOptions{})
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32002, rpcErr.Code)
}

func TestHTTPErrorSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	_, err := c.GetBalance(context.Background(), randomPubkey(t).String())
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.Status)
}

func TestRateLimitedRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":1,"result":{"context":{"slot":1},"value":7}}`)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	start := time.Now()
	balance, err := c.GetBalance(context.Background(), randomPubkey(t).String())
	require.NoError(t, err)
	assert.Equal(t, uint64(7), balance)
	assert.Equal(t, int32(2), calls.Load())
	// First backoff step is at least one second.
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestGetSignatureStatus(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "getSignatureStatuses",
		`{"context":{"slot":1},"value":[{"confirmations":3,"confirmationStatus":"confirmed","err":null}]}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	status, err := c.GetSignatureStatus(context.Background(), "sig")
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, "confirmed", status.ConfirmationStatus)
	require.NotNil(t, status.Confirmations)
	assert.Equal(t, 3, *status.Confirmations)
}

func TestGetSignatureStatusUnknown(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, "getSignatureStatuses", `{"context":{"slot":1},"value":[null]}`))
	defer srv.Close()

	c := NewClient(ClientConfig{Endpoint: srv.URL}, testLogger())
	status, err := c.GetSignatureStatus(context.Background(), "sig")
	require.NoError(t, err)
	assert.Nil(t, status)
}
