package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Client is a JSON-RPC client for an SVM node endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *logrus.Logger
	limiter    *rate.Limiter
	timeout    time.Duration
}

// ClientConfig configures the RPC client.
type ClientConfig struct {
	Endpoint string
	Timeout  time.Duration // per-call deadline, default 8s
}

const (
	defaultRPCTimeout = 8 * time.Second

	// Requests-per-second bucket shared by all calls to one endpoint.
	rpcRequestsPerSecond = 5

	// 429 backoff policy: 1s·2ⁿ plus up to 500ms jitter, capped at 8s,
	// five attempts total.
	backoffBase     = time.Second
	backoffCap      = 8 * time.Second
	backoffJitter   = 500 * time.Millisecond
	backoffAttempts = 5
)

var (
	// ErrRPCTimeout is returned when a call exceeds its deadline.
	ErrRPCTimeout = errors.New("solana: rpc timeout")

	// ErrRateLimited is returned when the endpoint still responds 429
	// after the backoff budget is exhausted.
	ErrRateLimited = errors.New("solana: rate limited by rpc endpoint")

	// ErrBlockhashUnavailable is returned when the endpoint cannot supply
	// a recent blockhash.
	ErrBlockhashUnavailable = errors.New("solana: blockhash unavailable")
)

// RPCError is a structured JSON-RPC error from the node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// HTTPError is a non-200 transport response.
type HTTPError struct {
	Status int
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d", e.Status)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// NewClient creates an RPC client for endpoint.
func NewClient(cfg ClientConfig, logger *logrus.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRPCTimeout
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{},
		logger:     logger,
		limiter:    rate.NewLimiter(rate.Limit(rpcRequestsPerSecond), rpcRequestsPerSecond),
		timeout:    cfg.Timeout,
	}
}

// Endpoint returns the configured RPC URL.
func (c *Client) Endpoint() string { return c.endpoint }

// makeRequest issues one JSON-RPC call with the shared token bucket, the
// per-call deadline, and 429 backoff. A timed-out call never leaves state
// behind; it is surfaced as ErrRPCTimeout.
func (c *Client) makeRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < backoffAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffBase << (attempt - 1)
			if delay > backoffCap {
				delay = backoffCap
			}
			delay += time.Duration(rand.Int63n(int64(backoffJitter)))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, mapContextErr(ctx.Err())
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, mapContextErr(err)
		}

		result, retryable, err := c.doRequest(ctx, method, body)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"attempt": attempt + 1,
		}).WithError(err).Debug("RPC request rate limited, backing off")
	}
	if errors.Is(lastErr, ErrRateLimited) {
		return nil, ErrRateLimited
	}
	return nil, lastErr
}

func (c *Client) doRequest(ctx context.Context, method string, body []byte) (json.RawMessage, bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, mapContextErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, &HTTPError{Status: resp.StatusCode}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal response for %s: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, false, rpcResp.Error
	}
	return rpcResp.Result, false, nil
}

func mapContextErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrRPCTimeout
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrRPCTimeout
	}
	return err
}

// LatestBlockhash is the getLatestBlockhash result.
type LatestBlockhash struct {
	Blockhash            Blockhash
	LastValidBlockHeight uint64
}

// GetLatestBlockhash fetches a recent blockhash at the given commitment.
func (c *Client) GetLatestBlockhash(ctx context.Context, commitment string) (LatestBlockhash, error) {
	if commitment == "" {
		commitment = "confirmed"
	}
	params := []interface{}{map[string]interface{}{"commitment": commitment}}

	result, err := c.makeRequest(ctx, "getLatestBlockhash", params)
	if err != nil {
		return LatestBlockhash{}, fmt.Errorf("getLatestBlockhash failed: %w", err)
	}

	var out struct {
		Value struct {
			Blockhash            string `json:"blockhash"`
			LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return LatestBlockhash{}, fmt.Errorf("failed to unmarshal blockhash: %w", err)
	}
	if out.Value.Blockhash == "" {
		return LatestBlockhash{}, ErrBlockhashUnavailable
	}
	bh, err := BlockhashFromBase58(out.Value.Blockhash)
	if err != nil {
		return LatestBlockhash{}, err
	}
	return LatestBlockhash{Blockhash: bh, LastValidBlockHeight: out.Value.LastValidBlockHeight}, nil
}

// GetBalance returns an account's lamports at confirmed commitment.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	params := []interface{}{address, map[string]interface{}{"commitment": "confirmed"}}

	result, err := c.makeRequest(ctx, "getBalance", params)
	if err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}

	var out struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return 0, fmt.Errorf("failed to unmarshal balance: %w", err)
	}
	return out.Value, nil
}

// AccountInfo is the decoded getAccountInfo value.
type AccountInfo struct {
	Lamports   uint64
	Owner      Pubkey
	Data       []byte
	Executable bool
}

// GetAccountInfo fetches an account with base64 encoding. A missing
// account returns (nil, nil).
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	params := []interface{}{address, map[string]interface{}{"encoding": "base64"}}

	result, err := c.makeRequest(ctx, "getAccountInfo", params)
	if err != nil {
		return nil, fmt.Errorf("getAccountInfo failed: %w", err)
	}

	var out struct {
		Value *struct {
			Lamports   uint64   `json:"lamports"`
			Owner      string   `json:"owner"`
			Data       []string `json:"data"`
			Executable bool     `json:"executable"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal account info: %w", err)
	}
	if out.Value == nil {
		return nil, nil
	}

	owner, err := PublicKeyFromBase58(out.Value.Owner)
	if err != nil {
		return nil, err
	}
	info := &AccountInfo{
		Lamports:   out.Value.Lamports,
		Owner:      owner,
		Executable: out.Value.Executable,
	}
	if len(out.Value.Data) > 0 && out.Value.Data[0] != "" {
		info.Data, err = base64.StdEncoding.DecodeString(out.Value.Data[0])
		if err != nil {
			return nil, fmt.Errorf("failed to decode account data: %w", err)
		}
	}
	return info, nil
}

// TokenAccount is one entry from getTokenAccountsByOwner.
type TokenAccount struct {
	Pubkey  Pubkey
	Mint    Pubkey
	Owner   Pubkey
	Amount  uint64
	Program Pubkey
}

// TokenAccountFilter selects token accounts by mint or by token program;
// exactly one field must be set.
type TokenAccountFilter struct {
	Mint      *Pubkey
	ProgramID *Pubkey
}

// GetTokenAccountsByOwner enumerates an owner's token accounts with
// jsonParsed encoding.
func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner Pubkey, filter TokenAccountFilter) ([]TokenAccount, error) {
	sel := map[string]interface{}{}
	switch {
	case filter.Mint != nil:
		sel["mint"] = filter.Mint.String()
	case filter.ProgramID != nil:
		sel["programId"] = filter.ProgramID.String()
	default:
		return nil, errors.New("solana: token account filter requires mint or programId")
	}
	params := []interface{}{owner.String(), sel, map[string]interface{}{"encoding": "jsonParsed"}}

	result, err := c.makeRequest(ctx, "getTokenAccountsByOwner", params)
	if err != nil {
		return nil, fmt.Errorf("getTokenAccountsByOwner failed: %w", err)
	}

	var out struct {
		Value []struct {
			Pubkey  string `json:"pubkey"`
			Account struct {
				Owner string `json:"owner"`
				Data  struct {
					Parsed struct {
						Info struct {
							Mint        string `json:"mint"`
							Owner       string `json:"owner"`
							TokenAmount struct {
								Amount string `json:"amount"`
							} `json:"tokenAmount"`
						} `json:"info"`
					} `json:"parsed"`
				} `json:"data"`
			} `json:"account"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token accounts: %w", err)
	}

	accounts := make([]TokenAccount, 0, len(out.Value))
	for _, v := range out.Value {
		pubkey, err := PublicKeyFromBase58(v.Pubkey)
		if err != nil {
			return nil, err
		}
		mint, err := PublicKeyFromBase58(v.Account.Data.Parsed.Info.Mint)
		if err != nil {
			return nil, err
		}
		acctOwner, err := PublicKeyFromBase58(v.Account.Data.Parsed.Info.Owner)
		if err != nil {
			return nil, err
		}
		program, err := PublicKeyFromBase58(v.Account.Owner)
		if err != nil {
			return nil, err
		}
		amount, err := strconv.ParseUint(v.Account.Data.Parsed.Info.TokenAmount.Amount, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid token amount for %s: %w", v.Pubkey, err)
		}
		accounts = append(accounts, TokenAccount{
			Pubkey:  pubkey,
			Mint:    mint,
			Owner:   acctOwner,
			Amount:  amount,
			Program: program,
		})
	}
	return accounts, nil
}

// ProgramAccountFilter is a getProgramAccounts memcmp filter.
type ProgramAccountFilter struct {
	Offset int    `json:"offset"`
	Bytes  string `json:"bytes"`
}

// ProgramAccount is one entry from getProgramAccounts.
type ProgramAccount struct {
	Pubkey Pubkey
	Data   []byte
}

// GetProgramAccounts scans a program's accounts with memcmp filters; the
// wallet uses it for metadata-account lookups.
func (c *Client) GetProgramAccounts(ctx context.Context, program Pubkey, filters []ProgramAccountFilter) ([]ProgramAccount, error) {
	memcmp := make([]interface{}, 0, len(filters))
	for _, f := range filters {
		memcmp = append(memcmp, map[string]interface{}{"memcmp": f})
	}
	params := []interface{}{program.String(), map[string]interface{}{
		"encoding": "base64",
		"filters":  memcmp,
	}}

	result, err := c.makeRequest(ctx, "getProgramAccounts", params)
	if err != nil {
		return nil, fmt.Errorf("getProgramAccounts failed: %w", err)
	}

	var out []struct {
		Pubkey  string `json:"pubkey"`
		Account struct {
			Data []string `json:"data"`
		} `json:"account"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal program accounts: %w", err)
	}

	accounts := make([]ProgramAccount, 0, len(out))
	for _, v := range out {
		pubkey, err := PublicKeyFromBase58(v.Pubkey)
		if err != nil {
			return nil, err
		}
		var data []byte
		if len(v.Account.Data) > 0 {
			data, err = base64.StdEncoding.DecodeString(v.Account.Data[0])
			if err != nil {
				return nil, fmt.Errorf("failed to decode account data: %w", err)
			}
		}
		accounts = append(accounts, ProgramAccount{Pubkey: pubkey, Data: data})
	}
	return accounts, nil
}

// SimulateOptions controls simulateTransaction.
type SimulateOptions struct {
	ReplaceRecentBlockhash bool
	SigVerify              bool
	Commitment             string
}

// SimulationResult is the decoded simulateTransaction value; Err retains
// the node's raw error shape for classification.
type SimulationResult struct {
	Err  json.RawMessage
	Logs []string
}

// Failed reports whether the simulated execution errored.
func (r *SimulationResult) Failed() bool {
	return len(r.Err) > 0 && string(r.Err) != "null"
}

// SimulateTransaction runs a base64 transaction through the node's
// simulator without submitting it.
func (c *Client) SimulateTransaction(ctx context.Context, txBase64 string, opts SimulateOptions) (*SimulationResult, error) {
	cfg := map[string]interface{}{
		"encoding":               "base64",
		"replaceRecentBlockhash": opts.ReplaceRecentBlockhash,
		"sigVerify":              opts.SigVerify,
	}
	if opts.Commitment != "" {
		cfg["commitment"] = opts.Commitment
	}
	params := []interface{}{txBase64, cfg}

	result, err := c.makeRequest(ctx, "simulateTransaction", params)
	if err != nil {
		return nil, fmt.Errorf("simulateTransaction failed: %w", err)
	}

	var out struct {
		Value struct {
			Err  json.RawMessage `json:"err"`
			Logs []string        `json:"logs"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulation: %w", err)
	}
	return &SimulationResult{Err: out.Value.Err, Logs: out.Value.Logs}, nil
}

// SendOptions controls sendTransaction.
type SendOptions struct {
	SkipPreflight       bool
	PreflightCommitment string
}

// SendTransaction submits a base64 transaction and returns its signature.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string, opts SendOptions) (string, error) {
	if opts.PreflightCommitment == "" {
		opts.PreflightCommitment = "confirmed"
	}
	params := []interface{}{txBase64, map[string]interface{}{
		"encoding":            "base64",
		"skipPreflight":       opts.SkipPreflight,
		"preflightCommitment": opts.PreflightCommitment,
	}}

	result, err := c.makeRequest(ctx, "sendTransaction", params)
	if err != nil {
		return "", fmt.Errorf("sendTransaction failed: %w", err)
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", fmt.Errorf("invalid sendTransaction response: %w", err)
	}
	return signature, nil
}

// SignatureStatus is one entry from getSignatureStatuses.
type SignatureStatus struct {
	Confirmations      *int
	ConfirmationStatus string
	Err                json.RawMessage
}

// GetSignatureStatus fetches the confirmation state of one signature; a
// nil result means the node has not seen it.
func (c *Client) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	params := []interface{}{[]string{signature}}

	result, err := c.makeRequest(ctx, "getSignatureStatuses", params)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses failed: %w", err)
	}

	var out struct {
		Value []*struct {
			Confirmations      *int            `json:"confirmations"`
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal signature status: %w", err)
	}
	if len(out.Value) == 0 || out.Value[0] == nil {
		return nil, nil
	}
	v := out.Value[0]
	return &SignatureStatus{
		Confirmations:      v.Confirmations,
		ConfirmationStatus: v.ConfirmationStatus,
		Err:                v.Err,
	}, nil
}
