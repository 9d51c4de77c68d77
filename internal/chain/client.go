// Package chain provides Neo N3 blockchain interaction for NeoMix.
package chain

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"golang.org/x/time/rate"
)

// ErrConfirmationTimeout is returned by WaitForConfirmation when the
// transaction's application log did not appear within the deadline. The
// transaction's fate is unknown at that point, not failed.
var ErrConfirmationTimeout = errors.New("confirmation wait timed out")

// GASToken is the script hash of the native GAS token contract.
var GASToken = mustUint160("d2a4cff31913016155e38e474a2c06d08be276cf")

func mustUint160(s string) util.Uint160 {
	h, err := util.Uint160DecodeStringLE(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Client provides Neo N3 RPC client functionality. It is safe for
// concurrent use by multiple in-flight operations.
type Client struct {
	rpcURL       string
	httpClient   *http.Client
	networkMagic uint32
	submitLimit  *rate.Limiter
	pollInterval time.Duration
}

// Config holds client configuration.
type Config struct {
	RPCURL       string
	NetworkMagic uint32 // MainNet: 860833102, TestNet: 894710606
	Timeout      time.Duration
	// SubmitRate caps transaction submissions per second. Zero disables
	// the limiter.
	SubmitRate float64
	// PollInterval is the confirmation polling cadence.
	PollInterval time.Duration
}

// NewClient creates a new Neo N3 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("RPC URL required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = 2 * time.Second
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.SubmitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SubmitRate), 1)
	}

	return &Client{
		rpcURL: cfg.RPCURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		networkMagic: cfg.NetworkMagic,
		submitLimit:  limiter,
		pollInterval: poll,
	}, nil
}

// NetworkMagic returns the network magic the client is configured for.
func (c *Client) NetworkMagic() uint32 {
	return c.networkMagic
}

// =============================================================================
// Core RPC Methods
// =============================================================================

// Call makes an RPC call to the Neo N3 node.
func (c *Client) Call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}

	req := RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      1,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var rpcResp RPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}

	return rpcResp.Result, nil
}

// BlockCount returns the current block height.
func (c *Client) BlockCount(ctx context.Context) (uint32, error) {
	result, err := c.Call(ctx, "getblockcount", nil)
	if err != nil {
		return 0, err
	}

	var count uint32
	if err := json.Unmarshal(result, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// RecentState fetches the recency marker needed to construct a valid
// transaction.
func (c *Client) RecentState(ctx context.Context) (StateRef, error) {
	height, err := c.BlockCount(ctx)
	if err != nil {
		return StateRef{}, fmt.Errorf("get block count: %w", err)
	}
	return StateRef{Height: height, Magic: c.networkMagic}, nil
}

// SubmitTransaction broadcasts a signed transaction and returns its hash.
func (c *Client) SubmitTransaction(ctx context.Context, tx *transaction.Transaction) (string, error) {
	if err := c.submitLimit.Wait(ctx); err != nil {
		return "", err
	}

	raw := base64.StdEncoding.EncodeToString(tx.Bytes())
	result, err := c.Call(ctx, "sendrawtransaction", []any{raw})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w", err)
	}

	// The node echoes the accepted hash; keep the locally computed one
	// but verify the response shape.
	var resp struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return "", fmt.Errorf("unmarshal send result: %w", err)
	}

	return "0x" + tx.Hash().StringLE(), nil
}

// GetApplicationLog returns the application log for a transaction, or an
// error if the transaction is not yet confirmed.
func (c *Client) GetApplicationLog(ctx context.Context, txHash string) (*ApplicationLog, error) {
	result, err := c.Call(ctx, "getapplicationlog", []any{txHash})
	if err != nil {
		return nil, err
	}

	var log ApplicationLog
	if err := json.Unmarshal(result, &log); err != nil {
		return nil, fmt.Errorf("unmarshal application log: %w", err)
	}
	return &log, nil
}

// WaitForConfirmation polls for the transaction's application log until
// it appears or the timeout elapses. A timeout yields
// ErrConfirmationTimeout: the transaction may still confirm later, so the
// caller must treat its fate as unknown rather than failed.
func (c *Client) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*ConfirmationResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w after %s: %s", ErrConfirmationTimeout, timeout, txHash)
		case <-ticker.C:
			log, err := c.GetApplicationLog(waitCtx, txHash)
			if err != nil {
				// Not yet in a block; keep polling.
				continue
			}
			if len(log.Executions) == 0 {
				continue
			}
			exec := log.Executions[0]
			gas, err := strconv.ParseInt(exec.GasConsumed, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse gasconsumed %q for %s: %w", exec.GasConsumed, txHash, err)
			}
			return &ConfirmationResult{
				TxHash:      txHash,
				VMState:     exec.VMState,
				GasConsumed: gas,
				Exception:   exec.Exception,
			}, nil
		}
	}
}

// =============================================================================
// Balance Queries
// =============================================================================

// GASBalance returns the GAS balance of an account in its smallest unit,
// via a read-only balanceOf invocation.
func (c *Client) GASBalance(ctx context.Context, account util.Uint160) (int64, error) {
	params := []any{
		"0x" + GASToken.StringLE(),
		"balanceOf",
		[]any{
			map[string]any{"type": "Hash160", "value": "0x" + account.StringLE()},
		},
	}

	result, err := c.Call(ctx, "invokefunction", params)
	if err != nil {
		return 0, fmt.Errorf("invoke balanceOf: %w", err)
	}

	var invoke InvokeResult
	if err := json.Unmarshal(result, &invoke); err != nil {
		return 0, fmt.Errorf("unmarshal invoke result: %w", err)
	}

	if invoke.State != "HALT" {
		return 0, fmt.Errorf("balanceOf faulted: %s", invoke.Exception)
	}
	if len(invoke.Stack) == 0 {
		return 0, fmt.Errorf("balanceOf returned empty stack")
	}

	return parseIntegerItem(invoke.Stack[0])
}

// parseIntegerItem extracts an int64 from an Integer stack item. The RPC
// server encodes integers as decimal strings.
func parseIntegerItem(item StackItem) (int64, error) {
	if item.Type != "Integer" {
		return 0, fmt.Errorf("unexpected stack item type %q", item.Type)
	}

	var s string
	if err := json.Unmarshal(item.Value, &s); err != nil {
		return 0, fmt.Errorf("unmarshal integer item: %w", err)
	}

	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return 0, fmt.Errorf("invalid integer value %q", s)
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("integer value %s out of int64 range", s)
	}
	return v.Int64(), nil
}
