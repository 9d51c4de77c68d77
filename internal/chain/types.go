// Package chain provides Neo N3 blockchain interaction for NeoMix.
package chain

import (
	"encoding/json"
	"fmt"
)

// =============================================================================
// JSON-RPC Wire Types
// =============================================================================

// RPCRequest is a JSON-RPC request.
type RPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

// RPCResponse is a JSON-RPC response.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// =============================================================================
// Ledger State Types
// =============================================================================

// StateRef is the recent chain-state reference required to construct a
// valid, non-replayable transaction: the current block height (bounds
// ValidUntilBlock) and the network magic the transaction is signed for.
type StateRef struct {
	Height uint32
	Magic  uint32
}

// ConfirmationResult reports the on-chain outcome of a submitted
// transaction once its application log is available.
type ConfirmationResult struct {
	TxHash      string
	VMState     string
	GasConsumed int64
	Exception   string
}

// Halted reports whether the transaction executed successfully.
func (r *ConfirmationResult) Halted() bool {
	return r.VMState == "HALT"
}

// ApplicationLog is the execution log of a confirmed transaction.
type ApplicationLog struct {
	TxID       string      `json:"txid"`
	Executions []Execution `json:"executions"`
}

// Execution is a single execution entry in an application log.
type Execution struct {
	Trigger     string      `json:"trigger"`
	VMState     string      `json:"vmstate"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack,omitempty"`
}

// InvokeResult is the result of an invokefunction call.
type InvokeResult struct {
	State       string      `json:"state"`
	GasConsumed string      `json:"gasconsumed"`
	Exception   string      `json:"exception,omitempty"`
	Stack       []StackItem `json:"stack,omitempty"`
}

// StackItem is a VM stack item returned by the RPC server.
type StackItem struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}
