// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/util"
	"github.com/nspcc-dev/neo-go/pkg/vm/opcode"

	"github.com/R3E-Network/neomix/internal/chain"
)

// MockLedger is an in-memory ledger simulation. It decodes submitted
// transfer scripts and moves balances accordingly, so orchestration
// logic can be exercised end to end without a node. Hooks let tests
// inject failures at specific call indices.
type MockLedger struct {
	mu sync.Mutex

	height   uint32
	magic    uint32
	balances map[util.Uint160]int64

	submitted   []*transaction.Transaction
	delegations []*transaction.Transaction

	stateCalls     int
	submitCalls    int
	submitAttempts int
	confirmCalls   int
	balanceCalls   int

	// StateErrs fails the first len(StateErrs) RecentState calls.
	StateErrs []error
	// SubmitHook, when set, runs before each submission with its attempt
	// index (0-based, counting rejected attempts too). A returned error
	// rejects the submission.
	SubmitHook func(call int, tx *transaction.Transaction) error
	// ConfirmHook, when set, runs on each confirmation wait. A returned
	// error is surfaced instead of a HALT result.
	ConfirmHook func(call int, txHash string) error
	// FaultOn maps confirmation call indices to VM exceptions: those
	// confirmations report FAULT instead of HALT.
	FaultOn map[int]string
}

// NewMockLedger creates a mock ledger for the given network magic.
func NewMockLedger(magic uint32) *MockLedger {
	return &MockLedger{
		height:   1000,
		magic:    magic,
		balances: make(map[util.Uint160]int64),
	}
}

// Fund credits an account balance directly.
func (m *MockLedger) Fund(account util.Uint160, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] += amount
}

// Balance returns the current simulated balance of an account.
func (m *MockLedger) Balance(account util.Uint160) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account]
}

// Submitted returns all accepted transactions in submission order.
func (m *MockLedger) Submitted() []*transaction.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*transaction.Transaction(nil), m.submitted...)
}

// SubmitCount returns the number of accepted submissions.
func (m *MockLedger) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitCalls
}

// SubmitAttempts returns the number of submission attempts, including
// rejected ones.
func (m *MockLedger) SubmitAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.submitAttempts
}

// StateCount returns the number of RecentState calls.
func (m *MockLedger) StateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stateCalls
}

// DelegationCount returns the number of accepted delegation invocations.
func (m *MockLedger) DelegationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.delegations)
}

// RecentState implements the ledger interface.
func (m *MockLedger) RecentState(ctx context.Context) (chain.StateRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.stateCalls
	m.stateCalls++
	if call < len(m.StateErrs) {
		return chain.StateRef{}, m.StateErrs[call]
	}

	m.height++
	return chain.StateRef{Height: m.height, Magic: m.magic}, nil
}

// SubmitTransaction implements the ledger interface. Transfer scripts
// move simulated balances; delegation scripts are recorded only.
func (m *MockLedger) SubmitTransaction(ctx context.Context, tx *transaction.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := m.submitAttempts
	m.submitAttempts++
	if m.SubmitHook != nil {
		if err := m.SubmitHook(call, tx); err != nil {
			return "", err
		}
	}
	m.submitCalls++
	m.submitted = append(m.submitted, tx)

	if bytes.Contains(tx.Script, []byte("delegate")) {
		m.delegations = append(m.delegations, tx)
		return "0x" + tx.Hash().StringLE(), nil
	}

	from, to, amount, ok := DecodeTransfer(tx.Script)
	if !ok {
		return "", fmt.Errorf("unrecognized script")
	}
	if m.balances[from] < amount {
		return "", fmt.Errorf("insufficient funds: have %d, need %d", m.balances[from], amount)
	}
	m.balances[from] -= amount
	m.balances[to] += amount

	return "0x" + tx.Hash().StringLE(), nil
}

// WaitForConfirmation implements the ledger interface. Every accepted
// transaction confirms as HALT unless a hook intervenes.
func (m *MockLedger) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*chain.ConfirmationResult, error) {
	m.mu.Lock()
	call := m.confirmCalls
	m.confirmCalls++
	hook := m.ConfirmHook
	exception, faulted := m.FaultOn[call]
	m.mu.Unlock()

	if hook != nil {
		if err := hook(call, txHash); err != nil {
			return nil, err
		}
	}
	if faulted {
		return &chain.ConfirmationResult{TxHash: txHash, VMState: "FAULT", Exception: exception}, nil
	}
	return &chain.ConfirmationResult{TxHash: txHash, VMState: "HALT"}, nil
}

// GASBalance implements the ledger interface.
func (m *MockLedger) GASBalance(ctx context.Context, account util.Uint160) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	return m.balances[account], nil
}

// DecodeTransfer extracts (from, to, amount) from a GAS transfer script
// as emitted by the transaction builder: the reversed argument pushes
// (data, amount, to, from) sit at the head of the script.
func DecodeTransfer(script []byte) (from, to util.Uint160, amount int64, ok bool) {
	if len(script) == 0 || opcode.Opcode(script[0]) != opcode.PUSHNULL {
		return from, to, 0, false
	}
	i := 1

	amount, n := decodeInt(script[i:])
	if n == 0 {
		return from, to, 0, false
	}
	i += n

	to, n = decodeUint160(script[i:])
	if n == 0 {
		return from, to, 0, false
	}
	i += n

	from, n = decodeUint160(script[i:])
	if n == 0 {
		return from, to, 0, false
	}

	return from, to, amount, true
}

// decodeInt reads one integer push, returning the value and bytes
// consumed (0 on failure).
func decodeInt(b []byte) (int64, int) {
	if len(b) == 0 {
		return 0, 0
	}
	op := opcode.Opcode(b[0])
	switch {
	case op == opcode.PUSHM1:
		return -1, 1
	case op >= opcode.PUSH0 && op <= opcode.PUSH16:
		return int64(op - opcode.PUSH0), 1
	case op == opcode.PUSHINT8 && len(b) >= 2:
		return int64(int8(b[1])), 2
	case op == opcode.PUSHINT16 && len(b) >= 3:
		return int64(int16(binary.LittleEndian.Uint16(b[1:3]))), 3
	case op == opcode.PUSHINT32 && len(b) >= 5:
		return int64(int32(binary.LittleEndian.Uint32(b[1:5]))), 5
	case op == opcode.PUSHINT64 && len(b) >= 9:
		return int64(binary.LittleEndian.Uint64(b[1:9])), 9
	}
	return 0, 0
}

// decodeUint160 reads one 20-byte data push, returning the hash and
// bytes consumed (0 on failure).
func decodeUint160(b []byte) (util.Uint160, int) {
	if len(b) < 22 || opcode.Opcode(b[0]) != opcode.PUSHDATA1 || b[1] != util.Uint160Size {
		return util.Uint160{}, 0
	}
	u, err := util.Uint160DecodeBytesBE(b[2:22])
	if err != nil {
		return util.Uint160{}, 0
	}
	return u, 22
}

// RecordingObserver captures progress events for assertions.
type RecordingObserver struct {
	mu     sync.Mutex
	events []ProgressRecord
}

// ProgressRecord is one captured progress event.
type ProgressRecord struct {
	HopsCompleted int
	TotalHops     int
	Stage         string
}

// Record appends an event.
func (r *RecordingObserver) Record(hopsCompleted, totalHops int, stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ProgressRecord{
		HopsCompleted: hopsCompleted,
		TotalHops:     totalHops,
		Stage:         stage,
	})
}

// Events returns all captured events in order.
func (r *RecordingObserver) Events() []ProgressRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressRecord(nil), r.events...)
}
