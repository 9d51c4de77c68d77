package mixer

import (
	"context"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/chain"
)

// Ledger is the only I/O boundary to the outside ledger network. It is
// satisfied by *chain.Client and injected at construction, which keeps
// the orchestrator free of ambient global state and testable against a
// substitute client. Implementations must be safe for concurrent use by
// multiple in-flight operations.
type Ledger interface {
	// RecentState fetches the recency marker needed to construct a
	// valid, non-replayable transaction.
	RecentState(ctx context.Context) (chain.StateRef, error)

	// SubmitTransaction broadcasts a signed transaction and returns its
	// hash. An error means the ledger definitively rejected it.
	SubmitTransaction(ctx context.Context, tx *transaction.Transaction) (string, error)

	// WaitForConfirmation blocks until the transaction's outcome is
	// known or the timeout elapses, in which case it returns an error
	// wrapping chain.ErrConfirmationTimeout.
	WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) (*chain.ConfirmationResult, error)

	// GASBalance returns the spendable GAS balance of an account.
	GASBalance(ctx context.Context, account util.Uint160) (int64, error)
}
