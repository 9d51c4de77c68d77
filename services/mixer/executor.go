package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/chain"
	"github.com/R3E-Network/neomix/pkg/logger"
)

// TransferExecutor builds, signs, submits, and confirms a single
// value-transfer operation between two accounts.
type TransferExecutor struct {
	ledger         Ledger
	confirmTimeout time.Duration
	log            *logger.Logger
}

// NewTransferExecutor creates an executor bound to a ledger client.
func NewTransferExecutor(ledger Ledger, confirmTimeout time.Duration, log *logger.Logger) *TransferExecutor {
	return &TransferExecutor{
		ledger:         ledger,
		confirmTimeout: confirmTimeout,
		log:            log,
	}
}

// Transfer moves amount from the account holding `from` to `to` and
// waits for on-chain confirmation. The signing credential never leaves
// process memory. Error mapping follows the retry-budget table in
// errors.go:
//   - state-reference fetch failure, after one retry  -> *StaleStateError
//   - definitive rejection or on-chain FAULT          -> *SubmissionError
//   - confirmation wait elapsed (fate unknown)        -> *ConfirmationTimeoutError
func (e *TransferExecutor) Transfer(ctx context.Context, from *HopAccount, to util.Uint160, amount int64) (string, error) {
	state, err := e.recentState(ctx)
	if err != nil {
		return "", err
	}

	tx, err := chain.NewGASTransfer(from.ScriptHash(), to, amount, state)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}
	if err := chain.Sign(tx, from.PrivateKey(), state.Magic); err != nil {
		return "", fmt.Errorf("sign transfer: %w", err)
	}

	txHash, err := e.ledger.SubmitTransaction(ctx, tx)
	if err != nil {
		return "", &SubmissionError{Err: err}
	}

	e.log.Debug("transfer submitted",
		"tx_hash", txHash,
		"from", from.Address(),
		"amount", amount,
	)

	res, err := e.ledger.WaitForConfirmation(ctx, txHash, e.confirmTimeout)
	if err != nil {
		if errors.Is(err, chain.ErrConfirmationTimeout) {
			return txHash, &ConfirmationTimeoutError{TxHash: txHash, Timeout: e.confirmTimeout}
		}
		return txHash, err
	}
	if !res.Halted() {
		return txHash, &SubmissionError{TxHash: txHash, Err: fmt.Errorf("execution faulted: %s", res.Exception)}
	}

	e.log.Info("transfer confirmed", "tx_hash", txHash, "gas_consumed", res.GasConsumed)
	return txHash, nil
}

// SpendableBalance returns the account balance available to the next
// outbound operation. Prior hops and delegation may have consumed
// slightly different fees than estimated, so outbound amounts are always
// computed from a live balance rather than carried assumptions.
func (e *TransferExecutor) SpendableBalance(ctx context.Context, account *HopAccount) (int64, error) {
	bal, err := e.ledger.GASBalance(ctx, account.ScriptHash())
	if err != nil {
		return 0, fmt.Errorf("query balance of %s: %w", account.Address(), err)
	}
	return bal, nil
}

// recentState fetches the chain-state reference, retrying once per the
// stale-state retry budget before surfacing *StaleStateError.
func (e *TransferExecutor) recentState(ctx context.Context) (chain.StateRef, error) {
	var lastErr error
	for attempt := 0; attempt <= retryBudget[KindStaleState]; attempt++ {
		state, err := e.ledger.RecentState(ctx)
		if err == nil {
			return state, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return chain.StateRef{}, ctx.Err()
		}
	}
	return chain.StateRef{}, &StaleStateError{Err: lastErr}
}
