package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind labels the failure taxonomy surfaced to callers.
type ErrorKind string

const (
	KindAmountTooSmall      ErrorKind = "amount_too_small"
	KindUnderDelivery       ErrorKind = "under_delivery"
	KindStaleState          ErrorKind = "stale_state"
	KindSubmission          ErrorKind = "submission_rejected"
	KindConfirmationTimeout ErrorKind = "confirmation_timeout"
	KindDelegationFailed    ErrorKind = "delegation_failed"
	KindCanceled            ErrorKind = "canceled"
	KindInternal            ErrorKind = "internal"
)

// retryBudget codifies the per-kind local retry policy. Stale state
// references may be refreshed once; rejections and timeouts are never
// retried — re-submitting after an ambiguous timeout risks double-spend
// from the same source.
var retryBudget = map[ErrorKind]int{
	KindStaleState:          1,
	KindSubmission:          0,
	KindConfirmationTimeout: 0,
}

// AmountTooSmallError rejects a mix before any funds move. Recoverable
// by the caller adjusting the amount.
type AmountTooSmallError struct {
	Amount    int64
	MinAmount int64
}

func (e *AmountTooSmallError) Error() string {
	return fmt.Sprintf("amount %d below mixing minimum %d", e.Amount, e.MinAmount)
}

// UnderDeliveryError indicates the amount available for final delivery
// fell below the caller's floor. The mix stops before the final
// transfer; funds remain in the last hop account.
type UnderDeliveryError struct {
	Available    int64
	MinDelivered int64
}

func (e *UnderDeliveryError) Error() string {
	return fmt.Sprintf("deliverable amount %d below requested minimum %d", e.Available, e.MinDelivered)
}

// StaleStateError indicates the chain-state reference fetch failed even
// after its retry.
type StaleStateError struct {
	Err error
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("fetch chain-state reference: %v", e.Err)
}

func (e *StaleStateError) Unwrap() error { return e.Err }

// SubmissionError indicates a transaction was definitively rejected or
// faulted on-chain. Funds did not move out of the signing account.
type SubmissionError struct {
	TxHash string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("submission %s rejected: %v", e.TxHash, e.Err)
	}
	return fmt.Sprintf("submission rejected: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// ConfirmationTimeoutError indicates a confirmation wait elapsed. The
// operation's fate is UNKNOWN — it must never trigger an automatic retry
// of the same transfer.
type ConfirmationTimeoutError struct {
	TxHash  string
	Timeout time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation of %s timed out after %s; outcome unknown", e.TxHash, e.Timeout)
}

// DelegationFailedError indicates the confidential-executor hand-off
// failed after its retry. Fatal for the mix: funds remain stranded in
// the funded-but-undelegated hop account.
type DelegationFailedError struct {
	Account string
	Err     error
}

func (e *DelegationFailedError) Error() string {
	return fmt.Sprintf("delegate account %s: %v", e.Account, e.Err)
}

func (e *DelegationFailedError) Unwrap() error { return e.Err }

// KindOf maps an error to its taxonomy label.
func KindOf(err error) ErrorKind {
	var (
		tooSmall *AmountTooSmallError
		under    *UnderDeliveryError
		stale    *StaleStateError
		subm     *SubmissionError
		timeout  *ConfirmationTimeoutError
		deleg    *DelegationFailedError
	)
	// Delegation failures wrap their underlying cause, so they must be
	// classified before the narrower kinds they may contain.
	switch {
	case err == nil:
		return ""
	case errors.As(err, &tooSmall):
		return KindAmountTooSmall
	case errors.As(err, &under):
		return KindUnderDelivery
	case errors.As(err, &deleg):
		return KindDelegationFailed
	case errors.As(err, &timeout):
		return KindConfirmationTimeout
	case errors.As(err, &stale):
		return KindStaleState
	case errors.As(err, &subm):
		return KindSubmission
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
