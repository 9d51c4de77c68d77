package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/chain"
	"github.com/R3E-Network/neomix/pkg/logger"
)

// DelegationManager hands temporary control of a funded hop account to
// the confidential executor, so the hop's transfer executes outside
// public observation. Delegation happens strictly after funding:
// delegating an empty account wastes a fee and authorizes nothing.
type DelegationManager struct {
	ledger           Ledger
	executorContract util.Uint160
	recommitInterval time.Duration
	confirmTimeout   time.Duration
	log              *logger.Logger
}

// NewDelegationManager creates a manager for the given executor
// contract.
func NewDelegationManager(ledger Ledger, cfg DelegationConfig, confirmTimeout time.Duration, log *logger.Logger) (*DelegationManager, error) {
	contract, err := util.Uint160DecodeStringLE(trim0x(cfg.ExecutorContract))
	if err != nil {
		return nil, fmt.Errorf("parse executor contract: %w", err)
	}
	return &DelegationManager{
		ledger:           ledger,
		executorContract: contract,
		recommitInterval: cfg.RecommitInterval,
		confirmTimeout:   confirmTimeout,
		log:              log,
	}, nil
}

// Delegate submits the authorization operation assigning execution
// rights over the hop account to the confidential executor. A rejected
// submission is retried once with a refreshed chain-state reference;
// after that the failure is fatal for the mix — a partially delegated
// account cannot simply be planned around, so the orchestrator
// terminates rather than silently skipping the step.
func (m *DelegationManager) Delegate(ctx context.Context, hop *HopAccount) (*DelegationReceipt, error) {
	var lastErr error
	for attempt := 0; attempt <= 1; attempt++ {
		receipt, err := m.delegateOnce(ctx, hop)
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		// Ambiguous outcomes are never retried: a second authorization
		// for the same account could land alongside the first.
		var timeout *ConfirmationTimeoutError
		if errors.As(err, &timeout) || ctx.Err() != nil {
			break
		}
		m.log.Warn("delegation attempt failed, refreshing state reference",
			"account", hop.Address(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, &DelegationFailedError{Account: hop.Address(), Err: lastErr}
}

func (m *DelegationManager) delegateOnce(ctx context.Context, hop *HopAccount) (*DelegationReceipt, error) {
	state, err := m.ledger.RecentState(ctx)
	if err != nil {
		return nil, &StaleStateError{Err: err}
	}

	tx, err := chain.NewDelegation(m.executorContract, hop.ScriptHash(), m.recommitInterval, state)
	if err != nil {
		return nil, fmt.Errorf("build delegation: %w", err)
	}
	if err := chain.Sign(tx, hop.PrivateKey(), state.Magic); err != nil {
		return nil, fmt.Errorf("sign delegation: %w", err)
	}

	txHash, err := m.ledger.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, &SubmissionError{Err: err}
	}

	res, err := m.ledger.WaitForConfirmation(ctx, txHash, m.confirmTimeout)
	if err != nil {
		if errors.Is(err, chain.ErrConfirmationTimeout) {
			return nil, &ConfirmationTimeoutError{TxHash: txHash, Timeout: m.confirmTimeout}
		}
		return nil, err
	}
	if !res.Halted() {
		return nil, &SubmissionError{TxHash: txHash, Err: fmt.Errorf("delegation faulted: %s", res.Exception)}
	}

	m.log.Info("account delegated to confidential executor",
		"account", hop.Address(),
		"tx_hash", txHash,
		"recommit_interval", m.recommitInterval,
	)

	return &DelegationReceipt{
		TxHash:           txHash,
		Account:          hop.Address(),
		Executor:         address.Uint160ToString(m.executorContract),
		RecommitInterval: m.recommitInterval,
		DelegatedAt:      time.Now().UTC(),
	}, nil
}
