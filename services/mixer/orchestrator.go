package mixer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"

	"github.com/R3E-Network/neomix/pkg/logger"
)

// Orchestrator drives a mix request through the hop chain:
//
//	Idle -> Planning -> Funding(i) -> [Delegating(i)] -> Transferring(i)
//	     -> ... -> FinalTransfer -> Completed
//
// with Failed reachable from every step. A single mix is strictly
// sequential: hop i+1 has no credential until immediately before it is
// funded, and its balance is unknown until the funding transfer
// confirms. Independent mixes may run concurrently; the only state they
// share is the ledger client and the session store.
type Orchestrator struct {
	cfg     MixerConfig
	planner *Planner
	keygen  *CredentialGenerator
	exec    *TransferExecutor
	deleg   *DelegationManager // nil when delegation is disabled
	store   *Store
	log     *logger.Logger

	// sleep is the inter-hop suspension, replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewOrchestrator validates the policy and wires the mixing components
// around an injected ledger client.
func NewOrchestrator(cfg MixerConfig, ledger Ledger, store *Store, log *logger.Logger) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mixer config: %w", err)
	}

	o := &Orchestrator{
		cfg:     cfg,
		planner: NewPlanner(),
		keygen:  NewCredentialGenerator(),
		exec:    NewTransferExecutor(ledger, cfg.ConfirmTimeout, log),
		store:   store,
		log:     log,
		sleep:   sleepCtx,
	}

	if cfg.Delegation.Enabled {
		deleg, err := NewDelegationManager(ledger, cfg.Delegation, cfg.ConfirmTimeout, log)
		if err != nil {
			return nil, err
		}
		o.deleg = deleg
	}

	return o, nil
}

// NewSession registers a pending session for the request. Callers that
// run the mix asynchronously get the session ID from here before the
// first ledger operation happens.
func (o *Orchestrator) NewSession(req *MixRequest) *MixSession {
	sess := &MixSession{
		ID:              uuid.NewString(),
		Destination:     address.Uint160ToString(req.Destination),
		RequestedAmount: req.Amount,
		Status:          SessionPending,
		StartedAt:       time.Now().UTC(),
	}
	o.store.Put(sess)
	return sess
}

// Run executes one mix to its terminal state. Progress is reported
// synchronously to obs after every funding, delegation, and transfer
// sub-step. On failure no rollback is attempted: funds that reached an
// intermediate account are recoverable only through that account's
// still-held credential, which is handed back in the result.
func (o *Orchestrator) Run(ctx context.Context, sess *MixSession, req *MixRequest, obs ProgressObserver) *MixResult {
	// Idle -> Planning: reject before any ledger operation is issued.
	if req.Amount < o.cfg.MinAmount {
		return o.fail(sess, 0, &AmountTooSmallError{Amount: req.Amount, MinAmount: o.cfg.MinAmount}, nil)
	}

	// The plan is drawn exactly once, before any I/O.
	plan := o.planner.Plan(o.cfg)

	// Even with no fees beyond the reserve, this plan cannot meet the
	// caller's delivery floor: reject before anything moves.
	if req.MinDelivered > 0 {
		best := req.Amount - int64(plan.HopCount)*o.cfg.FeeReserve
		if best < req.MinDelivered {
			return o.fail(sess, 0, &UnderDeliveryError{Available: best, MinDelivered: req.MinDelivered}, nil)
		}
	}

	sess.PlannedHops = plan.HopCount
	sess.Status = SessionMixing
	o.progress(obs, sess, fmt.Sprintf("planned %d hops", plan.HopCount))

	o.log.Info("mix started",
		"session", sess.ID,
		"hops", plan.HopCount,
		"amount", req.Amount,
		"delegation", o.deleg != nil,
	)

	// Funding(1): move the full amount from the source into hop 1. The
	// source pays its own fees from its remaining balance.
	hop, err := o.keygen.Generate()
	if err != nil {
		return o.fail(sess, 1, err, nil)
	}
	o.progress(obs, sess, fmt.Sprintf("funding hop 1/%d", plan.HopCount))
	if _, err := o.exec.Transfer(ctx, req.Source, hop.ScriptHash(), req.Amount); err != nil {
		// A definitive rejection means nothing left the source. An
		// ambiguous timeout means funds may already sit in hop 1, so
		// its credential is reported for manual reconciliation.
		if isAmbiguous(err) {
			return o.fail(sess, 1, err, hop)
		}
		return o.fail(sess, 1, err, nil)
	}
	o.progress(obs, sess, "hop 1 funded")

	for i := 1; i <= plan.HopCount; i++ {
		// A cancellation after the first funding cannot be honored by
		// aborting: funds are in motion in an account only this process
		// can recover. Stop advancing and report the funded hop.
		if ctx.Err() != nil {
			return o.fail(sess, i, ctx.Err(), hop)
		}

		// Funding(i) -> Delegating(i), only after the hop holds funds.
		if o.deleg != nil {
			o.progress(obs, sess, fmt.Sprintf("delegating hop %d/%d", i, plan.HopCount))
			if _, err := o.deleg.Delegate(ctx, hop); err != nil {
				return o.fail(sess, i, err, hop)
			}
			o.progress(obs, sess, fmt.Sprintf("hop %d delegated", i))
		}

		// The planned suspension, not network latency, paces the chain.
		if err := o.sleep(ctx, plan.Delays[i-1]); err != nil {
			return o.fail(sess, i, err, hop)
		}

		// Outbound amounts always come from a live balance: delegation
		// and prior hops may have consumed slightly different fees than
		// estimated.
		bal, err := o.exec.SpendableBalance(ctx, hop)
		if err != nil {
			return o.fail(sess, i, err, hop)
		}
		out := bal - o.cfg.FeeReserve
		if out <= 0 {
			err := &SubmissionError{Err: fmt.Errorf("hop balance %d cannot cover fee reserve %d", bal, o.cfg.FeeReserve)}
			return o.fail(sess, i, err, hop)
		}

		if i < plan.HopCount {
			// Transferring(i) -> Funding(i+1).
			next, err := o.keygen.Generate()
			if err != nil {
				return o.fail(sess, i, err, hop)
			}
			o.progress(obs, sess, fmt.Sprintf("funding hop %d/%d", i+1, plan.HopCount))
			if _, err := o.exec.Transfer(ctx, hop, next.ScriptHash(), out); err != nil {
				// An ambiguous timeout leaves the funds on either side
				// of the transfer: the sender if it never landed, the
				// receiver if it confirmed after the wait elapsed. Both
				// credentials are reported; neither is discarded.
				if isAmbiguous(err) {
					return o.failAmbiguous(sess, i, err, next, hop)
				}
				return o.fail(sess, i, err, hop)
			}
			sess.FeesConsumed += bal - out
			sess.HopsCompleted = i
			// Drained and confirmed: the credential is now a liability.
			hop.Discard()
			hop = next
			o.progress(obs, sess, fmt.Sprintf("hop %d funded", i+1))
			continue
		}

		// FinalTransfer: deliver balance minus the last fee reserve to
		// the recipient, which can be marginally less than requested but
		// never below the caller's floor.
		if req.MinDelivered > 0 && out < req.MinDelivered {
			err := &UnderDeliveryError{Available: out, MinDelivered: req.MinDelivered}
			return o.fail(sess, i, err, hop)
		}
		o.progress(obs, sess, "final transfer to recipient")
		txHash, err := o.exec.Transfer(ctx, hop, req.Destination, out)
		if err != nil {
			return o.fail(sess, i, err, hop)
		}
		sess.FeesConsumed += bal - out
		sess.HopsCompleted = i
		hop.Discard()

		sess.Status = SessionCompleted
		sess.FinalTxHash = txHash
		sess.DeliveredAmount = out
		sess.FinishedAt = time.Now().UTC()
		o.progress(obs, sess, "mix completed")

		o.log.Info("mix completed",
			"session", sess.ID,
			"hops", plan.HopCount,
			"delivered", out,
			"fees", sess.FeesConsumed,
			"final_tx", txHash,
		)

		return &MixResult{
			Success:         true,
			FinalTxHash:     txHash,
			HopsExecuted:    plan.HopCount,
			DeliveredAmount: out,
			FeesConsumed:    sess.FeesConsumed,
		}
	}

	// Unreachable: the loop always returns from its final iteration.
	return o.fail(sess, plan.HopCount, fmt.Errorf("orchestrator loop exited without terminal state"), hop)
}

// fail records the terminal failure on the session and builds the
// result handed to the caller. The stranded credential, when present,
// travels only in the result — the session store never sees key
// material.
func (o *Orchestrator) fail(sess *MixSession, hop int, err error, stranded *HopAccount) *MixResult {
	kind := KindOf(err)

	sess.Status = SessionFailed
	sess.FailedHop = hop
	sess.ErrorKind = string(kind)
	sess.Error = err.Error()
	sess.FinishedAt = time.Now().UTC()
	if stranded != nil {
		sess.StrandedAddress = stranded.Address()
	}
	o.store.Update(sess)

	o.log.Error("mix failed",
		"session", sess.ID,
		"hop", hop,
		"kind", string(kind),
		"stranded", sess.StrandedAddress,
		"error", err,
	)

	return &MixResult{
		FailedHop:   hop,
		ErrorKind:   kind,
		Err:         err,
		Recoverable: stranded,
	}
}

// failAmbiguous records a terminal failure whose hop-to-hop transfer
// fate is unknown: funds sit either in the receiving account or still
// in the sender. Both credentials travel in the result so the caller
// can sweep whichever holds the balance.
func (o *Orchestrator) failAmbiguous(sess *MixSession, hop int, err error, receiver, sender *HopAccount) *MixResult {
	sess.StrandedSenderAddress = sender.Address()
	res := o.fail(sess, hop, err, receiver)
	res.RecoverableSender = sender
	return res
}

// progress persists the stage and notifies the observer.
func (o *Orchestrator) progress(obs ProgressObserver, sess *MixSession, stage string) {
	sess.Stage = stage
	o.store.Update(sess)
	if obs != nil {
		obs.OnProgress(ProgressEvent{
			HopsCompleted: sess.HopsCompleted,
			TotalHops:     sess.PlannedHops,
			Stage:         stage,
		})
	}
}

// isAmbiguous reports whether the error leaves the operation's fate
// unknown rather than definitively failed.
func isAmbiguous(err error) bool {
	var timeout *ConfirmationTimeoutError
	return errors.As(err, &timeout)
}

// sleepCtx suspends for d, honoring cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
