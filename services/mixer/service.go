package mixer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/metrics"
	"github.com/R3E-Network/neomix/pkg/logger"
)

// Service is the mixing facade: it owns the session store, runs mixes
// through the orchestrator, and exposes stranded-fund recovery.
type Service struct {
	cfg    MixerConfig
	ledger Ledger
	store  *Store
	orch   *Orchestrator
	log    *logger.Logger

	// recoveries holds stranded credentials from asynchronous mixes
	// until claimed exactly once. Never written to durable storage.
	recoveryMu sync.Mutex
	recoveries map[string]*MixResult
}

// NewService creates a mixing service over an injected ledger client.
func NewService(cfg MixerConfig, ledger Ledger, log *logger.Logger) (*Service, error) {
	if ledger == nil {
		return nil, fmt.Errorf("ledger client is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	store := NewStore()
	orch, err := NewOrchestrator(cfg, ledger, store, log)
	if err != nil {
		return nil, err
	}

	return &Service{
		cfg:        cfg,
		ledger:     ledger,
		store:      store,
		orch:       orch,
		log:        log,
		recoveries: make(map[string]*MixResult),
	}, nil
}

// Config returns the active mixing policy.
func (s *Service) Config() MixerConfig {
	return s.cfg
}

// StartMix runs a mix to completion and returns the result together
// with its session ID.
func (s *Service) StartMix(ctx context.Context, req *MixRequest, obs ProgressObserver) (string, *MixResult) {
	sess := s.orch.NewSession(req)
	return sess.ID, s.run(ctx, sess, req, obs)
}

// StartMixAsync registers the session, kicks off the mix in the
// background, and returns the session ID immediately. The result,
// including any stranded credential, is delivered to done when the mix
// reaches a terminal state. Without a done callback a failure result
// carrying credentials is parked for a one-time ClaimRecovery instead.
func (s *Service) StartMixAsync(ctx context.Context, req *MixRequest, obs ProgressObserver, done func(*MixResult)) string {
	sess := s.orch.NewSession(req)
	go func() {
		res := s.run(ctx, sess, req, obs)
		if done != nil {
			done(res)
			return
		}
		if res.Recoverable != nil || res.RecoverableSender != nil {
			s.recoveryMu.Lock()
			s.recoveries[sess.ID] = res
			s.recoveryMu.Unlock()
		}
	}()
	return sess.ID
}

// ClaimRecovery hands out the stranded credentials of a failed
// asynchronous mix exactly once. The second claim for the same session
// finds nothing: the service keeps no copy past the hand-off.
func (s *Service) ClaimRecovery(sessionID string) (*MixResult, bool) {
	s.recoveryMu.Lock()
	defer s.recoveryMu.Unlock()
	res, ok := s.recoveries[sessionID]
	if ok {
		delete(s.recoveries, sessionID)
	}
	return res, ok
}

func (s *Service) run(ctx context.Context, sess *MixSession, req *MixRequest, obs ProgressObserver) *MixResult {
	start := time.Now()
	res := s.orch.Run(ctx, sess, req, obs)
	if res.Success {
		metrics.RecordMix("completed", "", res.HopsExecuted, time.Since(start))
		metrics.RecordDelivery(res.DeliveredAmount, res.FeesConsumed)
	} else {
		metrics.RecordMix("failed", string(res.ErrorKind), res.FailedHop, time.Since(start))
	}
	return res
}

// GetSession returns a session snapshot by ID.
func (s *Service) GetSession(id string) (*MixSession, bool) {
	return s.store.Get(id)
}

// ListSessions returns all session snapshots, newest first.
func (s *Service) ListSessions() []*MixSession {
	return s.store.List()
}

// Stats returns aggregate service statistics.
func (s *Service) Stats() MixStats {
	return s.store.Stats()
}

// SweepResult reports the outcome of a stranded-fund recovery.
type SweepResult struct {
	Account     string `json:"account"`
	Destination string `json:"destination"`
	TxHash      string `json:"tx_hash"`
	Amount      int64  `json:"amount"`
}

// Sweep recovers funds stranded in a hop account after a failed mix.
// The caller re-imports the credential reported in the mix result and
// names a destination; the full spendable balance minus the fee reserve
// is moved there in one transfer.
func (s *Service) Sweep(ctx context.Context, wif string, destination util.Uint160) (*SweepResult, error) {
	priv, err := keys.NewPrivateKeyFromWIF(wif)
	if err != nil {
		metrics.RecordSweep(false)
		return nil, fmt.Errorf("decode recovery credential: %w", err)
	}
	acct := NewHopAccountFromKey(priv)

	bal, err := s.orch.exec.SpendableBalance(ctx, acct)
	if err != nil {
		metrics.RecordSweep(false)
		return nil, fmt.Errorf("query stranded balance: %w", err)
	}
	amount := bal - s.cfg.FeeReserve
	if amount <= 0 {
		metrics.RecordSweep(false)
		return nil, fmt.Errorf("balance %d in %s cannot cover fee reserve %d", bal, acct.Address(), s.cfg.FeeReserve)
	}

	txHash, err := s.orch.exec.Transfer(ctx, acct, destination, amount)
	if err != nil {
		metrics.RecordSweep(false)
		return nil, fmt.Errorf("sweep %s: %w", acct.Address(), err)
	}

	s.log.Info("stranded funds swept",
		"account", acct.Address(),
		"destination", address.Uint160ToString(destination),
		"amount", amount,
		"tx", txHash,
	)
	metrics.RecordSweep(true)

	return &SweepResult{
		Account:     acct.Address(),
		Destination: address.Uint160ToString(destination),
		TxHash:      txHash,
		Amount:      amount,
	}, nil
}
