// Package mixer implements privacy-preserving multi-hop GAS transfers.
// A single logical transfer is executed as a chain of on-ledger
// operations through freshly generated single-use accounts, optionally
// delegated to a confidential execution venue, so that the observable
// link between sender and recipient is minimized.
package mixer

import (
	"fmt"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/util"
)

// =============================================================================
// Configuration
// =============================================================================

// MixerConfig is the per-orchestrator mixing policy. It is supplied once
// at construction and never mutated mid-mix.
type MixerConfig struct {
	// MinHops and MaxHops bound the randomized hop count.
	MinHops int `yaml:"min_hops"`
	MaxHops int `yaml:"max_hops"`

	// MinDelay and MaxDelay bound the randomized inter-hop delay.
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`

	// MinAmount is the floor below which a mix is rejected before any
	// funds move.
	MinAmount int64 `yaml:"min_amount"`

	// FeeReserve is withheld from every outbound hop transfer so the
	// next hop can always pay its own fees.
	FeeReserve int64 `yaml:"fee_reserve"`

	// ConfirmTimeout bounds each confirmation wait. Past it an
	// operation's fate is unknown, not failed.
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`

	// Delegation, when enabled, hands each funded hop account to the
	// confidential executor before its outbound transfer.
	Delegation DelegationConfig `yaml:"delegation"`
}

// DelegationConfig configures the confidential executor hand-off.
type DelegationConfig struct {
	Enabled bool `yaml:"enabled"`
	// ExecutorContract is the on-chain delegation contract of the
	// confidential executor.
	ExecutorContract string `yaml:"executor_contract"`
	// RecommitInterval bounds how long the executor may run without
	// checkpointing state back to the public ledger.
	RecommitInterval time.Duration `yaml:"recommit_interval"`
}

// DefaultConfig returns the mixing policy used when no policy file is
// supplied.
func DefaultConfig() MixerConfig {
	return MixerConfig{
		MinHops:        2,
		MaxHops:        5,
		MinDelay:       30 * time.Second,
		MaxDelay:       5 * time.Minute,
		MinAmount:      1_0000_0000, // 1 GAS
		FeeReserve:     300_0000,    // 0.03 GAS
		ConfirmTimeout: 2 * time.Minute,
	}
}

// Validate checks the policy invariants.
func (c MixerConfig) Validate() error {
	if c.MinHops < 1 {
		return fmt.Errorf("min_hops must be >= 1, got %d", c.MinHops)
	}
	if c.MaxHops < c.MinHops {
		return fmt.Errorf("max_hops %d < min_hops %d", c.MaxHops, c.MinHops)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("invalid delay range [%s, %s]", c.MinDelay, c.MaxDelay)
	}
	if c.MinAmount <= 0 {
		return fmt.Errorf("min_amount must be positive, got %d", c.MinAmount)
	}
	if c.FeeReserve <= 0 {
		return fmt.Errorf("fee_reserve must be positive, got %d", c.FeeReserve)
	}
	if c.MinAmount <= c.FeeReserve*int64(c.MaxHops) {
		return fmt.Errorf("min_amount %d does not cover fee reserve for %d hops", c.MinAmount, c.MaxHops)
	}
	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("confirm_timeout must be positive")
	}
	if c.Delegation.Enabled {
		if _, err := util.Uint160DecodeStringLE(trim0x(c.Delegation.ExecutorContract)); err != nil {
			return fmt.Errorf("invalid executor_contract: %w", err)
		}
		if c.Delegation.RecommitInterval <= 0 {
			return fmt.Errorf("recommit_interval must be positive when delegation is enabled")
		}
	}
	return nil
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}

// =============================================================================
// Mix Request
// =============================================================================

// MixRequest is a single logical transfer to execute as a mix. Immutable
// once accepted.
type MixRequest struct {
	// Source owns signing authority over the source funds.
	Source *HopAccount
	// Destination receives the mixed funds.
	Destination util.Uint160
	// Amount to move out of the source, in GAS smallest units.
	Amount int64
	// MinDelivered, when positive, is the caller's floor on the
	// delivered amount. The delivered amount comes from live balances
	// and can be marginally less than requested; a mix that cannot meet
	// the floor fails instead of under-delivering.
	MinDelivered int64
}

// =============================================================================
// Hop Accounts
// =============================================================================

// HopAccount is an ephemeral signing credential plus its derived
// address. Each one is used exactly once as a transient holder of
// in-flight funds and discarded when its account is drained. It is never
// written to durable storage.
type HopAccount struct {
	priv       *keys.PrivateKey
	seed       []byte
	scriptHash util.Uint160
	address    string
}

// NewHopAccountFromKey wraps an existing private key, e.g. the mix
// source credential or a recovery key re-imported from a WIF.
func NewHopAccountFromKey(priv *keys.PrivateKey) *HopAccount {
	return &HopAccount{
		priv:       priv,
		scriptHash: priv.GetScriptHash(),
		address:    priv.Address(),
	}
}

// ScriptHash returns the account's script hash.
func (h *HopAccount) ScriptHash() util.Uint160 {
	return h.scriptHash
}

// Address returns the account's Neo N3 address.
func (h *HopAccount) Address() string {
	return h.address
}

// PrivateKey returns the signing key. Nil after Discard.
func (h *HopAccount) PrivateKey() *keys.PrivateKey {
	return h.priv
}

// WIF exports the credential for stranded-fund recovery reporting.
// Returns empty after Discard.
func (h *HopAccount) WIF() string {
	if h.priv == nil {
		return ""
	}
	return h.priv.WIF()
}

// Discard irrecoverably drops the credential: the locally held seed copy
// is zeroed and the key reference released. Called once the account is
// drained; any retained copy of a spent hop key is a standing liability.
func (h *HopAccount) Discard() {
	for i := range h.seed {
		h.seed[i] = 0
	}
	h.seed = nil
	h.priv = nil
}

// Discarded reports whether the credential has been dropped.
func (h *HopAccount) Discarded() bool {
	return h.priv == nil
}

// =============================================================================
// Sessions
// =============================================================================

// SessionStatus is the lifecycle state of a mix session.
// Flow: pending -> mixing -> completed | failed. Terminal states are
// never left.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionMixing    SessionStatus = "mixing"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// MixSession tracks one mix execution. Mutated only by the orchestrator.
type MixSession struct {
	ID              string        `json:"id"`
	Destination     string        `json:"destination"`
	RequestedAmount int64         `json:"requested_amount"`
	PlannedHops     int           `json:"planned_hops"`
	HopsCompleted   int           `json:"hops_completed"`
	Status          SessionStatus `json:"status"`
	Stage           string        `json:"stage,omitempty"`

	// Success fields.
	FinalTxHash     string `json:"final_tx_hash,omitempty"`
	DeliveredAmount int64  `json:"delivered_amount,omitempty"`
	FeesConsumed    int64  `json:"fees_consumed,omitempty"`

	// Failure fields.
	FailedHop int    `json:"failed_hop,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
	// StrandedAddress is set when recoverable funds remain in a hop
	// account. The credential itself lives only in the MixResult handed
	// to the caller, never in the session store.
	StrandedAddress string `json:"stranded_address,omitempty"`
	// StrandedSenderAddress is additionally set when an ambiguous
	// hop-to-hop transfer leaves the funds in one of two accounts:
	// StrandedAddress then names the receiving side and this the sender.
	StrandedSenderAddress string `json:"stranded_sender_address,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the session reached a final state.
func (s *MixSession) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionFailed
}

// =============================================================================
// Progress Reporting
// =============================================================================

// ProgressEvent is emitted synchronously to the caller-supplied observer
// after every funding, delegation, and transfer sub-step.
type ProgressEvent struct {
	HopsCompleted int
	TotalHops     int
	Stage         string
}

// ProgressObserver receives progress events during a mix.
type ProgressObserver interface {
	OnProgress(ev ProgressEvent)
}

// ObserverFunc adapts a function to the ProgressObserver interface.
type ObserverFunc func(ev ProgressEvent)

// OnProgress implements ProgressObserver.
func (f ObserverFunc) OnProgress(ev ProgressEvent) { f(ev) }

// =============================================================================
// Results
// =============================================================================

// MixResult is the terminal outcome of a mix.
type MixResult struct {
	Success bool

	// Success fields.
	FinalTxHash     string
	HopsExecuted    int
	DeliveredAmount int64
	FeesConsumed    int64

	// Failure fields.
	FailedHop int
	ErrorKind ErrorKind
	Err       error
	// Recoverable holds the credential of the hop account where funds
	// are (or may be) stranded. The caller is responsible for sweeping
	// it; the orchestrator performs no rollback.
	Recoverable *HopAccount
	// RecoverableSender is set only for an ambiguous hop-to-hop
	// transfer, where the funds sit either in Recoverable (the transfer
	// confirmed after the wait elapsed) or still in the sending account.
	// Both credentials are needed to sweep whichever holds the balance.
	RecoverableSender *HopAccount
}

// DelegationReceipt records a completed confidential-executor hand-off.
type DelegationReceipt struct {
	TxHash           string
	Account          string
	Executor         string
	RecommitInterval time.Duration
	DelegatedAt      time.Time
}

// =============================================================================
// Statistics
// =============================================================================

// MixStats aggregates service statistics.
type MixStats struct {
	TotalSessions     int64 `json:"total_sessions"`
	ActiveSessions    int64 `json:"active_sessions"`
	CompletedSessions int64 `json:"completed_sessions"`
	FailedSessions    int64 `json:"failed_sessions"`

	RequestedVolume int64 `json:"requested_volume"`
	DeliveredVolume int64 `json:"delivered_volume"`
	FeesConsumed    int64 `json:"fees_consumed"`

	GeneratedAt time.Time `json:"generated_at"`
}
