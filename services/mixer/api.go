package mixer

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/encoding/address"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/httputil"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

// RegisterRoutes mounts the mixing API on the router.
func (s *Service) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/mix", s.handleStartMix).Methods(http.MethodPost)
	r.HandleFunc("/mixes", s.handleListMixes).Methods(http.MethodGet)
	r.HandleFunc("/mixes/{id}", s.handleGetMix).Methods(http.MethodGet)
	r.HandleFunc("/mixes/{id}/recovery", s.handleClaimRecovery).Methods(http.MethodPost)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/sweep", s.handleSweep).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// StartMixInput is the request body for POST /mix.
type StartMixInput struct {
	// SourceWIF is the credential holding the funds to mix. It is used
	// for signing only and never persisted.
	SourceWIF   string `json:"source_wif"`
	Destination string `json:"destination"`
	Amount      int64  `json:"amount"`
	// MinDelivered is an optional floor on the delivered amount; the mix
	// fails instead of delivering less.
	MinDelivered int64 `json:"min_delivered,omitempty"`
	// Async returns immediately with the session ID instead of blocking
	// until the mix completes. Stranded credentials of a failed
	// asynchronous mix wait for one POST /mixes/{id}/recovery claim.
	Async bool `json:"async,omitempty"`
}

// RecoveryCredential reports a stranded hop credential to the caller.
// This response is the only copy; the service retains nothing.
type RecoveryCredential struct {
	Address string `json:"address"`
	WIF     string `json:"wif"`
}

// MixOutput is the terminal response for a synchronous mix.
type MixOutput struct {
	SessionID       string              `json:"session_id"`
	Success         bool                `json:"success"`
	FinalTxHash     string              `json:"final_tx_hash,omitempty"`
	HopsExecuted    int                 `json:"hops_executed,omitempty"`
	DeliveredAmount int64               `json:"delivered_amount,omitempty"`
	FeesConsumed    int64               `json:"fees_consumed,omitempty"`
	FailedHop       int                 `json:"failed_hop,omitempty"`
	ErrorKind       string              `json:"error_kind,omitempty"`
	Error           string              `json:"error,omitempty"`
	Recovery        *RecoveryCredential `json:"recovery,omitempty"`
	// RecoverySender is present when an ambiguous transfer leaves the
	// funds in one of two accounts; Recovery then names the receiving
	// side and this the sending side.
	RecoverySender *RecoveryCredential `json:"recovery_sender,omitempty"`
}

// recoveryOf exports a still-held credential, or nil.
func recoveryOf(acct *HopAccount) *RecoveryCredential {
	if acct == nil || acct.Discarded() {
		return nil
	}
	return &RecoveryCredential{Address: acct.Address(), WIF: acct.WIF()}
}

func (s *Service) handleStartMix(w http.ResponseWriter, r *http.Request) {
	var input StartMixInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}

	req, err := s.parseMixRequest(&input)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if input.Async {
		// The mix outlives the request: the request context is canceled
		// as soon as the response is written.
		id := s.StartMixAsync(context.WithoutCancel(r.Context()), req, nil, nil)
		httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"session_id": id})
		return
	}

	id, res := s.StartMix(r.Context(), req, nil)
	out := MixOutput{
		SessionID:       id,
		Success:         res.Success,
		FinalTxHash:     res.FinalTxHash,
		HopsExecuted:    res.HopsExecuted,
		DeliveredAmount: res.DeliveredAmount,
		FeesConsumed:    res.FeesConsumed,
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
		out.FailedHop = res.FailedHop
		out.ErrorKind = string(res.ErrorKind)
		if res.Err != nil {
			out.Error = res.Err.Error()
		}
		out.Recovery = recoveryOf(res.Recoverable)
		out.RecoverySender = recoveryOf(res.RecoverableSender)
	}
	httputil.WriteJSON(w, status, out)
}

// handleClaimRecovery hands out the stranded credentials of a failed
// asynchronous mix. One claim per session: the response is the only
// copy and the service forgets the credentials on hand-off.
func (s *Service) handleClaimRecovery(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	res, ok := s.ClaimRecovery(id)
	if !ok {
		httputil.NotFound(w, "no unclaimed recovery for session")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"session_id":      id,
		"recovery":        recoveryOf(res.Recoverable),
		"recovery_sender": recoveryOf(res.RecoverableSender),
	})
}

func (s *Service) parseMixRequest(input *StartMixInput) (*MixRequest, error) {
	if input.SourceWIF == "" {
		return nil, errMissing("source_wif")
	}
	if input.Destination == "" {
		return nil, errMissing("destination")
	}
	if input.Amount <= 0 {
		return nil, errMissing("positive amount")
	}
	if input.MinDelivered < 0 {
		return nil, errMissing("non-negative min_delivered")
	}
	if input.MinDelivered > input.Amount {
		return nil, &fieldError{msg: "min_delivered exceeds amount"}
	}

	priv, err := keys.NewPrivateKeyFromWIF(input.SourceWIF)
	if err != nil {
		return nil, errInvalid("source_wif", err)
	}
	dest, err := address.StringToUint160(input.Destination)
	if err != nil {
		// Accept a raw script hash as well as an address.
		dest, err = util.Uint160DecodeStringLE(trim0x(input.Destination))
		if err != nil {
			return nil, errInvalid("destination", err)
		}
	}

	return &MixRequest{
		Source:       NewHopAccountFromKey(priv),
		Destination:  dest,
		Amount:       input.Amount,
		MinDelivered: input.MinDelivered,
	}, nil
}

func (s *Service) handleGetMix(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, ok := s.GetSession(id)
	if !ok {
		httputil.NotFound(w, "session not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sess)
}

func (s *Service) handleListMixes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.ListSessions())
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.Stats())
}

// SweepInput is the request body for POST /sweep.
type SweepInput struct {
	WIF         string `json:"wif"`
	Destination string `json:"destination"`
}

func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	var input SweepInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	if input.WIF == "" {
		httputil.BadRequest(w, "wif required")
		return
	}
	dest, err := address.StringToUint160(input.Destination)
	if err != nil {
		dest, err = util.Uint160DecodeStringLE(trim0x(input.Destination))
		if err != nil {
			httputil.BadRequest(w, "invalid destination")
			return
		}
	}

	res, err := s.Sweep(r.Context(), input.WIF, dest)
	if err != nil {
		httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	httputil.WriteSuccess(w, res)
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "healthy",
		"service": "neomix",
	})
}

type fieldError struct {
	msg string
}

func (e *fieldError) Error() string { return e.msg }

func errMissing(field string) error { return &fieldError{msg: field + " required"} }
func errInvalid(field string, err error) error {
	return &fieldError{msg: "invalid " + field + ": " + err.Error()}
}
