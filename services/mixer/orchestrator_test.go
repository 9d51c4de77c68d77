package mixer

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/nspcc-dev/neo-go/pkg/core/transaction"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/neomix/internal/chain"
	"github.com/R3E-Network/neomix/pkg/logger"
	"github.com/R3E-Network/neomix/pkg/testutil"
)

const testMagic uint32 = 894710606

func testConfig() MixerConfig {
	return MixerConfig{
		MinHops:        2,
		MaxHops:        4,
		MinDelay:       0,
		MaxDelay:       0,
		MinAmount:      1_0000_0000,
		FeeReserve:     100_0000,
		ConfirmTimeout: time.Second,
	}
}

func newTestOrchestrator(t *testing.T, cfg MixerConfig, ledger Ledger) (*Orchestrator, *Store) {
	t.Helper()
	store := NewStore()
	orch, err := NewOrchestrator(cfg, ledger, store, logger.Nop())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch, store
}

func fundedSource(t *testing.T, ml *testutil.MockLedger, amount int64) *HopAccount {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate source key: %v", err)
	}
	src := NewHopAccountFromKey(priv)
	ml.Fund(src.ScriptHash(), amount)
	return src
}

func newDestination(t *testing.T) util.Uint160 {
	t.Helper()
	priv, err := keys.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate destination key: %v", err)
	}
	return priv.GetScriptHash()
}

func runMix(t *testing.T, orch *Orchestrator, req *MixRequest, obs ProgressObserver) (string, *MixResult) {
	t.Helper()
	sess := orch.NewSession(req)
	return sess.ID, orch.Run(context.Background(), sess, req, obs)
}

func TestMixDeliversMinusFees(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	orch, store := newTestOrchestrator(t, cfg, ml)

	const amount = 5_0000_0000
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	id, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	if res.HopsExecuted < cfg.MinHops || res.HopsExecuted > cfg.MaxHops {
		t.Fatalf("hop count %d outside [%d, %d]", res.HopsExecuted, cfg.MinHops, cfg.MaxHops)
	}

	wantDelivered := amount - int64(res.HopsExecuted)*cfg.FeeReserve
	if res.DeliveredAmount != wantDelivered {
		t.Fatalf("delivered %d, want %d", res.DeliveredAmount, wantDelivered)
	}
	if res.FeesConsumed != int64(res.HopsExecuted)*cfg.FeeReserve {
		t.Fatalf("fees %d, want %d", res.FeesConsumed, int64(res.HopsExecuted)*cfg.FeeReserve)
	}
	if got := ml.Balance(dest); got != wantDelivered {
		t.Fatalf("destination balance %d, want %d", got, wantDelivered)
	}
	if res.FinalTxHash == "" {
		t.Fatal("missing final transaction hash")
	}

	sess, ok := store.Get(id)
	if !ok {
		t.Fatal("session not stored")
	}
	if sess.Status != SessionCompleted {
		t.Fatalf("session status %q, want completed", sess.Status)
	}
	if sess.DeliveredAmount != wantDelivered || sess.HopsCompleted != res.HopsExecuted {
		t.Fatalf("session snapshot mismatch: %+v", sess)
	}
	if sess.StrandedAddress != "" {
		t.Fatalf("completed session carries stranded address %q", sess.StrandedAddress)
	}
}

func TestSingleHopMix(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.MinHops = 1
	cfg.MaxHops = 1
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	if res.HopsExecuted != 1 {
		t.Fatalf("hops executed %d, want 1", res.HopsExecuted)
	}
	if res.DeliveredAmount != amount-cfg.FeeReserve {
		t.Fatalf("delivered %d, want %d", res.DeliveredAmount, amount-cfg.FeeReserve)
	}
	// One funding plus one delivery.
	if got := ml.SubmitCount(); got != 2 {
		t.Fatalf("submissions %d, want 2", got)
	}
}

func TestHopCountStaysWithinConfiguredBounds(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.MinHops = 3
	cfg.MaxHops = 5
	orch, _ := newTestOrchestrator(t, cfg, ml)

	dest := newDestination(t)
	for i := 0; i < 8; i++ {
		src := fundedSource(t, ml, 3_0000_0000)
		_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: 3_0000_0000}, nil)
		if !res.Success {
			t.Fatalf("mix %d failed: %v", i, res.Err)
		}
		if res.HopsExecuted < 3 || res.HopsExecuted > 5 {
			t.Fatalf("mix %d: hop count %d outside [3, 5]", i, res.HopsExecuted)
		}
	}
}

func TestAmountBelowMinimumTouchesNoLedgerState(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	orch, store := newTestOrchestrator(t, cfg, ml)

	src := fundedSource(t, ml, cfg.MinAmount)
	dest := newDestination(t)

	id, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: cfg.MinAmount - 1}, nil)
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.ErrorKind != KindAmountTooSmall {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindAmountTooSmall)
	}
	if res.Recoverable != nil {
		t.Fatal("rejection before funding must not report a credential")
	}
	if ml.SubmitCount() != 0 || ml.StateCount() != 0 {
		t.Fatalf("ledger touched: %d submissions, %d state fetches", ml.SubmitCount(), ml.StateCount())
	}
	if got := ml.Balance(src.ScriptHash()); got != cfg.MinAmount {
		t.Fatalf("source balance changed to %d", got)
	}

	sess, _ := store.Get(id)
	if sess.Status != SessionFailed || sess.FailedHop != 0 {
		t.Fatalf("session %+v, want failed before hop 1", sess)
	}
}

func TestSubmissionRejectedAtFirstFunding(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	ml.SubmitHook = func(call int, tx *transaction.Transaction) error {
		return fmt.Errorf("mempool full")
	}
	cfg := testConfig()
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindSubmission {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindSubmission)
	}
	if res.FailedHop != 1 {
		t.Fatalf("failed hop %d, want 1", res.FailedHop)
	}
	// The rejection is definitive: funds never left the source, so no
	// recovery credential is reported.
	if res.Recoverable != nil {
		t.Fatal("definitive rejection at funding must not report a credential")
	}
	if got := ml.Balance(src.ScriptHash()); got != amount {
		t.Fatalf("source balance %d, want untouched %d", got, amount)
	}
	if got := ml.Balance(dest); got != 0 {
		t.Fatalf("destination balance %d, want 0", got)
	}
}

func TestConfirmationTimeoutStopsTheChain(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	// First confirmation (funding hop 1) succeeds; the second (hop 1's
	// outbound transfer) times out.
	ml.ConfirmHook = func(call int, txHash string) error {
		if call == 1 {
			return fmt.Errorf("waiting for %s: %w", txHash, chain.ErrConfirmationTimeout)
		}
		return nil
	}
	cfg := testConfig()
	orch, store := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	id, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindConfirmationTimeout {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindConfirmationTimeout)
	}
	if res.FailedHop != 1 {
		t.Fatalf("failed hop %d, want 1", res.FailedHop)
	}
	// No further hops: only the funding of hop 1 and the ambiguous
	// outbound were ever submitted.
	if got := ml.SubmitCount(); got != 2 {
		t.Fatalf("submissions %d, want 2", got)
	}
	// The funds sit on one of the two sides of the timed-out transfer,
	// so both credentials must come back still usable.
	if res.Recoverable == nil || res.Recoverable.WIF() == "" {
		t.Fatal("ambiguous outcome must report the receiving hop credential")
	}
	if res.RecoverableSender == nil || res.RecoverableSender.WIF() == "" {
		t.Fatal("ambiguous outcome must report the sending hop credential")
	}
	// In this simulation the transfer did land: nearly the whole amount
	// is in the receiving account, and its key is the one reported as
	// Recoverable — not the drained sender's.
	wantStranded := amount - cfg.FeeReserve
	if got := ml.Balance(res.Recoverable.ScriptHash()); got != wantStranded {
		t.Fatalf("receiver balance %d, want %d", got, wantStranded)
	}
	if got := ml.Balance(res.RecoverableSender.ScriptHash()); got != cfg.FeeReserve {
		t.Fatalf("sender residue %d, want %d", got, cfg.FeeReserve)
	}

	sess, _ := store.Get(id)
	if sess.Status != SessionFailed || sess.StrandedAddress != res.Recoverable.Address() {
		t.Fatalf("session %+v does not record the stranded account", sess)
	}
	if sess.StrandedSenderAddress != res.RecoverableSender.Address() {
		t.Fatalf("session %+v does not record the sending account", sess)
	}
}

func TestTimeoutIsNeverRetried(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	timeouts := 0
	ml.ConfirmHook = func(call int, txHash string) error {
		if call >= 1 {
			timeouts++
			return fmt.Errorf("waiting for %s: %w", txHash, chain.ErrConfirmationTimeout)
		}
		return nil
	}
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	src := fundedSource(t, ml, 2_0000_0000)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: 2_0000_0000}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if timeouts != 1 {
		t.Fatalf("confirmation retried %d times after an ambiguous timeout", timeouts-1)
	}
}

func TestStaleStateReferenceRetriedOnce(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	ml.StateErrs = []error{fmt.Errorf("state height unavailable")}
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: amount}, nil)
	if !res.Success {
		t.Fatalf("mix failed despite retryable state error: %v", res.Err)
	}
}

func TestStaleStateExhaustedFailsBeforeFunding(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	ml.StateErrs = []error{
		fmt.Errorf("state height unavailable"),
		fmt.Errorf("state height unavailable"),
	}
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: amount}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindStaleState {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindStaleState)
	}
	if res.Recoverable != nil {
		t.Fatal("no funds moved, no credential expected")
	}
	if ml.SubmitCount() != 0 {
		t.Fatalf("submissions %d, want 0", ml.SubmitCount())
	}
}

func TestCancellationReportsLastFundedHop(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	ctx, cancel := context.WithCancel(context.Background())
	ml.SubmitHook = func(call int, tx *transaction.Transaction) error {
		if call == 0 {
			cancel()
		}
		return nil
	}
	cfg := testConfig()
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	req := &MixRequest{Source: src, Destination: newDestination(t), Amount: amount}
	sess := orch.NewSession(req)
	res := orch.Run(ctx, sess, req, nil)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindCanceled {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindCanceled)
	}
	if res.Recoverable == nil {
		t.Fatal("cancellation after funding must report the funded hop credential")
	}
	// The full amount sits in hop 1 and nowhere else.
	if got := ml.Balance(res.Recoverable.ScriptHash()); got != amount {
		t.Fatalf("stranded balance %d, want %d", got, amount)
	}
	if got := ml.SubmitCount(); got != 1 {
		t.Fatalf("submissions %d, want 1", got)
	}
}

func TestDelegationDisabledIssuesNoDelegations(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	src := fundedSource(t, ml, 2_0000_0000)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: 2_0000_0000}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	if got := ml.DelegationCount(); got != 0 {
		t.Fatalf("delegations %d, want 0", got)
	}
}

func TestDelegationEnabledDelegatesEveryHop(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.Delegation = DelegationConfig{
		Enabled:          true,
		ExecutorContract: "0xd2a4cff31913016155e38e474a2c06d08be276cf",
		RecommitInterval: time.Minute,
	}
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 3_0000_0000
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	if got := ml.DelegationCount(); got != res.HopsExecuted {
		t.Fatalf("delegations %d, want one per hop (%d)", got, res.HopsExecuted)
	}
	if got := ml.Balance(dest); got != res.DeliveredAmount {
		t.Fatalf("destination balance %d, want %d", got, res.DeliveredAmount)
	}
}

func TestDelegationFailureIsFatal(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	ml.SubmitHook = func(call int, tx *transaction.Transaction) error {
		if bytes.Contains(tx.Script, []byte("delegate")) {
			return fmt.Errorf("executor contract rejected authorization")
		}
		return nil
	}
	cfg := testConfig()
	cfg.Delegation = DelegationConfig{
		Enabled:          true,
		ExecutorContract: "d2a4cff31913016155e38e474a2c06d08be276cf",
		RecommitInterval: time.Minute,
	}
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: amount}, nil)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindDelegationFailed {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindDelegationFailed)
	}
	if res.FailedHop != 1 {
		t.Fatalf("failed hop %d, want 1", res.FailedHop)
	}
	if res.Recoverable == nil {
		t.Fatal("funds sit in the funded hop; credential must be reported")
	}
	if got := ml.Balance(res.Recoverable.ScriptHash()); got != amount {
		t.Fatalf("stranded balance %d, want %d", got, amount)
	}
}

func TestHopCredentialsAreUniqueAcrossMixes(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	sources := make(map[util.Uint160]bool)
	dest := newDestination(t)
	for i := 0; i < 3; i++ {
		src := fundedSource(t, ml, 2_0000_0000)
		sources[src.ScriptHash()] = true
		_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: 2_0000_0000}, nil)
		if !res.Success {
			t.Fatalf("mix %d failed: %v", i, res.Err)
		}
	}

	seen := make(map[util.Uint160]bool)
	for _, tx := range ml.Submitted() {
		_, to, _, ok := testutil.DecodeTransfer(tx.Script)
		if !ok || to == dest {
			continue
		}
		if sources[to] {
			t.Fatalf("hop recipient %s collides with a source account", to.StringLE())
		}
		if seen[to] {
			t.Fatalf("hop account %s reused", to.StringLE())
		}
		seen[to] = true
	}
	if len(seen) == 0 {
		t.Fatal("no hop accounts observed")
	}
}

func TestDrainedCredentialsAreDiscarded(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	src := fundedSource(t, ml, 2_0000_0000)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: 2_0000_0000}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	// Success leaves nothing recoverable: every hop credential was
	// discarded as its account drained.
	if res.Recoverable != nil {
		t.Fatal("completed mix retained a hop credential")
	}
}

func TestDeliveryFloorInfeasiblePlanRejectedUpfront(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.MinHops = 2
	cfg.MaxHops = 2
	orch, store := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	src := fundedSource(t, ml, amount)
	// No plan can deliver the full amount: every hop withholds a reserve.
	req := &MixRequest{Source: src, Destination: newDestination(t), Amount: amount, MinDelivered: amount}
	id, res := runMix(t, orch, req, nil)
	if res.Success {
		t.Fatal("expected rejection")
	}
	if res.ErrorKind != KindUnderDelivery {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindUnderDelivery)
	}
	if res.Recoverable != nil {
		t.Fatal("rejection before funding must not report a credential")
	}
	if ml.SubmitCount() != 0 || ml.StateCount() != 0 {
		t.Fatalf("ledger touched: %d submissions, %d state fetches", ml.SubmitCount(), ml.StateCount())
	}

	sess, _ := store.Get(id)
	if sess.Status != SessionFailed || sess.FailedHop != 0 {
		t.Fatalf("session %+v, want failed before hop 1", sess)
	}
}

func TestDeliveryFloorEnforcedBeforeFinalTransfer(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.MinHops = 2
	cfg.MaxHops = 2
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	floor := amount - 2*cfg.FeeReserve
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	// Drain a little extra from hop 2 once it is funded, as real network
	// fees beyond the reserve would.
	obs := ObserverFunc(func(ev ProgressEvent) {
		if ev.Stage != "hop 2 funded" {
			return
		}
		txs := ml.Submitted()
		_, to, _, ok := testutil.DecodeTransfer(txs[len(txs)-1].Script)
		if !ok {
			t.Fatal("cannot decode hop 2 funding transfer")
		}
		ml.Fund(to, -cfg.FeeReserve)
	})

	req := &MixRequest{Source: src, Destination: dest, Amount: amount, MinDelivered: floor}
	_, res := runMix(t, orch, req, obs)
	if res.Success {
		t.Fatal("expected failure")
	}
	if res.ErrorKind != KindUnderDelivery {
		t.Fatalf("error kind %q, want %q", res.ErrorKind, KindUnderDelivery)
	}
	if res.FailedHop != 2 {
		t.Fatalf("failed hop %d, want 2", res.FailedHop)
	}
	// Nothing was delivered; the remainder is recoverable from hop 2.
	if got := ml.Balance(dest); got != 0 {
		t.Fatalf("destination balance %d, want 0", got)
	}
	if res.Recoverable == nil {
		t.Fatal("funds sit in the last hop; credential must be reported")
	}
	wantStranded := amount - 2*cfg.FeeReserve
	if got := ml.Balance(res.Recoverable.ScriptHash()); got != wantStranded {
		t.Fatalf("stranded balance %d, want %d", got, wantStranded)
	}
}

func TestDeliveryFloorMetDeliversExactly(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	cfg := testConfig()
	cfg.MinHops = 2
	cfg.MaxHops = 2
	orch, _ := newTestOrchestrator(t, cfg, ml)

	const amount = 2_0000_0000
	floor := amount - 2*cfg.FeeReserve
	src := fundedSource(t, ml, amount)
	dest := newDestination(t)

	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: dest, Amount: amount, MinDelivered: floor}, nil)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}
	if res.DeliveredAmount != floor {
		t.Fatalf("delivered %d, want %d", res.DeliveredAmount, floor)
	}
}

func TestProgressReportedAtEverySubStep(t *testing.T) {
	ml := testutil.NewMockLedger(testMagic)
	orch, _ := newTestOrchestrator(t, testConfig(), ml)

	rec := &testutil.RecordingObserver{}
	obs := ObserverFunc(func(ev ProgressEvent) {
		rec.Record(ev.HopsCompleted, ev.TotalHops, ev.Stage)
	})

	src := fundedSource(t, ml, 2_0000_0000)
	_, res := runMix(t, orch, &MixRequest{Source: src, Destination: newDestination(t), Amount: 2_0000_0000}, obs)
	if !res.Success {
		t.Fatalf("mix failed: %v", res.Err)
	}

	events := rec.Events()
	if len(events) < 2+res.HopsExecuted {
		t.Fatalf("only %d progress events for %d hops", len(events), res.HopsExecuted)
	}
	last := events[len(events)-1]
	if last.Stage != "mix completed" {
		t.Fatalf("final stage %q, want mix completed", last.Stage)
	}
	if last.HopsCompleted != res.HopsExecuted || last.TotalHops != res.HopsExecuted {
		t.Fatalf("final event %+v inconsistent with %d executed hops", last, res.HopsExecuted)
	}
	for _, ev := range events {
		if ev.TotalHops != res.HopsExecuted {
			t.Fatalf("event %+v reports wrong planned total", ev)
		}
	}
}
