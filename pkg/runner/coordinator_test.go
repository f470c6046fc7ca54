package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/checkpoint"
	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/counter"
	"github.com/quorumworks/steward/pkg/ledger"
)

const coordinatorTestKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// staticFeed serves a fixed proposal list.
type staticFeed struct {
	proposals []contracts.Proposal
	err       error
}

func (f *staticFeed) ListPending(context.Context, string) ([]contracts.Proposal, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]contracts.Proposal, len(f.proposals))
	copy(out, f.proposals)
	return out, nil
}

// scriptedEngine returns pre-scripted decisions per item id.
type scriptedEngine struct {
	decisions map[string]*contracts.Decision
	errs      map[string]error
	calls     map[string]int
}

func newScriptedEngine() *scriptedEngine {
	return &scriptedEngine{
		decisions: make(map[string]*contracts.Decision),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (e *scriptedEngine) script(id string, verdict contracts.Verdict, confidence float64) {
	e.decisions[id] = &contracts.Decision{
		ItemID:          id,
		Verdict:         verdict,
		Confidence:      confidence,
		Rationale:       "scripted",
		StrategyApplied: "test",
		Timestamp:       time.Unix(1700000000, 0).UTC(),
	}
}

func (e *scriptedEngine) Decide(_ context.Context, p contracts.Proposal) (*contracts.Decision, error) {
	e.calls[p.ID]++
	if err, ok := e.errs[p.ID]; ok {
		return nil, err
	}
	d, ok := e.decisions[p.ID]
	if !ok {
		return nil, fmt.Errorf("no script for %s", p.ID)
	}
	return d, nil
}

// fakeSurface counts submissions and answers recovery lookups from its
// own records.
type fakeSurface struct {
	mu      sync.Mutex
	submits map[string]int
	refs    map[string]string
	findErr error
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{submits: make(map[string]int), refs: make(map[string]string)}
}

func (s *fakeSurface) Submit(_ context.Context, itemID string, _ *contracts.Decision) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits[itemID]++
	ref := "sub-" + itemID
	s.refs[itemID] = ref
	return ref, nil
}

func (s *fakeSurface) FindSubmission(_ context.Context, _, itemID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return "", false, s.findErr
	}
	ref, ok := s.refs[itemID]
	return ref, ok, nil
}

func (s *fakeSurface) submitCount(itemID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits[itemID]
}

// faultStore fails the Nth Save call once, simulating a crash whose
// last durable state is whatever the previous save wrote.
type faultStore struct {
	*checkpoint.MemoryStore
	mu       sync.Mutex
	saves    int
	failAt   int
	failOnce bool
}

func newFaultStore() *faultStore {
	return &faultStore{MemoryStore: checkpoint.NewMemoryStore()}
}

func (s *faultStore) Save(ctx context.Context, cp *contracts.RunCheckpoint) error {
	s.mu.Lock()
	s.saves++
	fail := s.failOnce && s.saves == s.failAt
	if fail {
		s.failOnce = false
	}
	s.mu.Unlock()
	if fail {
		return errors.New("injected store failure")
	}
	return s.MemoryStore.Save(ctx, cp)
}

// flakyLedger wraps the real ledger and rejects appends while tripped.
type flakyLedger struct {
	inner   *ledger.AttestationLedger
	mu      sync.Mutex
	tripped bool
}

func (l *flakyLedger) trip(on bool) {
	l.mu.Lock()
	l.tripped = on
	l.mu.Unlock()
}

func (l *flakyLedger) Attest(req ledger.Request) (string, error) {
	l.mu.Lock()
	tripped := l.tripped
	l.mu.Unlock()
	if tripped {
		return "", errors.New("ledger temporarily unreachable")
	}
	return l.inner.Attest(req)
}

type harness struct {
	coord   *Coordinator
	store   *faultStore
	feed    *staticFeed
	engine  *scriptedEngine
	surface *fakeSurface
	ledger  *flakyLedger
	counter *counter.LedgerCounter
	signer  *attest.Signer
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	domain := attest.Domain{
		Name:              "AttestationLedger",
		Version:           "1",
		ChainID:           1,
		VerifyingContract: attest.Address{0xc0},
	}
	signer, err := attest.NewSigner(coordinatorTestKey, domain)
	require.NoError(t, err)

	schema := attest.Hash32{0xaa, 0xbb}
	l := ledger.New(domain)
	l.RegisterSchema(schema)
	flaky := &flakyLedger{inner: l}

	ctr, err := counter.New(signer.Address(), flaky)
	require.NoError(t, err)

	h := &harness{
		store:   newFaultStore(),
		feed:    &staticFeed{},
		engine:  newScriptedEngine(),
		surface: newFakeSurface(),
		ledger:  flaky,
		counter: ctr,
		signer:  signer,
	}

	coord, err := New(Config{
		ConfidenceThreshold: 0.7,
		SchemaUID:           schema,
		Recipient:           attest.Address{0x01},
		AttestationTTL:      time.Hour,
		Retry:               fastRetry(),
	}, Deps{
		Source:  h.feed,
		Engine:  h.engine,
		Surface: h.surface,
		Signer:  signer,
		Counter: ctr,
		Store:   h.store,
	})
	require.NoError(t, err)
	h.coord = coord
	return h
}

func (h *harness) checkpoint(t *testing.T, sourceKey string) *contracts.RunCheckpoint {
	t.Helper()
	cp, err := h.store.Load(context.Background(), sourceKey)
	require.NoError(t, err)
	return cp
}

func proposal(id, sourceKey string) contracts.Proposal {
	return contracts.Proposal{ID: id, SourceKey: sourceKey, Origin: "0xfeed", Title: "prop " + id}
}

func TestRunEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{
		proposal("gp-1", "spaceA"),
		proposal("gp-2", "spaceA"),
		proposal("gp-3", "spaceA"),
	}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)
	h.engine.script("gp-2", contracts.VerdictApprove, 0.5)
	h.engine.script("gp-3", contracts.VerdictReject, 0.8)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)

	require.Equal(t, 3, summary.Decided)
	require.Equal(t, 2, summary.Submitted)
	require.Equal(t, 1, summary.Skipped)
	require.Empty(t, summary.Errors)

	require.Equal(t, 1, h.surface.submitCount("gp-1"))
	require.Equal(t, 0, h.surface.submitCount("gp-2"))
	require.Equal(t, 1, h.surface.submitCount("gp-3"))

	// Two ledger writes, two counter increments, chain intact.
	require.Equal(t, int64(2), h.counter.GetCount(h.signer.Address()).Int64())
	require.Equal(t, 2, h.ledger.inner.Length())
	ok, _ := h.ledger.inner.Verify()
	require.True(t, ok)

	cp := h.checkpoint(t, "spaceA")
	require.Empty(t, cp.InFlight)
	require.Equal(t, contracts.OutcomeSubmitted, cp.Completed["gp-1"])
	require.Equal(t, contracts.OutcomeSkipped, cp.Completed["gp-2"])
	require.Equal(t, contracts.OutcomeSubmitted, cp.Completed["gp-3"])
	require.NoError(t, cp.Invariant())
	require.False(t, cp.Unclean())
}

func TestRunIdempotentAcrossRuns(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{proposal("gp-1", "spaceA")}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.95)

	_, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Decided)
	require.Equal(t, 0, summary.Submitted)
	require.Equal(t, 1, h.surface.submitCount("gp-1"))
	require.Equal(t, 1, h.engine.calls["gp-1"])
	require.Equal(t, int64(1), h.counter.GetCount(h.signer.Address()).Int64())
}

func TestCrashAfterSubmitBeforeRecordDoesNotDoubleSubmit(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{proposal("gp-1", "spaceA")}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)

	// Saves: 1 run start, 2 in-flight, 3 decision record, 4 submission
	// record. Failing save 4 leaves the vote submitted but unrecorded,
	// exactly the window recovery has to close.
	h.store.failAt = 4
	h.store.failOnce = true

	_, err := h.coord.Run(context.Background(), "spaceA")
	require.ErrorIs(t, err, ErrCheckpointUnavailable)
	require.Equal(t, 1, h.surface.submitCount("gp-1"))

	cp := h.checkpoint(t, "spaceA")
	require.Contains(t, cp.InFlight, "gp-1")
	require.Empty(t, cp.InFlight["gp-1"].SubmissionReference)
	// The decision content survived the crash; recovery attests from
	// it rather than inventing an empty verdict.
	require.Equal(t, contracts.VerdictApprove, cp.InFlight["gp-1"].Verdict)
	require.NotEmpty(t, cp.InFlight["gp-1"].DecisionDigest)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Recovered)
	require.Equal(t, 0, summary.Submitted)

	// Recovery found the submission and attested; it never re-voted.
	require.Equal(t, 1, h.surface.submitCount("gp-1"))
	require.Equal(t, int64(1), h.counter.GetCount(h.signer.Address()).Int64())

	// The recovered attestation carries the full decision content.
	require.Equal(t, 1, h.ledger.inner.Length())
	entry, err := h.ledger.inner.Get(1)
	require.NoError(t, err)
	rec, err := entry.Record()
	require.NoError(t, err)
	require.Equal(t, contracts.VerdictApprove, rec.Verdict)
	require.NotEmpty(t, rec.DecisionDigest)
	require.Equal(t, "sub-gp-1", rec.SubmissionReference)

	cp = h.checkpoint(t, "spaceA")
	require.Empty(t, cp.InFlight)
	require.Equal(t, contracts.OutcomeSubmitted, cp.Completed["gp-1"])
}

func TestRecoverySkipsEntryMissingDecisionContent(t *testing.T) {
	h := newHarness(t)

	// A checkpoint written before the decision content reached it: the
	// surface has the vote, but verdict and digest are absent. Attesting
	// would put a content-less proof on the append-only ledger.
	h.surface.refs["gp-1"] = "sub-gp-1"
	cp := contracts.NewRunCheckpoint("spaceA")
	require.NoError(t, cp.MarkInFlight("gp-1", time.Now().UTC()))
	cp.LastRunStartedAt = time.Now().UTC()
	require.NoError(t, h.store.Save(context.Background(), cp))

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Recovered)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, contracts.PhaseRecovery, summary.Errors[0].Phase)

	// Nothing reached the ledger and the anomaly stays visible.
	require.Equal(t, 0, h.ledger.inner.Length())
	require.Contains(t, h.checkpoint(t, "spaceA").InFlight, "gp-1")
}

func TestRecoveryReenqueuesUnsubmittedItem(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{proposal("gp-1", "spaceA")}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)

	// Crash after the in-flight record, before any submission.
	cp := contracts.NewRunCheckpoint("spaceA")
	require.NoError(t, cp.MarkInFlight("gp-1", time.Now().UTC()))
	cp.LastRunStartedAt = time.Now().UTC()
	require.NoError(t, h.store.Save(context.Background(), cp))

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)

	// The surface has no record, so the item goes through the normal
	// pipeline once.
	require.Equal(t, 0, summary.Recovered)
	require.Equal(t, 1, summary.Submitted)
	require.Equal(t, 1, h.surface.submitCount("gp-1"))
	require.Equal(t, int64(1), h.counter.GetCount(h.signer.Address()).Int64())
}

func TestAttestationFailureRetriedNextRunWithoutRevoting(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{proposal("gp-1", "spaceA")}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)

	h.ledger.trip(true)
	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Submitted)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, contracts.PhaseAttestation, summary.Errors[0].Phase)

	// Rejected forwards must not leave the counter incremented.
	require.Equal(t, int64(0), h.counter.GetCount(h.signer.Address()).Int64())

	cp := h.checkpoint(t, "spaceA")
	require.Equal(t, "sub-gp-1", cp.InFlight["gp-1"].SubmissionReference)
	require.Equal(t, contracts.VerdictApprove, cp.InFlight["gp-1"].Verdict)

	h.ledger.trip(false)
	summary, err = h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Recovered)
	require.Equal(t, 1, h.surface.submitCount("gp-1"))
	require.Equal(t, int64(1), h.counter.GetCount(h.signer.Address()).Int64())
	require.Equal(t, contracts.OutcomeSubmitted, h.checkpoint(t, "spaceA").Completed["gp-1"])
}

func TestDecisionFailureIsTerminalForRun(t *testing.T) {
	h := newHarness(t)
	h.feed.proposals = []contracts.Proposal{
		proposal("gp-1", "spaceA"),
		proposal("gp-2", "spaceA"),
	}
	h.engine.errs["gp-1"] = errors.New("model overloaded")
	h.engine.script("gp-2", contracts.VerdictApprove, 0.9)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Len(t, summary.Errors, 1)
	require.Equal(t, contracts.PhaseDecision, summary.Errors[0].Phase)
	require.Equal(t, 1, summary.Submitted)

	cp := h.checkpoint(t, "spaceA")
	require.Equal(t, contracts.OutcomeFailed, cp.Completed["gp-1"])
	require.Equal(t, contracts.OutcomeSubmitted, cp.Completed["gp-2"])
	require.Equal(t, 0, h.surface.submitCount("gp-1"))
}

func TestDryRunSimulatesWithoutSideEffects(t *testing.T) {
	h := newHarness(t)
	h.coord.cfg.DryRun = true
	h.feed.proposals = []contracts.Proposal{proposal("gp-1", "spaceA")}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Simulated)
	require.Equal(t, 0, h.surface.submitCount("gp-1"))
	require.Equal(t, int64(0), h.counter.GetCount(h.signer.Address()).Int64())
	require.Equal(t, contracts.OutcomeSimulated, h.checkpoint(t, "spaceA").Completed["gp-1"])
}

func TestMaxItemsPerRunCap(t *testing.T) {
	h := newHarness(t)
	h.coord.cfg.MaxItemsPerRun = 1
	h.feed.proposals = []contracts.Proposal{
		proposal("gp-1", "spaceA"),
		proposal("gp-2", "spaceA"),
	}
	h.engine.script("gp-1", contracts.VerdictApprove, 0.9)
	h.engine.script("gp-2", contracts.VerdictApprove, 0.9)

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Decided)

	// The overflow item was not marked in any way; the next run picks
	// it up naturally.
	cp := h.checkpoint(t, "spaceA")
	require.NotContains(t, cp.Completed, "gp-2")
	require.NotContains(t, cp.InFlight, "gp-2")

	summary, err = h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 1, summary.Decided)
	require.Equal(t, 1, h.surface.submitCount("gp-2"))
}

func TestFilteredItemsAreNotCompleted(t *testing.T) {
	h := newHarness(t)
	f, err := NewFilter(nil, []string{"0xbad"}, "")
	require.NoError(t, err)
	h.coord.deps.Filter = f

	denied := proposal("gp-1", "spaceA")
	denied.Origin = "0xBAD"
	h.feed.proposals = []contracts.Proposal{denied}

	summary, err := h.coord.Run(context.Background(), "spaceA")
	require.NoError(t, err)
	require.Equal(t, 0, summary.Decided)
	require.Equal(t, 0, h.engine.calls["gp-1"])

	// Deny lists can change between runs, so exclusion is not
	// terminal.
	require.NotContains(t, h.checkpoint(t, "spaceA").Completed, "gp-1")
}

func TestConcurrentRunForSameKeyRejected(t *testing.T) {
	h := newHarness(t)
	lock := NewLocalLock()
	h.coord.deps.Lock = lock

	release, err := lock.Acquire(context.Background(), "spaceA")
	require.NoError(t, err)
	defer release()

	_, err = h.coord.Run(context.Background(), "spaceA")
	require.ErrorIs(t, err, ErrRunInProgress)
}

func TestRunAfterQuiesceRejected(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, h.coord.Quiesce(ctx))

	_, err := h.coord.Run(context.Background(), "spaceA")
	require.ErrorIs(t, err, ErrShuttingDown)
}

func TestFeedOutageFailsRun(t *testing.T) {
	h := newHarness(t)
	h.feed.err = errors.New("feed down")

	_, err := h.coord.Run(context.Background(), "spaceA")
	require.Error(t, err)
	require.Contains(t, err.Error(), "proposal feed unreachable")
}
