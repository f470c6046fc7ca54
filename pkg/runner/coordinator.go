// Package runner orchestrates agent runs: recovery, candidate
// selection, per-item decide/submit/attest pipeline, and checkpoint
// barriers. One coordinator instance drives at most one run per source
// key at a time.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/quorumworks/steward/pkg/attest"
	"github.com/quorumworks/steward/pkg/checkpoint"
	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/counter"
	"github.com/quorumworks/steward/pkg/crypto"
	"github.com/quorumworks/steward/pkg/engine"
	"github.com/quorumworks/steward/pkg/execution"
	"github.com/quorumworks/steward/pkg/feed"
)

// Metrics receives per-run telemetry. Implementations must be cheap;
// they run on the hot path.
type Metrics interface {
	RecordRun(ctx context.Context, summary *contracts.RunSummary)
}

// Config tunes one coordinator.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type Config struct {
	ConfidenceThreshold float64
	MaxItemsPerRun      int
	DryRun              bool

	SchemaUID attest.Hash32
	Recipient attest.Address
	// AttestationTTL is the signature deadline horizon. Recovery
	// signs afresh rather than reusing an old payload: deadlines
	// expire.
	AttestationTTL time.Duration

	Retry RetryPolicy
}

// Deps are the coordinator's collaborators, injected explicitly.
type Deps struct {
	Source  feed.Source
	Engine  engine.Engine
	Surface execution.Surface
	Signer  *attest.Signer
	Counter *counter.LedgerCounter
	Store   checkpoint.Store
	Filter  *Filter
	Lock    RunLock
	Metrics Metrics
	Logger  *slog.Logger
}

// Coordinator runs the decide/submit/attest pipeline for one agent.
type Coordinator struct {
	cfg  Config
	deps Deps

	logger *slog.Logger
	clock  func() time.Time

	quiesced atomic.Bool
	active   sync.WaitGroup
}

// New validates and wires the coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	switch {
	case deps.Source == nil:
		return nil, fmt.Errorf("proposal source is required")
	case deps.Engine == nil:
		return nil, fmt.Errorf("decision engine is required")
	case deps.Surface == nil:
		return nil, fmt.Errorf("execution surface is required")
	case deps.Signer == nil:
		return nil, fmt.Errorf("attestation signer is required")
	case deps.Counter == nil:
		return nil, fmt.Errorf("ledger counter is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if deps.Lock == nil {
		deps.Lock = NewLocalLock()
	}
	if deps.Filter == nil {
		f, err := NewFilter(nil, nil, "")
		if err != nil {
			return nil, err
		}
		deps.Filter = f
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AttestationTTL == 0 {
		cfg.AttestationTTL = time.Hour
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With("component", "runner"),
		clock:  time.Now,
	}, nil
}

// WithClock overrides the clock for testing.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}

// Run executes one agent run for the source key. Individual item
// failures land in the summary; Run itself fails only when the
// proposal feed or the checkpoint store is unreachable, or when a run
// for the key is already in progress.
func (c *Coordinator) Run(ctx context.Context, sourceKey string) (*contracts.RunSummary, error) {
	if c.quiesced.Load() {
		return nil, ErrShuttingDown
	}
	c.active.Add(1)
	defer c.active.Done()

	release, err := c.deps.Lock.Acquire(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	defer release()

	started := c.clock().UTC()
	cp, err := c.load(ctx, sourceKey)
	if err != nil {
		return nil, err
	}
	if cp.Unclean() {
		c.logger.Warn("previous run did not shut down cleanly",
			"source_key", sourceKey, "in_flight", len(cp.InFlight))
	}

	summary := &contracts.RunSummary{
		RunID:     uuid.NewString(),
		SourceKey: sourceKey,
		StartedAt: started,
	}

	cp.LastRunStartedAt = started
	if err := c.save(ctx, cp); err != nil {
		return nil, err
	}

	// Recovery must finish before any new item is considered; it is
	// the sole mechanism preventing double submission after a crash.
	if err := c.recover(ctx, cp, summary); err != nil {
		return summary, err
	}

	proposals, err := c.listCandidates(ctx, cp)
	if err != nil {
		return summary, err
	}

	for _, p := range proposals {
		if c.quiesced.Load() {
			c.logger.Info("quiesce requested, not starting next item", "item_id", p.ID)
			break
		}
		if err := c.processItem(ctx, cp, summary, p); err != nil {
			return summary, err
		}
	}

	cp.LastRunFinishedAt = c.clock().UTC()
	if err := c.save(ctx, cp); err != nil {
		return summary, err
	}

	summary.EndedAt = cp.LastRunFinishedAt
	if c.deps.Metrics != nil {
		c.deps.Metrics.RecordRun(ctx, summary)
	}
	c.logger.Info("run finished",
		"run_id", summary.RunID,
		"source_key", sourceKey,
		"decided", summary.Decided,
		"submitted", summary.Submitted,
		"skipped", summary.Skipped,
		"recovered", summary.Recovered,
		"errors", len(summary.Errors))
	return summary, nil
}

func (c *Coordinator) load(ctx context.Context, sourceKey string) (*contracts.RunCheckpoint, error) {
	cp, err := c.deps.Store.Load(ctx, sourceKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointUnavailable, err)
	}
	return cp, nil
}

func (c *Coordinator) save(ctx context.Context, cp *contracts.RunCheckpoint) error {
	if err := c.deps.Store.Save(ctx, cp); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointUnavailable, err)
	}
	return nil
}

// recover reconciles items left in flight by an earlier crash. Each is
// an unknown outcome: the execution surface is queried before any
// re-deciding, and items whose vote landed are attested retroactively
// with a fresh signature.
func (c *Coordinator) recover(ctx context.Context, cp *contracts.RunCheckpoint, summary *contracts.RunSummary) error {
	if len(cp.InFlight) == 0 {
		return nil
	}

	ids := make([]string, 0, len(cp.InFlight))
	for id := range cp.InFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	c.logger.Info("recovering in-flight items", "source_key", cp.SourceKey, "count", len(ids))

	for _, id := range ids {
		entry := cp.InFlight[id]

		if entry.SubmissionReference == "" {
			var (
				ref   string
				found bool
			)
			err := c.cfg.Retry.withRetry(ctx, "recover:"+id, func(ctx context.Context) error {
				var lookupErr error
				ref, found, lookupErr = c.deps.Surface.FindSubmission(ctx, cp.SourceKey, id)
				return lookupErr
			})
			if err != nil {
				// Unknown outcome stays unknown; try again next run.
				summary.RecordError(id, contracts.PhaseRecovery, err.Error())
				continue
			}
			if !found {
				// The vote never landed; the item re-enters the
				// normal pipeline as a fresh candidate.
				delete(cp.InFlight, id)
				if err := c.save(ctx, cp); err != nil {
					return err
				}
				continue
			}
			entry.SubmissionReference = ref
			cp.InFlight[id] = entry
			if err := c.save(ctx, cp); err != nil {
				return err
			}
		}

		if entry.Verdict == "" || entry.DecisionDigest == "" {
			// The vote landed but the decision content never reached
			// the checkpoint. Attesting would write a content-less
			// proof to the append-only ledger; leave the item in
			// flight and surface the anomaly instead.
			summary.RecordError(id, contracts.PhaseRecovery,
				"submission found but decision content missing from checkpoint")
			continue
		}

		if err := c.attest(ctx, id, cp.SourceKey, entry.Verdict, entry.DecisionDigest, entry.SubmissionReference); err != nil {
			summary.RecordError(id, contracts.PhaseAttestation, err.Error())
			continue
		}
		cp.Complete(id, contracts.OutcomeSubmitted)
		summary.Recovered++
		if err := c.save(ctx, cp); err != nil {
			return err
		}
	}
	return nil
}

// listCandidates pulls pending proposals and applies the cheap gates:
// completed/in-flight exclusion, origin and CEL filters, then the
// per-run cap, preserving feed order throughout.
func (c *Coordinator) listCandidates(ctx context.Context, cp *contracts.RunCheckpoint) ([]contracts.Proposal, error) {
	var proposals []contracts.Proposal
	err := c.cfg.Retry.withRetry(ctx, "list:"+cp.SourceKey, func(ctx context.Context) error {
		var listErr error
		proposals, listErr = c.deps.Source.ListPending(ctx, cp.SourceKey)
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("proposal feed unreachable: %w", err)
	}

	out := proposals[:0]
	for _, p := range proposals {
		if cp.IsCompleted(p.ID) {
			continue
		}
		if _, inFlight := cp.InFlight[p.ID]; inFlight {
			// Awaiting attestation retry; not a fresh candidate.
			continue
		}
		if ok, reason := c.deps.Filter.Admit(p); !ok {
			c.logger.Debug("proposal filtered", "item_id", p.ID, "reason", reason)
			continue
		}
		out = append(out, p)
	}

	if c.cfg.MaxItemsPerRun > 0 && len(out) > c.cfg.MaxItemsPerRun {
		c.logger.Info("applying items-per-run cap",
			"source_key", cp.SourceKey, "pending", len(out), "cap", c.cfg.MaxItemsPerRun)
		out = out[:c.cfg.MaxItemsPerRun]
	}
	return out, nil
}

// processItem drives one item through the state machine:
// pending -> in_flight -> terminal. Returned errors are always
// checkpoint-store failures; everything else lands in the summary.
func (c *Coordinator) processItem(ctx context.Context, cp *contracts.RunCheckpoint, summary *contracts.RunSummary, p contracts.Proposal) error {
	if err := cp.MarkInFlight(p.ID, c.clock().UTC()); err != nil {
		// Already terminal; nothing to do.
		return nil
	}
	// Durability point A: in-flight is persisted before any side
	// effect.
	if err := c.save(ctx, cp); err != nil {
		return err
	}

	var dec *contracts.Decision
	err := c.cfg.Retry.withRetry(ctx, "decide:"+p.ID, func(ctx context.Context) error {
		var decideErr error
		dec, decideErr = c.deps.Engine.Decide(ctx, p)
		return decideErr
	})
	if err != nil {
		// A decision failure is terminal for this run; never retried
		// within it.
		summary.RecordError(p.ID, contracts.PhaseDecision, err.Error())
		cp.Complete(p.ID, contracts.OutcomeFailed)
		// Durability point B.
		return c.save(ctx, cp)
	}
	summary.Decided++

	if !dec.Verdict.Actionable() || dec.Confidence < c.cfg.ConfidenceThreshold {
		c.logger.Info("skipping by policy",
			"item_id", p.ID, "verdict", dec.Verdict, "confidence", dec.Confidence)
		cp.Complete(p.ID, contracts.OutcomeSkipped)
		summary.Skipped++
		return c.save(ctx, cp)
	}

	if c.cfg.DryRun {
		c.logger.Info("dry run, simulating submission", "item_id", p.ID, "verdict", dec.Verdict)
		cp.Complete(p.ID, contracts.OutcomeSimulated)
		summary.Simulated++
		return c.save(ctx, cp)
	}

	digest, err := crypto.DigestDecision(dec)
	if err != nil {
		summary.RecordError(p.ID, contracts.PhaseDecision, "digest decision: "+err.Error())
		cp.Complete(p.ID, contracts.OutcomeFailed)
		return c.save(ctx, cp)
	}

	// The decision content must be durable before the vote goes out:
	// a recovery that finds the submission landed attests from the
	// in-flight entry, and may not invent (or omit) its verdict.
	if recErr := cp.RecordDecision(p.ID, digest, dec.Verdict); recErr != nil {
		return fmt.Errorf("record decision for %s: %w", p.ID, recErr)
	}
	if err := c.save(ctx, cp); err != nil {
		return err
	}

	var ref string
	err = c.cfg.Retry.withRetry(ctx, "submit:"+p.ID, func(ctx context.Context) error {
		var submitErr error
		ref, submitErr = c.deps.Surface.Submit(ctx, p.ID, dec)
		return submitErr
	})
	if err != nil {
		summary.RecordError(p.ID, contracts.PhaseSubmission, err.Error())
		cp.Complete(p.ID, contracts.OutcomeFailed)
		return c.save(ctx, cp)
	}

	// The submission reference must be durable before the ledger
	// write: if the attestation fails, the next run re-attests from
	// this record instead of re-voting.
	if recErr := cp.RecordSubmission(p.ID, ref); recErr != nil {
		return fmt.Errorf("record submission for %s: %w", p.ID, recErr)
	}
	if err := c.save(ctx, cp); err != nil {
		return err
	}

	if err := c.attest(ctx, p.ID, cp.SourceKey, dec.Verdict, digest, ref); err != nil {
		// Vote landed, proof pending: the item stays in flight for
		// the next run's recovery.
		summary.RecordError(p.ID, contracts.PhaseAttestation, err.Error())
		return nil
	}

	cp.Complete(p.ID, contracts.OutcomeSubmitted)
	summary.Submitted++
	// Durability point C.
	return c.save(ctx, cp)
}

// attest signs and forwards the proof of one completed decision. Each
// attempt signs afresh with a new deadline.
func (c *Coordinator) attest(ctx context.Context, itemID, sourceKey string, verdict contracts.Verdict, digest, ref string) error {
	return c.cfg.Retry.withRetry(ctx, "attest:"+itemID, func(context.Context) error {
		deadline := c.clock().Add(c.cfg.AttestationTTL)
		msg, err := attest.BuildMessage(c.deps.Signer.Address(), attest.Request{
			SchemaUID:           c.cfg.SchemaUID,
			Recipient:           c.cfg.Recipient,
			ItemID:              itemID,
			SourceKey:           sourceKey,
			Verdict:             verdict,
			DecisionDigest:      digest,
			SubmissionReference: ref,
			Deadline:            deadline,
		})
		if err != nil {
			return Permanent(err)
		}
		sig, err := c.deps.Signer.Sign(msg)
		if err != nil {
			return Permanent(err)
		}
		uid, err := c.deps.Counter.ForwardAttestation(msg, sig, c.deps.Signer.Address(), deadline)
		if err != nil {
			return err
		}
		c.logger.Info("attestation recorded", "item_id", itemID, "uid", uid)
		return nil
	})
}

// Name implements lifecycle.Participant.
func (c *Coordinator) Name() string { return "run-coordinator" }

// Quiesce stops new items from starting and waits for active runs to
// reach their next checkpoint-safe point, or for ctx to expire.
func (c *Coordinator) Quiesce(ctx context.Context) error {
	c.quiesced.Store(true)
	done := make(chan struct{})
	go func() {
		c.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("quiesce grace period expired: %w", ctx.Err())
	}
}

// Persist implements lifecycle.Participant. Every durability point
// saves inline during the run, so there is nothing buffered to flush.
func (c *Coordinator) Persist(context.Context) error { return nil }

// Release implements lifecycle.Participant.
func (c *Coordinator) Release(context.Context) error { return nil }
