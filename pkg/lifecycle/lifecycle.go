// Package lifecycle coordinates ordered shutdown across cooperating
// subsystems. Participants implement an explicit three-step stop
// contract, so a subsystem missing a method is a compile error rather
// than a runtime surprise.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Participant is a subsystem that takes part in the shutdown protocol.
type Participant interface {
	// Name identifies the participant in logs.
	Name() string

	// Quiesce stops the participant from accepting new work and
	// returns once in-progress work has reached a checkpoint-safe
	// point, or once ctx expires, whichever is first.
	Quiesce(ctx context.Context) error

	// Persist flushes durable state.
	Persist(ctx context.Context) error

	// Release frees resources. Called in reverse registration order,
	// mirroring acquisition order.
	Release(ctx context.Context) error
}

// Coordinator drives the stop sequence: quiesce in registration order
// under a bounded grace period, persist in order, release in reverse.
// A single participant's failure never blocks the remaining drain.
type Coordinator struct {
	mu           sync.Mutex
	participants []Participant
	grace        time.Duration
	logger       *slog.Logger
	once         sync.Once
	shutdownErr  error
}

// NewCoordinator creates a coordinator with the given grace period for
// quiescence.
func NewCoordinator(grace time.Duration, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		grace:  grace,
		logger: logger.With("component", "lifecycle"),
	}
}

// Register adds a participant. Registration order determines quiesce
// and persist order; release runs in reverse.
func (c *Coordinator) Register(p Participant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants = append(c.participants, p)
}

// Shutdown runs the full protocol exactly once; later calls return the
// first run's result. It never blocks past the grace period: if
// quiescence does not complete in time the coordinator proceeds to
// persist and release anyway and crash recovery reconciles on the next
// start.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.once.Do(func() {
		c.shutdownErr = c.shutdown(ctx)
	})
	return c.shutdownErr
}

func (c *Coordinator) shutdown(ctx context.Context) error {
	c.mu.Lock()
	participants := make([]Participant, len(c.participants))
	copy(participants, c.participants)
	c.mu.Unlock()

	var errs []error

	graceCtx, cancel := context.WithTimeout(ctx, c.grace)
	defer cancel()
	for _, p := range participants {
		if err := p.Quiesce(graceCtx); err != nil {
			c.logger.Warn("quiesce failed", "participant", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("quiesce %s: %w", p.Name(), err))
		}
	}

	for _, p := range participants {
		if err := p.Persist(ctx); err != nil {
			c.logger.Warn("persist failed", "participant", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("persist %s: %w", p.Name(), err))
		}
	}

	for i := len(participants) - 1; i >= 0; i-- {
		p := participants[i]
		if err := p.Release(ctx); err != nil {
			c.logger.Warn("release failed", "participant", p.Name(), "error", err)
			errs = append(errs, fmt.Errorf("release %s: %w", p.Name(), err))
		}
	}

	return errors.Join(errs...)
}

// WatchSignals blocks until SIGINT/SIGTERM or ctx cancellation, then
// runs the shutdown protocol. Cancellation is cooperative: in-flight
// signing or ledger submission is never interrupted, only prevented
// from starting for the next item.
func (c *Coordinator) WatchSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		c.logger.Info("termination signal received", "signal", sig.String())
	case <-ctx.Done():
	}
	return c.Shutdown(context.Background())
}
