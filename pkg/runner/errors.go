package runner

import (
	"errors"

	"github.com/quorumworks/steward/pkg/ledger"
)

// Fatal run-level errors.
var (
	// ErrRunInProgress rejects a concurrent run for the same source
	// key; the checkpoint read-modify-write is not safe under
	// concurrent writers.
	ErrRunInProgress = errors.New("run already in progress for source key")

	// ErrCheckpointUnavailable aborts a run: the coordinator cannot
	// proceed safely without durable state.
	ErrCheckpointUnavailable = errors.New("checkpoint store unavailable")

	// ErrShuttingDown rejects new runs once quiesce has begun.
	ErrShuttingDown = errors.New("coordinator is shutting down")
)

// permanent marks an error that retrying cannot fix.
type permanent struct {
	err error
}

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so the retry loop gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// retryable reports whether the retry loop should try again. Ledger
// rejections are protocol verdicts, not weather: a bad signature or an
// unknown schema will not improve on the next attempt.
func retryable(err error) bool {
	var p *permanent
	if errors.As(err, &p) {
		return false
	}
	switch {
	case errors.Is(err, ledger.ErrBadSignature),
		errors.Is(err, ledger.ErrUnknownSchema),
		errors.Is(err, ledger.ErrInactiveAttester):
		return false
	}
	return true
}
