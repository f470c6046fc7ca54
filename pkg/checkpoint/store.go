// Package checkpoint provides durable persistence of run checkpoints.
// Saves are atomic (a reader never observes a partial checkpoint),
// durable once acknowledged, and idempotent under retry.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/quorumworks/steward/pkg/contracts"
)

// ErrIncompatibleSchema marks a checkpoint written by a newer major
// schema version than this binary understands.
var ErrIncompatibleSchema = errors.New("checkpoint schema version incompatible")

// Store persists run checkpoints keyed by source key.
type Store interface {
	// Load returns the checkpoint for the source key, or a fresh
	// zero-value checkpoint when none exists.
	Load(ctx context.Context, sourceKey string) (*contracts.RunCheckpoint, error)

	// Save atomically persists the checkpoint.
	Save(ctx context.Context, cp *contracts.RunCheckpoint) error
}

// checkSchemaVersion gates loads on additive-only evolution: the same
// major version is always readable, a newer major is not.
func checkSchemaVersion(stored string) error {
	if stored == "" {
		// Pre-versioning checkpoint; fields are a strict subset.
		return nil
	}
	got, err := semver.NewVersion(stored)
	if err != nil {
		return fmt.Errorf("parse checkpoint schema version %q: %w", stored, err)
	}
	current := semver.MustParse(contracts.CheckpointSchemaVersion)
	if got.Major() > current.Major() {
		return fmt.Errorf("%w: stored %s, supported %s", ErrIncompatibleSchema, stored, contracts.CheckpointSchemaVersion)
	}
	return nil
}
