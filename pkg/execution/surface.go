// Package execution submits decided votes to the external execution
// surface and answers "did this submission already happen", which
// crash recovery depends on.
package execution

import (
	"context"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Surface is the vote submission contract.
type Surface interface {
	// Submit sends the decision for one item and returns the
	// surface's opaque submission reference.
	Submit(ctx context.Context, itemID string, d *contracts.Decision) (string, error)

	// FindSubmission reports whether a submission already exists for
	// (sourceKey, itemID), returning its reference when found.
	FindSubmission(ctx context.Context, sourceKey, itemID string) (string, bool, error)
}
