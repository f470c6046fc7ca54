// Package feed pulls pending proposals from the external proposal
// feed. Pagination and query language are the feed's concern; callers
// only see the pending slice for a source key, in feed order.
package feed

import (
	"context"

	"github.com/quorumworks/steward/pkg/contracts"
)

// Source lists pending proposals for a source key. Implementations
// must be idempotent for the same key within a short window and may
// return fewer items than exist.
type Source interface {
	ListPending(ctx context.Context, sourceKey string) ([]contracts.Proposal, error)
}
