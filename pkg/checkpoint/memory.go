package checkpoint

import (
	"context"
	"sync"

	"github.com/quorumworks/steward/pkg/contracts"
)

// MemoryStore keeps checkpoints in process memory. Test and dry-run
// use only; it is atomic and idempotent but not durable.
type MemoryStore struct {
	mu          sync.Mutex
	checkpoints map[string]*contracts.RunCheckpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{checkpoints: make(map[string]*contracts.RunCheckpoint)}
}

func (s *MemoryStore) Load(_ context.Context, sourceKey string) (*contracts.RunCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp, ok := s.checkpoints[sourceKey]; ok {
		return cp.Clone(), nil
	}
	return contracts.NewRunCheckpoint(sourceKey), nil
}

func (s *MemoryStore) Save(_ context.Context, cp *contracts.RunCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.SourceKey] = cp.Clone()
	return nil
}
