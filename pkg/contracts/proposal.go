package contracts

import (
	"encoding/json"
	"time"
)

// Proposal is a single unit of work pulled from the proposal feed.
// One proposal is evaluated at most once per run.
type Proposal struct {
	ID        string          `json:"id"`
	SourceKey string          `json:"source_key"`
	Origin    string          `json:"origin"` // author / originating address
	Title     string          `json:"title,omitempty"`
	Body      string          `json:"body,omitempty"`
	Choices   []string        `json:"choices,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	EndsAt    time.Time       `json:"ends_at,omitempty"`
}
