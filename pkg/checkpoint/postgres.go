package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quorumworks/steward/pkg/contracts"
)

// PostgresStore backs checkpoints with Postgres for deployments where
// several steward instances share one durable store. The caller opens
// the handle with the lib/pq driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an existing handle and ensures the table.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		source_key TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate checkpoints table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, sourceKey string) (*contracts.RunCheckpoint, error) {
	query := `SELECT schema_version, payload FROM checkpoints WHERE source_key = $1`

	var version string
	var payload []byte
	err := s.db.QueryRowContext(ctx, query, sourceKey).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return contracts.NewRunCheckpoint(sourceKey), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", sourceKey, err)
	}
	if err := checkSchemaVersion(version); err != nil {
		return nil, err
	}

	cp := contracts.NewRunCheckpoint(sourceKey)
	if err := json.Unmarshal(payload, cp); err != nil {
		return nil, fmt.Errorf("corrupt checkpoint payload for %s: %w", sourceKey, err)
	}
	return cp, nil
}

func (s *PostgresStore) Save(ctx context.Context, cp *contracts.RunCheckpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	query := `
	INSERT INTO checkpoints (source_key, schema_version, payload, updated_at)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (source_key) DO UPDATE SET
		schema_version = EXCLUDED.schema_version,
		payload = EXCLUDED.payload,
		updated_at = EXCLUDED.updated_at`
	_, err = s.db.ExecContext(ctx, query, cp.SourceKey, cp.SchemaVersion, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SourceKey, err)
	}
	return nil
}
