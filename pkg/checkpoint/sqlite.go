package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quorumworks/steward/pkg/contracts"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the default local checkpoint store.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the checkpoint database at path.
// WAL mode keeps saves durable without blocking readers.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA synchronous=FULL;`); err != nil {
		return nil, fmt.Errorf("configure checkpoint db: %w", err)
	}
	return NewSQLiteStore(db)
}

// NewSQLiteStore wraps an existing handle.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		source_key TEXT PRIMARY KEY,
		schema_version TEXT NOT NULL,
		payload JSON NOT NULL,
		updated_at DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	if err != nil {
		return fmt.Errorf("migrate checkpoints table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, sourceKey string) (*contracts.RunCheckpoint, error) {
	query := `SELECT schema_version, payload FROM checkpoints WHERE source_key = ?`

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

// Save upserts the full checkpoint in one statement, so readers see
// either the old or the new row, never a mix.
func (s *SQLiteStore) Save(ctx context.Context, cp *contracts.RunCheckpoint) error {
	payload, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	query := `
	INSERT INTO checkpoints (source_key, schema_version, payload, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(source_key) DO UPDATE SET
		schema_version = excluded.schema_version,
		payload = excluded.payload,
		updated_at = excluded.updated_at`
	_, err = s.db.ExecContext(ctx, query, cp.SourceKey, cp.SchemaVersion, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", cp.SourceKey, err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *SQLiteStore) Close() error {
	//nolint:wrapcheck // close error needs no extra context
	return s.db.Close()
}
