// Package archive exports ledger entries to content-addressed object
// storage so attestations survive the process and can be audited
// offline. Blobs are canonical JSON keyed by their SHA-256 hash;
// exporting the same entry twice stores one object.
package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quorumworks/steward/pkg/contracts"
	"github.com/quorumworks/steward/pkg/crypto"
	"github.com/quorumworks/steward/pkg/ledger"
)

// ObjectStore is the blob contract shared by the filesystem, S3, and
// GCS backends. Put is idempotent: the key is the content hash.
type ObjectStore interface {
	// Put persists data and returns its content hash ("sha256:...").
	Put(ctx context.Context, data []byte) (string, error)
	// Get retrieves data by content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a blob is already stored.
	Exists(ctx context.Context, hash string) (bool, error)
}

// Archiver exports attestation ledger entries to an object store.
type Archiver struct {
	ledger *ledger.AttestationLedger
	store  ObjectStore
	logger *slog.Logger
}

// NewArchiver wires an archiver over the ledger and store.
func NewArchiver(l *ledger.AttestationLedger, store ObjectStore, logger *slog.Logger) (*Archiver, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		ledger: l,
		store:  store,
		logger: logger.With("component", "archive"),
	}, nil
}

// ExportEntry archives one ledger entry and returns its content hash.
func (a *Archiver) ExportEntry(ctx context.Context, entry ledger.Entry) (string, error) {
	blob, err := crypto.CanonicalMarshal(entry)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry %d: %w", entry.Sequence, err)
	}
	hash, err := a.store.Put(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("store entry %d: %w", entry.Sequence, err)
	}
	return hash, nil
}

// Export archives the full ledger after verifying its hash chain,
// returning content hashes keyed by attestation UID.
func (a *Archiver) Export(ctx context.Context) (map[string]string, error) {
	if ok, reason := a.ledger.Verify(); !ok {
		return nil, fmt.Errorf("refusing to export broken ledger: %s", reason)
	}

	entries := a.ledger.Entries()
	hashes := make(map[string]string, len(entries))
	for _, entry := range entries {
		hash, err := a.ExportEntry(ctx, entry)
		if err != nil {
			return hashes, err
		}
		hashes[entry.UID] = hash
	}

	a.logger.Info("ledger exported", "entries", len(entries))
	return hashes, nil
}

// Manifest decodes the ledger into its attestation records, the
// human-readable companion to the raw entry blobs.
func (a *Archiver) Manifest() ([]contracts.AttestationRecord, error) {
	entries := a.ledger.Entries()
	records := make([]contracts.AttestationRecord, 0, len(entries))
	for _, entry := range entries {
		rec, err := entry.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ExportManifest archives the decoded record manifest as a single
// blob and returns its content hash.
func (a *Archiver) ExportManifest(ctx context.Context) (string, error) {
	records, err := a.Manifest()
	if err != nil {
		return "", err
	}
	blob, err := crypto.CanonicalMarshal(records)
	if err != nil {
		return "", fmt.Errorf("canonicalize manifest: %w", err)
	}
	hash, err := a.store.Put(ctx, blob)
	if err != nil {
		return "", fmt.Errorf("store manifest: %w", err)
	}
	a.logger.Info("manifest exported", "records", len(records), "hash", hash)
	return hash, nil
}
