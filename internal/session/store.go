package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// VariantStatus tracks where a variant sits in the pipeline.
type VariantStatus string

const (
	StatusPending     VariantStatus = "pending"
	StatusDownloading VariantStatus = "downloading"
	StatusComplete    VariantStatus = "complete"
	StatusFailed      VariantStatus = "failed"
	StatusAligned     VariantStatus = "aligned"
	StatusMuxed       VariantStatus = "muxed"
)

// VariantRecord is one bookkeeping row.
type VariantRecord struct {
	VariantID    string
	SessionID    string
	Label        string
	Kind         string
	Locale       string
	SegmentCount int
	Written      int
	Status       VariantStatus
	Detail       string
	UpdatedAt    time.Time
}

// Store persists per-variant acquisition state backed by SQLite. It exists
// for resume and status reporting; segment-level truth lives in the chunk
// files themselves.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore initializes or connects to the bookkeeping database.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) ensureSchema(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS variants (
	variant_id    TEXT NOT NULL,
	session_id    TEXT NOT NULL,
	label         TEXT NOT NULL DEFAULT '',
	kind          TEXT NOT NULL DEFAULT '',
	locale        TEXT NOT NULL DEFAULT '',
	segment_count INTEGER NOT NULL DEFAULT 0,
	written       INTEGER NOT NULL DEFAULT 0,
	status        TEXT NOT NULL DEFAULT 'pending',
	detail        TEXT NOT NULL DEFAULT '',
	updated_at    TEXT NOT NULL,
	PRIMARY KEY (variant_id, session_id)
);
CREATE INDEX IF NOT EXISTS idx_variants_session ON variants(session_id);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// UpsertVariant registers or refreshes a variant row.
func (s *Store) UpsertVariant(ctx context.Context, rec VariantRecord) error {
	if rec.VariantID == "" || rec.SessionID == "" {
		return errors.New("session store: variant and session ids required")
	}
	const query = `
INSERT INTO variants (variant_id, session_id, label, kind, locale, segment_count, written, status, detail, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (variant_id, session_id) DO UPDATE SET
	label = excluded.label,
	kind = excluded.kind,
	locale = excluded.locale,
	segment_count = excluded.segment_count,
	written = excluded.written,
	status = excluded.status,
	detail = excluded.detail,
	updated_at = excluded.updated_at
`
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.VariantID, rec.SessionID, rec.Label, rec.Kind, rec.Locale,
		rec.SegmentCount, rec.Written, string(rec.Status), rec.Detail,
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert variant %s: %w", rec.VariantID, err)
	}
	return nil
}

// SetStatus transitions a variant's status, recording optional detail (a
// failure cause or alignment summary).
func (s *Store) SetStatus(ctx context.Context, sessionID, variantID string, status VariantStatus, detail string) error {
	const query = `
UPDATE variants SET status = ?, detail = ?, updated_at = ?
WHERE variant_id = ? AND session_id = ?
`
	result, err := s.db.ExecContext(ctx, query,
		string(status), detail, time.Now().UTC().Format(time.RFC3339Nano), variantID, sessionID)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", variantID, err)
	}
	rows, err := result.RowsAffected()
	if err == nil && rows == 0 {
		return fmt.Errorf("set status for %s: unknown variant", variantID)
	}
	return err
}

// UpdateProgress records how many segments a variant has stored.
func (s *Store) UpdateProgress(ctx context.Context, sessionID, variantID string, written int) error {
	const query = `
UPDATE variants SET written = ?, updated_at = ?
WHERE variant_id = ? AND session_id = ?
`
	_, err := s.db.ExecContext(ctx, query,
		written, time.Now().UTC().Format(time.RFC3339Nano), variantID, sessionID)
	if err != nil {
		return fmt.Errorf("update progress for %s: %w", variantID, err)
	}
	return nil
}

// ListVariants returns every variant row for a session ordered by label.
func (s *Store) ListVariants(ctx context.Context, sessionID string) ([]VariantRecord, error) {
	const query = `
SELECT variant_id, session_id, label, kind, locale, segment_count, written, status, detail, updated_at
FROM variants WHERE session_id = ? ORDER BY label
`
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	var out []VariantRecord
	for rows.Next() {
		var rec VariantRecord
		var status, updated string
		if err := rows.Scan(&rec.VariantID, &rec.SessionID, &rec.Label, &rec.Kind, &rec.Locale,
			&rec.SegmentCount, &rec.Written, &status, &rec.Detail, &updated); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		rec.Status = VariantStatus(status)
		if ts, parseErr := time.Parse(time.RFC3339Nano, updated); parseErr == nil {
			rec.UpdatedAt = ts
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
