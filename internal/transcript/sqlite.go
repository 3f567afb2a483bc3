package transcript

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

// SQLStore is a SQLite-backed Store.
type SQLStore struct {
	db         *sql.DB
	maxEntries int
	clock      func() time.Time
}

// OpenSQL opens (creating if needed) the database at path and prunes it to maxEntries.
func OpenSQL(ctx context.Context, path string, maxEntries int) (*SQLStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &SQLStore{db: db, maxEntries: maxEntries, clock: time.Now}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	if err := s.Prune(ctx); err != nil {
		slog.Warn("transcript prune on open failed", "error", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS transcripts (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transcripts_created ON transcripts(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Save implements Store.
func (s *SQLStore) Save(ctx context.Context, title string) (Entry, error) {
	e, err := newEntry(title, s.clock())
	if err != nil {
		return Entry{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO transcripts(id, title, created_at) VALUES(?, ?, ?)`,
		e.ID, e.Title, e.CreatedAt.UnixNano())
	if err != nil {
		return Entry{}, apperrors.Wrap(err, apperrors.CodeInternal, "insert transcript")
	}
	if err := s.Prune(ctx); err != nil {
		slog.Warn("transcript prune failed", "error", err)
	}
	return e, nil
}

// List implements Store, newest first.
func (s *SQLStore) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at FROM transcripts ORDER BY created_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "query transcripts")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.Title, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "delete transcript")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.New(apperrors.CodeNotFound, "transcript not found").WithMetadata("id", id)
	}
	return nil
}

// Prune keeps only the newest maxEntries rows.
func (s *SQLStore) Prune(ctx context.Context) error {
	if s.maxEntries <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM transcripts WHERE id IN (
		SELECT id FROM transcripts ORDER BY created_at DESC, id ASC LIMIT -1 OFFSET ?
	)`, s.maxEntries)
	return err
}

// Close releases the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Open returns the store selected by driver ("memory" or "sqlite").
func Open(ctx context.Context, driver, path string, maxEntries int) (Store, error) {
	switch driver {
	case "", "memory":
		return NewStore(maxEntries), nil
	case "sqlite":
		return OpenSQL(ctx, path, maxEntries)
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown transcript driver %q", driver)
	}
}
