package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/errutil"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
)

// DB persists the media cache index.
type DB struct {
	db *sql.DB
}

var _ mediacache.Index = (*DB)(nil)

// Open opens the index at path and applies pending migrations.
func Open(ctx context.Context, path string) (*DB, error) {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps writers from contending on the file lock.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		errutil.LogMsg(db.Close(), "Failed to close database")
		return nil, err
	}
	return &DB{db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

const upsertQuery = `
INSERT INTO media (media_key, locator, size_bytes, file_type, access_count, last_accessed_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (media_key) DO UPDATE SET
	locator = CASE WHEN excluded.locator = '' THEN media.locator ELSE excluded.locator END,
	size_bytes = excluded.size_bytes,
	file_type = excluded.file_type,
	access_count = excluded.access_count,
	last_accessed_at = excluded.last_accessed_at`

const statsQuery = `
UPDATE media SET access_count = ?, last_accessed_at = ?
WHERE media_key = ?`

// Upsert inserts or replaces a row. An empty locator keeps the stored one.
func (d *DB) Upsert(ctx context.Context, rec mediacache.Record) error {
	if _, err := d.db.ExecContext(ctx, upsertQuery, args(rec)...); err != nil {
		return fmt.Errorf("failed to upsert %s: %w", rec.Key, err)
	}
	return nil
}

// SaveStats updates access statistics in a single transaction. Rows that no
// longer exist are left absent.
func (d *DB) SaveStats(ctx context.Context, recs []mediacache.Record) error {
	return d.batch(ctx, statsQuery, len(recs), func(i int) []any {
		return []any{recs[i].AccessCount, unixNanos(recs[i].LastAccessedAt), recs[i].Key}
	})
}

// Delete removes rows by media key.
func (d *DB) Delete(ctx context.Context, keys ...string) error {
	return d.batch(ctx, "DELETE FROM media WHERE media_key = ?", len(keys), func(i int) []any { return []any{keys[i]} })
}

// DeleteAll removes every row.
func (d *DB) DeleteAll(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "DELETE FROM media"); err != nil {
		return fmt.Errorf("failed to clear media index: %w", err)
	}
	return nil
}

// Load returns every row keyed by media key.
func (d *DB) Load(ctx context.Context) (map[string]mediacache.Record, error) {
	rows, err := d.db.QueryContext(ctx,
		"SELECT media_key, locator, size_bytes, file_type, access_count, last_accessed_at FROM media")
	if err != nil {
		return nil, fmt.Errorf("failed to query media index: %w", err)
	}
	defer errutil.Close(rows, "Failed to close rows")

	out := make(map[string]mediacache.Record)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out[rec.Key] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read media index: %w", err)
	}
	return out, nil
}

// Lookup finds the row for a remote locator.
func (d *DB) Lookup(ctx context.Context, locator string) (mediacache.Record, bool, error) {
	row := d.db.QueryRowContext(ctx,
		"SELECT media_key, locator, size_bytes, file_type, access_count, last_accessed_at FROM media WHERE locator = ?", locator)
	rec, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return mediacache.Record{}, false, nil
		}
		return mediacache.Record{}, false, err
	}
	return rec, true, nil
}

func (d *DB) batch(ctx context.Context, query string, n int, argsAt func(int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer errutil.Close(stmt, "Failed to close statement")

	for i := range n {
		if _, err := stmt.ExecContext(ctx, argsAt(i)...); err != nil {
			return fmt.Errorf("failed to execute batch item %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func args(rec mediacache.Record) []any {
	return []any{rec.Key, rec.Locator, rec.Size, rec.FileType.String(), rec.AccessCount, unixNanos(rec.LastAccessedAt)}
}

// unixNanos stores the zero time as 0.
func unixNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (mediacache.Record, error) {
	var (
		rec      mediacache.Record
		fileType string
		last     int64
	)
	if err := s.Scan(&rec.Key, &rec.Locator, &rec.Size, &fileType, &rec.AccessCount, &last); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan media row: %w", err)
	}
	rec.FileType = mediacache.ParseFileType(fileType)
	if last != 0 {
		rec.LastAccessedAt = time.Unix(0, last)
	}
	return rec, nil
}
