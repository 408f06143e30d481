// Package ledger records, per user, which unavailable tracks were already reported.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"trackwatch/internal/core"
	"trackwatch/pkg/naming"
)

const (
	// busyTimeoutMillis lets concurrent scans of one user wait for each other's write transaction
	busyTimeoutMillis = 5000
	fileNameFormat    = "unavailable_tracks_%s.db"
)

// ErrDuplicateEntry is returned when a batch repeats a (track, album) pair already stored.
var ErrDuplicateEntry = errors.New("ledger entry already recorded")

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its dialect and filesystem in package state.
var migrateMu sync.Mutex

type Config struct {
	Dir     string
	UserKey string
}

// Ledger is an append-only table of (title, track_id, album_id, notified) rows.
type Ledger struct {
	db   *sql.DB
	path string
}

// Path returns the database file of a user inside dir.
func Path(dir, userKey string) string {
	return filepath.Join(dir, fmt.Sprintf(fileNameFormat, naming.StorageKey(userKey)))
}

// Open creates the user's ledger file if needed and brings its schema up to date.
func Open(ctx context.Context, cfg Config) (*Ledger, error) {
	if strings.TrimSpace(cfg.UserKey) == "" {
		return nil, errors.New("ledger user key is required")
	}

	dir := cfg.Dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	path := Path(dir, cfg.UserKey)
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_txlock=immediate", path, busyTimeoutMillis)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger %s: %w", path, err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate ledger %s: %w", path, err)
	}

	return &Ledger{db: db, path: path}, nil
}

func migrate(db *sql.DB) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// TrackIDsForAlbum returns every track id recorded for albumID.
func (l *Ledger) TrackIDsForAlbum(ctx context.Context, albumID int64) (map[int64]struct{}, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT track_id FROM unavailable_tracks WHERE album_id = ?`, albumID)
	if err != nil {
		return nil, fmt.Errorf("query album %d: %w", albumID, err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan track id: %w", err)
		}
		ids[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate album %d: %w", albumID, err)
	}

	return ids, nil
}

// RecordBatch appends entries in one transaction. Either all rows are stored or none.
func (l *Ledger) RecordBatch(ctx context.Context, entries []core.LedgerEntry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO unavailable_tracks (title, track_id, album_id, notified) VALUES (?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare stmt: %w", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.Title, entry.TrackID, entry.AlbumID, entry.Notified); err != nil {
			_ = tx.Rollback()
			if isUniqueViolation(err) {
				return fmt.Errorf("track %d of album %d: %w", entry.TrackID, entry.AlbumID, ErrDuplicateEntry)
			}
			return fmt.Errorf("exec insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// Count returns the number of rows in the ledger. Scans report it after recording.
func (l *Ledger) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM unavailable_tracks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// Close releases database resources.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
