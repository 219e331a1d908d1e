package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/jpalmerr/pulsesync/internal/store/sqlite/migrations"
	"github.com/jpalmerr/pulsesync/internal/stream"
)

// Store is a SQLite-backed cursor store and event journal.
//
// Store is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

var _ stream.CursorStore = (*Store)(nil)

// Open opens or creates the database at path and applies pending migrations.
// Parent directories are created as needed.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every NNN_name.up.sql file newer than the recorded version.
func (s *Store) migrate(fsys fs.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// LoadCursor returns the stored cursor for id.
func (s *Store) LoadCursor(ctx context.Context, id stream.ID) (string, bool, error) {
	var cursor string
	err := s.db.QueryRowContext(ctx, "SELECT cursor FROM cursors WHERE stream = ?", string(id)).Scan(&cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying cursor: %w", err)
	}
	return cursor, true, nil
}

// SaveCursor stores cursor as the cursor of record for id.
func (s *Store) SaveCursor(ctx context.Context, id stream.ID, cursor string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cursors (stream, cursor, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(stream) DO UPDATE SET
			cursor = excluded.cursor,
			updated_at = excluded.updated_at
	`, string(id), cursor)
	if err != nil {
		return fmt.Errorf("saving cursor: %w", err)
	}
	return nil
}

// Seed stores cursor for id only if none is stored. It reports whether it
// wrote.
func (s *Store) Seed(ctx context.Context, id stream.ID, cursor string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO cursors (stream, cursor) VALUES (?, ?)", string(id), cursor)
	if err != nil {
		return false, fmt.Errorf("seeding cursor: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("seeding cursor: %w", err)
	}
	return n > 0, nil
}

// Delete removes the cursor and journaled events for id.
func (s *Store) Delete(ctx context.Context, id stream.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM events WHERE stream = ?", string(id)); err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM cursors WHERE stream = ?", string(id)); err != nil {
		return fmt.Errorf("deleting cursor: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	return nil
}

// ApplyPage journals the events of page as fetched since the given cursor.
//
// Events are keyed by (stream, since, position); a page that is applied again
// after an interrupted pass adds nothing. It returns the number of events
// newly written.
func (s *Store) ApplyPage(ctx context.Context, id stream.ID, since string, page stream.Page) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO events (stream, cursor, idx, payload) VALUES (?, ?, ?, ?)")
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for i, ev := range page.Events {
		res, err := stmt.ExecContext(ctx, string(id), since, i, string(ev))
		if err != nil {
			return 0, fmt.Errorf("inserting event %d: %w", i, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing: %w", err)
	}
	return written, nil
}

// EventCount returns the number of journaled events for id.
func (s *Store) EventCount(ctx context.Context, id stream.ID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE stream = ?", string(id)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}

// Cursors returns every stored cursor keyed by stream.
func (s *Store) Cursors(ctx context.Context) (map[stream.ID]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT stream, cursor FROM cursors ORDER BY stream")
	if err != nil {
		return nil, fmt.Errorf("querying cursors: %w", err)
	}
	defer rows.Close()

	out := make(map[stream.ID]string)
	for rows.Next() {
		var id, cursor string
		if err := rows.Scan(&id, &cursor); err != nil {
			return nil, fmt.Errorf("scanning cursor: %w", err)
		}
		out[stream.ID(id)] = cursor
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cursors: %w", err)
	}
	return out, nil
}
