package statedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// Unread badge kinds.
const (
	KindProject  = "project"
	KindTerminal = "terminal"
)

// StateDB wraps a SQLite database holding layouts, terminal buffer snapshots
// and unread badges.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// LayoutRow is one persisted layout document.
type LayoutRow struct {
	ProjectID string
	Document  json.RawMessage
	UpdatedAt time.Time
}

// UnreadRow is one pending unread badge.
type UnreadRow struct {
	Subject   string
	Kind      string
	CreatedAt time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy timeout.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	// Busy timeout goes in the DSN so every pooled connection gets it:
	// wait up to 5s if another connection or process holds a lock.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and runs any pending migrations.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS layouts (
			project_id TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create layouts: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS terminal_buffers (
			terminal_id TEXT PRIMARY KEY,
			content     TEXT NOT NULL,
			updated_at  INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create terminal_buffers: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS unread (
			subject    TEXT PRIMARY KEY,
			kind       TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create unread: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Layouts ---

// SaveLayout stores a project's layout document. A nil or empty document
// clears the entry so the default layout is rebuilt on next mount.
func (s *StateDB) SaveLayout(ctx context.Context, projectID string, doc json.RawMessage) error {
	if len(doc) == 0 {
		_, err := s.db.ExecContext(ctx, "DELETE FROM layouts WHERE project_id = ?", projectID)
		if err != nil {
			return fmt.Errorf("statedb: clear layout %s: %w", projectID, err)
		}
		return s.Touch()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO layouts (project_id, document, updated_at) VALUES (?, ?, ?)
	`, projectID, string(doc), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statedb: save layout %s: %w", projectID, err)
	}
	return s.Touch()
}

// LoadLayout returns the stored document for projectID, or nil when none exists.
func (s *StateDB) LoadLayout(ctx context.Context, projectID string) (json.RawMessage, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT document FROM layouts WHERE project_id = ?", projectID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: load layout %s: %w", projectID, err)
	}
	return json.RawMessage(doc), nil
}

// LoadAllLayouts returns every stored document keyed by project id.
func (s *StateDB) LoadAllLayouts(ctx context.Context) (map[string]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT project_id, document FROM layouts")
	if err != nil {
		return nil, fmt.Errorf("statedb: load layouts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("statedb: scan layout: %w", err)
		}
		out[id] = json.RawMessage(doc)
	}
	return out, rows.Err()
}

// ListLayouts returns layout rows ordered by project id.
func (s *StateDB) ListLayouts(ctx context.Context) ([]*LayoutRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT project_id, document, updated_at FROM layouts ORDER BY project_id")
	if err != nil {
		return nil, fmt.Errorf("statedb: list layouts: %w", err)
	}
	defer rows.Close()

	var out []*LayoutRow
	for rows.Next() {
		var r LayoutRow
		var doc string
		var updated int64
		if err := rows.Scan(&r.ProjectID, &doc, &updated); err != nil {
			return nil, fmt.Errorf("statedb: scan layout: %w", err)
		}
		r.Document = json.RawMessage(doc)
		r.UpdatedAt = time.Unix(updated, 0)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Terminal buffers ---

// SaveBuffer stores a terminal's serialized screen. An empty content removes
// the snapshot.
func (s *StateDB) SaveBuffer(ctx context.Context, terminalID, content string) error {
	if content == "" {
		_, err := s.db.ExecContext(ctx, "DELETE FROM terminal_buffers WHERE terminal_id = ?", terminalID)
		if err != nil {
			return fmt.Errorf("statedb: clear buffer %s: %w", terminalID, err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO terminal_buffers (terminal_id, content, updated_at) VALUES (?, ?, ?)
	`, terminalID, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statedb: save buffer %s: %w", terminalID, err)
	}
	return nil
}

// LoadBuffer returns a terminal's last snapshot. ok is false when none exists.
func (s *StateDB) LoadBuffer(ctx context.Context, terminalID string) (content string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, "SELECT content FROM terminal_buffers WHERE terminal_id = ?", terminalID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("statedb: load buffer %s: %w", terminalID, err)
	}
	return content, true, nil
}

// --- Unread badges ---

// MarkUnread records an unread badge. Marking an already unread subject keeps
// its original timestamp.
func (s *StateDB) MarkUnread(ctx context.Context, subject, kind string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO unread (subject, kind, created_at) VALUES (?, ?, ?)
	`, subject, kind, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("statedb: mark unread %s: %w", subject, err)
	}
	return nil
}

// DismissUnread clears the badges for the given subjects in one transaction.
func (s *StateDB) DismissUnread(ctx context.Context, subjects ...string) error {
	if len(subjects) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("statedb: begin dismiss: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM unread WHERE subject = ?")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, subject := range subjects {
		if _, err := stmt.ExecContext(ctx, subject); err != nil {
			return fmt.Errorf("statedb: dismiss %s: %w", subject, err)
		}
	}
	return tx.Commit()
}

// ListUnread returns pending badges, oldest first.
func (s *StateDB) ListUnread(ctx context.Context) ([]*UnreadRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT subject, kind, created_at FROM unread ORDER BY created_at, subject")
	if err != nil {
		return nil, fmt.Errorf("statedb: list unread: %w", err)
	}
	defer rows.Close()

	var out []*UnreadRow
	for rows.Next() {
		var r UnreadRow
		var created int64
		if err := rows.Scan(&r.Subject, &r.Kind, &created); err != nil {
			return nil, fmt.Errorf("statedb: scan unread: %w", err)
		}
		r.CreatedAt = time.Unix(created, 0)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// --- Change Detection ---

// Touch updates a metadata timestamp that other processes (the CLI, a second
// server) can poll to detect layout changes.
func (s *StateDB) Touch() error {
	return s.SetMeta("last_modified", fmt.Sprintf("%d", time.Now().UnixNano()))
}

// LastModified returns the last_modified timestamp from metadata.
func (s *StateDB) LastModified() (int64, error) {
	val, err := s.GetMeta("last_modified")
	if err != nil || val == "" {
		return 0, err
	}
	var ts int64
	_, err = fmt.Sscanf(val, "%d", &ts)
	return ts, err
}
