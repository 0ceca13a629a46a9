// Package store provides lead persistence backends for LeadFlow.
//
// This file implements a SQLite-backed lead store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "embed"

	"github.com/leadflowhq/leadflow/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a SQLite-backed LeadStore.
type SQLiteStore struct {
	db *sql.DB
	// SQLite has no row-level locking worth relying on here; the
	// read-modify-write in Merge is serialized per process.
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite lead store with the given DSN.
// The DSN should be a file path; the directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get returns the lead for an identity.
func (s *SQLiteStore) Get(id string) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = ?`, canonical)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrLeadNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "id", canonical)
		return nil, fmt.Errorf("failed to read lead %s: %w", canonical, err)
	}
	return lead, nil
}

// Merge applies a partial update, creating the lead if absent.
func (s *SQLiteStore) Merge(id string, update models.LeadUpdate) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		slog.Debug("SQLiteStore Merge rejected identity", "error", err, "id", id)
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	lead, err := s.Get(canonical)
	if err == models.ErrLeadNotFound {
		lead = newLead(canonical)
	} else if err != nil {
		return nil, err
	}
	applyUpdate(lead, update)

	args, err := leadArgs(lead)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`INSERT INTO leads (`+leadColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, current_step = excluded.current_step, data = excluded.data,
			blocked = excluded.blocked, blocked_reason = excluded.blocked_reason,
			freeze_until = excluded.freeze_until, freeze_count = excluded.freeze_count,
			unfrozen_at = excluded.unfrozen_at, last_direction = excluded.last_direction,
			last_client_message = excluded.last_client_message, is_schedule = excluded.is_schedule,
			meeting_date = excluded.meeting_date, meeting_time = excluded.meeting_time,
			last_interaction = excluded.last_interaction`, args...)
	if err != nil {
		slog.Error("SQLiteStore Merge failed", "error", err, "id", canonical)
		return nil, fmt.Errorf("failed to upsert lead %s: %w", canonical, err)
	}
	slog.Debug("SQLiteStore Merge succeeded", "id", canonical, "step", lead.CurrentStep)
	return lead, nil
}

// List returns all leads ordered by identity.
func (s *SQLiteStore) List() ([]*models.Lead, error) {
	rows, err := s.db.Query(`SELECT ` + leadColumns + ` FROM leads ORDER BY id`)
	if err != nil {
		slog.Error("SQLiteStore List query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("SQLiteStore List scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, nil
}

// Delete removes a lead record.
func (s *SQLiteStore) Delete(id string) error {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM leads WHERE id = ?`, canonical); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "id", canonical)
		return fmt.Errorf("failed to delete lead %s: %w", canonical, err)
	}
	return nil
}

// IsActive reports whether the lead was seen within the freshness window.
func (s *SQLiteStore) IsActive(id string) (bool, error) {
	lead, err := s.Get(id)
	if err != nil {
		if err == models.ErrLeadNotFound {
			return false, nil
		}
		return false, err
	}
	return isActive(lead), nil
}
