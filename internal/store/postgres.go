// Package store provides lead persistence backends for LeadFlow.
//
// This file implements a PostgreSQL-backed lead store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "embed"

	"github.com/leadflowhq/leadflow/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a PostgreSQL-backed LeadStore.
type PostgresStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewPostgresStore creates a new Postgres lead store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Get returns the lead for an identity.
func (s *PostgresStore) Get(id string) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(`SELECT `+leadColumns+` FROM leads WHERE id = $1`, canonical)
	lead, err := scanLead(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrLeadNotFound
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "id", canonical)
		return nil, fmt.Errorf("failed to read lead %s: %w", canonical, err)
	}
	return lead, nil
}

// Merge applies a partial update, creating the lead if absent.
func (s *PostgresStore) Merge(id string, update models.LeadUpdate) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		slog.Debug("PostgresStore Merge rejected identity", "error", err, "id", id)
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, current_step = EXCLUDED.current_step, data = EXCLUDED.data,
			blocked = EXCLUDED.blocked, blocked_reason = EXCLUDED.blocked_reason,
			freeze_until = EXCLUDED.freeze_until, freeze_count = EXCLUDED.freeze_count,
			unfrozen_at = EXCLUDED.unfrozen_at, last_direction = EXCLUDED.last_direction,
			last_client_message = EXCLUDED.last_client_message, is_schedule = EXCLUDED.is_schedule,
			meeting_date = EXCLUDED.meeting_date, meeting_time = EXCLUDED.meeting_time,
			last_interaction = EXCLUDED.last_interaction`, args...)
	if err != nil {
		slog.Error("PostgresStore Merge failed", "error", err, "id", canonical)
		return nil, fmt.Errorf("failed to upsert lead %s: %w", canonical, err)
	}
	slog.Debug("PostgresStore Merge succeeded", "id", canonical, "step", lead.CurrentStep)
	return lead, nil
}

// List returns all leads ordered by identity.
func (s *PostgresStore) List() ([]*models.Lead, error) {
	rows, err := s.db.Query(`SELECT ` + leadColumns + ` FROM leads ORDER BY id`)
	if err != nil {
		slog.Error("PostgresStore List query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()

	var leads []*models.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			slog.Error("PostgresStore List scan failed", "error", err)
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
func (s *PostgresStore) Delete(id string) error {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`DELETE FROM leads WHERE id = $1`, canonical); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "id", canonical)
		return fmt.Errorf("failed to delete lead %s: %w", canonical, err)
	}
	return nil
}

// IsActive reports whether the lead was seen within the freshness window.
func (s *PostgresStore) IsActive(id string) (bool, error) {
	lead, err := s.Get(id)
	if err != nil {
		if err == models.ErrLeadNotFound {
			return false, nil
		}
		return false, err
	}
	return isActive(lead), nil
}
