// Package store provides lead persistence backends for LeadFlow.
//
// It defines the LeadStore interface with in-memory, JSON-file, SQLite and
// PostgreSQL implementations. All mutation goes through Merge, which applies
// the field-wise merge semantics shared by every backend.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/leadflowhq/leadflow/internal/models"
)

// ActiveWindow is the freshness window used by IsActive: a lead whose last
// interaction is older than this is considered a new conversation.
const ActiveWindow = 30 * time.Minute

// LeadStore is the durable key/value store of lead records.
type LeadStore interface {
	// Get returns the lead for the given canonical identity, or
	// models.ErrLeadNotFound.
	Get(id string) (*models.Lead, error)

	// Merge applies a partial update to the lead record, creating it if
	// absent, and returns the merged record. Supplied fields overwrite,
	// omitted fields are preserved, and the data bag is merged key-wise.
	// Merge always refreshes last_interaction.
	Merge(id string, update models.LeadUpdate) (*models.Lead, error)

	// List returns all lead records, ordered by identity.
	List() ([]*models.Lead, error)

	// Delete removes a lead record (administrative removal only).
	Delete(id string) error

	// IsActive reports whether the lead's last interaction is within the
	// freshness window.
	IsActive(id string) (bool, error)
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN  string // database DSN or snapshot file path
	Path string // snapshot file path for the file backend
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSnapshotPath sets the JSON snapshot path for the file backend.
func WithSnapshotPath(path string) Option {
	return func(o *Opts) { o.Path = path }
}

// applyUpdate merges a partial update into a lead record in place and
// refreshes last_interaction. Precedence rules:
//   - supplied fields overwrite, omitted (nil) fields are preserved;
//   - the data bag is merged key-wise, never replaced wholesale;
//   - blocked=false always clears blocked_reason;
//   - an update silent on blocked while the stored record is blocked
//     re-asserts blocked=true with the stored reason, so unrelated updates
//     cannot accidentally unblock a lead.
func applyUpdate(lead *models.Lead, update models.LeadUpdate) {
	if update.Name != nil {
		lead.Name = *update.Name
	}
	if update.CurrentStep != nil {
		lead.CurrentStep = *update.CurrentStep
	}
	if len(update.Data) > 0 {
		if lead.Data == nil {
			lead.Data = make(map[string]string, len(update.Data))
		}
		for k, v := range update.Data {
			lead.Data[k] = v
		}
	}
	switch {
	case update.Blocked != nil && !*update.Blocked:
		lead.Blocked = false
		lead.BlockedReason = ""
	case update.Blocked != nil:
		lead.Blocked = true
		if update.BlockedReason != nil {
			lead.BlockedReason = *update.BlockedReason
		}
	default:
		// Silent on blocked: a currently blocked lead stays blocked with
		// its stored reason.
		if !lead.Blocked && update.BlockedReason != nil {
			lead.BlockedReason = *update.BlockedReason
		}
	}
	if update.ClearFreeze {
		lead.FreezeUntil = nil
	} else if update.FreezeUntil != nil {
		lead.FreezeUntil = update.FreezeUntil
	}
	if update.FreezeCount != nil {
		lead.FreezeCount = *update.FreezeCount
	}
	if update.UnfrozenAt != nil {
		lead.UnfrozenAt = update.UnfrozenAt
	}
	if update.LastDirection != "" {
		lead.LastDirection = update.LastDirection
	}
	if update.LastClientMessage != nil {
		lead.LastClientMessage = *update.LastClientMessage
	}
	if update.IsScheduled != nil {
		lead.IsScheduled = *update.IsScheduled
	}
	if update.Meeting != nil {
		m := *update.Meeting
		lead.Meeting = &m
	}
	lead.LastInteraction = time.Now()
}

// newLead creates a blank lead record for an identity.
func newLead(id string) *models.Lead {
	now := time.Now()
	return &models.Lead{
		ID:            id,
		Data:          make(map[string]string),
		LastDirection: models.DirectionNone,
		CreatedAt:     now,
	}
}

// isActive reports whether a lead's last interaction falls inside the
// freshness window.
func isActive(lead *models.Lead) bool {
	return time.Since(lead.LastInteraction) < ActiveWindow
}

// InMemoryStore is a map-backed LeadStore used in tests and as the embedded
// state of the file-backed store.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads map[string]*models.Lead
}

// NewInMemoryStore creates an empty in-memory lead store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{leads: make(map[string]*models.Lead)}
}

// Get returns the lead for an identity.
func (s *InMemoryStore) Get(id string) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[canonical]
	if !ok {
		return nil, models.ErrLeadNotFound
	}
	copied := cloneLead(lead)
	return copied, nil
}

// Merge applies a partial update, creating the lead if absent.
func (s *InMemoryStore) Merge(id string, update models.LeadUpdate) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		slog.Debug("InMemoryStore Merge rejected identity", "error", err, "id", id)
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[canonical]
	if !ok {
		lead = newLead(canonical)
		s.leads[canonical] = lead
	}
	applyUpdate(lead, update)
	return cloneLead(lead), nil
}

// List returns all leads ordered by identity.
func (s *InMemoryStore) List() ([]*models.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	leads := make([]*models.Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		leads = append(leads, cloneLead(lead))
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i].ID < leads[j].ID })
	return leads, nil
}

// Delete removes a lead record.
func (s *InMemoryStore) Delete(id string) error {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leads, canonical)
	return nil
}

// IsActive reports whether the lead was seen within the freshness window.
func (s *InMemoryStore) IsActive(id string) (bool, error) {
	lead, err := s.Get(id)
	if err != nil {
		if err == models.ErrLeadNotFound {
			return false, nil
		}
		return false, err
	}
	return isActive(lead), nil
}

// cloneLead returns a deep copy so callers cannot mutate stored state.
func cloneLead(lead *models.Lead) *models.Lead {
	copied := *lead
	if lead.Data != nil {
		copied.Data = make(map[string]string, len(lead.Data))
		for k, v := range lead.Data {
			copied.Data[k] = v
		}
	}
	if lead.Meeting != nil {
		m := *lead.Meeting
		copied.Meeting = &m
	}
	if lead.FreezeUntil != nil {
		t := *lead.FreezeUntil
		copied.FreezeUntil = &t
	}
	if lead.UnfrozenAt != nil {
		t := *lead.UnfrozenAt
		copied.UnfrozenAt = &t
	}
	return &copied
}
