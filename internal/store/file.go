// Package store provides lead persistence backends for LeadFlow.
//
// This file implements a JSON snapshot store: the full lead table is
// rewritten on every mutation, which is acceptable at the expected lead
// count and keeps the on-disk format trivially inspectable.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/leadflowhq/leadflow/internal/models"
)

// File store configuration constants
const (
	// DefaultDirPermissions defines the default permissions for snapshot directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the default permissions for the snapshot file
	DefaultFilePermissions = 0644
)

// FileStore is a JSON-file-backed LeadStore.
type FileStore struct {
	mu    sync.Mutex
	path  string
	leads map[string]*models.Lead
}

// NewFileStore creates a file-backed lead store, loading an existing
// snapshot if one is present.
func NewFileStore(opts ...Option) (*FileStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Path == "" {
		slog.Error("FileStore snapshot path not set")
		return nil, fmt.Errorf("snapshot path not set")
	}

	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create snapshot directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	s := &FileStore{path: cfg.Path, leads: make(map[string]*models.Lead)}
	if err := s.load(); err != nil {
		return nil, err
	}
	slog.Debug("FileStore initialized", "path", cfg.Path, "leads", len(s.leads))
	return s, nil
}

// load reads the snapshot file into memory. A missing file is an empty store.
func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		slog.Error("FileStore failed to read snapshot", "error", err, "path", s.path)
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var leads map[string]*models.Lead
	if err := json.Unmarshal(data, &leads); err != nil {
		slog.Error("FileStore failed to parse snapshot", "error", err, "path", s.path)
		return fmt.Errorf("failed to parse snapshot: %w", err)
	}
	s.leads = leads
	return nil
}

// flush rewrites the full snapshot. Caller must hold the mutex.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.leads, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Get returns the lead for an identity.
func (s *FileStore) Get(id string) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[canonical]
	if !ok {
		return nil, models.ErrLeadNotFound
	}
	return cloneLead(lead), nil
}

// Merge applies a partial update, creating the lead if absent, and rewrites
// the snapshot.
func (s *FileStore) Merge(id string, update models.LeadUpdate) (*models.Lead, error) {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		slog.Debug("FileStore Merge rejected identity", "error", err, "id", id)
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
	if err := s.flush(); err != nil {
		slog.Error("FileStore Merge flush failed", "error", err, "id", canonical)
		return nil, err
	}
	slog.Debug("FileStore Merge succeeded", "id", canonical, "step", lead.CurrentStep)
	return cloneLead(lead), nil
}

// List returns all leads ordered by identity.
func (s *FileStore) List() ([]*models.Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	leads := make([]*models.Lead, 0, len(s.leads))
	for _, lead := range s.leads {
		leads = append(leads, cloneLead(lead))
	}
	sort.Slice(leads, func(i, j int) bool { return leads[i].ID < leads[j].ID })
	return leads, nil
}

// Delete removes a lead record and rewrites the snapshot.
func (s *FileStore) Delete(id string) error {
	canonical, err := models.ValidateIdentity(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[canonical]; !ok {
		return nil
	}
	delete(s.leads, canonical)
	if err := s.flush(); err != nil {
		slog.Error("FileStore Delete flush failed", "error", err, "id", canonical)
		return err
	}
	return nil
}

// IsActive reports whether the lead was seen within the freshness window.
func (s *FileStore) IsActive(id string) (bool, error) {
	lead, err := s.Get(id)
	if err != nil {
		if err == models.ErrLeadNotFound {
			return false, nil
		}
		return false, err
	}
	return isActive(lead), nil
}
