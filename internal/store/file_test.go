package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leadflowhq/leadflow/internal/models"
)

func newTestFileStore(t *testing.T, path string) *FileStore {
	t.Helper()
	s, err := NewFileStore(WithSnapshotPath(path))
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return s
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := NewFileStore(); err == nil {
		t.Error("expected error when snapshot path is not set")
	}
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")

	s := newTestFileStore(t, path)
	if _, err := s.Merge(testID, models.LeadUpdate{
		Name:        models.StringPtr("Dana"),
		CurrentStep: models.StringPtr("menu"),
		Data:        map[string]string{"topic": "demo"},
	}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	reopened := newTestFileStore(t, path)
	lead, err := reopened.Get(testID)
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if lead.Name != "Dana" || lead.CurrentStep != "menu" {
		t.Errorf("expected persisted fields, got name=%q step=%q", lead.Name, lead.CurrentStep)
	}
	if lead.Data["topic"] != "demo" {
		t.Errorf("expected persisted data bag, got %v", lead.Data)
	}
}

func TestFileStoreDeletePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")

	s := newTestFileStore(t, path)
	if _, err := s.Merge(testID, models.LeadUpdate{}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if err := s.Delete(testID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	reopened := newTestFileStore(t, path)
	if _, err := reopened.Get(testID); err != models.ErrLeadNotFound {
		t.Errorf("expected deleted lead absent after reopen, got %v", err)
	}
}

func TestFileStoreEmptySnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")
	if err := os.WriteFile(path, nil, 0644); err != nil {
		t.Fatalf("failed to write empty snapshot: %v", err)
	}

	s := newTestFileStore(t, path)
	leads, err := s.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(leads) != 0 {
		t.Errorf("expected empty store from empty snapshot, got %d leads", len(leads))
	}
}

func TestFileStoreRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leads.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("failed to write corrupt snapshot: %v", err)
	}
	if _, err := NewFileStore(WithSnapshotPath(path)); err == nil {
		t.Error("expected error for corrupt snapshot")
	}
}
