package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
}

func TestSchedulerAddJobInvalidSpec(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	if err := s.AddJob("not a cron spec", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

type countingEvictor struct{ calls int }

func (c *countingEvictor) EvictIdleSessions() int {
	c.calls++
	return 0
}

func TestMaintenanceEvictSessions(t *testing.T) {
	evictor := &countingEvictor{}
	m := NewMaintenance(store.NewInMemoryStore(), evictor, nil)
	m.EvictSessions()
	if evictor.calls != 1 {
		t.Errorf("Expected one eviction call, got %d", evictor.calls)
	}
}

func TestMaintenanceSendReminders(t *testing.T) {
	leads := store.NewInMemoryStore()
	tomorrow := time.Now().AddDate(0, 0, 1).Format(flow.DateLayout)

	if _, err := leads.Merge("15551234567", models.LeadUpdate{
		IsScheduled: models.BoolPtr(true),
		Meeting:     &models.Meeting{Date: tomorrow, Time: "10:00"},
	}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	// A lead with a meeting further out must not be reminded.
	nextWeek := time.Now().AddDate(0, 0, 7).Format(flow.DateLayout)
	if _, err := leads.Merge("15559876543", models.LeadUpdate{
		IsScheduled: models.BoolPtr(true),
		Meeting:     &models.Meeting{Date: nextWeek, Time: "10:00"},
	}); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	var sentTo []string
	var sentBody string
	send := func(ctx context.Context, to, body string) error {
		sentTo = append(sentTo, to)
		sentBody = body
		return nil
	}

	m := NewMaintenance(leads, nil, send)
	m.SendReminders(context.Background())

	if len(sentTo) != 1 || sentTo[0] != "15551234567" {
		t.Fatalf("Expected one reminder to 15551234567, got %v", sentTo)
	}
	if !strings.Contains(sentBody, "10:00") {
		t.Errorf("Expected rendered meeting time in reminder, got %q", sentBody)
	}
	if strings.Contains(sentBody, "{meeting_time}") {
		t.Errorf("Placeholder left unrendered: %q", sentBody)
	}

	// A second sweep on the same day must not remind again.
	m.SendReminders(context.Background())
	if len(sentTo) != 1 {
		t.Errorf("Expected reminder sent once, got %d sends", len(sentTo))
	}
}
