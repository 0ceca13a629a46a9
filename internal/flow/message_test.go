package flow

import (
	"context"
	"testing"

	"github.com/leadflowhq/leadflow/internal/models"
)

func newSession() *models.Session {
	return models.NewSession("15551234567")
}

func TestMessageHandlerAutoAdvances(t *testing.T) {
	h := &MessageHandler{}
	session := newSession()
	session.CurrentStep = "greeting"
	step := &models.Step{ID: "greeting", Kind: models.StepKindMessage, Body: "Welcome!", Next: "menu"}

	res, err := h.Process(context.Background(), step, session, "", false)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Messages) != 1 || res.Messages[0] != "Welcome!" {
		t.Errorf("expected welcome message, got %v", res.Messages)
	}
	if res.WaitForUser {
		t.Error("expected auto-continuation into the next step")
	}
	if session.CurrentStep != "menu" {
		t.Errorf("expected session advanced to menu, got %q", session.CurrentStep)
	}
}

func TestMessageHandlerRendersPlaceholders(t *testing.T) {
	h := &MessageHandler{}
	session := newSession()
	session.Data["name"] = "Dana"
	step := &models.Step{ID: "bye", Kind: models.StepKindMessage, Body: "Thanks, {name}!"}

	res, err := h.Process(context.Background(), step, session, "", false)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.Messages[0] != "Thanks, Dana!" {
		t.Errorf("expected rendered body, got %q", res.Messages[0])
	}
}

func TestMessageHandlerTerminalStepWaits(t *testing.T) {
	h := &MessageHandler{}
	session := newSession()
	session.CurrentStep = "bye"
	step := &models.Step{ID: "bye", Kind: models.StepKindMessage, Body: "Goodbye."}

	res, err := h.Process(context.Background(), step, session, "", false)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !res.WaitForUser {
		t.Error("expected terminal step to stop the chain")
	}
	if session.CurrentStep != "bye" {
		t.Errorf("expected session to stay on terminal step, got %q", session.CurrentStep)
	}
}

func TestMessageHandlerWaitingStepPassesInputThrough(t *testing.T) {
	h := &MessageHandler{}
	session := newSession()
	session.CurrentStep = "notice"
	step := &models.Step{
		ID: "notice", Kind: models.StepKindMessage, Body: "Heads up.",
		WaitForUser: true, Next: "menu",
	}

	// First visit shows the text and waits.
	res, err := h.Process(context.Background(), step, session, "", false)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !res.WaitForUser || len(res.Messages) != 1 {
		t.Fatalf("expected shown-and-wait, got %+v", res)
	}

	// The next input advances and is re-delivered to the successor.
	res, err = h.Process(context.Background(), step, session, "1", true)
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if res.WaitForUser || !res.KeepInput {
		t.Errorf("expected pass-through continuation, got %+v", res)
	}
	if session.CurrentStep != "menu" {
		t.Errorf("expected session advanced to menu, got %q", session.CurrentStep)
	}
}
