package engine_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leadflowhq/leadflow/internal/engine"
	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/integrations"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/store"
	"github.com/leadflowhq/leadflow/internal/testutil"
	"github.com/leadflowhq/leadflow/internal/validators"
)

// recordingCRM counts collaborator calls made by the meeting notifier.
type recordingCRM struct {
	mu       sync.Mutex
	meetings []integrations.MeetingData
}

func (c *recordingCRM) CreateContact(ctx context.Context, leadID, name string) error { return nil }

func (c *recordingCRM) CreateMeeting(ctx context.Context, meeting integrations.MeetingData) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meetings = append(c.meetings, meeting)
	return nil
}

func (c *recordingCRM) Meetings() []integrations.MeetingData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]integrations.MeetingData(nil), c.meetings...)
}

type testEnv struct {
	eng   *engine.Engine
	leads store.LeadStore
	crm   *recordingCRM
}

func newTestEnv(t *testing.T, def *models.FlowDefinition, opts ...engine.Option) *testEnv {
	t.Helper()
	if def == nil {
		def = testutil.BookingFlow()
	}
	leads := store.NewInMemoryStore()
	registry := flow.NewRegistry(flow.Deps{
		Catalog:      validators.NewCatalog(),
		Availability: integrations.StaticAvailability(testutil.Availability()),
	})
	crm := &recordingCRM{}
	notifier := integrations.NewNotifier(nil, nil, crm)
	return &testEnv{
		eng:   engine.New(def, registry, leads, notifier, opts...),
		leads: leads,
		crm:   crm,
	}
}

func (env *testEnv) send(t *testing.T, body string) engine.Result {
	t.Helper()
	res, err := env.eng.ProcessEvent(context.Background(), testutil.Event(testutil.TestIdentity, body))
	if err != nil {
		t.Fatalf("ProcessEvent(%q) failed: %v", body, err)
	}
	return res
}

func (env *testEnv) lead(t *testing.T) *models.Lead {
	t.Helper()
	lead, err := env.leads.Get(testutil.TestIdentity)
	if err != nil {
		t.Fatalf("lead lookup failed: %v", err)
	}
	return lead
}

func TestFirstMessageDiscardsInput(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.send(t, "random opener text")
	if !res.WaitForUser {
		t.Error("expected engine waiting after the opening chain")
	}
	// Greeting auto-continues into the menu; both messages arrive in order.
	if len(res.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %v", res.Messages)
	}
	if res.Messages[0] != "Welcome!" {
		t.Errorf("expected greeting first, got %q", res.Messages[0])
	}
	if !strings.Contains(res.Messages[1], "1. Book a meeting") {
		t.Errorf("expected menu second, got %q", res.Messages[1])
	}

	lead := env.lead(t)
	if lead.CurrentStep != "menu" {
		t.Errorf("expected lead parked on menu, got %q", lead.CurrentStep)
	}
	if len(lead.Data) != 0 {
		t.Errorf("expected empty data bag after opening, got %v", lead.Data)
	}
}

func TestMenuBranching(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(t, "hi")

	res := env.send(t, "1")
	if len(res.Messages) != 1 || res.Messages[0] != "What is your name?" {
		t.Fatalf("expected name question, got %v", res.Messages)
	}
	if env.lead(t).CurrentStep != "ask_name" {
		t.Errorf("expected lead on ask_name, got %q", env.lead(t).CurrentStep)
	}
}

func TestUnmatchedMenuInputDoesNotAdvance(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(t, "hi")

	res := env.send(t, "xyz")
	if !res.WaitForUser {
		t.Error("expected re-wait after unmatched menu input")
	}
	if res.Messages[0] != "Please pick one of the following options: 1, 2" {
		t.Errorf("unexpected no-match message %q", res.Messages[0])
	}
	if env.lead(t).CurrentStep != "menu" {
		t.Errorf("expected lead still on menu, got %q", env.lead(t).CurrentStep)
	}
}

func TestFullBookingConversation(t *testing.T) {
	env := newTestEnv(t, nil)
	tomorrow := time.Now().AddDate(0, 0, 1).Format("2006-01-02")

	env.send(t, "hi")
	env.send(t, "book")
	env.send(t, "Dana")

	// Day list, then time list, then confirmation.
	res := env.send(t, "1")
	if !strings.Contains(res.Messages[0], "1. 10:00") || !strings.Contains(res.Messages[0], "2. 14:00") {
		t.Fatalf("expected time list, got %v", res.Messages)
	}

	res = env.send(t, "2")
	if len(res.Messages) != 1 {
		t.Fatalf("expected confirmation message, got %v", res.Messages)
	}
	confirmation := res.Messages[0]
	if !strings.Contains(confirmation, "14:00") || !strings.Contains(confirmation, "Dana") {
		t.Errorf("expected rendered confirmation, got %q", confirmation)
	}
	if strings.Contains(confirmation, "{") {
		t.Errorf("expected no unrendered placeholder, got %q", confirmation)
	}

	lead := env.lead(t)
	if !lead.IsScheduled || lead.Meeting == nil {
		t.Fatal("expected meeting persisted on the lead")
	}
	if lead.Meeting.Date != tomorrow || lead.Meeting.Time != "14:00" {
		t.Errorf("expected meeting %s 14:00, got %+v", tomorrow, lead.Meeting)
	}
	if lead.Name != "Dana" {
		t.Errorf("expected lead name from data bag, got %q", lead.Name)
	}

	meetings := env.crm.Meetings()
	if len(meetings) != 1 {
		t.Fatalf("expected one notifier fan-out, got %d", len(meetings))
	}
	if meetings[0].Date != tomorrow || meetings[0].Time != "14:00" || meetings[0].LeadName != "Dana" {
		t.Errorf("unexpected meeting data %+v", meetings[0])
	}
}

func TestDuplicateEventDropped(t *testing.T) {
	env := newTestEnv(t, nil)

	event := testutil.Event(testutil.TestIdentity, "hi")
	first, err := env.eng.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(first.Messages) == 0 {
		t.Fatal("expected messages on first delivery")
	}

	second, err := env.eng.ProcessEvent(context.Background(), event)
	if err != nil {
		t.Fatalf("ProcessEvent failed: %v", err)
	}
	if len(second.Messages) != 0 {
		t.Errorf("expected duplicate dropped silently, got %v", second.Messages)
	}
}

func TestResetKeywordReturnsToMenu(t *testing.T) {
	env := newTestEnv(t, nil, engine.WithResetKeyword("menu"))
	env.send(t, "hi")
	env.send(t, "1")
	env.send(t, "Dana")

	res := env.send(t, "menu")
	if !res.WaitForUser {
		t.Error("expected reset to wait for input")
	}
	if len(res.Messages) != 1 || !strings.Contains(res.Messages[0], "1. Book a meeting") {
		t.Fatalf("expected menu presented after reset, got %v", res.Messages)
	}

	lead := env.lead(t)
	if lead.CurrentStep != "menu" {
		t.Errorf("expected lead back on menu, got %q", lead.CurrentStep)
	}

	// The collected answers were discarded with the rest of the session data.
	res = env.send(t, "1")
	if res.Messages[0] != "What is your name?" {
		t.Errorf("expected name asked again after reset, got %v", res.Messages)
	}
}

func TestResetToAutoAdvancingTarget(t *testing.T) {
	def := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "Hi.", Next: "intro"},
			"intro":    {ID: "intro", Kind: models.StepKindMessage, Body: "Back to the start.", Next: "ask"},
			"ask": {
				ID: "ask", Kind: models.StepKindQuestion, Body: "What is your name?",
				WaitForUser: true, DataKey: "name", Validator: "text",
			},
		},
	}
	env := newTestEnv(t, def,
		engine.WithResetKeyword("restart"),
		engine.WithResetTarget("intro"),
	)
	env.send(t, "hi")
	env.send(t, "Dana")

	// The reset target is a non-waiting message step, so the reset chains
	// through it into the question and the user sees the prompt.
	res := env.send(t, "restart")
	if len(res.Messages) != 2 {
		t.Fatalf("expected target message and question after reset, got %v", res.Messages)
	}
	if res.Messages[0] != "Back to the start." || res.Messages[1] != "What is your name?" {
		t.Errorf("unexpected reset messages %v", res.Messages)
	}
	if env.lead(t).CurrentStep != "ask" {
		t.Errorf("expected persisted step to match the session, got %q", env.lead(t).CurrentStep)
	}

	// The next input answers the question that was just shown.
	env.send(t, "Maya")
	if env.lead(t).Data["name"] != "Maya" {
		t.Errorf("expected post-reset answer stored, got %v", env.lead(t).Data)
	}
}

func TestHandlerErrorYieldsApology(t *testing.T) {
	def := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "Hi.", Next: "ask"},
			"ask": {
				ID: "ask", Kind: models.StepKindQuestion, Body: "Well?",
				Validator: "unregistered", WaitForUser: true,
			},
		},
	}
	env := newTestEnv(t, def)
	env.send(t, "hi")

	// Answering invokes the unregistered validator and fails the handler.
	res := env.send(t, "anything")
	if len(res.Messages) != 1 || res.Messages[0] != engine.DefaultApology {
		t.Fatalf("expected apology, got %v", res.Messages)
	}
	if !res.WaitForUser {
		t.Error("expected engine waiting after apology")
	}
	if env.lead(t).CurrentStep != "ask" {
		t.Errorf("expected step pointer unchanged, got %q", env.lead(t).CurrentStep)
	}
}

func TestFailedEventRestoresPersistedStep(t *testing.T) {
	// The question accepts the answer and advances into a step the
	// definition does not contain, so the loop fails after the advancement
	// was already persisted.
	def := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "Hi.", Next: "ask"},
			"ask": {
				ID: "ask", Kind: models.StepKindQuestion, Body: "Well?",
				WaitForUser: true, DataKey: "name", Validator: "text", Next: "ghost",
			},
		},
	}
	env := newTestEnv(t, def)
	env.send(t, "hi")

	res := env.send(t, "Dana")
	if len(res.Messages) != 1 || res.Messages[0] != engine.DefaultApology {
		t.Fatalf("expected apology, got %v", res.Messages)
	}
	if env.lead(t).CurrentStep != "ask" {
		t.Errorf("expected persisted step rewound to ask, got %q", env.lead(t).CurrentStep)
	}
}

func TestBlockingStep(t *testing.T) {
	def := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "Hi.", Next: "goodbye"},
			"goodbye":  {ID: "goodbye", Kind: models.StepKindMessage, Body: "Not interested, noted.", Block: true},
		},
	}
	env := newTestEnv(t, def)

	res := env.send(t, "hi")
	if len(res.Messages) != 2 {
		t.Fatalf("expected both messages before blocking, got %v", res.Messages)
	}

	lead := env.lead(t)
	if !lead.Blocked {
		t.Error("expected lead blocked by step")
	}
	if lead.BlockedReason == "" {
		t.Error("expected block reason recorded")
	}
	if env.eng.SessionCount() != 0 {
		t.Error("expected session dropped after block")
	}
}

func TestFreezingStep(t *testing.T) {
	def := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "Hi.", Next: "later"},
			"later": {
				ID: "later", Kind: models.StepKindMessage,
				Body: "We will get back to you.", Freeze: true,
			},
		},
	}
	env := newTestEnv(t, def,
		engine.WithDefaultFreeze(2*time.Hour),
		engine.WithFreezeMessage("Paused until {freeze_until}."),
	)

	res := env.send(t, "hi")
	last := res.Messages[len(res.Messages)-1]
	if !strings.HasPrefix(last, "Paused until ") {
		t.Errorf("expected freeze explanation appended, got %v", res.Messages)
	}

	lead := env.lead(t)
	if lead.FreezeUntil == nil {
		t.Fatal("expected freeze expiry persisted")
	}
	until := time.Until(*lead.FreezeUntil)
	if until < time.Hour || until > 3*time.Hour {
		t.Errorf("expected roughly 2h freeze, got %v", until)
	}
	if lead.FreezeCount != 1 {
		t.Errorf("expected freeze count 1, got %d", lead.FreezeCount)
	}
}

func TestSessionRestoredFromLeadStore(t *testing.T) {
	env := newTestEnv(t, nil)
	testutil.SeedLead(t, env.leads, testutil.TestIdentity, models.LeadUpdate{
		CurrentStep: models.StringPtr("ask_name"),
	})

	// A fresh engine instance (no in-memory session) picks the conversation
	// up at the persisted step.
	res := env.send(t, "Dana")
	if len(res.Messages) == 0 || !strings.Contains(res.Messages[0], "Pick a day:") {
		t.Fatalf("expected day list after restored question answer, got %v", res.Messages)
	}
	if env.lead(t).Data["name"] != "Dana" {
		t.Errorf("expected answer persisted, got %v", env.lead(t).Data)
	}
}

func TestEvictIdleSessions(t *testing.T) {
	env := newTestEnv(t, nil, engine.WithSessionTimeout(time.Millisecond))
	env.send(t, "hi")

	if env.eng.SessionCount() != 1 {
		t.Fatalf("expected 1 session, got %d", env.eng.SessionCount())
	}
	time.Sleep(5 * time.Millisecond)
	if n := env.eng.EvictIdleSessions(); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if env.eng.SessionCount() != 0 {
		t.Errorf("expected empty session table, got %d", env.eng.SessionCount())
	}
}

func TestSetFlowReplacesDefinition(t *testing.T) {
	env := newTestEnv(t, nil)
	env.send(t, "hi")

	replacement := &models.FlowDefinition{
		Start: "greeting",
		Steps: map[string]*models.Step{
			"greeting": {ID: "greeting", Kind: models.StepKindMessage, Body: "New greeting."},
			"menu":     {ID: "menu", Kind: models.StepKindMessage, Body: "New menu."},
		},
	}
	env.eng.SetFlow(replacement)

	res := env.send(t, "anything")
	if len(res.Messages) != 1 || res.Messages[0] != "New menu." {
		t.Errorf("expected replaced definition in effect, got %v", res.Messages)
	}
}
