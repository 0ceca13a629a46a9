package messaging_test

import (
	"context"
	"testing"
	"time"

	"github.com/leadflowhq/leadflow/internal/engine"
	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/integrations"
	"github.com/leadflowhq/leadflow/internal/messaging"
	"github.com/leadflowhq/leadflow/internal/rules"
	"github.com/leadflowhq/leadflow/internal/store"
	"github.com/leadflowhq/leadflow/internal/testutil"
	"github.com/leadflowhq/leadflow/internal/validators"
)

func newDispatcherTestbed(t *testing.T, ruleOpts ...rules.Option) (*messaging.Dispatcher, *testutil.FakeChannel, store.LeadStore) {
	t.Helper()
	leads := store.NewInMemoryStore()
	registry := flow.NewRegistry(flow.Deps{
		Catalog:      validators.NewCatalog(),
		Availability: integrations.StaticAvailability(testutil.Availability()),
	})
	eng := engine.New(testutil.BookingFlow(), registry, leads, nil)
	evaluator := rules.NewEvaluator(leads, ruleOpts...)
	channel := testutil.NewFakeChannel(10)
	return messaging.NewDispatcher(channel, evaluator, eng), channel, leads
}

func TestDispatcherDeliversEngineReplies(t *testing.T) {
	dispatcher, channel, _ := newDispatcherTestbed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	channel.Push(testutil.Event(testutil.TestIdentity, "hi"), rules.ChatInfo{})

	// The opening chain produces the greeting and the menu.
	sent := channel.WaitForSent(t, testutil.TestIdentity, 2, time.Second)
	if sent[0] != "Welcome!" {
		t.Errorf("expected greeting first, got %q", sent[0])
	}
}

func TestDispatcherDropsRejectedEvents(t *testing.T) {
	dispatcher, channel, leads := newDispatcherTestbed(t, rules.WithBlockGroupChats())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	channel.Push(testutil.Event(testutil.TestIdentity, "hi"), rules.ChatInfo{IsGroupChat: true})

	// The sender ends up blocked and nothing is sent back.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		lead, err := leads.Get(testutil.TestIdentity)
		if err == nil && lead.Blocked {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	lead, err := leads.Get(testutil.TestIdentity)
	if err != nil || !lead.Blocked {
		t.Fatalf("expected sender blocked, got lead=%+v err=%v", lead, err)
	}
	if sent := channel.Sent(testutil.TestIdentity); len(sent) != 0 {
		t.Errorf("expected no reply to a rejected event, got %v", sent)
	}
}

func TestDispatcherSendsToCanonicalIdentity(t *testing.T) {
	dispatcher, channel, _ := newDispatcherTestbed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	// A channel may deliver the sender in a prefixed form; replies go to
	// the canonical identity the service derives from it.
	channel.Push(testutil.Event("+"+testutil.TestIdentity, "hi"), rules.ChatInfo{})

	sent := channel.WaitForSent(t, testutil.TestIdentity, 2, time.Second)
	if sent[0] != "Welcome!" {
		t.Errorf("expected greeting at the canonical identity, got %q", sent[0])
	}
	if raw := channel.Sent("+" + testutil.TestIdentity); len(raw) != 0 {
		t.Errorf("expected nothing sent to the raw From value, got %v", raw)
	}
}

func TestDispatcherStopsWhenChannelCloses(t *testing.T) {
	dispatcher, channel, _ := newDispatcherTestbed(t)

	done := make(chan struct{})
	go func() {
		dispatcher.Run(context.Background())
		close(done)
	}()

	if err := channel.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after channel close")
	}
}

func TestDispatcherHonorsConversationState(t *testing.T) {
	dispatcher, channel, leads := newDispatcherTestbed(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go dispatcher.Run(ctx)

	channel.Push(testutil.Event(testutil.TestIdentity, "hi"), rules.ChatInfo{})
	channel.WaitForSent(t, testutil.TestIdentity, 2, time.Second)

	channel.Push(testutil.Event(testutil.TestIdentity, "1"), rules.ChatInfo{})
	sent := channel.WaitForSent(t, testutil.TestIdentity, 3, time.Second)
	if sent[2] != "What is your name?" {
		t.Errorf("expected branch into the name question, got %q", sent[2])
	}

	lead, err := leads.Get(testutil.TestIdentity)
	if err != nil {
		t.Fatalf("lead lookup failed: %v", err)
	}
	if lead.CurrentStep != "ask_name" {
		t.Errorf("expected lead on ask_name, got %q", lead.CurrentStep)
	}
}
