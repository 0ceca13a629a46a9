package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/leadflowhq/leadflow/internal/engine"
	"github.com/leadflowhq/leadflow/internal/rules"
)

// Dispatcher consumes inbound events from a channel service, runs them
// through the rule evaluator and the conversation engine, and sends the
// resulting messages back out on the same service.
type Dispatcher struct {
	service   Service
	evaluator *rules.Evaluator
	engine    *engine.Engine
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher over the given service, evaluator and
// engine.
func NewDispatcher(service Service, evaluator *rules.Evaluator, eng *engine.Engine) *Dispatcher {
	return &Dispatcher{
		service:   service,
		evaluator: evaluator,
		engine:    eng,
	}
}

// Run consumes the service's event channel until it closes or the context is
// cancelled. Each event is processed on its own goroutine; the engine
// serializes per identity internally, so concurrent events for different
// senders proceed in parallel.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "reason", ctx.Err())
			d.wg.Wait()
			return
		case inbound, ok := <-d.service.Events():
			if !ok {
				slog.Info("Dispatcher stopping, event channel closed")
				d.wg.Wait()
				return
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.dispatch(ctx, inbound)
			}()
		}
	}
}

// dispatch routes one inbound event. Rejections by the evaluator are final
// and produce no reply. Replies go to the channel's canonical form of the
// sender identity, not the raw From value.
func (d *Dispatcher) dispatch(ctx context.Context, inbound Inbound) {
	if !d.evaluator.ShouldProcess(inbound.Event, inbound.Chat) {
		return
	}

	to, err := d.service.ValidateAndCanonicalizeRecipient(inbound.Event.From)
	if err != nil {
		slog.Error("Dispatcher cannot canonicalize reply recipient", "error", err, "from", inbound.Event.From)
		return
	}

	result, err := d.engine.ProcessEvent(ctx, inbound.Event)
	if err != nil {
		slog.Error("Dispatcher engine processing failed", "error", err, "from", inbound.Event.From)
		// The engine still returns an apology message on failure; fall
		// through and deliver whatever it produced.
	}

	for _, msg := range result.Messages {
		if msg == "" {
			continue
		}
		if err := d.service.SendMessage(ctx, to, msg); err != nil {
			slog.Error("Dispatcher send failed", "error", err, "to", to)
			return
		}
	}
}
