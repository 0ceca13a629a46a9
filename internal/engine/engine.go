// Package engine implements the conversation engine: it resolves sessions,
// drives the step-handler loop with auto-continuation, applies
// freeze/reset/block side effects and persists progress to the lead store.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/leadflowhq/leadflow/internal/flow"
	"github.com/leadflowhq/leadflow/internal/integrations"
	"github.com/leadflowhq/leadflow/internal/models"
	"github.com/leadflowhq/leadflow/internal/store"
)

// Engine limits and defaults.
const (
	// maxChainLength bounds auto-continuation so a misconfigured flow with
	// a cycle of non-waiting steps cannot loop forever.
	maxChainLength = 25
	// DedupCapacity is how many recent event IDs are remembered.
	DedupCapacity = 512
	// DefaultSessionTimeout is the idle window after which a session is
	// evicted from memory.
	DefaultSessionTimeout = 30 * time.Minute
	// DefaultFreezeDuration applies when a freezing step has no specific
	// duration configured.
	DefaultFreezeDuration = 24 * time.Hour
	// legacyFreezeFallback applies when not even a default is configured.
	legacyFreezeFallback = time.Hour
	// freezeMessageCooldown suppresses a repeated identical freeze
	// explanation within this window.
	freezeMessageCooldown = 5 * time.Minute
	// DefaultApology is returned when processing fails unexpectedly.
	DefaultApology = "Sorry, something went wrong. Please try again."
	// DefaultResetTarget is the step a reset jumps to when none is
	// configured.
	DefaultResetTarget = "menu"
)

// Result is the outcome of processing one inbound event.
type Result struct {
	Messages    []string
	WaitForUser bool
}

// Opts holds engine configuration.
type Opts struct {
	ResetKeyword    string
	ResetTarget     string
	FreezeDurations map[string]time.Duration // per-step overrides
	DefaultFreeze   time.Duration
	MaxFreezeCount  int
	FreezeMessage   string // templated explanation, empty disables it
	SessionTimeout  time.Duration
	Apology         string
	DisabledSteps   map[string]bool // step IDs skipped via skip_if_disabled
}

// Option defines a configuration option for the engine.
type Option func(*Opts)

// WithResetKeyword sets the keyword that restarts a conversation at the
// reset target.
func WithResetKeyword(keyword string) Option {
	return func(o *Opts) { o.ResetKeyword = keyword }
}

// WithResetTarget sets the step a reset jumps to.
func WithResetTarget(stepID string) Option {
	return func(o *Opts) { o.ResetTarget = stepID }
}

// WithFreezeDurations sets per-step freeze durations.
func WithFreezeDurations(durations map[string]time.Duration) Option {
	return func(o *Opts) { o.FreezeDurations = durations }
}

// WithDefaultFreeze sets the default freeze duration.
func WithDefaultFreeze(d time.Duration) Option {
	return func(o *Opts) { o.DefaultFreeze = d }
}

// WithMaxFreezeCount caps how many times a lead can be frozen.
func WithMaxFreezeCount(n int) Option {
	return func(o *Opts) { o.MaxFreezeCount = n }
}

// WithFreezeMessage sets the templated freeze explanation message.
func WithFreezeMessage(message string) Option {
	return func(o *Opts) { o.FreezeMessage = message }
}

// WithSessionTimeout sets the idle eviction window.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Opts) { o.SessionTimeout = d }
}

// WithApology overrides the generic failure message.
func WithApology(message string) Option {
	return func(o *Opts) { o.Apology = message }
}

// WithDisabledSteps marks step IDs as disabled.
func WithDisabledSteps(steps ...string) Option {
	return func(o *Opts) {
		if o.DisabledSteps == nil {
			o.DisabledSteps = make(map[string]bool)
		}
		for _, s := range steps {
			o.DisabledSteps[s] = true
		}
	}
}

// Engine orchestrates session lifecycle and the step-handler loop.
type Engine struct {
	flowMu   sync.RWMutex
	flowDef  *models.FlowDefinition
	registry *flow.Registry
	leads    store.LeadStore
	notifier *integrations.Notifier
	cfg      Opts

	sessions *sessionTable
	dedup    *dedupRing

	freezeMu   sync.Mutex
	lastFreeze map[string]time.Time // identity -> last explanation sent
}

// New creates an engine over a validated flow definition.
func New(def *models.FlowDefinition, registry *flow.Registry, leads store.LeadStore, notifier *integrations.Notifier, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = DefaultSessionTimeout
	}
	if cfg.Apology == "" {
		cfg.Apology = DefaultApology
	}
	if cfg.ResetTarget == "" {
		cfg.ResetTarget = DefaultResetTarget
	}
	return &Engine{
		flowDef:    def,
		registry:   registry,
		leads:      leads,
		notifier:   notifier,
		cfg:        cfg,
		sessions:   newSessionTable(),
		dedup:      newDedupRing(DedupCapacity),
		lastFreeze: make(map[string]time.Time),
	}
}

// SetFlow atomically replaces the flow definition (admin reload). The
// definition must already be validated.
func (e *Engine) SetFlow(def *models.FlowDefinition) {
	e.flowMu.Lock()
	defer e.flowMu.Unlock()
	e.flowDef = def
	slog.Info("Flow definition replaced", "steps", len(def.Steps), "start", def.Start)
}

func (e *Engine) flow() *models.FlowDefinition {
	e.flowMu.RLock()
	defer e.flowMu.RUnlock()
	return e.flowDef
}

// SessionCount returns the number of in-memory sessions.
func (e *Engine) SessionCount() int {
	return e.sessions.count()
}

// EvictIdleSessions drops sessions idle beyond the configured timeout and
// returns how many were evicted. The persisted leads are untouched.
func (e *Engine) EvictIdleSessions() int {
	return e.sessions.evictIdle(e.cfg.SessionTimeout)
}

// ProcessEvent advances the sender's conversation with the inbound event
// and returns the messages to send. Duplicate events (same channel ID) are
// silently dropped. Any internal failure yields a single generic apology
// and leaves the session's step pointer unchanged so the next input retries
// the same step.
func (e *Engine) ProcessEvent(ctx context.Context, event models.Event) (result Result, err error) {
	if e.dedup.seen(event.ID) {
		slog.Debug("Dropping duplicate event", "id", event.ID, "from", event.From)
		return Result{}, nil
	}

	id, idErr := models.ValidateIdentity(event.From)
	if idErr != nil {
		return Result{}, fmt.Errorf("invalid sender: %w", idErr)
	}

	unlock := e.sessions.lock(id)
	defer unlock()

	session := e.resolveSession(id)
	priorStep := session.CurrentStep

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event processing panicked", "panic", r, "id", id, "step", priorStep)
			e.restoreStep(id, session, priorStep)
			result = Result{Messages: []string{e.cfg.Apology}, WaitForUser: true}
			err = nil
		}
	}()

	result, err = e.process(ctx, id, session, event.Body)
	if err != nil {
		slog.Error("Event processing failed", "error", err, "id", id, "step", session.CurrentStep)
		e.restoreStep(id, session, priorStep)
		return Result{Messages: []string{e.cfg.Apology}, WaitForUser: true}, nil
	}
	return result, nil
}

// restoreStep rewinds the session to the step it held before the failed
// event and persists that pointer, compensating for any mid-loop
// persistProgress that already recorded a later step.
func (e *Engine) restoreStep(id string, session *models.Session, step string) {
	session.CurrentStep = step
	if step == "" {
		return
	}
	if _, err := e.leads.Merge(id, models.LeadUpdate{CurrentStep: models.StringPtr(step)}); err != nil {
		slog.Error("Failed to restore persisted step after failure", "error", err, "id", id, "step", step)
	}
}

// resolveSession returns the cached session for an identity, restores one
// from the lead store when the lead is still active, or creates a fresh
// session. Caller must hold the identity lock.
func (e *Engine) resolveSession(id string) *models.Session {
	if session := e.sessions.get(id); session != nil {
		return session
	}

	session := models.NewSession(id)
	lead, err := e.leads.Get(id)
	if err == nil && lead.CurrentStep != "" {
		if active, aerr := e.leads.IsActive(id); aerr == nil && active {
			session.CurrentStep = lead.CurrentStep
			session.FirstMessage = false
			session.NewConversation = false
			if lead.Data != nil {
				for k, v := range lead.Data {
					session.Data[k] = v
				}
			}
			slog.Debug("Session restored from lead store", "id", id, "step", lead.CurrentStep)
		}
	}
	e.sessions.put(id, session)
	return session
}

// process runs the first-message / reset / step-loop decision for one event.
func (e *Engine) process(ctx context.Context, id string, session *models.Session, input string) (Result, error) {
	session.Touch()
	def := e.flow()

	if session.FirstMessage {
		// The content of the very first inbound event is discarded: the
		// conversation starts from a clean data bag at the start step.
		session.ResetData()
		session.CurrentStep = def.Start
		session.FirstMessage = false
		session.NewConversation = false
		if err := e.persistStep(id, session, input); err != nil {
			return Result{}, err
		}
		return e.runLoop(ctx, id, session, "", false)
	}

	if e.cfg.ResetKeyword != "" && strings.TrimSpace(input) == e.cfg.ResetKeyword {
		return e.reset(ctx, id, session)
	}

	return e.runLoop(ctx, id, session, input, true)
}

// reset clears the data bag, jumps to the reset target and runs the step
// loop from there with no input, exactly like a first message. An
// auto-advancing target therefore persists each advancement and the stored
// step pointer stays in agreement with the session.
func (e *Engine) reset(ctx context.Context, id string, session *models.Session) (Result, error) {
	def := e.flow()
	target := e.cfg.ResetTarget
	if def.Step(target) == nil {
		target = def.Start
	}
	session.ResetData()
	session.CurrentStep = target
	if err := e.persistStep(id, session, ""); err != nil {
		return Result{}, err
	}
	slog.Info("Conversation reset", "id", id, "target", target)
	return e.runLoop(ctx, id, session, "", false)
}

// runLoop dispatches the current step's handler and auto-continues while
// handlers report waitForUser=false, accumulating messages in order.
func (e *Engine) runLoop(ctx context.Context, id string, session *models.Session, input string, hasInput bool) (Result, error) {
	def := e.flow()
	var messages []string

	if hasInput {
		if _, err := e.leads.Merge(id, models.LeadUpdate{
			LastDirection:     models.DirectionClient,
			LastClientMessage: models.StringPtr(input),
		}); err != nil {
			return Result{}, err
		}
	}

	for i := 0; i < maxChainLength; i++ {
		step := def.Step(session.CurrentStep)
		if step == nil {
			return Result{}, fmt.Errorf("session %s points at unknown step %q", id, session.CurrentStep)
		}

		if e.cfg.DisabledSteps[step.ID] && step.SkipIfDisabled != "" {
			session.CurrentStep = step.SkipIfDisabled
			continue
		}

		handler, err := e.registry.Handler(step.Kind)
		if err != nil {
			return Result{}, err
		}
		res, err := handler.Process(ctx, step, session, input, hasInput)
		if err != nil {
			return Result{}, err
		}
		messages = append(messages, res.Messages...)

		if err := e.persistProgress(id, session, len(res.Messages) > 0); err != nil {
			return Result{}, err
		}

		if session.Scheduled && !session.MeetingNotified {
			e.finalizeMeeting(ctx, id, session)
		}

		if step.Block {
			e.block(id, step.ID)
			return Result{Messages: messages, WaitForUser: res.WaitForUser}, nil
		}
		if step.Freeze {
			if msg := e.freeze(id, session, step.ID); msg != "" {
				messages = append(messages, msg)
			}
		}

		if res.WaitForUser {
			return Result{Messages: messages, WaitForUser: true}, nil
		}
		if !res.KeepInput {
			input, hasInput = "", false
		}
	}

	slog.Error("Auto-continuation chain exceeded limit, stopping", "id", id, "step", session.CurrentStep, "limit", maxChainLength)
	return Result{Messages: messages, WaitForUser: true}, nil
}

// persistStep records the session's current step without touching message
// direction.
func (e *Engine) persistStep(id string, session *models.Session, clientMessage string) error {
	update := models.LeadUpdate{CurrentStep: models.StringPtr(session.CurrentStep)}
	if clientMessage != "" {
		update.LastDirection = models.DirectionClient
		update.LastClientMessage = models.StringPtr(clientMessage)
	}
	_, err := e.leads.Merge(id, update)
	return err
}

// persistProgress records step pointer, data bag and direction after a
// handler invocation.
func (e *Engine) persistProgress(id string, session *models.Session, sentMessages bool) error {
	update := models.LeadUpdate{
		CurrentStep: models.StringPtr(session.CurrentStep),
		Data:        session.Data,
	}
	if sentMessages {
		update.LastDirection = models.DirectionBot
	}
	if name := session.Data["name"]; name != "" {
		update.Name = models.StringPtr(name)
	}
	_, err := e.leads.Merge(id, update)
	return err
}

// finalizeMeeting persists the scheduled meeting and fans it out to the
// integration collaborators. Integration failures are logged, never
// surfaced.
func (e *Engine) finalizeMeeting(ctx context.Context, id string, session *models.Session) {
	meeting := &models.Meeting{
		Date: session.Selection.SelectedDate,
		Time: session.Selection.SelectedTime,
	}
	lead, err := e.leads.Merge(id, models.LeadUpdate{
		IsScheduled: models.BoolPtr(true),
		Meeting:     meeting,
	})
	if err != nil {
		slog.Error("Failed to persist scheduled meeting", "error", err, "id", id)
		return
	}
	session.MeetingNotified = true
	slog.Info("Meeting scheduled", "id", id, "date", meeting.Date, "time", meeting.Time)
	if e.notifier != nil {
		e.notifier.MeetingScheduled(ctx, integrations.ToMeetingData(lead))
	}
}

// block marks the lead blocked; further inbound events are rule-filtered
// out.
func (e *Engine) block(id, stepID string) {
	if _, err := e.leads.Merge(id, models.LeadUpdate{
		Blocked:       models.BoolPtr(true),
		BlockedReason: models.StringPtr("blocked by step " + stepID),
	}); err != nil {
		slog.Error("Failed to block lead", "error", err, "id", id)
	}
	e.sessions.drop(id)
	slog.Info("Lead blocked", "id", id, "step", stepID)
}

// freeze suppresses further processing for the lead until an expiry
// computed from the step-specific duration, the default, or the legacy
// fallback, in that order. Returns the templated explanation message, or
// empty when suppressed or disabled.
func (e *Engine) freeze(id string, session *models.Session, stepID string) string {
	lead, err := e.leads.Get(id)
	if err != nil && err != models.ErrLeadNotFound {
		slog.Error("Freeze lookup failed", "error", err, "id", id)
		return ""
	}
	count := 0
	if lead != nil {
		count = lead.FreezeCount
	}
	if e.cfg.MaxFreezeCount > 0 && count >= e.cfg.MaxFreezeCount {
		slog.Debug("Freeze ceiling reached, skipping", "id", id, "count", count)
		return ""
	}

	duration := e.cfg.FreezeDurations[stepID]
	if duration <= 0 {
		duration = e.cfg.DefaultFreeze
	}
	if duration <= 0 {
		duration = legacyFreezeFallback
	}
	expiry := time.Now().Add(duration)

	if _, err := e.leads.Merge(id, models.LeadUpdate{
		FreezeUntil: models.TimePtr(expiry),
		FreezeCount: models.IntPtr(count + 1),
	}); err != nil {
		slog.Error("Failed to persist freeze", "error", err, "id", id)
		return ""
	}
	slog.Info("Lead frozen", "id", id, "step", stepID, "until", expiry)

	if e.cfg.FreezeMessage == "" {
		return ""
	}
	// Suppress a repeated identical explanation within the cooldown.
	e.freezeMu.Lock()
	last, ok := e.lastFreeze[id]
	now := time.Now()
	if ok && now.Sub(last) < freezeMessageCooldown {
		e.freezeMu.Unlock()
		return ""
	}
	e.lastFreeze[id] = now
	e.freezeMu.Unlock()

	renderCtx := flow.RenderContext(session)
	renderCtx["freeze_until"] = expiry.Format("02/01/2006 15:04")
	return flow.Render(e.cfg.FreezeMessage, renderCtx)
}
