// Package engine implements the session execution engine: a registry of
// per-session runners driving the agent backend, with execution-mode
// selection, permission gating, ordered event streaming, and the post-turn
// memory pipeline.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/judge"
	"github.com/steward-dev/steward/internal/memory"
	"github.com/steward-dev/steward/internal/permit"
	"github.com/steward-dev/steward/internal/sandbox"
	"github.com/steward-dev/steward/internal/store"
	"github.com/steward-dev/steward/internal/stream"
	"github.com/steward-dev/steward/internal/telemetry"
	"github.com/steward-dev/steward/internal/tools"
)

// SessionConfig carries the parameters for starting a session.
type SessionConfig struct {
	WorkingDir     string
	SystemPrompt   string
	ExecutionMode  string
	InitialMessage string
}

// Options wires an Engine's collaborators.
type Options struct {
	Store     store.Store
	Client    backend.Client
	Selector  *execmode.Selector
	Registry  *tools.Registry
	Sandbox   sandbox.Sandbox
	Judge     *judge.Judge
	Extractor *memory.Extractor
	Logger    *slog.Logger
	Metrics   *telemetry.Metrics

	Model       string
	MaxTurns    int
	TokenBudget int
	// StopGrace bounds how long StopSession waits for a runner to
	// acknowledge cancellation before force-transitioning.
	StopGrace time.Duration
}

// Engine owns the session registry. Exactly one runner exists per active
// session; entries are inserted on start/continue and removed when the
// session reaches a terminal state.
type Engine struct {
	mu      sync.Mutex
	runners map[string]*runner

	store     store.Store
	client    backend.Client
	selector  *execmode.Selector
	gate      *permit.Gate
	hub       *stream.Hub
	registry  *tools.Registry
	sandbox   sandbox.Sandbox
	judge     *judge.Judge
	extractor *memory.Extractor
	logger    *slog.Logger
	metrics   *telemetry.Metrics

	model       string
	maxTurns    int
	tokenBudget int
	stopGrace   time.Duration
}

// New creates an Engine.
func New(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxTurns <= 0 {
		opts.MaxTurns = 25
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = 5 * time.Second
	}
	if opts.Extractor == nil {
		opts.Extractor = memory.NewExtractor()
	}
	return &Engine{
		runners:     make(map[string]*runner),
		store:       opts.Store,
		client:      opts.Client,
		selector:    opts.Selector,
		gate:        permit.NewGate(),
		hub:         stream.NewHub(),
		registry:    opts.Registry,
		sandbox:     opts.Sandbox,
		judge:       opts.Judge,
		extractor:   opts.Extractor,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		model:       opts.Model,
		maxTurns:    opts.MaxTurns,
		tokenBudget: opts.TokenBudget,
		stopGrace:   opts.StopGrace,
	}
}

// Events returns the ordered event channel for a session.
func (e *Engine) Events(sessionID string) <-chan stream.Event {
	return e.hub.Get(sessionID).Events()
}

// StartSession validates the config, persists the session and its initial
// user message, and launches the runner. Returns the new session id.
func (e *Engine) StartSession(ctx context.Context, cfg SessionConfig) (string, error) {
	mode, err := execmode.ParseMode(cfg.ExecutionMode)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	info, err := os.Stat(cfg.WorkingDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: working directory %q does not exist", ErrInvalidConfig, cfg.WorkingDir)
	}
	if cfg.InitialMessage == "" {
		return "", fmt.Errorf("%w: initial message is empty", ErrInvalidConfig)
	}

	sess := &store.Session{
		ID:            store.NewID(),
		Status:        store.StatusIdle,
		ExecutionMode: string(mode),
		WorkingDir:    cfg.WorkingDir,
		SystemPrompt:  cfg.SystemPrompt,
	}
	if err := e.store.CreateSession(ctx, sess); err != nil {
		return "", err
	}

	if err := e.launch(ctx, sess, mode, cfg.InitialMessage); err != nil {
		return "", err
	}
	return sess.ID, nil
}

// ContinueSession opens a new logical turn on an existing session. Rejected
// with ErrSessionBusy while a turn is in flight; launch holds the
// authoritative check.
func (e *Engine) ContinueSession(ctx context.Context, sessionID, message string) error {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return ErrSessionNotFound
	}
	mode, err := execmode.ParseMode(sess.ExecutionMode)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return e.launch(ctx, sess, mode, message)
}

// launch registers a runner, persists the user message, and starts the turn.
// The registry insert doubles as the busy check: reserving the slot and
// testing it happen in one critical section, so two concurrent turns on the
// same session cannot both start.
func (e *Engine) launch(ctx context.Context, sess *store.Session, mode execmode.Mode, userMessage string) error {
	em := e.hub.Get(sess.ID)
	r := newRunner(e, sess, mode, em)

	e.mu.Lock()
	if _, active := e.runners[sess.ID]; active {
		e.mu.Unlock()
		return ErrSessionBusy
	}
	e.runners[sess.ID] = r
	e.mu.Unlock()

	msg := &store.Message{
		ID:        store.NewID(),
		SessionID: sess.ID,
		Role:      store.RoleUser,
		Content:   userMessage,
	}
	if err := e.store.AppendMessage(ctx, msg); err != nil {
		e.mu.Lock()
		delete(e.runners, sess.ID)
		e.mu.Unlock()
		return err
	}
	em.Publish(stream.Event{Kind: stream.KindMessage, SessionID: sess.ID, Message: msg})

	if e.metrics != nil {
		e.metrics.SessionsActive.Inc()
	}
	go r.run()
	return nil
}

// finish removes a runner from the registry once its session reached a
// terminal state for this turn.
func (e *Engine) finish(sessionID string) {
	e.mu.Lock()
	_, ok := e.runners[sessionID]
	delete(e.runners, sessionID)
	e.mu.Unlock()
	if ok && e.metrics != nil {
		e.metrics.SessionsActive.Dec()
	}
}

// StopSession cancels the in-flight backend stream and any pending
// permission wait, then drives the session to stopped within StopGrace.
// Stopping an already-terminal session is a no-op.
func (e *Engine) StopSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	r, active := e.runners[sessionID]
	e.mu.Unlock()

	if !active {
		sess, err := e.store.GetSession(ctx, sessionID)
		if err != nil {
			return ErrSessionNotFound
		}
		if sess.Status.Terminal() {
			return nil
		}
		return e.store.SetSessionStatus(ctx, sessionID, store.StatusStopped)
	}

	r.stop()
	e.gate.CancelSession(sessionID)

	select {
	case <-r.done:
	case <-time.After(e.stopGrace):
		// Backend did not acknowledge cancellation; never leave the
		// session in limbo.
		e.logger.Warn("force-stopping unresponsive session", "session_id", sessionID)
		_ = e.store.SetSessionStatus(ctx, sessionID, store.StatusStopped)
		r.emitter.Publish(stream.Event{Kind: stream.KindComplete, SessionID: sessionID})
		e.finish(sessionID)
	}
	return nil
}

// RespondToPermission delivers a decision for a pending request. Any
// mismatch (wrong session, already resolved, unknown id) fails with
// permit.ErrStale and mutates nothing.
func (e *Engine) RespondToPermission(_ context.Context, sessionID, requestID string, approve bool) error {
	pending, ok := e.gate.Pending(sessionID)
	if !ok || pending.ID != requestID {
		return permit.ErrStale
	}
	decision := permit.Denied
	if approve {
		decision = permit.Approved
	}
	if err := e.gate.Resolve(requestID, decision); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.PermissionDecisions.WithLabelValues(string(decision)).Inc()
	}
	return nil
}

// GetSession returns the session snapshot and its message history.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*store.Session, []*store.Message, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, ErrSessionNotFound
	}
	msgs, err := e.store.Messages(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return sess, msgs, nil
}

// ListSessions returns all sessions.
func (e *Engine) ListSessions(ctx context.Context) ([]*store.Session, error) {
	return e.store.ListSessions(ctx)
}

// DeleteSession stops any active runner, drops the event channel, and soft
// deletes the session.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	_ = e.StopSession(ctx, sessionID)
	e.hub.Drop(sessionID)
	if err := e.store.DeleteSession(ctx, sessionID); err != nil {
		return ErrSessionNotFound
	}
	return nil
}

// SetGuard forwards a guard-level change to the judge. Used by config hot
// reload.
func (e *Engine) SetGuard(g judge.GuardLevel) {
	if e.judge != nil {
		e.judge.SetGuard(g)
	}
}

// processMemories runs extraction and judging for a finished turn. Failures
// here never affect session state.
func (e *Engine) processMemories(sessionID string, turnMessages []*store.Message) {
	if e.judge == nil {
		return
	}
	msgs := make([]store.Message, 0, len(turnMessages))
	for _, m := range turnMessages {
		msgs = append(msgs, *m)
	}
	candidates := e.extractor.Extract(msgs)
	if len(candidates) == 0 {
		return
	}
	if e.metrics != nil {
		for _, c := range candidates {
			e.metrics.MemoriesExtracted.WithLabelValues(c.Category).Inc()
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	e.judge.Process(ctx, sessionID, candidates)
}
