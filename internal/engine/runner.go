package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/permit"
	"github.com/steward-dev/steward/internal/sandbox"
	"github.com/steward-dev/steward/internal/store"
	"github.com/steward-dev/steward/internal/stream"
	"github.com/steward-dev/steward/internal/tools"
)

// runner drives one session through a single logical turn: it consumes the
// backend action stream, routes tool calls through the selector and the
// gate, and surfaces every state change on the session's event channel.
type runner struct {
	eng     *Engine
	sess    *store.Session
	mode    execmode.Mode
	emitter *stream.Emitter
	tracker *backend.TokenTracker

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// turnStart marks how many messages existed before this turn's user
	// message; everything after it feeds the memory pass.
	turnStart int
}

func newRunner(eng *Engine, sess *store.Session, mode execmode.Mode, em *stream.Emitter) *runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &runner{
		eng:     eng,
		sess:    sess,
		mode:    mode,
		emitter: em,
		tracker: backend.NewTokenTracker(eng.tokenBudget),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (r *runner) stop() { r.cancel() }

func (r *runner) setStatus(status store.Status) {
	r.sess.Status = status
	if err := r.eng.store.SetSessionStatus(context.Background(), r.sess.ID, status); err != nil {
		r.eng.logger.Warn("status update failed", "session_id", r.sess.ID, "error", err)
	}
}

func (r *runner) run() {
	defer close(r.done)
	defer r.eng.finish(r.sess.ID)

	start := time.Now()
	r.setStatus(store.StatusRunning)

	history, err := r.loadHistory()
	if err != nil {
		r.fail(fmt.Errorf("loading history: %w", err))
		return
	}

	convo := history
	for turn := 0; turn < r.eng.maxTurns; turn++ {
		if err := r.tracker.CheckBudget(0); err != nil {
			r.eng.logger.Warn("token budget exhausted, ending turn",
				"session_id", r.sess.ID, "error", err)
			r.complete(start)
			return
		}

		result, toolCalls, err := r.consumeStream(convo)
		if err != nil {
			if r.ctx.Err() != nil {
				r.stopped()
				return
			}
			r.fail(&BackendError{Err: err})
			return
		}
		r.tracker.Add(result.Usage)

		if len(toolCalls) == 0 {
			if r.eng.metrics != nil {
				usage := r.tracker.Usage()
				r.eng.metrics.RecordTurn("completed", time.Since(start), usage.InputTokens, usage.OutputTokens)
			}
			r.complete(start)
			return
		}

		convo = append(convo, backend.Message{
			Role:      backend.RoleAgent,
			Content:   result.Content,
			ToolCalls: toolCalls,
		})
		for _, call := range toolCalls {
			res, ok := r.executeCall(call)
			if !ok {
				// Session was cancelled mid-handshake.
				r.stopped()
				return
			}
			convo = append(convo, backend.Message{Role: backend.RoleUser, ToolResult: &res})
		}
	}

	r.eng.logger.Warn("turn limit reached, ending turn", "session_id", r.sess.ID, "max_turns", r.eng.maxTurns)
	r.complete(start)
}

// loadHistory rebuilds the conversation from the persisted message log.
func (r *runner) loadHistory() ([]backend.Message, error) {
	msgs, err := r.eng.store.Messages(context.Background(), r.sess.ID)
	if err != nil {
		return nil, err
	}
	r.turnStart = len(msgs) - 1
	if r.turnStart < 0 {
		r.turnStart = 0
	}

	var convo []backend.Message
	for _, m := range msgs {
		switch m.Role {
		case store.RoleUser:
			convo = append(convo, backend.Message{Role: backend.RoleUser, Content: m.Content})
		case store.RoleAgent:
			if m.Content != "" {
				convo = append(convo, backend.Message{Role: backend.RoleAgent, Content: m.Content})
			}
		case store.RoleTool:
			convo = append(convo, backend.Message{
				Role:    backend.RoleUser,
				Content: fmt.Sprintf("[%s result] %s", m.ToolName, m.Content),
			})
		}
	}
	return convo, nil
}

// consumeStream runs one backend call, streaming text into an agent message
// and collecting tool-call requests. Exactly one message is in streaming
// state at any instant.
func (r *runner) consumeStream(convo []backend.Message) (*backend.Result, []backend.ToolCall, error) {
	req := backend.Request{
		Model:    r.eng.model,
		System:   r.sess.SystemPrompt,
		Messages: convo,
		Tools:    r.eng.registry.Definitions(),
	}
	actions, err := r.eng.client.Stream(r.ctx, req)
	if err != nil {
		return nil, nil, err
	}

	var (
		streaming *store.Message
		accum     string
		toolCalls []backend.ToolCall
		result    *backend.Result
	)

	finalize := func() {
		if streaming != nil {
			if err := r.eng.store.UpdateMessage(context.Background(), streaming.ID, accum, false); err != nil {
				r.eng.logger.Warn("finalizing message failed", "session_id", r.sess.ID, "error", err)
			}
			streaming = nil
		}
	}

	for {
		select {
		case <-r.ctx.Done():
			finalize()
			return nil, nil, r.ctx.Err()
		case action, open := <-actions:
			if !open {
				finalize()
				if result == nil {
					return nil, nil, errors.New("backend stream ended without completion")
				}
				return result, toolCalls, nil
			}
			switch action.Type {
			case backend.ActionText:
				if streaming == nil {
					streaming = &store.Message{
						ID:        store.NewID(),
						SessionID: r.sess.ID,
						Role:      store.RoleAgent,
						Streaming: true,
					}
					if err := r.eng.store.AppendMessage(context.Background(), streaming); err != nil {
						return nil, nil, err
					}
					r.emitter.Publish(stream.Event{Kind: stream.KindMessage, SessionID: r.sess.ID, Message: streaming})
				}
				accum += action.Text
				if err := r.eng.store.UpdateMessage(context.Background(), streaming.ID, accum, true); err != nil {
					r.eng.logger.Warn("streaming update failed", "session_id", r.sess.ID, "error", err)
				}
				r.emitter.Publish(stream.Event{
					Kind:      stream.KindMessageUpdate,
					SessionID: r.sess.ID,
					MessageID: streaming.ID,
					Delta:     action.Text,
					Text:      accum,
				})
			case backend.ActionToolCall:
				toolCalls = append(toolCalls, *action.ToolCall)
			case backend.ActionDone:
				result = action.Result
			case backend.ActionError:
				finalize()
				return nil, nil, action.Err
			}
		}
	}
}

// executeCall resolves placement, runs the gate handshake when required, and
// executes the tool. Returns ok=false only when the session was cancelled.
func (r *runner) executeCall(call backend.ToolCall) (backend.ToolResult, bool) {
	decision := r.eng.selector.Resolve(r.mode, call.Name)

	if decision.Gated {
		approved, ok := r.awaitPermission(call, decision)
		if !ok {
			return backend.ToolResult{}, false
		}
		if !approved {
			// Denial is turn context for the agent, not a session error.
			denied := &PermissionDeniedError{Tool: call.Name}
			r.appendToolMessage(call, denied.Error())
			r.recordToolCall(call.Name, decision.Mode, "denied")
			return backend.ToolResult{CallID: call.ID, Content: denied.Error(), IsError: true}, true
		}
	}

	out, err := r.eng.registry.Execute(r.ctx, call, tools.Placement{
		Mode:    decision.Mode,
		Sandbox: r.eng.sandbox,
	})
	if err != nil {
		var launchErr *sandbox.LaunchError
		if errors.As(err, &launchErr) {
			err = &ToolExecutionError{Tool: call.Name, Err: launchErr}
		} else {
			err = &ToolExecutionError{Tool: call.Name, Err: err}
		}
		r.appendToolMessage(call, err.Error())
		r.recordToolCall(call.Name, decision.Mode, "error")
		return backend.ToolResult{CallID: call.ID, Content: err.Error(), IsError: true}, true
	}

	r.appendToolMessage(call, out)
	r.recordToolCall(call.Name, decision.Mode, "ok")
	return backend.ToolResult{CallID: call.ID, Content: out}, true
}

// awaitPermission suspends the runner until the gate resolves or the session
// is cancelled. Returns (approved, ok); ok=false means cancelled.
func (r *runner) awaitPermission(call backend.ToolCall, decision execmode.Decision) (bool, bool) {
	summary := summarizeInput(call.Input)
	req := permit.Request{
		ID:           store.NewID(),
		SessionID:    r.sess.ID,
		Tool:         call.Name,
		Mode:         string(decision.Mode),
		InputSummary: summary,
		CreatedAt:    time.Now(),
	}
	wait, err := r.eng.gate.Submit(req)
	if err != nil {
		r.eng.logger.Warn("gate submit failed", "session_id", r.sess.ID, "error", err)
		return false, true
	}

	r.setStatus(store.StatusAwaitingPermission)
	r.emitter.Publish(stream.Event{
		Kind:         stream.KindPermissionRequest,
		SessionID:    r.sess.ID,
		RequestID:    req.ID,
		Tool:         call.Name,
		Mode:         string(decision.Mode),
		InputSummary: summary,
	})

	select {
	case d := <-wait:
		r.setStatus(store.StatusRunning)
		return d == permit.Approved, true
	case <-r.ctx.Done():
		r.eng.gate.CancelSession(r.sess.ID)
		return false, false
	}
}

func (r *runner) appendToolMessage(call backend.ToolCall, content string) {
	input, _ := json.Marshal(call.Input)
	msg := &store.Message{
		ID:        store.NewID(),
		SessionID: r.sess.ID,
		Role:      store.RoleTool,
		Content:   content,
		ToolName:  call.Name,
		ToolInput: string(input),
	}
	if err := r.eng.store.AppendMessage(context.Background(), msg); err != nil {
		r.eng.logger.Warn("appending tool message failed", "session_id", r.sess.ID, "error", err)
		return
	}
	r.emitter.Publish(stream.Event{Kind: stream.KindMessage, SessionID: r.sess.ID, Message: msg})
}

func (r *runner) recordToolCall(tool string, mode execmode.Mode, status string) {
	if r.eng.metrics != nil {
		r.eng.metrics.ToolCallsTotal.WithLabelValues(tool, string(mode), status).Inc()
	}
}

func (r *runner) complete(start time.Time) {
	r.setStatus(store.StatusCompleted)
	r.emitter.Publish(stream.Event{Kind: stream.KindComplete, SessionID: r.sess.ID})
	r.eng.logger.Info("turn completed", "session_id", r.sess.ID, "duration", time.Since(start))

	msgs, err := r.eng.store.Messages(context.Background(), r.sess.ID)
	if err != nil {
		r.eng.logger.Warn("loading turn messages for memory pass failed", "session_id", r.sess.ID, "error", err)
		return
	}
	if r.turnStart < len(msgs) {
		go r.eng.processMemories(r.sess.ID, msgs[r.turnStart:])
	}
}

func (r *runner) stopped() {
	r.setStatus(store.StatusStopped)
	r.emitter.Publish(stream.Event{Kind: stream.KindComplete, SessionID: r.sess.ID})
	if r.eng.metrics != nil {
		r.eng.metrics.TurnsTotal.WithLabelValues("stopped").Inc()
	}
}

func (r *runner) fail(err error) {
	r.eng.logger.Error("turn failed", "session_id", r.sess.ID, "error", err)
	r.setStatus(store.StatusError)

	kind := "backend"
	var toolErr *ToolExecutionError
	if errors.As(err, &toolErr) {
		kind = "tool"
	}
	r.emitter.Publish(stream.Event{
		Kind:       stream.KindError,
		SessionID:  r.sess.ID,
		ErrKind:    kind,
		ErrMessage: err.Error(),
	})
	if r.eng.metrics != nil {
		r.eng.metrics.TurnsTotal.WithLabelValues("error").Inc()
	}
}

// summarizeInput renders tool input compactly for the approval prompt.
func summarizeInput(input map[string]any) string {
	data, err := json.Marshal(input)
	if err != nil {
		return ""
	}
	const max = 200
	s := string(data)
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}
