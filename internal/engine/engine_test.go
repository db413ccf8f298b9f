package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/execmode"
	"github.com/steward-dev/steward/internal/judge"
	"github.com/steward-dev/steward/internal/permit"
	"github.com/steward-dev/steward/internal/sandbox"
	"github.com/steward-dev/steward/internal/store"
	"github.com/steward-dev/steward/internal/stream"
	"github.com/steward-dev/steward/internal/tools"
)

func newTestEngine(t *testing.T, client backend.Client) (*Engine, *store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	workdir := t.TempDir()

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{
		Root:      workdir,
		Allowlist: []string{"echo"},
		Local:     &sandbox.NoopSandbox{},
	})

	eng := New(Options{
		Store:     st,
		Client:    client,
		Selector:  execmode.NewSelector(nil),
		Registry:  registry,
		Sandbox:   &sandbox.NoopSandbox{},
		StopGrace: 2 * time.Second,
	})
	return eng, st, workdir
}

func waitEvent(t *testing.T, events <-chan stream.Event, kind stream.Kind) stream.Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func waitStatus(t *testing.T, st store.Store, sessionID string, want store.Status) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		sess, err := st.GetSession(context.Background(), sessionID)
		if err == nil && sess.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess, _ := st.GetSession(context.Background(), sessionID)
	t.Fatalf("session never reached %s, still %s", want, sess.Status)
}

func TestStartSessionInvalidConfig(t *testing.T) {
	eng, _, workdir := newTestEngine(t, backend.NewScriptedClient())
	ctx := context.Background()

	t.Run("missing working directory", func(t *testing.T) {
		_, err := eng.StartSession(ctx, SessionConfig{
			WorkingDir: "/no/such/dir", ExecutionMode: "auto", InitialMessage: "hi",
		})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("unrecognized mode", func(t *testing.T) {
		_, err := eng.StartSession(ctx, SessionConfig{
			WorkingDir: workdir, ExecutionMode: "container", InitialMessage: "hi",
		})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})

	t.Run("empty message", func(t *testing.T) {
		_, err := eng.StartSession(ctx, SessionConfig{
			WorkingDir: workdir, ExecutionMode: "auto",
		})
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("err = %v, want ErrInvalidConfig", err)
		}
	})
}

func TestTextOnlyTurnCompletes(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "hello there"})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "say hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := eng.Events(id)

	ev := waitEvent(t, events, stream.KindMessage)
	if ev.Message.Role != store.RoleUser || ev.Message.Content != "say hi" {
		t.Errorf("first event should be the user message, got %+v", ev.Message)
	}

	ev = waitEvent(t, events, stream.KindMessageUpdate)
	if ev.MessageID == "" || ev.Delta == "" {
		t.Errorf("messageUpdate missing fields: %+v", ev)
	}

	waitEvent(t, events, stream.KindComplete)
	waitStatus(t, st, id, store.StatusCompleted)

	msgs, err := st.Messages(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	last := msgs[len(msgs)-1]
	if last.Role != store.RoleAgent || last.Content != "hello there" || last.Streaming {
		t.Errorf("final agent message wrong: %+v", last)
	}
}

func TestMessageSequenceGapless(t *testing.T) {
	client := backend.NewScriptedClient(
		backend.Turn{ToolCalls: []backend.ToolCall{{ID: "t1", Name: "list_dir", Input: map[string]any{}}}},
		backend.Turn{Content: "done"},
	)
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "list files",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, eng.Events(id), stream.KindComplete)

	msgs, err := st.Messages(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	streaming := 0
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("message %d has seq %d, want %d", i, m.Seq, i+1)
		}
		if m.Streaming {
			streaming++
		}
	}
	if streaming != 0 {
		t.Errorf("%d messages left in streaming state", streaming)
	}
}

func TestContinueSession(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "first"}, backend.Turn{Content: "second"})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "one",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := eng.Events(id)
	waitEvent(t, events, stream.KindComplete)
	waitStatus(t, st, id, store.StatusCompleted)

	if err := eng.ContinueSession(ctx, id, "two"); err != nil {
		t.Fatalf("ContinueSession: %v", err)
	}
	waitEvent(t, events, stream.KindComplete)

	msgs, _ := st.Messages(ctx, id)
	if len(msgs) != 4 {
		t.Errorf("expected 4 messages after two turns, got %d", len(msgs))
	}

	if err := eng.ContinueSession(ctx, "missing", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestContinueWhileRunningRejected(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "blocked"})
	client.BlockOnStream = make(chan struct{})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, st, id, store.StatusRunning)

	if err := eng.ContinueSession(ctx, id, "more"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("err = %v, want ErrSessionBusy", err)
	}

	close(client.BlockOnStream)
	_ = eng.StopSession(ctx, id)
}

func TestConcurrentTurnsStartOneRunner(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "done"})
	client.BlockOnStream = make(chan struct{})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	sess := &store.Session{
		ID: store.NewID(), Status: store.StatusIdle,
		ExecutionMode: "auto", WorkingDir: workdir,
	}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}

	// Race two turn launches; the registry reservation must admit exactly one.
	errs := make(chan error, 2)
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			errs <- eng.launch(ctx, sess, execmode.ModeAuto, "hi")
		}()
	}
	close(start)

	var started, busy int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			started++
		case errors.Is(err, ErrSessionBusy):
			busy++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if started != 1 || busy != 1 {
		t.Errorf("started = %d, busy = %d, want exactly one of each", started, busy)
	}

	eng.mu.Lock()
	registered := len(eng.runners)
	eng.mu.Unlock()
	if registered != 1 {
		t.Errorf("registered runners = %d, want 1", registered)
	}

	close(client.BlockOnStream)
	if err := eng.StopSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
}

func TestStopSessionBounded(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "never"})
	client.BlockOnStream = make(chan struct{})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitStatus(t, st, id, store.StatusRunning)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = eng.StopSession(ctx, id)
	}()
	select {
	case <-done:
	case <-time.After(4 * time.Second):
		t.Fatal("StopSession did not return within bounded time")
	}
	waitStatus(t, st, id, store.StatusStopped)

	// Stopping a terminal session is a no-op.
	if err := eng.StopSession(ctx, id); err != nil {
		t.Errorf("idempotent stop returned %v", err)
	}
}

func TestAutoModeSelection(t *testing.T) {
	client := backend.NewScriptedClient(
		backend.Turn{ToolCalls: []backend.ToolCall{{ID: "t1", Name: "grep_files", Input: map[string]any{"pattern": "x"}}}},
		backend.Turn{ToolCalls: []backend.ToolCall{{ID: "t2", Name: "run_command", Input: map[string]any{"command": "echo"}}}},
		backend.Turn{Content: "never mind then"},
	)
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "inspect and run",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := eng.Events(id)

	// Read-only tool resolved local: no permission event precedes the
	// gated run_command request.
	ev := waitEvent(t, events, stream.KindPermissionRequest)
	if ev.Tool != "run_command" {
		t.Fatalf("permission requested for %s, want run_command", ev.Tool)
	}
	if ev.Mode != string(execmode.ModeSandbox) {
		t.Errorf("requested mode = %s, want sandbox", ev.Mode)
	}

	waitStatus(t, st, id, store.StatusAwaitingPermission)

	if err := eng.RespondToPermission(ctx, id, ev.RequestID, false); err != nil {
		t.Fatalf("RespondToPermission: %v", err)
	}

	// Denial is not fatal: the turn keeps going and completes.
	waitEvent(t, events, stream.KindComplete)
	waitStatus(t, st, id, store.StatusCompleted)

	msgs, _ := st.Messages(ctx, id)
	deniedSeen := false
	for _, m := range msgs {
		if m.Role == store.RoleTool && m.ToolName == "run_command" {
			deniedSeen = true
		}
	}
	if !deniedSeen {
		t.Error("denied tool call left no tool message in history")
	}
}

func TestRespondToPermissionStale(t *testing.T) {
	client := backend.NewScriptedClient(
		backend.Turn{ToolCalls: []backend.ToolCall{{ID: "t1", Name: "run_command", Input: map[string]any{"command": "echo"}}}},
		backend.Turn{Content: "ok"},
	)
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "run",
	})
	if err != nil {
		t.Fatal(err)
	}
	events := eng.Events(id)
	ev := waitEvent(t, events, stream.KindPermissionRequest)

	if err := eng.RespondToPermission(ctx, id, "wrong-id", true); !errors.Is(err, permit.ErrStale) {
		t.Errorf("mismatched id: err = %v, want ErrStale", err)
	}
	if err := eng.RespondToPermission(ctx, "other-session", ev.RequestID, true); !errors.Is(err, permit.ErrStale) {
		t.Errorf("wrong session: err = %v, want ErrStale", err)
	}

	if err := eng.RespondToPermission(ctx, id, ev.RequestID, true); err != nil {
		t.Fatalf("valid resolution failed: %v", err)
	}
	if err := eng.RespondToPermission(ctx, id, ev.RequestID, true); !errors.Is(err, permit.ErrStale) {
		t.Errorf("double resolution: err = %v, want ErrStale", err)
	}

	waitEvent(t, events, stream.KindComplete)
	waitStatus(t, st, id, store.StatusCompleted)
}

func TestToolFailureStaysRunning(t *testing.T) {
	client := backend.NewScriptedClient(
		backend.Turn{ToolCalls: []backend.ToolCall{{ID: "t1", Name: "read_file", Input: map[string]any{"path": "missing.txt"}}}},
		backend.Turn{Content: "file was not there"},
	)
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "read it",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, eng.Events(id), stream.KindComplete)
	waitStatus(t, st, id, store.StatusCompleted)
}

func TestBackendErrorIsFatal(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Err: errors.New("model unavailable")})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "go",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, eng.Events(id), stream.KindError)
	if ev.ErrKind != "backend" {
		t.Errorf("error kind = %s, want backend", ev.ErrKind)
	}
	waitStatus(t, st, id, store.StatusError)
}

func TestMemoryPipelineRunsAfterTurn(t *testing.T) {
	st := store.NewMemoryStore()
	workdir := t.TempDir()
	client := backend.NewScriptedClient(backend.Turn{Content: "noted"})

	registry := tools.NewRegistry()
	tools.RegisterBuiltins(registry, tools.BuiltinOptions{Root: workdir})

	j := judge.New(judge.Options{
		Guard:  judge.GuardRelaxed,
		Store:  st,
		Client: backend.NewScriptedClient(backend.Turn{Content: "YES"}),
	})
	eng := New(Options{
		Store:    st,
		Client:   client,
		Selector: execmode.NewSelector(nil),
		Registry: registry,
		Sandbox:  &sandbox.NoopSandbox{},
		Judge:    j,
	})

	id, err := eng.StartSession(context.Background(), SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto",
		InitialMessage: "remember that I prefer dark mode",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, eng.Events(id), stream.KindComplete)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		recs, _ := st.ActiveMemories(context.Background())
		for _, r := range recs {
			if r.Text == "i prefer dark mode" && r.OriginSessionID == id {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("memory record never persisted after turn completion")
}

func TestDeleteSession(t *testing.T) {
	client := backend.NewScriptedClient(backend.Turn{Content: "bye"})
	eng, st, workdir := newTestEngine(t, client)
	ctx := context.Background()

	id, err := eng.StartSession(ctx, SessionConfig{
		WorkingDir: workdir, ExecutionMode: "auto", InitialMessage: "hi",
	})
	if err != nil {
		t.Fatal(err)
	}
	waitEvent(t, eng.Events(id), stream.KindComplete)

	if err := eng.DeleteSession(ctx, id); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	sess, err := st.GetSession(ctx, id)
	if err == nil && sess.DeletedAt == nil {
		t.Error("session not marked deleted")
	}
}
