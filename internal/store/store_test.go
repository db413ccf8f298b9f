package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newSession(id string) *Session {
	return &Session{ID: id, Status: StatusIdle, ExecutionMode: "auto", WorkingDir: "/tmp", CreatedAt: time.Now()}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusCompleted, StatusStopped, StatusError}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
	for _, s := range []Status{StatusIdle, StatusRunning, StatusAwaitingPermission} {
		if s.Terminal() {
			t.Errorf("%s.Terminal() = true, want false", s)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.CreateSession(ctx, newSession("s1")); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if err := s.CreateSession(ctx, newSession("s1")); err == nil {
		t.Error("duplicate id should fail")
	}

	if err := s.SetSessionStatus(ctx, "s1", StatusRunning); err != nil {
		t.Fatalf("SetSessionStatus: %v", err)
	}
	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %s, want running", got.Status)
	}

	if _, err := s.GetSession(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMessageSequenceGapless(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateSession(ctx, newSession("s1"))

	for i := 0; i < 5; i++ {
		msg := &Message{ID: fmt.Sprintf("m%d", i), SessionID: "s1", Role: RoleUser, Content: "hi"}
		if err := s.AppendMessage(ctx, msg); err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if msg.Seq != i+1 {
			t.Errorf("assigned seq = %d, want %d", msg.Seq, i+1)
		}
	}

	msgs, err := s.Messages(ctx, "s1")
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Errorf("message %d has seq %d", i, m.Seq)
		}
	}

	err = s.AppendMessage(ctx, &Message{ID: "x", SessionID: "ghost", Role: RoleUser})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("append to unknown session err = %v, want ErrNotFound", err)
	}
}

func TestUpdateMessage(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateSession(ctx, newSession("s1"))
	msg := &Message{ID: "m1", SessionID: "s1", Role: RoleAgent, Streaming: true}
	s.AppendMessage(ctx, msg)

	if err := s.UpdateMessage(ctx, "m1", "partial then full", false); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}
	msgs, _ := s.Messages(ctx, "s1")
	if msgs[0].Content != "partial then full" || msgs[0].Streaming {
		t.Errorf("message = %+v", msgs[0])
	}

	if err := s.UpdateMessage(ctx, "ghost", "x", false); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteAndPurgeSessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.CreateSession(ctx, newSession("s1"))
	s.AppendMessage(ctx, &Message{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hi"})

	if err := s.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	// Soft delete hides the session from reads.
	if _, err := s.GetSession(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session visible: %v", err)
	}
	list, _ := s.ListSessions(ctx)
	if len(list) != 0 {
		t.Errorf("ListSessions after delete = %d entries", len(list))
	}

	// History survives until purge.
	msgs, _ := s.Messages(ctx, "s1")
	if len(msgs) != 1 {
		t.Errorf("messages gone before purge: %d", len(msgs))
	}

	n, err := s.PurgeSessions(ctx, time.Now().Add(time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("PurgeSessions = %d, %v", n, err)
	}
	msgs, _ = s.Messages(ctx, "s1")
	if len(msgs) != 0 {
		t.Errorf("messages remain after purge: %d", len(msgs))
	}

	// Purge with an old cutoff removes nothing.
	s.CreateSession(ctx, newSession("s2"))
	s.DeleteSession(ctx, "s2")
	if n, _ := s.PurgeSessions(ctx, time.Now().Add(-time.Hour)); n != 0 {
		t.Errorf("purged %d sessions newer than cutoff", n)
	}
}

func TestUpsertMemoryReinforces(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	first := &MemoryRecord{ID: "a", Text: "i prefer dark mode", Category: "preference", Confidence: 0.6}
	if err := s.UpsertMemory(ctx, first); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}

	// Same fact again with higher confidence reinforces, it does not duplicate.
	again := &MemoryRecord{ID: "b", Text: "i prefer dark mode", Category: "preference", Confidence: 0.9}
	if err := s.UpsertMemory(ctx, again); err != nil {
		t.Fatalf("UpsertMemory: %v", err)
	}
	active, _ := s.ActiveMemories(ctx)
	if len(active) != 1 {
		t.Fatalf("active records = %d, want 1", len(active))
	}
	if active[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, want reinforced to 0.9", active[0].Confidence)
	}

	// A lower-confidence repeat keeps the stronger score.
	weaker := &MemoryRecord{ID: "c", Text: "i prefer dark mode", Category: "preference", Confidence: 0.3}
	s.UpsertMemory(ctx, weaker)
	active, _ = s.ActiveMemories(ctx)
	if active[0].Confidence != 0.9 {
		t.Errorf("confidence = %v, weaker repeat must not lower it", active[0].Confidence)
	}
}

func TestDeactivateMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.UpsertMemory(ctx, &MemoryRecord{ID: "a", Text: "my name is ana", Category: "profile", Confidence: 0.9})

	ok, err := s.DeactivateMemory(ctx, "my name is ana", "profile")
	if err != nil || !ok {
		t.Fatalf("DeactivateMemory = %v, %v", ok, err)
	}
	active, _ := s.ActiveMemories(ctx)
	if len(active) != 0 {
		t.Errorf("active after deactivate = %d", len(active))
	}
	all, _ := s.ListMemories(ctx, true)
	if len(all) != 1 || all[0].Active {
		t.Errorf("record should remain, inactive: %+v", all)
	}

	// No match is a silent no-op, not an error.
	ok, err = s.DeactivateMemory(ctx, "never said this", "")
	if err != nil || ok {
		t.Errorf("no-match deactivate = %v, %v", ok, err)
	}

	// Reactivation through upsert.
	s.UpsertMemory(ctx, &MemoryRecord{ID: "b", Text: "my name is ana", Category: "profile", Confidence: 0.9})
	active, _ = s.ActiveMemories(ctx)
	if len(active) != 1 {
		t.Errorf("reupserted record not active: %d", len(active))
	}
}

func TestPurgeMemory(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.UpsertMemory(ctx, &MemoryRecord{ID: "a", Text: "x", Category: "other", Confidence: 0.5})

	if err := s.PurgeMemory(ctx, "a"); err != nil {
		t.Fatalf("PurgeMemory: %v", err)
	}
	if err := s.PurgeMemory(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	all, _ := s.ListMemories(ctx, true)
	if len(all) != 0 {
		t.Errorf("records remain after purge: %d", len(all))
	}
}
