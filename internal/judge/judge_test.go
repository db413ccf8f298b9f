package judge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/memory"
	"github.com/steward-dev/steward/internal/store"
)

func implicitCandidate(text, category string, confidence float64) memory.Candidate {
	return memory.Candidate{
		SourceMessageID: "m1",
		Method:          memory.MethodImplicit,
		Text:            text,
		Normalized:      memory.Normalize(text),
		Category:        category,
		Confidence:      confidence,
	}
}

func TestGuardThresholds(t *testing.T) {
	tests := []struct {
		guard  GuardLevel
		accept float64
		floor  float64
	}{
		{GuardStrict, 0.85, 0.60},
		{GuardStandard, 0.65, 0.40},
		{GuardRelaxed, 0.45, 0.25},
	}
	for _, tt := range tests {
		a, f := tt.guard.thresholds()
		if a != tt.accept || f != tt.floor {
			t.Errorf("%s thresholds = (%v, %v), want (%v, %v)", tt.guard, a, f, tt.accept, tt.floor)
		}
	}
}

func TestParseGuardLevel(t *testing.T) {
	if g, err := ParseGuardLevel(""); err != nil || g != GuardStandard {
		t.Errorf("empty guard = %v, %v; want standard default", g, err)
	}
	if _, err := ParseGuardLevel("paranoid"); err == nil {
		t.Error("expected error for unknown guard level")
	}
}

func TestDecideRuleTier(t *testing.T) {
	st := store.NewMemoryStore()
	j := New(Options{Guard: GuardStandard, Store: st, Client: backend.NewScriptedClient()})

	t.Run("high confidence accepted without escalation", func(t *testing.T) {
		v := j.Decide(context.Background(), implicitCandidate("my name is Alice", memory.CategoryProfile, 0.9))
		if v.Outcome != OutcomeAccepted || v.Source != SourceRule {
			t.Errorf("verdict = %+v, want rule accept", v)
		}
	})

	t.Run("low confidence rejected without escalation", func(t *testing.T) {
		v := j.Decide(context.Background(), implicitCandidate("something vague", memory.CategoryOther, 0.2))
		if v.Outcome != OutcomeRejected || v.Source != SourceRule {
			t.Errorf("verdict = %+v, want rule reject", v)
		}
	})
}

func TestRedundancyPenalty(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.UpsertMemory(ctx, &store.MemoryRecord{
		Text: "i prefer dark mode", Category: memory.CategoryPreference, Confidence: 0.9, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	j := New(Options{Guard: GuardStandard, Store: st, Client: backend.NewScriptedClient()})
	fresh := j.ruleScore(ctx, implicitCandidate("I prefer light mode", memory.CategoryPreference, 0.85))
	dup := j.ruleScore(ctx, implicitCandidate("I prefer dark mode", memory.CategoryPreference, 0.85))
	if dup >= fresh {
		t.Errorf("duplicate score %v should be below fresh score %v", dup, fresh)
	}
}

func TestAmbiguousEscalatesAndCaches(t *testing.T) {
	st := store.NewMemoryStore()
	client := backend.NewScriptedClient(backend.Turn{Content: "YES"})
	j := New(Options{Guard: GuardStrict, Store: st, Client: client, Cache: NewVerdictCache(time.Minute)})

	// strict ambiguous band is [0.60, 0.85): 0.75 × 0.95 ≈ 0.71
	cand := implicitCandidate("I think I like blue", memory.CategoryPreference, 0.75)

	v := j.Decide(context.Background(), cand)
	if v.Source != SourceBackend || v.Outcome != OutcomeAccepted {
		t.Fatalf("first verdict = %+v, want backend accept", v)
	}
	if calls := len(client.Calls()); calls != 1 {
		t.Fatalf("expected 1 escalation call, got %d", calls)
	}

	v = j.Decide(context.Background(), cand)
	if v.Source != SourceCache || v.Outcome != OutcomeAccepted {
		t.Fatalf("second verdict = %+v, want cache accept", v)
	}
	if calls := len(client.Calls()); calls != 1 {
		t.Errorf("cached verdict should not re-escalate, got %d calls", calls)
	}
}

func TestCacheExpiryReEscalates(t *testing.T) {
	cache := NewVerdictCache(time.Minute)
	now := time.Now()
	cache.now = func() time.Time { return now }

	key := CacheKey("i think i like blue", memory.CategoryPreference, GuardStrict)
	cache.Put(key, true)

	if _, ok := cache.Get(key); !ok {
		t.Fatal("expected cache hit before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := cache.Get(key); ok {
		t.Error("expected miss after TTL expiry")
	}
	if dropped := cache.Sweep(); dropped != 1 {
		t.Errorf("Sweep dropped %d, want 1", dropped)
	}
	if cache.Len() != 0 {
		t.Errorf("cache not empty after sweep: %d", cache.Len())
	}
}

func TestCacheKeyStable(t *testing.T) {
	a := CacheKey("text", "preference", GuardStrict)
	b := CacheKey("text", "preference", GuardStrict)
	if a != b {
		t.Error("same triple must produce the same key")
	}
	if a == CacheKey("text", "preference", GuardRelaxed) {
		t.Error("guard level must be part of the key")
	}
}

func TestEscalationFailureFallsBack(t *testing.T) {
	st := store.NewMemoryStore()
	client := backend.NewScriptedClient(backend.Turn{Err: errors.New("backend down")})
	j := New(Options{Guard: GuardStrict, Store: st, Client: client})

	// Upper half of the strict ambiguous band: falls back to accept.
	v := j.Decide(context.Background(), implicitCandidate("I like strong coffee", memory.CategoryPreference, 0.82))
	if v.Source != SourceFallback || v.Outcome != OutcomeAccepted {
		t.Errorf("verdict = %+v, want fallback accept", v)
	}

	// Lower half: falls back to reject.
	v = j.Decide(context.Background(), implicitCandidate("maybe something", memory.CategoryOther, 0.78))
	if v.Source != SourceFallback || v.Outcome != OutcomeRejected {
		t.Errorf("verdict = %+v, want fallback reject", v)
	}
}

func TestProcessPersistsAcceptedCandidates(t *testing.T) {
	st := store.NewMemoryStore()
	j := New(Options{Guard: GuardRelaxed, Store: st, Client: backend.NewScriptedClient()})
	ctx := context.Background()

	j.Process(ctx, "sess-1", []memory.Candidate{
		{
			Method:     memory.MethodExplicitRemember,
			Text:       "I prefer dark mode",
			Normalized: "i prefer dark mode",
			Category:   memory.CategoryPreference,
			Confidence: memory.MaxConfidence,
		},
	})

	recs, err := st.ActiveMemories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].Text != "i prefer dark mode" {
		t.Fatalf("active memories = %+v, want one record", recs)
	}
	if recs[0].OriginSessionID != "sess-1" {
		t.Errorf("origin = %q, want sess-1", recs[0].OriginSessionID)
	}
}

func TestProcessPersistsDistinctCandidates(t *testing.T) {
	st := store.NewMemoryStore()
	j := New(Options{Guard: GuardRelaxed, Store: st, Client: backend.NewScriptedClient()})
	ctx := context.Background()

	j.Process(ctx, "sess-1", []memory.Candidate{
		{
			Method:     memory.MethodExplicitRemember,
			Text:       "I prefer dark mode",
			Normalized: "i prefer dark mode",
			Category:   memory.CategoryPreference,
			Confidence: memory.MaxConfidence,
		},
		{
			Method:     memory.MethodExplicitRemember,
			Text:       "my name is Alice",
			Normalized: "my name is alice",
			Category:   memory.CategoryProfile,
			Confidence: memory.MaxConfidence,
		},
	})

	recs, err := st.ActiveMemories(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("active memories = %d, want 2: %+v", len(recs), recs)
	}
	if recs[0].ID == "" || recs[1].ID == "" {
		t.Error("persisted records must carry ids")
	}
	if recs[0].ID == recs[1].ID {
		t.Errorf("records share id %q", recs[0].ID)
	}
}

func TestSetGuardConcurrentWithDecide(t *testing.T) {
	st := store.NewMemoryStore()
	j := New(Options{Guard: GuardStandard, Store: st, Client: backend.NewScriptedClient(backend.Turn{Content: "NO"})})

	done := make(chan struct{})
	go func() {
		defer close(done)
		levels := []GuardLevel{GuardStrict, GuardStandard, GuardRelaxed}
		for i := 0; i < 200; i++ {
			j.SetGuard(levels[i%len(levels)])
		}
	}()
	for i := 0; i < 200; i++ {
		j.Decide(context.Background(), implicitCandidate("my name is Alice", memory.CategoryProfile, 0.95))
	}
	<-done
}

func TestProcessForgetDeactivates(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	if err := st.UpsertMemory(ctx, &store.MemoryRecord{
		Text: "i use tabs", Category: memory.CategoryPreference, Confidence: 1, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	j := New(Options{Guard: GuardStandard, Store: st, Client: backend.NewScriptedClient()})
	j.Process(ctx, "sess-1", []memory.Candidate{
		{Method: memory.MethodExplicitForget, Normalized: "i use tabs", Category: memory.CategoryPreference},
	})

	recs, _ := st.ActiveMemories(ctx)
	if len(recs) != 0 {
		t.Errorf("record not deactivated: %+v", recs)
	}

	// Forget with no match is a silent no-op.
	j.Process(ctx, "sess-1", []memory.Candidate{
		{Method: memory.MethodExplicitForget, Normalized: "never stored", Category: memory.CategoryOther},
	})
}
