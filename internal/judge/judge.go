// Package judge scores memory candidates against a configurable guard level
// and escalates ambiguous cases to the agent backend for binary adjudication.
package judge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/steward-dev/steward/internal/backend"
	"github.com/steward-dev/steward/internal/memory"
	"github.com/steward-dev/steward/internal/store"
)

// GuardLevel sets how much evidence a candidate needs before it is persisted.
type GuardLevel string

const (
	GuardStrict   GuardLevel = "strict"
	GuardStandard GuardLevel = "standard"
	GuardRelaxed  GuardLevel = "relaxed"
)

// ParseGuardLevel validates a guard level string.
func ParseGuardLevel(s string) (GuardLevel, error) {
	switch GuardLevel(s) {
	case GuardStrict, GuardStandard, GuardRelaxed:
		return GuardLevel(s), nil
	case "":
		return GuardStandard, nil
	}
	return "", fmt.Errorf("unrecognized guard level %q", s)
}

// thresholds returns (accept, ambiguousFloor): score >= accept is accepted
// outright, score < ambiguousFloor is rejected outright, anything between
// escalates.
func (g GuardLevel) thresholds() (accept, floor float64) {
	switch g {
	case GuardStrict:
		return 0.85, 0.60
	case GuardRelaxed:
		return 0.45, 0.25
	default:
		return 0.65, 0.40
	}
}

// Outcome tags how a candidate was decided.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
)

// Source tags which tier produced the verdict.
type Source string

const (
	SourceRule     Source = "rule"
	SourceCache    Source = "cache"
	SourceBackend  Source = "backend"
	SourceFallback Source = "fallback"
)

// Verdict is the decision for one candidate.
type Verdict struct {
	Outcome Outcome
	Source  Source
	Score   float64
}

// TimeoutError reports a failed or timed-out escalation. The candidate fell
// back to the rule verdict; session progress is never blocked.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("judge escalation failed: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// categoryWeights bias the rule score toward fact kinds that are durable.
var categoryWeights = map[string]float64{
	memory.CategoryProfile:    1.00,
	memory.CategoryPreference: 0.95,
	memory.CategoryOwnership:  0.90,
	memory.CategoryOther:      0.80,
}

const redundancyPenalty = 0.15

// Judge runs the two-tier classification over extracted candidates.
type Judge struct {
	mu       sync.RWMutex
	guard    GuardLevel
	store    store.Store
	client   backend.Client
	cache    *VerdictCache
	model    string
	timeout  time.Duration
	logger   *slog.Logger
	group    singleflight.Group
	onResult func(v Verdict) // metrics hook, may be nil
}

// Options configures a Judge.
type Options struct {
	Guard    GuardLevel
	Store    store.Store
	Client   backend.Client
	Cache    *VerdictCache
	Model    string
	Timeout  time.Duration
	Logger   *slog.Logger
	OnResult func(v Verdict)
}

// New creates a Judge. The cache may be shared across judges.
func New(opts Options) *Judge {
	if opts.Cache == nil {
		opts.Cache = NewVerdictCache(0)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Guard == "" {
		opts.Guard = GuardStandard
	}
	return &Judge{
		guard:    opts.Guard,
		store:    opts.Store,
		client:   opts.Client,
		cache:    opts.Cache,
		model:    opts.Model,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		onResult: opts.OnResult,
	}
}

// SetGuard changes the guard level. Safe to call while sessions are judging.
func (j *Judge) SetGuard(g GuardLevel) {
	j.mu.Lock()
	j.guard = g
	j.mu.Unlock()
}

func (j *Judge) guardLevel() GuardLevel {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.guard
}

// Process runs the full pipeline for one turn's candidates. Forget
// directives deactivate matching records without scoring; everything else is
// scored, possibly escalated, and accepted candidates are upserted. Failures
// on one candidate never abort the rest.
func (j *Judge) Process(ctx context.Context, sessionID string, candidates []memory.Candidate) {
	for _, c := range candidates {
		if c.Method == memory.MethodExplicitForget {
			// Forget is always honored once the target is found; no match
			// is a silent no-op.
			if _, err := j.store.DeactivateMemory(ctx, c.Normalized, ""); err != nil {
				j.logger.Warn("memory deactivation failed", "error", err, "session_id", sessionID)
			}
			continue
		}

		verdict := j.Decide(ctx, c)
		if j.onResult != nil {
			j.onResult(verdict)
		}
		if verdict.Outcome != OutcomeAccepted {
			continue
		}

		rec := &store.MemoryRecord{
			ID:              store.NewID(),
			Text:            c.Normalized,
			Category:        c.Category,
			Confidence:      c.Confidence,
			OriginSessionID: sessionID,
			Active:          true,
		}
		if err := j.store.UpsertMemory(ctx, rec); err != nil {
			j.logger.Warn("memory upsert failed", "error", err, "session_id", sessionID)
		}
	}
}

// Decide scores one candidate and returns its verdict.
func (j *Judge) Decide(ctx context.Context, c memory.Candidate) Verdict {
	guard := j.guardLevel()
	score := j.ruleScore(ctx, c)
	accept, floor := guard.thresholds()

	switch {
	case score >= accept:
		return Verdict{Outcome: OutcomeAccepted, Source: SourceRule, Score: score}
	case score < floor:
		return Verdict{Outcome: OutcomeRejected, Source: SourceRule, Score: score}
	}

	key := CacheKey(c.Normalized, c.Category, guard)
	if accepted, ok := j.cache.Get(key); ok {
		return Verdict{Outcome: outcomeOf(accepted), Source: SourceCache, Score: score}
	}

	accepted, err := j.escalate(ctx, key, c)
	if err != nil {
		j.logger.Warn("judge escalation failed, using rule fallback",
			"error", err, "score", score)
		// Nearest threshold boundary decides: the upper half of the
		// ambiguous band is treated as accepted.
		if score >= (accept+floor)/2 {
			return Verdict{Outcome: OutcomeAccepted, Source: SourceFallback, Score: score}
		}
		return Verdict{Outcome: OutcomeRejected, Source: SourceFallback, Score: score}
	}
	return Verdict{Outcome: outcomeOf(accepted), Source: SourceBackend, Score: score}
}

func outcomeOf(accepted bool) Outcome {
	if accepted {
		return OutcomeAccepted
	}
	return OutcomeRejected
}

// ruleScore combines extraction confidence, category weight, and a
// redundancy penalty against existing active records. Near-duplicates are
// down-weighted, not auto-rejected, so reinforcement can still happen.
func (j *Judge) ruleScore(ctx context.Context, c memory.Candidate) float64 {
	weight, ok := categoryWeights[c.Category]
	if !ok {
		weight = categoryWeights[memory.CategoryOther]
	}
	score := c.Confidence * weight

	existing, err := j.store.ActiveMemories(ctx)
	if err != nil {
		return score
	}
	for _, rec := range existing {
		if rec.Category == c.Category && nearDuplicate(rec.Text, c.Normalized) {
			score -= redundancyPenalty
			break
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}

// nearDuplicate reports whether two normalized texts state the same fact.
func nearDuplicate(a, b string) bool {
	if a == b {
		return true
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// escalate asks the backend for a binary adjudication. Concurrent
// escalations for the same key are collapsed into one backend call.
func (j *Judge) escalate(ctx context.Context, key string, c memory.Candidate) (bool, error) {
	v, err, _ := j.group.Do(key, func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, j.timeout)
		defer cancel()

		res, err := j.client.Complete(callCtx, backend.Request{
			Model: j.model,
			System: "You validate whether a statement is a durable fact about the user " +
				"worth remembering across sessions. Answer with exactly YES or NO.",
			Messages: []backend.Message{{
				Role:    backend.RoleUser,
				Content: fmt.Sprintf("Category: %s\nStatement: %s", c.Category, c.Text),
			}},
			MaxTokens: 8,
		})
		if err != nil {
			return nil, &TimeoutError{Err: err}
		}
		accepted := strings.HasPrefix(strings.ToUpper(strings.TrimSpace(res.Content)), "YES")
		j.cache.Put(key, accepted)
		return accepted, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}
