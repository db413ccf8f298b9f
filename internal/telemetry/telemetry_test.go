package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger, filter := NewLogger(&buf, slog.LevelInfo)
	filter.AddSecret("sk-live-abc")

	logger.Info("configured backend", "api_key", "sk-live-abc")

	if strings.Contains(buf.String(), "sk-live-abc") {
		t.Errorf("secret leaked into log output: %s", buf.String())
	}
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(&buf, slog.LevelInfo)
	logger.Info("hello", "n", 42)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", rec["msg"])
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "")
	id := CorrelationID(ctx)
	if id == "" {
		t.Fatal("expected generated correlation ID")
	}

	ctx = WithCorrelationID(context.Background(), "fixed")
	if got := CorrelationID(ctx); got != "fixed" {
		t.Errorf("CorrelationID = %q, want fixed", got)
	}

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID on empty context = %q, want empty", got)
	}
}

func TestSessionLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := NewLogger(&buf, slog.LevelInfo)
	ctx := WithCorrelationID(context.Background(), "corr-1")

	SessionLogger(logger, ctx, "sess-1").Info("turn started")

	out := buf.String()
	if !strings.Contains(out, "sess-1") || !strings.Contains(out, "corr-1") {
		t.Errorf("missing scoped fields in output: %s", out)
	}
}

func TestMetricsExposition(t *testing.T) {
	m := NewMetrics()
	m.SessionsActive.Inc()
	m.RecordTurn("completed", 2*time.Second, 100, 50)
	m.ToolCallsTotal.WithLabelValues("read_file", "local", "ok").Inc()
	m.PermissionDecisions.WithLabelValues("approved").Inc()
	m.JudgeVerdicts.WithLabelValues("accept", "rule").Inc()
	m.JudgeCacheHits.Inc()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rr.Result().Body)
	out := string(body)
	for _, want := range []string{
		"steward_sessions_active 1",
		`steward_turns_total{status="completed"} 1`,
		`steward_tokens_total{type="input"} 100`,
		`steward_tool_calls_total{mode="local",status="ok",tool="read_file"} 1`,
		`steward_judge_cache_hits_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("exposition missing %q", want)
		}
	}
}
