package backend

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestScriptedClientReplaysTurns(t *testing.T) {
	c := NewScriptedClient(
		Turn{Content: "first"},
		Turn{ToolCalls: []ToolCall{{ID: "t1", Name: "read_file"}}},
	)
	ctx := context.Background()

	res, err := c.Complete(ctx, Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if res.Content != "first" || res.Stop != StopEndTurn {
		t.Errorf("turn 1 = %+v", res)
	}

	res, err = c.Complete(ctx, Request{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if len(res.ToolCalls) != 1 || res.Stop != StopToolUse {
		t.Errorf("turn 2 = %+v", res)
	}

	// Exhausted script repeats the last turn.
	res, _ = c.Complete(ctx, Request{})
	if len(res.ToolCalls) != 1 {
		t.Errorf("turn 3 should repeat: %+v", res)
	}

	if got := len(c.Calls()); got != 3 {
		t.Errorf("recorded %d calls, want 3", got)
	}
	c.Reset()
	if got := len(c.Calls()); got != 0 {
		t.Errorf("calls after Reset = %d", got)
	}
}

func TestScriptedClientStream(t *testing.T) {
	c := NewScriptedClient(Turn{Content: "hello world", ToolCalls: []ToolCall{{ID: "t1", Name: "list_dir"}}})
	ch, err := c.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}

	var text string
	var tools, dones int
	for a := range ch {
		switch a.Type {
		case ActionText:
			text += a.Text
		case ActionToolCall:
			tools++
		case ActionDone:
			dones++
		case ActionError:
			t.Fatalf("unexpected error action: %v", a.Err)
		}
	}
	if text != "hello world" {
		t.Errorf("reassembled text = %q", text)
	}
	if tools != 1 || dones != 1 {
		t.Errorf("tools = %d, dones = %d", tools, dones)
	}
}

func TestScriptedClientStreamCancellation(t *testing.T) {
	c := NewScriptedClient(Turn{Content: "never delivered"})
	c.BlockOnStream = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Stream(ctx, Request{})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	cancel()

	select {
	case a := <-ch:
		if a.Type != ActionError || !errors.Is(a.Err, context.Canceled) {
			t.Errorf("action = %+v, want cancellation error", a)
		}
	case <-time.After(time.Second):
		t.Fatal("stream never reacted to cancellation")
	}
}

func TestScriptedClientError(t *testing.T) {
	boom := errors.New("backend down")
	c := NewScriptedClient(Turn{Err: boom})
	if _, err := c.Complete(context.Background(), Request{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want scripted error", err)
	}
}

func TestTokenTracker(t *testing.T) {
	tr := NewTokenTracker(100)
	tr.Add(Usage{InputTokens: 40, OutputTokens: 20})

	if err := tr.CheckBudget(30); err != nil {
		t.Errorf("within budget: %v", err)
	}
	if err := tr.CheckBudget(50); err == nil {
		t.Error("over budget should fail")
	}

	u := tr.Usage()
	if u.InputTokens != 40 || u.OutputTokens != 20 {
		t.Errorf("usage = %+v", u)
	}

	// Zero budget means unlimited.
	unlimited := NewTokenTracker(0)
	unlimited.Add(Usage{InputTokens: 1 << 20})
	if err := unlimited.CheckBudget(1 << 20); err != nil {
		t.Errorf("unlimited tracker rejected: %v", err)
	}
}
