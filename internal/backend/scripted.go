package backend

import (
	"context"
	"fmt"
	"sync"
)

// Turn configures one scripted response from the ScriptedClient.
type Turn struct {
	Content   string
	ToolCalls []ToolCall
	Stop      StopReason
	Usage     Usage
	Err       error
}

// ScriptedClient is a deterministic Client for tests. Turns are returned in
// order; once exhausted the last turn repeats.
type ScriptedClient struct {
	mu    sync.Mutex
	turns []Turn
	index int
	calls []Request

	// BlockOnStream, when non-nil, makes Stream park until the channel is
	// closed or the context is cancelled. Used to exercise cancellation.
	BlockOnStream chan struct{}
}

// NewScriptedClient creates a scripted backend with the given turns.
func NewScriptedClient(turns ...Turn) *ScriptedClient {
	return &ScriptedClient{turns: turns}
}

// Complete returns the next scripted turn as a full result.
func (s *ScriptedClient) Complete(_ context.Context, req Request) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, req)
	if len(s.turns) == 0 {
		return nil, fmt.Errorf("scripted backend: no turns configured")
	}

	idx := s.index
	if idx >= len(s.turns) {
		idx = len(s.turns) - 1
	} else {
		s.index++
	}

	turn := s.turns[idx]
	if turn.Err != nil {
		return nil, turn.Err
	}

	stop := turn.Stop
	if stop == "" {
		if len(turn.ToolCalls) > 0 {
			stop = StopToolUse
		} else {
			stop = StopEndTurn
		}
	}

	return &Result{
		Content:   turn.Content,
		ToolCalls: turn.ToolCalls,
		Stop:      stop,
		Usage:     turn.Usage,
	}, nil
}

// Stream replays the next scripted turn as an action sequence. Text content
// is split into two deltas so consumers see real incremental updates.
func (s *ScriptedClient) Stream(ctx context.Context, req Request) (<-chan Action, error) {
	s.mu.Lock()
	block := s.BlockOnStream
	s.mu.Unlock()

	ch := make(chan Action, 16)

	if block != nil {
		go func() {
			defer close(ch)
			select {
			case <-block:
			case <-ctx.Done():
				ch <- Action{Type: ActionError, Err: ctx.Err()}
			}
		}()
		return ch, nil
	}

	res, err := s.Complete(ctx, req)
	if err != nil {
		go func() {
			defer close(ch)
			ch <- Action{Type: ActionError, Err: err}
		}()
		return ch, nil
	}

	go func() {
		defer close(ch)
		if res.Content != "" {
			half := len(res.Content) / 2
			if half > 0 {
				ch <- Action{Type: ActionText, Text: res.Content[:half]}
				ch <- Action{Type: ActionText, Text: res.Content[half:]}
			} else {
				ch <- Action{Type: ActionText, Text: res.Content}
			}
		}
		for i := range res.ToolCalls {
			ch <- Action{Type: ActionToolCall, ToolCall: &res.ToolCalls[i]}
		}
		ch <- Action{Type: ActionDone, Result: res}
	}()

	return ch, nil
}

// Calls returns all requests the client has received.
func (s *ScriptedClient) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// Reset clears call history and rewinds the turn index.
func (s *ScriptedClient) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index = 0
	s.calls = nil
}
