// Package stream implements the ordered per-session event channel that
// carries all observable progress to the presentation layer. The producer
// never blocks and never drops: events queue in an unbounded FIFO and a
// pump goroutine delivers them to the subscriber in production order.
package stream

import (
	"sync"

	"github.com/steward-dev/steward/internal/store"
)

// Kind identifies an event type.
type Kind string

const (
	KindMessage           Kind = "message"
	KindMessageUpdate     Kind = "messageUpdate"
	KindPermissionRequest Kind = "permissionRequest"
	KindComplete          Kind = "complete"
	KindError             Kind = "error"
)

// Event is one element of a session's event stream.
type Event struct {
	Kind      Kind   `json:"kind"`
	SessionID string `json:"session_id"`

	// KindMessage
	Message *store.Message `json:"message,omitempty"`

	// KindMessageUpdate
	MessageID string `json:"message_id,omitempty"`
	Delta     string `json:"delta,omitempty"`
	Text      string `json:"text,omitempty"` // accumulated content

	// KindPermissionRequest
	RequestID    string `json:"request_id,omitempty"`
	Tool         string `json:"tool,omitempty"`
	Mode         string `json:"mode,omitempty"`
	InputSummary string `json:"input_summary,omitempty"`

	// KindError
	ErrKind    string `json:"err_kind,omitempty"`
	ErrMessage string `json:"err_message,omitempty"`
}

// Emitter is the event channel for a single session.
type Emitter struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []Event
	out    chan Event
	closed bool
	done   chan struct{}
}

// NewEmitter creates an emitter and starts its delivery pump.
func NewEmitter() *Emitter {
	e := &Emitter{
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	e.cond = sync.NewCond(&e.mu)
	go e.pump()
	return e
}

// Publish enqueues an event. It never blocks and preserves call order.
// Publishing after Close is a no-op.
func (e *Emitter) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.queue = append(e.queue, ev)
	e.cond.Signal()
}

// Events returns the delivery channel. It is closed once the emitter is
// closed and the queue has drained.
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// Close stops the emitter after all already-published events are delivered.
// It blocks until the queue drains, so a consumer must be reading Events.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.cond.Signal()
	e.mu.Unlock()
	<-e.done
}

func (e *Emitter) pump() {
	defer close(e.done)
	defer close(e.out)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.closed {
			e.mu.Unlock()
			return
		}
		ev := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.out <- ev
	}
}

// Hub manages one emitter per session. Channels for different sessions are
// fully independent.
type Hub struct {
	mu       sync.Mutex
	emitters map[string]*Emitter
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{emitters: make(map[string]*Emitter)}
}

// Get returns the session's emitter, creating it on first use.
func (h *Hub) Get(sessionID string) *Emitter {
	h.mu.Lock()
	defer h.mu.Unlock()
	em, ok := h.emitters[sessionID]
	if !ok {
		em = NewEmitter()
		h.emitters[sessionID] = em
	}
	return em
}

// Drop closes and removes the session's emitter, if present. A drain
// consumer is attached first so Close cannot wedge on a queue nobody reads.
func (h *Hub) Drop(sessionID string) {
	h.mu.Lock()
	em, ok := h.emitters[sessionID]
	delete(h.emitters, sessionID)
	h.mu.Unlock()
	if ok {
		go func() {
			for range em.Events() {
			}
		}()
		em.Close()
	}
}
