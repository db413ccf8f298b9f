// Package store defines the durable persistence contract the engine consumes:
// sessions, their ordered message history, and the memory table. The engine
// only ever talks to the Store interface; implementations own the schema.
package store

import (
	"context"
	"errors"
	"time"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusRunning            Status = "running"
	StatusAwaitingPermission Status = "awaiting_permission"
	StatusCompleted          Status = "completed"
	StatusStopped            Status = "stopped"
	StatusError              Status = "error"
)

// Terminal reports whether a session in this status can never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusStopped || s == StatusError
}

// Role identifies who produced a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Session is the persisted snapshot of one agent-assisted task context.
type Session struct {
	ID            string     `json:"id"`
	Status        Status     `json:"status"`
	ExecutionMode string     `json:"execution_mode"`
	WorkingDir    string     `json:"working_dir"`
	SystemPrompt  string     `json:"system_prompt,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

// Message is one entry in a session's ordered history. While Streaming is
// true the content may still be mutated in place; it is frozen afterwards.
type Message struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	Streaming bool      `json:"streaming"`
	ToolName  string    `json:"tool_name,omitempty"`
	ToolInput string    `json:"tool_input,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryRecord is a confirmed durable fact about the user. Forgotten records
// are deactivated, never physically deleted unless explicitly purged.
type MemoryRecord struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"` // normalized
	Category        string    `json:"category"`
	Confidence      float64   `json:"confidence"`
	OriginSessionID string    `json:"origin_session_id"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
	LastConfirmed   time.Time `json:"last_confirmed"`
}

// ErrNotFound is returned when a session, message, or record does not exist.
var ErrNotFound = errors.New("not found")

// Store is the narrow CRUD surface the engine persists through. Ordering
// within one session's message sequence is append-only and monotonic;
// ordering across sessions is not guaranteed.
type Store interface {
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	SetSessionStatus(ctx context.Context, id string, status Status) error
	// DeleteSession marks the session deleted. History is retained until purge.
	DeleteSession(ctx context.Context, id string) error
	// PurgeSessions physically removes soft-deleted sessions older than cutoff
	// and returns how many were removed.
	PurgeSessions(ctx context.Context, cutoff time.Time) (int, error)

	// AppendMessage assigns the next sequence number and persists the message.
	AppendMessage(ctx context.Context, msg *Message) error
	// UpdateMessage rewrites content and streaming state of an existing message.
	UpdateMessage(ctx context.Context, id string, content string, streaming bool) error
	Messages(ctx context.Context, sessionID string) ([]*Message, error)

	// UpsertMemory inserts the record or, if an active record with the same
	// (text, category) exists, reinforces it in place.
	UpsertMemory(ctx context.Context, rec *MemoryRecord) error
	ActiveMemories(ctx context.Context) ([]*MemoryRecord, error)
	ListMemories(ctx context.Context, includeInactive bool) ([]*MemoryRecord, error)
	// DeactivateMemory marks the active record matching (text, category)
	// inactive. Returns false when no match exists; that is not an error.
	DeactivateMemory(ctx context.Context, text, category string) (bool, error)
	PurgeMemory(ctx context.Context, id string) error
}
