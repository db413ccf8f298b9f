package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs tests and single-process runs
// without a database.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	messages map[string][]*Message // session id → ordered messages
	memories map[string]*MemoryRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		messages: make(map[string][]*Message),
		memories: make(map[string]*MemoryRecord),
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %q already exists", sess.ID)
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.DeletedAt != nil {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	cp := *sess
	return &cp, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*Session
	for _, sess := range s.sessions {
		if sess.DeletedAt != nil {
			continue
		}
		cp := *sess
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) SetSessionStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.DeletedAt != nil {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	sess.Status = status
	sess.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || sess.DeletedAt != nil {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	now := time.Now()
	sess.DeletedAt = &now
	return nil
}

func (s *MemoryStore) PurgeSessions(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if sess.DeletedAt != nil && sess.DeletedAt.Before(cutoff) {
			delete(s.sessions, id)
			delete(s.messages, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[msg.SessionID]; !ok {
		return fmt.Errorf("session %q: %w", msg.SessionID, ErrNotFound)
	}
	msg.Seq = len(s.messages[msg.SessionID]) + 1
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	cp := *msg
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], &cp)
	return nil
}

func (s *MemoryStore) UpdateMessage(_ context.Context, id string, content string, streaming bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msgs := range s.messages {
		for _, m := range msgs {
			if m.ID == id {
				m.Content = content
				m.Streaming = streaming
				m.UpdatedAt = time.Now()
				return nil
			}
		}
	}
	return fmt.Errorf("message %q: %w", id, ErrNotFound)
}

func (s *MemoryStore) Messages(_ context.Context, sessionID string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[sessionID]
	result := make([]*Message, len(msgs))
	for i, m := range msgs {
		cp := *m
		result[i] = &cp
	}
	return result, nil
}

func (s *MemoryStore) UpsertMemory(_ context.Context, rec *MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.memories {
		if existing.Text == rec.Text && existing.Category == rec.Category {
			existing.Active = true
			existing.LastConfirmed = time.Now()
			if rec.Confidence > existing.Confidence {
				existing.Confidence = rec.Confidence
			}
			return nil
		}
	}

	cp := *rec
	now := time.Now()
	cp.CreatedAt = now
	cp.LastConfirmed = now
	cp.Active = true
	s.memories[rec.ID] = &cp
	return nil
}

func (s *MemoryStore) ActiveMemories(_ context.Context) ([]*MemoryRecord, error) {
	return s.listMemories(false)
}

func (s *MemoryStore) ListMemories(_ context.Context, includeInactive bool) ([]*MemoryRecord, error) {
	return s.listMemories(includeInactive)
}

func (s *MemoryStore) listMemories(includeInactive bool) ([]*MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*MemoryRecord
	for _, rec := range s.memories {
		if !rec.Active && !includeInactive {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryStore) DeactivateMemory(_ context.Context, text, category string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.memories {
		if rec.Active && rec.Text == text && (category == "" || rec.Category == category) {
			rec.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) PurgeMemory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[id]; !ok {
		return fmt.Errorf("memory %q: %w", id, ErrNotFound)
	}
	delete(s.memories, id)
	return nil
}
