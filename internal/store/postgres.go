package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL via pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the given DSN and ensures the schema exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: connect: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id             TEXT PRIMARY KEY,
	status         TEXT NOT NULL,
	execution_mode TEXT NOT NULL,
	working_dir    TEXT NOT NULL,
	system_prompt  TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	deleted_at     TIMESTAMPTZ
);
CREATE TABLE IF NOT EXISTS messages (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	seq        INTEGER NOT NULL,
	streaming  BOOLEAN NOT NULL DEFAULT FALSE,
	tool_name  TEXT NOT NULL DEFAULT '',
	tool_input TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, seq)
);
CREATE TABLE IF NOT EXISTS memories (
	id                TEXT PRIMARY KEY,
	text              TEXT NOT NULL,
	category          TEXT NOT NULL,
	confidence        DOUBLE PRECISION NOT NULL,
	origin_session_id TEXT NOT NULL DEFAULT '',
	active            BOOLEAN NOT NULL DEFAULT TRUE,
	created_at        TIMESTAMPTZ NOT NULL,
	last_confirmed    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS memories_active_text_category
	ON memories (text, category) WHERE active;
`
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("postgres store: migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (id, status, execution_mode, working_dir, system_prompt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sess.ID, sess.Status, sess.ExecutionMode, sess.WorkingDir, sess.SystemPrompt,
		sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres store: create session: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, status, execution_mode, working_dir, system_prompt, created_at, updated_at, deleted_at
		 FROM sessions WHERE id = $1 AND deleted_at IS NULL`, id)
	sess := &Session{}
	err := row.Scan(&sess.ID, &sess.Status, &sess.ExecutionMode, &sess.WorkingDir,
		&sess.SystemPrompt, &sess.CreatedAt, &sess.UpdatedAt, &sess.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, execution_mode, working_dir, system_prompt, created_at, updated_at, deleted_at
		 FROM sessions WHERE deleted_at IS NULL ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		sess := &Session{}
		if err := rows.Scan(&sess.ID, &sess.Status, &sess.ExecutionMode, &sess.WorkingDir,
			&sess.SystemPrompt, &sess.CreatedAt, &sess.UpdatedAt, &sess.DeletedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetSessionStatus(ctx context.Context, id string, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET status = $2, updated_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id, status)
	if err != nil {
		return fmt.Errorf("postgres store: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("postgres store: delete session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) PurgeSessions(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM sessions WHERE deleted_at IS NOT NULL AND deleted_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres store: purge sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) error {
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	// One runner owns each session, so the max-seq read is race-free per session.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO messages (id, session_id, role, content, seq, streaming, tool_name, tool_input, created_at, updated_at)
		 VALUES ($1, $2, $3, $4,
		         (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = $2),
		         $5, $6, $7, $8, $9)
		 RETURNING seq`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, msg.Streaming,
		msg.ToolName, msg.ToolInput, msg.CreatedAt, msg.UpdatedAt)
	if err := row.Scan(&msg.Seq); err != nil {
		return fmt.Errorf("postgres store: append message: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMessage(ctx context.Context, id string, content string, streaming bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $2, streaming = $3, updated_at = now() WHERE id = $1`,
		id, content, streaming)
	if err != nil {
		return fmt.Errorf("postgres store: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("message %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Messages(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, role, content, seq, streaming, tool_name, tool_input, created_at, updated_at
		 FROM messages WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: messages: %w", err)
	}
	defer rows.Close()

	var result []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Seq, &m.Streaming,
			&m.ToolName, &m.ToolInput, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres store: scan message: %w", err)
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (s *PostgresStore) UpsertMemory(ctx context.Context, rec *MemoryRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET last_confirmed = now(), confidence = GREATEST(confidence, $3)
		 WHERE text = $1 AND category = $2 AND active`,
		rec.Text, rec.Category, rec.Confidence)
	if err != nil {
		return fmt.Errorf("postgres store: reinforce memory: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Reactivate a previously forgotten record with the same text, if any.
	tag, err = s.pool.Exec(ctx,
		`UPDATE memories SET active = TRUE, last_confirmed = now(), confidence = GREATEST(confidence, $3)
		 WHERE text = $1 AND category = $2 AND NOT active`,
		rec.Text, rec.Category, rec.Confidence)
	if err != nil {
		return fmt.Errorf("postgres store: reactivate memory: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO memories (id, text, category, confidence, origin_session_id, active, created_at, last_confirmed)
		 VALUES ($1, $2, $3, $4, $5, TRUE, now(), now())`,
		rec.ID, rec.Text, rec.Category, rec.Confidence, rec.OriginSessionID)
	if err != nil {
		return fmt.Errorf("postgres store: insert memory: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveMemories(ctx context.Context) ([]*MemoryRecord, error) {
	return s.queryMemories(ctx, `WHERE active`)
}

func (s *PostgresStore) ListMemories(ctx context.Context, includeInactive bool) ([]*MemoryRecord, error) {
	if includeInactive {
		return s.queryMemories(ctx, ``)
	}
	return s.queryMemories(ctx, `WHERE active`)
}

func (s *PostgresStore) queryMemories(ctx context.Context, where string) ([]*MemoryRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, category, confidence, origin_session_id, active, created_at, last_confirmed
		 FROM memories `+where+` ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list memories: %w", err)
	}
	defer rows.Close()

	var result []*MemoryRecord
	for rows.Next() {
		rec := &MemoryRecord{}
		if err := rows.Scan(&rec.ID, &rec.Text, &rec.Category, &rec.Confidence,
			&rec.OriginSessionID, &rec.Active, &rec.CreatedAt, &rec.LastConfirmed); err != nil {
			return nil, fmt.Errorf("postgres store: scan memory: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *PostgresStore) DeactivateMemory(ctx context.Context, text, category string) (bool, error) {
	query := `UPDATE memories SET active = FALSE WHERE text = $1 AND active`
	args := []any{text}
	if category != "" {
		query += ` AND category = $2`
		args = append(args, category)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("postgres store: deactivate memory: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) PurgeMemory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres store: purge memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %q: %w", id, ErrNotFound)
	}
	return nil
}
