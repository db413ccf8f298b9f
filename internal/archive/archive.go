// Package archive exports finished session transcripts for retention.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/steward-dev/steward/internal/store"
)

// Transcript is the exported shape of one session.
type Transcript struct {
	Session    *store.Session   `json:"session"`
	Messages   []*store.Message `json:"messages"`
	ExportedAt time.Time        `json:"exported_at"`
}

// Exporter writes a transcript to durable storage and returns its location.
type Exporter interface {
	Export(ctx context.Context, t Transcript) (string, error)
}

// Build assembles a transcript from the store.
func Build(ctx context.Context, st store.Store, sessionID string) (Transcript, error) {
	sess, err := st.GetSession(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	msgs, err := st.Messages(ctx, sessionID)
	if err != nil {
		return Transcript{}, err
	}
	return Transcript{Session: sess, Messages: msgs, ExportedAt: time.Now().UTC()}, nil
}

// FileExporter writes transcripts as indented JSON files under a directory.
type FileExporter struct {
	Dir string
}

// Export writes <dir>/<session-id>.json.
func (e *FileExporter) Export(_ context.Context, t Transcript) (string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	path := filepath.Join(e.Dir, t.Session.ID+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	return path, nil
}
