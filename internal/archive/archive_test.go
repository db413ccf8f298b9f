package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/steward-dev/steward/internal/store"
)

func seedSession(t *testing.T) (*store.MemoryStore, string) {
	t.Helper()
	st := store.NewMemoryStore()
	ctx := context.Background()
	sess := &store.Session{ID: store.NewID(), Status: store.StatusCompleted, ExecutionMode: "auto", WorkingDir: "/w"}
	if err := st.CreateSession(ctx, sess); err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct {
		role    store.Role
		content string
	}{
		{store.RoleUser, "hello"},
		{store.RoleAgent, "hi"},
	} {
		if err := st.AppendMessage(ctx, &store.Message{ID: store.NewID(), SessionID: sess.ID, Role: m.role, Content: m.content}); err != nil {
			t.Fatal(err)
		}
	}
	return st, sess.ID
}

func TestFileExporter(t *testing.T) {
	st, id := seedSession(t)
	ctx := context.Background()

	tr, err := Build(ctx, st, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(tr.Messages) != 2 {
		t.Fatalf("transcript has %d messages, want 2", len(tr.Messages))
	}

	exp := &FileExporter{Dir: t.TempDir()}
	path, err := exp.Export(ctx, tr)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var round Transcript
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("exported file is not valid JSON: %v", err)
	}
	if round.Session.ID != id {
		t.Errorf("exported session id = %q, want %q", round.Session.ID, id)
	}
}

type fakeS3 struct {
	key  string
	body []byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.key = *in.Key
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, in.Body); err != nil {
		return nil, err
	}
	f.body = buf.Bytes()
	return &s3.PutObjectOutput{}, nil
}

func TestS3Exporter(t *testing.T) {
	st, id := seedSession(t)
	ctx := context.Background()

	tr, err := Build(ctx, st, id)
	if err != nil {
		t.Fatal(err)
	}

	fake := &fakeS3{}
	exp := &S3Exporter{client: fake, bucket: "transcripts", prefix: "sessions"}
	key, err := exp.Export(ctx, tr)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !strings.HasPrefix(key, "sessions/") || !strings.HasSuffix(key, ".json") {
		t.Errorf("object key = %q", key)
	}
	if fake.key != key {
		t.Errorf("uploaded key %q != returned key %q", fake.key, key)
	}
	var round Transcript
	if err := json.Unmarshal(fake.body, &round); err != nil {
		t.Fatalf("uploaded body is not valid JSON: %v", err)
	}
}
