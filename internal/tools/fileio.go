package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/steward-dev/steward/internal/backend"
)

const maxFileReadBytes = 1 << 20 // 1MB per read

// resolveInRoot joins a relative path against the working directory and
// rejects anything that escapes it.
func resolveInRoot(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path %q must be relative to the working directory", rel)
	}
	abs := filepath.Clean(filepath.Join(root, rel))
	rootClean := filepath.Clean(root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the working directory", rel)
	}
	return abs, nil
}

// ReadFileTool reads a file inside the working directory.
type ReadFileTool struct {
	Root string
}

// ReadFileDefinition describes the read_file tool to the backend.
func ReadFileDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file relative to the working directory.",
		InputSchema: objectSchema([]string{"path"}, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}
}

func (t *ReadFileTool) Execute(_ context.Context, input map[string]any, _ Placement) (string, error) {
	rel, err := stringInput(input, "path")
	if err != nil {
		return "", err
	}
	abs, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read_file: %w", err)
	}
	if len(data) > maxFileReadBytes {
		return string(data[:maxFileReadBytes]) + "\n[truncated at 1MB]", nil
	}
	return string(data), nil
}

// ListDirTool lists entries of a directory inside the working directory.
type ListDirTool struct {
	Root string
}

// ListDirDefinition describes the list_dir tool to the backend.
func ListDirDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "list_dir",
		Description: "List directory entries relative to the working directory.",
		InputSchema: objectSchema(nil, map[string]any{
			"path": map[string]any{"type": "string"},
		}),
	}
}

func (t *ListDirTool) Execute(_ context.Context, input map[string]any, _ Placement) (string, error) {
	rel := "."
	if v, ok := input["path"].(string); ok && v != "" {
		rel = v
	}
	abs, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("list_dir: %w", err)
	}
	var sb strings.Builder
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}

// GrepFilesTool searches file contents under the working directory.
type GrepFilesTool struct {
	Root string
}

// GrepFilesDefinition describes the grep_files tool to the backend.
func GrepFilesDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "grep_files",
		Description: "Search files under the working directory with a regular expression.",
		InputSchema: objectSchema([]string{"pattern"}, map[string]any{
			"pattern": map[string]any{"type": "string"},
			"path":    map[string]any{"type": "string"},
		}),
	}
}

func (t *GrepFilesTool) Execute(_ context.Context, input map[string]any, _ Placement) (string, error) {
	pattern, err := stringInput(input, "pattern")
	if err != nil {
		return "", err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("grep_files: invalid pattern: %w", err)
	}

	rel := "."
	if v, ok := input["path"].(string); ok && v != "" {
		rel = v
	}
	base, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return "", err
	}

	const maxMatches = 200
	var matches []string
	err = filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || len(matches) >= maxMatches {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil // unreadable files are skipped, not fatal
		}
		relPath, _ := filepath.Rel(t.Root, path)
		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", relPath, i+1, line))
				if len(matches) >= maxMatches {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("grep_files: %w", err)
	}
	sort.Strings(matches)
	return strings.Join(matches, "\n"), nil
}

// WriteFileTool writes a file inside the working directory.
type WriteFileTool struct {
	Root string
}

// WriteFileDefinition describes the write_file tool to the backend.
func WriteFileDefinition() backend.ToolDefinition {
	return backend.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file relative to the working directory.",
		InputSchema: objectSchema([]string{"path", "content"}, map[string]any{
			"path":    map[string]any{"type": "string"},
			"content": map[string]any{"type": "string"},
		}),
	}
}

func (t *WriteFileTool) Execute(_ context.Context, input map[string]any, _ Placement) (string, error) {
	rel, err := stringInput(input, "path")
	if err != nil {
		return "", err
	}
	content, err := stringInput(input, "content")
	if err != nil {
		return "", err
	}
	abs, err := resolveInRoot(t.Root, rel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return "", fmt.Errorf("write_file: %w", err)
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(content), rel), nil
}
