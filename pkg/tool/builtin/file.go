package toolbuiltin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/emberhq/ember/pkg/security"
)

var pathOnlySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path": map[string]any{"type": "string"},
	},
	"required": []any{"path"},
}

var writeFileSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"path":    map[string]any{"type": "string"},
		"content": map[string]any{"type": "string"},
	},
	"required": []any{"path", "content"},
}

// ReadFileTool reads a workspace file as UTF-8 text.
type ReadFileTool struct {
	guard *security.Guard
}

func NewReadFileTool(guard *security.Guard) *ReadFileTool {
	return &ReadFileTool{guard: guard}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read a file from the workspace"
}

func (t *ReadFileTool) Schema() map[string]any { return pathOnlySchema }

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	path, err := t.guardPath(args)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "file not found", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (t *ReadFileTool) guardPath(args map[string]any) (string, error) {
	raw, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	return t.guard.Resolve(raw)
}

// WriteFileTool writes a workspace file, creating parent directories.
type WriteFileTool struct {
	guard *security.Guard
}

func NewWriteFileTool(guard *security.Guard) *WriteFileTool {
	return &WriteFileTool{guard: guard}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file in the workspace"
}

func (t *WriteFileTool) Schema() map[string]any { return writeFileSchema }

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (string, error) {
	rawPath, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	content, _ := args["content"].(string)

	path, err := t.guard.Resolve(rawPath)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return "ok", nil
}

// ListDirTool lists directory entries sorted by name.
type ListDirTool struct {
	guard *security.Guard
}

func NewListDirTool(guard *security.Guard) *ListDirTool {
	return &ListDirTool{guard: guard}
}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List files in a directory within the workspace"
}

func (t *ListDirTool) Schema() map[string]any { return pathOnlySchema }

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (string, error) {
	raw, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	path, err := t.guard.Resolve(raw)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return "directory not found", nil
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	data, err := json.Marshal(names)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
