package toolbuiltin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberhq/ember/pkg/security"
)

func restrictedGuard(t *testing.T) (*security.Guard, string) {
	t.Helper()
	dir := t.TempDir()
	return security.NewGuard(dir, true), dir
}

func TestReadFile(t *testing.T) {
	guard, dir := restrictedGuard(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "note.txt"), []byte("hello"), 0o644))

	out, err := NewReadFileTool(guard).Execute(context.Background(), map[string]any{"path": "note.txt"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
}

func TestReadFileMissing(t *testing.T) {
	guard, _ := restrictedGuard(t)
	out, err := NewReadFileTool(guard).Execute(context.Background(), map[string]any{"path": "absent.txt"})
	require.NoError(t, err)
	assert.Equal(t, "file not found", out)
}

func TestWriteFileCreatesParents(t *testing.T) {
	guard, dir := restrictedGuard(t)
	out, err := NewWriteFileTool(guard).Execute(context.Background(), map[string]any{
		"path":    "deep/nested/file.txt",
		"content": "data",
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	data, err := os.ReadFile(filepath.Join(dir, "deep", "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestListDirSorted(t *testing.T) {
	guard, dir := restrictedGuard(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))

	out, err := NewListDirTool(guard).Execute(context.Background(), map[string]any{"path": "."})
	require.NoError(t, err)
	assert.JSONEq(t, `["a.txt","b.txt"]`, out)
}

func TestListDirMissing(t *testing.T) {
	guard, _ := restrictedGuard(t)
	out, err := NewListDirTool(guard).Execute(context.Background(), map[string]any{"path": "nope"})
	require.NoError(t, err)
	assert.Equal(t, "directory not found", out)
}

func TestPathEscapeRejected(t *testing.T) {
	guard, _ := restrictedGuard(t)

	for _, path := range []string{"../outside.txt", "/etc/passwd", "a/../../escape"} {
		_, err := NewReadFileTool(guard).Execute(context.Background(), map[string]any{"path": path})
		assert.ErrorIs(t, err, security.ErrPathRestricted, path)

		_, err = NewWriteFileTool(guard).Execute(context.Background(), map[string]any{"path": path, "content": "x"})
		assert.ErrorIs(t, err, security.ErrPathRestricted, path)

		_, err = NewListDirTool(guard).Execute(context.Background(), map[string]any{"path": path})
		assert.ErrorIs(t, err, security.ErrPathRestricted, path)
	}
}

func TestSymlinkEscapeRejected(t *testing.T) {
	guard, dir := restrictedGuard(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("s"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))

	_, err := NewReadFileTool(guard).Execute(context.Background(), map[string]any{"path": "link/secret.txt"})
	assert.ErrorIs(t, err, security.ErrPathRestricted)
}
