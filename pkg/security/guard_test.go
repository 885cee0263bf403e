package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveInsideWorkspace(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir, true)

	resolved, err := g.Resolve("sub/file.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
	assert.Contains(t, resolved, "sub")
}

func TestResolveRejectsTraversal(t *testing.T) {
	g := NewGuard(t.TempDir(), true)

	for _, path := range []string{"../escape.txt", "a/../../escape", "/etc/passwd"} {
		_, err := g.Resolve(path)
		assert.ErrorIs(t, err, ErrPathRestricted, path)
	}
}

func TestResolveRejectsSymlinkEscape(t *testing.T) {
	dir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(dir, "link")))
	g := NewGuard(dir, true)

	_, err := g.Resolve("link/file.txt")
	assert.ErrorIs(t, err, ErrPathRestricted)
}

func TestResolveSymlinkInsideWorkspaceAllowed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "real"), 0o755))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "alias")))
	g := NewGuard(dir, true)

	resolved, err := g.Resolve("alias/file.txt")
	require.NoError(t, err)
	assert.Contains(t, resolved, "real")
}

func TestResolveNotYetCreatedFile(t *testing.T) {
	dir := t.TempDir()
	g := NewGuard(dir, true)

	resolved, err := g.Resolve("new/deeply/nested.txt")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(resolved))
}

func TestUnrestrictedGuardAllowsEscape(t *testing.T) {
	g := NewGuard(t.TempDir(), false)
	_, err := g.Resolve("/etc/passwd")
	assert.NoError(t, err)
}

func TestResolveEmptyPath(t *testing.T) {
	g := NewGuard(t.TempDir(), true)
	_, err := g.Resolve("  ")
	assert.Error(t, err)
}
