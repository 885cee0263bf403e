package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ErrPathRestricted is returned when a path escapes the workspace root.
var ErrPathRestricted = errors.New("security: path outside workspace")

// Guard confines filesystem access to a workspace root. Symlinks are
// resolved before the containment check so a link inside the workspace
// cannot point outside it.
type Guard struct {
	mu       sync.RWMutex
	root     string
	restrict bool
}

// NewGuard creates a guard rooted at workDir. When restrict is false the
// guard still canonicalizes paths but never rejects them.
func NewGuard(workDir string, restrict bool) *Guard {
	root := normalizePath(workDir)
	if root == "" {
		root = string(filepath.Separator)
	}
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	return &Guard{root: root, restrict: restrict}
}

// Root returns the canonical workspace root.
func (g *Guard) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.root
}

// Resolve canonicalizes path relative to the workspace root and enforces
// containment when restriction is enabled. The returned path is absolute
// with all symlinks in its existing prefix resolved.
func (g *Guard) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("security: empty path supplied")
	}
	g.mu.RLock()
	root := g.root
	restrict := g.restrict
	g.mu.RUnlock()

	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(root, abs)
	}
	abs = filepath.Clean(abs)

	resolved, err := resolveExisting(abs)
	if err != nil {
		return "", fmt.Errorf("security: resolve %s: %w", path, err)
	}

	if restrict && !within(resolved, root) {
		return "", fmt.Errorf("%w: %s", ErrPathRestricted, resolved)
	}
	return resolved, nil
}

// resolveExisting resolves symlinks for the longest existing prefix of path
// and re-joins the non-existing remainder, so writes to not-yet-created
// files are still checked against their real parent directory.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Clean(filepath.Join(resolved, remainder)), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

func within(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return true
	}
	if !strings.HasSuffix(root, string(filepath.Separator)) {
		root += string(filepath.Separator)
	}
	return strings.HasPrefix(path, root)
}

func normalizePath(path string) string {
	if path == "" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}
