// Package workspace confines tool paths to the sandbox root.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tldw/tldw-assist/internal/config"
	"github.com/tldw/tldw-assist/internal/types"
)

// Guard resolves model-supplied paths against a fixed root.
type Guard struct {
	config *config.Config
	root   string // Absolute, symlink-free sandbox root
}

// NewGuard creates a guard for the configured workspace root.
// The root must exist and be a directory.
func NewGuard(cfg *config.Config) (*Guard, error) {
	absRoot, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	realRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace root: %w", err)
	}

	info, err := os.Stat(realRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to access directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", realRoot)
	}

	return &Guard{config: cfg, root: realRoot}, nil
}

// Root returns the sandbox root.
func (g *Guard) Root() string {
	return g.root
}

// Resolve maps path to an absolute path inside the root.
//
// The lexical check runs before anything touches the file system. Symlinks
// are then resolved on the longest existing ancestor so a link inside the
// root cannot point outside it.
func (g *Guard) Resolve(path string) (string, error) {
	var absPath string
	if filepath.IsAbs(path) {
		absPath = filepath.Clean(path)
	} else {
		absPath = filepath.Join(g.root, path)
	}

	if !within(g.root, absPath) {
		return "", violation(types.ReasonOutsideRoot)
	}

	realPath, err := resolveExisting(absPath)
	if err != nil {
		return "", &types.ToolError{Kind: types.IoFailure, Err: fmt.Errorf("failed to resolve path: %w", err)}
	}
	if !within(g.root, realPath) {
		return "", violation(types.ReasonOutsideRoot)
	}

	// Check blocked paths
	if g.config.IsPathBlocked(realPath) {
		return "", violation("blocked by policy")
	}

	return absPath, nil
}

// within reports whether target is root or nested under it. Comparison is by
// path segment, so /work does not contain /work-evil.
func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// maxLinkHops bounds how many dangling links resolveExisting follows.
const maxLinkHops = 40

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and re-attaches the missing tail. A dangling link is followed to its
// target, since creating the file would create the target.
func resolveExisting(path string) (string, error) {
	var tail []string
	current := path
	hops := 0
	for {
		realPath, err := filepath.EvalSymlinks(current)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				realPath = filepath.Join(realPath, tail[i])
			}
			return realPath, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&os.ModeSymlink != 0 {
			hops++
			if hops > maxLinkHops {
				return "", fmt.Errorf("too many levels of symbolic links: %s", path)
			}
			target, err := os.Readlink(current)
			if err != nil {
				return "", err
			}
			if !filepath.IsAbs(target) {
				target = filepath.Join(filepath.Dir(current), target)
			}
			current = filepath.Clean(target)
			continue
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}

func violation(reason string) *types.ToolError {
	return &types.ToolError{Kind: types.ContainmentViolation, Reason: reason}
}
