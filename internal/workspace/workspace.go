// Package workspace manages the scratch directories a build worker clones and builds in.
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotDirectory is returned by OutputDir when the build output is absent or not a directory.
var ErrNotDirectory = errors.New("not a directory")

// Manager owns deployment-specific working directories under a common root.
type Manager struct {
	root string
}

// New ensures the workspace root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, errors.New("workspace root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Prepare creates an empty directory for the deployment, discarding leftovers from an
// earlier run with the same identifier.
func (m *Manager) Prepare(deploymentID string) (string, error) {
	if deploymentID == "" {
		return "", errors.New("workspace identifier cannot be empty")
	}
	if deploymentID != filepath.Base(deploymentID) || deploymentID == "." || deploymentID == ".." {
		return "", fmt.Errorf("workspace identifier %q must be a single path segment", deploymentID)
	}
	dir := filepath.Join(m.root, deploymentID)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("cleanup workspace: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}
	return dir, nil
}

// OutputDir resolves rel inside dir and checks that it is an existing directory. Paths
// escaping dir are rejected.
func (m *Manager) OutputDir(dir, rel string) (string, error) {
	out := filepath.Join(dir, filepath.FromSlash(rel))
	if !within(dir, out) {
		return "", fmt.Errorf("output directory %q escapes the workspace", rel)
	}
	info, err := os.Stat(out)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", rel, ErrNotDirectory)
		}
		return "", fmt.Errorf("stat output directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s: %w", rel, ErrNotDirectory)
	}
	return out, nil
}

// Cleanup removes a directory returned by Prepare.
func (m *Manager) Cleanup(path string) error {
	if path == "" {
		return nil
	}
	// Only directories strictly below the root are removed.
	if !within(m.root, path) || filepath.Clean(path) == m.root {
		return errors.New("refusing to cleanup path outside workspace root")
	}
	return os.RemoveAll(path)
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
