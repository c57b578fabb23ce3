package checkout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Workspace manages the temporary directory tree holding per-lane source
// checkouts for one run. Each lane gets its own subdirectory so lanes share
// no mutable state.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace rooted at baseDir, or under the system
// temp directory when baseDir is empty.
func NewWorkspace(baseDir string) (*Workspace, error) {
	root, err := os.MkdirTemp(baseDir, "matrixci-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Root returns the workspace root path.
func (w *Workspace) Root() string { return w.root }

// LaneDir returns (creating if needed) the directory for one lane. Lane ids
// may contain "/" for multi-axis products; the separator maps to the
// filesystem hierarchy.
func (w *Workspace) LaneDir(laneID string) (string, error) {
	dir := filepath.Join(w.root, filepath.FromSlash(laneID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create lane directory: %w", err)
	}
	return dir, nil
}

// Cleanup removes the workspace tree.
func (w *Workspace) Cleanup() error {
	return os.RemoveAll(w.root)
}
