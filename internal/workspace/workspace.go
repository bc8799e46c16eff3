// Request-scoped scratch directories. Every pipeline run owns exactly one
// workspace; it exists before the first subprocess is spawned and is
// removed on every exit path, success or not.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/snagbot/snag/pkg/logger"
)

var log = logger.Get("Workspace")

// Workspace is an exclusively-owned scratch directory for one download
// request.
type Workspace struct {
	Dir string
}

// New creates a fresh workspace directory beneath root. The root is
// created if missing.
func New(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, os.ModeDir|os.ModePerm); err != nil {
		return nil, fmt.Errorf("scratch root '%s' could not be created: %w", root, err)
	}

	dir := filepath.Join(root, fmt.Sprintf("snag_%s", uuid.New()))
	if err := os.Mkdir(dir, os.ModeDir|os.ModePerm); err != nil {
		return nil, fmt.Errorf("workspace '%s' could not be created: %w", dir, err)
	}

	return &Workspace{Dir: dir}, nil
}

// Cleanup removes the workspace and everything inside it. Intended for
// deferred use; failures are logged rather than returned because by the
// time cleanup runs there is nobody left to handle them.
func (ws *Workspace) Cleanup() {
	if err := os.RemoveAll(ws.Dir); err != nil {
		log.Emit(logger.WARNING, "Failed to remove workspace %s: %v\n", ws.Dir, err)
	}
}
