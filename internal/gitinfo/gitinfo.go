package gitinfo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Describer reports the version-control state of a directory
type Describer interface {
	// Describe returns the current revision and whether the working tree has
	// uncommitted changes. A directory that is not under version control
	// yields an empty revision and no error.
	Describe(ctx context.Context, dir string) (revision string, dirty bool, err error)
}

// ShellDescriber implements Describer by shelling out to the git command
type ShellDescriber struct{}

// NewShellDescriber creates a git-backed Describer
func NewShellDescriber() *ShellDescriber {
	return &ShellDescriber{}
}

// Describe queries git for the HEAD revision and working tree cleanliness
func (d *ShellDescriber) Describe(ctx context.Context, dir string) (string, bool, error) {
	if !isRepository(dir) {
		return "", false, nil
	}

	cmd := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "HEAD")
	output, err := cmd.Output()
	if err != nil {
		return "", false, fmt.Errorf("git rev-parse failed: %w", err)
	}
	revision := strings.TrimSpace(string(output))

	cmd = exec.CommandContext(ctx, "git", "-C", dir, "status", "--porcelain")
	output, err = cmd.Output()
	if err != nil {
		return "", false, fmt.Errorf("git status failed: %w", err)
	}
	dirty := strings.TrimSpace(string(output)) != ""

	return revision, dirty, nil
}

// isRepository walks up from dir looking for a .git entry, so subdirectories
// of a working copy are recognized too.
func isRepository(dir string) bool {
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}

// NopDescriber is a Describer that never reports a revision
type NopDescriber struct{}

// Describe always returns an empty revision
func (NopDescriber) Describe(context.Context, string) (string, bool, error) {
	return "", false, nil
}
