package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promirror/promirror/internal/config"
	"github.com/promirror/promirror/internal/gitinfo"
	"github.com/promirror/promirror/internal/manifest"
)

// Engine orchestrates the mirror process
type Engine struct {
	cfg       *config.Config
	describer gitinfo.Describer
	logger    *slog.Logger
	hasher    *hasher
	dryRun    bool
}

// Result summarizes a completed run
type Result struct {
	RunID     string    `json:"run_id"`
	SyncedAt  time.Time `json:"synced_at"`
	Revision  string    `json:"revision,omitempty"`
	Dirty     bool      `json:"dirty,omitempty"`
	Added     int       `json:"added"`
	Updated   int       `json:"updated"`
	Deleted   int       `json:"deleted"`
	Unchanged int       `json:"unchanged"`
	DryRun    bool      `json:"dry_run,omitempty"`
}

// NewEngine creates a new mirror engine
func NewEngine(cfg *config.Config, describer gitinfo.Describer, logger *slog.Logger, dryRun bool) (*Engine, error) {
	h, err := newHasher(cfg.Sync.Hash)
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:       cfg,
		describer: describer,
		logger:    logger,
		hasher:    h,
		dryRun:    dryRun,
	}, nil
}

// Run executes the complete mirror process
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	runID := uuid.NewString()
	e.logger.Info("starting sync",
		"run_id", runID,
		"source", e.cfg.Paths.Source,
		"dest", e.cfg.Paths.Dest,
		"dry_run", e.dryRun)

	// Ensure state directory exists
	if err := os.MkdirAll(e.cfg.Paths.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// Record where the source tree currently stands
	rev, dirty, err := e.describer.Describe(ctx, e.cfg.Paths.Source)
	if err != nil {
		e.logger.Warn("failed to describe source revision", "error", err)
	} else if rev != "" {
		e.logger.Info("source revision", "revision", rev, "dirty", dirty)
	}

	// Load previous state
	prevState, err := e.loadState()
	if err != nil {
		e.logger.Warn("failed to load previous state (will treat as fresh sync)", "error", err)
		prevState = &State{ManagedFiles: make(map[string]ManagedFile)}
	}

	// Build the plan against the current trees
	plan, err := e.BuildPlan(ctx, prevState)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync plan: %w", err)
	}

	// Log plan
	e.logger.Info("sync plan",
		"add", len(plan.Add),
		"update", len(plan.Update),
		"delete", len(plan.Delete),
		"unchanged", plan.Unchanged)

	result := &Result{
		RunID:     runID,
		SyncedAt:  time.Now().UTC(),
		Revision:  rev,
		Dirty:     dirty,
		Added:     len(plan.Add),
		Updated:   len(plan.Update),
		Deleted:   len(plan.Delete),
		Unchanged: plan.Unchanged,
		DryRun:    e.dryRun,
	}

	// check for dry-run mode
	if e.dryRun {
		e.logPlanDetails(plan)
		e.logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	// Apply plan
	if err := e.applyPlan(plan); err != nil {
		return nil, fmt.Errorf("failed to apply sync plan: %w", err)
	}

	// Save new state
	newState := e.buildState(prevState, plan, runID, result.SyncedAt, rev, dirty)
	if err := e.saveState(newState); err != nil {
		return nil, fmt.Errorf("failed to save state: %w", err)
	}

	e.logger.Info("sync completed successfully", "run_id", runID)
	return result, nil
}

// BuildPlan computes the operations needed to make the destination match the
// source. The destination is compared by content, not by recorded state, so
// out-of-band edits to installed files are repaired on the next run.
func (e *Engine) BuildPlan(ctx context.Context, prevState *State) (*Plan, error) {
	relPaths, err := e.resolveFileSet()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.logger.Debug("resolved file set", "count", len(relPaths))

	// Hash source and destination sides in one concurrent batch
	paths := make([]string, 0, 2*len(relPaths))
	for _, rel := range relPaths {
		paths = append(paths,
			filepath.Join(e.cfg.Paths.Source, rel),
			filepath.Join(e.cfg.Paths.Dest, rel))
	}
	hashes, err := e.hasher.Files(paths, e.cfg.Sync.Workers)
	if err != nil {
		return nil, err
	}

	plan, current, err := e.classify(relPaths, hashes)
	if err != nil {
		return nil, err
	}

	// Find files to delete (if prune is enabled)
	if e.cfg.Sync.Prune {
		for rel := range prevState.ManagedFiles {
			if !current[rel] {
				plan.Delete = append(plan.Delete, FileOp{
					RelPath:  rel,
					DestPath: filepath.Join(e.cfg.Paths.Dest, rel),
				})
			}
		}
	}

	return plan, nil
}

// classify sorts the resolved file set into add/update/unchanged ops based on
// the batch hashing results. Files that vanished between resolution and
// hashing, or between hashing and the stat here, are skipped with a warning.
func (e *Engine) classify(relPaths []string, hashes map[string]string) (*Plan, map[string]bool, error) {
	plan := &Plan{
		Add:    make([]FileOp, 0),
		Update: make([]FileOp, 0),
		Delete: make([]FileOp, 0),
	}

	current := make(map[string]bool, len(relPaths))
	for _, rel := range relPaths {
		current[rel] = true

		srcPath := filepath.Join(e.cfg.Paths.Source, rel)
		destPath := filepath.Join(e.cfg.Paths.Dest, rel)

		srcHash := hashes[srcPath]
		if srcHash == "" {
			e.logger.Warn("source file vanished during sync, skipping", "file", rel)
			continue
		}

		info, err := os.Stat(srcPath)
		if err != nil {
			if os.IsNotExist(err) {
				e.logger.Warn("source file vanished during sync, skipping", "file", rel)
				continue
			}
			return nil, nil, fmt.Errorf("failed to stat %s: %w", srcPath, err)
		}

		op := FileOp{
			RelPath:    rel,
			SourcePath: srcPath,
			DestPath:   destPath,
			Hash:       srcHash,
			Size:       info.Size(),
		}

		switch destHash := hashes[destPath]; {
		case destHash == "":
			plan.Add = append(plan.Add, op)
		case destHash != srcHash:
			plan.Update = append(plan.Update, op)
		default:
			plan.Unchanged++
			plan.keep = append(plan.keep, op)
		}
	}

	return plan, current, nil
}

// resolveFileSet returns the relative paths to mirror. With a manifest
// configured the listed files are used; otherwise every visible file in the
// source tree is mirrored.
func (e *Engine) resolveFileSet() ([]string, error) {
	manifestPath := e.cfg.ManifestPath()
	if manifestPath == "" {
		return discoverFiles(e.cfg.Paths.Source)
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	files := m.Files(e.cfg.Manifest.Variables...)

	missing, err := m.Missing(e.cfg.Paths.Source, e.cfg.Manifest.Variables...)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		if e.cfg.Manifest.Strict {
			return nil, fmt.Errorf("manifest lists %d missing source file(s), first: %s", len(missing), missing[0])
		}
		e.logger.Warn("manifest lists missing source files, skipping them", "count", len(missing))
		absent := make(map[string]bool, len(missing))
		for _, rel := range missing {
			absent[rel] = true
		}
		kept := files[:0]
		for _, rel := range files {
			if !absent[rel] {
				kept = append(kept, rel)
			}
		}
		files = kept
	}

	return files, nil
}

// discoverFiles finds all files in the source tree, relative to it.
// Hidden files and directories (names starting with ".") are skipped.
func discoverFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		// Skip hidden files and directories (e.g. .git, .gitignore)
		if path != dir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !info.IsDir() {
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover source files: %w", err)
	}

	return files, nil
}

// applyPlan executes the sync plan
func (e *Engine) applyPlan(plan *Plan) error {
	// Ensure destination directory exists
	if err := os.MkdirAll(e.cfg.Paths.Dest, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	// Add new files
	for _, op := range plan.Add {
		e.logger.Info("adding file", "file", op.RelPath)
		if err := copyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to add file %s: %w", op.RelPath, err)
		}
	}

	// Update existing files
	for _, op := range plan.Update {
		e.logger.Info("updating file", "file", op.RelPath)
		if err := copyFile(op.SourcePath, op.DestPath); err != nil {
			return fmt.Errorf("failed to update file %s: %w", op.RelPath, err)
		}
	}

	// Delete removed files
	for _, op := range plan.Delete {
		e.logger.Info("deleting file", "file", op.RelPath)
		if err := os.Remove(op.DestPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to delete file %s: %w", op.RelPath, err)
		}
	}

	return nil
}

// copyFile copies a file from src to dst with atomic write
func copyFile(src, dst string) error {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	// Open source
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = srcFile.Close()
	}()

	// Create temp file in destination directory
	tmpFile, err := os.CreateTemp(filepath.Dir(dst), ".promirror-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	// Copy content
	if _, err := io.Copy(tmpFile, srcFile); err != nil {
		_ = tmpFile.Close()
		return err
	}

	// Carry over source permissions
	srcInfo, err := srcFile.Stat()
	if err != nil {
		_ = tmpFile.Close()
		return err
	}
	if err := tmpFile.Chmod(srcInfo.Mode()); err != nil {
		_ = tmpFile.Close()
		return err
	}

	if err := tmpFile.Close(); err != nil {
		return err
	}

	// Atomic rename
	return os.Rename(tmpPath, dst)
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, op := range plan.Add {
		e.logger.Info("[dry-run] would add", "file", op.RelPath)
	}
	for _, op := range plan.Update {
		e.logger.Info("[dry-run] would update", "file", op.RelPath)
	}
	for _, op := range plan.Delete {
		e.logger.Info("[dry-run] would delete", "file", op.RelPath)
	}
}

// buildState creates a new State from the applied plan
func (e *Engine) buildState(prevState *State, plan *Plan, runID string, syncedAt time.Time, rev string, dirty bool) *State {
	state := &State{
		RunID:        runID,
		SyncedAt:     syncedAt,
		Revision:     rev,
		Dirty:        dirty,
		Hash:         string(e.cfg.Sync.Hash),
		ManagedFiles: make(map[string]ManagedFile),
	}

	if prevState != nil {
		for rel, managed := range prevState.ManagedFiles {
			state.ManagedFiles[rel] = managed
		}
	}

	for _, op := range plan.Delete {
		delete(state.ManagedFiles, op.RelPath)
	}

	ops := make([]FileOp, 0, len(plan.Add)+len(plan.Update)+len(plan.keep))
	ops = append(ops, plan.Add...)
	ops = append(ops, plan.Update...)
	ops = append(ops, plan.keep...)
	for _, op := range ops {
		state.ManagedFiles[op.RelPath] = ManagedFile{
			SourcePath: op.RelPath,
			Hash:       op.Hash,
			Size:       op.Size,
		}
	}

	return state
}

// loadState loads the previous state from disk
func (e *Engine) loadState() (*State, error) {
	return LoadState(e.cfg.StateFilePath())
}

// LoadState reads a persisted state file. A missing file yields an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{ManagedFiles: make(map[string]ManagedFile)}, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	if state.ManagedFiles == nil {
		state.ManagedFiles = make(map[string]ManagedFile)
	}

	return &state, nil
}

// saveState persists the state to disk
func (e *Engine) saveState(state *State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(e.cfg.StateFilePath(), data, 0644)
}
