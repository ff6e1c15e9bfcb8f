package mirror

import "time"

// State tracks the files currently under management in the destination tree
type State struct {
	RunID        string                 `json:"run_id"`
	SyncedAt     time.Time              `json:"synced_at"`
	Revision     string                 `json:"revision,omitempty"`
	Dirty        bool                   `json:"dirty,omitempty"`
	Hash         string                 `json:"hash"`
	ManagedFiles map[string]ManagedFile `json:"managed_files"`
}

// ManagedFile represents a mirrored file
type ManagedFile struct {
	SourcePath string `json:"source_path"` // relative path within the source tree
	Hash       string `json:"hash"`        // content hash at sync time
	Size       int64  `json:"size"`
}

// Plan represents the sync operations to perform
type Plan struct {
	Add       []FileOp
	Update    []FileOp
	Delete    []FileOp
	Unchanged int

	// keep holds the unchanged files so the new state still tracks them.
	keep []FileOp
}

// Changes returns the number of operations that would modify the destination.
func (p *Plan) Changes() int {
	return len(p.Add) + len(p.Update) + len(p.Delete)
}

// FileOp represents a single file operation
type FileOp struct {
	RelPath    string // path relative to both trees
	SourcePath string // absolute path in the source tree
	DestPath   string // absolute path in the destination tree
	Hash       string // source content hash
	Size       int64
}
