// Package report renders plans and sync state for human consumption.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/olekukonko/tablewriter"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/promirror/promirror/internal/mirror"
)

// PlanTable renders the plan as a table of pending operations
func PlanTable(w io.Writer, plan *mirror.Plan) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Action", "File", "Hash"})
	table.SetBorder(false)
	table.SetCenterSeparator("")
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT})

	appendOps(table, "add", plan.Add)
	appendOps(table, "update", plan.Update)
	appendOps(table, "delete", plan.Delete)

	table.SetFooter([]string{
		fmt.Sprintf("%d change(s)", plan.Changes()),
		fmt.Sprintf("%d unchanged", plan.Unchanged),
		"",
	})

	table.Render()
}

func appendOps(table *tablewriter.Table, action string, ops []mirror.FileOp) {
	for _, op := range ops {
		table.Append([]string{action, op.RelPath, shortHash(op.Hash)})
	}
}

// StateTable renders the persisted sync state
func StateTable(w io.Writer, state *mirror.State) {
	fmt.Fprintf(w, "run:      %s\n", state.RunID)
	fmt.Fprintf(w, "synced:   %s\n", state.SyncedAt.Format("2006-01-02 15:04:05 MST"))
	if state.Revision != "" {
		marker := ""
		if state.Dirty {
			marker = " (dirty)"
		}
		fmt.Fprintf(w, "revision: %s%s\n", state.Revision, marker)
	}
	fmt.Fprintf(w, "hash:     %s\n\n", state.Hash)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"File", "Hash", "Size"})
	table.SetBorder(false)
	table.SetCenterSeparator("")

	files := make([]string, 0, len(state.ManagedFiles))
	for rel := range state.ManagedFiles {
		files = append(files, rel)
	}
	sort.Strings(files)

	for _, rel := range files {
		managed := state.ManagedFiles[rel]
		table.Append([]string{rel, shortHash(managed.Hash), fmt.Sprintf("%d", managed.Size)})
	}

	table.SetFooter([]string{fmt.Sprintf("%d file(s)", len(files)), "", ""})
	table.Render()
}

// PlanDiffs writes unified diffs for every update in the plan. Files that
// look binary get a short note instead of a diff.
func PlanDiffs(w io.Writer, plan *mirror.Plan) error {
	for _, op := range plan.Update {
		if err := writeDiff(w, op); err != nil {
			return err
		}
	}
	for _, op := range plan.Add {
		fmt.Fprintf(w, "new file: %s (%d bytes)\n", op.RelPath, op.Size)
	}
	for _, op := range plan.Delete {
		fmt.Fprintf(w, "removed:  %s\n", op.RelPath)
	}
	return nil
}

func writeDiff(w io.Writer, op mirror.FileOp) error {
	oldData, err := os.ReadFile(op.DestPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", op.DestPath, err)
	}
	newData, err := os.ReadFile(op.SourcePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", op.SourcePath, err)
	}

	if looksBinary(oldData) || looksBinary(newData) {
		fmt.Fprintf(w, "binary file changed: %s (%d -> %d bytes)\n", op.RelPath, len(oldData), len(newData))
		return nil
	}

	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldData)),
		B:        difflib.SplitLines(string(newData)),
		FromFile: "installed/" + op.RelPath,
		ToFile:   "source/" + op.RelPath,
		Context:  3,
	})
	if err != nil {
		return fmt.Errorf("failed to diff %s: %w", op.RelPath, err)
	}

	_, err = io.WriteString(w, diff)
	return err
}

// looksBinary uses the git heuristic: a NUL byte in the leading chunk
func looksBinary(data []byte) bool {
	const sniffLen = 8000
	if len(data) > sniffLen {
		data = data[:sniffLen]
	}
	return bytes.IndexByte(data, 0) >= 0
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
