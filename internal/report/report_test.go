package report

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/promirror/promirror/internal/mirror"
	"github.com/promirror/promirror/internal/testutil"
)

func TestPlanTable(t *testing.T) {
	plan := &mirror.Plan{
		Add: []mirror.FileOp{
			{RelPath: "new.py", Hash: "aabbccddeeff00112233"},
		},
		Update: []mirror.FileOp{
			{RelPath: "changed.py", Hash: "112233445566778899aa"},
		},
		Delete: []mirror.FileOp{
			{RelPath: "gone.py"},
		},
		Unchanged: 4,
	}

	var buf bytes.Buffer
	PlanTable(&buf, plan)
	out := buf.String()

	for _, want := range []string{"add", "new.py", "update", "changed.py", "delete", "gone.py", "aabbccddeeff"} {
		if !strings.Contains(out, want) {
			t.Errorf("table output missing %q:\n%s", want, out)
		}
	}

	// Hashes are truncated for display.
	if strings.Contains(out, "aabbccddeeff00112233") {
		t.Error("table output contains full hash")
	}
}

func TestStateTable(t *testing.T) {
	state := &mirror.State{
		RunID:    "run-42",
		SyncedAt: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		Revision: "deadbeef",
		Dirty:    true,
		Hash:     "sha1",
		ManagedFiles: map[string]mirror.ManagedFile{
			"b.py": {SourcePath: "b.py", Hash: "bbbb", Size: 10},
			"a.py": {SourcePath: "a.py", Hash: "aaaa", Size: 5},
		},
	}

	var buf bytes.Buffer
	StateTable(&buf, state)
	out := buf.String()

	for _, want := range []string{"run-42", "deadbeef", "(dirty)", "a.py", "b.py", "2 file(s)"} {
		if !strings.Contains(out, want) {
			t.Errorf("state output missing %q:\n%s", want, out)
		}
	}

	// Files are listed sorted.
	if strings.Index(out, "a.py") > strings.Index(out, "b.py") {
		t.Error("files not sorted")
	}
}

func TestPlanDiffs_TextFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"src/mod.py": "line one\nline two changed\n",
		"dst/mod.py": "line one\nline two\n",
	})

	plan := &mirror.Plan{
		Update: []mirror.FileOp{{
			RelPath:    "mod.py",
			SourcePath: filepath.Join(dir, "src/mod.py"),
			DestPath:   filepath.Join(dir, "dst/mod.py"),
		}},
	}

	var buf bytes.Buffer
	if err := PlanDiffs(&buf, plan); err != nil {
		t.Fatalf("PlanDiffs failed: %v", err)
	}
	out := buf.String()

	for _, want := range []string{"-line two", "+line two changed", "installed/mod.py", "source/mod.py"} {
		if !strings.Contains(out, want) {
			t.Errorf("diff output missing %q:\n%s", want, out)
		}
	}
}

func TestPlanDiffs_BinaryFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"src/blob": "new\x00data",
		"dst/blob": "old\x00data",
	})

	plan := &mirror.Plan{
		Update: []mirror.FileOp{{
			RelPath:    "blob",
			SourcePath: filepath.Join(dir, "src/blob"),
			DestPath:   filepath.Join(dir, "dst/blob"),
		}},
	}

	var buf bytes.Buffer
	if err := PlanDiffs(&buf, plan); err != nil {
		t.Fatalf("PlanDiffs failed: %v", err)
	}

	if !strings.Contains(buf.String(), "binary file changed: blob") {
		t.Errorf("missing binary note:\n%s", buf.String())
	}
}

func TestPlanDiffs_AddsAndDeletes(t *testing.T) {
	plan := &mirror.Plan{
		Add:    []mirror.FileOp{{RelPath: "new.py", Size: 12}},
		Delete: []mirror.FileOp{{RelPath: "gone.py"}},
	}

	var buf bytes.Buffer
	if err := PlanDiffs(&buf, plan); err != nil {
		t.Fatalf("PlanDiffs failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "new file: new.py (12 bytes)") {
		t.Errorf("missing add note:\n%s", out)
	}
	if !strings.Contains(out, "removed:  gone.py") {
		t.Errorf("missing delete note:\n%s", out)
	}
}
