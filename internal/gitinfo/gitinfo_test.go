package gitinfo

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// initRepo creates a repository with one committed file.
func initRepo(t *testing.T, dir string) {
	t.Helper()
	cmds := [][]string{
		{"git", "init", "-b", "main", dir},
		{"git", "-C", dir, "config", "user.email", "test@test.com"},
		{"git", "-C", dir, "config", "user.name", "Test"},
	}
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cmds = append(cmds,
		[]string{"git", "-C", dir, "add", "main.py"},
		[]string{"git", "-C", dir, "commit", "-m", "initial"},
	)
	for _, args := range cmds {
		if out, err := exec.Command(args[0], args[1:]...).CombinedOutput(); err != nil {
			t.Fatalf("%v: %s", err, out)
		}
	}
}

func TestDescribe_CleanRepository(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	initRepo(t, dir)

	rev, dirty, err := NewShellDescriber().Describe(context.Background(), dir)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if len(rev) != 40 {
		t.Errorf("revision = %q, want 40-char hash", rev)
	}
	if dirty {
		t.Error("clean repository reported dirty")
	}
}

func TestDescribe_DirtyRepository(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	initRepo(t, dir)

	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('bye')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	_, dirty, err := NewShellDescriber().Describe(context.Background(), dir)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if !dirty {
		t.Error("modified repository reported clean")
	}
}

func TestDescribe_Subdirectory(t *testing.T) {
	requireGit(t)

	dir := t.TempDir()
	initRepo(t, dir)

	sub := filepath.Join(dir, "sub")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	rev, _, err := NewShellDescriber().Describe(context.Background(), sub)
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if rev == "" {
		t.Error("subdirectory of a repository yielded no revision")
	}
}

func TestDescribe_NotARepository(t *testing.T) {
	rev, dirty, err := NewShellDescriber().Describe(context.Background(), t.TempDir())
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	if rev != "" || dirty {
		t.Errorf("Describe = (%q, %v), want empty and clean", rev, dirty)
	}
}

func TestNopDescriber(t *testing.T) {
	rev, dirty, err := (NopDescriber{}).Describe(context.Background(), "/anywhere")
	if err != nil || rev != "" || dirty {
		t.Errorf("NopDescriber = (%q, %v, %v)", rev, dirty, err)
	}
}
