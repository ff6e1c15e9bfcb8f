package manifest

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/promirror/promirror/internal/testutil"
)

func TestParse_Assignments(t *testing.T) {
	for _, tc := range []struct {
		name  string
		input string
		vars  map[string][]string
	}{
		{
			name:  "simple assignment",
			input: "SOURCES = a.py b.py",
			vars:  map[string][]string{"SOURCES": {"a.py", "b.py"}},
		},
		{
			name: "append",
			input: `SOURCES = a.py
SOURCES += b.py c.py`,
			vars: map[string][]string{"SOURCES": {"a.py", "b.py", "c.py"}},
		},
		{
			name: "remove",
			input: `SOURCES = a.py b.py c.py
SOURCES -= b.py`,
			vars: map[string][]string{"SOURCES": {"a.py", "c.py"}},
		},
		{
			name: "remove value never added",
			input: `SOURCES = a.py
SOURCES -= z.py`,
			vars: map[string][]string{"SOURCES": {"a.py"}},
		},
		{
			name:  "duplicates dropped",
			input: "SOURCES = a.py a.py b.py a.py",
			vars:  map[string][]string{"SOURCES": {"a.py", "b.py"}},
		},
		{
			name: "reassignment replaces",
			input: `SOURCES = a.py b.py
SOURCES = c.py`,
			vars: map[string][]string{"SOURCES": {"c.py"}},
		},
		{
			name: "empty assignment clears",
			input: `SOURCES = a.py
SOURCES =`,
			vars: map[string][]string{"SOURCES": {}},
		},
		{
			name: "line continuation",
			input: `SOURCES = a.py \
          b.py \
          c.py`,
			vars: map[string][]string{"SOURCES": {"a.py", "b.py", "c.py"}},
		},
		{
			name:  "continuation at end of file",
			input: "SOURCES = a.py \\",
			vars:  map[string][]string{"SOURCES": {"a.py"}},
		},
		{
			name: "comments ignored",
			input: `# project file
SOURCES = a.py # trailing comment
TRANSLATIONS = de.ts`,
			vars: map[string][]string{
				"SOURCES":      {"a.py"},
				"TRANSLATIONS": {"de.ts"},
			},
		},
		{
			name: "blank lines ignored",
			input: `

SOURCES = a.py

`,
			vars: map[string][]string{"SOURCES": {"a.py"}},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m, err := Parse(strings.NewReader(tc.input))
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}

			for name, want := range tc.vars {
				got := m.Values(name)
				if !reflect.DeepEqual(got, want) {
					t.Errorf("Values(%q) = %v, want %v", name, got, want)
				}
			}
		})
	}
}

func TestParse_RejectsNonAssignments(t *testing.T) {
	for _, input := range []string{
		"just some words",
		"= a.py",
	} {
		if _, err := Parse(strings.NewReader(input)); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestFiles_OrderedUnion(t *testing.T) {
	input := `SOURCES = a.py b.py
TRANSLATIONS = de.ts a.py`

	m, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	got := m.Files("SOURCES", "TRANSLATIONS")
	want := []string{"a.py", "b.py", "de.ts"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Files = %v, want %v", got, want)
	}

	// Default variables cover SOURCES and TRANSLATIONS
	if got := m.Files(); !reflect.DeepEqual(got, want) {
		t.Errorf("Files() = %v, want %v", got, want)
	}
}

func TestVariables_Order(t *testing.T) {
	input := `TRANSLATIONS = de.ts
SOURCES = a.py
TRANSLATIONS += fr.ts`

	m, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}

	want := []string{"TRANSLATIONS", "SOURCES"}
	if got := m.Variables(); !reflect.DeepEqual(got, want) {
		t.Errorf("Variables = %v, want %v", got, want)
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"app.pro": "SOURCES = main.py util.py\n",
	})

	m, err := Load(filepath.Join(dir, "app.pro"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	want := []string{"main.py", "util.py"}
	if got := m.Values("SOURCES"); !reflect.DeepEqual(got, want) {
		t.Errorf("Values = %v, want %v", got, want)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.pro")); err == nil {
		t.Fatal("Load succeeded for missing file")
	}
}

func TestMissing(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"a.py":        "a",
		"sub/b.py":    "b",
		"ignored.txt": "x",
	})

	m, err := Parse(strings.NewReader("SOURCES = a.py sub/b.py gone.py"))
	if err != nil {
		t.Fatal(err)
	}

	missing, err := m.Missing(dir, "SOURCES")
	if err != nil {
		t.Fatalf("Missing failed: %v", err)
	}

	want := []string{"gone.py"}
	if !reflect.DeepEqual(missing, want) {
		t.Errorf("Missing = %v, want %v", missing, want)
	}
}

func TestUnlisted(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"app.pro":    "SOURCES = a.py",
		"a.py":       "a",
		"b.py":       "b",
		".hidden.py": "h",
	})

	m, err := Load(filepath.Join(dir, "app.pro"))
	if err != nil {
		t.Fatal(err)
	}

	unlisted, err := m.Unlisted(dir, filepath.Join(dir, "app.pro"), "SOURCES")
	if err != nil {
		t.Fatalf("Unlisted failed: %v", err)
	}

	// The manifest itself and hidden files are not reported.
	want := []string{"b.py"}
	if !reflect.DeepEqual(unlisted, want) {
		t.Errorf("Unlisted = %v, want %v", unlisted, want)
	}
}
