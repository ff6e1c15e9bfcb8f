package manifest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DefaultVariables are the manifest variables mirrored when none are configured.
var DefaultVariables = []string{"SOURCES", "TRANSLATIONS"}

// Manifest holds the parsed variable assignments of a qmake-style project file.
// Value order within a variable follows the order of first assignment.
type Manifest struct {
	vars  map[string][]string
	order []string
}

// Parse reads a qmake-style project file from r.
//
// Supported grammar: "#" comments, "VAR = values", "VAR += values",
// "VAR -= values" and backslash line continuations. Values are separated by
// whitespace.
func Parse(r io.Reader) (*Manifest, error) {
	m := &Manifest{vars: make(map[string][]string)}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var logical strings.Builder
	lineNo := 0
	startLine := 0

	flush := func() error {
		stmt := strings.TrimSpace(logical.String())
		logical.Reset()
		if stmt == "" {
			return nil
		}
		if err := m.apply(stmt); err != nil {
			return fmt.Errorf("line %d: %w", startLine, err)
		}
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		// Strip comments before looking for continuations, so a trailing
		// backslash inside a comment does not join lines.
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}

		trimmed := strings.TrimSpace(line)
		if logical.Len() == 0 {
			if trimmed == "" {
				continue
			}
			startLine = lineNo
		}

		if strings.HasSuffix(trimmed, "\\") {
			logical.WriteString(strings.TrimSuffix(trimmed, "\\"))
			logical.WriteString(" ")
			continue
		}

		logical.WriteString(trimmed)
		if err := flush(); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	// A continuation on the final line leaves a pending statement.
	if err := flush(); err != nil {
		return nil, err
	}

	return m, nil
}

// Load parses the project file at path.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return m, nil
}

// apply executes a single logical assignment statement.
func (m *Manifest) apply(stmt string) error {
	name, op, rest, err := splitAssignment(stmt)
	if err != nil {
		return err
	}

	values := strings.Fields(rest)

	switch op {
	case "=":
		if _, seen := m.vars[name]; !seen {
			m.order = append(m.order, name)
		}
		m.vars[name] = appendUnique(nil, values)
	case "+=":
		if _, seen := m.vars[name]; !seen {
			m.order = append(m.order, name)
		}
		m.vars[name] = appendUnique(m.vars[name], values)
	case "-=":
		m.vars[name] = removeValues(m.vars[name], values)
	}

	return nil
}

// splitAssignment breaks "VAR op values" into its parts.
func splitAssignment(stmt string) (name, op, rest string, err error) {
	for _, candidate := range []string{"+=", "-=", "="} {
		idx := strings.Index(stmt, candidate)
		if idx <= 0 {
			continue
		}
		name = strings.TrimSpace(stmt[:idx])
		if name == "" || strings.ContainsAny(name, " \t") {
			break
		}
		return name, candidate, stmt[idx+len(candidate):], nil
	}
	return "", "", "", fmt.Errorf("not an assignment: %q", stmt)
}

func appendUnique(dst, values []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[v] = true
	}
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			dst = append(dst, v)
		}
	}
	if dst == nil {
		dst = []string{}
	}
	return dst
}

func removeValues(dst, values []string) []string {
	drop := make(map[string]bool, len(values))
	for _, v := range values {
		drop[v] = true
	}
	kept := dst[:0]
	for _, v := range dst {
		if !drop[v] {
			kept = append(kept, v)
		}
	}
	return kept
}

// Values returns the values of a variable in assignment order.
func (m *Manifest) Values(name string) []string {
	return m.vars[name]
}

// Variables returns the variable names in order of first assignment.
func (m *Manifest) Variables() []string {
	return m.order
}

// Files returns the ordered union of the values of the given variables.
// The first occurrence of a file wins; later duplicates are dropped.
func (m *Manifest) Files(vars ...string) []string {
	if len(vars) == 0 {
		vars = DefaultVariables
	}

	var files []string
	seen := make(map[string]bool)
	for _, name := range vars {
		for _, v := range m.vars[name] {
			if !seen[v] {
				seen[v] = true
				files = append(files, v)
			}
		}
	}
	return files
}

// Missing returns the manifest files that do not exist under baseDir.
func (m *Manifest) Missing(baseDir string, vars ...string) ([]string, error) {
	var missing []string
	for _, rel := range m.Files(vars...) {
		if _, err := os.Stat(filepath.Join(baseDir, rel)); err != nil {
			if os.IsNotExist(err) {
				missing = append(missing, rel)
				continue
			}
			return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
		}
	}
	return missing, nil
}

// Unlisted returns regular files under baseDir that no inspected variable
// covers. Hidden files and directories are skipped, as is the manifest file
// itself when manifestPath points inside baseDir.
func (m *Manifest) Unlisted(baseDir, manifestPath string, vars ...string) ([]string, error) {
	listed := make(map[string]bool)
	for _, rel := range m.Files(vars...) {
		listed[filepath.Clean(rel)] = true
	}

	var unlisted []string
	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path != baseDir && strings.HasPrefix(info.Name(), ".") {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if manifestPath != "" && sameFile(path, manifestPath) {
			return nil
		}

		rel, err := filepath.Rel(baseDir, path)
		if err != nil {
			return err
		}
		if !listed[filepath.Clean(rel)] {
			unlisted = append(unlisted, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", baseDir, err)
	}

	return unlisted, nil
}

func sameFile(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
