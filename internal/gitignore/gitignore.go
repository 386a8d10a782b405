// Package gitignore matches paths against .gitignore rules so that an index
// root which is also a repository skips what git ignores.
//
// Supported syntax: "*", "?", "**", character classes, leading "/" anchors,
// trailing "/" for directories, "!" negation and "\" escapes. Rules read from
// a nested .gitignore only apply below the directory holding it.
package gitignore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// FileName is the name of the per-directory ignore file.
const FileName = ".gitignore"

// Matcher holds compiled rules. It is safe for concurrent use.
type Matcher struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	re       *regexp.Regexp
	base     string // slash path of the directory the rule came from
	negate   bool
	dirOnly  bool
	anchored bool
}

// New creates an empty Matcher.
func New() *Matcher {
	return &Matcher{}
}

// Add parses one line of ignore syntax relative to the root.
func (m *Matcher) Add(line string) {
	m.AddWithBase(line, "")
}

// AddWithBase parses one line of ignore syntax that only applies under base,
// a slash-separated path relative to the root.
func (m *Matcher) AddWithBase(line, base string) {
	r, ok := parseLine(line)
	if !ok {
		return
	}
	r.base = strings.Trim(filepath.ToSlash(base), "/")

	m.mu.Lock()
	m.rules = append(m.rules, r)
	m.mu.Unlock()
}

// AddFile reads the ignore file at path; its rules apply under base.
func (m *Matcher) AddFile(path, base string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open ignore file: %w", err)
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m.AddWithBase(sc.Text(), base)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("failed to read ignore file: %w", err)
	}
	return nil
}

// Len returns the number of compiled rules.
func (m *Matcher) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rules)
}

// Match reports whether relPath is ignored. The last matching rule wins, so
// a later negation re-includes a path.
func (m *Matcher) Match(relPath string, isDir bool) bool {
	relPath = strings.Trim(filepath.ToSlash(relPath), "/")
	if relPath == "" || relPath == "." {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ignored := false
	for i := range m.rules {
		if m.rules[i].match(relPath, isDir) {
			ignored = !m.rules[i].negate
		}
	}
	return ignored
}

// parseLine compiles a line. Blank lines and comments yield false.
func parseLine(line string) (rule, bool) {
	escapedSpace := strings.HasSuffix(line, `\ `)
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return rule{}, false
	}

	var r rule
	switch {
	case strings.HasPrefix(line, `\#`), strings.HasPrefix(line, `\!`):
		line = line[1:]
	case strings.HasPrefix(line, "!"):
		r.negate = true
		line = line[1:]
	}
	if escapedSpace && strings.HasSuffix(line, `\`) {
		line = strings.TrimSuffix(line, `\`) + " "
	}
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimSuffix(line, "/")
	}
	if strings.HasPrefix(line, "/") {
		r.anchored = true
		line = strings.TrimPrefix(line, "/")
	}
	// "doc/frotz" is relative to the ignore file, like "/doc/frotz".
	if strings.Contains(line, "/") && !strings.HasPrefix(line, "**/") && !strings.HasPrefix(line, "*") {
		r.anchored = true
	}
	if line == "" {
		return rule{}, false
	}

	re, err := regexp.Compile("^" + globToRegexp(line) + "$")
	if err != nil {
		return rule{}, false
	}
	r.re = re
	return r, true
}

func (r *rule) match(path string, isDir bool) bool {
	if r.base != "" {
		if !strings.HasPrefix(path, r.base+"/") {
			return false
		}
		path = strings.TrimPrefix(path, r.base+"/")
	}
	parts := strings.Split(path, "/")

	if r.anchored {
		if r.re.MatchString(path) {
			return !r.dirOnly || isDir
		}
		// Entries below an ignored directory.
		for i := 1; i < len(parts); i++ {
			if r.re.MatchString(strings.Join(parts[:i], "/")) {
				return true
			}
		}
		return false
	}

	for i, part := range parts {
		if !r.re.MatchString(part) {
			continue
		}
		last := i == len(parts)-1
		if r.dirOnly && last {
			return isDir
		}
		return true
	}
	return !r.dirOnly && r.re.MatchString(path)
}

// globToRegexp translates glob syntax into a regular expression body.
func globToRegexp(glob string) string {
	var b strings.Builder
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch c {
		case '*':
			if i+1 < len(glob) && glob[i+1] == '*' && (i == 0 || glob[i-1] == '/') {
				if i+2 < len(glob) && glob[i+2] == '/' {
					b.WriteString("(?:.*/)?")
					i += 2
					continue
				}
				b.WriteString(".*")
				i++
				continue
			}
			b.WriteString("[^/]*")
		case '?':
			b.WriteString("[^/]")
		case '[':
			end := strings.IndexByte(glob[i+1:], ']')
			if end < 0 {
				b.WriteString(`\[`)
				continue
			}
			class := glob[i+1 : i+1+end]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i += end + 1
		case '\\':
			if i+1 < len(glob) {
				i++
				b.WriteString(regexp.QuoteMeta(string(glob[i])))
			} else {
				b.WriteString(`\\`)
			}
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}
