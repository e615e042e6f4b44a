// Package fileset parses path filters given on the command line.
package fileset

import (
	"fmt"
	"path"
	"strings"

	"github.com/gobwas/glob"

	"strand/internal/errors"
)

const globPrefix = "glob:"

// Set matches repository-relative paths. The zero value matches nothing;
// use Parse with no patterns to match everything.
type Set struct {
	all      bool
	prefixes []string
	globs    []compiled
}

type compiled struct {
	source string
	g      glob.Glob
	// literal directory part before the first meta character, used to
	// prune directories that cannot contain a match
	base string
}

// Parse builds a set from patterns. Patterns are either paths, matching the
// path and everything below it, or glob:<pattern>. cwd is the directory the
// patterns are relative to, itself relative to the repository root.
func Parse(cwd string, patterns ...string) (*Set, error) {
	s := &Set{}
	if len(patterns) == 0 {
		s.all = true
		return s, nil
	}
	for _, p := range patterns {
		if pattern, ok := strings.CutPrefix(p, globPrefix); ok {
			full := resolve(cwd, pattern)
			g, err := glob.Compile(full, '/')
			if err != nil {
				return nil, errors.ValidationError(fmt.Sprintf("invalid glob %q", pattern), err)
			}
			s.globs = append(s.globs, compiled{source: full, g: g, base: literalBase(full)})
			continue
		}
		full := resolve(cwd, p)
		if full == "" {
			s.all = true
			continue
		}
		if strings.HasPrefix(full, "../") || full == ".." {
			return nil, errors.ValidationError(fmt.Sprintf("path %q is outside the repository", p), nil)
		}
		s.prefixes = append(s.prefixes, full)
	}
	return s, nil
}

// MustParse is Parse for patterns known to be valid.
func MustParse(patterns ...string) *Set {
	s, err := Parse("", patterns...)
	if err != nil {
		panic(err)
	}
	return s
}

func resolve(cwd, p string) string {
	p = path.Clean(path.Join(cwd, filepathToSlash(p)))
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}

func filepathToSlash(p string) string { return strings.ReplaceAll(p, "\\", "/") }

func literalBase(pattern string) string {
	i := strings.IndexAny(pattern, "*?[{\\")
	if i < 0 {
		return pattern
	}
	dir := pattern[:i]
	if j := strings.LastIndex(dir, "/"); j >= 0 {
		return dir[:j]
	}
	return ""
}

// IsAll reports whether the set matches every path.
func (s *Set) IsAll() bool { return s.all }

func (s *Set) Matches(p string) bool {
	if s.all {
		return true
	}
	for _, prefix := range s.prefixes {
		if under(p, prefix) {
			return true
		}
	}
	for _, c := range s.globs {
		if c.g.Match(p) {
			return true
		}
	}
	return false
}

// Visit reports whether dir may contain a matching path.
func (s *Set) Visit(dir string) bool {
	if s.all {
		return true
	}
	for _, prefix := range s.prefixes {
		if under(dir, prefix) || under(prefix, dir) {
			return true
		}
	}
	for _, c := range s.globs {
		if c.base == "" || under(dir, c.base) || under(c.base, dir) {
			return true
		}
	}
	return false
}

func (s *Set) String() string {
	if s.all {
		return "all()"
	}
	parts := append([]string{}, s.prefixes...)
	for _, c := range s.globs {
		parts = append(parts, globPrefix+c.source)
	}
	return strings.Join(parts, " | ")
}

// under reports whether p is base or lies below it.
func under(p, base string) bool {
	return p == base || strings.HasPrefix(p, base+"/")
}
