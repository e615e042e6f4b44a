package workingcopy

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/spf13/afero"
)

const ignoreFile = ".gitignore"

// ignoreRules is the stack of .gitignore patterns in effect for one
// directory. Patterns from deeper files come later and win, and within a
// file later lines win over earlier ones.
type ignoreRules struct {
	patterns []gitignore.Pattern
	matcher  gitignore.Matcher
}

func newIgnoreRules() *ignoreRules {
	return &ignoreRules{matcher: gitignore.NewMatcher(nil)}
}

// child returns the rules for dir, adding the patterns of its .gitignore
// when there is one.
func (r *ignoreRules) child(fs afero.Fs, absDir string, segments []string) (*ignoreRules, error) {
	name := filepath.Join(absDir, ignoreFile)
	if exists, err := afero.Exists(fs, name); err != nil || !exists {
		return r, err
	}
	data, err := afero.ReadFile(fs, name)
	if err != nil {
		return r, fmt.Errorf("reading %s: %w", name, err)
	}
	added := parsePatterns(data, segments)
	if len(added) == 0 {
		return r, nil
	}
	patterns := make([]gitignore.Pattern, 0, len(r.patterns)+len(added))
	patterns = append(append(patterns, r.patterns...), added...)
	return &ignoreRules{patterns: patterns, matcher: gitignore.NewMatcher(patterns)}, nil
}

func parsePatterns(data []byte, domain []string) []gitignore.Pattern {
	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, append([]string(nil), domain...)))
	}
	return ps
}

func (r *ignoreRules) ignored(segments []string, isDir bool) bool {
	if len(r.patterns) == 0 {
		return false
	}
	return r.matcher.Match(segments, isDir)
}
