package tree

import (
	"fmt"
	"path"
	"strings"

	"strand/internal/content"
	"strand/internal/merge"
	"strand/internal/object"
)

// Matcher selects repository paths. Paths use forward slashes and are
// relative to the repository root. Visit reports whether anything under
// dir can match, so whole subtrees can be skipped.
type Matcher interface {
	Matches(path string) bool
	Visit(dir string) bool
}

type everything struct{}

func (everything) Matches(string) bool { return true }
func (everything) Visit(string) bool   { return true }

// All matches every path.
var All Matcher = everything{}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Walk calls fn for every file and conflict under root that m matches, in
// path order. Conflicts are leaves even when some of their terms are trees.
func Walk(b *object.Backend, root content.Digest, m Matcher, fn func(path string, e object.Entry) error) error {
	if m == nil {
		m = All
	}
	return walk(b, root, "", m, false, fn)
}

func walk(b *object.Backend, id content.Digest, dir string, m Matcher, conflictsOnly bool, fn func(string, object.Entry) error) error {
	t, err := b.ReadTree(id)
	if err != nil {
		return err
	}
	if conflictsOnly && !t.Conflicted {
		return nil
	}
	for _, e := range t.Entries {
		p := join(dir, e.Name)
		if e.Kind == object.KindTree {
			if !m.Visit(p) {
				continue
			}
			if err := walk(b, e.ID, p, m, conflictsOnly, fn); err != nil {
				return err
			}
			continue
		}
		if conflictsOnly && !e.IsConflict() {
			continue
		}
		if !m.Matches(p) {
			continue
		}
		if err := fn(p, e); err != nil {
			return err
		}
	}
	return nil
}

// Conflict is an unresolved path in a tree.
type Conflict struct {
	Path  string
	Merge merge.Merge[object.Value]
}

// Sides is the number of positive terms.
func (c Conflict) Sides() int { return c.Merge.NumSides() }

// Deletions counts the sides where the path is absent.
func (c Conflict) Deletions() int {
	n := 0
	for _, v := range c.Merge.Adds() {
		if v.IsAbsent() {
			n++
		}
	}
	return n
}

// HasTree reports whether any term is a directory.
func (c Conflict) HasTree() bool {
	for _, v := range c.Merge.Values() {
		if v.IsTree() {
			return true
		}
	}
	return false
}

// Conflicts lists the conflicted paths under root, skipping subtrees that
// record no conflicts.
func Conflicts(b *object.Backend, root content.Digest, m Matcher) ([]Conflict, error) {
	if m == nil {
		m = All
	}
	var out []Conflict
	err := walk(b, root, "", m, true, func(p string, e object.Entry) error {
		out = append(out, Conflict{Path: p, Merge: e.Merge()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the merge stored at p. Missing paths resolve to absent.
func Get(b *object.Backend, root content.Digest, p string) (merge.Merge[object.Value], error) {
	p = path.Clean(strings.Trim(p, "/"))
	if p == "." || p == "" {
		return merge.Resolved(object.TreeValue(root)), nil
	}
	id := root
	parts := strings.Split(p, "/")
	for i, name := range parts {
		t, err := b.ReadTree(id)
		if err != nil {
			return merge.Merge[object.Value]{}, fmt.Errorf("reading %s: %w", p, err)
		}
		e, ok := t.Entry(name)
		if !ok {
			return merge.Resolved(object.Absent), nil
		}
		if i == len(parts)-1 {
			return e.Merge(), nil
		}
		if e.Kind != object.KindTree {
			return merge.Resolved(object.Absent), nil
		}
		id = e.ID
	}
	return merge.Resolved(object.Absent), nil
}
