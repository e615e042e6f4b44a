package tree

import (
	"sort"

	"strand/internal/content"
	"strand/internal/merge"
	"strand/internal/object"
)

type ChangeKind int

const (
	Added ChangeKind = iota
	Removed
	Modified
)

// Letter is the status column used when listing changes.
func (k ChangeKind) Letter() string {
	switch k {
	case Added:
		return "A"
	case Removed:
		return "D"
	default:
		return "M"
	}
}

// Change describes one path that differs between two trees. Directories
// never appear; their contents do.
type Change struct {
	Path   string
	Before merge.Merge[object.Value]
	After  merge.Merge[object.Value]
}

func (c Change) Kind() ChangeKind {
	switch {
	case isAbsent(c.Before):
		return Added
	case isAbsent(c.After):
		return Removed
	default:
		return Modified
	}
}

func isAbsent(m merge.Merge[object.Value]) bool {
	v, ok := m.AsResolved()
	return ok && v.IsAbsent()
}

// Diff lists the leaf changes between from and to that m matches, in
// path order.
func Diff(b *object.Backend, from, to content.Digest, m Matcher) ([]Change, error) {
	if m == nil {
		m = All
	}
	var out []Change
	if err := diffTrees(b, from, to, "", m, &out); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func diffTrees(b *object.Backend, from, to content.Digest, dir string, m Matcher, out *[]Change) error {
	if from == to {
		return nil
	}
	left, err := b.ReadTree(from)
	if err != nil {
		return err
	}
	right, err := b.ReadTree(to)
	if err != nil {
		return err
	}

	names := make(map[string]struct{})
	for _, e := range left.Entries {
		names[e.Name] = struct{}{}
	}
	for _, e := range right.Entries {
		names[e.Name] = struct{}{}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		p := join(dir, name)
		le, lok := left.Entry(name)
		re, rok := right.Entry(name)
		if lok && rok && le.Kind == re.Kind && le.Kind != object.KindConflict && le.Value() == re.Value() {
			continue
		}

		before, beforeTree := leaf(le, lok)
		after, afterTree := leaf(re, rok)
		if !before.Equal(after) && m.Matches(p) {
			*out = append(*out, Change{Path: p, Before: before, After: after})
		}
		if (beforeTree != object.EmptyTreeID || afterTree != object.EmptyTreeID) && m.Visit(p) {
			if err := diffTrees(b, beforeTree, afterTree, p, m, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// leaf splits an entry into its non-directory part and its subtree.
func leaf(e object.Entry, ok bool) (merge.Merge[object.Value], content.Digest) {
	if !ok {
		return merge.Resolved(object.Absent), object.EmptyTreeID
	}
	if e.Kind == object.KindTree {
		return merge.Resolved(object.Absent), e.ID
	}
	return e.Merge(), object.EmptyTreeID
}
