// Package tree implements operations on whole trees: merging, building,
// diffing and conflict discovery.
package tree

import (
	"fmt"
	"sort"

	"strand/internal/content"
	"strand/internal/diff"
	"strand/internal/merge"
	"strand/internal/metrics"
	"strand/internal/object"
)

// Merger merges trees stored in a backend. It is safe for concurrent use.
type Merger struct {
	backend *object.Backend
	metrics *metrics.Metrics
}

func NewMerger(backend *object.Backend, m *metrics.Metrics) *Merger {
	return &Merger{backend: backend, metrics: metrics.OrNew(m)}
}

func (m *Merger) Backend() *object.Backend { return m.backend }

// Merge folds trees pairwise against an empty base. Merging one tree returns
// it unchanged; two trees are unioned, with differing paths becoming
// 2-sided conflicts.
func (m *Merger) Merge(trees ...content.Digest) (content.Digest, error) {
	if len(trees) == 0 {
		return object.EmptyTreeID, nil
	}
	acc := trees[0]
	for _, t := range trees[1:] {
		var err error
		acc, err = m.MergeTrees(merge.ThreeWay(object.EmptyTreeID, acc, t))
		if err != nil {
			return content.Digest{}, err
		}
	}
	return acc, nil
}

// MergeTrees merges trees given as adds and removes. The result is a pure
// function of the input digests. It only fails when the store is missing
// an object.
func (m *Merger) MergeTrees(trees merge.Merge[content.Digest]) (content.Digest, error) {
	if id, ok := trees.Simplify().Resolve(); ok {
		return id, nil
	}
	m.metrics.TreeMerges.Inc()

	loaded, err := merge.MapErr(trees, m.backend.ReadTree)
	if err != nil {
		return content.Digest{}, err
	}

	names := make(map[string]struct{})
	for _, t := range loaded.Values() {
		for _, e := range t.Entries {
			names[e.Name] = struct{}{}
		}
	}
	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	sort.Strings(sorted)

	entries := make([]object.Entry, 0, len(sorted))
	for _, name := range sorted {
		values := entryMerge(loaded, name)
		merged, err := m.mergeValues(values)
		if err != nil {
			return content.Digest{}, fmt.Errorf("merging %s: %w", name, err)
		}
		if e, ok := object.NewEntry(name, merged); ok {
			entries = append(entries, e)
		}
	}

	t, err := m.backend.WriteTree(entries)
	if err != nil {
		return content.Digest{}, err
	}
	return t.ID, nil
}

// entryMerge collects the terms at name across every input tree. Entries
// that are already conflicts contribute all their terms.
func entryMerge(trees merge.Merge[*object.Tree], name string) merge.Merge[object.Value] {
	at := func(t *object.Tree) merge.Merge[object.Value] {
		e, ok := t.Entry(name)
		if !ok {
			return merge.Resolved(object.Absent)
		}
		return e.Merge()
	}
	nested := merge.Nested[object.Value]{}
	for _, t := range trees.Adds() {
		nested.Adds = append(nested.Adds, at(t))
	}
	for _, t := range trees.Removes() {
		nested.Removes = append(nested.Removes, at(t))
	}
	return merge.Flatten(nested).Simplify()
}

// mergeValues resolves one path. Subtrees are merged recursively, plain
// files get a line-level merge, anything else stays a conflict.
func (m *Merger) mergeValues(values merge.Merge[object.Value]) (merge.Merge[object.Value], error) {
	if v, ok := values.Resolve(); ok {
		return merge.Resolved(v), nil
	}

	if allTreesOrAbsent(values) {
		ids := merge.Map(values, func(v object.Value) content.Digest {
			if v.IsAbsent() {
				return object.EmptyTreeID
			}
			return v.ID
		})
		id, err := m.MergeTrees(ids)
		if err != nil {
			return merge.Merge[object.Value]{}, err
		}
		if id == object.EmptyTreeID {
			return merge.Resolved(object.Absent), nil
		}
		return merge.Resolved(object.TreeValue(id)), nil
	}

	if resolved, ok, err := m.mergeFiles(values); err != nil || ok {
		return resolved, err
	}
	return values, nil
}

func allTreesOrAbsent(values merge.Merge[object.Value]) bool {
	for _, v := range values.Values() {
		if !v.IsTree() && !v.IsAbsent() {
			return false
		}
	}
	return true
}

// mergeFiles handles the three-way case where every term is a file.
func (m *Merger) mergeFiles(values merge.Merge[object.Value]) (merge.Merge[object.Value], bool, error) {
	if values.NumSides() != 2 {
		return values, false, nil
	}
	for _, v := range values.Values() {
		if !v.IsFile() {
			return values, false, nil
		}
	}
	executable, ok := merge.Map(values, func(v object.Value) bool { return v.Executable }).Resolve()
	if !ok {
		return values, false, nil
	}

	var contents [3][]byte
	for i, v := range append(values.Removes()[:1], values.Adds()...) {
		data, err := m.backend.ReadFile(v.ID)
		if err != nil {
			return values, false, err
		}
		contents[i] = data
	}
	merged, ok := diff.Merge3(contents[0], contents[1], contents[2])
	if !ok {
		return values, false, nil
	}
	id, err := m.backend.WriteFile(merged)
	if err != nil {
		return values, false, err
	}
	return merge.Resolved(object.FileValue(id, executable)), true, nil
}
