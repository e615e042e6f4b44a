package tree

import (
	"fmt"
	"sort"
	"strings"

	"strand/internal/content"
	"strand/internal/merge"
	"strand/internal/object"
)

// Builder applies path-level edits to a base tree. Directories that end up
// empty are dropped.
type Builder struct {
	backend   *object.Backend
	base      content.Digest
	overrides map[string]merge.Merge[object.Value]
}

func NewBuilder(b *object.Backend, base content.Digest) *Builder {
	return &Builder{backend: b, base: base, overrides: make(map[string]merge.Merge[object.Value])}
}

// Set replaces whatever is at p. Intermediate files on the way to p are
// replaced by directories.
func (b *Builder) Set(p string, m merge.Merge[object.Value]) {
	b.overrides[strings.Trim(p, "/")] = m.Simplify()
}

func (b *Builder) SetValue(p string, v object.Value) {
	b.Set(p, merge.Resolved(v))
}

func (b *Builder) Remove(p string) {
	b.Set(p, merge.Resolved(object.Absent))
}

// Len is the number of pending edits.
func (b *Builder) Len() int { return len(b.overrides) }

// Write stores the edited tree and returns its digest.
func (b *Builder) Write() (content.Digest, error) {
	if len(b.overrides) == 0 {
		return b.base, nil
	}
	return b.write(b.base, b.overrides)
}

func (b *Builder) write(id content.Digest, overrides map[string]merge.Merge[object.Value]) (content.Digest, error) {
	t, err := b.backend.ReadTree(id)
	if err != nil {
		return content.Digest{}, err
	}

	entries := make(map[string]object.Entry, len(t.Entries))
	for _, e := range t.Entries {
		entries[e.Name] = e
	}

	nested := make(map[string]map[string]merge.Merge[object.Value])
	for p, m := range overrides {
		name, rest, deep := strings.Cut(p, "/")
		if !deep {
			if e, ok := object.NewEntry(name, m); ok {
				entries[name] = e
			} else {
				delete(entries, name)
			}
			continue
		}
		if nested[name] == nil {
			nested[name] = make(map[string]merge.Merge[object.Value])
		}
		nested[name][rest] = m
	}

	dirs := make([]string, 0, len(nested))
	for name := range nested {
		dirs = append(dirs, name)
	}
	sort.Strings(dirs)
	for _, name := range dirs {
		sub := object.EmptyTreeID
		if e, ok := entries[name]; ok && e.Kind == object.KindTree {
			sub = e.ID
		}
		subID, err := b.write(sub, nested[name])
		if err != nil {
			return content.Digest{}, fmt.Errorf("writing %s: %w", name, err)
		}
		if subID == object.EmptyTreeID {
			delete(entries, name)
		} else {
			entries[name] = object.Entry{Name: name, Kind: object.KindTree, ID: subID}
		}
	}

	list := make([]object.Entry, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	if len(list) == 0 {
		return object.EmptyTreeID, nil
	}
	out, err := b.backend.WriteTree(list)
	if err != nil {
		return content.Digest{}, err
	}
	return out.ID, nil
}
