package object

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"

	"strand/internal/content"
	"strand/internal/errors"

	lru "github.com/hashicorp/golang-lru/v2"
)

// EmptyTreeID is the digest of the tree with no entries.
var EmptyTreeID = mustEmptyTreeID()

func mustEmptyTreeID() content.Digest {
	data, err := encodeTree(&Tree{})
	if err != nil {
		panic(err)
	}
	return content.Hash(data)
}

// RootCommit returns the synthetic root. It is never written to the store.
func RootCommit() *Commit {
	return &Commit{
		ID:       RootCommitID,
		ChangeID: RootChangeID,
		Tree:     EmptyTreeID,
	}
}

// Backend reads and writes typed objects on top of a content store. Every
// object is canonical JSON, so its digest is a pure function of its fields.
type Backend struct {
	store content.Store
	trees *lru.Cache[content.Digest, *Tree]
}

func NewBackend(store content.Store, cacheSize int) (*Backend, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	trees, err := lru.New[content.Digest, *Tree](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating tree cache: %w", err)
	}
	return &Backend{store: store, trees: trees}, nil
}

func (b *Backend) Store() content.Store { return b.store }

func (b *Backend) read(kind string, id content.Digest) ([]byte, error) {
	data, err := b.store.Read(id)
	if err != nil {
		if stderrors.Is(err, content.ErrNotFound) {
			return nil, errors.Corrupt(fmt.Sprintf("%s %s is missing from the store", kind, id.Short(12)), err)
		}
		return nil, fmt.Errorf("reading %s %s: %w", kind, id.Short(12), err)
	}
	return data, nil
}

func (b *Backend) ReadFile(id content.Digest) ([]byte, error) {
	return b.read("file", id)
}

func (b *Backend) WriteFile(data []byte) (content.Digest, error) {
	id, err := b.store.Write(data)
	if err != nil {
		return id, fmt.Errorf("writing file: %w", err)
	}
	return id, nil
}

func (b *Backend) ReadTree(id content.Digest) (*Tree, error) {
	if id == EmptyTreeID {
		return &Tree{ID: EmptyTreeID}, nil
	}
	if t, ok := b.trees.Get(id); ok {
		return t, nil
	}

	data, err := b.read("tree", id)
	if err != nil {
		return nil, err
	}
	var t Tree
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Corrupt(fmt.Sprintf("decoding tree %s", id.Short(12)), err)
	}
	t.ID = id
	b.trees.Add(id, &t)
	return &t, nil
}

// WriteTree sorts entries, checks them and stores the tree. The Conflicted
// flag is derived from the entries and the subtrees they reference.
func (b *Backend) WriteTree(entries []Entry) (*Tree, error) {
	t := &Tree{Entries: append([]Entry{}, entries...)}
	sort.Slice(t.Entries, func(i, j int) bool { return t.Entries[i].Name < t.Entries[j].Name })

	for i, e := range t.Entries {
		if e.Name == "" || strings.Contains(e.Name, "/") || e.Name == "." || e.Name == ".." {
			return nil, errors.ValidationError(fmt.Sprintf("invalid tree entry name %q", e.Name), nil)
		}
		if i > 0 && t.Entries[i-1].Name == e.Name {
			return nil, errors.ValidationError(fmt.Sprintf("duplicate tree entry %q", e.Name), nil)
		}
		switch e.Kind {
		case KindConflict:
			if e.Conflict == nil || len(e.Conflict.Adds) != len(e.Conflict.Removes)+1 || len(e.Conflict.Removes) == 0 {
				return nil, errors.Internal(fmt.Sprintf("malformed conflict at %q", e.Name), nil)
			}
			t.Conflicted = true
		case KindTree:
			if !t.Conflicted {
				sub, err := b.ReadTree(e.ID)
				if err != nil {
					return nil, err
				}
				t.Conflicted = sub.Conflicted
			}
		case KindFile:
		default:
			return nil, errors.Internal(fmt.Sprintf("entry %q has kind %s", e.Name, e.Kind), nil)
		}
	}

	data, err := encodeTree(t)
	if err != nil {
		return nil, err
	}
	id, err := b.store.Write(data)
	if err != nil {
		return nil, fmt.Errorf("writing tree: %w", err)
	}
	t.ID = id
	b.trees.Add(id, t)
	return t, nil
}

func encodeTree(t *Tree) ([]byte, error) {
	if t.Entries == nil {
		t.Entries = []Entry{}
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("encoding tree: %w", err)
	}
	return data, nil
}

func (b *Backend) ReadCommit(id content.Digest) (*Commit, error) {
	if id == RootCommitID {
		return RootCommit(), nil
	}
	data, err := b.read("commit", id)
	if err != nil {
		return nil, err
	}
	var c Commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, errors.Corrupt(fmt.Sprintf("decoding commit %s", id.Short(12)), err)
	}
	c.ID = id
	return &c, nil
}

// WriteCommit stores c and returns a copy carrying its digest. The
// Conflicted flag is recomputed from the tree.
func (b *Backend) WriteCommit(c *Commit) (*Commit, error) {
	out := c.Clone()
	out.ID = content.Digest{}
	if len(out.Parents) == 0 {
		return nil, errors.ValidationError("only the root commit may have no parents", nil)
	}
	t, err := b.ReadTree(out.Tree)
	if err != nil {
		return nil, err
	}
	out.Conflicted = t.Conflicted

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding commit: %w", err)
	}
	id, err := b.store.Write(data)
	if err != nil {
		return nil, fmt.Errorf("writing commit: %w", err)
	}
	out.ID = id
	return out, nil
}
