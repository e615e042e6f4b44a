package graph

import (
	"bytes"
	"sort"

	iradix "github.com/hashicorp/go-immutable-radix/v2"

	"strand/internal/content"
	"strand/internal/object"
)

// Index holds what is derived from commit parent edges: generation numbers,
// child lists, and prefix trees over commit digests and change ids. It only
// grows; trees are persistent so a Snapshot is cheap and never changes.
type Index struct {
	generation map[content.Digest]int
	children   map[content.Digest][]content.Digest
	changeOf   map[content.Digest]object.ChangeID
	commits    *iradix.Tree[content.Digest]
	changes    *iradix.Tree[[]content.Digest]
}

func newIndex() *Index {
	idx := &Index{
		generation: make(map[content.Digest]int),
		children:   make(map[content.Digest][]content.Digest),
		changeOf:   make(map[content.Digest]object.ChangeID),
		commits:    iradix.New[content.Digest](),
		changes:    iradix.New[[]content.Digest](),
	}
	idx.add(object.RootCommit())
	return idx
}

func (idx *Index) has(id content.Digest) bool {
	_, ok := idx.generation[id]
	return ok
}

// add records c. Every parent must already be indexed.
func (idx *Index) add(c *object.Commit) {
	if idx.has(c.ID) {
		return
	}
	gen := 0
	for _, p := range c.Parents {
		if g := idx.generation[p] + 1; g > gen {
			gen = g
		}
		idx.children[p] = append(idx.children[p], c.ID)
	}
	idx.generation[c.ID] = gen
	idx.changeOf[c.ID] = c.ChangeID

	idx.commits, _, _ = idx.commits.Insert([]byte(c.ID.String()), c.ID)

	key := []byte(c.ChangeID.String())
	ids, _ := idx.changes.Get(key)
	ids = append(append([]content.Digest{}, ids...), c.ID)
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	idx.changes, _, _ = idx.changes.Insert(key, ids)
}

func (idx *Index) Len() int { return len(idx.generation) }

// CommitPrefix returns every indexed commit whose hex digest starts with
// prefix.
func (idx *Index) CommitPrefix(prefix string) []content.Digest {
	var out []content.Digest
	idx.commits.Root().WalkPrefix([]byte(prefix), func(_ []byte, id content.Digest) bool {
		out = append(out, id)
		return false
	})
	return out
}

// ChangePrefix returns, per matching change id, the commits carrying it.
func (idx *Index) ChangePrefix(prefix string) map[object.ChangeID][]content.Digest {
	out := make(map[object.ChangeID][]content.Digest)
	idx.changes.Root().WalkPrefix([]byte(prefix), func(_ []byte, ids []content.Digest) bool {
		for _, id := range ids {
			out[idx.changeOf[id]] = append(out[idx.changeOf[id]], id)
		}
		return false
	})
	return out
}

// CommitsForChange returns all indexed commits with change id c.
func (idx *Index) CommitsForChange(c object.ChangeID) []content.Digest {
	ids, _ := idx.changes.Get([]byte(c.String()))
	return ids
}
