// Package graph answers ancestry questions over the commit DAG.
package graph

import (
	"container/heap"
	"fmt"
	"iter"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"strand/internal/content"
	"strand/internal/object"
)

// Graph reads commits through a cache and keeps an Index of everything it
// has seen. Commits are indexed parents first, so generation numbers are
// always known for indexed commits.
type Graph struct {
	backend *object.Backend
	commits *lru.Cache[content.Digest, *object.Commit]
	logger  *zap.Logger

	mu    sync.RWMutex
	index *Index
}

func New(backend *object.Backend, cacheSize int, logger *zap.Logger) (*Graph, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[content.Digest, *object.Commit](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating commit cache: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		backend: backend,
		commits: cache,
		logger:  logger,
		index:   newIndex(),
	}, nil
}

func (g *Graph) Backend() *object.Backend { return g.backend }

// Commit reads a commit without indexing it.
func (g *Graph) Commit(id content.Digest) (*object.Commit, error) {
	if c, ok := g.commits.Get(id); ok {
		return c, nil
	}
	c, err := g.backend.ReadCommit(id)
	if err != nil {
		return nil, err
	}
	g.commits.Add(id, c)
	return c, nil
}

// Write stores c and indexes the result.
func (g *Graph) Write(c *object.Commit) (*object.Commit, error) {
	if err := g.Add(c.Parents...); err != nil {
		return nil, err
	}
	out, err := g.backend.WriteCommit(c)
	if err != nil {
		return nil, err
	}
	g.commits.Add(out.ID, out)
	g.mu.Lock()
	g.index.add(out)
	g.mu.Unlock()
	return out, nil
}

// Add indexes ids and all their ancestors.
func (g *Graph) Add(ids ...content.Digest) error {
	type frame struct {
		commit *object.Commit
		next   int
	}
	for _, id := range ids {
		if g.indexed(id) {
			continue
		}
		c, err := g.Commit(id)
		if err != nil {
			return err
		}
		stack := []*frame{{commit: c}}
		added := 0
		for len(stack) > 0 {
			top := stack[len(stack)-1]
			if top.next < len(top.commit.Parents) {
				p := top.commit.Parents[top.next]
				top.next++
				if g.indexed(p) {
					continue
				}
				pc, err := g.Commit(p)
				if err != nil {
					return fmt.Errorf("reading parent of %s: %w", top.commit.ID.Short(12), err)
				}
				stack = append(stack, &frame{commit: pc})
				continue
			}
			stack = stack[:len(stack)-1]
			g.mu.Lock()
			g.index.add(top.commit)
			g.mu.Unlock()
			added++
		}
		g.logger.Debug("indexed commits", zap.String("head", id.Short(12)), zap.Int("added", added))
	}
	return nil
}

func (g *Graph) indexed(id content.Digest) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.has(id)
}

// Generation is 0 for the root and one more than the highest parent
// otherwise.
func (g *Graph) Generation(id content.Digest) (int, error) {
	if err := g.Add(id); err != nil {
		return 0, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.generation[id], nil
}

// Children returns the indexed children of id, visible or not.
func (g *Graph) Children(id content.Digest) []content.Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]content.Digest(nil), g.index.children[id]...)
}

// ResolveCommitPrefix returns the indexed commits whose hex digest starts
// with prefix.
func (g *Graph) ResolveCommitPrefix(prefix string) []content.Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.CommitPrefix(prefix)
}

// ResolveChangePrefix returns the indexed commits grouped by change id
// for change ids whose reverse-hex form starts with prefix.
func (g *Graph) ResolveChangePrefix(prefix string) map[object.ChangeID][]content.Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.index.ChangePrefix(prefix)
}

// CommitsForChange lists the indexed commits carrying change id c.
func (g *Graph) CommitsForChange(c object.ChangeID) []content.Digest {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]content.Digest(nil), g.index.CommitsForChange(c)...)
}

type queued struct {
	commit *object.Commit
	gen    int
}

// commitHeap pops the highest generation first, then the lowest digest.
type commitHeap []queued

func (h commitHeap) Len() int { return len(h) }
func (h commitHeap) Less(i, j int) bool {
	if h[i].gen != h[j].gen {
		return h[i].gen > h[j].gen
	}
	return h[i].commit.ID.Compare(h[j].commit.ID) < 0
}
func (h commitHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *commitHeap) Push(x any)   { *h = append(*h, x.(queued)) }
func (h *commitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Ancestors yields heads and all their ancestors, each once, children
// before parents. Ties are broken by digest so the order is stable. The
// sequence is lazy and can be ranged over again.
func (g *Graph) Ancestors(heads ...content.Digest) iter.Seq2[*object.Commit, error] {
	return func(yield func(*object.Commit, error) bool) {
		if err := g.Add(heads...); err != nil {
			yield(nil, err)
			return
		}
		seen := make(map[content.Digest]bool)
		h := &commitHeap{}
		push := func(id content.Digest) error {
			if seen[id] {
				return nil
			}
			seen[id] = true
			c, err := g.Commit(id)
			if err != nil {
				return err
			}
			g.mu.RLock()
			gen := g.index.generation[id]
			g.mu.RUnlock()
			heap.Push(h, queued{commit: c, gen: gen})
			return nil
		}
		for _, id := range heads {
			if err := push(id); err != nil {
				yield(nil, err)
				return
			}
		}
		for h.Len() > 0 {
			q := heap.Pop(h).(queued)
			if !yield(q.commit, nil) {
				return
			}
			for _, p := range q.commit.Parents {
				if err := push(p); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	}
}

// AncestorSet collects Ancestors into a set.
func (g *Graph) AncestorSet(heads ...content.Digest) (map[content.Digest]bool, error) {
	out := make(map[content.Digest]bool)
	for c, err := range g.Ancestors(heads...) {
		if err != nil {
			return nil, err
		}
		out[c.ID] = true
	}
	return out, nil
}

// IsAncestor reports whether a is b or one of b's ancestors.
func (g *Graph) IsAncestor(a, b content.Digest) (bool, error) {
	if a == b {
		return true, nil
	}
	genA, err := g.Generation(a)
	if err != nil {
		return false, err
	}
	for c, err := range g.Ancestors(b) {
		if err != nil {
			return false, err
		}
		if c.ID == a {
			return true, nil
		}
		g.mu.RLock()
		gen := g.index.generation[c.ID]
		g.mu.RUnlock()
		if gen < genA {
			return false, nil
		}
	}
	return false, nil
}

// Heads returns the members of ids that are not ancestors of another
// member, sorted by digest.
func (g *Graph) Heads(ids []content.Digest) ([]content.Digest, error) {
	set := make(map[content.Digest]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for id := range set {
		c, err := g.Commit(id)
		if err != nil {
			return nil, err
		}
		for anc, err := range g.Ancestors(c.Parents...) {
			if err != nil {
				return nil, err
			}
			delete(set, anc.ID)
		}
	}
	return sortedKeys(set), nil
}

// CommonAncestors returns the heads of the commits that are ancestors of
// both a and b.
func (g *Graph) CommonAncestors(a, b []content.Digest) ([]content.Digest, error) {
	left, err := g.AncestorSet(a...)
	if err != nil {
		return nil, err
	}
	right, err := g.AncestorSet(b...)
	if err != nil {
		return nil, err
	}
	var common []content.Digest
	for id := range left {
		if right[id] {
			common = append(common, id)
		}
	}
	return g.Heads(common)
}

// MergeBase picks one common ancestor of a and b. When several qualify the
// lowest digest wins. The root is a common ancestor of everything, so a
// base always exists.
func (g *Graph) MergeBase(a, b []content.Digest) (content.Digest, error) {
	common, err := g.CommonAncestors(a, b)
	if err != nil {
		return content.Digest{}, err
	}
	if len(common) == 0 {
		return object.RootCommitID, nil
	}
	return common[0], nil
}

func sortedKeys(set map[content.Digest]bool) []content.Digest {
	out := make([]content.Digest, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}
