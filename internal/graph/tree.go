package graph

import (
	"strand/internal/content"
	"strand/internal/merge"
	"strand/internal/object"
	"strand/internal/tree"
)

// ParentTree is the auto-merged tree of parents. Each further parent is
// merged in against its merge base with the parents merged so far.
func (g *Graph) ParentTree(m *tree.Merger, parents []content.Digest) (content.Digest, error) {
	if len(parents) == 0 {
		return object.EmptyTreeID, nil
	}
	first, err := g.Commit(parents[0])
	if err != nil {
		return content.Digest{}, err
	}
	acc := first.Tree
	done := []content.Digest{parents[0]}
	for _, id := range parents[1:] {
		c, err := g.Commit(id)
		if err != nil {
			return content.Digest{}, err
		}
		baseID, err := g.MergeBase(done, []content.Digest{id})
		if err != nil {
			return content.Digest{}, err
		}
		base, err := g.Commit(baseID)
		if err != nil {
			return content.Digest{}, err
		}
		acc, err = m.MergeTrees(merge.New([]content.Digest{base.Tree}, []content.Digest{acc, c.Tree}))
		if err != nil {
			return content.Digest{}, err
		}
		done = append(done, id)
	}
	return acc, nil
}

// IsEmpty reports whether c changes nothing relative to its parents.
func (g *Graph) IsEmpty(m *tree.Merger, c *object.Commit) (bool, error) {
	if c.IsRoot() {
		return true, nil
	}
	parentTree, err := g.ParentTree(m, c.Parents)
	if err != nil {
		return false, err
	}
	return parentTree == c.Tree, nil
}
