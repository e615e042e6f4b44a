package graph

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strand/internal/content"
	"strand/internal/object"
	"strand/internal/tree"
)

type fixture struct {
	t       *testing.T
	backend *object.Backend
	graph   *Graph
	clock   time.Time
}

func newFixture(t *testing.T) *fixture {
	backend, err := object.NewBackend(content.NewMemoryStore(), 0)
	require.NoError(t, err)
	g, err := New(backend, 0, nil)
	require.NoError(t, err)
	return &fixture{t: t, backend: backend, graph: g, clock: time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)}
}

func (f *fixture) tree(files map[string]string) content.Digest {
	b := tree.NewBuilder(f.backend, object.EmptyTreeID)
	for p, data := range files {
		id, err := f.backend.WriteFile([]byte(data))
		require.NoError(f.t, err)
		b.SetValue(p, object.FileValue(id, false))
	}
	id, err := b.Write()
	require.NoError(f.t, err)
	return id
}

func (f *fixture) commit(desc string, files map[string]string, parents ...content.Digest) *object.Commit {
	f.clock = f.clock.Add(time.Second)
	sig := object.NewSignature("Test User", "test.user@example.com", f.clock)
	c, err := f.graph.Write(&object.Commit{
		ChangeID:    object.NewChangeID(),
		Parents:     parents,
		Tree:        f.tree(files),
		Description: desc,
		Author:      sig,
		Committer:   sig,
	})
	require.NoError(f.t, err)
	return c
}

func ids(commits ...*object.Commit) []content.Digest {
	out := make([]content.Digest, len(commits))
	for i, c := range commits {
		out[i] = c.ID
	}
	return out
}

func TestAncestorsOrder(t *testing.T) {
	f := newFixture(t)
	root := object.RootCommitID
	a := f.commit("a", nil, root)
	b := f.commit("b", nil, a.ID)
	c := f.commit("c", nil, a.ID)
	m := f.commit("m", nil, b.ID, c.ID)

	var got []content.Digest
	for commit, err := range f.graph.Ancestors(m.ID) {
		require.NoError(t, err)
		got = append(got, commit.ID)
	}

	require.Len(t, got, 5)
	assert.Equal(t, m.ID, got[0])
	assert.ElementsMatch(t, []content.Digest{b.ID, c.ID}, got[1:3])
	assert.True(t, got[1].Compare(got[2]) < 0)
	assert.Equal(t, a.ID, got[3])
	assert.Equal(t, root, got[4])

	gen, err := f.graph.Generation(m.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, gen)

	t.Run("stops early", func(t *testing.T) {
		n := 0
		for _, err := range f.graph.Ancestors(m.ID) {
			require.NoError(t, err)
			n++
			if n == 2 {
				break
			}
		}
		assert.Equal(t, 2, n)
	})
}

func TestIsAncestorAndHeads(t *testing.T) {
	f := newFixture(t)
	a := f.commit("a", nil, object.RootCommitID)
	b := f.commit("b", nil, a.ID)
	c := f.commit("c", nil, a.ID)

	ok, err := f.graph.IsAncestor(a.ID, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.graph.IsAncestor(b.ID, c.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.graph.IsAncestor(object.RootCommitID, c.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	heads, err := f.graph.Heads(ids(a, b, c))
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(b, c), heads)

	assert.ElementsMatch(t, ids(b, c), f.graph.Children(a.ID))
}

func TestMergeBase(t *testing.T) {
	f := newFixture(t)
	a := f.commit("a", nil, object.RootCommitID)
	b := f.commit("b", nil, a.ID)
	c := f.commit("c", nil, a.ID)

	base, err := f.graph.MergeBase(ids(b), ids(c))
	require.NoError(t, err)
	assert.Equal(t, a.ID, base)

	// Criss-cross: two equally good bases, the lower digest wins.
	x := f.commit("x", nil, b.ID, c.ID)
	y := f.commit("y", nil, c.ID, b.ID)
	common, err := f.graph.CommonAncestors(ids(x), ids(y))
	require.NoError(t, err)
	assert.ElementsMatch(t, ids(b, c), common)

	base, err = f.graph.MergeBase(ids(x), ids(y))
	require.NoError(t, err)
	expected := b.ID
	if c.ID.Compare(b.ID) < 0 {
		expected = c.ID
	}
	assert.Equal(t, expected, base)
}

func TestPrefixResolution(t *testing.T) {
	f := newFixture(t)
	a := f.commit("a", nil, object.RootCommitID)

	assert.Equal(t, []content.Digest{a.ID}, f.graph.ResolveCommitPrefix(a.ID.String()))
	assert.Contains(t, f.graph.ResolveCommitPrefix(""), a.ID)

	byChange := f.graph.ResolveChangePrefix(a.ChangeID.Short(12))
	assert.Equal(t, []content.Digest{a.ID}, byChange[a.ChangeID])

	root := f.graph.ResolveChangePrefix("zzzzzzzz")
	assert.Equal(t, []content.Digest{object.RootCommitID}, root[object.RootChangeID])

	// A rewritten commit keeps its change id.
	rewritten, err := f.graph.Write(&object.Commit{
		ChangeID:     a.ChangeID,
		Parents:      a.Parents,
		Predecessors: []content.Digest{a.ID},
		Tree:         a.Tree,
		Description:  "a2",
		Author:       a.Author,
		Committer:    a.Committer,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.Digest{a.ID, rewritten.ID}, f.graph.CommitsForChange(a.ChangeID))
}

func TestIndexFromStore(t *testing.T) {
	f := newFixture(t)
	a := f.commit("a", nil, object.RootCommitID)
	b := f.commit("b", nil, a.ID)

	// A fresh graph over the same store learns commits lazily.
	fresh, err := New(f.backend, 0, nil)
	require.NoError(t, err)
	assert.Empty(t, fresh.ResolveCommitPrefix(b.ID.String()))

	require.NoError(t, fresh.Add(b.ID))
	assert.Equal(t, []content.Digest{b.ID}, fresh.ResolveCommitPrefix(b.ID.String()))
	assert.Equal(t, []content.Digest{b.ID}, fresh.Children(a.ID))
}

func TestParentTree(t *testing.T) {
	f := newFixture(t)
	merger := tree.NewMerger(f.backend, nil)

	base := f.commit("base", map[string]string{"file": "base"}, object.RootCommitID)
	left := f.commit("left", map[string]string{"file": "base"}, base.ID)
	right := f.commit("right", map[string]string{"file": "right"}, base.ID)

	id, err := f.graph.ParentTree(merger, ids(left, right))
	require.NoError(t, err)
	assert.Equal(t, right.Tree, id)

	l2 := f.commit("left", map[string]string{"file": "left"}, object.RootCommitID)
	r2 := f.commit("right", map[string]string{"file": "right"}, object.RootCommitID)
	id, err = f.graph.ParentTree(merger, ids(l2, r2))
	require.NoError(t, err)

	conflicts, err := tree.Conflicts(f.backend, id, nil)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "file", conflicts[0].Path)
	assert.Equal(t, 2, conflicts[0].Sides())

	id, err = f.graph.ParentTree(merger, nil)
	require.NoError(t, err)
	assert.Equal(t, object.EmptyTreeID, id)
}

func TestIsEmpty(t *testing.T) {
	f := newFixture(t)
	merger := tree.NewMerger(f.backend, nil)

	a := f.commit("a", map[string]string{"f": "1"}, object.RootCommitID)
	b := f.commit("b", map[string]string{"f": "1"}, a.ID)

	empty, err := f.graph.IsEmpty(merger, a)
	require.NoError(t, err)
	assert.False(t, empty)

	empty, err = f.graph.IsEmpty(merger, b)
	require.NoError(t, err)
	assert.True(t, empty)

	empty, err = f.graph.IsEmpty(merger, object.RootCommit())
	require.NoError(t, err)
	assert.True(t, empty)
}
