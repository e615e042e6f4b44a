package oplog

import (
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/object"
)

func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

var epoch = time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)

func meta(desc string, n int) Metadata {
	at := epoch.Add(time.Duration(n) * time.Second)
	return Metadata{Description: desc, Username: "test", Hostname: "host", Start: at, End: at}
}

func digest(s string) content.Digest { return content.Hash([]byte(s)) }

func initialView() *View {
	v := NewView()
	v.Heads = []content.Digest{digest("wc")}
	v.WorkingCopies[DefaultWorkspace] = digest("wc")
	return v
}

func TestLogCommit(t *testing.T) {
	l := NewLog(content.NewMemoryStore(), setupTestDB(t), nil)

	_, err := l.Head()
	assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))

	first, err := l.Init(initialView(), meta("initialize repo", 0))
	require.NoError(t, err)
	assert.True(t, first.IsRoot())

	_, err = l.Init(initialView(), meta("again", 1))
	assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))

	v := initialView()
	v.Bookmarks["main"] = digest("wc")
	second, err := l.Commit([]content.Digest{first.ID}, v, meta("create bookmark", 1))
	require.NoError(t, err)

	head, err := l.Head()
	require.NoError(t, err)
	assert.Equal(t, second.ID, head.ID)
	assert.Equal(t, "create bookmark", head.Metadata.Description)

	got, err := l.ReadView(head.View)
	require.NoError(t, err)
	assert.Equal(t, digest("wc"), got.Bookmarks["main"])

	t.Run("stale parent is rejected", func(t *testing.T) {
		_, err := l.Commit([]content.Digest{first.ID}, initialView(), meta("stale", 2))
		require.Error(t, err)
		assert.True(t, errors.HasType(err, errors.ErrorTypeConcurrentModification))

		head, err := l.Head()
		require.NoError(t, err)
		assert.Equal(t, second.ID, head.ID)
	})

	t.Run("ancestors newest first", func(t *testing.T) {
		var descs []string
		for op, err := range l.Ancestors(second.ID) {
			require.NoError(t, err)
			descs = append(descs, op.Metadata.Description)
		}
		assert.Equal(t, []string{"create bookmark", "initialize repo"}, descs)
	})

	t.Run("resolve", func(t *testing.T) {
		op, err := l.Resolve("@")
		require.NoError(t, err)
		assert.Equal(t, second.ID, op.ID)

		op, err = l.Resolve("@-")
		require.NoError(t, err)
		assert.Equal(t, first.ID, op.ID)

		op, err = l.Resolve(first.ID.Short(12))
		require.NoError(t, err)
		assert.Equal(t, first.ID, op.ID)

		_, err = l.Resolve("@--")
		assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))

		_, err = l.Resolve("zz")
		assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))
	})
}

func TestConcurrentHeads(t *testing.T) {
	l := NewLog(content.NewMemoryStore(), setupTestDB(t), nil)
	root, err := l.Init(initialView(), meta("initialize repo", 0))
	require.NoError(t, err)

	left, err := l.Commit([]content.Digest{root.ID}, initialView(), meta("left", 1))
	require.NoError(t, err)

	// A second writer that started from root and lost the race keeps its
	// operation as an extra head.
	v := initialView()
	v.Bookmarks["b"] = digest("x")
	stale, err := l.Commit([]content.Digest{root.ID}, v, meta("right", 2))
	require.Error(t, err)
	assert.Nil(t, stale)

	viewID, err := l.WriteView(v)
	require.NoError(t, err)
	rightOp := &Operation{Parents: []content.Digest{root.ID}, View: viewID, Metadata: meta("right", 2)}
	require.NoError(t, l.WriteOperation(rightOp))
	require.NoError(t, l.AddHead(rightOp.ID))

	_, err = l.Head()
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeConcurrentModification))
	assert.Equal(t, MergeHeadsHint, errors.HintOf(err))

	heads, err := l.Heads()
	require.NoError(t, err)
	assert.ElementsMatch(t, []content.Digest{left.ID, rightOp.ID}, heads)

	base, err := l.CommonAncestor(heads...)
	require.NoError(t, err)
	assert.Equal(t, root.ID, base.ID)

	merged, err := l.Commit(heads, v, meta("merge heads", 3))
	require.NoError(t, err)
	head, err := l.Head()
	require.NoError(t, err)
	assert.Equal(t, merged.ID, head.ID)
}

func TestMergeViews(t *testing.T) {
	a, b, c := digest("a"), digest("b"), digest("c")

	base := NewView()
	base.Heads = []content.Digest{a}
	base.WorkingCopies[DefaultWorkspace] = a
	base.Bookmarks["same"] = a
	base.Bookmarks["gone"] = a
	base.Bookmarks["fight"] = a

	left := base.Clone()
	left.Heads = []content.Digest{b}
	left.WorkingCopies[DefaultWorkspace] = b
	left.Bookmarks["fight"] = b
	delete(left.Bookmarks, "gone")

	right := base.Clone()
	right.Heads = []content.Digest{a, c}
	right.Bookmarks["fight"] = c
	right.Bookmarks["new"] = c

	merged, conflicts := MergeViews(base, left, right)
	assert.ElementsMatch(t, []content.Digest{b, c}, merged.Heads)
	assert.Equal(t, b, merged.WorkingCopies[DefaultWorkspace])
	assert.Equal(t, a, merged.Bookmarks["same"])
	assert.Equal(t, c, merged.Bookmarks["new"])
	assert.Equal(t, b, merged.Bookmarks["fight"])
	assert.NotContains(t, merged.Bookmarks, "gone")
	assert.Equal(t, []string{"bookmark fight"}, conflicts)
}

func TestDiff(t *testing.T) {
	from := initialView()
	to := from.Clone()
	to.Bookmarks["main"] = digest("wc")

	patch, err := Diff(from, to)
	require.NoError(t, err)
	require.Len(t, patch, 1)
	assert.Equal(t, "add", patch[0].Type)
	assert.Equal(t, "/bookmarks/main", patch[0].Path)

	patch, err = Diff(from, from.Clone())
	require.NoError(t, err)
	assert.Empty(t, patch)
}

func TestViewBookmarksAt(t *testing.T) {
	v := NewView()
	id := object.RootCommitID
	v.Bookmarks["b"] = id
	v.Bookmarks["a"] = id
	v.Bookmarks["other"] = digest("x")
	assert.Equal(t, []string{"a", "b"}, v.BookmarksAt(id))
}
