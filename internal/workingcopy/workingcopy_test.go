package workingcopy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/multierr"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/merge"
	"strand/internal/metrics"
	"strand/internal/object"
	"strand/internal/tree"
)

const root = "/repo"

func setupTestDB(t *testing.T) *badger.DB {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil

	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type fixture struct {
	t       *testing.T
	fs      afero.Fs
	backend *object.Backend
	metrics *metrics.Metrics
	wc      *WorkingCopy
}

func newFixture(t *testing.T) *fixture {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(filepath.Join(root, RepoDir), 0o755))
	backend, err := object.NewBackend(content.NewMemoryStore(), 0)
	require.NoError(t, err)
	m := metrics.New()
	return &fixture{
		t:       t,
		fs:      fs,
		backend: backend,
		metrics: m,
		wc: New(backend, Options{
			Fs:          fs,
			Root:        root,
			MaxFileSize: 1 << 20,
			Concurrency: 4,
			Metrics:     m,
		}),
	}
}

func (f *fixture) write(p, data string) {
	abs := filepath.Join(root, filepath.FromSlash(p))
	require.NoError(f.t, f.fs.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(f.t, afero.WriteFile(f.fs, abs, []byte(data), 0o644))
}

func (f *fixture) read(p string) string {
	data, err := afero.ReadFile(f.fs, filepath.Join(root, filepath.FromSlash(p)))
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) snapshot(prev *State) *Snapshot {
	snap, err := f.wc.Snapshot(context.Background(), prev)
	require.NoError(f.t, err)
	return snap
}

func (f *fixture) paths(treeID content.Digest) []string {
	var out []string
	require.NoError(f.t, tree.Walk(f.backend, treeID, tree.All, func(p string, _ object.Entry) error {
		out = append(out, p)
		return nil
	}))
	return out
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	f.write("file_1", "file_1")
	f.write("dir/file_2", "file_2")
	f.write(".strand/store/blob", "internal")
	f.write(".git/HEAD", "ref")

	snap := f.snapshot(NewState("default"))
	require.NoError(t, snap.Skipped)
	assert.Equal(t, []string{"dir/file_2", "file_1"}, f.paths(snap.State.TreeID))
	assert.Equal(t, 2, snap.Hashed)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.FilesHashed))

	t.Run("unchanged files are not hashed again", func(t *testing.T) {
		again := f.snapshot(snap.State)
		assert.Equal(t, snap.State.TreeID, again.State.TreeID)
		assert.Equal(t, 0, again.Hashed)
	})

	t.Run("modified and deleted files", func(t *testing.T) {
		f.write("file_1", "changed")
		require.NoError(t, f.fs.Remove(filepath.Join(root, "dir/file_2")))
		next := f.snapshot(snap.State)
		assert.Equal(t, []string{"file_1"}, f.paths(next.State.TreeID))
	})
}

func TestSnapshotIgnoredOverride(t *testing.T) {
	f := newFixture(t)
	f.write("untracked/inside_untracked", "test")
	f.write("untracked/.gitignore", "!inside_untracked\n")
	f.write(".gitignore", "untracked/\n!dummy\n")

	snap := f.snapshot(NewState("default"))
	assert.Equal(t, []string{".gitignore"}, f.paths(snap.State.TreeID))
}

func TestSnapshotIgnoreRules(t *testing.T) {
	f := newFixture(t)
	f.write(".gitignore", "*.log\n!keep.log\n")
	f.write("a.log", "x")
	f.write("keep.log", "x")
	f.write("sub/.gitignore", "!b.log\nsecret\n")
	f.write("sub/b.log", "x")
	f.write("sub/c.log", "x")
	f.write("sub/secret", "x")

	snap := f.snapshot(NewState("default"))
	assert.Equal(t, []string{".gitignore", "keep.log", "sub/.gitignore", "sub/b.log"}, f.paths(snap.State.TreeID))

	t.Run("tracked files stay tracked", func(t *testing.T) {
		st := snap.State.clone()
		st.Files["a.log"] = FileState{Value: object.FileValue(content.Hash([]byte("old")), false)}
		next := f.snapshot(st)
		assert.Contains(t, f.paths(next.State.TreeID), "a.log")
	})
}

func TestSnapshotSkipsLargeFiles(t *testing.T) {
	f := newFixture(t)
	f.wc.maxFileSize = 4
	f.write("small", "ok")
	f.write("large", "too large")

	snap := f.snapshot(NewState("default"))
	assert.Equal(t, []string{"small"}, f.paths(snap.State.TreeID))
	errs := multierr.Errors(snap.Skipped)
	require.Len(t, errs, 1)
	assert.True(t, errors.HasType(errs[0], errors.ErrorTypeFilesystem))
	assert.Contains(t, errs[0].Error(), "large")
}

func TestSnapshotMissingRoot(t *testing.T) {
	f := newFixture(t)
	f.wc.root = "/nowhere"
	_, err := f.wc.Snapshot(context.Background(), NewState("default"))
	require.Error(t, err)
	assert.True(t, errors.HasType(err, errors.ErrorTypeFilesystem))
}

func TestCheckout(t *testing.T) {
	f := newFixture(t)
	f.write("keep", "keep")
	f.write("gone", "gone")
	f.write("f", "file")
	first := f.snapshot(NewState("default")).State

	b := tree.NewBuilder(f.backend, first.TreeID)
	id, err := f.backend.WriteFile([]byte("new"))
	require.NoError(t, err)
	b.Remove("gone")
	b.Remove("f")
	b.SetValue("f/inner", object.FileValue(id, true))
	b.SetValue("added", object.FileValue(id, false))
	target, err := b.Write()
	require.NoError(t, err)

	commit := &object.Commit{ID: content.Hash([]byte("commit")), Tree: target}
	next, stats, err := f.wc.Checkout(context.Background(), first, commit)
	require.NoError(t, err)
	assert.Equal(t, CheckoutStats{Added: 2, Removed: 2}, stats)
	assert.Equal(t, commit.ID, next.CommitID)

	assert.Equal(t, "keep", f.read("keep"))
	assert.Equal(t, "new", f.read("f/inner"))
	exists, err := afero.Exists(f.fs, filepath.Join(root, "gone"))
	require.NoError(t, err)
	assert.False(t, exists)

	info, err := f.fs.Stat(filepath.Join(root, "f/inner"))
	require.NoError(t, err)
	assert.True(t, executable(info))

	// Snapshotting right after a checkout reproduces the tree.
	snap := f.snapshot(next)
	assert.Equal(t, target, snap.State.TreeID)
}

func TestCheckoutConflict(t *testing.T) {
	f := newFixture(t)
	st := f.snapshot(NewState("default")).State

	base, err := f.backend.WriteFile([]byte("initial contents"))
	require.NoError(t, err)
	one, err := f.backend.WriteFile([]byte("Child 1"))
	require.NoError(t, err)
	two, err := f.backend.WriteFile([]byte("Child 2"))
	require.NoError(t, err)
	m := merge.ThreeWay(object.FileValue(base, false), object.FileValue(two, false), object.FileValue(one, false))

	b := tree.NewBuilder(f.backend, object.EmptyTreeID)
	b.Set("conflicted.txt", m)
	target, err := b.Write()
	require.NoError(t, err)

	next, stats, err := f.wc.Checkout(context.Background(), st, &object.Commit{Tree: target})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Conflicts)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConflictsMaterialized))
	assert.Equal(t, `<<<<<<< Conflict 1 of 1
%%%%%%% Changes from base to side #1
-initial contents
+Child 2
+++++++ Contents of side #2
Child 1
>>>>>>> Conflict 1 of 1 ends
`, f.read("conflicted.txt"))

	t.Run("untouched markers keep the conflict", func(t *testing.T) {
		snap := f.snapshot(next)
		assert.Equal(t, target, snap.State.TreeID)
	})

	t.Run("editing the file resolves it", func(t *testing.T) {
		f.write("conflicted.txt", "resolved")
		snap := f.snapshot(next)
		conflicts, err := tree.Conflicts(f.backend, snap.State.TreeID, nil)
		require.NoError(t, err)
		assert.Empty(t, conflicts)
	})
}

func TestStateStore(t *testing.T) {
	store := NewStateStore(setupTestDB(t))
	_, err := store.Load("default")
	assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))

	st := NewState("default")
	st.Files["a"] = FileState{Size: 1, Value: object.FileValue(content.Hash([]byte("a")), true)}
	require.NoError(t, store.Save(st))

	got, err := store.Load("default")
	require.NoError(t, err)
	assert.Equal(t, st.Files, got.Files)
	assert.Equal(t, object.EmptyTreeID, got.TreeID)

	names, err := store.Workspaces()
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, names)
}

func TestMonitor(t *testing.T) {
	defer goleak.VerifyNone(t,
		// badger pulls in opencensus, whose view worker lives for the process
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, RepoDir), 0o755))

	m, err := NewMonitor(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, RepoDir, "internal"), []byte("x"), 0o644))
	select {
	case <-m.Changes():
		t.Fatal("repository directory changes must not be reported")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), []byte("x"), 0o644))
	select {
	case <-m.Changes():
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
