package repo

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"strand/internal/config"
	"strand/internal/errors"
	"strand/internal/fileset"
	"strand/internal/logging"
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

// testClock starts at a fixed time and moves one second per reading.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testRepo struct {
	*Repo
	t     *testing.T
	ctx   context.Context
	fs    afero.Fs
	db    *badger.DB
	clock *testClock
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.User.Name = "Test User"
	cfg.User.Email = "test.user@example.com"
	return cfg
}

func newTestRepo(t *testing.T) *testRepo {
	tr := &testRepo{
		t:     t,
		ctx:   context.Background(),
		fs:    afero.NewMemMapFs(),
		db:    setupTestDB(t),
		clock: newTestClock(),
	}
	require.NoError(t, tr.fs.MkdirAll(root, 0o755))
	r, err := Init(root, tr.options(testConfig()))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	tr.Repo = r
	return tr
}

func (tr *testRepo) options(cfg *config.Config) Options {
	return Options{
		Fs:       tr.fs,
		DB:       tr.db,
		Config:   cfg,
		Logger:   logging.Nop(),
		Clock:    tr.clock.Now,
		Username: "test-username",
		Hostname: "host.example.com",
	}
}

// open returns a second handle on the same repository, as another process
// would have.
func (tr *testRepo) open(cfg *config.Config) *Repo {
	r, err := Open(root, tr.options(cfg))
	require.NoError(tr.t, err)
	tr.t.Cleanup(func() { r.Close() })
	return r
}

func (tr *testRepo) write(p, data string) {
	abs := filepath.Join(root, filepath.FromSlash(p))
	require.NoError(tr.t, tr.fs.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(tr.t, afero.WriteFile(tr.fs, abs, []byte(data), 0o644))
}

func (tr *testRepo) read(p string) string {
	data, err := afero.ReadFile(tr.fs, filepath.Join(root, filepath.FromSlash(p)))
	require.NoError(tr.t, err)
	return string(data)
}

func (tr *testRepo) exists(p string) bool {
	ok, err := afero.Exists(tr.fs, filepath.Join(root, filepath.FromSlash(p)))
	require.NoError(tr.t, err)
	return ok
}

func (tr *testRepo) status() *Status {
	st, err := tr.Status(tr.ctx, nil)
	require.NoError(tr.t, err)
	return st
}

func (tr *testRepo) resolve(expr string) *object.Commit {
	commits, err := tr.Log(tr.ctx, expr)
	require.NoError(tr.t, err)
	require.Len(tr.t, commits, 1, "revision %q", expr)
	return commits[0].Commit
}

func (tr *testRepo) bookmarkNames() []string {
	bookmarks, err := tr.Bookmarks(tr.ctx)
	require.NoError(tr.t, err)
	names := make([]string, len(bookmarks))
	for i, b := range bookmarks {
		names[i] = b.Name
	}
	return names
}

func changePaths(changes []tree.Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.Kind().Letter() + " " + c.Path
	}
	return out
}

func TestInit(t *testing.T) {
	tr := newTestRepo(t)

	st := tr.status()
	assert.True(t, st.Clean)
	assert.True(t, st.WorkingCopy.Empty)
	assert.Empty(t, st.WorkingCopy.Commit.Description)
	require.Len(t, st.Parents, 1)
	assert.True(t, st.Parents[0].Commit.IsRoot())
	assert.Equal(t, "Test User", st.WorkingCopy.Commit.Author.Name)

	cfg, err := afero.ReadFile(tr.fs, filepath.Join(root, ".strand", config.FileName))
	require.NoError(t, err)
	assert.Contains(t, string(cfg), "snapshot:")

	t.Run("twice", func(t *testing.T) {
		_, err := Init(root, tr.options(testConfig()))
		assert.True(t, errors.HasType(err, errors.ErrorTypeValidation))
	})

	t.Run("open missing", func(t *testing.T) {
		_, err := Open("/elsewhere", tr.options(testConfig()))
		assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))
		assert.Equal(t, "strand init", errors.HintOf(err))
	})

	t.Run("discover", func(t *testing.T) {
		require.NoError(t, tr.fs.MkdirAll(filepath.Join(root, "a", "b"), 0o755))
		found, err := Discover(tr.fs, filepath.Join(root, "a", "b"))
		require.NoError(t, err)
		assert.Equal(t, root, found)

		_, err = Discover(tr.fs, "/")
		assert.True(t, errors.HasType(err, errors.ErrorTypeNotFound))
	})
}

func TestStatusMerge(t *testing.T) {
	tr := newTestRepo(t)
	ctx := tr.ctx

	tr.write("file", "base")
	_, err := tr.New(ctx, nil, "left")
	require.NoError(t, err)
	require.NoError(t, tr.CreateBookmark(ctx, "left", "@"))
	_, err = tr.New(ctx, []string{"@-"}, "right")
	require.NoError(t, err)
	tr.write("file", "right")
	_, err = tr.New(ctx, []string{"left", "@"}, "")
	require.NoError(t, err)

	// The merged parents agree with the working copy.
	st := tr.status()
	assert.True(t, st.Clean)
	assert.Empty(t, st.Changes)
	assert.True(t, st.WorkingCopy.Empty)
	require.Len(t, st.Parents, 2)
	assert.Equal(t, "left\n", st.Parents[0].Commit.Description)
	assert.Equal(t, []string{"left"}, st.Parents[0].Bookmarks)
	assert.True(t, st.Parents[0].Empty)
	assert.Equal(t, "right\n", st.Parents[1].Commit.Description)
	assert.False(t, st.Parents[1].Empty)
	assert.Equal(t, "right", tr.read("file"))
}

func TestStatusIgnoredGitignore(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("untracked/inside_untracked", "test")
	tr.write("untracked/.gitignore", "!inside_untracked\n")
	tr.write(".gitignore", "untracked/\n!dummy\n")

	st := tr.status()
	assert.False(t, st.Clean)
	assert.Equal(t, []string{"A .gitignore"}, changePaths(st.Changes))
	assert.False(t, st.WorkingCopy.Empty)
}

func TestStatusFiltered(t *testing.T) {
	tr := newTestRepo(t)
	tr.write("file_1", "file_1")
	tr.write("file_2", "file_2")

	st, err := tr.Status(tr.ctx, fileset.MustParse("file_1"))
	require.NoError(t, err)
	assert.False(t, st.Clean)
	assert.Equal(t, []string{"A file_1"}, changePaths(st.Changes))
}

func TestStatusConflictRootCause(t *testing.T) {
	tr := newTestRepo(t)
	ctx := tr.ctx

	tr.write("conflicted.txt", "initial contents")
	_, err := tr.Describe(ctx, "@", "Initial contents")
	require.NoError(t, err)
	_, err = tr.New(ctx, nil, "First part of conflicting change")
	require.NoError(t, err)
	tr.write("conflicted.txt", "Child 1")
	_, err = tr.New(ctx, []string{"@-"}, "Second part of conflicting change")
	require.NoError(t, err)
	tr.write("conflicted.txt", "Child 2")
	_, err = tr.New(ctx, []string{"all:(@-)+"}, "boom")
	require.NoError(t, err)
	// More descendants, so the root cause is not simply a parent.
	_, err = tr.New(ctx, nil, "boom-cont")
	require.NoError(t, err)
	_, err = tr.New(ctx, nil, "boom-cont-2")
	require.NoError(t, err)

	assert.Contains(t, tr.read("conflicted.txt"), "<<<<<<<")

	st := tr.status()
	assert.True(t, st.Clean)
	require.Len(t, st.Conflicts, 1)
	assert.Equal(t, "conflicted.txt", st.Conflicts[0].Path)
	assert.Equal(t, 2, st.Conflicts[0].Sides())

	assert.True(t, st.WorkingCopy.Commit.Conflicted)
	assert.True(t, st.WorkingCopy.Empty)
	assert.Equal(t, "boom-cont-2\n", st.WorkingCopy.Commit.Description)
	require.Len(t, st.Parents, 1)
	assert.Equal(t, "boom-cont\n", st.Parents[0].Commit.Description)

	require.Len(t, st.RootCauses, 1)
	assert.Equal(t, "boom\n", st.RootCauses[0].Commit.Description)

	commits, err := tr.Log(ctx, "::@")
	require.NoError(t, err)
	assert.Len(t, commits, 7)
}

func TestSnapshotRewritesWorkingCopy(t *testing.T) {
	tr := newTestRepo(t)
	before, err := tr.WorkingCopyID()
	require.NoError(t, err)
	require.NoError(t, tr.CreateBookmark(tr.ctx, "main", "@"))

	tr.write("file", "contents")
	st := tr.status()
	after, err := tr.WorkingCopyID()
	require.NoError(t, err)

	assert.NotEqual(t, before, after)
	assert.Equal(t, after, st.WorkingCopy.Commit.ID)
	assert.Equal(t, []string{"main"}, st.WorkingCopy.Bookmarks)
	assert.Equal(t, []string{"A file"}, changePaths(st.Changes))

	t.Run("unchanged files do not create operations", func(t *testing.T) {
		ops, err := tr.OpLog(tr.ctx, 0)
		require.NoError(t, err)
		tr.status()
		again, err := tr.OpLog(tr.ctx, 0)
		require.NoError(t, err)
		assert.Len(t, again, len(ops))
	})
}
