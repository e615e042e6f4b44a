// Package workingcopy reconciles a workspace directory with trees: it
// snapshots files into a tree and checks trees out into files.
package workingcopy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/merge"
	"strand/internal/metrics"
	"strand/internal/object"
	"strand/internal/tree"
)

// RepoDir holds repository data inside the workspace root.
const RepoDir = ".strand"

var skippedDirs = map[string]bool{RepoDir: true, ".git": true}

type Options struct {
	Fs          afero.Fs
	Root        string
	MaxFileSize int64
	Concurrency int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// WorkingCopy is one workspace directory.
type WorkingCopy struct {
	fs          afero.Fs
	root        string
	backend     *object.Backend
	maxFileSize int64
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
}

func New(backend *object.Backend, opts Options) *WorkingCopy {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &WorkingCopy{
		fs:          opts.Fs,
		root:        opts.Root,
		backend:     backend,
		maxFileSize: opts.MaxFileSize,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		metrics:     metrics.OrNew(opts.Metrics),
		now:         opts.Now,
	}
}

func (w *WorkingCopy) Root() string { return w.root }

func (w *WorkingCopy) abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// Snapshot is the result of scanning the working directory. Skipped holds
// one FILESYSTEM error per path that could not be read; those paths keep
// their previous value.
type Snapshot struct {
	State   *State
	Hashed  int
	Skipped error
}

type hashJob struct {
	path string
	info os.FileInfo
	prev FileState
	had  bool
}

// Snapshot scans the working directory and records it as a tree. Files
// whose size and mtime match prev and that were not modified after prev
// was taken are not read again.
func (w *WorkingCopy) Snapshot(ctx context.Context, prev *State) (*Snapshot, error) {
	start := w.now().UnixNano()
	if _, err := w.fs.Stat(w.root); err != nil {
		return nil, errors.Filesystem(w.root, err)
	}

	next := prev.clone()
	next.Files = make(map[string]FileState, len(prev.Files))
	var skipped error
	var jobs []hashJob

	var visit func(rel string, rules *ignoreRules, ignoredDir bool) error
	visit = func(rel string, rules *ignoreRules, ignoredDir bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		absDir := w.abs(rel)
		segments := splitPath(rel)
		rules, err := rules.child(w.fs, absDir, segments)
		if err != nil {
			skipped = multierr.Append(skipped, errors.Filesystem(join(rel, ignoreFile), err))
		}
		infos, err := afero.ReadDir(w.fs, absDir)
		if err != nil {
			if rel == "" {
				return errors.Filesystem(w.root, err)
			}
			skipped = multierr.Append(skipped, errors.Filesystem(rel, err))
			w.keepUnder(prev, next, rel)
			return nil
		}
		for _, info := range infos {
			name := info.Name()
			p := join(rel, name)
			pathSegs := append(append([]string(nil), segments...), name)
			if info.IsDir() {
				if skippedDirs[name] {
					continue
				}
				dirIgnored := ignoredDir || rules.ignored(pathSegs, true)
				if dirIgnored && !hasTrackedUnder(prev, p) {
					continue
				}
				if err := visit(p, rules, dirIgnored); err != nil {
					return err
				}
				continue
			}

			old, had := prev.Files[p]
			if (ignoredDir || rules.ignored(pathSegs, false)) && !had {
				continue
			}
			if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
				skipped = multierr.Append(skipped, errors.Filesystem(p, fmt.Errorf("not a regular file")))
				continue
			}
			if w.maxFileSize > 0 && info.Size() > w.maxFileSize {
				skipped = multierr.Append(skipped, errors.Filesystem(p,
					fmt.Errorf("file is %d bytes, larger than the %d byte limit", info.Size(), w.maxFileSize)))
				if had {
					next.Files[p] = old
				}
				continue
			}
			if had && old.onDisk() && old.Size == info.Size() && old.ModTime == info.ModTime().UnixNano() &&
				old.ModTime < prev.SnapshotAt && executable(info) == old.Value.Executable {
				next.Files[p] = old
				continue
			}
			jobs = append(jobs, hashJob{path: p, info: info, prev: old, had: had})
		}
		return nil
	}
	if err := visit("", newIgnoreRules(), false); err != nil {
		return nil, err
	}

	// Conflicts that could not be written out have no file to find.
	for p, f := range prev.Files {
		if !f.onDisk() {
			if _, seen := next.Files[p]; !seen {
				next.Files[p] = f
			}
		}
	}

	results, errs, err := w.hashAll(ctx, jobs)
	if err != nil {
		return nil, err
	}
	for i, job := range jobs {
		if errs[i] != nil {
			skipped = multierr.Append(skipped, errs[i])
			if job.had {
				next.Files[job.path] = job.prev
			}
			continue
		}
		next.Files[job.path] = results[i]
	}

	b := tree.NewBuilder(w.backend, object.EmptyTreeID)
	for p, f := range next.Files {
		b.Set(p, f.merge())
	}
	treeID, err := b.Write()
	if err != nil {
		return nil, fmt.Errorf("writing snapshot tree: %w", err)
	}
	next.TreeID = treeID
	next.SnapshotAt = start

	w.metrics.Snapshots.Inc()
	w.logger.Debug("snapshot",
		zap.Int("files", len(next.Files)),
		zap.Int("hashed", len(jobs)),
		zap.String("tree", treeID.Short(12)))
	return &Snapshot{State: next, Hashed: len(jobs), Skipped: skipped}, nil
}

func (w *WorkingCopy) hashAll(ctx context.Context, jobs []hashJob) ([]FileState, []error, error) {
	results := make([]FileState, len(jobs))
	errs := make([]error, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i], errs[i] = w.hashFile(job)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return results, errs, nil
}

func (w *WorkingCopy) hashFile(job hashJob) (FileState, error) {
	data, err := afero.ReadFile(w.fs, w.abs(job.path))
	if err != nil {
		return FileState{}, errors.Filesystem(job.path, err)
	}
	st := FileState{Size: job.info.Size(), ModTime: job.info.ModTime().UnixNano()}
	if job.had && job.prev.Conflict != nil && content.Hash(data) == job.prev.Materialized {
		st.Conflict = job.prev.Conflict
		st.Materialized = job.prev.Materialized
		return st, nil
	}
	id, err := w.backend.WriteFile(data)
	if err != nil {
		return FileState{}, err
	}
	w.metrics.FilesHashed.Inc()
	st.Value = object.FileValue(id, executable(job.info))
	return st, nil
}

// keepUnder copies the previous states below dir, used when dir cannot be
// read.
func (w *WorkingCopy) keepUnder(prev, next *State, dir string) {
	for p, f := range prev.Files {
		if strings.HasPrefix(p, dir+"/") {
			next.Files[p] = f
		}
	}
}

func hasTrackedUnder(st *State, dir string) bool {
	for p := range st.Files {
		if strings.HasPrefix(p, dir+"/") {
			return true
		}
	}
	return false
}

func executable(info os.FileInfo) bool {
	return info.Mode().Perm()&0o111 != 0
}

func splitPath(rel string) []string {
	if rel == "" {
		return nil
	}
	return strings.Split(rel, "/")
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// CheckoutStats counts what a checkout did to the working directory.
type CheckoutStats struct {
	Updated   int
	Added     int
	Removed   int
	Conflicts int
}

// Checkout makes the working directory match commit's tree. The directory
// must match prev.TreeID, which callers ensure by snapshotting first.
// Removals run before writes so a file and a directory can trade places.
func (w *WorkingCopy) Checkout(ctx context.Context, prev *State, commit *object.Commit) (*State, CheckoutStats, error) {
	var stats CheckoutStats
	changes, err := tree.Diff(w.backend, prev.TreeID, commit.Tree, tree.All)
	if err != nil {
		return nil, stats, err
	}
	next := prev.clone()

	for _, c := range changes {
		if c.Kind() != tree.Removed {
			continue
		}
		if err := w.remove(c.Path); err != nil {
			return nil, stats, err
		}
		delete(next.Files, c.Path)
		stats.Removed++
	}
	for _, c := range changes {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		switch c.Kind() {
		case tree.Removed:
			continue
		case tree.Added:
			stats.Added++
		default:
			stats.Updated++
		}
		st, err := w.write(c.Path, c.After)
		if err != nil {
			return nil, stats, err
		}
		if st.Conflict != nil {
			stats.Conflicts++
		}
		next.Files[c.Path] = st
	}

	next.TreeID = commit.Tree
	next.CommitID = commit.ID
	w.logger.Debug("checkout",
		zap.String("commit", commit.ID.Short(12)),
		zap.Int("added", stats.Added),
		zap.Int("updated", stats.Updated),
		zap.Int("removed", stats.Removed))
	return next, stats, nil
}

func (w *WorkingCopy) write(p string, m merge.Merge[object.Value]) (FileState, error) {
	var (
		data     []byte
		st       FileState
		exec     bool
		conflict bool
	)
	if v, ok := m.AsResolved(); ok {
		var err error
		if data, err = w.backend.ReadFile(v.ID); err != nil {
			return st, err
		}
		st.Value = v
		exec = v.Executable
	} else {
		conflict = true
		st.Conflict = object.ConflictFromMerge(m)
		rendered, ok, err := Materialize(w.backend, m)
		if err != nil {
			return st, err
		}
		if !ok {
			w.logger.Warn("conflict involves a directory and was not written", zap.String("path", p))
			return st, nil
		}
		data = rendered
		st.Materialized = content.Hash(data)
	}

	abs := w.abs(p)
	if info, err := w.fs.Stat(abs); err == nil && info.IsDir() {
		if err := w.fs.RemoveAll(abs); err != nil {
			return st, errors.Filesystem(p, err)
		}
	}
	if err := w.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return st, errors.Filesystem(p, err)
	}
	perm := os.FileMode(0o644)
	if exec {
		perm = 0o755
	}
	if err := afero.WriteFile(w.fs, abs, data, perm); err != nil {
		return st, errors.Filesystem(p, err)
	}
	if err := w.fs.Chmod(abs, perm); err != nil {
		return st, errors.Filesystem(p, err)
	}
	info, err := w.fs.Stat(abs)
	if err != nil {
		return st, errors.Filesystem(p, err)
	}
	st.Size = info.Size()
	st.ModTime = info.ModTime().UnixNano()
	if conflict {
		w.metrics.ConflictsMaterialized.Inc()
	}
	return st, nil
}

func (w *WorkingCopy) remove(p string) error {
	abs := w.abs(p)
	if err := w.fs.Remove(abs); err != nil && !os.IsNotExist(err) {
		return errors.Filesystem(p, err)
	}
	for dir := filepath.Dir(abs); dir != w.root && strings.HasPrefix(dir, w.root); dir = filepath.Dir(dir) {
		info, err := w.fs.Stat(dir)
		if err != nil || !info.IsDir() {
			break
		}
		if empty, err := afero.IsEmpty(w.fs, dir); err != nil || !empty {
			break
		}
		if err := w.fs.Remove(dir); err != nil {
			break
		}
	}
	return nil
}
