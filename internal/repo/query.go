package repo

import (
	"context"
	"sort"

	"strand/internal/content"
	"strand/internal/diff"
	"strand/internal/merge"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/revset"
	"strand/internal/tree"
)

// CommitInfo is a commit with the labels shown next to it.
type CommitInfo struct {
	Commit        *object.Commit
	Empty         bool
	Divergent     bool
	Bookmarks     []string
	WorkingCopies []string
}

// IsWorkingCopy reports whether ws has this commit checked out.
func (c CommitInfo) IsWorkingCopy(ws string) bool {
	for _, w := range c.WorkingCopies {
		if w == ws {
			return true
		}
	}
	return false
}

// snapshotView snapshots the working copy and returns the resulting view.
func (r *Repo) snapshotView(ctx context.Context) (*oplog.Operation, *oplog.View, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.snapshot(ctx); err != nil {
		return nil, nil, err
	}
	head, err := r.ops.Head()
	if err != nil {
		return nil, nil, err
	}
	view, err := r.ops.ReadView(head.View)
	if err != nil {
		return nil, nil, err
	}
	return head, view, nil
}

func (r *Repo) info(view *oplog.View, visible revset.Set, c *object.Commit) (CommitInfo, error) {
	empty, err := r.graph.IsEmpty(r.merger, c)
	if err != nil {
		return CommitInfo{}, err
	}
	info := CommitInfo{Commit: c, Empty: empty, Bookmarks: view.BookmarksAt(c.ID)}
	if !c.IsRoot() {
		n := 0
		for _, id := range r.graph.CommitsForChange(c.ChangeID) {
			if visible[id] {
				n++
			}
		}
		info.Divergent = n > 1
	}
	for ws, id := range view.WorkingCopies {
		if id == c.ID {
			info.WorkingCopies = append(info.WorkingCopies, ws)
		}
	}
	sort.Strings(info.WorkingCopies)
	return info, nil
}

// Log lists the commits matching expr, children before parents. An empty
// expression lists every visible commit.
func (r *Repo) Log(ctx context.Context, expr string) ([]CommitInfo, error) {
	if expr == "" {
		expr = "all()"
	}
	_, view, err := r.snapshotView(ctx)
	if err != nil {
		return nil, err
	}
	res := revset.NewResolver(r.graph, view, r.workspace)
	commits, err := res.Evaluate(expr)
	if err != nil {
		return nil, err
	}
	visible, err := res.Visible()
	if err != nil {
		return nil, err
	}
	out := make([]CommitInfo, 0, len(commits))
	for _, c := range commits {
		info, err := r.info(view, visible, c)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// Status is the state of the working copy relative to its parents.
type Status struct {
	// Changes lists the paths matching the filter that differ from the
	// merged parents.
	Changes     []tree.Change
	Clean       bool
	Conflicts   []tree.Conflict
	WorkingCopy CommitInfo
	Parents     []CommitInfo
	// RootCauses are the earliest conflicted ancestors of the working copy,
	// set only when the working copy has conflicts.
	RootCauses []CommitInfo
}

// Status snapshots the working copy and reports how it differs from its
// parents. m restricts the listed changes; cleanliness is judged on the
// whole tree.
func (r *Repo) Status(ctx context.Context, m tree.Matcher) (*Status, error) {
	if m == nil {
		m = tree.All
	}
	_, view, err := r.snapshotView(ctx)
	if err != nil {
		return nil, err
	}
	res := revset.NewResolver(r.graph, view, r.workspace)
	visible, err := res.Visible()
	if err != nil {
		return nil, err
	}
	wc, err := res.Single("@")
	if err != nil {
		return nil, err
	}

	st := &Status{}
	if st.WorkingCopy, err = r.info(view, visible, wc); err != nil {
		return nil, err
	}
	for _, p := range wc.Parents {
		parent, err := r.graph.Commit(p)
		if err != nil {
			return nil, err
		}
		info, err := r.info(view, visible, parent)
		if err != nil {
			return nil, err
		}
		st.Parents = append(st.Parents, info)
	}

	parentTree, err := r.graph.ParentTree(r.merger, wc.Parents)
	if err != nil {
		return nil, err
	}
	st.Clean = parentTree == wc.Tree
	if !st.Clean {
		if st.Changes, err = tree.Diff(r.backend, parentTree, wc.Tree, m); err != nil {
			return nil, err
		}
	}

	if wc.Conflicted {
		if st.Conflicts, err = tree.Conflicts(r.backend, wc.Tree, tree.All); err != nil {
			return nil, err
		}
		roots, err := res.Evaluate("roots(conflicts() & ::@)")
		if err != nil {
			return nil, err
		}
		// Oldest first; the first one is where resolving should start.
		for i := len(roots) - 1; i >= 0; i-- {
			info, err := r.info(view, visible, roots[i])
			if err != nil {
				return nil, err
			}
			st.RootCauses = append(st.RootCauses, info)
		}
	}
	return st, nil
}

// FileDiff is one changed path with its line diff. Hunks is nil when
// either side is not a plain file.
type FileDiff struct {
	Change tree.Change
	Hunks  *diff.DiffResult
}

// Diff compares rev (the working copy by default) with its merged parents.
func (r *Repo) Diff(ctx context.Context, rev string, m tree.Matcher) ([]FileDiff, error) {
	if rev == "" {
		rev = "@"
	}
	if m == nil {
		m = tree.All
	}
	_, view, err := r.snapshotView(ctx)
	if err != nil {
		return nil, err
	}
	c, err := revset.NewResolver(r.graph, view, r.workspace).Single(rev)
	if err != nil {
		return nil, err
	}
	parentTree, err := r.graph.ParentTree(r.merger, c.Parents)
	if err != nil {
		return nil, err
	}
	changes, err := tree.Diff(r.backend, parentTree, c.Tree, m)
	if err != nil {
		return nil, err
	}

	engine := diff.NewEngine(3)
	out := make([]FileDiff, 0, len(changes))
	for _, ch := range changes {
		before, err := r.fileContent(ch.Before)
		if err != nil {
			return nil, err
		}
		after, err := r.fileContent(ch.After)
		if err != nil {
			return nil, err
		}
		fd := FileDiff{Change: ch}
		if before != nil && after != nil {
			if fd.Hunks, err = engine.Diff(before, after); err != nil {
				return nil, err
			}
		}
		out = append(out, fd)
	}
	return out, nil
}

// fileContent returns the bytes of a resolved file, an empty slice for an
// absent path and nil for conflicts and directories.
func (r *Repo) fileContent(m merge.Merge[object.Value]) ([]byte, error) {
	v, ok := m.AsResolved()
	if !ok {
		return nil, nil
	}
	switch v.Kind {
	case object.KindAbsent:
		return []byte{}, nil
	case object.KindFile:
		return r.backend.ReadFile(v.ID)
	}
	return nil, nil
}

// Bookmarks lists every bookmark by name.
func (r *Repo) Bookmarks(ctx context.Context) ([]Bookmark, error) {
	_, view, err := r.snapshotView(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(view.Bookmarks))
	for name := range view.Bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Bookmark, 0, len(names))
	for _, name := range names {
		c, err := r.graph.Commit(view.Bookmarks[name])
		if err != nil {
			return nil, err
		}
		out = append(out, Bookmark{Name: name, Commit: c})
	}
	return out, nil
}

// WorkingCopyID returns the digest of the workspace's commit in the
// current view without snapshotting.
func (r *Repo) WorkingCopyID() (content.Digest, error) {
	head, err := r.ops.Head()
	if err != nil {
		return content.Digest{}, err
	}
	view, err := r.ops.ReadView(head.View)
	if err != nil {
		return content.Digest{}, err
	}
	return view.WorkingCopies[r.workspace], nil
}
