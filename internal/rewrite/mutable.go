// Package rewrite builds new views: it creates and rewrites commits and
// rebases whatever descended from the ones that changed.
package rewrite

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/graph"
	"strand/internal/merge"
	"strand/internal/metrics"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/tree"
)

// Settings carries the identity and clock used for new commits.
type Settings struct {
	UserName  string
	UserEmail string
	Clock     func() time.Time
}

func (s Settings) signature() object.Signature {
	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	return object.NewSignature(s.UserName, s.UserEmail, now())
}

// replacement records what happened to a commit in this transaction.
// Descendants move onto parents; view pointers move to target.
type replacement struct {
	parents   []content.Digest
	target    content.Digest
	abandoned bool
}

// MutableRepo is a view being edited by one transaction. Nothing it does
// is visible to others until the transaction's operation is committed.
type MutableRepo struct {
	graph    *graph.Graph
	merger   *tree.Merger
	settings Settings
	metrics  *metrics.Metrics
	logger   *zap.Logger

	view     *oplog.View
	replaced map[content.Digest]replacement
	created  []content.Digest
}

func NewMutableRepo(g *graph.Graph, m *tree.Merger, view *oplog.View, settings Settings, reg *metrics.Metrics, logger *zap.Logger) *MutableRepo {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MutableRepo{
		graph:    g,
		merger:   m,
		settings: settings,
		metrics:  metrics.OrNew(reg),
		logger:   logger,
		view:     view.Clone(),
		replaced: make(map[content.Digest]replacement),
	}
}

func (r *MutableRepo) Graph() *graph.Graph  { return r.graph }
func (r *MutableRepo) Merger() *tree.Merger { return r.merger }
func (r *MutableRepo) View() *oplog.View    { return r.view }
func (r *MutableRepo) HasChanges() bool     { return len(r.replaced) > 0 || len(r.created) > 0 }
func (r *MutableRepo) Settings() Settings   { return r.settings }

// NewCommit creates a commit with a fresh change id on parents.
func (r *MutableRepo) NewCommit(parents []content.Digest, treeID content.Digest, description string) (*object.Commit, error) {
	if len(parents) == 0 {
		parents = []content.Digest{object.RootCommitID}
	}
	sig := r.settings.signature()
	c, err := r.graph.Write(&object.Commit{
		ChangeID:    object.NewChangeID(),
		Parents:     parents,
		Tree:        treeID,
		Description: description,
		Author:      sig,
		Committer:   sig,
	})
	if err != nil {
		return nil, fmt.Errorf("creating commit: %w", err)
	}
	r.addHead(c.ID)
	return c, nil
}

// NewEmptyCommit creates a commit whose tree is the merge of its parents.
func (r *MutableRepo) NewEmptyCommit(parents []content.Digest, description string) (*object.Commit, error) {
	if len(parents) == 0 {
		parents = []content.Digest{object.RootCommitID}
	}
	treeID, err := r.graph.ParentTree(r.merger, parents)
	if err != nil {
		return nil, err
	}
	return r.NewCommit(parents, treeID, description)
}

// RewriteCommit stores a successor of old with the same change id. edit
// changes the copy before it is written. Descendants of old are rebased by
// RebaseDescendants.
func (r *MutableRepo) RewriteCommit(old *object.Commit, edit func(c *object.Commit)) (*object.Commit, error) {
	if old.IsRoot() {
		return nil, errors.ValidationError("the root commit cannot be rewritten", nil)
	}
	c := old.Clone()
	c.ID = content.Digest{}
	c.Predecessors = []content.Digest{old.ID}
	edit(c)
	c.Committer = r.settings.signature()

	out, err := r.graph.Write(c)
	if err != nil {
		return nil, fmt.Errorf("rewriting %s: %w", old.ID.Short(12), err)
	}
	r.replaced[old.ID] = replacement{parents: []content.Digest{out.ID}, target: out.ID}
	r.addHead(out.ID)
	return out, nil
}

// MoveCommit rewrites old like RewriteCommit, but old's descendants are
// rebased onto old's parents instead of following it.
func (r *MutableRepo) MoveCommit(old *object.Commit, edit func(c *object.Commit)) (*object.Commit, error) {
	out, err := r.RewriteCommit(old, edit)
	if err != nil {
		return nil, err
	}
	r.replaced[old.ID] = replacement{parents: old.Parents, target: out.ID}
	return out, nil
}

// Abandon hides c. Its descendants are rebased onto its parents.
func (r *MutableRepo) Abandon(c *object.Commit) error {
	if c.IsRoot() {
		return errors.ValidationError("the root commit cannot be abandoned", nil)
	}
	r.replaced[c.ID] = replacement{parents: c.Parents, abandoned: true}
	return nil
}

// RebaseCommit moves c onto newParents. The changes c made relative to its
// old parents are reapplied on top of the new ones.
func (r *MutableRepo) RebaseCommit(c *object.Commit, newParents []content.Digest) (*object.Commit, error) {
	newTree, err := r.rebasedTree(c, newParents)
	if err != nil {
		return nil, err
	}
	return r.RewriteCommit(c, func(out *object.Commit) {
		out.Parents = newParents
		out.Tree = newTree
	})
}

// RebaseRevision moves c alone onto newParents. Its descendants are
// rebased onto c's old parents.
func (r *MutableRepo) RebaseRevision(c *object.Commit, newParents []content.Digest) (*object.Commit, error) {
	newTree, err := r.rebasedTree(c, newParents)
	if err != nil {
		return nil, err
	}
	return r.MoveCommit(c, func(out *object.Commit) {
		out.Parents = newParents
		out.Tree = newTree
	})
}

func (r *MutableRepo) rebasedTree(c *object.Commit, newParents []content.Digest) (content.Digest, error) {
	oldBase, err := r.graph.ParentTree(r.merger, c.Parents)
	if err != nil {
		return content.Digest{}, err
	}
	newBase, err := r.graph.ParentTree(r.merger, newParents)
	if err != nil {
		return content.Digest{}, err
	}
	return r.merger.MergeTrees(merge.New([]content.Digest{oldBase}, []content.Digest{newBase, c.Tree}))
}

func (r *MutableRepo) addHead(id content.Digest) {
	r.created = append(r.created, id)
	r.view.Heads = append(r.view.Heads, id)
}

// newParents maps parents through the replacements made so far.
func (r *MutableRepo) newParents(parents []content.Digest) []content.Digest {
	var out []content.Digest
	seen := make(map[content.Digest]bool)
	var visit func(ids []content.Digest)
	visit = func(ids []content.Digest) {
		for _, id := range ids {
			if rep, ok := r.replaced[id]; ok {
				visit(rep.parents)
				continue
			}
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	visit(parents)
	if len(out) == 0 {
		out = []content.Digest{object.RootCommitID}
	}
	return out
}

// Visible returns the set of commits reachable from the view's heads.
func (r *MutableRepo) Visible() (map[content.Digest]bool, error) {
	return r.graph.AncestorSet(r.view.Heads...)
}

// RebaseDescendants rebases every visible descendant of a replaced commit
// and then repoints the view. Each descendant is rewritten once, after all
// of its parents. It returns the number of rebased commits.
func (r *MutableRepo) RebaseDescendants() (int, error) {
	if len(r.replaced) == 0 {
		return 0, nil
	}
	visible, err := r.Visible()
	if err != nil {
		return 0, err
	}

	pending := make(map[content.Digest]bool)
	queue := make([]content.Digest, 0, len(r.replaced))
	for id := range r.replaced {
		queue = append(queue, id)
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range r.graph.Children(id) {
			if !visible[child] || pending[child] {
				continue
			}
			if _, done := r.replaced[child]; done {
				continue
			}
			pending[child] = true
			queue = append(queue, child)
		}
	}

	order := make([]*object.Commit, 0, len(pending))
	gens := make(map[content.Digest]int, len(pending))
	for id := range pending {
		c, err := r.graph.Commit(id)
		if err != nil {
			return 0, err
		}
		if gens[id], err = r.graph.Generation(id); err != nil {
			return 0, err
		}
		order = append(order, c)
	}
	sort.Slice(order, func(i, j int) bool {
		gi, gj := gens[order[i].ID], gens[order[j].ID]
		if gi != gj {
			return gi < gj
		}
		return order[i].ID.Compare(order[j].ID) < 0
	})

	rebased := 0
	for _, c := range order {
		parents := r.newParents(c.Parents)
		if sameParents(parents, c.Parents) {
			continue
		}
		out, err := r.RebaseCommit(c, parents)
		if err != nil {
			return rebased, fmt.Errorf("rebasing %s: %w", c.ID.Short(12), err)
		}
		r.logger.Debug("rebased commit",
			zap.String("old", c.ID.Short(12)),
			zap.String("new", out.ID.Short(12)))
		r.metrics.CommitsRebased.Inc()
		rebased++
	}

	if err := r.updateView(); err != nil {
		return rebased, err
	}
	return rebased, nil
}

func sameParents(a, b []content.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// target follows view-pointer replacements to a live commit. ok is false
// when the chain ends in an abandoned commit.
func (r *MutableRepo) target(id content.Digest) (content.Digest, bool) {
	for {
		rep, replaced := r.replaced[id]
		if !replaced {
			return id, true
		}
		if rep.abandoned {
			return id, false
		}
		id = rep.target
	}
}

func (r *MutableRepo) updateView() error {
	for name, id := range r.view.Bookmarks {
		to, ok := r.target(id)
		if ok {
			r.view.Bookmarks[name] = to
			continue
		}
		r.view.Bookmarks[name] = r.newParents([]content.Digest{to})[0]
	}

	workspaces := make([]string, 0, len(r.view.WorkingCopies))
	for ws := range r.view.WorkingCopies {
		workspaces = append(workspaces, ws)
	}
	sort.Strings(workspaces)
	for _, ws := range workspaces {
		to, ok := r.target(r.view.WorkingCopies[ws])
		if ok {
			r.view.WorkingCopies[ws] = to
			continue
		}
		c, err := r.NewEmptyCommit(r.newParents([]content.Digest{to}), "")
		if err != nil {
			return fmt.Errorf("replacing working copy of %s: %w", ws, err)
		}
		r.view.WorkingCopies[ws] = c.ID
	}

	return r.EnforceHeads()
}

// EnforceHeads drops replaced commits from the heads, keeps their parents
// reachable, makes sure every working copy is visible and reduces the set
// to commits that are not ancestors of one another. A replaced head
// contributes its successors and its own parents.
func (r *MutableRepo) EnforceHeads() error {
	var candidates []content.Digest
	for _, h := range r.view.Heads {
		if _, gone := r.replaced[h]; gone {
			old, err := r.graph.Commit(h)
			if err != nil {
				return err
			}
			candidates = append(candidates, r.newParents([]content.Digest{h})...)
			candidates = append(candidates, r.newParents(old.Parents)...)
			continue
		}
		candidates = append(candidates, h)
	}
	for _, id := range r.view.WorkingCopies {
		candidates = append(candidates, id)
	}
	heads, err := r.graph.Heads(candidates)
	if err != nil {
		return err
	}
	if len(heads) == 0 {
		heads = []content.Digest{object.RootCommitID}
	}
	r.view.Heads = heads
	return nil
}

// Finish rebases descendants of replaced commits and settles the heads.
func (r *MutableRepo) Finish() (int, error) {
	n, err := r.RebaseDescendants()
	if err != nil {
		return n, err
	}
	return n, r.EnforceHeads()
}

func (r *MutableRepo) SetWorkingCopy(workspace string, id content.Digest) {
	r.view.WorkingCopies[workspace] = id
	r.view.Heads = append(r.view.Heads, id)
}

func (r *MutableRepo) SetBookmark(name string, id content.Digest) {
	r.view.Bookmarks[name] = id
	r.view.Heads = append(r.view.Heads, id)
}

func (r *MutableRepo) DeleteBookmark(name string) {
	delete(r.view.Bookmarks, name)
}

// SetView replaces the whole view, as undo and restore do.
func (r *MutableRepo) SetView(v *oplog.View) {
	r.view = v.Clone()
	r.view.Normalize()
	r.replaced = make(map[content.Digest]replacement)
}
