package repo

import (
	"context"
	"fmt"
	"strings"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/validation"
)

// run snapshots the working copy and then runs fn as one transaction.
func (r *Repo) run(ctx context.Context, description string, fn func(tx *Tx) error) (*oplog.Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.snapshot(ctx); err != nil {
		return nil, err
	}
	return r.transact(ctx, description, fn)
}

// normalizeDescription trims trailing whitespace and ends non-empty
// descriptions with a newline.
func normalizeDescription(s string) string {
	s = strings.TrimRight(s, " \t\r\n")
	if s == "" {
		return ""
	}
	return s + "\n"
}

func ids(commits []*object.Commit) []content.Digest {
	out := make([]content.Digest, len(commits))
	for i, c := range commits {
		out[i] = c.ID
	}
	return out
}

// New creates an empty commit on top of revs (the working copy by default)
// and checks it out.
func (r *Repo) New(ctx context.Context, revs []string, message string) (*object.Commit, error) {
	if len(revs) == 0 {
		revs = []string{"@"}
	}
	var created *object.Commit
	_, err := r.run(ctx, "new empty commit", func(tx *Tx) error {
		parents, err := tx.ResolveAll(revs)
		if err != nil {
			return err
		}
		c, err := tx.NewEmptyCommit(ids(parents), normalizeDescription(message))
		if err != nil {
			return err
		}
		created = c
		return tx.checkout(c.ID)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Commit describes the working-copy commit and starts a new empty one on
// top of it. It returns the described commit.
func (r *Repo) Commit(ctx context.Context, message string) (*object.Commit, error) {
	description := normalizeDescription(message)
	if description == "" {
		return nil, errors.ValidationError("a commit message is required", nil)
	}
	var committed *object.Commit
	_, err := r.run(ctx, "commit working copy", func(tx *Tx) error {
		wc, err := tx.WorkingCopy()
		if err != nil {
			return err
		}
		if committed, err = tx.RewriteCommit(wc, func(c *object.Commit) { c.Description = description }); err != nil {
			return err
		}
		next, err := tx.NewEmptyCommit([]content.Digest{committed.ID}, "")
		if err != nil {
			return err
		}
		tx.SetWorkingCopy(r.workspace, next.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Describe replaces the description of rev.
func (r *Repo) Describe(ctx context.Context, rev, message string) (*object.Commit, error) {
	if rev == "" {
		rev = "@"
	}
	var described *object.Commit
	_, err := r.run(ctx, "describe commit", func(tx *Tx) error {
		c, err := tx.Resolve(rev)
		if err != nil {
			return err
		}
		description := normalizeDescription(message)
		if description == c.Description {
			described = c
			return nil
		}
		described, err = tx.RewriteCommit(c, func(out *object.Commit) { out.Description = description })
		return err
	})
	if err != nil {
		return nil, err
	}
	return described, nil
}

// Edit makes rev the working-copy commit.
func (r *Repo) Edit(ctx context.Context, rev string) (*object.Commit, error) {
	var target *object.Commit
	_, err := r.run(ctx, "edit commit", func(tx *Tx) error {
		c, err := tx.Resolve(rev)
		if err != nil {
			return err
		}
		if c.IsRoot() {
			return errors.ValidationError("the root commit cannot be edited", nil).WithHint("strand new root()")
		}
		target = c
		return tx.checkout(c.ID)
	})
	if err != nil {
		return nil, err
	}
	return target, nil
}

// Abandon hides revs. Their descendants move onto their parents.
func (r *Repo) Abandon(ctx context.Context, revs []string) ([]*object.Commit, error) {
	if len(revs) == 0 {
		revs = []string{"@"}
	}
	var abandoned []*object.Commit
	_, err := r.run(ctx, "abandon commit", func(tx *Tx) error {
		commits, err := tx.ResolveAll(revs)
		if err != nil {
			return err
		}
		for _, c := range commits {
			if err := tx.Abandon(c); err != nil {
				return err
			}
		}
		abandoned = commits
		return nil
	})
	if err != nil {
		return nil, err
	}
	return abandoned, nil
}

// RebaseMode says what moves along with the named commit.
type RebaseMode int

const (
	// RebaseSource moves the commit and its descendants.
	RebaseSource RebaseMode = iota
	// RebaseRevision moves only the commit; its children move onto its
	// parents.
	RebaseRevision
)

// Rebase moves rev onto destinations.
func (r *Repo) Rebase(ctx context.Context, mode RebaseMode, rev string, destinations []string) (*object.Commit, error) {
	if len(destinations) == 0 {
		return nil, errors.ValidationError("at least one destination is required", nil)
	}
	var moved *object.Commit
	_, err := r.run(ctx, "rebase commit", func(tx *Tx) error {
		c, err := tx.Resolve(rev)
		if err != nil {
			return err
		}
		dests, err := tx.ResolveAll(destinations)
		if err != nil {
			return err
		}
		for _, d := range dests {
			descendant, err := tx.Graph().IsAncestor(c.ID, d.ID)
			if err != nil {
				return err
			}
			if descendant {
				return errors.ValidationError(
					fmt.Sprintf("cannot rebase %s onto its descendant %s", c.ChangeID.Short(12), d.ChangeID.Short(12)), nil)
			}
		}
		if mode == RebaseRevision {
			moved, err = tx.RebaseRevision(c, ids(dests))
		} else {
			moved, err = tx.RebaseCommit(c, ids(dests))
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// Squash moves the working-copy commit's changes into its parent and
// starts a new empty working-copy commit on the result.
func (r *Repo) Squash(ctx context.Context) (*object.Commit, error) {
	var squashed *object.Commit
	_, err := r.run(ctx, "squash commit", func(tx *Tx) error {
		wc, err := tx.WorkingCopy()
		if err != nil {
			return err
		}
		if len(wc.Parents) != 1 {
			return errors.ValidationError("cannot squash a merge commit into its parents", nil)
		}
		parent, err := tx.Graph().Commit(wc.Parents[0])
		if err != nil {
			return err
		}
		if parent.IsRoot() {
			return errors.ValidationError("cannot squash into the root commit", nil)
		}
		description := combineDescriptions(parent.Description, wc.Description)
		squashed, err = tx.RewriteCommit(parent, func(c *object.Commit) {
			c.Tree = wc.Tree
			c.Description = description
		})
		if err != nil {
			return err
		}
		return tx.Abandon(wc)
	})
	if err != nil {
		return nil, err
	}
	return squashed, nil
}

func combineDescriptions(into, from string) string {
	switch {
	case from == "":
		return into
	case into == "":
		return from
	default:
		return into + "\n" + from
	}
}

// Bookmark is a named pointer to a commit.
type Bookmark struct {
	Name   string
	Commit *object.Commit
}

// CreateBookmark points a new bookmark at rev.
func (r *Repo) CreateBookmark(ctx context.Context, name, rev string) error {
	if err := validation.ValidateBookmarkName(name); err != nil {
		return err
	}
	return r.setBookmark(ctx, "create bookmark "+name, name, rev, func(exists bool) error {
		if exists {
			return errors.ValidationError(fmt.Sprintf("bookmark %q already exists", name), nil).
				WithHint(fmt.Sprintf("strand bookmark set %s", name))
		}
		return nil
	})
}

// SetBookmark creates or moves a bookmark to rev.
func (r *Repo) SetBookmark(ctx context.Context, name, rev string) error {
	if err := validation.ValidateBookmarkName(name); err != nil {
		return err
	}
	return r.setBookmark(ctx, "point bookmark "+name, name, rev, func(bool) error { return nil })
}

func (r *Repo) setBookmark(ctx context.Context, description, name, rev string, check func(exists bool) error) error {
	if rev == "" {
		rev = "@"
	}
	_, err := r.run(ctx, description, func(tx *Tx) error {
		_, exists := tx.View().Bookmarks[name]
		if err := check(exists); err != nil {
			return err
		}
		c, err := tx.Resolve(rev)
		if err != nil {
			return err
		}
		tx.SetBookmark(name, c.ID)
		return nil
	})
	return err
}

// DeleteBookmark removes a bookmark. The commit it pointed at stays.
func (r *Repo) DeleteBookmark(ctx context.Context, name string) error {
	_, err := r.run(ctx, "delete bookmark "+name, func(tx *Tx) error {
		if _, ok := tx.View().Bookmarks[name]; !ok {
			return errors.NotFound(fmt.Sprintf("no such bookmark: %s", name))
		}
		tx.DeleteBookmark(name)
		return nil
	})
	return err
}
