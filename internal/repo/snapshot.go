package repo

import (
	"context"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"strand/internal/errors"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/workingcopy"
)

// snapshot records the working directory into the workspace's
// working-copy commit, rewriting it (and rebasing its descendants) when
// the files changed.
func (r *Repo) snapshot(ctx context.Context) error {
	state, err := r.states.Load(r.workspace)
	if err != nil {
		return fmt.Errorf("loading working-copy state: %w", err)
	}
	head, err := r.ops.Head()
	if err != nil {
		return err
	}
	view, err := r.ops.ReadView(head.View)
	if err != nil {
		return err
	}
	wcID, ok := view.WorkingCopies[r.workspace]
	if !ok {
		return errors.NotFound(fmt.Sprintf("workspace %q has no working-copy commit", r.workspace))
	}

	snap, err := r.wc.Snapshot(ctx, state)
	if err != nil {
		return err
	}
	for _, skipped := range multierr.Errors(snap.Skipped) {
		r.logger.Warn("skipped path during snapshot", zap.Error(skipped))
	}

	if wcID != state.CommitID {
		// Another operation moved the working copy since it was last
		// updated. Only follow it if nothing on disk would be lost.
		if snap.State.TreeID != state.TreeID {
			return errors.ConcurrentModification(
				"the working copy is stale: its commit was changed by another operation and the files have unrecorded edits",
			).WithHint(fmt.Sprintf("strand op restore %s", state.OperationID.Short(12)))
		}
		return r.syncWorkingCopy(ctx, head)
	}

	wc, err := r.graph.Commit(wcID)
	if err != nil {
		return err
	}
	if err := r.states.Save(snap.State); err != nil {
		return fmt.Errorf("saving working-copy state: %w", err)
	}
	if snap.State.TreeID == wc.Tree {
		return nil
	}

	_, err = r.transact(ctx, "snapshot working copy", func(tx *Tx) error {
		cur, err := tx.WorkingCopy()
		if err != nil {
			return err
		}
		if cur.ID != wcID {
			return errors.ConcurrentModification("the working-copy commit moved while it was being snapshotted")
		}
		_, err = tx.RewriteCommit(cur, func(c *object.Commit) { c.Tree = snap.State.TreeID })
		return err
	})
	return err
}

// syncWorkingCopy makes the working directory match the workspace's commit
// in op's view.
func (r *Repo) syncWorkingCopy(ctx context.Context, op *oplog.Operation) error {
	view, err := r.ops.ReadView(op.View)
	if err != nil {
		return err
	}
	state, err := r.states.Load(r.workspace)
	if err != nil {
		return fmt.Errorf("loading working-copy state: %w", err)
	}
	id, ok := view.WorkingCopies[r.workspace]
	if !ok {
		return nil
	}
	if id == state.CommitID && state.OperationID == op.ID {
		return nil
	}

	next := state
	if id != state.CommitID {
		c, err := r.graph.Commit(id)
		if err != nil {
			return err
		}
		if c.Tree != state.TreeID {
			var stats workingcopy.CheckoutStats
			next, stats, err = r.wc.Checkout(ctx, state, c)
			if err != nil {
				return fmt.Errorf("updating working copy to %s: %w", id.Short(12), err)
			}
			r.logger.Debug("updated working copy",
				zap.String("commit", id.Short(12)),
				zap.Int("added", stats.Added),
				zap.Int("updated", stats.Updated),
				zap.Int("removed", stats.Removed),
				zap.Int("conflicts", stats.Conflicts))
		}
	}
	next.CommitID = id
	next.OperationID = op.ID
	if err := r.states.Save(next); err != nil {
		return fmt.Errorf("saving working-copy state: %w", err)
	}
	return nil
}
