package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/wI2L/jsondiff"
	"go.uber.org/zap"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/oplog"
	"strand/internal/rewrite"
	"strand/internal/tree"
	"strand/internal/workingcopy"
)

// OpEntry is one operation as listed by OpLog.
type OpEntry struct {
	Operation *oplog.Operation
	Current   bool
}

// OpLog lists operations, most recent first. limit <= 0 lists all.
func (r *Repo) OpLog(ctx context.Context, limit int) ([]OpEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	heads, err := r.ops.Heads()
	if err != nil {
		return nil, err
	}
	current := make(map[content.Digest]bool, len(heads))
	for _, h := range heads {
		current[h] = true
	}
	var out []OpEntry
	for op, err := range r.ops.Ancestors(heads...) {
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, OpEntry{Operation: op, Current: current[op.ID]})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Undo records a new operation that reverts what the operation named by
// expr did, keeping everything done since. It returns the references
// that could not be reverted cleanly.
func (r *Repo) Undo(ctx context.Context, expr string) (*oplog.Operation, []string, error) {
	if expr == "" {
		expr = "@"
	}
	var conflicts []string
	op, err := r.run(ctx, "undo operation", func(tx *Tx) error {
		target, err := r.ops.Resolve(expr)
		if err != nil {
			return err
		}
		if target.IsRoot() {
			return errors.ValidationError("cannot undo the creation of the repository", nil)
		}
		if len(target.Parents) > 1 {
			return errors.ValidationError("cannot undo a merge of concurrent operations", nil).
				WithHint("strand op restore " + target.Parents[0].Short(12))
		}
		parent, err := r.ops.ReadOperation(target.Parents[0])
		if err != nil {
			return err
		}
		undone, err := r.ops.ReadView(target.View)
		if err != nil {
			return err
		}
		before, err := r.ops.ReadView(parent.View)
		if err != nil {
			return err
		}
		merged, c := oplog.MergeViews(undone, tx.View(), before)
		conflicts = c
		tx.SetView(merged)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return op, conflicts, nil
}

// Restore records a new operation whose view is the one the operation
// named by expr produced.
func (r *Repo) Restore(ctx context.Context, expr string) (*oplog.Operation, error) {
	return r.run(ctx, "restore to operation "+expr, func(tx *Tx) error {
		target, err := r.ops.Resolve(expr)
		if err != nil {
			return err
		}
		view, err := r.ops.ReadView(target.View)
		if err != nil {
			return err
		}
		tx.SetView(view)
		return nil
	})
}

// OpDiff returns the JSON patch that turns the view of from into the
// view of to. They default to the parent of the current operation and
// the current operation.
func (r *Repo) OpDiff(ctx context.Context, from, to string) (jsondiff.Patch, error) {
	if from == "" {
		from = "@-"
	}
	if to == "" {
		to = "@"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	views := make([]*oplog.View, 2)
	for i, expr := range []string{from, to} {
		op, err := r.ops.Resolve(expr)
		if err != nil {
			return nil, err
		}
		if views[i], err = r.ops.ReadView(op.View); err != nil {
			return nil, err
		}
	}
	return oplog.Diff(views[0], views[1])
}

// MergeOperationHeads merges concurrent operations into one. Views are
// merged against the operations' common ancestor; references changed
// differently on several heads keep the first head's value and are
// returned. It returns nil when there is a single head.
func (r *Repo) MergeOperationHeads(ctx context.Context) (*oplog.Operation, []string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	start := r.clock()
	heads, err := r.ops.Heads()
	if err != nil {
		return nil, nil, err
	}
	if len(heads) < 2 {
		return nil, nil, nil
	}
	base, err := r.ops.CommonAncestor(heads...)
	if err != nil {
		return nil, nil, err
	}
	baseView, err := r.ops.ReadView(base.View)
	if err != nil {
		return nil, nil, err
	}

	var conflicts []string
	var merged *oplog.View
	for i, h := range heads {
		op, err := r.ops.ReadOperation(h)
		if err != nil {
			return nil, nil, err
		}
		view, err := r.ops.ReadView(op.View)
		if err != nil {
			return nil, nil, err
		}
		if i == 0 {
			merged = view
			continue
		}
		var c []string
		merged, c = oplog.MergeViews(baseView, merged, view)
		conflicts = append(conflicts, c...)
	}

	mut := rewrite.NewMutableRepo(r.graph, r.merger, merged, r.settings(), r.metrics, r.logger.Logger)
	if err := mut.EnforceHeads(); err != nil {
		return nil, nil, err
	}
	next := mut.View()
	next.Normalize()
	op, err := r.ops.Commit(heads, next, r.metadata("merge operation heads", start))
	if err != nil {
		return nil, nil, err
	}
	r.metrics.OperationsCommitted.Inc()
	r.logger.WithOperation(op.ID.Short(12)).Info("merged operation heads",
		zap.Int("heads", len(heads)),
		zap.Strings("conflicts", conflicts))
	if err := r.syncWorkingCopy(ctx, op); err != nil {
		return op, conflicts, err
	}
	return op, conflicts, nil
}

// Watch snapshots the working copy each time files stop changing for
// quiet, until ctx is done. onSnapshot receives the status after each
// snapshot.
func (r *Repo) Watch(ctx context.Context, quiet time.Duration, onSnapshot func(*Status)) error {
	mon, err := workingcopy.NewMonitor(r.root, r.logger.Logger)
	if err != nil {
		return fmt.Errorf("watching working copy: %w", err)
	}
	defer mon.Close()

	timer := time.NewTimer(quiet)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-mon.Changes():
			timer.Reset(quiet)
		case <-timer.C:
			st, err := r.Status(ctx, tree.All)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if onSnapshot != nil {
				onSnapshot(st)
			}
		}
	}
}
