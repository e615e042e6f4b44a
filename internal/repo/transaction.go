package repo

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/object"
	"strand/internal/oplog"
	"strand/internal/revset"
	"strand/internal/rewrite"
)

// Tx is one attempt at a transaction: a view being edited plus revision
// lookup against it.
type Tx struct {
	*rewrite.MutableRepo
	repo *Repo
	base *oplog.Operation
}

func (tx *Tx) resolver() *revset.Resolver {
	return revset.NewResolver(tx.Graph(), tx.View(), tx.repo.workspace)
}

// Resolve evaluates an expression that must name exactly one commit.
func (tx *Tx) Resolve(expr string) (*object.Commit, error) {
	return tx.resolver().Single(expr)
}

// ResolveAll evaluates several expressions, each naming one commit unless
// it carries the "all:" modifier.
func (tx *Tx) ResolveAll(exprs []string) ([]*object.Commit, error) {
	return tx.resolver().Multiple(exprs)
}

// WorkingCopy returns the commit checked out in the repo's workspace.
func (tx *Tx) WorkingCopy() (*object.Commit, error) {
	id, ok := tx.View().WorkingCopies[tx.repo.workspace]
	if !ok {
		return nil, errors.NotFound(fmt.Sprintf("workspace %q has no working-copy commit", tx.repo.workspace))
	}
	return tx.Graph().Commit(id)
}

// Base is the operation the transaction started from.
func (tx *Tx) Base() *oplog.Operation { return tx.base }

// checkout points the workspace at id. The previous working-copy commit is
// abandoned if nothing would be lost by doing so.
func (tx *Tx) checkout(id content.Digest) error {
	old, err := tx.WorkingCopy()
	if err != nil {
		return err
	}
	if old.ID == id {
		return nil
	}
	tx.SetWorkingCopy(tx.repo.workspace, id)
	discard, err := tx.discardable(old)
	if err != nil {
		return err
	}
	if discard {
		return tx.Abandon(old)
	}
	return nil
}

// discardable reports whether c is an undescribed empty commit that
// nothing else refers to.
func (tx *Tx) discardable(c *object.Commit) (bool, error) {
	if c.IsRoot() || c.Description != "" {
		return false, nil
	}
	view := tx.View()
	if len(view.BookmarksAt(c.ID)) > 0 {
		return false, nil
	}
	for ws, id := range view.WorkingCopies {
		if id == c.ID && ws != tx.repo.workspace {
			return false, nil
		}
	}
	visible, err := tx.Visible()
	if err != nil {
		return false, err
	}
	for _, child := range tx.Graph().Children(c.ID) {
		if visible[child] {
			return false, nil
		}
	}
	return tx.Graph().IsEmpty(tx.Merger(), c)
}

// transact runs fn against the current view and records the result as a
// new operation. When another process records an operation first, fn is
// run again on top of it, up to transaction.max_retries times. After that
// the work is kept as a second operation head and a CONCURRENT_MODIFICATION
// error tells the user to merge the heads.
func (r *Repo) transact(ctx context.Context, description string, fn func(tx *Tx) error) (*oplog.Operation, error) {
	start := r.clock()
	maxRetries := r.cfg.Transaction.MaxRetries
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		op, raced, err := r.attempt(start, description, fn, attempt == maxRetries)
		if err == nil {
			if err := r.syncWorkingCopy(ctx, op); err != nil {
				return op, err
			}
			return op, nil
		}
		if !raced || attempt == maxRetries {
			return nil, err
		}
		r.metrics.TransactionRetries.Inc()
		r.logger.Debug("retrying transaction",
			zap.String("description", description),
			zap.Int("attempt", attempt+1))
	}
}

func (r *Repo) attempt(start time.Time, description string, fn func(tx *Tx) error, keep bool) (*oplog.Operation, bool, error) {
	base, err := r.ops.Head()
	if err != nil {
		return nil, false, err
	}
	view, err := r.ops.ReadView(base.View)
	if err != nil {
		return nil, false, err
	}
	tx := &Tx{
		MutableRepo: rewrite.NewMutableRepo(r.graph, r.merger, view, r.settings(), r.metrics, r.logger.Logger),
		repo:        r,
		base:        base,
	}
	if err := fn(tx); err != nil {
		return nil, false, err
	}
	rebased, err := tx.Finish()
	if err != nil {
		return nil, false, err
	}
	next := tx.View()
	next.Normalize()
	patch, err := oplog.Diff(view, next)
	if err != nil {
		return nil, false, err
	}
	if len(patch) == 0 {
		return base, false, nil
	}

	meta := r.metadata(description, start)
	op, err := r.ops.Commit([]content.Digest{base.ID}, next, meta)
	if err == nil {
		r.metrics.OperationsCommitted.Inc()
		r.logger.WithOperation(op.ID.Short(12)).Debug("transaction committed",
			zap.String("description", description),
			zap.Int("rebased", rebased))
		return op, false, nil
	}
	if !errors.HasType(err, errors.ErrorTypeConcurrentModification) {
		return nil, false, err
	}
	if !keep {
		return nil, true, err
	}

	viewID, err := r.ops.WriteView(next)
	if err != nil {
		return nil, true, err
	}
	op = &oplog.Operation{Parents: []content.Digest{base.ID}, View: viewID, Metadata: meta}
	if err := r.ops.WriteOperation(op); err != nil {
		return nil, true, err
	}
	if err := r.ops.AddHead(op.ID); err != nil {
		return nil, true, err
	}
	r.logger.Warn("kept operation as a divergent head", zap.String("op", op.ID.Short(12)))
	return nil, true, errors.ConcurrentModification(
		fmt.Sprintf("gave up after %d concurrent modifications; operation %s was recorded as a separate head",
			r.cfg.Transaction.MaxRetries+1, op.ID.Short(12)),
	).WithHint(oplog.MergeHeadsHint)
}
