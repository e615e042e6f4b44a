// Package oplog records every change to the repository's view as an
// append-only chain of operations.
package oplog

import (
	"container/heap"
	"encoding/json"
	"fmt"
	"iter"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/storage"
)

const (
	headsPrefix = "op_heads"
	headsKey    = "heads"

	// MergeHeadsHint is shown when several operations are current at once.
	MergeHeadsHint = "strand op merge-heads"
)

// Log stores operations and views in a content store and keeps the
// current operation heads in badger.
type Log struct {
	store  content.Store
	heads  *storage.BadgerStore[*headsRecord]
	logger *zap.Logger
}

func NewLog(store content.Store, db *badger.DB, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		store:  store,
		heads:  storage.NewBadgerStore[*headsRecord](db, headsPrefix),
		logger: logger,
	}
}

// Init records the first operation. It fails if the log already has one.
func (l *Log) Init(view *View, meta Metadata) (*Operation, error) {
	heads, err := l.Heads()
	if err != nil {
		return nil, err
	}
	if len(heads) > 0 {
		return nil, errors.ValidationError("operation log is already initialized", nil)
	}
	return l.Commit(nil, view, meta)
}

// Heads returns the current operation heads, sorted.
func (l *Log) Heads() ([]content.Digest, error) {
	var rec headsRecord
	if err := l.heads.Get(headsKey, &rec); err != nil {
		if errors.HasType(err, errors.ErrorTypeNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading operation heads: %w", err)
	}
	return rec.Heads, nil
}

// Head returns the single current operation.
func (l *Log) Head() (*Operation, error) {
	heads, err := l.Heads()
	if err != nil {
		return nil, err
	}
	switch len(heads) {
	case 0:
		return nil, errors.NotFound("operation log is empty")
	case 1:
		return l.ReadOperation(heads[0])
	default:
		short := make([]string, len(heads))
		for i, h := range heads {
			short[i] = h.Short(12)
		}
		return nil, errors.ConcurrentModification(
			fmt.Sprintf("the repository was modified concurrently; operations %s are all current", strings.Join(short, ", ")),
		).WithHint(MergeHeadsHint)
	}
}

// Commit writes view and an operation on top of parents, then swaps the
// heads. It fails with a concurrent-modification error unless the heads
// are exactly parents, so nothing is ever silently merged.
func (l *Log) Commit(parents []content.Digest, view *View, meta Metadata) (*Operation, error) {
	viewID, err := l.WriteView(view)
	if err != nil {
		return nil, err
	}
	op := &Operation{Parents: append([]content.Digest{}, parents...), View: viewID, Metadata: meta}
	if err := l.WriteOperation(op); err != nil {
		return nil, err
	}

	rec := &headsRecord{}
	err = l.heads.Modify(headsKey, rec, func(bool) error {
		if !sameSet(rec.Heads, parents) {
			return errors.ConcurrentModification("the operation log moved since this transaction started")
		}
		rec.Name = headsKey
		rec.Heads = []content.Digest{op.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.logger.Debug("committed operation",
		zap.String("op", op.ID.Short(12)),
		zap.String("description", meta.Description))
	return op, nil
}

// WriteOperation stores op and sets its ID. The heads are not touched.
func (l *Log) WriteOperation(op *Operation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("encoding operation: %w", err)
	}
	op.ID, err = l.store.Write(data)
	if err != nil {
		return fmt.Errorf("writing operation: %w", err)
	}
	return nil
}

// AddHead records id as an additional head without checking the current
// ones. Work that lost too many races is kept this way until the heads
// are merged.
func (l *Log) AddHead(id content.Digest) error {
	rec := &headsRecord{}
	return l.heads.Modify(headsKey, rec, func(bool) error {
		rec.Name = headsKey
		for _, h := range rec.Heads {
			if h == id {
				return nil
			}
		}
		rec.Heads = append(rec.Heads, id)
		sort.Slice(rec.Heads, func(i, j int) bool { return rec.Heads[i].Compare(rec.Heads[j]) < 0 })
		return nil
	})
}

func sameSet(a, b []content.Digest) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[content.Digest]int, len(a))
	for _, id := range a {
		seen[id]++
	}
	for _, id := range b {
		seen[id]--
		if seen[id] < 0 {
			return false
		}
	}
	return true
}

func (l *Log) WriteView(v *View) (content.Digest, error) {
	data, err := v.encode()
	if err != nil {
		return content.Digest{}, err
	}
	id, err := l.store.Write(data)
	if err != nil {
		return content.Digest{}, fmt.Errorf("writing view: %w", err)
	}
	return id, nil
}

func (l *Log) ReadView(id content.Digest) (*View, error) {
	data, err := l.read("view", id)
	if err != nil {
		return nil, err
	}
	v := NewView()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, errors.Corrupt(fmt.Sprintf("decoding view %s", id.Short(12)), err)
	}
	v.Normalize()
	return v, nil
}

func (l *Log) ReadOperation(id content.Digest) (*Operation, error) {
	data, err := l.read("operation", id)
	if err != nil {
		return nil, err
	}
	var op Operation
	if err := json.Unmarshal(data, &op); err != nil {
		return nil, errors.Corrupt(fmt.Sprintf("decoding operation %s", id.Short(12)), err)
	}
	op.ID = id
	return &op, nil
}

func (l *Log) read(kind string, id content.Digest) ([]byte, error) {
	data, err := l.store.Read(id)
	if err != nil {
		if errors.HasType(err, errors.ErrorTypeCorrupt) {
			return nil, err
		}
		return nil, errors.Corrupt(fmt.Sprintf("%s %s is missing from the store", kind, id.Short(12)), err)
	}
	return data, nil
}

type opHeap []*Operation

func (h opHeap) Len() int { return len(h) }
func (h opHeap) Less(i, j int) bool {
	if !h[i].Metadata.End.Equal(h[j].Metadata.End) {
		return h[i].Metadata.End.After(h[j].Metadata.End)
	}
	return h[i].ID.Compare(h[j].ID) < 0
}
func (h opHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x any)   { *h = append(*h, x.(*Operation)) }
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Ancestors yields the given operations and everything before them, most
// recent first.
func (l *Log) Ancestors(ids ...content.Digest) iter.Seq2[*Operation, error] {
	return func(yield func(*Operation, error) bool) {
		seen := make(map[content.Digest]bool)
		h := &opHeap{}
		push := func(id content.Digest) error {
			if seen[id] {
				return nil
			}
			seen[id] = true
			op, err := l.ReadOperation(id)
			if err != nil {
				return err
			}
			heap.Push(h, op)
			return nil
		}
		for _, id := range ids {
			if err := push(id); err != nil {
				yield(nil, err)
				return
			}
		}
		for h.Len() > 0 {
			op := heap.Pop(h).(*Operation)
			if !yield(op, nil) {
				return
			}
			for _, p := range op.Parents {
				if err := push(p); err != nil {
					yield(nil, err)
					return
				}
			}
		}
	}
}

// Resolve finds an operation by hex prefix among the ancestors of the
// current heads. "@" is the current operation and each trailing "-" steps
// to the first parent.
func (l *Log) Resolve(expr string) (*Operation, error) {
	base := strings.TrimRight(expr, "-")
	steps := len(expr) - len(base)

	var op *Operation
	if base == "@" {
		var err error
		if op, err = l.Head(); err != nil {
			return nil, err
		}
	} else {
		if base == "" {
			return nil, errors.ValidationError("empty operation id", nil)
		}
		heads, err := l.Heads()
		if err != nil {
			return nil, err
		}
		var matches []*Operation
		for candidate, err := range l.Ancestors(heads...) {
			if err != nil {
				return nil, err
			}
			if strings.HasPrefix(candidate.ID.String(), base) {
				matches = append(matches, candidate)
			}
		}
		switch len(matches) {
		case 0:
			return nil, errors.NotFound(fmt.Sprintf("no operation id matches %q", base))
		case 1:
			op = matches[0]
		default:
			names := make([]string, len(matches))
			for i, m := range matches {
				names[i] = m.ID.Short(12)
			}
			return nil, errors.Ambiguous(fmt.Sprintf("operation id prefix %q is ambiguous", base), names)
		}
	}

	for i := 0; i < steps; i++ {
		if op.IsRoot() {
			return nil, errors.NotFound(fmt.Sprintf("operation %s has no parent", op.ID.Short(12)))
		}
		var err error
		if op, err = l.ReadOperation(op.Parents[0]); err != nil {
			return nil, err
		}
	}
	return op, nil
}

// CommonAncestor returns the most recent operation that is an ancestor of
// every id.
func (l *Log) CommonAncestor(ids ...content.Digest) (*Operation, error) {
	if len(ids) == 0 {
		return nil, errors.Internal("common ancestor of no operations", nil)
	}
	counts := make(map[content.Digest]int)
	for _, id := range ids {
		for op, err := range l.Ancestors(id) {
			if err != nil {
				return nil, err
			}
			counts[op.ID]++
		}
	}
	for op, err := range l.Ancestors(ids...) {
		if err != nil {
			return nil, err
		}
		if counts[op.ID] == len(ids) {
			return op, nil
		}
	}
	return nil, errors.NotFound("operations share no history")
}
