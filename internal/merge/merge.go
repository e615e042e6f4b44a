// Package merge implements the conflict algebra: a Merge holds N+1 positive
// terms (adds) and N negative terms (removes), read as
// adds[0] - removes[0] + adds[1] - ... + adds[N].
package merge

import (
	"fmt"
)

// Merge is immutable; every method returns a new value.
type Merge[T comparable] struct {
	removes []T
	adds    []T
}

// Resolved wraps a single value.
func Resolved[T comparable](v T) Merge[T] {
	return Merge[T]{adds: []T{v}}
}

// New builds a merge from its terms. It panics unless len(adds) is
// len(removes)+1.
func New[T comparable](removes, adds []T) Merge[T] {
	if len(adds) != len(removes)+1 {
		panic(fmt.Sprintf("merge: %d adds and %d removes", len(adds), len(removes)))
	}
	return Merge[T]{
		removes: append([]T(nil), removes...),
		adds:    append([]T(nil), adds...),
	}
}

// ThreeWay is the common base/left/right case.
func ThreeWay[T comparable](base, left, right T) Merge[T] {
	return Merge[T]{removes: []T{base}, adds: []T{left, right}}
}

func (m Merge[T]) Adds() []T    { return append([]T(nil), m.adds...) }
func (m Merge[T]) Removes() []T { return append([]T(nil), m.removes...) }

// NumSides is the number of positive terms.
func (m Merge[T]) NumSides() int { return len(m.adds) }

func (m Merge[T]) IsResolved() bool { return len(m.removes) == 0 }

// AsResolved returns the single value of a resolved merge.
func (m Merge[T]) AsResolved() (T, bool) {
	if !m.IsResolved() {
		var zero T
		return zero, false
	}
	return m.adds[0], true
}

// First returns adds[0].
func (m Merge[T]) First() T { return m.adds[0] }

// Values returns every term: adds first, then removes.
func (m Merge[T]) Values() []T {
	out := make([]T, 0, len(m.adds)+len(m.removes))
	out = append(out, m.adds...)
	return append(out, m.removes...)
}

func (m Merge[T]) Equal(other Merge[T]) bool {
	return equalSlices(m.adds, other.adds) && equalSlices(m.removes, other.removes)
}

// Simplify drops every add that cancels against an equal remove. The
// remaining terms keep their relative order. Terms cancel in pairs, so the
// result still has one more add than removes.
func (m Merge[T]) Simplify() Merge[T] {
	usedRemove := make([]bool, len(m.removes))
	var adds []T
	for _, add := range m.adds {
		cancelled := false
		for i, rm := range m.removes {
			if !usedRemove[i] && rm == add {
				usedRemove[i] = true
				cancelled = true
				break
			}
		}
		if !cancelled {
			adds = append(adds, add)
		}
	}
	var removes []T
	for i, rm := range m.removes {
		if !usedRemove[i] {
			removes = append(removes, rm)
		}
	}
	return Merge[T]{removes: removes, adds: adds}
}

// Resolve attempts a trivial merge. It succeeds when, after cancelling
// equal terms, exactly one value remains with a positive count.
func (m Merge[T]) Resolve() (T, bool) {
	var zero T
	if len(m.removes) == 0 {
		return m.adds[0], true
	}
	if len(m.removes) == 1 {
		base, left, right := m.removes[0], m.adds[0], m.adds[1]
		switch {
		case left == right:
			return left, true
		case left == base:
			return right, true
		case right == base:
			return left, true
		}
		return zero, false
	}

	counts := make(map[T]int)
	var order []T
	for _, add := range m.adds {
		if _, ok := counts[add]; !ok {
			order = append(order, add)
		}
		counts[add]++
	}
	for _, rm := range m.removes {
		if _, ok := counts[rm]; !ok {
			order = append(order, rm)
		}
		counts[rm]--
	}

	var nonZero []T
	for _, v := range order {
		if counts[v] != 0 {
			nonZero = append(nonZero, v)
		}
	}
	switch len(nonZero) {
	case 0:
		// Everything cancelled out; only possible with malformed input.
		return zero, false
	case 1:
		if counts[nonZero[0]] == 1 {
			return nonZero[0], true
		}
	case 2:
		// One side changed a value and every other side agrees on the
		// change; e.g. A+B-A with B counted once.
		a, b := nonZero[0], nonZero[1]
		if counts[a]+counts[b] == 1 {
			if counts[a] > 0 {
				return a, true
			}
			return b, true
		}
	}
	return zero, false
}

// Map applies f to every term.
func Map[T, U comparable](m Merge[T], f func(T) U) Merge[U] {
	out := Merge[U]{
		removes: make([]U, len(m.removes)),
		adds:    make([]U, len(m.adds)),
	}
	for i, v := range m.removes {
		out.removes[i] = f(v)
	}
	for i, v := range m.adds {
		out.adds[i] = f(v)
	}
	return out
}

// MapErr is Map for fallible functions.
func MapErr[T, U comparable](m Merge[T], f func(T) (U, error)) (Merge[U], error) {
	out := Merge[U]{
		removes: make([]U, len(m.removes)),
		adds:    make([]U, len(m.adds)),
	}
	for i, v := range m.removes {
		u, err := f(v)
		if err != nil {
			return Merge[U]{}, err
		}
		out.removes[i] = u
	}
	for i, v := range m.adds {
		u, err := f(v)
		if err != nil {
			return Merge[U]{}, err
		}
		out.adds[i] = u
	}
	return out, nil
}

// Nested is a merge whose terms are themselves merges. It is a plain slice
// pair because Merge values are not comparable.
type Nested[T comparable] struct {
	Removes []Merge[T]
	Adds    []Merge[T]
}

// Flatten composes nested merges into one. An add term contributes its own
// adds and removes as they are; a remove term contributes them swapped.
// Terms are interleaved so that each outer position stays contiguous:
// the first inner add of an outer add lands where the outer add was.
func Flatten[T comparable](n Nested[T]) Merge[T] {
	if len(n.Adds) != len(n.Removes)+1 {
		panic(fmt.Sprintf("merge: %d nested adds and %d nested removes", len(n.Adds), len(n.Removes)))
	}
	var out Merge[T]
	appendPositive := func(m Merge[T]) {
		out.adds = append(out.adds, m.adds...)
		out.removes = append(out.removes, m.removes...)
	}
	appendNegative := func(m Merge[T]) {
		// -(a0 - r0 + a1) = r0 - a0 - a1 ... expressed with one extra remove
		// per add and one extra add per remove.
		out.removes = append(out.removes, m.adds...)
		out.adds = append(out.adds, m.removes...)
	}
	appendPositive(n.Adds[0])
	for i, rm := range n.Removes {
		appendNegative(rm)
		appendPositive(n.Adds[i+1])
	}
	return out
}

func equalSlices[T comparable](a, b []T) bool {
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
