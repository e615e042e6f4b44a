package oplog

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/wI2L/jsondiff"

	"strand/internal/content"
)

// DefaultWorkspace is the workspace created by init.
const DefaultWorkspace = "default"

// View is the repository state recorded by one operation: which commits are
// visible and where every workspace and bookmark points.
type View struct {
	Heads         []content.Digest          `json:"heads"`
	WorkingCopies map[string]content.Digest `json:"working_copies"`
	Bookmarks     map[string]content.Digest `json:"bookmarks"`
}

func NewView() *View {
	return &View{
		WorkingCopies: make(map[string]content.Digest),
		Bookmarks:     make(map[string]content.Digest),
	}
}

func (v *View) Clone() *View {
	out := NewView()
	out.Heads = append([]content.Digest(nil), v.Heads...)
	for k, id := range v.WorkingCopies {
		out.WorkingCopies[k] = id
	}
	for k, id := range v.Bookmarks {
		out.Bookmarks[k] = id
	}
	return out
}

// Normalize sorts and deduplicates heads so equal views encode equally.
func (v *View) Normalize() {
	if v.WorkingCopies == nil {
		v.WorkingCopies = make(map[string]content.Digest)
	}
	if v.Bookmarks == nil {
		v.Bookmarks = make(map[string]content.Digest)
	}
	sort.Slice(v.Heads, func(i, j int) bool { return v.Heads[i].Compare(v.Heads[j]) < 0 })
	out := v.Heads[:0]
	for i, id := range v.Heads {
		if i > 0 && id == v.Heads[i-1] {
			continue
		}
		out = append(out, id)
	}
	v.Heads = out
}

func (v *View) HasHead(id content.Digest) bool {
	for _, h := range v.Heads {
		if h == id {
			return true
		}
	}
	return false
}

// BookmarksAt lists the bookmarks pointing at id, sorted.
func (v *View) BookmarksAt(id content.Digest) []string {
	var out []string
	for name, target := range v.Bookmarks {
		if target == id {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (v *View) encode() ([]byte, error) {
	c := v.Clone()
	c.Normalize()
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding view: %w", err)
	}
	return data, nil
}

// Diff describes how to turn from into to as JSON patch operations.
func Diff(from, to *View) (jsondiff.Patch, error) {
	a, err := from.encode()
	if err != nil {
		return nil, err
	}
	b, err := to.encode()
	if err != nil {
		return nil, err
	}
	patch, err := jsondiff.CompareJSON(a, b)
	if err != nil {
		return nil, fmt.Errorf("comparing views: %w", err)
	}
	return patch, nil
}

// MergeViews merges left and right relative to base. A head that base had
// and either side dropped stays dropped; other heads are unioned. Refs take
// whichever side changed them. Refs both sides changed differently keep
// left's value and are returned by name.
func MergeViews(base, left, right *View) (*View, []string) {
	out := NewView()

	dropped := make(map[content.Digest]bool)
	for _, h := range base.Heads {
		if !left.HasHead(h) || !right.HasHead(h) {
			dropped[h] = true
		}
	}
	for _, h := range append(append([]content.Digest{}, left.Heads...), right.Heads...) {
		if !dropped[h] {
			out.Heads = append(out.Heads, h)
		}
	}

	var conflicts []string
	mergeRefs := func(kind string, dst, b, l, r map[string]content.Digest) {
		names := make(map[string]struct{})
		for _, m := range []map[string]content.Digest{b, l, r} {
			for name := range m {
				names[name] = struct{}{}
			}
		}
		for name := range names {
			bv, bok := b[name]
			lv, lok := l[name]
			rv, rok := r[name]
			switch {
			case lok == rok && lv == rv:
				if lok {
					dst[name] = lv
				}
			case lok == bok && lv == bv:
				if rok {
					dst[name] = rv
				}
			case rok == bok && rv == bv:
				if lok {
					dst[name] = lv
				}
			default:
				conflicts = append(conflicts, kind+" "+name)
				if lok {
					dst[name] = lv
				} else if rok {
					dst[name] = rv
				}
			}
		}
	}
	mergeRefs("working copy", out.WorkingCopies, base.WorkingCopies, left.WorkingCopies, right.WorkingCopies)
	mergeRefs("bookmark", out.Bookmarks, base.Bookmarks, left.Bookmarks, right.Bookmarks)

	out.Normalize()
	sort.Strings(conflicts)
	return out, conflicts
}
