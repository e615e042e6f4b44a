package object

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"strand/internal/content"
	"strand/internal/merge"
)

type Kind uint8

const (
	KindAbsent Kind = iota
	KindFile
	KindTree
	KindConflict
)

var kindNames = map[Kind]string{
	KindAbsent:   "absent",
	KindFile:     "file",
	KindTree:     "tree",
	KindConflict: "conflict",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown entry kind %q", text)
}

// Value is one term of a path's content: absent, a file or a subtree.
// It is comparable, so it can be the element type of a merge.
type Value struct {
	Kind       Kind           `json:"kind"`
	ID         content.Digest `json:"id"`
	Executable bool           `json:"executable,omitempty"`
}

// Absent is the zero Value.
var Absent Value

func FileValue(id content.Digest, executable bool) Value {
	return Value{Kind: KindFile, ID: id, Executable: executable}
}

func TreeValue(id content.Digest) Value {
	return Value{Kind: KindTree, ID: id}
}

func (v Value) IsAbsent() bool { return v.Kind == KindAbsent }
func (v Value) IsFile() bool   { return v.Kind == KindFile }
func (v Value) IsTree() bool   { return v.Kind == KindTree }

// Conflict records an unresolved merge at one path.
type Conflict struct {
	Removes []Value `json:"removes"`
	Adds    []Value `json:"adds"`
}

func (c *Conflict) Merge() merge.Merge[Value] {
	return merge.New(c.Removes, c.Adds)
}

func ConflictFromMerge(m merge.Merge[Value]) *Conflict {
	return &Conflict{Removes: m.Removes(), Adds: m.Adds()}
}

// Entry is a named tree entry. Conflict is set exactly when Kind is
// KindConflict.
type Entry struct {
	Name       string         `json:"name"`
	Kind       Kind           `json:"kind"`
	ID         content.Digest `json:"id"`
	Executable bool           `json:"executable,omitempty"`
	Conflict   *Conflict      `json:"conflict,omitempty"`
}

// Value returns the entry's plain value. It is Absent for conflicts.
func (e Entry) Value() Value {
	if e.Kind == KindConflict {
		return Absent
	}
	return Value{Kind: e.Kind, ID: e.ID, Executable: e.Executable}
}

// Merge returns the entry as a merge: resolved for plain entries, the
// recorded terms for conflicts.
func (e Entry) Merge() merge.Merge[Value] {
	if e.Kind == KindConflict {
		return e.Conflict.Merge()
	}
	return merge.Resolved(e.Value())
}

func (e Entry) IsConflict() bool { return e.Kind == KindConflict }

// NewEntry builds the entry for a (simplified) merge. ok is false when the
// merge resolves to absent. A conflict with a single positive term and no
// negative terms is never produced.
func NewEntry(name string, m merge.Merge[Value]) (Entry, bool) {
	m = m.Simplify()
	if v, resolved := m.AsResolved(); resolved {
		if v.IsAbsent() {
			return Entry{}, false
		}
		return Entry{Name: name, Kind: v.Kind, ID: v.ID, Executable: v.Executable}, true
	}
	return Entry{Name: name, Kind: KindConflict, Conflict: ConflictFromMerge(m)}, true
}

// Tree is one directory level. Entries are sorted by name.
type Tree struct {
	ID         content.Digest `json:"-"`
	Entries    []Entry        `json:"entries"`
	Conflicted bool           `json:"conflicted,omitempty"`
}

// Entry looks up a direct child by name.
func (t *Tree) Entry(name string) (Entry, bool) {
	i := sort.Search(len(t.Entries), func(i int) bool { return t.Entries[i].Name >= name })
	if i < len(t.Entries) && t.Entries[i].Name == name {
		return t.Entries[i], true
	}
	return Entry{}, false
}

func (t *Tree) IsEmpty() bool { return len(t.Entries) == 0 }

// Signature records who made a commit and when.
type Signature struct {
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSignature normalizes the timestamp so that it survives encoding
// unchanged.
func NewSignature(name, email string, at time.Time) Signature {
	return Signature{Name: name, Email: email, Timestamp: at.UTC().Truncate(time.Millisecond)}
}

type Commit struct {
	ID           content.Digest   `json:"-"`
	ChangeID     ChangeID         `json:"change_id"`
	Parents      []content.Digest `json:"parents"`
	Predecessors []content.Digest `json:"predecessors,omitempty"`
	Tree         content.Digest   `json:"tree"`
	Description  string           `json:"description"`
	Author       Signature        `json:"author"`
	Committer    Signature        `json:"committer"`
	Conflicted   bool             `json:"conflicted"`
}

// RootCommitID is the all-zero digest of the synthetic root commit.
var RootCommitID content.Digest

func (c *Commit) IsRoot() bool { return c.ID == RootCommitID && len(c.Parents) == 0 }

// Subject is the first line of the description.
func (c *Commit) Subject() string {
	subject, _, _ := strings.Cut(c.Description, "\n")
	return subject
}

func (c *Commit) Clone() *Commit {
	out := *c
	out.Parents = append([]content.Digest(nil), c.Parents...)
	out.Predecessors = append([]content.Digest(nil), c.Predecessors...)
	return &out
}
