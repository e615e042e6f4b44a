package revset

import (
	"fmt"
	"sort"
	"strings"

	"strand/internal/content"
	"strand/internal/errors"
	"strand/internal/graph"
	"strand/internal/object"
	"strand/internal/oplog"
)

// AllModifier lets an expression that must name one commit name several.
const AllModifier = "all:"

// Set is an unordered set of commit ids.
type Set map[content.Digest]bool

func (s Set) union(o Set) Set {
	out := make(Set, len(s)+len(o))
	for id := range s {
		out[id] = true
	}
	for id := range o {
		out[id] = true
	}
	return out
}

func (s Set) intersect(o Set) Set {
	out := make(Set)
	for id := range s {
		if o[id] {
			out[id] = true
		}
	}
	return out
}

func (s Set) minus(o Set) Set {
	out := make(Set)
	for id := range s {
		if !o[id] {
			out[id] = true
		}
	}
	return out
}

func (s Set) ids() []content.Digest {
	out := make([]content.Digest, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	return out
}

// Resolver evaluates expressions against one view of the repository.
type Resolver struct {
	graph     *graph.Graph
	view      *oplog.View
	workspace string

	visible Set
}

func NewResolver(g *graph.Graph, view *oplog.View, workspace string) *Resolver {
	return &Resolver{graph: g, view: view, workspace: workspace}
}

// Visible returns the view heads and all their ancestors.
func (r *Resolver) Visible() (Set, error) {
	if r.visible != nil {
		return r.visible, nil
	}
	set, err := r.graph.AncestorSet(r.view.Heads...)
	if err != nil {
		return nil, fmt.Errorf("computing visible commits: %w", err)
	}
	set[object.RootCommitID] = true
	r.visible = set
	return set, nil
}

// Evaluate returns the matching commits, children before parents.
func (r *Resolver) Evaluate(expr string) ([]*object.Commit, error) {
	expr = strings.TrimPrefix(strings.TrimSpace(expr), AllModifier)
	n, err := Parse(expr)
	if err != nil {
		return nil, err
	}
	set, err := r.eval(n)
	if err != nil {
		return nil, err
	}
	return r.ordered(set)
}

// Single resolves an expression that must name exactly one commit.
func (r *Resolver) Single(expr string) (*object.Commit, error) {
	commits, err := r.Evaluate(expr)
	if err != nil {
		return nil, err
	}
	switch len(commits) {
	case 0:
		return nil, errors.NotFound(fmt.Sprintf("Revset %q didn't resolve to any revisions", expr))
	case 1:
		return commits[0], nil
	}
	candidates := make([]string, len(commits))
	for i, c := range commits {
		candidates[i] = c.ChangeID.Short(12) + " " + c.ID.Short(12)
	}
	return nil, errors.Ambiguous(fmt.Sprintf("Revset %q resolved to more than one revision", expr), candidates).
		WithHint(fmt.Sprintf("Prefix the expression with %q to allow any number of revisions", AllModifier))
}

// Multiple resolves expressions for commands that take several
// revisions. Each expression must name one commit unless it carries the
// "all:" modifier. The result keeps first-seen order without duplicates.
func (r *Resolver) Multiple(exprs []string) ([]*object.Commit, error) {
	var out []*object.Commit
	seen := make(map[content.Digest]bool)
	for _, expr := range exprs {
		var commits []*object.Commit
		if strings.HasPrefix(strings.TrimSpace(expr), AllModifier) {
			var err error
			if commits, err = r.Evaluate(expr); err != nil {
				return nil, err
			}
		} else {
			c, err := r.Single(expr)
			if err != nil {
				return nil, err
			}
			commits = []*object.Commit{c}
		}
		for _, c := range commits {
			if !seen[c.ID] {
				seen[c.ID] = true
				out = append(out, c)
			}
		}
	}
	return out, nil
}

func (r *Resolver) ordered(set Set) ([]*object.Commit, error) {
	type item struct {
		commit *object.Commit
		gen    int
	}
	items := make([]item, 0, len(set))
	for id := range set {
		c, err := r.graph.Commit(id)
		if err != nil {
			return nil, err
		}
		gen, err := r.graph.Generation(id)
		if err != nil {
			return nil, err
		}
		items = append(items, item{commit: c, gen: gen})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].gen != items[j].gen {
			return items[i].gen > items[j].gen
		}
		return items[i].commit.ID.Compare(items[j].commit.ID) < 0
	})
	out := make([]*object.Commit, len(items))
	for i, it := range items {
		out[i] = it.commit
	}
	return out, nil
}

func (r *Resolver) eval(n Node) (Set, error) {
	switch n := n.(type) {
	case symbolNode:
		return r.symbol(n.name)
	case stringNode:
		return r.symbol(n.value)
	case callNode:
		return r.call(n)
	case postfixNode:
		x, err := r.eval(n.x)
		if err != nil {
			return nil, err
		}
		if n.op == "-" {
			return r.parents(x)
		}
		return r.children(x)
	case notNode:
		x, err := r.eval(n.x)
		if err != nil {
			return nil, err
		}
		visible, err := r.Visible()
		if err != nil {
			return nil, err
		}
		return visible.minus(x), nil
	case rangeNode:
		return r.rangeOf(n)
	case binaryNode:
		left, err := r.eval(n.left)
		if err != nil {
			return nil, err
		}
		right, err := r.eval(n.right)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "|":
			return left.union(right), nil
		case "&":
			return left.intersect(right), nil
		default:
			return left.minus(right), nil
		}
	}
	return nil, errors.Internal(fmt.Sprintf("unhandled revset node %T", n), nil)
}

func (r *Resolver) rangeOf(n rangeNode) (Set, error) {
	var from, to Set
	var err error
	if n.from != nil {
		if from, err = r.eval(n.from); err != nil {
			return nil, err
		}
	}
	if n.to != nil {
		if to, err = r.eval(n.to); err != nil {
			return nil, err
		}
	}
	switch {
	case from == nil && to == nil:
		return r.Visible()
	case from == nil:
		return r.ancestors(to)
	case to == nil:
		return r.descendants(from)
	}
	desc, err := r.descendants(from)
	if err != nil {
		return nil, err
	}
	anc, err := r.ancestors(to)
	if err != nil {
		return nil, err
	}
	return desc.intersect(anc), nil
}

func (r *Resolver) symbol(name string) (Set, error) {
	if ws, ok := strings.CutSuffix(name, "@"); ok {
		if ws == "" {
			ws = r.workspace
		}
		id, ok := r.view.WorkingCopies[ws]
		if !ok {
			return nil, errors.NotFound(fmt.Sprintf("Workspace %q doesn't have a working-copy commit", ws))
		}
		return Set{id: true}, nil
	}
	if id, ok := r.view.Bookmarks[name]; ok {
		return Set{id: true}, nil
	}
	if object.IsHexPrefix(name) {
		matches := r.graph.ResolveCommitPrefix(name)
		switch len(matches) {
		case 0:
		case 1:
			return Set{matches[0]: true}, nil
		default:
			candidates := make([]string, len(matches))
			for i, id := range matches {
				candidates[i] = id.Short(12)
			}
			return nil, errors.Ambiguous(fmt.Sprintf("Commit ID prefix %q is ambiguous", name), candidates)
		}
	}
	if object.IsReverseHexPrefix(name) {
		return r.changeSymbol(name)
	}
	return nil, errors.NotFound(fmt.Sprintf("Revision %q doesn't exist", name))
}

// changeSymbol resolves a change id prefix among visible commits. A
// divergent change yields all of its visible commits.
func (r *Resolver) changeSymbol(prefix string) (Set, error) {
	visible, err := r.Visible()
	if err != nil {
		return nil, err
	}
	found := make(map[object.ChangeID]Set)
	for change, ids := range r.graph.ResolveChangePrefix(prefix) {
		for _, id := range ids {
			if !visible[id] {
				continue
			}
			if found[change] == nil {
				found[change] = make(Set)
			}
			found[change][id] = true
		}
	}
	switch len(found) {
	case 0:
		return nil, errors.NotFound(fmt.Sprintf("Revision %q doesn't exist", prefix))
	case 1:
		for _, set := range found {
			return set, nil
		}
	}
	candidates := make([]string, 0, len(found))
	for change := range found {
		candidates = append(candidates, change.Short(12))
	}
	sort.Strings(candidates)
	return nil, errors.Ambiguous(fmt.Sprintf("Change ID prefix %q is ambiguous", prefix), candidates)
}

func (r *Resolver) call(n callNode) (Set, error) {
	arity := map[string]int{
		"root": 0, "all": 0, "none": 0, "visible_heads": 0, "conflicts": 0, "bookmarks": 0,
		"heads": 1, "roots": 1, "parents": 1, "children": 1, "ancestors": 1, "descendants": 1,
		"description": 1,
	}
	want, ok := arity[n.name]
	if !ok {
		return nil, errors.ValidationError(fmt.Sprintf("Revset function %q doesn't exist", n.name), nil)
	}
	if len(n.args) != want {
		return nil, errors.ValidationError(
			fmt.Sprintf("Revset function %q expects %d arguments, got %d", n.name, want, len(n.args)), nil)
	}

	switch n.name {
	case "root":
		return Set{object.RootCommitID: true}, nil
	case "all":
		return r.Visible()
	case "none":
		return Set{}, nil
	case "visible_heads":
		out := make(Set)
		for _, h := range r.view.Heads {
			out[h] = true
		}
		return out, nil
	case "conflicts":
		return r.filter(func(c *object.Commit) bool { return c.Conflicted })
	case "bookmarks":
		out := make(Set)
		for _, id := range r.view.Bookmarks {
			out[id] = true
		}
		return out, nil
	case "description":
		s, ok := n.args[0].(stringNode)
		if !ok {
			sym, isSym := n.args[0].(symbolNode)
			if !isSym {
				return nil, errors.ValidationError("description() expects a string pattern", nil)
			}
			s = stringNode{value: sym.name}
		}
		return r.filter(func(c *object.Commit) bool { return strings.Contains(c.Description, s.value) })
	}

	x, err := r.eval(n.args[0])
	if err != nil {
		return nil, err
	}
	switch n.name {
	case "parents":
		return r.parents(x)
	case "children":
		return r.children(x)
	case "ancestors":
		return r.ancestors(x)
	case "descendants":
		return r.descendants(x)
	case "heads":
		parents, err := r.parents(x)
		if err != nil {
			return nil, err
		}
		anc, err := r.ancestors(parents)
		if err != nil {
			return nil, err
		}
		return x.minus(anc), nil
	default: // roots
		children, err := r.children(x)
		if err != nil {
			return nil, err
		}
		desc, err := r.descendants(children)
		if err != nil {
			return nil, err
		}
		return x.minus(desc), nil
	}
}

func (r *Resolver) filter(pred func(*object.Commit) bool) (Set, error) {
	visible, err := r.Visible()
	if err != nil {
		return nil, err
	}
	out := make(Set)
	for id := range visible {
		c, err := r.graph.Commit(id)
		if err != nil {
			return nil, err
		}
		if pred(c) {
			out[id] = true
		}
	}
	return out, nil
}

func (r *Resolver) parents(x Set) (Set, error) {
	out := make(Set)
	for id := range x {
		c, err := r.graph.Commit(id)
		if err != nil {
			return nil, err
		}
		for _, p := range c.Parents {
			out[p] = true
		}
	}
	return out, nil
}

func (r *Resolver) children(x Set) (Set, error) {
	visible, err := r.Visible()
	if err != nil {
		return nil, err
	}
	out := make(Set)
	for id := range x {
		for _, child := range r.graph.Children(id) {
			if visible[child] {
				out[child] = true
			}
		}
	}
	return out, nil
}

func (r *Resolver) ancestors(x Set) (Set, error) {
	set, err := r.graph.AncestorSet(x.ids()...)
	if err != nil {
		return nil, err
	}
	return Set(set), nil
}

func (r *Resolver) descendants(x Set) (Set, error) {
	visible, err := r.Visible()
	if err != nil {
		return nil, err
	}
	out := make(Set)
	queue := x.ids()
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if out[id] {
			continue
		}
		out[id] = true
		for _, child := range r.graph.Children(id) {
			if visible[child] && !out[child] {
				queue = append(queue, child)
			}
		}
	}
	return out, nil
}
