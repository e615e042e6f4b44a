package ui

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wI2L/jsondiff"

	"strand/internal/diff"
	"strand/internal/object"
	"strand/internal/repo"
	"strand/internal/tree"
)

const timeFormat = "2006-01-02 15:04:05"

// CommitSummary renders the one-line form used by status and other
// commands:
//
//	<change> <commit> [<bookmarks> |] [(divergent)] [(conflict)] [(empty)] <subject>
func (u *UI) CommitSummary(info repo.CommitInfo) string {
	c := info.Commit
	parts := []string{
		u.changeID.Sprint(c.ChangeID.Short(ShortIDLength)),
		u.commitID.Sprint(c.ID.Short(ShortIDLength)),
	}
	if len(info.Bookmarks) > 0 {
		parts = append(parts, u.bookmark.Sprint(strings.Join(info.Bookmarks, " ")), "|")
	}
	parts = append(parts, u.labels(info)...)
	parts = append(parts, u.subject(c))
	return strings.Join(parts, " ")
}

func (u *UI) labels(info repo.CommitInfo) []string {
	var out []string
	if info.Divergent {
		out = append(out, u.removed.Sprint("(divergent)"))
	}
	if info.Commit.Conflicted {
		out = append(out, u.removed.Sprint("(conflict)"))
	}
	if info.Empty {
		out = append(out, u.added.Sprint("(empty)"))
	}
	return out
}

func (u *UI) subject(c *object.Commit) string {
	if s := c.Subject(); s != "" {
		return s
	}
	return u.label.Sprint("(no description set)")
}

// Status prints a status report.
func (u *UI) Status(st *repo.Status) {
	switch {
	case st.Clean:
		u.Printf("The working copy is clean\n")
	case len(st.Changes) > 0:
		u.Printf("Working copy changes:\n")
		for _, ch := range st.Changes {
			u.Printf("%s %s\n", u.changeLetter(ch.Kind()), ch.Path)
		}
	}
	if len(st.Conflicts) > 0 {
		u.Printf("There are unresolved conflicts at these paths:\n")
		for _, c := range st.Conflicts {
			u.Printf("%s    %s\n", c.Path, ConflictDescription(c))
		}
	}
	u.Printf("Working copy : %s\n", u.CommitSummary(st.WorkingCopy))
	for _, p := range st.Parents {
		u.Printf("Parent commit: %s\n", u.CommitSummary(p))
	}
	if len(st.RootCauses) > 0 {
		first := st.RootCauses[0].Commit.ChangeID.Short(HintIDLength)
		u.Printf("To resolve the conflicts, start by updating to the first one:\n")
		u.Printf("  %s\n", u.hint.Sprintf("strand new %s", first))
		u.Printf("Then edit the conflict markers in the file directly.\n")
		u.Printf("Once the conflicts are resolved, you may want to inspect the result with `strand diff`.\n")
		u.Printf("Then run `strand squash` to move the resolution into the conflicted commit.\n")
	}
}

// ConflictDescription names the shape of a conflict, such as
// "2-sided conflict" or "2-sided conflict including 1 deletion".
func ConflictDescription(c tree.Conflict) string {
	s := fmt.Sprintf("%d-sided conflict", c.Sides())
	switch n := c.Deletions(); {
	case n == 1:
		s += " including 1 deletion"
	case n > 1:
		s += fmt.Sprintf(" including %d deletions", n)
	}
	if c.HasTree() {
		s += " including a directory"
	}
	return s
}

func (u *UI) changeLetter(k tree.ChangeKind) string {
	switch k {
	case tree.Added:
		return u.added.Sprint(k.Letter())
	case tree.Removed:
		return u.removed.Sprint(k.Letter())
	default:
		return u.modified.Sprint(k.Letter())
	}
}

// Log prints commits as a two-line-per-commit list. The working copy of
// workspace is marked with @.
func (u *UI) Log(commits []repo.CommitInfo, workspace string) {
	for _, info := range commits {
		c := info.Commit
		marker := "○"
		switch {
		case info.IsWorkingCopy(workspace):
			marker = "@"
		case c.Conflicted:
			marker = "×"
		}
		if c.IsRoot() {
			u.Printf("%s  %s %s %s\n", marker,
				u.changeID.Sprint(c.ChangeID.Short(ShortIDLength)),
				u.label.Sprint("root()"),
				u.commitID.Sprint(c.ID.Short(ShortIDLength)))
			continue
		}

		head := []string{u.changeID.Sprint(c.ChangeID.Short(ShortIDLength))}
		if c.Author.Email != "" {
			head = append(head, c.Author.Email)
		}
		head = append(head, c.Committer.Timestamp.Local().Format(timeFormat))
		if len(info.Bookmarks) > 0 {
			head = append(head, u.bookmark.Sprint(strings.Join(info.Bookmarks, " ")))
		}
		for _, ws := range info.WorkingCopies {
			head = append(head, u.label.Sprint(ws+"@"))
		}
		head = append(head, u.commitID.Sprint(c.ID.Short(ShortIDLength)))
		if info.Divergent {
			head = append(head, u.removed.Sprint("divergent"))
		}
		if c.Conflicted {
			head = append(head, u.removed.Sprint("conflict"))
		}
		u.Printf("%s  %s\n", marker, strings.Join(head, " "))

		var body []string
		if info.Empty {
			body = append(body, u.added.Sprint("(empty)"))
		}
		body = append(body, u.subject(c))
		u.Printf("│  %s\n", strings.Join(body, " "))
	}
}

// OpLog prints operations, most recent first.
func (u *UI) OpLog(ops []repo.OpEntry) {
	for _, e := range ops {
		op := e.Operation
		marker := "○"
		if e.Current {
			marker = "@"
		}
		who := op.Metadata.Username
		if op.Metadata.Hostname != "" {
			who += "@" + op.Metadata.Hostname
		}
		u.Printf("%s  %s %s %s\n", marker,
			u.commitID.Sprint(op.ID.Short(HintIDLength)),
			who,
			op.Metadata.End.Local().Format(timeFormat))
		u.Printf("│  %s\n", op.Metadata.Description)
	}
}

// Diff prints file diffs in a git-like unified format. Added lines are
// green, removed lines red and headers cyan.
func (u *UI) Diff(files []repo.FileDiff) {
	for _, fd := range files {
		ch := fd.Change
		u.header.Fprintf(u.out, "%s %s\n", ch.Kind().Letter(), ch.Path)
		switch {
		case fd.Hunks == nil:
			u.Printf("    %s\n", describeChange(ch))
		case len(fd.Hunks.Hunks) == 0:
			u.Printf("    (no content changes)\n")
		default:
			u.hunks(fd.Hunks)
		}
	}
}

func (u *UI) hunks(r *diff.DiffResult) {
	for _, h := range r.Hunks {
		u.header.Fprintf(u.out, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldLines, h.NewStart, h.NewLines)
		for _, line := range h.Lines {
			text := line.Prefix() + line.Content
			switch line.Type {
			case diff.Addition:
				u.added.Fprintln(u.out, text)
			case diff.Deletion:
				u.removed.Fprintln(u.out, text)
			default:
				u.Printf("%s\n", text)
			}
		}
	}
}

func describeChange(ch tree.Change) string {
	before, beforeOK := ch.Before.AsResolved()
	after, afterOK := ch.After.AsResolved()
	switch {
	case !afterOK:
		return fmt.Sprintf("(%d-sided conflict)", ch.After.NumSides())
	case !beforeOK:
		return "(conflict resolved)"
	case before.Kind != after.Kind:
		return fmt.Sprintf("(%s became %s)", before.Kind, after.Kind)
	}
	return "(changed)"
}

// Bookmarks prints one line per bookmark.
func (u *UI) Bookmarks(bookmarks []repo.Bookmark) {
	for _, b := range bookmarks {
		u.Printf("%s: %s %s %s\n",
			u.bookmark.Sprint(b.Name),
			u.changeID.Sprint(b.Commit.ChangeID.Short(ShortIDLength)),
			u.commitID.Sprint(b.Commit.ID.Short(ShortIDLength)),
			u.subject(b.Commit))
	}
}

// ViewDiff prints a view patch, one operation per line.
func (u *UI) ViewDiff(patch jsondiff.Patch) {
	if len(patch) == 0 {
		u.Printf("No changes\n")
		return
	}
	for _, op := range patch {
		line := op.Type + " " + op.Path
		if op.Value != nil {
			if b, err := json.Marshal(op.Value); err == nil {
				line += " " + string(b)
			}
		}
		switch op.Type {
		case jsondiff.OperationAdd:
			u.added.Fprintln(u.out, line)
		case jsondiff.OperationRemove:
			u.removed.Fprintln(u.out, line)
		default:
			u.modified.Fprintln(u.out, line)
		}
	}
}

// WorkingCopyMoved reports where the working copy is after a command
// that changed it.
func (u *UI) WorkingCopyMoved(st *repo.Status) {
	u.Printf("Working copy now at: %s\n", u.CommitSummary(st.WorkingCopy))
	for _, p := range st.Parents {
		u.Printf("Parent commit      : %s\n", u.CommitSummary(p))
	}
	if len(st.Conflicts) > 0 {
		u.Printf("There are unresolved conflicts at these paths:\n")
		for _, c := range st.Conflicts {
			u.Printf("%s    %s\n", c.Path, ConflictDescription(c))
		}
	}
}

// Commit prints one commit with a leading verb, as in
// "Abandoned commit <summary>".
func (u *UI) Commit(verb string, c *object.Commit) {
	u.Printf("%s %s\n", verb, u.CommitSummary(repo.CommitInfo{Commit: c}))
}
