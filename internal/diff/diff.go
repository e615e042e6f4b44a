// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
	"strings"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// DiffResult contains the complete diff information
type DiffResult struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
	}
}

// Lines returns the full edit script from old to new. Line numbers are
// 1-based; a deleted line has no NewNum and an added line no OldNum.
func Lines(oldContent, newContent []byte) []Line {
	oldLines := SplitLines(oldContent)
	newLines := SplitLines(newContent)
	lcs := buildLCSMatrix(oldLines, newLines)

	var script []Line
	i, j := 0, 0
	for i < len(oldLines) || j < len(newLines) {
		switch {
		case i < len(oldLines) && j < len(newLines) && bytes.Equal(oldLines[i], newLines[j]):
			script = append(script, Line{Type: Context, Content: trimEOL(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case j < len(newLines) && (i == len(oldLines) || lcs[i][j+1] > lcs[i+1][j]):
			script = append(script, Line{Type: Addition, Content: trimEOL(newLines[j]), NewNum: j + 1})
			j++
		default:
			script = append(script, Line{Type: Deletion, Content: trimEOL(oldLines[i]), OldNum: i + 1})
			i++
		}
	}
	return script
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) (*DiffResult, error) {
	script := Lines(oldContent, newContent)
	result := &DiffResult{Hunks: e.groupHunks(script)}

	for _, l := range script {
		switch l.Type {
		case Addition:
			result.Stats.Additions++
		case Deletion:
			result.Stats.Deletions++
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result, nil
}

// groupHunks keeps changed lines plus contextLines of context around them,
// merging hunks whose context would overlap.
func (e *Engine) groupHunks(script []Line) []Hunk {
	keep := make([]bool, len(script))
	for i, l := range script {
		if l.Type == Context {
			continue
		}
		for k := max(0, i-e.contextLines); k <= min(len(script)-1, i+e.contextLines); k++ {
			keep[k] = true
		}
	}

	var hunks []Hunk
	var cur *Hunk
	oldNum, newNum := 1, 1
	for i, l := range script {
		if keep[i] {
			if cur == nil {
				cur = &Hunk{OldStart: oldNum, NewStart: newNum}
			}
			cur.Lines = append(cur.Lines, l)
			if l.Type != Addition {
				cur.OldLines++
			}
			if l.Type != Deletion {
				cur.NewLines++
			}
		} else if cur != nil {
			hunks = append(hunks, *cur)
			cur = nil
		}
		if l.Type != Addition {
			oldNum++
		}
		if l.Type != Deletion {
			newNum++
		}
	}
	if cur != nil {
		hunks = append(hunks, *cur)
	}

	// Unified diff convention: an empty side starts at the line before.
	for i := range hunks {
		if hunks[i].OldLines == 0 {
			hunks[i].OldStart--
		}
		if hunks[i].NewLines == 0 {
			hunks[i].NewStart--
		}
	}
	return hunks
}

// Format returns a string representation of the diff
func (r *DiffResult) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			buf.WriteString(line.Prefix())
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// Prefix is the one-character marker used in unified output.
func (l Line) Prefix() string {
	switch l.Type {
	case Addition:
		return "+"
	case Deletion:
		return "-"
	default:
		return " "
	}
}

func trimEOL(line []byte) string {
	return strings.TrimSuffix(string(line), "\n")
}
