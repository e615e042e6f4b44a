package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"strand/internal/errors"
)

// Color modes accepted by ui.color and --color.
const (
	ModeAuto   = "auto"
	ModeAlways = "always"
	ModeNever  = "never"
)

// ShortIDLength is how many characters of an id are shown in listings.
// Commands suggested in hints use HintIDLength so they stay unambiguous.
const (
	ShortIDLength = 8
	HintIDLength  = 12
)

// UI writes command output. Colors follow the mode given to New.
type UI struct {
	out io.Writer
	err io.Writer

	changeID *color.Color
	commitID *color.Color
	bookmark *color.Color
	label    *color.Color
	added    *color.Color
	removed  *color.Color
	modified *color.Color
	header   *color.Color
	hint     *color.Color
	failure  *color.Color
}

// ValidMode reports whether mode is one of the color modes.
func ValidMode(mode string) bool {
	switch mode {
	case ModeAuto, ModeAlways, ModeNever:
		return true
	}
	return false
}

// New returns a UI writing to out and err. In auto mode colors are used
// only when stdout is a terminal.
func New(out, err io.Writer, mode string) *UI {
	u := &UI{
		out:      out,
		err:      err,
		changeID: color.New(color.FgMagenta, color.Bold),
		commitID: color.New(color.FgBlue, color.Bold),
		bookmark: color.New(color.FgMagenta),
		label:    color.New(color.FgYellow),
		added:    color.New(color.FgGreen),
		removed:  color.New(color.FgRed),
		modified: color.New(color.FgCyan),
		header:   color.New(color.FgCyan),
		hint:     color.New(color.FgCyan),
		failure:  color.New(color.FgRed, color.Bold),
	}
	for _, c := range u.colors() {
		switch mode {
		case ModeAlways:
			c.EnableColor()
		case ModeNever:
			c.DisableColor()
		}
	}
	return u
}

func (u *UI) colors() []*color.Color {
	return []*color.Color{
		u.changeID, u.commitID, u.bookmark, u.label, u.added,
		u.removed, u.modified, u.header, u.hint, u.failure,
	}
}

// Out is the writer for regular output.
func (u *UI) Out() io.Writer { return u.out }

func (u *UI) Printf(format string, args ...any) {
	fmt.Fprintf(u.out, format, args...)
}

// Warnf writes a message to the error stream.
func (u *UI) Warnf(format string, args ...any) {
	fmt.Fprintf(u.err, format, args...)
}

// Error prints err and its hint, if any, to the error stream.
func (u *UI) Error(err error) {
	fmt.Fprintf(u.err, "%s %s\n", u.failure.Sprint("Error:"), err)
	if hint := errors.HintOf(err); hint != "" {
		for i, line := range strings.Split(hint, "\n") {
			if i == 0 {
				fmt.Fprintf(u.err, "%s %s\n", u.hint.Sprint("Hint:"), line)
				continue
			}
			fmt.Fprintf(u.err, "      %s\n", line)
		}
	}
}
