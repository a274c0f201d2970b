package cmd

import (
	"io"

	"github.com/fatih/color"

	"github.com/dj-oyu/class-monitor/internal/behavior"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	gray   = color.New(color.FgHiBlack)
)

// setColor turns colored CLI output off when disabled. fatih/color already
// disables itself when stdout is not a terminal.
func setColor(enabled bool) {
	if !enabled {
		color.NoColor = true
	}
}

func labelColor(label behavior.Label) *color.Color {
	switch label {
	case behavior.Normal:
		return green
	case behavior.Sleeping:
		return red
	default:
		return yellow
	}
}

func printLabel(w io.Writer, label behavior.Label) {
	labelColor(label).Fprintf(w, "%s", label)
}
