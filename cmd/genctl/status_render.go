package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"genstudio/internal/domain"
	"genstudio/internal/observer"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

// shouldColorize reports whether w is a terminal that accepts ANSI colors.
func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func statusColor(s domain.JobStatus) string {
	switch s {
	case domain.JobStatusCompleted:
		return ansiGreen
	case domain.JobStatusFailed:
		return ansiRed
	case domain.JobStatusProcessing, domain.JobStatusUploading:
		return ansiBlue
	default:
		return ""
	}
}

func colorize(text, color string, enabled bool) string {
	if !enabled || color == "" {
		return text
	}
	return color + text + ansiReset
}

// renderEvent formats one observer event as a single line.
func renderEvent(ev observer.Event, color bool) string {
	ts := ev.At.Format("15:04:05")
	switch ev.Type {
	case observer.EventStatus:
		return fmt.Sprintf("%s  %s", ts, colorize(string(ev.Snapshot.Status), statusColor(ev.Snapshot.Status), color))
	case observer.EventPaused:
		return fmt.Sprintf("%s  %s", ts, colorize(ev.Message, ansiYellow, color))
	case observer.EventResumed:
		return fmt.Sprintf("%s  %s", ts, ev.Message)
	case observer.EventCompleted:
		line := fmt.Sprintf("%s  %s", ts, colorize(ev.Message, ansiGreen, color))
		if ev.Snapshot.StagedAssetID != "" {
			line += "  staged=" + ev.Snapshot.StagedAssetID
		}
		if ev.Snapshot.OutputURL != "" {
			line += "  output=" + ev.Snapshot.OutputURL
		}
		return line
	case observer.EventFailed:
		return fmt.Sprintf("%s  %s", ts, colorize("failed: "+ev.Message, ansiRed, color))
	case observer.EventTimedOut:
		return fmt.Sprintf("%s  %s", ts, colorize(ev.Message, ansiYellow, color))
	default:
		return fmt.Sprintf("%s  %s %s", ts, ev.Type, ev.Message)
	}
}
