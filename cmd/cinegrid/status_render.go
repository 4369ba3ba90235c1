package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"cinegrid/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 20
	statusIndent     = "  "
)

var badgeCaser = cases.Title(language.English)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := fmt.Sprintf("[%s]", statusKindLabel(kind))
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	return paint(base, statusKindColor(kind), colorize)
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	default:
		return ansiBlue
	}
}

func paint(s, color string, colorize bool) string {
	if !colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

// shouldColorize reports whether w is an interactive terminal.
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

// slotKind classifies a slot for colouring.
func slotKind(s api.Slot) statusKind {
	switch {
	case s.Error != "" || s.PreloadFailed:
		return statusError
	case s.Phase == "cornerstone":
		return statusOK
	case s.Phase == "mjpeg-loading" || s.Phase == "transitioning":
		return statusWarn
	default:
		return statusInfo
	}
}

func renderGrid(g api.Grid, colorize bool) string {
	headers := []string{"Slot", "Instance", "State", "Frame", "Load", "Preload", "Playing", "Error"}
	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft, alignLeft}
	rows := make([][]string, 0, g.Dim*g.Dim)
	for _, s := range g.Visible() {
		rows = append(rows, slotRow(s, colorize))
	}
	return renderTable(headers, rows, aligns)
}

func slotRow(s api.Slot, colorize bool) []string {
	if s.InstanceID == "" {
		return []string{strconv.Itoa(s.ID), "-", badgeCaser.String(s.Badge), "", "", "", "", ""}
	}
	frame := fmt.Sprintf("%d/%d", s.CurrentFrame+1, s.Frames)
	if s.Phase == "cornerstone" || s.Phase == "transitioning" {
		frame = fmt.Sprintf("%d/%d", s.HighFidelityFrame+1, s.Frames)
	}
	preload := fmt.Sprintf("%d%%", s.PreloadProgress)
	switch {
	case s.PreloadFailed:
		preload = "failed"
	case s.Preloaded:
		preload = "ready"
	}
	return []string{
		strconv.Itoa(s.ID),
		s.InstanceID,
		paint(badgeCaser.String(s.Badge), statusKindColor(slotKind(s)), colorize),
		frame,
		fmt.Sprintf("%d%%", s.LoadProgress),
		preload,
		yesNo(s.Playing),
		truncate(s.Error, 48),
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
