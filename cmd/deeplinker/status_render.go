package main

import (
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"deeplinker/internal/api"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusStyles = map[statusKind]struct{ label, color string }{
	statusInfo:  {"INFO", "\x1b[34m"},
	statusOK:    {"OK", "\x1b[32m"},
	statusWarn:  {"WARN", "\x1b[33m"},
	statusError: {"ERROR", "\x1b[31m"},
}

const ansiReset = "\x1b[0m"

var titleCaser = cases.Title(language.Und)

// humanLabel turns identifiers like "no-op" or "bottom_right" into "No Op".
func humanLabel(value string) string {
	value = strings.NewReplacer("_", " ", "-", " ").Replace(strings.TrimSpace(value))
	return titleCaser.String(value)
}

// statusReport accumulates the sectioned output of `deeplinker status`.
type statusReport struct {
	colorize bool
	lines    []string
}

func (r *statusReport) section(title string) {
	if len(r.lines) > 0 {
		r.lines = append(r.lines, "")
	}
	header := "== " + strings.TrimSpace(title) + " =="
	r.lines = append(r.lines, r.paint(statusInfo, header), r.paint(statusInfo, strings.Repeat("-", len(header))))
}

func (r *statusReport) add(label string, kind statusKind, detail string) {
	r.lines = append(r.lines, r.paint(kind, statusLine(label, kind, detail)))
}

func (r *statusReport) paint(kind statusKind, s string) string {
	if !r.colorize {
		return s
	}
	return statusStyles[kind].color + s + ansiReset
}

func statusLine(label string, kind statusKind, detail string) string {
	badge := "[" + statusStyles[kind].label + "]"
	if detail != "" {
		badge += " " + detail
	}
	return fmt.Sprintf("  %-20s %s", label+":", badge)
}

func statusLines(status *api.DaemonStatus, colorize bool) []string {
	r := &statusReport{colorize: colorize}

	r.section("Daemon")
	if status.Running {
		r.add("Daemon", statusOK, fmt.Sprintf("running (pid %d)", status.PID))
	} else {
		r.add("Daemon", statusWarn, "not serving")
	}
	r.add("Database", statusInfo, status.DatabasePath)
	r.add("Storage", statusInfo, fmt.Sprintf("%s (%s free)", status.StorageDir, formatBytes(status.FreeBytes)))
	r.add("Preference", statusInfo, strings.Join(status.Preference, " > "))

	r.section("Pipeline")
	p := status.Pipeline
	pipeKind := statusOK
	saturated := p.QueueDepth > 0 && p.Pending+p.Reserved >= p.QueueDepth
	if !p.Started || saturated {
		pipeKind = statusWarn
	}
	r.add("Workers", pipeKind, fmt.Sprintf("%d running of %d", p.Running, p.Workers))
	r.add("Queue", pipeKind, fmt.Sprintf("%d pending, %d reserved, depth %d", p.Pending, p.Reserved, p.QueueDepth))

	r.section("Registry")
	reg := status.Registry
	r.add("Media", statusInfo, fmt.Sprintf("%d (%s)", reg.Media, countsSummary(reg.ByKind)))
	r.add("Artifacts", statusInfo, fmt.Sprintf("%d (%s)", reg.Artifacts, countsSummary(reg.ByStatus)))
	r.add("Settings", statusInfo, fmt.Sprintf("%d overrides", reg.Settings))

	r.section("Dependencies")
	for _, dep := range status.Dependencies {
		kind, detail := dependencyState(dep)
		r.add(dep.Name, kind, detail)
	}
	return r.lines
}

func dependencyState(dep api.DependencyStatus) (statusKind, string) {
	if dep.Available {
		if dep.Version != "" {
			return statusOK, "Ready (" + dep.Version + ")"
		}
		return statusOK, "Ready"
	}
	detail := strings.TrimSpace(dep.Detail)
	if detail == "" {
		detail = "not available"
	}
	if dep.Optional {
		return statusWarn, detail
	}
	return statusError, detail
}

func countsSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s %d", humanLabel(k), counts[k]))
	}
	return strings.Join(parts, ", ")
}

func isTerminal(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func formatBytes(n uint64) string {
	return humanize.IBytes(n)
}
