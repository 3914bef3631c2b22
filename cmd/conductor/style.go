package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/azargarov/conductor"
	"github.com/azargarov/conductor/internal/sim"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F45E6E"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6EF4A1"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6EC4F4"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 1)
)

func workerLine(id string, k conductor.Kind, processed, mismatched int64) string {
	return fmt.Sprintf("worker %s [%s] processed %d, %d of the other kind", id, k, processed, mismatched)
}

func reportLine(r sim.Report) string {
	line := fmt.Sprintf("client %d: %d/%d back (A %d, B %d) in %s",
		r.ClientID, r.Received, r.Sent, r.ByKind[conductor.KindA], r.ByKind[conductor.KindB], r.Elapsed.Round(time.Millisecond))
	if r.Received == r.Sent && r.Unexpected == 0 {
		return successStyle.Render(line)
	}
	return errorStyle.Render(fmt.Sprintf("%s, %d unexpected", line, r.Unexpected))
}

func renderReports(reports []sim.Report) string {
	lines := make([]string, len(reports))
	for i, r := range reports {
		lines[i] = reportLine(r)
	}
	return strings.Join(lines, "\n")
}

func renderSummary(s sim.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("conductor simulation"))
	b.WriteString("\n\n")

	b.WriteString(renderReports(s.Clients))
	b.WriteString("\n\n")

	for _, w := range s.Workers {
		b.WriteString(infoStyle.Render(workerLine(w.ID, w.Kind, w.Processed, w.Mismatched)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	branches := make([]conductor.Branch, 0, len(s.Assignments))
	for br := range s.Assignments {
		branches = append(branches, br)
	}
	sort.Slice(branches, func(i, j int) bool { return branches[i] < branches[j] })
	for _, br := range branches {
		fmt.Fprintf(&b, "%-14s %d\n", br.String(), s.Assignments[br])
	}
	fmt.Fprintf(&b, "delivered %d, dropped %d, elapsed %s", s.Delivered, s.Dropped, s.Elapsed.Round(time.Millisecond))

	return boxStyle.Render(b.String())
}
