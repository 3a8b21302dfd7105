package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"brickflow/internal/dag"
)

// reporter renders human-readable results. Colors are dropped when w is
// not a terminal.
type reporter struct {
	w io.Writer

	head    lipgloss.Style
	dim     lipgloss.Style
	id      lipgloss.Style
	outcome map[dag.Outcome]lipgloss.Style
}

func newReporter(w io.Writer) *reporter {
	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Width(11)
	return &reporter{
		w:    w,
		head: r.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF")),
		dim:  r.NewStyle().Foreground(lipgloss.Color("#888888")),
		id:   r.NewStyle().Bold(true),
		outcome: map[dag.Outcome]lipgloss.Style{
			dag.OutcomeSkipped:    label.Foreground(lipgloss.Color("#888888")),
			dag.OutcomeCacheHit:   label.Foreground(lipgloss.Color("#5B8DEF")),
			dag.OutcomeComputed:   label.Foreground(lipgloss.Color("#3FB950")),
			dag.OutcomeFailed:     label.Bold(true).Foreground(lipgloss.Color("#FF6B6B")),
			dag.OutcomeNotReached: label.Foreground(lipgloss.Color("#D29922")),
		},
	}
}

func (r *reporter) line(parts ...string) {
	fmt.Fprintln(r.w, strings.TrimRight(strings.Join(parts, " "), " "))
}

func (r *reporter) renderRun(res *dag.RunResult, runID string) {
	r.line(r.head.Render("run"), r.dim.Render(runID))
	for _, n := range res.Results() {
		r.line(" ", r.outcome[n.Outcome].Render(string(n.Outcome)), r.id.Render(n.ID), r.dim.Render(nodeDetail(n)))
	}
	counts := res.Counts()
	var summary []string
	for _, o := range dag.Outcomes {
		if c := counts[o]; c > 0 {
			summary = append(summary, fmt.Sprintf("%d %s", c, strings.ToLower(string(o))))
		}
	}
	r.line(r.head.Render("summary"), strings.Join(summary, ", "))
}

func nodeDetail(n dag.NodeResult) string {
	var parts []string
	switch n.Outcome {
	case dag.OutcomeComputed, dag.OutcomeCacheHit:
		if n.Reason != "" {
			parts = append(parts, string(n.Reason))
		}
		if n.Slot != "" {
			parts = append(parts, "("+n.Slot+")")
		}
		if n.CacheKey != "" {
			parts = append(parts, "key "+shortKey(string(n.CacheKey)))
		}
	case dag.OutcomeFailed:
		parts = append(parts, n.Error)
	case dag.OutcomeNotReached:
		parts = append(parts, "after "+n.Cause)
	}
	return strings.Join(parts, " ")
}

func shortKey(k string) string {
	if len(k) <= 24 {
		return k
	}
	return k[:24] + "…"
}

func (r *reporter) renderPlan(entries []dag.PlanEntry) {
	r.line(r.head.Render("plan"))
	stale := 0
	for _, e := range entries {
		verdict, detail := "fresh", ""
		switch {
		case e.Err != nil:
			verdict, detail = "error", e.Err.Error()
		case e.Stale:
			stale++
			verdict, detail = "stale", string(e.Reason)
			if e.Slot != "" {
				detail += " (" + e.Slot + ")"
			}
			if e.Cached {
				detail += " cached"
			}
		}
		style := r.outcome[dag.OutcomeSkipped]
		switch verdict {
		case "stale":
			style = r.outcome[dag.OutcomeComputed]
		case "error":
			style = r.outcome[dag.OutcomeFailed]
		}
		r.line(" ", style.Render(verdict), r.id.Render(e.ID), r.dim.Render(detail))
	}
	r.line(r.head.Render("summary"), fmt.Sprintf("%d of %d stale", stale, len(entries)))
}

func (r *reporter) renderGraph(g *dag.Graph) {
	r.line(r.head.Render("graph"), r.dim.Render(string(g.Hash())))
	for _, id := range g.TopoOrder() {
		depth, _ := g.Depth(id)
		deps := g.Dependencies(id)
		detail := ""
		if len(deps) > 0 {
			detail = "after " + strings.Join(deps, ", ")
		}
		r.line(" ", r.dim.Render(fmt.Sprintf("%3d", depth)), r.id.Render(id), r.dim.Render(detail))
	}
	r.line(r.head.Render("edges"))
	for _, e := range g.Edges() {
		r.line(" ", e.From, "->", e.To)
	}
}
