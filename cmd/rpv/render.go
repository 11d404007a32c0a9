package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/dustin/go-humanize"

	"github.com/daviddao/ratelprof_viewer/internal/grouptree"
	"github.com/daviddao/ratelprof_viewer/internal/timeline"
)

// --- Styles ---

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6C7086")).
				Background(lipgloss.Color("#313244")).
				Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#89B4FA"))

	gpuStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A6E3A1"))

	cpuStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAB387"))

	highlightStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F9E2AF")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F38BA8")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C7086"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))

	detailHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#CBA6F7"))

	detailSectionStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#89B4FA")).
				MarginTop(1)
)

// itemStyle colors a label with the item's hash color.
func itemStyle(it timeline.Item) lipgloss.Style {
	if it.Color == "" {
		return dimStyle
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(it.Color))
}

// --- View rendering ---

func (m uiModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder

	b.WriteString(m.renderTitleBar())
	b.WriteRune('\n')
	b.WriteString(m.renderTabBar())
	b.WriteRune('\n')
	b.WriteRune('\n')

	contentHeight := m.height - 5 // title + tabs + status + padding
	if m.showHelp {
		contentHeight -= 3
	}

	var content string
	switch {
	case m.activeView == viewEvents && m.width >= 120:
		// Wide terminals show the selected item next to the list.
		leftWidth := m.width/2 - 1
		rightWidth := m.width - leftWidth - 3 // 3 for separator
		left := m.renderEvents(contentHeight)
		right := m.renderDetail()
		content = renderSplitPane(left, right, leftWidth, rightWidth, contentHeight)
	case m.activeView == viewEvents:
		content = m.renderEvents(contentHeight)
	default:
		switch m.activeView {
		case viewDashboard:
			content = m.renderDashboard()
		case viewGroups:
			content = m.renderGroups()
		case viewDetail:
			content = m.renderDetail()
		}
		content = scrollContent(content, m.scrollPos, contentHeight)
	}

	// Truncate each line to terminal width so content doesn't wrap
	// on resize. Uses ANSI-aware width measurement.
	content = truncateLines(content, m.width)
	b.WriteString(content)

	// Pad to fill screen.
	rendered := strings.Count(b.String(), "\n")
	for rendered < m.height-2 {
		b.WriteRune('\n')
		rendered++
	}

	if m.showHelp {
		b.WriteString(m.help.View(keys))
	} else {
		b.WriteString(m.renderStatusBar())
	}
	return b.String()
}

// scrollContent applies a scroll offset and height limit to content.
func scrollContent(content string, scrollPos, height int) string {
	lines := strings.Split(content, "\n")
	if scrollPos >= len(lines) {
		scrollPos = max(0, len(lines)-1)
	}
	if scrollPos > 0 {
		lines = lines[scrollPos:]
	}
	if height >= 0 && len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

func (m uiModel) renderTitleBar() string {
	title := titleStyle.Render("ratelprof viewer")
	mdl := m.snap.Model
	stats := dimStyle.Render(fmt.Sprintf(
		"%s | %s events | %s groups",
		filepath.Base(m.snap.Path),
		humanize.Comma(int64(mdl.EventCount)),
		humanize.Comma(int64(len(mdl.Groups))),
	))
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(title)-lipgloss.Width(stats)-2))
	return title + gap + stats
}

func (m uiModel) renderTabBar() string {
	var tabs []string
	for i := viewID(0); i < viewCount; i++ {
		if i == m.activeView {
			tabs = append(tabs, tabActiveStyle.Render(i.String()))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(i.String()))
		}
	}
	if m.activeView == viewDetail {
		if it, ok := m.sess.selectedItem(m.snap.Model); ok {
			tabs = append(tabs, tabActiveStyle.Render("Item: "+it.ID))
		}
	}
	return strings.Join(tabs, " ")
}

func (m uiModel) renderStatusBar() string {
	left := " " + contextHelp(m.activeView)
	switch {
	case m.sess.gotoActive:
		left = " go to event id: " + m.sess.gotoBuf + "_  (enter: jump | esc: cancel)"
	case m.sess.notice != "":
		left = " " + m.sess.notice
	case m.lastErr != nil:
		left = " reload failed: " + m.lastErr.Error()
	}
	ago := time.Since(m.lastRefresh).Truncate(time.Second)
	right := fmt.Sprintf("loaded %s ago ", ago)
	if avail := m.width - lipgloss.Width(right); lipgloss.Width(left) > avail {
		left = ansi.Truncate(left, max(0, avail-1), "…")
	}
	gap := strings.Repeat(" ", max(0, m.width-lipgloss.Width(left)-lipgloss.Width(right)))
	return statusBarStyle.Render(left + gap + right)
}

// --- Dashboard view ---

func (m uiModel) renderDashboard() string {
	var b strings.Builder
	mdl := m.snap.Model
	lc := mdl.Lifecycle

	b.WriteString(headerStyle.Render("Capture"))
	b.WriteRune('\n')
	b.WriteString(fmt.Sprintf("  %s\n", m.snap.Path))
	b.WriteString(dimStyle.Render(fmt.Sprintf("  constructor %s | main %s | destructor %s",
		fmtNanos(lc.MainStart-lc.ConstructorStart),
		fmtNanos(lc.MainDuration()),
		fmtNanos(lc.DestructorStop-lc.MainStop))))
	b.WriteRune('\n')
	if mdl.EventCount > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  events span %s .. %s",
			fmtRelative(mdl.MinStart, lc.ConstructorStart),
			fmtRelative(mdl.MaxEnd, lc.ConstructorStart))))
		b.WriteRune('\n')
	}
	b.WriteRune('\n')

	b.WriteString(headerStyle.Render("Events"))
	b.WriteRune('\n')
	for _, k := range []timeline.ItemKind{timeline.KindCPU, timeline.KindKernel, timeline.KindBarrier, timeline.KindMemory} {
		n := m.snap.KindCounts[k]
		style := gpuStyle
		if k == timeline.KindCPU {
			style = cpuStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  %-8s %10s", k, humanize.Comma(int64(n)))))
		b.WriteRune('\n')
	}
	if m.snap.BytesCopied > 0 {
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s copied", humanize.IBytes(m.snap.BytesCopied))))
		b.WriteRune('\n')
	}
	b.WriteRune('\n')

	b.WriteString(headerStyle.Render("GPU Usage"))
	b.WriteRune('\n')
	if len(m.snap.BusiestQueues) == 0 {
		b.WriteString(dimStyle.Render("  (no GPU activity)"))
		b.WriteRune('\n')
	}
	for _, g := range m.snap.BusiestQueues {
		b.WriteString(fmt.Sprintf("  %-24s %s %6.2f%%\n",
			truncate(g.ID, 24), usageBar(g.Utilization, 20), g.Utilization))
	}
	b.WriteRune('\n')

	b.WriteString(headerStyle.Render("Top Labels"))
	b.WriteRune('\n')
	if len(m.snap.TopLabels) == 0 {
		b.WriteString(dimStyle.Render("  (no events)"))
		b.WriteRune('\n')
	}
	for _, st := range m.snap.TopLabels {
		b.WriteString(fmt.Sprintf("  %-40s %-7s x%-6d %s\n",
			truncate(st.Label, 40), st.Kind, st.Count, fmtNanos(st.Total)))
	}

	return b.String()
}

// usageBar draws pct (0-100) as a fixed-width bar.
func usageBar(pct float64, width int) string {
	filled := int(pct/100*float64(width) + 0.5)
	filled = max(0, min(filled, width))
	return gpuStyle.Render(strings.Repeat("█", filled)) + dimStyle.Render(strings.Repeat("░", width-filled))
}

// --- Groups view ---

func (m uiModel) renderGroups() string {
	var b strings.Builder
	mdl := m.snap.Model
	b.WriteString(headerStyle.Render("Group Tree"))
	b.WriteRune('\n')

	if len(mdl.Groups) == 0 {
		b.WriteString(dimStyle.Render("  (no groups)"))
		b.WriteRune('\n')
		return b.String()
	}

	for _, g := range sortedRoots(mdl.Groups) {
		writeGroup(&b, mdl, g)
	}
	return b.String()
}

// sortedRoots returns the forest with roots ordered by their sort value, the
// way a renderer stacks them. Subtrees stay in preorder.
func sortedRoots(groups []grouptree.Group) []grouptree.Group {
	var roots [][]grouptree.Group
	for _, g := range groups {
		if g.TreeLevel == 1 {
			roots = append(roots, nil)
		}
		if len(roots) > 0 {
			roots[len(roots)-1] = append(roots[len(roots)-1], g)
		}
	}
	// Insertion sort keeps equal values in first-seen order.
	for i := 1; i < len(roots); i++ {
		for j := i; j > 0 && roots[j][0].Value < roots[j-1][0].Value; j-- {
			roots[j], roots[j-1] = roots[j-1], roots[j]
		}
	}
	out := make([]grouptree.Group, 0, len(groups))
	for _, r := range roots {
		out = append(out, r...)
	}
	return out
}

func writeGroup(b *strings.Builder, mdl *timeline.Model, g grouptree.Group) {
	indent := strings.Repeat("  ", g.TreeLevel)
	style := cpuStyle
	if g.Kind.IsGPU() {
		style = gpuStyle
	}
	label := g.Label
	if g.TreeLevel == 1 {
		label = headerStyle.Render(label) + dimStyle.Render(fmt.Sprintf(" [%s]", g.KindName))
	} else {
		label = style.Render(label)
	}
	b.WriteString(indent)
	b.WriteString(label)
	if len(g.Children) == 0 {
		n := len(mdl.ItemsInGroup(g.ID))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s items, %s busy",
			humanize.Comma(int64(n)), fmtNanos(g.TotalDuration))))
	}
	b.WriteRune('\n')
}

// --- Events view ---

func (m uiModel) renderEvents(height int) string {
	var b strings.Builder
	mdl := m.snap.Model
	b.WriteString(headerStyle.Render("Timeline Items"))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d)", len(m.sess.rows))))
	b.WriteRune('\n')

	if len(m.sess.rows) == 0 {
		b.WriteString(dimStyle.Render("  (no events)"))
		b.WriteRune('\n')
		return b.String()
	}

	b.WriteString(dimStyle.Render(fmt.Sprintf("  %-14s %-8s %-28s %-16s %4s %12s %10s",
		"ID", "Kind", "Label", "Group", "Lane", "Start", "Length")))
	b.WriteRune('\n')

	// Keep the selection in the middle of the visible rows.
	visible := max(1, height-2)
	first := max(0, m.sess.selected-visible/2)
	last := min(len(m.sess.rows), first+visible)
	first = max(0, last-visible)

	ctor := float64(mdl.Lifecycle.ConstructorStart) / 1000
	for row := first; row < last; row++ {
		it := mdl.Items[m.sess.rows[row]]
		cursor := "  "
		if row == m.sess.selected {
			cursor = "> "
		}
		mark := " "
		if m.sess.isHighlighted(it.ID) {
			mark = highlightStyle.Render("*")
		}
		line := fmt.Sprintf("%-14s %-8s %s %-16s %4d %12s %10s",
			truncate(it.ID, 14), it.Kind,
			itemStyle(it).Render(padRight(truncate(it.Label, 28), 28)),
			truncate(it.GroupID, 16), it.SubgroupLane,
			fmtMicros(it.Start-ctor), fmtMicros(it.End-it.Start))
		if row == m.sess.selected {
			line = lipgloss.NewStyle().Bold(true).Render(line)
		}
		b.WriteString(cursor + mark + line)
		b.WriteRune('\n')
	}
	return b.String()
}

// --- Detail view ---

func (m uiModel) renderDetail() string {
	var b strings.Builder
	mdl := m.snap.Model
	it, ok := m.sess.selectedItem(mdl)
	if !ok {
		b.WriteString(dimStyle.Render("  (nothing selected)"))
		return b.String()
	}

	b.WriteString(detailHeaderStyle.Render(fmt.Sprintf("%s %s", it.Kind, it.ID)))
	b.WriteString("  ")
	b.WriteString(itemStyle(it).Render(it.Label))
	b.WriteRune('\n')

	ctor := mdl.Lifecycle.ConstructorStart
	field := func(name, value string) {
		b.WriteString(fmt.Sprintf("  %-22s %s\n", name+":", value))
	}

	if g, ok := mdl.Group(it.GroupID); ok {
		field("Group", g.Label)
	}
	field("Lane", fmt.Sprintf("%d", it.SubgroupLane))

	if ev := it.Event; ev != nil {
		field("Start", fmtRelative(ev.Start, ctor))
		field("End", fmtRelative(ev.End, ctor))
		field("Duration", fmtNanos(ev.EventDuration()))
		if ev.CorrelationID != 0 {
			field("Correlation ID", fmt.Sprintf("%d", ev.CorrelationID))
		}
		a := ev.Args
		switch it.Kind {
		case timeline.KindCPU:
			field("Process ID", fmt.Sprintf("%d", ev.PID))
			field("Thread ID", fmt.Sprintf("%d", ev.TID))
		case timeline.KindKernel, timeline.KindBarrier:
			field("Dispatch time", fmtRelative(a.DispatchTime, ctor))
			field("GPU node", fmt.Sprintf("%s (%d)", nodeOf(it), a.GPUID))
			queue := int64(1)
			if a.QueueID != nil {
				queue = *a.QueueID
			}
			field("Queue", fmt.Sprintf("%d", queue))
			if it.Kind == timeline.KindKernel {
				field("Grid size", fmtDims(a.GridSize))
				field("Workgroup size", fmtDims(a.WorkgroupSize))
				field("Private segment", humanize.IBytes(uint64(max(a.PrivateSegmentSize, 0))))
				field("Group segment", humanize.IBytes(uint64(max(a.GroupSegmentSize, 0))))
				field("Kernel object", fmt.Sprintf("0x%x", a.KernelObject))
				field("Kernarg address", fmt.Sprintf("0x%x", a.KernargAddress))
			} else {
				deps := make([]string, len(a.DepSignals))
				for i, s := range a.DepSignals {
					deps[i] = fmt.Sprintf("0x%x", s)
				}
				field("Dependency signals", orNone(strings.Join(deps, ", ")))
			}
			field("Completion signal", fmt.Sprintf("0x%x", ev.Signal))
		case timeline.KindMemory:
			if d := it.Detail; d != nil {
				field("Source", fmt.Sprintf("%s Node ID. %s (%d)", d.SourceKind, d.SourceNode, a.SrcAgent))
				field("Destination", fmt.Sprintf("%s Node ID. %s (%d)", d.DestinationKind, d.DestinationNode, a.DstAgent))
			}
			field("Size transferred", humanize.IBytes(a.Size))
			field("Engine", fmt.Sprintf("%d", a.EngineID))
		}
	}

	if d := it.Dispatch; d != nil {
		field("Dispatched event", fmt.Sprintf("%s (%d)", d.DispatchedEventName, d.EventID))
		field("Dispatch time", fmtRelative(d.DispatchTime, ctor))
	}

	b.WriteString(detailSectionStyle.Render("Correlated"))
	b.WriteRune('\n')
	if len(m.sess.highlight) == 0 {
		b.WriteString(dimStyle.Render("  (none)"))
		b.WriteRune('\n')
	}
	for _, idx := range m.sess.rows {
		c := mdl.Items[idx]
		if !m.sess.isHighlighted(c.ID) {
			continue
		}
		b.WriteString(fmt.Sprintf("  %s %s %s\n",
			highlightStyle.Render(c.ID), dimStyle.Render(string(c.Kind)), itemStyle(c).Render(c.Label)))
	}
	return b.String()
}

func nodeOf(it timeline.Item) string {
	if it.Detail == nil || it.Detail.Node == "" {
		return "N/A"
	}
	return it.Detail.Node
}

// --- Split-pane rendering ---

// renderSplitPane renders two content panes side by side with a vertical separator.
func renderSplitPane(left, right string, leftWidth, rightWidth, maxHeight int) string {
	leftLines := strings.Split(left, "\n")
	rightLines := strings.Split(right, "\n")

	maxLines := min(max(len(leftLines), len(rightLines)), maxHeight)
	for len(leftLines) < maxLines {
		leftLines = append(leftLines, "")
	}
	for len(rightLines) < maxLines {
		rightLines = append(rightLines, "")
	}

	sep := dimStyle.Render("│")
	var b strings.Builder
	for i := 0; i < maxLines; i++ {
		b.WriteString(padOrTruncate(leftLines[i], leftWidth))
		b.WriteString(" ")
		b.WriteString(sep)
		b.WriteString(" ")
		b.WriteString(ansi.Truncate(rightLines[i], rightWidth, ""))
		b.WriteRune('\n')
	}
	return b.String()
}

// padOrTruncate pads or truncates a styled line to the target visible width.
func padOrTruncate(styled string, width int) string {
	w := lipgloss.Width(styled)
	if w > width {
		return ansi.Truncate(styled, width, "")
	}
	return styled + strings.Repeat(" ", width-w)
}

// --- Helpers ---

// truncateLines truncates each line in content to at most width visible
// characters, preserving ANSI escape codes. This prevents terminal line
// wrapping when the window is resized narrower.
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if ansi.StringWidth(s) <= n {
		return s
	}
	return ansi.Truncate(s, n, "…")
}

func padRight(s string, n int) string {
	return s + strings.Repeat(" ", max(0, n-ansi.StringWidth(s)))
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func fmtDims(d []int64) string {
	if len(d) == 0 {
		return "N/A"
	}
	parts := make([]string, len(d))
	for i, v := range d {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return strings.Join(parts, " x ")
}

// fmtNanos renders a nanosecond span with a unit that keeps it readable.
func fmtNanos(ns int64) string {
	return fmtMicros(float64(ns) / 1000)
}

// fmtRelative renders ns as an offset from origin.
func fmtRelative(ns, origin int64) string {
	return "+" + fmtNanos(ns-origin)
}

func fmtMicros(us float64) string {
	abs := us
	if abs < 0 {
		abs = -abs
	}
	switch {
	case abs >= 1e6:
		return fmt.Sprintf("%.3fs", us/1e6)
	case abs >= 1e3:
		return fmt.Sprintf("%.3fms", us/1e3)
	default:
		return fmt.Sprintf("%.3fµs", us)
	}
}
