package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/daviddao/ratelprof_viewer/internal/capture"
	"github.com/daviddao/ratelprof_viewer/internal/snapshot"
	"github.com/daviddao/ratelprof_viewer/internal/timeline"
)

const testCaptureJSON = `{
  "lifecycle": {"constructor_start": 1000, "main_start": 2000, "main_stop": 12000, "destructor_stop": 13000},
  "domain_id": {"1": {"name": "RATELPROF_HIP_API"}, "16": {"name": "RATELPROF_MEMORY_COPY"}, "17": {"name": "RATELPROF_KERNEL_DISPATCH"}},
  "node_id": {"0": "gfx90a", "1": "cpu0"},
  "trace_events": [
    {"id": 1, "d": 1, "pid": 42, "tid": 7, "name": "hipLaunchKernel", "start": 2000, "end": 3000},
    {"id": 2, "d": 17, "corr_id": 1, "start": 3000, "end": 7000, "sig": 255,
     "args": {"kernel_name": "vecAdd", "gpu_id": 0, "queue_id": 1, "dispatch_time": 2500, "grd": [1024, 1, 1], "wrg": [64, 1, 1]}},
    {"id": 3, "d": 16, "corr_id": 1, "start": 7000, "end": 8000,
     "args": {"src_type": 0, "dst_type": 1, "src_agent": 1, "dst_agent": 0, "size": 4096}},
    {"id": 4, "d": 1, "pid": 42, "tid": 7, "name": "hipDeviceSynchronize", "start": 8000, "end": 9000}
  ]
}`

// testSnapshot builds a snapshot from testCaptureJSON.
func testSnapshot(t *testing.T) *snapshot.DataSnapshot {
	t.Helper()
	c, err := capture.Decode([]byte(testCaptureJSON))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	mdl, err := timeline.Build(c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	snap := snapshot.FromModel(mdl)
	snap.Path = "/tmp/.ratelprof/trace.json"
	return snap
}

// testModel creates a uiModel with test data (no builder needed for render tests).
func testModel(t *testing.T) uiModel {
	t.Helper()
	m := newModel(nil, testSnapshot(t), nil)
	m.width = 100
	m.height = 30
	m.help.Width = 100
	return m
}

func TestNewModelDefaults(t *testing.T) {
	snap := testSnapshot(t)
	m := newModel(nil, snap, nil)

	if m.logger == nil || m.logger.GetLevel() != logrus.WarnLevel {
		t.Error("newModel should default to a warn-level logger")
	}
	if m.snap != snap {
		t.Error("newModel should keep the given snapshot")
	}
	if len(m.sess.rows) != 5 {
		t.Errorf("session rows = %d, want 5 (4 events + 1 dispatch)", len(m.sess.rows))
	}
	if m.lastRefresh.IsZero() {
		t.Error("lastRefresh should be set")
	}
}

func press(m uiModel, keys ...string) uiModel {
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "tab":
			msg = tea.KeyMsg{Type: tea.KeyTab}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "backspace":
			msg = tea.KeyMsg{Type: tea.KeyBackspace}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		updated, _ := m.Update(msg)
		m = updated.(uiModel)
	}
	return m
}

func selectedID(t *testing.T, m uiModel) string {
	t.Helper()
	it, ok := m.sess.selectedItem(m.snap.Model)
	if !ok {
		t.Fatal("no item selected")
	}
	return it.ID
}

func TestParseViewFlag(t *testing.T) {
	tests := []struct {
		input string
		want  viewID
		err   bool
	}{
		{"dashboard", viewDashboard, false},
		{"Dashboard", viewDashboard, false},
		{"d", viewDashboard, false},
		{"groups", viewGroups, false},
		{"tree", viewGroups, false},
		{"t", viewGroups, false},
		{"events", viewEvents, false},
		{"E", viewEvents, false},
		{"detail", 0, true},
		{"bogus", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseViewFlag(tt.input)
			if tt.err {
				if err == nil {
					t.Errorf("parseViewFlag(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("parseViewFlag(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseViewFlag(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestViewIDString(t *testing.T) {
	tests := []struct {
		v    viewID
		want string
	}{
		{viewDashboard, "Dashboard"},
		{viewGroups, "Groups"},
		{viewEvents, "Events"},
		{viewDetail, "Detail"},
		{viewID(99), "?"},
	}

	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("viewID(%d).String() = %q, want %q", int(tt.v), got, tt.want)
		}
	}
}

func TestViewLoading(t *testing.T) {
	m := testModel(t)
	m.width = 0 // triggers "Loading..." state

	if out := m.View(); out != "Loading..." {
		t.Errorf("expected 'Loading...' when width=0, got %q", out)
	}
}

func TestRenderDashboard(t *testing.T) {
	out := testModel(t).renderDashboard()

	for _, want := range []string{"Capture", "trace.json", "GPU Usage", "Top Labels", "vecAdd", "4.0 KiB copied", "17_0_1"} {
		if !strings.Contains(out, want) {
			t.Errorf("dashboard should contain %q", want)
		}
	}
	if !strings.Contains(out, "40.00%") {
		t.Error("dashboard should show the kernel queue usage")
	}
}

func TestRenderDashboardEmptyCapture(t *testing.T) {
	m := testModel(t)
	c := &capture.Capture{TraceEvents: capture.Events{}, Lifecycle: &capture.Lifecycle{MainStop: 10}}
	mdl, err := timeline.Build(c)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	m.snap = snapshot.FromModel(mdl)
	m.sess = newSession(mdl)

	out := m.renderDashboard()
	if !strings.Contains(out, "no GPU activity") {
		t.Error("dashboard should show 'no GPU activity' when empty")
	}
	if !strings.Contains(out, "no events") {
		t.Error("dashboard should show 'no events' when empty")
	}
	// Events view and detail must cope with no rows.
	if !strings.Contains(m.renderEvents(20), "no events") {
		t.Error("events view should show 'no events' when empty")
	}
	if !strings.Contains(m.renderDetail(), "nothing selected") {
		t.Error("detail should show 'nothing selected' when empty")
	}
}

func TestRenderGroups(t *testing.T) {
	out := testModel(t).renderGroups()

	for _, want := range []string{"Group Tree", "TID. 7", "GPU Node ID. gfx90a", "Queue ID. 1 | GPU USAGE: 40.00%", "CopyHostToDevice"} {
		if !strings.Contains(out, want) {
			t.Errorf("groups view should contain %q", want)
		}
	}
	// GPU roots sort ahead of CPU roots.
	if strings.Index(out, "KERNEL DISPATCH") > strings.Index(out, "HIP API") {
		t.Error("GPU domains should be listed before CPU domains")
	}
}

func TestRenderEventsSelection(t *testing.T) {
	m := testModel(t)
	out := m.renderEvents(20)

	if !strings.Contains(out, "> ") {
		t.Error("events view should show cursor '> ' for the selection")
	}
	for _, want := range []string{"hipLaunchKernel", "vecAdd", "Dispatch_2", "hipDeviceSynchronize"} {
		if !strings.Contains(out, want) {
			t.Errorf("events view should contain %q", want)
		}
	}
	if strings.Contains(out, "Constructor") {
		t.Error("lifecycle backgrounds should not be listed")
	}
}

func TestSessionCorrelationHighlight(t *testing.T) {
	m := testModel(t)

	// Selecting the launch highlights the kernel and copy it caused.
	if got := selectedID(t, m); got != "1" {
		t.Fatalf("initial selection = %q, want 1", got)
	}
	for _, id := range []string{"2", "3"} {
		if !m.sess.isHighlighted(id) {
			t.Errorf("item %s should be highlighted for event 1", id)
		}
	}

	// The kernel highlights its dispatch marker and its parent.
	m.activeView = viewEvents
	m = press(m, "down")
	if got := selectedID(t, m); got != "2" {
		t.Fatalf("selection after down = %q, want 2", got)
	}
	for _, id := range []string{"Dispatch_2", "1"} {
		if !m.sess.isHighlighted(id) {
			t.Errorf("item %s should be highlighted for event 2", id)
		}
	}

	// The dispatch marker points back at its kernel.
	m = press(m, "down")
	if got := selectedID(t, m); got != "Dispatch_2" {
		t.Fatalf("selection = %q, want Dispatch_2", got)
	}
	if !m.sess.isHighlighted("2") || len(m.sess.highlight) != 1 {
		t.Errorf("dispatch should highlight only its kernel, got %v", m.sess.highlight)
	}
}

func TestSelectionClamped(t *testing.T) {
	m := testModel(t)
	m.activeView = viewEvents

	m = press(m, "up")
	if m.sess.selected != 0 {
		t.Errorf("Up at first row should stay at 0, got %d", m.sess.selected)
	}
	for i := 0; i < 20; i++ {
		m = press(m, "down")
	}
	if m.sess.selected != len(m.sess.rows)-1 {
		t.Errorf("selection = %d, want last row %d", m.sess.selected, len(m.sess.rows)-1)
	}
}

func TestGotoEvent(t *testing.T) {
	m := testModel(t)
	m.activeView = viewEvents

	// Digits open the prompt directly in the Events view.
	m = press(m, "4")
	if !m.sess.gotoActive || m.sess.gotoBuf != "4" {
		t.Fatalf("digit should open goto prompt, got active=%v buf=%q", m.sess.gotoActive, m.sess.gotoBuf)
	}
	if !strings.Contains(m.renderStatusBar(), "go to event id: 4") {
		t.Error("status bar should show the goto prompt")
	}
	m = press(m, "enter")
	if m.sess.gotoActive {
		t.Error("enter should close the goto prompt")
	}
	if got := selectedID(t, m); got != "4" {
		t.Errorf("goto 4 selected %q", got)
	}

	// g works from any view and switches to Events.
	m.activeView = viewDashboard
	m = press(m, "g", "9", "9", "backspace", "8", "enter")
	if m.activeView != viewEvents {
		t.Errorf("g should switch to Events, got %s", m.activeView)
	}
	if m.sess.notice != "no event with id 98" {
		t.Errorf("notice = %q", m.sess.notice)
	}
	if got := selectedID(t, m); got != "4" {
		t.Errorf("failed goto should keep the selection, got %q", got)
	}

	// Esc cancels without moving.
	m = press(m, "g", "1", "esc")
	if m.sess.gotoActive || selectedID(t, m) != "4" {
		t.Error("esc should cancel the goto prompt")
	}
}

func TestGotoRejectsEmptyInput(t *testing.T) {
	m := testModel(t)
	m = press(m, "g", "enter")
	if !strings.HasPrefix(m.sess.notice, "not an event id") {
		t.Errorf("notice = %q", m.sess.notice)
	}
}

func TestRenderDetailKernel(t *testing.T) {
	m := testModel(t)
	m.activeView = viewEvents
	m = press(m, "down", "enter")
	if m.activeView != viewDetail {
		t.Fatalf("Enter should open Detail, got %s", m.activeView)
	}

	out := m.renderDetail()
	for _, want := range []string{
		"KERNEL 2", "vecAdd",
		"Dispatch time:", "+1.500µs",
		"GPU node:", "gfx90a (0)",
		"Grid size:", "1024 x 1 x 1",
		"Workgroup size:", "64 x 1 x 1",
		"Completion signal:", "0xff",
		"Correlated", "Dispatch_2",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("kernel detail should contain %q", want)
		}
	}
}

func TestRenderDetailMemory(t *testing.T) {
	m := testModel(t)
	if !m.sess.gotoEvent(m.snap.Model, 3) {
		t.Fatal("event 3 not found")
	}
	out := m.renderDetail()
	for _, want := range []string{
		"Source:", "Host Node ID. cpu0 (1)",
		"Destination:", "Device Node ID. gfx90a (0)",
		"Size transferred:", "4.0 KiB",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("memory detail should contain %q", want)
		}
	}
}

func TestRenderDetailCPU(t *testing.T) {
	m := testModel(t)
	out := m.renderDetail()
	// Times are relative to the constructor start at 1000ns.
	for _, want := range []string{"Process ID:", "42", "Thread ID:", "7", "Start:", "+1.000µs", "Duration:", "1.000µs"} {
		if !strings.Contains(out, want) {
			t.Errorf("cpu detail should contain %q", want)
		}
	}
}

func TestUpdateEscReturnsFromDetail(t *testing.T) {
	m := testModel(t)
	m.activeView = viewDetail

	m = press(m, "esc")
	if m.activeView != viewEvents {
		t.Errorf("Esc from Detail should go to Events, got %s", m.activeView)
	}
}

func TestUpdateTabCyclesViews(t *testing.T) {
	m := testModel(t)
	m.activeView = viewDashboard

	want := []viewID{viewGroups, viewEvents, viewDashboard}
	for _, w := range want {
		m = press(m, "tab")
		if m.activeView != w {
			t.Errorf("after Tab expected %s, got %s", w, m.activeView)
		}
	}

	m.activeView = viewDetail
	m = press(m, "tab")
	if m.activeView != viewEvents {
		t.Errorf("Tab from Detail should go to Events, got %s", m.activeView)
	}
}

func TestUpdateViewShortcuts(t *testing.T) {
	tests := []struct {
		key  string
		want viewID
	}{
		{"d", viewDashboard},
		{"t", viewGroups},
		{"e", viewEvents},
	}

	for _, tt := range tests {
		m := testModel(t)
		m.activeView = viewDetail
		m.scrollPos = 5
		m = press(m, tt.key)
		if m.activeView != tt.want {
			t.Errorf("key %q: expected %s, got %s", tt.key, tt.want, m.activeView)
		}
		if m.scrollPos != 0 {
			t.Errorf("key %q: scrollPos should reset, got %d", tt.key, m.scrollPos)
		}
	}
}

func TestUpdateHelpToggle(t *testing.T) {
	m := testModel(t)
	m = press(m, "?")
	if !m.showHelp {
		t.Error("? should show help")
	}
	m = press(m, "?")
	if m.showHelp {
		t.Error("? again should hide help")
	}
}

func TestUpdateWindowSizeMsg(t *testing.T) {
	m := testModel(t)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 150, Height: 50})
	m = updated.(uiModel)
	if m.width != 150 || m.height != 50 || m.help.Width != 150 {
		t.Errorf("window size not applied: %dx%d help=%d", m.width, m.height, m.help.Width)
	}
}

func TestSnapshotSwapResetsSession(t *testing.T) {
	m := testModel(t)
	m.activeView = viewEvents
	m = press(m, "down", "down", "enter")
	if m.activeView != viewDetail {
		t.Fatalf("expected Detail, got %s", m.activeView)
	}

	updated, _ := m.Update(snapshotReadyMsg{snap: testSnapshot(t)})
	m = updated.(uiModel)

	if m.sess.selected != 0 {
		t.Errorf("selection should reset on a new model, got %d", m.sess.selected)
	}
	if m.activeView != viewEvents {
		t.Errorf("Detail should fall back to Events on a new model, got %s", m.activeView)
	}
	if got := selectedID(t, m); got != "1" {
		t.Errorf("selected %q after reset, want 1", got)
	}
}

func TestSnapshotErrorKeepsModel(t *testing.T) {
	m := testModel(t)
	m.activeView = viewEvents
	m = press(m, "down")
	prev := m.snap

	updated, _ := m.Update(snapshotReadyMsg{err: os.ErrNotExist})
	m = updated.(uiModel)

	if m.snap != prev {
		t.Error("a failed rebuild must keep the previous snapshot")
	}
	if m.sess.selected != 1 {
		t.Errorf("a failed rebuild must keep the session, selected=%d", m.sess.selected)
	}
	if !strings.Contains(m.renderStatusBar(), "reload failed") {
		t.Error("status bar should report the failed reload")
	}
}

func TestViewFullRenderEachView(t *testing.T) {
	for _, v := range []viewID{viewDashboard, viewGroups, viewEvents, viewDetail} {
		for _, width := range []int{80, 160} {
			m := testModel(t)
			m.activeView = v
			m.width = width

			out := m.View()
			if !strings.Contains(out, "ratelprof viewer") {
				t.Errorf("View() for %s at width %d should contain title", v, width)
			}
			for i, line := range strings.Split(out, "\n") {
				if w := len([]rune(stripForTest(line))); w > width {
					t.Errorf("%s line %d is %d wide, terminal is %d", v, i, w, width)
				}
			}
		}
	}
}

func TestScrollPosClampedInView(t *testing.T) {
	m := testModel(t)
	m.activeView = viewGroups
	m.scrollPos = 9999

	if out := m.View(); out == "" {
		t.Error("View() with excessive scrollPos should not be empty")
	}
}

func TestFmtMicros(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0.000µs"},
		{1.5, "1.500µs"},
		{2500, "2.500ms"},
		{3_000_000, "3.000s"},
		{-1500, "-1.500ms"},
	}
	for _, tt := range tests {
		if got := fmtMicros(tt.in); got != tt.want {
			t.Errorf("fmtMicros(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate(short) = %q", got)
	}
	if got := truncate("a_very_long_kernel_name", 8); got != "a_very_…" {
		t.Errorf("truncate(long) = %q", got)
	}
}

func TestSortedRoots(t *testing.T) {
	groups := testSnapshot(t).Model.Groups
	sorted := sortedRoots(groups)
	if len(sorted) != len(groups) {
		t.Fatalf("sortedRoots dropped groups: %d != %d", len(sorted), len(groups))
	}
	var roots []string
	for _, g := range sorted {
		if g.TreeLevel == 1 {
			roots = append(roots, g.ID)
		}
	}
	if strings.Join(roots, ",") != "17,16,1" {
		t.Errorf("root order = %v, want [17 16 1]", roots)
	}
}

func TestBuildJSONOutput(t *testing.T) {
	out := buildJSONOutput(testSnapshot(t))

	if out.Stats.Events != 4 {
		t.Errorf("expected 4 events in stats, got %d", out.Stats.Events)
	}
	// 3 lifecycle + 4 events + 1 dispatch.
	if len(out.Items) != 8 {
		t.Errorf("expected 8 items, got %d", len(out.Items))
	}
	if out.MinStart != 2000 || out.MaxEnd != 9000 {
		t.Errorf("bounds = %d..%d, want 2000..9000", out.MinStart, out.MaxEnd)
	}
	if out.Window != [2]float64{-998, 1009} {
		t.Errorf("window = %v, want [-998 1009]", out.Window)
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}
	units, ok := decoded["units"].(map[string]any)
	if !ok {
		t.Fatal("JSON output missing units")
	}
	if units["items"] != "us" || units["bounds"] != "ns" || units["window"] != "us" {
		t.Errorf("units = %v", units)
	}
	for _, k := range []string{"items", "groups", "minStart", "maxEnd", "window"} {
		if _, ok := decoded[k]; !ok {
			t.Errorf("JSON output missing %q", k)
		}
	}
}

func TestRootCommandJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	if err := os.WriteFile(path, []byte(testCaptureJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RPV_CAPTURE", "")

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{"--capture", path, "--json", "--workers", "3"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v (stderr: %s)", err, stderr.String())
	}

	var out jsonOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if out.Capture != path {
		t.Errorf("capture = %q, want %q", out.Capture, path)
	}
	if len(out.Groups) == 0 {
		t.Error("expected groups in JSON output")
	}
}

func TestRootCommandCaptureFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	if err := os.WriteFile(path, []byte(testCaptureJSON), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("RPV_CAPTURE", path)

	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(stdout.String(), `"vecAdd"`) {
		t.Error("JSON output should contain the kernel item")
	}
}

func TestRootCommandErrors(t *testing.T) {
	t.Setenv("RPV_CAPTURE", "")
	tests := [][]string{
		{"--capture", "/nonexistent/trace.json", "--json"},
		{"--view", "bogus", "--json"},
		{"extra-arg"},
	}
	for _, args := range tests {
		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs(args)
		if err := cmd.Execute(); err == nil {
			t.Errorf("Execute(%v) should fail", args)
		}
	}
}

func TestRootCommandVersion(t *testing.T) {
	var stdout bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := stdout.String(); got != "rpv dev\n" {
		t.Errorf("version output = %q", got)
	}
}

// stripForTest drops ANSI sequences so widths can be compared.
func stripForTest(s string) string {
	var b strings.Builder
	inEsc := false
	for _, r := range s {
		if r == '\x1b' {
			inEsc = true
			continue
		}
		if inEsc {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEsc = false
			}
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
