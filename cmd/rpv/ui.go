package main

import (
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/daviddao/ratelprof_viewer/internal/snapshot"
	"github.com/daviddao/ratelprof_viewer/internal/timeline"
)

// --- Messages ---

// captureChangedMsg asks for a rebuild. Without force the rebuild is skipped
// when the file looks unchanged.
type captureChangedMsg struct {
	force bool
}

type snapshotReadyMsg struct {
	snap *snapshot.DataSnapshot
	err  error
}

type tickMsg struct{}

// --- Key bindings ---

type keyMap struct {
	Quit    key.Binding
	Tab     key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
	Enter   key.Binding
	Esc     key.Binding
	Goto    key.Binding
}

var keys = keyMap{
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Tab:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "next view")),
	Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reload")),
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("k/up", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("j/down", "down")),
	Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
	Enter:   key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "inspect item")),
	Esc:     key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "back")),
	Goto:    key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "go to event id")),
}

// viewKeys maps single keys to views for fast navigation.
var viewKeys = map[string]viewID{
	"d": viewDashboard,
	"t": viewGroups,
	"e": viewEvents,
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Tab, k.Goto, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Tab, k.Refresh, k.Up, k.Down},
		{k.Enter, k.Esc, k.Goto, k.Help, k.Quit},
	}
}

// contextHelp returns help text appropriate for the current view.
func contextHelp(v viewID) string {
	switch v {
	case viewEvents:
		return "j/k: select | enter: inspect | g or digits: go to id | d/t/e: views | ?: help | q: quit"
	case viewDetail:
		return "j/k: scroll | esc: back to events | d/t/e: views | ?: help | q: quit"
	default:
		return "j/k: scroll | d/t/e: views | tab: next | r: reload | ?: help | q: quit"
	}
}

// --- Views ---

type viewID int

const (
	viewDashboard viewID = iota
	viewGroups
	viewEvents
	viewCount // sentinel: views below here are not in the tab bar
	viewDetail
)

func (v viewID) String() string {
	switch v {
	case viewDashboard:
		return "Dashboard"
	case viewGroups:
		return "Groups"
	case viewEvents:
		return "Events"
	case viewDetail:
		return "Detail"
	}
	return "?"
}

// --- Session ---

// session is the interaction state tied to one model: selection, correlation
// highlights and the go-to prompt. It is replaced whenever a new model is
// swapped in, so no item id or row index outlives the model it points into.
type session struct {
	// rows indexes Model.Items for the Events list; lifecycle backgrounds are
	// left out.
	rows     []int
	selected int
	// highlight holds the ids of items correlated with the selection.
	highlight map[string]struct{}

	gotoActive bool
	gotoBuf    string
	notice     string
}

func newSession(mdl *timeline.Model) session {
	s := session{highlight: make(map[string]struct{})}
	if mdl == nil {
		return s
	}
	for i, it := range mdl.Items {
		if it.Type == timeline.TypeBackground {
			continue
		}
		s.rows = append(s.rows, i)
	}
	s.selectRow(mdl, 0)
	return s
}

// selectRow moves the selection and recomputes the correlation highlight:
// items caused by the selected event, and the event the selection points at.
func (s *session) selectRow(mdl *timeline.Model, row int) {
	s.highlight = make(map[string]struct{})
	if len(s.rows) == 0 {
		s.selected = 0
		return
	}
	s.selected = max(0, min(row, len(s.rows)-1))

	it := mdl.Items[s.rows[s.selected]]
	if it.Event != nil {
		for _, c := range mdl.Correlated(it.Event.ID) {
			s.highlight[c.ID] = struct{}{}
		}
	}
	if it.CorrelationID != 0 {
		if parent, ok := mdl.EventItem(it.CorrelationID); ok && parent.ID != it.ID {
			s.highlight[parent.ID] = struct{}{}
		}
	}
}

// selectedItem returns the item under the cursor.
func (s *session) selectedItem(mdl *timeline.Model) (timeline.Item, bool) {
	if len(s.rows) == 0 {
		return timeline.Item{}, false
	}
	return mdl.Items[s.rows[s.selected]], true
}

// gotoEvent selects the row of the event with the given id.
func (s *session) gotoEvent(mdl *timeline.Model, id uint64) bool {
	want := strconv.FormatUint(id, 10)
	for row, idx := range s.rows {
		if mdl.Items[idx].ID == want {
			s.selectRow(mdl, row)
			return true
		}
	}
	return false
}

func (s *session) isHighlighted(id string) bool {
	_, ok := s.highlight[id]
	return ok
}

// --- Model ---

type uiModel struct {
	builder *timeline.Builder
	logger  *logrus.Logger
	snap    *snapshot.DataSnapshot
	sess    session

	activeView      viewID
	width           int
	height          int
	scrollPos       int
	refreshInterval time.Duration

	help     help.Model
	showHelp bool

	lastRefresh time.Time
	lastErr     error
}

func newModel(b *timeline.Builder, snap *snapshot.DataSnapshot, logger *logrus.Logger) uiModel {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return uiModel{
		builder:     b,
		logger:      logger,
		snap:        snap,
		sess:        newSession(snap.Model),
		help:        help.New(),
		lastRefresh: time.Now(),
	}
}

func (m uiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m uiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.sess.gotoActive {
			m.updateGoto(msg)
			return m, nil
		}

		// Digits open the go-to prompt directly in the Events view.
		if s := msg.String(); m.activeView == viewEvents && len(s) == 1 && s[0] >= '0' && s[0] <= '9' {
			m.sess.gotoActive = true
			m.sess.gotoBuf = s
			m.sess.notice = ""
			return m, nil
		}

		// Check single-key view shortcuts first (always available).
		if v, ok := viewKeys[msg.String()]; ok {
			m.activeView = v
			m.scrollPos = 0
			return m, nil
		}

		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit

		case key.Matches(msg, keys.Esc):
			if m.activeView == viewDetail {
				m.activeView = viewEvents
				m.scrollPos = 0
			}
			m.sess.notice = ""

		case key.Matches(msg, keys.Enter):
			if m.activeView == viewEvents {
				if _, ok := m.sess.selectedItem(m.snap.Model); ok {
					m.activeView = viewDetail
					m.scrollPos = 0
				}
			}

		case key.Matches(msg, keys.Goto):
			m.activeView = viewEvents
			m.sess.gotoActive = true
			m.sess.gotoBuf = ""
			m.sess.notice = ""

		case key.Matches(msg, keys.Tab):
			if m.activeView == viewDetail {
				m.activeView = viewEvents
			} else {
				m.activeView = (m.activeView + 1) % viewCount
			}
			m.scrollPos = 0

		case key.Matches(msg, keys.Refresh):
			return m, m.refreshSnapshot(true)

		case key.Matches(msg, keys.Up):
			if m.activeView == viewEvents {
				m.sess.selectRow(m.snap.Model, m.sess.selected-1)
			} else if m.scrollPos > 0 {
				m.scrollPos--
			}

		case key.Matches(msg, keys.Down):
			if m.activeView == viewEvents {
				m.sess.selectRow(m.snap.Model, m.sess.selected+1)
			} else {
				// View() clamps if we overshoot.
				maxScroll := len(m.snap.Model.Items) + len(m.snap.Model.Groups) + 40
				if m.scrollPos < maxScroll {
					m.scrollPos++
				}
			}

		case key.Matches(msg, keys.Help):
			m.showHelp = !m.showHelp
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

	case captureChangedMsg:
		return m, m.refreshSnapshot(msg.force)

	case snapshotReadyMsg:
		m.lastErr = msg.err
		if msg.err != nil {
			m.logger.WithError(msg.err).Warn("rebuild failed, keeping previous model")
			break
		}
		if msg.snap != nil {
			m.snap = msg.snap
			m.sess = newSession(msg.snap.Model)
			m.lastRefresh = time.Now()
			if m.activeView == viewDetail {
				m.activeView = viewEvents
			}
			m.scrollPos = 0
		}

	case tickMsg:
		return m, tickEvery()
	}

	return m, nil
}

// updateGoto edits the go-to prompt.
func (m *uiModel) updateGoto(msg tea.KeyMsg) {
	s := msg.String()
	switch {
	case s == "esc":
		m.sess.gotoActive = false
		m.sess.gotoBuf = ""
	case s == "enter":
		m.sess.gotoActive = false
		buf := m.sess.gotoBuf
		m.sess.gotoBuf = ""
		id, err := strconv.ParseUint(buf, 10, 64)
		if err != nil {
			m.sess.notice = "not an event id: " + strconv.Quote(buf)
			return
		}
		if !m.sess.gotoEvent(m.snap.Model, id) {
			m.sess.notice = "no event with id " + buf
		}
	case s == "backspace":
		if n := len(m.sess.gotoBuf); n > 0 {
			m.sess.gotoBuf = m.sess.gotoBuf[:n-1]
		}
	case len(s) == 1 && s[0] >= '0' && s[0] <= '9':
		m.sess.gotoBuf += s
	}
}

// refreshSnapshot rebuilds the model off the UI goroutine. Unforced refreshes
// of an unchanged capture produce no message.
func (m uiModel) refreshSnapshot(force bool) tea.Cmd {
	snap, b := m.snap, m.builder
	return func() tea.Msg {
		if !force && !snap.Stale() {
			return nil
		}
		next, err := snapshot.Build(snap.Path, b)
		return snapshotReadyMsg{snap: next, err: err}
	}
}
