// Package timeline turns a capture into the immutable presentation model a
// timeline renderer consumes: lifecycle backgrounds, one item per event,
// dispatch markers for GPU submissions and the group forest they hang off.
//
// A Model is never mutated after Build returns. Callers wanting fresh data
// build a new one and swap it in.
package timeline

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/ratelprof_viewer/internal/capture"
	"github.com/daviddao/ratelprof_viewer/internal/classify"
	"github.com/daviddao/ratelprof_viewer/internal/colorhash"
	"github.com/daviddao/ratelprof_viewer/internal/correlation"
	"github.com/daviddao/ratelprof_viewer/internal/grouptree"
)

// Model is the output of one build.
type Model struct {
	Items  []Item            `json:"items"`
	Groups []grouptree.Group `json:"groups"`
	// MinStart and MaxEnd bound the raw event timestamps in nanoseconds.
	// Both are zero for a capture without events.
	MinStart     int64 `json:"minStart"`
	MaxEnd       int64 `json:"maxEnd"`
	MainDuration int64 `json:"mainDuration"`
	EventCount   int   `json:"eventCount"`
	// Lifecycle is kept so views can show times relative to the constructor.
	Lifecycle capture.Lifecycle `json:"-"`
	BuiltAt   time.Time         `json:"-"`

	itemByID  map[string]int
	groupByID map[string]int
	byGroup   map[string][]int
	byCorr    map[uint64][]int
}

// Window returns the renderer's visible range in microseconds: the event
// bounds padded by one millisecond on each side.
func (m *Model) Window() (start, end float64) {
	return micros(m.MinStart) - 1000, micros(m.MaxEnd) + 1000
}

// Item returns the item with the given id.
func (m *Model) Item(id string) (Item, bool) {
	i, ok := m.itemByID[id]
	if !ok {
		return Item{}, false
	}
	return m.Items[i], true
}

// EventItem returns the item of the recorded event with the given id.
func (m *Model) EventItem(id uint64) (Item, bool) {
	return m.Item(strconv.FormatUint(id, 10))
}

// Group returns the group with the given id.
func (m *Model) Group(id string) (grouptree.Group, bool) {
	i, ok := m.groupByID[id]
	if !ok {
		return grouptree.Group{}, false
	}
	return m.Groups[i], true
}

// ItemsInGroup returns the items placed in group id, in model order.
func (m *Model) ItemsInGroup(id string) []Item {
	return m.collect(m.byGroup[id])
}

// Correlated returns the items whose correlation id is the given event id:
// its dispatch marker and any events it caused.
func (m *Model) Correlated(id uint64) []Item {
	return m.collect(m.byCorr[id])
}

func (m *Model) collect(idx []int) []Item {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Item, len(idx))
	for i, j := range idx {
		out[i] = m.Items[j]
	}
	return out
}

func (m *Model) index() {
	m.itemByID = make(map[string]int, len(m.Items))
	m.byGroup = make(map[string][]int)
	m.byCorr = make(map[uint64][]int)
	for i, it := range m.Items {
		m.itemByID[it.ID] = i
		if it.GroupID != "" {
			m.byGroup[it.GroupID] = append(m.byGroup[it.GroupID], i)
		}
		if it.CorrelationID != 0 {
			m.byCorr[it.CorrelationID] = append(m.byCorr[it.CorrelationID], i)
		}
	}
	m.groupByID = make(map[string]int, len(m.Groups))
	for i, g := range m.Groups {
		m.groupByID[g.ID] = i
	}
}

// Builder builds models. Create one with NewBuilder.
type Builder struct {
	logger  *logrus.Logger
	workers int
}

// NewBuilder returns a builder that classifies events on up to workers
// goroutines. A nil logger discards everything below warnings.
func NewBuilder(logger *logrus.Logger, workers int) *Builder {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	if workers < 1 {
		workers = 1
	}
	return &Builder{logger: logger, workers: workers}
}

// Build builds a model with a serial builder.
func Build(c *capture.Capture) (*Model, error) {
	return NewBuilder(nil, 1).Build(c)
}

// Build validates c and assembles its model. The result does not depend on
// the worker count.
func (b *Builder) Build(c *capture.Capture) (*Model, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}
	began := time.Now()
	events := c.TraceEvents
	lc := *c.Lifecycle

	cl := classify.New(c)
	results, err := b.classifyAll(cl, events)
	if err != nil {
		return nil, fmt.Errorf("build model: %w", err)
	}

	resolver := correlation.NewResolver(events)
	tree := grouptree.New()

	items := make([]Item, 0, 3+2*len(events))
	items = append(items, lifecycleItems(lc)...)

	var minStart, maxEnd int64
	if len(events) > 0 {
		minStart, maxEnd = math.MaxInt64, math.MinInt64
	}

	for i := range events {
		ev := &events[i]
		res := results[i]

		leaf := tree.Ensure(res.Path, res.Kind)
		if err := tree.AddDuration(leaf, ev.EventDuration()); err != nil {
			return nil, fmt.Errorf("build model: event %d: %w", ev.ID, err)
		}

		lane := res.Lane
		if res.Kind == classify.CPU {
			lane = int64(resolver.DepthAt(i))
		}

		minStart = min(minStart, ev.Start)
		maxEnd = max(maxEnd, ev.End)

		items = append(items, Item{
			ID:            strconv.FormatUint(ev.ID, 10),
			Label:         res.DisplayName,
			Type:          TypeRange,
			Kind:          itemKind(res.Kind),
			Start:         roundMicros(ev.Start),
			End:           roundMicros(ev.End + 1000),
			GroupID:       leaf,
			SubgroupLane:  lane,
			Color:         colorhash.Of(res.DisplayName),
			CorrelationID: ev.CorrelationID,
			Event:         ev,
			Detail:        detailOf(res),
		})

		if res.Kind == classify.Kernel || res.Kind == classify.Barrier {
			items = append(items, dispatchItem(ev, res, leaf, lane))
		}
	}

	m := &Model{
		Items:        items,
		Groups:       tree.Finalize(lc.MainDuration()),
		MinStart:     minStart,
		MaxEnd:       maxEnd,
		MainDuration: lc.MainDuration(),
		EventCount:   len(events),
		Lifecycle:    lc,
		BuiltAt:      time.Now(),
	}
	m.index()

	b.logger.WithFields(logrus.Fields{
		"events":   len(events),
		"items":    len(m.Items),
		"groups":   len(m.Groups),
		"workers":  b.workers,
		"duration": time.Since(began),
	}).Debug("model built")
	return m, nil
}

// classifyAll classifies every event, fanning out over the configured
// workers. Results are stored by event position.
func (b *Builder) classifyAll(cl *classify.Classifier, events []capture.RawEvent) ([]classify.Result, error) {
	results := make([]classify.Result, len(events))
	workers := max(b.workers, 1)
	if workers == 1 || len(events) < 2*workers {
		for i := range events {
			results[i] = cl.Classify(&events[i])
		}
		return results, nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	chunk := (len(events) + workers - 1) / workers
	for lo := 0; lo < len(events); lo += chunk {
		hi := min(lo+chunk, len(events))
		g.Go(func() error {
			for i := lo; i < hi; i++ {
				results[i] = cl.Classify(&events[i])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func dispatchItem(ev *capture.RawEvent, res classify.Result, group string, lane int64) Item {
	dt := ev.Args.DispatchTime
	return Item{
		ID:            DispatchItemPrefix + strconv.FormatUint(ev.ID, 10),
		Label:         DispatchLabel,
		Type:          TypeRange,
		Kind:          KindDispatch,
		Start:         micros(dt),
		End:           micros(dt + 1000),
		GroupID:       group,
		SubgroupLane:  lane,
		Color:         colorhash.Of(DispatchLabel),
		CorrelationID: ev.ID,
		Dispatch: &DispatchInfo{
			EventID:             ev.ID,
			DispatchedEventName: res.DisplayName,
			DispatchTime:        dt,
		},
	}
}

func detailOf(res classify.Result) *EventDetail {
	d := EventDetail{
		Node:            res.Node,
		SourceKind:      res.SourceKind,
		SourceNode:      res.SourceNode,
		DestinationKind: res.DestinationKind,
		DestinationNode: res.DestinationNode,
	}
	if d == (EventDetail{}) {
		return nil
	}
	return &d
}
