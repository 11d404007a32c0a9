// Package snapshot builds immutable data snapshots from a capture file.
//
// A DataSnapshot holds the timeline model of one capture together with the
// summary figures the dashboard shows. Snapshots are rebuilt on each capture
// change and swapped atomically into the UI model.
package snapshot

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/daviddao/ratelprof_viewer/internal/datasource"
	"github.com/daviddao/ratelprof_viewer/internal/grouptree"
	"github.com/daviddao/ratelprof_viewer/internal/timeline"
)

// topN bounds the label and queue rankings.
const topN = 10

// LabelStat aggregates the events sharing one label.
type LabelStat struct {
	Label string
	Kind  timeline.ItemKind
	Count int
	// Total is the summed event duration in nanoseconds.
	Total int64
}

// DataSnapshot is an immutable, self-contained view of one capture.
type DataSnapshot struct {
	Path  string
	Model *timeline.Model

	// File identity at load time, used to skip rebuilds of unchanged captures.
	ModTime time.Time
	Size    int64

	// Event counts per kind, synthetic items excluded.
	KindCounts map[timeline.ItemKind]int
	// Labels ranked by total duration, at most topN.
	TopLabels []LabelStat
	// GPU leaf groups ranked by utilization, at most topN.
	BusiestQueues []grouptree.Group
	// Bytes moved by memory copies.
	BytesCopied uint64

	// Timestamp of snapshot creation.
	BuiltAt time.Time
}

// Build loads the capture at path and returns a complete snapshot.
func Build(path string, b *timeline.Builder) (*DataSnapshot, error) {
	c, err := datasource.Load(path)
	if err != nil {
		return nil, err
	}
	m, err := b.Build(c)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	snap := FromModel(m)
	snap.Path = path
	if fi, err := os.Stat(path); err == nil {
		snap.ModTime = fi.ModTime()
		snap.Size = fi.Size()
	}
	return snap, nil
}

// Stale reports whether the capture file differs from the one s was built
// from. A file that can no longer be stat'ed counts as changed.
func (s *DataSnapshot) Stale() bool {
	if s.Path == "" {
		return false
	}
	fi, err := os.Stat(s.Path)
	if err != nil {
		return true
	}
	return !fi.ModTime().Equal(s.ModTime) || fi.Size() != s.Size
}

// FromModel summarizes an already built model.
func FromModel(m *timeline.Model) *DataSnapshot {
	snap := &DataSnapshot{
		Model:      m,
		KindCounts: make(map[timeline.ItemKind]int),
		BuiltAt:    time.Now(),
	}

	byLabel := make(map[string]*LabelStat)
	var order []string
	for _, it := range m.Items {
		if it.IsSynthetic() || it.Event == nil {
			continue
		}
		snap.KindCounts[it.Kind]++
		if it.Kind == timeline.KindMemory {
			snap.BytesCopied += it.Event.Args.Size
		}
		key := string(it.Kind) + "\x00" + it.Label
		st, ok := byLabel[key]
		if !ok {
			st = &LabelStat{Label: it.Label, Kind: it.Kind}
			byLabel[key] = st
			order = append(order, key)
		}
		st.Count++
		st.Total += it.Event.EventDuration()
	}

	snap.TopLabels = make([]LabelStat, 0, len(order))
	for _, key := range order {
		snap.TopLabels = append(snap.TopLabels, *byLabel[key])
	}
	sort.SliceStable(snap.TopLabels, func(i, j int) bool {
		return snap.TopLabels[i].Total > snap.TopLabels[j].Total
	})
	if len(snap.TopLabels) > topN {
		snap.TopLabels = snap.TopLabels[:topN]
	}

	for _, g := range m.Groups {
		if g.Kind.IsGPU() && len(g.Children) == 0 {
			snap.BusiestQueues = append(snap.BusiestQueues, g)
		}
	}
	sort.SliceStable(snap.BusiestQueues, func(i, j int) bool {
		return snap.BusiestQueues[i].Utilization > snap.BusiestQueues[j].Utilization
	})
	if len(snap.BusiestQueues) > topN {
		snap.BusiestQueues = snap.BusiestQueues[:topN]
	}

	return snap
}

// EventCount returns the number of recorded events.
func (s *DataSnapshot) EventCount() int {
	return s.Model.EventCount
}
