package timeline

import (
	"math"

	"github.com/daviddao/ratelprof_viewer/internal/capture"
	"github.com/daviddao/ratelprof_viewer/internal/classify"
)

// ItemKind distinguishes real events from the synthetic items of a model.
type ItemKind string

const (
	KindBackground ItemKind = "BACKGROUND"
	KindCPU        ItemKind = "CPU"
	KindKernel     ItemKind = "KERNEL"
	KindBarrier    ItemKind = "BARRIER"
	KindMemory     ItemKind = "MEMORY"
	KindDispatch   ItemKind = "DISPATCH"
)

func itemKind(k classify.Kind) ItemKind {
	switch k {
	case classify.Kernel:
		return KindKernel
	case classify.Barrier:
		return KindBarrier
	case classify.Memory:
		return KindMemory
	}
	return KindCPU
}

// ItemType tells a renderer how to draw an item.
type ItemType string

const (
	TypeRange      ItemType = "range"
	TypeBackground ItemType = "background"
)

// Item is one renderable timeline entry. Start and End are microseconds.
type Item struct {
	ID            string   `json:"id"`
	Label         string   `json:"label"`
	Type          ItemType `json:"type"`
	Kind          ItemKind `json:"kind"`
	Start         float64  `json:"start"`
	End           float64  `json:"end"`
	GroupID       string   `json:"groupId,omitempty"`
	SubgroupLane  int64    `json:"subgroupLane,omitempty"`
	Color         string   `json:"color,omitempty"`
	CorrelationID uint64   `json:"correlationId,omitempty"`

	// Event is the originating raw event of real items.
	Event *capture.RawEvent `json:"traceData,omitempty"`
	// Dispatch is set on synthetic dispatch markers.
	Dispatch *DispatchInfo `json:"dispatch,omitempty"`
	// Detail holds lookups resolved during classification, for display.
	Detail *EventDetail `json:"detail,omitempty"`
}

// DispatchInfo describes the submission of a GPU kernel or barrier.
type DispatchInfo struct {
	EventID             uint64 `json:"eventId"`
	DispatchedEventName string `json:"dispatchedEventName"`
	DispatchTime        int64  `json:"dispatchTime"`
}

// EventDetail carries the catalog lookups made while classifying an event.
type EventDetail struct {
	Node            string `json:"node,omitempty"`
	SourceKind      string `json:"sourceKind,omitempty"`
	SourceNode      string `json:"sourceNode,omitempty"`
	DestinationKind string `json:"destinationKind,omitempty"`
	DestinationNode string `json:"destinationNode,omitempty"`
}

// IsSynthetic reports whether the item was derived rather than recorded.
func (it Item) IsSynthetic() bool {
	return it.Kind == KindBackground || it.Kind == KindDispatch
}

// Lifecycle background item ids.
const (
	ConstructorItemID = "Constructor"
	MainItemID        = "Main"
	DestructorItemID  = "Destructor"
)

// DispatchItemPrefix prefixes the id of every dispatch marker.
const DispatchItemPrefix = "Dispatch_"

// DispatchLabel is the label (and color key) of dispatch markers.
const DispatchLabel = "Dispatch"

func micros(ns int64) float64 {
	return float64(ns) / 1000
}

// roundMicros rounds half up, the way the browser viewer positions events.
func roundMicros(ns int64) float64 {
	return math.Floor(float64(ns)/1000 + 0.5)
}

func lifecycleItems(lc capture.Lifecycle) []Item {
	return []Item{
		{
			ID:    ConstructorItemID,
			Label: ConstructorItemID,
			Type:  TypeBackground,
			Kind:  KindBackground,
			Start: micros(lc.ConstructorStart),
			End:   micros(lc.MainStart),
		},
		{
			ID:    MainItemID,
			Label: MainItemID,
			Type:  TypeBackground,
			Kind:  KindBackground,
			Start: micros(lc.MainStart),
			End:   micros(lc.MainStop),
		},
		{
			ID:    DestructorItemID,
			Label: DestructorItemID,
			Type:  TypeBackground,
			Kind:  KindBackground,
			Start: micros(lc.MainStop),
			End:   micros(lc.DestructorStop),
		},
	}
}
