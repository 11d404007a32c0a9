// Package capture holds the decoded form of a ratelprof profiling capture.
//
// A Capture is produced once per load, either from the JSON export or from a
// base64-wrapped MessagePack payload, and is treated as read-only by
// everything that consumes it.
package capture

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrMissingSection is returned by Validate when a top-level section the
// model builder depends on is absent.
var ErrMissingSection = errors.New("capture section missing")

// Capture is the full decoded profiling record for one run.
type Capture struct {
	TraceEvents   Events                `json:"trace_events"`
	Lifecycle     *Lifecycle            `json:"lifecycle"`
	DomainCatalog map[string]DomainInfo `json:"domain_id,omitempty"`
	NodeCatalog   map[string]any        `json:"node_id,omitempty"`
}

// Lifecycle bounds construction, steady-state execution and teardown of the
// profiled process. All values are nanoseconds.
type Lifecycle struct {
	ConstructorStart int64 `json:"constructor_start"`
	MainStart        int64 `json:"main_start"`
	MainStop         int64 `json:"main_stop"`
	DestructorStop   int64 `json:"destructor_stop"`
}

// MainDuration is the length of the main phase in nanoseconds.
func (l Lifecycle) MainDuration() int64 {
	return l.MainStop - l.MainStart
}

// DomainInfo is a domain catalog entry. Newer captures key the catalog by
// domain id; older ones key it by name and carry the id inside the entry.
type DomainInfo struct {
	ID   *int64 `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Desc string `json:"desc,omitempty"`
}

// UnmarshalJSON tolerates malformed entries: anything that is not an object
// decodes to an empty DomainInfo, and a string id is accepted.
func (d *DomainInfo) UnmarshalJSON(data []byte) error {
	var w struct {
		ID   flexInt    `json:"id"`
		Name flexString `json:"name"`
		Desc flexString `json:"desc"`
	}
	if json.Unmarshal(data, &w) != nil {
		*d = DomainInfo{}
		return nil
	}
	*d = DomainInfo{ID: w.ID.ptr(), Name: w.Name.v, Desc: w.Desc.v}
	return nil
}

// RawEvent is one recorded occurrence. CorrelationID zero means the event has
// no causal parent.
type RawEvent struct {
	ID            uint64    `json:"id"`
	Domain        int64     `json:"d"`
	CorrelationID uint64    `json:"corr_id,omitempty"`
	Start         int64     `json:"start"`
	End           int64     `json:"end"`
	Duration      *int64    `json:"dur,omitempty"`
	Name          string    `json:"name,omitempty"`
	PID           int64     `json:"pid,omitempty"`
	TID           int64     `json:"tid,omitempty"`
	Signal        uint64    `json:"sig,omitempty"`
	Args          EventArgs `json:"args"`
}

// EventDuration returns the recorded duration, falling back to end - start.
func (e RawEvent) EventDuration() int64 {
	if e.Duration != nil {
		return *e.Duration
	}
	return e.End - e.Start
}

// EventArgs is the domain-specific payload of an event. Only the fields of the
// event's own domain are populated.
type EventArgs struct {
	// GPU dispatches (kernels and barriers).
	KernelName         *string  `json:"kernel_name,omitempty"`
	GPUID              int64    `json:"gpu_id,omitempty"`
	QueueID            *int64   `json:"queue_id,omitempty"`
	DispatchTime       int64    `json:"dispatch_time,omitempty"`
	WorkgroupSize      []int64  `json:"wrg,omitempty"`
	GridSize           []int64  `json:"grd,omitempty"`
	PrivateSegmentSize int64    `json:"private_segment_size,omitempty"`
	GroupSegmentSize   int64    `json:"group_segment_size,omitempty"`
	KernelObject       uint64   `json:"kernel_object,omitempty"`
	KernargAddress     uint64   `json:"kernarg_address,omitempty"`
	DepSignals         []uint64 `json:"dep_sigs,omitempty"`

	// Memory copies.
	SrcType  *int64 `json:"src_type,omitempty"`
	DstType  *int64 `json:"dst_type,omitempty"`
	SrcAgent int64  `json:"src_agent,omitempty"`
	DstAgent int64  `json:"dst_agent,omitempty"`
	Size     uint64 `json:"size,omitempty"`
	EngineID int64  `json:"engine_id,omitempty"`
}

// Events is the ordered event list of a capture. On the wire it is either an
// array or an object keyed by event id.
type Events []RawEvent

// UnmarshalJSON accepts both the array and the id-keyed object layouts. Keyed
// events are ordered by ascending numeric id so repeated decodes agree.
func (e *Events) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []RawEvent
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("trace_events: %w", err)
		}
		if list == nil {
			list = []RawEvent{}
		}
		*e = list
		return nil
	}

	var keyed map[string]RawEvent
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return fmt.Errorf("trace_events: %w", err)
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, errA := strconv.ParseUint(keys[i], 10, 64)
		b, errB := strconv.ParseUint(keys[j], 10, 64)
		if errA == nil && errB == nil {
			return a < b
		}
		if (errA == nil) != (errB == nil) {
			return errA == nil
		}
		return keys[i] < keys[j]
	})

	out := make(Events, 0, len(keyed))
	for _, k := range keys {
		ev := keyed[k]
		if ev.ID == 0 {
			if id, err := strconv.ParseUint(k, 10, 64); err == nil {
				ev.ID = id
			}
		}
		out = append(out, ev)
	}
	*e = out
	return nil
}

// Validate checks that the sections the model builder cannot do without are
// present. Contents are not inspected.
func (c *Capture) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: capture is nil", ErrMissingSection)
	}
	if c.Lifecycle == nil {
		return fmt.Errorf("%w: lifecycle", ErrMissingSection)
	}
	if c.TraceEvents == nil {
		return fmt.Errorf("%w: trace_events", ErrMissingSection)
	}
	return nil
}
