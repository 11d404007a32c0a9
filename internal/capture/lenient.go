package capture

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Captures come from several exporters, and not all of them agree on scalar
// types: ids and kinds show up as strings, timestamps as integral floats. The
// wire types below accept every such spelling and fall back to "unset" for
// anything else, so one odd field never rejects the whole capture.

// flexInt is a JSON integer, integral float or numeric string.
type flexInt struct {
	v   int64
	set bool
}

func (f *flexInt) UnmarshalJSON(data []byte) error {
	f.v, f.set = parseInt(data)
	return nil
}

func (f flexInt) ptr() *int64 {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// flexUint is the unsigned counterpart of flexInt. Negative values are unset.
type flexUint struct {
	v   uint64
	set bool
}

func (f *flexUint) UnmarshalJSON(data []byte) error {
	f.v, f.set = parseUint(data)
	return nil
}

// flexString is a JSON string; bare numbers keep their literal text.
type flexString struct {
	v   string
	set bool
}

func (f *flexString) UnmarshalJSON(data []byte) error {
	*f = flexString{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}
	switch c := data[0]; {
	case c == '"':
		var s string
		if json.Unmarshal(data, &s) == nil {
			*f = flexString{v: s, set: true}
		}
	case c == '-' || (c >= '0' && c <= '9'):
		*f = flexString{v: string(data), set: true}
	}
	return nil
}

func (f flexString) ptr() *string {
	if !f.set {
		return nil
	}
	v := f.v
	return &v
}

// flexInts is an array of flexInt. A non-array decodes to nil.
type flexInts []int64

func (f *flexInts) UnmarshalJSON(data []byte) error {
	var items []flexInt
	if json.Unmarshal(data, &items) != nil || items == nil {
		*f = nil
		return nil
	}
	out := make(flexInts, len(items))
	for i, it := range items {
		out[i] = it.v
	}
	*f = out
	return nil
}

// flexUints is an array of flexUint. A non-array decodes to nil.
type flexUints []uint64

func (f *flexUints) UnmarshalJSON(data []byte) error {
	var items []flexUint
	if json.Unmarshal(data, &items) != nil || items == nil {
		*f = nil
		return nil
	}
	out := make(flexUints, len(items))
	for i, it := range items {
		out[i] = it.v
	}
	*f = out
	return nil
}

// numericText returns the text of a number literal or of a string.
func numericText(data []byte) (string, bool) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return "", false
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return "", false
		}
		return strings.TrimSpace(s), true
	}
	return string(data), true
}

func parseInt(data []byte) (int64, bool) {
	s, ok := numericText(data)
	if !ok {
		return 0, false
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func parseUint(data []byte) (uint64, bool) {
	s, ok := numericText(data)
	if !ok {
		return 0, false
	}
	if v, err := strconv.ParseUint(s, 10, 64); err == nil {
		return v, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f < 0 || f >= math.MaxUint64 {
		return 0, false
	}
	return uint64(f), true
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

// UnmarshalJSON decodes the top-level sections. A section that is present
// but of the wrong shape decodes to its zero value; absent or null sections
// stay nil so Validate can report them.
func (c *Capture) UnmarshalJSON(data []byte) error {
	var w struct {
		TraceEvents   json.RawMessage `json:"trace_events"`
		Lifecycle     json.RawMessage `json:"lifecycle"`
		DomainCatalog json.RawMessage `json:"domain_id"`
		NodeCatalog   json.RawMessage `json:"node_id"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*c = Capture{}
	if !isNull(w.TraceEvents) {
		if err := json.Unmarshal(w.TraceEvents, &c.TraceEvents); err != nil || c.TraceEvents == nil {
			c.TraceEvents = Events{}
		}
	}
	if !isNull(w.Lifecycle) {
		var lc Lifecycle
		_ = json.Unmarshal(w.Lifecycle, &lc)
		c.Lifecycle = &lc
	}
	if !isNull(w.DomainCatalog) {
		var domains map[string]DomainInfo
		if json.Unmarshal(w.DomainCatalog, &domains) == nil {
			c.DomainCatalog = domains
		}
	}
	if !isNull(w.NodeCatalog) {
		var nodes map[string]any
		if json.Unmarshal(w.NodeCatalog, &nodes) == nil {
			c.NodeCatalog = nodes
		}
	}
	return nil
}

func (l *Lifecycle) UnmarshalJSON(data []byte) error {
	var w struct {
		ConstructorStart flexInt `json:"constructor_start"`
		MainStart        flexInt `json:"main_start"`
		MainStop         flexInt `json:"main_stop"`
		DestructorStop   flexInt `json:"destructor_stop"`
	}
	if json.Unmarshal(data, &w) != nil {
		*l = Lifecycle{}
		return nil
	}
	*l = Lifecycle{
		ConstructorStart: w.ConstructorStart.v,
		MainStart:        w.MainStart.v,
		MainStop:         w.MainStop.v,
		DestructorStop:   w.DestructorStop.v,
	}
	return nil
}

// UnmarshalJSON decodes an event; an entry that is not an object decodes to
// the zero event.
func (e *RawEvent) UnmarshalJSON(data []byte) error {
	var w struct {
		ID            flexUint   `json:"id"`
		Domain        flexInt    `json:"d"`
		CorrelationID flexUint   `json:"corr_id"`
		Start         flexInt    `json:"start"`
		End           flexInt    `json:"end"`
		Duration      flexInt    `json:"dur"`
		Name          flexString `json:"name"`
		PID           flexInt    `json:"pid"`
		TID           flexInt    `json:"tid"`
		Signal        flexUint   `json:"sig"`
		Args          EventArgs  `json:"args"`
	}
	if json.Unmarshal(data, &w) != nil {
		*e = RawEvent{}
		return nil
	}
	*e = RawEvent{
		ID:            w.ID.v,
		Domain:        w.Domain.v,
		CorrelationID: w.CorrelationID.v,
		Start:         w.Start.v,
		End:           w.End.v,
		Duration:      w.Duration.ptr(),
		Name:          w.Name.v,
		PID:           w.PID.v,
		TID:           w.TID.v,
		Signal:        w.Signal.v,
		Args:          w.Args,
	}
	return nil
}

func (a *EventArgs) UnmarshalJSON(data []byte) error {
	var w struct {
		KernelName         flexString `json:"kernel_name"`
		GPUID              flexInt    `json:"gpu_id"`
		QueueID            flexInt    `json:"queue_id"`
		DispatchTime       flexInt    `json:"dispatch_time"`
		WorkgroupSize      flexInts   `json:"wrg"`
		GridSize           flexInts   `json:"grd"`
		PrivateSegmentSize flexInt    `json:"private_segment_size"`
		GroupSegmentSize   flexInt    `json:"group_segment_size"`
		KernelObject       flexUint   `json:"kernel_object"`
		KernargAddress     flexUint   `json:"kernarg_address"`
		DepSignals         flexUints  `json:"dep_sigs"`

		SrcType  flexInt  `json:"src_type"`
		DstType  flexInt  `json:"dst_type"`
		SrcAgent flexInt  `json:"src_agent"`
		DstAgent flexInt  `json:"dst_agent"`
		Size     flexUint `json:"size"`
		EngineID flexInt  `json:"engine_id"`
	}
	if json.Unmarshal(data, &w) != nil {
		*a = EventArgs{}
		return nil
	}
	*a = EventArgs{
		KernelName:         w.KernelName.ptr(),
		GPUID:              w.GPUID.v,
		QueueID:            w.QueueID.ptr(),
		DispatchTime:       w.DispatchTime.v,
		WorkgroupSize:      w.WorkgroupSize,
		GridSize:           w.GridSize,
		PrivateSegmentSize: w.PrivateSegmentSize.v,
		GroupSegmentSize:   w.GroupSegmentSize.v,
		KernelObject:       w.KernelObject.v,
		KernargAddress:     w.KernargAddress.v,
		DepSignals:         w.DepSignals,
		SrcType:            w.SrcType.ptr(),
		DstType:            w.DstType.ptr(),
		SrcAgent:           w.SrcAgent.v,
		DstAgent:           w.DstAgent.v,
		Size:               w.Size.v,
		EngineID:           w.EngineID.v,
	}
	return nil
}
