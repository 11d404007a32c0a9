// Package classify maps raw capture events onto the closed set of event kinds
// and derives their display name and group path.
//
// The classifier is the only place that knows which domain id means what;
// adding a domain is a change to KindOf and Classify.
package classify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/daviddao/ratelprof_viewer/internal/capture"
)

// Kind is the semantic family of an event.
type Kind int

const (
	CPU Kind = iota
	Kernel
	Barrier
	Memory
)

func (k Kind) String() string {
	switch k {
	case CPU:
		return "CPU"
	case Kernel:
		return "KERNEL"
	case Barrier:
		return "BARRIER"
	case Memory:
		return "MEMORY"
	}
	return "?"
}

// IsGPU reports whether events of this kind execute on a GPU agent.
func (k Kind) IsGPU() bool {
	return k == Kernel || k == Barrier || k == Memory
}

// Domain ids with a dedicated classification. Every other id is a CPU domain.
const (
	MemoryDomain     int64 = 16
	KernelDomain     int64 = 17
	BarrierOrDomain  int64 = 18
	BarrierAndDomain int64 = 19
)

// Sentinels for catalog misses and absent optional fields.
const (
	UnknownDomain = "Unknown Domain"
	NotAvailable  = "N/A"
	UnknownMemory = "Unknown"
)

// DefaultQueueID is used for GPU dispatches recorded without a queue id.
const DefaultQueueID int64 = 1

// KindOf returns the kind of every event recorded in domain.
func KindOf(domain int64) Kind {
	switch domain {
	case KernelDomain:
		return Kernel
	case BarrierOrDomain, BarrierAndDomain:
		return Barrier
	case MemoryDomain:
		return Memory
	default:
		// Unrecognized domains are CPU domains.
		return CPU
	}
}

// Level is one step of a group path: a stable key, a display label and a
// sort value. Description is only set on the domain level.
type Level struct {
	Key         string
	Label       string
	Description string
	SortValue   int64
}

// Result is the classification of one event.
type Result struct {
	Kind        Kind
	DisplayName string
	// Path runs from the domain root to the leaf group of the event.
	Path []Level
	// Lane is the stacking lane for GPU kinds. CPU lanes come from the
	// correlation depth and are left at zero here.
	Lane int64

	// Resolved node identifiers, for detail display.
	Node            string
	SourceNode      string
	DestinationNode string
	SourceKind      string
	DestinationKind string
}

// LeafKey returns the key of the last path level.
func (r Result) LeafKey() string {
	return r.Path[len(r.Path)-1].Key
}

// Classifier resolves catalog lookups for one capture.
type Classifier struct {
	domains map[int64]capture.DomainInfo
	nodes   map[string]any
}

// New builds a classifier over the catalogs of c. Catalog entries keyed by
// name with an embedded id (older captures) are indexed by that id.
func New(c *capture.Capture) *Classifier {
	cl := &Classifier{
		domains: make(map[int64]capture.DomainInfo, len(c.DomainCatalog)),
		nodes:   c.NodeCatalog,
	}
	for key, info := range c.DomainCatalog {
		if _, err := strconv.ParseInt(key, 10, 64); err == nil || info.ID == nil {
			continue
		}
		if info.Name == "" {
			info.Name = key
		}
		cl.domains[*info.ID] = info
	}
	// Id-keyed entries take precedence over name-keyed ones.
	for key, info := range c.DomainCatalog {
		if id, err := strconv.ParseInt(key, 10, 64); err == nil {
			cl.domains[id] = info
		}
	}
	return cl
}

// Classify derives kind, display name, group path and lane for ev.
func (cl *Classifier) Classify(ev *capture.RawEvent) Result {
	d := ev.Domain
	root := Level{
		Key:         strconv.FormatInt(d, 10),
		Label:       cl.DomainName(d),
		Description: cl.DomainDescription(d),
	}

	switch kind := KindOf(d); kind {
	case Kernel, Barrier:
		name := NotAvailable
		switch d {
		case KernelDomain:
			if ev.Args.KernelName != nil && *ev.Args.KernelName != "" {
				name = *ev.Args.KernelName
			}
		case BarrierOrDomain:
			name = "BarrierOr"
		case BarrierAndDomain:
			name = "BarrierAnd"
		}
		gpu := ev.Args.GPUID
		queue := DefaultQueueID
		if ev.Args.QueueID != nil {
			queue = *ev.Args.QueueID
		}
		node := cl.NodeOf(gpu)
		nodeKey := fmt.Sprintf("%d_%d", d, gpu)
		return Result{
			Kind:        kind,
			DisplayName: name,
			Path: []Level{
				root,
				{Key: nodeKey, Label: "GPU Node ID. " + node, SortValue: gpu},
				{Key: fmt.Sprintf("%s_%d", nodeKey, queue), Label: fmt.Sprintf("Queue ID. %d", queue), SortValue: queue},
			},
			Lane: queue,
			Node: node,
		}

	case Memory:
		src := memoryKind(ev.Args.SrcType)
		dst := memoryKind(ev.Args.DstType)
		name := "Copy" + src + "To" + dst
		return Result{
			Kind:        kind,
			DisplayName: name,
			Path: []Level{
				root,
				{Key: fmt.Sprintf("%d_%s", d, name), Label: name, SortValue: d},
			},
			Lane:            1,
			SourceNode:      cl.NodeOf(ev.Args.SrcAgent),
			DestinationNode: cl.NodeOf(ev.Args.DstAgent),
			SourceKind:      src,
			DestinationKind: dst,
		}

	default:
		return Result{
			Kind:        CPU,
			DisplayName: ev.Name,
			Path: []Level{
				root,
				{Key: fmt.Sprintf("%d_%d", d, ev.TID), Label: fmt.Sprintf("TID. %d", ev.TID), SortValue: ev.TID},
			},
		}
	}
}

// memoryKind resolves the two-valued memory kind enum.
func memoryKind(v *int64) string {
	if v == nil {
		return UnknownMemory
	}
	switch *v {
	case 0:
		return "Host"
	case 1:
		return "Device"
	}
	return UnknownMemory
}

// NodeOf resolves an agent id to its node identifier, or "N/A".
func (cl *Classifier) NodeOf(agent int64) string {
	v, ok := cl.nodes[strconv.FormatInt(agent, 10)]
	if !ok || v == nil {
		return NotAvailable
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

// DomainName returns the catalog name of domain with the first RATELPROF_
// (or, in older captures, RATELPROF_DOMAIN_) removed wherever it occurs and
// underscores turned into spaces.
func (cl *Classifier) DomainName(domain int64) string {
	info, ok := cl.domains[domain]
	if !ok || info.Name == "" {
		return UnknownDomain
	}
	name := info.Name
	if strings.Contains(name, "RATELPROF_DOMAIN_") {
		name = strings.Replace(name, "RATELPROF_DOMAIN_", "", 1)
	} else {
		name = strings.Replace(name, "RATELPROF_", "", 1)
	}
	return strings.ReplaceAll(name, "_", " ")
}

// DomainDescription returns the catalog description of domain.
func (cl *Classifier) DomainDescription(domain int64) string {
	info, ok := cl.domains[domain]
	if !ok || info.Desc == "" {
		return UnknownDomain
	}
	return info.Desc
}
