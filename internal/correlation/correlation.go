// Package correlation resolves the causal nesting depth of capture events.
//
// Events live in a dense arena indexed by position; each event's correlation
// id is turned into the arena index of its parent once, up front. Depths are
// memoized for the lifetime of a Resolver, which is one model build.
package correlation

import "github.com/daviddao/ratelprof_viewer/internal/capture"

const noParent = -1

// Resolver computes depth = 1 + depth(parent), with depth 1 for events that
// have no correlation id or whose parent is not in the capture.
type Resolver struct {
	index  map[uint64]int
	parent []int
	depth  []int
}

// NewResolver indexes events by id. When ids repeat, the last event wins.
func NewResolver(events []capture.RawEvent) *Resolver {
	r := &Resolver{
		index:  make(map[uint64]int, len(events)),
		parent: make([]int, len(events)),
		depth:  make([]int, len(events)),
	}
	for i := range events {
		r.index[events[i].ID] = i
	}
	for i := range events {
		r.parent[i] = noParent
		corr := events[i].CorrelationID
		if corr == 0 {
			continue
		}
		if p, ok := r.index[corr]; ok {
			r.parent[i] = p
		}
	}
	return r
}

// Len returns the number of indexed events.
func (r *Resolver) Len() int {
	return len(r.parent)
}

// Index returns the arena position of the event with the given id.
func (r *Resolver) Index(id uint64) (int, bool) {
	i, ok := r.index[id]
	return i, ok
}

// DepthOf returns the depth of the event with the given id, or 1 when the id
// is unknown.
func (r *Resolver) DepthOf(id uint64) int {
	i, ok := r.index[id]
	if !ok {
		return 1
	}
	return r.DepthAt(i)
}

// DepthAt returns the depth of the event at arena position i.
//
// The parent chain is walked iteratively. If the walk reaches an event it
// already visited, the edge that closed the cycle is treated as absent: the
// event it leaves from gets depth 1 and the depths unwind from there. Depths
// inside a cycle therefore depend on which member was resolved first.
func (r *Resolver) DepthAt(i int) int {
	if d := r.depth[i]; d != 0 {
		return d
	}

	var path []int
	onPath := make(map[int]struct{})
	base := 0
	for cur := i; ; {
		path = append(path, cur)
		onPath[cur] = struct{}{}

		p := r.parent[cur]
		if p == noParent {
			break
		}
		if d := r.depth[p]; d != 0 {
			base = d
			break
		}
		if _, seen := onPath[p]; seen {
			break
		}
		cur = p
	}

	for k := len(path) - 1; k >= 0; k-- {
		base++
		r.depth[path[k]] = base
	}
	return r.depth[i]
}
