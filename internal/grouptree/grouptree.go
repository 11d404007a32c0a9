// Package grouptree builds the domain → resource → sub-resource group forest
// the timeline is organized by, and aggregates per-group event durations.
package grouptree

import (
	"fmt"

	"github.com/daviddao/ratelprof_viewer/internal/classify"
)

// Group is one node of the forest as handed to a renderer.
type Group struct {
	ID          string        `json:"id"`
	Label       string        `json:"label"`
	Description string        `json:"description,omitempty"`
	TreeLevel   int           `json:"treeLevel"`
	Value       int64         `json:"value"`
	Children    []string      `json:"children,omitempty"`
	Kind        classify.Kind `json:"-"`
	KindName    string        `json:"kind"`
	ShowNested  bool          `json:"showNested"`

	TotalDuration int64 `json:"totalDuration"`
	// Utilization is the share of the main phase, in percent, covered by the
	// group's events. Only set on GPU leaves.
	Utilization float64 `json:"utilization,omitempty"`
}

type node struct {
	group    Group
	label    string
	children []int
	// Kind of the first event that reached this node.
	kind classify.Kind
}

// Tree is an append-only group forest. It is not safe for concurrent use.
type Tree struct {
	nodes []node
	byID  map[string]int
	roots []int
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{byID: make(map[string]int)}
}

// Len returns the number of groups created so far.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Ensure materializes every level of path that does not exist yet, linking
// each as a child of the previous one, and returns the id of the last level.
// Calling it again with the same path creates nothing.
func (t *Tree) Ensure(path []classify.Level, kind classify.Kind) string {
	parent := -1
	for depth, lvl := range path {
		idx, ok := t.byID[lvl.Key]
		if !ok {
			idx = len(t.nodes)
			t.nodes = append(t.nodes, node{
				group: Group{
					ID:          lvl.Key,
					Label:       lvl.Label,
					Description: lvl.Description,
					TreeLevel:   depth + 1,
					Value:       lvl.SortValue,
				},
				label: lvl.Label,
				kind:  kind,
			})
			t.byID[lvl.Key] = idx
			if parent < 0 {
				t.roots = append(t.roots, idx)
			} else {
				t.nodes[parent].children = append(t.nodes[parent].children, idx)
			}
		}
		parent = idx
	}
	if parent < 0 {
		return ""
	}
	return t.nodes[parent].group.ID
}

// AddDuration accumulates ns on the group with the given id.
func (t *Tree) AddDuration(id string, ns int64) error {
	idx, ok := t.byID[id]
	if !ok {
		return fmt.Errorf("group %q does not exist", id)
	}
	t.nodes[idx].group.TotalDuration += ns
	return nil
}

// Finalize assigns root sort values, computes GPU utilization against
// mainDuration and returns the forest flattened in preorder.
//
// Roots of GPU domains get ascending values from 1 and roots of CPU domains
// descending values from the number of domains, both in first-seen order, so
// GPU domains sort ahead of CPU domains. A non-positive mainDuration yields
// 0% utilization.
func (t *Tree) Finalize(mainDuration int64) []Group {
	gpuCounter := int64(1)
	cpuCounter := int64(len(t.roots))
	for _, r := range t.roots {
		n := &t.nodes[r]
		if n.kind.IsGPU() {
			n.group.Value = gpuCounter
			gpuCounter++
			n.group.ShowNested = true
		} else {
			n.group.Value = cpuCounter
			cpuCounter--
		}
	}

	for i := range t.nodes {
		n := &t.nodes[i]
		n.group.Kind = n.kind
		n.group.KindName = n.kind.String()
		if len(n.children) > 0 || !n.kind.IsGPU() {
			continue
		}
		var pct float64
		if mainDuration > 0 {
			pct = float64(n.group.TotalDuration) * 100 / float64(mainDuration)
		}
		n.group.Utilization = pct
		n.group.Label = fmt.Sprintf("%s | GPU USAGE: %.2f%%", n.label, pct)
	}

	out := make([]Group, 0, len(t.nodes))
	var walk func(idx int)
	walk = func(idx int) {
		n := &t.nodes[idx]
		g := n.group
		if len(n.children) > 0 {
			g.Children = make([]string, len(n.children))
			for i, c := range n.children {
				g.Children[i] = t.nodes[c].group.ID
			}
		}
		out = append(out, g)
		for _, c := range n.children {
			walk(c)
		}
	}
	for _, r := range t.roots {
		walk(r)
	}
	return out
}
