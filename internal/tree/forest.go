// Package tree keeps a task subtree in an arena: nodes live in one slice,
// addressed by index, with a parent→children adjacency list maintained next
// to them. Walking a subtree is then O(subtree) with no further queries.
package tree

import "errors"

var ErrUnknownNode = errors.New("tree: unknown node")

// Edge is one (id, parent) pair as loaded from the store. Parent is 0 for a
// node whose parent is outside the loaded set.
type Edge struct {
	ID     int64
	Parent int64
}

type node struct {
	id       int64
	parent   int // arena index, -1 for roots
	children []int
}

type Forest struct {
	nodes []node
	index map[int64]int
}

// Build assembles a forest from edges in any order. Edges whose parent is not
// part of the set become roots.
func Build(edges []Edge) *Forest {
	f := &Forest{
		nodes: make([]node, 0, len(edges)),
		index: make(map[int64]int, len(edges)),
	}
	for _, e := range edges {
		if _, ok := f.index[e.ID]; ok {
			continue
		}
		f.index[e.ID] = len(f.nodes)
		f.nodes = append(f.nodes, node{id: e.ID, parent: -1})
	}
	for _, e := range edges {
		child := f.index[e.ID]
		p, ok := f.index[e.Parent]
		if !ok || p == child || f.nodes[child].parent != -1 {
			continue
		}
		f.nodes[child].parent = p
		f.nodes[p].children = append(f.nodes[p].children, child)
	}
	return f
}

func (f *Forest) Len() int { return len(f.nodes) }

func (f *Forest) Contains(id int64) bool {
	_, ok := f.index[id]
	return ok
}

// Children returns the direct children of id in load order.
func (f *Forest) Children(id int64) ([]int64, error) {
	i, ok := f.index[id]
	if !ok {
		return nil, ErrUnknownNode
	}
	out := make([]int64, 0, len(f.nodes[i].children))
	for _, c := range f.nodes[i].children {
		out = append(out, f.nodes[c].id)
	}
	return out, nil
}

// PostOrder lists the subtree rooted at id with every descendant before its
// ancestor; id itself comes last.
func (f *Forest) PostOrder(id int64) ([]int64, error) {
	root, ok := f.index[id]
	if !ok {
		return nil, ErrUnknownNode
	}

	type frame struct {
		idx  int
		next int
	}
	out := make([]int64, 0, len(f.nodes))
	seen := make([]bool, len(f.nodes))
	stack := []frame{{idx: root}}
	seen[root] = true
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		n := f.nodes[top.idx]
		if top.next < len(n.children) {
			c := n.children[top.next]
			top.next++
			if !seen[c] {
				seen[c] = true
				stack = append(stack, frame{idx: c})
			}
			continue
		}
		out = append(out, n.id)
		stack = stack[:len(stack)-1]
	}
	return out, nil
}

// Depth is the number of edges between id and its root within the forest.
func (f *Forest) Depth(id int64) (int, error) {
	i, ok := f.index[id]
	if !ok {
		return 0, ErrUnknownNode
	}
	d := 0
	for p := f.nodes[i].parent; p != -1; p = f.nodes[p].parent {
		d++
		if d > len(f.nodes) {
			break
		}
	}
	return d, nil
}

// Height is the longest downward path (in edges) below id.
func (f *Forest) Height(id int64) (int, error) {
	order, err := f.PostOrder(id)
	if err != nil {
		return 0, err
	}
	h := make(map[int64]int, len(order))
	for _, n := range order {
		best := 0
		for _, c := range f.nodes[f.index[n]].children {
			if v, ok := h[f.nodes[c].id]; ok && v+1 > best {
				best = v + 1
			}
		}
		h[n] = best
	}
	return h[id], nil
}
