package world

import (
	"fmt"
	"iter"
	"slices"
)

// SetParent links child under parent, appending it to parent's children.
//
// A node has at most one parent: linking a child that already has a different
// parent fails with ErrAlreadyParented (call Unparent first to move it).
// Re-linking to the same parent is a no-op.
func (w *World) SetParent(child, parent NodeID) error {
	c, ok := w.entities[child]
	if !ok {
		return fmt.Errorf("set parent of %v: %w", child, ErrNoEntity)
	}
	p, ok := w.entities[parent]
	if !ok {
		return fmt.Errorf("set parent of %v to %v: %w", child, parent, ErrNoEntity)
	}
	if c.parent == parent {
		return nil
	}
	if c.parent != Placeholder {
		return fmt.Errorf("set parent of %v to %v (current %v): %w", child, parent, c.parent, ErrAlreadyParented)
	}
	for a := range w.Ancestors(parent) {
		if a == child {
			return fmt.Errorf("set parent of %v to %v: %w", child, parent, ErrCycle)
		}
	}
	c.parent = parent
	p.children = append(p.children, child)
	return nil
}

// Unparent detaches child from its parent, making it a root.
func (w *World) Unparent(child NodeID) {
	c, ok := w.entities[child]
	if !ok || c.parent == Placeholder {
		return
	}
	if p, ok := w.entities[c.parent]; ok {
		p.children = slices.DeleteFunc(p.children, func(n NodeID) bool { return n == child })
	}
	c.parent = Placeholder
}

// Parent returns the parent of id, if any.
func (w *World) Parent(id NodeID) (NodeID, bool) {
	e, ok := w.entities[id]
	if !ok || e.parent == Placeholder {
		return Placeholder, false
	}
	return e.parent, true
}

// Children returns a copy of the children of id in attachment order.
func (w *World) Children(id NodeID) []NodeID {
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	return slices.Clone(e.children)
}

// ChildIndex returns the position of child within the children of parent, or -1.
func (w *World) ChildIndex(parent, child NodeID) int {
	e, ok := w.entities[parent]
	if !ok {
		return -1
	}
	return slices.Index(e.children, child)
}

// Ancestors yields id and then each ancestor, nearest first.
func (w *World) Ancestors(id NodeID) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		for cur := id; ; {
			e, ok := w.entities[cur]
			if !ok {
				return
			}
			if !yield(cur) {
				return
			}
			if e.parent == Placeholder {
				return
			}
			cur = e.parent
		}
	}
}

// Root returns the topmost ancestor of id (id itself when it has no parent).
func (w *World) Root(id NodeID) NodeID {
	root := id
	for a := range w.Ancestors(id) {
		root = a
	}
	return root
}

// Roots returns every entity without a parent, in spawn order.
func (w *World) Roots() []NodeID {
	var out []NodeID
	for _, id := range w.order {
		if e, ok := w.entities[id]; ok && e.parent == Placeholder && !e.despawning {
			out = append(out, id)
		}
	}
	return out
}

// DescendantsBFS yields the descendants of id (excluding id) breadth first,
// children in attachment order.
func (w *World) DescendantsBFS(id NodeID) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		queue := w.Children(id)
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if !yield(cur) {
				return
			}
			queue = append(queue, w.Children(cur)...)
		}
	}
}

// DescendantsDFS yields the descendants of id (excluding id) depth first,
// pre-order, children in attachment order.
func (w *World) DescendantsDFS(id NodeID) iter.Seq[NodeID] {
	return func(yield func(NodeID) bool) {
		var walk func(NodeID) bool
		walk = func(n NodeID) bool {
			for _, c := range w.Children(n) {
				if !yield(c) || !walk(c) {
					return false
				}
			}
			return true
		}
		walk(id)
	}
}
