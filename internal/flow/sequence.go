package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// Sequence runs its children one at a time, in attachment order, stopping at
// the first Failure. It reports Failure if any child failed, else Success.
// With no children it succeeds immediately. Only the child it last started can
// move it on; results from children run by anything else are ignored.
type Sequence struct{}

func (Sequence) ActionKind() Kind { return "flow.Sequence" }

func (Sequence) Setup(h *Handlers) {
	setupOrdered(h, Failure)
}

// Fallback runs its children one at a time, in attachment order, stopping at
// the first Success. It reports Success if any child succeeded, else Failure.
// With no children it fails immediately.
type Fallback struct{}

func (Fallback) ActionKind() Kind { return "flow.Fallback" }

func (Fallback) Setup(h *Handlers) {
	setupOrdered(h, Success)
}

// current is the child a running Sequence, Fallback or Inverter is waiting
// on. Results from any other child are ignored.
type current struct {
	child world.NodeID
}

// awaiting returns the state of node if it is running and waiting on child.
func awaiting(e *Engine, node, child world.NodeID) (*current, bool) {
	c, ok := world.Get[*current](e.world, node)
	if !ok || c.child != child || !e.IsRunning(node) {
		return nil, false
	}
	return c, true
}

func runFirst(ev OnRun[Start], children []world.NodeID) {
	ev.World().Insert(ev.Action, &current{child: children[0]})
	ev.RunChild(children[0], Start{})
}

// setupOrdered wires a combinator that walks its children in order, finishing
// early with the first child result equal to stop.
func setupOrdered(h *Handlers, stop RunResult) {
	HandleRun(h, func(ev OnRun[Start]) {
		children := ev.Children()
		if len(children) == 0 {
			ev.Complete(stop.Invert())
			return
		}
		runFirst(ev, children)
	})

	HandleChildResult(h, func(ev OnChildResult[RunResult]) {
		c, ok := awaiting(ev.Engine(), ev.Action, ev.Child)
		if !ok {
			return
		}
		next, more := nextChild(ev.World(), ev.Action, ev.Child)
		if ev.Payload == stop || !more {
			world.Remove[*current](ev.World(), ev.Action)
			ev.Bubble()
			return
		}
		c.child = next
		ev.RunChild(next, Start{})
	})

	h.HandleInterrupt(func(ev OnInterrupt) {
		world.Remove[*current](ev.World(), ev.Action)
		ev.Abort()
	})
}

func nextChild(w *world.World, parent, child world.NodeID) (world.NodeID, bool) {
	children := w.Children(parent)
	i := w.ChildIndex(parent, child)
	if i < 0 || i+1 >= len(children) {
		return world.Placeholder, false
	}
	return children[i+1], true
}

// Inverter runs its first child and reports the opposite of its result. With
// no children it fails.
type Inverter struct{}

func (Inverter) ActionKind() Kind { return "flow.Inverter" }

func (Inverter) Setup(h *Handlers) {
	HandleRun(h, func(ev OnRun[Start]) {
		children := ev.Children()
		if len(children) == 0 {
			ev.Complete(Failure)
			return
		}
		runFirst(ev, children)
	})
	HandleChildResult(h, func(ev OnChildResult[RunResult]) {
		if _, ok := awaiting(ev.Engine(), ev.Action, ev.Child); !ok {
			return
		}
		world.Remove[*current](ev.World(), ev.Action)
		ev.BubbleWith(ev.Payload.Invert())
	})
	h.HandleInterrupt(func(ev OnInterrupt) {
		world.Remove[*current](ev.World(), ev.Action)
		ev.Abort()
	})
}
