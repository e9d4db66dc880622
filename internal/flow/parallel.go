package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// Parallel runs all of its children at once. It fails as soon as any child
// fails, interrupting the children still running, and succeeds once every
// child has succeeded. With no children it succeeds immediately.
type Parallel struct{}

// parallelState tracks the children of a running Parallel that have yet to
// report.
type parallelState struct {
	pending map[world.NodeID]struct{}
}

func (Parallel) ActionKind() Kind { return "flow.Parallel" }

func (Parallel) Setup(h *Handlers) {
	HandleRun(h, func(ev OnRun[Start]) {
		children := ev.Children()
		if len(children) == 0 {
			ev.Complete(Success)
			return
		}
		state := &parallelState{pending: make(map[world.NodeID]struct{}, len(children))}
		for _, c := range children {
			state.pending[c] = struct{}{}
		}
		ev.World().Insert(ev.Action, state)
		for _, c := range children {
			// a child failing synchronously finishes the parallel early
			if _, ok := world.Get[*parallelState](ev.World(), ev.Action); !ok {
				return
			}
			ev.RunChild(c, Start{})
		}
	})

	HandleChildResult(h, func(ev OnChildResult[RunResult]) {
		w := ev.World()
		state, ok := world.Get[*parallelState](w, ev.Action)
		if !ok || !ev.Engine().IsRunning(ev.Action) {
			return
		}
		if _, ok := state.pending[ev.Child]; !ok {
			return
		}
		delete(state.pending, ev.Child)

		if ev.Payload == Failure {
			world.Remove[*parallelState](w, ev.Action)
			for _, c := range w.Children(ev.Action) {
				if _, ok := state.pending[c]; ok {
					ev.Engine().Interrupt(c, Failure)
				}
			}
			ev.Bubble()
			return
		}
		if len(state.pending) == 0 {
			world.Remove[*parallelState](w, ev.Action)
			ev.Bubble()
		}
	})

	h.HandleInterrupt(func(ev OnInterrupt) {
		world.Remove[*parallelState](ev.World(), ev.Action)
		ev.Abort()
	})
}
