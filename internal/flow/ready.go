package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// ReadyAction marks a node whose action has asynchronous startup work (loading,
// compiling, connecting). Such a node observes GetReady and, once its work is
// done, calls EmitReady.
type ReadyAction struct{}

// GetReady is notified on a ReadyAction node to request that it get ready.
type GetReady struct{}

// Ready is notified by a node that finished getting ready. It propagates to
// every ancestor.
type Ready struct{}

// EmitReady reports node as ready.
func EmitReady(e *Engine, node world.NodeID) {
	e.checkOwner()
	world.NotifyPropagate(e.world, node, Ready{})
}

// OnGetReady registers fn to be called when node is asked to get ready.
func OnGetReady(e *Engine, node world.NodeID, fn func(e *Engine, node world.NodeID)) world.ObserverID {
	return world.Observe(e.world, node, func(tr world.Trigger[GetReady]) {
		fn(e, tr.Target)
	})
}

// AwaitReady is a barrier: when run, it finds every ReadyAction among the
// descendants of its agent, asks each to get ready, and succeeds once all of
// them have emitted Ready. With none it succeeds immediately.
//
// Only Ready events originating from the recorded nodes count, each once, so
// unrelated subtrees of the same agent cannot satisfy the barrier.
type AwaitReady struct{}

type readyWait struct {
	pending  map[world.NodeID]struct{}
	observer world.ObserverID
}

func (AwaitReady) ActionKind() Kind { return "flow.AwaitReady" }

func (AwaitReady) Setup(h *Handlers) {
	HandleRun(h, func(ev OnRun[Start]) {
		e, w := ev.Engine(), ev.World()
		cancelReadyWait(w, ev.Action)

		agent := ev.Agent()
		var targets []world.NodeID
		for n := range w.DescendantsBFS(agent) {
			if world.Has[ReadyAction](w, n) {
				targets = append(targets, n)
			}
		}
		if len(targets) == 0 {
			ev.Complete(Success)
			return
		}

		state := &readyWait{pending: make(map[world.NodeID]struct{}, len(targets))}
		for _, n := range targets {
			state.pending[n] = struct{}{}
		}
		action, origin := ev.Action, ev.Origin
		// observe before asking, so a synchronous Ready is counted
		state.observer = world.Observe(w, agent, func(tr world.Trigger[Ready]) {
			if _, ok := state.pending[tr.OriginalTarget]; !ok {
				return
			}
			delete(state.pending, tr.OriginalTarget)
			if len(state.pending) != 0 {
				return
			}
			cancelReadyWait(e.world, action)
			e.Result(action, origin, Success)
		})
		w.Insert(action, state)

		for _, n := range targets {
			if _, ok := state.pending[n]; !ok {
				continue
			}
			world.Notify(w, n, GetReady{})
		}
	})

	h.HandleInterrupt(func(ev OnInterrupt) {
		cancelReadyWait(ev.World(), ev.Action)
		ev.Abort()
	})
}

func cancelReadyWait(w *world.World, node world.NodeID) {
	if state, ok := world.Get[*readyWait](w, node); ok {
		w.Unobserve(state.observer)
		world.Remove[*readyWait](w, node)
	}
}
