package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// Repeat re-runs its node each time the node produces a RunResult. It sits
// alongside the node's own action (e.g. a Sequence) and requires NoBubble, so
// repeated results do not reach the parent.
//
// The rerun is deferred to the next Update rather than issued from inside the
// result, so one iteration happens per Update even when the subtree completes
// synchronously. Between iterations the node is not Running, but it can still
// be interrupted. Repetition ends when:
//
//   - Times is positive and that many results have been produced; the last
//     result is then reported to the parent;
//   - the node is interrupted, during an iteration or between two; the
//     interrupt's result is reported to the parent;
//   - StopRepeat is called; the result of the iteration in flight, or of the
//     last one when none is, reaches the parent.
type Repeat struct {
	// Times limits the number of iterations. Zero repeats forever.
	Times int
}

type repeatCount struct{ n int }

// repeatPending marks a Repeat node whose rerun is queued. last is the result
// of the iteration that just ended.
type repeatPending struct {
	origin world.NodeID
	last   any
}

func (Repeat) ActionKind() Kind { return "flow.Repeat" }

func (Repeat) Requires() []any { return []any{NoBubble{}} }

func (Repeat) Setup(h *Handlers) {
	HandleResult(h, func(ev OnResult[RunResult]) {
		e, w := ev.Engine(), ev.World()
		r, ok := world.Get[Repeat](w, ev.Action)
		if !ok {
			return
		}
		if e.IsInterrupted(ev.Action) {
			world.Remove[*repeatCount](w, ev.Action)
			world.Remove[repeatPending](w, ev.Action)
			notifyParent(e, ev.Action, ev.Origin, ev.Payload)
			return
		}
		if r.Times > 0 {
			count, ok := world.Get[*repeatCount](w, ev.Action)
			if !ok {
				count = &repeatCount{}
				w.Insert(ev.Action, count)
			}
			count.n++
			if count.n >= r.Times {
				world.Remove[*repeatCount](w, ev.Action)
				world.Remove[repeatPending](w, ev.Action)
				notifyParent(e, ev.Action, ev.Origin, ev.Payload)
				return
			}
		}
		node, origin := ev.Action, ev.Origin
		w.Insert(node, repeatPending{origin: origin, last: ev.Payload})
		e.Defer(func(e *Engine) {
			w := e.world
			if !w.Alive(node) || !world.Has[repeatPending](w, node) {
				return
			}
			world.Remove[repeatPending](w, node)
			if !world.Has[Repeat](w, node) || e.IsRunning(node) {
				return
			}
			e.RunFrom(node, origin, Start{})
		})
	})
}

func notifyParent(e *Engine, node, origin world.NodeID, payload any) {
	if parent, ok := e.world.Parent(node); ok {
		e.Notify(parent, node, origin, payload)
	}
}

// StopRepeat removes Repeat (and its NoBubble) from node, so the iteration in
// flight is the last one and its result reaches the parent. Between iterations
// the result of the last one is reported to the parent at once.
func StopRepeat(e *Engine, node world.NodeID) {
	e.checkOwner()
	world.Remove[Repeat](e.world, node)
	world.Remove[NoBubble](e.world, node)
	world.Remove[*repeatCount](e.world, node)
	if p, ok := world.Get[repeatPending](e.world, node); ok {
		world.Remove[repeatPending](e.world, node)
		notifyParent(e, node, p.origin, p.last)
	}
}

// interruptPendingRepeat ends a Repeat between iterations: the queued rerun is
// dropped and result reaches the parent. It reports false if node has no rerun
// queued.
func (e *Engine) interruptPendingRepeat(node world.NodeID, result any) bool {
	p, ok := world.Get[repeatPending](e.world, node)
	if !ok {
		return false
	}
	world.Remove[repeatPending](e.world, node)
	world.Remove[*repeatCount](e.world, node)
	e.emit(Trace{Phase: PhaseInterrupt, Action: node, Origin: p.origin, Payload: result})
	notifyParent(e, node, p.origin, result)
	return true
}
