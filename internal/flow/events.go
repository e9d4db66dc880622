package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// RunRequest is a run payload addressed to an action, with an origin. Either
// field may be left as the placeholder: the action resolves to the dispatch
// target and the origin resolves to the action, both at dispatch time. This
// lets a request be built before the node it will run on exists.
type RunRequest[T any] struct {
	Action  world.NodeID
	Origin  world.NodeID
	Payload T
}

// Local builds a request whose action and origin are both the node it is
// eventually dispatched to.
func Local[T any](payload T) RunRequest[T] {
	return RunRequest[T]{Payload: payload}
}

// Global builds a request addressed to a specific action. The origin resolves
// to that action.
func Global[T any](action world.NodeID, payload T) RunRequest[T] {
	return RunRequest[T]{Action: action, Payload: payload}
}

// NewRunRequest builds a fully addressed request.
func NewRunRequest[T any](action, origin world.NodeID, payload T) RunRequest[T] {
	return RunRequest[T]{Action: action, Origin: origin, Payload: payload}
}

// Resolve fills in placeholders, using target for the action when unset.
func (r RunRequest[T]) Resolve(target world.NodeID) RunRequest[T] {
	if r.Action.IsPlaceholder() {
		r.Action = target
	}
	if r.Origin.IsPlaceholder() {
		r.Origin = r.Action
	}
	return r
}

// Dispatch resolves the request against target and runs it.
func (r RunRequest[T]) Dispatch(e *Engine, target world.NodeID) {
	r = r.Resolve(target)
	e.RunFrom(r.Action, r.Origin, r.Payload)
}

// OnRun is delivered to the handlers of an action asked to run.
type OnRun[T any] struct {
	Payload T
	Action  world.NodeID
	Origin  world.NodeID

	engine *Engine
}

func (ev OnRun[T]) Engine() *Engine { return ev.engine }
func (ev OnRun[T]) World() *world.World { return ev.engine.world }
func (ev OnRun[T]) Agent() world.NodeID { return ev.engine.Agent(ev.Action) }
func (ev OnRun[T]) Children() []world.NodeID { return ev.engine.world.Children(ev.Action) }

// Complete produces the result of this run. result must be of the type paired
// with T.
func (ev OnRun[T]) Complete(result any) {
	ev.engine.checkPaired(ev.Payload, result)
	ev.engine.Result(ev.Action, ev.Origin, result)
}

// RunChild runs payload on another node, keeping this run's origin.
func (ev OnRun[T]) RunChild(child world.NodeID, payload any) {
	ev.engine.RunFrom(child, ev.Origin, payload)
}

// OnResult is delivered to an action (its handlers and world observers) when it
// produces a result.
type OnResult[T any] struct {
	Payload T
	Action  world.NodeID
	Origin  world.NodeID

	engine *Engine
}

func (ev OnResult[T]) Engine() *Engine { return ev.engine }
func (ev OnResult[T]) World() *world.World { return ev.engine.world }

// OnChildResult is delivered to the parent of an action that produced a result.
// Action is the parent, Child the node that produced the result.
type OnChildResult[T any] struct {
	Payload T
	Action  world.NodeID
	Child   world.NodeID
	Origin  world.NodeID

	engine *Engine
}

func (ev OnChildResult[T]) Engine() *Engine { return ev.engine }
func (ev OnChildResult[T]) World() *world.World { return ev.engine.world }

// Bubble produces the child's result as this node's own result.
func (ev OnChildResult[T]) Bubble() {
	ev.engine.Result(ev.Action, ev.Origin, ev.Payload)
}

// BubbleWith produces result as this node's own result.
func (ev OnChildResult[T]) BubbleWith(result any) {
	ev.engine.Result(ev.Action, ev.Origin, result)
}

// RunChild runs payload on child, keeping the traversal's origin.
func (ev OnChildResult[T]) RunChild(child world.NodeID, payload any) {
	ev.engine.RunFrom(child, ev.Origin, payload)
}

// ChildIndex returns the position of Child among the children of Action.
func (ev OnChildResult[T]) ChildIndex() int {
	return ev.engine.world.ChildIndex(ev.Action, ev.Child)
}

// OnInterrupt is delivered to each running node in an interrupted subtree.
// Root is the node Engine.Interrupt was called on.
type OnInterrupt struct {
	Action world.NodeID
	Root   world.NodeID
	Origin world.NodeID
	// Result is what the interrupted root reports to its parent on Abort.
	Result any

	engine *Engine
}

func (ev OnInterrupt) Engine() *Engine { return ev.engine }
func (ev OnInterrupt) World() *world.World { return ev.engine.world }

// IsRoot reports whether this node is the one that was interrupted, rather
// than a running descendant of it.
func (ev OnInterrupt) IsRoot() bool { return ev.Action == ev.Root }

// Abort stops the action. The interrupted root produces Result (which bubbles
// to its parent as usual); descendants stop silently. Aborting a node that has
// already stopped does nothing.
func (ev OnInterrupt) Abort() {
	if !world.Has[Running](ev.engine.world, ev.Action) {
		return
	}
	if ev.IsRoot() {
		ev.engine.Result(ev.Action, ev.Origin, ev.Result)
		return
	}
	world.Remove[Running](ev.engine.world, ev.Action)
}
