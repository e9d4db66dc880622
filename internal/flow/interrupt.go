package flow

import (
	"reflect"
	"slices"

	"github.com/joeycumines/actionflow/internal/world"
)

// Interrupt cooperatively cancels the run in flight on node.
//
// If node is not Running, Interrupt does nothing and returns false, unless node
// is a Repeat between iterations: its queued rerun is dropped and result is
// reported to its parent. Otherwise every Running node in the subtree is marked Interrupted and receives
// OnInterrupt, deepest first, node itself last. Handlers that call Abort stop:
// node reports result (Failure when nil) to its parent, descendants stop
// silently. Actions without interrupt handlers keep running; their eventual
// results reach a parent that is no longer Running, which combinators ignore.
func (e *Engine) Interrupt(node world.NodeID, result any) bool {
	e.checkOwner()
	running, ok := world.Get[Running](e.world, node)
	if !ok && !world.Has[repeatPending](e.world, node) {
		return false
	}
	if result == nil {
		result = Failure
	}
	if _, ok := e.pairs.byResult[reflect.TypeOf(result)]; !ok {
		panic(e.wiringError(node, reflect.TypeOf(result), ErrUnpairedPayload))
	}
	if !ok {
		return e.interruptPendingRepeat(node, result)
	}

	var targets []world.NodeID
	for n := range e.world.DescendantsBFS(node) {
		if world.Has[Running](e.world, n) {
			targets = append(targets, n)
		}
	}
	slices.Reverse(targets)
	targets = append(targets, node)
	for _, n := range targets {
		e.world.Insert(n, Interrupted{})
	}

	e.emit(Trace{Phase: PhaseInterrupt, Action: node, Origin: running.Origin, Payload: result})

	for _, n := range targets {
		r, ok := world.Get[Running](e.world, n)
		if !ok {
			continue
		}
		ev := OnInterrupt{Action: n, Root: node, Origin: r.Origin, Result: result, engine: e}
		for _, h := range e.registry.interruptHandlers(n) {
			h(ev)
		}
	}
	return true
}
