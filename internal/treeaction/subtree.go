package treeaction

import (
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Subtree exposes the flow subtree rooted at node as a bt.Node. A tick starts
// the subtree if it is idle, reports bt.Running while it runs, and reports its
// result once. The following tick starts it again.
//
// The returned node uses e on the calling goroutine; the caller serializes
// ticks with any other use of e. Progress of long-running actions depends on
// the caller also calling e.Update.
//
// The node observes results of node until release is called. Release is
// idempotent, and must be serialized with other uses of e too.
func Subtree(e *flow.Engine, node world.NodeID) (_ bt.Node, release func()) {
	var last *flow.RunResult
	id := world.Observe(e.World(), node, func(tr world.Trigger[flow.OnResult[flow.RunResult]]) {
		r := tr.Event.Payload
		last = &r
	})
	take := func() (bt.Status, bool) {
		if last == nil {
			return bt.Running, false
		}
		r := *last
		last = nil
		return StatusOf(r), true
	}
	release = func() { e.World().Unobserve(id) }
	return bt.New(func([]bt.Node) (bt.Status, error) {
		if status, ok := take(); ok {
			return status, nil
		}
		if !e.IsRunning(node) {
			if err := e.TryRun(node, flow.Start{}); err != nil {
				return bt.Failure, err
			}
			if status, ok := take(); ok {
				return status, nil
			}
		}
		return bt.Running, nil
	}), release
}
