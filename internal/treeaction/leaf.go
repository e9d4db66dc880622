package treeaction

import (
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Leaf runs a bt.Node as a flow action. The node is ticked when the action
// runs, then once per Engine.Update while it reports bt.Running. A tick error
// is logged and treated as failure.
//
// An interrupted Leaf stops being ticked. The bt.Node is not told.
type Leaf struct {
	Node bt.Node
}

func (Leaf) ActionKind() flow.Kind { return "treeaction.Leaf" }

func (Leaf) Setup(h *flow.Handlers) {
	flow.HandleRun(h, func(ev flow.OnRun[flow.Start]) {
		leaf, _ := world.Get[Leaf](ev.World(), ev.Action)
		Step(ev.Engine(), ev.Action, leaf.Node)
	})
	h.HandleInterrupt(func(ev flow.OnInterrupt) { ev.Abort() })
}

// Tick implements flow.Ticker.
func (l Leaf) Tick(e *flow.Engine, node world.NodeID) { Step(e, node, l.Node) }

// Step ticks n on behalf of the running action node and, unless n reports
// bt.Running, completes the run with the converted status. A nil n fails.
func Step(e *flow.Engine, node world.NodeID, n bt.Node) {
	running, ok := world.Get[flow.Running](e.World(), node)
	if !ok {
		return
	}
	status := bt.Failure
	if n != nil {
		var err error
		status, err = n.Tick()
		if err != nil {
			e.Logger().Error("treeaction: tick failed", "node", e.NameOf(node), "error", err)
			status = bt.Failure
		}
	}
	if r, done := ResultOf(status); done {
		e.Result(node, running.Origin, r)
	}
}
