package planning

import (
	"fmt"

	bt "github.com/joeycumines/go-behaviortree"
	pabt "github.com/joeycumines/go-pabt"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/treeaction"
	"github.com/joeycumines/actionflow/internal/world"
)

// Plan is a flow action that achieves Goals using Actions. Each run builds a
// fresh plan over the agent's blackboard and ticks it: once when the run
// starts, then once per Engine.Update until the plan succeeds or fails.
//
// The plan fails at once if the agent has no blackboard.
type Plan struct {
	// Goals are alternatives; the plan succeeds when any group holds.
	Goals   []pabt.IConditions
	Actions []*Action
}

// planRun is the plan of a running Plan node.
type planRun struct {
	node bt.Node
}

func (Plan) ActionKind() flow.Kind { return "planning.Plan" }

func (Plan) Setup(h *flow.Handlers) {
	flow.HandleRun(h, func(ev flow.OnRun[flow.Start]) {
		e, w := ev.Engine(), ev.World()
		world.Remove[*planRun](w, ev.Action)
		p := world.MustGet[Plan](w, ev.Action)
		node, err := p.build(e, ev.Action)
		if err != nil {
			e.Logger().Error("planning: cannot plan", "node", e.NameOf(ev.Action), "error", err)
			ev.Complete(flow.Failure)
			return
		}
		w.Insert(ev.Action, &planRun{node: node})
		step(e, ev.Action)
	})

	flow.HandleResult(h, func(ev flow.OnResult[flow.RunResult]) {
		world.Remove[*planRun](ev.World(), ev.Action)
	})

	h.HandleInterrupt(func(ev flow.OnInterrupt) {
		world.Remove[*planRun](ev.World(), ev.Action)
		ev.Abort()
	})
}

// Tick implements flow.Ticker.
func (Plan) Tick(e *flow.Engine, node world.NodeID) { step(e, node) }

func step(e *flow.Engine, node world.NodeID) {
	if run, ok := world.Get[*planRun](e.World(), node); ok {
		treeaction.Step(e, node, run.node)
	}
}

func (p Plan) build(e *flow.Engine, action world.NodeID) (bt.Node, error) {
	if len(p.Goals) == 0 {
		return nil, fmt.Errorf("no goals")
	}
	bb, ok := blackboard.For(e, action)
	if !ok {
		return nil, fmt.Errorf("agent %s has no blackboard", e.NameOf(e.Agent(action)))
	}
	state := NewState(bb)
	state.Register(p.Actions...)
	plan, err := pabt.INew(state, p.Goals)
	if err != nil {
		return nil, err
	}
	return plan.Node(), nil
}
