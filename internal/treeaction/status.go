// Package treeaction connects flow trees with go-behaviortree. A bt.Node can
// run as a flow action (Leaf), a flow subtree can be ticked as a bt.Node
// (Subtree), and a Runner drives an engine from bt tickers.
package treeaction

import (
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/actionflow/internal/flow"
)

// StatusOf converts a flow result to a bt status.
func StatusOf(r flow.RunResult) bt.Status {
	if r == flow.Success {
		return bt.Success
	}
	return bt.Failure
}

// ResultOf converts a bt status to a flow result. It reports false for
// bt.Running. Unknown statuses are treated as failure.
func ResultOf(s bt.Status) (flow.RunResult, bool) {
	switch s {
	case bt.Running:
		return flow.Success, false
	case bt.Success:
		return flow.Success, true
	default:
		return flow.Failure, true
	}
}
