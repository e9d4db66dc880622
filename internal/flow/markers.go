package flow

import (
	"github.com/joeycumines/actionflow/internal/world"
)

// Running is present on a node while one of its actions has an in-flight run.
// It is inserted before run handlers are invoked and removed before result
// observers are notified. Origin is the origin of the in-flight run.
type Running struct {
	Origin world.NodeID
}

// NoBubble stops a node's results from reaching its parent automatically.
// Actions carrying it notify their parent explicitly, if at all.
type NoBubble struct{}

// Interrupted is inserted on every running node of an interrupted subtree, for
// actions that poll for cancellation. It is cleared when the node next runs.
type Interrupted struct{}

// ActionOf marks a node (and, by inheritance, its descendants) as acting upon
// Agent.
type ActionOf struct {
	Agent world.NodeID
}

// IsRunning reports whether node has an in-flight run.
func (e *Engine) IsRunning(node world.NodeID) bool {
	return world.Has[Running](e.world, node)
}

// IsInterrupted reports whether node was interrupted and has not run since.
func (e *Engine) IsInterrupted(node world.NodeID) bool {
	return world.Has[Interrupted](e.world, node)
}

// Agent resolves the node an action acts upon: the Agent of the nearest
// ActionOf on action or its ancestors, else the root of action's tree.
func (e *Engine) Agent(action world.NodeID) world.NodeID {
	root := action
	for n := range e.world.Ancestors(action) {
		if of, ok := world.Get[ActionOf](e.world, n); ok {
			return of.Agent
		}
		root = n
	}
	return root
}

// AgentComponent returns the first component of type T found on the agent of
// action, then on the agent's descendants breadth first.
func AgentComponent[T any](e *Engine, action world.NodeID) (T, world.NodeID, bool) {
	agent := e.Agent(action)
	if c, ok := world.Get[T](e.world, agent); ok {
		return c, agent, true
	}
	for n := range e.world.DescendantsBFS(agent) {
		if c, ok := world.Get[T](e.world, n); ok {
			return c, n, true
		}
	}
	var zero T
	return zero, world.Placeholder, false
}

// Name is an optional human-readable label for a node, used in logs and
// traces.
type Name string

// NameOf returns the Name of node, or its id when it has none.
func (e *Engine) NameOf(node world.NodeID) string {
	if n, ok := world.Get[Name](e.world, node); ok {
		return string(n)
	}
	return node.String()
}
