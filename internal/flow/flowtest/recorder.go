// Package flowtest provides helpers for testing trees built on package flow.
package flowtest

import (
	"fmt"
	"sync"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Step is one recorded protocol step, with node ids replaced by names.
type Step struct {
	Phase   flow.Phase
	Node    string
	Origin  string
	Child   string
	Payload any
}

func (s Step) String() string {
	if s.Child != "" {
		return fmt.Sprintf("%s %s<-%s %v", s.Phase, s.Node, s.Child, s.Payload)
	}
	return fmt.Sprintf("%s %s %v", s.Phase, s.Node, s.Payload)
}

// Recorder collects every protocol step of an engine.
type Recorder struct {
	mu     sync.Mutex
	steps  []Step
	cancel func()
}

// Record starts recording e. Nodes are named by their flow.Name component.
func Record(e *flow.Engine) *Recorder {
	r := new(Recorder)
	r.cancel = e.Observe(func(tr flow.Trace) {
		step := Step{
			Phase:   tr.Phase,
			Node:    e.NameOf(tr.Action),
			Origin:  e.NameOf(tr.Origin),
			Payload: tr.Payload,
		}
		if !tr.Child.IsPlaceholder() {
			step.Child = e.NameOf(tr.Child)
		}
		r.mu.Lock()
		r.steps = append(r.steps, step)
		r.mu.Unlock()
	})
	return r
}

// Stop stops recording.
func (r *Recorder) Stop() { r.cancel() }

// Reset discards recorded steps.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.steps = nil
	r.mu.Unlock()
}

// Steps returns a copy of every recorded step.
func (r *Recorder) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Step(nil), r.steps...)
}

// Nodes returns the names of the nodes of steps matching phase and, when
// payloadType is non-nil, carrying a payload of the same dynamic type.
func (r *Recorder) Nodes(phase flow.Phase, payloadType any) []string {
	var out []string
	for _, s := range r.Steps() {
		if s.Phase != phase {
			continue
		}
		if payloadType != nil && fmt.Sprintf("%T", s.Payload) != fmt.Sprintf("%T", payloadType) {
			continue
		}
		out = append(out, s.Node)
	}
	return out
}

// Runs returns the names of nodes that received a Start run, in order.
func (r *Recorder) Runs() []string { return r.Nodes(flow.PhaseRun, flow.Start{}) }

// ScoreRequests returns the names of nodes asked for a score, in order.
func (r *Recorder) ScoreRequests() []string { return r.Nodes(flow.PhaseRun, flow.RequestScore{}) }

// Results returns the names of nodes that produced a RunResult, in order.
func (r *Recorder) Results() []string { return r.Nodes(flow.PhaseResult, flow.Success) }

// ResultOf returns the last RunResult produced by the named node.
func (r *Recorder) ResultOf(name string) (flow.RunResult, bool) {
	steps := r.Steps()
	for i := len(steps) - 1; i >= 0; i-- {
		s := steps[i]
		if s.Phase != flow.PhaseResult || s.Node != name {
			continue
		}
		if res, ok := s.Payload.(flow.RunResult); ok {
			return res, true
		}
	}
	return 0, false
}

// Spawner builds named trees for tests.
type Spawner struct {
	E *flow.Engine
}

// Root spawns a named root node.
func (s Spawner) Root(name string, components ...any) world.NodeID {
	return s.E.World().Spawn(append([]any{flow.Name(name)}, components...)...)
}

// Child spawns a named child of parent.
func (s Spawner) Child(parent world.NodeID, name string, components ...any) world.NodeID {
	return s.E.World().SpawnChild(parent, append([]any{flow.Name(name)}, components...)...)
}

// OnResult calls fn with every result of type T produced by node.
func OnResult[T any](e *flow.Engine, node world.NodeID, fn func(T)) world.ObserverID {
	return world.Observe(e.World(), node, func(tr world.Trigger[flow.OnResult[T]]) {
		fn(tr.Event.Payload)
	})
}
