package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

func TestAwaitReady_NoTargets(t *testing.T) {
	t.Parallel()

	e, s, rec := newEngine(t)
	agent := s.Root("agent")
	wait := s.Child(agent, "wait", flow.AwaitReady{})

	e.Run(wait, flow.Start{})
	res, ok := rec.ResultOf("wait")
	require.True(t, ok, "completes synchronously")
	assert.Equal(t, flow.Success, res)
}

func TestAwaitReady_WaitsForEveryTarget(t *testing.T) {
	t.Parallel()

	e, s, rec := newEngine(t)
	agent := s.Root("agent")
	wait := s.Child(agent, "wait", flow.AwaitReady{})
	group := s.Child(agent, "group")
	targets := []world.NodeID{
		s.Child(agent, "r0", flow.ReadyAction{}),
		s.Child(group, "r1", flow.ReadyAction{}),
		s.Child(group, "r2", flow.ReadyAction{}),
	}
	plain := s.Child(group, "plain")

	var asked []world.NodeID
	for _, n := range targets {
		flow.OnGetReady(e, n, func(_ *flow.Engine, node world.NodeID) {
			asked = append(asked, node)
		})
	}

	e.Run(wait, flow.Start{})
	assert.ElementsMatch(t, targets, asked)
	assert.True(t, e.IsRunning(wait))

	flow.EmitReady(e, targets[1])
	flow.EmitReady(e, targets[1]) // duplicates count once
	flow.EmitReady(e, plain)      // not a target
	flow.EmitReady(e, targets[0])
	_, ok := rec.ResultOf("wait")
	assert.False(t, ok, "one target still pending")

	flow.EmitReady(e, targets[2])
	res, ok := rec.ResultOf("wait")
	require.True(t, ok)
	assert.Equal(t, flow.Success, res)

	// the barrier stops listening once resolved
	rec.Reset()
	flow.EmitReady(e, targets[0])
	assert.Empty(t, rec.Results())
}

func TestAwaitReady_SynchronousReady(t *testing.T) {
	t.Parallel()

	e, s, rec := newEngine(t)
	agent := s.Root("agent")
	wait := s.Child(agent, "wait", flow.AwaitReady{})
	r := s.Child(agent, "r", flow.ReadyAction{})
	flow.OnGetReady(e, r, flow.EmitReady)

	e.Run(wait, flow.Start{})
	res, ok := rec.ResultOf("wait")
	require.True(t, ok)
	assert.Equal(t, flow.Success, res)
}

func TestAwaitReady_OtherAgentIgnored(t *testing.T) {
	t.Parallel()

	e, s, rec := newEngine(t)
	agent := s.Root("agent")
	wait := s.Child(agent, "wait", flow.AwaitReady{})
	mine := s.Child(agent, "mine", flow.ReadyAction{})
	other := s.Root("other")
	theirs := s.Child(other, "theirs", flow.ReadyAction{})

	e.Run(wait, flow.Start{})
	flow.EmitReady(e, theirs)
	_, ok := rec.ResultOf("wait")
	assert.False(t, ok)

	flow.EmitReady(e, mine)
	_, ok = rec.ResultOf("wait")
	assert.True(t, ok)
}

func TestAwaitReady_Interrupt(t *testing.T) {
	t.Parallel()

	e, s, rec := newEngine(t)
	agent := s.Root("agent")
	wait := s.Child(agent, "wait", flow.AwaitReady{})
	r := s.Child(agent, "r", flow.ReadyAction{})

	e.Run(wait, flow.Start{})
	require.True(t, e.Interrupt(wait, nil))
	res, ok := rec.ResultOf("wait")
	require.True(t, ok)
	assert.Equal(t, flow.Failure, res)

	rec.Reset()
	flow.EmitReady(e, r)
	assert.Empty(t, rec.Results(), "cancelled wait ignores late readiness")
}
