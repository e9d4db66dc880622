package planning

import (
	"testing"

	bt "github.com/joeycumines/go-behaviortree"
	pabt "github.com/joeycumines/go-pabt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/flow/flowtest"
)

// setter returns a bt node that writes key and succeeds.
func setter(bb *blackboard.Blackboard, key string, value any, calls *[]string) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		*calls = append(*calls, key)
		bb.Set(key, value)
		return bt.Success, nil
	})
}

func TestState_Variable(t *testing.T) {
	t.Parallel()

	s := NewState(blackboard.New(map[string]any{"a": 1, "7": "seven"}))
	v, err := s.Variable("a")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	v, err = s.Variable(7)
	require.NoError(t, err)
	assert.Equal(t, "seven", v)
	_, err = s.Variable(nil)
	require.Error(t, err)
	_, err = s.Variable(struct{}{})
	require.Error(t, err)
}

func TestState_ActionsFiltersByEffect(t *testing.T) {
	t.Parallel()

	bb := new(blackboard.Blackboard)
	s := NewState(bb)
	noop := bt.New(func([]bt.Node) (bt.Status, error) { return bt.Success, nil })
	open := NewAction("open", nil, []Effect{Sets("door", "open")}, noop)
	lock := NewAction("lock", nil, []Effect{Sets("door", "locked")}, noop)
	walk := NewAction("walk", nil, []Effect{Sets("at", "room")}, noop)
	s.Register(walk, open, lock)

	all, err := s.Actions(nil)
	require.NoError(t, err)
	require.Equal(t, []pabt.IAction{lock, open, walk}, all, "name order")

	got, err := s.Actions(Equal("door", "open"))
	require.NoError(t, err)
	assert.Equal(t, []pabt.IAction{open}, got)

	got, err = s.Actions(NotNil("door"))
	require.NoError(t, err)
	assert.Equal(t, []pabt.IAction{lock, open}, got)

	got, err = s.Actions(Expr("at", `value == "room"`))
	require.NoError(t, err)
	assert.Equal(t, []pabt.IAction{walk}, got)
}

func TestConditions(t *testing.T) {
	t.Parallel()

	assert.True(t, Equal("k", 3).Match(3))
	assert.False(t, Equal("k", 3).Match(4))
	assert.True(t, NotNil("k").Match(0))
	assert.False(t, NotNil("k").Match(nil))
	assert.True(t, Match("k", func(v any) bool { return v == "x" }).Match("x"))
	assert.False(t, (&Cond{key: "k"}).Match("x"))
	assert.True(t, Expr("hp", "value > 2").Match(5))
	assert.False(t, Expr("hp", "value > 2").Match(nil), "evaluation errors do not hold")
	assert.Equal(t, "k == 3", Equal("k", 3).String())
	assert.Panics(t, func() { Expr("k", " ") })
	assert.Panics(t, func() { NewAction("x", nil, nil, nil) })
}

func TestPlan_ReachesGoal(t *testing.T) {
	t.Parallel()

	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)
	bb := blackboard.New(map[string]any{"door": "closed", "at": "hall"})
	agent := s.Root("agent", bb)

	var calls []string
	plan := Plan{
		Goals: []pabt.IConditions{When(Equal("at", "room"))},
		Actions: []*Action{
			NewAction("walk",
				[]pabt.IConditions{When(Equal("door", "open"))},
				[]Effect{Sets("at", "room")},
				setter(bb, "at", "room", &calls)),
			NewAction("open", nil,
				[]Effect{Sets("door", "open")},
				setter(bb, "door", "open", &calls)),
		},
	}
	node := s.Child(agent, "plan", plan)

	e.Run(node, flow.Start{})
	for i := 0; i < 50 && e.IsRunning(node); i++ {
		e.Update()
	}

	res, ok := rec.ResultOf("plan")
	require.True(t, ok, "plan finished")
	assert.Equal(t, flow.Success, res)
	assert.Equal(t, "room", bb.Get("at"))
	assert.Equal(t, []string{"door", "at"}, calls, "opens the door before walking")
}

func TestPlan_AlreadySatisfied(t *testing.T) {
	t.Parallel()

	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)
	agent := s.Root("agent", blackboard.New(map[string]any{"at": "room"}))
	node := s.Child(agent, "plan", Plan{Goals: []pabt.IConditions{When(Equal("at", "room"))}})

	e.Run(node, flow.Start{})
	res, ok := rec.ResultOf("plan")
	require.True(t, ok)
	assert.Equal(t, flow.Success, res)
	assert.False(t, e.IsRunning(node))
}

func TestPlan_CannotPlan(t *testing.T) {
	t.Parallel()

	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)
	goals := []pabt.IConditions{When(Equal("at", "room"))}
	s.Root("noboard", Plan{Goals: goals})
	s.Root("nogoals", blackboard.New(nil), Plan{})

	for _, root := range e.World().Roots() {
		e.Run(root, flow.Start{})
	}
	for _, name := range []string{"noboard", "nogoals"} {
		res, ok := rec.ResultOf(name)
		require.True(t, ok, name)
		assert.Equal(t, flow.Failure, res, name)
	}
}

func TestPlan_Interrupt(t *testing.T) {
	t.Parallel()

	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	var ticks int
	slow := bt.New(func([]bt.Node) (bt.Status, error) {
		ticks++
		return bt.Running, nil
	})
	agent := s.Root("agent", blackboard.New(nil))
	node := s.Child(agent, "plan", Plan{
		Goals:   []pabt.IConditions{When(Equal("at", "room"))},
		Actions: []*Action{NewAction("walk", nil, []Effect{Sets("at", "room")}, slow)},
	})

	e.Run(node, flow.Start{})
	e.Update()
	require.True(t, e.IsRunning(node))
	require.True(t, e.Interrupt(node, nil))
	before := ticks
	e.Update()
	assert.Equal(t, before, ticks)
}
