package exprscore

import (
	"math"
	"testing"

	"github.com/expr-lang/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/flow/flowtest"
)

func TestCache_LRU(t *testing.T) {
	t.Parallel()

	c := NewCache(2)
	pa, err := expr.Compile("1")
	require.NoError(t, err)
	pb, err := expr.Compile("2")
	require.NoError(t, err)

	c.Put("a", pa)
	c.Put("b", pb)
	_, ok := c.Get("a") // a is now most recent
	require.True(t, ok)
	c.Put("c", pa)

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used is evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Resize(1)
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get("a")
	assert.True(t, ok, "most recent survives a shrink")

	size, hits, misses := c.Stats()
	assert.Equal(t, 1, size)
	assert.Equal(t, int64(3), hits)
	assert.Equal(t, int64(1), misses)
	assert.Contains(t, c.String(), "size=1")

	c.Resize(0)
	c.Put("z", pb)
	assert.Equal(t, 1, c.Len())
}

func TestEval(t *testing.T) {
	t.Parallel()

	v, err := Eval("hp * 2 + bonus", map[string]any{"hp": 3, "bonus": 1})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	v, err = Eval("missing == nil", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, v)

	_, err = Eval("1 +", nil)
	require.ErrorContains(t, err, "compile")

	first, err := Compile("hp > 0")
	require.NoError(t, err)
	second, err := Compile("hp > 0")
	require.NoError(t, err)
	assert.Same(t, first, second, "compiled once")
}

func TestToScore(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   any
		want flow.ScoreValue
	}{
		{1.5, 1.5},
		{float32(0.5), 0.5},
		{2, 2},
		{int64(-3), -3},
		{true, 1},
		{false, 0},
	} {
		got, err := ToScore(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
	_, err := ToScore("high")
	require.Error(t, err)
}

func newTree(t *testing.T, data map[string]any) (*flow.Engine, flowtest.Spawner, *flowtest.Recorder, *blackboard.Blackboard) {
	t.Helper()
	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)
	agent := s.Root("agent", blackboard.New(data))
	bb, _ := blackboard.For(e, agent)
	return e, s, rec, bb
}

func TestScore_DrivesHighestScore(t *testing.T) {
	t.Parallel()

	e, s, rec, bb := newTree(t, map[string]any{"hp": 10, "enemies": 1})
	hs := s.Child(e.World().Roots()[0], "hs", flow.HighestScore{})
	s.Child(hs, "heal", Score{Expr: "hp < 5 ? 1.0 : 0.1"}, flow.Succeed())
	s.Child(hs, "fight", Score{Expr: "enemies * 0.5"}, flow.Succeed())

	e.Run(hs, flow.Start{})
	assert.Equal(t, []string{"hs", "fight"}, rec.Runs())

	bb.Set("hp", 2)
	rec.Reset()
	e.Run(hs, flow.Start{})
	assert.Equal(t, []string{"hs", "heal"}, rec.Runs())
}

func TestScore_ErrorsScoreNaN(t *testing.T) {
	t.Parallel()

	e, s, _, _ := newTree(t, nil)
	var got []flow.ScoreValue
	for _, src := range []string{`"text"`, `undefinedFn()`} {
		n := s.Child(e.World().Roots()[0], src, Score{Expr: src})
		flowtest.OnResult(e, n, func(v flow.ScoreValue) { got = append(got, v) })
		e.Run(n, flow.RequestScore{})
	}
	require.Len(t, got, 2)
	for _, v := range got {
		assert.True(t, math.IsNaN(float64(v)))
	}
}

func TestCondition(t *testing.T) {
	t.Parallel()

	e, s, rec, _ := newTree(t, map[string]any{"hp": 3})
	agent := e.World().Roots()[0]
	for name, src := range map[string]string{
		"true":    "hp > 1",
		"false":   "hp > 5",
		"nonbool": "hp",
		"broken":  "hp >",
	} {
		e.Run(s.Child(agent, name, Condition{Expr: src}), flow.Start{})
	}
	for name, want := range map[string]flow.RunResult{
		"true":    flow.Success,
		"false":   flow.Failure,
		"nonbool": flow.Failure,
		"broken":  flow.Failure,
	} {
		got, ok := rec.ResultOf(name)
		require.True(t, ok, name)
		assert.Equal(t, want, got, name)
	}
}

func TestAssign(t *testing.T) {
	t.Parallel()

	e, s, rec, bb := newTree(t, map[string]any{"hp": 3})
	agent := e.World().Roots()[0]
	seq := s.Child(agent, "seq", flow.Sequence{})
	s.Child(seq, "dec", Assign{Key: "hp", Expr: "hp - 1"})
	s.Child(seq, "check", Condition{Expr: "hp == 2"})

	e.Run(seq, flow.Start{})
	res, _ := rec.ResultOf("seq")
	assert.Equal(t, flow.Success, res)
	assert.Equal(t, 2, bb.Get("hp"))

	orphan := e.World().Spawn(flow.Name("orphan"), Assign{Key: "x", Expr: "1"})
	e.Run(orphan, flow.Start{})
	res, _ = rec.ResultOf("orphan")
	assert.Equal(t, flow.Failure, res)
}
