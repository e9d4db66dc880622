// Package exprscore provides flow actions driven by expr-lang expressions
// evaluated against the agent's blackboard: score providers for
// flow.HighestScore, condition leaves, and blackboard assignments.
//
// Expressions see every blackboard key as a variable. Unset keys evaluate to
// nil. Compiled programs are cached by source.
package exprscore

import (
	"fmt"
	"math"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Compile returns the compiled program for expression, from the cache when
// possible.
func Compile(expression string) (*vm.Program, error) {
	if p, ok := programs.Get(expression); ok {
		return p, nil
	}
	p, err := expr.Compile(expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("exprscore: compile %q: %w", expression, err)
	}
	programs.Put(expression, p)
	return p, nil
}

// Eval compiles (or reuses) expression and runs it against env.
func Eval(expression string, env map[string]any) (any, error) {
	p, err := Compile(expression)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return nil, fmt.Errorf("exprscore: run %q: %w", expression, err)
	}
	return out, nil
}

// ToScore converts an expression result to a score. Numbers convert directly,
// booleans score 1 or 0.
func ToScore(v any) (flow.ScoreValue, error) {
	switch v := v.(type) {
	case float64:
		return flow.ScoreValue(v), nil
	case float32:
		return flow.ScoreValue(v), nil
	case int:
		return flow.ScoreValue(v), nil
	case int64:
		return flow.ScoreValue(v), nil
	case int32:
		return flow.ScoreValue(v), nil
	case uint:
		return flow.ScoreValue(v), nil
	case uint64:
		return flow.ScoreValue(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("exprscore: result %v (%T) is not a number", v, v)
	}
}

func env(e *flow.Engine, action world.NodeID) map[string]any {
	if bb, ok := blackboard.For(e, action); ok {
		return bb.Snapshot()
	}
	return map[string]any{}
}

// Score answers score requests with the value of Expr. An expression that
// fails, or yields something other than a number or boolean, scores NaN, which
// never wins a comparison.
type Score struct {
	Expr string
}

func (Score) ActionKind() flow.Kind { return "exprscore.Score" }

func (Score) Setup(h *flow.Handlers) {
	flow.HandleRun(h, func(ev flow.OnRun[flow.RequestScore]) {
		e := ev.Engine()
		s := world.MustGet[Score](ev.World(), ev.Action)
		score := flow.ScoreValue(math.NaN())
		v, err := Eval(s.Expr, env(e, ev.Action))
		if err == nil {
			score, err = ToScore(v)
		}
		if err != nil {
			e.Logger().Error("exprscore: score failed", "node", e.NameOf(ev.Action), "error", err)
			score = flow.ScoreValue(math.NaN())
		}
		ev.Complete(score)
	})
}

// Condition succeeds when Expr evaluates to true and fails otherwise. Errors
// and non-boolean results are logged and fail.
type Condition struct {
	Expr string
}

func (Condition) ActionKind() flow.Kind { return "exprscore.Condition" }

func (Condition) Setup(h *flow.Handlers) {
	flow.HandleRun(h, func(ev flow.OnRun[flow.Start]) {
		e := ev.Engine()
		c := world.MustGet[Condition](ev.World(), ev.Action)
		v, err := Eval(c.Expr, env(e, ev.Action))
		ok, isBool := v.(bool)
		if err == nil && !isBool {
			err = fmt.Errorf("exprscore: condition %q yielded %T, want bool", c.Expr, v)
		}
		if err != nil {
			e.Logger().Error("exprscore: condition failed", "node", e.NameOf(ev.Action), "error", err)
		}
		if ok {
			ev.Complete(flow.Success)
			return
		}
		ev.Complete(flow.Failure)
	})
}

// Assign stores the value of Expr under Key on the agent's blackboard, then
// succeeds. It fails if the agent has no blackboard or the expression fails.
type Assign struct {
	Key  string
	Expr string
}

func (Assign) ActionKind() flow.Kind { return "exprscore.Assign" }

func (Assign) Setup(h *flow.Handlers) {
	flow.HandleRun(h, func(ev flow.OnRun[flow.Start]) {
		e := ev.Engine()
		a := world.MustGet[Assign](ev.World(), ev.Action)
		bb, ok := blackboard.For(e, ev.Action)
		if !ok {
			e.Logger().Error("exprscore: assign without a blackboard", "node", e.NameOf(ev.Action), "key", a.Key)
			ev.Complete(flow.Failure)
			return
		}
		var err error
		bb.Update(func(data map[string]any) {
			var v any
			if v, err = Eval(a.Expr, data); err == nil {
				data[a.Key] = v
			}
		})
		if err != nil {
			e.Logger().Error("exprscore: assign failed", "node", e.NameOf(ev.Action), "key", a.Key, "error", err)
			ev.Complete(flow.Failure)
			return
		}
		ev.Complete(flow.Success)
	})
}
