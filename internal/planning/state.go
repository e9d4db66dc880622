// Package planning runs go-pabt (Planning and Acting using Behavior Trees)
// plans as flow actions. A plan reads and writes the agent's blackboard: goal
// and precondition checks read blackboard keys, and planner actions are
// go-behaviortree nodes that change them.
package planning

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	bt "github.com/joeycumines/go-behaviortree"
	pabt "github.com/joeycumines/go-pabt"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/exprscore"
)

// State is the planner's view of a blackboard, with the actions it may use.
type State struct {
	bb *blackboard.Blackboard

	mu      sync.RWMutex
	actions map[string]*Action
}

var _ pabt.IState = (*State)(nil)

// NewState builds a state over bb.
func NewState(bb *blackboard.Blackboard) *State {
	if bb == nil {
		panic("planning: blackboard must not be nil")
	}
	return &State{bb: bb, actions: make(map[string]*Action)}
}

// Blackboard returns the underlying blackboard.
func (s *State) Blackboard() *blackboard.Blackboard { return s.bb }

// Register adds actions, replacing any with the same name.
func (s *State) Register(actions ...*Action) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range actions {
		s.actions[a.Name] = a
	}
}

// Variable returns the blackboard value for key. Keys are strings, or values
// with an obvious string form.
func (s *State) Variable(key any) (any, error) {
	k, err := keyString(key)
	if err != nil {
		return nil, err
	}
	return s.bb.Get(k), nil
}

// Actions returns, in name order, the registered actions with an effect that
// would satisfy failed. A nil failed returns every action.
func (s *State) Actions(failed pabt.Condition) ([]pabt.IAction, error) {
	s.mu.RLock()
	names := make([]string, 0, len(s.actions))
	for name := range s.actions {
		names = append(names, name)
	}
	slices.Sort(names)
	all := make([]*Action, len(names))
	for i, name := range names {
		all[i] = s.actions[name]
	}
	s.mu.RUnlock()

	var out []pabt.IAction
	for _, a := range all {
		if failed == nil || satisfies(a, failed) {
			out = append(out, a)
		}
	}
	return out, nil
}

func satisfies(a *Action, failed pabt.Condition) bool {
	for _, eff := range a.Effects() {
		if eff != nil && eff.Key() == failed.Key() && failed.Match(eff.Value()) {
			return true
		}
	}
	return false
}

func keyString(key any) (string, error) {
	switch k := key.(type) {
	case string:
		return k, nil
	case int:
		return strconv.Itoa(k), nil
	case int64:
		return strconv.FormatInt(k, 10), nil
	case fmt.Stringer:
		return k.String(), nil
	case nil:
		return "", fmt.Errorf("planning: nil variable key")
	default:
		return "", fmt.Errorf("planning: unsupported variable key type %T", key)
	}
}

// Cond is a condition on one blackboard key.
type Cond struct {
	key   string
	match func(value any) bool
	desc  string
}

var _ pabt.Condition = (*Cond)(nil)

func (c *Cond) Key() any { return c.key }

func (c *Cond) Match(value any) bool { return c.match != nil && c.match(value) }

func (c *Cond) String() string { return c.key + " " + c.desc }

// Match builds a condition from a predicate.
func Match(key string, match func(value any) bool) *Cond {
	return &Cond{key: key, match: match, desc: "matches"}
}

// Equal holds when key is set to want.
func Equal(key string, want any) *Cond {
	return &Cond{key: key, match: func(v any) bool { return v == want }, desc: fmt.Sprintf("== %v", want)}
}

// NotNil holds when key is set to a non-nil value.
func NotNil(key string) *Cond {
	return &Cond{key: key, match: func(v any) bool { return v != nil }, desc: "!= nil"}
}

// Expr holds when expression, evaluated with the key's value bound to
// `value`, is true. Evaluation errors do not hold.
func Expr(key, expression string) *Cond {
	if strings.TrimSpace(expression) == "" {
		panic("planning: expression must not be empty")
	}
	return &Cond{
		key: key,
		match: func(v any) bool {
			out, err := exprscore.Eval(expression, map[string]any{"value": v})
			ok, _ := out.(bool)
			return err == nil && ok
		},
		desc: "where " + expression,
	}
}

// Effect is the value an action sets a key to.
type Effect struct {
	key   string
	value any
}

var _ pabt.Effect = Effect{}

func (e Effect) Key() any   { return e.key }
func (e Effect) Value() any { return e.value }

// Sets builds an effect.
func Sets(key string, value any) Effect { return Effect{key: key, value: value} }

// Action is a planner action: a bt.Node that, when its conditions hold, is
// expected to bring about its effects.
type Action struct {
	Name string

	conditions []pabt.IConditions
	effects    pabt.Effects
	node       bt.Node
}

var _ pabt.IAction = (*Action)(nil)

// NewAction builds an action. Each element of conditions is one group, all
// of which must hold.
func NewAction(name string, conditions []pabt.IConditions, effects []Effect, node bt.Node) *Action {
	if node == nil {
		panic(fmt.Sprintf("planning: action %s: node must not be nil", name))
	}
	a := &Action{Name: name, conditions: conditions, node: node}
	for _, e := range effects {
		a.effects = append(a.effects, e)
	}
	return a
}

// When groups conditions that must all hold.
func When(conds ...pabt.Condition) pabt.IConditions { return pabt.IConditions(conds) }

func (a *Action) Conditions() []pabt.IConditions { return a.conditions }
func (a *Action) Effects() pabt.Effects          { return a.effects }
func (a *Action) Node() bt.Node                  { return a.node }
