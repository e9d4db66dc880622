package treedef

import (
	"fmt"
	"maps"
	"slices"

	bt "github.com/joeycumines/go-behaviortree"
	pabt "github.com/joeycumines/go-pabt"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/exprscore"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/planning"
	"github.com/joeycumines/actionflow/internal/script"
)

// Kind describes how to build one node kind.
type Kind struct {
	// Leaf kinds reject children.
	Leaf bool
	// ScoredChildren kinds reject children without a score.
	ScoredChildren bool
	// Scored kinds answer score requests themselves.
	Scored bool
	// Params lists the accepted kind-specific parameters.
	Params []string
	// Build returns the node's components.
	Build func(b *Builder, n Node) ([]any, error)
}

// Builder carries what node builders may need.
type Builder struct {
	Bridge     *script.Bridge
	Blackboard *blackboard.Blackboard
}

// Kinds maps kind names to builders.
type Kinds struct {
	kinds map[string]Kind
}

// NewKinds returns an empty set.
func NewKinds() *Kinds {
	return &Kinds{kinds: make(map[string]Kind)}
}

// Register adds a kind. It panics on an empty name, a nil Build or a
// duplicate name.
func (k *Kinds) Register(name string, kind Kind) {
	if name == "" || kind.Build == nil {
		panic("treedef: kind needs a name and a builder")
	}
	if _, ok := k.kinds[name]; ok {
		panic(fmt.Sprintf("treedef: kind %q already registered", name))
	}
	k.kinds[name] = kind
}

// Lookup returns the kind registered under name.
func (k *Kinds) Lookup(name string) (Kind, bool) {
	kind, ok := k.kinds[name]
	return kind, ok
}

// Names returns the registered kind names, sorted.
func (k *Kinds) Names() []string {
	return slices.Sorted(maps.Keys(k.kinds))
}

// commonParams apply to every kind.
var commonParams = []string{"score", "score_expr", "repeat", "no_bubble", "run_on_spawn"}

type built struct {
	name       string
	named      bool
	components []any
	children   []*built
}

func (k *Kinds) build(b *Builder, n Node, path string) (*built, error) {
	fail := func(err error) (*built, error) {
		return nil, fmt.Errorf("%w: %s (%s): %v", ErrInvalid, path, n.Kind, err)
	}
	kind, ok := k.kinds[n.Kind]
	if !ok {
		if n.Kind == "" {
			return fail(fmt.Errorf("missing kind"))
		}
		return fail(fmt.Errorf("unknown kind (known: %v)", k.Names()))
	}
	if kind.Leaf && len(n.Children) > 0 {
		return fail(fmt.Errorf("takes no children"))
	}
	for p := range n.Params {
		if !slices.Contains(kind.Params, p) && !slices.Contains(commonParams, p) {
			return fail(fmt.Errorf("unknown parameter %q", p))
		}
	}

	components, err := kind.Build(b, n)
	if err != nil {
		return fail(err)
	}
	common, err := commonComponents(n)
	if err != nil {
		return fail(err)
	}

	out := &built{name: n.Name, named: n.Name != "", components: append(components, common...)}
	if out.name == "" {
		out.name = n.Kind
	}
	for i, child := range n.Children {
		if kind.ScoredChildren && !k.scored(child) {
			return fail(fmt.Errorf("children[%d] needs score or score_expr", i))
		}
		c, err := k.build(b, child, fmt.Sprintf("%s.children[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out.children = append(out.children, c)
	}
	return out, nil
}

func (k *Kinds) scored(n Node) bool {
	if _, ok := n.Params["score"]; ok {
		return true
	}
	if _, ok := n.Params["score_expr"]; ok {
		return true
	}
	return k.kinds[n.Kind].Scored
}

func commonComponents(n Node) ([]any, error) {
	var out []any
	if v, ok := n.Params["score"]; ok {
		f, err := toFloat(v)
		if err != nil {
			return nil, fmt.Errorf("score: %w", err)
		}
		out = append(out, flow.ReturnScore(flow.ScoreValue(f)))
	}
	if _, ok := n.Params["score_expr"]; ok {
		src, err := n.StringParam("score_expr")
		if err != nil {
			return nil, err
		}
		out = append(out, exprscore.Score{Expr: src})
	}
	if v, ok := n.Params["repeat"]; ok {
		switch v := v.(type) {
		case bool:
			if v {
				out = append(out, flow.Repeat{})
			}
		case int:
			if v <= 0 {
				return nil, fmt.Errorf("repeat: want a positive count or true, got %d", v)
			}
			out = append(out, flow.Repeat{Times: v})
		default:
			return nil, fmt.Errorf("repeat: want a positive count or true, got %T", v)
		}
	}
	if on, err := n.BoolParam("no_bubble"); err != nil {
		return nil, err
	} else if on {
		out = append(out, flow.NoBubble{})
	}
	if on, err := n.BoolParam("run_on_spawn"); err != nil {
		return nil, err
	} else if on {
		out = append(out, flow.RunOnSpawnLocal(flow.Start{}))
	}
	return out, nil
}

// StringParam returns a required string parameter.
func (n Node) StringParam(key string) (string, error) {
	v, ok := n.Params[key]
	if !ok {
		return "", fmt.Errorf("missing parameter %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("parameter %q: want a non-empty string, got %#v", key, v)
	}
	return s, nil
}

// BoolParam returns an optional boolean parameter.
func (n Node) BoolParam(key string) (bool, error) {
	v, ok := n.Params[key]
	if !ok {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("parameter %q: want a boolean, got %#v", key, v)
	}
	return b, nil
}

func toFloat(v any) (float64, error) {
	switch v := v.(type) {
	case int:
		return float64(v), nil
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("want a number, got %#v", v)
	}
}

func fixed(c any) func(*Builder, Node) ([]any, error) {
	return func(*Builder, Node) ([]any, error) { return []any{c}, nil }
}

// DefaultKinds returns a new set holding the built-in kinds.
func DefaultKinds() *Kinds {
	k := NewKinds()
	k.Register("sequence", Kind{Build: fixed(flow.Sequence{})})
	k.Register("fallback", Kind{Build: fixed(flow.Fallback{})})
	k.Register("parallel", Kind{Build: fixed(flow.Parallel{})})
	k.Register("highest_score", Kind{ScoredChildren: true, Build: fixed(flow.HighestScore{})})
	k.Register("inverter", Kind{Build: func(_ *Builder, n Node) ([]any, error) {
		if len(n.Children) != 1 {
			return nil, fmt.Errorf("needs exactly one child, has %d", len(n.Children))
		}
		return []any{flow.Inverter{}}, nil
	}})
	k.Register("succeed", Kind{Leaf: true, Build: fixed(flow.Succeed())})
	k.Register("fail", Kind{Leaf: true, Build: fixed(flow.Fail())})
	k.Register("await_ready", Kind{Leaf: true, Build: fixed(flow.AwaitReady{})})
	k.Register("condition", Kind{Leaf: true, Params: []string{"expr"}, Build: func(_ *Builder, n Node) ([]any, error) {
		src, err := n.StringParam("expr")
		if err != nil {
			return nil, err
		}
		if _, err := exprscore.Compile(src); err != nil {
			return nil, err
		}
		return []any{exprscore.Condition{Expr: src}}, nil
	}})
	k.Register("assign", Kind{Leaf: true, Params: []string{"key", "expr"}, Build: func(_ *Builder, n Node) ([]any, error) {
		key, err := n.StringParam("key")
		if err != nil {
			return nil, err
		}
		src, err := n.StringParam("expr")
		if err != nil {
			return nil, err
		}
		if _, err := exprscore.Compile(src); err != nil {
			return nil, err
		}
		return []any{exprscore.Assign{Key: key, Expr: src}}, nil
	}})
	k.Register("script", Kind{Leaf: true, Params: []string{"source", "script_name"}, Build: func(b *Builder, n Node) ([]any, error) {
		src, err := n.StringParam("source")
		if err != nil {
			return nil, err
		}
		if b.Bridge == nil {
			return nil, fmt.Errorf("script nodes need a script bridge")
		}
		s := script.Script{Bridge: b.Bridge, Source: src}
		if _, ok := n.Params["script_name"]; ok {
			if s.Name, err = n.StringParam("script_name"); err != nil {
				return nil, err
			}
		}
		return []any{s}, nil
	}})
	k.Register("plan", Kind{Leaf: true, Params: []string{"goals", "actions"}, Build: buildPlan})
	return k
}

// buildPlan reads
//
//	goals:            # alternatives, each a set of key: value pairs
//	  - {at: room}
//	actions:
//	  - name: walk
//	    when: [{door: open}]
//	    effects: {at: room}
//
// Each action, when ticked, writes its effects to the agent's blackboard and
// succeeds.
func buildPlan(b *Builder, n Node) ([]any, error) {
	goals, err := condGroups(n.Params["goals"])
	if err != nil {
		return nil, fmt.Errorf("goals: %w", err)
	}
	if len(goals) == 0 {
		return nil, fmt.Errorf("goals: at least one goal is required")
	}
	raw, _ := n.Params["actions"].([]any)
	if n.Params["actions"] != nil && raw == nil {
		return nil, fmt.Errorf("actions: want a list")
	}
	p := planning.Plan{Goals: goals}
	for i, r := range raw {
		def, ok := r.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("actions[%d]: want a mapping", i)
		}
		name, _ := def["name"].(string)
		if name == "" {
			return nil, fmt.Errorf("actions[%d]: missing name", i)
		}
		when, err := condGroups(def["when"])
		if err != nil {
			return nil, fmt.Errorf("actions[%d].when: %w", i, err)
		}
		effectMap, ok := def["effects"].(map[string]any)
		if !ok || len(effectMap) == 0 {
			return nil, fmt.Errorf("actions[%d]: effects must be a non-empty mapping", i)
		}
		keys := slices.Sorted(maps.Keys(effectMap))
		effects := make([]planning.Effect, 0, len(keys))
		for _, key := range keys {
			effects = append(effects, planning.Sets(key, effectMap[key]))
		}
		p.Actions = append(p.Actions, planning.NewAction(name, when, effects, applyEffects(b.Blackboard, effectMap)))
	}
	return []any{p}, nil
}

func condGroups(v any) ([]pabt.IConditions, error) {
	if v == nil {
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("want a list of mappings")
	}
	var out []pabt.IConditions
	for i, item := range list {
		group, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("[%d]: want a mapping", i)
		}
		var conds []pabt.Condition
		for _, key := range slices.Sorted(maps.Keys(group)) {
			conds = append(conds, planning.Equal(key, group[key]))
		}
		out = append(out, planning.When(conds...))
	}
	return out, nil
}

func applyEffects(bb *blackboard.Blackboard, effects map[string]any) bt.Node {
	return bt.New(func([]bt.Node) (bt.Status, error) {
		bb.Update(func(data map[string]any) {
			maps.Copy(data, effects)
		})
		return bt.Success, nil
	})
}
