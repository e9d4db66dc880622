package flow

import (
	"fmt"
	"reflect"

	"github.com/joeycumines/actionflow/internal/world"
)

// Start is the default run payload: "begin doing whatever you do". Its result
// type is RunResult.
type Start struct{}

// RunResult is the outcome of a Start run. The zero value is Success.
type RunResult uint8

const (
	Success RunResult = iota
	Failure
)

func (r RunResult) String() string {
	switch r {
	case Success:
		return "success"
	case Failure:
		return "failure"
	default:
		return fmt.Sprintf("RunResult(%d)", uint8(r))
	}
}

// Invert swaps Success and Failure.
func (r RunResult) Invert() RunResult {
	if r == Success {
		return Failure
	}
	return Success
}

// RequestScore asks a node how suitable it is to run. Its result type is
// ScoreValue.
type RequestScore struct{}

// ScoreValue is a utility score, higher is better.
type ScoreValue float64

// pair ties a run payload type to its result payload type, along with typed
// notifiers for world observers of that result type.
type pair struct {
	run, result reflect.Type

	notifyResult func(e *Engine, action, origin world.NodeID, payload any)
	notifyChild  func(e *Engine, parent, child, origin world.NodeID, payload any)

	// observingChild reports whether world observers exist for child results
	observingChild func(e *Engine, parent world.NodeID) bool
}

type pairTable struct {
	byRun    map[reflect.Type]*pair
	byResult map[reflect.Type]*pair
}

func (t *pairTable) add(p *pair) error {
	if t.byRun == nil {
		t.byRun = make(map[reflect.Type]*pair)
		t.byResult = make(map[reflect.Type]*pair)
	}
	if existing, ok := t.byRun[p.run]; ok {
		if existing.result == p.result {
			return nil
		}
		return fmt.Errorf("%w: run %v already pairs with %v, not %v", ErrPairConflict, p.run, existing.result, p.result)
	}
	if existing, ok := t.byResult[p.result]; ok {
		return fmt.Errorf("%w: result %v already pairs with run %v, not %v", ErrPairConflict, p.result, existing.run, p.run)
	}
	t.byRun[p.run] = p
	t.byResult[p.result] = p
	return nil
}

// check verifies the table is a bijection, i.e. that for every pair the result
// type's run type is the run type it came from.
func (t *pairTable) check() error {
	for rt, p := range t.byRun {
		back, ok := t.byResult[p.result]
		if !ok || back.run != rt {
			return fmt.Errorf("%w: run %v -> result %v does not map back", ErrPairConflict, rt, p.result)
		}
	}
	for st, p := range t.byResult {
		fwd, ok := t.byRun[p.run]
		if !ok || fwd.result != st {
			return fmt.Errorf("%w: result %v -> run %v does not map back", ErrPairConflict, st, p.run)
		}
	}
	return nil
}

func newPair[R, S any]() *pair {
	return &pair{
		run:    reflect.TypeFor[R](),
		result: reflect.TypeFor[S](),
		notifyResult: func(e *Engine, action, origin world.NodeID, payload any) {
			world.Notify(e.world, action, OnResult[S]{
				Payload: payload.(S),
				Action:  action,
				Origin:  origin,
				engine:  e,
			})
		},
		notifyChild: func(e *Engine, parent, child, origin world.NodeID, payload any) {
			world.Notify(e.world, parent, OnChildResult[S]{
				Payload: payload.(S),
				Action:  parent,
				Child:   child,
				Origin:  origin,
				engine:  e,
			})
		},
		observingChild: func(e *Engine, parent world.NodeID) bool {
			return world.Observing[OnChildResult[S]](e.world, parent)
		},
	}
}

// RegisterPair pairs run payload type R with result payload type S. Registering
// the same pair twice is a no-op; a conflicting registration panics.
func RegisterPair[R, S any](e *Engine) {
	if err := e.pairs.add(newPair[R, S]()); err != nil {
		panic(err)
	}
}

// ResultTypeOf returns the result type paired with the run payload type of
// payload.
func (e *Engine) ResultTypeOf(payload any) (reflect.Type, bool) {
	p, ok := e.pairs.byRun[reflect.TypeOf(payload)]
	if !ok {
		return nil, false
	}
	return p.result, true
}
