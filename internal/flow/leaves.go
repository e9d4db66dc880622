package flow

import (
	"fmt"
	"reflect"

	"github.com/joeycumines/actionflow/internal/world"
)

// ReturnWith immediately completes any run of its paired payload type with
// Value. ReturnWith[RunResult] answers Start, ReturnWith[ScoreValue] answers
// RequestScore, and so on for registered pairs.
type ReturnWith[T any] struct {
	Value T
}

// Succeed is a leaf that always succeeds.
func Succeed() ReturnWith[RunResult] { return ReturnWith[RunResult]{Value: Success} }

// Fail is a leaf that always fails.
func Fail() ReturnWith[RunResult] { return ReturnWith[RunResult]{Value: Failure} }

// ReturnScore answers score requests with s.
func ReturnScore(s ScoreValue) ReturnWith[ScoreValue] { return ReturnWith[ScoreValue]{Value: s} }

func (ReturnWith[T]) ActionKind() Kind {
	return Kind(fmt.Sprintf("flow.ReturnWith[%v]", reflect.TypeFor[T]()))
}

func (ReturnWith[T]) Setup(h *Handlers) {
	h.handleRunPaired(reflect.TypeFor[T](), func(e *Engine, action, origin world.NodeID, _ any) {
		r := world.MustGet[ReturnWith[T]](e.world, action)
		e.Result(action, origin, r.Value)
	})
}

// spawnTrigger is implemented by components that dispatch something once, after
// the traversal that inserted them.
type spawnTrigger interface {
	triggerOnSpawn(e *Engine, node world.NodeID)
}

// RunOnSpawn runs Request on its node at the next Update after it is inserted,
// then removes itself. The zero value runs a local T{}.
type RunOnSpawn[T any] struct {
	Request RunRequest[T]
}

// RunOnSpawnLocal builds a RunOnSpawn for a local request carrying payload.
func RunOnSpawnLocal[T any](payload T) RunOnSpawn[T] {
	return RunOnSpawn[T]{Request: Local(payload)}
}

func (r RunOnSpawn[T]) triggerOnSpawn(e *Engine, node world.NodeID) {
	world.Remove[RunOnSpawn[T]](e.world, node)
	r.Request.Dispatch(e, node)
}

// ActionFunc adapts a function into a Start leaf. The function is read from
// the node on each run, so every node may carry a different one.
type ActionFunc func(ev OnRun[Start])

func (ActionFunc) ActionKind() Kind { return "flow.ActionFunc" }

func (ActionFunc) Setup(h *Handlers) {
	HandleRun(h, func(ev OnRun[Start]) {
		world.MustGet[ActionFunc](ev.World(), ev.Action)(ev)
	})
}
