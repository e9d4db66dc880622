package script

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Status strings a script function may return. Booleans are accepted too.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// ResultOf converts the settled value of a script function.
func ResultOf(v any) (flow.RunResult, error) {
	switch v := v.(type) {
	case string:
		switch v {
		case StatusSuccess:
			return flow.Success, nil
		case StatusFailure:
			return flow.Failure, nil
		}
	case bool:
		if v {
			return flow.Success, nil
		}
		return flow.Failure, nil
	}
	return flow.Failure, fmt.Errorf("script: unexpected result %#v (want %q, %q or a boolean)", v, StatusSuccess, StatusFailure)
}

// Script is a leaf that calls a JavaScript function. Source is a function
// expression, or the name of a global function loaded into the bridge.
//
// The function is compiled when the node is asked to get ready, so an
// AwaitReady barrier ahead of it moves compilation out of the first run.
// Running the node only queues the call: it happens in the next async drive
// (see flow.CollectAsync), with the engine released while the loop works.
// The function receives a context object with the node name and, when the
// agent has one, its blackboard. A thrown error, a rejected Promise or an
// unexpected value fails the node.
type Script struct {
	Bridge *Bridge
	Name   string
	Source string
}

// compiled is the per-node compilation state.
type compiled struct {
	fn        *Function
	err       error
	compiling bool
}

// pendingCall marks a run waiting for the next async drive.
type pendingCall struct {
	origin world.NodeID
}

func (Script) ActionKind() flow.Kind { return "script.Script" }

func (Script) Requires() []any { return []any{flow.ReadyAction{}} }

func (Script) Setup(h *flow.Handlers) {
	h.HandleAttach(func(e *flow.Engine, node world.NodeID) {
		if world.Has[*compiled](e.World(), node) {
			return
		}
		e.World().Insert(node, &compiled{})
		flow.OnGetReady(e, node, getReady)
	})

	flow.HandleRun(h, func(ev flow.OnRun[flow.Start]) {
		s := world.MustGet[Script](ev.World(), ev.Action)
		if s.Bridge == nil {
			ev.Engine().Logger().Error("script: no bridge", "node", ev.Engine().NameOf(ev.Action))
			ev.Complete(flow.Failure)
			return
		}
		ev.World().Insert(ev.Action, pendingCall{origin: ev.Origin})
	})

	h.HandleInterrupt(func(ev flow.OnInterrupt) {
		world.Remove[pendingCall](ev.World(), ev.Action)
		ev.Abort()
	})
}

func (s Script) name(e *flow.Engine, node world.NodeID) string {
	if s.Name != "" {
		return s.Name
	}
	return e.NameOf(node)
}

func getReady(e *flow.Engine, node world.NodeID) {
	w := e.World()
	c := world.MustGet[*compiled](w, node)
	s := world.MustGet[Script](w, node)
	switch {
	case c.fn != nil || c.err != nil || s.Bridge == nil:
		flow.EmitReady(e, node)
		return
	case c.compiling:
		return
	}
	c.compiling = true
	name := s.name(e, node)
	go func() {
		fn, err := s.Bridge.Compile(name, s.Source)
		e.Post(func(e *flow.Engine) {
			c.compiling = false
			c.fn, c.err = fn, err
			if err != nil {
				e.Logger().Error("script: compile failed", "node", name, "error", err)
			}
			if e.World().Alive(node) {
				flow.EmitReady(e, node)
			}
		})
	}()
}

// RunAsync implements flow.AsyncAction. Nodes without a queued run return at
// once.
func (s Script) RunAsync(ctx context.Context, node world.NodeID, tok *flow.Token) (*flow.Token, error) {
	e := tok.Engine()
	w := e.World()
	call, ok := world.Get[pendingCall](w, node)
	if !ok {
		return tok, nil
	}
	world.Remove[pendingCall](w, node)

	c := world.MustGet[*compiled](w, node)
	fn, cerr := c.fn, c.err
	name := s.name(e, node)
	bb, _ := blackboard.For(e, node)

	var value any
	var callErr error
	err := tok.Await(ctx, func(ctx context.Context) error {
		if fn == nil && cerr == nil {
			fn, cerr = s.Bridge.Compile(name, s.Source)
		}
		if cerr != nil {
			return nil
		}
		value, callErr = s.Bridge.Call(ctx, fn, func(vm *goja.Runtime) goja.Value {
			obj := vm.NewObject()
			_ = obj.Set("node", name)
			if bb != nil {
				_ = obj.Set("blackboard", bb.ExposeToJS(vm))
			}
			return obj
		})
		return nil
	})
	if err != nil {
		return tok, err
	}

	e = tok.Engine()
	if c.fn == nil && c.err == nil {
		c.fn, c.err = fn, cerr
	}
	if !e.IsRunning(node) {
		// interrupted while the loop was busy
		return tok, nil
	}
	result, rerr := ResultOf(value)
	switch {
	case cerr != nil:
		e.Logger().Error("script: compile failed", "node", name, "error", cerr)
	case callErr != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return tok, ctxErr
		}
		e.Logger().Error("script: call failed", "node", name, "error", callErr)
		result = flow.Failure
	case rerr != nil:
		e.Logger().Error("script: bad result", "node", name, "error", rerr)
	}
	e.Result(node, call.origin, result)
	return tok, nil
}
