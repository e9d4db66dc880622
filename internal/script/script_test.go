package script_test

import (
	"context"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/flow/flowtest"
	"github.com/joeycumines/actionflow/internal/script"
	"github.com/joeycumines/actionflow/internal/testutil"
	"github.com/joeycumines/actionflow/internal/world"
)

func newBridge(t *testing.T) *script.Bridge {
	t.Helper()
	loop := testutil.NewEventLoop(t)
	b, err := script.NewBridge(context.Background(), loop.Loop(), loop.Registry(), nil)
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b
}

func TestBridge_LoadAndGet(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	require.NoError(t, b.Load("globals.js", `var answer = 41 + 1; var nothing = null;`))

	v, ok, err := b.Get("answer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, v)

	v, ok, err = b.Get("nothing")
	require.NoError(t, err)
	assert.True(t, ok, "null exists")
	assert.Nil(t, v)

	_, ok, err = b.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, b.Set("fromGo", "hi"))
	v, _, err = b.Get("fromGo")
	require.NoError(t, err)
	assert.Equal(t, "hi", v)

	err = b.Load("broken.js", `var = ;`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.js")
}

func TestBridge_Module(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	require.NoError(t, b.Load("module.js", `
		const af = require("actionflow");
		var status = af.success + "/" + af.failure;
		var bb = af.blackboard({seed: 1});
		bb.set("k", "v");
		var keys = bb.keys().join(",");
	`))
	v, _, err := b.Get("status")
	require.NoError(t, err)
	assert.Equal(t, "success/failure", v)
	v, _, err = b.Get("keys")
	require.NoError(t, err)
	assert.Equal(t, "k,seed", v)
}

func TestBridge_StopAndContext(t *testing.T) {
	t.Parallel()

	loop := testutil.NewEventLoop(t)
	ctx, cancel := context.WithCancel(context.Background())
	b, err := script.NewBridge(ctx, loop.Loop(), nil, nil)
	require.NoError(t, err)
	require.True(t, b.IsRunning())

	cancel()
	select {
	case <-b.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("bridge did not stop with its context")
	}
	assert.False(t, b.IsRunning())
	require.ErrorIs(t, b.RunOnLoopSync(func(*goja.Runtime) error { return nil }), script.ErrNotRunning)
	assert.False(t, b.RunOnLoop(func(*goja.Runtime) {}))
	b.Stop() // idempotent
}

func TestBridge_Timeout(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	b.SetTimeout(20 * time.Millisecond)
	assert.Equal(t, 20*time.Millisecond, b.Timeout())

	err := b.RunOnLoopSync(func(*goja.Runtime) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	require.ErrorIs(t, err, script.ErrTimeout)
}

func TestBridge_TryRunOnLoopSync(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	assert.False(t, b.OnLoop())

	var nested, onLoop bool
	err := b.RunOnLoopSync(func(vm *goja.Runtime) error {
		onLoop = b.OnLoop()
		return b.TryRunOnLoopSync(vm, func(*goja.Runtime) error {
			nested = true
			return nil
		})
	})
	require.NoError(t, err)
	assert.True(t, onLoop)
	assert.True(t, nested, "ran inline instead of deadlocking")

	var fromOutside bool
	require.NoError(t, b.TryRunOnLoopSync(nil, func(vm *goja.Runtime) error {
		fromOutside = vm != nil
		return nil
	}))
	assert.True(t, fromOutside)
}

func TestBridge_Call(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	require.NoError(t, b.Load("lib.js", `function named(ctx) { return ctx.n * 2; }`))

	arg := func(vm *goja.Runtime) goja.Value {
		obj := vm.NewObject()
		_ = obj.Set("n", 21)
		return obj
	}
	for _, tc := range []struct {
		name    string
		source  string
		want    any
		wantErr string
	}{
		{name: "sync", source: `(ctx) => ctx.n + 1`, want: int64(22)},
		{name: "global", source: `named`, want: int64(42)},
		{name: "async", source: `async (ctx) => "success"`, want: "success"},
		{name: "timer", source: `(ctx) => new Promise((resolve) => setTimeout(() => resolve(true), 1))`, want: true},
		{name: "throws", source: `(ctx) => { throw new Error("nope"); }`, wantErr: "nope"},
		{name: "rejects", source: `async (ctx) => { throw "rejected"; }`, wantErr: "rejected"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			fn, err := b.Compile(tc.name, tc.source)
			require.NoError(t, err)
			assert.Equal(t, tc.name, fn.Name())

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			got, err := b.Call(ctx, fn, arg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := b.Compile("num", `42`)
	require.ErrorContains(t, err, "not a function")
	_, err = b.Compile("bad", `(ctx) =>`)
	require.Error(t, err)
}

func TestBridge_CallCancelled(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	fn, err := b.Compile("never", `(ctx) => new Promise(() => {})`)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.Call(ctx, fn, nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestResultOf(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in   any
		want flow.RunResult
		ok   bool
	}{
		{in: "success", want: flow.Success, ok: true},
		{in: "failure", want: flow.Failure, ok: true},
		{in: true, want: flow.Success, ok: true},
		{in: false, want: flow.Failure, ok: true},
		{in: "running", want: flow.Failure},
		{in: nil, want: flow.Failure},
		{in: int64(1), want: flow.Failure},
	} {
		got, err := script.ResultOf(tc.in)
		assert.Equal(t, tc.want, got, "%#v", tc.in)
		if tc.ok {
			assert.NoError(t, err, "%#v", tc.in)
		} else {
			assert.Error(t, err, "%#v", tc.in)
		}
	}
}

// settle updates e until cond holds.
func settle(t *testing.T, e *flow.Engine, cond func() bool) {
	t.Helper()
	err := testutil.Poll(context.Background(), func() bool {
		e.Update()
		return cond()
	}, 5*time.Second, time.Millisecond)
	require.NoError(t, err)
}

func drive(t *testing.T, e *flow.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, flow.DriveSequential(ctx, e, flow.CollectAsync(e, flow.BreadthFirst)))
}

func TestScript_ReadyThenRun(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)

	root := s.Root("root", flow.Sequence{})
	bb := blackboard.Attach(e.World(), root)
	wait := s.Child(root, "wait", flow.AwaitReady{})
	leaf := s.Child(root, "leaf", script.Script{Bridge: b, Source: `(ctx) => {
		ctx.blackboard.set("seen", ctx.node);
		return "success";
	}`})
	require.True(t, world.Has[flow.ReadyAction](e.World(), leaf))

	e.Run(root, flow.Start{})
	assert.True(t, e.IsRunning(wait), "compilation happens off the engine")
	settle(t, e, func() bool { return !e.IsRunning(wait) })
	require.True(t, e.IsRunning(leaf), "queued for the next drive")

	drive(t, e)
	res, ok := rec.ResultOf("root")
	require.True(t, ok)
	assert.Equal(t, flow.Success, res)
	assert.Equal(t, "leaf", bb.Get("seen"))
}

func TestScript_Failures(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	for _, tc := range []struct {
		name   string
		source string
	}{
		{name: "throws", source: `(ctx) => { throw new Error("boom"); }`},
		{name: "syntax", source: `(ctx) =>`},
		{name: "unexpected", source: `(ctx) => 7`},
		{name: "failure", source: `(ctx) => "failure"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			e := flow.NewEngine()
			rec := flowtest.Record(e)
			n := flowtest.Spawner{E: e}.Root(tc.name, script.Script{Bridge: b, Source: tc.source})

			e.Run(n, flow.Start{})
			drive(t, e)
			res, ok := rec.ResultOf(tc.name)
			require.True(t, ok, "an error still resolves the node")
			assert.Equal(t, flow.Failure, res)
		})
	}
}

func TestScript_NoBridge(t *testing.T) {
	t.Parallel()

	e := flow.NewEngine()
	rec := flowtest.Record(e)
	n := flowtest.Spawner{E: e}.Root("n", script.Script{Source: `() => true`})
	e.Run(n, flow.Start{})
	res, ok := rec.ResultOf("n")
	require.True(t, ok)
	assert.Equal(t, flow.Failure, res)
}

func TestScript_Interrupted(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	e := flow.NewEngine()
	rec := flowtest.Record(e)
	n := flowtest.Spawner{E: e}.Root("n", script.Script{Bridge: b, Source: `() => "success"`})

	e.Run(n, flow.Start{})
	require.True(t, e.Interrupt(n, nil))
	drive(t, e)

	res, ok := rec.ResultOf("n")
	require.True(t, ok)
	assert.Equal(t, flow.Failure, res, "only the abort result")
	assert.Len(t, rec.Nodes(flow.PhaseResult, flow.Success), 1)
}

func TestScript_ReadyTwiceCompilesOnce(t *testing.T) {
	t.Parallel()

	b := newBridge(t)
	require.NoError(t, b.Load("counter.js", `var compiles = 0; function counted() { compiles++; return (ctx) => true; }`))
	e := flow.NewEngine()
	s := flowtest.Spawner{E: e}
	rec := flowtest.Record(e)
	root := s.Root("root")
	wait := s.Child(root, "wait", flow.AwaitReady{})
	s.Child(root, "leaf", script.Script{Bridge: b, Source: `counted()`})

	for range 2 {
		rec.Reset()
		e.Run(wait, flow.Start{})
		settle(t, e, func() bool { return !e.IsRunning(wait) })
		res, ok := rec.ResultOf("wait")
		require.True(t, ok)
		require.Equal(t, flow.Success, res)
	}
	v, _, err := b.Get("compiles")
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
}
