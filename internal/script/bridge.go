// Package script runs JavaScript leaf actions on a goja runtime.
//
// A goja.Runtime is not goroutine-safe, so every access goes through the
// goja_nodejs event loop the Bridge wraps. Flow actions never touch the
// runtime directly: compilation and calls are scheduled on the loop, and
// their outcomes are handed back to the engine through Engine.Post or an
// async Token.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"

	"github.com/joeycumines/actionflow/internal/blackboard"
	"github.com/joeycumines/actionflow/internal/goroutineid"
)

// ModuleName is the native module registered with the loop's registry.
const ModuleName = "actionflow"

// DefaultTimeout bounds RunOnLoopSync.
const DefaultTimeout = 5 * time.Second

var (
	// ErrNotRunning is returned for work submitted to a stopped bridge or loop.
	ErrNotRunning = errors.New("script: event loop not running")

	// ErrStopped is returned to callers waiting when the bridge stops.
	ErrStopped = errors.New("script: bridge stopped before completion")

	// ErrTimeout is returned when the loop does not run a synchronous
	// operation within the bridge timeout.
	ErrTimeout = errors.New("script: timed out waiting for the event loop")
)

// Bridge schedules JavaScript work on an event loop owned by the caller. The
// caller starts and stops the loop; Stop only ends the bridge.
type Bridge struct {
	loop   *eventloop.EventLoop
	logger *slog.Logger

	// loopOwner identifies the event loop goroutine, captured at init
	loopOwner goroutineid.Owner

	mu      sync.RWMutex
	timeout time.Duration
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBridge initializes the JavaScript helpers on loop, which must already be
// started, and registers the actionflow module with reg when it is non-nil.
// The bridge stops when ctx is done. It panics if loop is nil.
func NewBridge(ctx context.Context, loop *eventloop.EventLoop, reg *require.Registry, logger *slog.Logger) (*Bridge, error) {
	if loop == nil {
		panic("script: event loop must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Done must not close before stopped is set, so the lifecycle context is
	// independent of ctx and cancelled by Stop.
	bctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		loop:    loop,
		logger:  logger,
		timeout: DefaultTimeout,
		ctx:     bctx,
		cancel:  cancel,
	}

	errCh := make(chan error, 1)
	if !loop.RunOnLoop(func(vm *goja.Runtime) {
		b.loopOwner.Claim()
		_, err := vm.RunString(jsHelpers)
		errCh <- err
	}) {
		cancel()
		return nil, ErrNotRunning
	}
	if err := <-errCh; err != nil {
		cancel()
		return nil, fmt.Errorf("script: initialize helpers: %w", err)
	}

	// registered after the loop id is known, so a require from the loop
	// itself is recognized
	if reg != nil {
		reg.RegisterNativeModule(ModuleName, b.moduleLoader)
	}
	if ctx.Done() != nil {
		context.AfterFunc(ctx, b.Stop)
	}
	return b, nil
}

// jsHelpers installs runAction, which calls fn(ctx) and reports the settled
// value to callback. The goja_nodejs loop has no microtask queue of its own;
// Promise reactions run when the runtime leaves its outermost call.
const jsHelpers = `
globalThis.runAction = function(fn, ctx, callback) {
	try {
		var result = fn(ctx);
		if (result && typeof result.then === 'function') {
			result.then(
				function(value) { callback(value, null); },
				function(err) { callback(undefined, err instanceof Error ? err.message : String(err)); }
			);
		} else {
			callback(result, null);
		}
	} catch (err) {
		callback(undefined, err instanceof Error ? err.message : String(err));
	}
};
`

func (b *Bridge) moduleLoader(vm *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	_ = exports.Set("success", StatusSuccess)
	_ = exports.Set("failure", StatusFailure)
	_ = exports.Set("log", func(msg string, args ...any) {
		b.logger.Info(msg, args...)
	})
	_ = exports.Set("blackboard", func(initial map[string]any) goja.Value {
		return blackboard.New(initial).ExposeToJS(vm)
	})
}

// Stop ends the bridge. Waiters in RunOnLoopSync and Call return ErrStopped.
// It is safe to call more than once. Work already scheduled on the loop may
// still run.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	b.cancel()
}

// Done is closed once the bridge is stopped.
func (b *Bridge) Done() <-chan struct{} { return b.ctx.Done() }

// IsRunning reports whether the bridge accepts work.
func (b *Bridge) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return !b.stopped
}

// SetTimeout sets the RunOnLoopSync timeout. Zero disables it.
func (b *Bridge) SetTimeout(timeout time.Duration) {
	b.mu.Lock()
	b.timeout = timeout
	b.mu.Unlock()
}

// Timeout returns the RunOnLoopSync timeout.
func (b *Bridge) Timeout() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.timeout
}

// OnLoop reports whether the caller is the event loop goroutine.
func (b *Bridge) OnLoop() bool { return b.loopOwner.IsCurrent() }

// RunOnLoop schedules fn on the loop, reporting whether it was accepted.
func (b *Bridge) RunOnLoop(fn func(*goja.Runtime)) bool {
	if !b.IsRunning() {
		return false
	}
	return b.loop.RunOnLoop(fn)
}

// RunOnLoopSync runs fn on the loop and waits for it. It must not be called
// from the loop itself; see TryRunOnLoopSync.
func (b *Bridge) RunOnLoopSync(fn func(*goja.Runtime) error) error {
	timeout := b.Timeout()
	errCh := make(chan error, 1)
	if !b.RunOnLoop(func(vm *goja.Runtime) { errCh <- fn(vm) }) {
		return ErrNotRunning
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	select {
	case err := <-errCh:
		return err
	case <-b.Done():
		return ErrStopped
	case <-expired:
		b.logger.Error("script: event loop blocked", "timeout", timeout)
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	}
}

// TryRunOnLoopSync runs fn directly with vm when called on the loop
// goroutine, and through RunOnLoopSync otherwise.
func (b *Bridge) TryRunOnLoopSync(vm *goja.Runtime, fn func(*goja.Runtime) error) error {
	if !b.IsRunning() {
		return ErrNotRunning
	}
	if vm != nil && b.OnLoop() {
		return fn(vm)
	}
	return b.RunOnLoopSync(fn)
}

// Load compiles and runs code in the global scope.
func (b *Bridge) Load(name, code string) error {
	return b.RunOnLoopSync(func(vm *goja.Runtime) error {
		prg, err := goja.Compile(name, code, true)
		if err != nil {
			return fmt.Errorf("script: compile %s: %w", name, err)
		}
		if _, err := vm.RunProgram(prg); err != nil {
			return fmt.Errorf("script: run %s: %w", name, err)
		}
		return nil
	})
}

// Set assigns a global.
func (b *Bridge) Set(name string, value any) error {
	return b.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, value)
	})
}

// Get exports a global. A global holding null exists; an undefined one does
// not.
func (b *Bridge) Get(name string) (value any, ok bool, err error) {
	err = b.RunOnLoopSync(func(vm *goja.Runtime) error {
		v := vm.Get(name)
		if v == nil || goja.IsUndefined(v) {
			return nil
		}
		ok = true
		if !goja.IsNull(v) {
			value = v.Export()
		}
		return nil
	})
	return value, ok, err
}

// ExposeBlackboard binds bb to the global name.
func (b *Bridge) ExposeBlackboard(name string, bb *blackboard.Blackboard) error {
	return b.RunOnLoopSync(func(vm *goja.Runtime) error {
		return vm.Set(name, bb.ExposeToJS(vm))
	})
}

// Function is a compiled JavaScript function. Its value is only usable on the
// loop it was compiled on.
type Function struct {
	name  string
	value goja.Value
}

// Name returns the source name given to Compile.
func (f *Function) Name() string { return f.name }

// Compile evaluates source, which must be a function expression such as
// "(ctx) => 'success'", or the name of a global function.
func (b *Bridge) Compile(name, source string) (*Function, error) {
	var fn *Function
	err := b.RunOnLoopSync(func(vm *goja.Runtime) error {
		var err error
		fn, err = compile(vm, name, source)
		return err
	})
	return fn, err
}

func compile(vm *goja.Runtime, name, source string) (*Function, error) {
	var v goja.Value
	if g := vm.Get(source); g != nil && !goja.IsUndefined(g) {
		v = g
	} else {
		prg, err := goja.Compile(name, "("+source+")", true)
		if err != nil {
			return nil, fmt.Errorf("script: compile %s: %w", name, err)
		}
		if v, err = vm.RunProgram(prg); err != nil {
			return nil, fmt.Errorf("script: evaluate %s: %w", name, err)
		}
	}
	if _, ok := goja.AssertFunction(v); !ok {
		return nil, fmt.Errorf("script: %s is not a function", name)
	}
	return &Function{name: name, value: v}, nil
}

// Call runs fn on the loop with a context object built by makeCtx, waiting
// until the returned value settles. fn may return a plain value or a Promise.
// A thrown error or rejected Promise is returned as an error.
func (b *Bridge) Call(ctx context.Context, fn *Function, makeCtx func(vm *goja.Runtime) goja.Value) (any, error) {
	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	if !b.RunOnLoop(func(vm *goja.Runtime) {
		run, ok := goja.AssertFunction(vm.Get("runAction"))
		if !ok {
			done <- outcome{err: errors.New("script: runAction helper missing")}
			return
		}
		callback := func(call goja.FunctionCall) goja.Value {
			var out outcome
			if msg := call.Argument(1); !goja.IsNull(msg) && !goja.IsUndefined(msg) {
				out.err = fmt.Errorf("script: %s: %s", fn.name, msg.String())
			} else {
				out.value = call.Argument(0).Export()
			}
			select {
			case done <- out:
			default:
			}
			return goja.Undefined()
		}
		arg := goja.Undefined()
		if makeCtx != nil {
			arg = makeCtx(vm)
		}
		if _, err := run(goja.Undefined(), fn.value, arg, vm.ToValue(callback)); err != nil {
			select {
			case done <- outcome{err: err}:
			default:
			}
		}
	}) {
		return nil, ErrNotRunning
	}

	select {
	case out := <-done:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.Done():
		return nil, ErrStopped
	}
}
