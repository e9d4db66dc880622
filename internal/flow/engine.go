package flow

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/actionflow/internal/goroutineid"
	"github.com/joeycumines/actionflow/internal/world"
)

// Engine dispatches the run/result protocol over a world. It owns the action
// registry and the payload pair table; nothing here is global, so independent
// engines never share state.
//
// An Engine is not goroutine-safe, with the exception of Post and Wake.
type Engine struct {
	world    *world.World
	registry *Registry
	pairs    pairTable
	logger   *slog.Logger
	debug    DebugOptions
	tel      *telemetry

	taps []*tap

	// async ownership, see Token
	lent   atomic.Bool
	holder goroutineid.Owner

	mu     sync.Mutex
	posted []func(*Engine)
	wake   chan struct{}
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	world     *world.World
	logger    *slog.Logger
	debug     DebugOptions
	pairs     []*pair
	telemetry bool
}

// WithWorld runs the engine over an existing world. The world must not already
// be attached to another engine.
func WithWorld(w *world.World) Option {
	return func(o *engineOptions) { o.world = w }
}

// WithLogger sets the logger, defaulting to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = logger }
}

// WithDebug enables debug logging of protocol events.
func WithDebug(debug DebugOptions) Option {
	return func(o *engineOptions) { o.debug = debug }
}

// WithPair registers an additional run/result payload pair.
func WithPair[R, S any]() Option {
	return func(o *engineOptions) { o.pairs = append(o.pairs, newPair[R, S]()) }
}

// WithTelemetry enables OpenTelemetry spans and counters, using the global
// providers.
func WithTelemetry(enabled bool) Option {
	return func(o *engineOptions) { o.telemetry = enabled }
}

// NewEngine constructs an engine. It panics if the payload pair table fails
// its self-test, which means conflicting WithPair options.
func NewEngine(opts ...Option) *Engine {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.world == nil {
		o.world = world.New()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	e := &Engine{
		world:  o.world,
		logger: o.logger,
		debug:  o.debug,
		wake:   make(chan struct{}, 1),
	}
	e.registry = newRegistry(e)

	builtin := []*pair{
		newPair[Start, RunResult](),
		newPair[RequestScore, ScoreValue](),
	}
	for _, p := range append(builtin, o.pairs...) {
		if err := e.pairs.add(p); err != nil {
			panic(fmt.Sprintf("flow: new engine: %v", err))
		}
	}
	if err := e.pairs.check(); err != nil {
		panic(fmt.Sprintf("flow: new engine: payload self-test: %v", err))
	}

	e.world.OnInsert(e.onInsert)
	e.world.OnRemove(e.onRemove)

	if o.telemetry {
		e.tel = newTelemetry()
		e.Observe(e.tel.record)
	}
	e.installDebug()

	return e
}

// World returns the world. It panics with ErrWorldLent while the world is
// moved into an async token held by another goroutine.
func (e *Engine) World() *world.World {
	e.checkOwner()
	return e.world
}

// Registry returns the engine's action registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

func (e *Engine) onInsert(w *world.World, id world.NodeID, c any) {
	if r, ok := c.(Requirer); ok {
		for _, req := range r.Requires() {
			if !w.Holds(id, req) {
				w.Insert(id, req)
			}
		}
	}
	if a, ok := c.(Action); ok {
		e.registry.Register(id, a.ActionKind(), a.Setup)
	}
	if s, ok := c.(spawnTrigger); ok {
		e.Defer(func(e *Engine) {
			if e.world.Alive(id) {
				s.triggerOnSpawn(e, id)
			}
		})
	}
	if e.debug.Running {
		if r, ok := c.(Running); ok {
			e.logger.Debug("flow: running", "node", id, "origin", r.Origin)
		}
	}
}

func (e *Engine) onRemove(_ *world.World, id world.NodeID, c any) {
	if a, ok := c.(Action); ok {
		e.registry.Unregister(id, a.ActionKind())
	}
	if e.debug.Running {
		if _, ok := c.(Running); ok {
			e.logger.Debug("flow: stopped running", "node", id)
		}
	}
}

func (e *Engine) checkOwner() {
	if !e.lent.Load() {
		return
	}
	if !e.holder.IsCurrent() {
		panic(fmt.Errorf("flow: engine used outside its async token: %w", ErrWorldLent))
	}
}

func (e *Engine) wiringError(node world.NodeID, t reflect.Type, err error) *WiringError {
	return &WiringError{
		Node:       node,
		Payload:    t,
		Components: e.world.ComponentNames(node),
		Err:        err,
	}
}

func (e *Engine) checkPaired(run, result any) {
	p, ok := e.pairs.byRun[reflect.TypeOf(run)]
	if !ok {
		panic(e.wiringError(world.Placeholder, reflect.TypeOf(run), ErrUnpairedPayload))
	}
	if p.result != reflect.TypeOf(result) {
		panic(fmt.Errorf("flow: run %v must complete with %v, got %T: %w", p.run, p.result, result, ErrPairConflict))
	}
}

// Run runs payload on action, with action as the origin. It panics with a
// *WiringError if no action on the node handles the payload.
func (e *Engine) Run(action world.NodeID, payload any) {
	e.RunFrom(action, world.Placeholder, payload)
}

// RunFrom runs payload on action with an explicit origin. A placeholder origin
// resolves to action.
func (e *Engine) RunFrom(action, origin world.NodeID, payload any) {
	if err := e.TryRunFrom(action, origin, payload); err != nil {
		panic(err)
	}
}

// TryRun is Run, returning wiring errors instead of panicking.
func (e *Engine) TryRun(action world.NodeID, payload any) error {
	return e.TryRunFrom(action, world.Placeholder, payload)
}

// TryRunFrom is RunFrom, returning wiring errors instead of panicking.
func (e *Engine) TryRunFrom(action, origin world.NodeID, payload any) error {
	e.checkOwner()
	t := reflect.TypeOf(payload)
	if _, ok := e.pairs.byRun[t]; !ok {
		return e.wiringError(action, t, ErrUnpairedPayload)
	}
	if !e.world.Alive(action) {
		return e.wiringError(action, t, world.ErrNoEntity)
	}
	if origin.IsPlaceholder() {
		origin = action
	}
	handlers := e.registry.runHandlers(action, t)
	if len(handlers) == 0 {
		return e.wiringError(action, t, ErrNoAction)
	}

	world.Remove[Interrupted](e.world, action)
	e.world.Insert(action, Running{Origin: origin})
	e.emit(Trace{Phase: PhaseRun, Action: action, Origin: origin, Payload: payload})

	for _, h := range handlers {
		h(e, action, origin, payload)
	}
	return nil
}

// Result reports payload as the result of action for the traversal started by
// origin. Result handlers and observers on action are notified, then, unless
// action has NoBubble, the result is delivered to action's parent as a child
// result. Results for despawned nodes are dropped.
func (e *Engine) Result(action, origin world.NodeID, payload any) {
	e.checkOwner()
	t := reflect.TypeOf(payload)
	p, ok := e.pairs.byResult[t]
	if !ok {
		panic(e.wiringError(action, t, ErrUnpairedPayload))
	}
	if origin.IsPlaceholder() {
		origin = action
	}
	if !e.world.Alive(action) {
		e.emit(Trace{Phase: PhaseDropped, Action: action, Origin: origin, Payload: payload})
		return
	}

	world.Remove[Running](e.world, action)
	e.emit(Trace{Phase: PhaseResult, Action: action, Origin: origin, Payload: payload})

	for _, h := range e.registry.resultHandlers(action, t) {
		h(e, action, origin, payload)
	}
	p.notifyResult(e, action, origin, payload)

	if !e.world.Alive(action) || world.Has[NoBubble](e.world, action) {
		return
	}
	parent, ok := e.world.Parent(action)
	if !ok {
		return
	}
	e.bubble(p, parent, action, origin, payload)
}

// Notify delivers payload to parent as a child result from child, whether or
// not child has NoBubble. Actions with NoBubble use it to report to their
// parent explicitly.
func (e *Engine) Notify(parent, child, origin world.NodeID, payload any) {
	e.checkOwner()
	t := reflect.TypeOf(payload)
	p, ok := e.pairs.byResult[t]
	if !ok {
		panic(e.wiringError(parent, t, ErrUnpairedPayload))
	}
	e.bubble(p, parent, child, origin, payload)
}

func (e *Engine) bubble(p *pair, parent, child, origin world.NodeID, payload any) {
	handlers := e.registry.childHandlers(parent, p.result)
	if len(handlers) == 0 && !p.observingChild(e, parent) {
		e.emit(Trace{Phase: PhaseDropped, Action: parent, Child: child, Origin: origin, Payload: payload})
		return
	}
	e.emit(Trace{Phase: PhaseChildResult, Action: parent, Child: child, Origin: origin, Payload: payload})
	for _, h := range handlers {
		h(e, parent, child, origin, payload)
	}
	p.notifyChild(e, parent, child, origin, payload)
}

// Defer queues fn to run at the next Update, after the current traversal.
func (e *Engine) Defer(fn func(*Engine)) {
	e.world.Defer(func(*world.World) { fn(e) })
}

// Post queues fn to run on the owner at the next Update. Unlike every other
// method, it is safe to call from any goroutine.
func (e *Engine) Post(fn func(*Engine)) {
	e.mu.Lock()
	e.posted = append(e.posted, fn)
	e.mu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Wake returns a channel that receives after Post, so an owner loop can sleep
// until there is work.
func (e *Engine) Wake() <-chan struct{} { return e.wake }

// Update applies posted functions, then deferred commands queued before the
// call, then ticks every running Ticker. It returns the amount of work done,
// zero meaning the engine is idle.
func (e *Engine) Update() int {
	e.checkOwner()
	e.mu.Lock()
	posted := e.posted
	e.posted = nil
	e.mu.Unlock()

	n := len(posted)
	for _, fn := range posted {
		fn(e)
	}
	n += e.world.Flush()
	n += e.tick()
	return n
}

// Settle calls Update until it reports no work, at most limit times. It
// returns the number of updates that did work.
func (e *Engine) Settle(limit int) int {
	for i := range limit {
		if e.Update() == 0 {
			return i
		}
	}
	return limit
}

// Ticker is implemented by long-running action components that make progress
// on each Update while their node is Running.
type Ticker interface {
	Tick(e *Engine, node world.NodeID)
}

func (e *Engine) tick() int {
	type entry struct {
		node world.NodeID
		t    Ticker
	}
	var due []entry
	visit := func(n world.NodeID) {
		if !world.Has[Running](e.world, n) {
			return
		}
		for _, c := range e.world.Components(n) {
			if t, ok := c.(Ticker); ok {
				due = append(due, entry{n, t})
			}
		}
	}
	for _, root := range e.world.Roots() {
		visit(root)
		for n := range e.world.DescendantsDFS(root) {
			visit(n)
		}
	}
	for _, d := range due {
		if world.Has[Running](e.world, d.node) {
			d.t.Tick(e, d.node)
		}
	}
	return len(due)
}

// Phase identifies a protocol step in a Trace.
type Phase uint8

const (
	PhaseRun Phase = iota
	PhaseResult
	PhaseChildResult
	PhaseInterrupt
	// PhaseDropped is a result or child result nothing was listening for.
	PhaseDropped
)

func (p Phase) String() string {
	switch p {
	case PhaseRun:
		return "run"
	case PhaseResult:
		return "result"
	case PhaseChildResult:
		return "child-result"
	case PhaseInterrupt:
		return "interrupt"
	case PhaseDropped:
		return "dropped"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// Trace describes one protocol step, see Engine.Observe.
type Trace struct {
	Phase   Phase
	Action  world.NodeID
	Origin  world.NodeID
	Child   world.NodeID
	Payload any
}

type tap struct {
	fn func(Trace)
}

// Observe registers fn to be called for every protocol step, after the step
// is decided and before handlers run. The returned func unregisters it.
func (e *Engine) Observe(fn func(Trace)) (cancel func()) {
	t := &tap{fn: fn}
	e.taps = append(e.taps, t)
	return func() {
		e.taps = slices.DeleteFunc(e.taps, func(x *tap) bool { return x == t })
	}
}

func (e *Engine) emit(tr Trace) {
	if len(e.taps) == 0 {
		return
	}
	for _, t := range slices.Clone(e.taps) {
		t.fn(tr)
	}
}
