package flow

import (
	"reflect"
	"slices"

	"github.com/joeycumines/actionflow/internal/world"
)

// Kind is the explicit tag identifying an action type. Handler sets are shared
// by every node holding an action of the same kind.
type Kind string

// Action is a component that participates in the run/result protocol.
type Action interface {
	// ActionKind returns the tag the action's handlers are registered under.
	ActionKind() Kind
	// Setup installs the handlers for this kind. It is called once per kind,
	// per engine, the first time an action of the kind is attached to any
	// node. Handlers read per-node state from the world, never from the
	// receiver.
	Setup(h *Handlers)
}

// Requirer is implemented by components that need companion components on the
// same node. Missing requirements are inserted when the component is.
type Requirer interface {
	Requires() []any
}

type (
	runFunc    func(e *Engine, action, origin world.NodeID, payload any)
	resultFunc func(e *Engine, action, origin world.NodeID, payload any)
	childFunc  func(e *Engine, parent, child, origin world.NodeID, payload any)
)

// Handlers is the shared handler set for one action kind.
type Handlers struct {
	engine    *Engine
	kind      Kind
	run       map[reflect.Type][]runFunc
	result    map[reflect.Type][]resultFunc
	child     map[reflect.Type][]childFunc
	interrupt []func(OnInterrupt)
	attach    []func(e *Engine, node world.NodeID)
}

func newHandlers(e *Engine, kind Kind) *Handlers {
	return &Handlers{
		engine: e,
		kind:   kind,
		run:    make(map[reflect.Type][]runFunc),
		result: make(map[reflect.Type][]resultFunc),
		child:  make(map[reflect.Type][]childFunc),
	}
}

// Kind returns the kind this set serves.
func (h *Handlers) Kind() Kind { return h.kind }

// Engine returns the engine the set belongs to.
func (h *Handlers) Engine() *Engine { return h.engine }

// handleRunPaired adds a run handler for the run type paired with result type
// t. It panics if t has no pair.
func (h *Handlers) handleRunPaired(t reflect.Type, fn runFunc) {
	p, ok := h.engine.pairs.byResult[t]
	if !ok {
		panic(h.engine.wiringError(world.Placeholder, t, ErrUnpairedPayload))
	}
	h.run[p.run] = append(h.run[p.run], fn)
}

// HandleInterrupt adds a handler invoked when a running node of this kind is
// interrupted.
func (h *Handlers) HandleInterrupt(fn func(OnInterrupt)) {
	h.interrupt = append(h.interrupt, fn)
}

// HandleAttach adds a handler invoked each time a node is newly linked to
// this kind. It is the place for per-node observers, such as OnGetReady.
func (h *Handlers) HandleAttach(fn func(e *Engine, node world.NodeID)) {
	h.attach = append(h.attach, fn)
}

// HandleRun adds a handler for run requests carrying payload T.
func HandleRun[T any](h *Handlers, fn func(OnRun[T])) {
	t := reflect.TypeFor[T]()
	h.run[t] = append(h.run[t], func(e *Engine, action, origin world.NodeID, payload any) {
		fn(OnRun[T]{Payload: payload.(T), Action: action, Origin: origin, engine: e})
	})
}

// HandleResult adds a handler for results of type T produced by the node
// itself.
func HandleResult[T any](h *Handlers, fn func(OnResult[T])) {
	t := reflect.TypeFor[T]()
	h.result[t] = append(h.result[t], func(e *Engine, action, origin world.NodeID, payload any) {
		fn(OnResult[T]{Payload: payload.(T), Action: action, Origin: origin, engine: e})
	})
}

// HandleChildResult adds a handler for results of type T bubbled up from a
// child.
func HandleChildResult[T any](h *Handlers, fn func(OnChildResult[T])) {
	t := reflect.TypeFor[T]()
	h.child[t] = append(h.child[t], func(e *Engine, parent, child, origin world.NodeID, payload any) {
		fn(OnChildResult[T]{Payload: payload.(T), Action: parent, Child: child, Origin: origin, engine: e})
	})
}

// Registry maps nodes to the handler sets of the action kinds attached to them.
// It is owned by an Engine.
type Registry struct {
	engine *Engine
	sets   map[Kind]*Handlers
	links  map[world.NodeID][]Kind
	order  []Kind
}

func newRegistry(e *Engine) *Registry {
	return &Registry{
		engine: e,
		sets:   make(map[Kind]*Handlers),
		links:  make(map[world.NodeID][]Kind),
	}
}

// Register links node to the handler set for kind, calling create to populate
// the set if this is the first registration of kind. Registering an existing
// (node, kind) link is a no-op.
func (r *Registry) Register(node world.NodeID, kind Kind, create func(*Handlers)) *Handlers {
	set, ok := r.sets[kind]
	if !ok {
		set = newHandlers(r.engine, kind)
		r.sets[kind] = set
		r.order = append(r.order, kind)
		if create != nil {
			create(set)
		}
	}
	if !slices.Contains(r.links[node], kind) {
		r.links[node] = append(r.links[node], kind)
		for _, fn := range set.attach {
			fn(r.engine, node)
		}
	}
	return set
}

// Unregister removes the link between node and kind. The handler set itself
// is kept for other nodes.
func (r *Registry) Unregister(node world.NodeID, kind Kind) {
	kinds := slices.DeleteFunc(r.links[node], func(k Kind) bool { return k == kind })
	if len(kinds) == 0 {
		delete(r.links, node)
		return
	}
	r.links[node] = kinds
}

// Kinds returns the kinds linked to node, in attachment order.
func (r *Registry) Kinds(node world.NodeID) []Kind {
	return slices.Clone(r.links[node])
}

// KnownKinds returns every kind with a handler set, in creation order.
func (r *Registry) KnownKinds() []Kind {
	return slices.Clone(r.order)
}

// Handlers returns the set for kind, if one was created.
func (r *Registry) Handlers(kind Kind) (*Handlers, bool) {
	h, ok := r.sets[kind]
	return h, ok
}

func (r *Registry) each(node world.NodeID, fn func(*Handlers)) {
	for _, k := range r.links[node] {
		fn(r.sets[k])
	}
}

func (r *Registry) runHandlers(node world.NodeID, t reflect.Type) []runFunc {
	var out []runFunc
	r.each(node, func(h *Handlers) { out = append(out, h.run[t]...) })
	return out
}

func (r *Registry) resultHandlers(node world.NodeID, t reflect.Type) []resultFunc {
	var out []resultFunc
	r.each(node, func(h *Handlers) { out = append(out, h.result[t]...) })
	return out
}

func (r *Registry) childHandlers(node world.NodeID, t reflect.Type) []childFunc {
	var out []childFunc
	r.each(node, func(h *Handlers) { out = append(out, h.child[t]...) })
	return out
}

func (r *Registry) interruptHandlers(node world.NodeID) []func(OnInterrupt) {
	var out []func(OnInterrupt)
	r.each(node, func(h *Handlers) { out = append(out, h.interrupt...) })
	return out
}
