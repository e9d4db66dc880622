// Package world is the entity/component substrate the flow engine runs on.
//
// A World holds entities (NodeID), a single-parent relationship between them,
// dynamically typed components, typed observers scoped to an entity, and a
// deferred command queue. It is NOT goroutine-safe: exactly one goroutine may
// own a World at a time, and ownership is handed over explicitly (see the flow
// package's async bridge).
package world

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
)

// NodeID identifies an entity. The zero value is never allocated, and is used
// as a placeholder for "not yet resolved".
type NodeID uint64

// Placeholder is the unresolved NodeID.
const Placeholder NodeID = 0

// IsPlaceholder reports whether id is the unresolved placeholder.
func (id NodeID) IsPlaceholder() bool { return id == Placeholder }

func (id NodeID) String() string {
	if id == Placeholder {
		return "node(placeholder)"
	}
	return fmt.Sprintf("node(%d)", uint64(id))
}

var (
	// ErrNoEntity is returned when an operation names an entity that does not exist.
	ErrNoEntity = errors.New("entity does not exist")
	// ErrAlreadyParented is returned when linking a child that already has a
	// different parent. Nodes may have at most one parent.
	ErrAlreadyParented = errors.New("entity already has a parent")
	// ErrCycle is returned when a link would make an entity its own ancestor.
	ErrCycle = errors.New("relationship would create a cycle")
)

// Hook is invoked when a component is inserted into, or removed from, an entity.
type Hook func(w *World, id NodeID, component any)

// World is the in-memory entity store.
type World struct {
	next     NodeID
	entities map[NodeID]*entity
	// roots in spawn order; entities are appended on spawn and filtered on read
	order []NodeID

	insertHooks []Hook
	removeHooks []Hook

	observers observerTable
	deferred  []func(*World)
}

type entity struct {
	parent     NodeID
	children   []NodeID
	components []any
	index      map[reflect.Type]int
	despawning bool
}

// New creates an empty World.
func New() *World {
	return &World{
		entities: make(map[NodeID]*entity),
	}
}

// OnInsert registers a hook called after any component is inserted (including
// a replacement of an existing component of the same type).
func (w *World) OnInsert(h Hook) { w.insertHooks = append(w.insertHooks, h) }

// OnRemove registers a hook called before any component is removed, including
// removals caused by Despawn.
func (w *World) OnRemove(h Hook) { w.removeHooks = append(w.removeHooks, h) }

// Spawn creates a new root entity holding the given components.
func (w *World) Spawn(components ...any) NodeID {
	w.next++
	id := w.next
	w.entities[id] = &entity{index: make(map[reflect.Type]int)}
	w.order = append(w.order, id)
	for _, c := range components {
		w.Insert(id, c)
	}
	return id
}

// SpawnChild creates a new entity as the last child of parent.
// Panics if parent does not exist.
func (w *World) SpawnChild(parent NodeID, components ...any) NodeID {
	if !w.Alive(parent) {
		panic(fmt.Sprintf("world: spawn child of %v: %v", parent, ErrNoEntity))
	}
	w.next++
	id := w.next
	w.entities[id] = &entity{index: make(map[reflect.Type]int)}
	w.order = append(w.order, id)
	if err := w.SetParent(id, parent); err != nil {
		panic(fmt.Sprintf("world: spawn child of %v: %v", parent, err))
	}
	for _, c := range components {
		w.Insert(id, c)
	}
	return id
}

// Alive reports whether id refers to an existing entity.
func (w *World) Alive(id NodeID) bool {
	e, ok := w.entities[id]
	return ok && !e.despawning
}

// Len returns the number of live entities.
func (w *World) Len() int {
	n := 0
	for _, e := range w.entities {
		if !e.despawning {
			n++
		}
	}
	return n
}

// Despawn removes id and all of its descendants. Components are removed
// through the remove hooks (children first), observers scoped to the removed
// entities are dropped, and id is unlinked from its parent.
// Despawning an entity that does not exist is a no-op.
func (w *World) Despawn(id NodeID) {
	e, ok := w.entities[id]
	if !ok || e.despawning {
		return
	}
	e.despawning = true
	for _, child := range slices.Clone(e.children) {
		w.Despawn(child)
	}
	for i := len(e.components) - 1; i >= 0; i-- {
		c := e.components[i]
		if c == nil {
			continue
		}
		for _, h := range w.removeHooks {
			h(w, id, c)
		}
	}
	if e.parent != Placeholder {
		if p, ok := w.entities[e.parent]; ok {
			p.children = slices.DeleteFunc(p.children, func(c NodeID) bool { return c == id })
		}
	}
	w.observers.dropTarget(id)
	delete(w.entities, id)
	w.order = slices.DeleteFunc(w.order, func(c NodeID) bool { return c == id })
}

// Insert adds component c to id, replacing any component of the same dynamic
// type. Panics if id does not exist or c is nil.
func (w *World) Insert(id NodeID, c any) {
	e := w.mustEntity(id, "insert")
	if c == nil {
		panic("world: insert nil component")
	}
	t := reflect.TypeOf(c)
	if i, ok := e.index[t]; ok {
		e.components[i] = c
	} else {
		e.index[t] = len(e.components)
		e.components = append(e.components, c)
	}
	for _, h := range w.insertHooks {
		h(w, id, c)
	}
}

// Components returns the components of id in insertion order.
func (w *World) Components(id NodeID) []any {
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	out := make([]any, 0, len(e.components))
	for _, c := range e.components {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// ComponentNames returns the dynamic type names of the components on id, for
// diagnostics.
func (w *World) ComponentNames(id NodeID) []string {
	var names []string
	for _, c := range w.Components(id) {
		names = append(names, reflect.TypeOf(c).String())
	}
	return names
}

func (w *World) lookup(id NodeID, t reflect.Type) (any, bool) {
	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	i, ok := e.index[t]
	if !ok {
		return nil, false
	}
	return e.components[i], true
}

func (w *World) remove(id NodeID, t reflect.Type) bool {
	e, ok := w.entities[id]
	if !ok {
		return false
	}
	i, ok := e.index[t]
	if !ok {
		return false
	}
	c := e.components[i]
	for _, h := range w.removeHooks {
		h(w, id, c)
	}
	// hooks may have mutated the entity
	i, ok = e.index[t]
	if !ok {
		return true
	}
	e.components = slices.Delete(e.components, i, i+1)
	delete(e.index, t)
	for k, v := range e.index {
		if v > i {
			e.index[k] = v - 1
		}
	}
	return true
}

// Get returns the component of type T on id.
func Get[T any](w *World, id NodeID) (T, bool) {
	c, ok := w.lookup(id, reflect.TypeFor[T]())
	if !ok {
		var zero T
		return zero, false
	}
	return c.(T), true
}

// MustGet is Get but panics when the component is missing.
func MustGet[T any](w *World, id NodeID) T {
	c, ok := Get[T](w, id)
	if !ok {
		panic(fmt.Sprintf("world: %v has no %v component (has %v)", id, reflect.TypeFor[T](), w.ComponentNames(id)))
	}
	return c
}

// Holds reports whether id holds a component with the same dynamic type as c.
func (w *World) Holds(id NodeID, c any) bool {
	_, ok := w.lookup(id, reflect.TypeOf(c))
	return ok
}

// Has reports whether id holds a component of type T.
func Has[T any](w *World, id NodeID) bool {
	_, ok := w.lookup(id, reflect.TypeFor[T]())
	return ok
}

// Remove removes the component of type T from id, reporting whether it existed.
func Remove[T any](w *World, id NodeID) bool {
	return w.remove(id, reflect.TypeFor[T]())
}

// RemoveValue removes the component with the same dynamic type as c.
func (w *World) RemoveValue(id NodeID, c any) bool {
	return w.remove(id, reflect.TypeOf(c))
}

// Defer queues fn to run on the next Flush. Use it for mutations requested
// while a traversal is in progress.
func (w *World) Defer(fn func(*World)) { w.deferred = append(w.deferred, fn) }

// Pending returns the number of deferred commands waiting for a Flush.
func (w *World) Pending() int { return len(w.deferred) }

// Flush applies the deferred commands queued before the call, in FIFO order.
// Commands deferred while flushing are kept for the next Flush, so a command
// that re-queues itself cannot spin forever. Returns the number applied.
func (w *World) Flush() int {
	batch := w.deferred
	w.deferred = nil
	for _, fn := range batch {
		fn(w)
	}
	return len(batch)
}

func (w *World) mustEntity(id NodeID, op string) *entity {
	e, ok := w.entities[id]
	if !ok {
		panic(fmt.Sprintf("world: %s %v: %v", op, id, ErrNoEntity))
	}
	return e
}
