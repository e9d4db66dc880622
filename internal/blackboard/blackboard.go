// Package blackboard provides the shared key/value state that actions of the
// same agent read and write. A *Blackboard is attached to an agent node as a
// component and resolved from any action acting on that agent.
package blackboard

import (
	"maps"
	"slices"
	"sync"

	"github.com/dop251/goja"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// Blackboard is a goroutine-safe key/value store. Every write bumps a
// revision, which lets readers cache work derived from the contents.
//
// The zero value is ready to use.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]any
	rev  uint64
}

// New returns a blackboard holding a copy of initial.
func New(initial map[string]any) *Blackboard {
	return &Blackboard{data: maps.Clone(initial)}
}

// Get returns the value for key, nil if absent.
func (b *Blackboard) Get(key string) any {
	v, _ := b.Lookup(key)
	return v
}

// Lookup returns the value for key and whether it is set. A key may be set to
// nil.
func (b *Blackboard) Lookup(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Has reports whether key is set.
func (b *Blackboard) Has(key string) bool {
	_, ok := b.Lookup(key)
	return ok
}

// Set stores value under key.
func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string]any)
	}
	b.data[key] = value
	b.rev++
}

// Delete removes key.
func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.data[key]; ok {
		delete(b.data, key)
		b.rev++
	}
}

// Clear removes every key.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) != 0 {
		clear(b.data)
		b.rev++
	}
}

// Keys returns the keys in sorted order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.data))
}

// Len returns the number of keys.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Revision returns a counter that changes whenever the contents change.
func (b *Blackboard) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.rev
}

// Snapshot returns a shallow copy of the contents, never nil. Mutable values
// (slices, maps, pointers) are shared with the blackboard.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]any, len(b.data))
	maps.Copy(out, b.data)
	return out
}

// Update applies fn to the contents under the write lock, for read-modify-write
// sequences that must not interleave with other writers.
func (b *Blackboard) Update(fn func(data map[string]any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string]any)
	}
	fn(b.data)
	b.rev++
}

// ExposeToJS builds a JavaScript object bound to this blackboard, with get,
// set, has, delete, keys, clear and len methods. It must be called on the
// goroutine that owns vm.
func (b *Blackboard) ExposeToJS(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("get", b.Get)
	_ = obj.Set("set", b.Set)
	_ = obj.Set("has", b.Has)
	_ = obj.Set("delete", b.Delete)
	_ = obj.Set("keys", b.Keys)
	_ = obj.Set("clear", b.Clear)
	_ = obj.Set("len", b.Len)
	return obj
}

// Attach returns the blackboard of node, inserting an empty one if it has
// none.
func Attach(w *world.World, node world.NodeID) *Blackboard {
	if bb, ok := world.Get[*Blackboard](w, node); ok {
		return bb
	}
	bb := new(Blackboard)
	w.Insert(node, bb)
	return bb
}

// For resolves the blackboard an action works against: the one on its agent,
// or failing that the first one among the agent's descendants.
func For(e *flow.Engine, action world.NodeID) (*Blackboard, bool) {
	bb, _, ok := flow.AgentComponent[*Blackboard](e, action)
	return bb, ok
}
