package world

import (
	"reflect"
	"slices"
)

// ObserverID identifies a registered observer, see Unobserve.
type ObserverID uint64

// Trigger is what an observer receives.
type Trigger[E any] struct {
	Event E
	// Target is the entity currently being notified. When propagating, this is
	// the ancestor the event has reached.
	Target NodeID
	// OriginalTarget is the entity the event was first triggered on.
	OriginalTarget NodeID

	stop *bool
}

// StopPropagation prevents the event from reaching further ancestors. It has no
// effect on a non-propagating trigger.
func (t Trigger[E]) StopPropagation() {
	if t.stop != nil {
		*t.stop = true
	}
}

type observer struct {
	id     ObserverID
	target NodeID
	event  reflect.Type
	fn     any
}

type observerTable struct {
	next ObserverID
	// keyed by event type, then target, in registration order
	byEvent map[reflect.Type]map[NodeID][]*observer
	byID    map[ObserverID]*observer
}

func (t *observerTable) add(target NodeID, event reflect.Type, fn any) ObserverID {
	if t.byEvent == nil {
		t.byEvent = make(map[reflect.Type]map[NodeID][]*observer)
		t.byID = make(map[ObserverID]*observer)
	}
	t.next++
	o := &observer{id: t.next, target: target, event: event, fn: fn}
	byTarget := t.byEvent[event]
	if byTarget == nil {
		byTarget = make(map[NodeID][]*observer)
		t.byEvent[event] = byTarget
	}
	byTarget[target] = append(byTarget[target], o)
	t.byID[o.id] = o
	return o.id
}

func (t *observerTable) remove(id ObserverID) bool {
	o, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	byTarget := t.byEvent[o.event]
	byTarget[o.target] = slices.DeleteFunc(byTarget[o.target], func(x *observer) bool { return x == o })
	if len(byTarget[o.target]) == 0 {
		delete(byTarget, o.target)
	}
	return true
}

func (t *observerTable) dropTarget(target NodeID) {
	for _, byTarget := range t.byEvent {
		for _, o := range byTarget[target] {
			delete(t.byID, o.id)
		}
		delete(byTarget, target)
	}
}

// snapshot returns the observers currently registered, so that handlers may
// register or remove observers while being notified.
func (t *observerTable) snapshot(target NodeID, event reflect.Type) []*observer {
	return slices.Clone(t.byEvent[event][target])
}

func (t *observerTable) live(o *observer) bool {
	_, ok := t.byID[o.id]
	return ok
}

// Observe registers fn to be notified of events of type E triggered on (or
// propagated through) target. Observers on the same target are notified in
// registration order.
func Observe[E any](w *World, target NodeID, fn func(Trigger[E])) ObserverID {
	w.mustEntity(target, "observe")
	return w.observers.add(target, reflect.TypeFor[E](), fn)
}

// Unobserve removes an observer, reporting whether it was registered.
func (w *World) Unobserve(id ObserverID) bool { return w.observers.remove(id) }

// Observing reports whether any observer for E is registered on target.
func Observing[E any](w *World, target NodeID) bool {
	return len(w.observers.byEvent[reflect.TypeFor[E]()][target]) != 0
}

// Notify delivers ev to the observers of target only.
func Notify[E any](w *World, target NodeID, ev E) {
	notify(w, target, target, ev, nil)
}

// NotifyPropagate delivers ev to the observers of target, then to those of each
// ancestor in turn (one level at a time) until the root is reached or an
// observer calls StopPropagation.
func NotifyPropagate[E any](w *World, target NodeID, ev E) {
	var stop bool
	for cur := range w.Ancestors(target) {
		notify(w, cur, target, ev, &stop)
		if stop {
			return
		}
	}
}

func notify[E any](w *World, target, original NodeID, ev E, stop *bool) {
	for _, o := range w.observers.snapshot(target, reflect.TypeFor[E]()) {
		if !w.observers.live(o) {
			continue
		}
		o.fn.(func(Trigger[E]))(Trigger[E]{
			Event:          ev,
			Target:         target,
			OriginalTarget: original,
			stop:           stop,
		})
	}
}
