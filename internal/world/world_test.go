package world

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type name string

type health struct{ hp int }

type ping struct{ n int }

func TestWorld_ComponentLifecycle(t *testing.T) {
	t.Parallel()

	w := New()
	id := w.Spawn(name("a"), health{hp: 3})

	require.True(t, w.Alive(id))
	require.True(t, Has[name](w, id))
	require.Equal(t, health{hp: 3}, MustGet[health](w, id))

	// replacement keeps insertion position
	w.Insert(id, name("b"))
	require.Equal(t, []any{name("b"), health{hp: 3}}, w.Components(id))

	require.True(t, Remove[name](w, id))
	require.False(t, Remove[name](w, id))
	_, ok := Get[name](w, id)
	require.False(t, ok)
	require.Equal(t, []string{"world.health"}, w.ComponentNames(id))

	require.Panics(t, func() { MustGet[name](w, id) })
	require.Panics(t, func() { w.Insert(id, nil) })
	require.Panics(t, func() { w.Insert(NodeID(999), name("x")) })
}

func TestWorld_Hooks(t *testing.T) {
	t.Parallel()

	w := New()
	var inserted, removed []any
	w.OnInsert(func(_ *World, _ NodeID, c any) { inserted = append(inserted, c) })
	w.OnRemove(func(_ *World, _ NodeID, c any) { removed = append(removed, c) })

	root := w.Spawn(name("root"))
	w.SpawnChild(root, name("child"))
	w.Despawn(root)

	assert.Equal(t, []any{name("root"), name("child")}, inserted)
	// children are torn down first
	assert.Equal(t, []any{name("child"), name("root")}, removed)
	assert.Equal(t, 0, w.Len())
}

func TestWorld_SingleParent(t *testing.T) {
	t.Parallel()

	w := New()
	a := w.Spawn()
	b := w.Spawn()
	c := w.SpawnChild(a)

	require.ErrorIs(t, w.SetParent(c, b), ErrAlreadyParented)
	require.NoError(t, w.SetParent(c, a), "re-linking to the same parent is a no-op")
	require.ErrorIs(t, w.SetParent(a, c), ErrCycle)
	require.ErrorIs(t, w.SetParent(a, a), ErrCycle)
	require.ErrorIs(t, w.SetParent(a, NodeID(42)), ErrNoEntity)

	w.Unparent(c)
	require.NoError(t, w.SetParent(c, b))
	p, ok := w.Parent(c)
	require.True(t, ok)
	require.Equal(t, b, p)
	require.Empty(t, w.Children(a))
}

func TestWorld_Traversal(t *testing.T) {
	t.Parallel()

	//        r
	//      /   \
	//     a     b
	//    / \     \
	//   c   d     e
	w := New()
	r := w.Spawn()
	a := w.SpawnChild(r)
	b := w.SpawnChild(r)
	c := w.SpawnChild(a)
	d := w.SpawnChild(a)
	e := w.SpawnChild(b)
	other := w.Spawn()

	require.Equal(t, []NodeID{a, b, c, d, e}, slices.Collect(w.DescendantsBFS(r)))
	require.Equal(t, []NodeID{a, c, d, b, e}, slices.Collect(w.DescendantsDFS(r)))
	require.Equal(t, []NodeID{d, a, r}, slices.Collect(w.Ancestors(d)))
	require.Equal(t, r, w.Root(e))
	require.Equal(t, []NodeID{r, other}, w.Roots())
	require.Equal(t, 1, w.ChildIndex(a, d))
	require.Equal(t, -1, w.ChildIndex(b, d))
}

func TestWorld_DeferredFlushIsSnapshot(t *testing.T) {
	t.Parallel()

	w := New()
	var order []int
	var requeue func(*World)
	count := 0
	requeue = func(w *World) {
		count++
		order = append(order, count)
		w.Defer(requeue)
	}
	w.Defer(func(*World) { order = append(order, 0) })
	w.Defer(requeue)

	require.Equal(t, 2, w.Flush())
	require.Equal(t, []int{0, 1}, order)
	require.Equal(t, 1, w.Pending())
	require.Equal(t, 1, w.Flush())
	require.Equal(t, []int{0, 1, 2}, order)
}

func TestWorld_Observers(t *testing.T) {
	t.Parallel()

	w := New()
	root := w.Spawn()
	mid := w.SpawnChild(root)
	leaf := w.SpawnChild(mid)

	var got []string
	Observe(w, root, func(tr Trigger[ping]) {
		require.Equal(t, leaf, tr.OriginalTarget)
		got = append(got, "root")
	})
	midID := Observe(w, mid, func(tr Trigger[ping]) {
		got = append(got, "mid")
		if tr.Event.n == 2 {
			tr.StopPropagation()
		}
	})

	NotifyPropagate(w, leaf, ping{n: 1})
	require.Equal(t, []string{"mid", "root"}, got)

	got = nil
	NotifyPropagate(w, leaf, ping{n: 2})
	require.Equal(t, []string{"mid"}, got)

	got = nil
	Notify(w, leaf, ping{n: 1})
	require.Empty(t, got)

	require.True(t, w.Unobserve(midID))
	require.False(t, w.Unobserve(midID))
	require.False(t, Observing[ping](w, mid))

	w.Despawn(root)
	require.False(t, Observing[ping](w, root))
}

func TestWorld_ObserverRemovedDuringNotify(t *testing.T) {
	t.Parallel()

	w := New()
	n := w.Spawn()
	var second ObserverID
	calls := 0
	Observe(w, n, func(Trigger[ping]) {
		calls++
		w.Unobserve(second)
	})
	second = Observe(w, n, func(Trigger[ping]) { calls += 10 })

	Notify(w, n, ping{})
	require.Equal(t, 1, calls)
}
