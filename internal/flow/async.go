package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/actionflow/internal/world"
)

// AsyncAction is a component whose work spans suspension points (I/O, timers,
// other goroutines). The async bridge moves the engine into tok for the
// duration of RunAsync; the action must return tok (or another token for the
// same engine) when done, including on failure.
//
// An action with nothing to do should return immediately.
type AsyncAction interface {
	RunAsync(ctx context.Context, node world.NodeID, tok *Token) (*Token, error)
}

// AsyncFunc adapts a function to AsyncAction.
type AsyncFunc func(ctx context.Context, node world.NodeID, tok *Token) (*Token, error)

func (f AsyncFunc) RunAsync(ctx context.Context, node world.NodeID, tok *Token) (*Token, error) {
	return f(ctx, node, tok)
}

// AsyncEntry is one collected async action.
type AsyncEntry struct {
	Node   world.NodeID
	Action AsyncAction
}

// Order is the traversal order used by CollectAsync. Order affects apparent
// priority: the bridge drives entries in the order collected.
type Order uint8

const (
	BreadthFirst Order = iota
	DepthFirst
)

func (o Order) String() string {
	switch o {
	case BreadthFirst:
		return "bfs"
	case DepthFirst:
		return "dfs"
	default:
		return fmt.Sprintf("Order(%d)", uint8(o))
	}
}

// ParseOrder parses "bfs" or "dfs".
func ParseOrder(s string) (Order, error) {
	switch s {
	case "bfs", "breadth-first":
		return BreadthFirst, nil
	case "dfs", "depth-first":
		return DepthFirst, nil
	default:
		return 0, fmt.Errorf("invalid async order %q (want bfs or dfs)", s)
	}
}

// CollectAsync lists every AsyncAction component in the world. Roots are
// visited in spawn order, each followed by its descendants in the given order;
// a node contributes its async components in insertion order.
func CollectAsync(e *Engine, order Order) []AsyncEntry {
	e.checkOwner()
	w := e.world
	var out []AsyncEntry
	visit := func(n world.NodeID) {
		for _, c := range w.Components(n) {
			if a, ok := c.(AsyncAction); ok {
				out = append(out, AsyncEntry{Node: n, Action: a})
			}
		}
	}
	for _, root := range w.Roots() {
		visit(root)
		descendants := w.DescendantsBFS
		if order == DepthFirst {
			descendants = w.DescendantsDFS
		}
		for n := range descendants(root) {
			visit(n)
		}
	}
	return out
}

// Token is the engine, moved into an async action. Only the goroutine that
// last obtained the engine from the token may use it, and only while the token
// is held.
type Token struct {
	e     *Engine
	drive string
	held  atomic.Bool
	// slot serializes tokens of an unordered drive; nil for sequential drives
	slot chan struct{}
}

// Engine returns the engine, making the calling goroutine its holder. It panics
// with ErrTokenReleased if the token has been returned or is released by
// Await.
func (t *Token) Engine() *Engine {
	if !t.held.Load() {
		panic(fmt.Errorf("flow: token %s: %w", t.drive, ErrTokenReleased))
	}
	t.e.holder.Claim()
	return t.e
}

// World is shorthand for t.Engine().World().
func (t *Token) World() *world.World { return t.Engine().world }

// Drive returns the id of the drive the token belongs to.
func (t *Token) Drive() string { return t.drive }

// Held reports whether the token currently grants access to the engine.
func (t *Token) Held() bool { return t.held.Load() }

// Await releases the engine while fn runs, then takes it back. Use it around
// anything that blocks. In an unordered drive, other async actions may use the
// engine while fn runs; interleaving happens only at Await.
//
// If ctx is done before the engine can be taken back, Await returns ctx.Err()
// and the token stays released.
func (t *Token) Await(ctx context.Context, fn func(ctx context.Context) error) error {
	t.release()
	err := fn(ctx)
	if aerr := t.acquire(ctx); aerr != nil {
		return errors.Join(err, aerr)
	}
	return err
}

func (t *Token) acquire(ctx context.Context) error {
	if t.slot != nil {
		select {
		case t.slot <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	t.e.holder.Claim()
	t.held.Store(true)
	return nil
}

func (t *Token) release() {
	if !t.held.Swap(false) {
		panic(fmt.Errorf("flow: token %s: release: %w", t.drive, ErrTokenReleased))
	}
	t.e.holder.Clear()
	if t.slot != nil {
		<-t.slot
	}
}

func (e *Engine) lend() {
	if e.lent.Swap(true) {
		panic(fmt.Errorf("flow: lend: %w", ErrWorldLent))
	}
}

func (e *Engine) reclaim() {
	e.holder.Clear()
	e.lent.Store(false)
}

// DriveSequential drives entries one at a time. Each action receives the
// engine in a token and must hand it back before the next starts, so no two
// actions ever overlap. A failing entry stops the drive and its error is
// returned. Panics inside an action are not recovered; they propagate to the
// caller, with the engine reclaimed.
func DriveSequential(ctx context.Context, e *Engine, entries []AsyncEntry) error {
	e.checkOwner()
	drive := uuid.NewString()
	e.logger.Debug("flow: async drive", "drive", drive, "mode", "sequential", "entries", len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.driveOne(ctx, drive, entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) driveOne(ctx context.Context, drive string, entry AsyncEntry) (err error) {
	tok := &Token{e: e, drive: drive}
	e.lend()
	defer e.reclaim()
	if err := tok.acquire(ctx); err != nil {
		return err
	}
	ctx, end := e.tel.startEntry(ctx, drive, entry.Node, entry.Action)
	defer func() { end(err) }()

	back, err := entry.Action.RunAsync(ctx, entry.Node, tok)
	tok.held.Store(false)
	switch {
	case back == nil:
		err = errors.Join(err, ErrTokenNotReturned)
	case back.e != e:
		err = errors.Join(err, fmt.Errorf("%w: token belongs to another engine", ErrTokenNotReturned))
	}
	if err != nil {
		return fmt.Errorf("flow: async %T on %v: %w", entry.Action, entry.Node, err)
	}
	return nil
}

// DriveUnordered drives all entries concurrently, each on its own goroutine.
// The engine is still only ever held by one token at a time, but the order in
// which actions take it is unspecified, and actions interleave at Token.Await.
// The first error cancels the context passed to the remaining actions and is
// returned once all have finished. A panic inside an action cancels the others
// the same way and is re-raised on the calling goroutine once they finish, with
// the engine reclaimed.
func DriveUnordered(ctx context.Context, e *Engine, entries []AsyncEntry) error {
	e.checkOwner()
	drive := uuid.NewString()
	e.logger.Debug("flow: async drive", "drive", drive, "mode", "unordered", "entries", len(entries))

	slot := make(chan struct{}, 1)
	e.lend()
	e.holder.Clear()
	defer e.reclaim()

	var (
		panicOnce sync.Once
		panicked  any
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, entry := range entries {
		g.Go(func() (err error) {
			tok := &Token{e: e, drive: drive, slot: slot}
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
					if tok.held.Load() {
						tok.release()
					}
					err = fmt.Errorf("flow: async %T on %v: panicked", entry.Action, entry.Node)
				}
			}()
			if err := tok.acquire(gctx); err != nil {
				return err
			}
			ectx, end := e.tel.startEntry(gctx, drive, entry.Node, entry.Action)
			defer func() { end(err) }()

			back, err := entry.Action.RunAsync(ectx, entry.Node, tok)
			if tok.held.Load() {
				tok.release()
			}
			if back == nil {
				err = errors.Join(err, ErrTokenNotReturned)
			}
			if err != nil {
				return fmt.Errorf("flow: async %T on %v: %w", entry.Action, entry.Node, err)
			}
			return nil
		})
	}
	err := g.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return err
}
