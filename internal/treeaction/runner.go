package treeaction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	bt "github.com/joeycumines/go-behaviortree"

	"github.com/joeycumines/actionflow/internal/flow"
	"github.com/joeycumines/actionflow/internal/world"
)

// ErrStopped is returned by Runner.Wait when a run ended without a result.
var ErrStopped = errors.New("treeaction: run stopped before completion")

// DefaultInterval is the tick interval used when none is given.
const DefaultInterval = 10 * time.Millisecond

// Runner drives an engine from bt tickers, one per started root, aggregated
// under a bt.Manager. Each tick calls Engine.Update then ticks the root as a
// Subtree; a root's ticker stops once the root produced a result.
//
// The engine is guarded by the runner's mutex: once a Runner is in use, other
// goroutines reach the engine through Do.
type Runner struct {
	e        *flow.Engine
	interval time.Duration
	manager  bt.Manager

	mu   sync.Mutex
	runs map[world.NodeID]*run
}

type run struct {
	id      string
	ticker  bt.Ticker
	release func()
	result  flow.RunResult
	done    bool
}

// NewRunner builds a runner ticking every interval, DefaultInterval when not
// positive.
func NewRunner(e *flow.Engine, interval time.Duration) *Runner {
	if e == nil {
		panic("treeaction: engine must not be nil")
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		e:        e,
		interval: interval,
		manager:  bt.NewManager(),
		runs:     make(map[world.NodeID]*run),
	}
}

// Start starts ticking root. It returns an id for the run, used in logs.
// Starting a root that is already ticking is an error.
func (r *Runner) Start(ctx context.Context, root world.NodeID) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.runs[root]; ok {
		select {
		case <-prev.ticker.Done():
			// a stopped run may not have seen its result
			prev.release()
		default:
			return "", fmt.Errorf("treeaction: root %v already running as %s", root, prev.id)
		}
	}
	if !r.e.World().Alive(root) {
		return "", fmt.Errorf("treeaction: start %v: %w", root, world.ErrNoEntity)
	}

	rn := &run{id: uuid.NewString()}
	var sub bt.Node
	sub, rn.release = Subtree(r.e, root)
	logger := r.e.Logger().With("run", rn.id, "root", r.e.NameOf(root))
	node := bt.New(func([]bt.Node) (bt.Status, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.e.Update()
		status, err := sub.Tick()
		if err != nil {
			rn.release()
			return bt.Failure, err
		}
		if res, ok := ResultOf(status); ok {
			rn.release()
			rn.result, rn.done = res, true
			logger.Debug("treeaction: run finished", "result", res)
			// failure stops the ticker without an error
			return bt.Failure, nil
		}
		return bt.Running, nil
	})

	rn.ticker = bt.NewTickerStopOnFailure(ctx, r.interval, node)
	if err := r.manager.Add(rn.ticker); err != nil {
		rn.ticker.Stop()
		rn.release()
		return "", fmt.Errorf("treeaction: start %v: %w", root, err)
	}
	r.runs[root] = rn
	logger.Debug("treeaction: run started", "interval", r.interval)
	return rn.id, nil
}

// Wait blocks until the run of root ends, returning its result.
func (r *Runner) Wait(ctx context.Context, root world.NodeID) (flow.RunResult, error) {
	r.mu.Lock()
	rn, ok := r.runs[root]
	r.mu.Unlock()
	if !ok {
		return flow.Failure, fmt.Errorf("treeaction: wait %v: not started", root)
	}
	select {
	case <-rn.ticker.Done():
	case <-ctx.Done():
		return flow.Failure, ctx.Err()
	}
	if err := rn.ticker.Err(); err != nil {
		return flow.Failure, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !rn.done {
		return flow.Failure, ErrStopped
	}
	return rn.result, nil
}

// Do calls fn with the engine, serialized with ticks.
func (r *Runner) Do(fn func(e *flow.Engine)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.e)
}

// Stop stops every ticker.
func (r *Runner) Stop() { r.manager.Stop() }

// Done is closed once the runner's manager has stopped.
func (r *Runner) Done() <-chan struct{} { return r.manager.Done() }

// Err returns the first ticker error, if any.
func (r *Runner) Err() error { return r.manager.Err() }
