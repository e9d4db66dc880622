package testutil

import (
	"testing"

	"github.com/dop251/goja_nodejs/eventloop"
	"github.com/dop251/goja_nodejs/require"
)

// EventLoop is a started goja event loop with its module registry, for tests
// that drive JavaScript actions.
type EventLoop struct {
	loop     *eventloop.EventLoop
	registry *require.Registry
}

// NewEventLoop starts an event loop. The loop is stopped when the test ends.
func NewEventLoop(t testing.TB) *EventLoop {
	t.Helper()
	registry := require.NewRegistry()
	loop := eventloop.NewEventLoop(
		eventloop.WithRegistry(registry),
	)
	loop.Start()
	t.Cleanup(func() { loop.Stop() })

	return &EventLoop{
		loop:     loop,
		registry: registry,
	}
}

// Loop returns the running loop.
func (p *EventLoop) Loop() *eventloop.EventLoop {
	return p.loop
}

// Registry returns the registry the loop resolves require() against.
func (p *EventLoop) Registry() *require.Registry {
	return p.registry
}
