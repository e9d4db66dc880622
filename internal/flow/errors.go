package flow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/joeycumines/actionflow/internal/world"
)

var (
	// ErrNoAction indicates a run request was addressed to a node without any
	// action handling that payload type. This is a tree wiring mistake.
	ErrNoAction = errors.New("no action handles this payload")

	// ErrUnpairedPayload indicates a payload type with no registered run/result
	// pair.
	ErrUnpairedPayload = errors.New("payload type has no registered pair")

	// ErrPairConflict indicates two registrations disagree about the pairing of
	// a run or result type.
	ErrPairConflict = errors.New("conflicting payload pair")

	// ErrWorldLent indicates the engine was used while its world was moved into
	// an async token held elsewhere.
	ErrWorldLent = errors.New("world is lent to an async action")

	// ErrTokenNotReturned indicates an async action finished without handing its
	// token back.
	ErrTokenNotReturned = errors.New("async action did not return its token")

	// ErrTokenReleased indicates use of a token after it was returned, or while
	// it is released by Await.
	ErrTokenReleased = errors.New("token is not held")
)

// WiringError describes a run request that cannot be dispatched because the
// tree is wired incorrectly. Engine.Run panics with a *WiringError; use
// Engine.TryRun to receive it as an error instead.
type WiringError struct {
	Node       world.NodeID
	Payload    reflect.Type
	Components []string
	Err        error
}

func (e *WiringError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "flow: cannot run %v on %v: %v", e.Payload, e.Node, e.Err)
	if len(e.Components) == 0 {
		b.WriteString(" (node has no components)")
	} else {
		fmt.Fprintf(&b, " (node has components [%s])", strings.Join(e.Components, ", "))
	}
	return b.String()
}

func (e *WiringError) Unwrap() error { return e.Err }
