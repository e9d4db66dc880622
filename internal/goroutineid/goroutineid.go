// Package goroutineid identifies goroutines, so that single-owner structures
// can detect use from the wrong goroutine.
package goroutineid

import (
	"runtime"
	"sync"
	"sync/atomic"
)

var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

// Get returns the id of the calling goroutine, or 0 if it cannot be
// determined. Only the header line of the stack is read.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

const prefix = "goroutine "

// parse reads the id from a stack header such as "goroutine 42 [running]:".
// It does not allocate.
func parse(stack []byte) int64 {
	if len(stack) <= len(prefix) || string(stack[:len(prefix)]) != prefix {
		return 0
	}
	var id int64
	for _, b := range stack[len(prefix):] {
		if b < '0' || b > '9' {
			break
		}
		id = id*10 + int64(b-'0')
	}
	return id
}

// Owner records which goroutine currently owns something. The zero value is
// unowned. All methods are safe for concurrent use.
type Owner struct {
	id atomic.Int64
}

// Claim makes the calling goroutine the owner.
func (o *Owner) Claim() { o.id.Store(Get()) }

// Clear leaves the owner unset.
func (o *Owner) Clear() { o.id.Store(0) }

// IsCurrent reports whether the calling goroutine is the owner.
func (o *Owner) IsCurrent() bool {
	id := o.id.Load()
	return id != 0 && id == Get()
}

// ID returns the owning goroutine id, 0 when unowned.
func (o *Owner) ID() int64 { return o.id.Load() }
