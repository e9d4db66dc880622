package flow

import (
	"log/slog"
)

// DebugOptions selects which protocol events are logged at debug level.
type DebugOptions struct {
	// Run logs every run request.
	Run bool
	// Result logs every result, child result and dropped result.
	Result bool
	// Running logs the Running marker being added and removed.
	Running bool
}

// Any reports whether any option is enabled.
func (o DebugOptions) Any() bool { return o.Run || o.Result || o.Running }

// AllDebug enables every debug option.
func AllDebug() DebugOptions {
	return DebugOptions{Run: true, Result: true, Running: true}
}

func (e *Engine) installDebug() {
	if !e.debug.Run && !e.debug.Result {
		return
	}
	e.Observe(func(tr Trace) {
		switch tr.Phase {
		case PhaseRun, PhaseInterrupt:
			if !e.debug.Run {
				return
			}
		default:
			if !e.debug.Result {
				return
			}
		}
		attrs := []any{
			slog.String("phase", tr.Phase.String()),
			slog.String("node", e.NameOf(tr.Action)),
			slog.Any("origin", tr.Origin),
			slog.Any("payload", tr.Payload),
		}
		if !tr.Child.IsPlaceholder() {
			attrs = append(attrs, slog.String("child", e.NameOf(tr.Child)))
		}
		e.logger.Debug("flow: "+tr.Phase.String(), attrs...)
	})
}
