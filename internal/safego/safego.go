// Package safego launches goroutines that recover and log panics instead of
// crashing the process.
package safego

import (
	"log/slog"
	"runtime/debug"
)

// Go runs fn in a new goroutine. A panic in fn is recovered and logged with
// its stack.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r, "stack", string(debug.Stack()))
			}
		}()
		fn()
	}()
}
