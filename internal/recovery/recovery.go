// Package recovery provides panic recovery utilities for goroutines.
package recovery

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// RecoverWithLog recovers from panics and logs them with the provided logger.
// Use this with defer at the start of goroutines to prevent crashes and log diagnostics.
//
// Example:
//
//	go func() {
//	    defer recovery.RecoverWithLog(logger, "myGoroutine")
//	    // ... goroutine work
//	}()
func RecoverWithLog(logger *slog.Logger, name string) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("panic recovered",
			"goroutine", name,
			"panic", fmt.Sprintf("%v", r),
			"stack", stack)
	}
}

// RecoverDispatchLoop recovers a panic in the dispatcher's read loop,
// logs it, and reports the failure through onFailure so the loop's caller
// can tear down the connection and fail any pending replies instead of
// hanging forever waiting on a dead reader.
func RecoverDispatchLoop(logger *slog.Logger, onFailure func(err error)) {
	if r := recover(); r != nil {
		stack := string(debug.Stack())
		logger.Error("panic recovered",
			"goroutine", "dispatcher.readLoop",
			"panic", fmt.Sprintf("%v", r),
			"stack", stack)
		if onFailure != nil {
			onFailure(fmt.Errorf("dispatcher: read loop panicked: %v", r))
		}
	}
}
