package safego

import (
	"go.uber.org/zap"
)

// Go launches a goroutine with panic recovery. A panicking goroutine is
// logged with its name and stack and exits cleanly instead of crashing the
// gateway. Used for fire-and-forget work that must never take a request
// down with it (model warm-up, title generation).
//
// Usage:
//
//	safego.Go(logger, "preload-pump", func() {
//	    // work that might panic
//	})
func Go(logger *zap.Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("Goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.Stack("stack"),
				)
			}
		}()
		fn()
	}()
}
