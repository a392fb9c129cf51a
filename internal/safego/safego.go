// Package safego provides a panic-recovering goroutine launcher for background
// work.
package safego

import "log/slog"

// Go launches fn in a new goroutine under the given name. A panic inside fn is
// recovered and logged with the name rather than crashing the process. Use it
// for fire-and-forget goroutines (the inactivity sweeper, async usage writes)
// where an unrecovered panic would silently kill the goroutine forever.
func Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "goroutine", name, "panic", r)
			}
		}()
		fn()
	}()
}
