// Package safego provides a panic-recovering goroutine launcher for fire-and-forget
// background work such as download-counter bumps and comment-counter updates, where
// an unrecovered panic would otherwise kill the goroutine silently.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged with the supplied operation name rather than crashing the process.
func Go(op string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "op", op, "panic", r)
			}
		}()
		fn()
	}()
}
