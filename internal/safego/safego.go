// Package safego launches background goroutines that survive their own panics.
package safego

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Go runs fn in a new goroutine labelled task. A panic inside fn is recovered
// and logged with its stack so that post-commit work (audit shipping, email
// delivery, periodic jobs) cannot take the server down.
func Go(task string, fn func()) {
	go run(task, fn)
}

// Tracked is Go for work the caller must be able to wait for at shutdown.
// wg.Done is called whether fn returns or panics.
func Tracked(wg *sync.WaitGroup, task string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		run(task, fn)
	}()
}

func run(task string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered panic in background task",
				"task", task,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}
