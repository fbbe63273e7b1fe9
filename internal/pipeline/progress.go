package pipeline

import (
	"log/slog"

	"github.com/cruciblehq/cruxrel/internal/upload"
)

// Progress events buffered between the upload and the observer.
const progressBuffer = 64

// Starts a goroutine delivering progress events to fn.
//
// Returns the channel to hand to the upload and a function that closes it
// and waits for the observer to drain.
func observe(fn func(upload.Progress)) (chan<- upload.Progress, func()) {
	events := make(chan upload.Progress, progressBuffer)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for p := range events {
			fn(p)
		}
	}()

	return events, func() {
		close(events)
		<-done
	}
}

// Returns an observer that logs progress every tenth of the upload.
func logProgress() func(upload.Progress) {
	last := -1
	return func(p upload.Progress) {
		step := int(p.Fraction * 10)
		if step == last {
			return
		}
		last = step
		slog.Info("upload progress",
			"backend", p.Backend,
			"percent", int(p.Fraction*100),
		)
	}
}
