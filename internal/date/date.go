// Package date provides a cached, thread-safe HTTP Date header value.
package date

import (
	"sync/atomic"
	"time"
)

// Layout is the IMF-fixdate format HTTP uses for the Date header.
const Layout = "Mon, 02 Jan 2006 15:04:05 GMT"

// Interval is how often a running ticker refreshes the cached value.
const Interval = 500 * time.Millisecond

var current atomic.Pointer[string]

// StartTicker refreshes the cached date every Interval until the returned
// stop function is called.
func StartTicker() func() {
	update()

	ticker := time.NewTicker(Interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				update()
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() {
		close(done)
	}
}

func update() {
	s := Format(time.Now())
	current.Store(&s)
}

// Format renders t in the HTTP Date layout.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Current returns the cached date, formatting on the spot when no ticker
// has run yet.
func Current() string {
	if p := current.Load(); p != nil {
		return *p
	}
	return Format(time.Now())
}
