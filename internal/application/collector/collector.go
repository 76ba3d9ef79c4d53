// Package collector refreshes the runtime figures of the aggregate store in
// the background so the debug endpoint shows recent values between requests.
package collector

import (
	"sync"
	"time"

	"github.com/fllarpy/devbar/domain"
)

// Start launches a background goroutine that periodically updates runtime
// metrics. It returns a function that stops the goroutine; the function is
// safe to call more than once. A non-positive interval starts nothing.
func Start(store domain.StoreReader, interval time.Duration) (stop func()) {
	if store == nil || interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	var once sync.Once
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				store.UpdateRuntime()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
