package store

import (
	"context"
	"sync"
	"time"
)

// Evictor is a running eviction loop.
type Evictor struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// startEvictor runs sweep every interval on its own goroutine. The context
// passed to sweep is cancelled by Shutdown.
func startEvictor(interval time.Duration, sweep func(ctx context.Context)) *Evictor {
	ctx, cancel := context.WithCancel(context.Background())

	e := &Evictor{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(e.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx)
			}
		}
	}()

	return e
}

// Shutdown stops the loop and waits for the current sweep to return.
func (e *Evictor) Shutdown() error {
	e.once.Do(e.cancel)
	<-e.done

	return nil
}
