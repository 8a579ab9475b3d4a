/*
scheduler.go - Automated completion sweep

PURPOSE:
  Periodically enumerates upcoming bookings and asks the engine to
  complete each one whose class end-time has passed. This is the only
  component that transitions time-based state without a direct caller.

DESIGN:
  - Runs a background goroutine on a fixed ticker (default: 60 seconds)
  - Performs one sweep IMMEDIATELY on Start, so bookings whose window
    elapsed while the process was down complete promptly instead of
    waiting a full interval
  - One failed booking never aborts the sweep for the rest
    (isolate-and-continue)
  - Holds only the engine's per-booking locks, never a global one, so
    user cancellations are never starved by a long sweep

CONFIGURATION:
  - Interval: sweep period (default: 60s)
  - Clock:    injectable time source for tests

USAGE:
  sched := booking.NewCompletionScheduler(engine, store)
  sched.Start()
  // ... on shutdown
  sched.Stop()

SEE ALSO:
  - lifecycle.go: AttemptComplete, which the sweep drives
*/
package booking

import (
	"context"
	"log"
	"sync"
	"time"
)

// CompletionScheduler drives automatic upcoming -> completed transitions.
type CompletionScheduler struct {
	Engine   *Engine
	Store    Store
	Interval time.Duration
	Clock    func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCompletionScheduler creates a scheduler with the default interval.
func NewCompletionScheduler(engine *Engine, store Store) *CompletionScheduler {
	return &CompletionScheduler{
		Engine:   engine,
		Store:    store,
		Interval: 60 * time.Second,
		Clock:    time.Now,
		stop:     make(chan struct{}),
	}
}

// Start begins the background sweep. The first sweep runs immediately.
func (cs *CompletionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.ticker = time.NewTicker(cs.Interval)
	cs.wg.Add(1)

	go cs.run()

	log.Printf("[Scheduler] Started with sweep interval: %v", cs.Interval)
}

// Stop halts the sweep and waits for an in-flight sweep to finish.
func (cs *CompletionScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker != nil {
		cs.ticker.Stop()
		close(cs.stop)
		cs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (cs *CompletionScheduler) run() {
	defer cs.wg.Done()

	// Catch up on anything that elapsed while the process was down.
	cs.Sweep(context.Background())

	for {
		select {
		case <-cs.ticker.C:
			cs.Sweep(context.Background())
		case <-cs.stop:
			return
		}
	}
}

// Sweep attempts completion for every upcoming booking once. Safe to call
// directly (tests, admin triggers). Returns the number completed.
func (cs *CompletionScheduler) Sweep(ctx context.Context) int {
	now := cs.Clock()

	ids, err := cs.Store.ListUpcoming(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing upcoming bookings: %v", err)
		return 0
	}

	completed := 0
	for _, id := range ids {
		done, err := cs.Engine.AttemptComplete(ctx, id, now)
		if err != nil {
			// One bad record must not sink the sweep.
			log.Printf("[Scheduler] Error completing booking %s: %v", id, err)
			continue
		}
		if done {
			completed++
		}
	}

	if completed > 0 {
		log.Printf("[Scheduler] Sweep completed %d of %d upcoming bookings", completed, len(ids))
	}
	return completed
}
