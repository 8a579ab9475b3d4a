/*
Package keylock provides per-key mutual exclusion.

PURPOSE:
  Status transitions must be serializable PER BOOKING and ledger mutations
  PER PROVIDER, without a global lock that would let a long scheduler sweep
  starve user cancellations. A KeyLock hands out one mutex per key on
  demand.

ACQUIRE SEMANTICS:
  - Acquire: blocks until the key's lock is free.
  - AcquireTimeout: gives up after the deadline and reports failure, so
    callers can surface a retryable contention error instead of hanging.

  Locks are implemented as 1-buffered channels, which is what makes the
  timeout path possible (sync.Mutex cannot be waited on with a deadline).

USAGE:
  locks := keylock.New()
  unlock := locks.Acquire("booking-123")
  defer unlock()

SEE ALSO:
  - booking/lifecycle.go: per-booking serialization
  - settlement/ledger.go: per-provider serialization with timeout
*/
package keylock

import (
	"sync"
	"time"
)

// KeyLock is a set of mutexes keyed by string. The zero value is not
// usable; construct with New.
type KeyLock struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func New() *KeyLock {
	return &KeyLock{locks: make(map[string]chan struct{})}
}

func (k *KeyLock) channel(key string) chan struct{} {
	k.mu.Lock()
	defer k.mu.Unlock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	return ch
}

// Acquire blocks until the lock for key is held, then returns the release
// function. The release function must be called exactly once.
func (k *KeyLock) Acquire(key string) (release func()) {
	ch := k.channel(key)
	ch <- struct{}{}
	return func() { <-ch }
}

// AcquireTimeout attempts to take the lock for key, giving up after d.
// On success returns (release, true); on timeout returns (nil, false).
func (k *KeyLock) AcquireTimeout(key string, d time.Duration) (release func(), ok bool) {
	ch := k.channel(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	default:
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, true
	case <-timer.C:
		return nil, false
	}
}
