package keylock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_SerializesSameKey(t *testing.T) {
	// GIVEN: 100 goroutines incrementing a counter under the same key
	// WHEN: All run concurrently
	// THEN: No increment is lost

	locks := New()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire("k")
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestAcquire_DifferentKeysDoNotBlock(t *testing.T) {
	locks := New()

	releaseA := locks.Acquire("a")
	defer releaseA()

	done := make(chan struct{})
	go func() {
		release := locks.Acquire("b")
		release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("acquiring an unrelated key blocked")
	}
}

func TestAcquireTimeout_HeldLock(t *testing.T) {
	locks := New()

	release := locks.Acquire("k")

	_, ok := locks.AcquireTimeout("k", 20*time.Millisecond)
	assert.False(t, ok, "held lock must time out")

	release()

	release2, ok := locks.AcquireTimeout("k", 20*time.Millisecond)
	require.True(t, ok, "freed lock must be acquirable")
	release2()
}

func TestAcquireTimeout_FreeLockFastPath(t *testing.T) {
	locks := New()

	start := time.Now()
	release, ok := locks.AcquireTimeout("k", time.Second)
	require.True(t, ok)
	release()

	assert.Less(t, time.Since(start), 100*time.Millisecond, "free lock must not wait")
}
