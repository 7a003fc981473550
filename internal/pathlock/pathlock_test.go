package pathlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	l := New()
	var active atomic.Int32
	var maxActive atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Go(func() {
			unlock := l.Lock("/a.txt")
			defer unlock()
			n := active.Add(1)
			for {
				cur := maxActive.Load()
				if n <= cur || maxActive.CompareAndSwap(cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	wg.Wait()

	if got := maxActive.Load(); got != 1 {
		t.Fatalf("max concurrent holders = %d, want 1", got)
	}
	if l.Len() != 0 {
		t.Fatalf("Len() = %d after all unlocks, want 0", l.Len())
	}
}

func TestLockDifferentKeysRunConcurrently(t *testing.T) {
	l := New()
	unlockA := l.Lock("/a.txt")
	defer unlockA()

	acquired := make(chan struct{})
	go func() {
		unlock := l.Lock("/b.txt")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock on a different key blocked")
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	l := New()
	unlock := l.Lock("k")
	unlock()
	unlock()

	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}
	relock := l.Lock("k")
	relock()
}
