package sysiface

import "sync/atomic"

// CASSpinlock is a busy-wait lock built on a compare-and-swap flag. Kept
// distinct from sync.Mutex so code ported from the spin-lock-based
// original reads the same way; vctrl.Shadow uses sync.Mutex directly
// since Go's scheduler makes a real spinlock counterproductive there.
type CASSpinlock struct {
	held int32
}

func (s *CASSpinlock) Lock() {
	for !atomic.CompareAndSwapInt32(&s.held, 0, 1) {
	}
}

func (s *CASSpinlock) Unlock() {
	atomic.StoreInt32(&s.held, 0)
}

// CountBarrier releases all waiters once Count of them have called Wait.
type CountBarrier struct {
	Count int

	arrived int32
	release chan struct{}
}

// NewCountBarrier returns a barrier that releases once n goroutines have
// called Wait.
func NewCountBarrier(n int) *CountBarrier {
	return &CountBarrier{Count: n, release: make(chan struct{})}
}

func (b *CountBarrier) Wait() {
	n := atomic.AddInt32(&b.arrived, 1)
	if n == int32(b.Count) {
		close(b.release)
		return
	}
	<-b.release
}
