// Package ksync holds nothing but a benchmark comparing internal/sched's
// priority-aware Semaphore against golang.org/x/sync/semaphore.Weighted on
// the uncontended fast path, justifying why the scheduler needed its own
// type rather than reusing x/sync's: Weighted has no notion of thread
// priority and cannot re-sort its waiter list on donation, so it can't
// guarantee that the single waiter released on Up is the highest-priority
// one at the instant of release. Kept as its own package, rather than
// inside internal/sched, purely so that import doesn't leak into the
// scheduler package's own dependency footprint.
package ksync

import (
	"context"
	"testing"

	"golang.org/x/sync/semaphore"

	"github.com/gopintos/kernel/internal/sched"
)

func BenchmarkSchedSemaphoreUncontended(b *testing.B) {
	k := sched.New(false)
	k.Start()
	k.Kick()
	s := sched.NewSemaphore(k, 1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.TryDown()
		s.Up()
	}
}

func BenchmarkWeightedSemaphoreUncontended(b *testing.B) {
	w := semaphore.NewWeighted(1)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = w.TryAcquire(1)
		w.Release(1)
		_ = ctx
	}
}
