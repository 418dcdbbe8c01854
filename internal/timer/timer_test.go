package timer_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/timer"
)

func TestSourceTicksMonotonicallyFromOne(t *testing.T) {
	s := timer.New()

	ticks := make(chan kcommon.Tick, 8)
	s.Start(func(now kcommon.Tick) { ticks <- now })
	defer s.Stop()

	var got []kcommon.Tick
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case n := <-ticks:
			got = append(got, n)
		case <-deadline:
			t.Fatal("timed out waiting for ticks")
		}
	}

	for i, n := range got {
		require.EqualValues(t, i+1, n, "ticks must count up from 1")
	}
}

func TestSourceStopHaltsTicking(t *testing.T) {
	s := timer.New()

	var count int64
	done := make(chan struct{})
	var closeOnce int32
	s.Start(func(now kcommon.Tick) {
		n := atomic.AddInt64(&count, 1)
		if n == 1 && atomic.CompareAndSwapInt32(&closeOnce, 0, 1) {
			close(done)
		}
	})
	<-done
	s.Stop()

	seenAtStop := atomic.LoadInt64(&count)
	time.Sleep(150 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt64(&count)-seenAtStop, int64(1), "ticking must halt (modulo one in-flight tick) once Stop has returned")
}
