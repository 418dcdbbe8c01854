// Package timer is the TimerSource collaborator: it calls
// on_tick(now) exactly once per tick at TIMER_FREQ, using a real
// time.Ticker since the hosted simulation has no programmable interval
// timer to drive it instead.
package timer

import (
	"time"

	"github.com/gopintos/kernel/internal/kcommon"
)

// Source drives on_tick at TIMER_FREQ Hz.
type Source struct {
	ticker *time.Ticker
	stop   chan struct{}
}

// New returns a Source; call Start to begin ticking.
func New() *Source {
	return &Source{}
}

// Start begins calling onTick once per tick, counting ticks from 1.
func (s *Source) Start(onTick func(now kcommon.Tick)) {
	s.ticker = time.NewTicker(time.Second / kcommon.TIMER_FREQ)
	s.stop = make(chan struct{})
	var n kcommon.Tick
	go func() {
		for {
			select {
			case <-s.ticker.C:
				n++
				onTick(n)
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine.
func (s *Source) Stop() {
	if s.ticker != nil {
		s.ticker.Stop()
	}
	if s.stop != nil {
		close(s.stop)
	}
}
