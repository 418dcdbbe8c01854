package sched

import (
	"github.com/gopintos/kernel/internal/fixedpoint"
	"github.com/gopintos/kernel/internal/kcommon"
)

// mlfqsOnTickLocked performs the per-tick MLFQS bookkeeping: bump the
// running thread's recent_cpu every tick, recompute every thread's
// priority every 4 ticks, and recompute load_avg/recent_cpu once per
// second. k.mu must be held; called only when k.MLFQS is true.
func (k *Kernel) mlfqsOnTickLocked(now kcommon.Tick) {
	if k.current != nil && k.current != k.idle {
		k.current.RecentCPU = k.current.RecentCPU.AddInt(1)
	}

	if now%kcommon.TIME_SLICE == 0 {
		k.mlfqsRecomputeAllPrioritiesLocked()
	}

	if now%kcommon.TIMER_FREQ == 0 {
		k.mlfqsRecomputeLoadAvgLocked()
		k.mlfqsRecomputeAllRecentCPULocked()
		k.mlfqsRecomputeAllPrioritiesLocked()
	}
}

// mlfqsPriority computes PRI_MAX - recent_cpu/4 - nice*2, clamped to
// [PRI_MIN, PRI_MAX].
func mlfqsPriority(recentCPU fixedpoint.FP, nice int) int {
	p := fixedpoint.FromInt(kcommon.PRI_MAX).Sub(recentCPU.DivInt(4)).Sub(fixedpoint.FromInt(nice * 2))
	return fixedpoint.Clamp(p.RoundToInt(), kcommon.PRI_MIN, kcommon.PRI_MAX)
}

func (k *Kernel) mlfqsRecomputeAllPrioritiesLocked() {
	for _, t := range k.allThreadsLocked() {
		if t == k.idle {
			continue
		}
		t.priority = mlfqsPriority(t.RecentCPU, t.Nice)
	}
	k.resortReadyLocked()
}

// mlfqsRecomputeLoadAvgLocked: load_avg = (59/60)*load_avg + (1/60)*ready_threads,
// where ready_threads counts READY threads plus 1 if current is non-idle.
func (k *Kernel) mlfqsRecomputeLoadAvgLocked() {
	ready := len(k.readyQ)
	if k.current != nil && k.current != k.idle {
		ready++
	}
	fiftyNineSixtieths := fixedpoint.FromInt(59).Div(fixedpoint.FromInt(60))
	oneSixtieth := fixedpoint.FromInt(1).Div(fixedpoint.FromInt(60))
	k.loadAvg = fiftyNineSixtieths.Mul(k.loadAvg).Add(oneSixtieth.MulInt(ready))
}

// mlfqsRecomputeAllRecentCPULocked: recent_cpu = (2*load_avg)/(2*load_avg+1) * recent_cpu + nice,
// for every thread (ready, blocked-sleeping, or current non-idle).
func (k *Kernel) mlfqsRecomputeAllRecentCPULocked() {
	twiceLoad := k.loadAvg.MulInt(2)
	coeff := twiceLoad.Div(twiceLoad.AddInt(1))
	for _, t := range k.allThreadsLocked() {
		if t == k.idle {
			continue
		}
		t.RecentCPU = coeff.Mul(t.RecentCPU).AddInt(t.Nice)
	}
}

// LoadAvg returns the current system-wide load average in fixed point, for
// tests.
func (k *Kernel) LoadAvg() fixedpoint.FP {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.loadAvg
}

// SetNice sets the current thread's nice value and recomputes its priority
// immediately, resorting the ready queue and checking for preemption. nice
// is an MLFQS-only concept; callers are expected to only use it in MLFQS
// mode, mirroring set_nice in the source.
func (k *Kernel) SetNice(nice int) {
	k.mu.Lock()
	cur := k.current
	cur.Nice = nice
	if k.MLFQS {
		cur.priority = mlfqsPriority(cur.RecentCPU, cur.Nice)
		k.resortReadyLocked()
	}
	k.mu.Unlock()
	k.MaybeYield()
}
