package sched

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/gopintos/kernel/internal/kcommon"
)

// Semaphore is a counting semaphore: a non-negative counter plus an ordered
// waiter list the semaphore itself owns. Grounded on the teacher's
// synchronization style (original_source/threads/synch.c's sema_down/
// sema_up) generalized into a Go type usable from any package in this
// module.
type Semaphore struct {
	mu      sync.Mutex
	value   int
	waiters []*Thread
	k       *Kernel
}

// NewSemaphore creates a semaphore with the given initial value.
func NewSemaphore(k *Kernel, value int) *Semaphore {
	return &Semaphore{k: k, value: value}
}

func sortWaitersByPriorityDesc(ts []*Thread) {
	sort.SliceStable(ts, func(i, j int) bool { return ts[i].priority > ts[j].priority })
}

// Down blocks until the semaphore's value is positive, then decrements it.
// While blocked, the calling thread sits on the semaphore's own
// priority-sorted waiter list (re-inserted on every spurious wakeup, per
// the while-loop shape of the source's sema_down).
func (s *Semaphore) Down() {
	s.mu.Lock()
	for s.value == 0 {
		cur := s.k.Current()
		s.waiters = append(s.waiters, cur)
		sortWaitersByPriorityDesc(s.waiters)
		s.mu.Unlock()
		s.k.Block()
		s.mu.Lock()
	}
	s.value--
	s.mu.Unlock()
}

// TryDown is the non-blocking variant: it succeeds iff value was positive.
func (s *Semaphore) TryDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.value > 0 {
		s.value--
		return true
	}
	return false
}

// Up re-sorts the waiter list (priorities may have changed since insertion
// due to donation), removes the highest-priority waiter if any, increments
// value, unblocks the removed waiter, then performs the preemption check,
// in that order.
func (s *Semaphore) Up() {
	s.mu.Lock()
	var woken *Thread
	if len(s.waiters) > 0 {
		sortWaitersByPriorityDesc(s.waiters)
		woken = s.waiters[0]
		s.waiters = s.waiters[1:]
	}
	s.value++
	s.mu.Unlock()

	if woken != nil {
		s.k.Unblock(woken)
	}
	s.k.MaybeYield()
}

// Value reports the semaphore's current counter, for tests/diagnostics.
func (s *Semaphore) Value() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// ---- Lock with priority donation ---------------------------------------

// Lock is a binary semaphore with an owner and, outside MLFQS mode,
// priority donation.
type Lock struct {
	sema   *Semaphore
	holder *Thread
	k      *Kernel
	mu     sync.Mutex
}

// NewLock creates an unowned lock with internal semaphore value 1.
func NewLock(k *Kernel) *Lock {
	return &Lock{k: k, sema: NewSemaphore(k, 1)}
}

// Holder returns the thread currently holding the lock, or nil.
func (l *Lock) Holder() *Thread {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder
}

func insertDonationSorted(holder, donor *Thread) {
	i := sort.Search(len(holder.donations), func(i int) bool {
		return holder.donations[i].priority < donor.priority
	})
	holder.donations = append(holder.donations, nil)
	copy(holder.donations[i+1:], holder.donations[i:])
	holder.donations[i] = donor
}

// donationChainLocked walks from start via wait_on_lock.holder up to
// DonationDepthMax hops, propagating start's priority to each holder in
// the chain. k.mu must be held.
func donationChainLocked(start *Thread) {
	walker := start
	for depth := 0; depth < kcommon.DonationDepthMax; depth++ {
		lock := walker.waitOnLock
		if lock == nil {
			return
		}
		holder := lock.holder
		if holder == nil {
			return
		}
		if holder.priority < start.priority {
			holder.priority = start.priority
		}
		walker = holder
	}
}

// Acquire acquires the lock, donating priority along the holder chain when
// priority-donation mode is active.
func (l *Lock) Acquire() {
	k := l.k
	if k.MLFQS {
		l.sema.Down()
		l.mu.Lock()
		l.holder = k.Current()
		l.mu.Unlock()
		return
	}

	cur := k.Current()
	k.mu.Lock()
	l.mu.Lock()
	if l.holder != nil {
		cur.waitOnLock = l
		insertDonationSorted(l.holder, cur)
		donationChainLocked(cur)
		k.resortReadyLocked()
	}
	l.mu.Unlock()
	k.mu.Unlock()

	l.sema.Down() // may block

	k.mu.Lock()
	cur.waitOnLock = nil
	k.mu.Unlock()
	l.mu.Lock()
	l.holder = cur
	l.mu.Unlock()
}

// removeDonationsForLocked drops every donor of holder whose wait_on_lock
// is l. k.mu must be held.
func removeDonationsForLocked(holder *Thread, l *Lock) {
	kept := holder.donations[:0]
	for _, d := range holder.donations {
		if d.waitOnLock != l {
			kept = append(kept, d)
		}
	}
	holder.donations = kept
}

// refreshPriorityLocked sets holder.priority back to its base, raised to
// the max remaining donor priority if any. k.mu must be held.
func refreshPriorityLocked(holder *Thread) {
	holder.priority = maxDonorOrBase(holder)
}

// Release releases the lock. l.holder must be the current thread; calling
// Release otherwise is a fatal kernel error.
func (l *Lock) Release() {
	k := l.k
	cur := k.Current()
	l.mu.Lock()
	if l.holder != cur {
		l.mu.Unlock()
		panic(errors.New("lock_release: current thread does not hold lock"))
	}
	l.holder = nil
	l.mu.Unlock()

	if k.MLFQS {
		l.sema.Up()
		return
	}

	k.mu.Lock()
	removeDonationsForLocked(cur, l)
	refreshPriorityLocked(cur)
	k.resortReadyLocked()
	k.mu.Unlock()

	l.sema.Up() // performs the preemption check itself
}

// ---- Mesa-style condition variable -------------------------------------

type cvWaiter struct {
	sema   *Semaphore
	thread *Thread
}

// CondVar is a Mesa-style condition variable.
type CondVar struct {
	mu      sync.Mutex
	waiters []*cvWaiter
	k       *Kernel
}

// NewCondVar creates an empty condition variable.
func NewCondVar(k *Kernel) *CondVar {
	return &CondVar{k: k}
}

func sortCVWaiters(ws []*cvWaiter) {
	sort.SliceStable(ws, func(i, j int) bool { return ws[i].thread.priority > ws[j].thread.priority })
}

// Wait requires l to be held by the current thread. It releases l, blocks
// on a fresh per-waiter semaphore, and re-acquires l upon waking.
func (c *CondVar) Wait(l *Lock) {
	cur := c.k.Current()
	if l.Holder() != cur {
		panic(errors.New("cond_wait: current thread does not hold lock"))
	}
	w := &cvWaiter{sema: NewSemaphore(c.k, 0), thread: cur}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	sortCVWaiters(c.waiters)
	c.mu.Unlock()

	l.Release()
	w.sema.Down()
	l.Acquire()
}

// Signal wakes the highest-priority waiter at the time of signaling (not
// at the time it called Wait). l must be held by the current thread.
func (c *CondVar) Signal(l *Lock) {
	cur := c.k.Current()
	if l.Holder() != cur {
		panic(errors.New("cond_signal: current thread does not hold lock"))
	}
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	sortCVWaiters(c.waiters)
	w := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()
	w.sema.Up()
}

// Broadcast repeats Signal until the waiter list is empty.
func (c *CondVar) Broadcast(l *Lock) {
	for {
		c.mu.Lock()
		empty := len(c.waiters) == 0
		c.mu.Unlock()
		if empty {
			return
		}
		c.Signal(l)
	}
}

// Len reports the number of threads currently waiting, for tests.
func (c *CondVar) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
