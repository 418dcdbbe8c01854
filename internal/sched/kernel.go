package sched

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gopintos/kernel/internal/fixedpoint"
	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/klog"
)

// Kernel is the single-CPU scheduling context: the ready queue, sleep list,
// destruction list, tick counter, and MLFQS load average. A single Kernel
// context is constructed at boot and passed explicitly into handlers —
// every other package receives a *Kernel rather than reaching into
// package-level globals (the teacher's own style, e.g.
// proclock/allprocs/nthreads in main.go, generalized away from bare package
// globals into a struct so tests can run many kernels concurrently).
type Kernel struct {
	// mu is the emulated "interrupts disabled" critical section: every
	// mutation of readyQ, sleepList, destructionList, or a thread's
	// Status/priority/donations happens with mu held, matching real kernel
	// code achieving atomicity by disabling interrupts.
	mu sync.Mutex

	log    *zap.Logger
	bootID uuid.UUID

	threads map[int]*Thread // arena keyed by tid, to keep thread lookups alias-free
	nextTid int

	readyQ          []*Thread // sorted strictly descending by priority
	sleepList       []*Thread
	nextTickToAwake kcommon.Tick
	destructionList []*Thread

	current *Thread
	idle    *Thread

	tick        kcommon.Tick
	threadTicks int
	// preemptPending records that a quantum expired on the tick goroutine;
	// it is consumed cooperatively by the current thread's own goroutine
	// calling MaybeTimerYield, since only that goroutine may safely block
	// on its own wake channel (see sleep.go).
	preemptPending bool

	MLFQS   bool
	loadAvg fixedpoint.FP

	started bool
}

// New constructs a Kernel. mlfqs selects MLFQS mode (the -o mlfqs boot
// option); otherwise priority-donation mode is the default.
func New(mlfqs bool) *Kernel {
	log, bootID := klog.New("sched")
	k := &Kernel{
		log:     log,
		bootID:  bootID,
		threads: make(map[int]*Thread),
		MLFQS:   mlfqs,
	}
	return k
}

// Start creates the idle thread and marks the kernel runnable, the
// simulation counterpart of thread_init/thread_start.
func (k *Kernel) Start() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.started {
		return
	}
	k.idle = k.newThreadLocked("idle", kcommon.PRI_MIN)
	k.idle.Status = StatusBlocked // idle is never on the ready queue itself
	k.started = true
	k.mu.Unlock()
	go k.idleLoop(k.idle)
	k.mu.Lock()
}

// idleLoop is the goroutine body of the idle thread: disable interrupts,
// block, then re-enable interrupts and halt until next interrupt. In the
// hosted simulation "halt" is simply parking on its own wake channel until
// the scheduler next has nothing better to run.
func (k *Kernel) idleLoop(idle *Thread) {
	idle.parkCurrent()
	for {
		k.mu.Lock()
		idle.Status = StatusBlocked
		k.doScheduleLocked(idle)
		k.mu.Unlock()
		idle.parkCurrent()
	}
}

// Spawn creates a thread and starts its goroutine body, which first parks
// until the scheduler actually grants it the CPU.
func (k *Kernel) Spawn(name string, priority int, body func(t *Thread)) *Thread {
	t := k.CreateThread(name, priority)
	go func() {
		t.parkCurrent()
		body(t)
	}()
	return t
}

// RunAs starts body as the goroutine body of an already-created thread t
// (e.g. one returned by CreateThread directly, as process.Fork needs when
// it must finish wiring Parent/Children before the child's code runs). The
// goroutine parks until the scheduler actually grants t the CPU, exactly
// like Spawn.
func (k *Kernel) RunAs(t *Thread, body func()) {
	go func() {
		t.parkCurrent()
		body()
	}()
}

// Kick performs the very first scheduling decision at boot, equivalent to
// thread_start handing off to the first runnable thread once interrupts are
// enabled. It is a no-op if a thread is already current.
func (k *Kernel) Kick() {
	k.mu.Lock()
	if k.current != nil {
		k.mu.Unlock()
		return
	}
	k.doScheduleLocked(nil)
	k.mu.Unlock()
}

// newThreadLocked allocates and registers a Thread; mu must be held.
func (k *Kernel) newThreadLocked(name string, priority int) *Thread {
	k.nextTid++
	t := newThread(k, name, priority)
	t.Tid = k.nextTid
	k.threads[t.Tid] = t
	return t
}

// CreateThread creates a new thread BLOCKED, then immediately unblocks it
// (matching the teacher's proc_new -> start_thread sequence) and performs
// the creator's preemption check, since a newly-created higher-priority
// thread must preempt its creator immediately.
func (k *Kernel) CreateThread(name string, priority int) *Thread {
	k.mu.Lock()
	t := k.newThreadLocked(name, priority)
	k.unblockLocked(t)
	k.mu.Unlock()

	k.log.Debug("thread created", zap.Int("tid", t.Tid), zap.String("name", name), zap.Int("priority", priority))
	k.MaybeYield()
	return t
}

// Current returns the thread presently occupying the (single) CPU.
func (k *Kernel) Current() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.current
}

// ---- ready queue -----------------------------------------------------

// insertReadyLocked inserts t into readyQ keeping it sorted strictly
// descending by priority.
func (k *Kernel) insertReadyLocked(t *Thread) {
	i := sort.Search(len(k.readyQ), func(i int) bool {
		return k.readyQ[i].priority < t.priority
	})
	k.readyQ = append(k.readyQ, nil)
	copy(k.readyQ[i+1:], k.readyQ[i:])
	k.readyQ[i] = t
}

// popReadyLocked removes and returns the highest-priority ready thread, or
// the idle thread if none is ready.
func (k *Kernel) popReadyLocked() *Thread {
	if len(k.readyQ) == 0 {
		return k.idle
	}
	t := k.readyQ[0]
	k.readyQ = k.readyQ[1:]
	return t
}

func (k *Kernel) resortReadyLocked() {
	sort.SliceStable(k.readyQ, func(i, j int) bool {
		return k.readyQ[i].priority > k.readyQ[j].priority
	})
}

// ---- state transitions -------------------------------------------------

// unblockLocked moves t from BLOCKED to READY and enqueues it; it does not
// itself yield — the caller decides whether a preemption check follows.
func (k *Kernel) unblockLocked(t *Thread) {
	if t == k.idle {
		t.Status = StatusBlocked
		return
	}
	t.Status = StatusReady
	k.insertReadyLocked(t)
}

// Unblock makes a BLOCKED thread READY. Safe to call from "interrupt
// context" — i.e. from the ticking goroutine, which may never block.
func (k *Kernel) Unblock(t *Thread) {
	k.mu.Lock()
	k.unblockLocked(t)
	k.mu.Unlock()
}

// doScheduleLocked reaps the destruction list built up by the *previous*
// call to doScheduleLocked, hands the CPU to the highest-priority ready
// thread (or idle), and — if prev is DYING — queues prev for reaping by the
// *next* call. The resources backing a DYING thread cannot be freed by that
// thread itself, since it is still running on them; a thread is instead
// appended to the destruction list, and the next do_schedule pops and frees
// all entries before selecting the next thread. mu must be held by the
// caller; prev is the thread being switched away from (nil only for the
// very first schedule at boot).
func (k *Kernel) doScheduleLocked(prev *Thread) {
	for _, d := range k.destructionList {
		close(d.quit)
		delete(k.threads, d.Tid)
	}
	k.destructionList = nil

	next := k.popReadyLocked()
	next.Status = StatusRunning
	k.current = next
	k.threadTicks = 0

	if prev != nil && prev.Status == StatusDying {
		k.destructionList = append(k.destructionList, prev)
	}

	select {
	case next.wake <- struct{}{}:
	default:
		// already has a pending wake (first run race); harmless.
	}
}

// parkCurrent must be called by the current thread immediately after a
// state transition + doScheduleLocked with mu already released. It blocks
// the calling goroutine until the scheduler resumes this thread.
func (t *Thread) parkCurrent() {
	<-t.wake
}

// Block transitions the current thread to BLOCKED and schedules the next
// thread, parking the caller until it is unblocked again. The caller is
// responsible for having already placed the thread on whatever waiter list
// is appropriate (semaphore waiters, sleep list, etc.) before calling
// Block.
func (k *Kernel) Block() {
	k.mu.Lock()
	cur := k.current
	if cur.Status == StatusDying {
		panic(errors.New("schedule invariant violated: blocking a dying thread"))
	}
	cur.Status = StatusBlocked
	k.doScheduleLocked(cur)
	k.mu.Unlock()
	cur.parkCurrent()
}

// Yield re-enqueues the current thread as READY (unless it is the idle
// thread) and schedules the next thread.
func (k *Kernel) Yield() {
	k.mu.Lock()
	cur := k.current
	if cur != k.idle {
		cur.Status = StatusReady
		k.insertReadyLocked(cur)
	} else {
		cur.Status = StatusBlocked
	}
	k.doScheduleLocked(cur)
	k.mu.Unlock()
	cur.parkCurrent()
}

// MaybeYield checks test_max_priority: if the ready queue's head has
// strictly greater priority than the current thread, the current thread
// yields. Called after thread creation, unblock (by convention of the
// caller), priority changes, donation refresh, and sema_up.
func (k *Kernel) MaybeYield() {
	k.mu.Lock()
	cur := k.current
	if cur == nil {
		k.mu.Unlock()
		return
	}
	if len(k.readyQ) > 0 && k.readyQ[0].priority > cur.priority {
		k.mu.Unlock()
		k.Yield()
		return
	}
	k.mu.Unlock()
}

// Exit transitions the current thread to DYING; the thread's resources are
// reclaimed by the next call to doScheduleLocked, not by the thread itself.
func (k *Kernel) Exit() {
	k.mu.Lock()
	cur := k.current
	cur.Status = StatusDying
	k.doScheduleLocked(cur)
	k.mu.Unlock()
	// cur never runs again: it is queued for reaping by the *next*
	// doScheduleLocked call, which closes cur.quit. The calling goroutine
	// parks here permanently from the kernel's point of view — by
	// convention, the thread's top-level run function calls Exit() as its
	// last action and the goroutine ends once quit closes.
	<-cur.quit
}

// SetPriority sets the current thread's base priority. In MLFQS mode this
// is a no-op, since priority there is entirely recomputed from recent_cpu
// and nice. Outside MLFQS, the effective priority becomes the larger of
// newPrio and the highest remaining donor priority, so while a donation
// above newPrio is in place the effective priority does not change.
func (k *Kernel) SetPriority(newPrio int) {
	k.mu.Lock()
	if k.MLFQS {
		k.mu.Unlock()
		return
	}
	cur := k.current
	cur.initPriority = newPrio
	cur.priority = maxDonorOrBase(cur)
	k.resortReadyLocked()
	k.mu.Unlock()
	k.MaybeYield()
}

func maxDonorOrBase(t *Thread) int {
	best := t.initPriority
	for _, d := range t.donations {
		if d.priority > best {
			best = d.priority
		}
	}
	return best
}

// allThreadsLocked returns a tid-ordered slice of every live thread, used by
// the MLFQS per-tick/per-second recompute passes.
func (k *Kernel) allThreadsLocked() []*Thread {
	out := make([]*Thread, 0, len(k.threads))
	for _, t := range k.threads {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tid < out[j].Tid })
	return out
}

// Idle returns the kernel's idle thread.
func (k *Kernel) Idle() *Thread {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.idle
}

// ReadyLen reports the current ready-queue length, for tests.
func (k *Kernel) ReadyLen() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.readyQ)
}

// SleepLen reports the current sleep-list length, for tests that must wait
// for every spawned thread to have reached its SleepUntil call before
// advancing the tick counter past their wakeup target.
func (k *Kernel) SleepLen() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.sleepList)
}

// Now reports the kernel's current tick count, for callers (tests, the
// init process) that need to compute a relative wakeup target for
// SleepUntil.
func (k *Kernel) Now() kcommon.Tick {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tick
}

// Logger exposes the kernel's structured logger to sibling packages
// (process, syscall) so every subsystem logs through the same sink.
func (k *Kernel) Logger() *zap.Logger { return k.log }
