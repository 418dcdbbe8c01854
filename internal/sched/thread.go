// Package sched implements the core of the kernel: the priority scheduler,
// the sleeping-thread/alarm facility, the synchronization primitives
// (semaphore, lock with priority donation, Mesa condition variable), the
// MLFQS mode, and the thread state machine that the process and syscall
// packages drive. Thread is shaped directly after the teacher's
// common.Proc_t / per-thread bookkeeping visible in
// biscuit/src/kernel/main.go (proc_new, threadi.init, tid0, mywait), with
// the process-specific fields kept here rather than split into a separate
// type, since the source itself does not separate "kernel thread" from
// "process" — every thread may carry a user address space.
package sched

import (
	"fmt"

	"github.com/gopintos/kernel/internal/fixedpoint"
	"github.com/gopintos/kernel/internal/kcommon"
)

// Status is one of the four states a Thread may occupy.
type Status int

const (
	StatusBlocked Status = iota
	StatusReady
	StatusRunning
	StatusDying
)

func (s Status) String() string {
	switch s {
	case StatusBlocked:
		return "BLOCKED"
	case StatusReady:
		return "READY"
	case StatusRunning:
		return "RUNNING"
	case StatusDying:
		return "DYING"
	default:
		return "UNKNOWN"
	}
}

// Thread is a kernel thread. Its kernel-stack is a goroutine in this hosted
// simulation; Thread carries the scheduling state, the priority-donation
// bookkeeping, the MLFQS fields, and (when it is a user process) the
// address space / fd table / exit-coordination semaphores directly.
type Thread struct {
	Tid    int
	Name   string
	Status Status

	initPriority int
	priority     int

	waitOnLock *Lock
	donations  []*Thread // donor threads, priority-sorted on insert

	wakeupTick kcommon.Tick

	// Parent/child graph: plain non-owning pointers rather than tid
	// fields, since a single process arena (Kernel.threads) already owns
	// every Thread.
	Parent   *Thread
	Children []*Thread

	ExitStatus int

	// MLFQS fields, zero-valued until MLFQS mode is enabled.
	Nice      int
	RecentCPU fixedpoint.FP

	// Process machinery (nil for pure kernel threads such as idle).
	Fds       *FDTable
	AddrSpace kcommon.AddressSpace
	Running   kcommon.FileHandle // the executable file, opened deny-write

	ForkSema *Semaphore
	WaitSema *Semaphore
	FreeSema *Semaphore

	wake chan struct{} // buffered(1); scheduler signals this to resume the thread
	quit chan struct{} // closed to tell a goroutine-backed thread body to exit

	k *Kernel
}

// Priority returns the thread's effective scheduling priority.
func (t *Thread) Priority() int { return t.priority }

// InitPriority returns the thread's base (non-donated) priority.
func (t *Thread) InitPriority() int { return t.initPriority }

func (t *Thread) String() string {
	return fmt.Sprintf("Thread{tid=%d name=%q status=%s prio=%d}", t.Tid, t.Name, t.Status, t.priority)
}

// newThread allocates a Thread with the given name and priority, BLOCKED
// until the caller unblocks it. The caller (Kernel) assigns Tid and
// registers it in the thread arena.
func newThread(k *Kernel, name string, priority int) *Thread {
	t := &Thread{
		Name:         name,
		Status:       StatusBlocked,
		initPriority: priority,
		priority:     priority,
		Nice:         0,
		RecentCPU:    0,
		wake:         make(chan struct{}, 1),
		quit:         make(chan struct{}),
		k:            k,
	}
	// Every thread carries the three exit-coordination semaphores, whether
	// or not it ever forks a child.
	t.ForkSema = NewSemaphore(k, 0)
	t.WaitSema = NewSemaphore(k, 0)
	t.FreeSema = NewSemaphore(k, 0)
	return t
}
