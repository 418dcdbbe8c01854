// Package process implements the user-process lifecycle: fork, exec, wait,
// and exit, built on top of internal/sched's thread and scheduling
// primitives. Grounded on the teacher's proc_new (duplicate fds, reopen
// cwd, threadi.init, mywait.wait_init, start_thread — see
// biscuit/src/kernel/main.go) and on original_source/userprog/process.c for
// exact fork/exec/wait/exit semantics the distilled requirements leave
// implicit.
package process

import (
	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/sched"
)

// Fork duplicates parent into a new child thread: a fresh address space
// (copy-on-duplicate via AddressSpace.Fork), a duplicated FD table, and the
// child's return value forced to 0. body runs as the child's user-level
// continuation once bootstrap succeeds; it is never invoked if bootstrap
// fails. Fork blocks the parent on the child's fork_sema and returns the
// child's tid, or -1 if the child failed to bootstrap.
func Fork(k *sched.Kernel, parent *sched.Thread, name string, tf *kcommon.TrapFrame, body func(child *sched.Thread, childTF *kcommon.TrapFrame)) (int, kcommon.Err_t) {
	// Snapshot the parent's trap frame so the child's continuation sees the
	// state at the moment fork was called, not whatever the parent's frame
	// has become by the time the child actually runs.
	parentTF := *tf

	child := k.CreateThread(name, parent.Priority())
	child.Parent = parent
	parent.Children = append(parent.Children, child)

	k.RunAs(child, func() {
		childTF := parentTF
		childTF.RAX = 0 // fork() returns 0 in the child

		ok := bootstrapChild(parent, child)
		if !ok {
			child.ExitStatus = -1
			child.ForkSema.Up()
			// the child never ran user code; it exits immediately.
			k.Exit()
			return
		}
		child.ForkSema.Up()
		if body != nil {
			body(child, &childTF)
		}
	})

	child.ForkSema.Down()

	if child.ExitStatus == -1 {
		return -1, 0
	}
	return child.Tid, 0
}

// bootstrapChild duplicates the parent's address space, fd table, and
// running-executable handle into child. Any failure aborts the bootstrap;
// the caller then marks the child's exit status -1 and lets it die without
// ever running user code.
func bootstrapChild(parent, child *sched.Thread) bool {
	if parent.AddrSpace != nil {
		as, err := parent.AddrSpace.Fork()
		if err != 0 {
			return false
		}
		child.AddrSpace = as
	}

	if parent.Fds != nil {
		fds, err := parent.Fds.Duplicate()
		if err != 0 {
			return false
		}
		child.Fds = fds
	}

	if parent.Running != nil {
		rf, err := parent.Running.Reopen()
		if err != 0 {
			return false
		}
		child.Running = rf
	}

	return true
}
