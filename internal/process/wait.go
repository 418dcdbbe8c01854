package process

import "github.com/gopintos/kernel/internal/sched"

// Wait implements wait(pid): block until the named child exits, consume its
// exit status exactly once, then let it finish teardown. A pid not present
// in the current thread's child list, or a second wait on an
// already-reaped pid, returns -1.
func Wait(k *sched.Kernel, parent *sched.Thread, pid int) int {
	idx := -1
	for i, c := range parent.Children {
		if c.Tid == pid {
			idx = i
			break
		}
	}
	if idx == -1 {
		return -1
	}
	child := parent.Children[idx]

	child.WaitSema.Down()
	status := child.ExitStatus

	parent.Children = append(parent.Children[:idx], parent.Children[idx+1:]...)

	child.FreeSema.Up()

	return status
}
