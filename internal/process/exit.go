package process

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/sched"
)

// Exit implements exit(status): store the status, print the termination
// message, tear down every FD, release the running executable (which
// re-allows writes), destroy the address space, release a waiting parent,
// wait for the parent to acknowledge, then transition to DYING.
func Exit(k *sched.Kernel, cur *sched.Thread, status int, console kcommon.Console) {
	cur.ExitStatus = status

	msg := fmt.Sprintf("%s: exit(%d)\n", cur.Name, status)
	if console != nil {
		console.PutBuf([]byte(msg))
	}
	k.Logger().Info("process exit", zap.Int("tid", cur.Tid), zap.String("name", cur.Name), zap.Int("status", status))

	if cur.Fds != nil {
		cur.Fds.CloseAll()
		cur.Fds.FreeBackingPages()
	}
	if cur.Running != nil {
		cur.Running.AllowWrite()
		cur.Running.Close()
		cur.Running = nil
	}
	if cur.AddrSpace != nil {
		cur.AddrSpace.Destroy()
		cur.AddrSpace = nil
	}

	cur.WaitSema.Up()
	cur.FreeSema.Down()

	k.Exit()
}
