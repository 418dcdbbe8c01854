// Command gopintos is the boot harness: thread_init then thread_start (idle
// thread creation + first schedule), the "-o mlfqs" command-line option,
// and a minimal init program that exec()s a named image once.
// Grounded on the teacher's own main() in biscuit/src/kernel/main.go
// (argument parsing into boot options, a single top-level supervisory
// goroutine group) and generalized from its bare-metal boot sequence into a
// hosted process using golang.org/x/sync's errgroup to supervise the timer
// goroutine; the init thread runs as a kernel thread outside that group.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/gopintos/kernel/internal/addrspace"
	"github.com/gopintos/kernel/internal/console"
	"github.com/gopintos/kernel/internal/elfload"
	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/memfs"
	"github.com/gopintos/kernel/internal/pagepool"
	"github.com/gopintos/kernel/internal/sched"
	"github.com/gopintos/kernel/internal/syscall"
	"github.com/gopintos/kernel/internal/timer"
)

var options []string

func main() {
	root := &cobra.Command{
		Use:   "gopintos IMAGE [ARGS...]",
		Short: "boots the kernel and execs IMAGE as the initial user process",
		Args:  cobra.MinimumNArgs(1),
		RunE:  run,
	}
	root.Flags().StringArrayVarP(&options, "option", "o", nil, "boot option (e.g. mlfqs)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func hasOption(name string) bool {
	for _, o := range options {
		if o == name {
			return true
		}
	}
	return false
}

func run(cmd *cobra.Command, args []string) error {
	mlfqs := hasOption("mlfqs")

	k := sched.New(mlfqs)
	k.Start()
	log := k.Logger()

	// One shared page pool backs both the address-space arenas and every
	// thread's fd table, the hosted counterpart of alloc_page/alloc_pages
	// being the single physical-memory allocator every collaborator draws
	// from.
	pages := pagepool.New()

	fs := memfs.New()
	image, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "reading initial program image %q", args[0])
	}
	fs.Seed(args[0], image)

	// Put stdin into raw mode when it's a real TTY, so the console
	// collaborator sees bytes as input_getc expects them (unbuffered, no
	// line editing or signal generation) rather than whatever the host
	// terminal driver would otherwise do. Restored before every exit path.
	stdinFd := int(os.Stdin.Fd())
	var restoreTerm func()
	if console.IsTerminal(stdinFd) {
		if oldState, rerr := term.MakeRaw(stdinFd); rerr == nil {
			restoreTerm = func() { _ = term.Restore(stdinFd, oldState) }
		}
	}
	exit := func(status int) {
		if restoreTerm != nil {
			restoreTerm()
		}
		os.Exit(status)
	}

	cons := console.NewTerminal(os.Stdin, os.Stdout)
	loader := elfload.New()

	disp := &syscall.Dispatcher{
		K:       k,
		FS:      fs,
		Console: cons,
		Loader:  loader,
		NewAS:   func() (kcommon.AddressSpace, kcommon.Err_t) { return addrspace.NewWithPool(pages) },
		Halt: func() {
			log.Info("halt")
			exit(0)
		},
	}

	var g errgroup.Group
	done := make(chan int, 1)
	shutdown := make(chan struct{})

	// Spawn the init thread before Kick, exactly as thread_create calls
	// made before thread_start never themselves preempt (interrupts are
	// not yet enabled): Kick performs the very first scheduling decision
	// only once every boot-time thread already exists.
	k.Spawn("init", kcommon.PRI_DEFAULT, func(t *sched.Thread) {
		t.Fds = sched.NewFDTableWithPool(pages, nil, nil)
		status := bootInit(disp, t, pages, args[0])
		close(shutdown)
		done <- status
	})

	tsrc := timer.New()
	g.Go(func() error {
		tsrc.Start(k.OnTick)
		<-shutdown
		tsrc.Stop()
		return nil
	})

	k.Kick()

	status := <-done
	if gerr := g.Wait(); gerr != nil {
		log.Error("boot supervisor error", zap.Error(gerr))
	}
	log.Info("init exited", zap.Int("status", status))
	exit(status)
	return nil
}

// bootInit drives the initial process through a single exec syscall and
// returns the value that syscall left in RAX (0 on success, -1 on failure);
// it performs no wait. It builds trap frames by hand rather than interpreting
// compiled user instructions, since this hosted simulation has no ISA
// interpreter — only the dispatch pipeline describes how to turn them into
// a result. The scratch region built for the exec path string must leave
// room for readUserString's fixed-size probe above the path bytes
// themselves (see internal/syscall.Dispatcher.readUserString), not just the
// path's own length.
func bootInit(disp *syscall.Dispatcher, t *sched.Thread, pages *pagepool.Pool, path string) int {
	as, aerr := addrspace.NewWithPool(pages)
	if aerr != 0 {
		return -1
	}
	t.AddrSpace = as

	execPath := as.AllocScratch(syscall.MaxPathLen + len(path) + 1)
	if werr := as.WriteUser(execPath, append([]byte(path), 0)); werr != 0 {
		return -1
	}

	tf := &kcommon.TrapFrame{RAX: uintptr(syscall.SysExec), RDI: execPath}
	disp.Dispatch(t, tf)
	return int(int64(tf.RAX))
}
