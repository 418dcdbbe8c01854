package process

import (
	"strings"

	"go.uber.org/zap"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/sched"
)

// Exec implements exec(cmdline): parse cmdline into argv
// (whitespace-delimited), destroy the current address space, open the
// executable named by argv[0] (denying writes for the process's lifetime),
// parse its ELF64 header via loader, map every PT_LOAD segment, build an
// initial user stack with argv pushed per the System-V AMD64 convention, and
// point the trap frame at the new entry point. An empty cmdline returns
// EINVAL with the thread untouched; on any later failure the current
// thread is left without an address space and Exec returns a negative
// Err_t; per original_source/userprog/process.c's process_execute, a failed
// exec does not resurrect the caller's old image. newAS constructs a fresh,
// empty address space (the exec path never derives one from Fork).
func Exec(k *sched.Kernel, cur *sched.Thread, cmdline string, fs kcommon.Filesystem, newAS func() (kcommon.AddressSpace, kcommon.Err_t), loader kcommon.ELFLoader, tf *kcommon.TrapFrame) kcommon.Err_t {
	argv := strings.Fields(cmdline)
	if len(argv) == 0 {
		return kcommon.EINVAL
	}

	if cur.AddrSpace != nil {
		cur.AddrSpace.Destroy()
		cur.AddrSpace = nil
	}
	if cur.Running != nil {
		cur.Running.AllowWrite()
		cur.Running.Close()
		cur.Running = nil
	}

	fh, ferr := fs.Open(argv[0])
	if ferr != 0 {
		k.Logger().Debug("exec: open failed", zap.String("path", argv[0]), zap.Int("err", int(ferr)))
		return ferr
	}
	fh.DenyWrite()

	size, lerr := fh.Length()
	if lerr != 0 {
		fh.AllowWrite()
		fh.Close()
		return lerr
	}
	image := make([]byte, size)
	if _, rerr := fh.ReadAt(image, 0); rerr != 0 {
		fh.AllowWrite()
		fh.Close()
		return rerr
	}

	as, aserr := newAS()
	if aserr != 0 {
		fh.AllowWrite()
		fh.Close()
		return aserr
	}

	entry, lderr := loader.Load(image, as)
	if lderr != 0 {
		as.Destroy()
		fh.AllowWrite()
		fh.Close()
		return lderr
	}

	argvPtr, argc, serr := pushArgv(as, argv)
	if serr != 0 {
		as.Destroy()
		fh.AllowWrite()
		fh.Close()
		return serr
	}

	cur.AddrSpace = as
	cur.Running = fh

	tf.RIP = entry
	tf.RSP = as.StackPointer()
	tf.RDI = uintptr(argc)
	tf.RSI = argvPtr

	k.Logger().Info("exec", zap.Int("tid", cur.Tid), zap.String("cmdline", cmdline), zap.Int("argc", argc))
	return 0
}

// pushArgv lays out argv on as's stack per the System-V AMD64 convention:
// the argument strings themselves (order among them is not observable),
// then the stack pointer word-aligned
// to 8, then a NULL terminator, then the array of argv pointers with argv[0]
// ending up at the lowest address (the value returned as argvPtr), and
// finally a fake return address word of 0 at the new top of stack — so a
// user-mode "ret" out of the entry point reads 0 rather than kernel memory.
func pushArgv(as kcommon.AddressSpace, argv []string) (uintptr, int, kcommon.Err_t) {
	addrs := make([]uintptr, len(argv))
	for i := len(argv) - 1; i >= 0; i-- {
		b := append([]byte(argv[i]), 0)
		addr, err := as.StackPush(b)
		if err != 0 {
			return 0, 0, err
		}
		addrs[i] = addr
	}

	if err := as.StackAlign(8); err != 0 {
		return 0, 0, err
	}

	if _, err := as.StackWriteWord(0); err != 0 {
		return 0, 0, err
	}

	var argvPtr uintptr
	for i := len(addrs) - 1; i >= 0; i-- {
		ptr, err := as.StackWriteWord(uint64(addrs[i]))
		if err != 0 {
			return 0, 0, err
		}
		argvPtr = ptr
	}

	if _, err := as.StackWriteWord(0); err != 0 { // fake return address
		return 0, 0, err
	}

	return argvPtr, len(argv), 0
}
