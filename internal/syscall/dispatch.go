// Package syscall implements system-call dispatch: argument extraction
// from the trap frame, user-pointer validation, the call table, and the
// individual handler semantics (read/write console special-casing, the
// filesys_lock bracket, fd 0/1 reservation). Grounded on the teacher's
// syscall switch in biscuit/src/kernel/main.go (SYS_READ/SYS_WRITE special
// casing of fd 0/1, sys_open installing at the lowest free fd) and on
// original_source/userprog/syscall.c for the exact argument ordering and
// error-path contract: every call returns a value in RAX, and an unknown
// call number terminates the thread with status −1.
package syscall

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/process"
	"github.com/gopintos/kernel/internal/sched"
)

// Call numbers, in declaration order, implicit in their position in this
// block.
const (
	SysHalt = iota
	SysExit
	SysFork
	SysExec
	SysWait
	SysCreate
	SysRemove
	SysOpen
	SysFilesize
	SysRead
	SysWrite
	SysSeek
	SysTell
	SysClose
)

// MaxPathLen is the fixed window readUserString probes above a path/name
// pointer; callers that build their own scratch buffer for a path argument
// (see cmd/gopintos's bootInit) must leave at least this much room above
// the string itself.
const MaxPathLen = 512

// Dispatcher owns the collaborators every handler needs and the
// filesys_lock mutex bracketing every filesystem-touching read/write.
type Dispatcher struct {
	K        *sched.Kernel
	FS       kcommon.Filesystem
	Console  kcommon.Console
	Loader   kcommon.ELFLoader
	NewAS    func() (kcommon.AddressSpace, kcommon.Err_t)
	Halt     func()
	filesysLock sync.Mutex

	// RunChild, if set, is invoked as the forked child's user-mode
	// continuation (the host-level trampoline back to the same RIP with
	// RAX forced to 0 that a real iret would perform). Left nil, a forked
	// child bootstraps its address space and fd table and then exits 0
	// immediately, since this hosted simulation has no real user-mode
	// instruction stream to resume.
	RunChild func(d *Dispatcher, child *sched.Thread, tf *kcommon.TrapFrame)
}

// Dispatch runs the six-step syscall entry sequence: read the call
// number from RAX, extract up to six arguments, validate user-pointer
// arguments, dispatch, store the result in RAX, and terminate the thread on
// an unknown call number.
func (d *Dispatcher) Dispatch(cur *sched.Thread, tf *kcommon.TrapFrame) {
	num := int(tf.RAX)
	args := tf.SyscallArgs()

	result, ok := d.handle(cur, tf, num, args)
	if !ok {
		d.K.Logger().Warn("unknown syscall", zap.Int("tid", cur.Tid), zap.Int("num", num))
		process.Exit(d.K, cur, -1, d.Console)
		return
	}
	tf.RAX = uintptr(result)
}

func (d *Dispatcher) handle(cur *sched.Thread, tf *kcommon.TrapFrame, num int, args [6]uintptr) (int, bool) {
	switch num {
	case SysHalt:
		if d.Halt != nil {
			d.Halt()
		}
		return 0, true

	case SysExit:
		status := int(int64(args[0]))
		process.Exit(d.K, cur, status, d.Console)
		return status, true

	case SysFork:
		name, err := d.readUserString(cur, args[0])
		if err != 0 {
			process.Exit(d.K, cur, -1, d.Console)
			return 0, true
		}
		tid, ferr := process.Fork(d.K, cur, name, tf, func(child *sched.Thread, childTF *kcommon.TrapFrame) {
			if d.RunChild != nil {
				d.RunChild(d, child, childTF)
				return
			}
			process.Exit(d.K, child, 0, d.Console)
		})
		if ferr != 0 {
			return -1, true
		}
		return tid, true

	case SysExec:
		cmdline, err := d.readUserString(cur, args[0])
		if err != 0 {
			return -1, true
		}
		if err := process.Exec(d.K, cur, cmdline, d.FS, d.NewAS, d.Loader, tf); err != 0 {
			return -1, true
		}
		return 0, true

	case SysWait:
		return process.Wait(d.K, cur, int(int64(args[0]))), true

	case SysCreate:
		path, err := d.readUserString(cur, args[0])
		if err != 0 {
			process.Exit(d.K, cur, -1, d.Console)
			return 0, true
		}
		ok := d.FS.Create(path, int64(args[1]))
		return boolToInt(ok), true

	case SysRemove:
		path, err := d.readUserString(cur, args[0])
		if err != 0 {
			process.Exit(d.K, cur, -1, d.Console)
			return 0, true
		}
		return boolToInt(d.FS.Remove(path)), true

	case SysOpen:
		path, err := d.readUserString(cur, args[0])
		if err != 0 {
			process.Exit(d.K, cur, -1, d.Console)
			return 0, true
		}
		fh, ferr := d.FS.Open(path)
		if ferr != 0 {
			return -1, true
		}
		if cur.Fds == nil {
			fh.Close()
			return -1, true
		}
		fd := cur.Fds.Install(fh)
		if fd < 0 {
			fh.Close()
		}
		return fd, true

	case SysFilesize:
		fh := d.fdHandle(cur, int(args[0]))
		if fh == nil {
			return -1, true
		}
		n, err := fh.Length()
		if err != 0 {
			return -1, true
		}
		return int(n), true

	case SysRead:
		return d.sysRead(cur, int(args[0]), args[1], int(args[2])), true

	case SysWrite:
		return d.sysWrite(cur, int(args[0]), args[1], int(args[2])), true

	case SysSeek:
		fh := d.fdHandle(cur, int(args[0]))
		if fh == nil {
			return -1, true
		}
		if err := fh.Seek(int64(args[1])); err != 0 {
			return -1, true
		}
		return 0, true

	case SysTell:
		fh := d.fdHandle(cur, int(args[0]))
		if fh == nil {
			return -1, true
		}
		pos, err := fh.Tell()
		if err != 0 {
			return -1, true
		}
		return int(pos), true

	case SysClose:
		fd := int(args[0])
		if cur.Fds != nil {
			cur.Fds.Close(fd)
		}
		return 0, true

	default:
		return 0, false
	}
}

// sysRead implements the read handler: fd 0 reads from the
// console one byte at a time, fd 1 is invalid for reading, fd >= 2 delegates
// to the file layer under filesys_lock.
func (d *Dispatcher) sysRead(cur *sched.Thread, fd int, bufAddr uintptr, n int) int {
	if fd == kcommon.FD_STDIN {
		if cur.AddrSpace == nil || !cur.AddrSpace.CheckUserAddress(bufAddr, n) {
			process.Exit(d.K, cur, -1, d.Console)
			return 0
		}
		buf := make([]byte, n)
		got := 0
		for got < n {
			b, ok := d.Console.InputGetc()
			if !ok {
				break
			}
			buf[got] = b
			got++
		}
		if err := cur.AddrSpace.WriteUser(bufAddr, buf[:got]); err != 0 {
			process.Exit(d.K, cur, -1, d.Console)
			return 0
		}
		return got
	}
	if fd == kcommon.FD_STDOUT {
		return -1
	}

	fh := d.fdHandle(cur, fd)
	if fh == nil {
		return -1
	}
	if cur.AddrSpace == nil || !cur.AddrSpace.CheckUserAddress(bufAddr, n) {
		process.Exit(d.K, cur, -1, d.Console)
		return 0
	}

	d.filesysLock.Lock()
	buf := make([]byte, n)
	got, err := fh.Read(buf)
	d.filesysLock.Unlock()
	if err != 0 {
		return -1
	}
	if werr := cur.AddrSpace.WriteUser(bufAddr, buf[:got]); werr != 0 {
		process.Exit(d.K, cur, -1, d.Console)
		return 0
	}
	return got
}

// sysWrite implements the write handler: fd 1 writes to the
// console via putbuf, fd 0 is invalid for writing, fd >= 2 delegates under
// filesys_lock.
func (d *Dispatcher) sysWrite(cur *sched.Thread, fd int, bufAddr uintptr, n int) int {
	if fd == kcommon.FD_STDIN {
		return -1
	}
	if cur.AddrSpace == nil || !cur.AddrSpace.CheckUserAddress(bufAddr, n) {
		process.Exit(d.K, cur, -1, d.Console)
		return 0
	}
	buf, err := cur.AddrSpace.ReadUser(bufAddr, n)
	if err != 0 {
		process.Exit(d.K, cur, -1, d.Console)
		return 0
	}
	if fd == kcommon.FD_STDOUT {
		d.Console.PutBuf(buf)
		return n
	}

	fh := d.fdHandle(cur, fd)
	if fh == nil {
		return -1
	}
	d.filesysLock.Lock()
	wrote, werr := fh.Write(buf)
	d.filesysLock.Unlock()
	if werr != 0 {
		return -1
	}
	return wrote
}

func (d *Dispatcher) fdHandle(cur *sched.Thread, fd int) kcommon.FileHandle {
	if cur.Fds == nil {
		return nil
	}
	return cur.Fds.Get(fd)
}

// readUserString validates and copies a NUL-terminated string out of user
// memory, per check_user_address: non-null, within the user range, and
// backed by a present page.
func (d *Dispatcher) readUserString(cur *sched.Thread, addr uintptr) (string, kcommon.Err_t) {
	if addr == 0 || cur.AddrSpace == nil || !cur.AddrSpace.CheckUserAddress(addr, 1) {
		return "", kcommon.EFAULT
	}
	raw, err := cur.AddrSpace.ReadUser(addr, MaxPathLen)
	if err != 0 {
		return "", err
	}
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), 0
		}
	}
	return "", kcommon.EFAULT
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
