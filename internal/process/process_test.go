package process_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gopintos/kernel/internal/addrspace"
	"github.com/gopintos/kernel/internal/elfload"
	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/memfs"
	"github.com/gopintos/kernel/internal/process"
	"github.com/gopintos/kernel/internal/sched"
)

// TestMain mirrors internal/sched's leak check: every Kernel created here
// leaves its idle thread looping for the test binary's lifetime by design.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/gopintos/kernel/internal/sched.(*Kernel).idleLoop"))
}

// TestForkWaitExit covers the fork/wait/exit scenario: a parent forks
// a child, the child exits with a specific status, and the parent's wait
// returns that exact status.
func TestForkWaitExit(t *testing.T) {
	k := sched.New(false)
	k.Start()

	done := make(chan struct{})
	var childTid int
	var forkErr kcommon.Err_t
	var waitStatus int

	k.Spawn("parent", kcommon.PRI_DEFAULT, func(parent *sched.Thread) {
		parent.Fds = sched.NewFDTable(nil, nil)
		tf := &kcommon.TrapFrame{}

		tid, ferr := process.Fork(k, parent, "child", tf, func(child *sched.Thread, childTF *kcommon.TrapFrame) {
			process.Exit(k, child, 42, nil)
		})
		childTid = tid
		forkErr = ferr

		waitStatus = process.Wait(k, parent, tid)
		close(done)
		k.Exit()
	})

	k.Kick()
	<-done

	require.Equal(t, kcommon.Err_t(0), forkErr)
	require.Greater(t, childTid, 0)
	require.Equal(t, 42, waitStatus)
}

// TestWaitOnUnknownPidFails covers the edge case: waiting on a
// pid that is not (or is no longer) a child returns -1 rather than blocking
// forever.
func TestWaitOnUnknownPidFails(t *testing.T) {
	k := sched.New(false)
	k.Start()

	done := make(chan struct{})
	var status int

	k.Spawn("parent", kcommon.PRI_DEFAULT, func(parent *sched.Thread) {
		parent.Fds = sched.NewFDTable(nil, nil)
		status = process.Wait(k, parent, 999)
		close(done)
		k.Exit()
	})

	k.Kick()
	<-done

	require.Equal(t, -1, status)
}

// TestForkDuplicatesAddressSpace checks that a forked child observes its
// own copy of the parent's address space rather than sharing the parent's.
func TestForkDuplicatesAddressSpace(t *testing.T) {
	k := sched.New(false)
	k.Start()

	done := make(chan struct{})
	var childSawByte, parentByteAfter byte

	k.Spawn("parent", kcommon.PRI_DEFAULT, func(parent *sched.Thread) {
		parent.Fds = sched.NewFDTable(nil, nil)
		as, aerr := addrspace.New()
		require.Equal(t, kcommon.Err_t(0), aerr)
		addr := as.AllocScratch(1)
		require.Equal(t, kcommon.Err_t(0), as.WriteUser(addr, []byte{7}))
		parent.AddrSpace = as

		tf := &kcommon.TrapFrame{}
		_, ferr := process.Fork(k, parent, "child", tf, func(child *sched.Thread, childTF *kcommon.TrapFrame) {
			buf, rerr := child.AddrSpace.ReadUser(addr, 1)
			require.Equal(t, kcommon.Err_t(0), rerr)
			childSawByte = buf[0]

			child.AddrSpace.WriteUser(addr, []byte{9})
			process.Exit(k, child, 0, nil)
		})
		require.Equal(t, kcommon.Err_t(0), ferr)

		process.Wait(k, parent, parent.Children[0].Tid)

		buf, rerr := parent.AddrSpace.ReadUser(addr, 1)
		require.Equal(t, kcommon.Err_t(0), rerr)
		parentByteAfter = buf[0]

		close(done)
		k.Exit()
	})

	k.Kick()
	<-done

	require.Equal(t, byte(7), childSawByte, "child must see the parent's byte at fork time")
	require.Equal(t, byte(7), parentByteAfter, "a write through the child's copy must not be visible to the parent")
}

// TestExecArgv covers the exec-argv scenario: after exec, RDI must hold
// argc, RSI must point at the argv array, and the new top of stack (RSP)
// must be 8-byte aligned.
func TestExecArgv(t *testing.T) {
	k := sched.New(false)
	k.Start()

	fs := memfs.New()
	fs.Seed("/bin/echo", minimalELFImage(t))

	done := make(chan struct{})
	var execErr kcommon.Err_t
	var tf kcommon.TrapFrame

	k.Spawn("proc", kcommon.PRI_DEFAULT, func(self *sched.Thread) {
		loader := elfload.New()
		newAS := func() (kcommon.AddressSpace, kcommon.Err_t) { return addrspace.New() }
		execErr = process.Exec(k, self, "/bin/echo one two", fs, newAS, loader, &tf)
		close(done)
		k.Exit()
	})

	k.Kick()
	<-done

	require.Equal(t, kcommon.Err_t(0), execErr)
	require.EqualValues(t, 3, tf.RDI, "argc must count argv[0..2]")
	require.NotZero(t, tf.RSI, "argv pointer array address must be set")
	require.True(t, tf.RSP%8 == 0, "stack pointer must be 8-byte aligned after pushing the fake return address")
}

// minimalELFImage builds the smallest valid ELF64 ET_EXEC image elfload can
// load: an ELF header, a single PT_LOAD segment covering the entry point,
// and no section headers (the loader never reads sections).
func minimalELFImage(t *testing.T) []byte {
	t.Helper()
	const entry = 0x10000
	const phoff = 64
	img := make([]byte, phoff+56+16)

	copy(img[0:4], []byte{0x7f, 'E', 'L', 'F'})
	img[4] = 2 // ELFCLASS64
	img[5] = 1 // little endian
	img[6] = 1 // EV_CURRENT
	putU16(img[16:], 2)          // e_type = ET_EXEC
	putU16(img[18:], 0x3e)       // e_machine = EM_X86_64
	putU32(img[20:], 1)          // e_version
	putU64(img[24:], entry)      // e_entry
	putU64(img[32:], phoff)      // e_phoff
	putU16(img[52:], 64)         // e_ehsize
	putU16(img[54:], 56)         // e_phentsize
	putU16(img[56:], 1)          // e_phnum

	ph := img[phoff:]
	putU32(ph[0:], 1)        // p_type = PT_LOAD
	putU32(ph[4:], 5)        // p_flags = R+X
	putU64(ph[8:], 0)        // p_offset
	putU64(ph[16:], entry)   // p_vaddr
	putU64(ph[24:], entry)   // p_paddr
	putU64(ph[32:], 16)      // p_filesz
	putU64(ph[40:], 16)      // p_memsz
	putU64(ph[48:], 0x1000)  // p_align

	return img
}

func putU16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
