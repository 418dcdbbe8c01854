package kcommon

import "github.com/davecgh/go-spew/spew"

// TFSIZE mirrors the teacher's common.TFSIZE — the trap frame is modeled as
// a small tuple of named registers rather than the polymorphic array the
// source uses.
const TFSIZE = 16

// TrapFrame is the saved register state at kernel entry from user mode,
// generalized from the teacher's [common.TFSIZE]uintptr array (see
// trapstub, tfdump in main.go) into named fields so syscall argument
// extraction is a struct access instead of an index lookup into an untyped
// array.
type TrapFrame struct {
	RAX uintptr
	RDI uintptr
	RSI uintptr
	RDX uintptr
	R10 uintptr
	R8  uintptr
	R9  uintptr
	RBX uintptr
	RCX uintptr
	RSP uintptr
	RIP uintptr
	RBP uintptr

	// Eflags/CS/SS are kept for iret-equivalent bookkeeping; the simulation
	// never actually leaves ring 0, so these are bookkeeping only.
	Eflags uintptr
	CS     uintptr
	SS     uintptr
	Trapno uintptr
}

// SyscallArgs returns the six argument registers in ABI order: RDI, RSI,
// RDX, R10, R8, R9.
func (tf *TrapFrame) SyscallArgs() [6]uintptr {
	return [6]uintptr{tf.RDI, tf.RSI, tf.RDX, tf.R10, tf.R8, tf.R9}
}

// DumpTrapFrame is the generalization of the teacher's tfdump (main.go) to
// every field of TrapFrame, using go-spew instead of a hand-rolled
// Printf-per-field dump.
func DumpTrapFrame(tf *TrapFrame) string {
	return spew.Sdump(tf)
}
