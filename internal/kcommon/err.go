// Package kcommon holds the types shared across the kernel core that would
// otherwise create import cycles between internal/sched, internal/process,
// and internal/syscall: error codes, the collaborator interfaces (timer,
// page allocator, address space, filesystem, console, ELF loader), and the
// trap-frame shape. Named and shaped after the teacher's own common package
// (common.Err_t, common.Fd_t, common.TFSIZE) referenced throughout
// biscuit/src/kernel/main.go.
package kcommon

import "fmt"

// Err_t is a negative-on-failure, zero-on-success error code, exactly the
// convention the teacher's common.Err_t follows (see iov_init, cb_ensure in
// main.go: "return -EINVAL", "return -ENOMEM").
type Err_t int

const (
	EINVAL Err_t = -1 - iota
	EFAULT
	ENOMEM
	EBADF
	ENOENT
	EMFILE
	EACCES
	EAGAIN
	ENOSYS
)

func (e Err_t) Error() string {
	if e == 0 {
		return "success"
	}
	if name, ok := errnames[e]; ok {
		return name
	}
	return fmt.Sprintf("err(%d)", int(e))
}

var errnames = map[Err_t]string{
	EINVAL: "invalid argument",
	EFAULT: "bad address",
	ENOMEM: "out of memory",
	EBADF:  "bad file descriptor",
	ENOENT: "no such file",
	EMFILE: "too many open files",
	EACCES: "permission denied",
	EAGAIN: "resource temporarily unavailable",
	ENOSYS: "function not implemented",
}

// OK reports whether e represents success.
func (e Err_t) OK() bool { return e == 0 }
