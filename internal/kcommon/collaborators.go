package kcommon

// This file declares the narrow interfaces the core schedules against but
// does not itself implement — the external collaborators: timer source,
// page allocator, page tables / address space, filesystem, console, and
// ELF loader. Concrete implementations live in sibling packages
// (internal/timer, internal/pagepool, internal/addrspace, internal/memfs,
// internal/console, internal/elfload); internal/console also holds the real
// terminal console that cmd/gopintos uses.

// Page is a zeroed, page-sized (4 KiB) block of kernel memory, as returned
// by PageAllocator.AllocPage — the Go stand-in for the teacher's
// alloc_page()/refpg_new_nozero() returning a kernel virtual address.
type Page struct {
	Bytes [4096]byte
}

// PageAllocator is the physical-memory page allocator collaborator.
type PageAllocator interface {
	AllocPage() (*Page, Err_t)
	AllocPages(n int) ([]*Page, Err_t)
	FreePage(p *Page)
	FreePages(ps []*Page)
}

// AddressSpace is the page-table / MMU collaborator. Fork must duplicate
// every mapped user page with the parent's writable bit; Destroy tears the
// whole space down at exit/exec.
type AddressSpace interface {
	Fork() (AddressSpace, Err_t)
	Destroy()
	MapSegment(vaddr uintptr, data []byte, writable bool) Err_t
	StackPush(bytes []byte) (uintptr, Err_t)
	StackWriteWord(word uint64) (uintptr, Err_t)
	// StackAlign pads the stack pointer down until it is a multiple of n,
	// the System-V AMD64 "word-align to 8" step of exec's argv setup.
	StackAlign(n int) Err_t
	// StackPointer reports the current top-of-stack address, needed to
	// populate the trap frame's RSP after argv setup.
	StackPointer() uintptr
	// CheckUserAddress reports whether addr..addr+n lies in the user
	// virtual-address range and maps to a present page, the
	// check_user_address validation every syscall pointer argument goes
	// through.
	CheckUserAddress(addr uintptr, n int) bool
	ReadUser(addr uintptr, n int) ([]byte, Err_t)
	WriteUser(addr uintptr, data []byte) Err_t
}

// FileHandle is the per-open-file collaborator exposed by the filesystem,
// named after the field/method surface visible on the teacher's
// common.Fd_t (Fops, Perms) and generalized to the read/write/seek/tell/
// deny-write surface a user process needs.
type FileHandle interface {
	Read(buf []byte) (int, Err_t)
	Write(buf []byte) (int, Err_t)
	ReadAt(buf []byte, pos int64) (int, Err_t)
	WriteAt(buf []byte, pos int64) (int, Err_t)
	Length() (int64, Err_t)
	Seek(pos int64) Err_t
	Tell() (int64, Err_t)
	Close()
	Reopen() (FileHandle, Err_t)
	Duplicate() (FileHandle, Err_t)
	DenyWrite()
	AllowWrite()
}

// Filesystem is the collaborator behind create/remove/open and the exec
// path's executable lookup.
type Filesystem interface {
	Open(path string) (FileHandle, Err_t)
	Create(path string, size int64) bool
	Remove(path string) bool
}

// Console is the serial/VGA collaborator: putbuf(bytes,n) and
// input_getc().
type Console interface {
	PutBuf(b []byte)
	InputGetc() (byte, bool)
}

// ELFLoader parses an ELF64 image and maps its PT_LOAD segments into an
// address space, returning the entry point.
type ELFLoader interface {
	Load(image []byte, as AddressSpace) (entry uintptr, err Err_t)
}

// TimerSource is the external periodic tick collaborator; it calls OnTick
// exactly once per tick. The callback signature matches the teacher's
// on_tick-equivalent trap dispatch without any IRQ machinery.
type TimerSource interface {
	Start(onTick func(now Tick))
	Stop()
}
