// Package addrspace is a hosted stand-in for the page-table collaborator:
// rather than real page tables and a page-fault handler, it models a user
// address space as a flat, zeroed byte arena with a per-page presence
// bitmap, mapped at a fixed base. Grounded on
// original_source/userprog/process.c's validate_segment (loadable segments
// must fit within PHYS_BASE, zero-filled beyond p_filesz) and
// pagedir-style present/absent checks that check_user_address relies on,
// generalized away from real MMU page tables since page tables are an
// external collaborator in this hosted simulation, not a peer of the
// scheduler itself.
package addrspace

import (
	"encoding/binary"
	"sync"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/pagepool"
)

const (
	// Base is the lowest user virtual address this stand-in maps, chosen
	// well above the null page so address 0 is never valid (per
	// check_user_address's "must be non-null").
	Base = 0x10000
	// Size is the total span of the simulated user address space.
	Size = 1 << 20 // 1 MiB
	// PageSize matches the teacher's 4 KiB pages (kcommon.Page).
	PageSize = 4096
)

// defaultPool backs every AddressSpace created via New with no explicit
// pool of its own. Production callers that already own a shared
// internal/pagepool.Pool should use NewWithPool instead so the whole
// kernel draws its physical pages from one allocator.
var defaultPool = pagepool.New()

// AddressSpace is the concrete kcommon.AddressSpace used when no real MMU
// is available: a flat arena plus a page presence bitmap plus a
// downward-growing stack pointer. The space allocates one page per arena
// page from an internal/pagepool.Pool and returns them on Destroy; the
// arena itself is a separate byte slice initialized from those pages'
// contents, so reads and writes do not go through the pool's pages.
type AddressSpace struct {
	mu      sync.Mutex
	pool    *pagepool.Pool
	pages   []*kcommon.Page // backing storage, released on Destroy
	mem     []byte
	present []bool // one entry per page index
	sp      uintptr
}

// New allocates an empty address space with the stack pointer at the top of
// the arena, as exec's fresh image needs before argv is pushed. Its pages
// come from a package-private default pool.
func New() (*AddressSpace, kcommon.Err_t) {
	return NewWithPool(defaultPool)
}

// NewWithPool is New, but draws the arena's backing pages from pool instead
// of the package default — the constructor cmd/gopintos uses so every
// address space shares the boot-time page pool.
func NewWithPool(pool *pagepool.Pool) (*AddressSpace, kcommon.Err_t) {
	pages, err := pool.AllocPages(Size / PageSize)
	if err != 0 {
		return nil, err
	}
	mem := make([]byte, 0, Size)
	for _, pg := range pages {
		mem = append(mem, pg.Bytes[:]...)
	}
	a := &AddressSpace{
		pool:    pool,
		pages:   pages,
		mem:     mem,
		present: make([]bool, Size/PageSize),
		sp:      Base + Size,
	}
	return a, 0
}

func pageIndex(vaddr uintptr) int { return int((vaddr - Base) / PageSize) }

func (a *AddressSpace) markPresent(vaddr uintptr, n int) {
	start := pageIndex(vaddr)
	end := pageIndex(vaddr+uintptr(n)-1) + 1
	for i := start; i < end && i < len(a.present); i++ {
		a.present[i] = true
	}
}

func (a *AddressSpace) inRangeLocked(vaddr uintptr, n int) bool {
	if vaddr == 0 || n < 0 {
		return false
	}
	if vaddr < Base || uint64(vaddr)+uint64(n) > uint64(Base+Size) {
		return false
	}
	return true
}

// CheckUserAddress implements check_user_address: non-null, within the
// user range, and every covered page present.
func (a *AddressSpace) CheckUserAddress(vaddr uintptr, n int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inRangeLocked(vaddr, n) {
		return false
	}
	if n == 0 {
		return true
	}
	start := pageIndex(vaddr)
	end := pageIndex(vaddr+uintptr(n)-1) + 1
	for i := start; i < end; i++ {
		if i < 0 || i >= len(a.present) || !a.present[i] {
			return false
		}
	}
	return true
}

// MapSegment copies data into the arena at vaddr and marks its pages
// present, the stand-in for mapping a PT_LOAD segment's file-backed and
// zero-filled pages (process.c's load_segment).
func (a *AddressSpace) MapSegment(vaddr uintptr, data []byte, writable bool) kcommon.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inRangeLocked(vaddr, len(data)) {
		return kcommon.EFAULT
	}
	off := vaddr - Base
	copy(a.mem[off:off+uintptr(len(data))], data)
	a.markPresent(vaddr, len(data))
	return 0
}

// StackPush writes bytes just below the current stack pointer and returns
// the address they now occupy, the primitive exec's argv layout
// (process/exec.go) builds on.
func (a *AddressSpace) StackPush(data []byte) (uintptr, kcommon.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	newSP := a.sp - uintptr(len(data))
	if !a.inRangeLocked(newSP, len(data)) {
		return 0, kcommon.ENOMEM
	}
	off := newSP - Base
	copy(a.mem[off:off+uintptr(len(data))], data)
	a.markPresent(newSP, len(data))
	a.sp = newSP
	return a.sp, 0
}

// StackWriteWord pushes an 8-byte little-endian word, used for the NULL
// terminator, argv pointer array, and fake return address.
func (a *AddressSpace) StackWriteWord(word uint64) (uintptr, kcommon.Err_t) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], word)
	return a.StackPush(buf[:])
}

// StackAlign pads the stack pointer down to the next multiple of n.
func (a *AddressSpace) StackAlign(n int) kcommon.Err_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n <= 0 {
		return kcommon.EINVAL
	}
	a.sp -= a.sp % uintptr(n)
	return 0
}

// StackPointer reports the current top of stack.
func (a *AddressSpace) StackPointer() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sp
}

// ReadUser copies n bytes out of user memory at vaddr.
func (a *AddressSpace) ReadUser(vaddr uintptr, n int) ([]byte, kcommon.Err_t) {
	if !a.CheckUserAddress(vaddr, n) {
		return nil, kcommon.EFAULT
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	off := vaddr - Base
	out := make([]byte, n)
	copy(out, a.mem[off:off+uintptr(n)])
	return out, 0
}

// WriteUser copies data into user memory at vaddr.
func (a *AddressSpace) WriteUser(vaddr uintptr, data []byte) kcommon.Err_t {
	if !a.CheckUserAddress(vaddr, len(data)) {
		return kcommon.EFAULT
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	off := vaddr - Base
	copy(a.mem[off:off+uintptr(len(data))], data)
	return 0
}

// Fork duplicates the entire arena, presence bitmap, and stack pointer into
// a brand-new address space with its own pages drawn from the same pool —
// a plain deep copy, since this stand-in carries no copy-on-write
// machinery, only the "every mapped user page duplicated" requirement a
// real fork imposes.
func (a *AddressSpace) Fork() (kcommon.AddressSpace, kcommon.Err_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pages, err := a.pool.AllocPages(len(a.pages))
	if err != 0 {
		return nil, err
	}
	child := &AddressSpace{
		pool:    a.pool,
		pages:   pages,
		mem:     make([]byte, len(a.mem)),
		present: make([]bool, len(a.present)),
		sp:      a.sp,
	}
	copy(child.mem, a.mem)
	copy(child.present, a.present)
	return child, 0
}

// Destroy releases the arena, returning its backing pages to the pool they
// came from, then drops the local references for the garbage collector.
func (a *AddressSpace) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pool.FreePages(a.pages)
	a.pages = nil
	a.mem = nil
	a.present = nil
}

// AllocScratch reserves and marks present an n-byte region for use as a
// syscall buffer in tests that have no real user-mode stack to borrow from.
func (a *AddressSpace) AllocScratch(n int) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	newSP := a.sp - uintptr(n)
	off := newSP - Base
	for i := range a.mem[off : off+uintptr(n)] {
		a.mem[off+uintptr(i)] = 0
	}
	a.markPresent(newSP, n)
	a.sp = newSP
	return a.sp
}
