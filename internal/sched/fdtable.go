package sched

import (
	"sync"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/pagepool"
)

// fdTablePages is the per-thread page count backing an FD table: 3 pages of
// 512 entries each.
const fdTablePages = 3

// defaultFDPagePool backs every FDTable created via NewFDTable with no
// explicit pool of its own.
var defaultFDPagePool = pagepool.New()

// FDTable is the per-thread dense file-descriptor table: FDCOUNT_LIMIT
// entries, indices 0/1 reserved for STDIN/STDOUT sentinels, user
// allocations starting at FDStart, with fdidx as a hint for the next free
// slot. Its backing storage is drawn from an internal/pagepool.Pool
// (fdTablePages pages) and returned to it when the table is torn down, the
// same page-allocator collaborator every other per-process resource draws
// from.
type FDTable struct {
	mu    sync.Mutex
	pool  *pagepool.Pool
	pages []*kcommon.Page
	fds   [kcommon.FDCOUNT_LIMIT]kcommon.FileHandle
	fdidx int
}

// NewFDTable creates an FD table with STDIN/STDOUT sentinels installed at
// 0 and 1, backed by the package default page pool.
func NewFDTable(stdin, stdout kcommon.FileHandle) *FDTable {
	return NewFDTableWithPool(defaultFDPagePool, stdin, stdout)
}

// NewFDTableWithPool is NewFDTable, but draws the table's backing pages
// from pool instead of the package default — the constructor cmd/gopintos
// uses so every thread's fd table shares the boot-time page pool.
func NewFDTableWithPool(pool *pagepool.Pool, stdin, stdout kcommon.FileHandle) *FDTable {
	pages, _ := pool.AllocPages(fdTablePages)
	t := &FDTable{pool: pool, pages: pages, fdidx: kcommon.FDStart}
	t.fds[kcommon.FD_STDIN] = stdin
	t.fds[kcommon.FD_STDOUT] = stdout
	return t
}

// Install places h at the lowest free slot >= FDStart, returning -1 if the
// table is full.
func (t *FDTable) Install(h kcommon.FileHandle) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := t.fdidx; i < kcommon.FDCOUNT_LIMIT; i++ {
		if t.fds[i] == nil {
			t.fds[i] = h
			t.fdidx = i + 1
			return i
		}
	}
	for i := kcommon.FDStart; i < t.fdidx; i++ {
		if t.fds[i] == nil {
			t.fds[i] = h
			t.fdidx = i + 1
			return i
		}
	}
	return -1
}

// Get returns the handle at fd, or nil if fd is out of range or unused.
func (t *FDTable) Get(fd int) kcommon.FileHandle {
	if fd < 0 || fd >= kcommon.FDCOUNT_LIMIT {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fds[fd]
}

// Close closes and clears fd (a no-op for fd < FDStart).
func (t *FDTable) Close(fd int) {
	if fd < kcommon.FDStart || fd >= kcommon.FDCOUNT_LIMIT {
		return
	}
	t.mu.Lock()
	h := t.fds[fd]
	t.fds[fd] = nil
	if fd < t.fdidx {
		t.fdidx = fd
	}
	t.mu.Unlock()
	if h != nil {
		h.Close()
	}
}

// CloseAll closes every installed fd from FDStart up, the first step of
// exit()'s fd teardown.
func (t *FDTable) CloseAll() {
	for fd := kcommon.FDStart; fd < kcommon.FDCOUNT_LIMIT; fd++ {
		t.Close(fd)
	}
}

// FreeBackingPages returns the table's page-pool-backed storage to the pool
// it came from — exit()'s "free the FD table's backing pages" step,
// performed after CloseAll.
func (t *FDTable) FreeBackingPages() {
	t.mu.Lock()
	pages := t.pages
	pool := t.pool
	t.pages = nil
	t.mu.Unlock()
	if pool != nil {
		pool.FreePages(pages)
	}
}

// Duplicate builds a fresh FDTable for a forked child, with its own
// freshly allocated backing pages: 0/1 inherit the sentinels, every other
// slot's handle is duplicated via h.Duplicate().
func (t *FDTable) Duplicate() (*FDTable, kcommon.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pages, err := t.pool.AllocPages(fdTablePages)
	if err != 0 {
		return nil, err
	}
	nt := &FDTable{pool: t.pool, pages: pages, fdidx: t.fdidx}
	for i := 0; i < kcommon.FDCOUNT_LIMIT; i++ {
		h := t.fds[i]
		if h == nil {
			continue
		}
		if i < kcommon.FDStart {
			nt.fds[i] = h
			continue
		}
		dup, err := h.Duplicate()
		if err != 0 {
			continue // a duplication failure is tolerated; slot stays empty
		}
		nt.fds[i] = dup
	}
	return nt, 0
}
