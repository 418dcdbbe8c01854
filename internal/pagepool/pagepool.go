// Package pagepool is the physical-page allocator collaborator:
// alloc_page/alloc_pages/free_page, backed by a simple free list rather
// than the teacher's real physical-memory bitmap (refpg_new_nozero in
// biscuit/src/kernel/main.go) — there is no physical memory to bitmap in
// this hosted simulation, only kcommon.Page values allocated from the Go
// heap and recycled through a free list on Free.
package pagepool

import (
	"sync"

	"github.com/gopintos/kernel/internal/kcommon"
)

// Pool is a free-list page allocator: pages released via FreePage/FreePages
// are kept on a free list and handed back out before a fresh page is
// allocated from the heap.
type Pool struct {
	mu   sync.Mutex
	free []*kcommon.Page
}

// New returns an empty pool.
func New() *Pool {
	return &Pool{}
}

// AllocPage returns a zeroed page, either recycled from the free list or
// freshly allocated.
func (p *Pool) AllocPage() (*kcommon.Page, kcommon.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocLocked(), 0
}

func (p *Pool) allocLocked() *kcommon.Page {
	n := len(p.free)
	if n == 0 {
		return &kcommon.Page{}
	}
	pg := p.free[n-1]
	p.free = p.free[:n-1]
	*pg = kcommon.Page{} // re-zero before handing it back out
	return pg
}

// AllocPages returns n zeroed pages, for multi-page regions (the FD table
// uses 3 pages).
func (p *Pool) AllocPages(n int) ([]*kcommon.Page, kcommon.Err_t) {
	if n <= 0 {
		return nil, kcommon.EINVAL
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*kcommon.Page, n)
	for i := range out {
		out[i] = p.allocLocked()
	}
	return out, 0
}

// FreePage returns p to the free list.
func (p *Pool) FreePage(pg *kcommon.Page) {
	if pg == nil {
		return
	}
	p.mu.Lock()
	p.free = append(p.free, pg)
	p.mu.Unlock()
}

// FreePages returns every page in ps to the free list.
func (p *Pool) FreePages(ps []*kcommon.Page) {
	for _, pg := range ps {
		p.FreePage(pg)
	}
}
