package pagepool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gopintos/kernel/internal/kcommon"
	"github.com/gopintos/kernel/internal/pagepool"
)

func TestAllocPageIsZeroed(t *testing.T) {
	p := pagepool.New()
	pg, err := p.AllocPage()
	require.Equal(t, kcommon.Err_t(0), err)
	for _, b := range pg.Bytes {
		require.Zero(t, b)
	}
}

func TestFreedPageIsRecycledAndRezeroed(t *testing.T) {
	p := pagepool.New()
	pg, _ := p.AllocPage()
	pg.Bytes[0] = 0xff
	p.FreePage(pg)

	recycled, _ := p.AllocPage()
	require.Same(t, pg, recycled, "a freed page must be handed back out before allocating a fresh one")
	require.Zero(t, recycled.Bytes[0], "a recycled page must be re-zeroed")
}

func TestAllocPagesReturnsNDistinctPages(t *testing.T) {
	p := pagepool.New()
	pgs, err := p.AllocPages(3)
	require.Equal(t, kcommon.Err_t(0), err)
	require.Len(t, pgs, 3)
	require.NotSame(t, pgs[0], pgs[1])
	require.NotSame(t, pgs[1], pgs[2])
}

func TestAllocPagesRejectsNonPositiveN(t *testing.T) {
	p := pagepool.New()
	_, err := p.AllocPages(0)
	require.Equal(t, kcommon.EINVAL, err)
}

func TestFreePagesReturnsEveryPage(t *testing.T) {
	p := pagepool.New()
	pgs, _ := p.AllocPages(2)
	p.FreePages(pgs)

	first, _ := p.AllocPage()
	second, _ := p.AllocPage()
	require.Contains(t, pgs, first)
	require.Contains(t, pgs, second)
}

func TestFreePageNilIsANoop(t *testing.T) {
	p := pagepool.New()
	require.NotPanics(t, func() { p.FreePage(nil) })
}
