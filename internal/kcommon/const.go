package kcommon

// Scheduling constants.
const (
	PRI_MIN     = 0
	PRI_DEFAULT = 31
	PRI_MAX     = 63

	TIME_SLICE = 4 // ticks per thread_ticks quantum
	TIMER_FREQ = 100

	DonationDepthMax = 8 // donation chain walk is capped at 8 hops
)

// FD table.
const (
	FDCOUNT_LIMIT = 3 * 512 // FDT_PAGES * 512
	FD_STDIN      = 0
	FD_STDOUT     = 1
	FDStart       = 2 // user allocations start at 2
)

// Fixed-point format.
const (
	FPFracBits = 14
	FPScale    = 1 << FPFracBits
)

// Tick is the monotonic kernel clock unit.
type Tick uint64
