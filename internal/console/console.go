// Package console implements the console collaborator (putbuf/input_getc)
// in two flavors: Buffer, an in-memory console for tests that records
// everything written and serves input_getc from a preloaded queue, and
// Terminal, a real terminal console built on golang.org/x/term for
// cmd/gopintos — grounded on the teacher's serial/VGA putbuf but
// generalized to an actual TTY rather than bare-metal output ports, since
// the hosted simulation has a real stdin/stdout to drive.
package console

import (
	"bufio"
	"io"
	"sync"

	"golang.org/x/term"
)

// Buffer is an in-memory console: PutBuf appends to Written, InputGetc pops
// bytes off a preloaded Feed queue in order.
type Buffer struct {
	mu      sync.Mutex
	Written []byte
	Feed    []byte
	pos     int
}

// NewBuffer returns an empty in-memory console, optionally pre-seeded with
// bytes that InputGetc will serve in order.
func NewBuffer(feed []byte) *Buffer {
	return &Buffer{Feed: feed}
}

// PutBuf appends b to Written, the stand-in for the teacher's putbuf.
func (c *Buffer) PutBuf(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Written = append(c.Written, b...)
}

// InputGetc returns the next preloaded byte, or ok == false once Feed is
// exhausted — the stand-in for input_getc blocking forever in the real
// kernel; tests treat exhaustion as EOF instead.
func (c *Buffer) InputGetc() (byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pos >= len(c.Feed) {
		return 0, false
	}
	b := c.Feed[c.pos]
	c.pos++
	return b, true
}

// Terminal is a real TTY console, putting raw bytes to w and pulling
// buffered bytes from r (typically os.Stdout/os.Stdin), used by
// cmd/gopintos's boot harness in place of a VGA/serial port.
type Terminal struct {
	w  io.Writer
	mu sync.Mutex
	r  *bufio.Reader
}

// NewTerminal wraps r/w as a console. It only buffers reads; it does not
// change terminal modes itself. cmd/gopintos's boot harness calls
// IsTerminal and term.MakeRaw on the underlying fd before constructing a
// Terminal over it, and term.Restore on the same fd before the process
// exits.
func NewTerminal(r io.Reader, w io.Writer) *Terminal {
	return &Terminal{w: w, r: bufio.NewReader(r)}
}

// IsTerminal reports whether fd refers to a real TTY, used by callers to
// decide whether to enable raw mode before driving the console
// interactively.
func IsTerminal(fd int) bool {
	return term.IsTerminal(fd)
}

func (t *Terminal) PutBuf(b []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(b)
}

func (t *Terminal) InputGetc() (byte, bool) {
	b, err := t.r.ReadByte()
	if err != nil {
		return 0, false
	}
	return b, true
}
