// Package memfs is the in-memory filesystem collaborator:
// filesys_open/filesys_create/filesys_remove plus the file-handle surface
// (read/write/read_at/write_at/length/seek/tell/close/reopen/duplicate,
// deny_write/allow_write). Grounded on original_source/filesys/file.c's
// deny_write_cnt convention (a file with deny_write_cnt > 0 silently
// accepts zero bytes on write rather than failing) and generalized from the
// teacher's common.Fd_t surface in biscuit/src/kernel/main.go into a
// standalone collaborator package, since a real on-disk filesystem is out
// of scope for the core kernel.
package memfs

import (
	"sync"

	"github.com/gopintos/kernel/internal/kcommon"
)

type inode struct {
	mu        sync.Mutex
	data      []byte
	denyCount int
}

// FS is an in-memory filesystem: a flat namespace of named inodes, no
// directories, matching the flat path space the filesys_* calls assume.
type FS struct {
	mu    sync.Mutex
	files map[string]*inode
}

// New returns an empty filesystem.
func New() *FS {
	return &FS{files: make(map[string]*inode)}
}

// Seed installs path with the given initial contents, for tests and for
// cmd/gopintos to load a boot program image without going through Create +
// Write.
func (fs *FS) Seed(path string, data []byte) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	fs.files[path] = &inode{data: buf}
}

// Create implements filesys_create(path, size): a fresh, zero-filled file
// of the given size. Returns false if path already exists.
func (fs *FS) Create(path string, size int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.files[path]; exists {
		return false
	}
	if size < 0 {
		return false
	}
	fs.files[path] = &inode{data: make([]byte, size)}
	return true
}

// Remove implements filesys_remove(path). Already-open handles keep
// working against their inode; the name simply stops resolving.
func (fs *FS) Remove(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, exists := fs.files[path]; !exists {
		return false
	}
	delete(fs.files, path)
	return true
}

// Open implements filesys_open(path), returning a fresh handle positioned
// at offset 0.
func (fs *FS) Open(path string) (kcommon.FileHandle, kcommon.Err_t) {
	fs.mu.Lock()
	in, ok := fs.files[path]
	fs.mu.Unlock()
	if !ok {
		return nil, kcommon.ENOENT
	}
	return &handle{in: in}, 0
}

// handle is a per-open-file cursor into a shared inode.
type handle struct {
	in  *inode
	pos int64
}

func (h *handle) Read(buf []byte) (int, kcommon.Err_t) {
	n, err := h.ReadAt(buf, h.pos)
	if err == 0 {
		h.pos += int64(n)
	}
	return n, err
}

func (h *handle) Write(buf []byte) (int, kcommon.Err_t) {
	n, err := h.WriteAt(buf, h.pos)
	if err == 0 {
		h.pos += int64(n)
	}
	return n, err
}

func (h *handle) ReadAt(buf []byte, pos int64) (int, kcommon.Err_t) {
	if pos < 0 {
		return 0, kcommon.EINVAL
	}
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if pos >= int64(len(h.in.data)) {
		return 0, 0
	}
	n := copy(buf, h.in.data[pos:])
	return n, 0
}

// WriteAt writes at pos, growing the file as needed. A file currently
// deny_write'd silently accepts zero bytes, per file_write's deny_write_cnt
// check in original_source/filesys/file.c — this is a soft failure, not an
// error.
func (h *handle) WriteAt(buf []byte, pos int64) (int, kcommon.Err_t) {
	if pos < 0 {
		return 0, kcommon.EINVAL
	}
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	if h.in.denyCount > 0 {
		return 0, 0
	}
	end := pos + int64(len(buf))
	if end > int64(len(h.in.data)) {
		grown := make([]byte, end)
		copy(grown, h.in.data)
		h.in.data = grown
	}
	copy(h.in.data[pos:end], buf)
	return len(buf), 0
}

func (h *handle) Length() (int64, kcommon.Err_t) {
	h.in.mu.Lock()
	defer h.in.mu.Unlock()
	return int64(len(h.in.data)), 0
}

func (h *handle) Seek(pos int64) kcommon.Err_t {
	if pos < 0 {
		return kcommon.EINVAL
	}
	h.pos = pos
	return 0
}

func (h *handle) Tell() (int64, kcommon.Err_t) { return h.pos, 0 }

func (h *handle) Close() {}

// Reopen returns a fresh handle onto the same inode at offset 0, inheriting
// the running executable's deny-write hold — used when a forked child needs
// its own handle onto the parent's currently-running executable.
func (h *handle) Reopen() (kcommon.FileHandle, kcommon.Err_t) {
	h.in.mu.Lock()
	denied := h.in.denyCount > 0
	h.in.mu.Unlock()
	nh := &handle{in: h.in}
	if denied {
		nh.DenyWrite()
	}
	return nh, 0
}

// Duplicate returns a fresh handle onto the same inode at offset 0, used by
// FDTable.Duplicate on fork for ordinary (non-executable) open files.
func (h *handle) Duplicate() (kcommon.FileHandle, kcommon.Err_t) {
	return &handle{in: h.in}, 0
}

func (h *handle) DenyWrite() {
	h.in.mu.Lock()
	h.in.denyCount++
	h.in.mu.Unlock()
}

func (h *handle) AllowWrite() {
	h.in.mu.Lock()
	if h.in.denyCount > 0 {
		h.in.denyCount--
	}
	h.in.mu.Unlock()
}
