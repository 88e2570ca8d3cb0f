package fuse

import (
	"bytes"
	"context"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/namedfs/namedfs/pkg/types"
)

// readHandle serves reads straight from a random-access reader.
type readHandle struct {
	fsys *FileSystem
	path string

	mu sync.Mutex
	r  types.RandomAccessReader
}

var (
	_ fs.FileReader   = (*readHandle)(nil)
	_ fs.FileReleaser = (*readHandle)(nil)
)

func (h *readHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.fsys.stats.reads.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.r == nil {
		return nil, syscall.EBADF
	}
	if off >= h.r.Size() {
		return fuse.ReadResultData(nil), 0
	}

	n, err := h.r.ReadAt(dest, off)
	if err != nil && err != io.EOF {
		return nil, h.fsys.errno("read", h.path, err)
	}
	h.fsys.stats.bytesRead.Add(int64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *readHandle) Release(context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.r == nil {
		return 0
	}
	err := h.r.Close()
	h.r = nil
	return h.fsys.errno("release", h.path, err)
}

// writeHandle buffers the whole file in memory and uploads it on flush.
type writeHandle struct {
	fsys *FileSystem
	path string

	mu    sync.Mutex
	data  []byte
	dirty bool
	mtime *time.Time
}

var (
	_ fs.FileReader   = (*writeHandle)(nil)
	_ fs.FileWriter   = (*writeHandle)(nil)
	_ fs.FileFlusher  = (*writeHandle)(nil)
	_ fs.FileReleaser = (*writeHandle)(nil)
)

func newWriteHandle(fsys *FileSystem, p string, initial []byte) *writeHandle {
	return &writeHandle{fsys: fsys, path: p, data: initial}
}

func (h *writeHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.fsys.stats.reads.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	n := copy(dest, h.data[off:])
	h.fsys.stats.bytesRead.Add(int64(n))
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *writeHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if off < 0 {
		return 0, syscall.EINVAL
	}
	h.fsys.stats.writes.Add(1)

	h.mu.Lock()
	defer h.mu.Unlock()
	if end := off + int64(len(data)); end > int64(len(h.data)) {
		h.data = resize(h.data, end)
	}
	copy(h.data[off:], data)
	h.dirty = true
	h.fsys.stats.bytesWritten.Add(int64(len(data)))
	return safeIntToUint32(len(data)), 0
}

// Flush uploads buffered content. It runs on every close(2) of a
// descriptor sharing this handle.
func (h *writeHandle) Flush(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushLocked(ctx)
}

func (h *writeHandle) flushLocked(ctx context.Context) syscall.Errno {
	if !h.dirty {
		return 0
	}
	if err := upload(ctx, h.fsys.target, h.path, h.data); err != nil {
		return h.fsys.errno("flush", h.path, err)
	}
	h.dirty = false
	if h.mtime != nil {
		if err := h.fsys.target.SetLastModified(ctx, h.path, *h.mtime); err != nil {
			return h.fsys.errno("flush", h.path, err)
		}
	}
	return 0
}

func (h *writeHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	errno := h.flushLocked(ctx)
	h.data = nil
	return errno
}

func (h *writeHandle) truncate(size int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.data = resize(h.data, size)
	h.dirty = true
}

func (h *writeHandle) setMTime(t time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mtime = &t
	h.dirty = true
}

func (h *writeHandle) fillAttr(out *fuse.Attr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	info := &types.FileInfo{Path: h.path, Size: int64(len(h.data)), ModTime: time.Now()}
	if h.mtime != nil {
		info.ModTime = *h.mtime
	}
	h.fsys.fillAttr(info, out)
}

// resize returns data grown with zeros or cut to size.
func resize(data []byte, size int64) []byte {
	if size <= int64(len(data)) {
		return data[:size]
	}
	if size <= int64(cap(data)) {
		grown := data[:size]
		clear(grown[len(data):])
		return grown
	}
	grown := make([]byte, size, size+size/4)
	copy(grown, data)
	return grown
}

func readAll(ctx context.Context, target Target, p string) ([]byte, error) {
	r, err := target.OpenRandomAccess(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func upload(ctx context.Context, target Target, p string, data []byte) error {
	w, err := target.Create(ctx, p, true)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}
