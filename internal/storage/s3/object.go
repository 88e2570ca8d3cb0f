package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"sync"
	"time"
)

var errWhence = errors.New("s3: invalid whence")

// objectReader reads an object with ranged GETs. It is not safe for
// concurrent Read and Seek; ReadAt may be called concurrently.
type objectReader struct {
	ctx  context.Context
	fs   *FileSystem
	key  string
	size int64

	mu     sync.Mutex
	off    int64
	closed bool
}

func (r *objectReader) Size() int64 { return r.size }

func (r *objectReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fs.ErrInvalid
	}
	if off >= r.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.size {
		want = r.size - off
	}
	if want == 0 {
		return 0, nil
	}

	body, err := r.fs.getRange(r.ctx, r.key, off, want)
	if err != nil {
		return 0, err
	}
	defer body.Close()

	n, err := io.ReadFull(body, p[:want])
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *objectReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, fs.ErrClosed
	}
	n, err := r.ReadAt(p, r.off)
	r.off += int64(n)
	if n > 0 && err == io.EOF {
		err = nil
	}
	return n, err
}

func (r *objectReader) Seek(offset int64, whence int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, errWhence
	}
	if abs < 0 {
		return 0, fs.ErrInvalid
	}
	r.off = abs
	return abs, nil
}

func (r *objectReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// objectWriter buffers content and uploads it on Close.
type objectWriter struct {
	ctx    context.Context
	fs     *FileSystem
	key    string
	buf    bytes.Buffer
	closed bool
}

func (w *objectWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *objectWriter) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true
	return w.fs.upload(w.ctx, w.key, w.buf.Bytes(), time.Now())
}
