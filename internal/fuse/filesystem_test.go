package fuse

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

type memReader struct {
	*bytes.Reader
}

func (memReader) Close() error { return nil }

type memWriter struct {
	bytes.Buffer
	done func([]byte)
}

func (w *memWriter) Close() error {
	w.done(w.Bytes())
	return nil
}

// memTarget keeps files in a map keyed by absolute path.
type memTarget struct {
	mu     sync.Mutex
	files  map[string][]byte
	mtimes map[string]time.Time
	fail   error
}

func newMemTarget() *memTarget {
	return &memTarget{files: map[string][]byte{}, mtimes: map[string]time.Time{}}
}

func notFound(p string) error {
	return errors.NewError(errors.ErrCodeFileNotFound, "no such file").WithContext("path", p)
}

func (m *memTarget) Stat(_ context.Context, p string) (*types.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, notFound(p)
	}
	return &types.FileInfo{Name: filepath.Base(p), Path: p, Size: int64(len(data)), ModTime: m.mtimes[p]}, nil
}

func (m *memTarget) List(context.Context, string) ([]types.FileInfo, error) {
	return nil, nil
}

func (m *memTarget) OpenRandomAccess(_ context.Context, p string) (types.RandomAccessReader, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[p]
	if !ok {
		return nil, notFound(p)
	}
	return memReader{bytes.NewReader(data)}, nil
}

func (m *memTarget) Create(_ context.Context, p string, _ bool) (io.WriteCloser, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	return &memWriter{done: func(b []byte) {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.files[p] = append([]byte(nil), b...)
		m.mtimes[p] = time.Now()
	}}, nil
}

func (m *memTarget) CreateFolder(context.Context, string) error { return nil }
func (m *memTarget) Delete(context.Context, string) error       { return nil }
func (m *memTarget) Rename(context.Context, string, string) error {
	return nil
}

func (m *memTarget) SetLastModified(_ context.Context, p string, t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[p]; !ok {
		return notFound(p)
	}
	m.mtimes[p] = t
	return nil
}

func (m *memTarget) content(p string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.files[p])
}

func readString(t *testing.T, res fuse.ReadResult) string {
	t.Helper()
	buf := make([]byte, res.Size())
	data, status := res.Bytes(buf)
	require.Equal(t, fuse.OK, status)
	return string(data)
}

func TestReadHandle(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	target := newMemTarget()
	target.files["/data/in.csv"] = []byte("a,b,c\n1,2,3\n")
	fsys := NewFileSystem(target, Config{}, nil)

	r, err := target.OpenRandomAccess(ctx, "/data/in.csv")
	require.NoError(t, err)
	h := &readHandle{fsys: fsys, path: "/data/in.csv", r: r}

	res, errno := h.Read(ctx, make([]byte, 5), 6)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "1,2,3", readString(t, res))

	res, errno = h.Read(ctx, make([]byte, 64), 100)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Empty(t, readString(t, res))

	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	_, errno = h.Read(ctx, make([]byte, 1), 0)
	assert.Equal(t, syscall.EBADF, errno)

	stats := fsys.GetStats()
	assert.Equal(t, int64(3), stats.Reads)
	assert.Equal(t, int64(5), stats.BytesRead)
}

func TestWriteHandleBuffersUntilFlush(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	target := newMemTarget()
	fsys := NewFileSystem(target, Config{}, nil)

	h := newWriteHandle(fsys, "/out/part-0", nil)
	n, errno := h.Write(ctx, []byte("hello"), 0)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, uint32(5), n)

	_, errno = h.Write(ctx, []byte("world"), 8)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Empty(t, target.content("/out/part-0"))

	require.Equal(t, syscall.Errno(0), h.Flush(ctx))
	assert.Equal(t, "hello\x00\x00\x00world", target.content("/out/part-0"))

	res, errno := h.Read(ctx, make([]byte, 5), 8)
	require.Equal(t, syscall.Errno(0), errno)
	assert.Equal(t, "world", readString(t, res))

	assert.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Equal(t, int64(10), fsys.GetStats().BytesWritten)
}

func TestWriteHandleTruncateAndMTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	target := newMemTarget()
	fsys := NewFileSystem(target, Config{}, nil)

	h := newWriteHandle(fsys, "/f", []byte("0123456789"))
	h.truncate(4)
	stamp := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h.setMTime(stamp)

	var attr fuse.Attr
	h.fillAttr(&attr)
	assert.Equal(t, uint64(4), attr.Size)
	assert.Equal(t, uint64(stamp.Unix()), attr.Mtime)

	require.Equal(t, syscall.Errno(0), h.Release(ctx))
	assert.Equal(t, "0123", target.content("/f"))
	info, err := target.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.True(t, stamp.Equal(info.ModTime))
}

func TestWriteHandleFlushFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	target := newMemTarget()
	target.fail = errors.NewError(errors.ErrCodeOperationFailed, "backend down")
	fsys := NewFileSystem(target, Config{}, nil)

	h := newWriteHandle(fsys, "/f", nil)
	_, errno := h.Write(ctx, []byte("x"), 0)
	require.Equal(t, syscall.Errno(0), errno)

	assert.Equal(t, syscall.EIO, h.Flush(ctx))
	assert.Equal(t, int64(1), fsys.GetStats().Errors)
}

func TestErrnoMapping(t *testing.T) {
	t.Parallel()
	fsys := NewFileSystem(newMemTarget(), Config{}, nil)

	tests := []struct {
		code errors.ErrorCode
		want syscall.Errno
	}{
		{errors.ErrCodeFileNotFound, syscall.ENOENT},
		{errors.ErrCodeFileExists, syscall.EEXIST},
		{errors.ErrCodeCapabilityUnsupported, syscall.ENOTSUP},
		{errors.ErrCodeHandleReleased, syscall.EBADF},
		{errors.ErrCodeOperationCanceled, syscall.EINTR},
		{errors.ErrCodeOperationFailed, syscall.EIO},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, fsys.errno("op", "/p", errors.NewError(tt.code, "x")))
		})
	}
	assert.Equal(t, syscall.Errno(0), fsys.errno("op", "/p", nil))
}

func TestFillAttr(t *testing.T) {
	t.Parallel()
	fsys := NewFileSystem(newMemTarget(), Config{UID: 1001, GID: 1002, ReadOnly: true}, nil)
	mtime := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	var file fuse.Attr
	fsys.fillAttr(&types.FileInfo{Size: 1025, ModTime: mtime}, &file)
	assert.Equal(t, uint32(fuse.S_IFREG|0444), file.Mode)
	assert.Equal(t, uint64(1025), file.Size)
	assert.Equal(t, uint64(3), file.Blocks)
	assert.Equal(t, uint32(1001), file.Uid)
	assert.Equal(t, uint32(1002), file.Gid)
	assert.Equal(t, uint64(mtime.Unix()), file.Mtime)

	var dir fuse.Attr
	fsys.fillAttr(&types.FileInfo{IsDir: true, ModTime: mtime}, &dir)
	assert.Equal(t, uint32(fuse.S_IFDIR|0555), dir.Mode)
}

func TestResize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("ab"), resize([]byte("abcd"), 2))
	assert.Equal(t, []byte("ab\x00\x00"), resize([]byte("ab"), 4))

	buf := make([]byte, 2, 8)
	copy(buf, "xy")
	full := buf[:8]
	full[5] = 'z'
	assert.Equal(t, []byte("xy\x00\x00\x00\x00"), resize(buf, 6))
}

func TestIsMounted(t *testing.T) {
	t.Parallel()
	table := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(table, []byte(
		"proc /proc proc rw 0 0\nnamedfs /mnt/prod fuse.namedfs rw 0 0\n"), 0o644))

	assert.True(t, isMounted(table, "/mnt/prod/"))
	assert.False(t, isMounted(table, "/mnt/pro"))
	assert.False(t, isMounted(filepath.Join(t.TempDir(), "missing"), "/mnt/prod"))
}

func TestMountRejectsBadMountPoint(t *testing.T) {
	t.Parallel()
	fsys := NewFileSystem(newMemTarget(), Config{}, nil)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	for _, mp := range []string{"", filepath.Join(t.TempDir(), "missing"), file} {
		mm := NewMountManager(fsys, mp, DefaultMountOptions(), nil)
		err := mm.Mount(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid mount point")
		assert.False(t, mm.IsMounted())
	}
}
