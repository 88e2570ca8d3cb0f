package fuse

import (
	"context"
	"io"
	"log/slog"
	"path"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Target is the filesystem a mount exposes. *vfs.FileSystem satisfies it.
type Target interface {
	Stat(ctx context.Context, p string) (*types.FileInfo, error)
	List(ctx context.Context, p string) ([]types.FileInfo, error)
	OpenRandomAccess(ctx context.Context, p string) (types.RandomAccessReader, error)
	Create(ctx context.Context, p string, overwrite bool) (io.WriteCloser, error)
	CreateFolder(ctx context.Context, p string) error
	Delete(ctx context.Context, p string) error
	Rename(ctx context.Context, from, to string) error
	SetLastModified(ctx context.Context, p string, mtime time.Time) error
}

// safeInt64ToUint64 clamps negative values to zero.
func safeInt64ToUint64(i int64) uint64 {
	if i < 0 {
		return 0
	}
	return uint64(i)
}

// safeIntToUint32 clamps i into the uint32 range.
func safeIntToUint32(i int) uint32 {
	if i < 0 {
		return 0
	}
	if i > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(i)
}

// Config represents FUSE filesystem behaviour.
type Config struct {
	ReadOnly bool   `yaml:"read_only"`
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	FileMode uint32 `yaml:"file_mode"`
	DirMode  uint32 `yaml:"dir_mode"`
}

// Stats tracks filesystem operation counts.
type Stats struct {
	Lookups      int64 `json:"lookups"`
	Opens        int64 `json:"opens"`
	Reads        int64 `json:"reads"`
	Writes       int64 `json:"writes"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
	Errors       int64 `json:"errors"`
}

type counters struct {
	lookups, opens, reads, writes atomic.Int64
	bytesRead, bytesWritten       atomic.Int64
	errors                        atomic.Int64
}

// FileSystem bridges a Target into a go-fuse node tree.
type FileSystem struct {
	target Target
	config Config
	logger *slog.Logger
	stats  counters
}

// NewFileSystem creates a FUSE filesystem over target.
func NewFileSystem(target Target, config Config, logger *slog.Logger) *FileSystem {
	if config.FileMode == 0 {
		config.FileMode = 0644
	}
	if config.DirMode == 0 {
		config.DirMode = 0755
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &FileSystem{
		target: target,
		config: config,
		logger: logger.With("component", "fuse"),
	}
}

// Root returns the root inode.
func (f *FileSystem) Root() fs.InodeEmbedder {
	return &dirNode{fsys: f}
}

// GetStats returns a snapshot of the operation counters.
func (f *FileSystem) GetStats() Stats {
	return Stats{
		Lookups:      f.stats.lookups.Load(),
		Opens:        f.stats.opens.Load(),
		Reads:        f.stats.reads.Load(),
		Writes:       f.stats.writes.Load(),
		BytesRead:    f.stats.bytesRead.Load(),
		BytesWritten: f.stats.bytesWritten.Load(),
		Errors:       f.stats.errors.Load(),
	}
}

// errno translates namedfs errors to kernel error numbers and logs the
// unexpected ones.
func (f *FileSystem) errno(op, p string, err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeFileNotFound:
		return syscall.ENOENT
	case errors.ErrCodeFileExists:
		return syscall.EEXIST
	case errors.ErrCodeCapabilityUnsupported:
		return syscall.ENOTSUP
	case errors.ErrCodeHandleReleased:
		return syscall.EBADF
	case errors.ErrCodeOperationCanceled:
		return syscall.EINTR
	case errors.ErrCodeMalformedName:
		return syscall.EINVAL
	}
	f.stats.errors.Add(1)
	f.logger.Error("FUSE operation failed", "op", op, "path", p, "error", err)
	return syscall.EIO
}

func (f *FileSystem) fillAttr(info *types.FileInfo, out *fuse.Attr) {
	if info.IsDir {
		out.Mode = fuse.S_IFDIR | f.config.DirMode
	} else {
		out.Mode = fuse.S_IFREG | f.config.FileMode
		out.Size = safeInt64ToUint64(info.Size)
		out.Blocks = (out.Size + 511) / 512
	}
	if f.config.ReadOnly {
		out.Mode &^= 0222
	}
	out.Uid = f.config.UID
	out.Gid = f.config.GID
	mtime := info.ModTime
	out.SetTimes(&mtime, &mtime, &mtime)
}

// nodePath returns the absolute path of an inode within the mount.
func nodePath(n *fs.Inode) string {
	return "/" + n.Path(nil)
}

// dirNode is a folder in the mounted tree.
type dirNode struct {
	fs.Inode
	fsys *FileSystem
}

var (
	_ fs.NodeLookuper  = (*dirNode)(nil)
	_ fs.NodeGetattrer = (*dirNode)(nil)
	_ fs.NodeReaddirer = (*dirNode)(nil)
	_ fs.NodeMkdirer   = (*dirNode)(nil)
	_ fs.NodeCreater   = (*dirNode)(nil)
	_ fs.NodeUnlinker  = (*dirNode)(nil)
	_ fs.NodeRmdirer   = (*dirNode)(nil)
	_ fs.NodeRenamer   = (*dirNode)(nil)
	_ fs.NodeSetattrer = (*dirNode)(nil)
)

func (n *dirNode) child(name string) string {
	return path.Join(nodePath(&n.Inode), name)
}

func (n *dirNode) newChild(ctx context.Context, info *types.FileInfo, out *fuse.EntryOut) *fs.Inode {
	n.fsys.fillAttr(info, &out.Attr)
	if info.IsDir {
		return n.NewInode(ctx, &dirNode{fsys: n.fsys}, fs.StableAttr{Mode: fuse.S_IFDIR})
	}
	return n.NewInode(ctx, &fileNode{fsys: n.fsys}, fs.StableAttr{Mode: fuse.S_IFREG})
}

// Lookup resolves a child by name.
func (n *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.lookups.Add(1)
	p := n.child(name)
	info, err := n.fsys.target.Stat(ctx, p)
	if err != nil {
		return nil, n.fsys.errno("lookup", p, err)
	}
	return n.newChild(ctx, info, out), 0
}

func (n *dirNode) Getattr(ctx context.Context, _ fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	p := nodePath(&n.Inode)
	info, err := n.fsys.target.Stat(ctx, p)
	if err != nil {
		if n.IsRoot() {
			info = &types.FileInfo{Path: "/", IsDir: true, ModTime: time.Now()}
		} else {
			return n.fsys.errno("getattr", p, err)
		}
	}
	n.fsys.fillAttr(info, &out.Attr)
	return 0
}

func (n *dirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	p := nodePath(&n.Inode)
	children, err := n.fsys.target.List(ctx, p)
	if err != nil {
		return nil, n.fsys.errno("readdir", p, err)
	}
	entries := make([]fuse.DirEntry, 0, len(children))
	for _, c := range children {
		mode := uint32(fuse.S_IFREG)
		if c.IsDir {
			mode = fuse.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: c.Name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *dirNode) Mkdir(ctx context.Context, name string, _ uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}
	p := n.child(name)
	if err := n.fsys.target.CreateFolder(ctx, p); err != nil {
		return nil, n.fsys.errno("mkdir", p, err)
	}
	info := &types.FileInfo{Name: name, Path: p, IsDir: true, ModTime: time.Now()}
	return n.newChild(ctx, info, out), 0
}

func (n *dirNode) Create(ctx context.Context, name string, flags uint32, _ uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}
	p := n.child(name)
	overwrite := flags&syscall.O_EXCL == 0

	// Materialize the file now so a concurrent lookup sees it before the
	// first flush.
	w, err := n.fsys.target.Create(ctx, p, overwrite)
	if err == nil {
		err = w.Close()
	}
	if err != nil {
		return nil, nil, 0, n.fsys.errno("create", p, err)
	}

	n.fsys.stats.opens.Add(1)
	info := &types.FileInfo{Name: name, Path: p, ModTime: time.Now()}
	node := n.newChild(ctx, info, out)
	return node, newWriteHandle(n.fsys, p, nil), fuse.FOPEN_DIRECT_IO, 0
}

func (n *dirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	p := n.child(name)
	return n.fsys.errno("unlink", p, n.fsys.target.Delete(ctx, p))
}

// Rmdir removes an empty folder. Backends delete recursively, so emptiness
// is checked here.
func (n *dirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	p := n.child(name)
	children, err := n.fsys.target.List(ctx, p)
	if err != nil {
		return n.fsys.errno("rmdir", p, err)
	}
	if len(children) > 0 {
		return syscall.ENOTEMPTY
	}
	return n.fsys.errno("rmdir", p, n.fsys.target.Delete(ctx, p))
}

func (n *dirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if flags != 0 {
		return syscall.ENOTSUP
	}
	from := n.child(name)
	to := path.Join(nodePath(newParent.EmbeddedInode()), newName)
	return n.fsys.errno("rename", from, n.fsys.target.Rename(ctx, from, to))
}

func (n *dirNode) Setattr(ctx context.Context, _ fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := nodePath(&n.Inode)
	if mtime, ok := in.GetMTime(); ok && !n.fsys.config.ReadOnly {
		if err := n.fsys.target.SetLastModified(ctx, p, mtime); err != nil {
			return n.fsys.errno("setattr", p, err)
		}
	}
	return n.Getattr(ctx, nil, out)
}

// fileNode is a regular file in the mounted tree.
type fileNode struct {
	fs.Inode
	fsys *FileSystem
}

var (
	_ fs.NodeOpener    = (*fileNode)(nil)
	_ fs.NodeGetattrer = (*fileNode)(nil)
	_ fs.NodeSetattrer = (*fileNode)(nil)
)

func (f *fileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	f.fsys.stats.opens.Add(1)
	p := nodePath(&f.Inode)

	writable := flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0
	if !writable {
		r, err := f.fsys.target.OpenRandomAccess(ctx, p)
		if err != nil {
			return nil, 0, f.fsys.errno("open", p, err)
		}
		return &readHandle{fsys: f.fsys, path: p, r: r}, 0, 0
	}

	if f.fsys.config.ReadOnly {
		return nil, 0, syscall.EROFS
	}

	// Writes are buffered whole and uploaded on flush, so an open without
	// O_TRUNC starts from the current content.
	var initial []byte
	if flags&syscall.O_TRUNC == 0 {
		data, err := readAll(ctx, f.fsys.target, p)
		if err != nil {
			return nil, 0, f.fsys.errno("open", p, err)
		}
		initial = data
	}
	h := newWriteHandle(f.fsys, p, initial)
	if flags&syscall.O_TRUNC != 0 {
		h.dirty = true
	}
	return h, fuse.FOPEN_DIRECT_IO, 0
}

func (f *fileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*writeHandle); ok {
		h.fillAttr(&out.Attr)
		return 0
	}
	p := nodePath(&f.Inode)
	info, err := f.fsys.target.Stat(ctx, p)
	if err != nil {
		return f.fsys.errno("getattr", p, err)
	}
	f.fsys.fillAttr(info, &out.Attr)
	return 0
}

func (f *fileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	p := nodePath(&f.Inode)
	if f.fsys.config.ReadOnly {
		return syscall.EROFS
	}

	if size, ok := in.GetSize(); ok {
		if h, isWrite := fh.(*writeHandle); isWrite {
			h.truncate(int64(size))
		} else if errno := f.truncate(ctx, p, int64(size)); errno != 0 {
			return errno
		}
	}

	if mtime, ok := in.GetMTime(); ok {
		if h, isWrite := fh.(*writeHandle); isWrite {
			h.setMTime(mtime)
		} else if err := f.fsys.target.SetLastModified(ctx, p, mtime); err != nil {
			return f.fsys.errno("setattr", p, err)
		}
	}
	return f.Getattr(ctx, fh, out)
}

// truncate rewrites the file at p to size bytes.
func (f *fileNode) truncate(ctx context.Context, p string, size int64) syscall.Errno {
	var data []byte
	if size > 0 {
		current, err := readAll(ctx, f.fsys.target, p)
		if err != nil {
			return f.fsys.errno("truncate", p, err)
		}
		data = resize(current, size)
	}
	if err := upload(ctx, f.fsys.target, p, data); err != nil {
		return f.fsys.errno("truncate", p, err)
	}
	return 0
}
