package vfs

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"sort"
	"sync/atomic"
	"time"

	"github.com/namedfs/namedfs/internal/vfsname"
	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

// Handle is a reference to a backend connection. *connection.Handle
// implements it.
type Handle interface {
	FileSystem() types.FileSystem
	Cluster() types.NamedCluster
	Release() error
}

// FileSystem is the capability-checked view a caller gets for one cluster.
// Every call is routed to the backend through the handle until Release.
type FileSystem struct {
	root     vfsname.Name
	target   vfsname.Name
	handle   Handle
	caps     types.CapabilitySet
	released atomic.Bool
}

// NewFileSystem wraps handle. target is the name that was opened; any secret
// in its authority is dropped.
func NewFileSystem(target vfsname.Name, handle Handle, caps types.CapabilitySet) *FileSystem {
	target.User.Secret = ""
	target.User.HasSecret = false
	return &FileSystem{
		root:   target.Root(),
		target: target,
		handle: handle,
		caps:   caps,
	}
}

// Root returns the name of the filesystem root.
func (f *FileSystem) Root() vfsname.Name { return f.root }

// Target returns the name the filesystem was opened for.
func (f *FileSystem) Target() vfsname.Name { return f.target }

// Capabilities returns the declared capability set.
func (f *FileSystem) Capabilities() types.CapabilitySet { return f.caps }

// Cluster returns a copy of the cluster behind the filesystem.
func (f *FileSystem) Cluster() types.NamedCluster { return f.handle.Cluster() }

// Released reports whether Release was called.
func (f *FileSystem) Released() bool { return f.released.Load() }

// Release gives the connection back. Later calls on f fail with
// HANDLE_RELEASED.
func (f *FileSystem) Release() error {
	if !f.released.CompareAndSwap(false, true) {
		return f.opError(errors.ErrCodeHandleReleased, "Release", "", "filesystem already released", nil)
	}
	if err := f.handle.Release(); err != nil {
		return f.opError(errors.ErrCodeOperationFailed, "Release", "", "release failed", err)
	}
	return nil
}

// begin checks the handle and capability for op and resolves p.
func (f *FileSystem) begin(op string, c types.Capability, p string) (types.FileSystem, string, error) {
	if f.released.Load() {
		return nil, "", f.opError(errors.ErrCodeHandleReleased, op, p, "filesystem already released", nil)
	}
	if !f.caps.Has(c) {
		return nil, "", f.opError(errors.ErrCodeCapabilityUnsupported, op, p, "capability "+string(c)+" not supported", nil).
			WithContext("capability", string(c))
	}
	name, err := f.root.Child(p)
	if err != nil {
		return nil, "", err
	}
	return f.handle.FileSystem(), name.Path, nil
}

func (f *FileSystem) opError(code errors.ErrorCode, op, p, msg string, cause error) *errors.FileSystemError {
	err := errors.NewError(code, msg).
		WithComponent("vfs").
		WithOperation(op).
		WithContext("root", f.root.String())
	if p != "" {
		err.WithContext("path", p)
	}
	if cause != nil {
		err.WithCause(cause)
	}
	return err
}

// mapError turns a backend error into FILE_NOT_FOUND, FILE_EXISTS,
// OPERATION_CANCELED or OPERATION_FAILED.
func (f *FileSystem) mapError(op, p string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, fs.ErrNotExist):
		return f.opError(errors.ErrCodeFileNotFound, op, p, "no such file or folder", err)
	case stderrors.Is(err, fs.ErrExist):
		return f.opError(errors.ErrCodeFileExists, op, p, "file already exists", err)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return f.opError(errors.ErrCodeOperationCanceled, op, p, "operation canceled", err)
	default:
		return f.opError(errors.ErrCodeOperationFailed, op, p, op+" failed", err)
	}
}

// Stat describes the file or folder at p.
func (f *FileSystem) Stat(ctx context.Context, p string) (*types.FileInfo, error) {
	backend, clean, err := f.begin("Stat", types.CapGetType, p)
	if err != nil {
		return nil, err
	}
	info, err := backend.Stat(ctx, clean)
	if err != nil {
		return nil, f.mapError("Stat", clean, err)
	}
	return info, nil
}

// Type reports whether p is a file, a folder, or does not exist.
func (f *FileSystem) Type(ctx context.Context, p string) (types.FileType, error) {
	info, err := f.Stat(ctx, p)
	switch {
	case errors.IsCode(err, errors.ErrCodeFileNotFound):
		return types.FileTypeImaginary, nil
	case err != nil:
		return types.FileTypeImaginary, err
	case info.IsDir:
		return types.FileTypeFolder, nil
	default:
		return types.FileTypeFile, nil
	}
}

// List returns the children of the folder at p sorted by name.
func (f *FileSystem) List(ctx context.Context, p string) ([]types.FileInfo, error) {
	backend, clean, err := f.begin("List", types.CapListChildren, p)
	if err != nil {
		return nil, err
	}
	entries, err := backend.ReadDir(ctx, clean)
	if err != nil {
		return nil, f.mapError("List", clean, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Open returns a sequential reader for the file at p.
func (f *FileSystem) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	backend, clean, err := f.begin("Open", types.CapReadContent, p)
	if err != nil {
		return nil, err
	}
	r, err := backend.Open(ctx, clean)
	if err != nil {
		return nil, f.mapError("Open", clean, err)
	}
	return r, nil
}

// OpenRandomAccess returns a reader supporting ReadAt and Seek.
func (f *FileSystem) OpenRandomAccess(ctx context.Context, p string) (types.RandomAccessReader, error) {
	backend, clean, err := f.begin("OpenRandomAccess", types.CapRandomAccess, p)
	if err != nil {
		return nil, err
	}
	r, err := backend.Open(ctx, clean)
	if err != nil {
		return nil, f.mapError("OpenRandomAccess", clean, err)
	}
	return r, nil
}

// Create opens the file at p for writing. Without overwrite an existing
// file fails with FILE_EXISTS.
func (f *FileSystem) Create(ctx context.Context, p string, overwrite bool) (io.WriteCloser, error) {
	backend, clean, err := f.begin("Create", types.CapWriteContent, p)
	if err != nil {
		return nil, err
	}
	w, err := backend.Create(ctx, clean, overwrite)
	if err != nil {
		return nil, f.mapError("Create", clean, err)
	}
	return w, nil
}

// CreateFolder creates the folder at p and any missing parents.
func (f *FileSystem) CreateFolder(ctx context.Context, p string) error {
	backend, clean, err := f.begin("CreateFolder", types.CapCreate, p)
	if err != nil {
		return err
	}
	return f.mapError("CreateFolder", clean, backend.Mkdir(ctx, clean))
}

// Delete removes the file or folder at p.
func (f *FileSystem) Delete(ctx context.Context, p string) error {
	backend, clean, err := f.begin("Delete", types.CapDelete, p)
	if err != nil {
		return err
	}
	return f.mapError("Delete", clean, backend.Remove(ctx, clean))
}

// Rename moves from to to within the same filesystem.
func (f *FileSystem) Rename(ctx context.Context, from, to string) error {
	backend, src, err := f.begin("Rename", types.CapRename, from)
	if err != nil {
		return err
	}
	dst, err := f.root.Child(to)
	if err != nil {
		return err
	}
	return f.mapError("Rename", src, backend.Rename(ctx, src, dst.Path))
}

// LastModified returns the modification time of p.
func (f *FileSystem) LastModified(ctx context.Context, p string) (time.Time, error) {
	backend, clean, err := f.begin("LastModified", types.CapGetLastModified, p)
	if err != nil {
		return time.Time{}, err
	}
	info, err := backend.Stat(ctx, clean)
	if err != nil {
		return time.Time{}, f.mapError("LastModified", clean, err)
	}
	return info.ModTime, nil
}

// SetLastModified sets the modification time of p.
func (f *FileSystem) SetLastModified(ctx context.Context, p string, mtime time.Time) error {
	backend, clean, err := f.begin("SetLastModified", types.CapSetLastModified, p)
	if err != nil {
		return err
	}
	return f.mapError("SetLastModified", clean, backend.SetModTime(ctx, clean, mtime))
}

// URI renders the full name of p.
func (f *FileSystem) URI(p string) (string, error) {
	if _, _, err := f.begin("URI", types.CapURI, p); err != nil {
		return "", err
	}
	name, err := f.root.Child(p)
	if err != nil {
		return "", err
	}
	return name.String(), nil
}
