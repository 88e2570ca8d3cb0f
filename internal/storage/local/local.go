// Package local serves a directory tree as a backend filesystem. It backs
// development setups and tests.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Family is the backend family name this package registers under.
const Family = "local"

// Connector opens local filesystems. The directory comes from the cluster's
// "root" property, else from DefaultRoot joined with the cluster key.
type Connector struct {
	DefaultRoot string
	Logger      *slog.Logger
}

// NewConnector returns a connector rooted at defaultRoot.
func NewConnector(defaultRoot string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Connector{DefaultRoot: defaultRoot, Logger: logger.With("component", "local")}
}

var keyReplacer = strings.NewReplacer(":", "_", "/", "_", "\\", "_")

// Connect implements connection.Connector.
func (c *Connector) Connect(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root := cluster.Property("root", "")
	if root == "" && c.DefaultRoot != "" {
		root = filepath.Join(c.DefaultRoot, keyReplacer.Replace(cluster.Key()))
	}
	if root == "" {
		return nil, errors.NewError(errors.ErrCodeInvalidConfig, "no root directory for local cluster").
			WithComponent("local").
			WithContext("cluster", cluster.Key())
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create root %s: %w", root, err)
	}

	c.Logger.Debug("Local filesystem opened", "cluster", cluster.Key(), "root", root)
	return &FileSystem{root: root}, nil
}

// FileSystem is a types.FileSystem over a local directory.
type FileSystem struct {
	root   string
	closed atomic.Bool
}

// New returns a filesystem rooted at root. The directory must exist.
func New(root string) *FileSystem {
	return &FileSystem{root: root}
}

// Root returns the backing directory.
func (f *FileSystem) Root() string { return f.root }

func (f *FileSystem) resolve(p string) (string, string, error) {
	if f.closed.Load() {
		return "", "", fs.ErrClosed
	}
	clean, err := utils.CleanSlashPath(p)
	if err != nil {
		return "", "", &fs.PathError{Op: "resolve", Path: p, Err: fs.ErrInvalid}
	}
	full, err := utils.SecureJoin(f.root, clean)
	if err != nil {
		return "", "", &fs.PathError{Op: "resolve", Path: p, Err: fs.ErrInvalid}
	}
	return clean, full, nil
}

func toFileInfo(p string, fi fs.FileInfo) types.FileInfo {
	name := path.Base(p)
	if p == "/" {
		name = ""
	}
	return types.FileInfo{
		Name:    name,
		Path:    p,
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		IsDir:   fi.IsDir(),
	}
}

func (f *FileSystem) Stat(ctx context.Context, p string) (*types.FileInfo, error) {
	clean, full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		return nil, err
	}
	info := toFileInfo(clean, fi)
	return &info, nil
}

func (f *FileSystem) ReadDir(ctx context.Context, p string) ([]types.FileInfo, error) {
	clean, full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return nil, err
	}
	out := make([]types.FileInfo, 0, len(entries))
	for _, e := range entries {
		fi, err := e.Info()
		if err != nil {
			// removed between listing and stat
			continue
		}
		out = append(out, toFileInfo(path.Join(clean, e.Name()), fi))
	}
	return out, nil
}

type file struct {
	*os.File
	size int64
}

func (r *file) Size() int64 { return r.size }

func (f *FileSystem) Open(ctx context.Context, p string) (types.RandomAccessReader, error) {
	_, full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	fi, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, err
	}
	if fi.IsDir() {
		fh.Close()
		return nil, &fs.PathError{Op: "open", Path: p, Err: fmt.Errorf("is a directory")}
	}
	return &file{File: fh, size: fi.Size()}, nil
}

func (f *FileSystem) Create(ctx context.Context, p string, overwrite bool) (io.WriteCloser, error) {
	_, full, err := f.resolve(p)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return nil, err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	return os.OpenFile(full, flags, 0o644)
}

func (f *FileSystem) Mkdir(ctx context.Context, p string) error {
	_, full, err := f.resolve(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(full, 0o755)
}

// Remove deletes a file or a folder with its content.
func (f *FileSystem) Remove(ctx context.Context, p string) error {
	clean, full, err := f.resolve(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrPermission}
	}
	if _, err := os.Lstat(full); err != nil {
		return err
	}
	return os.RemoveAll(full)
}

func (f *FileSystem) Rename(ctx context.Context, from, to string) error {
	_, src, err := f.resolve(from)
	if err != nil {
		return err
	}
	_, dst, err := f.resolve(to)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(src); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.Rename(src, dst)
}

func (f *FileSystem) SetModTime(ctx context.Context, p string, mtime time.Time) error {
	_, full, err := f.resolve(p)
	if err != nil {
		return err
	}
	return os.Chtimes(full, mtime, mtime)
}

// Close marks the filesystem closed. Later calls fail with fs.ErrClosed.
func (f *FileSystem) Close() error {
	f.closed.Store(true)
	return nil
}
