// Package hdfs implements the hdfs backend family on top of the HDFS native
// RPC protocol.
package hdfs

import (
	"context"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/user"
	"path"
	"sync/atomic"
	"time"

	"github.com/colinmarc/hdfs/v2"

	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Family is the backend family name this package registers under.
const Family = "hdfs"

// Connector dials a namenode for a cluster.
type Connector struct {
	// DefaultUser is used when neither the cluster credentials nor its
	// "user" property name one.
	DefaultUser string
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// NewConnector returns a connector for the hdfs family.
func NewConnector(defaultUser string, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Connector{
		DefaultUser: defaultUser,
		DialTimeout: 10 * time.Second,
		Logger:      logger.With("component", "hdfs"),
	}
}

func (c *Connector) user(cluster types.NamedCluster) string {
	if cluster.Credentials != nil && cluster.Credentials.Username != "" {
		return cluster.Credentials.Username
	}
	if u := cluster.Property("user", c.DefaultUser); u != "" {
		return u
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

type dialResult struct {
	client *hdfs.Client
	err    error
}

// Connect implements connection.Connector. The client library does not take
// a context, so the dial runs in its own goroutine and a result arriving
// after ctx is done is closed.
func (c *Connector) Connect(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error) {
	dialer := &net.Dialer{Timeout: c.DialTimeout}
	opts := hdfs.ClientOptions{
		Addresses: []string{cluster.Address()},
		User:      c.user(cluster),
		NamenodeDialFunc: func(dctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(dctx, network, addr)
		},
		UseDatanodeHostname: cluster.Property("use_datanode_hostname", "") == "true",
	}

	ch := make(chan dialResult, 1)
	go func() {
		client, err := hdfs.NewClient(opts)
		if err == nil {
			// NewClient is lazy; force the namenode round trip here
			if _, err = client.Stat("/"); err != nil {
				client.Close()
				client = nil
			}
		}
		ch <- dialResult{client, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		c.Logger.Debug("Namenode connected", "address", cluster.Address(), "user", opts.User, "native", cluster.IsNativeClient())
		return &FileSystem{client: res.client}, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.client != nil {
				res.client.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// FileSystem adapts an HDFS client to types.FileSystem.
type FileSystem struct {
	client *hdfs.Client
	closed atomic.Bool
}

func (f *FileSystem) clean(p string) (string, error) {
	if f.closed.Load() {
		return "", fs.ErrClosed
	}
	clean, err := utils.CleanSlashPath(p)
	if err != nil {
		return "", &fs.PathError{Op: "resolve", Path: p, Err: fs.ErrInvalid}
	}
	return clean, nil
}

func toFileInfo(p string, fi os.FileInfo) types.FileInfo {
	name := path.Base(p)
	if p == "/" {
		name = ""
	}
	return types.FileInfo{Name: name, Path: p, Size: fi.Size(), ModTime: fi.ModTime(), IsDir: fi.IsDir()}
}

func (f *FileSystem) Stat(ctx context.Context, p string) (*types.FileInfo, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	fi, err := f.client.Stat(clean)
	if err != nil {
		return nil, err
	}
	info := toFileInfo(clean, fi)
	return &info, nil
}

func (f *FileSystem) ReadDir(ctx context.Context, p string) ([]types.FileInfo, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	entries, err := f.client.ReadDir(clean)
	if err != nil {
		return nil, err
	}
	out := make([]types.FileInfo, 0, len(entries))
	for _, fi := range entries {
		out = append(out, toFileInfo(path.Join(clean, fi.Name()), fi))
	}
	return out, nil
}

type reader struct {
	*hdfs.FileReader
	size int64
}

func (r *reader) Size() int64 { return r.size }

func (f *FileSystem) Open(ctx context.Context, p string) (types.RandomAccessReader, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	fr, err := f.client.Open(clean)
	if err != nil {
		return nil, err
	}
	fi := fr.Stat()
	if fi.IsDir() {
		fr.Close()
		return nil, &fs.PathError{Op: "open", Path: clean, Err: fs.ErrInvalid}
	}
	return &reader{FileReader: fr, size: fi.Size()}, nil
}

func (f *FileSystem) Create(ctx context.Context, p string, overwrite bool) (io.WriteCloser, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	if err := f.client.MkdirAll(path.Dir(clean), 0o755); err != nil {
		return nil, err
	}
	if overwrite {
		if err := f.client.Remove(clean); err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return f.client.Create(clean)
}

func (f *FileSystem) Mkdir(ctx context.Context, p string) error {
	clean, err := f.clean(p)
	if err != nil {
		return err
	}
	return f.client.MkdirAll(clean, 0o755)
}

// Remove deletes a file or a folder with its content.
func (f *FileSystem) Remove(ctx context.Context, p string) error {
	clean, err := f.clean(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return &fs.PathError{Op: "remove", Path: clean, Err: fs.ErrPermission}
	}
	if _, err := f.client.Stat(clean); err != nil {
		return err
	}
	return f.client.RemoveAll(clean)
}

func (f *FileSystem) Rename(ctx context.Context, from, to string) error {
	src, err := f.clean(from)
	if err != nil {
		return err
	}
	dst, err := f.clean(to)
	if err != nil {
		return err
	}
	if err := f.client.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return err
	}
	return f.client.Rename(src, dst)
}

func (f *FileSystem) SetModTime(ctx context.Context, p string, mtime time.Time) error {
	clean, err := f.clean(p)
	if err != nil {
		return err
	}
	return f.client.Chtimes(clean, mtime, mtime)
}

func (f *FileSystem) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	return f.client.Close()
}
