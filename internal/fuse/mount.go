package fuse

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/namedfs/namedfs/pkg/utils"
)

// MountOptions contains FUSE mount options.
type MountOptions struct {
	AllowOther   bool          `yaml:"allow_other"`
	Debug        bool          `yaml:"debug"`
	FSName       string        `yaml:"fsname"`
	Subtype      string        `yaml:"subtype"`
	MaxWrite     int           `yaml:"max_write"`
	AttrTimeout  time.Duration `yaml:"attr_timeout"`
	EntryTimeout time.Duration `yaml:"entry_timeout"`
}

// DefaultMountOptions returns options suited to a remote cluster mount.
func DefaultMountOptions() MountOptions {
	return MountOptions{
		FSName:       "namedfs",
		MaxWrite:     128 * 1024,
		AttrTimeout:  time.Second,
		EntryTimeout: time.Second,
	}
}

// MountManager manages one FUSE mount.
type MountManager struct {
	filesystem *FileSystem
	mountPoint string
	options    MountOptions
	logger     *slog.Logger

	mu      sync.Mutex
	server  *fuse.Server
	mounted bool
}

// NewMountManager creates a mount manager for filesystem at mountPoint.
func NewMountManager(filesystem *FileSystem, mountPoint string, options MountOptions, logger *slog.Logger) *MountManager {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &MountManager{
		filesystem: filesystem,
		mountPoint: mountPoint,
		options:    options,
		logger:     logger.With("component", "fuse", "mount_point", mountPoint),
	}
}

// Mount mounts the filesystem and serves it in the background. The mount is
// torn down when ctx is canceled.
func (m *MountManager) Mount(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mounted {
		return fmt.Errorf("filesystem is already mounted at %s", m.mountPoint)
	}
	if err := m.validateMountPoint(); err != nil {
		return fmt.Errorf("invalid mount point: %w", err)
	}

	server, err := fs.Mount(m.mountPoint, m.filesystem.Root(), m.buildFUSEOptions())
	if err != nil {
		return fmt.Errorf("failed to mount filesystem: %w", err)
	}
	m.server = server
	m.mounted = true
	m.logger.Info("Filesystem mounted")

	go func() {
		server.Wait()
		m.mu.Lock()
		if m.server == server {
			m.mounted = false
			m.server = nil
		}
		m.mu.Unlock()
		m.logger.Info("FUSE server stopped")
	}()

	go func() {
		<-ctx.Done()
		if m.IsMounted() {
			if err := m.Unmount(); err != nil {
				m.logger.Warn("Unmount on shutdown failed", "error", err)
			}
		}
	}()

	return nil
}

// Unmount unmounts the filesystem, falling back to a lazy unmount.
func (m *MountManager) Unmount() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.mounted || m.server == nil {
		return fmt.Errorf("filesystem is not mounted")
	}

	if err := m.server.Unmount(); err != nil {
		m.logger.Warn("Normal unmount failed, trying lazy unmount", "error", err)
		// 2 is MNT_DETACH.
		if forceErr := syscall.Unmount(m.mountPoint, 2); forceErr != nil {
			return fmt.Errorf("unmount failed: %w (lazy unmount also failed: %v)", err, forceErr)
		}
	}

	m.mounted = false
	m.server = nil
	m.logger.Info("Filesystem unmounted")
	return nil
}

// IsMounted reports whether the filesystem is currently mounted.
func (m *MountManager) IsMounted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mounted
}

// MountPoint returns the mount directory.
func (m *MountManager) MountPoint() string {
	return m.mountPoint
}

// Wait blocks until the FUSE server exits.
func (m *MountManager) Wait() {
	m.mu.Lock()
	server := m.server
	m.mu.Unlock()
	if server != nil {
		server.Wait()
	}
}

// GetStats returns filesystem statistics.
func (m *MountManager) GetStats() Stats {
	return m.filesystem.GetStats()
}

func (m *MountManager) validateMountPoint() error {
	if m.mountPoint == "" {
		return fmt.Errorf("mount point cannot be empty")
	}

	info, err := os.Stat(m.mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("mount point does not exist: %s", m.mountPoint)
		}
		return fmt.Errorf("cannot access mount point: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("mount point is not a directory: %s", m.mountPoint)
	}

	entries, err := os.ReadDir(m.mountPoint)
	if err != nil {
		return fmt.Errorf("cannot read mount point directory: %w", err)
	}
	if len(entries) > 0 {
		m.logger.Warn("Mount point is not empty")
	}

	if isMounted("/proc/mounts", m.mountPoint) {
		return fmt.Errorf("mount point %s is already mounted", m.mountPoint)
	}
	return nil
}

func (m *MountManager) buildFUSEOptions() *fs.Options {
	attrTimeout := m.options.AttrTimeout
	entryTimeout := m.options.EntryTimeout

	opts := &fs.Options{
		MountOptions: fuse.MountOptions{
			Name:       m.options.FSName,
			FsName:     m.options.FSName,
			Debug:      m.options.Debug,
			AllowOther: m.options.AllowOther,
			MaxWrite:   m.options.MaxWrite,
		},
		AttrTimeout:  &attrTimeout,
		EntryTimeout: &entryTimeout,
		UID:          m.filesystem.config.UID,
		GID:          m.filesystem.config.GID,
	}
	if m.filesystem.config.ReadOnly {
		opts.Options = append(opts.Options, "ro")
	}
	if m.options.Subtype != "" {
		opts.Options = append(opts.Options, "subtype="+m.options.Subtype)
	}
	return opts
}

// isMounted scans a mounts table for mountPoint.
func isMounted(table, mountPoint string) bool {
	data, err := os.ReadFile(table)
	if err != nil {
		return false
	}
	want := filepath.Clean(mountPoint)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == want {
			return true
		}
	}
	return false
}
