package types

import (
	"context"
	"io"
	"time"
)

// FileSystem is the contract every backend family implements. Paths are
// absolute and slash-separated. Missing paths must yield an error satisfying
// errors.Is(err, fs.ErrNotExist) and existing ones fs.ErrExist.
type FileSystem interface {
	Stat(ctx context.Context, path string) (*FileInfo, error)
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)
	Open(ctx context.Context, path string) (RandomAccessReader, error)
	Create(ctx context.Context, path string, overwrite bool) (io.WriteCloser, error)
	Mkdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	Rename(ctx context.Context, from, to string) error
	SetModTime(ctx context.Context, path string, mtime time.Time) error

	// Close releases the backend connection.
	Close() error
}

// RandomAccessReader reads file content sequentially or at arbitrary offsets.
type RandomAccessReader interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// MetricsRecorder receives namedfs events. A nil recorder is valid wherever
// one is accepted.
type MetricsRecorder interface {
	RecordOpen(scheme string, success bool)
	RecordResolution(outcome string)
	RecordConnect(family string, duration time.Duration, success bool)
	SetActiveConnections(n int)
	RecordDiscovery(success bool)
}
