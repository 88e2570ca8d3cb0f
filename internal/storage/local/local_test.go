package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namedfs/namedfs/pkg/errors"
	"github.com/namedfs/namedfs/pkg/types"
)

func newFS(t *testing.T) (*FileSystem, string) {
	t.Helper()
	root := t.TempDir()
	return New(root), root
}

func writeFile(t *testing.T, f *FileSystem, p, content string, overwrite bool) {
	t.Helper()
	w, err := f.Create(context.Background(), p, overwrite)
	require.NoError(t, err)
	_, err = io.WriteString(w, content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestConnectRoot(t *testing.T) {
	t.Parallel()
	base := t.TempDir()
	c := NewConnector(base, nil)

	fsys, err := c.Connect(context.Background(), types.NamedCluster{Host: "node1", Port: 8020}, "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "node1_8020"), fsys.(*FileSystem).Root())

	pinned := t.TempDir()
	fsys, err = c.Connect(context.Background(), types.NamedCluster{
		Host:       "node1",
		Properties: map[string]string{"root": pinned},
	}, "")
	require.NoError(t, err)
	assert.Equal(t, pinned, fsys.(*FileSystem).Root())

	_, err = NewConnector("", nil).Connect(context.Background(), types.NamedCluster{Host: "node1"}, "")
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidConfig))
}

func TestCreateReadStat(t *testing.T) {
	t.Parallel()
	f, _ := newFS(t)
	ctx := context.Background()

	writeFile(t, f, "/data/in.csv", "a,b,c\n1,2,3\n", false)

	info, err := f.Stat(ctx, "/data/in.csv")
	require.NoError(t, err)
	assert.Equal(t, "in.csv", info.Name)
	assert.Equal(t, "/data/in.csv", info.Path)
	assert.Equal(t, int64(12), info.Size)
	assert.False(t, info.IsDir)

	dir, err := f.Stat(ctx, "/data")
	require.NoError(t, err)
	assert.True(t, dir.IsDir)

	r, err := f.Open(ctx, "/data/in.csv")
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, int64(12), r.Size())

	buf := make([]byte, 5)
	n, err := r.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "1,2,3", string(buf[:n]))

	all, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n1,2,3\n", string(all))
}

func TestCreateOverwrite(t *testing.T) {
	t.Parallel()
	f, _ := newFS(t)
	ctx := context.Background()

	writeFile(t, f, "/x.txt", "first", false)

	_, err := f.Create(ctx, "/x.txt", false)
	assert.ErrorIs(t, err, fs.ErrExist)

	writeFile(t, f, "/x.txt", "2nd", true)
	info, err := f.Stat(ctx, "/x.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size)
}

func TestReadDir(t *testing.T) {
	t.Parallel()
	f, _ := newFS(t)
	ctx := context.Background()

	writeFile(t, f, "/d/a", "1", false)
	writeFile(t, f, "/d/b", "22", false)
	require.NoError(t, f.Mkdir(ctx, "/d/sub"))

	entries, err := f.ReadDir(ctx, "/d")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Path)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"/d/a", "/d/b", "/d/sub"}, names)

	_, err = f.ReadDir(ctx, "/missing")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestRemoveRenameModTime(t *testing.T) {
	t.Parallel()
	f, root := newFS(t)
	ctx := context.Background()

	writeFile(t, f, "/a/file", "x", false)
	require.NoError(t, f.Rename(ctx, "/a/file", "/b/moved"))
	_, err := os.Stat(filepath.Join(root, "b", "moved"))
	require.NoError(t, err)
	_, err = f.Stat(ctx, "/a/file")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	mtime := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, f.SetModTime(ctx, "/b/moved", mtime))
	info, err := f.Stat(ctx, "/b/moved")
	require.NoError(t, err)
	assert.True(t, info.ModTime.Equal(mtime))

	require.NoError(t, f.Remove(ctx, "/b"))
	assert.ErrorIs(t, f.Remove(ctx, "/b"), fs.ErrNotExist)
	assert.ErrorIs(t, f.Rename(ctx, "/nope", "/x"), fs.ErrNotExist)
	assert.Error(t, f.Remove(ctx, "/"))
}

func TestEscapeAndClose(t *testing.T) {
	t.Parallel()
	f, _ := newFS(t)
	ctx := context.Background()

	_, err := f.Stat(ctx, "/../etc/passwd")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	require.NoError(t, f.Close())
	_, err = f.Stat(ctx, "/")
	assert.ErrorIs(t, err, fs.ErrClosed)
}
