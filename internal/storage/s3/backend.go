package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/namedfs/namedfs/internal/config"
	"github.com/namedfs/namedfs/pkg/types"
	"github.com/namedfs/namedfs/pkg/utils"
)

// Family is the backend family name this package registers under.
const Family = "s3"

const mtimeKey = "mtime"

// Connector opens s3 filesystems.
type Connector struct {
	Defaults config.S3Config
	Logger   *slog.Logger
}

// NewConnector returns a connector using defaults for unset cluster
// properties.
func NewConnector(defaults config.S3Config, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Connector{Defaults: defaults, Logger: logger.With("component", "s3")}
}

// Connect implements connection.Connector. The bucket is checked with
// HeadBucket before the filesystem is returned.
func (c *Connector) Connect(ctx context.Context, cluster types.NamedCluster, target string) (types.FileSystem, error) {
	opts, err := OptionsFor(cluster, c.Defaults)
	if err != nil {
		return nil, err
	}
	client, transporter, err := newClient(ctx, opts, c.Logger)
	if err != nil {
		return nil, err
	}

	f := &FileSystem{
		client:      client,
		transporter: transporter,
		bucket:      opts.Bucket,
		class:       storageClasses[opts.StorageClass],
		logger:      c.Logger.With("bucket", opts.Bucket),
	}
	if err := f.HealthCheck(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// FileSystem is a types.FileSystem over one bucket.
type FileSystem struct {
	client      *s3.Client
	transporter *cargoships3.Transporter
	bucket      string
	class       storageClass
	logger      *slog.Logger
	closed      atomic.Bool
}

// HealthCheck verifies the bucket is reachable.
func (f *FileSystem) HealthCheck(ctx context.Context) error {
	_, err := f.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(f.bucket)})
	if err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
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

// objectKey maps a clean path onto its key. The root maps to "".
func objectKey(clean string) string {
	return strings.TrimPrefix(clean, "/")
}

// dirPrefix is the key prefix of everything below a folder.
func dirPrefix(clean string) string {
	if k := objectKey(clean); k != "" {
		return k + "/"
	}
	return ""
}

func copySource(bucket, key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return url.PathEscape(bucket) + "/" + strings.Join(segs, "/")
}

func modTime(meta map[string]string, lastModified *time.Time) time.Time {
	if v, ok := meta[mtimeKey]; ok {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
	}
	return aws.ToTime(lastModified)
}

func baseName(clean string) string {
	if clean == "/" {
		return ""
	}
	return path.Base(clean)
}

func isNotFound(err error) bool {
	return isErrorType[*s3types.NoSuchKey](err) || isErrorType[*s3types.NotFound](err)
}

// isErrorType checks if an error is of a specific type
func isErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

func (f *FileSystem) translateError(err error, op, p string) error {
	switch {
	case isNotFound(err):
		return &fs.PathError{Op: op, Path: p, Err: fs.ErrNotExist}
	case isErrorType[*s3types.NoSuchBucket](err):
		return fmt.Errorf("bucket not found: %s: %w", f.bucket, err)
	default:
		return fmt.Errorf("%s failed for %s: %w", op, p, err)
	}
}

func (f *FileSystem) Stat(ctx context.Context, p string) (*types.FileInfo, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	return f.stat(ctx, clean)
}

func (f *FileSystem) stat(ctx context.Context, clean string) (*types.FileInfo, error) {
	if clean == "/" {
		return &types.FileInfo{Path: "/", IsDir: true}, nil
	}

	key := objectKey(clean)
	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return &types.FileInfo{
			Name:    baseName(clean),
			Path:    clean,
			Size:    aws.ToInt64(head.ContentLength),
			ModTime: modTime(head.Metadata, head.LastModified),
		}, nil
	}
	if !isNotFound(err) {
		return nil, f.translateError(err, "stat", clean)
	}

	// a folder exists when anything lives below it
	out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(f.bucket),
		Prefix:  aws.String(key + "/"),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, f.translateError(err, "stat", clean)
	}
	if len(out.Contents) == 0 && len(out.CommonPrefixes) == 0 {
		return nil, &fs.PathError{Op: "stat", Path: clean, Err: fs.ErrNotExist}
	}
	return &types.FileInfo{Name: baseName(clean), Path: clean, IsDir: true}, nil
}

func (f *FileSystem) ReadDir(ctx context.Context, p string) ([]types.FileInfo, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	prefix := dirPrefix(clean)

	var out []types.FileInfo
	found := clean == "/"
	pager := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(f.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, f.translateError(err, "readdir", clean)
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			out = append(out, types.FileInfo{Name: name, Path: path.Join(clean, name), IsDir: true})
		}
		for _, obj := range page.Contents {
			found = true
			key := aws.ToString(obj.Key)
			if key == prefix {
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			out = append(out, types.FileInfo{
				Name:    name,
				Path:    path.Join(clean, name),
				Size:    aws.ToInt64(obj.Size),
				ModTime: aws.ToTime(obj.LastModified),
			})
		}
		found = found || len(page.CommonPrefixes) > 0
	}

	if !found {
		info, err := f.stat(ctx, clean)
		if err != nil {
			return nil, err
		}
		if !info.IsDir {
			return nil, &fs.PathError{Op: "readdir", Path: clean, Err: fmt.Errorf("not a directory")}
		}
	}
	return out, nil
}

func (f *FileSystem) Open(ctx context.Context, p string) (types.RandomAccessReader, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	info, err := f.stat(ctx, clean)
	if err != nil {
		return nil, err
	}
	if info.IsDir {
		return nil, &fs.PathError{Op: "open", Path: clean, Err: fmt.Errorf("is a directory")}
	}
	return &objectReader{
		ctx:  context.WithoutCancel(ctx),
		fs:   f,
		key:  objectKey(clean),
		size: info.Size,
	}, nil
}

// getRange reads size bytes at offset with a ranged GET.
func (f *FileSystem) getRange(ctx context.Context, key string, offset, size int64) (io.ReadCloser, error) {
	result, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", offset, offset+size-1)),
	})
	if err != nil {
		return nil, f.translateError(err, "read", "/"+key)
	}
	return result.Body, nil
}

func (f *FileSystem) Create(ctx context.Context, p string, overwrite bool) (io.WriteCloser, error) {
	clean, err := f.clean(p)
	if err != nil {
		return nil, err
	}
	if clean == "/" {
		return nil, &fs.PathError{Op: "create", Path: clean, Err: fs.ErrExist}
	}
	if !overwrite {
		_, err := f.stat(ctx, clean)
		if err == nil {
			return nil, &fs.PathError{Op: "create", Path: clean, Err: fs.ErrExist}
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return &objectWriter{ctx: context.WithoutCancel(ctx), fs: f, key: objectKey(clean)}, nil
}

// upload stores data under key, through CargoShip when available.
func (f *FileSystem) upload(ctx context.Context, key string, data []byte, mtime time.Time) error {
	meta := map[string]string{mtimeKey: mtime.UTC().Format(time.RFC3339Nano)}

	if f.transporter != nil {
		result, err := f.transporter.Upload(ctx, cargoships3.Archive{
			Key:          key,
			Reader:       bytes.NewReader(data),
			Size:         int64(len(data)),
			StorageClass: f.class.cargo,
			Metadata:     meta,
		})
		if err == nil {
			f.logger.Debug("CargoShip upload completed",
				"key", key,
				"size", utils.FormatBytes(int64(len(data))),
				"throughput", result.Throughput,
				"duration", result.Duration)
			return nil
		}
		f.logger.Warn("CargoShip upload failed, falling back to PutObject", "key", key, "error", err)
	}

	_, err := f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(key)),
		StorageClass:  f.class.api,
		Metadata:      meta,
	})
	if err != nil {
		return f.translateError(err, "write", "/"+key)
	}
	return nil
}

func (f *FileSystem) Mkdir(ctx context.Context, p string) error {
	clean, err := f.clean(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return nil
	}
	_, err = f.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(f.bucket),
		Key:           aws.String(dirPrefix(clean)),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	if err != nil {
		return f.translateError(err, "mkdir", clean)
	}
	return nil
}

// keysUnder lists every key below prefix.
func (f *FileSystem) keysUnder(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pager := s3.NewListObjectsV2Paginator(f.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(f.bucket),
		Prefix: aws.String(prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	return keys, nil
}

func (f *FileSystem) deleteKey(ctx context.Context, key string) error {
	_, err := f.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (f *FileSystem) copyKey(ctx context.Context, from, to string, meta map[string]string) error {
	in := &s3.CopyObjectInput{
		Bucket:     aws.String(f.bucket),
		Key:        aws.String(to),
		CopySource: aws.String(copySource(f.bucket, from)),
	}
	if meta != nil {
		in.MetadataDirective = s3types.MetadataDirectiveReplace
		in.Metadata = meta
	}
	_, err := f.client.CopyObject(ctx, in)
	return err
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
	info, err := f.stat(ctx, clean)
	if err != nil {
		return err
	}
	if !info.IsDir {
		if err := f.deleteKey(ctx, objectKey(clean)); err != nil {
			return f.translateError(err, "remove", clean)
		}
		return nil
	}

	keys, err := f.keysUnder(ctx, dirPrefix(clean))
	if err != nil {
		return f.translateError(err, "remove", clean)
	}
	for _, key := range keys {
		if err := f.deleteKey(ctx, key); err != nil {
			return f.translateError(err, "remove", "/"+key)
		}
	}
	return nil
}

// Rename copies then deletes. Folders move key by key and are not atomic.
func (f *FileSystem) Rename(ctx context.Context, from, to string) error {
	src, err := f.clean(from)
	if err != nil {
		return err
	}
	dst, err := f.clean(to)
	if err != nil {
		return err
	}
	info, err := f.stat(ctx, src)
	if err != nil {
		return err
	}

	if !info.IsDir {
		if err := f.copyKey(ctx, objectKey(src), objectKey(dst), nil); err != nil {
			return f.translateError(err, "rename", src)
		}
		if err := f.deleteKey(ctx, objectKey(src)); err != nil {
			return f.translateError(err, "rename", src)
		}
		return nil
	}

	srcPrefix, dstPrefix := dirPrefix(src), dirPrefix(dst)
	keys, err := f.keysUnder(ctx, srcPrefix)
	if err != nil {
		return f.translateError(err, "rename", src)
	}
	for _, key := range keys {
		target := dstPrefix + strings.TrimPrefix(key, srcPrefix)
		if err := f.copyKey(ctx, key, target, nil); err != nil {
			return f.translateError(err, "rename", "/"+key)
		}
		if err := f.deleteKey(ctx, key); err != nil {
			return f.translateError(err, "rename", "/"+key)
		}
	}
	return nil
}

// SetModTime rewrites the object's metadata in place. Folders carry no
// modification time and are left untouched.
func (f *FileSystem) SetModTime(ctx context.Context, p string, mtime time.Time) error {
	clean, err := f.clean(p)
	if err != nil {
		return err
	}
	if clean == "/" {
		return nil
	}

	key := objectKey(clean)
	head, err := f.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			if _, serr := f.stat(ctx, clean); serr == nil {
				return nil
			}
		}
		return f.translateError(err, "setmtime", clean)
	}

	meta := make(map[string]string, len(head.Metadata)+1)
	for k, v := range head.Metadata {
		meta[k] = v
	}
	meta[mtimeKey] = mtime.UTC().Format(time.RFC3339Nano)
	if err := f.copyKey(ctx, key, key, meta); err != nil {
		return f.translateError(err, "setmtime", clean)
	}
	return nil
}

// Close marks the filesystem closed. The SDK client holds no resources that
// need releasing.
func (f *FileSystem) Close() error {
	f.closed.Store(true)
	return nil
}

func detectContentType(key string) string {
	switch {
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	case strings.HasSuffix(key, ".csv"):
		return "text/csv"
	case strings.HasSuffix(key, ".xml"):
		return "application/xml"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain"
	case strings.HasSuffix(key, ".parquet"):
		return "application/vnd.apache.parquet"
	default:
		return "application/octet-stream"
	}
}
