package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/balchua/beggar/internal/catalog"
	"github.com/balchua/beggar/internal/checksum"
	s3err "github.com/balchua/beggar/internal/errors"
)

// Backend composes the path resolver, the atomic file writer, and the
// catalog. It is the custodian of the join invariant between object rows and
// data files: the catalog is written only after the filesystem commit, so a
// failure at any earlier step leaves the catalog untouched and at most an
// orphan temp file behind.
type Backend struct {
	root       string
	tmpCounter atomic.Uint64
	catalog    catalog.Catalog
}

// New creates a Backend rooted at the given directory, creating the root if
// needed and sweeping temp files left by a previous crash.
func New(root string, cat catalog.Catalog) (*Backend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root %q: %w", abs, err)
	}
	if err := cleanOldTmpFiles(abs); err != nil {
		return nil, err
	}
	return &Backend{root: abs, catalog: cat}, nil
}

// Root returns the absolute storage root directory.
func (b *Backend) Root() string { return b.root }

// objectPath resolves the data file path for (bucket, key) under the root.
func (b *Backend) objectPath(bucket, key string) (string, error) {
	return resolveUnder(b.root, filepath.Join(bucket, key))
}

// bucketPath resolves the directory path for a bucket under the root.
func (b *Backend) bucketPath(bucket string) (string, error) {
	return resolveUnder(b.root, bucket)
}

// partPath resolves the stage file path for one multipart part.
func (b *Backend) partPath(uploadID string, partNumber int) (string, error) {
	return resolveUnder(b.root, fmt.Sprintf(".upload_id-%s.part-%d", uploadID, partNumber))
}

// prepareFileWrite opens an atomic writer destined for path. Temp names come
// from a process-wide counter; collision safety relies on counter monotonicity
// plus the startup sweep.
func (b *Backend) prepareFileWrite(path string) (*FileWriter, error) {
	tmpName := fmt.Sprintf(".tmp.%d.internal.part", b.tmpCounter.Add(1)-1)
	tmpPath, err := resolveUnder(b.root, tmpName)
	if err != nil {
		return nil, err
	}
	file, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	return &FileWriter{tmpPath: tmpPath, destPath: path, file: file}, nil
}

// PutObjectInput carries one object write: the body stream, the user
// metadata, and any client-supplied checksums (nil when absent).
type PutObjectInput struct {
	Bucket         string
	Key            string
	Body           io.Reader
	ContentLength  int64 // -1 when unknown
	Metadata       map[string]string
	ChecksumCRC32  *string
	ChecksumCRC32C *string
	ChecksumSHA1   *string
	ChecksumSHA256 *string
}

// PutObjectResult reports the committed ETag and the echoed checksums.
type PutObjectResult struct {
	ETag     string
	Checksum checksum.Checksum
}

// PutObject runs the single-shot write pipeline: stream the body through the
// MD5 and checksum hashers into an atomic writer, validate the supplied
// checksums, rename into place, then upsert the catalog row. A key ending in
// "/" with an empty body creates the directory and returns an empty ETag
// without writing a catalog row; a non-empty body on such a key fails
// UnexpectedContent before any byte is staged.
func (b *Backend) PutObject(ctx context.Context, in *PutObjectInput) (*PutObjectResult, error) {
	if !ValidateKey(in.Key) {
		slog.Warn("object key failed validation", "key", in.Key)
		return nil, s3err.ErrInvalidRequest
	}

	objectPath, err := b.objectPath(in.Bucket, in.Key)
	if err != nil {
		return nil, s3err.ErrInvalidRequest
	}

	if in.Key[len(in.Key)-1] == '/' {
		if in.ContentLength > 0 {
			return nil, s3err.ErrUnexpectedContent
		}
		if err := os.MkdirAll(objectPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory object: %w", err)
		}
		return &PutObjectResult{}, nil
	}

	writer, err := b.prepareFileWrite(objectPath)
	if err != nil {
		return nil, err
	}
	defer writer.Discard()

	md5Hash := md5.New()
	hasher := checksum.NewHasher(in.ChecksumCRC32, in.ChecksumCRC32C, in.ChecksumSHA1, in.ChecksumSHA256)

	size, err := io.Copy(io.MultiWriter(writer, md5Hash, hasher), in.Body)
	if err != nil {
		return nil, fmt.Errorf("writing object data: %w", err)
	}

	computed := hasher.Finalize()
	if err := checksum.Validate(computed, in.ChecksumCRC32, in.ChecksumCRC32C, in.ChecksumSHA1, in.ChecksumSHA256); err != nil {
		return nil, err
	}

	if err := writer.Done(); err != nil {
		return nil, err
	}

	etag := hex.EncodeToString(md5Hash.Sum(nil))
	slog.Debug("object written", "path", objectPath, "size", size, "etag", etag)

	internalInfo, err := checksum.ToInternalInfo(computed)
	if err != nil {
		return nil, err
	}
	if err := b.catalog.UpsertObject(ctx, &catalog.ObjectDetail{
		Bucket:       in.Bucket,
		Key:          in.Key,
		Metadata:     MetadataToString(in.Metadata),
		InternalInfo: internalInfo,
		ETag:         etag,
		DataLocation: in.Bucket + "/" + in.Key,
	}); err != nil {
		return nil, err
	}

	return &PutObjectResult{ETag: etag, Checksum: computed}, nil
}

// GetObjectResult carries the streamed body and the metadata needed to
// render the response. Body never delivers more than ContentLength bytes and
// must be closed by the caller.
type GetObjectResult struct {
	Body          io.ReadCloser
	ContentLength int64
	ContentRange  *string
	Metadata      map[string]string
	ETag          string
	LastModified  time.Time
	Checksum      checksum.Checksum
}

// GetObject looks up the catalog row, opens the data file, and returns a
// stream over the requested byte range. An absent row or an unopenable file
// is NoSuchKey; an unsatisfiable range is InvalidRange.
func (b *Backend) GetObject(ctx context.Context, bucket, key, rangeHeader string) (*GetObjectResult, error) {
	detail, err := b.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, s3err.ErrNoSuchKey
	}

	objectPath, err := resolveUnder(b.root, detail.DataLocation)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(objectPath)
	if err != nil {
		slog.Error("object file missing for catalog row", "bucket", bucket, "key", key, "error", err)
		return nil, s3err.ErrNoSuchKey
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat object file: %w", err)
	}
	fileLen := info.Size()

	contentLength := fileLen
	var contentRange *string
	if rangeHeader != "" {
		start, end, rangeErr := ParseRange(rangeHeader, fileLen)
		if rangeErr != nil {
			file.Close()
			return nil, s3err.ErrInvalidRange
		}
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			file.Close()
			return nil, fmt.Errorf("seeking object file: %w", err)
		}
		contentLength = end - start + 1
		cr := fmt.Sprintf("bytes %d-%d/%d", start, end, fileLen)
		contentRange = &cr
	}

	return &GetObjectResult{
		Body:          newTruncatingReader(file, contentLength),
		ContentLength: contentLength,
		ContentRange:  contentRange,
		Metadata:      MetadataFromString(detail.Metadata),
		ETag:          detail.ETag,
		LastModified:  detail.LastModified,
		Checksum:      checksum.FromInternalInfo(detail.InternalInfo),
	}, nil
}

// HeadObjectResult carries the metadata returned by HeadObject.
type HeadObjectResult struct {
	ContentLength int64
	Metadata      map[string]string
	ETag          string
	LastModified  time.Time
}

// HeadObject returns object metadata without opening a body stream. A row
// whose data file is missing surfaces NoSuchBucket: the catalog and the disk
// disagree and the mismatch is reported the way the service always has.
func (b *Backend) HeadObject(ctx context.Context, bucket, key string) (*HeadObjectResult, error) {
	detail, err := b.catalog.GetObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if detail == nil {
		return nil, s3err.ErrNoSuchKey
	}

	objectPath, err := resolveUnder(b.root, detail.DataLocation)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(objectPath)
	if err != nil {
		return nil, s3err.ErrNoSuchBucket
	}

	return &HeadObjectResult{
		ContentLength: info.Size(),
		Metadata:      MetadataFromString(detail.Metadata),
		ETag:          detail.ETag,
		LastModified:  detail.LastModified,
	}, nil
}

// BucketExists reports whether the bucket directory exists under the root.
func (b *Backend) BucketExists(bucket string) (bool, error) {
	path, err := b.bucketPath(bucket)
	if err != nil {
		return false, s3err.ErrInvalidRequest
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking bucket %q: %w", bucket, err)
	}
	return info.IsDir(), nil
}

// BucketInfo is one bucket in a ListBuckets result.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// ListBuckets returns the catalog's buckets whose on-disk directory still
// exists, with the directory modification time as the creation date.
func (b *Backend) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	names, err := b.catalog.ListBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var buckets []BucketInfo
	for _, name := range names {
		path, err := resolveUnder(b.root, name)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		buckets = append(buckets, BucketInfo{Name: name, CreatedAt: info.ModTime()})
	}
	return buckets, nil
}

// ObjectSummary is one object in a listing.
type ObjectSummary struct {
	Key          string
	ETag         string
	Size         int64
	LastModified time.Time
}

// ListObjects returns the bucket's objects matching the key prefix, ordered
// by key. Rows whose data file has gone missing are skipped; sizes come from
// the files themselves.
func (b *Backend) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectSummary, error) {
	items, err := b.catalog.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return nil, err
	}

	var objects []ObjectSummary
	for _, item := range items {
		path, err := resolveUnder(b.root, item.DataLocation)
		if err != nil {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		objects = append(objects, ObjectSummary{
			Key:          item.Key,
			ETag:         item.ETag,
			Size:         info.Size(),
			LastModified: item.LastModified,
		})
	}
	return objects, nil
}

// md5OfFile computes the hex MD5 of the file at path by rereading it.
func md5OfFile(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file for checksum: %w", err)
	}
	defer file.Close()

	h := md5.New()
	if _, err := io.Copy(h, file); err != nil {
		return "", fmt.Errorf("hashing file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MetadataToString serializes a user metadata map as the JSON document stored
// in the catalog. A nil map serializes as "{}".
func MetadataToString(metadata map[string]string) string {
	if metadata == nil {
		return "{}"
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// MetadataFromString parses a stored metadata document back into a map. An
// empty or unparseable document yields an empty map.
func MetadataFromString(s string) map[string]string {
	metadata := map[string]string{}
	if s == "" {
		return metadata
	}
	if err := json.Unmarshal([]byte(s), &metadata); err != nil {
		return map[string]string{}
	}
	return metadata
}

// truncatingReader wraps a file so the stream never yields more than n bytes
// even if the underlying file grows or over-reads.
type truncatingReader struct {
	file      *os.File
	remaining int64
}

func newTruncatingReader(file *os.File, n int64) io.ReadCloser {
	return &truncatingReader{file: file, remaining: n}
}

func (r *truncatingReader) Read(p []byte) (int, error) {
	if r.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > r.remaining {
		p = p[:r.remaining]
	}
	n, err := r.file.Read(p)
	r.remaining -= int64(n)
	return n, err
}

func (r *truncatingReader) Close() error {
	return r.file.Close()
}
