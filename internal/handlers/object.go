package handlers

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/storage"
	"github.com/balchua/beggar/internal/xmlutil"
)

// ObjectHandler contains handlers for S3 object-level operations.
type ObjectHandler struct {
	store *storage.Backend
}

// NewObjectHandler creates a new ObjectHandler over the given backend.
func NewObjectHandler(store *storage.Backend) *ObjectHandler {
	return &ObjectHandler{store: store}
}

// PutObject handles PUT /{bucket}/{object}: stream the body through the
// atomic write pipeline and commit the catalog row. The response echoes the
// ETag and any validated checksums.
func (h *ObjectHandler) PutObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	if key == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}
	if len(key) > 1024 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrKeyTooLongError)
		return
	}

	result, err := h.store.PutObject(ctx, &storage.PutObjectInput{
		Bucket:         bucket,
		Key:            key,
		Body:           r.Body,
		ContentLength:  r.ContentLength,
		Metadata:       extractUserMetadata(r),
		ChecksumCRC32:  optionalHeader(r, "x-amz-checksum-crc32"),
		ChecksumCRC32C: optionalHeader(r, "x-amz-checksum-crc32c"),
		ChecksumSHA1:   optionalHeader(r, "x-amz-checksum-sha1"),
		ChecksumSHA256: optionalHeader(r, "x-amz-checksum-sha256"),
	})
	if err != nil {
		writeBackendError(w, r, "PutObject", err)
		return
	}

	w.Header().Set("ETag", result.ETag)
	setChecksumHeaders(w, result.Checksum.CRC32, result.Checksum.CRC32C, result.Checksum.SHA1, result.Checksum.SHA256)
	w.WriteHeader(http.StatusOK)
}

// GetObject handles GET /{bucket}/{object} with optional Range support.
func (h *ObjectHandler) GetObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	result, err := h.store.GetObject(ctx, bucket, key, r.Header.Get("Range"))
	if err != nil {
		writeBackendError(w, r, "GetObject", err)
		return
	}
	defer result.Body.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	w.Header().Set("ETag", result.ETag)
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(result.LastModified))
	w.Header().Set("Accept-Ranges", "bytes")
	setUserMetadataHeaders(w, result.Metadata)
	setChecksumHeaders(w, result.Checksum.CRC32, result.Checksum.CRC32C, result.Checksum.SHA1, result.Checksum.SHA256)

	if result.ContentRange != nil {
		w.Header().Set("Content-Range", *result.ContentRange)
		w.WriteHeader(http.StatusPartialContent)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	io.Copy(w, result.Body)
}

// HeadObject handles HEAD /{bucket}/{object}: metadata only, no body.
func (h *ObjectHandler) HeadObject(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	result, err := h.store.HeadObject(ctx, bucket, key)
	if err != nil {
		w.WriteHeader(statusForError("HeadObject", err))
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(result.ContentLength, 10))
	w.Header().Set("ETag", result.ETag)
	w.Header().Set("Last-Modified", xmlutil.FormatTimeHTTP(result.LastModified))
	setUserMetadataHeaders(w, result.Metadata)
	w.WriteHeader(http.StatusOK)
}

// ListObjectsV2 handles GET /{bucket}?list-type=2. Delimiter and
// EncodingType are echoed without grouping, and MaxKeys reports the
// returned key count.
func (h *ObjectHandler) ListObjectsV2(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	q := r.URL.Query()
	prefix := q.Get("prefix")

	objects, err := h.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		writeBackendError(w, r, "ListObjectsV2", err)
		return
	}

	result := &xmlutil.ListBucketV2Result{
		Name:         bucket,
		Prefix:       prefix,
		KeyCount:     len(objects),
		MaxKeys:      len(objects),
		Delimiter:    q.Get("delimiter"),
		EncodingType: q.Get("encoding-type"),
	}
	for _, obj := range objects {
		result.Contents = append(result.Contents, xmlutil.Object{
			Key:          obj.Key,
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
		})
	}
	xmlutil.RenderListObjectsV2(w, result)
}

// ListObjects handles GET /{bucket} with the V1 listing format by remapping
// the V2 result fields.
func (h *ObjectHandler) ListObjects(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	q := r.URL.Query()
	prefix := q.Get("prefix")

	objects, err := h.store.ListObjects(ctx, bucket, prefix)
	if err != nil {
		writeBackendError(w, r, "ListObjects", err)
		return
	}

	result := &xmlutil.ListBucketResult{
		Name:         bucket,
		Prefix:       prefix,
		MaxKeys:      len(objects),
		Delimiter:    q.Get("delimiter"),
		EncodingType: q.Get("encoding-type"),
	}
	for _, obj := range objects {
		result.Contents = append(result.Contents, xmlutil.Object{
			Key:          obj.Key,
			LastModified: xmlutil.FormatTimeS3(obj.LastModified),
			ETag:         obj.ETag,
			Size:         obj.Size,
		})
	}
	xmlutil.RenderListObjects(w, result)
}

// setUserMetadataHeaders emits user metadata as x-amz-meta-* headers.
func setUserMetadataHeaders(w http.ResponseWriter, metadata map[string]string) {
	for key, value := range metadata {
		w.Header().Set("x-amz-meta-"+strings.ToLower(key), value)
	}
}

// setChecksumHeaders emits the stored checksum values as x-amz-checksum-*
// headers; absent algorithms produce no header.
func setChecksumHeaders(w http.ResponseWriter, crc32, crc32c, sha1, sha256 *string) {
	if crc32 != nil {
		w.Header().Set("x-amz-checksum-crc32", *crc32)
	}
	if crc32c != nil {
		w.Header().Set("x-amz-checksum-crc32c", *crc32c)
	}
	if sha1 != nil {
		w.Header().Set("x-amz-checksum-sha1", *sha1)
	}
	if sha256 != nil {
		w.Header().Set("x-amz-checksum-sha256", *sha256)
	}
}
