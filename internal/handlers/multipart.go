package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/balchua/beggar/internal/auth"
	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/storage"
	"github.com/balchua/beggar/internal/xmlutil"
)

// MultipartHandler contains handlers for S3 multipart upload operations.
// UploadPart, CompleteMultipartUpload and AbortMultipartUpload re-verify that
// the caller's access key owns the upload; ListParts does not check ownership.
type MultipartHandler struct {
	store *storage.Backend
	// authEnabled gates the credentials-present check on initiation: with a
	// configured credential pair, an anonymous caller cannot start an upload.
	authEnabled bool
}

// NewMultipartHandler creates a new MultipartHandler over the given backend.
func NewMultipartHandler(store *storage.Backend, authEnabled bool) *MultipartHandler {
	return &MultipartHandler{store: store, authEnabled: authEnabled}
}

// CreateMultipartUpload handles POST /{bucket}/{object}?uploads: generates a
// fresh upload ID bound to the caller's access key.
func (h *MultipartHandler) CreateMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	if key == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	accessKey := auth.AccessKeyFromContext(ctx)
	if h.authEnabled && accessKey == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrAccessDenied)
		return
	}

	uploadID, err := h.store.CreateMultipartUpload(ctx, bucket, key, extractUserMetadata(r), accessKey)
	if err != nil {
		writeBackendError(w, r, "CreateMultipartUpload", err)
		return
	}

	xmlutil.RenderInitiateMultipartUpload(w, &xmlutil.InitiateMultipartUploadResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	})
}

// UploadPart handles PUT /{bucket}/{object}?partNumber=N&uploadId=ID.
func (h *MultipartHandler) UploadPart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	uploadID := q.Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	partNumber, err := strconv.Atoi(q.Get("partNumber"))
	if err != nil || partNumber < 1 || partNumber > 10000 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	etag, err := h.store.UploadPart(ctx, uploadID, partNumber, r.Body, auth.AccessKeyFromContext(ctx))
	if err != nil {
		writeBackendError(w, r, "UploadPart", err)
		return
	}

	w.Header().Set("ETag", etag)
	w.WriteHeader(http.StatusOK)
}

// ListParts handles GET /{bucket}/{object}?uploadId=ID: the staged parts in
// part-number order with sizes from the stage files.
func (h *MultipartHandler) ListParts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)
	key := extractObjectKey(r)

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	parts, err := h.store.ListParts(ctx, uploadID)
	if err != nil {
		writeBackendError(w, r, "ListParts", err)
		return
	}

	result := &xmlutil.ListPartsResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	}
	for _, p := range parts {
		result.Parts = append(result.Parts, xmlutil.Part{
			PartNumber:   p.PartNumber,
			LastModified: xmlutil.FormatTimeS3(p.LastModified),
			ETag:         p.ETag,
			Size:         p.Size,
		})
	}
	xmlutil.RenderListParts(w, result)
}

// CompleteMultipartUpload handles POST /{bucket}/{object}?uploadId=ID. The
// request's part list is required as a presence signal; assembly order comes
// from the catalog.
func (h *MultipartHandler) CompleteMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	parts, err := parseCompleteMultipartXML(r.Body)
	if err != nil {
		slog.Error("CompleteMultipartUpload XML parse failed", "error", err)
		xmlutil.WriteErrorResponse(w, r, s3err.ErrMalformedXML)
		return
	}
	if len(parts) == 0 {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidPart)
		return
	}

	result, err := h.store.CompleteMultipartUpload(ctx, uploadID, auth.AccessKeyFromContext(ctx))
	if err != nil {
		writeBackendError(w, r, "CompleteMultipartUpload", err)
		return
	}

	xmlutil.RenderCompleteMultipartUpload(w, &xmlutil.CompleteMultipartUploadResult{
		Location: fmt.Sprintf("/%s/%s", result.Bucket, result.Key),
		Bucket:   result.Bucket,
		Key:      result.Key,
		ETag:     result.ETag,
	})
}

// AbortMultipartUpload handles DELETE /{bucket}/{object}?uploadId=ID.
func (h *MultipartHandler) AbortMultipartUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	bucket := extractBucketName(r)

	uploadID := r.URL.Query().Get("uploadId")
	if uploadID == "" {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrInvalidArgument)
		return
	}

	if err := h.store.AbortMultipartUpload(ctx, bucket, uploadID, auth.AccessKeyFromContext(ctx)); err != nil {
		writeBackendError(w, r, "AbortMultipartUpload", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
