package handlers

import (
	"net/http"

	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/storage"
	"github.com/balchua/beggar/internal/xmlutil"
)

// BucketHandler contains handlers for S3 bucket-level operations.
type BucketHandler struct {
	store *storage.Backend
}

// NewBucketHandler creates a new BucketHandler over the given backend.
func NewBucketHandler(store *storage.Backend) *BucketHandler {
	return &BucketHandler{store: store}
}

// GetBucketLocation handles GET /{bucket}?location. The location constraint
// is empty: the gateway has a single implicit region.
func (h *BucketHandler) GetBucketLocation(w http.ResponseWriter, r *http.Request) {
	bucket := extractBucketName(r)

	exists, err := h.store.BucketExists(bucket)
	if err != nil {
		writeBackendError(w, r, "GetBucketLocation", err)
		return
	}
	if !exists {
		xmlutil.WriteErrorResponse(w, r, s3err.ErrNoSuchBucket)
		return
	}

	xmlutil.RenderLocationConstraint(w, "")
}

// HeadBucket handles HEAD /{bucket}: 200 if the bucket directory exists,
// 404 otherwise.
func (h *BucketHandler) HeadBucket(w http.ResponseWriter, r *http.Request) {
	bucket := extractBucketName(r)

	exists, err := h.store.BucketExists(bucket)
	if err != nil {
		w.WriteHeader(statusForError("HeadBucket", err))
		return
	}
	if !exists {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ListBuckets handles GET / and returns the buckets known to the catalog
// whose on-disk directory still exists.
func (h *BucketHandler) ListBuckets(w http.ResponseWriter, r *http.Request) {
	buckets, err := h.store.ListBuckets(r.Context())
	if err != nil {
		writeBackendError(w, r, "ListBuckets", err)
		return
	}

	result := &xmlutil.ListAllMyBucketsResult{}
	for _, b := range buckets {
		result.Buckets = append(result.Buckets, xmlutil.Bucket{
			Name:         b.Name,
			CreationDate: xmlutil.FormatTimeS3(b.CreatedAt),
		})
	}
	xmlutil.RenderListBuckets(w, result)
}
