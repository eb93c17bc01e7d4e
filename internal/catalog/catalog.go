// Package catalog defines the interface and implementations for the gateway's
// metadata catalog, which tracks objects and in-flight multipart uploads.
package catalog

import (
	"context"
	"io"
	"time"
)

// MaxListKeys caps the number of rows returned by ListObjects. It is also the
// maximum MaxKeys the S3 listing operations advertise.
const MaxListKeys = 1000

// ObjectDetail is one row of the object table: a single live object.
// The row exists iff a regular file exists at the resolved DataLocation, and
// ETag is the hex MD5 of that file's bytes.
type ObjectDetail struct {
	Bucket string
	Key    string
	// Metadata is the JSON-serialized user metadata map ("{}" when empty).
	Metadata string
	// InternalInfo is the JSON-serialized checksum set produced at write time.
	InternalInfo string
	LastModified time.Time
	// ETag is the lowercase hex MD5 of the full object body.
	ETag string
	// DataLocation is the path of the data file relative to the storage root,
	// equal to "{bucket}/{key}".
	DataLocation string
}

// MultipartUpload is one row of the in-flight upload registry. It exists only
// while the upload is uncommitted; Complete and Abort remove it.
type MultipartUpload struct {
	UploadID     string
	Bucket       string
	Key          string
	LastModified time.Time
	// Metadata is applied to the final object on completion.
	Metadata string
	// AccessKey is the caller identity bound to this upload.
	AccessKey string
}

// MultipartPart is one uploaded part of a multipart upload.
type MultipartPart struct {
	UploadID     string
	PartNumber   int
	LastModified time.Time
	// MD5 is the hex MD5 of the part's bytes.
	MD5 string
	// DataLocation is the absolute filesystem path of the stored part file.
	DataLocation string
}

// Catalog is the narrow operation set the storage backend depends on.
// Implementations must be safe for concurrent use. Lookups return (nil, nil)
// when the row is absent. Each operation sets last_modified to the current
// server time on write.
type Catalog interface {
	io.Closer

	// Ping checks connectivity to the catalog.
	Ping(ctx context.Context) error

	// UpsertObject inserts or replaces the row identified by (bucket, key).
	UpsertObject(ctx context.Context, obj *ObjectDetail) error

	// GetObject retrieves the row for the exact (bucket, key).
	GetObject(ctx context.Context, bucket, key string) (*ObjectDetail, error)

	// ListObjects returns rows in the bucket whose key starts with prefix,
	// ordered by key ascending, capped at MaxListKeys.
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectDetail, error)

	// ListBuckets returns the distinct buckets appearing in the object table.
	ListBuckets(ctx context.Context) ([]string, error)

	// InsertMultipartUpload inserts or replaces the upload row by upload_id.
	InsertMultipartUpload(ctx context.Context, upload *MultipartUpload) error

	// GetMultipartUpload retrieves the upload row by upload_id.
	GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUpload, error)

	// DeleteMultipartUpload removes the upload row and cascade-deletes its parts.
	DeleteMultipartUpload(ctx context.Context, uploadID string) error

	// GetAccessKey projects the access_key column of the upload row.
	GetAccessKey(ctx context.Context, uploadID string) (*string, error)

	// UpsertPart inserts or replaces the part row by (upload_id, part_number).
	UpsertPart(ctx context.Context, part *MultipartPart) error

	// ListParts returns all parts for the upload ordered by part_number ascending.
	ListParts(ctx context.Context, uploadID string) ([]MultipartPart, error)
}
