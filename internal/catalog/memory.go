package catalog

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryCatalog is an in-memory Catalog implementation. It backs tests and
// the "memory" datasource engine; nothing survives a restart.
type MemoryCatalog struct {
	mu      sync.RWMutex
	objects map[string]ObjectDetail      // keyed by bucket + "\x00" + key
	uploads map[string]MultipartUpload   // keyed by upload_id
	parts   map[string][]MultipartPart   // keyed by upload_id, unordered
}

// NewMemoryCatalog returns an empty in-memory catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		objects: make(map[string]ObjectDetail),
		uploads: make(map[string]MultipartUpload),
		parts:   make(map[string][]MultipartPart),
	}
}

func objectKey(bucket, key string) string {
	return bucket + "\x00" + key
}

// Close is a no-op for the in-memory catalog.
func (c *MemoryCatalog) Close() error { return nil }

// Ping always succeeds.
func (c *MemoryCatalog) Ping(ctx context.Context) error { return nil }

// UpsertObject inserts or replaces the row identified by (bucket, key).
func (c *MemoryCatalog) UpsertObject(ctx context.Context, obj *ObjectDetail) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *obj
	cp.LastModified = time.Now().UTC()
	c.objects[objectKey(obj.Bucket, obj.Key)] = cp
	return nil
}

// GetObject retrieves the row for the exact (bucket, key).
func (c *MemoryCatalog) GetObject(ctx context.Context, bucket, key string) (*ObjectDetail, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	obj, ok := c.objects[objectKey(bucket, key)]
	if !ok {
		return nil, nil
	}
	cp := obj
	return &cp, nil
}

// ListObjects returns rows in the bucket matching the key prefix, ordered by
// key ascending and capped at MaxListKeys.
func (c *MemoryCatalog) ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectDetail, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var objects []ObjectDetail
	for _, obj := range c.objects {
		if obj.Bucket == bucket && strings.HasPrefix(obj.Key, prefix) {
			objects = append(objects, obj)
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	if len(objects) > MaxListKeys {
		objects = objects[:MaxListKeys]
	}
	return objects, nil
}

// ListBuckets returns the distinct buckets in the object table.
func (c *MemoryCatalog) ListBuckets(ctx context.Context) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]bool)
	var buckets []string
	for _, obj := range c.objects {
		if !seen[obj.Bucket] {
			seen[obj.Bucket] = true
			buckets = append(buckets, obj.Bucket)
		}
	}
	sort.Strings(buckets)
	return buckets, nil
}

// InsertMultipartUpload inserts or replaces the upload row by upload_id.
func (c *MemoryCatalog) InsertMultipartUpload(ctx context.Context, upload *MultipartUpload) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *upload
	cp.LastModified = time.Now().UTC()
	c.uploads[upload.UploadID] = cp
	return nil
}

// GetMultipartUpload retrieves the upload row by upload_id.
func (c *MemoryCatalog) GetMultipartUpload(ctx context.Context, uploadID string) (*MultipartUpload, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.uploads[uploadID]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

// DeleteMultipartUpload removes the upload row and its parts.
func (c *MemoryCatalog) DeleteMultipartUpload(ctx context.Context, uploadID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.uploads, uploadID)
	delete(c.parts, uploadID)
	return nil
}

// GetAccessKey projects the access_key column of the upload row.
func (c *MemoryCatalog) GetAccessKey(ctx context.Context, uploadID string) (*string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.uploads[uploadID]
	if !ok {
		return nil, nil
	}
	ak := u.AccessKey
	return &ak, nil
}

// UpsertPart inserts or replaces the part row by (upload_id, part_number).
func (c *MemoryCatalog) UpsertPart(ctx context.Context, part *MultipartPart) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := *part
	cp.LastModified = time.Now().UTC()

	parts := c.parts[part.UploadID]
	for i, p := range parts {
		if p.PartNumber == part.PartNumber {
			parts[i] = cp
			return nil
		}
	}
	c.parts[part.UploadID] = append(parts, cp)
	return nil
}

// ListParts returns all parts for the upload ordered by part_number.
func (c *MemoryCatalog) ListParts(ctx context.Context, uploadID string) ([]MultipartPart, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	parts := make([]MultipartPart, len(c.parts[uploadID]))
	copy(parts, c.parts[uploadID])
	sort.Slice(parts, func(i, j int) bool { return parts[i].PartNumber < parts[j].PartNumber })
	return parts, nil
}
