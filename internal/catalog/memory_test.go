package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryObjectCRUD(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	if got, err := c.GetObject(ctx, "b", "k"); err != nil || got != nil {
		t.Fatalf("GetObject on empty catalog = %v, %v; want nil, nil", got, err)
	}

	obj := &ObjectDetail{Bucket: "b", Key: "k", ETag: "e1", DataLocation: "b/k"}
	if err := c.UpsertObject(ctx, obj); err != nil {
		t.Fatalf("UpsertObject failed: %v", err)
	}

	got, _ := c.GetObject(ctx, "b", "k")
	if got == nil || got.ETag != "e1" {
		t.Fatalf("row = %+v", got)
	}
	if got.LastModified.IsZero() {
		t.Error("last_modified should be stamped on upsert")
	}

	obj.ETag = "e2"
	c.UpsertObject(ctx, obj)
	got, _ = c.GetObject(ctx, "b", "k")
	if got.ETag != "e2" {
		t.Errorf("etag = %q, want e2 after replace", got.ETag)
	}
}

func TestMemoryListOrderingAndCap(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	for i := 0; i < MaxListKeys+10; i++ {
		c.UpsertObject(ctx, &ObjectDetail{
			Bucket: "b", Key: fmt.Sprintf("key-%06d", i), ETag: "e",
			DataLocation: "b/x",
		})
	}

	all, err := c.ListObjects(ctx, "b", "")
	if err != nil {
		t.Fatalf("ListObjects failed: %v", err)
	}
	if len(all) != MaxListKeys {
		t.Errorf("len = %d, want cap %d", len(all), MaxListKeys)
	}
	for i := 1; i < len(all); i++ {
		if all[i-1].Key >= all[i].Key {
			t.Fatalf("listing not sorted at %d", i)
		}
	}
}

func TestMemoryMultipartLifecycle(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	c.InsertMultipartUpload(ctx, &MultipartUpload{UploadID: "u", Bucket: "b", Key: "k", AccessKey: "ak"})

	if ak, _ := c.GetAccessKey(ctx, "u"); ak == nil || *ak != "ak" {
		t.Fatalf("access key = %v, want ak", ak)
	}
	if ak, _ := c.GetAccessKey(ctx, "other"); ak != nil {
		t.Errorf("access key for unknown upload = %v, want nil", ak)
	}

	c.UpsertPart(ctx, &MultipartPart{UploadID: "u", PartNumber: 2, MD5: "m2"})
	c.UpsertPart(ctx, &MultipartPart{UploadID: "u", PartNumber: 1, MD5: "m1"})
	c.UpsertPart(ctx, &MultipartPart{UploadID: "u", PartNumber: 1, MD5: "m1-replaced"})

	parts, _ := c.ListParts(ctx, "u")
	if len(parts) != 2 || parts[0].PartNumber != 1 || parts[0].MD5 != "m1-replaced" {
		t.Errorf("parts = %+v", parts)
	}

	c.DeleteMultipartUpload(ctx, "u")
	if u, _ := c.GetMultipartUpload(ctx, "u"); u != nil {
		t.Error("upload should be gone")
	}
	if parts, _ := c.ListParts(ctx, "u"); len(parts) != 0 {
		t.Error("parts should be cascade-deleted")
	}
}

func TestMemoryConcurrentAccess(t *testing.T) {
	c := NewMemoryCatalog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k-%d", i)
			c.UpsertObject(ctx, &ObjectDetail{Bucket: "b", Key: key, ETag: "e", DataLocation: "b/" + key})
			c.GetObject(ctx, "b", key)
			c.ListObjects(ctx, "b", "")
		}(i)
	}
	wg.Wait()

	all, _ := c.ListObjects(ctx, "b", "")
	if len(all) != 16 {
		t.Errorf("len = %d, want 16", len(all))
	}
}
