package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	s3err "github.com/balchua/beggar/internal/errors"
)

func initUpload(t *testing.T, b *Backend, bucket, key, accessKey string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(b.Root(), bucket), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	uploadID, err := b.CreateMultipartUpload(context.Background(), bucket, key, nil, accessKey)
	if err != nil {
		t.Fatalf("CreateMultipartUpload failed: %v", err)
	}
	return uploadID
}

func TestCreateMultipartUpload(t *testing.T) {
	backend := newTestBackend(t)

	uploadID := initUpload(t, backend, "b", "k", "ak")
	if _, err := uuid.Parse(uploadID); err != nil {
		t.Errorf("upload ID %q is not a UUID: %v", uploadID, err)
	}
}

func TestCreateMultipartUploadMissingBucket(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.CreateMultipartUpload(context.Background(), "absent", "k", nil, "ak")
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		t.Errorf("CreateMultipartUpload = %v, want NoSuchBucket", err)
	}
}

func TestMultipartHappyPath(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")

	etag1, err := backend.UploadPart(ctx, uploadID, 1, strings.NewReader("aaaaa"), "ak")
	if err != nil {
		t.Fatalf("UploadPart 1 failed: %v", err)
	}
	if etag1 != "594f803b380a41396ed63dca39503542" {
		t.Errorf("part 1 etag = %q, want MD5 of aaaaa", etag1)
	}
	if _, err := backend.UploadPart(ctx, uploadID, 2, strings.NewReader("bbbbb"), "ak"); err != nil {
		t.Fatalf("UploadPart 2 failed: %v", err)
	}

	parts, err := backend.ListParts(ctx, uploadID)
	if err != nil {
		t.Fatalf("ListParts failed: %v", err)
	}
	if len(parts) != 2 || parts[0].PartNumber != 1 || parts[1].PartNumber != 2 {
		t.Fatalf("parts = %+v, want part numbers 1, 2", parts)
	}
	if parts[0].Size != 5 || parts[1].Size != 5 {
		t.Errorf("part sizes = %d, %d, want 5, 5", parts[0].Size, parts[1].Size)
	}

	result, err := backend.CompleteMultipartUpload(ctx, uploadID, "ak")
	if err != nil {
		t.Fatalf("CompleteMultipartUpload failed: %v", err)
	}
	if result.ETag != "2d4105bcfdd281b5ba538ffefe519a7e" {
		t.Errorf("final etag = %q, want MD5 of aaaaabbbbb", result.ETag)
	}

	got, err := backend.GetObject(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer got.Body.Close()
	data, _ := io.ReadAll(got.Body)
	if string(data) != "aaaaabbbbb" {
		t.Errorf("assembled body = %q, want aaaaabbbbb", data)
	}

	// Registry entry and part stage files are gone.
	if _, err := backend.ListParts(ctx, uploadID); !errors.Is(err, s3err.ErrNoSuchUpload) {
		t.Errorf("ListParts after complete = %v, want NoSuchUpload", err)
	}
	for _, name := range rootEntries(t, backend) {
		if strings.HasPrefix(name, ".upload_id-"+uploadID) {
			t.Errorf("part stage file %q remains after completion", name)
		}
	}
}

func TestMultipartAssemblyFollowsCatalogOrder(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")

	// Upload out of order; assembly is by ascending part number.
	backend.UploadPart(ctx, uploadID, 3, strings.NewReader("ccc"), "ak")
	backend.UploadPart(ctx, uploadID, 1, strings.NewReader("aaa"), "ak")
	backend.UploadPart(ctx, uploadID, 2, strings.NewReader("bbb"), "ak")

	if _, err := backend.CompleteMultipartUpload(ctx, uploadID, "ak"); err != nil {
		t.Fatalf("CompleteMultipartUpload failed: %v", err)
	}

	got, err := backend.GetObject(ctx, "b", "k", "")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer got.Body.Close()
	data, _ := io.ReadAll(got.Body)
	if string(data) != "aaabbbccc" {
		t.Errorf("assembled body = %q, want aaabbbccc", data)
	}
}

func TestMultipartPartOverwrite(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")

	backend.UploadPart(ctx, uploadID, 1, strings.NewReader("old"), "ak")
	backend.UploadPart(ctx, uploadID, 1, strings.NewReader("new!"), "ak")

	parts, err := backend.ListParts(ctx, uploadID)
	if err != nil {
		t.Fatalf("ListParts failed: %v", err)
	}
	if len(parts) != 1 || parts[0].Size != 4 {
		t.Errorf("parts = %+v, want one part of size 4", parts)
	}
}

func TestUploadPartAccessDenied(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")

	_, err := backend.UploadPart(ctx, uploadID, 1, strings.NewReader("x"), "ak2")
	if !errors.Is(err, s3err.ErrAccessDenied) {
		t.Fatalf("UploadPart with wrong key = %v, want AccessDenied", err)
	}

	// No part row was created.
	if _, err := backend.ListParts(ctx, uploadID); !errors.Is(err, s3err.ErrNoSuchUpload) {
		t.Errorf("ListParts = %v, want NoSuchUpload (no parts staged)", err)
	}
}

func TestUploadPartInvalidUploadID(t *testing.T) {
	backend := newTestBackend(t)

	_, err := backend.UploadPart(context.Background(), "not-a-uuid", 1, strings.NewReader("x"), "ak")
	if !errors.Is(err, s3err.ErrInvalidRequest) {
		t.Errorf("UploadPart = %v, want InvalidRequest", err)
	}
}

func TestUploadPartUnknownUpload(t *testing.T) {
	backend := newTestBackend(t)

	// Valid UUID with no registry entry: verification fails closed.
	_, err := backend.UploadPart(context.Background(), uuid.New().String(), 1, strings.NewReader("x"), "ak")
	if !errors.Is(err, s3err.ErrAccessDenied) {
		t.Errorf("UploadPart = %v, want AccessDenied", err)
	}
}

func TestCompleteMultipartUploadWrongKey(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")
	backend.UploadPart(ctx, uploadID, 1, strings.NewReader("x"), "ak")

	if _, err := backend.CompleteMultipartUpload(ctx, uploadID, "other"); !errors.Is(err, s3err.ErrAccessDenied) {
		t.Errorf("Complete with wrong key = %v, want AccessDenied", err)
	}
}

func TestCompleteMultipartUploadUnknown(t *testing.T) {
	backend := newTestBackend(t)

	if _, err := backend.CompleteMultipartUpload(context.Background(), uuid.New().String(), "ak"); !errors.Is(err, s3err.ErrNoSuchUpload) {
		t.Errorf("Complete unknown upload = %v, want NoSuchUpload", err)
	}
	if _, err := backend.CompleteMultipartUpload(context.Background(), "garbage", "ak"); !errors.Is(err, s3err.ErrInvalidRequest) {
		t.Errorf("Complete malformed id = %v, want InvalidRequest", err)
	}
}

func TestAbortMultipartUpload(t *testing.T) {
	backend := newTestBackend(t)
	ctx := context.Background()

	uploadID := initUpload(t, backend, "b", "k", "ak")
	backend.UploadPart(ctx, uploadID, 1, strings.NewReader("x"), "ak")

	if err := backend.AbortMultipartUpload(ctx, "b", uploadID, "ak"); err != nil {
		t.Fatalf("AbortMultipartUpload failed: %v", err)
	}

	// No part files and no registry rows remain.
	for _, name := range rootEntries(t, backend) {
		if strings.HasPrefix(name, ".upload_id-"+uploadID) {
			t.Errorf("part stage file %q remains after abort", name)
		}
	}

	// A later part upload finds no binding and is denied.
	if _, err := backend.UploadPart(ctx, uploadID, 2, strings.NewReader("y"), "ak"); !errors.Is(err, s3err.ErrAccessDenied) {
		t.Errorf("UploadPart after abort = %v, want AccessDenied", err)
	}
}

func TestAbortMultipartUploadNoParts(t *testing.T) {
	backend := newTestBackend(t)

	uploadID := initUpload(t, backend, "b", "k", "ak")
	if err := backend.AbortMultipartUpload(context.Background(), "b", uploadID, "ak"); !errors.Is(err, s3err.ErrNoSuchUpload) {
		t.Errorf("Abort with no parts = %v, want NoSuchUpload", err)
	}
}

func TestAbortMultipartUploadMissingBucket(t *testing.T) {
	backend := newTestBackend(t)

	err := backend.AbortMultipartUpload(context.Background(), "absent", uuid.New().String(), "ak")
	if !errors.Is(err, s3err.ErrNoSuchBucket) {
		t.Errorf("Abort on missing bucket = %v, want NoSuchBucket", err)
	}
}

func TestListPartsUnknownUpload(t *testing.T) {
	backend := newTestBackend(t)

	if _, err := backend.ListParts(context.Background(), uuid.New().String()); !errors.Is(err, s3err.ErrNoSuchUpload) {
		t.Errorf("ListParts = %v, want NoSuchUpload", err)
	}
}
