package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/balchua/beggar/internal/catalog"
	s3err "github.com/balchua/beggar/internal/errors"
)

// The multipart state machine per upload_id: Initiated → PartsAccumulating →
// (Completed | Aborted). An upload is bound to the access key that created it;
// every later transition re-verifies that binding against the catalog.

// CreateMultipartUpload registers a new upload for (bucket, key) bound to the
// given access key and returns the generated upload ID. The bucket directory
// must already exist.
func (b *Backend) CreateMultipartUpload(ctx context.Context, bucket, key string, metadata map[string]string, accessKey string) (string, error) {
	exists, err := b.BucketExists(bucket)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", s3err.ErrNoSuchBucket
	}

	uploadID := uuid.New().String()
	if err := b.catalog.InsertMultipartUpload(ctx, &catalog.MultipartUpload{
		UploadID:  uploadID,
		Bucket:    bucket,
		Key:       key,
		Metadata:  MetadataToString(metadata),
		AccessKey: accessKey,
	}); err != nil {
		return "", err
	}
	return uploadID, nil
}

// verifyAccessKey reports whether the upload exists and is owned by the
// caller's access key. A missing upload row verifies false.
func (b *Backend) verifyAccessKey(ctx context.Context, uploadID, accessKey string) (bool, error) {
	owner, err := b.catalog.GetAccessKey(ctx, uploadID)
	if err != nil {
		return false, err
	}
	if owner == nil {
		return false, nil
	}
	return *owner == accessKey, nil
}

// UploadPart stages one part of an in-flight upload. The part body streams
// through MD5 and the atomic writer into the part stage file; the part row is
// recorded only after the file is in place.
func (b *Backend) UploadPart(ctx context.Context, uploadID string, partNumber int, body io.Reader, accessKey string) (string, error) {
	parsed, err := uuid.Parse(uploadID)
	if err != nil {
		return "", s3err.ErrInvalidRequest
	}
	uploadID = parsed.String()

	ok, err := b.verifyAccessKey(ctx, uploadID, accessKey)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", s3err.ErrAccessDenied
	}

	partFilePath, err := b.partPath(uploadID, partNumber)
	if err != nil {
		return "", s3err.ErrInvalidRequest
	}

	writer, err := b.prepareFileWrite(partFilePath)
	if err != nil {
		return "", err
	}
	defer writer.Discard()

	md5Hash := md5.New()
	size, err := io.Copy(io.MultiWriter(writer, md5Hash), body)
	if err != nil {
		return "", fmt.Errorf("writing part data: %w", err)
	}
	if err := writer.Done(); err != nil {
		return "", err
	}

	md5Sum := hex.EncodeToString(md5Hash.Sum(nil))
	slog.Debug("part written", "upload_id", uploadID, "part_number", partNumber, "size", size, "md5", md5Sum)

	if err := b.catalog.UpsertPart(ctx, &catalog.MultipartPart{
		UploadID:     uploadID,
		PartNumber:   partNumber,
		MD5:          md5Sum,
		DataLocation: partFilePath,
	}); err != nil {
		return "", err
	}
	return md5Sum, nil
}

// PartInfo is one staged part in a ListParts result.
type PartInfo struct {
	PartNumber   int
	ETag         string
	Size         int64
	LastModified time.Time
}

// ListParts returns the upload's staged parts in part-number order, with
// sizes read from the stage files. An upload with no parts (or a part whose
// file cannot be opened) is NoSuchUpload.
func (b *Backend) ListParts(ctx context.Context, uploadID string) ([]PartInfo, error) {
	parts, err := b.catalog.ListParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, s3err.ErrNoSuchUpload
	}

	var result []PartInfo
	for _, part := range parts {
		info, err := os.Stat(part.DataLocation)
		if err != nil {
			return nil, s3err.ErrNoSuchUpload
		}
		result = append(result, PartInfo{
			PartNumber:   part.PartNumber,
			ETag:         part.MD5,
			Size:         info.Size(),
			LastModified: part.LastModified,
		})
	}
	return result, nil
}

// CompleteResult reports the committed object of a completed upload.
type CompleteResult struct {
	Bucket string
	Key    string
	ETag   string
}

// CompleteMultipartUpload assembles the staged parts, in ascending
// part-number order from the catalog, into the final object. Each part file
// is deleted as it is appended; the final ETag is a plain MD5 computed by
// rereading the assembled file. The object row is written with the upload's
// stored metadata, and the upload registry entry is removed last.
func (b *Backend) CompleteMultipartUpload(ctx context.Context, uploadID, accessKey string) (*CompleteResult, error) {
	parsed, err := uuid.Parse(uploadID)
	if err != nil {
		return nil, s3err.ErrInvalidRequest
	}
	uploadID = parsed.String()

	upload, err := b.catalog.GetMultipartUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload == nil {
		return nil, s3err.ErrNoSuchUpload
	}

	ok, err := b.verifyAccessKey(ctx, uploadID, accessKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, s3err.ErrAccessDenied
	}

	objectPath, err := b.objectPath(upload.Bucket, upload.Key)
	if err != nil {
		return nil, s3err.ErrInvalidRequest
	}
	writer, err := b.prepareFileWrite(objectPath)
	if err != nil {
		return nil, err
	}
	defer writer.Discard()

	parts, err := b.catalog.ListParts(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	for _, part := range parts {
		reader, err := os.Open(part.DataLocation)
		if err != nil {
			return nil, fmt.Errorf("opening part %d: %w", part.PartNumber, err)
		}
		size, err := io.Copy(writer, reader)
		reader.Close()
		if err != nil {
			return nil, fmt.Errorf("appending part %d: %w", part.PartNumber, err)
		}
		slog.Debug("part appended", "from", part.DataLocation, "to", writer.DestPath(), "size", size)
		if err := os.Remove(part.DataLocation); err != nil {
			return nil, fmt.Errorf("removing part file %q: %w", part.DataLocation, err)
		}
	}

	if err := writer.Done(); err != nil {
		return nil, err
	}

	md5Sum, err := md5OfFile(objectPath)
	if err != nil {
		return nil, err
	}

	if err := b.catalog.UpsertObject(ctx, &catalog.ObjectDetail{
		Bucket:       upload.Bucket,
		Key:          upload.Key,
		Metadata:     upload.Metadata,
		InternalInfo: "{}",
		ETag:         md5Sum,
		DataLocation: upload.Bucket + "/" + upload.Key,
	}); err != nil {
		return nil, err
	}

	if err := b.catalog.DeleteMultipartUpload(ctx, uploadID); err != nil {
		return nil, err
	}

	return &CompleteResult{Bucket: upload.Bucket, Key: upload.Key, ETag: md5Sum}, nil
}

// AbortMultipartUpload cancels an in-flight upload: every staged part file is
// removed, then the registry entry and its part rows. An upload with no
// staged parts is NoSuchUpload.
func (b *Backend) AbortMultipartUpload(ctx context.Context, bucket, uploadID, accessKey string) error {
	exists, err := b.BucketExists(bucket)
	if err != nil {
		return err
	}
	if !exists {
		return s3err.ErrNoSuchBucket
	}

	parsed, err := uuid.Parse(uploadID)
	if err != nil {
		return s3err.ErrInvalidRequest
	}
	uploadID = parsed.String()

	ok, err := b.verifyAccessKey(ctx, uploadID, accessKey)
	if err != nil {
		return err
	}
	if !ok {
		return s3err.ErrAccessDenied
	}

	parts, err := b.catalog.ListParts(ctx, uploadID)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return s3err.ErrNoSuchUpload
	}

	for _, part := range parts {
		if err := os.Remove(part.DataLocation); err != nil {
			return fmt.Errorf("removing part file %q: %w", part.DataLocation, err)
		}
	}

	if err := b.catalog.DeleteMultipartUpload(ctx, uploadID); err != nil {
		return err
	}

	slog.Debug("multipart upload aborted", "bucket", bucket, "upload_id", uploadID)
	return nil
}
