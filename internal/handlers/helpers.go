// Package handlers implements the S3 protocol adapter: stateless HTTP
// handlers that translate S3 operations into storage backend calls and
// domain errors into S3 wire errors.
package handlers

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	s3err "github.com/balchua/beggar/internal/errors"
	"github.com/balchua/beggar/internal/xmlutil"
)

// extractBucketName extracts the bucket name from the URL path.
func extractBucketName(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		return path[:idx]
	}
	return path
}

// extractObjectKey extracts the object key from the URL path: everything
// after the bucket name.
func extractObjectKey(r *http.Request) string {
	path := strings.TrimPrefix(r.URL.Path, "/")
	idx := strings.IndexByte(path, '/')
	if idx < 0 {
		return ""
	}
	return path[idx+1:]
}

// extractUserMetadata scans request headers for x-amz-meta-* prefixed headers
// and returns them as a map. The prefix is stripped and the key is lowercased.
func extractUserMetadata(r *http.Request) map[string]string {
	meta := make(map[string]string)
	for key, values := range r.Header {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "x-amz-meta-") {
			metaKey := lower[len("x-amz-meta-"):]
			if len(values) > 0 && metaKey != "" {
				meta[metaKey] = values[0]
			}
		}
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

// optionalHeader returns a pointer to the header value, or nil when absent.
func optionalHeader(r *http.Request, name string) *string {
	v := r.Header.Get(name)
	if v == "" {
		return nil
	}
	return &v
}

// writeBackendError translates a backend failure into the S3 wire error.
// Typed S3 errors pass through; anything else is logged at the call site and
// surfaces as InternalError.
func writeBackendError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var s3e *s3err.S3Error
	if errors.As(err, &s3e) {
		xmlutil.WriteErrorResponse(w, r, s3e)
		return
	}
	slog.Error(op+" failed", "error", err, "path", r.URL.Path)
	xmlutil.WriteErrorResponse(w, r, s3err.ErrInternalError)
}

// statusForError returns the HTTP status for a backend failure without
// writing a body; HEAD responses use this.
func statusForError(op string, err error) int {
	var s3e *s3err.S3Error
	if errors.As(err, &s3e) {
		return s3e.HTTPStatus
	}
	slog.Error(op+" failed", "error", err)
	return http.StatusInternalServerError
}

// CompletePart is a single part entry in a CompleteMultipartUpload request body.
type CompletePart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// CompleteMultipartUploadRequest is the XML structure for the
// CompleteMultipartUpload request body.
type CompleteMultipartUploadRequest struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []CompletePart `xml:"Part"`
}

// parseCompleteMultipartXML parses the CompleteMultipartUpload request body
// and returns the listed parts.
func parseCompleteMultipartXML(body io.Reader) ([]CompletePart, error) {
	var req CompleteMultipartUploadRequest
	if err := xml.NewDecoder(body).Decode(&req); err != nil {
		return nil, fmt.Errorf("decoding CompleteMultipartUpload XML: %w", err)
	}
	return req.Parts, nil
}
