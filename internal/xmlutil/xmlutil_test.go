package xmlutil

import (
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	s3err "github.com/balchua/beggar/internal/errors"
)

func TestWriteErrorResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	rec.Header().Set("x-amz-request-id", "REQ123")
	req := httptest.NewRequest(http.MethodGet, "/bucket/key", nil)

	WriteErrorResponse(rec, req, s3err.ErrNoSuchKey)

	if rec.Code != 404 {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/xml" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	if !strings.HasPrefix(body, `<?xml version="1.0" encoding="UTF-8"?>`) {
		t.Error("missing XML declaration")
	}

	var parsed ErrorResponse
	if err := xml.Unmarshal([]byte(body[strings.Index(body, "<Error>"):]), &parsed); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if parsed.Code != "NoSuchKey" || parsed.Resource != "/bucket/key" || parsed.RequestID != "REQ123" {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestListBucketResultNamespace(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderListObjectsV2(rec, &ListBucketV2Result{Name: "b", KeyCount: 0})

	body := rec.Body.String()
	if !strings.Contains(body, `xmlns="http://s3.amazonaws.com/doc/2006-03-01/"`) {
		t.Errorf("success responses must carry the S3 namespace, got %q", body)
	}
	if !strings.Contains(body, "<ListBucketResult") {
		t.Errorf("root element should be ListBucketResult, got %q", body)
	}
}

func TestTimeFormats(t *testing.T) {
	ts := time.Date(2026, 8, 1, 12, 30, 45, 123e6, time.UTC)

	if got := FormatTimeS3(ts); got != "2026-08-01T12:30:45.123Z" {
		t.Errorf("FormatTimeS3 = %q", got)
	}
	if got := FormatTimeHTTP(ts); got != "Sat, 01 Aug 2026 12:30:45 GMT" {
		t.Errorf("FormatTimeHTTP = %q", got)
	}
}

func TestCompleteMultipartUploadResultShape(t *testing.T) {
	rec := httptest.NewRecorder()
	RenderCompleteMultipartUpload(rec, &CompleteMultipartUploadResult{
		Location: "/b/k",
		Bucket:   "b",
		Key:      "k",
		ETag:     "abc",
	})

	body := rec.Body.String()
	for _, fragment := range []string{"<Location>/b/k</Location>", "<Bucket>b</Bucket>", "<Key>k</Key>", "<ETag>abc</ETag>"} {
		if !strings.Contains(body, fragment) {
			t.Errorf("missing %q in %q", fragment, body)
		}
	}
}
