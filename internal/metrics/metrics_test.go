package metrics

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/health", "/health"},
		{"/metrics", "/metrics"},
		{"/docs", "/docs"},
		{"/docs/asset.js", "/docs"},
		{"/", "/"},
		{"", "/"},
		{"/my-bucket", "/{bucket}"},
		{"/my-bucket/", "/{bucket}"},
		{"/my-bucket/key.txt", "/{bucket}/{key}"},
		{"/my-bucket/deep/nested/key", "/{bucket}/{key}"},
	}

	for _, tt := range tests {
		if got := NormalizePath(tt.path); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestRegisterIdempotent(t *testing.T) {
	// Register twice; the second call must not panic on duplicate collectors.
	Register()
	Register()
}
