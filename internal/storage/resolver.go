// Package storage implements the filesystem half of the gateway: path
// resolution under the configured root, the atomic write pipeline, and the
// storage backend that keeps catalog rows and data files in sync.
package storage

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveUnder maps a relative path onto an absolute path under root. The
// path is virtually absolutized: ".." segments are normalized against root
// and any result escaping root is rejected, as is absolute-path injection.
func resolveUnder(root, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("absolute path not allowed: %q", rel)
	}
	resolved := filepath.Clean(filepath.Join(root, rel))
	if resolved != root && !strings.HasPrefix(resolved, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes storage root: %q", rel)
	}
	return resolved, nil
}

// ValidateKey reports whether key is an acceptable S3 object key:
// non-empty, at most 1024 bytes, free of path traversal sequences and
// control characters. It must be checked before any operation that stores or
// retrieves data by key.
func ValidateKey(key string) bool {
	if key == "" || len(key) > 1024 {
		return false
	}
	if strings.Contains(key, "../") || strings.Contains(key, "./") || strings.Contains(key, "//") {
		return false
	}
	for _, r := range key {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
