package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveUnder(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		rel     string
		want    string
		wantErr bool
	}{
		{"simple", "bucket/key.txt", filepath.Join(root, "bucket", "key.txt"), false},
		{"nested", "bucket/a/b/c.txt", filepath.Join(root, "bucket", "a", "b", "c.txt"), false},
		{"root itself", ".", root, false},
		{"escape with dotdot", "../outside", "", true},
		{"escape deep", "bucket/../../outside", "", true},
		{"absolute injection", "/etc/passwd", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveUnder(root, tt.rel)
			if (err != nil) != tt.wantErr {
				t.Fatalf("resolveUnder(%q) error = %v, wantErr %v", tt.rel, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("resolveUnder(%q) = %q, want %q", tt.rel, got, tt.want)
			}
		})
	}
}

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"simple", "file.txt", true},
		{"nested", "a/b/c.txt", true},
		{"directory key", "dir/", true},
		{"unicode", "héllo.txt", true},
		{"empty", "", false},
		{"too long", strings.Repeat("a", 1025), false},
		{"max length", strings.Repeat("a", 1024), true},
		{"parent traversal", "a/../b", false},
		{"dot slash", "./a", false},
		{"double slash", "a//b", false},
		{"control character", "a\x01b", false},
		{"newline", "a\nb", false},
		{"delete char", "a\x7fb", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateKey(tt.key); got != tt.want {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, got, tt.want)
			}
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		name      string
		header    string
		size      int64
		wantStart int64
		wantEnd   int64
		wantErr   bool
	}{
		{"first five", "bytes=0-4", 100, 0, 4, false},
		{"middle", "bytes=100-199", 1000, 100, 199, false},
		{"open ended", "bytes=5-", 100, 5, 99, false},
		{"suffix", "bytes=-10", 100, 90, 99, false},
		{"suffix larger than object", "bytes=-200", 100, 0, 99, false},
		{"end clamped", "bytes=0-500", 100, 0, 99, false},
		{"start beyond size", "bytes=100-", 100, 0, 0, true},
		{"missing prefix", "0-4", 100, 0, 0, true},
		{"multi range", "bytes=0-4,10-14", 100, 0, 0, true},
		{"inverted", "bytes=10-5", 100, 0, 0, true},
		{"empty object", "bytes=0-4", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ParseRange(tt.header, tt.size)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRange(%q, %d) error = %v, wantErr %v", tt.header, tt.size, err, tt.wantErr)
			}
			if !tt.wantErr && (start != tt.wantStart || end != tt.wantEnd) {
				t.Errorf("ParseRange(%q, %d) = (%d, %d), want (%d, %d)",
					tt.header, tt.size, start, end, tt.wantStart, tt.wantEnd)
			}
		})
	}
}
