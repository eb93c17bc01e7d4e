package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileWriter stages bytes in a uniquely-named temp file and publishes them
// with a rename on Done. If the writer is discarded before Done, the temp
// file is removed, so a failed or abandoned write never leaves partial state
// at the destination.
type FileWriter struct {
	tmpPath   string
	destPath  string
	file      *os.File
	committed bool
}

// Write appends p to the staged temp file.
func (w *FileWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

// TmpPath returns the temp file path backing this writer.
func (w *FileWriter) TmpPath() string { return w.tmpPath }

// DestPath returns the destination the writer will rename to.
func (w *FileWriter) DestPath() string { return w.destPath }

// Done flushes and publishes the staged file: fsync, close, create the
// destination's parent directories, then rename. When the destination exists
// as a directory the rename is skipped and the temp file is cleaned up
// (a PUT over a directory is a no-op at the filesystem layer).
func (w *FileWriter) Done() error {
	if err := w.file.Sync(); err != nil {
		w.Discard()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(w.destPath), 0o755); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("creating parent directories for %q: %w", w.destPath, err)
	}

	if info, err := os.Stat(w.destPath); err == nil && info.IsDir() {
		os.Remove(w.tmpPath)
		w.committed = true
		return nil
	}

	if err := os.Rename(w.tmpPath, w.destPath); err != nil {
		os.Remove(w.tmpPath)
		return fmt.Errorf("renaming temp file to %q: %w", w.destPath, err)
	}
	w.committed = true
	return nil
}

// Discard removes the staged temp file unless Done already committed it.
// Safe to call multiple times and in deferred cleanup paths.
func (w *FileWriter) Discard() {
	if w.committed {
		return
	}
	w.file.Close()
	os.Remove(w.tmpPath)
	w.committed = true
}

// cleanOldTmpFiles removes leftover write-stage files directly under root.
// Called on startup: any surviving temp file is an incomplete write from a
// previous crash.
func cleanOldTmpFiles(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading storage root: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".tmp.") && strings.HasSuffix(name, ".internal.part") {
			if err := os.Remove(filepath.Join(root, name)); err != nil {
				return fmt.Errorf("removing stale temp file %q: %w", name, err)
			}
		}
	}
	return nil
}
