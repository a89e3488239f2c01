package logger

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RotatingWriter appends to a file and moves it aside once it grows past
// the size limit. Rotated files older than maxAge days are removed.
type RotatingWriter struct {
	mu       sync.Mutex
	path     string
	maxBytes int64
	maxAge   int
	compress bool
	file     *os.File
	size     int64
}

// NewRotatingWriter opens path for appending. maxSizeMB <= 0 disables rotation.
func NewRotatingWriter(path string, maxSizeMB, maxAge int, compress bool) (*RotatingWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:     path,
		maxBytes: int64(maxSizeMB) * 1024 * 1024,
		maxAge:   maxAge,
		compress: compress,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	w.prune()
	return w, nil
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}
	w.file = f
	w.size = info.Size()
	return nil
}

// Write implements io.Writer
func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxBytes > 0 && w.size > 0 && w.size+int64(len(p)) > w.maxBytes {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current file
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *RotatingWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return err
	}

	rotated := fmt.Sprintf("%s.%s", w.path, time.Now().Format("20060102-150405.000"))
	if err := os.Rename(w.path, rotated); err != nil {
		return err
	}
	if w.compress {
		go gzipFile(rotated)
	}
	return w.open()
}

func gzipFile(path string) {
	src, err := os.Open(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	gz := gzip.NewWriter(dst)
	_, copyErr := io.Copy(gz, src)
	closeErr := gz.Close()
	dst.Close()

	if copyErr == nil && closeErr == nil {
		os.Remove(path)
	}
}

func (w *RotatingWriter) prune() {
	if w.maxAge <= 0 {
		return
	}
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -w.maxAge)
	for _, m := range matches {
		if !strings.HasPrefix(m, w.path+".") {
			continue
		}
		if info, err := os.Stat(m); err == nil && info.ModTime().Before(cutoff) {
			os.Remove(m)
		}
	}
}
