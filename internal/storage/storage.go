// Package storage keeps uploaded document bytes addressed by their job file path.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

// FileStore saves and reads document bytes. Paths are slash-separated and relative.
type FileStore interface {
	// Save writes the content at filePath and returns the byte count and its sha256 hex digest.
	Save(ctx context.Context, filePath string, r io.Reader, size int64) (int64, string, error)
	Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error)
	Delete(ctx context.Context, filePath string) error
}

// ReadAll loads a whole stored file, refusing files larger than max bytes (0 = no limit).
func ReadAll(ctx context.Context, fs FileStore, filePath string, max int64) ([]byte, error) {
	rc, size, err := fs.Open(ctx, filePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if max > 0 && size > max {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit %d", common.ErrInvalidInput, filePath, size, max)
	}
	var r io.Reader = rc
	if max > 0 {
		r = io.LimitReader(rc, max+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, common.PersistenceError("read "+filePath, err)
	}
	if max > 0 && int64(len(data)) > max {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", common.ErrInvalidInput, filePath, max)
	}
	return data, nil
}

// cleanPath rejects empty paths and paths escaping the store root.
func cleanPath(filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", fmt.Errorf("%w: empty file path", common.ErrInvalidInput)
	}
	clean := path.Clean(strings.ReplaceAll(filePath, "\\", "/"))
	clean = strings.TrimLeft(clean, "/")
	if clean == "" || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: invalid file path %q", common.ErrInvalidInput, filePath)
	}
	return clean, nil
}
