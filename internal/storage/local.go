package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/cv-screener/internal/common"
)

type localStore struct {
	baseDir string
}

// NewLocalStore stores files under baseDir, creating it if needed.
func NewLocalStore(baseDir string) (FileStore, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("baseDir is empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}
	return &localStore{baseDir: baseDir}, nil
}

func (s *localStore) Save(ctx context.Context, filePath string, reader io.Reader, _ int64) (int64, string, error) {
	if err := ctx.Err(); err != nil {
		return 0, "", err
	}
	fullPath, err := s.fullFilePath(filePath)
	if err != nil {
		return 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, "", common.PersistenceError("mkdir", err)
	}

	tempPath := fullPath + ".tmp-" + fmt.Sprint(time.Now().UnixNano())
	f, err := os.Create(tempPath)
	if err != nil {
		return 0, "", common.PersistenceError("create temp file", err)
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tempPath)
	}()

	hasher := sha256.New()
	written, err := io.Copy(f, io.TeeReader(reader, hasher))
	if err != nil {
		return 0, "", common.PersistenceError("write file", err)
	}
	if err := f.Close(); err != nil {
		return 0, "", common.PersistenceError("close file", err)
	}
	if err := os.Rename(tempPath, fullPath); err != nil {
		return 0, "", common.PersistenceError("rename temp file", err)
	}
	return written, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *localStore) Open(ctx context.Context, filePath string) (io.ReadCloser, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	fullPath, err := s.fullFilePath(filePath)
	if err != nil {
		return nil, 0, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, fmt.Errorf("%w: file %s", common.ErrNotFound, filePath)
		}
		return nil, 0, common.PersistenceError("stat file", err)
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, 0, common.PersistenceError("open file", err)
	}
	return f, info.Size(), nil
}

func (s *localStore) Delete(ctx context.Context, filePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fullPath, err := s.fullFilePath(filePath)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return common.PersistenceError("remove file", err)
	}
	return nil
}

func (s *localStore) fullFilePath(filePath string) (string, error) {
	clean, err := cleanPath(filePath)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}
