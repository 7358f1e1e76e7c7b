// Package uploads keeps uploaded lead files on local disk between upload and processing.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/clover/pkg/sheet"
)

var (
	ErrTooLarge        = errors.New("uploaded file exceeds the size limit")
	ErrInvalidFilename = errors.New("invalid upload filename")
	ErrNotFound        = errors.New("uploaded file not found")
)

type StoredFile struct {
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	Path         string `json:"-"`
	Size         int64  `json:"size"`
}

type Store struct {
	dir     string
	maxSize int64
	logger  ectologger.Logger
}

func NewStore(dir string, maxSize int64, logger ectologger.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir %s: %w", dir, err)
	}
	return &Store{
		dir:     dir,
		maxSize: maxSize,
		logger:  logger,
	}, nil
}

// Save writes r under a generated name that keeps the original extension.
func (s *Store) Save(ctx context.Context, originalName string, r io.Reader) (*StoredFile, error) {
	if _, err := sheet.DetectFormat(originalName); err != nil {
		return nil, err
	}

	filename := uuid.New().String() + strings.ToLower(filepath.Ext(originalName))
	path := filepath.Join(s.dir, filename)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload file: %w", err)
	}

	limit := r
	if s.maxSize > 0 {
		limit = io.LimitReader(r, s.maxSize+1)
	}

	size, copyErr := io.Copy(out, limit)
	closeErr := out.Close()
	if copyErr == nil && s.maxSize > 0 && size > s.maxSize {
		copyErr = ErrTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, copyErr
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"filename":      filename,
		"original_name": originalName,
		"size":          size,
	}).Info("Stored uploaded file")

	return &StoredFile{
		Filename:     filename,
		OriginalName: originalName,
		Path:         path,
		Size:         size,
	}, nil
}

// Path resolves a stored filename, refusing anything that is not a plain file name.
func (s *Store) Path(filename string) (string, error) {
	if filename == "" || filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		return "", ErrInvalidFilename
	}

	path := filepath.Join(s.dir, filename)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

// Remove deletes a stored file. A missing file is not an error.
func (s *Store) Remove(ctx context.Context, filename string) error {
	if filename == "" || filename != filepath.Base(filename) {
		return ErrInvalidFilename
	}

	err := os.Remove(filepath.Join(s.dir, filename))
	if err != nil && !os.IsNotExist(err) {
		s.logger.WithContext(ctx).WithError(err).WithField("filename", filename).Warn("Failed to remove uploaded file")
		return err
	}
	return nil
}
