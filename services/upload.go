package services

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"attendanceTracker/logger"
)

var ErrUploadTooLarge = errors.New("uploaded file is too large")

// UploadedFile is a roster file staged on disk. Whoever holds it must call
// Release exactly once; later calls are no-ops.
type UploadedFile struct {
	Path string
	Name string

	logger *logger.Logger
	once   sync.Once
}

// SaveUpload copies r into dir under a random name that keeps the original
// extension. maxBytes <= 0 disables the size check.
func SaveUpload(dir, name string, r io.Reader, maxBytes int64, log *logger.Logger) (*UploadedFile, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(name))
	path := filepath.Join(dir, "roster-"+uuid.NewString()+ext)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create upload file: %w", err)
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, copyErr := io.Copy(out, src)
	closeErr := out.Close()

	if copyErr == nil && maxBytes > 0 && n > maxBytes {
		copyErr = ErrUploadTooLarge
	}
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(path)
		return nil, copyErr
	}

	if log == nil {
		log = logger.GetInstance()
	}
	return &UploadedFile{Path: path, Name: name, logger: log}, nil
}

// OpenUpload wraps a file that is already on disk.
func OpenUpload(path, name string, log *logger.Logger) *UploadedFile {
	if log == nil {
		log = logger.GetInstance()
	}
	return &UploadedFile{Path: path, Name: name, logger: log}
}

// Release removes the file. A failed removal is only logged.
func (f *UploadedFile) Release() {
	if f == nil {
		return
	}
	f.once.Do(func() {
		if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			f.logger.Warnf("Could not delete uploaded file %s: %v", f.Path, err)
		}
	})
}
