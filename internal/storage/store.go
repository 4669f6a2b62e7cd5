// Package storage persists uploaded beneficiary files.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrInvalidPath is returned for keys that escape the storage root.
var ErrInvalidPath = errors.New("storage: invalid path")

// FileInfo describes a stored file.
type FileInfo struct {
	URL      string `json:"url"`
	Path     string `json:"path"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// Store is implemented by every storage backend.
type Store interface {
	Save(ctx context.Context, key string, file io.Reader, contentType string) (*FileInfo, error)
	Delete(ctx context.Context, key string) error
	// URL returns where the file can be fetched. Remote backends return an
	// absolute https URL; the local backend returns a path under its base URL.
	URL(key string) string
}

// CleanKey normalises a storage key and rejects traversal.
func CleanKey(key string) (string, error) {
	key = strings.TrimLeft(strings.ReplaceAll(key, "\\", "/"), "/")
	if key == "" {
		return "", ErrInvalidPath
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

func baseName(key string) string {
	return key[strings.LastIndex(key, "/")+1:]
}
