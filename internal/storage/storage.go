// Package storage keeps exported contention snapshots in object storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/lockgraph/pkg/config"
	apperrors "github.com/lockgraph/pkg/errors"
)

// Storage defines the interface for archive storage operations.
type Storage interface {
	// Upload stores the content of reader under key.
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Download opens the object stored under key.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object at key. Deleting a missing object is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Exists checks if an object exists at the specified key.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns the keys below prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// GetURL returns the URL for the specified key (if applicable).
	GetURL(key string) string
}

// StorageType represents the type of storage backend.
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeCOS   StorageType = "cos"
)

// NewStorage creates a new Storage instance based on the configuration.
func NewStorage(cfg *config.StorageConfig) (Storage, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	switch StorageType(cfg.Type) {
	case StorageTypeCOS:
		return NewCOSStorage(&COSConfig{
			Bucket:    cfg.Bucket,
			Region:    cfg.Region,
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
			Domain:    cfg.Domain,
			Scheme:    cfg.Scheme,
			BaseURL:   cfg.BaseURL,
		})
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// ValidateConfig validates the storage configuration.
func ValidateConfig(cfg *config.StorageConfig) error {
	if cfg == nil {
		return apperrors.New(apperrors.CodeConfigError, "storage config is nil")
	}

	storageType := StorageType(cfg.Type)
	if storageType == "" {
		storageType = StorageTypeLocal
	}

	switch storageType {
	case StorageTypeCOS:
		if cfg.Bucket == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS bucket is required")
		}
		if cfg.Region == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS region is required")
		}
		if cfg.SecretID == "" || cfg.SecretKey == "" {
			return apperrors.New(apperrors.CodeConfigError, "COS credentials are required")
		}
	case StorageTypeLocal:
		if cfg.LocalPath == "" {
			return apperrors.New(apperrors.CodeConfigError, "local storage path is required")
		}
	default:
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported storage type: %s", cfg.Type)
	}

	return nil
}

// CleanKey normalizes an object key. Keys are slash separated, relative and
// may not climb above the root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(strings.ReplaceAll(key, "\\", "/"))
	cleaned := path.Clean("/" + key)
	if key == "" || cleaned == "/" {
		return "", apperrors.New(apperrors.CodeInvalidInput, "empty storage key")
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", apperrors.Newf(apperrors.CodeInvalidInput, "storage key escapes root: %s", key)
		}
	}
	return strings.TrimPrefix(cleaned, "/"), nil
}

func storageError(op, key string, err error) error {
	return apperrors.Wrap(apperrors.CodeStorageError, fmt.Sprintf("failed to %s %s", op, key), err)
}
