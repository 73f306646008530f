package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/tencentyun/cos-go-sdk-v5"

	apperrors "github.com/lockgraph/pkg/errors"
)

// COSConfig holds COS-specific configuration.
type COSConfig struct {
	Bucket    string
	Region    string
	SecretID  string
	SecretKey string
	Domain    string // e.g., "myqcloud.com"
	Scheme    string // e.g., "https" or "http"

	// BaseURL replaces the derived bucket URL, e.g. for a custom domain.
	BaseURL string
}

// COSStorage implements Storage interface for Tencent Cloud COS.
type COSStorage struct {
	client    *cos.Client
	bucketURL *url.URL
}

// NewCOSStorage creates a new COSStorage instance.
func NewCOSStorage(cfg *COSConfig) (*COSStorage, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, fmt.Errorf("bucket and region are required for COS storage")
	}
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("credentials are required for COS storage")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "myqcloud.com"
	}
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "https"
	}

	raw := cfg.BaseURL
	if raw == "" {
		raw = fmt.Sprintf("%s://%s.cos.%s.%s", scheme, cfg.Bucket, cfg.Region, domain)
	}
	bucketURL, err := url.Parse(strings.TrimSuffix(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse bucket URL: %w", err)
	}

	serviceURL, err := url.Parse(fmt.Sprintf("%s://cos.%s.%s", scheme, cfg.Region, domain))
	if err != nil {
		return nil, fmt.Errorf("failed to parse service URL: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{
		BucketURL:  bucketURL,
		ServiceURL: serviceURL,
	}, &http.Client{
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &COSStorage{client: client, bucketURL: bucketURL}, nil
}

// Upload stores reader under key with the given content type.
func (s *COSStorage) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	var opt *cos.ObjectPutOptions
	if contentType != "" {
		opt = &cos.ObjectPutOptions{
			ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: contentType},
		}
	}
	if _, err := s.client.Object.Put(ctx, key, reader, opt); err != nil {
		return storageError("upload", key, err)
	}
	return nil
}

// Download opens the object stored under key.
func (s *COSStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	key, err := CleanKey(key)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "object not found: %s", key)
		}
		return nil, storageError("download", key, err)
	}
	return resp.Body, nil
}

// Delete deletes the object at the specified key.
func (s *COSStorage) Delete(ctx context.Context, key string) error {
	key, err := CleanKey(key)
	if err != nil {
		return err
	}
	if _, err := s.client.Object.Delete(ctx, key, nil); err != nil && !cos.IsNotFoundError(err) {
		return storageError("delete", key, err)
	}
	return nil
}

// Exists checks if an object exists at the specified key.
func (s *COSStorage) Exists(ctx context.Context, key string) (bool, error) {
	key, err := CleanKey(key)
	if err != nil {
		return false, err
	}
	ok, err := s.client.Object.IsExist(ctx, key)
	if err != nil {
		return false, storageError("stat", key, err)
	}
	return ok, nil
}

// List pages through the bucket listing below prefix.
func (s *COSStorage) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	opt := &cos.BucketGetOptions{Prefix: prefix, MaxKeys: 1000}
	for {
		res, _, err := s.client.Bucket.Get(ctx, opt)
		if err != nil {
			return nil, storageError("list", prefix, err)
		}
		for _, obj := range res.Contents {
			keys = append(keys, obj.Key)
		}
		if !res.IsTruncated || res.NextMarker == "" {
			break
		}
		opt.Marker = res.NextMarker
	}
	sort.Strings(keys)
	return keys, nil
}

// GetURL returns the public URL for the specified key.
func (s *COSStorage) GetURL(key string) string {
	return s.bucketURL.String() + "/" + strings.TrimPrefix(key, "/")
}
