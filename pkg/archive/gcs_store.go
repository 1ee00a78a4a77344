//go:build gcp

package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSStore implements Store using Google Cloud Storage. Artifacts
// are keyed by their SHA-256 hash.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string // Optional key prefix (e.g., "evidence/")
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string // Optional key prefix
}

// NewGCSStore creates a new GCS-backed archive store. Credentials
// come from Application Default Credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStore{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

// Store persists data to GCS and returns its content hash.
func (s *GCSStore) Store(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	hashStr := hex.EncodeToString(sum[:])
	prefixedHash := "sha256:" + hashStr

	objectPath := s.prefix + hashStr + ".blob"

	// Idempotent: skip upload if the object already exists.
	obj := s.client.Bucket(s.bucket).Object(objectPath)
	if _, err := obj.Attrs(ctx); err == nil {
		return prefixedHash, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs close failed: %w", err)
	}

	return prefixedHash, nil
}

// Get retrieves data from GCS by its content hash.
func (s *GCSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return nil, err
	}
	objectPath := s.prefix + rawHash + ".blob"

	reader, err := s.client.Bucket(s.bucket).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs get failed for %s: %w", hash, err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

// Exists checks if an artifact exists in GCS.
func (s *GCSStore) Exists(ctx context.Context, hash string) (bool, error) {
	rawHash, err := parseHash(hash)
	if err != nil {
		return false, err
	}
	objectPath := s.prefix + rawHash + ".blob"

	_, err = s.client.Bucket(s.bucket).Object(objectPath).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

// Delete removes an artifact from GCS.
func (s *GCSStore) Delete(ctx context.Context, hash string) error {
	rawHash, err := parseHash(hash)
	if err != nil {
		return err
	}
	objectPath := s.prefix + rawHash + ".blob"

	err = s.client.Bucket(s.bucket).Object(objectPath).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", hash, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
