package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType represents the type of archive storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStore creates an archive store of the given type. Bucket names,
// regions, and credentials for the cloud backends still come from the
// environment.
func NewStore(ctx context.Context, storeType StoreType) (Store, error) {
	switch storeType {
	case StoreTypeFS, "":
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported archive storage type: %s", storeType)
	}
}

// NewStoreFromEnv creates an archive store based on environment variables.
//
// Environment variables:
//   - AEGIS_ARCHIVE_TYPE: "fs" (default), "s3", or "gcs"
//   - AEGIS_DATA_DIR: Base directory for filesystem store (default: "data")
//
// For S3:
//   - AEGIS_S3_REGION or AWS_REGION
//   - AEGIS_S3_BUCKET (required)
//   - AEGIS_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - AEGIS_S3_PREFIX (optional)
//
// For GCS:
//   - AEGIS_GCS_BUCKET (required)
//   - AEGIS_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	return NewStore(ctx, StoreType(os.Getenv("AEGIS_ARCHIVE_TYPE")))
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("AEGIS_DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "archive"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("AEGIS_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AEGIS_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("AEGIS_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	cfg := S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("AEGIS_S3_ENDPOINT"),
		Prefix:   os.Getenv("AEGIS_S3_PREFIX"),
	}
	return NewS3Store(ctx, cfg)
}
