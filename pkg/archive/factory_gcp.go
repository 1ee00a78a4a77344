//go:build gcp

package archive

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("AEGIS_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AEGIS_GCS_BUCKET is required for GCS storage")
	}

	cfg := GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("AEGIS_GCS_PREFIX"),
	}
	return NewGCSStore(ctx, cfg)
}
