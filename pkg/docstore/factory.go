package docstore

import (
	"context"
	"fmt"
	"os"

	"github.com/complianceai/certpipe/pkg/config"
)

// NewStoreFromConfig creates a document store for the configured backend.
// GCS requires the gcp build tag.
func NewStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageBackend {
	case "", "file":
		return NewFileStore(cfg.StorageDir)
	case "s3":
		if cfg.StorageBucket == "" {
			return nil, fmt.Errorf("STORAGE_BUCKET is required for s3 storage")
		}
		return NewS3Store(ctx, S3StoreConfig{Bucket: cfg.StorageBucket, Region: regionFromEnv()})
	case "gcs":
		return newGCSStoreFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.StorageBackend)
	}
}

func regionFromEnv() string {
	if r := os.Getenv("AWS_REGION"); r != "" {
		return r
	}
	return "eu-west-2"
}
