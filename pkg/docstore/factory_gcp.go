//go:build gcp

package docstore

import (
	"context"
	"fmt"

	"github.com/complianceai/certpipe/pkg/config"
)

func newGCSStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	if cfg.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET is required for gcs storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.StorageBucket})
}
