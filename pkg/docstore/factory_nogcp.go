//go:build !gcp

package docstore

import (
	"context"
	"fmt"

	"github.com/complianceai/certpipe/pkg/config"
)

func newGCSStoreFromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	return nil, fmt.Errorf("GCS storage is not enabled in this build (use -tags gcp)")
}
