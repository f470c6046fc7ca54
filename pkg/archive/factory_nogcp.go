//go:build !gcp

package archive

import (
	"context"
	"fmt"
)

func newGCSStore(context.Context, string) (ObjectStore, error) {
	return nil, fmt.Errorf("GCS archive is not enabled in this build (use -tags gcp)")
}
