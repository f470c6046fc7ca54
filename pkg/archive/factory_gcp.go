//go:build gcp

package archive

import "context"

func newGCSStore(ctx context.Context, bucket string) (ObjectStore, error) {
	return NewGCSStore(ctx, GCSConfig{Bucket: bucket, Prefix: "attestations/"})
}
