package archive

import (
	"context"
	"fmt"
	"os"
)

// Backend selects the archive storage backend.
type Backend string

// Supported backends.
const (
	BackendFS  Backend = "fs"
	BackendS3  Backend = "s3"
	BackendGCS Backend = "gcs"
)

// NewStore creates an object store for the backend. For fs the bucket
// is a directory path; for s3 and gcs it is the bucket name. S3 region
// and endpoint come from AWS_REGION / ARCHIVE_S3_ENDPOINT.
func NewStore(ctx context.Context, backend Backend, bucket string) (ObjectStore, error) {
	switch backend {
	case BackendFS, "":
		if bucket == "" {
			bucket = "data/archive"
		}
		return NewFileStore(bucket)
	case BackendS3:
		if bucket == "" {
			return nil, fmt.Errorf("bucket is required for the s3 backend")
		}
		region := os.Getenv("AWS_REGION")
		if region == "" {
			region = "us-east-1"
		}
		return NewS3Store(ctx, S3Config{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("ARCHIVE_S3_ENDPOINT"),
			Prefix:   "attestations/",
		})
	case BackendGCS:
		if bucket == "" {
			return nil, fmt.Errorf("bucket is required for the gcs backend")
		}
		return newGCSStore(ctx, bucket)
	default:
		return nil, fmt.Errorf("unsupported archive backend: %s", backend)
	}
}
