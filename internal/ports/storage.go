package ports

import (
	"context"
	"io"
	"strings"
	"time"
)

type PutObjectInput struct {
	Bucket          string
	ObjectKey       string
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
	Reader          io.Reader
	// Size is the exact length of Reader, or -1 when unknown.
	Size int64
}

type PutObjectOutput struct {
	ObjectKey string
	ETag      string
	Size      int64
}

// ObjectInfo is what a head request returns.
type ObjectInfo struct {
	Bucket          string
	ObjectKey       string
	ETag            string
	Size            int64
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
	LastModified    time.Time
}

// StorageProvider: implementations are s3 (any S3-compatible endpoint),
// localfs and gdrive. Missing objects are reported as NOT_FOUND errors.
type StorageProvider interface {
	Provider() string

	PutObject(ctx context.Context, in PutObjectInput) (PutObjectOutput, error)
	GetObject(ctx context.Context, bucket, objectKey string) (io.ReadCloser, ObjectInfo, error)
	HeadObject(ctx context.Context, bucket, objectKey string) (ObjectInfo, error)
	DeleteObject(ctx context.Context, bucket, objectKey string) error

	// PublicURL is the address clients use to fetch the object.
	PublicURL(ctx context.Context, bucket, objectKey string) (string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}

const amzMetaPrefix = "x-amz-meta-"

// MetadataValue looks up a user metadata key case-insensitively, accepting
// both "model" and "X-Amz-Meta-Model" spellings.
func MetadataValue(md map[string]string, key string) (string, bool) {
	key = strings.ToLower(key)
	for k, v := range md {
		k = strings.TrimPrefix(strings.ToLower(k), amzMetaPrefix)
		if k == key {
			return v, true
		}
	}
	return "", false
}
