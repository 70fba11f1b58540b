package storage

import (
	"context"
	"errors"
	"io"
)

// StorageType names an object storage backend; it doubles as the URL scheme the blob
// fetcher routes to it.
type StorageType string

const (
	StorageTypeS3    StorageType = "s3"
	StorageTypeMinio StorageType = "minio"
)

var ErrObjectNotFound = errors.New("object not found")

// Storage reads objects. An empty bucket means the backend's configured default bucket.
type Storage interface {
	Type() StorageType
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}
