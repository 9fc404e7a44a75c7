package domain

import "context"

// BlobWriter stores an object in blob storage under the given key.
type BlobWriter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
