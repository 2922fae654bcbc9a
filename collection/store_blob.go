package collection

import (
	"context"
	"time"
)

// listMaxKeys bounds a listing rebuild to a single page of remote keys.
// Namespaces beyond this are truncated; the rebuild cost stays bounded and a
// later snapshot load re-reconciles.
const listMaxKeys = 1000

// BlobObjectInfo describes a remote object.
type BlobObjectInfo struct {
	Key       string
	UpdatedAt time.Time
	Size      int64
}

// BlobStore is the remote object-store surface the index consumes: small-blob
// get/put plus a bounded key listing. Retries and timeouts at the transport
// layer are the implementation's concern.
type BlobStore interface {
	// Get downloads a blob. Returns ErrBlobNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes a blob in full; partial writes must never become visible.
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// List returns up to listMaxKeys objects under prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]BlobObjectInfo, error)
}
