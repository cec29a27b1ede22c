// Package blob abstracts the object store that holds uploaded archives and
// published prototype files.
package blob

import (
	"context"
	"errors"
	"strings"
)

var ErrNotFound = errors.New("blob: object not found")

// Store is implemented by the Supabase storage client, the S3 client and the
// in-memory store used by tests and local runs.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, keys ...string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// URL returns an address a browser can load the object from.
	URL(ctx context.Context, key string) (string, error)
}

// JoinURL appends a slash-separated key to a base URL.
func JoinURL(base, key string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(key, "/")
}
