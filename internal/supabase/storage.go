package supabase

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	storage "github.com/supabase-community/storage-go"

	"prototype-versions-backend/internal/blob"
)

const listPageSize = 1000

// StorageClient implements blob.Store on a Supabase storage bucket.
type StorageClient struct {
	client  *storage.Client
	bucket  string
	baseURL string
}

var _ blob.Store = (*StorageClient)(nil)

func NewStorageClient(supabaseURL, serviceRoleKey, bucket string) *StorageClient {
	baseURL := strings.TrimSuffix(supabaseURL, "/")
	client := storage.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil)

	return &StorageClient{
		client:  client,
		bucket:  bucket,
		baseURL: baseURL,
	}
}

func (s *StorageClient) Put(ctx context.Context, key string, data []byte, contentType string) error {
	upsert := true
	_, err := withContext(ctx, func() (storage.FileUploadResponse, error) {
		return s.client.UploadFile(s.bucket, key, bytes.NewReader(data), storage.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

func (s *StorageClient) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := withContext(ctx, func() ([]byte, error) {
		return s.client.DownloadFile(s.bucket, key)
	})
	if err != nil {
		if isNotFound(err) {
			return nil, blob.ErrNotFound
		}
		return nil, fmt.Errorf("failed to download %s: %w", key, err)
	}
	return data, nil
}

func (s *StorageClient) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := withContext(ctx, func() ([]storage.FileUploadResponse, error) {
		return s.client.RemoveFile(s.bucket, keys)
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d objects: %w", len(keys), err)
	}
	return nil
}

// List walks the folder tree under prefix. Supabase lists one level at a
// time and reports folders as entries without metadata.
func (s *StorageClient) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	pending := []string{strings.TrimSuffix(prefix, "/")}
	for len(pending) > 0 {
		dir := pending[0]
		pending = pending[1:]

		for offset := 0; ; offset += listPageSize {
			files, err := withContext(ctx, func() ([]storage.FileObject, error) {
				return s.client.ListFiles(s.bucket, dir, storage.FileSearchOptions{
					Limit:  listPageSize,
					Offset: offset,
				})
			})
			if err != nil {
				return nil, fmt.Errorf("failed to list %s: %w", dir, err)
			}
			for _, f := range files {
				full := path.Join(dir, f.Name)
				if f.Metadata == nil {
					pending = append(pending, full)
					continue
				}
				keys = append(keys, full)
			}
			if len(files) < listPageSize {
				break
			}
		}
	}
	return keys, nil
}

func (s *StorageClient) URL(_ context.Context, key string) (string, error) {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, key), nil
}

// withContext runs a storage-go call, which takes no context, and abandons
// it when ctx is done.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case r := <-ch:
		return r.val, r.err
	}
}

func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404")
}
