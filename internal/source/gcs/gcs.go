// Package gcs implements the object source on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/dwsmith1983/gtfsload/internal/source"
)

var _ source.Store = (*Store)(nil)

// GCSAPI is the subset of the Cloud Storage client used by Store.
type GCSAPI interface {
	List(ctx context.Context, bucket, prefix string) ([]source.Object, error)
	Read(ctx context.Context, bucket, name string) ([]byte, error)
	Copy(ctx context.Context, bucket, src, dst string) error
	Delete(ctx context.Context, bucket, name string) error
}

// Store reads cached objects from one bucket.
type Store struct {
	api    GCSAPI
	bucket string
}

// New creates a Store backed by a real Cloud Storage client.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating storage client: %w", err)
	}
	return NewFromClient(&clientWrapper{client: client}, bucket), nil
}

// NewFromClient creates a Store from an API implementation (useful for testing).
func NewFromClient(api GCSAPI, bucket string) *Store {
	return &Store{api: api, bucket: bucket}
}

// List implements source.Store.
func (s *Store) List(ctx context.Context, prefix string, limit int) ([]source.Object, error) {
	objs, err := s.api.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing gs://%s/%s: %w", s.bucket, prefix, err)
	}
	return source.SortAndLimit(objs, limit), nil
}

// Read implements source.Store.
func (s *Store) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.api.Read(ctx, s.bucket, name)
	if err != nil {
		return nil, fmt.Errorf("reading gs://%s/%s: %w", s.bucket, name, err)
	}
	return data, nil
}

// Delete implements source.Store.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := s.api.Delete(ctx, s.bucket, name); err != nil {
		return fmt.Errorf("deleting gs://%s/%s: %w", s.bucket, name, err)
	}
	return nil
}

// Move implements source.Store.
func (s *Store) Move(ctx context.Context, src, dst string) error {
	if err := s.api.Copy(ctx, s.bucket, src, dst); err != nil {
		return fmt.Errorf("copying gs://%s/%s: %w", s.bucket, src, err)
	}
	return s.Delete(ctx, src)
}

type clientWrapper struct {
	client *storage.Client
}

func (w *clientWrapper) List(ctx context.Context, bucket, prefix string) ([]source.Object, error) {
	it := w.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []source.Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		if attrs.Name == "" || attrs.Name[len(attrs.Name)-1] == '/' {
			continue
		}
		out = append(out, source.Object{
			Name:     attrs.Name,
			Updated:  attrs.Updated,
			Size:     attrs.Size,
			Metadata: attrs.Metadata,
		})
	}
	return out, nil
}

func (w *clientWrapper) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := w.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (w *clientWrapper) Copy(ctx context.Context, bucket, src, dst string) error {
	b := w.client.Bucket(bucket)
	_, err := b.Object(dst).CopierFrom(b.Object(src)).Run(ctx)
	return err
}

func (w *clientWrapper) Delete(ctx context.Context, bucket, name string) error {
	err := w.client.Bucket(bucket).Object(name).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}
