package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// GCSStore implements ObjectStore on Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
}

// NewGCSStore creates a storage client. credentials may be a JSON document, a
// file path, or empty to use application default credentials.
func NewGCSStore(ctx context.Context, credentials string) (*GCSStore, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if creds := strings.TrimSpace(credentials); creds != "" {
		if strings.HasPrefix(creds, "{") {
			opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
		} else {
			opts = append(opts, option.WithCredentialsFile(creds))
		}
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage: create gcs client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

// Put uploads r to bucket/key.
func (s *GCSStore) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	if contentType == "" {
		contentType = ContentTypeForKey(key)
	}
	if contentType != "" {
		w.ContentType = contentType
	}
	n, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("storage: write gcs object %s/%s: %w", bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("storage: close gcs writer: %w", err)
	}
	return n, nil
}

// Open returns a reader; the caller must close it.
func (s *GCSStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapGCSError(err, "open", bucket, key)
	}
	return r, nil
}

// Copy performs a server-side copy.
func (s *GCSStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	src := s.client.Bucket(srcBucket).Object(srcKey)
	dst := s.client.Bucket(dstBucket).Object(dstKey)
	copier := dst.CopierFrom(src)
	if ct := ContentTypeForKey(dstKey); ct != "" {
		copier.ContentType = ct
	}
	if _, err := copier.Run(ctx); err != nil {
		return mapGCSError(err, "copy", srcBucket, srcKey)
	}
	return nil
}

// Delete removes bucket/key.
func (s *GCSStore) Delete(ctx context.Context, bucket, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return mapGCSError(err, "delete", bucket, key)
	}
	return nil
}

// SignedURL issues a V4 GET URL.
func (s *GCSStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error) {
	expires := time.Now().Add(ttl)
	u, err := s.client.Bucket(bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: expires,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("storage: sign %s/%s: %w", bucket, key, err)
	}
	return u, expires, nil
}

func mapGCSError(err error, op, bucket, key string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ErrObjectNotFound
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
		return ErrObjectNotFound
	}
	return fmt.Errorf("storage: %s gcs object %s/%s: %w", op, bucket, key, err)
}

var _ ObjectStore = (*GCSStore)(nil)
