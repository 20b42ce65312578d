package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FileStore persists objects onto the local filesystem, one directory per
// bucket. It is intended for development and test environments where an
// object storage service is not available. Signed URLs point at the API's
// /files route and carry an HMAC over bucket, key and expiry.
type FileStore struct {
	basePath string
	baseURL  string
	secret   []byte
	now      func() time.Time
}

// NewFileStore initializes a FileStore rooted at basePath.
func NewFileStore(basePath, baseURL string, secret []byte) (*FileStore, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return nil, errors.New("storage: base path is required")
	}
	if len(secret) == 0 {
		return nil, errors.New("storage: signing secret is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("storage: ensure base path: %w", err)
	}
	return &FileStore{
		basePath: basePath,
		baseURL:  strings.TrimRight(baseURL, "/"),
		secret:   secret,
		now:      time.Now,
	}, nil
}

// BasePath returns the configured root directory.
func (s *FileStore) BasePath() string {
	if s == nil {
		return ""
	}
	return s.basePath
}

// Put writes r at bucket/key, replacing any existing object.
func (s *FileStore) Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("storage: ensure directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("storage: create temp file: %w", err)
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp.Name())
		if copyErr != nil {
			return 0, fmt.Errorf("storage: write file: %w", copyErr)
		}
		return 0, fmt.Errorf("storage: close file: %w", closeErr)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("storage: commit file: %w", err)
	}
	return n, nil
}

// Open returns a reader for bucket/key.
func (s *FileStore) Open(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("storage: open file: %w", err)
	}
	return f, nil
}

// Copy duplicates an object across buckets.
func (s *FileStore) Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error {
	src, err := s.Open(ctx, srcBucket, srcKey)
	if err != nil {
		return err
	}
	defer src.Close()
	if _, err := s.Put(ctx, dstBucket, dstKey, src, ""); err != nil {
		return fmt.Errorf("storage: copy %s/%s -> %s/%s: %w", srcBucket, srcKey, dstBucket, dstKey, err)
	}
	return nil
}

// Delete removes bucket/key. A missing object yields ErrObjectNotFound.
func (s *FileStore) Delete(ctx context.Context, bucket, key string) error {
	fullPath, err := s.path(bucket, key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("storage: delete file: %w", err)
	}
	return nil
}

// SignedURL returns a /files URL valid for ttl.
func (s *FileStore) SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error) {
	cleanBucket, cleanKey, err := cleanPair(bucket, key)
	if err != nil {
		return "", time.Time{}, err
	}
	expires := s.now().Add(ttl).UTC().Truncate(time.Second)
	exp := strconv.FormatInt(expires.Unix(), 10)
	q := url.Values{}
	q.Set("exp", exp)
	q.Set("sig", s.sign(cleanBucket, cleanKey, exp))
	return fmt.Sprintf("%s/%s/%s?%s", s.baseURL, url.PathEscape(cleanBucket), escapeKey(cleanKey), q.Encode()), expires, nil
}

// Verify checks a signature produced by SignedURL.
func (s *FileStore) Verify(bucket, key, exp, sig string) error {
	cleanBucket, cleanKey, err := cleanPair(bucket, key)
	if err != nil {
		return err
	}
	unix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil {
		return errors.New("storage: invalid expiry")
	}
	if s.now().After(time.Unix(unix, 0)) {
		return errors.New("storage: url expired")
	}
	want := s.sign(cleanBucket, cleanKey, exp)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return errors.New("storage: invalid signature")
	}
	return nil
}

func (s *FileStore) sign(bucket, key, exp string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(bucket + "\n" + key + "\n" + exp))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *FileStore) path(bucket, key string) (string, error) {
	if s == nil {
		return "", errors.New("storage: no store configured")
	}
	cleanBucket, cleanKey, err := cleanPair(bucket, key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.basePath, cleanBucket, filepath.FromSlash(cleanKey)), nil
}

func cleanPair(bucket, key string) (string, string, error) {
	cleanBucket, err := sanitizeKey(bucket)
	if err != nil || strings.Contains(cleanBucket, "/") {
		return "", "", errors.New("storage: invalid bucket")
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return cleanBucket, cleanKey, nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}
	return cleaned, nil
}

var _ ObjectStore = (*FileStore)(nil)
