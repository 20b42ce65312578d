package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when an object does not exist in its bucket.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStore is the bucket-addressed blob store used for staging and library
// assets.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error)
	Open(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Copy(ctx context.Context, srcBucket, srcKey, dstBucket, dstKey string) error
	Delete(ctx context.Context, bucket, key string) error
	Signer
}

// Signer issues time-limited read URLs.
type Signer interface {
	SignedURL(ctx context.Context, bucket, key string, ttl time.Duration) (string, time.Time, error)
}

// ContentTypeForKey guesses a MIME type from the key's extension.
func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	if i := strings.Index(s, "?"); i >= 0 {
		s = s[:i]
	}
	switch path.Ext(s) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mov":
		return "video/quicktime"
	case "":
		return ""
	default:
		return mime.TypeByExtension(path.Ext(s))
	}
}

// ExtensionForMIME returns the file extension (with dot) for a MIME type.
func ExtensionForMIME(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "video/mp4":
		return ".mp4"
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	default:
		return ""
	}
}
