// Package storage persists uploaded and generated files under
// store-relative keys. Database rows only ever hold keys; absolute URLs are
// built per request.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/esignature/internal/apperr"
	"github.com/nikhilbhutani/esignature/internal/config"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = fmt.Errorf("object %w", apperr.ErrSourceNotFound)

type Storage interface {
	Put(ctx context.Context, key string, data io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns an absolute URL for key. base is the scheme and host of
	// the current request and is ignored by backends with their own host.
	URL(base, key string) string
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocal(cfg.Root, cfg.PublicURL)
	case "s3":
		return NewS3(ctx, cfg.Bucket, cfg.S3Region, cfg.PublicURL)
	case "supabase":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// ReadAll fetches the whole object stored at key.
func ReadAll(ctx context.Context, s Storage, key string) ([]byte, error) {
	rc, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, apperr.ErrSourceNotFound)
}

const (
	documentsPrefix  = "documents"
	signaturesPrefix = "signatures"
	signedPrefix     = "signed"
	tmpPrefix        = "tmp"
)

// CleanKey normalises key to a slash separated relative path and rejects
// keys that escape the store.
func CleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", apperr.Validation("empty storage key")
	}
	return k, nil
}

// SafeBase returns the file name of name with characters that upset URLs
// replaced.
func SafeBase(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
}

func DocumentKey(now time.Time, filename string) string {
	return fmt.Sprintf("%s/%d_%s", documentsPrefix, now.UnixNano(), SafeBase(filename))
}

func SignatureKey(userID uuid.UUID, filename string) string {
	return fmt.Sprintf("%s/%s/%s%s", signaturesPrefix, userID, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}

// SignedKey names a rendered artifact after the file it was rendered from.
// The source key's own timestamp is replaced, not nested.
func SignedKey(now time.Time, sourceKey string) string {
	return fmt.Sprintf("%s/%d_%s", signedPrefix, now.UnixNano(), trimStamp(SafeBase(sourceKey)))
}

// trimStamp drops one leading "<digits>_" prefix added by DocumentKey or
// SignedKey.
func trimStamp(base string) string {
	i := strings.IndexByte(base, '_')
	if i <= 0 || i == len(base)-1 {
		return base
	}
	for _, c := range base[:i] {
		if c < '0' || c > '9' {
			return base
		}
	}
	return base[i+1:]
}

// TempKey names a short lived upload such as a signing candidate.
func TempKey(filename string) string {
	return fmt.Sprintf("%s/%s%s", tmpPrefix, uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}
