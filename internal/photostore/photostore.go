// Package photostore keeps the original tree photos out of the portfolio file.
// A TreeRecord's ImageReference is the storage key returned by Save.
package photostore

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
)

var (
	ErrNotFound   = goerr.New("photo not found")
	ErrInvalidKey = goerr.New("invalid photo key")
)

type PhotoStore interface {
	Save(ctx context.Context, prefix, mimeType string, r io.Reader) (storageKey string, err error)
	Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, storageKey string) error
}

// NewKey returns a fresh flat storage key such as "tree_<uuid>.jpg".
func NewKey(prefix, mimeType string) string {
	if prefix == "" {
		prefix = "photo"
	}
	return prefix + "_" + uuid.NewString() + ExtForMIME(mimeType)
}

// ValidKey rejects empty keys and anything that could address outside the
// store.
func ValidKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return goerr.Wrap(ErrInvalidKey, "photo key must be a plain file name", goerr.V("key", key))
	}
	return nil
}

func ExtForMIME(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func MIMEForKey(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
