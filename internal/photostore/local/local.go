// Package local stores photos as flat files under one directory.
package local

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/vbonduro/treebank/internal/photostore"
)

type Store struct {
	basePath string
}

func New(basePath string) (*Store, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, goerr.Wrap(err, "failed to create photo directory", goerr.V("path", basePath))
	}
	return &Store{basePath: basePath}, nil
}

func (s *Store) Save(ctx context.Context, prefix, mimeType string, r io.Reader) (string, error) {
	key := photostore.NewKey(prefix, mimeType)
	filePath, err := s.safeJoin(key)
	if err != nil {
		return "", err
	}

	f, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600) // #nosec G304 - path checked by safeJoin
	if err != nil {
		return "", goerr.Wrap(err, "failed to create photo file", goerr.V("key", key))
	}
	if _, err := io.Copy(f, r); err != nil {
		if cerr := f.Close(); cerr != nil {
			slog.Error("failed to close file after write error", "error", cerr)
		}
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after write error", "error", rerr)
		}
		return "", goerr.Wrap(err, "failed to write photo", goerr.V("key", key))
	}
	if err := f.Close(); err != nil {
		if rerr := os.Remove(filePath); rerr != nil {
			slog.Error("failed to remove file after close error", "error", rerr)
		}
		return "", goerr.Wrap(err, "failed to close photo file", goerr.V("key", key))
	}
	return key, nil
}

func (s *Store) Get(ctx context.Context, storageKey string) (io.ReadCloser, string, error) {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return nil, "", err
	}

	f, err := os.Open(filePath) // #nosec G304 - path checked by safeJoin
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", goerr.Wrap(photostore.ErrNotFound, "no photo for key", goerr.V("key", storageKey))
		}
		return nil, "", goerr.Wrap(err, "failed to open photo", goerr.V("key", storageKey))
	}
	return f, photostore.MIMEForKey(filePath), nil
}

func (s *Store) Delete(ctx context.Context, storageKey string) error {
	filePath, err := s.safeJoin(storageKey)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return goerr.Wrap(photostore.ErrNotFound, "no photo for key", goerr.V("key", storageKey))
		}
		return goerr.Wrap(err, "failed to delete photo", goerr.V("key", storageKey))
	}
	return nil
}

// safeJoin resolves storageKey relative to basePath and rejects directory traversal.
func (s *Store) safeJoin(storageKey string) (string, error) {
	if err := photostore.ValidKey(storageKey); err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", goerr.Wrap(err, "invalid base path")
	}

	absPath, err := filepath.Abs(filepath.Join(s.basePath, storageKey))
	if err != nil {
		return "", goerr.Wrap(err, "invalid path")
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", goerr.Wrap(photostore.ErrInvalidKey, "path traversal attempt", goerr.V("key", storageKey))
	}
	return absPath, nil
}
