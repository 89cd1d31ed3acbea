package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/avstrong/bnb/internal/blob"
	"github.com/avstrong/bnb/internal/logger"
)

type Config struct {
	L         *logger.Logger
	Dir       string
	PublicURL string
}

// Store writes blobs below a local directory.
type Store struct {
	l         *logger.Logger
	dir       string
	publicURL string
}

func New(conf Config) (*Store, error) {
	if err := os.MkdirAll(conf.Dir, 0o755); err != nil { //nolint:gomnd
		return nil, fmt.Errorf("create blob dir %s: %w", conf.Dir, err)
	}

	return &Store{l: conf.L, dir: conf.Dir, publicURL: conf.PublicURL}, nil
}

func (s *Store) path(key string) (string, error) {
	key, err := blob.CleanKey(key)
	if err != nil {
		return "", err
	}

	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *Store) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	p, err := s.path(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil { //nolint:gomnd
		return "", fmt.Errorf("create dir for %s: %w", key, err)
	}

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil { //nolint:gomnd
		return "", fmt.Errorf("write %s: %w", key, err)
	}

	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("rename %s: %w", key, err)
	}

	s.l.LogDebugf("Stored blob %s (%d bytes)", key, len(data))

	return blob.URL(s.publicURL, key), nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			return fmt.Errorf("delete %s: %w", key, blob.ErrNotFound)
		}

		return fmt.Errorf("delete %s: %w", key, err)
	}

	return nil
}

func (s *Store) Handler() http.Handler {
	return http.StripPrefix(blob.MediaPrefix, http.FileServer(http.Dir(s.dir)))
}
