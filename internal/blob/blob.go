// Package blob defines URL-addressable storage for room images.
package blob

import (
	"context"
	"errors"
	"net/http"
	"path"
	"strings"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
)

// Store keeps opaque objects under slash separated keys. Put returns the public URL.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
	// Handler serves stored objects. It is mounted under MediaPrefix.
	Handler() http.Handler
}

const MediaPrefix = "/media/"

// CleanKey rejects keys that would escape the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	cleaned := path.Clean(key)

	if key == "" || cleaned != key || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidKey
	}

	return cleaned, nil
}

// URL joins a public base url with the media path of key.
func URL(base, key string) string {
	return strings.TrimRight(base, "/") + MediaPrefix + key
}

// KeyFromURL is the inverse of URL for urls produced by this service.
func KeyFromURL(url string) (string, bool) {
	idx := strings.Index(url, MediaPrefix)
	if idx < 0 {
		return "", false
	}

	return url[idx+len(MediaPrefix):], true
}
