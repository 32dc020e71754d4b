// Package storage archives raw upstream payloads (INLABS edition bundles) by
// URI. A prefix is either s3://bucket/path or file:///dir.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ObjectStore reads and writes raw archives by URI.
type ObjectStore interface {
	// Get returns a reader for the given URI and its size when known.
	Get(ctx context.Context, uri string) (io.ReadCloser, int64, error)
	// Put writes content to the given URI; returns the final URI.
	Put(ctx context.Context, uri string, body io.Reader) (string, error)
}

// Open picks the store for an archive prefix. An empty prefix disables
// archiving and returns nil.
func Open(ctx context.Context, prefix string) (ObjectStore, error) {
	switch {
	case prefix == "":
		return nil, nil
	case strings.HasPrefix(prefix, "s3://"):
		s3s, err := NewS3(ctx)
		if err != nil {
			return nil, err
		}
		return s3s, nil
	case strings.HasPrefix(prefix, "file://"):
		return Local(), nil
	default:
		return nil, fmt.Errorf("archive prefix %q: want s3:// or file://", prefix)
	}
}

// Join appends path segments to an archive prefix such as s3://bucket/raw
// or file:///var/lib/procsync.
func Join(prefix string, parts ...string) string {
	out := strings.TrimRight(prefix, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}

// LocalStore keeps archives on the local filesystem.
type LocalStore struct{}

// Local returns a store that only accepts file:// URIs.
func Local() LocalStore { return LocalStore{} }

func localPath(uri string) (string, error) {
	p, ok := strings.CutPrefix(uri, "file://")
	if !ok || p == "" {
		return "", fmt.Errorf("not a file uri: %q", uri)
	}
	return p, nil
}

func (LocalStore) Get(_ context.Context, uri string) (io.ReadCloser, int64, error) {
	p, err := localPath(uri)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, err
	}
	var size int64
	if st, err := f.Stat(); err == nil {
		size = st.Size()
	}
	return f, size, nil
}

// Put writes through a temporary file so a reader never sees a partial
// archive.
func (LocalStore) Put(_ context.Context, uri string, body io.Reader) (string, error) {
	p, err := localPath(uri)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), filepath.Base(p)+".*.part")
	if err != nil {
		return "", err
	}
	_, err = io.Copy(tmp, body)
	err = errors.Join(err, tmp.Close())
	if err == nil {
		err = os.Rename(tmp.Name(), p)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}
	return uri, nil
}
