// Package manifest serves the AI plugin manifest at
// /.well-known/ai-plugin.json. The document is returned byte for byte from
// its source on every request, so edits show up without a restart.
package manifest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"

	"github.com/kuitang/entrystore/internal/obs"
	"github.com/kuitang/entrystore/internal/s3client"
)

// Path is the well-known route the manifest is served on.
const Path = "/.well-known/ai-plugin.json"

// ErrNotFound is returned by a Source that has no manifest.
var ErrNotFound = errors.New("manifest not found")

// Source loads the raw manifest document.
type Source interface {
	Load(ctx context.Context) ([]byte, error)
}

// FileSource reads the manifest from a local file on each Load.
type FileSource struct {
	Path string
}

func (s FileSource) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %q: %w", s.Path, err)
	}
	return data, nil
}

// S3Source reads the manifest from an object on each Load.
type S3Source struct {
	Client *s3client.Client
	Key    string
}

func (s S3Source) Load(ctx context.Context) ([]byte, error) {
	data, err := s.Client.GetObject(ctx, s.Key)
	if errors.Is(err, s3client.ErrObjectNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Handler serves the manifest from src with Content-Type application/json.
func Handler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := src.Load(r.Context())
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			if errors.Is(err, ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"manifest not found"}`))
				return
			}
			obs.From(r.Context()).Error("manifest: load failed", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal error"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})
}
