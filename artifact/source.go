// Package artifact locates and reads the binary module a bootstrap loads.
//
// A Source is resolved from a deployment location (a directory, a file://
// URL or an http(s):// URL) and a path relative to it, the same way a
// browser resolves a relative fetch against the page that issued it.
package artifact

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/wippyai/wasm-bootstrap/errors"
)

// DefaultPath is the artifact path used when none is configured.
const DefaultPath = "pkg/shared_memory_bg.wasm"

// DefaultMaxBytes caps artifact size at 256 MiB.
const DefaultMaxBytes int64 = 256 << 20

// Source reads a binary artifact.
type Source interface {
	Fetch(ctx context.Context) ([]byte, error)
	Location() string
}

type options struct {
	client   *http.Client
	maxBytes int64
}

// Option configures Resolve.
type Option func(*options)

// WithHTTPClient sets the client used for http(s) locations.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithTimeout sets a request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.client = &http.Client{Timeout: d}
		}
	}
}

// WithMaxBytes limits how many bytes a fetch may return. Zero or negative
// keeps DefaultMaxBytes.
func WithMaxBytes(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBytes = n
		}
	}
}

// Resolve builds a Source for path relative to base.
//
// An absolute URL in path ignores base. An http(s) base resolves path by
// URL reference resolution, so "https://host/app/index.html" and
// "https://host/app/" both put "x.wasm" at "https://host/app/x.wasm".
// A file:// base or plain directory joins path onto it; an empty base is
// the working directory.
func Resolve(base, path string, opts ...Option) (Source, error) {
	o := options{
		client:   http.DefaultClient,
		maxBytes: DefaultMaxBytes,
	}
	for _, opt := range opts {
		opt(&o)
	}

	path = strings.TrimSpace(path)
	if path == "" {
		path = DefaultPath
	}

	if u, err := url.Parse(path); err == nil && u.IsAbs() {
		return sourceForURL(u, o)
	}

	base = strings.TrimSpace(base)
	if base == "" {
		return &FileSource{Path: filepath.Clean(path), MaxBytes: o.maxBytes}, nil
	}

	bu, err := url.Parse(base)
	if err != nil || !bu.IsAbs() || len(bu.Scheme) == 1 {
		// plain filesystem path; single-letter schemes are Windows drives
		return &FileSource{Path: joinFile(base, path), MaxBytes: o.maxBytes}, nil
	}

	switch bu.Scheme {
	case "file":
		return &FileSource{Path: joinFile(bu.Path, path), MaxBytes: o.maxBytes}, nil
	case "http", "https":
		ref, err := url.Parse(path)
		if err != nil {
			return nil, errors.New(errors.PhaseResolve, errors.KindInvalidInput).
				Location(path).
				Cause(err).
				Detail("parse artifact path").
				Build()
		}
		return sourceForURL(bu.ResolveReference(ref), o)
	default:
		return nil, errors.Unsupported(errors.PhaseResolve, fmt.Sprintf("deployment location scheme %q", bu.Scheme))
	}
}

func sourceForURL(u *url.URL, o options) (Source, error) {
	switch u.Scheme {
	case "http", "https":
		return &HTTPSource{URL: u.String(), Client: o.client, MaxBytes: o.maxBytes}, nil
	case "file":
		return &FileSource{Path: filepath.FromSlash(u.Path), MaxBytes: o.maxBytes}, nil
	default:
		return nil, errors.Unsupported(errors.PhaseResolve, fmt.Sprintf("artifact scheme %q", u.Scheme))
	}
}

func joinFile(dir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(filepath.FromSlash(dir), filepath.FromSlash(path))
}

// FileSource reads an artifact from the local filesystem.
type FileSource struct {
	Path     string
	MaxBytes int64
}

func (s *FileSource) Location() string {
	return s.Path
}

func (s *FileSource) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Fetch(s.Path, err)
	}

	f, err := os.Open(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.PhaseFetch, errors.KindNotFound).
				Location(s.Path).
				Cause(err).
				Detail("artifact does not exist").
				Build()
		}
		return nil, errors.Fetch(s.Path, err)
	}
	defer f.Close()

	return readLimited(f, s.MaxBytes, s.Path)
}

// HTTPSource fetches an artifact over HTTP.
type HTTPSource struct {
	Client   *http.Client
	URL      string
	MaxBytes int64
}

func (s *HTTPSource) Location() string {
	return s.URL
}

func (s *HTTPSource) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, errors.New(errors.PhaseFetch, errors.KindInvalidInput).
			Location(s.URL).
			Cause(err).
			Detail("build request").
			Build()
	}
	req.Header.Set("Accept", "application/wasm")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Fetch(s.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := errors.KindTransport
		if resp.StatusCode == http.StatusNotFound {
			kind = errors.KindNotFound
		}
		return nil, errors.New(errors.PhaseFetch, kind).
			Location(s.URL).
			Value(resp.StatusCode).
			Detail("unexpected status %d", resp.StatusCode).
			Build()
	}

	return readLimited(resp.Body, s.MaxBytes, s.URL)
}

func readLimited(r io.Reader, limit int64, location string) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, errors.Fetch(location, err)
	}
	if int64(len(data)) > limit {
		return nil, errors.New(errors.PhaseFetch, errors.KindTooLarge).
			Location(location).
			Value(limit).
			Detail("artifact exceeds %d bytes", limit).
			Build()
	}
	return data, nil
}
