package artifact

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-bootstrap/errors"
)

var emptyModule = []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}

func TestResolve(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		base     string
		path     string
		wantType string
		wantLoc  string
	}{
		{"default path", "", "", "file", DefaultPath},
		{"directory base", dir, "app.wasm", "file", filepath.Join(dir, "app.wasm")},
		{"nested relative", dir, "bin/app.wasm", "file", filepath.Join(dir, "bin", "app.wasm")},
		{"absolute path ignores base", dir, "/opt/app.wasm", "file", "/opt/app.wasm"},
		{"file url base", "file:///srv/site", "app.wasm", "file", "/srv/site/app.wasm"},
		{"http base with slash", "https://example.com/app/", "shared_memory.wasm", "http", "https://example.com/app/shared_memory.wasm"},
		{"http base page", "https://example.com/app/index.html", "shared_memory.wasm", "http", "https://example.com/app/shared_memory.wasm"},
		{"http base parent ref", "https://example.com/app/", "../lib/x.wasm", "http", "https://example.com/lib/x.wasm"},
		{"absolute url path", dir, "http://cdn.example.com/x.wasm", "http", "http://cdn.example.com/x.wasm"},
		{"file url path", "", "file:///tmp/x.wasm", "file", "/tmp/x.wasm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Resolve(tt.base, tt.path)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			switch tt.wantType {
			case "file":
				if _, ok := src.(*FileSource); !ok {
					t.Fatalf("got %T, want *FileSource", src)
				}
			case "http":
				if _, ok := src.(*HTTPSource); !ok {
					t.Fatalf("got %T, want *HTTPSource", src)
				}
			}
			if src.Location() != tt.wantLoc {
				t.Errorf("Location = %q, want %q", src.Location(), tt.wantLoc)
			}
		})
	}
}

func TestResolve_UnsupportedScheme(t *testing.T) {
	_, err := Resolve("ftp://example.com/app/", "x.wasm")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseResolve, Kind: errors.KindUnsupported}) {
		t.Fatalf("err = %v, want resolve/unsupported", err)
	}
}

func TestFileSource_Fetch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.wasm"), emptyModule, 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := Resolve(dir, "app.wasm")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(data) != len(emptyModule) {
		t.Errorf("got %d bytes, want %d", len(data), len(emptyModule))
	}

	t.Run("missing", func(t *testing.T) {
		src := &FileSource{Path: filepath.Join(dir, "nope.wasm")}
		_, err := src.Fetch(ctx)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFetch, Kind: errors.KindNotFound}) {
			t.Fatalf("err = %v, want fetch/not_found", err)
		}
		if !stderrors.Is(err, os.ErrNotExist) {
			t.Error("cause should be os.ErrNotExist")
		}
	})

	t.Run("too large", func(t *testing.T) {
		src := &FileSource{Path: filepath.Join(dir, "app.wasm"), MaxBytes: 4}
		_, err := src.Fetch(ctx)
		if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseFetch, Kind: errors.KindTooLarge}) {
			t.Fatalf("err = %v, want fetch/too_large", err)
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := src.Fetch(cctx)
		if !stderrors.Is(err, context.Canceled) {
			t.Fatalf("err = %v, want context.Canceled cause", err)
		}
	})
}

func TestHTTPSource_Fetch(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/shared_memory.wasm":
			w.Header().Set("Content-Type", "application/wasm")
			_, _ = w.Write(emptyModule)
		case "/app/broken.wasm":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	base := srv.URL + "/app/index.html"

	src, err := Resolve(base, "", WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	data, err := src.Fetch(ctx)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if err := Validate(data); err != nil {
		t.Errorf("Validate: %v", err)
	}

	tests := []struct {
		path string
		kind errors.Kind
		code int
	}{
		{"missing.wasm", errors.KindNotFound, http.StatusNotFound},
		{"broken.wasm", errors.KindTransport, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			src, err := Resolve(base, tt.path, WithHTTPClient(srv.Client()))
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			_, err = src.Fetch(ctx)
			var e *errors.Error
			if !stderrors.As(err, &e) {
				t.Fatalf("err = %v, want *errors.Error", err)
			}
			if e.Phase != errors.PhaseFetch || e.Kind != tt.kind {
				t.Errorf("got %s/%s, want fetch/%s", e.Phase, e.Kind, tt.kind)
			}
			if e.Value != tt.code {
				t.Errorf("Value = %v, want %d", e.Value, tt.code)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		kind errors.Kind
	}{
		{"core module", emptyModule, ""},
		{"short", []byte{0x00, 0x61}, errors.KindInvalidData},
		{"bad magic", []byte{0x7f, 'E', 'L', 'F', 0x01, 0x00, 0x00, 0x00}, errors.KindInvalidData},
		{"component", []byte{0x00, 0x61, 0x73, 0x6D, 0x0d, 0x00, 0x01, 0x00}, errors.KindUnsupported},
		{"version zero", []byte{0x00, 0x61, 0x73, 0x6D, 0x00, 0x00, 0x00, 0x00}, errors.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.data)
			if tt.kind == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseValidate, Kind: tt.kind}) {
				t.Errorf("err = %v, want validate/%s", err, tt.kind)
			}
		})
	}

	if !IsComponent([]byte{0x00, 0x61, 0x73, 0x6D, 0x0d, 0x00, 0x01, 0x00}) {
		t.Error("IsComponent should detect component header")
	}
	if IsComponent(emptyModule) {
		t.Error("IsComponent should not match core module")
	}
}
