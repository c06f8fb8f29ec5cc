package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/wasm-bootstrap/artifact"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wasmboot.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Artifact != artifact.DefaultPath {
		t.Errorf("Artifact = %q, want %q", cfg.Artifact, artifact.DefaultPath)
	}
	if cfg.Entry != engine.DefaultEntry {
		t.Errorf("Entry = %q, want %q", cfg.Entry, engine.DefaultEntry)
	}
	if cfg.Artifact != "pkg/shared_memory_bg.wasm" || cfg.Entry != "run" {
		t.Errorf("Artifact/Entry = %q/%q, want pkg/shared_memory_bg.wasm/run", cfg.Artifact, cfg.Entry)
	}
	if !cfg.Validate {
		t.Error("Validate should default to true")
	}
	if err := cfg.Check(); err != nil {
		t.Errorf("Check: %v", err)
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
base = "https://example.com/app/"
artifact = "bin/app.wasm"
entry = "main"
wasi = "off"
threads = true
memory_limit_pages = 1024
args = ["app", "--fast"]
fetch_timeout = "5s"
max_bytes = 4096
validate = false

[env]
MODE = "test"

[log]
level = "debug"
format = "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Base != "https://example.com/app/" {
		t.Errorf("Base = %q", cfg.Base)
	}
	if cfg.Artifact != "bin/app.wasm" || cfg.Entry != "main" || cfg.WASI != "off" {
		t.Errorf("Artifact/Entry/WASI = %q/%q/%q", cfg.Artifact, cfg.Entry, cfg.WASI)
	}
	if !cfg.Threads || cfg.MemoryLimitPages != 1024 {
		t.Errorf("Threads/MemoryLimitPages = %v/%d", cfg.Threads, cfg.MemoryLimitPages)
	}
	if len(cfg.Args) != 2 || cfg.Args[1] != "--fast" {
		t.Errorf("Args = %v", cfg.Args)
	}
	if cfg.Env["MODE"] != "test" {
		t.Errorf("Env = %v", cfg.Env)
	}
	if cfg.FetchTimeout != 5*time.Second || cfg.MaxBytes != 4096 || cfg.Validate {
		t.Errorf("FetchTimeout/MaxBytes/Validate = %v/%d/%v", cfg.FetchTimeout, cfg.MaxBytes, cfg.Validate)
	}
	if cfg.LogLevel != "debug" || cfg.LogFormat != "json" {
		t.Errorf("log = %q/%q", cfg.LogLevel, cfg.LogFormat)
	}

	ec, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if ec.Entry != "main" || ec.WASI != engine.WASIOff || !ec.EnableThreads || ec.MemoryLimitPages != 1024 {
		t.Errorf("engine config = %+v", ec)
	}

	src, err := cfg.Source()
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if src.Location() != "https://example.com/app/bin/app.wasm" {
		t.Errorf("Location = %q", src.Location())
	}
}

func TestLoad_BaseDefaultsToConfigDir(t *testing.T) {
	path := writeConfig(t, `artifact = "app.wasm"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Base != filepath.Dir(path) {
		t.Errorf("Base = %q, want %q", cfg.Base, filepath.Dir(path))
	}
	if cfg.Entry != engine.DefaultEntry {
		t.Errorf("Entry = %q, want default", cfg.Entry)
	}

	src, err := cfg.Source()
	if err != nil {
		t.Fatalf("Source: %v", err)
	}
	if src.Location() != filepath.Join(filepath.Dir(path), "app.wasm") {
		t.Errorf("Location = %q", src.Location())
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		kind errors.Kind
	}{
		{"syntax", `artifact = `, errors.KindInvalidData},
		{"unknown key", `artefact = "x.wasm"`, errors.KindInvalidInput},
		{"bad timeout", `fetch_timeout = "soon"`, errors.KindInvalidInput},
		{"bad wasi", `wasi = "maybe"`, errors.KindInvalidInput},
		{"empty entry", `entry = ""`, errors.KindInvalidInput},
		{"bad log format", "[log]\nformat = \"xml\"", errors.KindInvalidInput},
		{"memory limit too large", `memory_limit_pages = 70000`, errors.KindInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseConfig, Kind: tt.kind}) {
				t.Errorf("err = %v, want config/%s", err, tt.kind)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !stderrors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist cause", err)
	}
}
