// Package config loads the bootstrap host configuration from defaults, an
// optional TOML file and command-line overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/wippyai/wasm-bootstrap/artifact"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/errors"
)

// Config is the resolved host configuration.
type Config struct {
	Env              map[string]string
	Base             string
	Artifact         string
	Entry            string
	WASI             string
	LogLevel         string
	LogFormat        string
	Args             []string
	FetchTimeout     time.Duration
	MaxBytes         int64
	MemoryLimitPages uint32
	Threads          bool
	Validate         bool
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Artifact:     artifact.DefaultPath,
		Entry:        engine.DefaultEntry,
		WASI:         string(engine.WASIAuto),
		LogLevel:     "info",
		LogFormat:    "auto",
		FetchTimeout: 30 * time.Second,
		MaxBytes:     artifact.DefaultMaxBytes,
		Validate:     true,
	}
}

type fileConfig struct {
	Env              map[string]string `toml:"env"`
	Base             string            `toml:"base"`
	Artifact         string            `toml:"artifact"`
	Entry            string            `toml:"entry"`
	WASI             string            `toml:"wasi"`
	FetchTimeout     string            `toml:"fetch_timeout"`
	Log              logConfig         `toml:"log"`
	Args             []string          `toml:"args"`
	MaxBytes         int64             `toml:"max_bytes"`
	MemoryLimitPages uint32            `toml:"memory_limit_pages"`
	Threads          bool              `toml:"threads"`
	Validate         bool              `toml:"validate"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Load reads path on top of Default. When the file does not set base, the
// deployment location is the directory containing the file.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidData).
			Location(path).
			Cause(err).
			Detail("decode config").
			Build()
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Location(path).
			Value(keys).
			Detail("unknown keys: %s", strings.Join(keys, ", ")).
			Build()
	}

	if meta.IsDefined("base") {
		cfg.Base = strings.TrimSpace(raw.Base)
	} else {
		cfg.Base = filepath.Dir(path)
	}

	if meta.IsDefined("artifact") {
		cfg.Artifact = strings.TrimSpace(raw.Artifact)
	}

	if meta.IsDefined("entry") {
		cfg.Entry = strings.TrimSpace(raw.Entry)
	}

	if meta.IsDefined("wasi") {
		cfg.WASI = strings.TrimSpace(raw.WASI)
	}

	if meta.IsDefined("threads") {
		cfg.Threads = raw.Threads
	}

	if meta.IsDefined("memory_limit_pages") {
		cfg.MemoryLimitPages = raw.MemoryLimitPages
	}

	if meta.IsDefined("args") {
		cfg.Args = raw.Args
	}

	if meta.IsDefined("env") {
		cfg.Env = raw.Env
	}

	if meta.IsDefined("fetch_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.FetchTimeout))
		if err != nil {
			return Config{}, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
				Location(path).
				Cause(err).
				Detail("parse fetch_timeout").
				Build()
		}
		cfg.FetchTimeout = d
	}

	if meta.IsDefined("max_bytes") {
		cfg.MaxBytes = raw.MaxBytes
	}

	if meta.IsDefined("validate") {
		cfg.Validate = raw.Validate
	}

	if meta.IsDefined("log", "level") {
		cfg.LogLevel = strings.TrimSpace(raw.Log.Level)
	}

	if meta.IsDefined("log", "format") {
		cfg.LogFormat = strings.TrimSpace(raw.Log.Format)
	}

	return cfg, cfg.Check()
}

// Check validates field values.
func (c Config) Check() error {
	if strings.TrimSpace(c.Artifact) == "" {
		return errors.InvalidInput(errors.PhaseConfig, "artifact must not be empty")
	}
	if strings.TrimSpace(c.Entry) == "" {
		return errors.InvalidInput(errors.PhaseConfig, "entry must not be empty")
	}
	if _, err := engine.ParseWASIMode(c.WASI); err != nil {
		return err
	}
	if c.FetchTimeout < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "fetch_timeout must not be negative")
	}
	if c.MemoryLimitPages > engine.MaxMemoryPages {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("memory_limit_pages %d exceeds %d", c.MemoryLimitPages, engine.MaxMemoryPages))
	}
	if c.MaxBytes < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max_bytes must not be negative")
	}
	switch c.LogFormat {
	case "", "auto", "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown log format %q", c.LogFormat))
	}
	return nil
}

// Engine converts c into loader configuration. Standard streams are left
// for the caller to set.
func (c Config) Engine() (*engine.Config, error) {
	mode, err := engine.ParseWASIMode(c.WASI)
	if err != nil {
		return nil, err
	}
	return &engine.Config{
		Entry:            c.Entry,
		WASI:             mode,
		Args:             c.Args,
		Env:              c.Env,
		MemoryLimitPages: c.MemoryLimitPages,
		EnableThreads:    c.Threads,
	}, nil
}

// Source resolves the artifact against the deployment location.
func (c Config) Source() (artifact.Source, error) {
	return artifact.Resolve(c.Base, c.Artifact,
		artifact.WithTimeout(c.FetchTimeout),
		artifact.WithMaxBytes(c.MaxBytes))
}
