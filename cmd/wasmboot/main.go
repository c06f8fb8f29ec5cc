package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/artifact"
	"github.com/wippyai/wasm-bootstrap/bootstrap"
	"github.com/wippyai/wasm-bootstrap/config"
	"github.com/wippyai/wasm-bootstrap/engine"
	"github.com/wippyai/wasm-bootstrap/lifecycle"
)

type cliFlags struct {
	config       *string
	base         *string
	artifact     *string
	entry        *string
	wasi         *string
	env          *string
	argv         *string
	logLevel     *string
	logFormat    *string
	memoryPages  *uint
	fetchTimeout *time.Duration
	maxBytes     *int64
	threads      *bool
	noValidate   *bool
	list         *bool
	interactive  *bool
}

func registerFlags(fs *flag.FlagSet) *cliFlags {
	return &cliFlags{
		config:       fs.String("config", "", "Path to TOML configuration file"),
		base:         fs.String("base", "", "Deployment location the artifact path is resolved against (dir, file:// or http(s) URL)"),
		artifact:     fs.String("artifact", artifact.DefaultPath, "Artifact path or URL"),
		entry:        fs.String("entry", engine.DefaultEntry, "Entry export to call"),
		wasi:         fs.String("wasi", string(engine.WASIAuto), "WASI preview1 host module: auto, on or off"),
		env:          fs.String("env", "", "Environment variables (KEY=VAL,KEY2=VAL2)"),
		argv:         fs.String("argv", "", "Guest arguments (comma-separated)"),
		logLevel:     fs.String("log-level", "info", "Log level (debug, info, warn, error)"),
		logFormat:    fs.String("log-format", "auto", "Log format (auto, console, json)"),
		memoryPages:  fs.Uint("memory-pages", 0, "Memory limit per instance in 64KiB pages (0 = runtime default)"),
		fetchTimeout: fs.Duration("fetch-timeout", 30*time.Second, "Timeout for fetching the artifact over HTTP"),
		maxBytes:     fs.Int64("max-bytes", artifact.DefaultMaxBytes, "Maximum artifact size in bytes"),
		threads:      fs.Bool("threads", false, "Enable threads (shared memory and atomics)"),
		noValidate:   fs.Bool("no-validate", false, "Skip the binary header check before instantiation"),
		list:         fs.Bool("list", false, "List imports, exports and memories and exit"),
		interactive:  fs.Bool("i", false, "Interactive mode with TUI"),
	}
}

// resolve builds the effective configuration: defaults, then the config
// file, then flags explicitly set on the command line.
func (f *cliFlags) resolve(fs *flag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	if *f.config != "" {
		loaded, err := config.Load(*f.config)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "base":
			cfg.Base = *f.base
		case "artifact":
			cfg.Artifact = *f.artifact
		case "entry":
			cfg.Entry = *f.entry
		case "wasi":
			cfg.WASI = *f.wasi
		case "env":
			if cfg.Env == nil {
				cfg.Env = make(map[string]string)
			}
			for k, v := range parseEnv(*f.env) {
				cfg.Env[k] = v
			}
		case "argv":
			cfg.Args = splitList(*f.argv)
		case "log-level":
			cfg.LogLevel = *f.logLevel
		case "log-format":
			cfg.LogFormat = *f.logFormat
		case "memory-pages":
			cfg.MemoryLimitPages = uint32(*f.memoryPages)
		case "fetch-timeout":
			cfg.FetchTimeout = *f.fetchTimeout
		case "max-bytes":
			cfg.MaxBytes = *f.maxBytes
		case "threads":
			cfg.Threads = *f.threads
		case "no-validate":
			cfg.Validate = !*f.noValidate
		}
	})

	// uint32 conversion above would wrap larger values past Check.
	if *f.memoryPages > engine.MaxMemoryPages {
		return config.Config{}, fmt.Errorf("memory-pages %d exceeds %d", *f.memoryPages, engine.MaxMemoryPages)
	}

	return cfg, cfg.Check()
}

func main() {
	flags := registerFlags(flag.CommandLine)
	flag.Usage = func() {
		out := flag.CommandLine.Output()
		fmt.Fprintln(out, "Usage: wasmboot [-config file.toml] [-base dir|url] [-artifact path] [-entry name]")
		fmt.Fprintln(out, "       wasmboot -artifact <file.wasm> -list")
		fmt.Fprintln(out, "       wasmboot -artifact <file.wasm> -i  (interactive mode)")
		fmt.Fprintln(out)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := flags.resolve(flag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *flags.interactive {
		if err := runInteractive(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat, stderrIsTerminal())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	engine.SetLogger(logger)

	if *flags.list {
		if err := list(context.Background(), cfg, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	out, err := run(context.Background(), cfg, runEnv{
		logger: logger,
		sink:   bootstrap.NewLogSink(logger),
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if !out.OK() {
		// Already reported through the log sink.
		os.Exit(1)
	}
}

// runEnv carries the host side of a run: where diagnostics go and what the
// guest sees as its standard streams.
type runEnv struct {
	logger   *zap.Logger
	sink     bootstrap.Sink
	observer func(bootstrap.Stage)
	stdin    io.Reader
	stdout   io.Writer
	stderr   io.Writer
}

// run wires the loader, the artifact source and the bootstrap onto a load
// hook, fires it and waits for the outcome. Setup failures are returned as
// errors; failures inside the bootstrap chain go to env.sink and are carried
// on the outcome.
func run(ctx context.Context, cfg config.Config, env runEnv) (*bootstrap.Outcome, error) {
	logger := env.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ec, err := cfg.Engine()
	if err != nil {
		return nil, err
	}
	ec.Stdin = env.stdin
	ec.Stdout = env.stdout
	ec.Stderr = env.stderr

	ld, err := engine.New(ctx, ec)
	if err != nil {
		return nil, fmt.Errorf("create loader: %w", err)
	}
	defer ld.Close(ctx)

	src, err := cfg.Source()
	if err != nil {
		return nil, err
	}

	opts := []bootstrap.Option{
		bootstrap.WithLogger(logger),
		bootstrap.WithValidation(cfg.Validate),
	}
	if env.observer != nil {
		opts = append(opts, bootstrap.WithObserver(env.observer))
	}
	b := bootstrap.New(ld, src, env.sink, opts...)

	hook := lifecycle.New(logger)
	if err := hook.OnLoad("wasm-bootstrap", b.Handler()); err != nil {
		return nil, err
	}
	hook.Fire(ctx)

	out := b.Wait()
	if out.OK() {
		logger.Debug("entry point returned",
			zap.String("location", out.Location),
			zap.String("entry", cfg.Entry),
			zap.Duration("duration", out.Duration))
	}
	return out, nil
}

func list(ctx context.Context, cfg config.Config, w io.Writer) error {
	src, err := cfg.Source()
	if err != nil {
		return err
	}

	data, err := src.Fetch(ctx)
	if err != nil {
		return err
	}
	if err := artifact.Validate(data); err != nil {
		return err
	}

	ec, err := cfg.Engine()
	if err != nil {
		return err
	}
	ld, err := engine.New(ctx, ec)
	if err != nil {
		return fmt.Errorf("create loader: %w", err)
	}
	defer ld.Close(ctx)

	info, err := ld.Describe(ctx, data)
	if err != nil {
		return err
	}

	printInfo(w, src.Location(), len(data), info, cfg.Entry)
	return nil
}

func printInfo(w io.Writer, location string, size int, info *engine.ModuleInfo, entry string) {
	fmt.Fprintf(w, "Module: %s\n", location)
	fmt.Fprintf(w, "Size: %d bytes\n", size)

	fmt.Fprintf(w, "\nImports:\n")
	if len(info.Imports) == 0 {
		fmt.Fprintf(w, "  (none)\n")
	}
	for _, f := range info.Imports {
		fmt.Fprintf(w, "  %s\n", f)
	}

	fmt.Fprintf(w, "\nExports:\n")
	for _, f := range info.Exports {
		marker := ""
		if f.Name == entry {
			marker = "  [entry]"
		}
		fmt.Fprintf(w, "  %s%s\n", f, marker)
	}

	if len(info.Memories) > 0 {
		fmt.Fprintf(w, "\nMemories:\n")
		for _, m := range info.Memories {
			limit := "unbounded"
			if m.HasMax {
				limit = fmt.Sprintf("max %d", m.Max)
			}
			kind := "exported"
			if m.Imported {
				kind = "imported"
			}
			fmt.Fprintf(w, "  %s: min %d, %s pages (%s)\n", m.Name, m.Min, limit, kind)
		}
	}

	if !info.HasExport(entry) {
		fmt.Fprintf(w, "\nWarning: entry export %q not found\n", entry)
	}
}

func parseEnv(s string) map[string]string {
	env := make(map[string]string)
	for _, kv := range splitList(s) {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}
	return env
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
