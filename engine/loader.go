package engine

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bootstrap/bootstrap"
	"github.com/wippyai/wasm-bootstrap/errors"
)

// MaxMemoryPages is the largest MemoryLimitPages a 32-bit memory allows
// (4 GiB).
const MaxMemoryPages = 1 << 16

// DefaultEntry is the export called by Run when Config.Entry is empty.
const DefaultEntry = "run"

// WASIMode controls when the WASI preview1 host module is provided.
type WASIMode string

const (
	WASIAuto WASIMode = "auto" // only when the module imports it
	WASIOn   WASIMode = "on"   // always, at loader creation
	WASIOff  WASIMode = "off"  // never; WASI imports are reported missing
)

// ParseWASIMode parses "auto", "on" or "off". Empty means auto.
func ParseWASIMode(s string) (WASIMode, error) {
	switch m := WASIMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return WASIAuto, nil
	case WASIAuto, WASIOn, WASIOff:
		return m, nil
	default:
		return "", errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown wasi mode %q", s))
	}
}

// Config holds configuration for loader creation
type Config struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Env map[string]string

	// Entry is the export invoked by Run. Defaults to "run"; WASI commands
	// use "_start".
	Entry string

	WASI WASIMode

	Args []string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (shared memory
	// and atomics).
	EnableThreads bool
}

func (c *Config) entry() string {
	if c.Entry == "" {
		return DefaultEntry
	}
	return c.Entry
}

// Loader compiles, instantiates and runs core wasm modules on wazero.
// It implements bootstrap.Loader.
type Loader struct {
	runtime  wazero.Runtime
	cfg      Config
	wasiMu   sync.Mutex
	wasiDone atomic.Bool
}

var _ bootstrap.Loader = (*Loader)(nil)

// New creates a loader with its own wazero runtime. A nil cfg uses defaults.
func New(ctx context.Context, cfg *Config) (*Loader, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}
	if c.WASI == "" {
		c.WASI = WASIAuto
	}
	if c.MemoryLimitPages > MaxMemoryPages {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Value(c.MemoryLimitPages).
			Detail("memory limit %d pages exceeds %d", c.MemoryLimitPages, MaxMemoryPages).
			Build()
	}
	if c.Stdout == nil {
		c.Stdout = os.Stdout
	}
	if c.Stderr == nil {
		c.Stderr = os.Stderr
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if c.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(c.MemoryLimitPages)
	}
	if c.EnableThreads {
		runtimeCfg = runtimeCfg.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}

	l := &Loader{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		cfg:     c,
	}

	if c.WASI == WASIOn {
		if err := l.initWASI(ctx); err != nil {
			_ = l.runtime.Close(ctx)
			return nil, err
		}
	}

	Logger().Debug("loader created",
		zap.Bool("threads", c.EnableThreads),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.String("wasi", string(c.WASI)),
		zap.String("entry", c.entry()))

	return l, nil
}

// Runtime exposes the underlying wazero runtime so callers can register
// extra host modules before instantiating.
func (l *Loader) Runtime() wazero.Runtime {
	return l.runtime
}

// Close releases the runtime and every module instantiated from it.
func (l *Loader) Close(ctx context.Context) error {
	return l.runtime.Close(ctx)
}

// initWASI instantiates the WASI singleton for this loader's runtime.
// Safe for concurrent calls.
func (l *Loader) initWASI(ctx context.Context) error {
	if l.wasiDone.Load() {
		return nil
	}

	l.wasiMu.Lock()
	defer l.wasiMu.Unlock()

	if l.wasiDone.Load() {
		return nil
	}

	if l.runtime.Module(wasi_snapshot_preview1.ModuleName) == nil {
		if _, err := wasi_snapshot_preview1.Instantiate(ctx, l.runtime); err != nil {
			return errors.New(errors.PhaseInstantiate, errors.KindInternal).
				Cause(err).
				Detail("instantiate %s", wasi_snapshot_preview1.ModuleName).
				Build()
		}
	}

	l.wasiDone.Store(true)
	return nil
}

// Instantiate compiles binary and instantiates it without running any
// start function. The result is an *Instance.
func (l *Loader) Instantiate(ctx context.Context, binary []byte) (bootstrap.Instance, error) {
	compiled, err := l.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Compile(err)
	}

	if err := l.provideImports(ctx, compiled); err != nil {
		_ = compiled.Close(ctx)
		return nil, err
	}

	modCfg := wazero.NewModuleConfig().
		WithName("").
		WithStartFunctions().
		WithArgs(l.cfg.Args...).
		WithStdout(l.cfg.Stdout).
		WithStderr(l.cfg.Stderr).
		WithSysWalltime().
		WithSysNanotime().
		WithRandSource(rand.Reader)
	if l.cfg.Stdin != nil {
		modCfg = modCfg.WithStdin(l.cfg.Stdin)
	}
	for _, k := range sortedKeys(l.cfg.Env) {
		modCfg = modCfg.WithEnv(k, l.cfg.Env[k])
	}

	mod, err := l.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		_ = compiled.Close(ctx)
		return nil, errors.Instantiation(err)
	}

	Logger().Debug("module instantiated",
		zap.String("name", compiled.Name()),
		zap.Int("exports", len(compiled.ExportedFunctions())))

	return &Instance{
		module:   mod,
		compiled: compiled,
		entry:    l.cfg.entry(),
	}, nil
}

// Run invokes the entry point of inst. inst must come from this loader's
// Instantiate.
func (l *Loader) Run(ctx context.Context, inst bootstrap.Instance) error {
	wi, ok := inst.(*Instance)
	if !ok || wi == nil {
		return errors.InvalidInput(errors.PhaseRun, fmt.Sprintf("instance %T was not created by this loader", inst))
	}
	return wi.Run(ctx)
}

// provideImports satisfies WASI imports when allowed and reports every
// imported function or memory no host module provides. Shared-memory
// builds commonly import env.memory.
func (l *Loader) provideImports(ctx context.Context, compiled wazero.CompiledModule) error {
	var missing []string
	for _, def := range compiled.ImportedFunctions() {
		modName, name, isImport := def.Import()
		if !isImport {
			continue
		}
		if modName == wasi_snapshot_preview1.ModuleName && l.cfg.WASI != WASIOff {
			if err := l.initWASI(ctx); err != nil {
				return err
			}
			continue
		}
		if l.runtime.Module(modName) != nil {
			continue
		}
		missing = append(missing, modName+"#"+name)
	}

	for _, def := range compiled.ImportedMemories() {
		modName, name, isImport := def.Import()
		if !isImport || l.runtime.Module(modName) != nil {
			continue
		}
		missing = append(missing, modName+"#"+name)
	}

	if len(missing) > 0 {
		return errors.New(errors.PhaseInstantiate, errors.KindMissingImport).
			Cause(errors.NewMissingImportsError(missing)).
			Detail("%d unresolved import(s)", len(missing)).
			Build()
	}
	return nil
}

// Describe compiles binary and lists its imports, exports and memories
// without instantiating it.
func (l *Loader) Describe(ctx context.Context, binary []byte) (*ModuleInfo, error) {
	compiled, err := l.runtime.CompileModule(ctx, binary)
	if err != nil {
		return nil, errors.Compile(err)
	}
	defer compiled.Close(ctx)

	info := &ModuleInfo{Name: compiled.Name()}

	for _, def := range compiled.ImportedFunctions() {
		modName, name, _ := def.Import()
		info.Imports = append(info.Imports, funcInfo(modName+"."+name, def))
	}

	for name, def := range compiled.ExportedFunctions() {
		info.Exports = append(info.Exports, funcInfo(name, def))
	}
	sort.Slice(info.Exports, func(i, j int) bool { return info.Exports[i].Name < info.Exports[j].Name })

	for _, def := range compiled.ImportedMemories() {
		modName, name, _ := def.Import()
		info.Memories = append(info.Memories, memoryInfo(modName+"."+name, true, def))
	}
	for name, def := range compiled.ExportedMemories() {
		info.Memories = append(info.Memories, memoryInfo(name, false, def))
	}
	sort.SliceStable(info.Memories, func(i, j int) bool { return info.Memories[i].Name < info.Memories[j].Name })

	return info, nil
}

// ModuleInfo summarizes a compiled module.
type ModuleInfo struct {
	Name     string
	Imports  []FunctionInfo
	Exports  []FunctionInfo
	Memories []MemoryInfo
}

// HasExport reports whether the module exports a function called name.
func (m *ModuleInfo) HasExport(name string) bool {
	for _, e := range m.Exports {
		if e.Name == name {
			return true
		}
	}
	return false
}

// FunctionInfo describes an imported or exported function.
type FunctionInfo struct {
	Name    string
	Params  []string
	Results []string
}

func (f FunctionInfo) String() string {
	s := f.Name + "(" + strings.Join(f.Params, ", ") + ")"
	if len(f.Results) > 0 {
		s += " -> " + strings.Join(f.Results, ", ")
	}
	return s
}

// MemoryInfo describes an imported or exported memory.
type MemoryInfo struct {
	Name     string
	Min      uint32
	Max      uint32
	HasMax   bool
	Imported bool
}

func funcInfo(name string, def api.FunctionDefinition) FunctionInfo {
	fi := FunctionInfo{Name: name}
	for _, t := range def.ParamTypes() {
		fi.Params = append(fi.Params, api.ValueTypeName(t))
	}
	for _, t := range def.ResultTypes() {
		fi.Results = append(fi.Results, api.ValueTypeName(t))
	}
	return fi
}

func memoryInfo(name string, imported bool, def api.MemoryDefinition) MemoryInfo {
	maxPages, hasMax := def.Max()
	return MemoryInfo{
		Name:     name,
		Min:      def.Min(),
		Max:      maxPages,
		HasMax:   hasMax,
		Imported: imported,
	}
}

// Instance is an instantiated module whose entry point has not run yet.
type Instance struct {
	module   api.Module
	compiled wazero.CompiledModule
	entry    string
	ran      atomic.Bool
	closed   atomic.Bool
}

// Module returns the underlying wazero module.
func (i *Instance) Module() api.Module {
	return i.module
}

// Entry returns the export name Run invokes.
func (i *Instance) Entry() string {
	return i.entry
}

// Memory returns the module's linear memory, or nil if it has none.
func (i *Instance) Memory() *Memory {
	if i.module == nil {
		return nil
	}
	mem := i.module.Memory()
	if mem == nil {
		return nil
	}
	return &Memory{mem: mem}
}

// Run calls the entry export. It may succeed only once per instance.
func (i *Instance) Run(ctx context.Context) error {
	if !i.ran.CompareAndSwap(false, true) {
		return errors.New(errors.PhaseRun, errors.KindInvalidInput).
			Export(i.entry).
			Detail("entry point already invoked").
			Build()
	}

	fn := i.module.ExportedFunction(i.entry)
	if fn == nil {
		e := errors.NotFound(errors.PhaseRun, "export", i.entry)
		e.Export = i.entry
		return e
	}
	if params := fn.Definition().ParamTypes(); len(params) > 0 {
		return errors.New(errors.PhaseRun, errors.KindUnsupported).
			Export(i.entry).
			Detail("entry point takes %d parameter(s), want none", len(params)).
			Build()
	}

	Logger().Debug("calling entry point", zap.String("export", i.entry))

	_, err := fn.Call(ctx)
	if err == nil {
		return nil
	}

	var exitErr *sys.ExitError
	if stderrors.As(err, &exitErr) {
		if exitErr.ExitCode() == 0 {
			return nil
		}
		e := errors.Exit(exitErr.ExitCode(), i.entry)
		e.Cause = err
		return e
	}
	return errors.Trap(err, i.entry)
}

// Close releases the module instance and its compiled code.
func (i *Instance) Close(ctx context.Context) error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	var firstErr error
	if i.module != nil {
		if err := i.module.Close(ctx); err != nil {
			firstErr = err
		}
	}
	if i.compiled != nil {
		if err := i.compiled.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
