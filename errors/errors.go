package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Phase indicates which bootstrap step produced the error
type Phase string

const (
	PhaseTrigger     Phase = "trigger"     // precondition check on the load event
	PhaseResolve     Phase = "resolve"     // artifact path resolution
	PhaseFetch       Phase = "fetch"       // reading the binary artifact
	PhaseValidate    Phase = "validate"    // binary header checks
	PhaseCompile     Phase = "compile"     // wasm compilation
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseRun         Phase = "run"         // entry point execution
	PhaseConfig      Phase = "config"      // host configuration
)

// Kind categorizes the error
type Kind string

const (
	KindMissingLoader Kind = "missing_loader"
	KindNotFound      Kind = "not_found"
	KindInvalidData   Kind = "invalid_data"
	KindInvalidInput  Kind = "invalid_input"
	KindUnsupported   Kind = "unsupported"
	KindTransport     Kind = "transport"
	KindTooLarge      Kind = "too_large"
	KindMissingImport Kind = "missing_import"
	KindTrap          Kind = "trap"
	KindExit          Kind = "exit"
	KindPanic         Kind = "panic"
	KindInternal      Kind = "internal"
)

// Error is the structured error type used throughout the bootstrap
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Location string
	Export   string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Location != "" {
		b.WriteString(" at ")
		b.WriteString(e.Location)
	}

	if e.Export != "" {
		b.WriteString(" (export ")
		b.WriteString(e.Export)
		b.WriteByte(')')
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Location sets the artifact location
func (b *Builder) Location(loc string) *Builder {
	b.err.Location = loc
	return b
}

// Export sets the export name involved
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// From returns err as an *Error. Errors that already carry a phase are
// returned unchanged, anything else is wrapped with phase and kind.
func From(phase Phase, kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return &Error{
		Phase: phase,
		Kind:  kind,
		Cause: err,
	}
}

// MissingLoader reports that the loader facility was not provided.
func MissingLoader() *Error {
	return &Error{
		Phase:  PhaseTrigger,
		Kind:   KindMissingLoader,
		Detail: "loader facility is not defined",
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// InvalidData creates an invalid data error
func InvalidData(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidData,
		Detail: detail,
	}
}

// Unsupported creates an unsupported input error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Fetch creates an artifact read failure
func Fetch(location string, cause error) *Error {
	return &Error{
		Phase:    PhaseFetch,
		Kind:     KindTransport,
		Location: location,
		Detail:   "read artifact",
		Cause:    cause,
	}
}

// Compile creates a compilation error
func Compile(cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidData,
		Detail: "compile module",
		Cause:  cause,
	}
}

// Instantiation creates an instantiation error
func Instantiation(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInternal,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Trap creates an entry point execution error
func Trap(cause error, export string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindTrap,
		Export: export,
		Cause:  cause,
	}
}

// Exit creates an error for a guest that exited with a nonzero status
func Exit(code uint32, export string) *Error {
	return &Error{
		Phase:  PhaseRun,
		Kind:   KindExit,
		Export: export,
		Value:  code,
		Detail: fmt.Sprintf("exit status %d", code),
	}
}

// Panic converts a recovered panic value into an error for phase.
func Panic(phase Phase, v any) *Error {
	cause, ok := v.(error)
	if !ok {
		cause = fmt.Errorf("%v", v)
	}
	return &Error{
		Phase:  phase,
		Kind:   KindPanic,
		Value:  v,
		Detail: "recovered panic",
		Cause:  cause,
	}
}

// MissingImport represents a single unresolved import
type MissingImport struct {
	Module   string // e.g., "env"
	Function string // import name, e.g. "abort" or "memory"
}

// MissingImportsError is returned when instantiation fails because the
// module imports functions or memories no host module provides.
type MissingImportsError struct {
	Imports []MissingImport
}

// NewMissingImportsError creates an error from a list of "module#function" strings
func NewMissingImportsError(imports []string) *MissingImportsError {
	result := &MissingImportsError{
		Imports: make([]MissingImport, 0, len(imports)),
	}
	for _, imp := range imports {
		mod, fn, _ := strings.Cut(imp, "#")
		result.Imports = append(result.Imports, MissingImport{
			Module:   mod,
			Function: fn,
		})
	}
	return result
}

func (e *MissingImportsError) Error() string {
	if len(e.Imports) == 0 {
		return "[instantiate] missing_import: no imports specified"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "missing %d host import(s):\n", len(e.Imports))

	byMod := make(map[string][]string)
	var order []string
	for _, imp := range e.Imports {
		if _, exists := byMod[imp.Module]; !exists {
			order = append(order, imp.Module)
		}
		byMod[imp.Module] = append(byMod[imp.Module], imp.Function)
	}

	for _, mod := range order {
		b.WriteString("\n  ")
		b.WriteString(mod)
		b.WriteString(":\n")
		for _, fn := range byMod[mod] {
			b.WriteString("    - ")
			b.WriteString(fn)
			b.WriteByte('\n')
		}
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// Is reports whether target matches this error type
func (e *MissingImportsError) Is(target error) bool {
	_, ok := target.(*MissingImportsError)
	return ok
}
