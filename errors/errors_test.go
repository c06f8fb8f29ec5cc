package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:    PhaseFetch,
				Kind:     KindNotFound,
				Location: "https://example.com/app/shared_memory.wasm",
				Export:   "_start",
				Detail:   "unexpected status 404",
			},
			contains: []string{"[fetch]", "not_found", "example.com/app/shared_memory.wasm", "export _start", "status 404"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseValidate,
				Kind:  KindInvalidData,
			},
			contains: []string{"[validate]", "invalid_data"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRun,
				Kind:   KindTrap,
				Detail: "entry failed",
				Cause:  errors.New("unreachable"),
			},
			contains: []string{"[run]", "trap", "entry failed", "caused by", "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseCompile,
		Kind:  KindInvalidData,
		Cause: cause,
	}

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase:    PhaseFetch,
		Kind:     KindTransport,
		Location: "a.wasm",
	}

	if !err.Is(&Error{Phase: PhaseFetch, Kind: KindTransport}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseRun, Kind: KindTransport}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseFetch, Kind: KindNotFound}) {
		t.Error("Is should not match different kind")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	if !errors.Is(wrapped, &Error{Phase: PhaseFetch, Kind: KindTransport}) {
		t.Error("errors.Is should match through wrapping")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseRun, KindExit).
		Location("file:///srv/app.wasm").
		Export("_start").
		Value(uint32(3)).
		Cause(cause).
		Detail("exit status %d", 3).
		Build()

	if err.Phase != PhaseRun {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseRun)
	}
	if err.Kind != KindExit {
		t.Errorf("Kind = %v, want %v", err.Kind, KindExit)
	}
	if err.Location != "file:///srv/app.wasm" {
		t.Errorf("Location = %v", err.Location)
	}
	if err.Export != "_start" {
		t.Errorf("Export = %v, want _start", err.Export)
	}
	if err.Value != uint32(3) {
		t.Errorf("Value = %v, want 3", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "exit status 3" {
		t.Errorf("Detail = %v, want 'exit status 3'", err.Detail)
	}
}

func TestFrom(t *testing.T) {
	if From(PhaseRun, KindTrap, nil) != nil {
		t.Fatal("From(nil) should be nil")
	}

	existing := NotFound(PhaseRun, "export", "_start")
	if got := From(PhaseFetch, KindTransport, fmt.Errorf("ctx: %w", existing)); got != existing {
		t.Errorf("From should return the wrapped *Error, got %v", got)
	}

	plain := errors.New("boom")
	got := From(PhaseInstantiate, KindInternal, plain)
	if got.Phase != PhaseInstantiate || got.Kind != KindInternal {
		t.Errorf("From = %s/%s", got.Phase, got.Kind)
	}
	if !errors.Is(got, plain) {
		t.Error("From should keep the cause")
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("MissingLoader", func(t *testing.T) {
		err := MissingLoader()
		if err.Phase != PhaseTrigger || err.Kind != KindMissingLoader {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
		if !strings.Contains(err.Error(), "not defined") {
			t.Errorf("message %q should mention not defined", err.Error())
		}
	})

	t.Run("Exit", func(t *testing.T) {
		err := Exit(2, "_start")
		if err.Kind != KindExit || err.Value != uint32(2) {
			t.Errorf("got kind=%s value=%v", err.Kind, err.Value)
		}
	})

	t.Run("Trap", func(t *testing.T) {
		cause := errors.New("wasm error: unreachable")
		err := Trap(cause, "_start")
		if err.Phase != PhaseRun || err.Export != "_start" || !errors.Is(err, cause) {
			t.Errorf("unexpected trap error: %v", err)
		}
	})

	t.Run("Panic with error", func(t *testing.T) {
		cause := errors.New("bad")
		err := Panic(PhaseRun, cause)
		if err.Kind != KindPanic || !errors.Is(err, cause) {
			t.Errorf("unexpected panic error: %v", err)
		}
	})

	t.Run("Panic with value", func(t *testing.T) {
		err := Panic(PhaseRun, "oops")
		if err.Cause == nil || err.Cause.Error() != "oops" {
			t.Errorf("Cause = %v, want oops", err.Cause)
		}
	})

	t.Run("Fetch", func(t *testing.T) {
		err := Fetch("a.wasm", errors.New("eof"))
		if err.Phase != PhaseFetch || err.Location != "a.wasm" {
			t.Errorf("unexpected fetch error: %v", err)
		}
	})
}

func TestMissingImportsError(t *testing.T) {
	t.Run("groups by module", func(t *testing.T) {
		err := NewMissingImportsError([]string{
			"env#abort",
			"env#seed",
			"wasi_snapshot_preview1#fd_write",
		})
		if len(err.Imports) != 3 {
			t.Fatalf("Imports = %d, want 3", len(err.Imports))
		}
		msg := err.Error()
		for _, want := range []string{"missing 3", "env:", "abort", "seed", "wasi_snapshot_preview1:", "fd_write"} {
			if !strings.Contains(msg, want) {
				t.Errorf("message %q does not contain %q", msg, want)
			}
		}
	})

	t.Run("empty", func(t *testing.T) {
		err := NewMissingImportsError(nil)
		if !strings.Contains(err.Error(), "no imports specified") {
			t.Errorf("unexpected message %q", err.Error())
		}
	})

	t.Run("Is", func(t *testing.T) {
		var err error = NewMissingImportsError([]string{"env#f"})
		if !errors.Is(err, &MissingImportsError{}) {
			t.Error("errors.Is should match MissingImportsError")
		}
	})
}
