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
				Phase:  PhaseDecode,
				Kind:   KindTypeMismatch,
				Path:   []string{"args", "1", "amount"},
				Detail: "expected u64",
			},
			contains: []string{"[decode]", "type_mismatch", "args.1.amount", "expected u64"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseRuntime,
				Kind:  KindOutOfGas,
			},
			contains: []string{"[runtime]", "out_of_gas"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseStorage,
				Kind:   KindInternal,
				Detail: "write batch",
				Cause:  errors.New("disk full"),
			},
			contains: []string{"[storage]", "internal", "write batch", "caused by", "disk full"},
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
	err := Wrap(PhaseCompile, KindInvalidData, cause, "compile failed")

	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is did not find cause")
	}
}

func TestError_Is(t *testing.T) {
	err := OutOfGas(100, 3)
	wrapped := fmt.Errorf("invoke: %w", err)

	if !errors.Is(wrapped, ErrOutOfGas) {
		t.Error("expected wrapped error to match ErrOutOfGas")
	}
	if errors.Is(wrapped, ErrStepLimit) {
		t.Error("out of gas must not match step limit")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseEncode, KindOverflow).
		Path("args", "0").
		Value(300).
		Detail("value %d overflows %s", 300, "u8").
		Build()

	if err.Phase != PhaseEncode || err.Kind != KindOverflow {
		t.Fatalf("unexpected phase/kind: %s/%s", err.Phase, err.Kind)
	}
	if err.Detail != "value 300 overflows u8" {
		t.Errorf("unexpected detail %q", err.Detail)
	}
	if got := strings.Join(err.Path, "."); got != "args.0" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{"env#ontio_foo", "env#ontio_bar", "wasi#fd_write"})
	msg := err.Error()

	for _, s := range []string{"3 unresolved", "env: ontio_foo, ontio_bar", "wasi: fd_write"} {
		if !strings.Contains(msg, s) {
			t.Errorf("message %q does not contain %q", msg, s)
		}
	}
	if !errors.Is(err, ErrMissingImport) {
		t.Error("expected match on ErrMissingImport")
	}
}

func TestResultKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ResultKind
	}{
		{"nil", nil, ResultOK},
		{"plain", errors.New("boom"), ResultInternal},
		{"gas", OutOfGas(1, 0), ResultOutOfGas},
		{"steps", StepLimit(10, 5), ResultStepLimit},
		{"depth", fmt.Errorf("call: %w", DepthExceeded()), ResultDepth},
		{"trap", Trap("check failed", nil), ResultTrap},
		{"validate", Validation(nil, "bad magic"), ResultValidation},
		{"compile", Compile("wazero", errors.New("x")), ResultCompile},
		{"link", NewMissingImportsError([]string{"env#x"}), ResultLink},
		{"storage", Storage("get", errors.New("io")), ResultInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultKindOf(tt.err); got != tt.want {
				t.Errorf("ResultKindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}
