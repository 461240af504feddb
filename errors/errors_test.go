package errors

import (
	"errors"
	"testing"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseCodegen,
				Kind:   KindUnknownOperator,
				Op:     "frobnicate",
				Line:   42,
				Detail: "no emitter registered",
			},
			contains: []string{"[codegen]", "unknown_operator", "op=frobnicate", "line=42", "no emitter registered"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseEval,
				Kind:  KindSettleDidNotConverge,
			},
			contains: []string{"[eval]", "settle_did_not_converge"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseRuntime,
				Kind:   KindMissingFile,
				Detail: "file not found",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[runtime]", "missing_file", "file not found", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !containsSubstring(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{Phase: PhaseCodegen, Kind: KindUnsupportedDataType, Cause: cause}

	if !errors.Is(err.Unwrap(), cause) {
		t.Error("Unwrap did not return cause")
	}
	if !errors.Is(errors.Unwrap(err), cause) {
		t.Error("errors.Unwrap did not return cause")
	}
}

func TestErrorIs(t *testing.T) {
	err := &Error{Phase: PhaseCodegen, Kind: KindUnknownOperator, Op: "foo"}

	if !err.Is(&Error{Phase: PhaseCodegen, Kind: KindUnknownOperator}) {
		t.Error("Is should match same phase and kind")
	}
	if err.Is(&Error{Phase: PhaseEval, Kind: KindUnknownOperator}) {
		t.Error("Is should not match different phase")
	}
	if err.Is(&Error{Phase: PhaseCodegen, Kind: KindValidationFailed}) {
		t.Error("Is should not match different kind")
	}

	target := &Error{Phase: PhaseCodegen, Kind: KindUnknownOperator}
	if !errors.Is(err, target) {
		t.Error("errors.Is should match")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseCodegen, KindUnsupportedDataType).
		Op("mul").
		Line(7).
		Value(65).
		Cause(cause).
		Detail("width %d exceeds %d", 65, 64).
		Build()

	if err.Phase != PhaseCodegen {
		t.Errorf("Phase = %v, want %v", err.Phase, PhaseCodegen)
	}
	if err.Kind != KindUnsupportedDataType {
		t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupportedDataType)
	}
	if err.Op != "mul" {
		t.Errorf("Op = %v, want mul", err.Op)
	}
	if err.Line != 7 {
		t.Errorf("Line = %v, want 7", err.Line)
	}
	if err.Value != 65 {
		t.Errorf("Value = %v, want 65", err.Value)
	}
	if !errors.Is(err.Cause, cause) {
		t.Errorf("Cause = %v, want %v", err.Cause, cause)
	}
	if err.Detail != "width 65 exceeds 64" {
		t.Errorf("Detail = %v, want 'width 65 exceeds 64'", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("UnsupportedDataType", func(t *testing.T) {
		err := UnsupportedDataType("mul", 3, "wide multiply unsupported")
		if err.Kind != KindUnsupportedDataType {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnsupportedDataType)
		}
		if err.Op != "mul" || err.Line != 3 {
			t.Errorf("Op=%v Line=%v", err.Op, err.Line)
		}
	})

	t.Run("UnknownOperator", func(t *testing.T) {
		err := UnknownOperator("frobnicate", 1)
		if err.Kind != KindUnknownOperator {
			t.Errorf("Kind = %v, want %v", err.Kind, KindUnknownOperator)
		}
		if !containsSubstring(err.Detail, "frobnicate") {
			t.Errorf("Detail = %v, should name the operator", err.Detail)
		}
	})

	t.Run("MemoryLimitExceeded", func(t *testing.T) {
		err := MemoryLimitExceeded(1 << 20, 1 << 10)
		if err.Kind != KindMemoryLimitExceeded {
			t.Errorf("Kind = %v, want %v", err.Kind, KindMemoryLimitExceeded)
		}
	})

	t.Run("SettleDidNotConverge", func(t *testing.T) {
		err := SettleDidNotConverge(100)
		if err.Kind != KindSettleDidNotConverge {
			t.Errorf("Kind = %v, want %v", err.Kind, KindSettleDidNotConverge)
		}
		if !containsSubstring(err.Detail, "100") {
			t.Errorf("Detail = %v, should contain iteration count", err.Detail)
		}
	})

	t.Run("MissingFile", func(t *testing.T) {
		err := MissingFile("/nope")
		if err.Kind != KindMissingFile {
			t.Errorf("Kind = %v, want %v", err.Kind, KindMissingFile)
		}
	})

	t.Run("StateSizeMismatch", func(t *testing.T) {
		err := StateSizeMismatch(10, 20)
		if err.Kind != KindStateSizeMismatch {
			t.Errorf("Kind = %v, want %v", err.Kind, KindStateSizeMismatch)
		}
	})
}

func containsSubstring(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
