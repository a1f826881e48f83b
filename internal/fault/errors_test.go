package fault

import (
	"errors"
	"fmt"
	"testing"
)

var errLeaf = errors.New("leaf")

func TestKindMatching(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"configuration", Configuration("tolerance %g", -1.0), ErrConfiguration, KindConfiguration},
		{"numerical", Numerical("step too small"), ErrNumerical, KindNumerical},
		{"resource", Resource("alloc"), ErrResource, KindResource},
		{"invariant", Invariant("missing result"), ErrInvariant, KindInvariant},
		{"wrapped", Wrap(KindNumerical, errLeaf), ErrNumerical, KindNumerical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.sentinel)
			}
			if got := KindOf(tt.err); got != tt.kind {
				t.Errorf("KindOf = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestCausePreserved(t *testing.T) {
	err := Numerical("newton: %w", errLeaf)
	if !errors.Is(err, errLeaf) {
		t.Error("cause lost")
	}
	if err.Error() != "newton: leaf" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestWrapKeepsKind(t *testing.T) {
	err := Wrap(KindResource, Configuration("bad"))
	if KindOf(err) != KindConfiguration {
		t.Errorf("kind overwritten: %v", KindOf(err))
	}
	if Wrap(KindResource, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestModuleError(t *testing.T) {
	inner := &TaskError{Index: 3, Err: Numerical("singular")}
	err := fmt.Errorf("stage: %w", &ModuleError{Module: "perturbations", Kind: KindNumerical, Digest: "abc", Err: inner})

	var me *ModuleError
	if !errors.As(err, &me) {
		t.Fatal("expected ModuleError")
	}
	if me.Module != "perturbations" {
		t.Errorf("module = %s", me.Module)
	}

	var te *TaskError
	if !errors.As(err, &te) || te.Index != 3 {
		t.Error("task index lost")
	}
	if !errors.Is(err, ErrNumerical) {
		t.Error("kind lost through module boundary")
	}
}

func TestFromPanic(t *testing.T) {
	err := FromPanic("index out of range")
	if KindOf(err) != KindInvariant {
		t.Errorf("kind = %v", KindOf(err))
	}
	err = FromPanic(errLeaf)
	if !errors.Is(err, errLeaf) {
		t.Error("panic error not wrapped")
	}
}
