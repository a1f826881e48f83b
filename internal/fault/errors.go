package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindNumerical
	KindResource
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "ConfigurationError"
	case KindNumerical:
		return "NumericalError"
	case KindResource:
		return "ResourceError"
	case KindInvariant:
		return "InternalInvariantViolation"
	default:
		return "UnknownError"
	}
}

// Sentinels for errors.Is matching of a kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrNumerical     = errors.New("numerical error")
	ErrResource      = errors.New("resource error")
	ErrInvariant     = errors.New("internal invariant violation")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindNumerical:
		return ErrNumerical
	case KindResource:
		return ErrResource
	case KindInvariant:
		return ErrInvariant
	default:
		return nil
	}
}

// Error is a classified failure. Message already contains the text of Cause
// when both are set.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func newf(kind Kind, format string, args ...any) error {
	err := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Message: err.Error(), Cause: errors.Unwrap(err)}
}

func Configuration(format string, args ...any) error {
	return newf(KindConfiguration, format, args...)
}

func Numerical(format string, args ...any) error {
	return newf(KindNumerical, format, args...)
}

func Resource(format string, args ...any) error {
	return newf(KindResource, format, args...)
}

func Invariant(format string, args ...any) error {
	return newf(KindInvariant, format, args...)
}

// Wrap classifies err under kind. Errors that already carry a kind keep it.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return &Error{Kind: kind, Cause: err}
}

// KindOf reports the kind carried anywhere in err's chain.
func KindOf(err error) Kind {
	var me *ModuleError
	if errors.As(err, &me) {
		return me.Kind
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrNumerical):
		return KindNumerical
	case errors.Is(err, ErrResource):
		return KindResource
	case errors.Is(err, ErrInvariant):
		return KindInvariant
	}
	return KindUnknown
}

// FromPanic converts a recovered panic value into an invariant violation.
func FromPanic(v any) error {
	if err, ok := v.(error); ok {
		return &Error{Kind: KindInvariant, Message: "panic: " + err.Error(), Cause: err}
	}
	return &Error{Kind: KindInvariant, Message: fmt.Sprintf("panic: %v", v)}
}

// ModuleError is raised at a module-construction boundary. Digest identifies
// the configuration snapshot the module was built from.
type ModuleError struct {
	Module string
	Kind   Kind
	Digest string
	Err    error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s (%s, config %s): %v", e.Module, e.Kind, e.Digest, e.Err)
}

func (e *ModuleError) Unwrap() error {
	return e.Err
}

// TaskError records the failure of one task in a worker-pool batch.
type TaskError struct {
	Index int
	Err   error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %d: %v", e.Index, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}
