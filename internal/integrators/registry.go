package integrators

import (
	"sort"

	"github.com/san-kum/cosmic/internal/dynamo"
	"github.com/san-kum/cosmic/internal/fault"
)

// Sentinels surfaced by the evolvers, re-exported for callers that only
// import this package.
var (
	ErrStepTooSmall     = dynamo.ErrStepTooSmall
	ErrNewtonDiverged   = dynamo.ErrNewtonDiverged
	ErrSingularJacobian = dynamo.ErrSingularJacobian
	ErrMaxSteps         = dynamo.ErrMaxSteps
)

var evolvers = map[string]func() Evolver{
	"ndf":  func() Evolver { return NewNDF() },
	"rkck": func() Evolver { return NewRKCK() },
}

// New returns the evolver registered under name.
func New(name string) (Evolver, error) {
	fn, ok := evolvers[name]
	if !ok {
		return nil, fault.Configuration("unknown evolver: %s", name)
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(evolvers))
	for name := range evolvers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
