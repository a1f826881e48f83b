// Package dynamo provides the primitives shared by the ODE evolvers.
//
// The package defines the types an evolver and its callers agree on:
//
//   - [State]: vector of unknowns
//   - [System]: right-hand side of dy/dt = f(t, y)
//   - [Jacobian]: optional analytic ∂f/∂y with a fixed sparsity pattern
//   - [Tolerance]: mixed absolute/relative local error tolerance
//   - [Stats]: per-evolution convergence diagnostics
//   - [Output]: tabulated solution at requested points
//
// # Example
//
//	decay := dynamo.SystemFunc{N: 1, F: func(t float64, y, dy []float64) error {
//	    dy[0] = -1e3 * y[0]
//	    return nil
//	}}
//	out, err := integrators.NewNDF().Evolve(ctx, decay, 0, dynamo.State{1}, 1, opts)
//
// # Thread Safety
//
// Systems passed to an evolver must be safe for the single goroutine running
// that evolution. A State is owned by exactly one evolution at a time.
package dynamo
