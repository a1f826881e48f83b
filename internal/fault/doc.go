// Package fault defines the error taxonomy shared by every stage of the
// pipeline.
//
// Every fallible operation reports one of four kinds:
//
//   - [KindConfiguration]: bad or missing input
//   - [KindNumerical]: evolver non-convergence, singular solve, unattainable tolerance
//   - [KindResource]: allocation or I/O failure
//   - [KindInvariant]: a contract breach that correct code never produces
//
// Leaf packages return errors built with [Configuration], [Numerical],
// [Resource] or [Invariant], or wrap their own sentinels with [Wrap].
// The module graph annotates failures with [ModuleError]; the worker pool
// records per-task failures as [TaskError].
//
// # Matching
//
// Kinds are matched with errors.Is against the sentinels:
//
//	if errors.Is(err, fault.ErrNumerical) {
//	    // retry with looser tolerances
//	}
package fault
