// Package sparse factorizes and solves square sparse linear systems.
//
// The work is split in two phases so that the expensive part runs once per
// problem class:
//
//   - [Analyze]: symbolic analysis of a fixed [Pattern], producing a
//     fill-reducing column order and checking structural rank
//   - [Symbolic.Factor]: numeric LU factorization with threshold partial
//     pivoting against that order, repeated for every new set of values
//
// A [Numeric] factorization is reused across right-hand sides with
// [Numeric.Solve] and refreshed in place with [Numeric.Refactor] when the
// matrix values change but the pattern does not.
//
// # Failures
//
// A pattern without full structural rank fails analysis with
// [ErrStructurallySingular]. A pivot column with no usable entry fails the
// numeric phase with a [*SingularError] matching [ErrSingular]. A
// factorization that succeeds but is badly conditioned is reported through
// [Numeric.RCond], never as an error, so callers can tell the two apart.
//
// # Thread Safety
//
// Pattern and Symbolic are immutable after construction and may be shared.
// Matrix and Numeric are workspaces owned by one goroutine at a time.
package sparse
