// Package numeric provides the dense numerical kernels shared by the
// physics modules.
//
//   - [Integrate]: adaptive Gauss–Kronrod quadrature
//   - [Trapz], [CumTrapz]: quadrature over tabulated samples
//   - [Spline]: natural cubic spline interpolation
//   - [Hermite]: cubic Hermite interpolation with known derivatives
//   - [BesselTable]: tabulated spherical Bessel functions j_l and j_l'
//
// Every function is pure and every type is immutable after construction,
// so values can be shared freely between goroutines.
package numeric
