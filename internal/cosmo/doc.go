// Package cosmo implements the physics modules of the pipeline: expansion
// history, recombination, linear perturbations, primordial and matter power,
// line-of-sight transfer functions, angular spectra and lensing.
//
// Every module is built once by its constructor from a frozen configuration
// snapshot and the modules it depends on, and is read-only afterwards. All
// lengths are in Mpc and conformal time is in Mpc (c = 1).
package cosmo
