package cosmo

import (
	"math"

	"github.com/san-kum/cosmic/internal/sparse"
)

// Unknowns of one Fourier mode in Newtonian gauge (ψ = φ, no anisotropic
// stress). F_l for l >= 2 is the photon temperature hierarchy;
// F_1 = 4θ_γ/(3k).
const (
	iPhi = iota
	iDeltaC
	iThetaC
	iDeltaB
	iThetaB
	iDeltaG
	iThetaG
	iF2
)

// Unknowns of the radiation-streaming system; φ is algebraic there.
const (
	rDeltaC = iota
	rThetaC
	rDeltaB
	rThetaB
	rsaDim
)

const (
	// kτ from which photons are replaced by their streaming solution
	rsaTrigger = 45.0
	// curvature perturbation R = 1 gives φ = 2/3 in the radiation era
	phiInitial = 2.0 / 3
)

func modeDim(lmax int) int { return iF2 + lmax - 1 }

// modeCoeffs are the background quantities a mode needs at one τ.
type modeCoeffs struct {
	a, hc      float64 // scale factor, conformal Hubble rate
	kd, rinv   float64 // Thomson rate, 1/R
	wc, wb, wr float64 // 4πGa²ρ for CDM, baryons and radiation
}

func coeffsAt(bg *Background, th *Thermodynamics, tau float64) modeCoeffs {
	a := bg.ScaleFactor(tau)
	c := modeCoeffs{
		a:    a,
		hc:   bg.ConformalHubble(a),
		kd:   th.KappaDot(a),
		rinv: 1 / bg.BaryonPhotonRatio(a),
	}
	c.wc, c.wb, c.wr = bg.sourceWeights(a)
	return c
}

// modeSystem is the full tight-to-free-streaming system of one wavenumber.
// It is reused across wavenumbers by the worker that owns it.
type modeSystem struct {
	bg      *Background
	th      *Thermodynamics
	pattern *sparse.Pattern
	lmax    int
	k       float64
}

func (m *modeSystem) Dim() int                 { return modeDim(m.lmax) }
func (m *modeSystem) Pattern() *sparse.Pattern { return m.pattern }

// phiPrime evaluates the 00 Einstein equation
// k²φ + 3ℋ(φ' + ℋφ) = -4πGa²δρ.
func phiPrime(c modeCoeffs, k2 float64, y []float64) float64 {
	sd := c.wc*y[iDeltaC] + c.wb*y[iDeltaB] + c.wr*y[iDeltaG]
	return -c.hc*y[iPhi] - (k2*y[iPhi]+sd)/(3*c.hc)
}

func (m *modeSystem) Derive(tau float64, y, dy []float64) error {
	c := coeffsAt(m.bg, m.th, tau)
	k, k2, lmax := m.k, m.k*m.k, m.lmax
	phi := y[iPhi]
	dphi := phiPrime(c, k2, y)

	dy[iPhi] = dphi
	dy[iDeltaC] = -y[iThetaC] + 3*dphi
	dy[iThetaC] = -c.hc*y[iThetaC] + k2*phi
	dy[iDeltaB] = -y[iThetaB] + 3*dphi
	dy[iThetaB] = -c.hc*y[iThetaB] + k2*phi + c.rinv*c.kd*(y[iThetaG]-y[iThetaB])
	dy[iDeltaG] = -4.0/3*y[iThetaG] + 4*dphi
	dy[iThetaG] = k2*(y[iDeltaG]/4-y[iF2]/2) + k2*phi + c.kd*(y[iThetaB]-y[iThetaG])

	f := func(l int) float64 { return y[iF2+l-2] }
	dy[iF2] = 8.0/15*y[iThetaG] - 0.6*k*f(3) - c.kd*f(2)
	for l := 3; l < lmax; l++ {
		fl := float64(l)
		dy[iF2+l-2] = k/(2*fl+1)*(fl*f(l-1)-(fl+1)*f(l+1)) - c.kd*f(l)
	}
	dy[iF2+lmax-2] = k*f(lmax-1) - (float64(lmax+1)/tau+c.kd)*f(lmax)
	return nil
}

func (m *modeSystem) Jacobian(tau float64, _ []float64, J *sparse.Matrix) error {
	modeJacobian(coeffsAt(m.bg, m.th, tau), m.k, tau, m.lmax, J.Add)
	return nil
}

// modeJacobian emits every nonzero ∂f_i/∂y_j of the full system. The same
// walk builds the sparsity pattern.
func modeJacobian(c modeCoeffs, k, tau float64, lmax int, emit func(i, j int, v float64)) {
	k2 := k * k
	pPhi := -c.hc - k2/(3*c.hc)
	pDc, pDb, pDg := -c.wc/(3*c.hc), -c.wb/(3*c.hc), -c.wr/(3*c.hc)
	dphi := func(row int, s float64) {
		emit(row, iPhi, s*pPhi)
		emit(row, iDeltaC, s*pDc)
		emit(row, iDeltaB, s*pDb)
		emit(row, iDeltaG, s*pDg)
	}

	dphi(iPhi, 1)

	emit(iDeltaC, iThetaC, -1)
	dphi(iDeltaC, 3)
	emit(iThetaC, iThetaC, -c.hc)
	emit(iThetaC, iPhi, k2)

	emit(iDeltaB, iThetaB, -1)
	dphi(iDeltaB, 3)
	emit(iThetaB, iThetaB, -c.hc-c.rinv*c.kd)
	emit(iThetaB, iThetaG, c.rinv*c.kd)
	emit(iThetaB, iPhi, k2)

	emit(iDeltaG, iThetaG, -4.0/3)
	dphi(iDeltaG, 4)
	emit(iThetaG, iDeltaG, k2/4)
	emit(iThetaG, iF2, -k2/2)
	emit(iThetaG, iPhi, k2)
	emit(iThetaG, iThetaB, c.kd)
	emit(iThetaG, iThetaG, -c.kd)

	fi := func(l int) int { return iF2 + l - 2 }
	emit(iF2, iThetaG, 8.0/15)
	emit(iF2, iF2, -c.kd)
	emit(iF2, fi(3), -0.6*k)
	for l := 3; l < lmax; l++ {
		fl := float64(l)
		emit(fi(l), fi(l-1), k*fl/(2*fl+1))
		emit(fi(l), fi(l), -c.kd)
		emit(fi(l), fi(l+1), -k*(fl+1)/(2*fl+1))
	}
	emit(fi(lmax), fi(lmax-1), k)
	emit(fi(lmax), fi(lmax), -float64(lmax+1)/tau-c.kd)
}

func modePattern(lmax int) (*sparse.Pattern, error) {
	var entries []sparse.Entry
	unit := modeCoeffs{a: 1, hc: 1, kd: 1, rinv: 1, wc: 1, wb: 1, wr: 1}
	modeJacobian(unit, 1, 1, lmax, func(i, j int, _ float64) {
		entries = append(entries, sparse.Entry{Row: i, Col: j})
	})
	return sparse.NewPattern(modeDim(lmax), entries)
}

// adiabaticInitial fills the growing adiabatic mode deep in the radiation
// era for a unit curvature perturbation.
func adiabaticInitial(k, tau float64, y []float64) {
	for i := range y {
		y[i] = 0
	}
	phi := phiInitial
	theta := 0.5 * k * k * tau * phi
	y[iPhi] = phi
	y[iDeltaG] = -2 * phi
	y[iDeltaC] = 0.75 * y[iDeltaG]
	y[iDeltaB] = 0.75 * y[iDeltaG]
	y[iThetaC] = theta
	y[iThetaB] = theta
	y[iThetaG] = theta
}

// rsaSystem is the late-time system once photons stream freely: photon
// density follows -4φ, photon velocity 6φ', and sub-horizon φ obeys the
// Poisson equation.
type rsaSystem struct {
	bg *Background
	th *Thermodynamics
	k  float64
}

func (r *rsaSystem) Dim() int { return rsaDim }

// potential returns φ and φ' of the reduced state.
func (r *rsaSystem) potential(c modeCoeffs, y []float64) (phi, dphi float64) {
	k2 := r.k * r.k
	mom := c.wc*y[rThetaC] + c.wb*y[rThetaB]
	phi = -(c.wc*y[rDeltaC] + c.wb*y[rDeltaB] + 3*c.hc*mom/k2) / (k2 - 4*c.wr)
	dphi = -c.hc*phi + mom/k2
	return phi, dphi
}

func (r *rsaSystem) Derive(tau float64, y, dy []float64) error {
	c := coeffsAt(r.bg, r.th, tau)
	k2 := r.k * r.k
	phi, dphi := r.potential(c, y)
	dy[rDeltaC] = -y[rThetaC] + 3*dphi
	dy[rThetaC] = -c.hc*y[rThetaC] + k2*phi
	dy[rDeltaB] = -y[rThetaB] + 3*dphi
	dy[rThetaB] = -c.hc*y[rThetaB] + k2*phi + c.rinv*c.kd*(6*dphi-y[rThetaB])
	return nil
}

// reduce maps a full state onto the streaming unknowns.
func reduce(y []float64, out []float64) {
	out[rDeltaC] = y[iDeltaC]
	out[rThetaC] = y[iThetaC]
	out[rDeltaB] = y[iDeltaB]
	out[rThetaB] = y[iThetaB]
}

// comovingMatter is the matter density contrast on comoving slices.
func comovingMatter(c modeCoeffs, k, dc, tc, db, tb float64) float64 {
	wm := c.wc + c.wb
	return (c.wc*dc+c.wb*db)/wm + 3*c.hc*(c.wc*tc+c.wb*tb)/(wm*k*k)
}

func finiteAll(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
