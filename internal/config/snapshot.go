package config

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cosmic/internal/fault"
)

var nonlinearMethods = []string{"none", "boost"}

// Validate checks the structural requirements of the numerical core:
// positive tolerances, non-empty increasing grids and sane counts. It does
// not judge whether the cosmology is physically sensible.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		v    float64
	}{
		{"h", c.H},
		{"T_cmb", c.TCMB},
		{"A_s", c.As},
		{"k_pivot", c.KPivot},
		{"k_min", c.KMin},
		{"k_max", c.KMax},
		{"rtol", c.RTol},
		{"atol", c.ATol},
		{"bessel_dx", c.BesselDx},
		{"quad_rtol", c.QuadRTol},
		{"reio_width", c.ReioWidth},
	}
	for _, p := range positive {
		if !(p.v > 0) || math.IsInf(p.v, 0) {
			return fault.Configuration("%s must be positive and finite, got %g", p.name, p.v)
		}
	}
	nonNegative := []struct {
		name string
		v    float64
	}{
		{"omega_b", c.OmegaB},
		{"omega_cdm", c.OmegaCDM},
		{"N_eff", c.NEff},
		{"YHe", c.YHe},
		{"z_reio", c.ZReio},
		{"sigma8", c.Sigma8},
	}
	for _, p := range nonNegative {
		if p.v < 0 || math.IsNaN(p.v) || math.IsInf(p.v, 0) {
			return fault.Configuration("%s must be non-negative, got %g", p.name, p.v)
		}
	}
	if c.OmegaB+c.OmegaCDM == 0 {
		return fault.Configuration("omega_b + omega_cdm must be positive")
	}
	if c.YHe >= 1 {
		return fault.Configuration("YHe must be below 1, got %g", c.YHe)
	}
	if c.RTol >= 1 {
		return fault.Configuration("rtol must be below 1, got %g", c.RTol)
	}
	if c.KMin >= c.KMax {
		return fault.Configuration("k grid is empty: k_min %g >= k_max %g", c.KMin, c.KMax)
	}
	switch {
	case c.KSize < 2:
		return fault.Configuration("k_size must be at least 2, got %d", c.KSize)
	case c.QSize < 2:
		return fault.Configuration("q_size must be at least 2, got %d", c.QSize)
	case c.TauSize < 10:
		return fault.Configuration("tau_size must be at least 10, got %d", c.TauSize)
	case c.PhotonLMax < 4:
		return fault.Configuration("photon_lmax must be at least 4, got %d", c.PhotonLMax)
	case c.LMax < 2:
		return fault.Configuration("l_max must be at least 2, got %d", c.LMax)
	case c.LLinStep < 1:
		return fault.Configuration("l_linstep must be positive, got %d", c.LLinStep)
	case c.Workers < 0:
		return fault.Configuration("workers must be >= 0, got %d", c.Workers)
	case c.Evolver == "":
		return fault.Configuration("evolver must be set")
	}
	if !slices.Contains(nonlinearMethods, c.Nonlinear) {
		return fault.Configuration("unknown nonlinear method %q (want one of %v)", c.Nonlinear, nonlinearMethods)
	}
	return nil
}

// Snapshot is a validated, frozen configuration. It is safe for concurrent
// use and never changes; derive a new one with With.
type Snapshot struct {
	cfg    Config
	digest string
}

// Freeze validates c and returns an immutable copy of it.
func (c *Config) Freeze() (*Snapshot, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	s := &Snapshot{cfg: *c}
	data, err := yaml.Marshal(&s.cfg)
	if err != nil {
		return nil, fault.Configuration("encode snapshot: %w", err)
	}
	sum := sha256.Sum256(data)
	s.digest = hex.EncodeToString(sum[:6])
	return s, nil
}

// Config returns a copy of the frozen values.
func (s *Snapshot) Config() Config { return s.cfg }

// Digest identifies the snapshot in error reports and run metadata.
func (s *Snapshot) Digest() string { return s.digest }

// With derives a new snapshot from a copy of s modified by mutate.
func (s *Snapshot) With(mutate func(*Config)) (*Snapshot, error) {
	c := s.cfg
	mutate(&c)
	return c.Freeze()
}
