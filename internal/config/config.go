package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/cosmic/internal/fault"
)

const (
	DefaultH        = 0.6736
	DefaultOmegaB   = 0.02237
	DefaultOmegaCDM = 0.1200
	DefaultTCMB     = 2.7255
	DefaultNEff     = 3.044
	DefaultYHe      = 0.245
	DefaultZReio    = 7.67
	DefaultAs       = 2.1e-9
	DefaultNs       = 0.9649
	DefaultKPivot   = 0.05
)

// Config is the full parameter set of one pipeline run. Wavenumbers are in
// Mpc⁻¹, densities are physical (ω = Ω h²) except OmegaK.
type Config struct {
	// cosmology
	H         float64 `yaml:"h" hcl:"h,optional"`
	OmegaB    float64 `yaml:"omega_b" hcl:"omega_b,optional"`
	OmegaCDM  float64 `yaml:"omega_cdm" hcl:"omega_cdm,optional"`
	OmegaK    float64 `yaml:"omega_k" hcl:"omega_k,optional"`
	TCMB      float64 `yaml:"T_cmb" hcl:"T_cmb,optional"`
	NEff      float64 `yaml:"N_eff" hcl:"N_eff,optional"`
	YHe       float64 `yaml:"YHe" hcl:"YHe,optional"`
	ZReio     float64 `yaml:"z_reio" hcl:"z_reio,optional"`
	ReioWidth float64 `yaml:"reio_width" hcl:"reio_width,optional"`

	// primordial spectrum; Sigma8 > 0 rescales A_s to hit it
	As     float64 `yaml:"A_s" hcl:"A_s,optional"`
	Ns     float64 `yaml:"n_s" hcl:"n_s,optional"`
	AlphaS float64 `yaml:"alpha_s" hcl:"alpha_s,optional"`
	KPivot float64 `yaml:"k_pivot" hcl:"k_pivot,optional"`
	Sigma8 float64 `yaml:"sigma8" hcl:"sigma8,optional"`

	// perturbations
	KMin       float64 `yaml:"k_min" hcl:"k_min,optional"`
	KMax       float64 `yaml:"k_max" hcl:"k_max,optional"`
	KSize      int     `yaml:"k_size" hcl:"k_size,optional"`
	PhotonLMax int     `yaml:"photon_lmax" hcl:"photon_lmax,optional"`
	TauSize    int     `yaml:"tau_size" hcl:"tau_size,optional"`
	Evolver    string  `yaml:"evolver" hcl:"evolver,optional"`
	RTol       float64 `yaml:"rtol" hcl:"rtol,optional"`
	ATol       float64 `yaml:"atol" hcl:"atol,optional"`

	// transfer, spectra, lensing
	LMax      int     `yaml:"l_max" hcl:"l_max,optional"`
	LLinStep  int     `yaml:"l_linstep" hcl:"l_linstep,optional"`
	QSize     int     `yaml:"q_size" hcl:"q_size,optional"`
	BesselDx  float64 `yaml:"bessel_dx" hcl:"bessel_dx,optional"`
	QuadRTol  float64 `yaml:"quad_rtol" hcl:"quad_rtol,optional"`
	Nonlinear string  `yaml:"nonlinear" hcl:"nonlinear,optional"`
	Lensing   bool    `yaml:"lensing" hcl:"lensing,optional"`

	Workers int `yaml:"workers" hcl:"workers,optional"`
}

func DefaultConfig() *Config {
	return &Config{
		H:         DefaultH,
		OmegaB:    DefaultOmegaB,
		OmegaCDM:  DefaultOmegaCDM,
		TCMB:      DefaultTCMB,
		NEff:      DefaultNEff,
		YHe:       DefaultYHe,
		ZReio:     DefaultZReio,
		ReioWidth: 0.5,

		As:     DefaultAs,
		Ns:     DefaultNs,
		KPivot: DefaultKPivot,

		KMin:       1e-4,
		KMax:       0.15,
		KSize:      60,
		PhotonLMax: 10,
		TauSize:    400,
		Evolver:    "ndf",
		RTol:       1e-5,
		ATol:       1e-10,

		LMax:      1000,
		LLinStep:  50,
		QSize:     600,
		BesselDx:  0.1,
		QuadRTol:  1e-6,
		Nonlinear: "none",
		Lensing:   true,
	}
}

// Load reads a YAML (.yaml, .yml) or HCL (.hcl) file on top of the
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fault.Configuration("read config: %w", err)
	}
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hcl":
		file, diags := hclparse.NewParser().ParseHCL(data, path)
		if diags.HasErrors() {
			return nil, fault.Configuration("parse %s: %w", path, diags)
		}
		if diags := gohcl.DecodeBody(file.Body, nil, cfg); diags.HasErrors() {
			return nil, fault.Configuration("decode %s: %w", path, diags)
		}
	case ".yaml", ".yml", "":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fault.Configuration("decode %s: %w", path, err)
		}
	default:
		return nil, fault.Configuration("unsupported config format %q", filepath.Ext(path))
	}
	return cfg, nil
}

// Save writes cfg as HCL when path ends in .hcl and as YAML otherwise.
func Save(path string, cfg *Config) error {
	var data []byte
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		f := hclwrite.NewEmptyFile()
		gohcl.EncodeIntoBody(cfg, f.Body())
		data = f.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0644)
}

// OmegaM is the total matter density parameter Ω_m.
func (c *Config) OmegaM() float64 {
	return (c.OmegaB + c.OmegaCDM) / (c.H * c.H)
}
