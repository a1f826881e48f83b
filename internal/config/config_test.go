package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/san-kum/cosmic/internal/fault"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if cfg.Evolver != "ndf" {
		t.Errorf("expected evolver ndf, got %s", cfg.Evolver)
	}
	if om := cfg.OmegaM(); om < 0.25 || om > 0.4 {
		t.Errorf("Omega_m = %f", om)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rtol", func(c *Config) { c.RTol = 0 }},
		{"negative atol", func(c *Config) { c.ATol = -1e-10 }},
		{"rtol above one", func(c *Config) { c.RTol = 2 }},
		{"empty k grid", func(c *Config) { c.KMin, c.KMax = 0.1, 0.01 }},
		{"single k", func(c *Config) { c.KSize = 1 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
		{"no evolver", func(c *Config) { c.Evolver = "" }},
		{"unknown nonlinear", func(c *Config) { c.Nonlinear = "halofit" }},
		{"no matter", func(c *Config) { c.OmegaB, c.OmegaCDM = 0, 0 }},
		{"short hierarchy", func(c *Config) { c.PhotonLMax = 2 }},
		{"zero h", func(c *Config) { c.H = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, fault.ErrConfiguration) {
				t.Errorf("got %v, want a configuration error", err)
			}
		})
	}
}

func TestFreeze(t *testing.T) {
	cfg := DefaultConfig()
	snap, err := cfg.Freeze()
	if err != nil {
		t.Fatal(err)
	}

	cfg.H = 0.9
	if snap.Config().H != DefaultH {
		t.Error("snapshot changed with its source config")
	}

	c := snap.Config()
	c.H = 0.5
	if snap.Config().H != DefaultH {
		t.Error("snapshot changed through a returned copy")
	}

	again, _ := DefaultConfig().Freeze()
	if snap.Digest() != again.Digest() {
		t.Error("equal configs must share a digest")
	}

	derived, err := snap.With(func(c *Config) { c.As = 2.2e-9 })
	if err != nil {
		t.Fatal(err)
	}
	if derived.Digest() == snap.Digest() {
		t.Error("derived snapshot kept the old digest")
	}
	if snap.Config().As != DefaultAs || derived.Config().As != 2.2e-9 {
		t.Error("With mutated the original snapshot")
	}

	if _, err := snap.With(func(c *Config) { c.RTol = -1 }); !errors.Is(err, fault.ErrConfiguration) {
		t.Errorf("With must validate, got %v", err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	want := GetPreset("fast")
	want.Sigma8 = 0.8
	want.Lensing = false

	for _, ext := range []string{".yaml", ".hcl"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "run"+ext)
			if err := Save(path, want); err != nil {
				t.Fatal(err)
			}
			got, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_HCLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cosmo.hcl")
	src := `
h       = 0.7
k_size  = 4
evolver = "rkck"
`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.H != 0.7 || cfg.KSize != 4 || cfg.Evolver != "rkck" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.OmegaCDM != DefaultOmegaCDM {
		t.Errorf("unset field lost its default: %g", cfg.OmegaCDM)
	}
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := map[string]string{
		"unknown.yaml": "hubble: 0.7\n",
		"unknown.hcl":  "hubble = 0.7\n",
		"broken.hcl":   "h = = 1\n",
		"cfg.toml":     "h = 0.7\n",
	}
	for name, src := range bad {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); !errors.Is(err, fault.ErrConfiguration) {
			t.Errorf("%s: got %v, want a configuration error", name, err)
		}
	}
	if _, err := Load(filepath.Join(dir, "missing.yaml")); !errors.Is(err, fault.ErrConfiguration) {
		t.Errorf("missing file: got %v", err)
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("fast")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.KSize != 24 {
		t.Errorf("expected k_size 24, got %d", cfg.KSize)
	}
	cfg.KSize = 3
	if GetPreset("fast").KSize != 24 {
		t.Error("GetPreset handed out shared state")
	}
	if GetPreset("nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
}

func TestPresetsValidate(t *testing.T) {
	names := ListPresets()
	if len(names) != len(Presets) {
		t.Fatalf("ListPresets() = %v", names)
	}
	for _, name := range names {
		if err := GetPreset(name).Validate(); err != nil {
			t.Errorf("preset %s: %v", name, err)
		}
	}
}
