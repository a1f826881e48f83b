package config

import "sort"

var Presets = map[string]*Config{
	"planck18": DefaultConfig(),
	"fast": func() *Config {
		c := DefaultConfig()
		c.KSize, c.QSize, c.TauSize = 24, 300, 250
		c.LMax, c.LLinStep = 500, 50
		c.PhotonLMax = 8
		c.RTol, c.ATol = 1e-4, 1e-8
		return c
	}(),
	"precise": func() *Config {
		c := DefaultConfig()
		c.KSize, c.QSize, c.TauSize = 120, 1200, 800
		c.KMax = 0.25
		c.LMax, c.LLinStep = 2000, 25
		c.PhotonLMax = 16
		c.RTol, c.ATol = 1e-6, 1e-12
		c.BesselDx = 0.05
		return c
	}(),
	"normalised": func() *Config {
		c := DefaultConfig()
		c.Sigma8 = 0.811
		c.Nonlinear = "boost"
		return c
	}(),
	"open": func() *Config {
		c := DefaultConfig()
		c.OmegaK = 0.05
		return c
	}(),
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(name string) *Config {
	cfg, ok := Presets[name]
	if !ok {
		return nil
	}
	c := *cfg
	return &c
}

func ListPresets() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
