package pipeline

import "fmt"

// Stage names one module of the graph. Stages are ordered by dependency.
type Stage int

const (
	Background Stage = iota
	Thermodynamics
	Perturbations
	Primordial
	Nonlinear
	Transfer
	Spectra
	Lensing
)

var stageNames = [...]string{
	Background:     "background",
	Thermodynamics: "thermodynamics",
	Perturbations:  "perturbations",
	Primordial:     "primordial",
	Nonlinear:      "nonlinear",
	Transfer:       "transfer",
	Spectra:        "spectra",
	Lensing:        "lensing",
}

func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Stages returns every stage in build order.
func Stages() []Stage {
	out := make([]Stage, len(stageNames))
	for i := range out {
		out[i] = Stage(i)
	}
	return out
}

// ParseStage maps a stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}
