package sparse

import (
	"fmt"
	"math"
)

// Matrix holds numeric values for a fixed Pattern.
type Matrix struct {
	pattern *Pattern
	val     []float64
}

func NewMatrix(p *Pattern) *Matrix {
	return &Matrix{pattern: p, val: make([]float64, p.NNZ())}
}

func (m *Matrix) Pattern() *Pattern { return m.pattern }
func (m *Matrix) N() int            { return m.pattern.n }

func (m *Matrix) Zero() {
	for i := range m.val {
		m.val[i] = 0
	}
}

func (m *Matrix) index(i, j int) int {
	k := m.pattern.Index(i, j)
	if k < 0 {
		panic(fmt.Sprintf("sparse: entry (%d,%d) is not in the pattern", i, j))
	}
	return k
}

// Set stores v at (i, j). Writing outside the pattern panics.
func (m *Matrix) Set(i, j int, v float64) { m.val[m.index(i, j)] = v }

// Add accumulates v at (i, j). Writing outside the pattern panics.
func (m *Matrix) Add(i, j int, v float64) { m.val[m.index(i, j)] += v }

func (m *Matrix) At(i, j int) float64 {
	if k := m.pattern.Index(i, j); k >= 0 {
		return m.val[k]
	}
	return 0
}

// CopyFrom copies values from src, which must share the pattern.
func (m *Matrix) CopyFrom(src *Matrix) {
	if src.pattern != m.pattern {
		panic(ErrPatternMismatch)
	}
	copy(m.val, src.val)
}

// ShiftScale sets m = alpha*I + beta*src, the Newton iteration matrix
// form used by implicit evolvers.
func (m *Matrix) ShiftScale(alpha, beta float64, src *Matrix) {
	if src.pattern != m.pattern {
		panic(ErrPatternMismatch)
	}
	p := m.pattern
	for j := 0; j < p.n; j++ {
		for k := p.colPtr[j]; k < p.colPtr[j+1]; k++ {
			m.val[k] = beta * src.val[k]
			if p.rowIdx[k] == j {
				m.val[k] += alpha
			}
		}
	}
}

// MulVec computes y = m*x.
func (m *Matrix) MulVec(x, y []float64) error {
	n := m.pattern.n
	if len(x) != n || len(y) != n {
		return ErrDimension
	}
	for i := range y {
		y[i] = 0
	}
	p := m.pattern
	for j := 0; j < n; j++ {
		xj := x[j]
		if xj == 0 {
			continue
		}
		for k := p.colPtr[j]; k < p.colPtr[j+1]; k++ {
			y[p.rowIdx[k]] += m.val[k] * xj
		}
	}
	return nil
}

// NormInf returns the maximum absolute row sum.
func (m *Matrix) NormInf() float64 {
	rows := make([]float64, m.pattern.n)
	for j := 0; j < m.pattern.n; j++ {
		for k := m.pattern.colPtr[j]; k < m.pattern.colPtr[j+1]; k++ {
			v := m.val[k]
			if v < 0 {
				v = -v
			}
			rows[m.pattern.rowIdx[k]] += v
		}
	}
	norm := 0.0
	for _, r := range rows {
		if r > norm {
			norm = r
		}
	}
	return norm
}

// Residual returns max_i |b_i - (m·x)_i|.
func Residual(m *Matrix, x, b []float64) (float64, error) {
	ax := make([]float64, m.pattern.n)
	if err := m.MulVec(x, ax); err != nil {
		return 0, err
	}
	if len(b) != len(ax) {
		return 0, ErrDimension
	}
	r := 0.0
	for i := range ax {
		r = math.Max(r, math.Abs(b[i]-ax[i]))
	}
	return r, nil
}
