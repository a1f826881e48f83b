package sparse

import (
	"math"
)

// PivotTolerance is the threshold for keeping the diagonal entry as pivot:
// the diagonal is preferred while |a_kk| >= PivotTolerance * max|a_ik|.
const PivotTolerance = 0.1

// Numeric is an LU factorization P·A·Q = L·U bound to a Symbolic analysis.
type Numeric struct {
	sym *Symbolic

	lp, li []int
	lx     []float64
	up, ui []int
	ux     []float64
	pinv   []int

	// scratch
	x      []float64
	xi     []int
	pstack []int
	marked []bool
	work   []float64

	minPivot, maxPivot float64
	ok                 bool
}

// Factor computes a fresh numeric factorization of m.
func (s *Symbolic) Factor(m *Matrix) (*Numeric, error) {
	n := s.pattern.n
	num := &Numeric{
		sym:    s,
		lp:     make([]int, n+1),
		up:     make([]int, n+1),
		li:     make([]int, 0, s.lnz),
		lx:     make([]float64, 0, s.lnz),
		ui:     make([]int, 0, s.unz),
		ux:     make([]float64, 0, s.unz),
		pinv:   make([]int, n),
		x:      make([]float64, n),
		xi:     make([]int, n),
		pstack: make([]int, n),
		marked: make([]bool, n),
		work:   make([]float64, n),
	}
	if err := num.Refactor(m); err != nil {
		return nil, err
	}
	return num, nil
}

// Refactor recomputes the factorization for new values of the same pattern,
// reusing every allocation.
func (f *Numeric) Refactor(m *Matrix) error {
	if m.pattern != f.sym.pattern {
		return ErrPatternMismatch
	}
	n := m.pattern.n
	f.ok = false
	f.li, f.lx = f.li[:0], f.lx[:0]
	f.ui, f.ux = f.ui[:0], f.ux[:0]
	for i := 0; i < n; i++ {
		f.pinv[i] = -1
		f.x[i] = 0
		f.marked[i] = false
	}
	f.minPivot, f.maxPivot = math.Inf(1), 0

	anorm := m.NormInf()
	tiny := anorm * 1e-14

	for k := 0; k < n; k++ {
		f.lp[k] = len(f.li)
		f.up[k] = len(f.ui)
		col := f.sym.q[k]

		top := f.spsolve(m, col)

		ipiv, amax := -1, -1.0
		for p := top; p < n; p++ {
			i := f.xi[p]
			if f.pinv[i] < 0 {
				if t := math.Abs(f.x[i]); t > amax {
					amax, ipiv = t, i
				}
			} else {
				f.ui = append(f.ui, f.pinv[i])
				f.ux = append(f.ux, f.x[i])
			}
		}
		if ipiv < 0 || amax <= tiny {
			for p := top; p < n; p++ {
				f.x[f.xi[p]] = 0
			}
			return &SingularError{Column: col, Pivot: math.Max(amax, 0)}
		}
		if f.pinv[col] < 0 && math.Abs(f.x[col]) >= amax*PivotTolerance {
			ipiv = col
		}

		pivot := f.x[ipiv]
		f.ui = append(f.ui, k)
		f.ux = append(f.ux, pivot)
		f.pinv[ipiv] = k
		ap := math.Abs(pivot)
		f.minPivot = math.Min(f.minPivot, ap)
		f.maxPivot = math.Max(f.maxPivot, ap)

		f.li = append(f.li, ipiv)
		f.lx = append(f.lx, 1)
		for p := top; p < n; p++ {
			i := f.xi[p]
			if f.pinv[i] < 0 {
				f.li = append(f.li, i)
				f.lx = append(f.lx, f.x[i]/pivot)
			}
			f.x[i] = 0
		}
	}
	f.lp[n] = len(f.li)
	f.up[n] = len(f.ui)
	for p := range f.li {
		f.li[p] = f.pinv[f.li[p]]
	}
	f.ok = true
	return nil
}

// spsolve solves L·x = A(:,col) for the partially built L, leaving the
// nonzero pattern of x in xi[top:n].
func (f *Numeric) spsolve(m *Matrix, col int) int {
	n := m.pattern.n
	pat := m.pattern
	top := f.reach(pat, col)
	for p := top; p < n; p++ {
		f.x[f.xi[p]] = 0
	}
	for p := pat.colPtr[col]; p < pat.colPtr[col+1]; p++ {
		f.x[pat.rowIdx[p]] = m.val[p]
	}
	for px := top; px < n; px++ {
		j := f.xi[px]
		J := f.pinv[j]
		if J < 0 {
			continue
		}
		xj := f.x[j] / f.lx[f.lp[J]]
		f.x[j] = xj
		for p := f.lp[J] + 1; p < f.lp[J+1]; p++ {
			f.x[f.li[p]] -= f.lx[p] * xj
		}
	}
	return top
}

// reach computes the topologically ordered set of rows reachable in the
// graph of L from the nonzeros of A(:,col).
func (f *Numeric) reach(pat *Pattern, col int) int {
	n := pat.n
	top := n
	for p := pat.colPtr[col]; p < pat.colPtr[col+1]; p++ {
		if i := pat.rowIdx[p]; !f.marked[i] {
			top = f.dfs(i, top)
		}
	}
	for p := top; p < n; p++ {
		f.marked[f.xi[p]] = false
	}
	return top
}

func (f *Numeric) dfs(j, top int) int {
	// xi[0:head] is used as the recursion stack, xi[top:] collects output.
	head := 0
	f.xi[0] = j
	for head >= 0 {
		j = f.xi[head]
		jnew := f.pinv[j]
		if !f.marked[j] {
			f.marked[j] = true
			if jnew < 0 {
				f.pstack[head] = 0
			} else {
				f.pstack[head] = f.lp[jnew]
			}
		}
		done := true
		end := 0
		if jnew >= 0 {
			end = f.lp[jnew+1]
		}
		for p := f.pstack[head]; p < end; p++ {
			i := f.li[p]
			if f.marked[i] {
				continue
			}
			f.pstack[head] = p
			head++
			f.xi[head] = i
			done = false
			break
		}
		if done {
			head--
			top--
			f.xi[top] = j
		}
	}
	return top
}

// Solve computes x = A⁻¹·b. b and x may alias.
func (f *Numeric) Solve(b, x []float64) error {
	n := f.sym.pattern.n
	if len(b) != n || len(x) != n {
		return ErrDimension
	}
	if !f.ok {
		return ErrSingular
	}
	w := f.work
	for i := 0; i < n; i++ {
		w[f.pinv[i]] = b[i]
	}
	for j := 0; j < n; j++ {
		w[j] /= f.lx[f.lp[j]]
		for p := f.lp[j] + 1; p < f.lp[j+1]; p++ {
			w[f.li[p]] -= f.lx[p] * w[j]
		}
	}
	for j := n - 1; j >= 0; j-- {
		w[j] /= f.ux[f.up[j+1]-1]
		for p := f.up[j]; p < f.up[j+1]-1; p++ {
			w[f.ui[p]] -= f.ux[p] * w[j]
		}
	}
	for k := 0; k < n; k++ {
		x[f.sym.q[k]] = w[k]
	}
	return nil
}

// RCond is a cheap reciprocal condition estimate: the ratio of the smallest
// to the largest pivot magnitude.
func (f *Numeric) RCond() float64 {
	if f.maxPivot == 0 {
		return 0
	}
	return f.minPivot / f.maxPivot
}

// NNZ reports the number of stored entries in L and U.
func (f *Numeric) NNZ() (l, u int) {
	return len(f.li), len(f.ui)
}
