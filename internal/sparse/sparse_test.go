package sparse

import (
	"errors"
	"math"
	"math/rand"
	"testing"
)

// randomSystem builds an n×n matrix with roughly density*n² off-diagonal
// entries. When weakDiag is set the diagonal is small so pivoting matters.
func randomSystem(rng *rand.Rand, n int, density float64, weakDiag bool) *Matrix {
	entries := make([]Entry, 0)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			if i != j && rng.Float64() < density {
				entries = append(entries, Entry{Row: i, Col: j})
			}
		}
		// keep a permutation-like structure so the matrix stays nonsingular
		entries = append(entries, Entry{Row: (j + 1) % n, Col: j})
	}
	p, err := NewPattern(n, entries)
	if err != nil {
		panic(err)
	}
	m := NewMatrix(p)
	for _, e := range p.Entries() {
		m.Set(e.Row, e.Col, rng.Float64()*2-1)
	}
	for i := 0; i < n; i++ {
		if weakDiag {
			m.Set(i, i, 1e-3*rng.Float64())
			m.Set((i+1)%n, i, 5+rng.Float64())
		} else {
			m.Set(i, i, float64(n)+rng.Float64())
		}
	}
	return m
}

func roundTrip(t *testing.T, m *Matrix, rng *rand.Rand) float64 {
	t.Helper()
	n := m.N()
	want := make([]float64, n)
	for i := range want {
		want[i] = rng.Float64()*10 - 5
	}
	b := make([]float64, n)
	if err := m.MulVec(want, b); err != nil {
		t.Fatal(err)
	}

	sym, err := Analyze(m.Pattern())
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	num, err := sym.Factor(m)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	got := make([]float64, n)
	if err := num.Solve(b, got); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if r, err := Residual(m, got, b); err != nil || r > 1e-8 {
		t.Errorf("residual %g (%v)", r, err)
	}

	worst := 0.0
	for i := range got {
		worst = math.Max(worst, math.Abs(got[i]-want[i]))
	}
	return worst
}

func TestSolve_RandomDiagonallyDominant(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 2, 5, 20, 80} {
		m := randomSystem(rng, n, 0.1, false)
		if err := roundTrip(t, m, rng); err > 1e-10 {
			t.Errorf("n=%d: max error %e", n, err)
		}
	}
}

func TestSolve_WeakDiagonalNeedsPivoting(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, n := range []int{3, 10, 40} {
		m := randomSystem(rng, n, 0.05, true)
		if err := roundTrip(t, m, rng); err > 1e-8 {
			t.Errorf("n=%d: max error %e", n, err)
		}
	}
}

func TestSolve_ZeroDiagonal(t *testing.T) {
	p, _ := NewPattern(2, []Entry{{0, 1}, {1, 0}})
	m := NewMatrix(p)
	m.Set(0, 1, 2)
	m.Set(1, 0, 4)

	sym, err := Analyze(p)
	if err != nil {
		t.Fatal(err)
	}
	num, err := sym.Factor(m)
	if err != nil {
		t.Fatalf("factor: %v", err)
	}
	x := make([]float64, 2)
	if err := num.Solve([]float64{6, 8}, x); err != nil {
		t.Fatal(err)
	}
	if math.Abs(x[0]-2) > 1e-14 || math.Abs(x[1]-3) > 1e-14 {
		t.Errorf("got %v, want [2 3]", x)
	}
}

func TestFactor_Singular(t *testing.T) {
	p := DensePattern(3)
	m := NewMatrix(p)
	rows := [][]float64{{1, 2, 3}, {2, 4, 6}, {1, 0, 1}}
	for i, r := range rows {
		for j, v := range r {
			m.Set(i, j, v)
		}
	}

	sym, err := Analyze(p)
	if err != nil {
		t.Fatal(err)
	}
	_, err = sym.Factor(m)
	if !errors.Is(err, ErrSingular) {
		t.Fatalf("expected ErrSingular, got %v", err)
	}
	var se *SingularError
	if !errors.As(err, &se) {
		t.Fatal("expected *SingularError")
	}
	if se.Column < 0 || se.Column > 2 {
		t.Errorf("column %d out of range", se.Column)
	}
}

func TestFactor_AllZeroValues(t *testing.T) {
	p := DensePattern(2)
	m := NewMatrix(p)
	sym, _ := Analyze(p)
	if _, err := sym.Factor(m); !errors.Is(err, ErrSingular) {
		t.Errorf("expected ErrSingular, got %v", err)
	}
}

func TestAnalyze_StructurallySingular(t *testing.T) {
	// column 2 has no entries at all
	p := &Pattern{n: 3, colPtr: []int{0, 2, 4, 4}, rowIdx: []int{0, 1, 0, 1}}
	if _, err := Analyze(p); !errors.Is(err, ErrStructurallySingular) {
		t.Errorf("expected ErrStructurallySingular, got %v", err)
	}
}

func TestRefactor_ReusesOrdering(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	m := randomSystem(rng, 30, 0.1, false)
	sym, err := Analyze(m.Pattern())
	if err != nil {
		t.Fatal(err)
	}
	num, err := sym.Factor(m)
	if err != nil {
		t.Fatal(err)
	}

	for trial := 0; trial < 5; trial++ {
		for _, e := range m.Pattern().Entries() {
			if e.Row != e.Col {
				m.Set(e.Row, e.Col, rng.Float64()-0.5)
			}
		}
		if err := num.Refactor(m); err != nil {
			t.Fatalf("refactor %d: %v", trial, err)
		}
		want := make([]float64, m.N())
		for i := range want {
			want[i] = float64(i)
		}
		b := make([]float64, m.N())
		_ = m.MulVec(want, b)
		if err := num.Solve(b, b); err != nil {
			t.Fatal(err)
		}
		for i := range b {
			if math.Abs(b[i]-want[i]) > 1e-9 {
				t.Fatalf("trial %d: x[%d]=%g want %g", trial, i, b[i], want[i])
			}
		}
	}
}

func TestRefactor_PatternMismatch(t *testing.T) {
	sym, _ := Analyze(DensePattern(2))
	other := NewMatrix(DensePattern(2))
	other.Set(0, 0, 1)
	other.Set(1, 1, 1)
	if _, err := sym.Factor(other); !errors.Is(err, ErrPatternMismatch) {
		t.Errorf("expected ErrPatternMismatch, got %v", err)
	}
}

func TestSolveAfterFailedRefactor(t *testing.T) {
	p := DensePattern(2)
	m := NewMatrix(p)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1)
	sym, _ := Analyze(p)
	num, err := sym.Factor(m)
	if err != nil {
		t.Fatal(err)
	}
	m.Zero()
	if err := num.Refactor(m); err == nil {
		t.Fatal("expected failure")
	}
	if err := num.Solve([]float64{1, 1}, make([]float64, 2)); !errors.Is(err, ErrSingular) {
		t.Errorf("solve on failed factorization: %v", err)
	}
}

func TestRCond(t *testing.T) {
	p := DensePattern(2)
	m := NewMatrix(p)
	m.Set(0, 0, 1)
	m.Set(1, 1, 1e-9)
	sym, _ := Analyze(p)
	num, err := sym.Factor(m)
	if err != nil {
		t.Fatal(err)
	}
	if rc := num.RCond(); rc > 1e-8 {
		t.Errorf("RCond = %g, want ~1e-9", rc)
	}
}

func TestPattern(t *testing.T) {
	p, err := NewPattern(3, []Entry{{2, 0}, {2, 0}, {0, 2}})
	if err != nil {
		t.Fatal(err)
	}
	if p.NNZ() != 5 {
		t.Errorf("NNZ = %d, want 5 (3 diagonal + 2 off)", p.NNZ())
	}
	if p.Index(1, 0) != -1 {
		t.Error("(1,0) should not be in pattern")
	}
	if p.Index(2, 0) < 0 {
		t.Error("(2,0) missing")
	}
	if _, err := NewPattern(2, []Entry{{2, 0}}); !errors.Is(err, ErrDimension) {
		t.Errorf("expected ErrDimension, got %v", err)
	}
}

func TestMatrix_SetOutsidePatternPanics(t *testing.T) {
	p, _ := NewPattern(2, nil)
	m := NewMatrix(p)
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	m.Set(0, 1, 1)
}

func TestMatrix_ShiftScale(t *testing.T) {
	p := DensePattern(2)
	j := NewMatrix(p)
	j.Set(0, 0, 2)
	j.Set(0, 1, 3)
	m := NewMatrix(p)
	m.ShiftScale(1, -0.5, j)
	if m.At(0, 0) != 0 || m.At(0, 1) != -1.5 || m.At(1, 1) != 1 {
		t.Errorf("ShiftScale wrong: %v %v %v", m.At(0, 0), m.At(0, 1), m.At(1, 1))
	}
}

func BenchmarkFactorSolve(b *testing.B) {
	rng := rand.New(rand.NewSource(11))
	m := randomSystem(rng, 60, 0.05, false)
	sym, _ := Analyze(m.Pattern())
	num, _ := sym.Factor(m)
	rhs := make([]float64, m.N())
	x := make([]float64, m.N())
	for i := range rhs {
		rhs[i] = 1
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = num.Refactor(m)
		_ = num.Solve(rhs, x)
	}
}
