package numeric

import (
	"math"
	"sort"
)

func Linspace(a, b float64, n int) []float64 {
	if n == 1 {
		return []float64{a}
	}
	out := make([]float64, n)
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + float64(i)*step
	}
	out[n-1] = b
	return out
}

// Logspace returns n points logarithmically spaced between a and b (both > 0).
func Logspace(a, b float64, n int) []float64 {
	if n == 1 {
		return []float64{a}
	}
	la, lb := math.Log(a), math.Log(b)
	out := Linspace(la, lb, n)
	for i := range out {
		out[i] = math.Exp(out[i])
	}
	out[0], out[n-1] = a, b
	return out
}

// Locate returns i such that xs[i] <= x < xs[i+1], clamped to [0, len(xs)-2].
func Locate(xs []float64, x float64) int {
	n := len(xs)
	i := sort.SearchFloat64s(xs, x)
	if i < n && xs[i] == x {
		i++
	}
	i--
	if i < 0 {
		return 0
	}
	if i > n-2 {
		return n - 2
	}
	return i
}

func checkGrid(x []float64) error {
	if len(x) < 2 {
		return ErrGrid
	}
	for i := 1; i < len(x); i++ {
		if !(x[i] > x[i-1]) {
			return ErrGrid
		}
	}
	return nil
}

// MergeSorted returns the sorted union of the given grids with duplicates
// closer than rtol (relative) removed.
func MergeSorted(rtol float64, grids ...[]float64) []float64 {
	var all []float64
	for _, g := range grids {
		all = append(all, g...)
	}
	sort.Float64s(all)
	out := all[:0]
	for _, v := range all {
		if len(out) > 0 && math.Abs(v-out[len(out)-1]) <= rtol*math.Abs(v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
