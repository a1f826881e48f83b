package sparse

import (
	"fmt"
	"sort"
)

// Entry is a (row, column) position in a pattern.
type Entry struct {
	Row, Col int
}

// Pattern is an immutable compressed-column sparsity structure of an n×n
// matrix. The diagonal is always part of the pattern.
type Pattern struct {
	n      int
	colPtr []int
	rowIdx []int
}

// NewPattern builds a pattern from entry positions. Duplicates are merged and
// the diagonal is added.
func NewPattern(n int, entries []Entry) (*Pattern, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: order %d", ErrDimension, n)
	}
	cols := make([][]int, n)
	for j := 0; j < n; j++ {
		cols[j] = append(cols[j], j)
	}
	for _, e := range entries {
		if e.Row < 0 || e.Row >= n || e.Col < 0 || e.Col >= n {
			return nil, fmt.Errorf("%w: entry (%d,%d) outside %dx%d", ErrDimension, e.Row, e.Col, n, n)
		}
		cols[e.Col] = append(cols[e.Col], e.Row)
	}

	p := &Pattern{n: n, colPtr: make([]int, n+1)}
	for j, rows := range cols {
		sort.Ints(rows)
		last := -1
		for _, r := range rows {
			if r != last {
				p.rowIdx = append(p.rowIdx, r)
				last = r
			}
		}
		p.colPtr[j+1] = len(p.rowIdx)
	}
	return p, nil
}

// DensePattern is the full n×n pattern.
func DensePattern(n int) *Pattern {
	entries := make([]Entry, 0, n*n)
	for j := 0; j < n; j++ {
		for i := 0; i < n; i++ {
			entries = append(entries, Entry{Row: i, Col: j})
		}
	}
	p, err := NewPattern(n, entries)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Pattern) N() int   { return p.n }
func (p *Pattern) NNZ() int { return len(p.rowIdx) }

// Column returns the sorted row indices of column j. The slice must not be
// modified.
func (p *Pattern) Column(j int) []int {
	return p.rowIdx[p.colPtr[j]:p.colPtr[j+1]]
}

// Index returns the storage position of (i, j), or -1 when it is not in the
// pattern.
func (p *Pattern) Index(i, j int) int {
	lo, hi := p.colPtr[j], p.colPtr[j+1]
	k := lo + sort.SearchInts(p.rowIdx[lo:hi], i)
	if k < hi && p.rowIdx[k] == i {
		return k
	}
	return -1
}

// Entries lists every position in column-major order.
func (p *Pattern) Entries() []Entry {
	out := make([]Entry, 0, len(p.rowIdx))
	for j := 0; j < p.n; j++ {
		for _, i := range p.Column(j) {
			out = append(out, Entry{Row: i, Col: j})
		}
	}
	return out
}
