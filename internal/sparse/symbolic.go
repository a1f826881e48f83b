package sparse

// Symbolic is the reusable result of analysing a pattern: a column
// elimination order and storage estimates for the factors.
type Symbolic struct {
	pattern *Pattern
	q       []int
	lnz     int
	unz     int
}

// Analyze checks structural rank and computes a minimum-degree column order
// on the symmetrised pattern A+Aᵀ.
func Analyze(p *Pattern) (*Symbolic, error) {
	if !fullStructuralRank(p) {
		return nil, ErrStructurallySingular
	}
	q := minimumDegree(p)
	est := 4*p.NNZ() + p.n
	return &Symbolic{pattern: p, q: q, lnz: est, unz: est}, nil
}

func (s *Symbolic) Pattern() *Pattern { return s.pattern }

// Order returns a copy of the column elimination order.
func (s *Symbolic) Order() []int {
	out := make([]int, len(s.q))
	copy(out, s.q)
	return out
}

// fullStructuralRank finds a maximum bipartite matching between columns and
// rows with augmenting paths.
func fullStructuralRank(p *Pattern) bool {
	matchRow := make([]int, p.n)
	for i := range matchRow {
		matchRow[i] = -1
	}
	seen := make([]int, p.n)
	for i := range seen {
		seen[i] = -1
	}

	var augment func(j, stamp int) bool
	augment = func(j, stamp int) bool {
		for _, i := range p.Column(j) {
			if seen[i] == stamp {
				continue
			}
			seen[i] = stamp
			if matchRow[i] < 0 || augment(matchRow[i], stamp) {
				matchRow[i] = j
				return true
			}
		}
		return false
	}

	for j := 0; j < p.n; j++ {
		if len(p.Column(j)) == 0 || !augment(j, j) {
			return false
		}
	}
	return true
}

// minimumDegree returns an elimination order that greedily picks the node of
// least degree in the quotient graph, smallest index on ties.
func minimumDegree(p *Pattern) []int {
	n := p.n
	adj := make([]map[int]struct{}, n)
	for i := range adj {
		adj[i] = make(map[int]struct{})
	}
	for j := 0; j < n; j++ {
		for _, i := range p.Column(j) {
			if i != j {
				adj[i][j] = struct{}{}
				adj[j][i] = struct{}{}
			}
		}
	}

	eliminated := make([]bool, n)
	order := make([]int, 0, n)
	for len(order) < n {
		best, bestDeg := -1, n+1
		for v := 0; v < n; v++ {
			if !eliminated[v] && len(adj[v]) < bestDeg {
				best, bestDeg = v, len(adj[v])
			}
		}
		eliminated[best] = true
		order = append(order, best)

		nbrs := make([]int, 0, len(adj[best]))
		for u := range adj[best] {
			nbrs = append(nbrs, u)
		}
		for _, u := range nbrs {
			delete(adj[u], best)
			for _, w := range nbrs {
				if w != u {
					adj[u][w] = struct{}{}
				}
			}
		}
		adj[best] = nil
	}
	return order
}
