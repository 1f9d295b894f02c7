package opt

import "slices"

// TwoOpt improves a single route by first-improvement 2-opt and returns the
// result; route itself is not modified.
//
// Moves reverse route[i:j] for 1 <= i, i+2 <= j <= len(route). Position 0 is
// never a left cut, so the first city of the route keeps its place. After
// every strictly improving move the scan restarts from the beginning; the
// routine stops when a full scan finds no improvement.
//
// A candidate is priced in O(1): the two boundary edges change and the
// segment's inner edges flip direction, which prefix sums over forward and
// backward edge weights give exactly even for asymmetric matrices.
func TwoOpt(route Route, matrix [][]int, depot int) Route {
	out, _ := twoOpt(route, matrix, depot)
	return out
}

// twoOpt also reports how many moves were applied.
func twoOpt(route Route, m [][]int, depot int) (Route, int) {
	out := route.Clone()
	n := len(out)
	if n < 3 {
		return out, 0
	}

	// fwd[k] sums m[out[t]][out[t+1]] for t < k; bwd[k] sums the reversed edges.
	fwd := make([]int, n)
	bwd := make([]int, n)
	prefix := func() {
		for k := 1; k < n; k++ {
			a, b := out[k-1]-1, out[k]-1
			fwd[k] = fwd[k-1] + m[a][b]
			bwd[k] = bwd[k-1] + m[b][a]
		}
	}
	prefix()

	moves := 0
scan:
	for {
		for i := 1; i+2 <= n; i++ {
			a, b := out[i-1]-1, out[i]-1
			ab := m[a][b]
			for j := i + 2; j <= n; j++ {
				c := out[j-1] - 1
				e := depot
				if j < n {
					e = out[j] - 1
				}
				delta := m[a][c] + m[b][e] + (bwd[j-1] - bwd[i]) -
					ab - m[c][e] - (fwd[j-1] - fwd[i])
				if delta < 0 {
					slices.Reverse(out[i:j])
					prefix()
					moves++
					continue scan
				}
			}
		}
		return out, moves
	}
}
