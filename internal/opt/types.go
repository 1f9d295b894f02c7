package opt

import "gonum.org/v1/gonum/stat"

// Route is the ordered list of 1-based city ids one vehicle visits. The depot
// is implicit at both ends and never stored.
type Route []int

// Solution holds one Route per vehicle.
type Solution []Route

// Clone returns a copy that shares no backing arrays with r.
func (r Route) Clone() Route {
	out := make(Route, len(r))
	copy(out, r)
	return out
}

// Clone deep-copies every route.
func (s Solution) Clone() Solution {
	out := make(Solution, len(s))
	for i, r := range s {
		out[i] = r.Clone()
	}
	return out
}

// Cities is the total number of stops across all routes, duplicates included.
func (s Solution) Cities() int {
	n := 0
	for _, r := range s {
		n += len(r)
	}
	return n
}

// Population is one generation's snapshot. Scores[i] is the fitness of
// Individuals[i]. A snapshot is never modified after it is built; the next
// generation gets a new one.
type Population struct {
	Individuals []Solution
	Scores      []float64
}

// Best returns the index of the lowest score, preferring the earliest on ties.
func (p Population) Best() int {
	best := 0
	for i := 1; i < len(p.Scores); i++ {
		if p.Scores[i] < p.Scores[best] {
			best = i
		}
	}
	return best
}

// Mean is the average fitness of the snapshot.
func (p Population) Mean() float64 {
	if len(p.Scores) == 0 {
		return 0
	}
	return stat.Mean(p.Scores, nil)
}
