package opt

import (
	"math/rand"
	"slices"
	"sort"

	"vrpga/internal/vrp"
)

func newInstance(m [][]int, depot, vehicles int) *vrp.Instance {
	return &vrp.Instance{Dimension: len(m), Vehicles: vehicles, Depot: depot, Distances: m}
}

// triangle is a symmetric 4-location instance: depot 0 and cities 2,3,4.
var triangle = [][]int{
	{0, 3, 4, 5},
	{3, 0, 2, 6},
	{4, 2, 0, 1},
	{5, 6, 1, 0},
}

func randomMatrix(rng *rand.Rand, n int, symmetric bool) [][]int {
	m := make([][]int, n)
	for i := range m {
		m[i] = make([]int, n)
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if symmetric && j < i {
				m[i][j] = m[j][i]
				continue
			}
			m[i][j] = 1 + rng.Intn(100)
		}
	}
	return m
}

// randomRoute returns a shuffled route over every id except the depot's.
func randomRoute(rng *rand.Rand, n, depot int) Route {
	r := make(Route, 0, n-1)
	for id := 1; id <= n; id++ {
		if id != depot+1 {
			r = append(r, id)
		}
	}
	rng.Shuffle(len(r), func(i, j int) { r[i], r[j] = r[j], r[i] })
	return r
}

// referenceTwoOpt builds every candidate explicitly and prices it with
// RouteCost, restarting the scan after each improving move.
func referenceTwoOpt(route Route, m [][]int, depot int) Route {
	cur := route.Clone()
	for {
		improved := false
		curCost := RouteCost(cur, m, depot)
	scan:
		for i := 1; i < len(cur); i++ {
			for j := i + 1; j <= len(cur); j++ {
				if j-i == 1 {
					continue
				}
				cand := make(Route, 0, len(cur))
				cand = append(cand, cur[:i]...)
				seg := slices.Clone(cur[i:j])
				slices.Reverse(seg)
				cand = append(cand, seg...)
				cand = append(cand, cur[j:]...)
				if RouteCost(cand, m, depot) < curCost {
					cur = cand
					improved = true
					break scan
				}
			}
		}
		if !improved {
			return cur
		}
	}
}

func sortedCities(s Solution) []int {
	var all []int
	for _, r := range s {
		all = append(all, r...)
	}
	sort.Ints(all)
	return all
}

// bruteForceTour is the shortest closed tour through every non-depot city.
func bruteForceTour(m [][]int, depot int) int {
	cities := randomRoute(rand.New(rand.NewSource(1)), len(m), depot)
	sort.Ints(cities)
	best := -1
	var permute func(k int)
	permute = func(k int) {
		if k == len(cities) {
			if c := RouteCost(cities, m, depot); best < 0 || c < best {
				best = c
			}
			return
		}
		for i := k; i < len(cities); i++ {
			cities[k], cities[i] = cities[i], cities[k]
			permute(k + 1)
			cities[k], cities[i] = cities[i], cities[k]
		}
	}
	permute(0)
	return best
}
