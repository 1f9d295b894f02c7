package opt

import (
	"fmt"
	"math/rand"
	"slices"
)

// shufflePermutation performs an in-place Fisher–Yates shuffle.
func shufflePermutation(p []int, rng *rand.Rand) {
	for i := len(p) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		p[i], p[j] = p[j], p[i]
	}
}

// InitIndividual shuffles a private copy of cityIDs and deals it round-robin
// onto vehicles routes. cityIDs is left untouched. It returns nil when
// vehicles is not positive.
func InitIndividual(cityIDs []int, vehicles int, rng *rand.Rand) Solution {
	if vehicles <= 0 {
		return nil
	}
	perm := slices.Clone(cityIDs)
	shufflePermutation(perm, rng)

	sol := make(Solution, vehicles)
	per := len(perm)/vehicles + 1
	for v := range sol {
		sol[v] = make(Route, 0, per)
	}
	for i, c := range perm {
		sol[i%vehicles] = append(sol[i%vehicles], c)
	}
	return sol
}

// TournamentSelect draws k distinct individuals uniformly at random and
// returns the one with the lowest score. On ties the earliest drawn wins.
func TournamentSelect(pop Population, k int, rng *rand.Rand) (Solution, error) {
	n := len(pop.Individuals)
	if k <= 0 || k > n {
		return nil, fmt.Errorf("tournament size %d out of range [1, %d]", k, n)
	}
	drawn := make([]int, 0, k)
	best := -1
	for len(drawn) < k {
		c := rng.Intn(n)
		if slices.Contains(drawn, c) {
			continue
		}
		drawn = append(drawn, c)
		if best < 0 || pop.Scores[c] < pop.Scores[best] {
			best = c
		}
	}
	return pop.Individuals[best], nil
}

// Crossover builds a child with max(len(p1), len(p2)) routes. Cities are taken
// from p1 then p2, route by route, and a city not yet placed goes to child
// route i mod n where i is its route index in the parent.
func Crossover(p1, p2 Solution) Solution {
	n := max(len(p1), len(p2))
	child := make(Solution, n)
	if n == 0 {
		return child
	}
	for i := range child {
		child[i] = Route{}
	}
	placed := make(map[int]struct{}, p1.Cities())
	for _, parent := range [2]Solution{p1, p2} {
		for i, r := range parent {
			for _, c := range r {
				if _, ok := placed[c]; ok {
					continue
				}
				placed[c] = struct{}{}
				child[i%n] = append(child[i%n], c)
			}
		}
	}
	return child
}

// Mutate relocates one random city from one route to a random position of
// another. It does nothing with fewer than two routes, or when the source
// route drawn is empty. sol is modified in place.
func Mutate(sol Solution, rng *rand.Rand) {
	if len(sol) < 2 {
		return
	}
	from := rng.Intn(len(sol))
	to := rng.Intn(len(sol) - 1)
	if to >= from {
		to++
	}
	src := sol[from]
	if len(src) == 0 {
		return
	}
	i := rng.Intn(len(src))
	city := src[i]
	sol[from] = append(src[:i], src[i+1:]...)

	pos := rng.Intn(len(sol[to]) + 1)
	sol[to] = slices.Insert(sol[to], pos, city)
}
