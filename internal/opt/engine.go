// Package opt implements the genetic-algorithm VRP optimizer: route costing,
// fitness with coverage penalties, population operators, 2-opt local search
// and the elitist generational loop.
package opt

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"vrpga/internal/vrp"
)

// Solver runs the genetic algorithm. All randomness comes from Rng, so two
// solvers built with equal seeds produce identical runs.
type Solver struct {
	Cfg Config
	Rng *rand.Rand

	// OnGeneration, when set, is called synchronously after initialization
	// and after every generation.
	OnGeneration func(Progress)
}

// New validates cfg and returns a solver using rng.
func New(cfg Config, rng *rand.Rand) (*Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, errors.New("random source is nil")
	}
	return &Solver{Cfg: cfg, Rng: rng}, nil
}

// NewSeeded is New with a fresh rand.Rand for seed.
func NewSeeded(cfg Config, seed int64) (*Solver, error) {
	return New(cfg, rand.New(rand.NewSource(seed)))
}

// Solve evolves a population for Cfg.Generations generations and returns the
// best solution found with its cost history. Invalid instances or parameters
// are rejected before any individual is built. If ctx is cancelled between
// generations the best-so-far result is returned together with ctx.Err().
func (s *Solver) Solve(ctx context.Context, inst *vrp.Instance) (Result, error) {
	start := time.Now()

	if err := inst.Validate(); err != nil {
		return Result{}, err
	}
	if err := s.Cfg.Validate(); err != nil {
		return Result{}, err
	}
	if s.Rng == nil {
		return Result{}, errors.New("random source is nil")
	}
	eval, err := NewEvaluator(inst, s.Cfg.ImbalanceWeight, s.Cfg.CapacityWeight)
	if err != nil {
		return Result{}, err
	}

	size := s.Cfg.Population
	cities := inst.CityIDs()

	pop := Population{
		Individuals: make([]Solution, size),
		Scores:      make([]float64, size),
	}
	for i := range pop.Individuals {
		pop.Individuals[i] = InitIndividual(cities, inst.Vehicles, s.Rng)
		pop.Scores[i] = eval.Fitness(pop.Individuals[i])
	}
	m := Metrics{Evaluations: size}

	bi := pop.Best()
	best, bestCost := pop.Individuals[bi], pop.Scores[bi]
	history := make([]float64, 0, s.Cfg.Generations+1)
	history = append(history, bestCost)
	s.report(0, bestCost, pop, start)

	for gen := 1; gen <= s.Cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return toResult(best, bestCost, history, m, time.Since(start)), err
		}

		next := Population{
			Individuals: make([]Solution, size),
			Scores:      make([]float64, size),
		}
		// Elitism: the all-time best survives unchanged in slot 0. It is shared
		// by reference, which is safe because snapshots are never mutated.
		next.Individuals[0], next.Scores[0] = best, bestCost

		for slot := 1; slot < size; slot++ {
			p1, err := TournamentSelect(pop, s.Cfg.TournamentSize, s.Rng)
			if err != nil {
				return Result{}, err
			}
			p2, err := TournamentSelect(pop, s.Cfg.TournamentSize, s.Rng)
			if err != nil {
				return Result{}, err
			}

			child := Crossover(p1, p2)
			if s.Rng.Float64() < s.Cfg.MutationRate {
				Mutate(child, s.Rng)
				m.Mutations++
			}
			for r := range child {
				var moves int
				child[r], moves = twoOpt(child[r], inst.Distances, inst.Depot)
				m.TwoOptMoves += moves
			}

			next.Individuals[slot] = child
			next.Scores[slot] = eval.Fitness(child)
			m.Evaluations++
		}

		pop = next
		if i := pop.Best(); pop.Scores[i] < bestCost {
			best, bestCost = pop.Individuals[i], pop.Scores[i]
			m.Improvements++
		}
		history = append(history, bestCost)
		m.Generations = gen
		s.report(gen, bestCost, pop, start)
	}

	return toResult(best, bestCost, history, m, time.Since(start)), nil
}

func (s *Solver) report(gen int, bestCost float64, pop Population, start time.Time) {
	if s.OnGeneration == nil {
		return
	}
	s.OnGeneration(Progress{
		Generation:     gen,
		Generations:    s.Cfg.Generations,
		BestCost:       bestCost,
		GenerationBest: pop.Scores[pop.Best()],
		MeanFitness:    pop.Mean(),
		Elapsed:        time.Since(start),
	})
}
