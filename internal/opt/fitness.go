package opt

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"vrpga/internal/vrp"
)

const (
	// DuplicatePenalty is charged for every repeated occurrence of a city.
	DuplicatePenalty = 10000
	// MissingPenalty is charged for every city no route visits.
	MissingPenalty = 10000
)

// Fitness scores a solution: total route length plus coverage penalties plus
// imbalanceWeight times the population standard deviation of route lengths.
// totalCityCount counts the depot, so a complete solution visits
// totalCityCount-1 cities. Lower is better.
func Fitness(sol Solution, matrix [][]int, totalCityCount, depot int, imbalanceWeight float64) float64 {
	seen := make(map[int]struct{}, totalCityCount)
	dupes := 0
	costs := make([]float64, len(sol))
	for i, r := range sol {
		for _, c := range r {
			if _, ok := seen[c]; ok {
				dupes++
				continue
			}
			seen[c] = struct{}{}
		}
		costs[i] = float64(RouteCost(r, matrix, depot))
	}
	return score(costs, dupes, totalCityCount-1-len(seen), imbalanceWeight)
}

func score(costs []float64, dupes, missing int, imbalanceWeight float64) float64 {
	total := floats.Sum(costs)
	total += float64(DuplicatePenalty * dupes)
	if missing > 0 {
		total += float64(MissingPenalty * missing)
	}
	if imbalanceWeight != 0 && len(costs) > 1 {
		total += imbalanceWeight * stat.PopStdDev(costs, nil)
	}
	return total
}

// Evaluator is the allocation-free Fitness used inside the generational loop.
// It also applies the optional capacity penalty. Not safe for concurrent use.
type Evaluator struct {
	inst            *vrp.Instance
	imbalanceWeight float64
	capacityWeight  float64

	mark  []int // mark[id] == stamp when id was seen in the current call
	stamp int
	costs []float64
}

// NewEvaluator validates inst and prepares scratch buffers for it.
func NewEvaluator(inst *vrp.Instance, imbalanceWeight, capacityWeight float64) (*Evaluator, error) {
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	if imbalanceWeight < 0 || capacityWeight < 0 {
		return nil, fmt.Errorf("fitness weights must be >= 0 (imbalance %g, capacity %g)", imbalanceWeight, capacityWeight)
	}
	return &Evaluator{
		inst:            inst,
		imbalanceWeight: imbalanceWeight,
		capacityWeight:  capacityWeight,
		mark:            make([]int, inst.Dimension+1),
	}, nil
}

// Fitness matches the package-level Fitness for the evaluator's instance,
// plus capacityWeight times the total overload when capacity data is present.
// Route ids must lie in [1, Dimension].
func (e *Evaluator) Fitness(sol Solution) float64 {
	e.stamp++
	if cap(e.costs) < len(sol) {
		e.costs = make([]float64, len(sol))
	}
	costs := e.costs[:len(sol)]

	visited, dupes, overload := 0, 0, 0
	checkLoad := e.capacityWeight > 0 && e.inst.Capacity > 0
	for i, r := range sol {
		load := 0
		for _, c := range r {
			if checkLoad {
				load += e.inst.Demand(c)
			}
			if e.mark[c] == e.stamp {
				dupes++
				continue
			}
			e.mark[c] = e.stamp
			visited++
		}
		if checkLoad && load > e.inst.Capacity {
			overload += load - e.inst.Capacity
		}
		costs[i] = float64(RouteCost(r, e.inst.Distances, e.inst.Depot))
	}

	f := score(costs, dupes, e.inst.Dimension-1-visited, e.imbalanceWeight)
	if overload > 0 {
		f += e.capacityWeight * float64(overload)
	}
	return f
}
