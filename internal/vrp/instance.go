// Package vrp holds the vehicle routing instance model and its file loader.
package vrp

import "errors"

// Instance is an immutable routing problem: a depot, Dimension-1 cities and a
// full (possibly asymmetric) integer distance matrix.
type Instance struct {
	Name      string
	Dimension int // locations including the depot
	Vehicles  int
	Depot     int // 0-based row of the depot in Distances
	Distances [][]int

	// Demands is indexed by 0-based location. The optimizer ignores it unless
	// a capacity weight is configured.
	Demands  []int
	Capacity int // 0 when the file carries no CAPACITY line
}

// Validate checks the parameters the solver divides or indexes by.
func (inst *Instance) Validate() error {
	if inst == nil {
		return errors.New("instance is nil")
	}
	if inst.Vehicles <= 0 {
		return invalid("vehicle count", inst.Vehicles, "> 0")
	}
	if inst.Dimension <= 1 {
		return invalid("dimension", inst.Dimension, "> 1")
	}
	if inst.Depot < 0 || inst.Depot >= inst.Dimension {
		return invalid("depot index", inst.Depot, "in [0, dimension)")
	}
	if len(inst.Distances) != inst.Dimension {
		return invalid("distance matrix rows", len(inst.Distances), "== dimension")
	}
	for i, row := range inst.Distances {
		if len(row) != inst.Dimension {
			return invalid("distance matrix row length", len(row), "== dimension")
		}
		for j, v := range row {
			if v < 0 {
				return invalid("distance", [2]int{i, j}, "non-negative weight")
			}
		}
	}
	if inst.Capacity < 0 {
		return invalid("capacity", inst.Capacity, ">= 0")
	}
	if inst.Demands != nil && len(inst.Demands) != inst.Dimension {
		return invalid("demand count", len(inst.Demands), "== dimension")
	}
	return nil
}

// CityIDs returns the 1-based ids of every location except the depot, in
// ascending order.
func (inst *Instance) CityIDs() []int {
	ids := make([]int, 0, inst.Dimension-1)
	for id := 1; id <= inst.Dimension; id++ {
		if id == inst.Depot+1 {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// DepotID is the 1-based id of the depot.
func (inst *Instance) DepotID() int { return inst.Depot + 1 }

// Demand returns the demand of a 1-based city id, or 0 when no demand data
// was loaded.
func (inst *Instance) Demand(id int) int {
	if id < 1 || id > len(inst.Demands) {
		return 0
	}
	return inst.Demands[id-1]
}
