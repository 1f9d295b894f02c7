package opt

import "vrpga/internal/vrp"

// Config holds the genetic algorithm parameters.
type Config struct {
	Population     int     `yaml:"population" json:"population"`
	Generations    int     `yaml:"generations" json:"generations"`
	TournamentSize int     `yaml:"tournamentSize" json:"tournamentSize"`
	MutationRate   float64 `yaml:"mutationRate" json:"mutationRate"`
	// ImbalanceWeight scales the std-dev of route lengths added to fitness.
	ImbalanceWeight float64 `yaml:"imbalanceWeight" json:"imbalanceWeight"`
	// CapacityWeight scales total overload when the instance has a capacity.
	// Zero keeps demand out of the objective.
	CapacityWeight float64 `yaml:"capacityWeight" json:"capacityWeight"`
}

func (c Config) Validate() error {
	bad := func(param string, v any, want string) error {
		return &vrp.InvalidParameterError{Param: param, Value: v, Want: want}
	}
	if c.Population <= 0 {
		return bad("population size", c.Population, "> 0")
	}
	if c.Generations < 0 {
		return bad("generation count", c.Generations, ">= 0")
	}
	if c.TournamentSize <= 0 || c.TournamentSize > c.Population {
		return bad("tournament size", c.TournamentSize, "in [1, population]")
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return bad("mutation rate", c.MutationRate, "in [0, 1]")
	}
	if c.ImbalanceWeight < 0 {
		return bad("imbalance weight", c.ImbalanceWeight, ">= 0")
	}
	if c.CapacityWeight < 0 {
		return bad("capacity weight", c.CapacityWeight, ">= 0")
	}
	return nil
}

func DefaultConfig() Config {
	return Config{
		Population:     100,
		Generations:    300,
		TournamentSize: 3,
		MutationRate:   0.3,
	}
}
