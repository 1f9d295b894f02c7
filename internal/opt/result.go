package opt

import "time"

// Result is what a finished (or cancelled) run hands to exporters and the API.
type Result struct {
	Best     Solution      `json:"best"`
	BestCost float64       `json:"bestCost"`
	History  []float64     `json:"history"` // best-so-far after init and after each generation
	Metrics  Metrics       `json:"metrics"`
	Duration time.Duration `json:"durationNs"`
}

type Metrics struct {
	Generations  int `json:"generations"`
	Evaluations  int `json:"evaluations"`
	Improvements int `json:"improvements"`
	Mutations    int `json:"mutations"`
	TwoOptMoves  int `json:"twoOptMoves"`
}

// Progress is reported after initialization (Generation 0) and after every
// generation.
type Progress struct {
	Generation     int           `json:"generation"`
	Generations    int           `json:"generations"`
	BestCost       float64       `json:"bestCost"`
	GenerationBest float64       `json:"generationBest"`
	MeanFitness    float64       `json:"meanFitness"`
	Elapsed        time.Duration `json:"elapsedNs"`
}

func toResult(best Solution, bestCost float64, history []float64, m Metrics, d time.Duration) Result {
	return Result{
		Best:     best.Clone(),
		BestCost: bestCost,
		History:  append([]float64(nil), history...),
		Metrics:  m,
		Duration: d,
	}
}
