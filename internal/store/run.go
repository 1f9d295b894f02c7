package store

import (
	"time"

	"vrpga/internal/opt"
)

type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

func (s RunStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// NewRun is what the API knows about a run before it starts.
type NewRun struct {
	InstanceName   string
	Dimension      int
	Vehicles       int
	Seed           int64
	Config         opt.Config
	CallbackURL    string
	CallbackSecret string
}

type Run struct {
	ID           string       `json:"id"`
	Status       RunStatus    `json:"status"`
	InstanceName string       `json:"instanceName,omitempty"`
	Dimension    int          `json:"dimension"`
	Vehicles     int          `json:"vehicles"`
	Seed         int64        `json:"seed"`
	Config       opt.Config   `json:"config"`
	CallbackURL  string       `json:"callbackUrl,omitempty"`
	Best         opt.Solution `json:"best,omitempty"`
	BestCost     *float64     `json:"bestCost,omitempty"`
	History      []float64    `json:"history,omitempty"`
	Metrics      *opt.Metrics `json:"metrics,omitempty"`
	Error        string       `json:"error,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	StartedAt    *time.Time   `json:"startedAt,omitempty"`
	FinishedAt   *time.Time   `json:"finishedAt,omitempty"`

	// CallbackSecret signs completion webhooks; never serialized.
	CallbackSecret string `json:"-"`
}

// Summary is the run without its per-generation history; used in lists and
// webhook payloads.
func (r Run) Summary() Run {
	r.History = nil
	return r
}

func (r *Run) applyResult(res opt.Result) {
	cost := res.BestCost
	m := res.Metrics
	r.Best = res.Best.Clone()
	r.BestCost = &cost
	r.History = append([]float64(nil), res.History...)
	r.Metrics = &m
}
