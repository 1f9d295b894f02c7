package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vrpga/internal/metrics"
	"vrpga/internal/opt"
	"vrpga/internal/store"
	"vrpga/internal/vrp"
	"vrpga/internal/webhooks"
)

// Runner executes solver runs with at most cap(slots) running at once.
// Queued runs wait for a slot; each run owns its own solver and RNG.
type Runner struct {
	Store         store.Store
	Broker        EventBroker
	Pub           *webhooks.Publisher
	Log           *slog.Logger
	ProgressEvery int

	slots chan struct{}
	base  context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewRunner(s store.Store, b EventBroker, pub *webhooks.Publisher, log *slog.Logger, maxConcurrent, progressEvery int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if progressEvery < 1 {
		progressEvery = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		Store: s, Broker: b, Pub: pub, Log: log, ProgressEvery: progressEvery,
		slots:   make(chan struct{}, maxConcurrent),
		base:    base,
		stop:    stop,
		cancels: map[string]context.CancelFunc{},
	}
}

// Job is everything needed to execute one stored run.
type Job struct {
	Run      store.Run
	Instance *vrp.Instance
	Config   opt.Config
	Seed     int64
}

// Submit executes job in the background.
func (r *Runner) Submit(job Job) {
	ctx, cancel := r.track(job.Run.ID, r.base)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.untrack(job.Run.ID, cancel)
		if _, err := r.execute(ctx, job); err != nil {
			r.Log.Error("run failed to persist", "run", job.Run.ID, "err", err)
		}
	}()
}

// Execute runs job on the caller's goroutine and returns the stored final run.
// Cancelling ctx aborts the solve; the run is then stored as failed with its
// best-so-far result.
func (r *Runner) Execute(ctx context.Context, job Job) (store.Run, error) {
	ctx, cancel := r.track(job.Run.ID, ctx)
	defer r.untrack(job.Run.ID, cancel)
	stopOnShutdown := context.AfterFunc(r.base, cancel)
	defer stopOnShutdown()
	return r.execute(ctx, job)
}

// Cancel aborts a queued or running run. It reports whether the run was known.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[runID]
	r.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown cancels every run and waits for background runs to record their
// final state, or for ctx to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.stop()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) track(id string, parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	r.mu.Lock()
	r.cancels[id] = cancel
	r.mu.Unlock()
	return ctx, cancel
}

func (r *Runner) untrack(id string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.cancels, id)
	r.mu.Unlock()
}

func (r *Runner) execute(ctx context.Context, job Job) (store.Run, error) {
	id := job.Run.ID
	log := r.Log.With("run", id)

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return r.fail(id, ctx.Err().Error(), nil)
	}
	defer func() { <-r.slots }()
	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	// state updates use a fresh context so a cancelled run still records
	// how it ended
	if err := r.Store.StartRun(context.WithoutCancel(ctx), id); err != nil {
		return store.Run{}, err
	}
	r.Broker.Publish(id, SSEEvent{Type: EventRunStarted, Data: map[string]any{
		"runId": id, "population": job.Config.Population, "generations": job.Config.Generations, "seed": job.Seed,
	}})
	log.Info("run started", "instance", job.Run.InstanceName, "dimension", job.Instance.Dimension,
		"vehicles", job.Instance.Vehicles, "population", job.Config.Population, "generations", job.Config.Generations)

	solver, err := opt.NewSeeded(job.Config, job.Seed)
	if err != nil {
		return r.fail(id, err.Error(), nil)
	}
	solver.OnGeneration = func(p opt.Progress) {
		if p.Generation > 0 {
			metrics.Generations.Inc()
		}
		if p.Generation%r.ProgressEvery != 0 && p.Generation != p.Generations {
			return
		}
		r.Broker.Publish(id, SSEEvent{Type: EventGenerationCompleted, Data: map[string]any{
			"runId":          id,
			"generation":     p.Generation,
			"generations":    p.Generations,
			"bestCost":       p.BestCost,
			"generationBest": p.GenerationBest,
			"meanFitness":    p.MeanFitness,
			"elapsedMs":      p.Elapsed.Milliseconds(),
		}})
	}

	start := time.Now()
	res, err := solver.Solve(ctx, job.Instance)
	metrics.SolveDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var partial *opt.Result
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			partial = &res
			log.Warn("run cancelled", "generations", res.Metrics.Generations, "bestCost", res.BestCost)
		} else {
			log.Error("run failed", "err", err)
		}
		return r.fail(id, err.Error(), partial)
	}

	if err := r.Store.CompleteRun(context.WithoutCancel(ctx), id, res); err != nil {
		return store.Run{}, err
	}
	metrics.SolveRuns.WithLabelValues(string(store.StatusCompleted)).Inc()
	metrics.BestCost.Set(res.BestCost)
	log.Info("run completed", "bestCost", res.BestCost, "duration", res.Duration, "twoOptMoves", res.Metrics.TwoOptMoves)
	r.Broker.Publish(id, SSEEvent{Type: EventRunCompleted, Data: map[string]any{
		"runId": id, "bestCost": res.BestCost, "durationMs": res.Duration.Milliseconds(),
	}})
	return r.finished(id)
}

func (r *Runner) fail(id, reason string, partial *opt.Result) (store.Run, error) {
	if err := r.Store.FailRun(context.Background(), id, reason, partial); err != nil {
		return store.Run{}, err
	}
	metrics.SolveRuns.WithLabelValues(string(store.StatusFailed)).Inc()
	r.Broker.Publish(id, SSEEvent{Type: EventRunFailed, Data: map[string]any{"runId": id, "error": reason}})
	return r.finished(id)
}

// finished reloads the final run and queues its completion webhook.
func (r *Runner) finished(id string) (store.Run, error) {
	ctx := context.Background()
	run, err := r.Store.GetRun(ctx, id)
	if err != nil {
		return store.Run{}, err
	}
	if r.Pub != nil {
		if _, err := r.Pub.RunFinished(ctx, run); err != nil {
			r.Log.Error("enqueue run webhook", "run", id, "err", err)
		}
	}
	return run, nil
}
