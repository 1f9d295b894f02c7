// Command vrpsolve solves one instance file and writes the report, the
// per-vehicle table and the plots under -out.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vrpga/internal/config"
	"vrpga/internal/export"
	"vrpga/internal/logging"
	"vrpga/internal/opt"
	"vrpga/internal/vrp"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "vrpsolve:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("vrpsolve", flag.ContinueOnError)
	var (
		instancePath  = fs.String("instance", "", "instance file (required)")
		outDir        = fs.String("out", "final", "output directory")
		configPath    = fs.String("config", "", "YAML config file; its solver section sets the defaults")
		seed          = fs.Int64("seed", 0, "random seed; 0 picks one from the clock")
		pop           = fs.Int("pop", 0, "population size")
		gens          = fs.Int("gens", 0, "generation count")
		tournament    = fs.Int("tournament", 0, "tournament size")
		mutation      = fs.Float64("mutation", 0, "mutation rate")
		imbalance     = fs.Float64("imbalance", 0, "route length imbalance weight")
		capWeight     = fs.Float64("capacity-weight", 0, "capacity overload weight")
		progressEvery = fs.Int("progress-every", 10, "log progress every N generations")
		noPlots       = fs.Bool("no-plots", false, "skip the PNG charts")
		logLevel      = fs.String("log-level", "info", "debug, info, warn or error")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instancePath == "" {
		fs.Usage()
		return errors.New("-instance is required")
	}
	log := logging.New(os.Stderr, "text", *logLevel)

	cfg := opt.DefaultConfig()
	if *configPath != "" {
		c, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = c.Solver
	}
	// explicit flags win over the config file
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "pop":
			cfg.Population = *pop
		case "gens":
			cfg.Generations = *gens
		case "tournament":
			cfg.TournamentSize = *tournament
		case "mutation":
			cfg.MutationRate = *mutation
		case "imbalance":
			cfg.ImbalanceWeight = *imbalance
		case "capacity-weight":
			cfg.CapacityWeight = *capWeight
		}
	})
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	if *progressEvery < 1 {
		*progressEvery = 1
	}

	inst, err := vrp.Load(*instancePath)
	if err != nil {
		return err
	}
	solver, err := opt.NewSeeded(cfg, *seed)
	if err != nil {
		return err
	}
	solver.OnGeneration = func(p opt.Progress) {
		if p.Generation%*progressEvery != 0 && p.Generation != p.Generations {
			return
		}
		log.Info("generation", "gen", p.Generation, "of", p.Generations,
			"best", p.BestCost, "genBest", p.GenerationBest, "mean", p.MeanFitness, "elapsed", p.Elapsed.Round(time.Millisecond))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	log.Info("solving", "instance", inst.Name, "dimension", inst.Dimension, "vehicles", inst.Vehicles,
		"population", cfg.Population, "generations", cfg.Generations, "seed", *seed)
	res, err := solver.Solve(ctx, inst)
	switch {
	case errors.Is(err, context.Canceled):
		// interrupted: export the best solution found so far
		log.Warn("interrupted", "generations", res.Metrics.Generations)
	case err != nil:
		return err
	}
	log.Info("solved", "bestCost", res.BestCost, "duration", res.Duration.Round(time.Millisecond),
		"improvements", res.Metrics.Improvements, "twoOptMoves", res.Metrics.TwoOptMoves)

	folder, err := export.Write(*outDir, inst, res, export.Options{NoPlots: *noPlots})
	if err != nil {
		return err
	}
	log.Info("results written", "dir", folder)
	return nil
}
