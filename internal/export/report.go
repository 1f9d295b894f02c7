// Package export renders a finished run to disk: a text report, a per-vehicle
// CSV table and two PNG charts.
package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"vrpga/internal/buildinfo"
	"vrpga/internal/opt"
	"vrpga/internal/vrp"
)

const (
	ReportFile  = "best_solution.txt"
	StatsFile   = "statistics.csv"
	HistoryPlot = "cost_history.png"
	RoutesPlot  = "routes.png"
)

type Options struct {
	NoPlots bool
	// Host is written into the report; nil collects it from the running machine.
	Host *SysInfo
}

// Write creates <dir>/<instance name without extension>/ and fills it.
// It returns the folder path.
func Write(dir string, inst *vrp.Instance, res opt.Result, o Options) (string, error) {
	folder := filepath.Join(dir, FolderName(inst.Name))
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}

	host := o.Host
	if host == nil {
		si := CollectSysInfo()
		host = &si
	}
	if err := writeFile(filepath.Join(folder, ReportFile), func(w io.Writer) error {
		return WriteReport(w, inst, res, *host)
	}); err != nil {
		return folder, err
	}
	if err := writeFile(filepath.Join(folder, StatsFile), func(w io.Writer) error {
		return WriteStatistics(w, inst, res.Best)
	}); err != nil {
		return folder, err
	}
	if o.NoPlots {
		return folder, nil
	}
	if err := PlotHistory(res.History, filepath.Join(folder, HistoryPlot)); err != nil {
		return folder, fmt.Errorf("history plot: %w", err)
	}
	if err := PlotRoutes(inst, res.Best, filepath.Join(folder, RoutesPlot)); err != nil {
		return folder, fmt.Errorf("routes plot: %w", err)
	}
	return folder, nil
}

// FolderName strips directory and extension from an instance name.
func FolderName(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return "instance"
	}
	return base
}

func writeFile(path string, fill func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fill(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// WriteReport writes the human-readable summary of a run.
func WriteReport(w io.Writer, inst *vrp.Instance, res opt.Result, host SysInfo) error {
	bw := bufio.NewWriter(w)
	covered := 0
	for _, r := range res.Best {
		covered += len(r)
	}
	depot := strconv.Itoa(inst.DepotID())

	fmt.Fprintln(bw, "BEST SOLUTION")
	fmt.Fprintf(bw, "→ Total cost: %.0f\n", res.BestCost)
	fmt.Fprintf(bw, "→ Vehicles used: %d\n", len(res.Best))
	fmt.Fprintf(bw, "→ Cities covered: %d\n\n", covered)
	for i, r := range res.Best {
		stops := make([]string, 0, len(r)+2)
		stops = append(stops, depot)
		for _, c := range r {
			stops = append(stops, strconv.Itoa(c))
		}
		stops = append(stops, depot)
		fmt.Fprintf(bw, "Vehicle %d: %s\n", i+1, strings.Join(stops, " → "))
	}

	fmt.Fprintln(bw)
	fmt.Fprintf(bw, "Instance: %s (dimension %d, %d vehicles)\n", inst.Name, inst.Dimension, inst.Vehicles)
	fmt.Fprintf(bw, "Generations: %d, evaluations: %d, improvements: %d, 2-opt moves: %d\n",
		res.Metrics.Generations, res.Metrics.Evaluations, res.Metrics.Improvements, res.Metrics.TwoOptMoves)
	fmt.Fprintf(bw, "Duration: %s\n", res.Duration)
	fmt.Fprintf(bw, "Build: %s\n", buildinfo.String())
	fmt.Fprintf(bw, "Host: %s\n", host)
	return bw.Flush()
}
