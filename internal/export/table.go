package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"vrpga/internal/opt"
	"vrpga/internal/vrp"
)

// RouteStat summarizes one vehicle's route.
type RouteStat struct {
	Vehicle int `json:"vehicle"` // 1-based
	Cities  int `json:"cities"`
	Cost    int `json:"cost"`
	Load    int `json:"load"` // 0 when the instance has no demands
}

func RouteStats(inst *vrp.Instance, sol opt.Solution) []RouteStat {
	out := make([]RouteStat, len(sol))
	for i, r := range sol {
		load := 0
		for _, c := range r {
			load += inst.Demand(c)
		}
		out[i] = RouteStat{
			Vehicle: i + 1,
			Cities:  len(r),
			Cost:    opt.RouteCost(r, inst.Distances, inst.Depot),
			Load:    load,
		}
	}
	return out
}

// WriteStatistics writes one CSV row per vehicle. The load column is only
// present when the instance carries demands.
func WriteStatistics(w io.Writer, inst *vrp.Instance, sol opt.Solution) error {
	withLoad := len(inst.Demands) > 0
	cw := csv.NewWriter(w)
	header := []string{"vehicle", "cities", "cost"}
	if withLoad {
		header = append(header, "load")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, s := range RouteStats(inst, sol) {
		row := []string{strconv.Itoa(s.Vehicle), strconv.Itoa(s.Cities), strconv.Itoa(s.Cost)}
		if withLoad {
			row = append(row, strconv.Itoa(s.Load))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
