package vrp

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type section int

const (
	sectionNone section = iota
	sectionEdgeWeights
	sectionDemand
	sectionDepot
)

// Load reads and validates an instance file. The instance name is the file's
// base name.
func Load(path string) (*Instance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	inst, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	inst.Name = filepath.Base(path)
	return inst, nil
}

// Parse reads the line-oriented instance format:
//
//	DIMENSION : <int>
//	VEHICLES : <int>
//	CAPACITY : <int>          (optional)
//	EDGE_WEIGHT_SECTION       row-major dimension² integers
//	DEMAND_SECTION            "<id> <demand>" lines
//	DEPOT_SECTION             first integer line is the 1-based depot id
//	EOF
//
// Header lines not listed above (NAME, COMMENT, TYPE, ...) are ignored. A
// section ends at the next section header.
func Parse(r io.Reader) (*Instance, error) {
	var (
		dimension, vehicles, capacity int
		haveDimension, haveEdges      bool
		haveDepotSection, haveDepot   bool
		depotID                       int
		weights                       []int
		demandLines                   [][2]int
		badDemands                    bool
		cur                           = sectionNone
	)

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case strings.HasPrefix(line, "DIMENSION"):
			n, err := headerInt(line, lineNo)
			if err != nil {
				return nil, err
			}
			dimension, haveDimension = n, true
			cur = sectionNone
			continue
		case strings.HasPrefix(line, "VEHICLES"):
			n, err := headerInt(line, lineNo)
			if err != nil {
				return nil, err
			}
			vehicles = n
			cur = sectionNone
			continue
		case strings.HasPrefix(line, "CAPACITY"):
			n, err := headerInt(line, lineNo)
			if err != nil {
				return nil, err
			}
			capacity = n
			cur = sectionNone
			continue
		case strings.HasPrefix(line, "EDGE_WEIGHT_SECTION"):
			haveEdges = true
			cur = sectionEdgeWeights
			continue
		case strings.HasPrefix(line, "DEMAND_SECTION"):
			cur = sectionDemand
			continue
		case strings.HasPrefix(line, "DEPOT_SECTION"):
			haveDepotSection = true
			cur = sectionDepot
			continue
		case strings.HasPrefix(line, "EOF"):
			cur = sectionNone
			continue
		}
		if line == "" {
			continue
		}

		switch cur {
		case sectionEdgeWeights:
			for _, tok := range strings.Fields(line) {
				v, err := strconv.Atoi(tok)
				if err != nil {
					return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("edge weight %q is not an integer", tok)}
				}
				weights = append(weights, v)
			}
		case sectionDemand:
			// Demands only feed the optional capacity term; a section in any
			// other shape is dropped rather than failing the load.
			fields := strings.Fields(line)
			if len(fields) != 2 {
				badDemands = true
				continue
			}
			id, err1 := strconv.Atoi(fields[0])
			d, err2 := strconv.Atoi(fields[1])
			if err1 != nil || err2 != nil {
				badDemands = true
				continue
			}
			demandLines = append(demandLines, [2]int{id, d})
		case sectionDepot:
			// Only pure non-negative integers count; this skips the customary
			// "-1" terminator.
			if haveDepot || !isDigits(line) {
				continue
			}
			id, err := strconv.Atoi(line)
			if err != nil {
				return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("depot id %q is not an integer", line)}
			}
			depotID, haveDepot = id, true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	switch {
	case !haveDimension:
		return nil, &ParseError{Msg: "missing DIMENSION"}
	case !haveEdges:
		return nil, &ParseError{Msg: "missing EDGE_WEIGHT_SECTION"}
	case !haveDepotSection:
		return nil, &ParseError{Msg: "missing DEPOT_SECTION"}
	case !haveDepot:
		return nil, &ParseError{Msg: "DEPOT_SECTION has no depot id"}
	}
	if dimension <= 1 {
		return nil, invalid("dimension", dimension, "> 1")
	}
	if len(weights) != dimension*dimension {
		return nil, &DimensionMismatchError{Dimension: dimension, Got: len(weights)}
	}

	matrix := make([][]int, dimension)
	for i := range matrix {
		matrix[i] = weights[i*dimension : (i+1)*dimension : (i+1)*dimension]
	}

	var demands []int
	if len(demandLines) > 0 && !badDemands {
		demands = make([]int, dimension)
		for _, dl := range demandLines {
			if dl[0] < 1 || dl[0] > dimension {
				demands = nil
				break
			}
			demands[dl[0]-1] = dl[1]
		}
	}

	inst := &Instance{
		Dimension: dimension,
		Vehicles:  vehicles,
		Depot:     depotID - 1,
		Distances: matrix,
		Demands:   demands,
		Capacity:  capacity,
	}
	if err := inst.Validate(); err != nil {
		return nil, err
	}
	return inst, nil
}

// headerInt parses "KEY : <int>", taking everything after the last colon.
func headerInt(line string, lineNo int) (int, error) {
	raw := line
	if i := strings.LastIndex(line, ":"); i >= 0 {
		raw = line[i+1:]
	} else if f := strings.Fields(line); len(f) > 1 {
		raw = f[len(f)-1]
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ParseError{Line: lineNo, Msg: fmt.Sprintf("%q: value is not an integer", line)}
	}
	return n, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
