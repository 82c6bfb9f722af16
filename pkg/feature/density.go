package feature

import (
	"fmt"
	"sort"

	"github.com/uber/h3-go/v4"

	"airmap/pkg/model"
)

// Resolution limits accepted by Density. Finer cells than 9 (~0.1 km²) carry
// no useful signal for traffic density.
const (
	MinDensityResolution     = 0
	MaxDensityResolution     = 9
	DefaultDensityResolution = 4
)

// Cell is the aircraft count for one H3 cell.
type Cell struct {
	Index string  `json:"cell"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Count int     `json:"count"`
}

// Density buckets valid aircraft into H3 cells at the given resolution.
// Cells are returned busiest first.
func Density(records []model.AircraftRecord, resolution int) ([]Cell, error) {
	if resolution < MinDensityResolution || resolution > MaxDensityResolution {
		return nil, fmt.Errorf("resolution %d out of range [%d, %d]", resolution, MinDensityResolution, MaxDensityResolution)
	}

	counts := make(map[h3.Cell]int)
	for i := range records {
		r := &records[i]
		if !Validate(r) {
			continue
		}
		c, err := h3.LatLngToCell(h3.NewLatLng(*r.Latitude, *r.Longitude), resolution)
		if err != nil {
			return nil, fmt.Errorf("index aircraft %s: %w", r.Hex, err)
		}
		counts[c]++
	}

	cells := make([]Cell, 0, len(counts))
	for c, n := range counts {
		center, err := h3.CellToLatLng(c)
		if err != nil {
			return nil, fmt.Errorf("cell center %s: %w", c.String(), err)
		}
		cells = append(cells, Cell{Index: c.String(), Lat: center.Lat, Lon: center.Lng, Count: n})
	}

	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Count != cells[j].Count {
			return cells[i].Count > cells[j].Count
		}
		return cells[i].Index < cells[j].Index
	})
	return cells, nil
}
