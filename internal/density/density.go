// Package density converts CT Hounsfield units to relative electron
// density via a sorted piecewise-linear anchor table.
package density

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// Anchor is one (HU, relative electron density) calibration point.
type Anchor struct {
	HU  float64
	Rho float64
}

// Table is a monotone piecewise-linear HU -> electron-density lookup.
// Anchors are kept sorted ascending by HU.
type Table struct {
	anchors []Anchor
}

// DefaultAnchors returns the standard calibration points of spec.md §4.1:
// air, lung, fat, water, soft tissue, bone, dense bone/metal.
func DefaultAnchors() []Anchor {
	return []Anchor{
		{HU: -1000, Rho: 0.001},
		{HU: -700, Rho: 0.25},
		{HU: -100, Rho: 0.9},
		{HU: 0, Rho: 1.0},
		{HU: 50, Rho: 1.05},
		{HU: 300, Rho: 1.5},
		{HU: 1000, Rho: 2.0},
		{HU: 3000, Rho: 3.0},
	}
}

// NewTable builds a Table from anchors, sorting them by HU. Duplicate HU
// values keep the first occurrence's density.
func NewTable(anchors []Anchor) *Table {
	sorted := make([]Anchor, len(anchors))
	copy(sorted, anchors)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].HU < sorted[j].HU })
	deduped := sorted[:0]
	for i, a := range sorted {
		if i > 0 && a.HU == sorted[i-1].HU {
			continue
		}
		deduped = append(deduped, a)
	}
	return &Table{anchors: deduped}
}

// NewDefaultTable builds a Table from DefaultAnchors.
func NewDefaultTable() *Table {
	return NewTable(DefaultAnchors())
}

// LoadTableFile reads a two-column text anchor file ("HU density" per
// line, blank lines and lines starting with # ignored).
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, planerr.Wrap(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("failed to open HU-to-density table %s", path), err)
	}
	defer f.Close()

	var anchors []Anchor
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, planerr.New(planerr.ConfigError, planerr.SeverityCritical,
				fmt.Sprintf("%s:%d: expected two columns, got %d", path, lineNo, len(fields)))
		}
		hu, err1 := strconv.ParseFloat(fields[0], 64)
		rho, err2 := strconv.ParseFloat(fields[1], 64)
		if err1 != nil || err2 != nil {
			return nil, planerr.New(planerr.ConfigError, planerr.SeverityCritical,
				fmt.Sprintf("%s:%d: malformed anchor line %q", path, lineNo, line))
		}
		anchors = append(anchors, Anchor{HU: hu, Rho: rho})
	}
	if err := scanner.Err(); err != nil {
		return nil, planerr.Wrap(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("error reading %s", path), err)
	}
	if len(anchors) < 2 {
		return nil, planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("%s: need at least two anchors, found %d", path, len(anchors)))
	}

	return NewTable(anchors), nil
}

// Convert maps a single Hounsfield unit to relative electron density.
// Pure, monotone non-decreasing, O(log N) per call. Values outside the
// table are clamped to the nearest endpoint.
func (t *Table) Convert(hu float64) float64 {
	n := len(t.anchors)
	if n == 0 {
		return 0
	}
	if hu <= t.anchors[0].HU {
		return t.anchors[0].Rho
	}
	if hu >= t.anchors[n-1].HU {
		return t.anchors[n-1].Rho
	}

	// Find the first anchor with HU > hu; interpolate between it and its
	// predecessor.
	i := sort.Search(n, func(i int) bool { return t.anchors[i].HU > hu })
	lo, hi := t.anchors[i-1], t.anchors[i]
	frac := (hu - lo.HU) / (hi.HU - lo.HU)
	return lo.Rho + frac*(hi.Rho-lo.Rho)
}

// ConvertVolume applies Convert voxel-wise, producing an electron-density
// Grid3D co-registered with ct.
func (t *Table) ConvertVolume(ct *types.CTVolume) *types.Grid3D {
	grid := types.NewGrid3D(ct.Shape)
	for i, hu := range ct.HU {
		grid.Data[i] = t.Convert(float64(hu))
	}
	return grid
}
