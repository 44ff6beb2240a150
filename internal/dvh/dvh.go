// Package dvh builds cumulative dose-volume histograms per structure and
// extracts the scalar indices derived from them (spec.md §4.7).
package dvh

import (
	"math"
	"sort"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// maxBins bounds the histogram resolution: spec.md §4.7 requires
// max_dose / bin_width <= 2048.
const maxBins = 2048

// Build constructs the cumulative DVH for a structure's dose values.
// voxelVolumeMM3 is used by D2cc. Returns nil if values is empty (the
// caller is expected to have already surfaced a MissingStructure warning
// for that case).
func Build(structureName string, values []float64, voxelVolumeMM3 float64) *types.DVH {
	n := len(values)
	if n == 0 {
		return nil
	}

	maxDose := 0.0
	for _, v := range values {
		if v > maxDose {
			maxDose = v
		}
	}

	binWidth := maxDose / maxBins
	if binWidth <= 0 {
		binWidth = 0.01
	}

	// Enough bins that the last bin's lower edge exceeds maxDose, so the
	// final cumulative entry is exactly 0 (spec.md §4.7 invariant).
	numBins := int(math.Ceil(maxDose/binWidth)) + 2

	counts := make([]float64, numBins)
	for _, v := range values {
		idx := int(math.Floor(v / binWidth))
		if idx < 0 {
			idx = 0
		}
		if idx >= numBins {
			idx = numBins - 1
		}
		counts[idx]++
	}

	doseAxis := make([]float64, numBins)
	cumulative := make([]float64, numBins)

	// cumulative[i] = fraction of voxels with dose >= doseAxis[i],
	// built from the high end down (cumulative-from-high representation).
	running := 0.0
	for i := numBins - 1; i >= 0; i-- {
		running += counts[i]
		cumulative[i] = running / float64(n)
		doseAxis[i] = float64(i) * binWidth
	}

	return &types.DVH{
		Structure:        structureName,
		BinWidthGy:       binWidth,
		DoseAxisGy:       doseAxis,
		CumulativeVolume: cumulative,
	}
}

// DMin returns the largest dose-axis value whose cumulative volume is
// still >= 1 - 1/N.
func DMin(d *types.DVH, n int) float64 {
	threshold := 1 - 1.0/float64(n)
	best := d.DoseAxisGy[0]
	for i, c := range d.CumulativeVolume {
		if c >= threshold {
			best = d.DoseAxisGy[i]
		}
	}
	return best
}

// DMax returns the largest dose with cumulative volume > 0.
func DMax(d *types.DVH) float64 {
	best := d.DoseAxisGy[0]
	for i, c := range d.CumulativeVolume {
		if c > 0 {
			best = d.DoseAxisGy[i]
		}
	}
	return best
}

// DMean computes the mean dose directly from the raw structure values
// (more precise than deriving it from binned cumulative volume).
func DMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Dx returns D_x(%): the dose exceeded by exactly x percent of the
// structure's volume, via inverse lookup on the cumulative DVH.
func Dx(d *types.DVH, xPercent float64) float64 {
	target := xPercent / 100.0
	// cumulative is non-increasing; find the last bin whose cumulative
	// fraction is still >= target.
	best := d.DoseAxisGy[len(d.DoseAxisGy)-1]
	for i, c := range d.CumulativeVolume {
		if c >= target {
			best = d.DoseAxisGy[i]
		} else {
			break
		}
	}
	return best
}

// Vx returns V_x(Gy): the fraction of structure volume receiving at least
// x Gy, via forward lookup on the cumulative DVH.
func Vx(d *types.DVH, xGy float64) float64 {
	if xGy <= d.DoseAxisGy[0] {
		return d.CumulativeVolume[0]
	}
	for i := len(d.DoseAxisGy) - 1; i >= 0; i-- {
		if d.DoseAxisGy[i] <= xGy {
			return d.CumulativeVolume[i]
		}
	}
	return 0
}

// D2cc returns the dose received by the hottest (absolute) 2 cubic
// centimeters of the structure, using voxelVolumeMM3 to convert the
// volume threshold into a voxel count.
func D2cc(values []float64, voxelVolumeMM3 float64) float64 {
	if len(values) == 0 || voxelVolumeMM3 <= 0 {
		return 0
	}
	const twoCCInMM3 = 2000.0
	voxelsFor2cc := int(math.Round(twoCCInMM3 / voxelVolumeMM3))
	if voxelsFor2cc < 1 {
		voxelsFor2cc = 1
	}
	if voxelsFor2cc > len(values) {
		voxelsFor2cc = len(values)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	return sorted[voxelsFor2cc-1]
}
