// Package metrics computes scalar plan-quality indices from a finished
// dose grid, structure masks, and per-structure DVHs (spec.md §4.8).
package metrics

import (
	"github.com/QuangMacHUST/QuangStationV2/internal/objective"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// ConformityIndex is the Paddick conformity index of the PTV mask against
// the prescribed dose: CI = TV_PIV² / (TV · PIV), via objective.PaddickCI.
func ConformityIndex(dose *types.Grid3D, ptvMask []bool, prescribedDoseGy float64) float64 {
	return objective.PaddickCI(dose, ptvMask, prescribedDoseGy)
}

// HomogeneityIndex is (D2 - D98) / D50 for the given structure's DVH.
func HomogeneityIndex(d *types.DVH, dx func(*types.DVH, float64) float64) float64 {
	d2 := dx(d, 2)
	d98 := dx(d, 98)
	d50 := dx(d, 50)
	if d50 == 0 {
		return 0
	}
	return (d2 - d98) / d50
}

// VolumeAboveDose returns the fraction of the entire dose grid's voxels
// (not restricted to any structure) receiving at least doseGy.
func VolumeAboveDose(dose *types.Grid3D, doseGy float64) float64 {
	if len(dose.Data) == 0 {
		return 0
	}
	count := 0
	for _, v := range dose.Data {
		if v >= doseGy {
			count++
		}
	}
	return float64(count) / float64(len(dose.Data))
}

// GradientIndex is V_50% / V_100%, the ratio of grid volume receiving at
// least half the prescription to the volume receiving the full
// prescription — a measure of how sharply dose falls off outside the
// target.
func GradientIndex(dose *types.Grid3D, prescribedDoseGy float64) float64 {
	v100 := VolumeAboveDose(dose, prescribedDoseGy)
	if v100 == 0 {
		return 0
	}
	v50 := VolumeAboveDose(dose, prescribedDoseGy*0.5)
	return v50 / v100
}

// HotSpot is a voxel outside the given mask receiving dose above
// thresholdGy.
type HotSpot struct {
	Index types.VoxelIndex
	DoseGy float64
}

// ColdSpot is a voxel inside the given mask receiving dose below
// thresholdGy.
type ColdSpot struct {
	Index  types.VoxelIndex
	DoseGy float64
}

// DetectHotSpots finds voxels outside targetMask whose dose exceeds
// thresholdGy (e.g. 110% of prescription), a common indicator of
// unintended high-dose regions.
func DetectHotSpots(dose *types.Grid3D, targetMask []bool, thresholdGy float64) []HotSpot {
	var spots []HotSpot
	shape := dose.Shape
	for z := 0; z < shape.NZ; z++ {
		for y := 0; y < shape.NY; y++ {
			for x := 0; x < shape.NX; x++ {
				i := shape.Index(x, y, z)
				if i < len(targetMask) && targetMask[i] {
					continue
				}
				if dose.Data[i] > thresholdGy {
					spots = append(spots, HotSpot{Index: types.VoxelIndex{X: x, Y: y, Z: z}, DoseGy: dose.Data[i]})
				}
			}
		}
	}
	return spots
}

// DetectColdSpots finds voxels inside targetMask whose dose falls below
// thresholdGy (e.g. 90% of prescription), indicating target
// underdosing.
func DetectColdSpots(dose *types.Grid3D, targetMask []bool, thresholdGy float64) []ColdSpot {
	var spots []ColdSpot
	shape := dose.Shape
	for z := 0; z < shape.NZ; z++ {
		for y := 0; y < shape.NY; y++ {
			for x := 0; x < shape.NX; x++ {
				i := shape.Index(x, y, z)
				if i >= len(targetMask) || !targetMask[i] {
					continue
				}
				if dose.Data[i] < thresholdGy {
					spots = append(spots, ColdSpot{Index: types.VoxelIndex{X: x, Y: y, Z: z}, DoseGy: dose.Data[i]})
				}
			}
		}
	}
	return spots
}
