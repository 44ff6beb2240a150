// Package objective evaluates a plan's composite objective function: the
// weighted sum of per-structure dose-criterion penalties (spec.md §4.5).
package objective

import (
	"fmt"
	"math"
	"sort"

	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// Result holds the outcome of evaluating a plan's objective list against a
// dose grid.
type Result struct {
	Total        float64
	PerObjective []float64
}

// Evaluate computes the total weighted objective and each objective's
// individual penalty. Objectives referencing a missing structure are
// skipped (penalty 0) and recorded as warnings in the returned aggregator,
// per spec.md §7's MissingStructure recovery rule.
func Evaluate(objectives []types.Objective, dose *types.Grid3D, structures *structureset.Set) (*Result, *planerr.ErrorAggregator) {
	agg := planerr.NewErrorAggregator()
	result := &Result{PerObjective: make([]float64, len(objectives))}

	for i, obj := range objectives {
		penalty, err := evaluateOne(obj, dose, structures)
		if err != nil {
			agg.Add(err)
			result.PerObjective[i] = 0
			continue
		}
		result.PerObjective[i] = penalty
		result.Total += obj.Weight * penalty
	}

	return result, agg
}

func evaluateOne(obj types.Objective, dose *types.Grid3D, structures *structureset.Set) (float64, error) {
	st, ok := structures.Get(obj.Structure)
	if !ok {
		return 0, planerr.New(planerr.MissingStructure, planerr.SeverityWarning,
			fmt.Sprintf("objective references structure %q with no mask", obj.Structure)).
			WithMetadata("structure", obj.Structure)
	}

	values, _ := structures.DoseValues(obj.Structure, dose)
	if len(values) == 0 {
		return 0, planerr.New(planerr.MissingStructure, planerr.SeverityWarning,
			fmt.Sprintf("structure %q mask is empty", obj.Structure)).
			WithMetadata("structure", obj.Structure)
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	switch obj.Kind {
	case types.ObjMaxDose:
		max := sorted[len(sorted)-1]
		if max > obj.DoseParameter {
			return (max - obj.DoseParameter) * (max - obj.DoseParameter), nil
		}
		return 0, nil

	case types.ObjMinDose:
		min := sorted[0]
		if min < obj.DoseParameter {
			return (obj.DoseParameter - min) * (obj.DoseParameter - min), nil
		}
		return 0, nil

	case types.ObjMaxDVH:
		d := doseAtVolume(sorted, obj.VolumeParameter)
		if d > obj.DoseParameter {
			return (d - obj.DoseParameter) * (d - obj.DoseParameter), nil
		}
		return 0, nil

	case types.ObjMinDVH:
		d := doseAtVolume(sorted, obj.VolumeParameter)
		if d < obj.DoseParameter {
			return (obj.DoseParameter - d) * (obj.DoseParameter - d), nil
		}
		return 0, nil

	case types.ObjMeanDose:
		mean := meanOf(sorted)
		return (mean - obj.DoseParameter) * (mean - obj.DoseParameter), nil

	case types.ObjConformity:
		ci := PaddickCI(dose, st.Mask, obj.DoseParameter)
		return 1 - ci, nil

	case types.ObjHomogeneity:
		d2 := doseAtVolume(sorted, 2)
		d98 := doseAtVolume(sorted, 98)
		if d98 == 0 {
			return 0, nil
		}
		ratio := d2/d98 - 1
		return ratio * ratio * 100, nil

	case types.ObjUniformity:
		mean := meanOf(sorted)
		if mean == 0 {
			return 0, nil
		}
		sigma := stddevOf(sorted, mean)
		ratio := sigma / mean
		return ratio * ratio * 100, nil

	default:
		return 0, planerr.New(planerr.ConfigError, planerr.SeverityError,
			fmt.Sprintf("unrecognized objective kind %q", obj.Kind))
	}
}

// doseAtVolume returns D(v%): the dose exceeded by exactly v% of the
// structure's voxels, via the index floor((1 - v/100)*N) into the sorted
// (ascending) dose vector.
func doseAtVolume(sortedAsc []float64, vPercent float64) float64 {
	n := len(sortedAsc)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor((1 - vPercent/100) * float64(n)))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sortedAsc[idx]
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func stddevOf(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		d := v - mean
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

// PaddickCI computes the Paddick conformity index for the structure mask
// at the given prescription target dose: TV_PIV² / (TV · PIV), where PIV
// is the set of voxels with dose ≥ target, TV is the structure mask, and
// TV_PIV is their intersection. This is the mandated formula of spec.md
// §4.5 and §9 — the "returns 0" variant some sources implement is
// explicitly not this engine's behavior.
func PaddickCI(dose *types.Grid3D, mask []bool, target float64) float64 {
	var tv, piv, tvPiv float64

	for i, inside := range mask {
		d := dose.Data[i]
		aboveTarget := d >= target
		if inside {
			tv++
		}
		if aboveTarget {
			piv++
		}
		if inside && aboveTarget {
			tvPiv++
		}
	}

	if tv == 0 || piv == 0 {
		return 0
	}
	return (tvPiv * tvPiv) / (tv * piv)
}
