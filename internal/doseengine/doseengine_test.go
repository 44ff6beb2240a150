package doseengine

import (
	"math"
	"testing"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func waterPhantomShape(n int) types.GridShape {
	return types.GridShape{
		NX: n, NY: n, NZ: n,
		SpacingX: 5, SpacingY: 5, SpacingZ: 5,
		DirX: types.Vector3D{X: 1}, DirY: types.Vector3D{Y: 1}, DirZ: types.Vector3D{Z: 1},
	}
}

func centerPTVMask(shape types.GridShape) []bool {
	mask := make([]bool, shape.NumVoxels())
	mid := shape.NX / 2
	for z := mid - 1; z <= mid; z++ {
		for y := mid - 1; y <= mid; y++ {
			for x := mid - 1; x <= mid; x++ {
				if shape.InBounds(x, y, z) {
					mask[shape.Index(x, y, z)] = true
				}
			}
		}
	}
	return mask
}

func openFieldControlPoint(gantryDeg float64) types.ControlPoint {
	return types.ControlPoint{
		GantryDeg: gantryDeg,
		Jaw:       types.JawWindow{MinU: -200, MaxU: 200, MinW: -200, MaxW: 200},
		Weight:    1.0,
	}
}

func TestBeamDirectionGantryZeroPointsDownZ(t *testing.T) {
	d := beamDirection(0, 0)
	if math.Abs(d.X) > 1e-9 || math.Abs(d.Y) > 1e-9 || d.Z >= 0 {
		t.Errorf("gantry=0 should point along -z, got %+v", d)
	}
}

func TestPerpendicularBasisDegenerateFallsBackToXAxis(t *testing.T) {
	// Direction (0,1,0) makes (-d_z, 0, d_x) = (0,0,0), the degenerate case.
	u, w := perpendicularBasis(types.Vector3D{Y: 1})
	if math.Abs(u.X-1) > 1e-9 || math.Abs(u.Y) > 1e-9 || math.Abs(u.Z) > 1e-9 {
		t.Errorf("expected degenerate u=(1,0,0), got %+v", u)
	}
	if w.Length() < 1e-9 {
		t.Error("w should be non-zero for a valid direction")
	}
}

func TestComputeDoseSingleBeamNormalizesToPrescription(t *testing.T) {
	shape := waterPhantomShape(8)
	ct := &types.CTVolume{Shape: shape, HU: make([]int16, shape.NumVoxels())} // all 0 HU = water

	structs := structureset.New(shape)
	ptv := &types.Structure{Name: "PTV", Role: types.RolePTV, Mask: centerPTVMask(shape)}
	if err := structs.Add(ptv); err != nil {
		t.Fatalf("Add PTV: %v", err)
	}

	beam := types.Beam{
		ID:               "B1",
		Modality:         types.ModalityPhoton,
		NominalEnergyMeV: 6,
		IsocenterMM:      shape.VoxelCenter(shape.NX/2, shape.NY/2, shape.NZ/2),
		SSDMM:            1000,
		ControlPoints:    []types.ControlPoint{openFieldControlPoint(0)},
	}
	plan := &types.Plan{
		ID:               "P1",
		PrescribedDoseGy: 2.0,
		Fractions:        1,
		Beams:            []types.Beam{beam},
		Weights:          []float64{1.0},
	}

	dose, agg := ComputeDose(plan, ct, structs, config.AlgorithmCollapsedCone)
	if agg.HasErrors() {
		t.Fatalf("unexpected errors: %v", agg.GetErrors())
	}

	sum, count := 0.0, 0
	for i, in := range ptv.Mask {
		if in {
			sum += dose.Data[i]
			count++
		}
	}
	mean := sum / float64(count)
	if math.Abs(mean-2.0) > 1e-6 {
		t.Errorf("PTV mean dose should be normalized to 2.0 Gy, got %v", mean)
	}
}

func TestComputeDoseGridMismatchIsFatal(t *testing.T) {
	ctShape := waterPhantomShape(8)
	structShape := waterPhantomShape(4)

	ct := &types.CTVolume{Shape: ctShape, HU: make([]int16, ctShape.NumVoxels())}
	structs := structureset.New(structShape)

	plan := &types.Plan{PrescribedDoseGy: 2.0, Fractions: 1}
	dose, agg := ComputeDose(plan, ct, structs, config.AlgorithmCollapsedCone)
	if dose != nil {
		t.Error("expected nil dose grid on geometry mismatch")
	}
	if !agg.HasErrors() {
		t.Fatal("expected a fatal InvalidGeometry error")
	}
}

func TestComputeDoseNoPTVWarnsAndSkipsNormalization(t *testing.T) {
	shape := waterPhantomShape(6)
	ct := &types.CTVolume{Shape: shape, HU: make([]int16, shape.NumVoxels())}
	structs := structureset.New(shape) // no structures at all

	beam := types.Beam{
		Modality:         types.ModalityPhoton,
		NominalEnergyMeV: 6,
		IsocenterMM:      shape.VoxelCenter(shape.NX/2, shape.NY/2, shape.NZ/2),
		SSDMM:            1000,
		ControlPoints:    []types.ControlPoint{openFieldControlPoint(0)},
	}
	plan := &types.Plan{PrescribedDoseGy: 2.0, Fractions: 1, Beams: []types.Beam{beam}, Weights: []float64{1.0}}

	dose, agg := ComputeDose(plan, ct, structs, config.AlgorithmCollapsedCone)
	if dose == nil {
		t.Fatal("expected a non-nil unnormalized dose grid")
	}
	if !agg.HasErrors() {
		t.Fatal("expected a MissingStructure warning for the absent PTV")
	}
}

func TestGenerateArcControlPointsCoversSweep(t *testing.T) {
	beam := types.Beam{IsArc: true, ArcStartDeg: 0, ArcStopDeg: 180, ArcDirection: types.ArcClockwise}
	cps := generateArcControlPoints(beam)
	if len(cps) < 80 || len(cps) > 95 {
		t.Errorf("expected ~90 control points for a 180 degree sweep at 2deg spacing, got %d", len(cps))
	}
	totalWeight := 0.0
	for _, cp := range cps {
		totalWeight += cp.Weight
	}
	if math.Abs(totalWeight-1.0) > 1e-9 {
		t.Errorf("arc control point weights should sum to 1, got %v", totalWeight)
	}
}

func TestEffectiveControlPointCountCountsGeneratedArcSweep(t *testing.T) {
	explicit := types.Beam{ControlPoints: []types.ControlPoint{openFieldControlPoint(0), openFieldControlPoint(10)}}
	arc := types.Beam{IsArc: true, ArcStartDeg: 0, ArcStopDeg: 180, ArcDirection: types.ArcClockwise}
	plan := &types.Plan{Beams: []types.Beam{explicit, arc}}

	if got := plan.TotalControlPoints(); got != 2 {
		t.Errorf("Plan.TotalControlPoints should only count explicit control points, got %d", got)
	}

	want := 2 + len(generateArcControlPoints(arc))
	if got := EffectiveControlPointCount(plan); got != want {
		t.Errorf("EffectiveControlPointCount should include the generated arc sweep: got %d, want %d", got, want)
	}
}

func TestComputeDoseMonteCarloNormalizesToPrescription(t *testing.T) {
	shape := waterPhantomShape(6)
	ct := &types.CTVolume{Shape: shape, HU: make([]int16, shape.NumVoxels())}

	structs := structureset.New(shape)
	ptv := &types.Structure{Name: "PTV", Role: types.RolePTV, Mask: centerPTVMask(shape)}
	if err := structs.Add(ptv); err != nil {
		t.Fatalf("Add PTV: %v", err)
	}

	beam := types.Beam{
		Modality:         types.ModalityPhoton,
		NominalEnergyMeV: 6,
		IsocenterMM:      shape.VoxelCenter(shape.NX/2, shape.NY/2, shape.NZ/2),
		SSDMM:            1000,
		ControlPoints:    []types.ControlPoint{openFieldControlPoint(0)},
	}
	plan := &types.Plan{PrescribedDoseGy: 2.0, Fractions: 1, Beams: []types.Beam{beam}, Weights: []float64{1.0}}

	mc := config.Default().MonteCarlo
	dose, agg, cancelled := ComputeDoseCancelable(plan, ct, structs, config.AlgorithmMonteCarlo, mc, nil, nil)
	if cancelled {
		t.Fatal("unexpected cancellation")
	}
	if agg.HasErrors() {
		t.Fatalf("unexpected errors: %v", agg.GetErrors())
	}

	sum, count := 0.0, 0
	for i, in := range ptv.Mask {
		if in {
			sum += dose.Data[i]
			count++
		}
	}
	mean := sum / float64(count)
	if math.Abs(mean-2.0) > 1e-6 {
		t.Errorf("PTV mean dose should still be normalized to 2.0 Gy after MC refinement, got %v", mean)
	}
}
