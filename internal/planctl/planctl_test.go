package planctl

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func testShape(n int) types.GridShape {
	return types.GridShape{
		NX: n, NY: n, NZ: n,
		SpacingX: 5, SpacingY: 5, SpacingZ: 5,
		DirX: types.Vector3D{X: 1}, DirY: types.Vector3D{Y: 1}, DirZ: types.Vector3D{Z: 1},
	}
}

func centerMask(shape types.GridShape) []bool {
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

func smallPlan(shape types.GridShape) (*types.Plan, *types.CTVolume, *structureset.Set) {
	ct := &types.CTVolume{Shape: shape, HU: make([]int16, shape.NumVoxels())}
	structs := structureset.New(shape)
	ptv := &types.Structure{Name: "PTV", Role: types.RolePTV, Mask: centerMask(shape)}
	_ = structs.Add(ptv)

	beam := types.Beam{
		ID:               "B1",
		Modality:         types.ModalityPhoton,
		NominalEnergyMeV: 6,
		IsocenterMM:      shape.VoxelCenter(shape.NX/2, shape.NY/2, shape.NZ/2),
		SSDMM:            1000,
		ControlPoints: []types.ControlPoint{{
			Jaw:    types.JawWindow{MinU: -200, MaxU: 200, MinW: -200, MaxW: 200},
			Weight: 1.0,
		}},
	}
	plan := &types.Plan{
		ID:               "P1",
		PrescribedDoseGy: 2.0,
		Fractions:        1,
		Beams:            []types.Beam{beam},
		Objectives: []types.Objective{
			{Structure: "PTV", Kind: types.ObjMeanDose, DoseParameter: 2.0, Weight: 1.0},
		},
		Weights: []float64{1.0},
	}
	return plan, ct, structs
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Optimization.MaxIterations = 3
	cfg.Optimization.PopulationSize = 4
	return cfg
}

func TestRunPlanCompletesAndProducesMetrics(t *testing.T) {
	shape := testShape(8)
	plan, ct, structs := smallPlan(shape)

	controller := NewController(nil, testConfig())
	result, err := controller.RunPlan(context.Background(), plan, ct, structs, 0)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %v (warnings: %v)", result.Status, result.Warnings)
	}
	if result.Dose == nil {
		t.Fatal("expected a non-nil dose grid")
	}
	if _, ok := result.DVHs["PTV"]; !ok {
		t.Error("expected a PTV DVH to be present")
	}
	if result.ConformityIndex < 0 || result.ConformityIndex > 1 {
		t.Errorf("CI should be in [0,1], got %v", result.ConformityIndex)
	}
	sum := 0.0
	for _, w := range result.Weights {
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("final weights should sum to 1, got %v", sum)
	}
}

func TestRunPlanCancelledBeforeStartReturnsPartial(t *testing.T) {
	shape := testShape(6)
	plan, ct, structs := smallPlan(shape)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled before RunPlan is even called

	controller := NewController(nil, testConfig())
	result, err := controller.RunPlan(ctx, plan, ct, structs, 0)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("expected StatusPartial for a pre-cancelled context, got %v", result.Status)
	}
}

func TestRunPlanGridMismatchReturnsFailed(t *testing.T) {
	ctShape := testShape(8)
	structShape := testShape(4)

	ct := &types.CTVolume{Shape: ctShape, HU: make([]int16, ctShape.NumVoxels())}
	structs := structureset.New(structShape)

	plan := &types.Plan{
		ID: "P2", PrescribedDoseGy: 2.0, Fractions: 1,
		Beams: []types.Beam{{ControlPoints: []types.ControlPoint{{Weight: 1.0}}}},
	}

	controller := NewController(nil, testConfig())
	result, err := controller.RunPlan(context.Background(), plan, ct, structs, 0)
	if err == nil {
		t.Fatal("expected a non-nil error for mismatched grids")
	}
	if result.Status != StatusFailed {
		t.Errorf("expected StatusFailed, got %v", result.Status)
	}
}

func TestRunPlanRespectsWallClockTimeout(t *testing.T) {
	shape := testShape(6)
	plan, ct, structs := smallPlan(shape)

	controller := NewController(nil, testConfig())
	result, err := controller.RunPlan(context.Background(), plan, ct, structs, time.Nanosecond)
	if err != nil {
		t.Fatalf("RunPlan: %v", err)
	}
	if result.Status != StatusPartial && result.Status != StatusCompleted {
		t.Errorf("expected partial or completed under a near-zero timeout, got %v", result.Status)
	}
}
