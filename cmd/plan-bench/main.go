// QuangStationV2 Plan Benchmark
// Runs one synthetic water-phantom plan through dose calculation,
// optimization, DVH construction, and plan metrics, reporting per-stage
// timing and heap usage for regression tracking.
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/doseengine"
	"github.com/QuangMacHUST/QuangStationV2/internal/dvh"
	"github.com/QuangMacHUST/QuangStationV2/internal/memory"
	"github.com/QuangMacHUST/QuangStationV2/internal/metrics"
	"github.com/QuangMacHUST/QuangStationV2/internal/objective"
	"github.com/QuangMacHUST/QuangStationV2/internal/optimize"
	"github.com/QuangMacHUST/QuangStationV2/internal/profiling"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func main() {
	gridSize := flag.Int("grid", 40, "cubic CT grid size in voxels per side")
	iterations := flag.Int("iterations", 50, "optimizer iteration budget")
	flag.Parse()

	fmt.Println("========================================")
	fmt.Println("QuangStationV2 Plan Benchmark")
	fmt.Println("========================================")

	profiler := profiling.NewPlanProfiler()
	memTracker := profiling.NewMemoryTracker(100 * time.Millisecond)
	memTracker.Start()
	defer memTracker.Stop()

	cfg := config.Default()
	cfg.Optimization.MaxIterations = *iterations

	fmt.Printf("Building %dx%dx%d water phantom...\n", *gridSize, *gridSize, *gridSize)
	shape, ct, structs := buildPhantom(*gridSize)
	plan := buildPlan(shape)

	profiler.StartRun()

	profiler.StartStage("dose_initial")
	_, initAgg := doseengine.ComputeDose(plan, ct, structs, cfg.DoseCalculation.Algorithm)
	profiler.EndStage()
	if initAgg.HasErrors() {
		fmt.Printf("warnings during initial dose: %v\n", initAgg.GetErrors())
	}

	profiler.StartStage("optimize")
	n := doseengine.EffectiveControlPointCount(plan)
	oracle := func(w []float64) (float64, error) {
		trial := *plan
		trial.Weights = w
		dose, _ := doseengine.ComputeDose(&trial, ct, structs, cfg.DoseCalculation.Algorithm)
		result, _ := objective.Evaluate(plan.Objectives, dose, structs)
		return result.Total, nil
	}
	weights, optErr := optimize.GradientDescent(n, oracle, optimize.GradientDescentOptions{
		LearningRate:  0.1,
		Epsilon:       cfg.Optimization.ConvergenceThreshold,
		MaxIterations: cfg.Optimization.MaxIterations,
	})
	profiler.EndStage()
	if optErr != nil {
		fmt.Printf("optimizer warning: %v\n", optErr)
	}
	if weights != nil {
		plan.Weights = weights
	}

	profiler.StartStage("dose_final")
	dose, finalAgg := doseengine.ComputeDose(plan, ct, structs, cfg.DoseCalculation.Algorithm)
	profiler.EndStage()
	if finalAgg.HasErrors() {
		fmt.Printf("warnings during final dose: %v\n", finalAgg.GetErrors())
	}

	profiler.StartStage("dvh")
	dvhs := make(map[string]*types.DVH)
	for _, name := range structs.Names() {
		values, ok := structs.DoseValues(name, dose)
		if !ok {
			continue
		}
		if d := dvh.Build(name, values, structs.Shape.VoxelVolume()); d != nil {
			dvhs[name] = d
		}
	}
	profiler.EndStage()

	profiler.StartStage("metrics")
	var ci, hi float64
	if ptvs := structs.ByRole(types.RolePTV); len(ptvs) > 0 {
		ptv := ptvs[0]
		ci = metrics.ConformityIndex(dose, ptv.Mask, plan.PrescribedDoseGy)
		if d, ok := dvhs[ptv.Name]; ok {
			hi = metrics.HomogeneityIndex(d, dvh.Dx)
		}
	}
	gi := metrics.GradientIndex(dose, plan.PrescribedDoseGy)
	profiler.EndStage()

	runTime := profiler.EndRun()

	fmt.Printf("\nRun complete in %.2fms\n\n", runTime.Seconds()*1000)
	fmt.Println(profiler.Report())
	fmt.Println(memTracker.Report())

	fmt.Println("Plan Metrics:")
	fmt.Println("-------------")
	fmt.Printf("  Conformity Index:  %.4f\n", ci)
	fmt.Printf("  Homogeneity Index: %.4f\n", hi)
	fmt.Printf("  Gradient Index:    %.4f\n", gi)

	mm := memory.GetGlobalMemoryManager()
	fmt.Println("\nPool Statistics:")
	fmt.Println("----------------")
	for pool, stats := range mm.Stats() {
		fmt.Printf("  %s: %v\n", pool, stats)
	}
}

func buildPhantom(n int) (types.GridShape, *types.CTVolume, *structureset.Set) {
	shape := types.GridShape{
		NX: n, NY: n, NZ: n,
		SpacingX: 2.5, SpacingY: 2.5, SpacingZ: 2.5,
		DirX: types.Vector3D{X: 1}, DirY: types.Vector3D{Y: 1}, DirZ: types.Vector3D{Z: 1},
	}
	ct := &types.CTVolume{Shape: shape, HU: make([]int16, shape.NumVoxels())}

	structs := structureset.New(shape)
	ptvMask := make([]bool, shape.NumVoxels())
	oarMask := make([]bool, shape.NumVoxels())
	cx, cy, cz := n/2, n/2, n/2
	ptvRadius := float64(n) * 0.15
	oarOffset := n / 4
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				dx, dy, dz := float64(x-cx), float64(y-cy), float64(z-cz)
				idx := shape.Index(x, y, z)
				if dx*dx+dy*dy+dz*dz <= ptvRadius*ptvRadius {
					ptvMask[idx] = true
				}
				odx, ody, odz := float64(x-cx-oarOffset), float64(y-cy), float64(z-cz)
				if odx*odx+ody*ody+odz*odz <= ptvRadius*ptvRadius*0.5 {
					oarMask[idx] = true
				}
			}
		}
	}
	_ = structs.Add(&types.Structure{Name: "PTV", Role: types.RolePTV, Mask: ptvMask})
	_ = structs.Add(&types.Structure{Name: "OAR", Role: types.RoleOAR, Mask: oarMask})

	return shape, ct, structs
}

func buildPlan(shape types.GridShape) *types.Plan {
	iso := shape.VoxelCenter(shape.NX/2, shape.NY/2, shape.NZ/2)
	gantryAngles := []float64{0, 90, 180, 270}
	beams := make([]types.Beam, len(gantryAngles))
	for i, g := range gantryAngles {
		beams[i] = types.Beam{
			ID:               fmt.Sprintf("B%d", i+1),
			Modality:         types.ModalityPhoton,
			NominalEnergyMeV: 6,
			IsocenterMM:      iso,
			SSDMM:            1000,
			ControlPoints: []types.ControlPoint{{
				GantryDeg: g,
				Jaw:       types.JawWindow{MinU: -100, MaxU: 100, MinW: -100, MaxW: 100},
				Weight:    1.0,
			}},
		}
	}

	weights := make([]float64, len(beams))
	for i := range weights {
		weights[i] = 1.0 / float64(len(weights))
	}

	return &types.Plan{
		ID:               "BENCH-001",
		Technique:        types.TechniqueThreeDCRT,
		PrescribedDoseGy: 2.0,
		Fractions:        1,
		Beams:            beams,
		Objectives: []types.Objective{
			{Structure: "PTV", Kind: types.ObjMeanDose, DoseParameter: 2.0, Weight: 1.0},
			{Structure: "OAR", Kind: types.ObjMaxDose, DoseParameter: 1.0, Weight: 0.5},
		},
		Weights: weights,
	}
}
