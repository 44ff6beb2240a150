// Package planctl is the end-to-end plan controller (spec.md §4, C11): it
// prepares inputs, drives the optimizer against the dose engine, evaluates
// the final plan, and emits dose, DVH, and scalar metrics, wiring
// cooperative cancellation and progress events through internal/progress.
package planctl

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/doseengine"
	"github.com/QuangMacHUST/QuangStationV2/internal/dvh"
	"github.com/QuangMacHUST/QuangStationV2/internal/metrics"
	"github.com/QuangMacHUST/QuangStationV2/internal/objective"
	"github.com/QuangMacHUST/QuangStationV2/internal/optimize"
	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
	"github.com/QuangMacHUST/QuangStationV2/internal/progress"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// Status is the terminal state of a plan run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Result bundles everything a completed (or partially completed) plan
// run produces: dose, optimized weights, objective score, per-structure
// DVHs, and summary plan metrics.
type Result struct {
	PlanID           string
	Status           Status
	Dose             *types.Grid3D
	Weights          []float64
	ObjectiveTotal   float64
	DVHs             map[string]*types.DVH
	ConformityIndex  float64
	HomogeneityIndex float64
	GradientIndex    float64
	Warnings         []*planerr.Error
}

// errCancelled is returned by the optimizer oracle when a cancellation is
// observed mid-evaluation, so the optimizer stops without treating it as
// a numeric failure.
var errCancelled = errors.New("planctl: cancelled")

// Controller orchestrates plan computation, optionally publishing
// progress events and accepting cancel requests through a shared Hub.
type Controller struct {
	hub *progress.Hub
	cfg config.Config
}

// NewController creates a Controller. hub may be nil, in which case no
// progress events are published and cancellation is only driven by ctx.
func NewController(hub *progress.Hub, cfg config.Config) *Controller {
	doseengine.ConfigureDistributedCache(cfg.Cache)
	return &Controller{hub: hub, cfg: cfg}
}

// RunPlan executes the full pipeline for plan: optimize beam weights
// (if the plan has any control points to optimize), compute the final
// dose grid, then derive the objective score, DVHs, and plan metrics.
// If timeout > 0, the run is bounded by a wall-clock budget per spec.md
// §5; on expiry the most recent consistent dose/weights are returned
// with StatusPartial.
func (c *Controller) RunPlan(ctx context.Context, plan *types.Plan, ct *types.CTVolume, structures *structureset.Set, timeout time.Duration) (*Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var cancelled int32
	if c.hub != nil {
		c.hub.RegisterCancelFunc(plan.ID, func() { atomic.StoreInt32(&cancelled, 1) })
		defer c.hub.UnregisterCancelFunc(plan.ID)
	}

	isCancelled := func() bool {
		if atomic.LoadInt32(&cancelled) == 1 {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		default:
			return false
		}
	}

	aggregator := planerr.NewErrorAggregator()
	algorithm := c.cfg.DoseCalculation.Algorithm

	weights := c.optimizeWeights(plan, ct, structures, algorithm, isCancelled, aggregator)
	plan.Weights = weights

	dose, doseAgg, wasCancelled := doseengine.ComputeDoseCancelable(plan, ct, structures, algorithm, c.cfg.MonteCarlo, isCancelled,
		func(beamIdx, beamCount int) {
			c.publish(plan.ID, &progress.ProgressEvent{
				Type: progress.EventBeamDone, PlanID: plan.ID, BeamIndex: beamIdx, BeamCount: beamCount,
			})
		})
	for _, e := range doseAgg.GetErrors() {
		aggregator.Add(e)
	}

	if dose == nil {
		c.publish(plan.ID, &progress.ProgressEvent{Type: progress.EventPlanFailed, PlanID: plan.ID})
		return &Result{PlanID: plan.ID, Status: StatusFailed, Warnings: aggregator.GetErrors()}, aggregator
	}

	result := &Result{
		PlanID:  plan.ID,
		Status:  StatusCompleted,
		Dose:    dose,
		Weights: plan.Weights,
		DVHs:    make(map[string]*types.DVH),
	}
	if wasCancelled {
		result.Status = StatusPartial
	}

	objResult, objAgg := objective.Evaluate(plan.Objectives, dose, structures)
	for _, e := range objAgg.GetErrors() {
		aggregator.Add(e)
	}
	result.ObjectiveTotal = objResult.Total

	for _, name := range structures.Names() {
		values, ok := structures.DoseValues(name, dose)
		if !ok {
			continue
		}
		if d := dvh.Build(name, values, structures.Shape.VoxelVolume()); d != nil {
			result.DVHs[name] = d
		}
	}

	if ptvs := structures.ByRole(types.RolePTV); len(ptvs) > 0 {
		ptv := ptvs[0]
		result.ConformityIndex = metrics.ConformityIndex(dose, ptv.Mask, plan.PrescribedDoseGy)
		if d, ok := result.DVHs[ptv.Name]; ok {
			result.HomogeneityIndex = metrics.HomogeneityIndex(d, dvh.Dx)
		}
	}
	result.GradientIndex = metrics.GradientIndex(dose, plan.PrescribedDoseGy)

	result.Warnings = aggregator.GetErrors()

	if result.Status == StatusPartial {
		c.publish(plan.ID, &progress.ProgressEvent{Type: progress.EventPlanPartial, PlanID: plan.ID, Objective: objResult.Total})
	} else {
		c.publish(plan.ID, &progress.ProgressEvent{Type: progress.EventPlanDone, PlanID: plan.ID, Objective: objResult.Total})
	}

	return result, nil
}

// optimizeWeights runs the configured optimizer backend against a dose
// engine oracle, publishing one EventOptimizerIteration per
// evaluation checkpoint reached. Falls back to the plan's existing
// weights (or uniform, via the optimizer's own default) on any fatal
// optimizer error, recorded as a warning rather than aborting the run.
func (c *Controller) optimizeWeights(
	plan *types.Plan,
	ct *types.CTVolume,
	structures *structureset.Set,
	algorithm config.DoseAlgorithm,
	isCancelled func() bool,
	aggregator *planerr.ErrorAggregator,
) []float64 {
	n := doseengine.EffectiveControlPointCount(plan)
	if n == 0 {
		return plan.Weights
	}

	iteration := 0
	oracle := func(w []float64) (float64, error) {
		if isCancelled() {
			return 0, errCancelled
		}
		trial := *plan
		trial.Weights = w
		dose, doseAgg, cancelledNow := doseengine.ComputeDoseCancelable(&trial, ct, structures, algorithm, c.cfg.MonteCarlo, isCancelled, nil)
		if cancelledNow {
			return 0, errCancelled
		}
		if doseAgg.HasErrors() && doseAgg.HighestSeverity() == planerr.SeverityCritical {
			return 0, doseAgg
		}

		result, _ := objective.Evaluate(plan.Objectives, dose, structures)

		iteration++
		c.publish(plan.ID, &progress.ProgressEvent{
			Type: progress.EventOptimizerIteration, PlanID: plan.ID,
			Iteration: iteration, MaxIteration: c.cfg.Optimization.MaxIterations, Objective: result.Total,
		})

		return result.Total, nil
	}

	var (
		optimized []float64
		optErr    *planerr.Error
	)
	switch c.cfg.Optimization.Algorithm {
	case config.OptimizerGenetic:
		optimized, optErr = optimize.GeneticSearch(n, oracle, optimize.GeneticOptions{
			PopulationSize: c.cfg.Optimization.PopulationSize,
			MaxGenerations: c.cfg.Optimization.MaxIterations,
			CrossoverRate:  c.cfg.Optimization.CrossoverRate,
			MutationRate:   c.cfg.Optimization.MutationRate,
		})
	default:
		optimized, optErr = optimize.GradientDescent(n, oracle, optimize.GradientDescentOptions{
			LearningRate:  0.1,
			Epsilon:       c.cfg.Optimization.ConvergenceThreshold,
			MaxIterations: c.cfg.Optimization.MaxIterations,
		})
	}

	if optErr != nil {
		aggregator.Add(planerr.New(planerr.Unconverged, planerr.SeverityWarning,
			"optimizer did not complete cleanly; using its best-so-far weights").WithMetadata("cause", optErr.Error()))
	}
	if optimized == nil {
		return plan.Weights
	}
	return optimized
}

func (c *Controller) publish(planID string, event *progress.ProgressEvent) {
	if c.hub != nil {
		c.hub.Publish(planID, event)
	}
}

// ToBundle converts a completed result plus its source plan into the
// opaque persisted-state shape of spec.md §6, for the DICOM/persistence
// collaborator to write out.
func ToBundle(plan *types.Plan, result *Result, structureSetRef string, createdUnixSec int64) types.PlanBundle {
	return types.PlanBundle{
		PlanID:           plan.ID,
		Technique:        plan.Technique,
		PrescribedDoseGy: plan.PrescribedDoseGy,
		Fractions:        plan.Fractions,
		CreatedUnixSec:   createdUnixSec,
		Beams:            plan.Beams,
		StructureSetRef:  structureSetRef,
		DoseGridShape:    result.Dose.Shape,
		DoseGy:           result.Dose.Data,
		Weights:          result.Weights,
	}
}
