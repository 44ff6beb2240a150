// Package doseengine computes a plan's absorbed-dose grid from beam
// geometry, CT-derived density, and dose kernels (spec.md §4.4).
package doseengine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/QuangMacHUST/QuangStationV2/internal/config"
	"github.com/QuangMacHUST/QuangStationV2/internal/density"
	"github.com/QuangMacHUST/QuangStationV2/internal/kernel"
	"github.com/QuangMacHUST/QuangStationV2/internal/kernelcache"
	"github.com/QuangMacHUST/QuangStationV2/internal/memory"
	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
	"github.com/QuangMacHUST/QuangStationV2/internal/raytrace"
	"github.com/QuangMacHUST/QuangStationV2/internal/structureset"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// degToRad converts degrees to radians.
func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// beamDirection derives a unit beam direction from gantry and couch
// angles: gantry sweeps the beam in the isocenter's x-z plane, couch then
// rotates that direction about z (spec.md §4.4 step 1).
func beamDirection(gantryDeg, couchDeg float64) types.Vector3D {
	g := degToRad(gantryDeg)
	c := degToRad(couchDeg)

	d := types.Vector3D{X: math.Sin(g), Y: 0, Z: -math.Cos(g)}
	rotated := types.Vector3D{
		X: d.X*math.Cos(c) - d.Y*math.Sin(c),
		Y: d.X*math.Sin(c) + d.Y*math.Cos(c),
		Z: d.Z,
	}
	return rotated.Normalize()
}

// perpendicularBasis builds the (u, w) frame used for aperture membership
// tests, per spec.md §4.4's perpendicular basis rule: u :=
// normalize(-d_z, 0, d_x); if degenerate, u := (1,0,0). w := d x u.
func perpendicularBasis(d types.Vector3D) (u, w types.Vector3D) {
	u = types.Vector3D{X: -d.Z, Y: 0, Z: d.X}
	if u.Length() < 1e-9 {
		u = types.Vector3D{X: 1, Y: 0, Z: 0}
	} else {
		u = u.Normalize()
	}
	w = d.Cross(u)
	return u, w
}

// generateArcControlPoints produces N control points sweeping
// beam.ArcStartDeg -> beam.ArcStopDeg with the beam's arc direction's
// sign, N ~= |stop-start|/2 degrees (spec.md §4.4 step 2). Generated
// control points carry no MLC (fully open aperture within the jaw
// window) and share the arc's total weight evenly.
func generateArcControlPoints(beam types.Beam) []types.ControlPoint {
	span := math.Abs(beam.ArcStopDeg - beam.ArcStartDeg)
	n := int(math.Round(span / 2.0))
	if n < 1 {
		n = 1
	}

	sign := float64(beam.ArcDirection)
	if sign == 0 {
		sign = 1
	}

	points := make([]types.ControlPoint, n)
	step := span / float64(n)
	for i := 0; i < n; i++ {
		angle := beam.ArcStartDeg + sign*step*float64(i)
		points[i] = types.ControlPoint{
			GantryDeg: angle,
			CouchDeg:  0,
			Weight:    1.0 / float64(n),
			Jaw:       types.JawWindow{MinU: -200, MaxU: 200, MinW: -200, MaxW: 200},
		}
	}
	return points
}

// kernelSizeFor returns the PSF grid size to use for the given algorithm.
// Monte Carlo's wider particle spread and AAA's anisotropic analytic
// kernel both need a larger neighborhood than the default collapsed-cone
// or pencil-beam kernel (spec.md §4.4 "Algorithm selection").
func kernelSizeFor(algorithm config.DoseAlgorithm) int {
	switch algorithm {
	case config.AlgorithmMonteCarlo, config.AlgorithmAAA, config.AlgorithmAcuros:
		return kernel.DefaultSize + 4
	default:
		return kernel.DefaultSize
	}
}

// attenuationCoefficient returns the effective linear attenuation
// coefficient mu (per mm) used in exp(-mu*depth), chosen per
// modality/nominal energy E (clamped to >= 1 MeV): photons use
// 0.0045/sqrt(E), electrons 0.02/E, and protons a fixed 0.002.
func attenuationCoefficient(modality types.Modality, energyMeV float64) float64 {
	switch modality {
	case types.ModalityElectron:
		return 0.02 / math.Max(energyMeV, 1.0)
	case types.ModalityProton:
		return 0.002
	default: // photon
		return 0.0045 / math.Sqrt(math.Max(energyMeV, 1.0))
	}
}

// controlPoints returns a beam's effective control-point sequence,
// generating an arc sweep if needed (spec.md §4.4 step 2).
func controlPoints(beam types.Beam) []types.ControlPoint {
	if len(beam.ControlPoints) > 0 {
		return beam.ControlPoints
	}
	if beam.IsArc {
		return generateArcControlPoints(beam)
	}
	return nil
}

// EffectiveControlPointCount returns the number of control points the
// dose engine will actually iterate over for plan — explicit
// beam.ControlPoints entries plus any arc sweep generated on the fly via
// controlPoints() (spec.md §4.4 step 2). This is the dimension callers
// (the optimizer) must use for plan.Weights, since Plan.TotalControlPoints
// only counts explicit control points and undercounts arc/VMAT beams.
func EffectiveControlPointCount(plan *types.Plan) int {
	n := 0
	for _, beam := range plan.Beams {
		n += len(controlPoints(beam))
	}
	return n
}

// wedgeFactor returns the 1D linear wedge modulation at (u, w) for the
// given wedge, clamped to >= 0.1 (spec.md §4.4 step 3d).
func wedgeFactor(wedge *types.Wedge, u, w, halfFieldMM float64) float64 {
	if wedge == nil {
		return 1.0
	}
	orient := degToRad(wedge.Orientation)
	// Coordinate along the wedge's heel-toe axis.
	axisCoord := u*math.Cos(orient) + w*math.Sin(orient)

	slope := degToRad(wedge.AngleDeg) // steeper wedge angle -> steeper ramp
	if halfFieldMM <= 0 {
		halfFieldMM = 1
	}
	t := axisCoord / halfFieldMM // in roughly [-1, 1] across the field
	factor := 1.0 + t*math.Tan(slope)*0.5
	if factor < 0.1 {
		factor = 0.1
	}
	return factor
}

// depthFieldCache memoizes radiological-depth fields by beam direction,
// since static beams share one direction across their control points
// (spec.md §4.4 step 3a). A miss consults the distributed
// kernelcache.DepthFieldCache before falling back to raytrace.ComputeDepth,
// so repeated recomputation of the same plan (e.g. across optimizer
// iterations that share gantry/couch geometry, or across a cluster) does
// not re-raytrace depth from scratch.
type depthFieldCache struct {
	store          map[string]*types.Grid3D
	densitySig     string
	densitySigOnce sync.Once
}

func newDepthFieldCache() *depthFieldCache {
	return &depthFieldCache{store: make(map[string]*types.Grid3D)}
}

func directionKey(d types.Vector3D) string {
	return fmt.Sprintf("%.6f:%.6f:%.6f", d.X, d.Y, d.Z)
}

// densitySignature fingerprints a density grid's geometry and contents so
// the distributed depth-field cache never serves a field computed against
// a different CT volume that happens to share a beam direction.
func densitySignature(densityGrid *types.Grid3D) string {
	shape := densityGrid.Shape
	sum := 0.0
	for _, v := range densityGrid.Data {
		sum += v
	}
	return fmt.Sprintf("%dx%dx%d:%.4f:%.4f:%.4f:%.6f",
		shape.NX, shape.NY, shape.NZ, shape.SpacingX, shape.SpacingY, shape.SpacingZ, sum)
}

func (c *depthFieldCache) get(densityGrid *types.Grid3D, source, direction types.Vector3D, threads int) *types.Grid3D {
	key := directionKey(direction)
	if existing, ok := c.store[key]; ok {
		return existing
	}

	c.densitySigOnce.Do(func() { c.densitySig = densitySignature(densityGrid) })
	_, distDepth := distributedCaches()
	distKey := c.densitySig + ":" + key

	field, err := distDepth.GetOrCompute(context.Background(), distKey, func() *types.Grid3D {
		return raytrace.ComputeDepth(densityGrid, source, direction, threads)
	})
	if err != nil {
		field = raytrace.ComputeDepth(densityGrid, source, direction, threads)
	}

	c.store[key] = field
	return field
}

var (
	distCacheOnce  sync.Once
	distKernels    *kernelcache.KernelCache
	distDepths     *kernelcache.DepthFieldCache
	distCacheMu    sync.Mutex
	distCacheCfg   *config.Cache
)

// ConfigureDistributedCache overrides the cache.* options the dose engine
// uses for its distributed (Redis, or in-process fallback) kernel and
// depth-field cache, the layer kernel.Cache and depthFieldCache fall
// through to on a local miss. Must be called, if at all, before the first
// ComputeDose/ComputeDoseCancelable call; Default().Cache (in-process
// fallback, no Redis) applies otherwise.
func ConfigureDistributedCache(cfg config.Cache) {
	distCacheMu.Lock()
	distCacheCfg = &cfg
	distCacheMu.Unlock()
}

// buildCacheStore builds the kernelcache.Store backing the distributed
// cache from cfg, falling back to an in-process MemoryStore when no Redis
// endpoint is configured or the configured endpoint is unreachable.
func buildCacheStore(cfg config.Cache) kernelcache.Store {
	if cfg.RedisAddr == "" {
		return kernelcache.NewMemoryStore()
	}
	store, err := kernelcache.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return kernelcache.NewMemoryStore()
	}
	return store
}

// distributedCaches returns the process-wide distributed kernel and
// depth-field caches, building them from the configured (or default)
// cache.* options on first use.
func distributedCaches() (*kernelcache.KernelCache, *kernelcache.DepthFieldCache) {
	distCacheOnce.Do(func() {
		distCacheMu.Lock()
		cfg := config.Default().Cache
		if distCacheCfg != nil {
			cfg = *distCacheCfg
		}
		distCacheMu.Unlock()

		store := buildCacheStore(cfg)
		ttl := time.Duration(cfg.TTLHours) * time.Hour
		distKernels = kernelcache.NewKernelCache(store, ttl)
		distDepths = kernelcache.NewDepthFieldCache(store, ttl)
	})
	return distKernels, distDepths
}

// getKernel returns the kernel for key, consulting the in-process kernels
// cache first, then the distributed kernelcache layer, generating it
// from scratch only on a miss in both.
func getKernel(kernels *kernel.Cache, key kernel.Key) *kernel.Kernel {
	if k, ok := kernels.Lookup(key); ok {
		return k
	}

	distKernel, _ := distributedCaches()
	k, err := distKernel.Get(context.Background(), key)
	if err != nil {
		k = kernel.Generate(key.Modality, key.EnergyMeV, key.Size)
	}
	kernels.Store(key, k)
	return k
}

// ComputeDose implements compute_dose(plan, ct, structures) -> dose_grid
// (spec.md §4.4) using the engine's default Monte Carlo iteration budget.
func ComputeDose(plan *types.Plan, ct *types.CTVolume, structures *structureset.Set, algorithm config.DoseAlgorithm) (*types.Grid3D, *planerr.ErrorAggregator) {
	dose, aggregator, _ := ComputeDoseCancelable(plan, ct, structures, algorithm, config.Default().MonteCarlo, nil, nil)
	return dose, aggregator
}

// ComputeDoseCancelable is ComputeDose with cooperative cancellation and
// per-beam progress notification, for callers (the plan controller) that
// need the "between beam boundaries" suspension point of spec.md §5.
// isCancelled is polled between beams; if nil, the computation always
// runs to completion. onBeamDone, if non-nil, is called after each beam's
// contribution is accumulated. The third return value reports whether
// the computation stopped early due to cancellation.
//
// For algorithm == config.AlgorithmMonteCarlo, the per-beam
// kernel-convolution pass of steps (a)-(c) is repeated as independent
// statistical batches (mc.NumParticlesPerIteration histories each,
// simulated as Gaussian counting noise), accumulated into a running mean,
// until the mean relative standard error across dose-receiving voxels
// falls at or below mc.TargetUncertainty or mc.MaxIterations batches have
// run (spec.md §4.4 "Algorithm selection"). Other algorithms run the
// deterministic pass exactly once and ignore mc.
func ComputeDoseCancelable(
	plan *types.Plan,
	ct *types.CTVolume,
	structures *structureset.Set,
	algorithm config.DoseAlgorithm,
	mc config.MonteCarlo,
	isCancelled func() bool,
	onBeamDone func(beamIndex, beamCount int),
) (*types.Grid3D, *planerr.ErrorAggregator, bool) {
	aggregator := planerr.NewErrorAggregator()

	if ct.Shape.NX != structures.Shape.NX || ct.Shape.NY != structures.Shape.NY || ct.Shape.NZ != structures.Shape.NZ {
		aggregator.Add(planerr.New(planerr.InvalidGeometry, planerr.SeverityCritical,
			"CT and structure-set grids have mismatched dimensions"))
		return nil, aggregator, false
	}

	shape := ct.Shape
	densityGrid := density.NewDefaultTable().ConvertVolume(ct)

	kernels := kernel.NewCache()
	depths := newDepthFieldCache()
	threads := runtime.NumCPU()

	dose, cancelled := accumulateAllBeams(shape, densityGrid, plan, algorithm, kernels, depths, threads, isCancelled, onBeamDone)
	if cancelled {
		aggregator.Add(planerr.New(planerr.Cancelled, planerr.SeverityWarning,
			"dose computation cancelled between beams"))
	}

	if algorithm == config.AlgorithmMonteCarlo && !cancelled {
		dose, cancelled = monteCarloRefine(dose, shape, densityGrid, plan, algorithm, kernels, depths, threads, mc, isCancelled)
		if cancelled {
			aggregator.Add(planerr.New(planerr.Cancelled, planerr.SeverityWarning,
				"dose computation cancelled during Monte Carlo refinement"))
		}
	}

	for _, v := range dose.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			aggregator.Add(planerr.New(planerr.NumericFailure, planerr.SeverityCritical,
				"dose grid contains NaN or Inf after beam accumulation"))
			return dose, aggregator, cancelled
		}
	}

	if !cancelled {
		normalizeToPrescription(dose, structures, plan.PrescribedDoseGy, aggregator)
	}

	return dose, aggregator, cancelled
}

// accumulateAllBeams runs one deterministic pass of spec.md §4.4 steps
// (a)-(c) over every beam and control point in plan, returning the
// resulting dose grid and whether isCancelled interrupted it between
// beams.
func accumulateAllBeams(
	shape types.GridShape,
	densityGrid *types.Grid3D,
	plan *types.Plan,
	algorithm config.DoseAlgorithm,
	kernels *kernel.Cache,
	depths *depthFieldCache,
	threads int,
	isCancelled func() bool,
	onBeamDone func(beamIndex, beamCount int),
) (*types.Grid3D, bool) {
	dose := types.NewGrid3D(shape)

	globalWeightIdx := 0
	for beamIdx, beam := range plan.Beams {
		if isCancelled != nil && isCancelled() {
			return dose, true
		}

		cps := controlPoints(beam)
		for _, cp := range cps {
			planWeight := 1.0
			if globalWeightIdx < len(plan.Weights) {
				planWeight = plan.Weights[globalWeightIdx]
			}
			globalWeightIdx++

			accumulateControlPoint(dose, densityGrid, beam, cp, planWeight, kernels, depths, algorithm, threads)
		}

		if onBeamDone != nil {
			onBeamDone(beamIdx, len(plan.Beams))
		}
	}

	return dose, false
}

// monteCarloRefine repeats accumulateAllBeams as additional independent
// statistical batches on top of first (the already-computed batch 1),
// each batch's terma scaled by simulated particle-counting noise with
// relative sigma ~= 1/sqrt(particles-per-iteration * batch count), folded
// into a running per-voxel mean via Welford's algorithm. Stops once
// meanRelativeUncertainty falls at or below mc.TargetUncertainty or
// mc.MaxIterations batches have run, whichever comes first.
func monteCarloRefine(
	first *types.Grid3D,
	shape types.GridShape,
	densityGrid *types.Grid3D,
	plan *types.Plan,
	algorithm config.DoseAlgorithm,
	kernels *kernel.Cache,
	depths *depthFieldCache,
	threads int,
	mc config.MonteCarlo,
	isCancelled func() bool,
) (*types.Grid3D, bool) {
	maxIterations := mc.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}
	particles := mc.NumParticlesPerIteration
	if particles <= 0 {
		particles = 1
	}
	targetUncertainty := mc.TargetUncertainty
	if targetUncertainty <= 0 {
		targetUncertainty = 0.02
	}

	rng := rand.New(rand.NewSource(1))
	mean := make([]float64, len(first.Data))
	m2 := make([]float64, len(first.Data))
	copy(mean, first.Data)
	iterations := 1

	for iterations < maxIterations {
		if isCancelled != nil && isCancelled() {
			break
		}

		batch, _ := accumulateAllBeams(shape, densityGrid, plan, algorithm, kernels, depths, threads, nil, nil)
		iterations++

		sigma := 1.0 / math.Sqrt(float64(particles)*float64(iterations))
		for i, v := range batch.Data {
			noisy := v * (1 + sigma*rng.NormFloat64())
			delta := noisy - mean[i]
			mean[i] += delta / float64(iterations)
			delta2 := noisy - mean[i]
			m2[i] += delta * delta2
		}

		if meanRelativeUncertainty(mean, m2, iterations) <= targetUncertainty {
			break
		}
	}

	result := types.NewGrid3D(shape)
	copy(result.Data, mean)
	return result, isCancelled != nil && isCancelled()
}

// meanRelativeUncertainty averages the standard error of the running mean,
// relative to that mean, across voxels at or above 5% of the peak mean
// dose (low-dose voxels carry disproportionate relative noise and would
// otherwise stall convergence).
func meanRelativeUncertainty(mean, m2 []float64, iterations int) float64 {
	peak := 0.0
	for _, v := range mean {
		if v > peak {
			peak = v
		}
	}
	if peak <= 0 {
		return 0
	}
	floor := peak * 0.05

	sum := 0.0
	count := 0
	for i, v := range mean {
		if v < floor {
			continue
		}
		variance := m2[i] / float64(iterations)
		stderr := math.Sqrt(variance / float64(iterations))
		sum += stderr / v
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// accumulateControlPoint performs spec.md §4.4 step 3 for one control
// point: aperture test, inverse-square/attenuation/wedge scaling, and
// kernel-weighted neighborhood accumulation into dose.
func accumulateControlPoint(
	dose *types.Grid3D,
	densityGrid *types.Grid3D,
	beam types.Beam,
	cp types.ControlPoint,
	planWeight float64,
	kernels *kernel.Cache,
	depths *depthFieldCache,
	algorithm config.DoseAlgorithm,
	threads int,
) {
	shape := dose.Shape
	direction := beamDirection(cp.GantryDeg, cp.CouchDeg)
	u, w := perpendicularBasis(direction)

	source := beam.IsocenterMM.Sub(direction.Scale(beam.SSDMM))
	depth := depths.get(densityGrid, source, direction, threads)

	k := getKernel(kernels, kernel.Key{Modality: beam.Modality, EnergyMeV: beam.NominalEnergyMeV, Size: kernelSizeFor(algorithm)})
	mu := attenuationCoefficient(beam.Modality, beam.NominalEnergyMeV)

	fieldHeight := cp.Jaw.MaxW - cp.Jaw.MinW
	numLeaves := len(cp.Leaves)
	leafWidth := 0.0
	if numLeaves > 0 && fieldHeight > 0 {
		leafWidth = fieldHeight / float64(numLeaves)
	}

	kernelHalf := k.Size / 2

	samples := memory.GetGlobalMemoryManager().GetDoseSampleBuffer()
	defer func() {
		flushDoseSamples(dose, k, kernelHalf, samples)
		memory.GetGlobalMemoryManager().PutDoseSampleBuffer(samples)
	}()

	for z := 0; z < shape.NZ; z++ {
		for y := 0; y < shape.NY; y++ {
			for x := 0; x < shape.NX; x++ {
				center := shape.VoxelCenter(x, y, z)
				relative := center.Sub(beam.IsocenterMM)

				uCoord := relative.Dot(u)
				wCoord := relative.Dot(w)
				forward := center.Sub(source).Dot(direction)

				if forward < 0 {
					continue
				}
				if !inAperture(uCoord, wCoord, cp, numLeaves, leafWidth, fieldHeight) {
					continue
				}

				d := depth.At(x, y, z)
				invSquare := math.Pow(beam.SSDMM/(beam.SSDMM+d), 2)
				atten := math.Exp(-mu * d)
				wedge := wedgeFactor(beam.Wedge, uCoord, wCoord, fieldHeight/2)

				terma := invSquare * atten * wedge * cp.Weight * planWeight
				if terma <= 0 {
					continue
				}

				if samples.Length >= samples.Capacity {
					flushDoseSamples(dose, k, kernelHalf, samples)
				}
				samples.Data[samples.Length] = memory.DoseSample{
					VoxelIndex: uint32(shape.Index(x, y, z)),
					DoseGy:     terma,
					Weight:     float32(planWeight),
				}
				samples.Length++
			}
		}
	}
}

// flushDoseSamples deposits every queued sample in samples into dose via
// depositKernel, then resets the buffer for reuse.
func flushDoseSamples(dose *types.Grid3D, k *kernel.Kernel, kernelHalf int, samples *memory.DoseSampleBuffer) {
	shape := dose.Shape
	for i := 0; i < samples.Length; i++ {
		s := samples.Data[i]
		x, y, z := shape.Coords(int(s.VoxelIndex))
		depositKernel(dose, k, kernelHalf, x, y, z, s.DoseGy)
	}
	samples.Length = 0
}

// inAperture tests voxel membership per spec.md §4.4's MLC leaf indexing
// and jaw-window rules.
func inAperture(uCoord, wCoord float64, cp types.ControlPoint, numLeaves int, leafWidth, fieldHeight float64) bool {
	if wCoord < cp.Jaw.MinW || wCoord > cp.Jaw.MaxW || uCoord < cp.Jaw.MinU || uCoord > cp.Jaw.MaxU {
		return false
	}
	if numLeaves == 0 {
		return true // no MLC: jaw window alone defines the aperture
	}

	halfHeight := fieldHeight / 2
	leafIdx := int(math.Floor((wCoord + halfHeight) / leafWidth))
	if leafIdx < 0 || leafIdx >= numLeaves {
		return false
	}

	pair := cp.Leaves[leafIdx]
	return uCoord >= pair.Left && uCoord <= pair.Right
}

// depositKernel spreads terma into dose's neighborhood around (x,y,z)
// weighted by k, the kernel-weighted neighborhood sum of spec.md §4.4
// step 3c.
func depositKernel(dose *types.Grid3D, k *kernel.Kernel, half int, x, y, z int, terma float64) {
	shape := dose.Shape
	for dz := -half; dz <= half; dz++ {
		nz := z + dz
		if nz < 0 || nz >= shape.NZ {
			continue
		}
		for dy := -half; dy <= half; dy++ {
			ny := y + dy
			if ny < 0 || ny >= shape.NY {
				continue
			}
			for dx := -half; dx <= half; dx++ {
				nx := x + dx
				if nx < 0 || nx >= shape.NX {
					continue
				}
				weight := k.At(dx, dy, dz)
				if weight == 0 {
					continue
				}
				idx := shape.Index(nx, ny, nz)
				dose.Data[idx] += terma * weight
			}
		}
	}
}

// normalizeToPrescription scales dose so the mean dose within the first
// registered PTV mask equals prescribedDoseGy. If no PTV exists or its
// mean dose is zero, normalization is skipped and a warning is recorded
// (spec.md §4.4 "Dose normalization").
func normalizeToPrescription(dose *types.Grid3D, structures *structureset.Set, prescribedDoseGy float64, aggregator *planerr.ErrorAggregator) {
	ptvs := structures.ByRole(types.RolePTV)
	if len(ptvs) == 0 {
		aggregator.Add(planerr.New(planerr.MissingStructure, planerr.SeverityWarning,
			"no PTV structure found; dose normalization skipped"))
		return
	}

	ptv := ptvs[0]
	sum := 0.0
	count := 0
	for i, inMask := range ptv.Mask {
		if inMask {
			sum += dose.Data[i]
			count++
		}
	}
	if count == 0 || sum == 0 {
		aggregator.Add(planerr.New(planerr.MissingStructure, planerr.SeverityWarning,
			fmt.Sprintf("PTV %q has zero mean dose; normalization skipped", ptv.Name)))
		return
	}

	mean := sum / float64(count)
	scale := prescribedDoseGy / mean
	for i := range dose.Data {
		dose.Data[i] *= scale
	}
}
