// Package raytrace computes the radiological-depth field for a beam
// direction: for every voxel, the electron density integrated along the
// ray from the source back to that voxel.
package raytrace

import (
	"math"
	"sync"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// ComputeDepth traces density along rays from source toward every voxel of
// density's grid, for the given unit beam direction, and returns the
// radiological-depth field in mm-water-equivalent. Work is partitioned by
// z-slice across threads workers; the dose engine and ray tracer are
// embarrassingly parallel per voxel (spec.md §5), so no cross-voxel state
// is shared during accumulation.
func ComputeDepth(density *types.Grid3D, source types.Vector3D, direction types.Vector3D, threads int) *types.Grid3D {
	shape := density.Shape
	depth := types.NewGrid3D(shape)

	step := 0.5 * math.Min(shape.SpacingX, math.Min(shape.SpacingY, shape.SpacingZ))
	if step <= 0 {
		step = 1.0
	}

	if threads < 1 {
		threads = 1
	}

	var wg sync.WaitGroup
	zPerWorker := (shape.NZ + threads - 1) / threads
	if zPerWorker < 1 {
		zPerWorker = 1
	}

	for zStart := 0; zStart < shape.NZ; zStart += zPerWorker {
		zEnd := zStart + zPerWorker
		if zEnd > shape.NZ {
			zEnd = shape.NZ
		}
		wg.Add(1)
		go func(z0, z1 int) {
			defer wg.Done()
			for z := z0; z < z1; z++ {
				for y := 0; y < shape.NY; y++ {
					for x := 0; x < shape.NX; x++ {
						target := shape.VoxelCenter(x, y, z)
						depth.Set(x, y, z, traceRay(density, source, target, step))
					}
				}
			}
		}(zStart, zEnd)
	}
	wg.Wait()

	return depth
}

// traceRay performs fixed-step Siddon-style traversal from source to
// target, accumulating density*step and clamping sample coordinates to
// the grid. Terminates once the accumulated travel reaches target.
func traceRay(density *types.Grid3D, source, target types.Vector3D, step float64) float64 {
	shape := density.Shape

	delta := target.Sub(source)
	totalDist := delta.Length()
	if totalDist == 0 {
		return 0
	}
	dir := delta.Scale(1.0 / totalDist)

	accumulated := 0.0
	traveled := 0.0
	for traveled < totalDist {
		sampleDist := traveled + step*0.5
		if sampleDist > totalDist {
			sampleDist = totalDist * 0.5 + traveled*0.5
		}
		samplePoint := source.Add(dir.Scale(sampleDist))
		rho := sampleDensity(density, shape, samplePoint)

		segment := step
		if traveled+step > totalDist {
			segment = totalDist - traveled
		}
		accumulated += rho * segment
		traveled += step
	}

	return accumulated
}

// sampleDensity converts a patient-space point to the nearest voxel index
// (clamped to the grid) and returns that voxel's density.
func sampleDensity(density *types.Grid3D, shape types.GridShape, point types.Vector3D) float64 {
	local := point.Sub(shape.Origin)
	lx := local.Dot(shape.DirX) / shape.SpacingX
	ly := local.Dot(shape.DirY) / shape.SpacingY
	lz := local.Dot(shape.DirZ) / shape.SpacingZ

	x := clampIndex(int(math.Floor(lx)), shape.NX)
	y := clampIndex(int(math.Floor(ly)), shape.NY)
	z := clampIndex(int(math.Floor(lz)), shape.NZ)

	return density.At(x, y, z)
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
