// Package kernel computes and caches 3D dose point-spread kernels per
// (modality, energy, resolution).
package kernel

import (
	"fmt"
	"math"
	"sync"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// DefaultSize is the default odd-size kernel grid dimension (spec.md
// §4.3: "default 11³").
const DefaultSize = 11

// Kernel is a normalized 3D point-spread function on an odd-size cubic
// grid, indexed identically to types.Grid3D, centered at the middle
// voxel.
type Kernel struct {
	Size int
	Data []float64 // length Size^3, index = z*Size*Size + y*Size + x
}

// At returns the kernel weight at offset (dx, dy, dz) from the kernel
// center, where each of dx,dy,dz ranges over [-(Size-1)/2, (Size-1)/2].
func (k *Kernel) At(dx, dy, dz int) float64 {
	half := k.Size / 2
	x, y, z := dx+half, dy+half, dz+half
	if x < 0 || x >= k.Size || y < 0 || y >= k.Size || z < 0 || z >= k.Size {
		return 0
	}
	return k.Data[z*k.Size*k.Size+y*k.Size+x]
}

// photonElectronSigma returns the Gaussian sigma (in kernel-voxel units)
// for a photon or electron beam at the given nominal energy (MeV). Higher
// energy produces a more forward-peaked, narrower kernel for photons, and
// electrons scatter more than photons at a comparable energy.
func photonElectronSigma(modality types.Modality, energyMeV float64) float64 {
	switch modality {
	case types.ModalityElectron:
		// Electrons scatter more strongly: same 1/sqrt(E) falloff as
		// photons, with a larger coefficient.
		return 2.2 / math.Sqrt(math.Max(energyMeV, 1.0))
	default: // photon
		return 1.6 / math.Sqrt(math.Max(energyMeV, 1.0))
	}
}

// protonRange returns the approximate Bragg-peak depth in kernel-voxel
// units for a proton beam of the given nominal energy, using the
// empirical power law R ∝ E^1.77 (Bragg-Kleeman), scaled to fit within
// the kernel half-width.
func protonRange(energyMeV float64, halfWidth float64) float64 {
	raw := 0.0022 * math.Pow(math.Max(energyMeV, 1.0), 1.77) // cm, approximate
	rangeVoxels := raw * 2.0                                 // scale into voxel units
	if rangeVoxels > halfWidth {
		rangeVoxels = halfWidth
	}
	return rangeVoxels
}

// Generate builds a normalized kernel (sum of weights = 1) for the given
// modality and nominal energy, on a cubic grid of the given odd size.
func Generate(modality types.Modality, energyMeV float64, size int) *Kernel {
	if size%2 == 0 {
		size++
	}
	half := size / 2

	k := &Kernel{Size: size, Data: make([]float64, size*size*size)}

	switch modality {
	case types.ModalityProton:
		generateProtonKernel(k, half, energyMeV)
	default:
		sigma := photonElectronSigma(modality, energyMeV)
		generateGaussianKernel(k, half, sigma)
	}

	normalize(k)
	return k
}

func generateGaussianKernel(k *Kernel, half int, sigma float64) {
	if sigma <= 0 {
		sigma = 1e-3
	}
	twoSigmaSq := 2 * sigma * sigma
	idx := 0
	for z := -half; z <= half; z++ {
		for y := -half; y <= half; y++ {
			for x := -half; x <= half; x++ {
				r2 := float64(x*x + y*y + z*z)
				k.Data[idx] = math.Exp(-r2 / twoSigmaSq)
				idx++
			}
		}
	}
}

// generateProtonKernel builds a kernel that is radially Gaussian and
// axially shaped by a Bragg-peak profile centered at range(E), with
// amplification ~6x at the peak (spec.md §4.3). The beam axis is taken as
// the kernel's z-axis; per-beam rotation into patient space is the dose
// engine's responsibility.
func generateProtonKernel(k *Kernel, half int, energyMeV float64) {
	radialSigma := 0.9
	rangeVoxels := protonRange(energyMeV, float64(half))
	const peakAmplification = 6.0
	const braggWidth = 1.2

	idx := 0
	for z := -half; z <= half; z++ {
		axialDepth := float64(z + half) // 0..size-1, "depth" along beam
		braggFactor := 1.0 + (peakAmplification-1.0)*math.Exp(-math.Pow(axialDepth-rangeVoxels, 2)/(2*braggWidth*braggWidth))
		// Suppress dose distal to the range (protons stop).
		if axialDepth > rangeVoxels+braggWidth*3 {
			braggFactor = 0
		}
		for y := -half; y <= half; y++ {
			for x := -half; x <= half; x++ {
				r2 := float64(x*x + y*y)
				radial := math.Exp(-r2 / (2 * radialSigma * radialSigma))
				k.Data[idx] = radial * braggFactor
				idx++
			}
		}
	}
}

func normalize(k *Kernel) {
	sum := 0.0
	for _, v := range k.Data {
		sum += v
	}
	if sum == 0 {
		return
	}
	for i := range k.Data {
		k.Data[i] /= sum
	}
}

// Key identifies a kernel by the parameters it was generated from.
type Key struct {
	Modality types.Modality
	EnergyMeV float64
	Size      int
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%.3f:%d", k.Modality, k.EnergyMeV, k.Size)
}

// Cache memoizes kernels by (modality, energy, resolution) in-process.
// Cross-process/persistent caching is layered on top by kernelcache.
type Cache struct {
	mu    sync.RWMutex
	store map[Key]*Kernel
}

// NewCache creates an empty in-memory kernel cache.
func NewCache() *Cache {
	return &Cache{store: make(map[Key]*Kernel)}
}

// Get returns the cached kernel for key, generating and storing it if
// absent.
func (c *Cache) Get(key Key) *Kernel {
	c.mu.RLock()
	k, ok := c.store[key]
	c.mu.RUnlock()
	if ok {
		return k
	}

	k = Generate(key.Modality, key.EnergyMeV, key.Size)

	c.mu.Lock()
	c.store[key] = k
	c.mu.Unlock()
	return k
}

// Lookup returns the in-process cached kernel for key without generating
// one, for callers (doseengine) that want to consult a distributed cache
// layer on a local miss before falling back to Generate.
func (c *Cache) Lookup(key Key) (*Kernel, bool) {
	c.mu.RLock()
	k, ok := c.store[key]
	c.mu.RUnlock()
	return k, ok
}

// Store records k as the in-process cached kernel for key.
func (c *Cache) Store(key Key, k *Kernel) {
	c.mu.Lock()
	c.store[key] = k
	c.mu.Unlock()
}
