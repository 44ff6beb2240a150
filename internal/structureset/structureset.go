// Package structureset manages the named binary masks co-registered to a
// dose grid, and the name -> index table used to avoid per-voxel string
// comparisons in hot loops (spec.md §9).
package structureset

import (
	"fmt"

	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// Set is a collection of structures sharing one grid shape, indexed by
// name for O(1) lookup.
type Set struct {
	Shape      types.GridShape
	structures []*types.Structure
	index      map[string]int
}

// New creates an empty structure set over shape.
func New(shape types.GridShape) *Set {
	return &Set{Shape: shape, index: make(map[string]int)}
}

// Add registers a structure, validating that its mask length matches the
// set's grid (spec.md §3: "mask dimensions match the dose grid") and that
// the name is unique.
func (s *Set) Add(st *types.Structure) error {
	if len(st.Mask) != s.Shape.NumVoxels() {
		return planerr.New(planerr.InvalidGeometry, planerr.SeverityCritical,
			fmt.Sprintf("structure %q mask has %d voxels, grid has %d", st.Name, len(st.Mask), s.Shape.NumVoxels())).
			WithMetadata("structure", st.Name)
	}
	if _, exists := s.index[st.Name]; exists {
		return planerr.New(planerr.ConfigError, planerr.SeverityError,
			fmt.Sprintf("duplicate structure name %q", st.Name))
	}

	s.index[st.Name] = len(s.structures)
	s.structures = append(s.structures, st)
	return nil
}

// Get returns the structure with the given name, or ok=false if absent.
// The dose engine and objective evaluator treat an absent name as
// spec.md §7's MissingStructure condition, to be warned on and skipped by
// the caller rather than treated as fatal here.
func (s *Set) Get(name string) (*types.Structure, bool) {
	idx, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.structures[idx], true
}

// Names returns all registered structure names in registration order.
func (s *Set) Names() []string {
	names := make([]string, len(s.structures))
	for i, st := range s.structures {
		names[i] = st.Name
	}
	return names
}

// ByRole returns every structure with the given role, in registration
// order.
func (s *Set) ByRole(role types.StructureRole) []*types.Structure {
	var result []*types.Structure
	for _, st := range s.structures {
		if st.Role == role {
			result = append(result, st)
		}
	}
	return result
}

// Volume returns the structure's volume in mm^3: the count of set mask
// voxels times the grid's per-voxel volume.
func (s *Set) Volume(name string) (float64, bool) {
	st, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	count := 0
	for _, inside := range st.Mask {
		if inside {
			count++
		}
	}
	return float64(count) * s.Shape.VoxelVolume(), true
}

// DoseValues collects the dose grid's values at every voxel inside the
// named structure's mask. Returns ok=false if the structure is absent.
func (s *Set) DoseValues(name string, dose *types.Grid3D) ([]float64, bool) {
	st, ok := s.Get(name)
	if !ok {
		return nil, false
	}
	values := make([]float64, 0, len(st.Mask))
	for i, inside := range st.Mask {
		if inside {
			values = append(values, dose.Data[i])
		}
	}
	return values, true
}
