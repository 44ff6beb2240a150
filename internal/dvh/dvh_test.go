package dvh

import (
	"math"
	"testing"
)

func uniformValues(n int, dose float64) []float64 {
	values := make([]float64, n)
	for i := range values {
		values[i] = dose
	}
	return values
}

func TestBuildInvariants(t *testing.T) {
	values := uniformValues(1000, 70.0)
	d := Build("PTV", values, 1.0)

	if math.Abs(d.CumulativeVolume[0]-1.0) > 1e-9 {
		t.Errorf("cumulative[0] should be 1.0, got %v", d.CumulativeVolume[0])
	}
	if d.CumulativeVolume[len(d.CumulativeVolume)-1] != 0 {
		t.Errorf("last cumulative bin should be 0, got %v", d.CumulativeVolume[len(d.CumulativeVolume)-1])
	}
	for i := 1; i < len(d.CumulativeVolume); i++ {
		if d.CumulativeVolume[i] > d.CumulativeVolume[i-1]+1e-12 {
			t.Fatalf("cumulative must be non-increasing at bin %d: %v > %v", i, d.CumulativeVolume[i], d.CumulativeVolume[i-1])
		}
	}
}

func TestBuildS5UniformDoseEndpoints(t *testing.T) {
	values := uniformValues(1000, 70.0)
	d := Build("PTV", values, 1.0)

	dmin := DMin(d, len(values))
	dmax := DMax(d)
	dmean := DMean(values)

	if math.Abs(dmin-70.0) > 0.5 {
		t.Errorf("D_min should be ~70, got %v", dmin)
	}
	if math.Abs(dmax-70.0) > 0.5 {
		t.Errorf("D_max should be ~70, got %v", dmax)
	}
	if math.Abs(dmean-70.0) > 1e-9 {
		t.Errorf("D_mean should be exactly 70, got %v", dmean)
	}

	d98 := Dx(d, 98)
	d2 := Dx(d, 2)
	if math.Abs(d98-70.0) > 0.5 || math.Abs(d2-70.0) > 0.5 {
		t.Errorf("D98/D2 should both be ~70 for uniform dose, got D98=%v D2=%v", d98, d2)
	}
}

func TestVxForwardLookup(t *testing.T) {
	values := uniformValues(500, 50.0)
	d := Build("PTV", values, 1.0)

	if v := Vx(d, 0); math.Abs(v-1.0) > 1e-9 {
		t.Errorf("V_0 should be 1.0 (all voxels receive >= 0 Gy), got %v", v)
	}
	if v := Vx(d, 100); v != 0 {
		t.Errorf("V_100 should be 0 for a 50 Gy uniform dose, got %v", v)
	}
}

func TestD2cc(t *testing.T) {
	// 1 mm^3 voxels, need 2000 voxels for 2cc. Build a gradient so the
	// hottest 2000 voxels are identifiable.
	values := make([]float64, 3000)
	for i := range values {
		values[i] = float64(i) // ascending doses 0..2999
	}
	got := D2cc(values, 1.0)
	// Hottest 2000 voxels' minimum is index 3000-2000=1000 -> dose 1000.
	if math.Abs(got-1000) > 1e-9 {
		t.Errorf("expected D2cc=1000, got %v", got)
	}
}

func TestBuildEmptyReturnsNil(t *testing.T) {
	if d := Build("PTV", nil, 1.0); d != nil {
		t.Error("expected nil DVH for empty structure values")
	}
}
