package density

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func TestConvertKnownAnchors(t *testing.T) {
	table := NewDefaultTable()

	cases := []struct {
		hu  float64
		rho float64
	}{
		{-1000, 0.001},
		{-700, 0.25},
		{0, 1.0},
		{300, 1.5},
		{1000, 2.0},
	}
	for _, c := range cases {
		got := table.Convert(c.hu)
		if math.Abs(got-c.rho) > 1e-9 {
			t.Errorf("Convert(%v) = %v, want %v", c.hu, got, c.rho)
		}
	}
}

func TestConvertInterpolates(t *testing.T) {
	table := NewDefaultTable()
	// Midpoint between water (0, 1.0) and soft tissue (50, 1.05).
	got := table.Convert(25)
	want := 1.025
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Convert(25) = %v, want %v", got, want)
	}
}

func TestConvertClampsOutsideRange(t *testing.T) {
	table := NewDefaultTable()
	if got := table.Convert(-5000); got != 0.001 {
		t.Errorf("expected clamp to air density, got %v", got)
	}
	if got := table.Convert(10000); got != 3.0 {
		t.Errorf("expected clamp to densest anchor, got %v", got)
	}
}

func TestConvertMonotone(t *testing.T) {
	table := NewDefaultTable()
	prev := table.Convert(-1200)
	for hu := -1100.0; hu <= 3200; hu += 17 {
		got := table.Convert(hu)
		if got < prev-1e-12 {
			t.Fatalf("Convert not monotone non-decreasing at HU=%v: %v < %v", hu, got, prev)
		}
		prev = got
	}
}

func TestLoadTableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "anchors.txt")
	content := "# comment\n-1000 0.001\n0 1.0\n1000 2.0\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write anchors: %v", err)
	}

	table, err := LoadTableFile(path)
	if err != nil {
		t.Fatalf("LoadTableFile: %v", err)
	}
	if got := table.Convert(0); got != 1.0 {
		t.Errorf("Convert(0) = %v, want 1.0", got)
	}
}

func TestLoadTableFileRejectsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(path, []byte("not-a-number 1.0\n"), 0o644); err != nil {
		t.Fatalf("write anchors: %v", err)
	}
	if _, err := LoadTableFile(path); err == nil {
		t.Error("expected error for malformed anchor line")
	}
}

func TestConvertVolume(t *testing.T) {
	shape := types.GridShape{
		NX: 2, NY: 2, NZ: 1,
		SpacingX: 1, SpacingY: 1, SpacingZ: 1,
		DirX: types.Vector3D{X: 1}, DirY: types.Vector3D{Y: 1}, DirZ: types.Vector3D{Z: 1},
	}
	ct := &types.CTVolume{Shape: shape, HU: []int16{-1000, 0, 300, 1000}}

	table := NewDefaultTable()
	rho := table.ConvertVolume(ct)

	if math.Abs(rho.Data[0]-0.001) > 1e-9 {
		t.Errorf("voxel 0: got %v, want 0.001", rho.Data[0])
	}
	if math.Abs(rho.Data[1]-1.0) > 1e-9 {
		t.Errorf("voxel 1: got %v, want 1.0", rho.Data[1])
	}
}
