package biology

import (
	"math"
	"testing"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

func TestBEDMatchesLinearQuadraticFormula(t *testing.T) {
	// 30 fractions of 2 Gy, alpha/beta 10 -> BED = 30*2*(1+2/10) = 72.
	got := BED(30, 2.0, 10.0)
	want := 72.0
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("BED = %v, want %v", got, want)
	}
}

func TestEQD2OfTwoGyFractionsIsBEDOverOneTwo(t *testing.T) {
	bed := BED(30, 2.0, 10.0)
	eqd2 := EQD2(bed, 10.0)
	// For 2 Gy/fraction, EQD2 should equal the total physical dose (60 Gy).
	if math.Abs(eqd2-60.0) > 1e-9 {
		t.Errorf("EQD2 = %v, want 60", eqd2)
	}
}

func TestDefaultAlphaBetaByRole(t *testing.T) {
	if got := DefaultAlphaBeta(types.RolePTV); got != 10.0 {
		t.Errorf("PTV alpha/beta = %v, want 10", got)
	}
	if got := DefaultAlphaBeta(types.RoleOAR); got != 3.0 {
		t.Errorf("OAR alpha/beta = %v, want 3", got)
	}
}

func TestEUDUniformDoseEqualsThatDose(t *testing.T) {
	volumes := []float64{0.25, 0.25, 0.25, 0.25}
	doses := []float64{50, 50, 50, 50}
	got := EUD(volumes, doses, 1.0)
	if math.Abs(got-50.0) > 1e-6 {
		t.Errorf("EUD of uniform dose = %v, want 50", got)
	}
}

func TestEUDMismatchedLengthsReturnsZero(t *testing.T) {
	if got := EUD([]float64{0.5}, []float64{10, 20}, 1.0); got != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %v", got)
	}
}

func TestTCPLogisticAtD50EqualsHalf(t *testing.T) {
	got := TCPLogistic(60.0, 60.0, 2.0)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("TCP at EUD=D50 should be 0.5, got %v", got)
	}
}

func TestTCPLogisticIncreasesWithDose(t *testing.T) {
	low := TCPLogistic(40.0, 60.0, 2.0)
	high := TCPLogistic(80.0, 60.0, 2.0)
	if !(low < high) {
		t.Errorf("expected TCP to increase with EUD: low=%v high=%v", low, high)
	}
}

func TestNTCPLymanAtTD50EqualsHalf(t *testing.T) {
	params := types.NTCPParams{TD50: 50, M: 0.2, N: 0.5}
	got := NTCPLyman(50.0, params)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("NTCP at EUD=TD50 should be 0.5, got %v", got)
	}
}

func TestNTCPLymanIncreasesWithEUD(t *testing.T) {
	params := types.NTCPParams{TD50: 50, M: 0.2, N: 0.5}
	low := NTCPLyman(30.0, params)
	high := NTCPLyman(70.0, params)
	if !(low < high) {
		t.Errorf("expected NTCP to increase with EUD: low=%v high=%v", low, high)
	}
}

func TestNTCPLymanInvalidParamsReturnsZero(t *testing.T) {
	if got := NTCPLyman(50.0, types.NTCPParams{}); got != 0 {
		t.Errorf("expected 0 for zero TD50/M, got %v", got)
	}
}
