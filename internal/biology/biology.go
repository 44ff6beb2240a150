// Package biology implements the biologically effective dose models used
// to translate physical dose into clinical outcome probabilities
// (spec.md §4.8).
package biology

import (
	"math"

	"github.com/QuangMacHUST/QuangStationV2/pkg/types"
)

// BED computes the biologically effective dose for n fractions of
// dosePerFractionGy, given the tissue's alpha/beta ratio (Gy):
// BED = n·d·(1 + d/(α/β)).
func BED(fractions int, dosePerFractionGy, alphaBetaGy float64) float64 {
	if alphaBetaGy <= 0 {
		alphaBetaGy = 1e-9
	}
	n := float64(fractions)
	d := dosePerFractionGy
	return n * d * (1 + d/alphaBetaGy)
}

// EQD2 converts a BED into the equivalent dose delivered in 2 Gy
// fractions: EQD2 = BED / (1 + 2/(α/β)).
func EQD2(bedGy, alphaBetaGy float64) float64 {
	if alphaBetaGy <= 0 {
		alphaBetaGy = 1e-9
	}
	return bedGy / (1 + 2/alphaBetaGy)
}

// DefaultAlphaBeta returns the conventional default α/β for targets
// (10 Gy, early-responding) versus late-responding normal tissue (3 Gy),
// per spec.md §4.8.
func DefaultAlphaBeta(role types.StructureRole) float64 {
	if role == types.RolePTV {
		return 10.0
	}
	return 3.0
}

// EUD computes the generalized equivalent uniform dose from per-voxel (or
// per-bin) volume fractions and doses: EUD = (Σ vᵢ·Dᵢ^(1/n))^n. n is the
// tissue-specific volume-effect parameter (from NTCPParams.N for an OAR,
// or a very small n approximating max-dose sensitivity for a target).
func EUD(volumeFractions, dosesGy []float64, n float64) float64 {
	if len(volumeFractions) != len(dosesGy) || len(volumeFractions) == 0 {
		return 0
	}
	if n == 0 {
		n = 1e-6
	}

	sum := 0.0
	for i, v := range volumeFractions {
		d := dosesGy[i]
		if d < 0 {
			d = 0
		}
		sum += v * math.Pow(d, 1/n)
	}
	return math.Pow(sum, n)
}

// TCPLogistic computes tumor control probability from the logistic model:
// TCP = 1 / (1 + (D50/EUD)^(4·γ50)).
func TCPLogistic(eudGy, d50Gy, gamma50 float64) float64 {
	if eudGy <= 0 {
		return 0
	}
	ratio := d50Gy / eudGy
	return 1.0 / (1.0 + math.Pow(ratio, 4*gamma50))
}

// NTCPLyman computes normal-tissue complication probability from the
// Lyman-Kutcher-Burman model: NTCP = Φ(t), t = (EUD - TD50) / (m·TD50),
// where Φ is the standard normal CDF.
func NTCPLyman(eudGy float64, params types.NTCPParams) float64 {
	if params.TD50 <= 0 || params.M <= 0 {
		return 0
	}
	t := (eudGy - params.TD50) / (params.M * params.TD50)
	return normalCDF(t)
}

// normalCDF is the standard normal cumulative distribution function,
// expressed via the error function.
func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
