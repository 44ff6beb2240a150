package optimize

import (
	"math"
	"testing"
)

// quadraticOracle is minimized at weights == target, scaled so it behaves
// like a real objective: always >= 0, smooth, decreasing toward a single
// minimum inside the simplex.
func quadraticOracle(target []float64) Oracle {
	return func(w []float64) (float64, error) {
		sum := 0.0
		for i, t := range w {
			d := t - target[i]
			sum += d * d
		}
		return sum, nil
	}
}

func sumTo1(t *testing.T, w []float64) {
	t.Helper()
	sum := 0.0
	for _, v := range w {
		if v < -1e-9 {
			t.Errorf("weight %v is negative", v)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > 1e-6 {
		t.Errorf("weights should sum to 1, got %v", sum)
	}
}

func TestGradientDescentImprovesOnUniform(t *testing.T) {
	target := []float64{0.7, 0.2, 0.1}
	oracle := quadraticOracle(target)

	initial := uniform(3)
	f0, _ := oracle(initial)

	w, err := GradientDescent(3, oracle, GradientDescentOptions{
		LearningRate:  0.5,
		Epsilon:       1e-10,
		MaxIterations: 200,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sumTo1(t, w)

	fFinal, _ := oracle(w)
	if fFinal > f0 {
		t.Errorf("gradient descent should not worsen the objective: f0=%v fFinal=%v", f0, fFinal)
	}
}

func TestGradientDescentStopsOnMaxIterations(t *testing.T) {
	target := []float64{0.5, 0.5}
	oracle := quadraticOracle(target)

	w, err := GradientDescent(2, oracle, GradientDescentOptions{
		LearningRate:  0.01,
		Epsilon:       0, // never converge early
		MaxIterations: 5,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sumTo1(t, w)
}

func TestGeneticSearchImprovesOnUniform(t *testing.T) {
	target := []float64{0.6, 0.3, 0.1}
	oracle := quadraticOracle(target)

	initial := uniform(3)
	f0, _ := oracle(initial)

	w, err := GeneticSearch(3, oracle, GeneticOptions{
		PopulationSize: 20,
		MaxGenerations: 60,
		CrossoverRate:  0.7,
		MutationRate:   0.1,
		Seed:           42,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sumTo1(t, w)

	fFinal, _ := oracle(w)
	if fFinal > f0+1e-9 {
		t.Errorf("genetic search should not worsen the objective: f0=%v fFinal=%v", f0, fFinal)
	}
}

func TestGeneticSearchDeterministicForFixedSeed(t *testing.T) {
	target := []float64{0.4, 0.4, 0.2}
	oracle := quadraticOracle(target)
	opts := GeneticOptions{PopulationSize: 16, MaxGenerations: 30, CrossoverRate: 0.7, MutationRate: 0.1, Seed: 7}

	w1, _ := GeneticSearch(3, oracle, opts)
	w2, _ := GeneticSearch(3, oracle, opts)

	for i := range w1 {
		if math.Abs(w1[i]-w2[i]) > 1e-12 {
			t.Errorf("same seed should reproduce the same result: %v vs %v", w1, w2)
		}
	}
}

func TestNormalizeResetsToUniformWhenSumIsZero(t *testing.T) {
	w := []float64{0, 0, 0}
	normalize(w)
	sumTo1(t, w)
	for _, v := range w {
		if math.Abs(v-1.0/3) > 1e-12 {
			t.Errorf("expected uniform fallback, got %v", w)
		}
	}
}
