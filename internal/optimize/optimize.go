// Package optimize searches beam-weight space to minimize a plan's
// objective function, via gradient descent or a genetic algorithm
// (spec.md §4.6). Both backends share the same objective oracle (C6) and
// honor the same contract: the returned weight vector sums to 1, is
// component-wise non-negative, and scores no worse than the initial
// uniform vector.
package optimize

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
)

// Oracle evaluates the plan's composite objective for a given weight
// vector. Callers typically close over a dose-engine recomputation (or,
// for efficiency, a precomputed per-beam dose linear combination —
// spec.md §4.6's "source performs one full objective evaluation per
// weight" note).
type Oracle func(weights []float64) (float64, error)

// uniform returns the length-n vector with every entry 1/n.
func uniform(n int) []float64 {
	w := make([]float64, n)
	if n == 0 {
		return w
	}
	v := 1.0 / float64(n)
	for i := range w {
		w[i] = v
	}
	return w
}

// normalize scales w so its entries sum to 1, or resets it to uniform if
// the sum is zero (spec.md §4.6.1 step 4).
func normalize(w []float64) {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	if sum == 0 {
		u := uniform(len(w))
		copy(w, u)
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

func clampNonNegative(w []float64) {
	for i, v := range w {
		if v < 0 {
			w[i] = 0
		}
	}
}

func cloneWeights(w []float64) []float64 {
	c := make([]float64, len(w))
	copy(c, w)
	return c
}

// GradientDescentOptions configures the gradient-descent backend.
type GradientDescentOptions struct {
	LearningRate  float64
	Epsilon       float64
	MaxIterations int
	// FiniteDiffStep is h in the forward-difference gradient; defaults to
	// 1e-5 (spec.md §4.6.1 step 2) if zero.
	FiniteDiffStep float64
}

// GradientDescent minimizes oracle over n weights via forward
// finite-difference gradient descent.
func GradientDescent(n int, oracle Oracle, opts GradientDescentOptions) ([]float64, *planerr.Error) {
	h := opts.FiniteDiffStep
	if h == 0 {
		h = 1e-5
	}
	eta := opts.LearningRate
	if eta == 0 {
		eta = 0.1
	}

	w := uniform(n)
	f, err := oracle(w)
	if err != nil {
		return nil, planerr.Wrap(planerr.NumericFailure, planerr.SeverityCritical, "initial objective evaluation failed", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, planerr.New(planerr.NumericFailure, planerr.SeverityCritical, "initial objective value is NaN or Inf")
	}

	best := cloneWeights(w)
	bestF := f
	fPrev := f

	for iter := 0; iter < opts.MaxIterations; iter++ {
		grad, gerr := forwardGradient(w, f, oracle, h)
		if gerr != nil {
			return best, planerr.Wrap(planerr.NumericFailure, planerr.SeverityError, "gradient evaluation failed", gerr)
		}

		next := cloneWeights(w)
		for i := range next {
			next[i] -= eta * grad[i]
		}
		clampNonNegative(next)
		normalize(next)

		nextF, everr := oracle(next)
		if everr != nil || math.IsNaN(nextF) || math.IsInf(nextF, 0) {
			break // keep best-so-far rather than propagate a transient failure
		}

		w = next
		f = nextF
		if f <= bestF {
			bestF = f
			best = cloneWeights(w)
		}

		if math.Abs(fPrev-f) < opts.Epsilon {
			break
		}
		fPrev = f
	}

	return best, nil
}

// forwardGradient computes ∂f/∂wᵢ for every i via one-sided forward
// differences, evaluated concurrently (spec.md §5: embarrassingly
// parallel per-index work).
func forwardGradient(w []float64, f0 float64, oracle Oracle, h float64) ([]float64, error) {
	n := len(w)
	grad := make([]float64, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			perturbed := cloneWeights(w)
			perturbed[idx] += h
			fh, err := oracle(perturbed)
			if err != nil {
				errs[idx] = err
				return
			}
			grad[idx] = (fh - f0) / h
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return grad, nil
}

// GeneticOptions configures the genetic-algorithm backend.
type GeneticOptions struct {
	PopulationSize int
	MaxGenerations int
	CrossoverRate  float64
	MutationRate   float64
	// Seed drives the PRNG so runs are reproducible (spec.md §9
	// "Random-number generation").
	Seed int64
	// TargetFitness is the early-stop fitness threshold; defaults to
	// 1e-4 (spec.md §4.6.2) if zero.
	TargetFitness float64
}

const (
	tournamentK    = 3
	elitismFraction = 0.10
	mutationSpan    = 0.4 // perturbation in [-0.2, 0.2]
)

type individual struct {
	weights []float64
	fitness float64
}

// GeneticSearch minimizes oracle over n weights using a generational
// genetic algorithm with elitism, tournament selection, one-point
// crossover, and per-gene mutation (spec.md §4.6.2).
func GeneticSearch(n int, oracle Oracle, opts GeneticOptions) ([]float64, *planerr.Error) {
	m := opts.PopulationSize
	if m < 2 {
		m = 2
	}
	target := opts.TargetFitness
	if target == 0 {
		target = 1e-4
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	population := make([]individual, m)
	population[0].weights = uniform(n)
	for i := 1; i < m; i++ {
		population[i].weights = randomWeights(n, rng)
	}

	var bestEver individual
	bestEver.fitness = math.Inf(1)

	numElite := int(math.Ceil(elitismFraction * float64(m)))
	if numElite < 1 {
		numElite = 1
	}

	for gen := 0; gen < opts.MaxGenerations; gen++ {
		for i := range population {
			f, err := oracle(population[i].weights)
			if err != nil {
				return cloneBestOrUniform(bestEver, n), planerr.Wrap(planerr.NumericFailure, planerr.SeverityError, "fitness evaluation failed", err)
			}
			population[i].fitness = f
		}

		sort.Slice(population, func(a, b int) bool { return population[a].fitness < population[b].fitness })

		if population[0].fitness < bestEver.fitness {
			bestEver = individual{weights: cloneWeights(population[0].weights), fitness: population[0].fitness}
		}
		if bestEver.fitness < target {
			break
		}

		next := make([]individual, 0, m)
		for i := 0; i < numElite; i++ {
			next = append(next, individual{weights: cloneWeights(population[i].weights), fitness: population[i].fitness})
		}
		for len(next) < m {
			parentA := tournamentSelect(population, rng)
			parentB := tournamentSelect(population, rng)
			child := cloneWeights(parentA)
			if rng.Float64() < opts.CrossoverRate {
				child = onePointCrossover(parentA, parentB, rng)
			}
			mutate(child, opts.MutationRate, rng)
			normalize(child)
			next = append(next, individual{weights: child})
		}
		population = next
	}

	return cloneBestOrUniform(bestEver, n), nil
}

func cloneBestOrUniform(best individual, n int) []float64 {
	if best.weights == nil {
		return uniform(n)
	}
	return cloneWeights(best.weights)
}

func randomWeights(n int, rng *rand.Rand) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = rng.Float64()
	}
	normalize(w)
	return w
}

func tournamentSelect(population []individual, rng *rand.Rand) []float64 {
	bestIdx := rng.Intn(len(population))
	for i := 1; i < tournamentK; i++ {
		candidate := rng.Intn(len(population))
		if population[candidate].fitness < population[bestIdx].fitness {
			bestIdx = candidate
		}
	}
	return population[bestIdx].weights
}

func onePointCrossover(a, b []float64, rng *rand.Rand) []float64 {
	n := len(a)
	if n < 2 {
		return cloneWeights(a)
	}
	point := 1 + rng.Intn(n-1)
	child := make([]float64, n)
	copy(child[:point], a[:point])
	copy(child[point:], b[point:])
	return child
}

func mutate(w []float64, rate float64, rng *rand.Rand) {
	for i := range w {
		if rng.Float64() >= rate {
			continue
		}
		perturb := (rng.Float64()*mutationSpan) - mutationSpan/2
		w[i] += perturb
		if w[i] < 0 {
			w[i] = 0
		}
		if w[i] > 1 {
			w[i] = 1
		}
	}
}
