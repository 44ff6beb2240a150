// Package config loads the engine's configuration surface: the dose
// calculation and optimization options spec.md §6 recognizes. It reads a
// JSON file and allows CLI flag overrides, matching the teacher's
// "no extra dependency for something encoding/json already does" texture.
package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/QuangMacHUST/QuangStationV2/internal/planerr"
)

// DoseAlgorithm enumerates recognized dose_calculation.algorithm values.
type DoseAlgorithm string

const (
	AlgorithmCollapsedCone DoseAlgorithm = "collapsed_cone"
	AlgorithmPencilBeam    DoseAlgorithm = "pencil_beam"
	AlgorithmAAA           DoseAlgorithm = "aaa"
	AlgorithmAcuros        DoseAlgorithm = "acuros"
	AlgorithmMonteCarlo    DoseAlgorithm = "monte_carlo"
)

// OptimizerAlgorithm enumerates recognized optimization.algorithm values.
type OptimizerAlgorithm string

const (
	OptimizerGradient OptimizerAlgorithm = "gradient"
	OptimizerGenetic  OptimizerAlgorithm = "genetic"
)

// DoseCalculation holds dose_calculation.* options. The dose engine reads
// only Algorithm: it runs runtime.NumCPU() ray-trace workers, converts HU
// with density.NewDefaultTable, and computes on the CT grid, so Threads,
// ResolutionMM and HUToDensityTable are validated but not applied.
type DoseCalculation struct {
	Algorithm        DoseAlgorithm `json:"algorithm"`
	ResolutionMM     float64       `json:"resolution_mm"`
	Threads          int           `json:"threads"`
	HUToDensityTable string        `json:"hu_to_density_table,omitempty"`
}

// Optimization holds optimization.* options.
type Optimization struct {
	Algorithm            OptimizerAlgorithm `json:"algorithm"`
	MaxIterations        int                `json:"max_iterations"`
	ConvergenceThreshold float64            `json:"convergence_threshold"`
	PopulationSize       int                `json:"population_size,omitempty"`
	MutationRate         float64            `json:"mutation_rate,omitempty"`
	CrossoverRate        float64            `json:"crossover_rate,omitempty"`
}

// MonteCarlo holds monte_carlo.* options.
type MonteCarlo struct {
	NumParticlesPerIteration int     `json:"num_particles_per_iteration"`
	TargetUncertainty        float64 `json:"target_uncertainty"`
	MaxIterations            int     `json:"max_iterations"`
}

// Cache holds cache.* options for the distributed kernel/depth-field
// cache (internal/kernelcache). RedisAddr empty means "no Redis
// endpoint configured" — the dose engine falls back to an in-process
// kernelcache.MemoryStore.
type Cache struct {
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	TTLHours      int    `json:"ttl_hours,omitempty"`
}

// Config is the engine's full recognized configuration surface.
type Config struct {
	DoseCalculation DoseCalculation `json:"dose_calculation"`
	Optimization    Optimization    `json:"optimization"`
	MonteCarlo      MonteCarlo      `json:"monte_carlo"`
	Cache           Cache           `json:"cache"`
}

// Default returns the engine's built-in default configuration.
func Default() Config {
	return Config{
		DoseCalculation: DoseCalculation{
			Algorithm:    AlgorithmCollapsedCone,
			ResolutionMM: 2.5,
			Threads:      4,
		},
		Optimization: Optimization{
			Algorithm:            OptimizerGradient,
			MaxIterations:        200,
			ConvergenceThreshold: 1e-6,
			PopulationSize:       30,
			MutationRate:         0.05,
			CrossoverRate:        0.7,
		},
		MonteCarlo: MonteCarlo{
			NumParticlesPerIteration: 100000,
			TargetUncertainty:        0.02,
			MaxIterations:            50,
		},
		Cache: Cache{
			TTLHours: 24,
		},
	}
}

// LoadFile reads and parses a JSON configuration file, filling any
// unspecified fields from Default().
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, planerr.Wrap(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("failed to read config file %s", path), err)
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, planerr.Wrap(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("failed to parse config file %s", path), err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// BindFlags registers CLI flags that override cfg's fields, to be parsed
// with flag.Parse() by the caller.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.StringVar((*string)(&c.DoseCalculation.Algorithm), "dose-algorithm", string(c.DoseCalculation.Algorithm), "dose calculation algorithm")
	fs.Float64Var(&c.DoseCalculation.ResolutionMM, "dose-resolution-mm", c.DoseCalculation.ResolutionMM, "dose grid resolution in mm")
	fs.IntVar(&c.DoseCalculation.Threads, "dose-threads", c.DoseCalculation.Threads, "worker threads for dose calculation")
	fs.StringVar((*string)(&c.Optimization.Algorithm), "optimizer-algorithm", string(c.Optimization.Algorithm), "optimizer backend")
	fs.IntVar(&c.Optimization.MaxIterations, "optimizer-max-iterations", c.Optimization.MaxIterations, "optimizer iteration/generation budget")
	fs.Float64Var(&c.Optimization.ConvergenceThreshold, "optimizer-epsilon", c.Optimization.ConvergenceThreshold, "optimizer convergence threshold")
	fs.StringVar(&c.Cache.RedisAddr, "cache-redis-addr", c.Cache.RedisAddr, "redis address for the distributed kernel/depth-field cache (empty disables Redis)")
	fs.IntVar(&c.Cache.TTLHours, "cache-ttl-hours", c.Cache.TTLHours, "cache entry lifetime in hours")
}

// Validate reports a ConfigError if any recognized option is unrecognized
// or out of range (spec.md §7 ConfigError: "fatal at setup").
func (c *Config) Validate() error {
	switch c.DoseCalculation.Algorithm {
	case AlgorithmCollapsedCone, AlgorithmPencilBeam, AlgorithmAAA, AlgorithmAcuros, AlgorithmMonteCarlo:
	default:
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("unrecognized dose_calculation.algorithm: %q", c.DoseCalculation.Algorithm))
	}

	if c.DoseCalculation.ResolutionMM <= 0 {
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			"dose_calculation.resolution_mm must be positive")
	}
	if c.DoseCalculation.Threads <= 0 {
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			"dose_calculation.threads must be positive")
	}

	switch c.Optimization.Algorithm {
	case OptimizerGradient, OptimizerGenetic:
	default:
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			fmt.Sprintf("unrecognized optimization.algorithm: %q", c.Optimization.Algorithm))
	}

	if c.Optimization.MaxIterations <= 0 {
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			"optimization.max_iterations must be positive")
	}
	if c.Optimization.ConvergenceThreshold < 0 {
		return planerr.New(planerr.ConfigError, planerr.SeverityCritical,
			"optimization.convergence_threshold must be non-negative")
	}

	return nil
}
