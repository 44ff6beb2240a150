package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.json")
	content := `{
		"dose_calculation": {"algorithm": "pencil_beam", "resolution_mm": 3.0, "threads": 8},
		"optimization": {"algorithm": "genetic", "max_iterations": 100, "convergence_threshold": 0.0001}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.DoseCalculation.Algorithm != AlgorithmPencilBeam {
		t.Errorf("expected pencil_beam, got %s", cfg.DoseCalculation.Algorithm)
	}
	if cfg.DoseCalculation.Threads != 8 {
		t.Errorf("expected 8 threads, got %d", cfg.DoseCalculation.Threads)
	}
	// Fields absent from the file should retain the Monte Carlo defaults.
	if cfg.MonteCarlo.MaxIterations != Default().MonteCarlo.MaxIterations {
		t.Errorf("expected default monte_carlo.max_iterations to survive merge")
	}
}

func TestValidateRejectsUnrecognizedAlgorithm(t *testing.T) {
	cfg := Default()
	cfg.DoseCalculation.Algorithm = "tomotherapy"
	if err := cfg.Validate(); err == nil {
		t.Error("expected ConfigError for unrecognized algorithm")
	}
}

func TestValidateRejectsNonPositiveResolution(t *testing.T) {
	cfg := Default()
	cfg.DoseCalculation.ResolutionMM = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected ConfigError for zero resolution")
	}
}
