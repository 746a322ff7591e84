package config

import (
	"fmt"
	"math"
	"os"
)

// LoadConfig loads and parses a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	cfg, err := ParseConfigYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// validateConfig performs validation on the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if err := validateDesignSpace(cfg); err != nil {
		return fmt.Errorf("design_space validation failed: %w", err)
	}

	// Validate models
	if len(cfg.Models) < 2 {
		return fmt.Errorf("at least two models must be defined, got %d", len(cfg.Models))
	}
	modelIDs := make(map[string]bool)
	for i := range cfg.Models {
		m := &cfg.Models[i]
		if m.ID == "" {
			return fmt.Errorf("model %d: id cannot be empty", i)
		}
		if modelIDs[m.ID] {
			return fmt.Errorf("duplicate model id: %s", m.ID)
		}
		modelIDs[m.ID] = true
		if err := validateModel(m); err != nil {
			return fmt.Errorf("model %s: %w", m.ID, err)
		}
	}

	if cfg.Surrogate != nil {
		if err := validateSurrogate(cfg.Surrogate); err != nil {
			return fmt.Errorf("surrogate validation failed: %w", err)
		}
	}
	if cfg.Criterion != nil {
		if err := validateCriterion(cfg.Criterion); err != nil {
			return fmt.Errorf("criterion validation failed: %w", err)
		}
	}
	if cfg.Optimizer != nil {
		if err := validateOptimizer(cfg.Optimizer); err != nil {
			return fmt.Errorf("optimizer validation failed: %w", err)
		}
	}
	if cfg.Campaign != nil {
		if err := validateCampaign(cfg.Campaign); err != nil {
			return fmt.Errorf("campaign validation failed: %w", err)
		}
	}
	if cfg.Store != nil {
		if err := validateStore(cfg.Store); err != nil {
			return fmt.Errorf("store validation failed: %w", err)
		}
	}
	if cfg.Truth != nil {
		m, ok := cfg.Model(cfg.Truth.Model)
		if !ok {
			return fmt.Errorf("truth references unknown model: %s", cfg.Truth.Model)
		}
		if len(cfg.Truth.Params) > 0 && len(cfg.Truth.Params) != len(m.ParamMean) {
			return fmt.Errorf("truth params: expected %d values, got %d", len(m.ParamMean), len(cfg.Truth.Params))
		}
		if cfg.Truth.NoiseStd < 0 {
			return fmt.Errorf("truth noise_std cannot be negative, got %g", cfg.Truth.NoiseStd)
		}
	}

	return nil
}

// validateDesignSpace checks bounds and dimension names
func validateDesignSpace(cfg *Config) error {
	if len(cfg.DesignSpace) == 0 {
		return fmt.Errorf("at least one design dimension must be defined")
	}
	names := make(map[string]bool)
	for i, b := range cfg.DesignSpace {
		if !finite(b.Lower) || !finite(b.Upper) {
			return fmt.Errorf("dimension %d: bounds must be finite", i)
		}
		if b.Lower >= b.Upper {
			return fmt.Errorf("dimension %d: lower (%g) must be less than upper (%g)", i, b.Lower, b.Upper)
		}
		if b.Name != "" {
			if names[b.Name] {
				return fmt.Errorf("duplicate dimension name: %s", b.Name)
			}
			names[b.Name] = true
		}
	}
	return nil
}

// validateModel checks the parameter distribution shapes
func validateModel(m *ModelConfig) error {
	if m.Simulator == "" {
		return fmt.Errorf("simulator cannot be empty")
	}
	dim := len(m.ParamMean)
	if dim == 0 && len(m.ParamSamples) == 0 {
		return fmt.Errorf("param_mean or param_samples must be set")
	}
	if dim == 0 {
		dim = len(m.ParamSamples[0])
	}
	if m.ParamCov != nil {
		if len(m.ParamCov) != dim {
			return fmt.Errorf("param_cov must be %dx%d, got %d rows", dim, dim, len(m.ParamCov))
		}
		for i, row := range m.ParamCov {
			if len(row) != dim {
				return fmt.Errorf("param_cov row %d: expected %d values, got %d", i, dim, len(row))
			}
			if row[i] < 0 {
				return fmt.Errorf("param_cov diagonal %d cannot be negative", i)
			}
		}
	}
	for i, s := range m.ParamSamples {
		if len(s) != dim {
			return fmt.Errorf("param_samples %d: expected %d values, got %d", i, dim, len(s))
		}
	}
	for i, v := range m.MeasNoiseVar {
		if v < 0 || !finite(v) {
			return fmt.Errorf("meas_noise_var %d must be a non-negative number, got %g", i, v)
		}
	}
	if len(m.Hyperparameters) > 0 && !m.Surrogate {
		return fmt.Errorf("hyperparameters require surrogate: true")
	}
	for i, h := range m.Hyperparameters {
		if h.SignalVar <= 0 {
			return fmt.Errorf("hyperparameters %d: signal_var must be positive", i)
		}
		for j, l := range h.LengthScales {
			if l <= 0 {
				return fmt.Errorf("hyperparameters %d: lengthscale %d must be positive", i, j)
			}
		}
	}
	return nil
}

// validateSurrogate validates GP training settings
func validateSurrogate(s *SurrogateConfig) error {
	if s.NoiseVar < 0 {
		return fmt.Errorf("noise_var cannot be negative, got %g", s.NoiseVar)
	}
	if s.MinLengthScale < 0 || s.MaxLengthScale < 0 {
		return fmt.Errorf("lengthscale bounds cannot be negative")
	}
	if s.MaxLengthScale > 0 && s.MinLengthScale > s.MaxLengthScale {
		return fmt.Errorf("min_lengthscale (%g) exceeds max_lengthscale (%g)", s.MinLengthScale, s.MaxLengthScale)
	}
	if s.Restarts < 0 || s.MaxIterations < 0 || s.TrainingPoints < 0 {
		return fmt.Errorf("restarts, max_iterations and training_points cannot be negative")
	}
	if s.ParamSpread < 0 {
		return fmt.Errorf("param_spread cannot be negative, got %g", s.ParamSpread)
	}
	return nil
}

// validateCriterion validates the divergence, aggregation and marginal names
func validateCriterion(c *CriterionConfig) error {
	validDivergences := map[string]bool{
		"buzzi_ferraris": true,
		"symmetric_kl":   true,
		"bhattacharyya":  true,
	}
	if !validDivergences[c.Divergence] {
		return fmt.Errorf("invalid divergence: %s (must be buzzi_ferraris, symmetric_kl, or bhattacharyya)", c.Divergence)
	}
	validAggregations := map[string]bool{
		"min":  true,
		"sum":  true,
		"mean": true,
	}
	if !validAggregations[c.Aggregation] {
		return fmt.Errorf("invalid aggregation: %s (must be min, sum, or mean)", c.Aggregation)
	}
	validMarginals := map[string]bool{
		"auto":    true,
		"taylor":  true,
		"samples": true,
	}
	if !validMarginals[c.Marginal] {
		return fmt.Errorf("invalid marginal: %s (must be auto, taylor, or samples)", c.Marginal)
	}
	if c.Jitter < 0 {
		return fmt.Errorf("jitter cannot be negative, got %g", c.Jitter)
	}
	if c.MaxJitterAttempts < 0 {
		return fmt.Errorf("max_jitter_attempts cannot be negative, got %d", c.MaxJitterAttempts)
	}
	return nil
}

// validateOptimizer validates optimizer settings
func validateOptimizer(o *OptimizerConfig) error {
	validMethods := map[string]bool{
		"auto":     true,
		"gradient": true,
		"pattern":  true,
	}
	if !validMethods[o.Method] {
		return fmt.Errorf("invalid method: %s (must be auto, gradient, or pattern)", o.Method)
	}
	if o.Starts < 0 || o.MaxIterations < 0 || o.PlateauIterations < 0 || o.Workers < 0 {
		return fmt.Errorf("starts, max_iterations, plateau_iterations and workers cannot be negative")
	}
	if o.StepSize < 0 || o.StepSize > 1 {
		return fmt.Errorf("step_size must be between 0 and 1, got %g", o.StepSize)
	}
	if o.GradientTolerance < 0 || o.StepTolerance < 0 || o.PlateauTolerance < 0 || o.TieTolerance < 0 {
		return fmt.Errorf("tolerances cannot be negative")
	}
	return nil
}

// validateCampaign validates stopping rules and collaborators
func validateCampaign(c *CampaignConfig) error {
	if c.MaxExperiments < 1 {
		return fmt.Errorf("max_experiments must be positive, got %d", c.MaxExperiments)
	}
	if c.Threshold < 0 {
		return fmt.Errorf("threshold cannot be negative, got %g", c.Threshold)
	}
	if c.PreferenceThreshold < 0 || c.PreferenceThreshold > 1 {
		return fmt.Errorf("preference_threshold must be between 0 and 1, got %g", c.PreferenceThreshold)
	}
	if c.Calibrator != "static" && c.Calibrator != "laplace" {
		return fmt.Errorf("invalid calibrator: %s (must be static or laplace)", c.Calibrator)
	}
	if c.RefitSamples < 0 {
		return fmt.Errorf("refit_samples cannot be negative, got %d", c.RefitSamples)
	}
	return nil
}

// validateStore validates the storage driver
func validateStore(s *StoreConfig) error {
	switch s.Driver {
	case "memory":
	case "sqlite":
		if s.Path == "" {
			return fmt.Errorf("sqlite store requires a path")
		}
	default:
		return fmt.Errorf("invalid store driver: %s (must be memory or sqlite)", s.Driver)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
