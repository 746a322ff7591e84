package config

import "github.com/GoSim-25-26J-441/doe-core/pkg/models"

// Config is a model discrimination campaign: the design space, the rival models
// and the settings of every stage of the loop
type Config struct {
	LogLevel    string           `yaml:"log_level"`
	DesignSpace []models.Bound   `yaml:"design_space"`
	Models      []ModelConfig    `yaml:"models"`
	Surrogate   *SurrogateConfig `yaml:"surrogate,omitempty"`
	Criterion   *CriterionConfig `yaml:"criterion,omitempty"`
	Optimizer   *OptimizerConfig `yaml:"optimizer,omitempty"`
	Campaign    *CampaignConfig  `yaml:"campaign,omitempty"`
	Store       *StoreConfig     `yaml:"store,omitempty"`
	Truth       *TruthConfig     `yaml:"truth,omitempty"`
}

// ModelConfig describes one candidate model
type ModelConfig struct {
	ID        string `yaml:"id"`
	Simulator string `yaml:"simulator"` // catalog name
	// Surrogate replaces the simulator by a GP trained on simulator samples
	Surrogate       bool                    `yaml:"surrogate,omitempty"`
	ParamMean       []float64               `yaml:"param_mean"`
	ParamCov        [][]float64             `yaml:"param_cov,omitempty"`
	ParamSamples    [][]float64             `yaml:"param_samples,omitempty"`
	MeasNoiseVar    []float64               `yaml:"meas_noise_var,omitempty"`
	Hyperparameters []HyperparametersConfig `yaml:"hyperparameters,omitempty"` // one per output, skips GP fitting
}

// HyperparametersConfig fixes the kernel of one surrogate output
type HyperparametersConfig struct {
	LengthScales []float64 `yaml:"lengthscales"`
	SignalVar    float64   `yaml:"signal_var"`
}

// SurrogateConfig configures GP training for surrogate-backed models
type SurrogateConfig struct {
	NoiseVar       float64 `yaml:"noise_var,omitempty"`
	MinLengthScale float64 `yaml:"min_lengthscale,omitempty"`
	MaxLengthScale float64 `yaml:"max_lengthscale,omitempty"`
	Restarts       int     `yaml:"restarts,omitempty"`
	MaxIterations  int     `yaml:"max_iterations,omitempty"`
	TrainingPoints int     `yaml:"training_points,omitempty"`
	ParamSpread    float64 `yaml:"param_spread,omitempty"`
	Seed           int64   `yaml:"seed,omitempty"`
}

// CriterionConfig configures the discrimination criterion
type CriterionConfig struct {
	Divergence        string  `yaml:"divergence"`  // buzzi_ferraris, symmetric_kl, bhattacharyya
	Aggregation       string  `yaml:"aggregation"` // min, sum, mean
	Jitter            float64 `yaml:"jitter,omitempty"`
	MaxJitterAttempts int     `yaml:"max_jitter_attempts,omitempty"`
	Marginal          string  `yaml:"marginal,omitempty"` // auto, taylor, samples
}

// OptimizerConfig configures the multistart design optimizer. Zero values take
// the optimizer's defaults.
type OptimizerConfig struct {
	Starts            int     `yaml:"starts,omitempty"`
	MaxIterations     int     `yaml:"max_iterations,omitempty"`
	StepSize          float64 `yaml:"step_size,omitempty"`
	GradientTolerance float64 `yaml:"gradient_tolerance,omitempty"`
	StepTolerance     float64 `yaml:"step_tolerance,omitempty"`
	PlateauTolerance  float64 `yaml:"plateau_tolerance,omitempty"`
	PlateauIterations int     `yaml:"plateau_iterations,omitempty"`
	TieTolerance      float64 `yaml:"tie_tolerance,omitempty"`
	Workers           int     `yaml:"workers,omitempty"`
	Seed              int64   `yaml:"seed,omitempty"`
	Method            string  `yaml:"method,omitempty"` // auto, gradient, pattern
}

// CampaignConfig holds the stopping rules and the update collaborators
type CampaignConfig struct {
	MaxExperiments      int     `yaml:"max_experiments"`
	Threshold           float64 `yaml:"threshold"`
	PreferenceThreshold float64 `yaml:"preference_threshold,omitempty"`
	Calibrator          string  `yaml:"calibrator,omitempty"` // static, laplace
	RefitSurrogates     bool    `yaml:"refit_surrogates,omitempty"`
	RefitSamples        int     `yaml:"refit_samples,omitempty"`
}

// StoreConfig selects where campaign records are kept
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite
	Path   string `yaml:"path,omitempty"`
}

// TruthConfig names the model that generates synthetic observations in offline runs
type TruthConfig struct {
	Model    string    `yaml:"model"`
	Params   []float64 `yaml:"params,omitempty"` // defaults to the model's param_mean
	NoiseStd float64   `yaml:"noise_std,omitempty"`
	Seed     int64     `yaml:"seed,omitempty"`
}

// Defaults for optional sections
const (
	DefaultLogLevel       = "info"
	DefaultMaxExperiments = 10
	DefaultThreshold      = 1e-3
	DefaultDivergence     = "buzzi_ferraris"
	DefaultAggregation    = "min"
	DefaultCalibrator     = "static"
	DefaultStoreDriver    = "memory"
)

// ApplyDefaults fills unset fields and sections
func (c *Config) ApplyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Surrogate == nil {
		c.Surrogate = &SurrogateConfig{}
	}
	if c.Criterion == nil {
		c.Criterion = &CriterionConfig{}
	}
	if c.Criterion.Divergence == "" {
		c.Criterion.Divergence = DefaultDivergence
	}
	if c.Criterion.Aggregation == "" {
		c.Criterion.Aggregation = DefaultAggregation
	}
	if c.Criterion.Marginal == "" {
		c.Criterion.Marginal = "auto"
	}
	if c.Optimizer == nil {
		c.Optimizer = &OptimizerConfig{}
	}
	if c.Optimizer.Method == "" {
		c.Optimizer.Method = "auto"
	}
	if c.Campaign == nil {
		c.Campaign = &CampaignConfig{Threshold: DefaultThreshold}
	}
	if c.Campaign.MaxExperiments == 0 {
		c.Campaign.MaxExperiments = DefaultMaxExperiments
	}
	if c.Campaign.Calibrator == "" {
		c.Campaign.Calibrator = DefaultCalibrator
	}
	if c.Store == nil {
		c.Store = &StoreConfig{}
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DefaultStoreDriver
	}
}

// Model returns the model config with the given id
func (c *Config) Model(id string) (ModelConfig, bool) {
	for _, m := range c.Models {
		if m.ID == id {
			return m, true
		}
	}
	return ModelConfig{}, false
}
