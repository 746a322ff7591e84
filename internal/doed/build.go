package doed

import (
	"context"
	"fmt"
	"strings"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/internal/catalog"
	"github.com/GoSim-25-26J-441/doe-core/internal/design"
	"github.com/GoSim-25-26J-441/doe-core/internal/discrimination"
	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"github.com/GoSim-25-26J-441/doe-core/internal/store/sqlite"
	"github.com/GoSim-25-26J-441/doe-core/internal/surrogate"
	"github.com/GoSim-25-26J-441/doe-core/pkg/config"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
)

// Setup is everything a campaign needs, assembled from a configuration file
type Setup struct {
	Space      *models.DesignSpace
	Candidates []*model.Candidate
	Config     campaign.Config
	Options    []campaign.Option
}

// Build turns a validated configuration into candidates and campaign settings.
// Surrogate-backed models are trained here, which runs their simulators.
func Build(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*Setup, error) {
	space, err := models.NewDesignSpace(cfg.DesignSpace...)
	if err != nil {
		return nil, err
	}
	criterion, err := criterionConfig(cfg.Criterion)
	if err != nil {
		return nil, err
	}
	settings, err := optimizerSettings(cfg.Optimizer)
	if err != nil {
		return nil, err
	}

	cands := make([]*model.Candidate, 0, len(cfg.Models))
	for i, mc := range cfg.Models {
		cand, err := buildCandidate(ctx, space, mc, cfg.Surrogate, criterion.Jitter, int64(i), m)
		if err != nil {
			return nil, fmt.Errorf("model %s: %w", mc.ID, err)
		}
		cands = append(cands, cand)
	}

	cc := cfg.Campaign
	if cc == nil {
		cc = &config.CampaignConfig{MaxExperiments: config.DefaultMaxExperiments, Threshold: config.DefaultThreshold}
	}
	setup := &Setup{
		Space:      space,
		Candidates: cands,
		Config: campaign.Config{
			MaxExperiments:      cc.MaxExperiments,
			Threshold:           cc.Threshold,
			PreferenceThreshold: cc.PreferenceThreshold,
			Criterion:           criterion,
			Optimizer:           settings,
		},
	}
	switch cc.Calibrator {
	case "", "static":
	case "laplace":
		setup.Options = append(setup.Options, campaign.WithCalibrator(campaign.NewLaplaceCalibrator(cands, nil, criterion.Jitter)))
	default:
		return nil, fmt.Errorf("unknown calibrator %q", cc.Calibrator)
	}
	if cc.RefitSurrogates {
		sc := cfg.Surrogate
		if sc == nil {
			sc = &config.SurrogateConfig{}
		}
		setup.Options = append(setup.Options, campaign.WithRefitter(campaign.NewSimulatorRefitter(cc.RefitSamples, sc.ParamSpread, sc.Seed)))
	}
	return setup, nil
}

// NewCampaign builds a campaign from cfg that runs experiments with runner
func NewCampaign(ctx context.Context, id string, cfg *config.Config, runner campaign.ExperimentRunner, m *metrics.Metrics, opts ...campaign.Option) (*campaign.Campaign, error) {
	setup, err := Build(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	all := append([]campaign.Option{campaign.WithMetrics(m)}, setup.Options...)
	all = append(all, opts...)
	return campaign.New(id, setup.Space, setup.Candidates, runner, setup.Config, all...)
}

func criterionConfig(cc *config.CriterionConfig) (discrimination.Config, error) {
	out := discrimination.DefaultConfig()
	if cc == nil {
		return out, nil
	}
	div, err := discrimination.ParseDivergence(cc.Divergence)
	if err != nil {
		return out, err
	}
	agg, err := discrimination.ParseAggregation(cc.Aggregation)
	if err != nil {
		return out, err
	}
	mode := cc.Marginal
	if mode == "auto" {
		mode = ""
	}
	marginal, err := model.ParseMarginalMode(mode)
	if err != nil {
		return out, err
	}
	out.Divergence = div
	out.Aggregation = agg
	out.Marginal = marginal
	out.Jitter = utils.NewJitterSchedule(cc.Jitter, cc.MaxJitterAttempts)
	return out, nil
}

func optimizerSettings(oc *config.OptimizerConfig) (design.Settings, error) {
	if oc == nil {
		return design.DefaultSettings(), nil
	}
	method, err := design.ParseMethod(oc.Method)
	if err != nil {
		return design.Settings{}, err
	}
	return design.Settings{
		Starts:            oc.Starts,
		MaxIterations:     oc.MaxIterations,
		StepSize:          oc.StepSize,
		GradientTolerance: oc.GradientTolerance,
		StepTolerance:     oc.StepTolerance,
		PlateauTolerance:  oc.PlateauTolerance,
		PlateauIterations: oc.PlateauIterations,
		TieTolerance:      oc.TieTolerance,
		Workers:           oc.Workers,
		Seed:              oc.Seed,
		Method:            method,
	}, nil
}

func parameters(mc config.ModelConfig) (models.ParameterDistribution, error) {
	if len(mc.ParamSamples) > 0 {
		return models.NewSampledParameters(mc.ParamSamples)
	}
	return models.NewGaussianParameters(mc.ParamMean, mc.ParamCov)
}

func buildCandidate(ctx context.Context, space *models.DesignSpace, mc config.ModelConfig, sc *config.SurrogateConfig, jitter utils.JitterSchedule, offset int64, m *metrics.Metrics) (*model.Candidate, error) {
	sim, err := catalog.New(mc.Simulator, space.Dim())
	if err != nil {
		return nil, err
	}
	params, err := parameters(mc)
	if err != nil {
		return nil, err
	}
	if !mc.Surrogate {
		return model.NewCandidate(mc.ID, sim, params, mc.MeasNoiseVar)
	}

	if sc == nil {
		sc = &config.SurrogateConfig{}
	}
	tc := model.TrainingConfig{
		Points:      sc.TrainingPoints,
		ParamSpread: sc.ParamSpread,
		Seed:        sc.Seed + offset,
		Surrogate: surrogate.Options{
			NoiseVar:       sc.NoiseVar,
			MinLengthScale: sc.MinLengthScale,
			MaxLengthScale: sc.MaxLengthScale,
			Restarts:       sc.Restarts,
			MaxIterations:  sc.MaxIterations,
			Jitter:         jitter,
		},
	}
	for _, h := range mc.Hyperparameters {
		tc.Hyperparameters = append(tc.Hyperparameters, surrogate.Hyperparameters{
			LengthScales: append([]float64(nil), h.LengthScales...),
			SignalVar:    h.SignalVar,
		})
	}
	backed, err := model.TrainFromSimulator(ctx, sim, space, params, tc, m)
	if err != nil {
		return nil, err
	}
	return model.NewCandidate(mc.ID, backed, params, mc.MeasNoiseVar)
}

// OpenStore opens the record store selected by sc
func OpenStore(sc *config.StoreConfig) (store.Store, error) {
	if sc == nil {
		return store.NewMemoryStore(), nil
	}
	switch strings.ToLower(sc.Driver) {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		if sc.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		st, err := sqlite.Open(sc.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", sc.Driver)
	}
}

// ParseStoreFlag reads a store selection of the form "memory" or "sqlite:path"
func ParseStoreFlag(v string) (*config.StoreConfig, error) {
	driver, path, _ := strings.Cut(v, ":")
	sc := &config.StoreConfig{Driver: driver, Path: path}
	switch driver {
	case "", "memory":
		sc.Driver = "memory"
		return sc, nil
	case "sqlite":
		if path == "" {
			return nil, fmt.Errorf("sqlite store requires a path, e.g. sqlite:doe.db")
		}
		return sc, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// ScoreDesigns evaluates the discrimination criterion of cfg at every design
func ScoreDesigns(ctx context.Context, cfg *config.Config, designs []models.DesignPoint, m *metrics.Metrics) ([]float64, error) {
	setup, err := Build(ctx, cfg, m)
	if err != nil {
		return nil, err
	}
	crit, err := discrimination.New(setup.Space, setup.Candidates, setup.Config.Criterion, m)
	if err != nil {
		return nil, err
	}
	scores := make([]float64, len(designs))
	for i, d := range designs {
		if err := setup.Space.Validate(d); err != nil {
			return nil, fmt.Errorf("design %d: %w", i, err)
		}
		s, err := crit.Score(d)
		if err != nil {
			return nil, fmt.Errorf("design %d: %w", i, err)
		}
		scores[i] = s
	}
	return scores, nil
}
