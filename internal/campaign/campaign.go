// Package campaign drives the experiment loop: propose the most discriminating
// design, wait for the experiment, update the candidate models, and repeat until
// the models are told apart or the experiment budget runs out.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/design"
	"github.com/GoSim-25-26J-441/doe-core/internal/discrimination"
	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/model"
	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"github.com/GoSim-25-26J-441/doe-core/internal/tracing"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
	"go.opentelemetry.io/otel/attribute"
)

// Config holds the stopping rules and the criterion and optimizer settings
type Config struct {
	// MaxExperiments is the experiment budget
	MaxExperiments int
	// Threshold: the campaign converges when the best score falls below it
	Threshold float64
	// PreferenceThreshold: the campaign converges when one model's probability
	// reaches it. Zero disables the rule.
	PreferenceThreshold float64
	Criterion           discrimination.Config
	Optimizer           design.Settings
}

// Validate checks the stopping rules
func (c Config) Validate() error {
	if c.MaxExperiments < 1 {
		return fmt.Errorf("max experiments must be at least 1, got %d", c.MaxExperiments)
	}
	if c.Threshold < 0 || math.IsNaN(c.Threshold) {
		return fmt.Errorf("threshold must be non-negative, got %g", c.Threshold)
	}
	if c.PreferenceThreshold < 0 || c.PreferenceThreshold > 1 || math.IsNaN(c.PreferenceThreshold) {
		return fmt.Errorf("preference threshold must be within [0, 1], got %g", c.PreferenceThreshold)
	}
	return nil
}

// RoundReport describes one transition of the campaign
type RoundReport struct {
	Round         int                `json:"round"`
	State         State              `json:"state"`
	Outcome       string             `json:"outcome"`
	Design        models.DesignPoint `json:"design,omitempty"`
	Score         float64            `json:"score"`
	FailedStarts  []int              `json:"failed_starts,omitempty"`
	Probabilities []float64          `json:"probabilities,omitempty"`
	Error         string             `json:"error,omitempty"`
	At            time.Time          `json:"at"`
}

// Snapshot is a consistent copy of the campaign's observable state
type Snapshot struct {
	ID            string               `json:"id"`
	State         State                `json:"state"`
	Round         int                  `json:"round"`
	ModelIDs      []string             `json:"model_ids"`
	Pending       models.DesignPoint   `json:"pending,omitempty"`
	PendingScore  float64              `json:"pending_score,omitempty"`
	Data          models.CampaignState `json:"data"`
	Probabilities []float64            `json:"probabilities"`
	Reports       []RoundReport        `json:"reports"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Option configures a Campaign
type Option func(*Campaign)

// WithCalibrator sets the parameter update collaborator (default: StaticCalibrator)
func WithCalibrator(cal Calibrator) Option {
	return func(c *Campaign) { c.calibrator = cal }
}

// WithRefitter sets the surrogate refit collaborator
func WithRefitter(r Refitter) Option {
	return func(c *Campaign) { c.refitter = r }
}

// WithStore saves a record after every transition
func WithStore(s store.Store) Option {
	return func(c *Campaign) { c.store = s }
}

// WithClock sets the clock used for timestamps
func WithClock(clock utils.Clock) Option {
	return func(c *Campaign) { c.clock = clock }
}

// WithLogger sets the base logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Campaign) { c.logger = l }
}

// WithMetrics sets the collectors the campaign and its optimizer report to
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Campaign) { c.metrics = m }
}

// WithConfigText stores the source configuration alongside persisted records
func WithConfigText(text string) Option {
	return func(c *Campaign) { c.configText = text }
}

// Campaign is the experiment loop state machine. Steps are serialised; the
// accessors may be called from other goroutines at any time, including while a
// step is waiting for an experiment.
type Campaign struct {
	stepMu sync.Mutex
	mu     sync.RWMutex

	id         string
	cfg        Config
	space      *models.DesignSpace
	candidates []*model.Candidate
	initial    []models.ParameterDistribution
	criterion  *discrimination.Criterion
	optimizer  *design.Optimizer
	runner     ExperimentRunner
	calibrator Calibrator
	refitter   Refitter
	store      store.Store
	clock      utils.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics
	configText string

	state         State
	data          models.CampaignState
	pending       models.DesignPoint
	pendingScore  float64
	updated       bool
	probabilities []float64
	reports       []RoundReport
	lastError     string
	createdAt     time.Time
	updatedAt     time.Time
}

// New creates a campaign in the initialized state. An empty id is replaced by a
// generated one.
func New(id string, space *models.DesignSpace, candidates []*model.Candidate, runner ExperimentRunner, cfg Config, opts ...Option) (*Campaign, error) {
	if runner == nil {
		return nil, fmt.Errorf("experiment runner is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = utils.GenerateCampaignID()
	}

	c := &Campaign{
		id:         id,
		cfg:        cfg,
		space:      space,
		candidates: append([]*model.Candidate(nil), candidates...),
		runner:     runner,
		clock:      utils.SystemClock{},
		logger:     logger.Component("campaign"),
		state:      StateInitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("campaign_id", id)

	crit, err := discrimination.New(space, c.candidates, cfg.Criterion, c.metrics)
	if err != nil {
		return nil, fmt.Errorf("criterion: %w", err)
	}
	optimizer, err := design.NewOptimizer(cfg.Optimizer, design.WithLogger(c.logger), design.WithMetrics(c.metrics))
	if err != nil {
		return nil, fmt.Errorf("optimizer: %w", err)
	}
	c.criterion = crit
	c.optimizer = optimizer
	if c.calibrator == nil {
		c.calibrator = NewStaticCalibrator(c.candidates)
	}
	c.initial = make([]models.ParameterDistribution, len(c.candidates))
	for i, cand := range c.candidates {
		c.initial[i] = cand.Params()
	}
	c.probabilities = uniform(len(c.candidates))
	c.createdAt = c.clock.Now()
	c.updatedAt = c.createdAt

	c.metrics.CampaignStarted()
	c.persist(context.Background())
	c.logger.Info("campaign created", "models", len(c.candidates), "max_experiments", cfg.MaxExperiments)
	return c, nil
}

// ID returns the campaign identifier
func (c *Campaign) ID() string { return c.id }

// Config returns the campaign configuration
func (c *Campaign) Config() Config { return c.cfg }

// Criterion returns the discrimination criterion used to score designs
func (c *Campaign) Criterion() *discrimination.Criterion { return c.criterion }

// Candidates returns the candidate models
func (c *Campaign) Candidates() []*model.Candidate {
	return append([]*model.Candidate(nil), c.candidates...)
}

// State returns the current lifecycle state
func (c *Campaign) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Round returns the number of recorded observations
func (c *Campaign) Round() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Len()
}

// Data returns a copy of the observations collected so far
func (c *Campaign) Data() models.CampaignState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data.Clone()
}

// Pending returns the design awaiting an experiment, if any
func (c *Campaign) Pending() (models.DesignPoint, float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state != StateAwaitingExperiment {
		return nil, 0, false
	}
	return c.pending.Clone(), c.pendingScore, true
}

// Probabilities returns the current model probabilities, in candidate order
func (c *Campaign) Probabilities() []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]float64(nil), c.probabilities...)
}

// Reports returns a copy of the round reports
func (c *Campaign) Reports() []RoundReport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneReports(c.reports)
}

// Snapshot returns a consistent copy of the observable state
func (c *Campaign) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, len(c.candidates))
	for i, cand := range c.candidates {
		ids[i] = cand.ID()
	}
	s := Snapshot{
		ID:            c.id,
		State:         c.state,
		Round:         c.data.Len(),
		ModelIDs:      ids,
		Data:          c.data.Clone(),
		Probabilities: append([]float64(nil), c.probabilities...),
		Reports:       cloneReports(c.reports),
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
	}
	if c.state == StateAwaitingExperiment {
		s.Pending = c.pending.Clone()
		s.PendingScore = c.pendingScore
	}
	return s
}

// Step performs one transition. It returns InvalidTransitionError in a terminal
// state. A failed step leaves the state unchanged so it can be retried.
func (c *Campaign) Step(ctx context.Context) (err error) {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	state := c.State()
	if state.Terminal() {
		return &InvalidTransitionError{State: state}
	}

	ctx, span := tracing.Start(ctx, "campaign.round",
		attribute.String("campaign.id", c.id),
		attribute.String("campaign.state", string(state)),
		attribute.Int("campaign.round", c.Round()))
	defer func() { tracing.End(span, err) }()

	switch state {
	case StateInitialized:
		err = c.propose(ctx)
	case StateAwaitingExperiment:
		err = c.experiment(ctx)
	case StateUpdating:
		err = c.update(ctx)
	default:
		err = fmt.Errorf("unknown campaign state %q", state)
	}
	span.SetAttributes(attribute.String("campaign.next_state", string(c.State())))
	c.persist(ctx)
	return err
}

// Run steps until a terminal state. The context is checked between steps only;
// a running optimisation is not interrupted.
func (c *Campaign) Run(ctx context.Context) error {
	for {
		if c.State().Terminal() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.Step(ctx); err != nil {
			return err
		}
	}
}

// Reset discards every observation, restores the initial parameter
// distributions and returns to initialized. Surrogate training data added by
// refits is kept, and the refitter starts over so designs observed after the
// reset are refitted too. Reset waits for an in-flight step to finish.
func (c *Campaign) Reset() error {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()

	for i, cand := range c.candidates {
		if err := cand.SetParams(c.initial[i]); err != nil {
			return err
		}
	}
	if r, ok := c.refitter.(resetter); ok {
		r.Reset()
	}
	c.mu.Lock()
	wasTerminal := c.state.Terminal()
	c.state = StateInitialized
	c.data.Reset()
	c.pending = nil
	c.pendingScore = 0
	c.updated = false
	c.probabilities = uniform(len(c.candidates))
	c.reports = nil
	c.lastError = ""
	c.updatedAt = c.clock.Now()
	c.mu.Unlock()

	if wasTerminal {
		c.metrics.CampaignStarted()
	}
	c.persist(context.Background())
	c.logger.Info("campaign reset")
	return nil
}

// propose optimises the next design from initialized or updating
func (c *Campaign) propose(ctx context.Context) error {
	round := c.Round()
	res, err := c.optimizer.Optimize(ctx, c.criterion, c.space)
	if err != nil {
		report := RoundReport{Round: round, Outcome: OutcomeOptimizationFailed, Error: err.Error()}
		var nf *design.NoFeasibleDesignFoundError
		if errors.As(err, &nf) {
			report.FailedStarts = sequence(nf.FailedStarts)
			if nf.Fallback != nil && !math.IsNaN(nf.Fallback.Score) {
				report.Design = nf.Fallback.Design.Clone()
				report.Score = nf.Fallback.Score
			}
		}
		c.addReport(report)
		c.logger.Error("design optimization failed", "round", round, "failed_starts", report.FailedStarts, "error", err)
		return fmt.Errorf("round %d: %w", round, err)
	}

	c.metrics.SetBestScore(c.id, res.Score)
	c.mu.Lock()
	outcome := OutcomeDesignProposed
	if res.Score < c.cfg.Threshold {
		outcome = OutcomeConverged
		c.state = StateConverged
		c.pending = nil
	} else {
		c.state = StateAwaitingExperiment
		c.pending = res.Design.Clone()
		c.pendingScore = res.Score
	}
	c.mu.Unlock()

	c.addReport(RoundReport{
		Round:        round,
		Outcome:      outcome,
		Design:       res.Design.Clone(),
		Score:        res.Score,
		FailedStarts: res.FailedStarts(),
	})
	c.logger.Info("design proposed",
		"round", round,
		"design", []float64(res.Design),
		"score", res.Score,
		"failed_starts", res.FailedStarts(),
		"state", string(c.State()))
	if outcome == OutcomeConverged {
		c.finish("discrimination score below threshold")
	}
	return nil
}

// experiment runs the pending design and records the observation
func (c *Campaign) experiment(ctx context.Context) error {
	c.mu.RLock()
	d := c.pending.Clone()
	round := c.data.Len()
	c.mu.RUnlock()

	out, err := c.runner.RunExperiment(ctx, d)
	if err == nil {
		err = c.checkOutput(out)
	}
	if err != nil {
		c.metrics.RecordExperimentFailure()
		ee := &ExperimentExecutionError{Round: round, Design: d, Err: err}
		c.addReport(RoundReport{Round: round, Outcome: OutcomeExperimentFailed, Design: d, Error: ee.Error()})
		c.logger.Warn("experiment failed", "round", round, "design", []float64(d), "error", err)
		return ee
	}

	c.mu.Lock()
	c.data.Append(models.Observation{Round: round, Design: d, Output: out, RecordedAt: c.clock.Now()})
	c.state = StateUpdating
	c.updated = false
	c.pending = nil
	c.pendingScore = 0
	c.mu.Unlock()

	c.addReport(RoundReport{Round: round, Outcome: OutcomeObservation, Design: d})
	c.logger.Info("observation recorded", "round", round, "design", []float64(d), "output", out)
	return nil
}

func (c *Campaign) checkOutput(out []float64) error {
	want := c.candidates[0].Adapter().NumOutputs()
	if len(out) != want {
		return &models.DimensionMismatchError{What: "experiment output", Expected: want, Got: len(out)}
	}
	if !utils.AllFinite(out) {
		return fmt.Errorf("experiment output contains non-finite values: %v", out)
	}
	return nil
}

// update refits surrogates, recalibrates every model and applies the stopping
// rules. Parameter updates for an observation are applied once even if the
// following optimisation fails and the step is retried.
func (c *Campaign) update(ctx context.Context) error {
	c.mu.RLock()
	updated := c.updated
	c.mu.RUnlock()

	round := c.Round()
	if !updated {
		if err := c.recalibrate(ctx); err != nil {
			c.addReport(RoundReport{Round: round, Outcome: OutcomeUpdateFailed, Error: err.Error()})
			c.logger.Error("model update failed", "round", round, "error", err)
			return err
		}
	}

	probs := c.Probabilities()
	switch {
	case round >= c.cfg.MaxExperiments:
		c.terminate(StateBudgetExhausted, OutcomeBudgetExhausted, round, probs)
		c.finish("experiment budget exhausted")
		return nil
	case c.cfg.PreferenceThreshold > 0 && utils.Max(probs...) >= c.cfg.PreferenceThreshold:
		c.terminate(StateConverged, OutcomeConverged, round, probs)
		c.finish("one model is strongly preferred")
		return nil
	}
	return c.propose(ctx)
}

func (c *Campaign) recalibrate(ctx context.Context) error {
	data := c.Data()
	if c.refitter != nil {
		for _, cand := range c.candidates {
			if err := c.refitter.Refit(ctx, cand, &data); err != nil {
				return &CalibrationError{ModelID: cand.ID(), Err: fmt.Errorf("refit: %w", err)}
			}
		}
	}

	next := make([]models.ParameterDistribution, len(c.candidates))
	for i, cand := range c.candidates {
		p, err := c.calibrator.UpdateParameters(ctx, cand.ID(), &data)
		if err != nil {
			return &CalibrationError{ModelID: cand.ID(), Err: err}
		}
		if p.Dim() == 0 && cand.Adapter().ParamDim() == 0 {
			next[i] = p
			continue
		}
		if err := p.Validate(); err != nil {
			return &CalibrationError{ModelID: cand.ID(), Err: err}
		}
		if p.Dim() != cand.Adapter().ParamDim() {
			return &CalibrationError{ModelID: cand.ID(), Err: &models.DimensionMismatchError{What: "parameters", Expected: cand.Adapter().ParamDim(), Got: p.Dim()}}
		}
		next[i] = p
	}
	for i, cand := range c.candidates {
		if err := cand.SetParams(next[i]); err != nil {
			return &CalibrationError{ModelID: cand.ID(), Err: err}
		}
	}

	cc := c.criterion.Config()
	probs, err := discrimination.ModelProbabilities(c.candidates, &data, cc.Marginal, cc.Jitter)
	c.mu.Lock()
	if err == nil {
		c.probabilities = probs
	}
	c.updated = true
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn("model probabilities unavailable", "error", err)
	}
	return nil
}

func (c *Campaign) terminate(state State, outcome string, round int, probs []float64) {
	c.mu.Lock()
	c.state = state
	c.pending = nil
	c.mu.Unlock()
	c.addReport(RoundReport{Round: round, Outcome: outcome, Probabilities: probs})
}

func (c *Campaign) finish(reason string) {
	c.metrics.CampaignFinished()
	c.logger.Info("campaign finished",
		"state", string(c.State()),
		"reason", reason,
		"experiments", c.Round(),
		"probabilities", c.Probabilities())
}

func (c *Campaign) addReport(r RoundReport) {
	c.mu.Lock()
	r.At = c.clock.Now()
	r.State = c.state
	if r.Probabilities == nil {
		r.Probabilities = append([]float64(nil), c.probabilities...)
	}
	c.reports = append(c.reports, r)
	c.lastError = r.Error
	c.updatedAt = r.At
	c.mu.Unlock()
	c.metrics.RecordRound(r.Outcome)
}

func (c *Campaign) toRecord() *store.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rec := &store.Record{
		ID:            c.id,
		State:         string(c.state),
		Round:         c.data.Len(),
		Observations:  c.data.Clone().Observations,
		Probabilities: append([]float64(nil), c.probabilities...),
		Config:        c.configText,
		Error:         c.lastError,
		CreatedAt:     c.createdAt,
		UpdatedAt:     c.updatedAt,
	}
	if c.state == StateAwaitingExperiment {
		rec.Pending = c.pending.Clone()
		rec.PendingScore = c.pendingScore
	}
	return rec
}

func (c *Campaign) persist(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Save(context.WithoutCancel(ctx), c.toRecord()); err != nil {
		c.logger.Warn("failed to persist campaign", "error", err)
	}
}

func uniform(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1 / float64(n)
	}
	return out
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func cloneReports(in []RoundReport) []RoundReport {
	out := make([]RoundReport, len(in))
	for i, r := range in {
		r.Design = r.Design.Clone()
		r.FailedStarts = append([]int(nil), r.FailedStarts...)
		r.Probabilities = append([]float64(nil), r.Probabilities...)
		out[i] = r
	}
	return out
}
