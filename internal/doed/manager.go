package doed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/internal/metrics"
	"github.com/GoSim-25-26J-441/doe-core/internal/store"
	"github.com/GoSim-25-26J-441/doe-core/pkg/config"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/GoSim-25-26J-441/doe-core/pkg/utils"
)

var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignExists   = errors.New("campaign already exists")
	ErrCampaignInactive = errors.New("campaign is not running")
	ErrInvalidConfig    = errors.New("invalid campaign config")
)

// CampaignView is the API representation of a campaign, live or loaded from the store
type CampaignView struct {
	ID            string                 `json:"id"`
	State         string                 `json:"state"`
	Round         int                    `json:"round"`
	Active        bool                   `json:"active"`
	ModelIDs      []string               `json:"model_ids,omitempty"`
	Pending       models.DesignPoint     `json:"pending,omitempty"`
	PendingScore  float64                `json:"pending_score,omitempty"`
	Probabilities []float64              `json:"probabilities,omitempty"`
	Observations  []models.Observation   `json:"observations"`
	Reports       []campaign.RoundReport `json:"reports,omitempty"`
	Error         string                 `json:"error,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// PendingExperiment is a design waiting for an observation
type PendingExperiment struct {
	CampaignID string             `json:"campaign_id"`
	Round      int                `json:"round"`
	Design     models.DesignPoint `json:"design"`
	Score      float64            `json:"score"`
}

// CreateRequest describes a campaign to start
type CreateRequest struct {
	// ID is generated when empty
	ID         string
	ConfigYAML string
	// Callback, when set, is notified of experiment requests and of the loop stopping
	Callback Callback
}

type managed struct {
	campaign *campaign.Campaign
	runner   *campaign.ChannelRunner
	callback Callback
	cancel   context.CancelFunc
	done     chan struct{}

	mu        sync.Mutex
	err       error
	cancelled bool
}

func (mc *managed) active() bool {
	select {
	case <-mc.done:
		return false
	default:
		return true
	}
}

func (mc *managed) setErr(err error) {
	mc.mu.Lock()
	mc.err = err
	mc.mu.Unlock()
}

// Manager owns the daemon's campaigns. Each campaign loop runs in its own
// goroutine and waits on a ChannelRunner for observations posted by clients.
type Manager struct {
	store    store.Store
	metrics  *metrics.Metrics
	logger   *slog.Logger
	notifier *Notifier

	mu        sync.RWMutex
	campaigns map[string]*managed
	reserved  map[string]bool
	wg        sync.WaitGroup
}

// NewManager creates a manager persisting to st
func NewManager(st store.Store, m *metrics.Metrics) *Manager {
	if st == nil {
		st = store.NewMemoryStore()
	}
	return &Manager{
		store:     st,
		metrics:   m,
		logger:    logger.Component("doed"),
		notifier:  NewNotifier(),
		campaigns: make(map[string]*managed),
		reserved:  make(map[string]bool),
	}
}

// Store returns the record store
func (m *Manager) Store() store.Store { return m.store }

// Create parses the configuration, builds the campaign and starts its loop
func (m *Manager) Create(ctx context.Context, req CreateRequest) (CampaignView, error) {
	cfg, err := config.ParseConfigYAMLString(req.ConfigYAML)
	if err != nil {
		return CampaignView{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if req.Callback.URL != "" {
		if err := validateCallbackURL(req.Callback.URL); err != nil {
			return CampaignView{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	id := req.ID
	if id == "" {
		id = utils.GenerateCampaignID()
	}
	if err := m.reserve(ctx, id); err != nil {
		return CampaignView{}, err
	}
	defer m.release(id)

	runner := campaign.NewChannelRunner()
	nr := &notifyingRunner{ChannelRunner: runner, notifier: m.notifier, callback: req.Callback}
	c, err := NewCampaign(ctx, id, cfg, nr, m.metrics,
		campaign.WithStore(m.store),
		campaign.WithConfigText(req.ConfigYAML),
		campaign.WithLogger(m.logger))
	if err != nil {
		return CampaignView{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	nr.campaign = c

	runCtx, cancel := context.WithCancel(context.Background())
	mc := &managed{campaign: c, runner: runner, callback: req.Callback, cancel: cancel, done: make(chan struct{})}
	m.mu.Lock()
	m.campaigns[id] = mc
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(runCtx, mc)
	m.logger.Info("campaign created", "campaign_id", id, "models", len(cfg.Models))
	return m.liveView(mc), nil
}

func (m *Manager) reserve(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[id]; ok || m.reserved[id] {
		return fmt.Errorf("%w: %s", ErrCampaignExists, id)
	}
	if _, err := m.store.Get(ctx, id); err == nil {
		return fmt.Errorf("%w: %s", ErrCampaignExists, id)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}
	m.reserved[id] = true
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.reserved, id)
	m.mu.Unlock()
}

func (m *Manager) loop(ctx context.Context, mc *managed) {
	defer m.wg.Done()
	defer close(mc.done)
	defer m.notifyStopped(mc)
	c := mc.campaign
	log := m.logger.With("campaign_id", c.ID())

	for {
		err := c.Run(ctx)
		if err == nil {
			log.Info("campaign loop finished", "state", string(c.State()), "experiments", c.Round())
			return
		}
		if ctx.Err() != nil {
			log.Info("campaign loop cancelled", "state", string(c.State()))
			m.metrics.CampaignFinished()
			return
		}
		var ee *campaign.ExperimentExecutionError
		if errors.As(err, &ee) {
			// the design stays pending until an observation arrives
			continue
		}
		mc.setErr(err)
		m.metrics.CampaignFinished()
		log.Error("campaign loop stopped", "state", string(c.State()), "error", err)
		return
	}
}

func (m *Manager) notifyStopped(mc *managed) {
	s := mc.campaign.Snapshot()
	p := NotificationPayload{
		Event:         EventCampaignStopped,
		CampaignID:    s.ID,
		State:         string(s.State),
		Round:         s.Round,
		Probabilities: s.Probabilities,
	}
	mc.mu.Lock()
	if mc.err != nil {
		p.Error = mc.err.Error()
	} else if mc.cancelled {
		p.Error = "cancelled"
	}
	mc.mu.Unlock()
	m.notifier.Notify(mc.callback, p)
}

func (m *Manager) lookup(id string) (*managed, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mc, ok := m.campaigns[id]
	return mc, ok
}

func (m *Manager) running(id string) (*managed, error) {
	mc, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	if !mc.active() {
		return nil, fmt.Errorf("%w: %s", ErrCampaignInactive, id)
	}
	return mc, nil
}

// Get returns the live campaign, or the stored record when it is not loaded
func (m *Manager) Get(ctx context.Context, id string) (CampaignView, error) {
	if mc, ok := m.lookup(id); ok {
		return m.liveView(mc), nil
	}
	rec, err := m.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return CampaignView{}, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	if err != nil {
		return CampaignView{}, err
	}
	return recordView(rec), nil
}

// List returns up to limit campaigns, newest first
func (m *Manager) List(ctx context.Context, limit int) ([]CampaignView, error) {
	recs, err := m.store.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]CampaignView, 0, len(recs))
	for _, rec := range recs {
		v := recordView(rec)
		if mc, ok := m.lookup(rec.ID); ok {
			v.Active = mc.active()
		}
		// observations are only returned by Get
		v.Observations = nil
		out = append(out, v)
	}
	return out, nil
}

// Pending returns the design the campaign is currently waiting on
func (m *Manager) Pending(id string) (PendingExperiment, bool, error) {
	mc, err := m.running(id)
	if err != nil {
		return PendingExperiment{}, false, err
	}
	d, ok := mc.runner.Pending()
	if !ok {
		return PendingExperiment{}, false, nil
	}
	_, score, _ := mc.campaign.Pending()
	return PendingExperiment{CampaignID: id, Round: mc.campaign.Round(), Design: d, Score: score}, true, nil
}

// Submit delivers the observed outputs of the pending experiment
func (m *Manager) Submit(id string, output []float64) error {
	mc, err := m.running(id)
	if err != nil {
		return err
	}
	return mc.runner.Submit(output)
}

// Fail reports that the pending experiment could not be run; the campaign
// keeps the design pending
func (m *Manager) Fail(id, reason string) error {
	mc, err := m.running(id)
	if err != nil {
		return err
	}
	return mc.runner.Fail(errors.New(reason))
}

// Cancel stops the campaign loop and waits for it to exit
func (m *Manager) Cancel(ctx context.Context, id string) (CampaignView, error) {
	mc, ok := m.lookup(id)
	if !ok {
		return CampaignView{}, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	if !mc.active() {
		return m.liveView(mc), nil
	}
	mc.mu.Lock()
	mc.cancelled = true
	mc.mu.Unlock()
	mc.cancel()

	select {
	case <-mc.done:
	case <-ctx.Done():
		return CampaignView{}, ctx.Err()
	}
	m.logger.Info("campaign cancelled", "campaign_id", id)
	return m.liveView(mc), nil
}

// Close cancels every campaign loop and waits for them to exit
func (m *Manager) Close() {
	m.mu.RLock()
	for _, mc := range m.campaigns {
		mc.cancel()
	}
	m.mu.RUnlock()
	m.wg.Wait()
}

func (m *Manager) liveView(mc *managed) CampaignView {
	s := mc.campaign.Snapshot()
	v := CampaignView{
		ID:            s.ID,
		State:         string(s.State),
		Round:         s.Round,
		Active:        mc.active(),
		ModelIDs:      s.ModelIDs,
		Pending:       s.Pending,
		PendingScore:  s.PendingScore,
		Probabilities: s.Probabilities,
		Observations:  s.Data.Observations,
		Reports:       s.Reports,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	mc.mu.Lock()
	switch {
	case mc.err != nil:
		v.Error = mc.err.Error()
	case mc.cancelled:
		v.Error = "cancelled"
	}
	mc.mu.Unlock()
	if v.Observations == nil {
		v.Observations = []models.Observation{}
	}
	return v
}

func recordView(rec *store.Record) CampaignView {
	v := CampaignView{
		ID:            rec.ID,
		State:         rec.State,
		Round:         rec.Round,
		Pending:       rec.Pending,
		PendingScore:  rec.PendingScore,
		Probabilities: rec.Probabilities,
		Observations:  rec.Observations,
		Error:         rec.Error,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
	}
	if v.Observations == nil {
		v.Observations = []models.Observation{}
	}
	return v
}
