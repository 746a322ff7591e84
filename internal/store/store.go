// Package store persists campaign snapshots.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

var (
	// ErrNotFound is returned when no campaign record exists for an id
	ErrNotFound = errors.New("campaign record not found")
	// ErrInvalidRecord is returned for records without an id or state
	ErrInvalidRecord = errors.New("invalid campaign record")
)

// Record is the persisted snapshot of one campaign
type Record struct {
	ID            string               `json:"id"`
	State         string               `json:"state"`
	Round         int                  `json:"round"`
	Pending       models.DesignPoint   `json:"pending,omitempty"`
	PendingScore  float64              `json:"pending_score,omitempty"`
	Observations  []models.Observation `json:"observations"`
	Probabilities []float64            `json:"probabilities,omitempty"`
	Config        string               `json:"config,omitempty"`
	Error         string               `json:"error,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Pending = r.Pending.Clone()
	out.Probabilities = append([]float64(nil), r.Probabilities...)
	state := models.CampaignState{Observations: r.Observations}
	out.Observations = state.Clone().Observations
	return &out
}

func (r *Record) validate() error {
	if r == nil || r.ID == "" || r.State == "" {
		return ErrInvalidRecord
	}
	return nil
}

// Store saves and loads campaign records. Save is an upsert keyed by ID.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records, newest first
	List(ctx context.Context, limit int) ([]*Record, error)
	Delete(ctx context.Context, id string) error
	Close() error
}
