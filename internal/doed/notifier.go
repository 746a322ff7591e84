package doed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
)

// Notification events
const (
	EventExperimentRequested = "experiment_requested"
	EventCampaignStopped     = "campaign_stopped"
)

// CallbackSecretHeader carries the campaign's callback secret
const CallbackSecretHeader = "X-DOE-Callback-Secret"

// NotificationPayload is the JSON body posted to a campaign's callback URL
type NotificationPayload struct {
	Event         string             `json:"event"`
	CampaignID    string             `json:"campaign_id"`
	State         string             `json:"state"`
	Round         int                `json:"round"`
	Design        models.DesignPoint `json:"design,omitempty"`
	Score         float64            `json:"score,omitempty"`
	Probabilities []float64          `json:"probabilities,omitempty"`
	Error         string             `json:"error,omitempty"`
	Timestamp     int64              `json:"timestamp"` // unix ms
}

// Callback is where a campaign's notifications go
type Callback struct {
	URL    string
	Secret string
}

// Notifier posts campaign notifications with retries
type Notifier struct {
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// NewNotifier creates a notifier with a 10s request timeout and 3 retries
func NewNotifier() *Notifier {
	return &Notifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxRetries: 3,
		baseDelay:  1 * time.Second,
	}
}

func validateCallbackURL(raw string) error {
	u, err := url.Parse(strings.ReplaceAll(raw, "{campaign_id}", "x"))
	if err != nil {
		return fmt.Errorf("invalid callback_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid callback_url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid callback_url: host is required")
	}
	return nil
}

// Notify sends payload asynchronously. {campaign_id} in the URL is replaced.
func (n *Notifier) Notify(cb Callback, payload NotificationPayload) {
	if n == nil || cb.URL == "" {
		return
	}
	finalURL := strings.ReplaceAll(cb.URL, "{campaign_id}", url.PathEscape(payload.CampaignID))
	payload.Timestamp = time.Now().UTC().UnixMilli()
	go n.send(finalURL, cb.Secret, payload)
}

func (n *Notifier) send(callbackURL, secret string, payload NotificationPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to marshal notification payload",
			"callback_url", callbackURL,
			"campaign_id", payload.CampaignID,
			"error", err)
		return
	}

	var lastErr error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			delay := n.baseDelay * time.Duration(1<<uint(attempt-1))
			logger.Debug("retrying notification",
				"callback_url", callbackURL,
				"campaign_id", payload.CampaignID,
				"attempt", attempt,
				"delay", delay)
			time.Sleep(delay)
		}

		req, err := http.NewRequest(http.MethodPost, callbackURL, bytes.NewReader(body))
		if err != nil {
			lastErr = fmt.Errorf("failed to create request: %w", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "doe-core/1.0")
		if secret != "" {
			req.Header.Set(CallbackSecretHeader, secret)
		}

		resp, err := n.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			logger.Warn("notification attempt failed",
				"callback_url", callbackURL,
				"campaign_id", payload.CampaignID,
				"attempt", attempt+1,
				"error", err)
			continue
		}
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			logger.Debug("notification sent",
				"campaign_id", payload.CampaignID,
				"event", payload.Event,
				"status_code", resp.StatusCode)
			return
		}
		lastErr = fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		logger.Warn("notification returned non-2xx status",
			"callback_url", callbackURL,
			"campaign_id", payload.CampaignID,
			"status_code", resp.StatusCode,
			"response_body", string(snippet),
			"attempt", attempt+1)
	}

	logger.Error("failed to send notification after retries",
		"callback_url", callbackURL,
		"campaign_id", payload.CampaignID,
		"event", payload.Event,
		"max_retries", n.maxRetries,
		"last_error", lastErr)
}

// notifyingRunner announces every experiment request before waiting on the
// channel runner
type notifyingRunner struct {
	*campaign.ChannelRunner
	campaign *campaign.Campaign
	notifier *Notifier
	callback Callback
}

func (r *notifyingRunner) RunExperiment(ctx context.Context, d models.DesignPoint) ([]float64, error) {
	_, score, _ := r.campaign.Pending()
	r.notifier.Notify(r.callback, NotificationPayload{
		Event:      EventExperimentRequested,
		CampaignID: r.campaign.ID(),
		State:      string(campaign.StateAwaitingExperiment),
		Round:      r.campaign.Round(),
		Design:     d.Clone(),
		Score:      score,
	})
	return r.ChannelRunner.RunExperiment(ctx, d)
}
