package doed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/GoSim-25-26J-441/doe-core/internal/campaign"
	"github.com/GoSim-25-26J-441/doe-core/pkg/config"
	"github.com/GoSim-25-26J-441/doe-core/pkg/logger"
	"github.com/GoSim-25-26J-441/doe-core/pkg/models"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxListLimit = 1000

type HTTPServer struct {
	mux     *http.ServeMux
	manager *Manager
}

// NewHTTPServer routes the campaign API. metricsHandler serves /metrics; nil
// uses the default Prometheus registry.
func NewHTTPServer(manager *Manager, metricsHandler http.Handler) *HTTPServer {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	s := &HTTPServer{
		mux:     http.NewServeMux(),
		manager: manager,
	}

	s.mux.HandleFunc("/healthz", s.handleHealthz)
	s.mux.HandleFunc("/v1/campaigns", s.handleCampaigns)
	s.mux.HandleFunc("/v1/campaigns/", s.handleCampaignByID)
	s.mux.HandleFunc("/v1/score", s.handleScore)
	s.mux.Handle("/metrics", metricsHandler)

	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.mux
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleCampaigns handles /v1/campaigns
func (s *HTTPServer) handleCampaigns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateCampaign(w, r)
	case http.MethodGet:
		s.handleListCampaigns(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCampaignByID handles /v1/campaigns/{id}, {id}/pending, {id}/observations and {id}:cancel
func (s *HTTPServer) handleCampaignByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/campaigns/")
	if path == "" {
		s.writeError(w, http.StatusBadRequest, "campaign ID is required")
		return
	}

	if strings.HasSuffix(path, ":cancel") {
		id := strings.TrimSuffix(path, ":cancel")
		if r.Method == http.MethodPost {
			s.handleCancelCampaign(w, r, id)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/pending") {
		id := strings.TrimSuffix(path, "/pending")
		if r.Method == http.MethodGet {
			s.handleGetPending(w, r, id)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.HasSuffix(path, "/observations") {
		id := strings.TrimSuffix(path, "/observations")
		if r.Method == http.MethodPost {
			s.handleSubmitObservation(w, r, id)
		} else {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
		return
	}

	if strings.Contains(path, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method == http.MethodGet {
		s.handleGetCampaign(w, r, path)
	} else {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCreateCampaign handles POST /v1/campaigns
func (s *HTTPServer) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CampaignID     string `json:"campaign_id,omitempty"`
		ConfigYAML     string `json:"config_yaml"`
		CallbackURL    string `json:"callback_url,omitempty"`
		CallbackSecret string `json:"callback_secret,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ConfigYAML) == "" {
		s.writeError(w, http.StatusBadRequest, "config_yaml is required")
		return
	}

	view, err := s.manager.Create(r.Context(), CreateRequest{
		ID:         req.CampaignID,
		ConfigYAML: req.ConfigYAML,
		Callback:   Callback{URL: req.CallbackURL, Secret: req.CallbackSecret},
	})
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]any{"campaign": view})
}

// handleListCampaigns handles GET /v1/campaigns
func (s *HTTPServer) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = n
	}

	views, err := s.manager.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"campaigns": views})
}

func (s *HTTPServer) handleGetCampaign(w http.ResponseWriter, r *http.Request, id string) {
	view, err := s.manager.Get(r.Context(), id)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"campaign": view})
}

func (s *HTTPServer) handleGetPending(w http.ResponseWriter, _ *http.Request, id string) {
	p, ok, err := s.manager.Pending(id)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"pending": p})
}

// handleSubmitObservation accepts {"output": [...]} or {"error": "..."} for the pending design
func (s *HTTPServer) handleSubmitObservation(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Output []float64 `json:"output"`
		Error  string    `json:"error,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	var err error
	switch {
	case req.Error != "":
		err = s.manager.Fail(id, req.Error)
	case len(req.Output) == 0:
		s.writeError(w, http.StatusBadRequest, "output or error is required")
		return
	default:
		err = s.manager.Submit(id, req.Output)
	}
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"campaign_id": id, "accepted": true})
}

func (s *HTTPServer) handleCancelCampaign(w http.ResponseWriter, r *http.Request, id string) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	view, err := s.manager.Cancel(ctx, id)
	if err != nil {
		s.writeManagerError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"campaign": view})
}

// handleScore handles POST /v1/score: the criterion of a configuration at given designs
func (s *HTTPServer) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ConfigYAML string               `json:"config_yaml"`
		Designs    []models.DesignPoint `json:"designs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Designs) == 0 {
		s.writeError(w, http.StatusBadRequest, "designs are required")
		return
	}
	cfg, err := config.ParseConfigYAMLString(req.ConfigYAML)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	scores, err := ScoreDesigns(r.Context(), cfg, req.Designs, s.manager.metrics)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"scores": scores})
}

func (s *HTTPServer) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrCampaignNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ErrCampaignExists):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidConfig):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrCampaignInactive), errors.Is(err, campaign.ErrNoPendingExperiment):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]any{
		"error": message,
	})
}
