package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/api/middleware"
	"github.com/careloop/go-medtrack/internal/dietplan"
	"github.com/careloop/go-medtrack/internal/domain/prescription"
	"github.com/careloop/go-medtrack/internal/observability/metrics"
)

// DietPlanHandler serves generated diet plans
type DietPlanHandler struct {
	repo    prescription.Repository
	client  *dietplan.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewDietPlanHandler creates a new diet plan handler
func NewDietPlanHandler(repo prescription.Repository, client *dietplan.Client, m *metrics.Metrics, logger *zap.Logger) *DietPlanHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DietPlanHandler{repo: repo, client: client, metrics: m, logger: logger}
}

// Routes returns the handler routes
func (h *DietPlanHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Generate)
	return r
}

// Generate handles POST /diet-plans
func (h *DietPlanHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	prescriptions, err := h.repo.ListByUser(ctx, userID)
	if err != nil {
		h.logger.Error("diet plan load failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "server_error", "message": "failed to load prescriptions"})
		return
	}

	plan, err := h.client.Generate(ctx, userID, prescriptions)
	if err != nil {
		h.logger.Error("diet plan generation failed", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "server_error", "message": "failed to generate diet plan"})
		return
	}

	if h.metrics != nil {
		if plan.Source == "template" {
			h.metrics.DietPlanFallbacks.Inc()
		} else {
			h.metrics.DietPlansGenerated.Inc()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(plan)
}
