// Package handlers provides HTTP handlers for the adherence API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/adherence"
	"github.com/careloop/go-medtrack/internal/api/middleware"
	"github.com/careloop/go-medtrack/internal/domain/prescription"
	"github.com/careloop/go-medtrack/internal/importer"
	"github.com/careloop/go-medtrack/internal/observability/metrics"
	"github.com/careloop/go-medtrack/internal/reminder"
)

// PrescriptionHandler handles prescription endpoints
type PrescriptionHandler struct {
	repo    prescription.Repository
	matcher *reminder.Matcher
	clock   reminder.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewPrescriptionHandler creates a new handler. A nil clock means the
// system clock; nil metrics disables counters.
func NewPrescriptionHandler(repo prescription.Repository, clock reminder.Clock, m *metrics.Metrics, logger *zap.Logger) *PrescriptionHandler {
	if clock == nil {
		clock = reminder.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PrescriptionHandler{
		repo:    repo,
		matcher: reminder.NewMatcher(clock, logger),
		clock:   clock,
		metrics: m,
		logger:  logger,
	}
}

// Routes returns the handler routes
func (h *PrescriptionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/import", h.Import)
	r.Get("/", h.List)
	r.Get("/adherence", h.Adherence)
	r.Get("/notifications", h.Notifications)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/dose-taken", h.DoseTaken)
	return r
}

// CreateRequest is the request body for creating a prescription
type CreateRequest struct {
	MedicineName        string     `json:"medicineName"`
	Dosage              string     `json:"dosage"`
	Frequency           string     `json:"frequency"`
	Duration            string     `json:"duration"`
	TotalDoses          int        `json:"totalDoses"`
	Times               []string   `json:"times"`
	StartDate           *time.Time `json:"startDate,omitempty"`
	SpecialInstructions string     `json:"specialInstructions,omitempty"`
	BeforeAfterFood     string     `json:"beforeAfterFood,omitempty"`
	WithWater           *bool      `json:"withWater,omitempty"`
	AvoidAlcohol        bool       `json:"avoidAlcohol,omitempty"`
	Origin              string     `json:"origin,omitempty"`
	ReminderMinutes     int        `json:"reminderMinutes,omitempty"`
}

// Create handles POST /prescriptions
func (h *PrescriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("prescription-handler")
	ctx, span := tracer.Start(ctx, "create_prescription")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "missing_fields", "invalid request body", http.StatusBadRequest)
		return
	}

	p, err := prescription.New(prescription.NewInput{
		UserID:              middleware.GetUserID(ctx),
		Origin:              prescription.Origin(req.Origin),
		MedicineName:        req.MedicineName,
		Dosage:              req.Dosage,
		Frequency:           req.Frequency,
		Duration:            req.Duration,
		TotalDoses:          req.TotalDoses,
		Times:               req.Times,
		StartDate:           req.StartDate,
		SpecialInstructions: req.SpecialInstructions,
		BeforeAfterFood:     prescription.FoodTiming(req.BeforeAfterFood),
		WithWater:           req.WithWater,
		AvoidAlcohol:        req.AvoidAlcohol,
		ReminderMinutes:     req.ReminderMinutes,
	}, h.clock.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	span.SetAttributes(attribute.String("prescription_id", p.ID))

	if err := h.repo.Create(ctx, p); err != nil {
		h.logger.Error("create failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.jsonError(w, "server_error", "failed to create prescription", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsCreated.Inc()
		h.metrics.ActivePrescriptions.Inc()
	}
	h.logger.Info("prescription created",
		zap.String("id", p.ID),
		zap.String("medicine", p.MedicineName),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	h.writeJSON(w, http.StatusCreated, p)
}

// Import handles POST /prescriptions/import. The body is a FHIR R5
// MedicationRequest; the result is a regular tracked prescription with
// origin "imported".
func (h *PrescriptionHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.jsonError(w, "not_importable", "unreadable request body", http.StatusBadRequest)
		return
	}

	mr, err := importer.Parse(body)
	if err != nil {
		h.jsonError(w, "not_importable", err.Error(), http.StatusBadRequest)
		return
	}

	in, err := importer.ToNewInput(mr, middleware.GetUserID(ctx), h.clock.Now())
	if err != nil {
		h.jsonError(w, "not_importable", err.Error(), http.StatusBadRequest)
		return
	}

	p, err := prescription.New(in, h.clock.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if err := h.repo.Create(ctx, p); err != nil {
		h.logger.Error("import failed", zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(ctx)))
		h.jsonError(w, "server_error", "failed to import prescription", http.StatusInternalServerError)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsCreated.Inc()
		h.metrics.ActivePrescriptions.Inc()
	}
	h.logger.Info("prescription imported",
		zap.String("id", p.ID),
		zap.String("medicine", p.MedicineName),
		zap.String("fhir_id", mr.ID),
	)

	h.writeJSON(w, http.StatusCreated, p)
}

// List handles GET /prescriptions
func (h *PrescriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prescriptions, err := h.repo.ListByUser(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("list failed", zap.Error(err))
		h.jsonError(w, "server_error", "failed to list prescriptions", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"prescriptions": prescriptions,
		"count":         len(prescriptions),
	})
}

// UpdateRequest is the allow-listed partial update body. Pointer fields
// distinguish absent from zero.
type UpdateRequest struct {
	MedicineName        *string   `json:"medicineName,omitempty"`
	Dosage              *string   `json:"dosage,omitempty"`
	Frequency           *string   `json:"frequency,omitempty"`
	Duration            *string   `json:"duration,omitempty"`
	SpecialInstructions *string   `json:"specialInstructions,omitempty"`
	BeforeAfterFood     *string   `json:"beforeAfterFood,omitempty"`
	WithWater           *bool     `json:"withWater,omitempty"`
	AvoidAlcohol        *bool     `json:"avoidAlcohol,omitempty"`
	Times               *[]string `json:"times,omitempty"`
	TotalDoses          *int      `json:"totalDoses,omitempty"`
	Active              *bool     `json:"active,omitempty"`
	NotifyEnabled       *bool     `json:"notifyEnabled,omitempty"`
	ReminderMinutes     *int      `json:"reminderMinutes,omitempty"`
}

// Update handles PUT /prescriptions/{id}
func (h *PrescriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "missing_fields", "invalid request body", http.StatusBadRequest)
		return
	}

	u := prescription.Update{
		MedicineName:        req.MedicineName,
		Dosage:              req.Dosage,
		Frequency:           req.Frequency,
		Duration:            req.Duration,
		SpecialInstructions: req.SpecialInstructions,
		WithWater:           req.WithWater,
		AvoidAlcohol:        req.AvoidAlcohol,
		Times:               req.Times,
		TotalDoses:          req.TotalDoses,
		Active:              req.Active,
		NotifyEnabled:       req.NotifyEnabled,
		ReminderMinutes:     req.ReminderMinutes,
	}
	if req.BeforeAfterFood != nil {
		timing := prescription.FoodTiming(*req.BeforeAfterFood)
		u.BeforeAfterFood = &timing
	}

	p, err := h.repo.Update(ctx, middleware.GetUserID(ctx), id, u)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, p)
}

// Delete handles DELETE /prescriptions/{id}
func (h *PrescriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.repo.Delete(ctx, middleware.GetUserID(ctx), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.PrescriptionsDeleted.Inc()
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// DoseTakenRequest is the request body for marking a dose taken
type DoseTakenRequest struct {
	Time  string `json:"time,omitempty"` // "HH:MM"; empty means now
	Notes string `json:"notes,omitempty"`
}

// DoseTaken handles POST /prescriptions/{id}/dose-taken
func (h *PrescriptionHandler) DoseTaken(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req DoseTakenRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, "missing_fields", "invalid request body", http.StatusBadRequest)
			return
		}
	}

	p, err := h.repo.MarkDoseTaken(ctx, middleware.GetUserID(ctx), id, prescription.MarkDoseInput{
		Time:  req.Time,
		Notes: req.Notes,
		At:    h.clock.Now(),
	})
	if err != nil {
		if h.metrics != nil {
			h.metrics.DosesRejected.Inc()
		}
		h.writeDomainError(w, err)
		return
	}

	if h.metrics != nil {
		h.metrics.DosesTaken.Inc()
		if !p.Active {
			h.metrics.ActivePrescriptions.Dec()
		}
	}
	h.logger.Info("dose taken",
		zap.String("id", p.ID),
		zap.Int("taken", p.TakenDoses),
		zap.Int("total", p.TotalDoses),
		zap.Bool("completed", !p.Active),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	h.writeJSON(w, http.StatusOK, p)
}

// Adherence handles GET /prescriptions/adherence
func (h *PrescriptionHandler) Adherence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prescriptions, err := h.repo.ListByUser(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("adherence load failed", zap.Error(err))
		h.jsonError(w, "server_error", "failed to compute adherence", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, adherence.Compute(prescriptions, h.clock.Now()))
}

// DueDose is one entry of the notifications response.
type DueDose struct {
	PrescriptionID string `json:"prescription_id"`
	MedicineName   string `json:"medicine_name"`
	Dosage         string `json:"dosage"`
	ScheduledTime  string `json:"scheduled_time"`
}

// Notifications handles GET /prescriptions/notifications. The endpoint
// applies the same tolerance as the background scanner, so a dose is
// "due" here exactly when the scanner would emit for it.
func (h *PrescriptionHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prescriptions, err := h.repo.ListByUser(ctx, middleware.GetUserID(ctx))
	if err != nil {
		h.logger.Error("notifications load failed", zap.Error(err))
		h.jsonError(w, "server_error", "failed to compute notifications", http.StatusInternalServerError)
		return
	}

	due := make([]DueDose, 0)
	for _, m := range h.matcher.Due(prescriptions) {
		due = append(due, DueDose{
			PrescriptionID: m.Prescription.ID,
			MedicineName:   m.Prescription.MedicineName,
			Dosage:         m.Prescription.Dosage,
			ScheduledTime:  m.ScheduledTime,
		})
	}
	if h.metrics != nil {
		h.metrics.RemindersMatched.Add(float64(len(due)))
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"due":   due,
		"count": len(due),
	})
}

func (h *PrescriptionHandler) writeDomainError(w http.ResponseWriter, err error) {
	if mfe, ok := prescription.IsMissingFields(err); ok {
		h.jsonError(w, "missing_fields", mfe.Error(), http.StatusBadRequest)
		return
	}
	if errors.Is(err, prescription.ErrNotFound) {
		h.jsonError(w, "not_found", "prescription not found", http.StatusNotFound)
		return
	}
	if errors.Is(err, prescription.ErrAlreadyComplete) {
		h.jsonError(w, "already_complete", "all doses already taken", http.StatusConflict)
		return
	}
	h.logger.Error("unhandled domain error", zap.Error(err))
	h.jsonError(w, "server_error", "internal server error", http.StatusInternalServerError)
}

func (h *PrescriptionHandler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (h *PrescriptionHandler) jsonError(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
