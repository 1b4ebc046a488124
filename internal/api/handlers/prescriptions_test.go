package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/api/middleware"
	"github.com/careloop/go-medtrack/internal/domain/prescription"
	"github.com/careloop/go-medtrack/internal/storage/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func newTestHandler(t *testing.T, now time.Time) (*PrescriptionHandler, *memory.PrescriptionRepo) {
	t.Helper()
	repo := memory.NewPrescriptionRepo()
	h := NewPrescriptionHandler(repo, fixedClock{now: now}, nil, zap.NewNop())
	return h, repo
}

func doRequest(h http.Handler, method, target, userID string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req = req.WithContext(middleware.WithUserID(req.Context(), userID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var envelope map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decoding error envelope: %v (body: %s)", err, rec.Body.String())
	}
	return envelope
}

func TestCreateMissingFields(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, _ := newTestHandler(t, now)

	body, _ := json.Marshal(CreateRequest{
		MedicineName: "Amoxicillin",
		// dosage and frequency missing
		Duration:   "7 days",
		TotalDoses: 21,
	})

	rec := doRequest(h.Routes(), http.MethodPost, "/", "user-1", body)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	envelope := decodeError(t, rec)
	if envelope["error"] != "missing_fields" {
		t.Errorf("expected missing_fields error, got %q", envelope["error"])
	}
}

func TestCreateAndGet(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, _ := newTestHandler(t, now)
	r := h.Routes()

	body, _ := json.Marshal(CreateRequest{
		MedicineName: "Amoxicillin",
		Dosage:       "500mg",
		Frequency:    "3x daily",
		Duration:     "7 days",
		TotalDoses:   21,
		Times:        []string{"08:00", "14:00", "20:00"},
	})

	rec := doRequest(r, http.MethodPost, "/", "user-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var created prescription.Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decoding created prescription: %v", err)
	}
	if created.ID == "" {
		t.Error("expected generated ID")
	}
	if created.EndDate == nil {
		t.Error("expected derived end date for 7-day duration")
	} else if want := now.AddDate(0, 0, 7); !created.EndDate.Equal(want) {
		t.Errorf("end date = %v, want %v", created.EndDate, want)
	}
	if !created.Active {
		t.Error("new prescription should be active")
	}

	rec = doRequest(r, http.MethodGet, "/", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	// Another user must not see it
	rec = doRequest(r, http.MethodGet, "/", "user-2", nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decoding list: %v", err)
	}
	if list.Count != 0 {
		t.Errorf("foreign user count = %d, want 0", list.Count)
	}
}

func TestDoseTakenFlow(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(t, now)
	r := h.Routes()

	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: "Metformin",
		Dosage:       "500mg",
		Frequency:    "2x daily",
		Duration:     "1 day",
		TotalDoses:   2,
		Times:        []string{"08:00", "20:00"},
	}, now)
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding repo: %v", err)
	}

	body, _ := json.Marshal(DoseTakenRequest{Time: "08:00", Notes: "with breakfast"})

	rec := doRequest(r, http.MethodPost, "/"+p.ID+"/dose-taken", "user-1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("first dose: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var after prescription.Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if after.TakenDoses != 1 || !after.Active {
		t.Errorf("after first dose: taken=%d active=%v, want 1/true", after.TakenDoses, after.Active)
	}

	rec = doRequest(r, http.MethodPost, "/"+p.ID+"/dose-taken", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("second dose: expected 200, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &after); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if after.TakenDoses != 2 || after.Active {
		t.Errorf("after final dose: taken=%d active=%v, want 2/false", after.TakenDoses, after.Active)
	}

	// Third attempt is rejected, not silently capped
	rec = doRequest(r, http.MethodPost, "/"+p.ID+"/dose-taken", "user-1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for completed prescription, got %d: %s", rec.Code, rec.Body.String())
	}
	envelope := decodeError(t, rec)
	if envelope["error"] != "already_complete" {
		t.Errorf("expected already_complete error, got %q", envelope["error"])
	}
}

func TestDoseTakenNotFound(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, _ := newTestHandler(t, now)

	rec := doRequest(h.Routes(), http.MethodPost, "/no-such-id/dose-taken", "user-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	envelope := decodeError(t, rec)
	if envelope["error"] != "not_found" {
		t.Errorf("expected not_found error, got %q", envelope["error"])
	}
}

func TestNotificationsWithinWindow(t *testing.T) {
	// 08:10 with the default 15-minute tolerance: the 08:00 dose is due,
	// the 20:00 dose is not.
	now := time.Date(2024, 3, 10, 8, 10, 0, 0, time.UTC)
	h, repo := newTestHandler(t, now)

	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: "Lisinopril",
		Dosage:       "10mg",
		Frequency:    "2x daily",
		Duration:     "1 month",
		TotalDoses:   60,
		Times:        []string{"08:00", "20:00"},
	}, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding repo: %v", err)
	}

	rec := doRequest(h.Routes(), http.MethodGet, "/notifications", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Due   []DueDose `json:"due"`
		Count int       `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Count != 1 {
		t.Fatalf("due count = %d, want 1 (body: %s)", resp.Count, rec.Body.String())
	}
	if resp.Due[0].ScheduledTime != "08:00" {
		t.Errorf("scheduled time = %q, want 08:00", resp.Due[0].ScheduledTime)
	}
	if resp.Due[0].MedicineName != "Lisinopril" {
		t.Errorf("medicine = %q, want Lisinopril", resp.Due[0].MedicineName)
	}
}

func TestAdherenceReport(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(t, now)

	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: "Atorvastatin",
		Dosage:       "20mg",
		Frequency:    "1x daily",
		Duration:     "1 month",
		TotalDoses:   30,
		Times:        []string{"21:00"},
	}, now.AddDate(0, 0, -5))
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := p.RecordDose(now.AddDate(0, 0, -i), "21:00", ""); err != nil {
			t.Fatalf("recording dose: %v", err)
		}
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding repo: %v", err)
	}

	rec := doRequest(h.Routes(), http.MethodGet, "/adherence", "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var report struct {
		Totals struct {
			TotalDoses int `json:"total_doses"`
			TakenDoses int `json:"taken_doses"`
		} `json:"totals"`
		Daily []struct {
			Date string `json:"date"`
		} `json:"daily"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decoding report: %v", err)
	}
	if report.Totals.TotalDoses != 30 || report.Totals.TakenDoses != 3 {
		t.Errorf("totals = %d/%d, want 3/30 taken/total",
			report.Totals.TakenDoses, report.Totals.TotalDoses)
	}
	if len(report.Daily) != 30 {
		t.Errorf("daily series length = %d, want 30", len(report.Daily))
	}
}

func TestUpdateRederivesEndDate(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(t, now)

	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: "Amoxicillin",
		Dosage:       "500mg",
		Frequency:    "3x daily",
		Duration:     "7 days",
		TotalDoses:   21,
	}, now)
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding repo: %v", err)
	}

	duration := "2 weeks"
	body, _ := json.Marshal(UpdateRequest{Duration: &duration})

	rec := doRequest(h.Routes(), http.MethodPut, "/"+p.ID, "user-1", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var updated prescription.Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if updated.EndDate == nil {
		t.Fatal("expected derived end date")
	}
	if want := p.StartDate.AddDate(0, 0, 14); !updated.EndDate.Equal(want) {
		t.Errorf("end date = %v, want %v", updated.EndDate, want)
	}
}

func TestImportMedicationRequest(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, _ := newTestHandler(t, now)

	body := []byte(`{
		"resourceType": "MedicationRequest",
		"status": "active",
		"medication": {"concept": {"text": "Amoxicillin 500mg"}},
		"dosageInstruction": [{
			"text": "One capsule three times daily",
			"timing": {"repeat": {"frequency": 3, "period": 1, "periodUnit": "d", "timeOfDay": ["08:00:00", "14:00:00", "20:00:00"]}},
			"doseAndRate": [{"doseQuantity": {"value": 500, "unit": "mg"}}]
		}],
		"dispenseRequest": {
			"quantity": {"value": 21},
			"expectedSupplyDuration": {"value": 7, "code": "d"}
		}
	}`)

	rec := doRequest(h.Routes(), http.MethodPost, "/import", "user-1", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var p prescription.Prescription
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decoding imported prescription: %v", err)
	}
	if p.Origin != prescription.OriginImported {
		t.Errorf("origin = %q, want imported", p.Origin)
	}
	if p.TotalDoses != 21 {
		t.Errorf("total doses = %d, want 21", p.TotalDoses)
	}
}

func TestImportRejectsNonMedicationResource(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, _ := newTestHandler(t, now)

	rec := doRequest(h.Routes(), http.MethodPost, "/import", "user-1",
		[]byte(`{"resourceType": "Patient"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	envelope := decodeError(t, rec)
	if envelope["error"] != "not_importable" {
		t.Errorf("expected not_importable error, got %q", envelope["error"])
	}
}

func TestDeleteOwnerScoped(t *testing.T) {
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	h, repo := newTestHandler(t, now)
	r := h.Routes()

	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: "Metformin",
		Dosage:       "500mg",
		Frequency:    "2x daily",
		Duration:     "1 month",
		TotalDoses:   60,
	}, now)
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	if err := repo.Create(context.Background(), p); err != nil {
		t.Fatalf("seeding repo: %v", err)
	}

	rec := doRequest(r, http.MethodDelete, "/"+p.ID, "user-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("foreign delete: expected 404, got %d", rec.Code)
	}

	rec = doRequest(r, http.MethodDelete, "/"+p.ID, "user-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("owner delete: expected 200, got %d", rec.Code)
	}
}
