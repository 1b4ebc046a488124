package dietplan

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

func activePrescription(t *testing.T, name string, avoidAlcohol bool) *prescription.Prescription {
	t.Helper()
	p, err := prescription.New(prescription.NewInput{
		UserID:       "user-1",
		MedicineName: name,
		Dosage:       "500mg",
		Frequency:    "2x daily",
		Duration:     "1 month",
		TotalDoses:   60,
		AvoidAlcohol: avoidAlcohol,
	}, time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("building prescription: %v", err)
	}
	return p
}

func TestGenerateFromLLM(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		content := `{"summary":"Light meals","meals":["Oatmeal"],"avoid":["alcohol"],"hydration":"8 glasses"}`
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "test"}, nil, zap.NewNop())

	plan, err := c.Generate(context.Background(), "user-1",
		[]*prescription.Prescription{activePrescription(t, "Metformin", true)})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if plan.Source != "llm" {
		t.Errorf("source = %q, want llm", plan.Source)
	}
	if plan.Summary != "Light meals" {
		t.Errorf("summary = %q", plan.Summary)
	}
	if plan.UserID != "user-1" {
		t.Errorf("user id = %q", plan.UserID)
	}
}

func TestGenerateStripsCodeFence(t *testing.T) {
	content := "```json\n{\"summary\":\"ok\",\"meals\":[],\"avoid\":[],\"hydration\":\"water\"}\n```"
	plan, err := parsePlan(content)
	if err != nil {
		t.Fatalf("parsePlan: %v", err)
	}
	if plan.Summary != "ok" {
		t.Errorf("summary = %q, want ok", plan.Summary)
	}
}

func TestGenerateFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, Model: "test"}, nil, zap.NewNop())

	plan, err := c.Generate(context.Background(), "user-1",
		[]*prescription.Prescription{activePrescription(t, "Warfarin", true)})
	if err != nil {
		t.Fatalf("Generate should not error on fallback: %v", err)
	}
	if plan.Source != "template" {
		t.Fatalf("source = %q, want template", plan.Source)
	}

	found := false
	for _, a := range plan.Avoid {
		if a == "alcohol while on Warfarin" {
			found = true
		}
	}
	if !found {
		t.Errorf("fallback plan should carry the avoid-alcohol flag, got %v", plan.Avoid)
	}
}

func TestTemplatePlanWithoutFlags(t *testing.T) {
	c := NewClient(Config{}, nil, zap.NewNop())
	plan := c.templatePlan("user-1", []*prescription.Prescription{activePrescription(t, "Vitamin D", false)})
	if len(plan.Avoid) == 0 {
		t.Error("template plan should always carry at least one avoid entry")
	}
}
