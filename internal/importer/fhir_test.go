package importer

import (
	"errors"
	"testing"
	"time"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

const sampleMedicationRequest = `{
  "resourceType": "MedicationRequest",
  "id": "mr-123",
  "status": "active",
  "intent": "order",
  "medication": {
    "concept": {
      "coding": [
        {"system": "http://www.nlm.nih.gov/research/umls/rxnorm", "code": "723", "display": "Amoxicillin 500 MG Oral Capsule"}
      ],
      "text": "Amoxicillin 500mg"
    }
  },
  "authoredOn": "2024-03-10T09:00:00Z",
  "dosageInstruction": [
    {
      "text": "One capsule three times daily after meals",
      "patientInstruction": "Finish the full course",
      "additionalInstruction": [
        {"coding": [{"display": "Do not drink alcohol while taking this medication"}]}
      ],
      "timing": {
        "repeat": {
          "frequency": 3,
          "period": 1,
          "periodUnit": "d",
          "timeOfDay": ["08:00:00", "14:00:00", "20:00:00"],
          "when": ["PC"]
        }
      },
      "doseAndRate": [{"doseQuantity": {"value": 500, "unit": "mg"}}]
    }
  ],
  "dispenseRequest": {
    "quantity": {"value": 21, "unit": "capsule"},
    "expectedSupplyDuration": {"value": 7, "unit": "days", "code": "d"}
  }
}`

func TestImportMedicationRequest(t *testing.T) {
	now := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)

	mr, err := Parse([]byte(sampleMedicationRequest))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	in, err := ToNewInput(mr, "user-1", now)
	if err != nil {
		t.Fatalf("ToNewInput: %v", err)
	}

	if in.Origin != prescription.OriginImported {
		t.Errorf("origin = %q, want imported", in.Origin)
	}
	if in.MedicineName != "Amoxicillin 500mg" {
		t.Errorf("medicine = %q", in.MedicineName)
	}
	if in.Dosage != "500 mg" {
		t.Errorf("dosage = %q, want 500 mg", in.Dosage)
	}
	if in.Frequency != "3x daily" {
		t.Errorf("frequency = %q, want 3x daily", in.Frequency)
	}
	if in.Duration != "7 days" {
		t.Errorf("duration = %q, want 7 days", in.Duration)
	}
	if in.TotalDoses != 21 {
		t.Errorf("total doses = %d, want 21", in.TotalDoses)
	}
	if len(in.Times) != 3 || in.Times[0] != "08:00" {
		t.Errorf("times = %v, want [08:00 14:00 20:00]", in.Times)
	}
	if in.BeforeAfterFood != prescription.FoodAfter {
		t.Errorf("food timing = %q, want after (PC)", in.BeforeAfterFood)
	}
	if !in.AvoidAlcohol {
		t.Error("expected avoid-alcohol flag from additional instruction")
	}
	if in.SpecialInstructions != "Finish the full course" {
		t.Errorf("instructions = %q", in.SpecialInstructions)
	}

	// The mapped input must survive domain validation end to end
	p, err := prescription.New(in, now)
	if err != nil {
		t.Fatalf("prescription.New on imported input: %v", err)
	}
	if p.EndDate == nil {
		t.Error("expected end date derived from 7-day supply")
	}
}

func TestImportRejectsWrongResourceType(t *testing.T) {
	_, err := Parse([]byte(`{"resourceType": "Patient", "status": "active"}`))
	if !errors.Is(err, ErrNotImportable) {
		t.Fatalf("expected ErrNotImportable, got %v", err)
	}
}

func TestImportRejectsInactiveStatus(t *testing.T) {
	mr, err := Parse([]byte(`{
		"resourceType": "MedicationRequest",
		"status": "cancelled",
		"medication": {"concept": {"text": "Ibuprofen"}}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = ToNewInput(mr, "user-1", time.Now())
	if !errors.Is(err, ErrNotImportable) {
		t.Fatalf("expected ErrNotImportable, got %v", err)
	}
}

func TestImportRejectsMissingMedication(t *testing.T) {
	mr, err := Parse([]byte(`{"resourceType": "MedicationRequest", "status": "active", "medication": {}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	_, err = ToNewInput(mr, "user-1", time.Now())
	if !errors.Is(err, ErrNotImportable) {
		t.Fatalf("expected ErrNotImportable, got %v", err)
	}
}

func TestTotalDosesDerivedFromSchedule(t *testing.T) {
	// No dispense quantity: 2 per day over 2 weeks = 28
	mr, err := Parse([]byte(`{
		"resourceType": "MedicationRequest",
		"status": "active",
		"medication": {"concept": {"text": "Metformin"}},
		"dosageInstruction": [{"timing": {"repeat": {"frequency": 2, "period": 1, "periodUnit": "d"}}}],
		"dispenseRequest": {"expectedSupplyDuration": {"value": 2, "code": "wk"}}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	in, err := ToNewInput(mr, "user-1", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ToNewInput: %v", err)
	}
	if in.TotalDoses != 28 {
		t.Errorf("total doses = %d, want 28", in.TotalDoses)
	}
	if in.Duration != "2 weeks" {
		t.Errorf("duration = %q, want 2 weeks", in.Duration)
	}
}
