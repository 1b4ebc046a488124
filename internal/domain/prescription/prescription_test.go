package prescription

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)

func validInput() NewInput {
	return NewInput{
		UserID:       "user-1",
		MedicineName: "Amoxicillin",
		Dosage:       "500mg",
		Frequency:    "twice daily",
		Duration:     "7 days",
		TotalDoses:   14,
		Times:        []string{"08:00", "20:00"},
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	p, err := New(validInput(), testNow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if p.ID == "" {
		t.Error("expected generated id")
	}
	if p.BeforeAfterFood != FoodAfter {
		t.Errorf("beforeAfterFood = %q, want %q", p.BeforeAfterFood, FoodAfter)
	}
	if !p.WithWater {
		t.Error("withWater should default to true")
	}
	if !p.Active {
		t.Error("new prescription should be active")
	}
	if p.Origin != OriginManual {
		t.Errorf("origin = %q, want manual", p.Origin)
	}
	if !p.Notifications.Enabled || p.Notifications.ReminderMinutes != DefaultReminderMinutes {
		t.Errorf("notifications = %+v, want enabled with %d minutes", p.Notifications, DefaultReminderMinutes)
	}
	if p.EndDate == nil {
		t.Fatal("expected end date for 7 days duration")
	}
	if want := testNow.AddDate(0, 0, 7); !p.EndDate.Equal(want) {
		t.Errorf("endDate = %v, want %v", p.EndDate, want)
	}
}

func TestNewMissingFields(t *testing.T) {
	in := validInput()
	in.MedicineName = "  "
	in.TotalDoses = 0

	_, err := New(in, testNow)
	mfe, ok := IsMissingFields(err)
	if !ok {
		t.Fatalf("expected MissingFieldsError, got %v", err)
	}
	if len(mfe.Fields) != 2 {
		t.Errorf("missing fields = %v, want medicineName and totalDoses", mfe.Fields)
	}
}

func TestNewUnparseableDurationLeavesEndDateNil(t *testing.T) {
	in := validInput()
	in.Duration = "as needed"

	p, err := New(in, testNow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.EndDate != nil {
		t.Errorf("endDate = %v, want nil", p.EndDate)
	}
}

func TestRecordDoseCapsAndDeactivates(t *testing.T) {
	in := validInput()
	in.TotalDoses = 2
	p, _ := New(in, testNow)

	if err := p.RecordDose(testNow, "", "with breakfast"); err != nil {
		t.Fatalf("first dose: %v", err)
	}
	if p.TakenDoses != 1 || !p.Active {
		t.Fatalf("after first dose: taken=%d active=%v", p.TakenDoses, p.Active)
	}
	if p.DoseLogs[0].Time != "14:00" {
		t.Errorf("defaulted time = %q, want 14:00", p.DoseLogs[0].Time)
	}

	if err := p.RecordDose(testNow.Add(time.Hour), "20:00", ""); err != nil {
		t.Fatalf("second dose: %v", err)
	}
	if p.TakenDoses != 2 {
		t.Errorf("taken = %d, want 2", p.TakenDoses)
	}
	if p.Active {
		t.Error("prescription should deactivate when complete")
	}

	err := p.RecordDose(testNow.Add(2*time.Hour), "", "")
	if !errors.Is(err, ErrAlreadyComplete) {
		t.Errorf("third dose err = %v, want ErrAlreadyComplete", err)
	}
	if p.TakenDoses != 2 || len(p.DoseLogs) != 2 {
		t.Errorf("rejected dose must not mutate: taken=%d logs=%d", p.TakenDoses, len(p.DoseLogs))
	}
}

func TestApplyReDerivesEndDateFromDuration(t *testing.T) {
	p, _ := New(validInput(), testNow)

	newDuration := "2 weeks"
	p.Apply(Update{Duration: &newDuration}, testNow.Add(time.Minute))

	if p.EndDate == nil {
		t.Fatal("expected end date")
	}
	if want := p.StartDate.AddDate(0, 0, 14); !p.EndDate.Equal(want) {
		t.Errorf("endDate = %v, want %v", p.EndDate, want)
	}
}

func TestApplyLoweringTotalClampsTaken(t *testing.T) {
	p, _ := New(validInput(), testNow)
	p.TakenDoses = 10

	lower := 5
	p.Apply(Update{TotalDoses: &lower}, testNow)

	if p.TakenDoses != 5 {
		t.Errorf("taken = %d, want clamped to 5", p.TakenDoses)
	}
	if p.Active {
		t.Error("prescription at its total should be inactive")
	}
}

func TestInDateWindow(t *testing.T) {
	p, _ := New(validInput(), testNow) // start 2024-03-10, end 2024-03-17

	if !p.InDateWindow(testNow) {
		t.Error("start day should be in window")
	}
	if !p.InDateWindow(testNow.AddDate(0, 0, 7)) {
		t.Error("end day should be in window")
	}
	if p.InDateWindow(testNow.AddDate(0, 0, -1)) {
		t.Error("day before start should be outside window")
	}
	if p.InDateWindow(testNow.AddDate(0, 0, 8)) {
		t.Error("day after end should be outside window")
	}

	p.EndDate = nil
	if !p.InDateWindow(testNow.AddDate(1, 0, 0)) {
		t.Error("nil end date means open-ended")
	}
}
