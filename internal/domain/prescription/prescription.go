// Package prescription implements the canonical dose-tracking entity.
//
// A single Prescription type covers both manually entered and imported
// medication records; the Origin discriminator replaces the legacy split
// between separate prescription, medicine and schedule schemas.
package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Origin identifies how a prescription entered the system.
type Origin string

const (
	OriginManual   Origin = "manual"
	OriginImported Origin = "imported"
)

// FoodTiming describes when a dose is taken relative to meals.
type FoodTiming string

const (
	FoodBefore  FoodTiming = "before"
	FoodAfter   FoodTiming = "after"
	FoodWith    FoodTiming = "with"
	FoodAnytime FoodTiming = "anytime"
)

// DefaultReminderMinutes is the reminder tolerance applied when a
/// prescription does not carry its own. One tolerance everywhere: the
// matcher, the notifications endpoint and tests all use this value.
const DefaultReminderMinutes = 15

// DoseLog is one administration record. Logs are append-only; an entry is
// never edited after it is written.
type DoseLog struct {
	ID    string    `json:"id"`
	Date  time.Time `json:"date"`
	Time  string    `json:"time"` // "HH:MM", local to the user
	Taken bool      `json:"taken"`
	Notes string    `json:"notes,omitempty"`
}

// Notifications holds per-prescription reminder settings.
type Notifications struct {
	Enabled         bool `json:"enabled"`
	ReminderMinutes int  `json:"reminder_minutes"`
}

// Prescription is the aggregate tracked by the adherence engine.
type Prescription struct {
	ID                  string        `json:"id"`
	UserID              string        `json:"user_id"`
	Origin              Origin        `json:"origin"`
	MedicineName        string        `json:"medicine_name"`
	Dosage              string        `json:"dosage"`
	Frequency           string        `json:"frequency"`
	Duration            string        `json:"duration"`
	SpecialInstructions string        `json:"special_instructions,omitempty"`
	BeforeAfterFood     FoodTiming    `json:"before_after_food"`
	WithWater           bool          `json:"with_water"`
	AvoidAlcohol        bool          `json:"avoid_alcohol"`
	StartDate           time.Time     `json:"start_date"`
	EndDate             *time.Time    `json:"end_date,omitempty"`
	Times               []string      `json:"times"` // ordered "HH:MM" dose times
	TotalDoses          int           `json:"total_doses"`
	TakenDoses          int           `json:"taken_doses"`
	DoseLogs            []DoseLog     `json:"dose_logs"`
	Active              bool          `json:"active"`
	Notifications       Notifications `json:"notifications"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// NewInput carries the caller-supplied fields for a new prescription.
type NewInput struct {
	UserID              string
	Origin              Origin
	MedicineName        string
	Dosage              string
	Frequency           string
	Duration            string
	TotalDoses          int
	Times               []string
	StartDate           *time.Time
	SpecialInstructions string
	BeforeAfterFood     FoodTiming
	WithWater           *bool
	AvoidAlcohol        bool
	ReminderMinutes     int
}

// New validates input, applies defaults and returns a fresh prescription.
// The end date is derived from the free-text duration; an unparseable
// duration leaves EndDate nil rather than rejecting the request.
func New(in NewInput, now time.Time) (*Prescription, error) {
	if err := validateRequired(in); err != nil {
		return nil, err
	}

	start := now
	if in.StartDate != nil {
		start = *in.StartDate
	}

	timing := in.BeforeAfterFood
	if timing == "" {
		timing = FoodAfter
	}

	withWater := true
	if in.WithWater != nil {
		withWater = *in.WithWater
	}

	origin := in.Origin
	if origin == "" {
		origin = OriginManual
	}

	reminderMinutes := in.ReminderMinutes
	if reminderMinutes <= 0 {
		reminderMinutes = DefaultReminderMinutes
	}

	p := &Prescription{
		ID:                  uuid.New().String(),
		UserID:              in.UserID,
		Origin:              origin,
		MedicineName:        strings.TrimSpace(in.MedicineName),
		Dosage:              strings.TrimSpace(in.Dosage),
		Frequency:           strings.TrimSpace(in.Frequency),
		Duration:            strings.TrimSpace(in.Duration),
		SpecialInstructions: in.SpecialInstructions,
		BeforeAfterFood:     timing,
		WithWater:           withWater,
		AvoidAlcohol:        in.AvoidAlcohol,
		StartDate:           start,
		EndDate:             EndDateFor(in.Duration, start),
		Times:               normalizeTimes(in.Times),
		TotalDoses:          in.TotalDoses,
		TakenDoses:          0,
		DoseLogs:            []DoseLog{},
		Active:              true,
		Notifications:       Notifications{Enabled: true, ReminderMinutes: reminderMinutes},
		CreatedAt:           now.UTC(),
		UpdatedAt:           now.UTC(),
	}
	return p, nil
}

func validateRequired(in NewInput) error {
	var missing []string
	if strings.TrimSpace(in.MedicineName) == "" {
		missing = append(missing, "medicineName")
	}
	if strings.TrimSpace(in.Dosage) == "" {
		missing = append(missing, "dosage")
	}
	if strings.TrimSpace(in.Frequency) == "" {
		missing = append(missing, "frequency")
	}
	if strings.TrimSpace(in.Duration) == "" {
		missing = append(missing, "duration")
	}
	if in.TotalDoses < 1 {
		missing = append(missing, "totalDoses")
	}
	if len(missing) > 0 {
		return &MissingFieldsError{Fields: missing}
	}
	return nil
}

// normalizeTimes trims entries and drops blanks while preserving order.
func normalizeTimes(times []string) []string {
	out := make([]string, 0, len(times))
	for _, t := range times {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// RecordDose appends a taken-dose log entry and advances the counter.
// The counter never exceeds TotalDoses, and reaching it deactivates the
// prescription. Store implementations must make this read-modify-write
// atomic; see Repository.MarkDoseTaken.
func (p *Prescription) RecordDose(at time.Time, hhmm, notes string) error {
	if p.TakenDoses >= p.TotalDoses {
		return ErrAlreadyComplete
	}
	if hhmm == "" {
		hhmm = at.Format("15:04")
	}
	p.DoseLogs = append(p.DoseLogs, DoseLog{
		ID:    uuid.New().String(),
		Date:  at,
		Time:  hhmm,
		Taken: true,
		Notes: notes,
	})
	p.TakenDoses++
	if p.TakenDoses >= p.TotalDoses {
		p.Active = false
	}
	p.UpdatedAt = at.UTC()
	return nil
}

// ReminderTolerance returns the reminder window for this prescription.
func (p *Prescription) ReminderTolerance() time.Duration {
	minutes := p.Notifications.ReminderMinutes
	if minutes <= 0 {
		minutes = DefaultReminderMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// InDateWindow reports whether the given day falls inside the
// prescription's start/end range. EndDate nil means open-ended.
func (p *Prescription) InDateWindow(day time.Time) bool {
	d := truncateToDay(day)
	if d.Before(truncateToDay(p.StartDate)) {
		return false
	}
	if p.EndDate != nil && d.After(truncateToDay(*p.EndDate)) {
		return false
	}
	return true
}

func truncateToDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// Update holds allow-listed mutable fields for a partial edit. Pointer
// fields distinguish "absent" from zero values.
type Update struct {
	MedicineName        *string
	Dosage              *string
	Frequency           *string
	Duration            *string
	SpecialInstructions *string
	BeforeAfterFood     *FoodTiming
	WithWater           *bool
	AvoidAlcohol        *bool
	Times               *[]string
	TotalDoses          *int
	Active              *bool
	NotifyEnabled       *bool
	ReminderMinutes     *int
}

// Apply merges the update into the prescription. Changing the duration
// re-derives the end date from the existing start date.
func (p *Prescription) Apply(u Update, now time.Time) {
	if u.MedicineName != nil {
		p.MedicineName = strings.TrimSpace(*u.MedicineName)
	}
	if u.Dosage != nil {
		p.Dosage = strings.TrimSpace(*u.Dosage)
	}
	if u.Frequency != nil {
		p.Frequency = strings.TrimSpace(*u.Frequency)
	}
	if u.Duration != nil {
		p.Duration = strings.TrimSpace(*u.Duration)
		p.EndDate = EndDateFor(p.Duration, p.StartDate)
	}
	if u.SpecialInstructions != nil {
		p.SpecialInstructions = *u.SpecialInstructions
	}
	if u.BeforeAfterFood != nil {
		p.BeforeAfterFood = *u.BeforeAfterFood
	}
	if u.WithWater != nil {
		p.WithWater = *u.WithWater
	}
	if u.AvoidAlcohol != nil {
		p.AvoidAlcohol = *u.AvoidAlcohol
	}
	if u.Times != nil {
		p.Times = normalizeTimes(*u.Times)
	}
	if u.TotalDoses != nil && *u.TotalDoses >= 1 {
		p.TotalDoses = *u.TotalDoses
		if p.TakenDoses > p.TotalDoses {
			p.TakenDoses = p.TotalDoses
		}
		p.Active = p.TakenDoses < p.TotalDoses
	}
	if u.Active != nil {
		p.Active = *u.Active
	}
	if u.NotifyEnabled != nil {
		p.Notifications.Enabled = *u.NotifyEnabled
	}
	if u.ReminderMinutes != nil && *u.ReminderMinutes > 0 {
		p.Notifications.ReminderMinutes = *u.ReminderMinutes
	}
	p.UpdatedAt = now.UTC()
}

// Clone returns a deep copy. The memory store hands out clones so callers
// cannot mutate stored state outside MarkDoseTaken.
func (p *Prescription) Clone() *Prescription {
	cp := *p
	cp.Times = append([]string(nil), p.Times...)
	cp.DoseLogs = append([]DoseLog(nil), p.DoseLogs...)
	if p.EndDate != nil {
		end := *p.EndDate
		cp.EndDate = &end
	}
	return &cp
}
