// Package importer converts FHIR R5 MedicationRequest resources, as exported
// by health-record systems, into prescriptions. Only the slice of the
// resource the tracker needs is modeled; unknown fields are ignored on
// decode.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// ErrNotImportable means the resource cannot become a trackable
// prescription (wrong resource type, inactive, or no medication named).
var ErrNotImportable = errors.New("resource is not importable")

// MedicationRequest is the subset of a FHIR R5 MedicationRequest the
// importer reads.
type MedicationRequest struct {
	ResourceType      string            `json:"resourceType"`
	ID                string            `json:"id,omitempty"`
	Status            string            `json:"status"`
	Intent            string            `json:"intent,omitempty"`
	Medication        CodeableReference `json:"medication"`
	AuthoredOn        *time.Time        `json:"authoredOn,omitempty"`
	Note              []Annotation      `json:"note,omitempty"`
	DosageInstruction []Dosage          `json:"dosageInstruction,omitempty"`
	DispenseRequest   *DispenseRequest  `json:"dispenseRequest,omitempty"`
}

// CodeableReference names the medication either by concept or reference.
type CodeableReference struct {
	Concept   *CodeableConcept `json:"concept,omitempty"`
	Reference *Reference       `json:"reference,omitempty"`
}

// CodeableConcept is a coded value with optional free text.
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding is a single code from a terminology system.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Reference points at another resource.
type Reference struct {
	Reference string `json:"reference,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Annotation is a free-text note.
type Annotation struct {
	Text string `json:"text"`
}

// Dosage carries the sig: text, timing and dose amount.
type Dosage struct {
	Text                  string            `json:"text,omitempty"`
	PatientInstruction    string            `json:"patientInstruction,omitempty"`
	AdditionalInstruction []CodeableConcept `json:"additionalInstruction,omitempty"`
	Timing                *Timing           `json:"timing,omitempty"`
	DoseAndRate           []DoseAndRate     `json:"doseAndRate,omitempty"`
}

// DoseAndRate carries the dose quantity.
type DoseAndRate struct {
	DoseQuantity *Quantity `json:"doseQuantity,omitempty"`
}

// Quantity is a value with a unit.
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// Timing holds the repeat schedule.
type Timing struct {
	Repeat *TimingRepeat `json:"repeat,omitempty"`
}

// TimingRepeat is the subset of FHIR timing the tracker can represent:
// N times per day at fixed clock times, before or after meals.
type TimingRepeat struct {
	Frequency  int      `json:"frequency,omitempty"`
	Period     float64  `json:"period,omitempty"`
	PeriodUnit string   `json:"periodUnit,omitempty"`
	TimeOfDay  []string `json:"timeOfDay,omitempty"`
	When       []string `json:"when,omitempty"`
}

// DispenseRequest carries the supply duration used to derive the
// tracker's duration string.
type DispenseRequest struct {
	Quantity               *Quantity `json:"quantity,omitempty"`
	ExpectedSupplyDuration *Duration `json:"expectedSupplyDuration,omitempty"`
	NumberOfRepeatsAllowed int       `json:"numberOfRepeatsAllowed,omitempty"`
}

// Duration is a FHIR duration (value + UCUM unit code).
type Duration struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
	Code  string  `json:"code,omitempty"`
}

// Parse decodes a MedicationRequest from JSON.
func Parse(data []byte) (*MedicationRequest, error) {
	var mr MedicationRequest
	if err := json.Unmarshal(data, &mr); err != nil {
		return nil, fmt.Errorf("decode medication request: %w", err)
	}
	if mr.ResourceType != "MedicationRequest" {
		return nil, fmt.Errorf("%w: resourceType %q", ErrNotImportable, mr.ResourceType)
	}
	return &mr, nil
}

// ToNewInput maps the resource onto prescription creation input. The
// caller owns validation via prescription.New; this only translates.
func ToNewInput(mr *MedicationRequest, userID string, now time.Time) (prescription.NewInput, error) {
	var in prescription.NewInput

	switch mr.Status {
	case "active", "draft", "":
	default:
		return in, fmt.Errorf("%w: status %q", ErrNotImportable, mr.Status)
	}

	name := medicationName(mr)
	if name == "" {
		return in, fmt.Errorf("%w: no medication name", ErrNotImportable)
	}

	in.UserID = userID
	in.Origin = prescription.OriginImported
	in.MedicineName = name
	in.StartDate = mr.AuthoredOn

	var sig *Dosage
	if len(mr.DosageInstruction) > 0 {
		sig = &mr.DosageInstruction[0]
	}

	if sig != nil {
		in.Dosage = doseText(sig)
		in.Frequency = frequencyText(sig)
		in.Times = clockTimes(sig)
		in.BeforeAfterFood = foodTiming(sig)
		in.SpecialInstructions = sig.PatientInstruction
		in.AvoidAlcohol = mentionsAlcohol(sig)
	}
	if in.SpecialInstructions == "" && len(mr.Note) > 0 {
		in.SpecialInstructions = mr.Note[0].Text
	}

	in.Duration = durationText(mr.DispenseRequest)
	in.TotalDoses = totalDoses(mr, sig, now)

	return in, nil
}

func medicationName(mr *MedicationRequest) string {
	if c := mr.Medication.Concept; c != nil {
		if c.Text != "" {
			return c.Text
		}
		for _, coding := range c.Coding {
			if coding.Display != "" {
				return coding.Display
			}
		}
	}
	if r := mr.Medication.Reference; r != nil {
		return r.Display
	}
	return ""
}

func doseText(sig *Dosage) string {
	for _, dr := range sig.DoseAndRate {
		if dr.DoseQuantity != nil && dr.DoseQuantity.Value > 0 {
			return strings.TrimSpace(fmt.Sprintf("%g %s", dr.DoseQuantity.Value, dr.DoseQuantity.Unit))
		}
	}
	return sig.Text
}

func frequencyText(sig *Dosage) string {
	r := repeat(sig)
	if r == nil || r.Frequency <= 0 {
		return sig.Text
	}
	switch r.PeriodUnit {
	case "d", "":
		return fmt.Sprintf("%dx daily", r.Frequency)
	case "wk":
		return fmt.Sprintf("%dx weekly", r.Frequency)
	default:
		return fmt.Sprintf("%dx per %g%s", r.Frequency, r.Period, r.PeriodUnit)
	}
}

// clockTimes normalizes FHIR timeOfDay ("08:00:00") to the tracker's
// "HH:MM" form.
func clockTimes(sig *Dosage) []string {
	r := repeat(sig)
	if r == nil {
		return nil
	}
	times := make([]string, 0, len(r.TimeOfDay))
	for _, t := range r.TimeOfDay {
		if len(t) >= 5 {
			times = append(times, t[:5])
		}
	}
	return times
}

func foodTiming(sig *Dosage) prescription.FoodTiming {
	if r := repeat(sig); r != nil {
		for _, when := range r.When {
			switch when {
			case "AC", "ACM", "ACD", "ACV":
				return prescription.FoodBefore
			case "PC", "PCM", "PCD", "PCV":
				return prescription.FoodAfter
			case "C", "CM", "CD", "CV":
				return prescription.FoodWith
			}
		}
	}
	return ""
}

func mentionsAlcohol(sig *Dosage) bool {
	for _, inst := range sig.AdditionalInstruction {
		if strings.Contains(strings.ToLower(inst.Text), "alcohol") {
			return true
		}
		for _, coding := range inst.Coding {
			if strings.Contains(strings.ToLower(coding.Display), "alcohol") {
				return true
			}
		}
	}
	return false
}

func durationText(dr *DispenseRequest) string {
	if dr == nil || dr.ExpectedSupplyDuration == nil || dr.ExpectedSupplyDuration.Value <= 0 {
		return ""
	}
	d := dr.ExpectedSupplyDuration
	n := int(d.Value)
	unit := d.Code
	if unit == "" {
		unit = d.Unit
	}
	switch strings.ToLower(unit) {
	case "d", "day", "days":
		return fmt.Sprintf("%d days", n)
	case "wk", "week", "weeks":
		return fmt.Sprintf("%d weeks", n)
	case "mo", "month", "months":
		return fmt.Sprintf("%d months", n)
	default:
		return ""
	}
}

// totalDoses prefers the dispense quantity; otherwise frequency per day
// times the supply duration in days.
func totalDoses(mr *MedicationRequest, sig *Dosage, now time.Time) int {
	if mr.DispenseRequest != nil && mr.DispenseRequest.Quantity != nil {
		if n := int(mr.DispenseRequest.Quantity.Value); n > 0 {
			return n
		}
	}

	r := repeat(sig)
	if r == nil || r.Frequency <= 0 {
		return 0
	}
	perDay := r.Frequency

	duration := durationText(mr.DispenseRequest)
	if duration == "" {
		return 0
	}
	start := now
	if mr.AuthoredOn != nil {
		start = *mr.AuthoredOn
	}
	end := prescription.EndDateFor(duration, start)
	if end == nil {
		return 0
	}
	days := int(end.Sub(start).Hours() / 24)
	if days <= 0 {
		return 0
	}
	return perDay * days
}

func repeat(sig *Dosage) *TimingRepeat {
	if sig == nil || sig.Timing == nil {
		return nil
	}
	return sig.Timing.Repeat
}
