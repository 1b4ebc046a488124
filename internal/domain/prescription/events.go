package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of domain event
type EventType string

const (
	EventPrescriptionCreated   EventType = "PrescriptionCreated"
	EventPrescriptionUpdated   EventType = "PrescriptionUpdated"
	EventPrescriptionDeleted   EventType = "PrescriptionDeleted"
	EventDoseTaken             EventType = "DoseTaken"
	EventPrescriptionCompleted EventType = "PrescriptionCompleted"
	EventReminderDue           EventType = "ReminderDue"
)

// Event is the envelope written to the outbox and published to Kafka.
type Event struct {
	ID             string          `json:"id"`
	PrescriptionID string          `json:"prescription_id"`
	UserID         string          `json:"user_id"`
	EventType      EventType       `json:"event_type"`
	EventData      json.RawMessage `json:"event_data"`
	Timestamp      time.Time       `json:"timestamp"`
}

// NewEvent creates a new event
func NewEvent(prescriptionID, userID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:             uuid.New().String(),
		PrescriptionID: prescriptionID,
		UserID:         userID,
		EventType:      eventType,
		EventData:      eventData,
		Timestamp:      time.Now().UTC(),
	}, nil
}

// DoseTakenData contains the details of one recorded administration.
type DoseTakenData struct {
	PrescriptionID string    `json:"prescription_id"`
	MedicineName   string    `json:"medicine_name"`
	DoseLogID      string    `json:"dose_log_id"`
	Time           string    `json:"time"`
	Notes          string    `json:"notes,omitempty"`
	TakenDoses     int       `json:"taken_doses"`
	TotalDoses     int       `json:"total_doses"`
	Completed      bool      `json:"completed"`
	TakenAt        time.Time `json:"taken_at"`
}

// ReminderDueData contains a matched reminder.
type ReminderDueData struct {
	PrescriptionID string    `json:"prescription_id"`
	MedicineName   string    `json:"medicine_name"`
	Dosage         string    `json:"dosage"`
	ScheduledTime  string    `json:"scheduled_time"`
	MatchedAt      time.Time `json:"matched_at"`
}

// PrescriptionCreatedData contains creation details.
type PrescriptionCreatedData struct {
	PrescriptionID string     `json:"prescription_id"`
	MedicineName   string     `json:"medicine_name"`
	Dosage         string     `json:"dosage"`
	Frequency      string     `json:"frequency"`
	TotalDoses     int        `json:"total_doses"`
	Times          []string   `json:"times"`
	StartDate      time.Time  `json:"start_date"`
	EndDate        *time.Time `json:"end_date,omitempty"`
	Origin         Origin     `json:"origin"`
}
