package prescription

import (
	"context"
	"time"
)

// MarkDoseInput carries the fields of a mark-dose-taken request.
type MarkDoseInput struct {
	// Time is the "HH:MM" the dose was scheduled for. Empty means "now".
	Time  string
	Notes string
	At    time.Time
}

// Repository is the store contract for prescriptions. Every read and
// write is scoped to the owning user; a lookup for another user's record
// behaves as if the record does not exist.
//
// MarkDoseTaken is the one operation with a hard atomicity requirement:
// concurrent calls on the same prescription must never push TakenDoses
// past TotalDoses or lose an increment. The Postgres implementation uses
// a conditional single-statement update, the memory implementation a
// per-store mutex.
type Repository interface {
	Create(ctx context.Context, p *Prescription) error
	GetByID(ctx context.Context, userID, id string) (*Prescription, error)
	ListByUser(ctx context.Context, userID string) ([]*Prescription, error)
	// ListActiveWithReminders returns every active prescription, across
	// all users, that has reminders enabled and at least one dose time.
	ListActiveWithReminders(ctx context.Context) ([]*Prescription, error)
	Update(ctx context.Context, userID, id string, u Update) (*Prescription, error)
	Delete(ctx context.Context, userID, id string) error
	MarkDoseTaken(ctx context.Context, userID, id string, in MarkDoseInput) (*Prescription, error)
}
