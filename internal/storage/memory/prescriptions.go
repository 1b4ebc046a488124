// Package memory provides an in-memory prescription store. It backs
// tests and local development with the same interface and atomicity
// semantics as the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// PrescriptionRepo is a mutex-guarded in-memory Repository.
type PrescriptionRepo struct {
	mu   sync.Mutex
	byID map[string]*prescription.Prescription
}

// NewPrescriptionRepo creates an empty store.
func NewPrescriptionRepo() *PrescriptionRepo {
	return &PrescriptionRepo{byID: make(map[string]*prescription.Prescription)}
}

var _ prescription.Repository = (*PrescriptionRepo)(nil)

// Create stores a new prescription.
func (r *PrescriptionRepo) Create(ctx context.Context, p *prescription.Prescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byID[p.ID] = p.Clone()
	return nil
}

// GetByID returns the prescription if it exists and belongs to the user.
func (r *PrescriptionRepo) GetByID(ctx context.Context, userID, id string) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.UserID != userID {
		return nil, prescription.ErrNotFound
	}
	return p.Clone(), nil
}

// ListByUser returns the user's prescriptions, newest first.
func (r *PrescriptionRepo) ListByUser(ctx context.Context, userID string) ([]*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*prescription.Prescription, 0)
	for _, p := range r.byID {
		if p.UserID == userID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ListActiveWithReminders returns active prescriptions with reminders
// enabled and a non-empty schedule, across all users.
func (r *PrescriptionRepo) ListActiveWithReminders(ctx context.Context) ([]*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*prescription.Prescription, 0)
	for _, p := range r.byID {
		if p.Active && p.Notifications.Enabled && len(p.Times) > 0 {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Update applies an allow-listed partial edit.
func (r *PrescriptionRepo) Update(ctx context.Context, userID, id string, u prescription.Update) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.UserID != userID {
		return nil, prescription.ErrNotFound
	}

	p.Apply(u, time.Now())
	return p.Clone(), nil
}

// Delete removes the prescription.
func (r *PrescriptionRepo) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.UserID != userID {
		return prescription.ErrNotFound
	}
	delete(r.byID, id)
	return nil
}

// MarkDoseTaken appends a dose log and advances the counter. The whole
// read-modify-write runs under the store mutex, so concurrent calls
// serialize and the counter can never pass the total.
func (r *PrescriptionRepo) MarkDoseTaken(ctx context.Context, userID, id string, in prescription.MarkDoseInput) (*prescription.Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok || p.UserID != userID {
		return nil, prescription.ErrNotFound
	}

	if err := p.RecordDose(in.At, in.Time, in.Notes); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}
