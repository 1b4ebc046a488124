// Package reminder matches scheduled dose times against wall-clock time
// and de-duplicates the resulting reminder events.
//
// One tolerance semantics applies everywhere: a dose is due when the
// absolute distance between now and today's scheduled time is within the
// prescription's reminder window, boundary inclusive.
package reminder

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// Clock abstracts time.Now so matching is testable without real timers.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// Match is one due (prescription, scheduled time) pair.
type Match struct {
	Prescription  *prescription.Prescription
	ScheduledTime string // "HH:MM"
	MatchedAt     time.Time
}

// Key returns the de-duplication key for the match: one emission per
// prescription, scheduled slot and calendar day.
func (m Match) Key() string {
	return DedupKey(m.Prescription.ID, m.ScheduledTime, m.MatchedAt)
}

// DedupKey builds the (prescription, time, day) de-duplication key.
func DedupKey(prescriptionID, hhmm string, day time.Time) string {
	return prescriptionID + "|" + hhmm + "|" + day.Format("2006-01-02")
}

// Deduper records emitted reminders. Claim returns true exactly once per
// key; subsequent calls for the same key return false.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// Matcher evaluates prescriptions against the clock.
type Matcher struct {
	clock  Clock
	logger *zap.Logger
}

// NewMatcher creates a matcher. A nil clock falls back to the system
// clock.
func NewMatcher(clock Clock, logger *zap.Logger) *Matcher {
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{clock: clock, logger: logger}
}

// Due returns every (prescription, time) pair within its reminder window
// right now. Inactive prescriptions, disabled notifications, empty
// schedules, malformed times and out-of-range dates are skipped.
func (m *Matcher) Due(prescriptions []*prescription.Prescription) []Match {
	now := m.clock.Now()

	var matches []Match
	for _, p := range prescriptions {
		if !p.Active || !p.Notifications.Enabled || len(p.Times) == 0 {
			continue
		}
		if !p.InDateWindow(now) {
			continue
		}

		tolerance := p.ReminderTolerance()
		for _, hhmm := range p.Times {
			scheduled, err := atTimeToday(now, hhmm)
			if err != nil {
				m.logger.Warn("skipping malformed dose time",
					zap.String("prescription_id", p.ID),
					zap.String("time", hhmm))
				continue
			}

			delta := now.Sub(scheduled)
			if delta < 0 {
				delta = -delta
			}
			if delta <= tolerance {
				matches = append(matches, Match{
					Prescription:  p,
					ScheduledTime: hhmm,
					MatchedAt:     now,
				})
			}
		}
	}
	return matches
}

// atTimeToday resolves "HH:MM" onto now's calendar day and location.
func atTimeToday(now time.Time, hhmm string) (time.Time, error) {
	parsed, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(),
		parsed.Hour(), parsed.Minute(), 0, 0, now.Location()), nil
}
