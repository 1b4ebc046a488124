// Package adherence derives adherence statistics from prescription dose
// logs. All functions are pure over their inputs; "now" is always passed
// in so reports are reproducible under test.
package adherence

import (
	"math"
	"sort"
	"time"

	"github.com/careloop/go-medtrack/internal/domain/prescription"
)

// WindowDays is the length of the daily adherence series.
const WindowDays = 30

// StreakThreshold is the minimum daily rate for a day to count toward a
// streak. A day with no logged doses rates 0 and breaks the streak; the
// store has no notion of "no doses scheduled today", so absence of data
// is treated as missed.
const StreakThreshold = 80.0

// Totals aggregates dose counters across prescriptions.
type Totals struct {
	TotalDoses    int     `json:"total_doses"`
	TakenDoses    int     `json:"taken_doses"`
	AdherenceRate float64 `json:"adherence_rate"`
}

// DayStat is one entry of the daily series.
type DayStat struct {
	Date      string  `json:"date"` // "2006-01-02"
	Taken     int     `json:"taken"`
	Missed    int     `json:"missed"`
	DailyRate float64 `json:"daily_rate"`
}

// Streak holds the rolling streak over the series window.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// MedicineStat is the per-prescription completion summary.
type MedicineStat struct {
	PrescriptionID string  `json:"prescription_id"`
	MedicineName   string  `json:"medicine_name"`
	Dosage         string  `json:"dosage"`
	CompletionRate int     `json:"completion_rate"`
	TakenDoses     int     `json:"taken_doses"`
	TotalDoses     int     `json:"total_doses"`
	NextDose       *string `json:"next_dose,omitempty"` // "HH:MM", today or tomorrow
}

// Report is the full adherence view for one user.
type Report struct {
	Totals    Totals         `json:"totals"`
	Daily     []DayStat      `json:"daily"`
	Streak    Streak         `json:"streak"`
	Medicines []MedicineStat `json:"medicines"`
}

// Compute builds the complete report for a user's prescriptions.
func Compute(prescriptions []*prescription.Prescription, now time.Time) Report {
	daily := DailySeries(prescriptions, now)
	return Report{
		Totals:    ComputeTotals(prescriptions),
		Daily:     daily,
		Streak:    ComputeStreak(daily),
		Medicines: MedicineStats(prescriptions, now),
	}
}

// ComputeTotals sums dose counters. A zero total yields a zero rate,
// never a division error.
func ComputeTotals(prescriptions []*prescription.Prescription) Totals {
	var t Totals
	for _, p := range prescriptions {
		t.TotalDoses += p.TotalDoses
		t.TakenDoses += p.TakenDoses
	}
	if t.TotalDoses > 0 {
		t.AdherenceRate = round1(float64(t.TakenDoses) / float64(t.TotalDoses) * 100)
	}
	return t
}

// DailySeries returns exactly WindowDays entries, oldest first, ending on
// the calendar day of now. Log entries are bucketed by their local
// calendar date.
func DailySeries(prescriptions []*prescription.Prescription, now time.Time) []DayStat {
	type counts struct{ taken, missed int }
	byDay := make(map[string]counts)

	for _, p := range prescriptions {
		for _, log := range p.DoseLogs {
			key := log.Date.In(now.Location()).Format("2006-01-02")
			c := byDay[key]
			if log.Taken {
				c.taken++
			} else {
				c.missed++
			}
			byDay[key] = c
		}
	}

	series := make([]DayStat, 0, WindowDays)
	for i := WindowDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i)
		key := day.Format("2006-01-02")
		c := byDay[key]

		stat := DayStat{Date: key, Taken: c.taken, Missed: c.missed}
		if total := c.taken + c.missed; total > 0 {
			stat.DailyRate = round1(float64(c.taken) / float64(total) * 100)
		}
		series = append(series, stat)
	}
	return series
}

// ComputeStreak scans the daily series. Current is the consecutive run of
// qualifying days ending at the most recent entry; Longest is the maximum
// run anywhere in the window, so Longest >= Current always holds.
func ComputeStreak(daily []DayStat) Streak {
	var s Streak
	run := 0
	for _, day := range daily {
		if day.DailyRate >= StreakThreshold {
			run++
			if run > s.Longest {
				s.Longest = run
			}
		} else {
			run = 0
		}
	}
	// run now holds the trailing sequence ending at the newest day
	s.Current = run
	return s
}

// MedicineStats summarizes each active prescription. Completion is
// rounded to the nearest whole percent.
func MedicineStats(prescriptions []*prescription.Prescription, now time.Time) []MedicineStat {
	stats := make([]MedicineStat, 0, len(prescriptions))
	for _, p := range prescriptions {
		if !p.Active {
			continue
		}
		stat := MedicineStat{
			PrescriptionID: p.ID,
			MedicineName:   p.MedicineName,
			Dosage:         p.Dosage,
			TakenDoses:     p.TakenDoses,
			TotalDoses:     p.TotalDoses,
			NextDose:       NextDose(p, now),
		}
		if p.TotalDoses > 0 {
			stat.CompletionRate = int(math.Round(float64(p.TakenDoses) / float64(p.TotalDoses) * 100))
		}
		stats = append(stats, stat)
	}
	return stats
}

// NextDose returns the earliest scheduled time still ahead of now today,
// falling back to the earliest time tomorrow. Inactive prescriptions and
// prescriptions without dose times have no next dose.
func NextDose(p *prescription.Prescription, now time.Time) *string {
	if !p.Active || len(p.Times) == 0 {
		return nil
	}

	times := append([]string(nil), p.Times...)
	sort.Strings(times)

	nowHHMM := now.Format("15:04")
	for _, t := range times {
		if t > nowHHMM {
			next := t
			return &next
		}
	}
	// every time today has passed; first slot tomorrow
	next := times[0]
	return &next
}

// round1 rounds to one decimal place.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
