package prescription

import (
	"testing"
	"time"
)

func TestEndDateFor(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		duration string
		want     string // "" means nil
	}{
		{"days", "7 days", "2024-01-08"},
		{"single day", "1 day", "2024-01-02"},
		{"weeks", "2 weeks", "2024-01-15"},
		{"month", "1 month", "2024-02-01"},
		{"months calendar arithmetic", "2 months", "2024-03-01"},
		{"no space", "10days", "2024-01-11"},
		{"mixed case", "3 Weeks", "2024-01-22"},
		{"embedded", "take for 5 days then stop", "2024-01-06"},
		{"unparseable", "as needed", ""},
		{"empty", "", ""},
		{"number only", "7", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EndDateFor(tt.duration, start)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("expected nil end date, got %v", got)
				}
				return
			}
			if got == nil {
				t.Fatalf("expected end date %s, got nil", tt.want)
			}
			if formatted := got.Format("2006-01-02"); formatted != tt.want {
				t.Errorf("end date = %s, want %s", formatted, tt.want)
			}
		})
	}
}

func TestEndDateNeverBeforeStart(t *testing.T) {
	start := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	for _, d := range []string{"1 day", "1 week", "1 month", "30 days", "12 months"} {
		end := EndDateFor(d, start)
		if end == nil {
			t.Fatalf("%q: expected an end date", d)
		}
		if end.Before(start) {
			t.Errorf("%q: end %v before start %v", d, end, start)
		}
	}
}
