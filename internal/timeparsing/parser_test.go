package timeparsing

import (
	"testing"
	"time"
)

// Wednesday, January 15, 2025, 10:00 local.
var now = time.Date(2025, 1, 15, 10, 0, 0, 0, time.Local)

func TestParseCompactDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Time
		wantErr bool
	}{
		{"+6h", now.Add(6 * time.Hour), false},
		{"-1d", now.AddDate(0, 0, -1), false},
		{"2w", now.AddDate(0, 0, 14), false},
		{"3m", now.AddDate(0, 3, 0), false},
		{"1y", now.AddDate(1, 0, 0), false},
		{"0d", now, false},
		{"6x", time.Time{}, true},
		{"d", time.Time{}, true},
		{"+ 6h", time.Time{}, true},
		{"", time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseCompactDuration(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseCompactDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseCompactDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseCompactDurationMonthBoundary(t *testing.T) {
	jan31 := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	got, err := ParseCompactDuration("+1m", jan31)
	if err != nil {
		t.Fatal(err)
	}
	// AddDate normalizes Feb 31 to Mar 3.
	if want := time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseRelativeTime(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantMonth time.Month
		wantDay   int
		wantHour  int // -1 skips the hour check
		wantErr   bool
	}{
		{"compact", "+1d", time.January, 16, 10, false},
		{"nlp tomorrow", "tomorrow", time.January, 16, -1, false},
		{"nlp yesterday", "yesterday", time.January, 14, -1, false},
		{"nlp ago", "3 days ago", time.January, 12, -1, false},
		{"date only", "2025-02-01", time.February, 1, 0, false},
		{"rfc3339", "2025-03-15T14:30:00Z", time.March, 15, 14, false},
		{"garbage", "not-a-date", 0, 0, -1, true},
		{"empty", "  ", 0, 0, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRelativeTime(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRelativeTime(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Month() != tt.wantMonth || got.Day() != tt.wantDay {
				t.Errorf("ParseRelativeTime(%q) = %v, want %v %d", tt.input, got, tt.wantMonth, tt.wantDay)
			}
			if tt.wantHour >= 0 && got.Hour() != tt.wantHour {
				t.Errorf("ParseRelativeTime(%q) hour = %d, want %d", tt.input, got.Hour(), tt.wantHour)
			}
		})
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{"-7d", 7 * 24 * time.Hour, false},
		{"12h", 12 * time.Hour, false},
		{"1h30m", 90 * time.Minute, false},
		{"2025-01-14", 34 * time.Hour, false},
		{"2025-02-01", 0, true},
		{"whenever", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAge(tt.input, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAge(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseAge(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseAgeCompactMonthsWin(t *testing.T) {
	got, err := ParseAge("90m", now)
	if err != nil {
		t.Fatal(err)
	}
	if want := now.AddDate(0, 90, 0).Sub(now); got != want {
		t.Errorf("ParseAge(90m) = %v, want %v", got, want)
	}
}
