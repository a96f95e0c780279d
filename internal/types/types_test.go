package types

import "testing"

func TestTaskStatusMarkerRoundTrip(t *testing.T) {
	for _, s := range []TaskStatus{TaskPending, TaskInProgress, TaskCompleted, TaskTransferred, TaskCanceled} {
		got, ok := TaskStatusFromMarker(s.Marker())
		if !ok || got != s {
			t.Errorf("TaskStatusFromMarker(%q) = %q, %v; want %q", s.Marker(), got, ok, s)
		}
	}
	if _, ok := TaskStatusFromMarker('?'); ok {
		t.Error("expected unknown marker to be rejected")
	}
	if got, _ := TaskStatusFromMarker('X'); got != TaskCompleted {
		t.Errorf("uppercase X = %q, want completed", got)
	}
}

func TestParseIncrementStatus(t *testing.T) {
	tests := []struct {
		in      string
		want    IncrementStatus
		wantErr bool
	}{
		{"active", IncrementActive, false},
		{"in-progress", IncrementActive, false},
		{"in_progress", IncrementActive, false},
		{"Completed", IncrementCompleted, false},
		{"planning", IncrementPlanning, false},
		{"paused", IncrementPaused, false},
		{"abandoned", IncrementAbandoned, false},
		{"shipped", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIncrementStatus(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIncrementStatus(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseIncrementStatus(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseResolution(t *testing.T) {
	tests := map[string]Resolution{
		"last-write-wins": ResolveLastWriteWins,
		"newest":          ResolveLastWriteWins,
		"specweave-wins":  ResolveLocalWins,
		"local-wins":      ResolveLocalWins,
		"github-wins":     ResolveExternalWins,
		"jira-wins":       ResolveExternalWins,
		"external-wins":   ResolveExternalWins,
		"prompt":          ResolvePrompt,
		"manual":          ResolvePrompt,
	}
	for in, want := range tests {
		got, err := ParseResolution(in)
		if err != nil {
			t.Fatalf("ParseResolution(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseResolution(%q) = %q, want %q", in, got, want)
		}
		if !got.IsValid() {
			t.Errorf("%q should be canonical", got)
		}
	}
	if _, err := ParseResolution("coin-flip"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestIDHelpers(t *testing.T) {
	if got := NormalizeUserStoryID("US-1"); got != "US-001" {
		t.Errorf("NormalizeUserStoryID(US-1) = %q", got)
	}
	if got := NormalizeUserStoryID("us12"); got != "US-012" {
		t.Errorf("NormalizeUserStoryID(us12) = %q", got)
	}
	if got := NormalizeUserStoryID("story"); got != "story" {
		t.Errorf("unrecognized id should pass through, got %q", got)
	}
	if n, ok := ACStoryNumber("AC-US3-02"); !ok || n != 3 {
		t.Errorf("ACStoryNumber = %d, %v", n, ok)
	}
	if _, ok := ACStoryNumber("AC-3"); ok {
		t.Error("AC-3 is not a valid AC id")
	}
	if !IsValidTaskID("T-013") || IsValidTaskID("T13") {
		t.Error("IsValidTaskID mismatch")
	}
	n, slug, err := ParseIncrementID("0043-status-sync")
	if err != nil || n != 43 || slug != "status-sync" {
		t.Errorf("ParseIncrementID = %d, %q, %v", n, slug, err)
	}
	if _, _, err := ParseIncrementID("43-x"); err == nil {
		t.Error("expected error for short increment number")
	}
}
