package workflow

import (
	"testing"
	"time"
)

func TestPreviousWeek_FromMonday(t *testing.T) {
	// Monday 2026-03-09.
	now := time.Date(2026, 3, 9, 6, 30, 0, 0, time.UTC)
	start, end := previousWeek(now)

	wantStart := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 8, 23, 59, 59, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
}

func TestPreviousWeek_FromSunday(t *testing.T) {
	// Sunday 2026-03-08: the last FULL week is still Feb 23 .. Mar 1.
	now := time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC)
	start, end := previousWeek(now)

	wantStart := time.Date(2026, 2, 23, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 1, 23, 59, 59, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
}

func TestPreviousMonth(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 5, 0, 0, time.UTC)
	start, end := previousMonth(now)

	wantStart := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
}

func TestPreviousMonth_JanuaryWrapsYear(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	start, end := previousMonth(now)

	wantStart := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Fatalf("start = %s, want %s", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Fatalf("end = %s, want %s", end, wantEnd)
	}
}
