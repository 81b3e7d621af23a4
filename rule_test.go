package vigil

import (
	"testing"
	"time"
)

func mondayAt(hour, min int) time.Time {
	// 2026-04-06 is a Monday.
	return time.Date(2026, 4, 6, hour, min, 0, 0, time.UTC)
}

func TestEmptyScheduleIsAlwaysActive(t *testing.T) {
	s := Schedule{}
	if !s.Always() {
		t.Fatal("empty schedule not always")
	}
	active, next := s.Info(mondayAt(12, 0))
	if !active {
		t.Error("always schedule inactive")
	}
	if next.Before(mondayAt(12, 0).AddDate(1, 0, 0)) {
		t.Errorf("always schedule changes at %v", next)
	}
}

func TestInfoInsideWindow(t *testing.T) {
	s := Schedule{Windows: []Window{
		{Day: time.Monday, StartMin: 9 * 60, EndMin: 17 * 60},
	}}
	active, next := s.Info(mondayAt(12, 0))
	if !active {
		t.Fatal("noon on Monday not active")
	}
	if !next.Equal(mondayAt(17, 0)) {
		t.Errorf("next change = %v, want 17:00", next)
	}
}

func TestInfoBeforeWindow(t *testing.T) {
	s := Schedule{Windows: []Window{
		{Day: time.Monday, StartMin: 9 * 60, EndMin: 17 * 60},
	}}
	active, next := s.Info(mondayAt(7, 30))
	if active {
		t.Fatal("07:30 on Monday active")
	}
	if !next.Equal(mondayAt(9, 0)) {
		t.Errorf("next change = %v, want 09:00", next)
	}
}

func TestInfoWindowWrapsMidnight(t *testing.T) {
	s := Schedule{Windows: []Window{
		{Day: time.Monday, StartMin: 22 * 60, EndMin: 6 * 60},
	}}

	active, next := s.Info(mondayAt(23, 0))
	if !active {
		t.Fatal("23:00 inside a 22:00-06:00 window not active")
	}
	tuesdaySix := mondayAt(0, 0).AddDate(0, 0, 1).Add(6 * time.Hour)
	if !next.Equal(tuesdaySix) {
		t.Errorf("next change = %v, want Tuesday 06:00", next)
	}

	// The tail past midnight still belongs to Monday's window.
	active, _ = s.Info(tuesdaySix.Add(-2 * time.Hour))
	if !active {
		t.Error("Tuesday 04:00 not active")
	}
}

func TestInfoNextWeekWindow(t *testing.T) {
	s := Schedule{Windows: []Window{
		{Day: time.Monday, StartMin: 9 * 60, EndMin: 10 * 60},
	}}
	// Monday 11:00: the next activation is next Monday.
	active, next := s.Info(mondayAt(11, 0))
	if active {
		t.Fatal("11:00 active after the window closed")
	}
	if !next.Equal(mondayAt(9, 0).AddDate(0, 0, 7)) {
		t.Errorf("next change = %v, want next Monday 09:00", next)
	}
}
