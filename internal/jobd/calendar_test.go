package jobd

import (
	"testing"
	"time"
)

func intPtr(n int) *int { return &n }

func TestCalendarScheduleEveryHourOnTheHour(t *testing.T) {
	sched, err := NewCalendarSchedule(&CalendarInterval{Minute: intPtr(0)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := time.Date(2026, 7, 30, 14, 15, 0, 0, time.UTC)
	next := sched.Next(from)

	want := time.Date(2026, 7, 30, 15, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestCalendarScheduleSpecificTimeOfDay(t *testing.T) {
	sched, err := NewCalendarSchedule(&CalendarInterval{Hour: intPtr(9), Minute: intPtr(30)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	from := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next := sched.Next(from)

	want := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %v, got %v", want, next)
	}
}

func TestFieldClampsOutOfRangeValues(t *testing.T) {
	if got := field(intPtr(-5), 0, 59); got != "0" {
		t.Errorf("expected clamping to the lower bound, got %s", got)
	}
	if got := field(intPtr(100), 0, 59); got != "59" {
		t.Errorf("expected clamping to the upper bound, got %s", got)
	}
	if got := field(nil, 0, 59); got != "*" {
		t.Errorf("expected \"*\" for a nil field, got %s", got)
	}
}
