package availability

import (
	"testing"
	"time"
)

func TestDayScheduleValidate(t *testing.T) {
	good := DaySchedule{Weekday: 1, Active: true, StartMinute: 8 * 60, EndMinute: 18 * 60}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	if err := (DaySchedule{Weekday: 7, Active: true, StartMinute: 0, EndMinute: 60}).Validate(); err == nil {
		t.Fatal("weekday 7 should be rejected")
	}
	if err := (DaySchedule{Weekday: 1, Active: true, StartMinute: 600, EndMinute: 540}).Validate(); err == nil {
		t.Fatal("active day with start >= end should be rejected")
	}
	if err := (DaySchedule{Weekday: 1, Active: true, StartMinute: 600, EndMinute: 600}).Validate(); err == nil {
		t.Fatal("active day with start == end should be rejected")
	}
	// Inactive days may carry whatever leftovers the provider saved last.
	if err := (DaySchedule{Weekday: 1, Active: false, StartMinute: 600, EndMinute: 540}).Validate(); err != nil {
		t.Fatalf("inactive day should not validate ordering: %v", err)
	}
	if err := (DaySchedule{Weekday: 1, Active: true, StartMinute: -1, EndMinute: 60}).Validate(); err == nil {
		t.Fatal("negative start minute should be rejected")
	}
}

func TestLocalDayKeepsCalendarDateBehindUTC(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 2026-02-02 is a Monday. Parsed as a bare date it is midnight UTC,
	// which is still Sunday evening in Sao Paulo; the provider asked about
	// Monday regardless.
	date, err := time.Parse("2006-01-02", "2026-02-02")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}

	day, weekday := LocalDay(date, loc)
	if weekday != int(time.Monday) {
		t.Fatalf("weekday %d, want %d (Monday)", weekday, int(time.Monday))
	}
	if day.Year() != 2026 || day.Month() != time.February || day.Day() != 2 {
		t.Fatalf("local day %s, want 2026-02-02", day.Format("2006-01-02"))
	}
	if day.Location() != loc {
		t.Fatalf("local day in %s, want %s", day.Location(), loc)
	}

	// The window built from LocalDay's date must be Monday's, not Sunday's.
	sched := DaySchedule{Weekday: int(time.Monday), Active: true, StartMinute: 9 * 60, EndMinute: 17 * 60}
	start, _, ok := sched.Window(day.Year(), day.Month(), day.Day(), loc)
	if !ok {
		t.Fatal("active schedule should produce a window")
	}
	if start.Weekday() != time.Monday {
		t.Fatalf("window starts on %s, want Monday", start.Weekday())
	}

	// Positive-offset zones stay on the requested date too.
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	_, weekday = LocalDay(date, tokyo)
	if weekday != int(time.Monday) {
		t.Fatalf("weekday %d in Tokyo, want %d (Monday)", weekday, int(time.Monday))
	}
}

func TestDayScheduleWindow(t *testing.T) {
	sched := DaySchedule{Weekday: 1, Active: true, StartMinute: 9 * 60, EndMinute: 17*60 + 30}
	start, end, ok := sched.Window(2026, time.February, 2, time.UTC)
	if !ok {
		t.Fatal("active schedule should produce a window")
	}
	if start.Hour() != 9 || start.Minute() != 0 {
		t.Fatalf("window start %s, want 09:00", start.Format("15:04"))
	}
	if end.Hour() != 17 || end.Minute() != 30 {
		t.Fatalf("window end %s, want 17:30", end.Format("15:04"))
	}

	inactive := DaySchedule{Weekday: 0, Active: false, StartMinute: 9 * 60, EndMinute: 17 * 60}
	if _, _, ok := inactive.Window(2026, time.February, 1, time.UTC); ok {
		t.Fatal("inactive schedule must not produce a window")
	}
}

func TestDayScheduleContains(t *testing.T) {
	sched := DaySchedule{Weekday: 1, Active: true, StartMinute: 8 * 60, EndMinute: 18 * 60}
	loc := time.UTC

	in := time.Date(2026, 2, 2, 10, 0, 0, 0, loc)
	if !sched.Contains(in, in.Add(time.Hour), loc) {
		t.Fatal("10:00-11:00 should fit inside 08:00-18:00")
	}
	edge := time.Date(2026, 2, 2, 17, 0, 0, 0, loc)
	if !sched.Contains(edge, edge.Add(time.Hour), loc) {
		t.Fatal("17:00-18:00 should fit: end is inclusive of the window edge")
	}
	over := time.Date(2026, 2, 2, 17, 30, 0, 0, loc)
	if sched.Contains(over, over.Add(time.Hour), loc) {
		t.Fatal("17:30-18:30 spills past the window")
	}
	early := time.Date(2026, 2, 2, 7, 30, 0, 0, loc)
	if sched.Contains(early, early.Add(time.Hour), loc) {
		t.Fatal("7:30 start is before the window opens")
	}
}
