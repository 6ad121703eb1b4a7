package availability

import (
	"fmt"
	"time"
)

const minutesPerDay = 24 * 60

// DaySchedule is one weekday of a provider's weekly availability. Times are
// minutes from midnight in the provider's own timezone; weekday 0 is Sunday.
type DaySchedule struct {
	Weekday     int
	Active      bool
	StartMinute int
	EndMinute   int
}

func (d DaySchedule) Validate() error {
	if d.Weekday < 0 || d.Weekday > 6 {
		return fmt.Errorf("weekday must be 0-6, got %d", d.Weekday)
	}
	if d.StartMinute < 0 || d.StartMinute > minutesPerDay {
		return fmt.Errorf("start minute out of range: %d", d.StartMinute)
	}
	if d.EndMinute < 0 || d.EndMinute > minutesPerDay {
		return fmt.Errorf("end minute out of range: %d", d.EndMinute)
	}
	if d.Active && d.StartMinute >= d.EndMinute {
		return fmt.Errorf("active day requires start before end (%d >= %d)", d.StartMinute, d.EndMinute)
	}
	return nil
}

// LocalDay anchors a bare calendar date (parsed "2006-01-02", so midnight
// UTC) to the provider's location and returns local midnight plus its
// weekday. Converting the UTC instant with In() instead would land on the
// previous calendar day for zones behind UTC.
func LocalDay(date time.Time, loc *time.Location) (time.Time, int) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, loc)
	return day, int(day.Weekday())
}

// Window materializes the schedule on a calendar date in the given location.
// ok is false when the day is inactive or the schedule is degenerate.
func (d DaySchedule) Window(year int, month time.Month, day int, loc *time.Location) (start, end time.Time, ok bool) {
	if !d.Active || d.StartMinute >= d.EndMinute {
		return time.Time{}, time.Time{}, false
	}
	midnight := time.Date(year, month, day, 0, 0, 0, 0, loc)
	start = midnight.Add(time.Duration(d.StartMinute) * time.Minute)
	end = midnight.Add(time.Duration(d.EndMinute) * time.Minute)
	return start, end, true
}

// Contains reports whether [start, end) fits inside the schedule's window on
// start's calendar date. Both times must already be in the provider location.
func (d DaySchedule) Contains(start, end time.Time, loc *time.Location) bool {
	ws, we, ok := d.Window(start.Year(), start.Month(), start.Day(), loc)
	if !ok {
		return false
	}
	return !start.Before(ws) && !end.After(we)
}
