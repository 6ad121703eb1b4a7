package availability

import "time"

// Interval is a booked window. Buffer is the gap that must stay free after
// End before another booking may start; it is part of the conflict window
// but not of the booking itself.
type Interval struct {
	Start  time.Time
	End    time.Time
	Buffer time.Duration
}

// Slots returns candidate start times within [windowStart, windowEnd) for a
// booking of the given duration. Candidates step by step (callers normally
// pass step == duration, so the grid never overlaps itself) and a trailing
// partial slot is dropped rather than rounded. A candidate survives when its
// padded window [start, end+buffer) clears every busy interval's padded
// window [busy.Start, busy.End+busy.Buffer) and its start is strictly after
// now.
//
// All times are expected to be in the same location (the provider's).
func Slots(windowStart, windowEnd time.Time, duration, step, buffer time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 || buffer < 0 {
		return nil
	}
	if !windowEnd.After(windowStart) {
		return nil
	}

	var slots []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if !t.After(now) {
			continue
		}
		if !conflictsAny(t, t.Add(duration), buffer, busy) {
			slots = append(slots, t)
		}
	}
	return slots
}

// Conflicts applies the padded-window intersection test:
// start < busy.End+busy.Buffer && end+buffer > busy.Start.
func Conflicts(start, end time.Time, buffer time.Duration, b Interval) bool {
	return start.Before(b.End.Add(b.Buffer)) && end.Add(buffer).After(b.Start)
}

func conflictsAny(start, end time.Time, buffer time.Duration, busy []Interval) bool {
	for _, b := range busy {
		if Conflicts(start, end, buffer, b) {
			return true
		}
	}
	return false
}
