package availability

import (
	"testing"
	"time"
)

// Monday 2026-02-02 in the provider's timezone.
func mondayAt(t *testing.T, loc *time.Location, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 2, 2, hour, min, 0, 0, loc)
}

func TestSlots_FullDayGrid(t *testing.T) {
	loc := time.UTC
	windowStart := mondayAt(t, loc, 8, 0)
	windowEnd := mondayAt(t, loc, 18, 0)
	dur := 60 * time.Minute
	buf := 15 * time.Minute
	now := mondayAt(t, loc, 0, 0)

	slots := Slots(windowStart, windowEnd, dur, dur, buf, nil, now)
	if len(slots) != 10 {
		t.Fatalf("expected 10 slots, got %d: %v", len(slots), slots)
	}
	if !slots[0].Equal(mondayAt(t, loc, 8, 0)) {
		t.Fatalf("first slot should be 08:00, got %s", slots[0].Format("15:04"))
	}
	if !slots[len(slots)-1].Equal(mondayAt(t, loc, 17, 0)) {
		t.Fatalf("last slot should be 17:00, got %s", slots[len(slots)-1].Format("15:04"))
	}
	// Buffer only affects adjacency to booked windows, never the grid itself.
	for i := 1; i < len(slots); i++ {
		if got := slots[i].Sub(slots[i-1]); got != time.Hour {
			t.Fatalf("slots %d and %d spaced %s apart, want 1h", i-1, i, got)
		}
	}
}

func TestSlots_BookedWindowExcludesNeighborsWithinBuffer(t *testing.T) {
	loc := time.UTC
	windowStart := mondayAt(t, loc, 8, 0)
	windowEnd := mondayAt(t, loc, 18, 0)
	dur := 60 * time.Minute
	buf := 15 * time.Minute
	now := mondayAt(t, loc, 0, 0)

	busy := []Interval{{
		Start:  mondayAt(t, loc, 10, 0),
		End:    mondayAt(t, loc, 11, 0),
		Buffer: buf,
	}}

	slots := Slots(windowStart, windowEnd, dur, dur, buf, busy, now)

	excluded := map[string]bool{"09:00": true, "10:00": true, "11:00": true}
	for _, s := range slots {
		if excluded[s.Format("15:04")] {
			t.Fatalf("slot %s should be excluded by the 10:00-11:00 booking", s.Format("15:04"))
		}
	}
	want := []string{"08:00", "12:00", "13:00", "14:00", "15:00", "16:00", "17:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d: %v", len(want), len(slots), slots)
	}
	for i, w := range want {
		if got := slots[i].Format("15:04"); got != w {
			t.Fatalf("slot %d: got %s, want %s", i, got, w)
		}
	}
}

func TestSlots_TrailingPartialDropped(t *testing.T) {
	loc := time.UTC
	windowStart := mondayAt(t, loc, 9, 0)
	windowEnd := mondayAt(t, loc, 10, 30)
	dur := 60 * time.Minute
	now := mondayAt(t, loc, 0, 0)

	slots := Slots(windowStart, windowEnd, dur, dur, 0, nil, now)
	// 09:00 fits; 10:00 would end at 11:00, past the window.
	if len(slots) != 1 || !slots[0].Equal(mondayAt(t, loc, 9, 0)) {
		t.Fatalf("expected single 09:00 slot, got %v", slots)
	}
}

func TestSlots_PastAndPresentExcluded(t *testing.T) {
	loc := time.UTC
	windowStart := mondayAt(t, loc, 8, 0)
	windowEnd := mondayAt(t, loc, 12, 0)
	dur := 60 * time.Minute

	// now exactly on a grid point: that slot is not bookable either.
	now := mondayAt(t, loc, 9, 0)
	slots := Slots(windowStart, windowEnd, dur, dur, 0, nil, now)
	want := []string{"10:00", "11:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %v, got %v", want, slots)
	}
	for i, w := range want {
		if got := slots[i].Format("15:04"); got != w {
			t.Fatalf("slot %d: got %s, want %s", i, got, w)
		}
	}
}

func TestSlots_EmptyAndDegenerateWindows(t *testing.T) {
	loc := time.UTC
	start := mondayAt(t, loc, 9, 0)
	now := mondayAt(t, loc, 0, 0)

	if got := Slots(start, start, time.Hour, time.Hour, 0, nil, now); got != nil {
		t.Fatalf("zero-length window should yield no slots, got %v", got)
	}
	if got := Slots(start, start.Add(30*time.Minute), time.Hour, time.Hour, 0, nil, now); got != nil {
		t.Fatalf("window shorter than duration should yield no slots, got %v", got)
	}
	if got := Slots(start, start.Add(2*time.Hour), 0, time.Hour, 0, nil, now); got != nil {
		t.Fatalf("non-positive duration should yield no slots, got %v", got)
	}
}

func TestSlots_Idempotent(t *testing.T) {
	loc := time.UTC
	windowStart := mondayAt(t, loc, 8, 0)
	windowEnd := mondayAt(t, loc, 18, 0)
	dur := 45 * time.Minute
	now := mondayAt(t, loc, 0, 0)
	busy := []Interval{{
		Start:  mondayAt(t, loc, 12, 0),
		End:    mondayAt(t, loc, 12, 45),
		Buffer: 10 * time.Minute,
	}}

	first := Slots(windowStart, windowEnd, dur, dur, 10*time.Minute, busy, now)
	second := Slots(windowStart, windowEnd, dur, dur, 10*time.Minute, busy, now)
	if len(first) != len(second) {
		t.Fatalf("slot counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].Equal(second[i]) {
			t.Fatalf("slot %d differs: %s vs %s", i, first[i], second[i])
		}
	}
	// Strictly ascending.
	for i := 1; i < len(first); i++ {
		if !first[i].After(first[i-1]) {
			t.Fatalf("slots not strictly ascending at %d", i)
		}
	}
}

func TestSlots_ProviderLocalTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("timezone db unavailable: %v", err)
	}
	windowStart := mondayAt(t, loc, 8, 0)
	windowEnd := mondayAt(t, loc, 10, 0)
	now := mondayAt(t, loc, 0, 0)

	slots := Slots(windowStart, windowEnd, time.Hour, time.Hour, 0, nil, now)
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Location() != loc {
			t.Fatalf("slot %s lost provider location", s)
		}
	}
	if slots[0].Format("15:04") != "08:00" {
		t.Fatalf("expected local 08:00, got %s", slots[0].Format("15:04"))
	}
}

func TestConflicts_PaddedWindows(t *testing.T) {
	loc := time.UTC
	booked := Interval{
		Start:  mondayAt(t, loc, 10, 0),
		End:    mondayAt(t, loc, 11, 0),
		Buffer: 15 * time.Minute,
	}

	// Candidate ending right at the booking start still conflicts through its
	// own trailing buffer.
	if !Conflicts(mondayAt(t, loc, 9, 0), mondayAt(t, loc, 10, 0), 15*time.Minute, booked) {
		t.Fatal("candidate touching booked start via buffer should conflict")
	}
	// Candidate starting inside the booked trailing buffer conflicts.
	if !Conflicts(mondayAt(t, loc, 11, 0), mondayAt(t, loc, 12, 0), 15*time.Minute, booked) {
		t.Fatal("candidate inside booked trailing buffer should conflict")
	}
	// Candidate starting exactly where the padded window closes is clear.
	if Conflicts(mondayAt(t, loc, 11, 15), mondayAt(t, loc, 12, 15), 15*time.Minute, booked) {
		t.Fatal("candidate at padded boundary should not conflict")
	}
	// Far clear of the booking.
	if Conflicts(mondayAt(t, loc, 8, 0), mondayAt(t, loc, 8, 45), 0, booked) {
		t.Fatal("distant candidate should not conflict")
	}
}
