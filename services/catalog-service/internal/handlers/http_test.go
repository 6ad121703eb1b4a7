package handlers

import "testing"

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Hair & Beauty":     "hair-beauty",
		"  Deep Tissue  ":   "deep-tissue",
		"Personal Training": "personal-training",
		"90min":             "90min",
		"---":               "",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Errorf("slugify(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidateDaySchedule(t *testing.T) {
	valid := []dayScheduleBody{
		{Weekday: 0, Active: true, StartMinute: 480, EndMinute: 1080},
		{Weekday: 6, Active: false, StartMinute: 0, EndMinute: 0},
		{Weekday: 3, Active: true, StartMinute: 0, EndMinute: 1440},
	}
	for _, d := range valid {
		if msg, ok := validateDaySchedule(d); !ok {
			t.Errorf("expected %+v to validate, got %q", d, msg)
		}
	}

	invalid := []dayScheduleBody{
		{Weekday: 7, Active: true, StartMinute: 480, EndMinute: 1080},
		{Weekday: -1, Active: false},
		{Weekday: 1, Active: true, StartMinute: 600, EndMinute: 600},
		{Weekday: 1, Active: true, StartMinute: 700, EndMinute: 600},
		{Weekday: 1, Active: true, StartMinute: -5, EndMinute: 600},
		{Weekday: 1, Active: true, StartMinute: 480, EndMinute: 1500},
	}
	for _, d := range invalid {
		if _, ok := validateDaySchedule(d); ok {
			t.Errorf("expected %+v to be rejected", d)
		}
	}
}

func TestServiceRequestValidate(t *testing.T) {
	req := serviceRequest{Name: " Haircut ", DurationMinutes: 30, BufferMinutes: 10, Price: 50}
	if msg, ok := req.validate(); !ok {
		t.Fatalf("expected valid request, got %q", msg)
	}
	if req.Name != "Haircut" {
		t.Errorf("expected name trimmed, got %q", req.Name)
	}

	bad := []serviceRequest{
		{Name: "", DurationMinutes: 30},
		{Name: "Haircut", DurationMinutes: 0},
		{Name: "Haircut", DurationMinutes: 30, BufferMinutes: -1},
		{Name: "Haircut", DurationMinutes: 30, Price: -10},
	}
	for _, r := range bad {
		if _, ok := r.validate(); ok {
			t.Errorf("expected %+v to be rejected", r)
		}
	}
}
