package lifecycle

import (
	"strings"
	"testing"

	"github.com/agendei/agendei-server/services/booking-service/internal/model"
)

func TestAllowedTransitions(t *testing.T) {
	if !Can(model.StatusPending, model.StatusConfirmed) {
		t.Fatal("pending -> confirmed should be allowed")
	}
	if !Can(model.StatusPending, model.StatusCancelled) {
		t.Fatal("pending -> cancelled should be allowed")
	}
	if !Can(model.StatusConfirmed, model.StatusCompleted) {
		t.Fatal("confirmed -> completed should be allowed")
	}
	if !Can(model.StatusConfirmed, model.StatusCancelled) {
		t.Fatal("confirmed -> cancelled should be allowed")
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	targets := []model.Status{
		model.StatusPending,
		model.StatusConfirmed,
		model.StatusCancelled,
		model.StatusCompleted,
	}
	for _, from := range []model.Status{model.StatusCancelled, model.StatusCompleted} {
		for _, to := range targets {
			if Can(from, to) {
				t.Fatalf("terminal state %s must not transition to %s", from, to)
			}
		}
	}
}

func TestSkippingConfirmationIsRejected(t *testing.T) {
	if Can(model.StatusPending, model.StatusCompleted) {
		t.Fatal("pending -> completed must go through confirmed")
	}
}

func TestCheckNamesBothStates(t *testing.T) {
	err := Check(model.StatusCancelled, model.StatusConfirmed)
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsInvalidTransition(err) {
		t.Fatalf("expected InvalidTransitionError, got %T", err)
	}
	msg := err.Error()
	if want := "cancelled"; !strings.Contains(msg, want) {
		t.Fatalf("error %q should name current state %q", msg, want)
	}
	if want := "confirmed"; !strings.Contains(msg, want) {
		t.Fatalf("error %q should name attempted state %q", msg, want)
	}
}
