// Package lifecycle owns the booking status graph:
//
//	pending -> confirmed -> completed
//	pending -> cancelled
//	confirmed -> cancelled
//
// cancelled and completed are terminal.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/agendei/agendei-server/services/booking-service/internal/model"
)

type InvalidTransitionError struct {
	From model.Status
	To   model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition booking from %s to %s", e.From, e.To)
}

func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}

var allowed = map[model.Status]map[model.Status]bool{
	model.StatusPending: {
		model.StatusConfirmed: true,
		model.StatusCancelled: true,
	},
	model.StatusConfirmed: {
		model.StatusCompleted: true,
		model.StatusCancelled: true,
	},
}

func Can(from, to model.Status) bool {
	return allowed[from][to]
}

// Check returns an *InvalidTransitionError naming both states when the
// transition is not allowed.
func Check(from, to model.Status) error {
	if !Can(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}
