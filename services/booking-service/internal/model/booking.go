package model

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Terminal states absorb: no transition may leave them.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return Status(raw), true
	}
	return "", false
}

// Booking is the authoritative reservation record. Rows are never deleted;
// cancellation is a status change so history survives.
type Booking struct {
	ID            string
	ServiceID     string
	ClientID      string
	ProviderID    string
	StartAt       time.Time
	EndAt         time.Time
	BufferMinutes int
	Status        Status
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Buffer is the post-booking gap enforced before another booking may start,
// snapshotted from the service at creation time.
func (b Booking) Buffer() time.Duration {
	return time.Duration(b.BufferMinutes) * time.Minute
}
