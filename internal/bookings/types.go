package bookings

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("booking not found")

// Booking is a demo appointment recorded during a call.
type Booking struct {
	ID           string    `json:"id"`
	CallID       string    `json:"call_id"`
	ProspectName string    `json:"prospect_name"`
	Date         string    `json:"date"`
	Time         string    `json:"time"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store persists and retrieves bookings.
type Store interface {
	Save(ctx context.Context, b Booking) (Booking, error)
	Get(ctx context.Context, id string) (Booking, error)
	List(ctx context.Context, limit int) ([]Booking, error)
	Close() error
}
