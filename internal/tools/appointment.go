package tools

import (
	"context"
	"fmt"

	"github.com/ent0n29/callrelay/internal/bookings"
)

const BookAppointmentName = "book_appointment"

func BookAppointmentDefinition() Definition {
	return Definition{
		Type:        "function",
		Name:        BookAppointmentName,
		Description: "Book a demo appointment for the prospective client.",
		Parameters: Schema{
			Type: "object",
			Properties: map[string]Property{
				"prospect_name": {Type: TypeString, Description: "Name of the person you are speaking with."},
				"date":          {Type: TypeString, Description: "Date of the appointment (YYYY-MM-DD)."},
				"time":          {Type: TypeString, Description: "Time of the appointment (e.g. 2:00 PM)."},
				"notes":         {Type: TypeString, Description: "Any special notes or requirements."},
			},
			Required: []string{"prospect_name", "date", "time"},
		},
	}
}

// BookAppointment records a demo booking in store.
func BookAppointment(store bookings.Store) HandlerFunc {
	return func(ctx context.Context, req Request) (map[string]any, error) {
		b, err := store.Save(ctx, bookings.Booking{
			CallID:       req.SessionID,
			ProspectName: req.Args.String("prospect_name"),
			Date:         req.Args.String("date"),
			Time:         req.Args.String("time"),
			Notes:        req.Args.String("notes"),
		})
		if err != nil {
			return nil, fmt.Errorf("booking could not be saved: %w", err)
		}
		return map[string]any{
			"message":    "Appointment booked successfully. Confirmation sent via email.",
			"booking_id": b.ID,
		}, nil
	}
}

// NewDefaultRegistry returns the catalog used by the sales agent.
func NewDefaultRegistry(store bookings.Store) *Registry {
	r := NewRegistry()
	r.MustRegister(BookAppointmentDefinition(), BookAppointment(store))
	return r
}
