package reservation

import (
	"time"

	"github.com/backoffice/reservation-service/internal/model"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationFulfilled = "ReservationFulfilled"
	EventReservationCancelled = "ReservationCancelled"
	EventReservationExpired   = "ReservationExpired"
)

type Event struct {
	EventID   string       `json:"event_id"`
	EventType string       `json:"event_type"`
	Payload   EventPayload `json:"payload"`
	Timestamp time.Time    `json:"timestamp"`
}

type EventPayload struct {
	ReservationID string                  `json:"reservation_id"`
	ProductID     string                  `json:"product_id"`
	Quantity      int64                   `json:"quantity"`
	Status        model.ReservationStatus `json:"status"`
}
