package model

import (
	"time"

	"github.com/pkg/errors"
)

var (
	ErrInvalidQuantity        = errors.New("reservation quantity must be greater than zero")
	ErrInvalidExpiration      = errors.New("reservation expiration date is in the past")
	ErrInvalidStateTransition = errors.New("invalid reservation state transition")
	ErrReservationNotFound    = errors.New("reservation not found")
	ErrProductNotFound        = errors.New("product not found")
)

type ReservationStatus string

const (
	StatusActive    ReservationStatus = "active"
	StatusFulfilled ReservationStatus = "fulfilled"
	StatusCancelled ReservationStatus = "cancelled"
	StatusExpired   ReservationStatus = "expired"
)

// transitions is the closed set of legal status moves. Every terminal
// state is a dead end; nothing ever re-enters active.
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusActive:    {StatusFulfilled, StatusCancelled, StatusExpired},
	StatusFulfilled: {},
	StatusCancelled: {},
	StatusExpired:   {},
}

func (s ReservationStatus) CanTransitionTo(target ReservationStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s ReservationStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// Reservation is a time-bounded claim on product quantity. Rows are
// append-only: status moves forward, rows are never deleted.
type Reservation struct {
	BaseModel
	ProductID      string            `db:"product_id" json:"product_id"`
	Quantity       int64             `db:"quantity" json:"quantity"`
	ExpirationDate time.Time         `db:"expiration_date" json:"expiration_date"`
	Status         ReservationStatus `db:"status" json:"status"`
}

// ExpiredAsOf reports whether the reservation's window has closed by
// the given date. Comparison is by calendar date: a reservation whose
// expiration date equals asOf is still live until the day rolls over.
func (r *Reservation) ExpiredAsOf(asOf time.Time) bool {
	return DateOnly(r.ExpirationDate).Before(DateOnly(asOf))
}

// DateOnly truncates a timestamp to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
