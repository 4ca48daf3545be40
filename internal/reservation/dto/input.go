package dto

import "time"

type CreateReservationInput struct {
	ProductID      string
	Quantity       int64
	ExpirationDate time.Time
}
