package dto

type ReservationFilters struct {
	ProductID string
	Status    string
	Page      int
	PageSize  int
}

// CreateReservationRequest is the HTTP payload for POST /v1/reservations.
// ExpirationDate is a calendar date ("2006-01-02").
type CreateReservationRequest struct {
	ProductID      string `json:"product_id"`
	Quantity       int64  `json:"quantity"`
	ExpirationDate string `json:"expiration_date"`
}

// SweepResponse mirrors the scheduler-facing contract of the expiry sweep.
type SweepResponse struct {
	ProcessedCount  int `json:"processedCount"`
	ProductsUpdated int `json:"productsUpdated"`
}
