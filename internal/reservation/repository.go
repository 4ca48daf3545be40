package reservation

import (
	"context"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
)

type Repository interface {
	// CreateWithReserve inserts the reservation and increments the
	// product's reserved counter in one transaction. Unlimited-stock
	// products get the ledger row but no counter write.
	CreateWithReserve(ctx context.Context, r *model.Reservation) error

	GetByID(ctx context.Context, id string) (*model.Reservation, error)
	FindAll(ctx context.Context, filters *dto.ReservationFilters) ([]model.Reservation, int, error)

	// ListExpired returns active reservations whose expiration date is
	// strictly before asOf. Read-only.
	ListExpired(ctx context.Context, asOf time.Time) ([]model.Reservation, error)

	// CloseWithRelease flips an active reservation to the target status
	// and releases its claim on the product counter in one transaction.
	CloseWithRelease(ctx context.Context, id string, target model.ReservationStatus) (*model.Reservation, error)

	// MarkExpired bulk-flips the given ids to expired, guarded on
	// status = active. Returns the number of rows actually flipped.
	MarkExpired(ctx context.Context, ids []string) (int64, error)
}
