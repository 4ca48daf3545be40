package reservation

import (
	"context"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
)

type UseCase interface {
	Create(ctx context.Context, input *dto.CreateReservationInput) (*model.Reservation, error)
	Fulfill(ctx context.Context, id string) (*model.Reservation, error)
	Cancel(ctx context.Context, id string) (*model.Reservation, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]model.Reservation, error)
	List(ctx context.Context, filters *dto.ReservationFilters) ([]model.Reservation, int, error)
}

// Publisher is the slice of the event broker the ledger needs.
// Satisfied by broker.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, event interface{}) error
}

// Locker serializes counter mutation per product. Satisfied by
// cache.RedisClient.
type Locker interface {
	AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}
