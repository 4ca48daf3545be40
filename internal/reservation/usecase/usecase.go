package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/pkg/logger"
	"github.com/backoffice/reservation-service/internal/reservation"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type reservationUseCase struct {
	repo      reservation.Repository
	locker    reservation.Locker
	publisher reservation.Publisher
	logger    logger.ZapLogger
}

func NewReservationUseCase(repo reservation.Repository, locker reservation.Locker, publisher reservation.Publisher, log logger.ZapLogger) reservation.UseCase {
	return &reservationUseCase{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		logger:    log,
	}
}

func (uc *reservationUseCase) Create(ctx context.Context, input *dto.CreateReservationInput) (*model.Reservation, error) {
	if input.Quantity <= 0 {
		return nil, model.ErrInvalidQuantity
	}
	if model.DateOnly(input.ExpirationDate).Before(model.DateOnly(time.Now())) {
		return nil, model.ErrInvalidExpiration
	}

	unlock, err := uc.lockProduct(ctx, input.ProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now()
	res := &model.Reservation{
		BaseModel:      model.BaseModel{ID: uuid.New().String(), CreatedAt: now, UpdatedAt: now},
		ProductID:      input.ProductID,
		Quantity:       input.Quantity,
		ExpirationDate: model.DateOnly(input.ExpirationDate),
		Status:         model.StatusActive,
	}

	if err := uc.repo.CreateWithReserve(ctx, res); err != nil {
		return nil, err
	}

	uc.publishEvent(ctx, reservation.EventReservationCreated, res)
	return res, nil
}

func (uc *reservationUseCase) Fulfill(ctx context.Context, id string) (*model.Reservation, error) {
	return uc.close(ctx, id, model.StatusFulfilled, reservation.EventReservationFulfilled)
}

func (uc *reservationUseCase) Cancel(ctx context.Context, id string) (*model.Reservation, error) {
	return uc.close(ctx, id, model.StatusCancelled, reservation.EventReservationCancelled)
}

func (uc *reservationUseCase) close(ctx context.Context, id string, target model.ReservationStatus, eventType string) (*model.Reservation, error) {
	current, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(target) {
		return nil, errors.Wrapf(model.ErrInvalidStateTransition, "%s -> %s", current.Status, target)
	}

	unlock, err := uc.lockProduct(ctx, current.ProductID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// The repository re-checks active status inside the transaction, so
	// a flip racing past the check above still cannot double-release.
	res, err := uc.repo.CloseWithRelease(ctx, id, target)
	if err != nil {
		return nil, err
	}

	uc.publishEvent(ctx, eventType, res)
	return res, nil
}

func (uc *reservationUseCase) ListExpired(ctx context.Context, asOf time.Time) ([]model.Reservation, error) {
	return uc.repo.ListExpired(ctx, asOf)
}

func (uc *reservationUseCase) List(ctx context.Context, filters *dto.ReservationFilters) ([]model.Reservation, int, error) {
	if filters.Status != "" && !model.ReservationStatus(filters.Status).IsValid() {
		return nil, 0, errors.Errorf("unknown reservation status %q", filters.Status)
	}
	return uc.repo.FindAll(ctx, filters)
}

func (uc *reservationUseCase) lockProduct(ctx context.Context, productID string) (func(), error) {
	lockKey := fmt.Sprintf("lock:reserved_stock:%s", productID)
	lockValue := uuid.New().String()

	acquired := false
	for i := 0; i < 3; i++ {
		ok, err := uc.locker.AcquireLock(ctx, lockKey, lockValue, 5*time.Second)
		if err != nil {
			uc.logger.Error("failed to acquire lock redis error", zap.Error(err))
		}
		if ok {
			acquired = true
			break
		}
		time.Sleep(100 * time.Millisecond) // wait before retry
	}

	if !acquired {
		return nil, errors.New("system busy, please try again later (lock)")
	}

	return func() { uc.locker.ReleaseLock(ctx, lockKey, lockValue) }, nil
}

func (uc *reservationUseCase) publishEvent(ctx context.Context, eventType string, res *model.Reservation) {
	event := reservation.Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Payload: reservation.EventPayload{
			ReservationID: res.ID,
			ProductID:     res.ProductID,
			Quantity:      res.Quantity,
			Status:        res.Status,
		},
		Timestamp: time.Now(),
	}

	// Events are best-effort: a broker outage must not fail the write.
	if err := uc.publisher.Publish(ctx, res.ProductID, event); err != nil {
		uc.logger.Error("failed to publish reservation event",
			zap.String("event_type", eventType),
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}
}
