package sweeper

import (
	"context"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/pkg/logger"
	"github.com/backoffice/reservation-service/internal/product"
	"github.com/backoffice/reservation-service/internal/reservation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const sweepLockKey = "lock:reservation_sweep"

// Result is what one sweep pass reports back to its trigger.
type Result struct {
	ProcessedCount  int
	ProductsUpdated int
}

// Sweeper expires overdue reservations and releases their claims on
// product counters. Safe to invoke repeatedly: flips are guarded on
// active status and counter releases are clamped at zero, so a re-run
// over residual state is a no-op.
type Sweeper struct {
	reservations reservation.Repository
	products     product.Repository
	locker       reservation.Locker
	publisher    reservation.Publisher
	logger       logger.ZapLogger
}

func New(reservations reservation.Repository, products product.Repository, locker reservation.Locker, publisher reservation.Publisher, log logger.ZapLogger) *Sweeper {
	return &Sweeper{
		reservations: reservations,
		products:     products,
		locker:       locker,
		publisher:    publisher,
		logger:       log,
	}
}

// Run performs one sweep pass as of the given date.
//
// Ordering is deliberate: reservations are flipped to expired before any
// counter is touched. If the pass dies in between, stock is temporarily
// under-available, never over-available, and the next pass cannot
// re-match the already-flipped rows.
func (s *Sweeper) Run(ctx context.Context, asOf time.Time) (*Result, error) {
	expired, err := s.reservations.ListExpired(ctx, asOf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to fetch expired reservations")
	}
	if len(expired) == 0 {
		return &Result{}, nil
	}

	releases := groupQuantityByProduct(expired)

	ids := make([]string, len(expired))
	for i, r := range expired {
		ids[i] = r.ID
	}

	flipped, err := s.reservations.MarkExpired(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mark reservations expired")
	}
	if flipped == 0 {
		// A concurrent pass already claimed the whole batch.
		return &Result{}, nil
	}

	result := &Result{ProcessedCount: int(flipped)}

	for productID, quantity := range releases {
		if s.releaseProduct(ctx, productID, quantity) {
			result.ProductsUpdated++
		}
	}

	s.publishExpiredEvents(ctx, expired)

	s.logger.Info("expiry sweep completed",
		zap.Int("processed_count", result.ProcessedCount),
		zap.Int("products_updated", result.ProductsUpdated),
	)
	return result, nil
}

// releaseProduct releases one product's aggregated claim. Failures are
// logged and swallowed: one broken product must not abort the sweep,
// and the missed decrement is bounded drift the operator can reconcile.
func (s *Sweeper) releaseProduct(ctx context.Context, productID string, quantity int64) bool {
	stock, err := s.products.GetStock(ctx, productID)
	if err != nil {
		s.logger.Error("failed to read product stock during sweep",
			zap.String("product_id", productID),
			zap.Error(err),
		)
		return false
	}
	if stock.UnlimitedStock {
		return false
	}
	if quantity > stock.ReservedStock {
		// Clamp will engage: some other path already released part of
		// this claim. Worth surfacing for operator review.
		s.logger.Warn("reserved stock drift detected",
			zap.String("product_id", productID),
			zap.Int64("reserved_stock", stock.ReservedStock),
			zap.Int64("release_quantity", quantity),
		)
	}

	updated, err := s.products.ReleaseReserved(ctx, productID, quantity)
	if err != nil {
		s.logger.Error("failed to release reserved stock",
			zap.String("product_id", productID),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)
		return false
	}
	return updated
}

func (s *Sweeper) publishExpiredEvents(ctx context.Context, expired []model.Reservation) {
	for _, res := range expired {
		event := reservation.Event{
			EventID:   uuid.New().String(),
			EventType: reservation.EventReservationExpired,
			Payload: reservation.EventPayload{
				ReservationID: res.ID,
				ProductID:     res.ProductID,
				Quantity:      res.Quantity,
				Status:        model.StatusExpired,
			},
			Timestamp: time.Now(),
		}
		if err := s.publisher.Publish(ctx, res.ProductID, event); err != nil {
			s.logger.Error("failed to publish reservation expired event",
				zap.String("reservation_id", res.ID),
				zap.Error(err),
			)
		}
	}
}

// Start runs the sweep on a fixed interval until the context ends. A
// shared lock keeps overlapping scheduled passes from double-scanning
// when more than one instance is deployed.
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	s.logger.Info("starting expiry sweep scheduler", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stopping expiry sweep scheduler")
			return
		case <-ticker.C:
			s.runLocked(ctx)
		}
	}
}

func (s *Sweeper) runLocked(ctx context.Context) {
	lockValue := uuid.New().String()
	ok, err := s.locker.AcquireLock(ctx, sweepLockKey, lockValue, time.Minute)
	if err != nil {
		s.logger.Error("failed to acquire sweep lock", zap.Error(err))
		return
	}
	if !ok {
		s.logger.Debug("sweep already running elsewhere, skipping")
		return
	}
	defer s.locker.ReleaseLock(ctx, sweepLockKey, lockValue)

	if _, err := s.Run(ctx, time.Now()); err != nil {
		s.logger.Error("scheduled sweep failed", zap.Error(err))
	}
}

// groupQuantityByProduct sums claim quantities per product so the
// counter release is one update per distinct product, not one per
// reservation.
func groupQuantityByProduct(reservations []model.Reservation) map[string]int64 {
	releases := make(map[string]int64, len(reservations))
	for _, r := range reservations {
		releases[r.ProductID] += r.Quantity
	}
	return releases
}
