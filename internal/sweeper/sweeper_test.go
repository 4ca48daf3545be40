package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/pkg/logger"
	"github.com/backoffice/reservation-service/internal/reservation"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// memStore backs both repository interfaces with maps, mirroring the
// SQL guard semantics: status flips only from active, counter releases
// clamp at zero and skip unlimited products.
type memStore struct {
	mu           sync.Mutex
	reservations map[string]*model.Reservation
	products     map[string]*model.ProductStock

	failFetch   bool
	failFlip    bool
	failRelease map[string]bool

	releaseCalls int
}

func newMemStore() *memStore {
	return &memStore{
		reservations: map[string]*model.Reservation{},
		products:     map[string]*model.ProductStock{},
		failRelease:  map[string]bool{},
	}
}

func (s *memStore) addProduct(id string, reserved int64, unlimited bool) {
	s.products[id] = &model.ProductStock{ID: id, ReservedStock: reserved, UnlimitedStock: unlimited}
}

func (s *memStore) addReservation(productID string, qty int64, expiration time.Time, status model.ReservationStatus) *model.Reservation {
	r := &model.Reservation{
		BaseModel:      model.BaseModel{ID: uuid.New().String(), CreatedAt: time.Now(), UpdatedAt: time.Now()},
		ProductID:      productID,
		Quantity:       qty,
		ExpirationDate: model.DateOnly(expiration),
		Status:         status,
	}
	s.reservations[r.ID] = r
	return r
}

func (s *memStore) CreateWithReserve(ctx context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[r.ProductID]
	if !ok {
		return model.ErrProductNotFound
	}
	cp := *r
	s.reservations[r.ID] = &cp
	if !p.UnlimitedStock {
		p.ReservedStock += r.Quantity
	}
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) FindAll(ctx context.Context, f *dto.ReservationFilters) ([]model.Reservation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.Reservation
	for _, r := range s.reservations {
		if f.ProductID != "" && r.ProductID != f.ProductID {
			continue
		}
		if f.Status != "" && string(r.Status) != f.Status {
			continue
		}
		items = append(items, *r)
	}
	return items, len(items), nil
}

func (s *memStore) ListExpired(ctx context.Context, asOf time.Time) ([]model.Reservation, error) {
	if s.failFetch {
		return nil, errors.New("storage unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []model.Reservation
	for _, r := range s.reservations {
		if r.Status == model.StatusActive && r.ExpiredAsOf(asOf) {
			items = append(items, *r)
		}
	}
	return items, nil
}

func (s *memStore) CloseWithRelease(ctx context.Context, id string, target model.ReservationStatus) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, model.ErrReservationNotFound
	}
	if r.Status != model.StatusActive {
		return nil, model.ErrInvalidStateTransition
	}
	r.Status = target
	r.UpdatedAt = time.Now()
	if p, ok := s.products[r.ProductID]; ok && !p.UnlimitedStock {
		p.ReservedStock -= r.Quantity
		if p.ReservedStock < 0 {
			p.ReservedStock = 0
		}
	}
	cp := *r
	return &cp, nil
}

func (s *memStore) MarkExpired(ctx context.Context, ids []string) (int64, error) {
	if s.failFlip {
		return 0, errors.New("bulk update failed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var flipped int64
	for _, id := range ids {
		if r, ok := s.reservations[id]; ok && r.Status == model.StatusActive {
			r.Status = model.StatusExpired
			r.UpdatedAt = time.Now()
			flipped++
		}
	}
	return flipped, nil
}

func (s *memStore) GetStock(ctx context.Context, id string) (*model.ProductStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, model.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ReleaseReserved(ctx context.Context, id string, quantity int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseCalls++
	if s.failRelease[id] {
		return false, errors.New("counter update failed")
	}
	p, ok := s.products[id]
	if !ok || p.UnlimitedStock {
		return false, nil
	}
	p.ReservedStock -= quantity
	if p.ReservedStock < 0 {
		p.ReservedStock = 0
	}
	return true, nil
}

type fakeLocker struct{}

func (fakeLocker) AcquireLock(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return true, nil
}
func (fakeLocker) ReleaseLock(ctx context.Context, key, value string) error { return nil }

type fakePublisher struct {
	mu     sync.Mutex
	events []reservation.Event
}

func (p *fakePublisher) Publish(ctx context.Context, key string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := event.(reservation.Event); ok {
		p.events = append(p.events, e)
	}
	return nil
}

func newTestSweeper(store *memStore) (*Sweeper, *fakePublisher) {
	pub := &fakePublisher{}
	return New(store, store, fakeLocker{}, pub, logger.NewNop()), pub
}

func TestSweep_ExpiresOverdueAndReleasesCounter(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 8, false)
	r1 := store.addReservation("p1", 5, now.AddDate(0, 0, -1), model.StatusActive)
	r2 := store.addReservation("p1", 3, now.AddDate(0, 0, 1), model.StatusActive)

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	require.Equal(t, 1, result.ProductsUpdated)

	require.Equal(t, model.StatusExpired, store.reservations[r1.ID].Status)
	require.Equal(t, model.StatusActive, store.reservations[r2.ID].Status)
	require.Equal(t, int64(3), store.products["p1"].ReservedStock)

	// Flipped rows must not be re-matched for the same day.
	remaining, err := store.ListExpired(context.Background(), now)
	require.NoError(t, err)
	require.Empty(t, remaining)
}

func TestSweep_Idempotent(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 5, false)
	store.addReservation("p1", 5, now.AddDate(0, 0, -2), model.StatusActive)

	sw, _ := newTestSweeper(store)

	first, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, first.ProcessedCount)

	second, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 0, second.ProcessedCount)
	require.Equal(t, 0, second.ProductsUpdated)
	require.Equal(t, int64(0), store.products["p1"].ReservedStock)
}

func TestSweep_CounterNeverNegative(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	// Counter already drifted below the outstanding claim.
	store.addProduct("p1", 2, false)
	store.addReservation("p1", 5, now.AddDate(0, 0, -1), model.StatusActive)

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	require.Equal(t, int64(0), store.products["p1"].ReservedStock)
}

func TestSweep_UnlimitedProductUntouched(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 7, true)
	store.addReservation("p1", 4, now.AddDate(0, 0, -1), model.StatusActive)

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, result.ProcessedCount)
	require.Equal(t, 0, result.ProductsUpdated)
	require.Equal(t, int64(7), store.products["p1"].ReservedStock)
}

func TestSweep_ExpirationTodayStillLive(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 3, false)
	r := store.addReservation("p1", 3, now, model.StatusActive)

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 0, result.ProcessedCount)
	require.Equal(t, model.StatusActive, store.reservations[r.ID].Status)
	require.Equal(t, int64(3), store.products["p1"].ReservedStock)
}

func TestSweep_GroupsReleasesPerProduct(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 10, false)
	store.addReservation("p1", 2, now.AddDate(0, 0, -1), model.StatusActive)
	store.addReservation("p1", 3, now.AddDate(0, 0, -2), model.StatusActive)
	store.addReservation("p1", 4, now.AddDate(0, 0, -3), model.StatusActive)

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 3, result.ProcessedCount)
	require.Equal(t, 1, result.ProductsUpdated)
	require.Equal(t, 1, store.releaseCalls, "one counter update per distinct product")
	require.Equal(t, int64(1), store.products["p1"].ReservedStock)
}

func TestSweep_FetchFailureAbortsCleanly(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 5, false)
	r := store.addReservation("p1", 5, now.AddDate(0, 0, -1), model.StatusActive)
	store.failFetch = true

	sw, _ := newTestSweeper(store)
	_, err := sw.Run(context.Background(), now)
	require.Error(t, err)
	require.Equal(t, model.StatusActive, store.reservations[r.ID].Status)
	require.Equal(t, int64(5), store.products["p1"].ReservedStock)
}

func TestSweep_FlipFailureAbortsBeforeCounters(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 5, false)
	r := store.addReservation("p1", 5, now.AddDate(0, 0, -1), model.StatusActive)
	store.failFlip = true

	sw, _ := newTestSweeper(store)
	_, err := sw.Run(context.Background(), now)
	require.Error(t, err)
	require.Equal(t, model.StatusActive, store.reservations[r.ID].Status)
	require.Equal(t, int64(5), store.products["p1"].ReservedStock)
	require.Zero(t, store.releaseCalls)
}

func TestSweep_ProductFailureDoesNotAbortSiblings(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 5, false)
	store.addProduct("p2", 4, false)
	r1 := store.addReservation("p1", 5, now.AddDate(0, 0, -1), model.StatusActive)
	r2 := store.addReservation("p2", 4, now.AddDate(0, 0, -1), model.StatusActive)
	store.failRelease["p1"] = true

	sw, _ := newTestSweeper(store)
	result, err := sw.Run(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 2, result.ProcessedCount)
	require.Equal(t, 1, result.ProductsUpdated)

	// Both reservations flipped even though one counter write failed.
	require.Equal(t, model.StatusExpired, store.reservations[r1.ID].Status)
	require.Equal(t, model.StatusExpired, store.reservations[r2.ID].Status)
	require.Equal(t, int64(5), store.products["p1"].ReservedStock)
	require.Equal(t, int64(0), store.products["p2"].ReservedStock)
}

func TestSweep_PublishesExpiredEvents(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	store.addProduct("p1", 5, false)
	store.addReservation("p1", 2, now.AddDate(0, 0, -1), model.StatusActive)
	store.addReservation("p1", 3, now.AddDate(0, 0, -1), model.StatusActive)

	sw, pub := newTestSweeper(store)
	_, err := sw.Run(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, pub.events, 2)
	for _, e := range pub.events {
		require.Equal(t, reservation.EventReservationExpired, e.EventType)
		require.Equal(t, model.StatusExpired, e.Payload.Status)
	}
}

func TestGroupQuantityByProduct(t *testing.T) {
	items := []model.Reservation{
		{ProductID: "a", Quantity: 2},
		{ProductID: "b", Quantity: 1},
		{ProductID: "a", Quantity: 3},
	}

	got := groupQuantityByProduct(items)
	require.Equal(t, map[string]int64{"a": 5, "b": 1}, got)
}
