package product

import (
	"context"

	"github.com/backoffice/reservation-service/internal/model"
)

// Repository is the narrow contract against the catalog's products
// table. Only the reservation counter and the unlimited flag are ever
// read or written here.
type Repository interface {
	GetStock(ctx context.Context, id string) (*model.ProductStock, error)

	// ReleaseReserved decrements the reservation counter by quantity in
	// a single conditional statement, clamped at zero. Returns false
	// when no counted product row matched (missing or unlimited).
	ReleaseReserved(ctx context.Context, id string, quantity int64) (bool, error)
}
