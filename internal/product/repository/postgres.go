package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/jmoiron/sqlx"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) GetStock(ctx context.Context, id string) (*model.ProductStock, error) {
	var p model.ProductStock
	query := `SELECT id, reserved_stock, unlimited_stock, updated_at FROM products WHERE id = $1`
	err := r.DB.GetContext(ctx, &p, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrProductNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PGRepository) ReleaseReserved(ctx context.Context, id string, quantity int64) (bool, error) {
	// One conditional statement: decrement floored at zero, skipping
	// unlimited products entirely. No read-modify-write round trip.
	query := `
        UPDATE products
        SET reserved_stock = GREATEST(reserved_stock - $2, 0), updated_at = $3
        WHERE id = $1 AND NOT unlimited_stock
    `
	result, err := r.DB.ExecContext(ctx, query, id, quantity, time.Now())
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}
