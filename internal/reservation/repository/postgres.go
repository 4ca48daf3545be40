package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
	"github.com/jmoiron/sqlx"
	pkgerrors "github.com/pkg/errors"
)

type PGRepository struct {
	DB *sqlx.DB
}

func NewPGRepository(db *sqlx.DB) *PGRepository {
	return &PGRepository{DB: db}
}

func (r *PGRepository) CreateWithReserve(ctx context.Context, res *model.Reservation) error {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var p model.ProductStock
	err = tx.GetContext(ctx, &p, `SELECT id, reserved_stock, unlimited_stock, updated_at FROM products WHERE id = $1`, res.ProductID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrProductNotFound
		}
		return pkgerrors.Wrap(err, "failed to load product")
	}

	insertQuery := `
        INSERT INTO product_reservations (
            id, product_id, quantity, expiration_date, status, created_at, updated_at
        )
        VALUES (
            :id, :product_id, :quantity, :expiration_date, :status, :created_at, :updated_at
        )
    `
	if _, err := tx.NamedExecContext(ctx, insertQuery, res); err != nil {
		return pkgerrors.Wrap(err, "failed to insert reservation")
	}

	// Counter is only meaningful for counted products. The increment is
	// additive at the storage layer, so no read-modify-write here.
	if !p.UnlimitedStock {
		_, err = tx.ExecContext(ctx,
			`UPDATE products SET reserved_stock = reserved_stock + $2, updated_at = $3 WHERE id = $1 AND NOT unlimited_stock`,
			res.ProductID, res.Quantity, res.UpdatedAt,
		)
		if err != nil {
			return pkgerrors.Wrap(err, "failed to increment reserved stock")
		}
	}

	return tx.Commit()
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (*model.Reservation, error) {
	var res model.Reservation
	err := r.DB.GetContext(ctx, &res, `SELECT * FROM product_reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrReservationNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *PGRepository) FindAll(ctx context.Context, f *dto.ReservationFilters) ([]model.Reservation, int, error) {
	var items []model.Reservation
	var count int

	conditions := []string{}
	args := map[string]interface{}{}

	if f.ProductID != "" {
		conditions = append(conditions, "product_id = :product_id")
		args["product_id"] = f.ProductID
	}
	if f.Status != "" {
		conditions = append(conditions, "status = :status")
		args["status"] = f.Status
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT count(*) FROM product_reservations" + whereClause
	rows, err := r.DB.NamedQueryContext(ctx, countQuery, args)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	if rows.Next() {
		rows.Scan(&count)
	}

	query := "SELECT * FROM product_reservations" + whereClause + " ORDER BY created_at DESC"
	if f.PageSize > 0 {
		offset := (f.Page - 1) * f.PageSize
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.PageSize, offset)
	}

	nstmt, err := r.DB.PrepareNamedContext(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	defer nstmt.Close()

	err = nstmt.SelectContext(ctx, &items, args)
	return items, count, err
}

func (r *PGRepository) ListExpired(ctx context.Context, asOf time.Time) ([]model.Reservation, error) {
	var items []model.Reservation
	// Strict less-than: a reservation expiring on asOf is still live.
	query := `
        SELECT * FROM product_reservations
        WHERE status = $1 AND expiration_date < $2
        ORDER BY product_id, created_at
    `
	err := r.DB.SelectContext(ctx, &items, query, model.StatusActive, model.DateOnly(asOf))
	return items, err
}

func (r *PGRepository) CloseWithRelease(ctx context.Context, id string, target model.ReservationStatus) (*model.Reservation, error) {
	tx, err := r.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now()

	// Guarded on status = active so a concurrent flip cannot double-release.
	var res model.Reservation
	err = tx.GetContext(ctx, &res, `
        UPDATE product_reservations
        SET status = $2, updated_at = $3
        WHERE id = $1 AND status = $4
        RETURNING *
    `, id, target, now, model.StatusActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyMissedFlip(ctx, id)
		}
		return nil, pkgerrors.Wrap(err, "failed to update reservation status")
	}

	// Single conditional statement, clamped at zero: residual or racing
	// releases can only leave the counter too low, never negative.
	_, err = tx.ExecContext(ctx,
		`UPDATE products SET reserved_stock = GREATEST(reserved_stock - $2, 0), updated_at = $3 WHERE id = $1 AND NOT unlimited_stock`,
		res.ProductID, res.Quantity, now,
	)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to release reserved stock")
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *PGRepository) classifyMissedFlip(ctx context.Context, id string) error {
	var status model.ReservationStatus
	err := r.DB.GetContext(ctx, &status, `SELECT status FROM product_reservations WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrReservationNotFound
		}
		return err
	}
	return pkgerrors.Wrapf(model.ErrInvalidStateTransition, "reservation is %s", status)
}

func (r *PGRepository) MarkExpired(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
        UPDATE product_reservations
        SET status = ?, updated_at = ?
        WHERE id IN (?) AND status = ?
    `, model.StatusExpired, time.Now(), ids, model.StatusActive)
	if err != nil {
		return 0, err
	}

	// Rebind for Postgres ($1, $2...)
	query = r.DB.Rebind(query)

	result, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
