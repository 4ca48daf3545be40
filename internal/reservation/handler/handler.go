package handler

import (
	"time"

	"github.com/backoffice/reservation-service/internal/model"
	"github.com/backoffice/reservation-service/internal/pkg/httpres"
	"github.com/backoffice/reservation-service/internal/pkg/logger"
	"github.com/backoffice/reservation-service/internal/product"
	"github.com/backoffice/reservation-service/internal/reservation"
	"github.com/backoffice/reservation-service/internal/reservation/dto"
	"github.com/backoffice/reservation-service/internal/sweeper"
	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const dateLayout = "2006-01-02"

type ReservationHandler struct {
	uc       reservation.UseCase
	products product.Repository
	sweeper  *sweeper.Sweeper
	logger   logger.ZapLogger
}

func NewReservationHandler(uc reservation.UseCase, products product.Repository, sw *sweeper.Sweeper, log logger.ZapLogger) *ReservationHandler {
	return &ReservationHandler{
		uc:       uc,
		products: products,
		sweeper:  sw,
		logger:   log,
	}
}

func (h *ReservationHandler) MapRoutes(app *fiber.App) {
	app.Get("/health", h.Health)

	v1 := app.Group("/v1")
	v1.Post("/reservations", h.Create)
	v1.Get("/reservations", h.List)
	v1.Get("/reservations/expired", h.ListExpired)
	v1.Post("/reservations/:id/fulfill", h.Fulfill)
	v1.Post("/reservations/:id/cancel", h.Cancel)
	v1.Get("/products/:id/stock", h.GetProductStock)
	v1.Post("/sweep", h.Sweep)
}

func (h *ReservationHandler) Health(c *fiber.Ctx) error {
	return httpres.Success(c, fiber.Map{"status": "healthy"})
}

func (h *ReservationHandler) Create(c *fiber.Ctx) error {
	var req dto.CreateReservationRequest
	if err := c.BodyParser(&req); err != nil {
		return httpres.Error(c, fiber.StatusBadRequest, errors.Wrap(err, "invalid request body"))
	}

	expiration, err := time.Parse(dateLayout, req.ExpirationDate)
	if err != nil {
		return httpres.Error(c, fiber.StatusBadRequest, errors.New("expiration_date must be formatted as YYYY-MM-DD"))
	}

	res, err := h.uc.Create(c.Context(), &dto.CreateReservationInput{
		ProductID:      req.ProductID,
		Quantity:       req.Quantity,
		ExpirationDate: expiration,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	return httpres.Created(c, res)
}

func (h *ReservationHandler) Fulfill(c *fiber.Ctx) error {
	res, err := h.uc.Fulfill(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httpres.Success(c, res)
}

func (h *ReservationHandler) Cancel(c *fiber.Ctx) error {
	res, err := h.uc.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httpres.Success(c, res)
}

func (h *ReservationHandler) List(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !model.ReservationStatus(status).IsValid() {
		return httpres.Error(c, fiber.StatusBadRequest, errors.Errorf("unknown reservation status %q", status))
	}

	filters := &dto.ReservationFilters{
		ProductID: c.Query("product_id"),
		Status:    status,
		Page:      c.QueryInt("page", 1),
		PageSize:  c.QueryInt("page_size", 50),
	}

	items, total, err := h.uc.List(c.Context(), filters)
	if err != nil {
		return h.mapError(c, err)
	}

	return httpres.Success(c, fiber.Map{"items": items, "total": total})
}

func (h *ReservationHandler) ListExpired(c *fiber.Ctx) error {
	asOf := time.Now()
	if raw := c.Query("as_of"); raw != "" {
		parsed, err := time.Parse(dateLayout, raw)
		if err != nil {
			return httpres.Error(c, fiber.StatusBadRequest, errors.New("as_of must be formatted as YYYY-MM-DD"))
		}
		asOf = parsed
	}

	items, err := h.uc.ListExpired(c.Context(), asOf)
	if err != nil {
		return h.mapError(c, err)
	}

	return httpres.Success(c, fiber.Map{"items": items, "total": len(items)})
}

func (h *ReservationHandler) GetProductStock(c *fiber.Ctx) error {
	stock, err := h.products.GetStock(c.Context(), c.Params("id"))
	if err != nil {
		return h.mapError(c, err)
	}
	return httpres.Success(c, stock)
}

// Sweep triggers one expiry pass on demand. The response shape is the
// scheduler contract: counts on success, a bare error otherwise.
func (h *ReservationHandler) Sweep(c *fiber.Ctx) error {
	result, err := h.sweeper.Run(c.Context(), time.Now())
	if err != nil {
		h.logger.Error("on-demand sweep failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusOK).JSON(dto.SweepResponse{
		ProcessedCount:  result.ProcessedCount,
		ProductsUpdated: result.ProductsUpdated,
	})
}

func (h *ReservationHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, model.ErrInvalidQuantity),
		errors.Is(err, model.ErrInvalidExpiration):
		return httpres.Error(c, fiber.StatusBadRequest, err)
	case errors.Is(err, model.ErrInvalidStateTransition):
		return httpres.Error(c, fiber.StatusConflict, err)
	case errors.Is(err, model.ErrReservationNotFound),
		errors.Is(err, model.ErrProductNotFound):
		return httpres.Error(c, fiber.StatusNotFound, err)
	default:
		h.logger.Error("request failed", zap.Error(err))
		return httpres.Error(c, fiber.StatusInternalServerError, err)
	}
}
