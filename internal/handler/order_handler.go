package handler

import (
	"context"
	"net/http"

	"ecorder/internal/config"
	"ecorder/internal/middleware"
	"ecorder/internal/repository"
	"ecorder/internal/usecase"

	"github.com/labstack/echo/v4"
)

// handlerから使う注文の操作（*usecase.OrderUsecaseが実装）
type OrderService interface {
	CreateOrder(ctx context.Context, id usecase.Identity, in usecase.CreateOrderInput) (usecase.OrderOutput, error)
	CancelOrder(ctx context.Context, id usecase.Identity, orderID int64) error
	GetOrder(ctx context.Context, id usecase.Identity, orderID int64) (usecase.OrderOutput, error)
	ListOrders(ctx context.Context, id usecase.Identity, q repository.OrderQuery) (usecase.OrderListOutput, error)
}

type OrderHandler struct {
	uc OrderService
}

func NewOrderHandler(uc OrderService) *OrderHandler {
	return &OrderHandler{uc: uc}
}

type OrderCreateRequest struct {
	AddressID        int64                          `json:"address_id"`
	DeliveryMethodID int64                          `json:"delivery_method_id"`
	Items            []usecase.CreateOrderItemInput `json:"items"`
}

func (h *OrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	g := e.Group("/orders")
	g.Use(middleware.AuthJWT(cfg))
	g.Use(middleware.TokenVersionGuard(userRepo))

	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:id", h.detail)
	g.POST("/:id/cancel", h.cancel)
}

func (h *OrderHandler) create(c echo.Context) error {
	id, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	var req OrderCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	out, err := h.uc.CreateOrder(c.Request().Context(), id, usecase.CreateOrderInput{
		AddressID:        req.AddressID,
		DeliveryMethodID: req.DeliveryMethodID,
		Items:            req.Items,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusCreated, out)
}

func (h *OrderHandler) list(c echo.Context) error {
	id, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	q, msg := parseOrderQuery(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	out, err := h.uc.ListOrders(c.Request().Context(), id, q)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) detail(c echo.Context) error {
	id, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	orderID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.GetOrder(c.Request().Context(), id, orderID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *OrderHandler) cancel(c echo.Context) error {
	id, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	orderID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	if err := h.uc.CancelOrder(c.Request().Context(), id, orderID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cancelled"})
}
