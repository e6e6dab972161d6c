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

// *usecase.AdminOrderUsecaseが実装
type AdminOrderService interface {
	List(ctx context.Context, q repository.OrderQuery) (usecase.OrderListOutput, error)
	UpdateStatus(ctx context.Context, actorAdminUserID int64, orderID int64, in usecase.AdminUpdateOrderStatusInput) error
}

type AdminOrderHandler struct {
	uc     AdminOrderService
	orders OrderService
}

// キャンセルは利用者と同じ補償処理を通す
func NewAdminOrderHandler(uc AdminOrderService, orders OrderService) *AdminOrderHandler {
	return &AdminOrderHandler{uc: uc, orders: orders}
}

type OrderStatusUpdateRequest struct {
	Status string `json:"status"`
}

func (h *AdminOrderHandler) RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository) {
	admin := e.Group("/admin")
	admin.Use(middleware.AuthJWT(cfg))
	admin.Use(middleware.TokenVersionGuard(userRepo))
	admin.Use(middleware.AdminRoleGuard())

	admin.GET("/orders", h.list)
	admin.PUT("/orders/:id/status", h.updateStatus)
	admin.POST("/orders/:id/cancel", h.cancel)
}

func (h *AdminOrderHandler) list(c echo.Context) error {
	q, msg := parseOrderQuery(c)
	if msg != "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
	}

	out, err := h.uc.List(c.Request().Context(), q)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *AdminOrderHandler) updateStatus(c echo.Context) error {
	orderID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	var req OrderStatusUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid body"})
	}

	// 操作した管理者IDを取得（監査ログ用）
	admin, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	if err := h.uc.UpdateStatus(
		c.Request().Context(),
		admin.UserID,
		orderID,
		usecase.AdminUpdateOrderStatusInput{Status: req.Status},
	); err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

func (h *AdminOrderHandler) cancel(c echo.Context) error {
	id, ok := identityFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	orderID, ok := parseIDParam(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	if err := h.orders.CancelOrder(c.Request().Context(), id, orderID); err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, SuccessResponse{Message: "cancelled"})
}
