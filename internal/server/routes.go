package server

import (
	"net/http"

	"ecorder/internal/config"
	"ecorder/internal/handler"
	"ecorder/internal/repository"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Handlers struct {
	Orders      *handler.OrderHandler
	AdminOrders *handler.AdminOrderHandler
	Webhooks    *handler.WebhookHandler
}

func RegisterRoutes(e *echo.Echo, cfg config.Config, userRepo repository.UserRepository, gatherer prometheus.Gatherer, h Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	h.Orders.RegisterRoutes(e, cfg, userRepo)
	h.AdminOrders.RegisterRoutes(e, cfg, userRepo)
	h.Webhooks.RegisterRoutes(e)
}
