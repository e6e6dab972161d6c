package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"ecorder/internal/middleware"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
)

// shutdown待ち時間
const shutdownTimeout = 15 * time.Second

// echoを組み立てる（共通ミドルウェアだけ。ルートはRegisterRoutes）
func New(log *logrus.Entry) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	return e
}

// ctxがキャンセルされるまでサーバーを動かし、その後graceful shutdownする
func Start(ctx context.Context, e *echo.Echo, addr string, log *logrus.Entry) error {
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("http server listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down http server")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(sctx)
}
