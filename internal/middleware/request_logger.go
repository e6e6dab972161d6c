package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

// リクエストごとに1行ログを出す。
// request_idはecho標準のRequestIDミドルウェアが付けたものを使う。
func RequestLogger(log *logrus.Entry) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				//echoのエラーハンドラでレスポンスを確定させる
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()

			fields := logrus.Fields{
				"method":     req.Method,
				"path":       c.Path(),
				"uri":        req.RequestURI,
				"status":     res.Status,
				"latency_ms": time.Since(start).Milliseconds(),
				"remoteAddr": c.RealIP(),
				"userAgent":  req.UserAgent(),
				"request_id": res.Header().Get(echo.HeaderXRequestID),
			}
			if id, ok := IdentityFrom(c); ok {
				fields["user_id"] = id.UserID
			}

			entry := log.WithFields(fields)
			switch {
			case res.Status >= 500:
				entry.WithError(err).Error("request failed")
			case res.Status >= 400:
				entry.Warn("request rejected")
			default:
				entry.Info("request handled")
			}
			return nil
		}
	}
}
