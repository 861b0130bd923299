package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/OpertusMundi/discovery-service/pkg/appcontext"
)

// Logger emits one access log line per request. Runs behind Context, which
// seeds the request id the line is correlated by.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			ctx := c.Request().Context()
			logger.WithContext(ctx).WithFields(map[string]interface{}{
				"request_id":    appcontext.GetRequestID(ctx),
				"method":        req.Method,
				"route":         c.Path(),
				"status":        res.Status,
				"remote_ip":     appcontext.GetRemoteIP(ctx),
				"response_time": time.Since(start),
				"response_size": res.Size,
			}).Info("Request")

			return nil
		}
	}
}
