package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/OpertusMundi/discovery-service/pkg/appcontext"
)

func TestContextSeedsRequestValues(t *testing.T) {
	e := echo.New()
	e.Use(Context())

	var requestID, method string
	e.GET("/ping", func(c echo.Context) error {
		ctx := c.Request().Context()
		requestID = appcontext.GetRequestID(ctx)
		method = appcontext.GetMethod(ctx)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-42")
	e.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-42", requestID)
	assert.Equal(t, http.MethodGet, method)

	// Without an inbound header an id is generated.
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.NotEmpty(t, requestID)
}

func TestLoggerEmitsOneLinePerRequest(t *testing.T) {
	var lines int
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) { lines++ })

	e := echo.New()
	e.Use(Context())
	e.Use(Logger(logger))
	e.GET("/ping", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, 2, lines)
}
