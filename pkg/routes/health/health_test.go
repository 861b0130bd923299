package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct {
	err error
}

func (p fakePinger) Ping(context.Context) error { return p.err }

func request(e *echo.Echo, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsEachCheck(t *testing.T) {
	e := echo.New()
	checker := NewChecker("1.2.3", map[string]Pinger{
		"graph": fakePinger{},
		"redis": fakePinger{err: errors.New("connection refused")},
	})
	checker.RegisterRoutes(e)

	rec := request(e, "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, "healthy", status.Checks["graph"].Status)
	assert.Equal(t, "connection refused", status.Checks["redis"].Message)
}

func TestHealthAllHealthy(t *testing.T) {
	e := echo.New()
	checker := NewChecker("1.2.3", map[string]Pinger{"graph": fakePinger{}})
	checker.RegisterRoutes(e)

	rec := request(e, "/api/v1/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyFollowsSetReady(t *testing.T) {
	e := echo.New()
	checker := NewChecker("1.2.3", nil)
	checker.RegisterRoutes(e)

	assert.Equal(t, http.StatusServiceUnavailable, request(e, "/api/v1/health/ready").Code)

	checker.SetReady(true)
	assert.Equal(t, http.StatusOK, request(e, "/api/v1/health/ready").Code)

	assert.Equal(t, http.StatusOK, request(e, "/api/v1/health/live").Code)
}
