// Package discovery exposes the relationship graph query API.
package discovery

import (
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	enginepkg "github.com/OpertusMundi/discovery-service/pkg/discovery"
	"github.com/OpertusMundi/discovery-service/pkg/models"
)

// Handler handles graph query API endpoints
type Handler struct {
	engine *enginepkg.Engine
	logger ectologger.Logger
}

// NewHandler creates a new discovery handler
func NewHandler(engine *enginepkg.Engine, logger ectologger.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

// Register registers the discovery routes
func (h *Handler) Register(g *echo.Group) {
	g.GET("/related", h.GetRelated)
	g.GET("/joinable", h.GetJoinable)
	g.POST("/connections/filter", h.FilterConnections)
}

// GetRelated explains how two assets are connected
// @Summary Explain asset relationships
// @Description Walk every shortest path between two assets and render the connecting match chains
// @Tags Discovery
// @Produce json
// @Param from query string true "Source asset path"
// @Param to query string true "Target asset path"
// @Success 200 {array} models.RelatedResult
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/discovery/related [get]
func (h *Handler) GetRelated(c echo.Context) error {
	ctx := c.Request().Context()

	fromPath := c.QueryParam("from")
	toPath := c.QueryParam("to")
	if fromPath == "" || toPath == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "from and to parameters are required")
	}

	results, err := h.engine.GetRelatedBetween(ctx, fromPath, toPath)
	if err != nil {
		return err
	}
	if results == nil {
		results = []models.RelatedResult{}
	}

	return c.JSON(http.StatusOK, results)
}

// GetJoinable ranks assets joinable with the given one
// @Summary Rank joinable assets
// @Description List candidate assets connected to the given one, ranked by corroborating column matches
// @Tags Discovery
// @Produce json
// @Param asset query string true "Asset path"
// @Success 200 {array} models.JoinableTable
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/discovery/joinable [get]
func (h *Handler) GetJoinable(c echo.Context) error {
	ctx := c.Request().Context()

	assetPath := c.QueryParam("asset")
	if assetPath == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "asset parameter is required")
	}

	tables, err := h.engine.GetJoinable(ctx, assetPath)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "asset %s is not ingested", assetPath)
	}
	if err != nil {
		return err
	}
	if tables == nil {
		tables = []models.JoinableTable{}
	}

	return c.JSON(http.StatusOK, tables)
}

// FilterResponse reports the outcome of a spurious-edge sweep
type FilterResponse struct {
	Deleted int `json:"deleted"`
}

// FilterConnections deletes unconfirmed match edges
// @Summary Prune spurious connections
// @Description Delete every match edge that carries no similarity score
// @Tags Discovery
// @Produce json
// @Success 200 {object} FilterResponse
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/discovery/connections/filter [post]
func (h *Handler) FilterConnections(c echo.Context) error {
	ctx := c.Request().Context()

	deleted, err := h.engine.DeleteSpuriousConnections(ctx)
	if err != nil {
		return err
	}

	h.logger.WithContext(ctx).Infof("Filtered %d spurious connections", len(deleted))
	return c.JSON(http.StatusOK, FilterResponse{Deleted: len(deleted)})
}
