// Package ingestion exposes the profiling pipeline API: run composition,
// status trees, raw asset access and purge.
package ingestion

import (
	"errors"
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/OpertusMundi/discovery-service/pkg/graph"
	"github.com/OpertusMundi/discovery-service/pkg/metadata"
	"github.com/OpertusMundi/discovery-service/pkg/models"
	"github.com/OpertusMundi/discovery-service/pkg/orchestrator"
	"github.com/OpertusMundi/discovery-service/pkg/queue"
	"github.com/OpertusMundi/discovery-service/pkg/storage"
)

// Handler handles ingestion API endpoints
type Handler struct {
	orch     *orchestrator.Orchestrator
	tasks    *orchestrator.Tasks
	queue    *queue.Queue
	nodes    *graph.NodeService
	metadata *metadata.Store
	storage  *storage.Client
	logger   ectologger.Logger
}

// NewHandler creates a new ingestion handler
func NewHandler(
	orch *orchestrator.Orchestrator,
	tasks *orchestrator.Tasks,
	q *queue.Queue,
	nodes *graph.NodeService,
	meta *metadata.Store,
	store *storage.Client,
	logger ectologger.Logger,
) *Handler {
	return &Handler{
		orch:     orch,
		tasks:    tasks,
		queue:    q,
		nodes:    nodes,
		metadata: meta,
		storage:  store,
		logger:   logger,
	}
}

// Register registers the ingestion routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/runs", h.IngestAll)
	g.POST("/assets", h.AddAsset)
	g.DELETE("/assets", h.RemoveAsset)
	g.POST("/profile", h.ProfilePair)
	g.DELETE("/profile", h.RemoveProfileProperty)
	g.GET("/tasks/:id", h.TaskStatus)
	g.GET("/assets/csv", h.GetAssetCSV)
	g.DELETE("/purge", h.Purge)
}

// RunResponse carries the root task id of a composed run
type RunResponse struct {
	TaskID string `json:"task_id"`
}

// IngestAll composes a full corpus run
// @Summary Ingest every stored asset
// @Description Compose a run that ingests every asset in storage, matches all pairs and discovers dependencies
// @Tags Ingestion
// @Produce json
// @Success 202 {object} RunResponse
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/runs [post]
func (h *Handler) IngestAll(c echo.Context) error {
	ctx := c.Request().Context()

	rootID, err := h.orch.IngestAll(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPError(http.StatusNotFound, "no assets in storage")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, RunResponse{TaskID: rootID})
}

// AddAssetRequest is the request body for adding one asset
type AddAssetRequest struct {
	Path string `json:"path" validate:"required"`
}

// AddAsset composes an incremental run for one asset
// @Summary Ingest one asset
// @Description Compose a run that ingests the asset and matches it against the existing corpus
// @Tags Ingestion
// @Accept json
// @Produce json
// @Param body body AddAssetRequest true "Asset to ingest"
// @Success 202 {object} RunResponse
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/assets [post]
func (h *Handler) AddAsset(c echo.Context) error {
	ctx := c.Request().Context()

	var req AddAssetRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Path == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "path is required")
	}

	exists, err := h.storage.AssetExists(ctx, req.Path)
	if err != nil {
		return err
	}
	if !exists {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "asset %s not found in storage", req.Path)
	}

	rootID, err := h.orch.AddAsset(ctx, req.Path)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, RunResponse{TaskID: rootID})
}

// RemoveAsset deletes one ingested asset from the graph and the index
// @Summary Remove an asset
// @Description Delete the asset's column nodes, their edges and its metadata record
// @Tags Ingestion
// @Produce json
// @Param path query string true "Asset path"
// @Success 204
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/assets [delete]
func (h *Handler) RemoveAsset(c echo.Context) error {
	ctx := c.Request().Context()

	path := c.QueryParam("path")
	if path == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "path parameter is required")
	}

	err := h.tasks.RemoveAsset(ctx, path)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "asset %s is not ingested", path)
	}
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// RemoveProfileProperty drops one profiling property from one column
// @Summary Remove a profiling property
// @Description Drop one profiling property from the named column of an ingested asset
// @Tags Ingestion
// @Produce json
// @Param path query string true "Asset path"
// @Param column query string true "Column name"
// @Param property query string true "Property name"
// @Success 204
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/profile [delete]
func (h *Handler) RemoveProfileProperty(c echo.Context) error {
	ctx := c.Request().Context()

	path := c.QueryParam("path")
	column := c.QueryParam("column")
	property := c.QueryParam("property")
	if path == "" || column == "" || property == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "path, column and property parameters are required")
	}

	err := h.tasks.RemoveProfileProperty(ctx, path, column, property)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "asset %s has no ingested column %s", path, column)
	}
	if err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// ProfilePairRequest is the request body for a single matching task
type ProfilePairRequest struct {
	PathA string `json:"path_a" validate:"required"`
	PathB string `json:"path_b" validate:"required"`
}

// ProfilePair submits one matching task
// @Summary Profile one asset pair
// @Description Submit a single matching task for two ingested assets
// @Tags Ingestion
// @Accept json
// @Produce json
// @Param body body ProfilePairRequest true "Asset pair"
// @Success 202 {object} RunResponse
// @Failure 400 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/profile [post]
func (h *Handler) ProfilePair(c echo.Context) error {
	ctx := c.Request().Context()

	var req ProfilePairRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.PathA == "" || req.PathB == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "path_a and path_b are required")
	}
	if req.PathA == req.PathB {
		return httperror.NewHTTPError(http.StatusBadRequest, "paths must differ")
	}

	taskID, err := h.orch.ProfilePair(ctx, req.PathA, req.PathB)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusAccepted, RunResponse{TaskID: taskID})
}

// TaskStatus reconstructs the status tree of a run
// @Summary Get task status
// @Description Reconstruct the point-in-time status tree of a run or single task
// @Tags Ingestion
// @Produce json
// @Param id path string true "Task id"
// @Success 200 {object} models.StatusTree
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/tasks/{id} [get]
func (h *Handler) TaskStatus(c echo.Context) error {
	ctx := c.Request().Context()

	taskID := c.Param("id")
	tree, err := h.orch.Status(ctx, taskID)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "task %s not found", taskID)
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, tree)
}

// GetAssetCSV streams the raw stored asset
// @Summary Download an asset
// @Description Stream the raw tabular asset from object storage
// @Tags Ingestion
// @Produce text/csv
// @Param path query string true "Asset path"
// @Success 200 {string} string "CSV content"
// @Failure 400 {object} httperror.HTTPError
// @Failure 404 {object} httperror.HTTPError
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/assets/csv [get]
func (h *Handler) GetAssetCSV(c echo.Context) error {
	ctx := c.Request().Context()

	path := c.QueryParam("path")
	if path == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "path parameter is required")
	}

	object, err := h.storage.ReadRaw(ctx, path)
	if errors.Is(err, models.ErrNotFound) {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "asset %s not found", path)
	}
	if err != nil {
		return err
	}
	defer object.Close()

	c.Response().Header().Set(echo.HeaderContentType, "text/csv")
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), object)
	return err
}

// Purge removes every ingested node, record and job
// @Summary Purge the system
// @Description Delete the whole graph, the metadata index and every job record
// @Tags Ingestion
// @Produce json
// @Success 204
// @Failure 500 {object} httperror.HTTPError
// @Router /api/v1/ingestion/purge [delete]
func (h *Handler) Purge(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.nodes.PurgeAll(ctx); err != nil {
		return err
	}
	if err := h.metadata.Purge(ctx); err != nil {
		return err
	}
	if err := h.queue.Purge(ctx); err != nil {
		return err
	}

	h.logger.WithContext(ctx).Warn("Purged graph, metadata index and job records")
	return c.NoContent(http.StatusNoContent)
}
