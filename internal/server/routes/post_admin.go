package routes

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"lattice/internal/queue"
	"lattice/internal/server/middleware"
	"lattice/internal/util"
	"lattice/pkg/leaselock"
	"lattice/pkg/logger"
)

// ReindexTenantHandler publishes a reindex trigger for the tenant. The
// indexing job consumes it and builds a new index version; queries keep
// serving from the active version until an explicit swap.
func ReindexTenantHandler(c echo.Context) error {
	type reindexResponse struct {
		Message       string `json:"message"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	cc := c.(*middleware.AppContext)
	tenantID := c.Param("id")
	corrID := util.NewCorrelationID()

	req := queue.ReindexRequest{
		TenantID:      tenantID,
		RequestedBy:   cc.User.Subject,
		CorrelationID: corrID,
	}
	if err := queue.PublishReindex(cc.App.Queue, req); err != nil {
		logger.Error("Failed to publish reindex trigger",
			"correlation_id", corrID, "tenant", tenantID, "err", err)
		return c.JSON(http.StatusInternalServerError, reindexResponse{
			Message:       "Internal server error",
			CorrelationID: corrID,
		})
	}

	logger.Info("Reindex triggered", "correlation_id", corrID, "tenant", tenantID)
	return c.JSON(http.StatusAccepted, reindexResponse{
		Message:       "Reindex triggered",
		CorrelationID: corrID,
	})
}

// SwapIndexHandler atomically repoints the tenant's active index version.
// A lease lock serializes swaps per tenant; in-flight queries finish on
// the version they pinned at start.
func SwapIndexHandler(c echo.Context) error {
	type swapBody struct {
		Version string `json:"version" validate:"required"`
	}

	type swapResponse struct {
		Message       string `json:"message"`
		FromVersion   string `json:"from_version,omitempty"`
		ToVersion     string `json:"to_version,omitempty"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	data := new(swapBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, swapResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, swapResponse{Message: "Invalid request body"})
	}

	cc := c.(*middleware.AppContext)
	app := cc.App
	tenantID := c.Param("id")
	corrID := util.NewCorrelationID()
	ctx := c.Request().Context()

	var fromVersion string
	err := app.Locks.WithLease(ctx, "index-swap:"+tenantID, leaselock.Options{}, func(ctx context.Context) error {
		var err error
		fromVersion, err = app.Store.ActiveIndexVersion(ctx, tenantID)
		if err != nil {
			return err
		}
		return app.Store.SwapActiveIndexVersion(ctx, tenantID, data.Version)
	})
	if err != nil {
		if errors.Is(err, leaselock.ErrBusy) {
			return c.JSON(http.StatusConflict, swapResponse{
				Message:       "Another index swap is in progress",
				CorrelationID: corrID,
			})
		}
		logger.Error("Index swap failed",
			"correlation_id", corrID, "tenant", tenantID, "version", data.Version, "err", err)
		return c.JSON(http.StatusInternalServerError, swapResponse{
			Message:       "Internal server error",
			CorrelationID: corrID,
		})
	}

	event := queue.SwapEvent{
		TenantID:    tenantID,
		FromVersion: fromVersion,
		ToVersion:   data.Version,
	}
	if err := queue.PublishSwapEvent(app.Queue, event); err != nil {
		logger.Warn("Failed to publish swap event",
			"correlation_id", corrID, "tenant", tenantID, "err", err)
	}

	logger.Info("Index version swapped",
		"correlation_id", corrID, "tenant", tenantID,
		"from", fromVersion, "to", data.Version)

	return c.JSON(http.StatusOK, swapResponse{
		Message:       "Index version swapped",
		FromVersion:   fromVersion,
		ToVersion:     data.Version,
		CorrelationID: corrID,
	})
}
