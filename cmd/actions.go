package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/apicomponents/s3-collection/collection"

	"github.com/labstack/echo/v4"
)

// defaultDatesLimit caps a /dates response when the caller does not set one.
const defaultDatesLimit = 100

type Dependencies struct {
	IndexMetricsHandler http.Handler
	GetDatesBefore      func(context.Context, string, int) ([]string, error)
	AddDate             func(context.Context, string) error
	RefreshIndex        func(context.Context) error
	Logger              *slog.Logger
}

type addDateRequest struct {
	Date string `json:"date"`
}

func Register(e *echo.Echo, deps Dependencies) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})
	if deps.IndexMetricsHandler != nil {
		e.GET("/metrics/index", echo.WrapHandler(deps.IndexMetricsHandler))
	}

	e.GET("/dates", func(c echo.Context) error {
		if deps.GetDatesBefore == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "index unavailable"})
		}

		before := strings.TrimSpace(c.QueryParam("before"))
		if before == "" {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "before is required (YYYY-MM-DD)"})
		}

		limit := defaultDatesLimit
		if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
			}
			limit = n
		}

		start := time.Now()
		dates, err := deps.GetDatesBefore(c.Request().Context(), before, limit)
		if err != nil {
			logger.ErrorContext(c.Request().Context(), "dates query failed",
				"before", before,
				"error", err,
			)
			return WriteError(c, err)
		}

		logger.InfoContext(c.Request().Context(), "dates query completed",
			"before", before,
			"limit", limit,
			"result_count", len(dates),
			"latency_ms", time.Since(start).Milliseconds(),
		)
		return c.JSON(http.StatusOK, map[string]any{"dates": dates})
	})

	e.POST("/dates", func(c echo.Context) error {
		if deps.AddDate == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "index unavailable"})
		}

		var req addDateRequest
		if err := c.Bind(&req); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		}
		req.Date = strings.TrimSpace(req.Date)
		if req.Date == "" {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "date is required (YYYY-MM-DD)"})
		}

		if err := deps.AddDate(c.Request().Context(), req.Date); err != nil {
			logger.ErrorContext(c.Request().Context(), "add date failed",
				"date", req.Date,
				"error", err,
			)
			return WriteError(c, err)
		}

		logger.InfoContext(c.Request().Context(), "date added", "date", req.Date)
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "date": req.Date})
	})

	e.POST("/index/refresh", func(c echo.Context) error {
		if deps.RefreshIndex == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": "index unavailable"})
		}
		if err := deps.RefreshIndex(c.Request().Context()); err != nil {
			logger.ErrorContext(c.Request().Context(), "index refresh failed", "error", err)
			return WriteError(c, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
	})
}

// WriteError maps index errors onto HTTP statuses. A load failure means both
// reconstruction paths are down, so the caller should retry shortly.
func WriteError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, collection.ErrInvalidDate):
		return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, collection.ErrLoadFailed):
		c.Response().Header().Set("Retry-After", "1")
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}
