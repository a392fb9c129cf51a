// Package public serves the gated read-only data endpoints.
package public

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/JamieBuffing/kumasi-data-api/internal/db/repositories"
	"github.com/JamieBuffing/kumasi-data-api/internal/query"
	"github.com/JamieBuffing/kumasi-data-api/internal/telemetry"
)

// Handler serves the measurement point queries.
type Handler struct {
	points *repositories.MeasurementRepository
}

// NewHandler creates the public data handler.
func NewHandler(points *repositories.MeasurementRepository) *Handler {
	return &Handler{points: points}
}

// Data handles GET /api/public/data. Malformed query parameters never fail
// the request; each one degrades to its default.
func (h *Handler) Data(c *gin.Context) {
	req := query.Parse(c.Request.URL.Query())
	plan := query.BuildPlan(req)

	count, err := h.points.Count(c.Request.Context(), plan)
	if err != nil {
		h.fail(c, err)
		return
	}

	points, err := h.points.Find(c.Request.Context(), plan)
	if err != nil {
		h.fail(c, err)
		return
	}

	for _, p := range points {
		p.Measurements = req.TrimMeasurements(p.Measurements)
	}

	telemetry.DataQueriesTotal.WithLabelValues(strconv.FormatBool(req.IncludeMeasurements)).Inc()

	c.JSON(http.StatusOK, gin.H{
		"page":  req.Page,
		"limit": req.Limit,
		"count": count,
		"items": points,
	})
}

func (h *Handler) fail(c *gin.Context, err error) {
	slog.Error("data query failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Something went wrong",
	})
}
