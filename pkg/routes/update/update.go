package update

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/reqcontext"
	"github.com/propfeed/listings/pkg/tracing"
)

// JobsService is the refresh-trigger surface of the jobs service
type JobsService interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (*models.Job, error)
	Poll(ctx context.Context, jobID string) (*models.Job, error)
}

// Handler handles refresh trigger and poll endpoints
type Handler struct {
	jobs JobsService
}

// NewHandler creates a new update handler
func NewHandler(jobs JobsService) *Handler {
	return &Handler{jobs: jobs}
}

// RegisterRoutes registers update routes on the group
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.Trigger)
	g.GET("/:jobId", h.Poll)
}

// Trigger handles GET /updates. The triggering request's context is recorded
// as the job payload; the reconciliation itself runs detached.
func (h *Handler) Trigger(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "update_handler.Trigger")
	defer span.End()

	payload, _ := json.Marshal(map[string]any{
		"request_id": reqcontext.GetRequestID(ctx),
		"remote_ip":  c.RealIP(),
	})

	job, err := h.jobs.Enqueue(ctx, payload)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}

// Poll handles GET /updates/:jobId
func (h *Handler) Poll(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "update_handler.Poll")
	defer span.End()

	job, err := h.jobs.Poll(ctx, c.Param("jobId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, job)
}
