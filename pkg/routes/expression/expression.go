package expression

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

var validate = validator.New()

// VersionsService is the expression surface of the versions service
type VersionsService interface {
	ListExpressions(ctx context.Context, listingID string) ([]models.Expression, error)
	GetExpression(ctx context.Context, listingID, expressionID string) (*models.Expression, error)
	DeleteExpression(ctx context.Context, listingID, expressionID string) error
	RestoreExpression(ctx context.Context, listingID, expressionID string) error
	EditExpression(ctx context.Context, listingID, expressionID string, meta json.RawMessage) (string, error)
}

// Handler handles expression API endpoints
type Handler struct {
	versions VersionsService
}

// NewHandler creates a new expression handler
func NewHandler(versions VersionsService) *Handler {
	return &Handler{versions: versions}
}

// RegisterRoutes registers expression routes on the listings group
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/:listingId/expressions", h.List)
	g.GET("/:listingId/expressions/:expressionId", h.Get)
	g.DELETE("/:listingId/expressions/:expressionId", h.Delete)
	g.PUT("/:listingId/expressions/:expressionId", h.Restore)
	g.POST("/:listingId/expressions/:expressionId", h.Edit)
}

// List handles GET /listings/:listingId/expressions
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "expression_handler.List")
	defer span.End()

	expressions, err := h.versions.ListExpressions(ctx, c.Param("listingId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, expressions)
}

// Get handles GET /listings/:listingId/expressions/:expressionId
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "expression_handler.Get")
	defer span.End()

	expression, err := h.versions.GetExpression(ctx, c.Param("listingId"), c.Param("expressionId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, expression)
}

// Delete handles DELETE /listings/:listingId/expressions/:expressionId
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "expression_handler.Delete")
	defer span.End()

	if err := h.versions.DeleteExpression(ctx, c.Param("listingId"), c.Param("expressionId")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.MutationResponse{Success: true})
}

// Restore handles PUT /listings/:listingId/expressions/:expressionId
func (h *Handler) Restore(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "expression_handler.Restore")
	defer span.End()

	if err := h.versions.RestoreExpression(ctx, c.Param("listingId"), c.Param("expressionId")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.MutationResponse{Success: true})
}

// Edit handles POST /listings/:listingId/expressions/:expressionId, branching
// a new expression off the target.
func (h *Handler) Edit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "expression_handler.Edit")
	defer span.End()

	var req models.EditExpressionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	newID, err := h.versions.EditExpression(ctx, c.Param("listingId"), c.Param("expressionId"), req.Meta)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.EditExpressionResponse{Success: true, ExpressionID: newID})
}
