package listing

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

// VersionsService is the listing surface of the versions service
type VersionsService interface {
	ListActiveListings(ctx context.Context) ([]models.ActiveListing, error)
	GetListing(ctx context.Context, listingID string) (*models.ListingWithExpressions, error)
	DeleteListing(ctx context.Context, listingID string) error
	RestoreListing(ctx context.Context, listingID string) error
}

// Handler handles listing API endpoints
type Handler struct {
	versions VersionsService
}

// NewHandler creates a new listing handler
func NewHandler(versions VersionsService) *Handler {
	return &Handler{versions: versions}
}

// RegisterRoutes registers listing routes on the group
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Delete)
	g.PUT("/:id", h.Restore)
}

// List handles GET /listings
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "listing_handler.List")
	defer span.End()

	listings, err := h.versions.ListActiveListings(ctx)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listings)
}

// Get handles GET /listings/:id
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "listing_handler.Get")
	defer span.End()

	listing, err := h.versions.GetListing(ctx, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, listing)
}

// Delete handles DELETE /listings/:id
func (h *Handler) Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "listing_handler.Delete")
	defer span.End()

	if err := h.versions.DeleteListing(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.MutationResponse{Success: true})
}

// Restore handles PUT /listings/:id
func (h *Handler) Restore(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "listing_handler.Restore")
	defer span.End()

	if err := h.versions.RestoreListing(ctx, c.Param("id")); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.MutationResponse{Success: true})
}
