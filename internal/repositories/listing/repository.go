package listing

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/propfeed/listings/pkg/database"
	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

const listingsTable = "listings"

var listingStruct = database.NewStruct(new(models.Listing))

// Repository handles listing persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new listing repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new listing row.
func (r *Repository) Create(ctx context.Context, listing *models.Listing) error {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.Create")
	defer span.End()

	if listing.ID == "" {
		listing.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	listing.CreatedAt = now
	listing.UpdatedAt = now

	ib := database.NewInsertBuilder()
	ib.InsertInto(listingsTable)
	ib.Cols("id", "property_id", "content_hash", "active_expression_id", "created_at", "updated_at", "deleted_at")
	ib.Values(listing.ID, listing.PropertyID, listing.ContentHash, listing.ActiveExpressionID, listing.CreatedAt, listing.UpdatedAt, nil)

	query, args := ib.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"property_id": listing.PropertyID}).Error("Failed to create listing")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create listing")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": listing.ID, "property_id": listing.PropertyID}).Info("Created listing")
	return nil
}

// GetByID retrieves a listing by id, including soft-deleted rows.
// Returns nil when no row exists; callers decide how absence maps to errors.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.GetByID")
	defer span.End()

	sb := listingStruct.SelectFrom(listingsTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var listing models.Listing
	if err := database.Executor(ctx, r.db).GetContext(ctx, &listing, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": id}).Error("Failed to get listing")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get listing")
	}
	return &listing, nil
}

// GetByPropertyID retrieves a listing by its external property identifier,
// including soft-deleted rows.
func (r *Repository) GetByPropertyID(ctx context.Context, propertyID string) (*models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.GetByPropertyID")
	defer span.End()

	sb := listingStruct.SelectFrom(listingsTable)
	sb.Where(sb.Equal("property_id", propertyID))

	query, args := sb.Build()
	var listing models.Listing
	if err := database.Executor(ctx, r.db).GetContext(ctx, &listing, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"property_id": propertyID}).Error("Failed to get listing by property_id")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get listing")
	}
	return &listing, nil
}

// SetActiveExpression points the listing at a new active expression.
func (r *Repository) SetActiveExpression(ctx context.Context, listingID, expressionID string) error {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.SetActiveExpression")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(listingsTable)
	ub.Set(ub.Assign("active_expression_id", expressionID), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", listingID))

	query, args := ub.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": listingID, "expression_id": expressionID}).Error("Failed to set active expression")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to set active expression")
	}
	return nil
}

// UpdateContentHash records the digest of the most recently ingested
// upstream record for the listing.
func (r *Repository) UpdateContentHash(ctx context.Context, listingID, hash string) error {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.UpdateContentHash")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(listingsTable)
	ub.Set(ub.Assign("content_hash", hash), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", listingID))

	query, args := ub.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": listingID}).Error("Failed to update content hash")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update content hash")
	}
	return nil
}

// SetDeleted flips the soft-delete marker; a nil deletedAt restores the row.
func (r *Repository) SetDeleted(ctx context.Context, listingID string, deletedAt *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.SetDeleted")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(listingsTable)
	ub.Set(ub.Assign("deleted_at", deletedAt), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", listingID))

	query, args := ub.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": listingID}).Error("Failed to update listing deletion marker")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update listing")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}
	return nil
}

// ListActiveWithExpression returns all non-deleted listings joined to their
// active expression. Listings without an active pointer are excluded by the
// inner join.
func (r *Repository) ListActiveWithExpression(ctx context.Context) ([]models.ActiveListing, error) {
	ctx, span := tracing.StartSpan(ctx, "listing.Repository.ListActiveWithExpression")
	defer span.End()

	query := `
		SELECT l.id, l.property_id, l.content_hash, l.active_expression_id,
		       l.created_at, l.updated_at, l.deleted_at,
		       e.id AS expr_id, e.listing_id AS expr_listing_id, e.meta AS expr_meta,
		       e.parent_expression_id AS expr_parent_expression_id, e.is_edit AS expr_is_edit,
		       e.created_at AS expr_created_at, e.updated_at AS expr_updated_at, e.deleted_at AS expr_deleted_at
		FROM listings l
		JOIN listing_expressions e ON e.id = l.active_expression_id
		WHERE l.deleted_at IS NULL
		ORDER BY l.created_at
	`

	var rows []activeListingRow
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &rows, query); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list active listings")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list active listings")
	}

	listings := make([]models.ActiveListing, 0, len(rows))
	for _, row := range rows {
		listings = append(listings, row.toActiveListing())
	}
	return listings, nil
}

type activeListingRow struct {
	models.Listing
	ExprID                 string     `db:"expr_id"`
	ExprListingID          string     `db:"expr_listing_id"`
	ExprMeta               []byte     `db:"expr_meta"`
	ExprParentExpressionID *string    `db:"expr_parent_expression_id"`
	ExprIsEdit             bool       `db:"expr_is_edit"`
	ExprCreatedAt          time.Time  `db:"expr_created_at"`
	ExprUpdatedAt          time.Time  `db:"expr_updated_at"`
	ExprDeletedAt          *time.Time `db:"expr_deleted_at"`
}

func (row activeListingRow) toActiveListing() models.ActiveListing {
	return models.ActiveListing{
		Listing: row.Listing,
		ActiveExpression: models.Expression{
			ID:                 row.ExprID,
			ListingID:          row.ExprListingID,
			Meta:               row.ExprMeta,
			ParentExpressionID: row.ExprParentExpressionID,
			IsEdit:             row.ExprIsEdit,
			CreatedAt:          row.ExprCreatedAt,
			UpdatedAt:          row.ExprUpdatedAt,
			DeletedAt:          row.ExprDeletedAt,
		},
	}
}
