package expression

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

const expressionsTable = "listing_expressions"

var expressionStruct = database.NewStruct(new(models.Expression))

// Repository handles expression persistence. Expression rows are
// append-only: Create is the only insert path and nothing here ever
// rewrites meta.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new expression repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new expression row.
func (r *Repository) Create(ctx context.Context, expression *models.Expression) error {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.Create")
	defer span.End()

	if expression.ID == "" {
		expression.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	expression.CreatedAt = now
	expression.UpdatedAt = now

	ib := database.NewInsertBuilder()
	ib.InsertInto(expressionsTable)
	ib.Cols("id", "listing_id", "meta", "parent_expression_id", "is_edit", "created_at", "updated_at", "deleted_at")
	ib.Values(expression.ID, expression.ListingID, []byte(expression.Meta), expression.ParentExpressionID, expression.IsEdit, expression.CreatedAt, expression.UpdatedAt, nil)

	query, args := ib.Build()
	if _, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": expression.ListingID}).Error("Failed to create expression")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create expression")
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{"id": expression.ID, "listing_id": expression.ListingID, "is_edit": expression.IsEdit}).Info("Created expression")
	return nil
}

// GetByID retrieves an expression by its (listing_id, id) pair, including
// soft-deleted rows. Returns nil when the pair does not exist.
func (r *Repository) GetByID(ctx context.Context, listingID, expressionID string) (*models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.GetByID")
	defer span.End()

	sb := expressionStruct.SelectFrom(expressionsTable)
	sb.Where(
		sb.Equal("id", expressionID),
		sb.Equal("listing_id", listingID),
	)

	query, args := sb.Build()
	var expression models.Expression
	if err := database.Executor(ctx, r.db).GetContext(ctx, &expression, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": expressionID, "listing_id": listingID}).Error("Failed to get expression")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get expression")
	}
	return &expression, nil
}

// ListByListing returns every expression for a listing, deleted included,
// oldest first.
func (r *Repository) ListByListing(ctx context.Context, listingID string) ([]models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.ListByListing")
	defer span.End()

	sb := expressionStruct.SelectFrom(expressionsTable)
	sb.Where(sb.Equal("listing_id", listingID))
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var expressions []models.Expression
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &expressions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Error("Failed to list expressions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list expressions")
	}
	return expressions, nil
}

// ListLiveByListing returns the non-deleted expressions for a listing,
// oldest first.
func (r *Repository) ListLiveByListing(ctx context.Context, listingID string) ([]models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.ListLiveByListing")
	defer span.End()

	sb := expressionStruct.SelectFrom(expressionsTable)
	sb.Where(
		sb.Equal("listing_id", listingID),
		sb.IsNull("deleted_at"),
	)
	sb.OrderBy("created_at")

	query, args := sb.Build()
	var expressions []models.Expression
	if err := database.Executor(ctx, r.db).SelectContext(ctx, &expressions, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Error("Failed to list live expressions")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list expressions")
	}
	return expressions, nil
}

// CountLive returns the number of non-deleted expressions for a listing.
func (r *Repository) CountLive(ctx context.Context, listingID string) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.CountLive")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("COUNT(*)")
	sb.From(expressionsTable)
	sb.Where(
		sb.Equal("listing_id", listingID),
		sb.IsNull("deleted_at"),
	)

	query, args := sb.Build()
	var count int
	if err := database.Executor(ctx, r.db).GetContext(ctx, &count, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Error("Failed to count live expressions")
		return 0, httperror.NewHTTPError(http.StatusInternalServerError, "failed to count expressions")
	}
	return count, nil
}

// SetDeleted flips the soft-delete marker; a nil deletedAt restores the row.
func (r *Repository) SetDeleted(ctx context.Context, expressionID string, deletedAt *time.Time) error {
	ctx, span := tracing.StartSpan(ctx, "expression.Repository.SetDeleted")
	defer span.End()

	ub := database.NewUpdateBuilder()
	ub.Update(expressionsTable)
	ub.Set(ub.Assign("deleted_at", deletedAt), ub.Assign("updated_at", time.Now().UTC()))
	ub.Where(ub.Equal("id", expressionID))

	query, args := ub.Build()
	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"id": expressionID}).Error("Failed to update expression deletion marker")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to update expression")
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "expression %s not found", expressionID)
	}
	return nil
}
