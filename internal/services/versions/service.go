// Package versions owns the listing/expression consistency rules: creation,
// branch edits, soft delete and restore, and the cascade between the two
// entities. Every multi-step mutation runs in one transaction; precondition
// checks run as plain reads before the transaction opens.
package versions

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/propfeed/listings/pkg/database"
	"github.com/propfeed/listings/pkg/fingerprint"
	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

// Database starts context-carried transactions
type Database interface {
	GetTx(ctx context.Context, opts *sql.TxOptions) (context.Context, database.Tx, error)
}

// ListingRepository is the persistence contract for listings
type ListingRepository interface {
	Create(ctx context.Context, listing *models.Listing) error
	GetByID(ctx context.Context, id string) (*models.Listing, error)
	GetByPropertyID(ctx context.Context, propertyID string) (*models.Listing, error)
	SetActiveExpression(ctx context.Context, listingID, expressionID string) error
	UpdateContentHash(ctx context.Context, listingID, hash string) error
	SetDeleted(ctx context.Context, listingID string, deletedAt *time.Time) error
	ListActiveWithExpression(ctx context.Context) ([]models.ActiveListing, error)
}

// ExpressionRepository is the persistence contract for expressions
type ExpressionRepository interface {
	Create(ctx context.Context, expression *models.Expression) error
	GetByID(ctx context.Context, listingID, expressionID string) (*models.Expression, error)
	ListByListing(ctx context.Context, listingID string) ([]models.Expression, error)
	ListLiveByListing(ctx context.Context, listingID string) ([]models.Expression, error)
	CountLive(ctx context.Context, listingID string) (int, error)
	SetDeleted(ctx context.Context, expressionID string, deletedAt *time.Time) error
}

// EventEmitter publishes lifecycle events. Emission failures are logged and
// never fail the operation that triggered them.
type EventEmitter interface {
	EmitListingCreated(ctx context.Context, listing *models.Listing, expressionID string) error
	EmitExpressionAppended(ctx context.Context, listing *models.Listing, expressionID string, meta json.RawMessage) error
	EmitExpressionEdited(ctx context.Context, listingID, parentExpressionID, expressionID string) error
	EmitListingDeleted(ctx context.Context, listingID string) error
	EmitListingRestored(ctx context.Context, listingID string) error
}

// Service enforces the versioning invariants over the repositories
type Service struct {
	db          Database
	listings    ListingRepository
	expressions ExpressionRepository
	emitter     EventEmitter
	logger      ectologger.Logger
}

// NewService creates a new versions service
func NewService(db Database, listings ListingRepository, expressions ExpressionRepository, emitter EventEmitter, logger ectologger.Logger) *Service {
	return &Service{
		db:          db,
		listings:    listings,
		expressions: expressions,
		emitter:     emitter,
		logger:      logger,
	}
}

// CreateListing atomically inserts a listing, its initial expression, and
// points the listing at that expression. No partial rows survive a failure.
func (s *Service) CreateListing(ctx context.Context, propertyID string, meta json.RawMessage) (*models.Listing, *models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.CreateListing")
	defer span.End()

	hash, err := fingerprint.GenerateFromJSON(meta)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"property_id": propertyID}).Error("Failed to fingerprint listing content")
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to fingerprint listing content")
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	listing := &models.Listing{
		PropertyID:  propertyID,
		ContentHash: hash,
	}
	if err := s.listings.Create(ctx, listing); err != nil {
		return nil, nil, err
	}

	expression := &models.Expression{
		ListingID: listing.ID,
		Meta:      meta,
	}
	if err := s.expressions.Create(ctx, expression); err != nil {
		return nil, nil, err
	}

	if err := s.listings.SetActiveExpression(ctx, listing.ID, expression.ID); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit listing creation")
	}

	listing.ActiveExpressionID = &expression.ID

	if err := s.emitter.EmitListingCreated(ctx, listing, expression.ID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listing.ID}).Warn("Failed to emit listing created event")
	}

	return listing, expression, nil
}

// AppendExpression records a new content snapshot for an existing listing and
// updates its content hash. The active pointer is deliberately left alone so
// refreshes never silently replace what a listing currently displays.
func (s *Service) AppendExpression(ctx context.Context, listingID string, meta json.RawMessage) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.AppendExpression")
	defer span.End()

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return "", err
	}
	if listing == nil {
		return "", httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	hash, err := fingerprint.GenerateFromJSON(meta)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Error("Failed to fingerprint listing content")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to fingerprint listing content")
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	expression := &models.Expression{
		ListingID: listingID,
		Meta:      meta,
	}
	if err := s.expressions.Create(ctx, expression); err != nil {
		return "", err
	}

	if err := s.listings.UpdateContentHash(ctx, listingID, hash); err != nil {
		return "", err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit expression append")
	}

	if err := s.emitter.EmitExpressionAppended(ctx, listing, expression.ID, meta); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit expression appended event")
	}

	return expression.ID, nil
}

// EditExpression branches a new expression off an existing one. The source
// row is never touched.
func (s *Service) EditExpression(ctx context.Context, listingID, expressionID string, meta json.RawMessage) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.EditExpression")
	defer span.End()

	expression, err := s.expressions.GetByID(ctx, listingID, expressionID)
	if err != nil {
		return "", err
	}
	if expression == nil {
		return "", httperror.NewHTTPErrorf(http.StatusNotFound, "expression %s not found for listing %s", expressionID, listingID)
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return "", err
	}
	if listing == nil {
		return "", httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	if listing.IsDeleted() {
		return "", httperror.NewHTTPErrorf(http.StatusForbidden, "listing %s is deleted", listingID)
	}
	if expression.IsDeleted() {
		return "", httperror.NewHTTPErrorf(http.StatusForbidden, "expression %s is deleted", expressionID)
	}

	edited := &models.Expression{
		ListingID:          listingID,
		Meta:               meta,
		ParentExpressionID: &expression.ID,
		IsEdit:             true,
	}
	if err := s.expressions.Create(ctx, edited); err != nil {
		return "", err
	}

	if err := s.emitter.EmitExpressionEdited(ctx, listingID, expression.ID, edited.ID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit expression edited event")
	}

	return edited.ID, nil
}

// DeleteExpression soft-deletes an expression. Deleting the last live
// expression of a listing also deletes the listing, in the same transaction.
func (s *Service) DeleteExpression(ctx context.Context, listingID, expressionID string) error {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.DeleteExpression")
	defer span.End()

	expression, err := s.expressions.GetByID(ctx, listingID, expressionID)
	if err != nil {
		return err
	}
	if expression == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "expression %s not found for listing %s", expressionID, listingID)
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	if listing.IsDeleted() {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "listing %s is deleted", listingID)
	}

	if listing.ActiveExpressionID != nil && *listing.ActiveExpressionID == expressionID {
		liveCount, err := s.expressions.CountLive(ctx, listingID)
		if err != nil {
			return err
		}
		if liveCount > 1 {
			return httperror.NewHTTPErrorf(http.StatusForbidden, "expression %s is the active expression and other expressions remain", expressionID)
		}
	}

	if expression.IsDeleted() {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "expression %s is already deleted", expressionID)
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	if err := s.expressions.SetDeleted(ctx, expressionID, &now); err != nil {
		return err
	}

	remaining, err := s.expressions.CountLive(ctx, listingID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		if err := s.listings.SetDeleted(ctx, listingID, &now); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit expression deletion")
	}

	if remaining == 0 {
		if err := s.emitter.EmitListingDeleted(ctx, listingID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit listing deleted event")
		}
	}

	return nil
}

// RestoreExpression clears an expression's deleted flag. When its listing is
// deleted too, the listing is resurrected and the restored expression becomes
// its active one.
func (s *Service) RestoreExpression(ctx context.Context, listingID, expressionID string) error {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.RestoreExpression")
	defer span.End()

	expression, err := s.expressions.GetByID(ctx, listingID, expressionID)
	if err != nil {
		return err
	}
	if expression == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "expression %s not found for listing %s", expressionID, listingID)
	}

	if !expression.IsDeleted() {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "expression %s is not deleted", expressionID)
	}

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	ctx, tx, err := s.db.GetTx(ctx, nil)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := s.expressions.SetDeleted(ctx, expressionID, nil); err != nil {
		return err
	}

	resurrected := listing.IsDeleted()
	if resurrected {
		if err := s.listings.SetDeleted(ctx, listingID, nil); err != nil {
			return err
		}
		if err := s.listings.SetActiveExpression(ctx, listingID, expressionID); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to commit expression restore")
	}

	if resurrected {
		if err := s.emitter.EmitListingRestored(ctx, listingID); err != nil {
			s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit listing restored event")
		}
	}

	return nil
}

// DeleteListing soft-deletes the listing only. Its expressions are left
// untouched; listing-level deletion is an administrative override, not a
// cascade.
func (s *Service) DeleteListing(ctx context.Context, listingID string) error {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.DeleteListing")
	defer span.End()

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}
	if listing.IsDeleted() {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "listing %s is already deleted", listingID)
	}

	now := time.Now().UTC()
	if err := s.listings.SetDeleted(ctx, listingID, &now); err != nil {
		return err
	}

	if err := s.emitter.EmitListingDeleted(ctx, listingID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit listing deleted event")
	}

	return nil
}

// RestoreListing clears the listing's deleted flag. The active pointer is
// left untouched.
func (s *Service) RestoreListing(ctx context.Context, listingID string) error {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.RestoreListing")
	defer span.End()

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return err
	}
	if listing == nil {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}
	if !listing.IsDeleted() {
		return httperror.NewHTTPErrorf(http.StatusForbidden, "listing %s is not deleted", listingID)
	}

	if err := s.listings.SetDeleted(ctx, listingID, nil); err != nil {
		return err
	}

	if err := s.emitter.EmitListingRestored(ctx, listingID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"listing_id": listingID}).Warn("Failed to emit listing restored event")
	}

	return nil
}

// GetListing returns a listing joined to its live expressions. A deleted
// listing, or one with no live history, reads as not found.
func (s *Service) GetListing(ctx context.Context, listingID string) (*models.ListingWithExpressions, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.GetListing")
	defer span.End()

	listing, err := s.listings.GetByID(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if listing == nil || listing.IsDeleted() {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	expressions, err := s.expressions.ListLiveByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if len(expressions) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "listing %s not found", listingID)
	}

	return &models.ListingWithExpressions{
		Listing:     *listing,
		Expressions: expressions,
	}, nil
}

// ListActiveListings returns all non-deleted listings with their active
// expression. An empty result set is a not-found condition, by contract.
func (s *Service) ListActiveListings(ctx context.Context) ([]models.ActiveListing, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.ListActiveListings")
	defer span.End()

	listings, err := s.listings.ListActiveWithExpression(ctx)
	if err != nil {
		return nil, err
	}
	if len(listings) == 0 {
		return nil, httperror.NewHTTPError(http.StatusNotFound, "no listings found")
	}
	return listings, nil
}

// GetExpression returns one expression row; deleted rows are forbidden
// rather than hidden.
func (s *Service) GetExpression(ctx context.Context, listingID, expressionID string) (*models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.GetExpression")
	defer span.End()

	expression, err := s.expressions.GetByID(ctx, listingID, expressionID)
	if err != nil {
		return nil, err
	}
	if expression == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "expression %s not found for listing %s", expressionID, listingID)
	}
	if expression.IsDeleted() {
		return nil, httperror.NewHTTPErrorf(http.StatusForbidden, "expression %s is deleted", expressionID)
	}
	return expression, nil
}

// ListExpressions returns every expression for a listing, deleted included,
// regardless of the listing's own deleted state.
func (s *Service) ListExpressions(ctx context.Context, listingID string) ([]models.Expression, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.ListExpressions")
	defer span.End()

	expressions, err := s.expressions.ListByListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if len(expressions) == 0 {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "no expressions found for listing %s", listingID)
	}
	return expressions, nil
}

// GetListingByPropertyID looks a listing up by its external identifier.
// Returns nil when no listing has been created for the property yet.
func (s *Service) GetListingByPropertyID(ctx context.Context, propertyID string) (*models.Listing, error) {
	ctx, span := tracing.StartSpan(ctx, "versions.Service.GetListingByPropertyID")
	defer span.End()

	return s.listings.GetByPropertyID(ctx, propertyID)
}
