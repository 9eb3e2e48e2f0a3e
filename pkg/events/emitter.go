// Package events handles event emission for listing lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/propfeed/listings/pkg/kafka"
	"github.com/propfeed/listings/pkg/models"
	"github.com/propfeed/listings/pkg/tracing"
)

// SchemaVersion is the current event schema version
const SchemaVersion = "1.0"

const (
	EventTypeListingCreated     = "listing.created"
	EventTypeListingDeleted     = "listing.deleted"
	EventTypeListingRestored    = "listing.restored"
	EventTypeExpressionAppended = "listing.expression_appended"
	EventTypeExpressionEdited   = "listing.expression_edited"
)

// Emitter publishes listing lifecycle events
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

// EmitListingCreated emits a listing created event
func (e *Emitter) EmitListingCreated(ctx context.Context, listing *models.Listing, expressionID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitListingCreated")
	defer span.End()

	event := &kafka.ListingEvent{
		EventType:    EventTypeListingCreated,
		ListingID:    listing.ID,
		PropertyID:   listing.PropertyID,
		ExpressionID: expressionID,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit listing.created event")
		return err
	}

	return nil
}

// EmitExpressionAppended emits an event for an ingestion-sourced expression
func (e *Emitter) EmitExpressionAppended(ctx context.Context, listing *models.Listing, expressionID string, meta json.RawMessage) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitExpressionAppended")
	defer span.End()

	event := &kafka.ListingEvent{
		EventType:    EventTypeExpressionAppended,
		ListingID:    listing.ID,
		PropertyID:   listing.PropertyID,
		ExpressionID: expressionID,
		Data:         meta,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit expression_appended event")
		return err
	}

	return nil
}

// EmitExpressionEdited emits an event for a branch-edited expression
func (e *Emitter) EmitExpressionEdited(ctx context.Context, listingID, parentExpressionID, expressionID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitExpressionEdited")
	defer span.End()

	data, _ := json.Marshal(map[string]any{
		"schema_version":       SchemaVersion,
		"parent_expression_id": parentExpressionID,
	})

	event := &kafka.ListingEvent{
		EventType:    EventTypeExpressionEdited,
		ListingID:    listingID,
		ExpressionID: expressionID,
		Data:         data,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit expression_edited event")
		return err
	}

	return nil
}

// EmitListingDeleted emits a listing deleted event
func (e *Emitter) EmitListingDeleted(ctx context.Context, listingID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitListingDeleted")
	defer span.End()

	event := &kafka.ListingEvent{
		EventType: EventTypeListingDeleted,
		ListingID: listingID,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit listing.deleted event")
		return err
	}

	return nil
}

// EmitListingRestored emits a listing restored event
func (e *Emitter) EmitListingRestored(ctx context.Context, listingID string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitListingRestored")
	defer span.End()

	event := &kafka.ListingEvent{
		EventType: EventTypeListingRestored,
		ListingID: listingID,
	}

	if err := e.producer.PublishListingEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit listing.restored event")
		return err
	}

	return nil
}
