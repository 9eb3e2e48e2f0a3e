package models

import (
	"encoding/json"
	"time"
)

// Listing is the versioned record for one externally-identified property.
// Its content history lives in listing_expressions; active_expression_id
// points at the snapshot currently presented as the listing's content.
type Listing struct {
	ID                 string     `json:"id" db:"id"`
	PropertyID         string     `json:"property_id" db:"property_id"`
	ContentHash        string     `json:"content_hash" db:"content_hash"`
	ActiveExpressionID *string    `json:"active_expression_id,omitempty" db:"active_expression_id"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the listing has been soft deleted.
func (l *Listing) IsDeleted() bool {
	return l.DeletedAt != nil
}

// Expression is one immutable snapshot of a listing's content. Rows are
// append-only: after insert, only deleted_at ever changes.
type Expression struct {
	ID                 string          `json:"id" db:"id"`
	ListingID          string          `json:"listing_id" db:"listing_id"`
	Meta               json.RawMessage `json:"meta" db:"meta"`
	ParentExpressionID *string         `json:"parent_expression_id,omitempty" db:"parent_expression_id"`
	IsEdit             bool            `json:"is_edit" db:"is_edit"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at" db:"updated_at"`
	DeletedAt          *time.Time      `json:"deleted_at,omitempty" db:"deleted_at"`
}

// IsDeleted reports whether the expression has been soft deleted.
func (e *Expression) IsDeleted() bool {
	return e.DeletedAt != nil
}

// ListingWithExpressions is a listing joined to its live history.
type ListingWithExpressions struct {
	Listing
	Expressions []Expression `json:"expressions"`
}

// ActiveListing is a listing joined to its active expression.
type ActiveListing struct {
	Listing
	ActiveExpression Expression `json:"active_expression"`
}

// EditExpressionRequest is the body for a branch-edit of an expression.
type EditExpressionRequest struct {
	Meta json.RawMessage `json:"meta" validate:"required"`
}

// MutationResponse is the outcome of a delete/restore operation.
type MutationResponse struct {
	Success bool `json:"success"`
}

// EditExpressionResponse is the outcome of a branch-edit.
type EditExpressionResponse struct {
	Success      bool   `json:"success"`
	ExpressionID string `json:"expression_id"`
}
