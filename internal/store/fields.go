package store

import (
	"context"

	"groupbook/backend/internal/domain"
)

type FieldPatch struct {
	FieldKey        *string
	FieldLabel      *string
	FieldType       *domain.FieldType
	FieldOptions    *string
	ValidationRules *string
	SortOrder       *int
	IsRequired      *bool
	IsActive        *bool
}

func (p FieldPatch) Empty() bool {
	return p.FieldKey == nil && p.FieldLabel == nil && p.FieldType == nil && p.FieldOptions == nil &&
		p.ValidationRules == nil && p.SortOrder == nil && p.IsRequired == nil && p.IsActive == nil
}

type FieldRepository interface {
	GetField(ctx context.Context, id int64) (domain.CustomField, error)
	// FieldsOf returns an audience's fields ordered by sort_order, then id.
	FieldsOf(ctx context.Context, audienceID int64, activeOnly bool) ([]domain.CustomField, error)
	FieldKeyExists(ctx context.Context, audienceID int64, key string, excludeID int64) (bool, error)
	InsertField(ctx context.Context, f domain.CustomField) (int64, error)
	UpdateField(ctx context.Context, id int64, patch FieldPatch) (int64, error)
	DeleteField(ctx context.Context, id int64) (int64, error)
	DeleteFieldsOf(ctx context.Context, audienceID int64) (int64, error)

	UserFieldValues(ctx context.Context, userID int64) (map[string]any, error)
	// MergeUserFieldValue sets one key without touching the user's other keys.
	MergeUserFieldValue(ctx context.Context, userID int64, key string, value any) error
	DeleteUserFieldValues(ctx context.Context, userID int64) (int64, error)
}
