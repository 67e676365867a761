package domain

import (
	"context"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type FieldType string

const (
	FieldTypeText            FieldType = "text"
	FieldTypeTextarea        FieldType = "textarea"
	FieldTypeNumber          FieldType = "number"
	FieldTypeEmail           FieldType = "email"
	FieldTypePhone           FieldType = "phone"
	FieldTypeDate            FieldType = "date"
	FieldTypeSelect          FieldType = "select"
	FieldTypeMultiselect     FieldType = "multiselect"
	FieldTypeCheckbox        FieldType = "checkbox"
	FieldTypeRadio           FieldType = "radio"
	FieldTypeDependentSelect FieldType = "dependent_select"
)

var fieldTypes = map[FieldType]struct{}{
	FieldTypeText:            {},
	FieldTypeTextarea:        {},
	FieldTypeNumber:          {},
	FieldTypeEmail:           {},
	FieldTypePhone:           {},
	FieldTypeDate:            {},
	FieldTypeSelect:          {},
	FieldTypeMultiselect:     {},
	FieldTypeCheckbox:        {},
	FieldTypeRadio:           {},
	FieldTypeDependentSelect: {},
}

// NormalizeFieldType maps unknown or empty values to FieldTypeText.
func NormalizeFieldType(s string) FieldType {
	t := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := fieldTypes[t]; ok {
		return t
	}
	return FieldTypeText
}

// CustomField is a per-audience form field definition. FieldOptions and
// ValidationRules hold serialized JSON (or whatever text the caller stored).
type CustomField struct {
	bun.BaseModel `bun:"table:audience_custom_fields,alias:field"`

	ID              int64     `bun:"id,pk,autoincrement"`
	AudienceID      int64     `bun:"audience_id,notnull"`
	FieldKey        string    `bun:"field_key,notnull"`
	FieldLabel      string    `bun:"field_label,notnull"`
	FieldType       FieldType `bun:"field_type,notnull"`
	FieldOptions    string    `bun:"field_options,notnull"`
	ValidationRules string    `bun:"validation_rules,notnull"`
	SortOrder       int       `bun:"sort_order,notnull"`
	IsRequired      bool      `bun:"is_required,notnull"`
	IsActive        bool      `bun:"is_active,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
	UpdatedAt       time.Time `bun:"updated_at,notnull"`

	// Set when resolved through the audience tree; never persisted.
	SourceGroupID   int64  `bun:"-"`
	SourceGroupName string `bun:"-"`
}

func (f *CustomField) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if f.CreatedAt.IsZero() {
			f.CreatedAt = now
		}
		if f.UpdatedAt.IsZero() {
			f.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		f.UpdatedAt = now
	}
	return nil
}

// UserFieldValues is the per-user bag of custom field values keyed by field_key.
type UserFieldValues struct {
	bun.BaseModel `bun:"table:user_field_values"`

	UserID    int64          `bun:"user_id,pk"`
	Values    map[string]any `bun:"field_values,type:jsonb,notnull"`
	UpdatedAt time.Time      `bun:"updated_at,notnull"`
}
