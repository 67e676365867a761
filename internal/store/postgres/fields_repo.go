package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

func (s *Store) GetField(ctx context.Context, id int64) (domain.CustomField, error) {
	var f domain.CustomField
	err := s.db.NewSelect().
		Model(&f).
		Where("field.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.CustomField{}, notFound(err)
	}
	return f, nil
}

func (s *Store) FieldsOf(ctx context.Context, audienceID int64, activeOnly bool) ([]domain.CustomField, error) {
	rows := make([]domain.CustomField, 0)
	q := s.db.NewSelect().
		Model(&rows).
		Where("field.audience_id = ?", audienceID)
	if activeOnly {
		q = q.Where("field.is_active")
	}
	if err := q.OrderExpr("field.sort_order ASC, field.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) FieldKeyExists(ctx context.Context, audienceID int64, key string, excludeID int64) (bool, error) {
	q := s.db.NewSelect().
		Model((*domain.CustomField)(nil)).
		Where("field.audience_id = ?", audienceID).
		Where("field.field_key = ?", key)
	if excludeID > 0 {
		q = q.Where("field.id <> ?", excludeID)
	}
	return q.Exists(ctx)
}

func (s *Store) InsertField(ctx context.Context, f domain.CustomField) (int64, error) {
	m := f
	m.ID = 0
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, err
	}
	return m.ID, nil
}

func (s *Store) UpdateField(ctx context.Context, id int64, patch store.FieldPatch) (int64, error) {
	if patch.Empty() {
		return 0, store.ErrNoChanges
	}

	q := s.db.NewUpdate().
		Model((*domain.CustomField)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if patch.FieldKey != nil {
		q = q.Set("field_key = ?", *patch.FieldKey)
	}
	if patch.FieldLabel != nil {
		q = q.Set("field_label = ?", *patch.FieldLabel)
	}
	if patch.FieldType != nil {
		q = q.Set("field_type = ?", *patch.FieldType)
	}
	if patch.FieldOptions != nil {
		q = q.Set("field_options = ?", *patch.FieldOptions)
	}
	if patch.ValidationRules != nil {
		q = q.Set("validation_rules = ?", *patch.ValidationRules)
	}
	if patch.SortOrder != nil {
		q = q.Set("sort_order = ?", *patch.SortOrder)
	}
	if patch.IsRequired != nil {
		q = q.Set("is_required = ?", *patch.IsRequired)
	}
	if patch.IsActive != nil {
		q = q.Set("is_active = ?", *patch.IsActive)
	}

	n, err := affected(q.Exec(ctx))
	if err != nil && isUniqueViolation(err) {
		return 0, store.ErrConflict
	}
	return n, err
}

func (s *Store) DeleteField(ctx context.Context, id int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.CustomField)(nil)).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) DeleteFieldsOf(ctx context.Context, audienceID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.CustomField)(nil)).
		Where("audience_id = ?", audienceID).
		Exec(ctx))
}

func (s *Store) UserFieldValues(ctx context.Context, userID int64) (map[string]any, error) {
	var row domain.UserFieldValues
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, err
	}
	if row.Values == nil {
		row.Values = map[string]any{}
	}
	return row.Values, nil
}

func (s *Store) MergeUserFieldValue(ctx context.Context, userID int64, key string, value any) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	_, err = s.db.NewRaw(`
		INSERT INTO user_field_values (user_id, field_values, updated_at)
		VALUES (?, jsonb_build_object(?::text, ?::jsonb), now())
		ON CONFLICT (user_id) DO UPDATE
		SET field_values = user_field_values.field_values || EXCLUDED.field_values,
		    updated_at = EXCLUDED.updated_at`,
		userID, key, string(b),
	).Exec(ctx)
	return err
}

func (s *Store) DeleteUserFieldValues(ctx context.Context, userID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.UserFieldValues)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx))
}
