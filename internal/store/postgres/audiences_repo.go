package postgres

import (
	"context"
	"time"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

func (s *Store) GetAudience(ctx context.Context, id int64) (domain.Audience, error) {
	var a domain.Audience
	err := s.db.NewSelect().
		Model(&a).
		Where("audience.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Audience{}, notFound(err)
	}
	return a, nil
}

func (s *Store) ListAudiences(ctx context.Context, filter store.AudienceFilter) ([]domain.Audience, error) {
	rows := make([]domain.Audience, 0)
	q := s.db.NewSelect().Model(&rows)

	switch {
	case filter.RootOnly:
		q = q.Where("audience.parent_id IS NULL")
	case filter.ParentID != nil:
		q = q.Where("audience.parent_id = ?", *filter.ParentID)
	}
	if filter.Status != "" {
		q = q.Where("audience.status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	if err := q.OrderExpr("audience.name ASC, audience.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) SearchAudiences(ctx context.Context, term string, limit int) ([]domain.Audience, error) {
	rows := make([]domain.Audience, 0)
	q := s.db.NewSelect().
		Model(&rows).
		Where("audience.name ILIKE ?", containsPattern(term)).
		OrderExpr("audience.name ASC, audience.id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) InsertAudience(ctx context.Context, a domain.Audience) (int64, error) {
	m := a
	m.ID = 0
	m.Children = nil
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (s *Store) UpdateAudience(ctx context.Context, id int64, patch store.AudiencePatch) (int64, error) {
	if patch.Empty() {
		return 0, store.ErrNoChanges
	}

	q := s.db.NewUpdate().
		Model((*domain.Audience)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	if patch.Name != nil {
		q = q.Set("name = ?", *patch.Name)
	}
	if patch.Color != nil {
		q = q.Set("color = ?", *patch.Color)
	}
	if patch.Status != nil {
		q = q.Set("status = ?", *patch.Status)
	}
	if patch.SetParent {
		q = q.Set("parent_id = ?", patch.ParentID)
	}
	if patch.AllowSelfJoin != nil {
		q = q.Set("allow_self_join = ?", *patch.AllowSelfJoin)
	}
	return affected(q.Exec(ctx))
}

func (s *Store) DeleteAudience(ctx context.Context, id int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.Audience)(nil)).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) SetChildrenSelfJoin(ctx context.Context, parentID int64, allow bool) (int64, error) {
	return affected(s.db.NewUpdate().
		Model((*domain.Audience)(nil)).
		Set("allow_self_join = ?", allow).
		Set("updated_at = ?", time.Now().UTC()).
		Where("parent_id = ?", parentID).
		Exec(ctx))
}
