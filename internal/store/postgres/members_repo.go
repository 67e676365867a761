package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

func (s *Store) IsMember(ctx context.Context, audienceID, userID int64) (bool, error) {
	return s.db.NewSelect().
		Model((*domain.AudienceMember)(nil)).
		Where("audience_id = ?", audienceID).
		Where("user_id = ?", userID).
		Exists(ctx)
}

func (s *Store) InsertMember(ctx context.Context, audienceID, userID int64) (int64, error) {
	m := domain.AudienceMember{AudienceID: audienceID, UserID: userID}
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return 0, store.ErrConflict
		}
		return 0, err
	}
	return m.ID, nil
}

func (s *Store) DeleteMember(ctx context.Context, audienceID, userID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.AudienceMember)(nil)).
		Where("audience_id = ?", audienceID).
		Where("user_id = ?", userID).
		Exec(ctx))
}

func (s *Store) DeleteMembersOf(ctx context.Context, audienceID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.AudienceMember)(nil)).
		Where("audience_id = ?", audienceID).
		Exec(ctx))
}

func (s *Store) DeleteMembershipsOfUser(ctx context.Context, userID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.AudienceMember)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx))
}

func (s *Store) MemberUserIDs(ctx context.Context, audienceIDs []int64) ([]int64, error) {
	ids := make([]int64, 0)
	if len(audienceIDs) == 0 {
		return ids, nil
	}
	err := s.db.NewSelect().
		Model((*domain.AudienceMember)(nil)).
		ColumnExpr("DISTINCT user_id").
		Where("audience_id IN (?)", bun.In(audienceIDs)).
		OrderExpr("user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) CountMembers(ctx context.Context, audienceIDs []int64) (int64, error) {
	if len(audienceIDs) == 0 {
		return 0, nil
	}
	var n int64
	err := s.db.NewSelect().
		Model((*domain.AudienceMember)(nil)).
		ColumnExpr("COUNT(DISTINCT user_id)").
		Where("audience_id IN (?)", bun.In(audienceIDs)).
		Scan(ctx, &n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) AudiencesOfUser(ctx context.Context, userID int64) ([]domain.Audience, error) {
	rows := make([]domain.Audience, 0)
	err := s.db.NewSelect().
		Model(&rows).
		Join("JOIN audience_members AS m ON m.audience_id = audience.id").
		Where("m.user_id = ?", userID).
		OrderExpr("audience.name ASC, audience.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
