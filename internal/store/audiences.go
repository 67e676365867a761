package store

import (
	"context"

	"groupbook/backend/internal/domain"
)

// AudienceFilter narrows ListAudiences. RootOnly means parent_id IS NULL and
// wins over ParentID. Zero Limit means unlimited.
type AudienceFilter struct {
	ParentID *int64
	RootOnly bool
	Status   domain.AudienceStatus
	Limit    int
	Offset   int
}

// AudiencePatch lists the caller-updatable columns. Nil means unchanged;
// SetParent with a nil ParentID moves the node to the root.
type AudiencePatch struct {
	Name          *string
	Color         *string
	Status        *domain.AudienceStatus
	SetParent     bool
	ParentID      *int64
	AllowSelfJoin *bool
}

func (p AudiencePatch) Empty() bool {
	return p.Name == nil && p.Color == nil && p.Status == nil && !p.SetParent && p.AllowSelfJoin == nil
}

type AudienceRepository interface {
	GetAudience(ctx context.Context, id int64) (domain.Audience, error)
	ListAudiences(ctx context.Context, filter AudienceFilter) ([]domain.Audience, error)
	SearchAudiences(ctx context.Context, term string, limit int) ([]domain.Audience, error)
	InsertAudience(ctx context.Context, a domain.Audience) (int64, error)
	// UpdateAudience and the other writes below return the affected row
	// count; zero is not an error.
	UpdateAudience(ctx context.Context, id int64, patch AudiencePatch) (int64, error)
	DeleteAudience(ctx context.Context, id int64) (int64, error)
	SetChildrenSelfJoin(ctx context.Context, parentID int64, allow bool) (int64, error)
}

type MembershipRepository interface {
	IsMember(ctx context.Context, audienceID, userID int64) (bool, error)
	InsertMember(ctx context.Context, audienceID, userID int64) (int64, error)
	DeleteMember(ctx context.Context, audienceID, userID int64) (int64, error)
	DeleteMembersOf(ctx context.Context, audienceID int64) (int64, error)
	DeleteMembershipsOfUser(ctx context.Context, userID int64) (int64, error)
	// MemberUserIDs returns the distinct users of any of audienceIDs, ascending.
	MemberUserIDs(ctx context.Context, audienceIDs []int64) ([]int64, error)
	CountMembers(ctx context.Context, audienceIDs []int64) (int64, error)
	AudiencesOfUser(ctx context.Context, userID int64) ([]domain.Audience, error)
}
