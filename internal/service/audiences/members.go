package audiences

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
)

func (s *Service) IsMember(ctx context.Context, audienceID, userID int64) (bool, error) {
	return s.members.IsMember(ctx, audienceID, userID)
}

// AddMember returns ErrAlreadyMember when the edge exists. A concurrent
// insert that loses the race maps to the same error.
func (s *Service) AddMember(ctx context.Context, audienceID, userID int64) error {
	ok, err := s.members.IsMember(ctx, audienceID, userID)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyMember
	}
	if _, err := s.members.InsertMember(ctx, audienceID, userID); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return ErrAlreadyMember
		}
		return err
	}
	s.invalidateUsers(userID)

	s.recorder.Record(ctx, activity.Event{
		Action:     "member_added",
		ObjectType: "audience",
		ObjectID:   audienceID,
		Details:    map[string]any{"user_id": userID},
	})
	return nil
}

// RemoveMember succeeds whether or not the edge existed.
func (s *Service) RemoveMember(ctx context.Context, audienceID, userID int64) error {
	n, err := s.members.DeleteMember(ctx, audienceID, userID)
	if err != nil {
		return err
	}
	s.invalidateUsers(userID)
	if n > 0 {
		s.recorder.Record(ctx, activity.Event{
			Action:     "member_removed",
			ObjectType: "audience",
			ObjectID:   audienceID,
			Details:    map[string]any{"user_id": userID},
		})
	}
	return nil
}

// Members returns the distinct user ids of audienceID, and of every
// audience below it when includeChildren is set.
func (s *Service) Members(ctx context.Context, audienceID int64, includeChildren bool) ([]int64, error) {
	ids, err := s.scope(ctx, audienceID, includeChildren)
	if err != nil {
		return nil, err
	}
	return s.members.MemberUserIDs(ctx, ids)
}

func (s *Service) MemberCount(ctx context.Context, audienceID int64, includeChildren bool) (int64, error) {
	ids, err := s.scope(ctx, audienceID, includeChildren)
	if err != nil {
		return 0, err
	}
	return s.members.CountMembers(ctx, ids)
}

func (s *Service) scope(ctx context.Context, audienceID int64, includeChildren bool) ([]int64, error) {
	if !includeChildren {
		return []int64{audienceID}, nil
	}
	below, err := s.Descendants(ctx, audienceID)
	if err != nil {
		return nil, err
	}
	return append([]int64{audienceID}, below...), nil
}

// BulkAddMembers adds every distinct user and returns how many edges were
// newly created. Existing edges are skipped; other failures are collected
// and returned together after the remaining users are tried.
func (s *Service) BulkAddMembers(ctx context.Context, audienceID int64, userIDs []int64) (int, error) {
	var (
		added  int
		result *multierror.Error
		seen   = mapset.NewThreadUnsafeSet[int64]()
	)
	for _, userID := range userIDs {
		if !seen.Add(userID) {
			continue
		}
		err := s.AddMember(ctx, audienceID, userID)
		switch {
		case err == nil:
			added++
		case errors.Is(err, ErrAlreadyMember):
		default:
			result = multierror.Append(result, fmt.Errorf("add user %d: %w", userID, err))
		}
	}
	return added, result.ErrorOrNil()
}

// BulkRemoveMembers returns the number of edges actually removed.
func (s *Service) BulkRemoveMembers(ctx context.Context, audienceID int64, userIDs []int64) (int64, error) {
	var (
		removed int64
		result  *multierror.Error
		seen    = mapset.NewThreadUnsafeSet[int64]()
	)
	for _, userID := range userIDs {
		if !seen.Add(userID) {
			continue
		}
		n, err := s.members.DeleteMember(ctx, audienceID, userID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("remove user %d: %w", userID, err))
			continue
		}
		removed += n
		s.invalidateUsers(userID)
	}
	return removed, result.ErrorOrNil()
}

// SetMembers replaces the audience's members with userIDs. An empty list
// clears the audience.
func (s *Service) SetMembers(ctx context.Context, audienceID int64, userIDs []int64) error {
	previous, err := s.members.MemberUserIDs(ctx, []int64{audienceID})
	if err != nil {
		return err
	}
	if _, err := s.members.DeleteMembersOf(ctx, audienceID); err != nil {
		return err
	}
	s.invalidateUsers(previous...)

	next := mapset.NewThreadUnsafeSet[int64]()
	for _, userID := range userIDs {
		if !next.Add(userID) {
			continue
		}
		if _, err := s.members.InsertMember(ctx, audienceID, userID); err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("add user %d: %w", userID, err)
		}
		s.invalidateUsers(userID)
	}

	s.recorder.Record(ctx, activity.Event{
		Action:     "members_replaced",
		ObjectType: "audience",
		ObjectID:   audienceID,
		Details:    map[string]any{"count": next.Cardinality()},
	})
	return nil
}

// UserAudiences returns the audiences userID belongs to, sorted by name.
// With includeParents every ancestor of those audiences is added once.
func (s *Service) UserAudiences(ctx context.Context, userID int64, includeParents bool) ([]domain.Audience, error) {
	key := cache.Key(strconv.FormatInt(userID, 10), strconv.FormatBool(includeParents))
	if rows, ok := cache.Lookup[[]domain.Audience](s.cache, cache.NSUserAudiences, key); ok {
		return append([]domain.Audience(nil), rows...), nil
	}

	direct, err := s.members.AudiencesOfUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := direct
	if includeParents {
		seen := mapset.NewThreadUnsafeSet[int64]()
		out = make([]domain.Audience, 0, len(direct))
		for _, a := range direct {
			if seen.Add(a.ID) {
				out = append(out, a)
			}
		}
		for _, a := range direct {
			if a.ParentID == nil {
				continue
			}
			chain, err := s.Ancestors(ctx, a.ID)
			if err != nil {
				return nil, err
			}
			for _, anc := range chain {
				if seen.Add(anc.ID) {
					out = append(out, anc)
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	s.cache.Set(cache.NSUserAudiences, key, out)
	return append([]domain.Audience(nil), out...), nil
}

func (s *Service) invalidateUsers(userIDs ...int64) {
	for _, userID := range userIDs {
		id := strconv.FormatInt(userID, 10)
		s.cache.Delete(cache.NSUserAudiences, cache.Key(id, "true"))
		s.cache.Delete(cache.NSUserAudiences, cache.Key(id, "false"))
	}
}

// RemoveUser drops every membership of userID.
func (s *Service) RemoveUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.members.DeleteMembershipsOfUser(ctx, userID)
	s.invalidateUsers(userID)
	if err != nil {
		return 0, err
	}
	return n, nil
}
