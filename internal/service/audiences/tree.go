package audiences

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/identity"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
)

// Get returns the audience or store.ErrNotFound. Only hits are cached.
func (s *Service) Get(ctx context.Context, id int64) (domain.Audience, error) {
	if a, ok := cache.Lookup[domain.Audience](s.cache, cache.NSAudience, idKey(id)); ok {
		return a, nil
	}
	a, err := s.audiences.GetAudience(ctx, id)
	if err != nil {
		return domain.Audience{}, err
	}
	s.cache.Set(cache.NSAudience, idKey(id), a)
	return a, nil
}

func (s *Service) List(ctx context.Context, filter store.AudienceFilter) ([]domain.Audience, error) {
	return s.audiences.ListAudiences(ctx, filter)
}

// Parents lists root audiences. An empty status matches every status.
func (s *Service) Parents(ctx context.Context, status domain.AudienceStatus) ([]domain.Audience, error) {
	return s.audiences.ListAudiences(ctx, store.AudienceFilter{RootOnly: true, Status: status})
}

func (s *Service) Children(ctx context.Context, parentID int64, status domain.AudienceStatus) ([]domain.Audience, error) {
	return s.audiences.ListAudiences(ctx, store.AudienceFilter{ParentID: &parentID, Status: status})
}

// Hierarchical returns the roots with their direct children attached. Deeper
// levels are not expanded.
func (s *Service) Hierarchical(ctx context.Context, status domain.AudienceStatus) ([]domain.Audience, error) {
	roots, err := s.Parents(ctx, status)
	if err != nil {
		return nil, err
	}
	for i := range roots {
		children, err := s.Children(ctx, roots[i].ID, status)
		if err != nil {
			return nil, err
		}
		roots[i].Children = children
	}
	return roots, nil
}

type CreateInput struct {
	Name          string
	Color         string
	Status        domain.AudienceStatus
	ParentID      *int64
	AllowSelfJoin bool
}

func (s *Service) Create(ctx context.Context, in CreateInput) (int64, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return 0, validationError("name is required")
	}
	color := strings.TrimSpace(in.Color)
	if color == "" {
		color = domain.DefaultAudienceColor
	}
	status := in.Status
	if status == "" {
		status = domain.AudienceStatusActive
	}
	if !status.Valid() {
		return 0, validationError("invalid status")
	}
	if in.ParentID != nil {
		if _, err := s.Get(ctx, *in.ParentID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return 0, validationError("parent audience not found")
			}
			return 0, err
		}
	}

	id, err := s.audiences.InsertAudience(ctx, domain.Audience{
		Name:          name,
		Color:         color,
		Status:        status,
		ParentID:      in.ParentID,
		AllowSelfJoin: in.AllowSelfJoin,
		CreatedBy:     identity.Actor(ctx),
	})
	if err != nil {
		return 0, err
	}
	s.cache.Flush(cache.NSAudienceSearch)

	s.recorder.Record(ctx, activity.Event{
		Action:     "audience_created",
		ObjectType: "audience",
		ObjectID:   id,
		Details:    map[string]any{"name": name},
	})
	return id, nil
}

// Update applies patch. An empty patch returns store.ErrNoChanges and an
// unknown id returns store.ErrNotFound.
func (s *Service) Update(ctx context.Context, id int64, patch store.AudiencePatch) error {
	if patch.Empty() {
		return store.ErrNoChanges
	}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return validationError("name cannot be empty")
		}
		patch.Name = &name
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return validationError("invalid status")
	}
	if patch.SetParent && patch.ParentID != nil {
		if err := s.ensureNoCycle(ctx, id, *patch.ParentID); err != nil {
			return err
		}
	}

	n, err := s.audiences.UpdateAudience(ctx, id, patch)
	if err != nil {
		return err
	}
	s.invalidateAudience(id)
	if n == 0 {
		return store.ErrNotFound
	}

	s.recorder.Record(ctx, activity.Event{Action: "audience_updated", ObjectType: "audience", ObjectID: id})
	return nil
}

// Delete removes the audience and its whole subtree, children first. A
// failure part way leaves the already-deleted descendants gone.
func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.deleteSubtree(ctx, id, mapset.NewThreadUnsafeSet[int64](), 0)
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	// booking_audiences rows go with the audience; cached bookings still list it.
	s.cache.Flush(cache.NSBooking)
	s.recorder.Record(ctx, activity.Event{Action: "audience_deleted", ObjectType: "audience", ObjectID: id})
	return nil
}

func (s *Service) deleteSubtree(ctx context.Context, id int64, visited mapset.Set[int64], depth int) (int64, error) {
	if !visited.Add(id) {
		return 0, nil
	}
	if depth > s.maxDepth {
		return 0, ErrCycle
	}

	children, err := s.Children(ctx, id, "")
	if err != nil {
		return 0, err
	}
	for _, child := range children {
		if _, err := s.deleteSubtree(ctx, child.ID, visited, depth+1); err != nil {
			return 0, err
		}
	}

	if _, err := s.members.DeleteMembersOf(ctx, id); err != nil {
		return 0, err
	}
	if err := s.deleteFields(ctx, id); err != nil {
		return 0, err
	}
	n, err := s.audiences.DeleteAudience(ctx, id)
	if err != nil {
		return 0, err
	}
	s.invalidateAudience(id)
	return n, nil
}

func (s *Service) deleteFields(ctx context.Context, audienceID int64) error {
	if s.fields == nil {
		return nil
	}
	defs, err := s.fields.FieldsOf(ctx, audienceID, false)
	if err != nil {
		return err
	}
	if _, err := s.fields.DeleteFieldsOf(ctx, audienceID); err != nil {
		return err
	}
	for _, f := range defs {
		s.cache.Delete(cache.NSField, idKey(f.ID))
	}
	return nil
}

// CascadeSelfJoin copies allow_self_join onto the direct children of parentID.
func (s *Service) CascadeSelfJoin(ctx context.Context, parentID int64, allow bool) (int64, error) {
	children, err := s.Children(ctx, parentID, "")
	if err != nil {
		return 0, err
	}
	n, err := s.audiences.SetChildrenSelfJoin(ctx, parentID, allow)
	if err != nil {
		return 0, err
	}
	for _, c := range children {
		s.invalidateAudience(c.ID)
	}
	return n, nil
}

func (s *Service) Search(ctx context.Context, term string, limit int) ([]domain.Audience, error) {
	term = strings.TrimSpace(term)
	key := cache.Key(strings.ToLower(term), strconv.Itoa(limit))
	if rows, ok := cache.Lookup[[]domain.Audience](s.cache, cache.NSAudienceSearch, key); ok {
		return append([]domain.Audience(nil), rows...), nil
	}
	rows, err := s.audiences.SearchAudiences(ctx, term, limit)
	if err != nil {
		return nil, err
	}
	s.cache.Set(cache.NSAudienceSearch, key, rows)
	return append([]domain.Audience(nil), rows...), nil
}

// Ancestors returns the chain from the root down to id, inclusive. The walk
// stops at a missing parent, a repeated id or the depth cap.
func (s *Service) Ancestors(ctx context.Context, id int64) ([]domain.Audience, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	chain := []domain.Audience{cur}
	visited := mapset.NewThreadUnsafeSet(id)
	for cur.ParentID != nil {
		parentID := *cur.ParentID
		if !visited.Add(parentID) || len(chain) > s.maxDepth {
			s.log.WarnContext(ctx, "audience ancestry truncated",
				slog.Int64("audience_id", id),
				slog.Int64("at_parent_id", parentID),
			)
			break
		}
		parent, err := s.Get(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, err
		}
		chain = append(chain, parent)
		cur = parent
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Descendants returns the ids below id in breadth-first order.
func (s *Service) Descendants(ctx context.Context, id int64) ([]int64, error) {
	visited := mapset.NewThreadUnsafeSet(id)
	out := make([]int64, 0)
	frontier := []int64{id}
	for depth := 0; len(frontier) > 0 && depth < s.maxDepth; depth++ {
		var next []int64
		for _, parentID := range frontier {
			children, err := s.Children(ctx, parentID, "")
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				if visited.Add(c.ID) {
					out = append(out, c.ID)
					next = append(next, c.ID)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *Service) ensureNoCycle(ctx context.Context, id, parentID int64) error {
	if parentID == id {
		return ErrCycle
	}
	chain, err := s.Ancestors(ctx, parentID)
	if errors.Is(err, store.ErrNotFound) {
		return validationError("parent audience not found")
	}
	if err != nil {
		return err
	}
	for _, a := range chain {
		if a.ID == id {
			return ErrCycle
		}
	}
	return nil
}

func (s *Service) invalidateAudience(id int64) {
	s.cache.Delete(cache.NSAudience, idKey(id))
	s.cache.Flush(cache.NSAudienceSearch)
	s.cache.Flush(cache.NSUserAudiences)
}
