package audiences

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

type memStore struct {
	nextID    int64
	audiences map[int64]domain.Audience
	members   map[int64]map[int64]bool
	calls     []string
	gets      int
}

func newMemStore() *memStore {
	return &memStore{
		audiences: map[int64]domain.Audience{},
		members:   map[int64]map[int64]bool{},
	}
}

func (m *memStore) seed(name string, parent *int64) int64 {
	m.nextID++
	m.audiences[m.nextID] = domain.Audience{ID: m.nextID, Name: name, Status: domain.AudienceStatusActive, ParentID: parent}
	return m.nextID
}

func (m *memStore) GetAudience(_ context.Context, id int64) (domain.Audience, error) {
	m.gets++
	a, ok := m.audiences[id]
	if !ok {
		return domain.Audience{}, store.ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListAudiences(_ context.Context, f store.AudienceFilter) ([]domain.Audience, error) {
	out := make([]domain.Audience, 0)
	for _, a := range m.audiences {
		switch {
		case f.RootOnly && a.ParentID != nil:
			continue
		case !f.RootOnly && f.ParentID != nil && (a.ParentID == nil || *a.ParentID != *f.ParentID):
			continue
		case f.Status != "" && a.Status != f.Status:
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) SearchAudiences(_ context.Context, term string, _ int) ([]domain.Audience, error) {
	out := make([]domain.Audience, 0)
	for _, a := range m.audiences {
		if strings.Contains(strings.ToLower(a.Name), strings.ToLower(term)) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memStore) InsertAudience(_ context.Context, a domain.Audience) (int64, error) {
	m.nextID++
	a.ID = m.nextID
	m.audiences[a.ID] = a
	return a.ID, nil
}

func (m *memStore) UpdateAudience(_ context.Context, id int64, p store.AudiencePatch) (int64, error) {
	a, ok := m.audiences[id]
	if !ok {
		return 0, nil
	}
	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Color != nil {
		a.Color = *p.Color
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.SetParent {
		a.ParentID = p.ParentID
	}
	if p.AllowSelfJoin != nil {
		a.AllowSelfJoin = *p.AllowSelfJoin
	}
	m.audiences[id] = a
	return 1, nil
}

func (m *memStore) DeleteAudience(_ context.Context, id int64) (int64, error) {
	m.calls = append(m.calls, fmt.Sprintf("audience:%d", id))
	if _, ok := m.audiences[id]; !ok {
		return 0, nil
	}
	delete(m.audiences, id)
	return 1, nil
}

func (m *memStore) SetChildrenSelfJoin(_ context.Context, parentID int64, allow bool) (int64, error) {
	var n int64
	for id, a := range m.audiences {
		if a.ParentID != nil && *a.ParentID == parentID {
			a.AllowSelfJoin = allow
			m.audiences[id] = a
			n++
		}
	}
	return n, nil
}

func (m *memStore) IsMember(_ context.Context, audienceID, userID int64) (bool, error) {
	return m.members[audienceID][userID], nil
}

func (m *memStore) InsertMember(_ context.Context, audienceID, userID int64) (int64, error) {
	if m.members[audienceID][userID] {
		return 0, store.ErrConflict
	}
	if m.members[audienceID] == nil {
		m.members[audienceID] = map[int64]bool{}
	}
	m.members[audienceID][userID] = true
	return int64(len(m.members[audienceID])), nil
}

func (m *memStore) DeleteMember(_ context.Context, audienceID, userID int64) (int64, error) {
	if !m.members[audienceID][userID] {
		return 0, nil
	}
	delete(m.members[audienceID], userID)
	return 1, nil
}

func (m *memStore) DeleteMembersOf(_ context.Context, audienceID int64) (int64, error) {
	m.calls = append(m.calls, fmt.Sprintf("members:%d", audienceID))
	n := int64(len(m.members[audienceID]))
	delete(m.members, audienceID)
	return n, nil
}

func (m *memStore) DeleteMembershipsOfUser(_ context.Context, userID int64) (int64, error) {
	var n int64
	for _, users := range m.members {
		if users[userID] {
			delete(users, userID)
			n++
		}
	}
	return n, nil
}

func (m *memStore) MemberUserIDs(_ context.Context, audienceIDs []int64) ([]int64, error) {
	seen := map[int64]bool{}
	out := make([]int64, 0)
	for _, aid := range audienceIDs {
		for uid := range m.members[aid] {
			if !seen[uid] {
				seen[uid] = true
				out = append(out, uid)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *memStore) CountMembers(ctx context.Context, audienceIDs []int64) (int64, error) {
	ids, _ := m.MemberUserIDs(ctx, audienceIDs)
	return int64(len(ids)), nil
}

func (m *memStore) AudiencesOfUser(_ context.Context, userID int64) ([]domain.Audience, error) {
	out := make([]domain.Audience, 0)
	for aid, users := range m.members {
		if users[userID] {
			if a, ok := m.audiences[aid]; ok {
				out = append(out, a)
			}
		}
	}
	return out, nil
}
