package audiences

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/service/fields"
	"groupbook/backend/internal/store"
)

type memFieldStore struct {
	rows map[int64]domain.CustomField
}

func (m *memFieldStore) GetField(_ context.Context, id int64) (domain.CustomField, error) {
	f, ok := m.rows[id]
	if !ok {
		return domain.CustomField{}, store.ErrNotFound
	}
	return f, nil
}

func (m *memFieldStore) FieldsOf(_ context.Context, audienceID int64, activeOnly bool) ([]domain.CustomField, error) {
	out := make([]domain.CustomField, 0)
	for _, f := range m.rows {
		if f.AudienceID == audienceID && (!activeOnly || f.IsActive) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memFieldStore) FieldKeyExists(context.Context, int64, string, int64) (bool, error) {
	return false, nil
}

func (m *memFieldStore) InsertField(_ context.Context, f domain.CustomField) (int64, error) {
	f.ID = int64(len(m.rows) + 1)
	m.rows[f.ID] = f
	return f.ID, nil
}

func (m *memFieldStore) UpdateField(context.Context, int64, store.FieldPatch) (int64, error) {
	return 0, nil
}

func (m *memFieldStore) DeleteField(_ context.Context, id int64) (int64, error) {
	if _, ok := m.rows[id]; !ok {
		return 0, nil
	}
	delete(m.rows, id)
	return 1, nil
}

func (m *memFieldStore) DeleteFieldsOf(_ context.Context, audienceID int64) (int64, error) {
	var n int64
	for id, f := range m.rows {
		if f.AudienceID == audienceID {
			delete(m.rows, id)
			n++
		}
	}
	return n, nil
}

func (m *memFieldStore) UserFieldValues(context.Context, int64) (map[string]any, error) {
	return map[string]any{}, nil
}

func (m *memFieldStore) MergeUserFieldValue(context.Context, int64, string, any) error {
	return nil
}

func (m *memFieldStore) DeleteUserFieldValues(context.Context, int64) (int64, error) {
	return 0, nil
}

type sharedFixture struct {
	store  *memStore
	fstore *memFieldStore
	cache  *cache.TTLCache
	aud    *Service
	fields *fields.Service
}

func newSharedFixture(t *testing.T) *sharedFixture {
	t.Helper()
	m := newMemStore()
	fs := &memFieldStore{rows: map[int64]domain.CustomField{}}
	c := cache.New(0)
	t.Cleanup(c.Close)

	aud := NewService(m, m, WithCache(c), WithFields(fs))
	return &sharedFixture{
		store:  m,
		fstore: fs,
		cache:  c,
		aud:    aud,
		fields: fields.NewService(fs, aud, fields.WithCache(c)),
	}
}

func (f *sharedFixture) field(id, audienceID int64, key string) {
	f.fstore.rows[id] = domain.CustomField{ID: id, AudienceID: audienceID, FieldKey: key, FieldLabel: key, IsActive: true}
}

func TestDeleteEvictsFieldsOfTheWholeSubtree(t *testing.T) {
	f := newSharedFixture(t)
	ctx := context.Background()

	root := f.store.seed("root", nil)
	child := f.store.seed("child", &root)
	other := f.store.seed("other", nil)
	f.field(7, child, "shirt_size")
	f.field(8, root, "grade")
	f.field(9, other, "kept")

	for _, id := range []int64{7, 8, 9} {
		_, err := f.fields.Get(ctx, id)
		require.NoError(t, err)
	}
	f.cache.Set(cache.NSBooking, "5", domain.Booking{ID: 5, AudienceIDs: []int64{child}})

	require.NoError(t, f.aud.Delete(ctx, root))

	for _, id := range []int64{7, 8} {
		_, err := f.fields.Get(ctx, id)
		assert.ErrorIs(t, err, store.ErrNotFound, "field %d of a deleted audience", id)
	}
	kept, err := f.fields.Get(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, "kept", kept.FieldKey)

	_, ok := f.cache.Get(cache.NSBooking, "5")
	assert.False(t, ok, "cached booking still lists the deleted audience")
}

func TestCascadeSelfJoinFlushesSharedNamespaces(t *testing.T) {
	f := newSharedFixture(t)
	ctx := context.Background()

	root := f.store.seed("root", nil)
	alpha := f.store.seed("alpha", &root)
	require.NoError(t, f.aud.AddMember(ctx, alpha, 9))

	_, err := f.aud.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	_, err = f.aud.UserAudiences(ctx, 9, false)
	require.NoError(t, err)

	_, err = f.aud.CascadeSelfJoin(ctx, root, true)
	require.NoError(t, err)

	_, ok := f.cache.Get(cache.NSAudienceSearch, cache.Key("alpha", "10"))
	assert.False(t, ok)
	_, ok = f.cache.Get(cache.NSUserAudiences, cache.Key("9", "false"))
	assert.False(t, ok)

	found, err := f.aud.Search(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].AllowSelfJoin)
	mine, err := f.aud.UserAudiences(ctx, 9, false)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].AllowSelfJoin)
}

func TestReparentRefreshesAncestryAcrossServices(t *testing.T) {
	f := newSharedFixture(t)
	ctx := context.Background()

	school := f.store.seed("School", nil)
	club := f.store.seed("Club", nil)
	team := f.store.seed("Team", &school)
	require.NoError(t, f.aud.AddMember(ctx, team, 9))
	f.field(1, school, "grade")
	f.field(2, club, "jersey")

	before, err := f.aud.UserAudiences(ctx, 9, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{school, team}, audienceIDs(before))
	defs, err := f.fields.ByGroupWithAncestors(ctx, team)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "grade", defs[0].FieldKey)

	require.NoError(t, f.aud.Update(ctx, team, store.AudiencePatch{SetParent: true, ParentID: &club}))

	after, err := f.aud.UserAudiences(ctx, 9, true)
	require.NoError(t, err)
	assert.Equal(t, []int64{club, team}, audienceIDs(after))
	defs, err = f.fields.ByGroupWithAncestors(ctx, team)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "jersey", defs[0].FieldKey)
}

func audienceIDs(rows []domain.Audience) []int64 {
	out := make([]int64, 0, len(rows))
	for _, a := range rows {
		out = append(out, a.ID)
	}
	return out
}
