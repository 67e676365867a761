package bookings

import (
	"context"
	"sort"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

// memRepo returns every active row of the resource and date from
// ActiveBookings, leaving collision filtering to the detector.
type memRepo struct {
	nextID    int64
	rows      map[int64]domain.Booking
	audiences map[int64][]int64
	users     map[int64][]int64
	lastQuery store.BookingQuery
	txCount   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		rows:      map[int64]domain.Booking{},
		audiences: map[int64][]int64{},
		users:     map[int64][]int64{},
	}
}

func (m *memRepo) seed(resource int64, date, start, end string) int64 {
	m.nextID++
	m.rows[m.nextID] = domain.Booking{
		ID: m.nextID, ResourceID: resource, Date: date, StartTime: start, EndTime: end,
		Status: domain.BookingStatusActive,
	}
	return m.nextID
}

func (m *memRepo) InBookingTx(ctx context.Context, fn func(ctx context.Context, repo store.BookingRepository) error) error {
	m.txCount++
	return fn(ctx, m)
}

func (m *memRepo) GetBooking(_ context.Context, id int64) (domain.Booking, error) {
	b, ok := m.rows[id]
	if !ok {
		return domain.Booking{}, store.ErrNotFound
	}
	return b, nil
}

func (m *memRepo) InsertBooking(_ context.Context, b domain.Booking) (int64, error) {
	m.nextID++
	b.ID = m.nextID
	b.AudienceIDs, b.UserIDs = nil, nil
	m.rows[b.ID] = b
	return b.ID, nil
}

func (m *memRepo) RescheduleBooking(_ context.Context, id int64, date, start, end string) (int64, error) {
	b, ok := m.rows[id]
	if !ok {
		return 0, nil
	}
	b.Date, b.StartTime, b.EndTime = date, start, end
	m.rows[id] = b
	return 1, nil
}

func (m *memRepo) CancelBooking(_ context.Context, id int64, by int64) (int64, error) {
	b, ok := m.rows[id]
	if !ok || b.Status != domain.BookingStatusActive {
		return 0, nil
	}
	b.Status = domain.BookingStatusCancelled
	b.CancelledBy = &by
	m.rows[id] = b
	return 1, nil
}

func (m *memRepo) ActiveBookings(_ context.Context, q store.BookingQuery) ([]domain.Booking, error) {
	m.lastQuery = q
	out := make([]domain.Booking, 0)
	for _, b := range m.rows {
		if b.ResourceID == q.ResourceID && b.Date == q.Date && b.Status == domain.BookingStatusActive {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ActiveBookingsForAudiences(_ context.Context, date string, audienceIDs []int64, exclude int64) ([]domain.Booking, error) {
	want := map[int64]bool{}
	for _, id := range audienceIDs {
		want[id] = true
	}
	out := make([]domain.Booking, 0)
	for id, b := range m.rows {
		if id == exclude || b.Date != date || b.Status != domain.BookingStatusActive {
			continue
		}
		for _, aid := range m.audiences[id] {
			if want[aid] {
				out = append(out, b)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) CountActiveAtSlot(_ context.Context, resource int64, date, start string, forUpdate bool) (int64, error) {
	m.lastQuery = store.BookingQuery{ResourceID: resource, Date: date, ForUpdate: forUpdate}
	var n int64
	for _, b := range m.rows {
		if b.ResourceID == resource && b.Date == date && b.StartTime == start && b.Status == domain.BookingStatusActive {
			n++
		}
	}
	return n, nil
}

func (m *memRepo) BookingsForAudiences(_ context.Context, audienceIDs []int64, from, to string) ([]domain.Booking, error) {
	out := make([]domain.Booking, 0)
	for id, b := range m.rows {
		if (from != "" && b.Date < from) || (to != "" && b.Date > to) {
			continue
		}
		if intersects(m.audiences[id], audienceIDs) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) BookingsForTargets(_ context.Context, userID int64, audienceIDs []int64) ([]domain.Booking, error) {
	out := make([]domain.Booking, 0)
	for id, b := range m.rows {
		if intersects(m.users[id], []int64{userID}) || intersects(m.audiences[id], audienceIDs) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) BookingAudienceIDs(_ context.Context, id int64) ([]int64, error) {
	return append([]int64{}, m.audiences[id]...), nil
}

func (m *memRepo) BookingUserIDs(_ context.Context, id int64) ([]int64, error) {
	return append([]int64{}, m.users[id]...), nil
}

func (m *memRepo) DeleteBookingAudiences(_ context.Context, id int64) (int64, error) {
	n := int64(len(m.audiences[id]))
	delete(m.audiences, id)
	return n, nil
}

func (m *memRepo) InsertBookingAudiences(_ context.Context, id int64, ids []int64) error {
	m.audiences[id] = append(m.audiences[id], ids...)
	return nil
}

func (m *memRepo) DeleteBookingUsers(_ context.Context, id int64) (int64, error) {
	n := int64(len(m.users[id]))
	delete(m.users, id)
	return n, nil
}

func (m *memRepo) InsertBookingUsers(_ context.Context, id int64, ids []int64) error {
	m.users[id] = append(m.users[id], ids...)
	return nil
}

func (m *memRepo) DeleteUserFromBookings(_ context.Context, userID int64) (int64, error) {
	var n int64
	for id, users := range m.users {
		kept := users[:0]
		for _, u := range users {
			if u == userID {
				n++
				continue
			}
			kept = append(kept, u)
		}
		m.users[id] = kept
	}
	return n, nil
}

func intersects(a, b []int64) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

type fakeAudiences map[int64][]domain.Audience

func (f fakeAudiences) UserAudiences(_ context.Context, userID int64, _ bool) ([]domain.Audience, error) {
	return f[userID], nil
}
