package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

func (s *Store) GetBooking(ctx context.Context, id int64) (domain.Booking, error) {
	var b domain.Booking
	err := s.db.NewSelect().
		Model(&b).
		Where("booking.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Booking{}, notFound(err)
	}
	return b, nil
}

func (s *Store) InsertBooking(ctx context.Context, b domain.Booking) (int64, error) {
	m := b
	m.ID = 0
	m.AudienceIDs = nil
	m.UserIDs = nil
	if _, err := s.db.NewInsert().Model(&m).Returning("id").Exec(ctx); err != nil {
		return 0, err
	}
	return m.ID, nil
}

func (s *Store) RescheduleBooking(ctx context.Context, id int64, date, start, end string) (int64, error) {
	return affected(s.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("booking_date = ?", date).
		Set("start_time = ?", start).
		Set("end_time = ?", end).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) CancelBooking(ctx context.Context, id int64, by int64) (int64, error) {
	now := time.Now().UTC()
	return affected(s.db.NewUpdate().
		Model((*domain.Booking)(nil)).
		Set("status = ?", domain.BookingStatusCancelled).
		Set("cancelled_at = ?", now).
		Set("cancelled_by = ?", by).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", domain.BookingStatusActive).
		Exec(ctx))
}

// ActiveBookings lists active bookings of a resource on a date. The three
// window predicates are pushed into SQL so that FOR UPDATE only locks rows
// that can actually collide.
func (s *Store) ActiveBookings(ctx context.Context, q store.BookingQuery) ([]domain.Booking, error) {
	rows := make([]domain.Booking, 0)
	sel := s.db.NewSelect().
		Model(&rows).
		Where("booking.resource_id = ?", q.ResourceID).
		Where("booking.booking_date = ?", q.Date).
		Where("booking.status = ?", domain.BookingStatusActive)
	if q.ExcludeBookingID > 0 {
		sel = sel.Where("booking.id <> ?", q.ExcludeBookingID)
	}
	if q.Window != nil {
		w := *q.Window
		sel = sel.WhereGroup(" AND ", func(sq *bun.SelectQuery) *bun.SelectQuery {
			return sq.
				WhereOr("(booking.start_time < ? AND booking.end_time > ?)", w.End, w.Start).
				WhereOr("(booking.start_time <= ? AND booking.end_time > ?)", w.Start, w.Start).
				WhereOr("(booking.start_time < ? AND booking.end_time >= ?)", w.End, w.End)
		})
	}
	if q.ForUpdate {
		sel = sel.For("UPDATE")
	}
	if err := sel.OrderExpr("booking.start_time ASC, booking.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *Store) ActiveBookingsForAudiences(ctx context.Context, date string, audienceIDs []int64, excludeBookingID int64) ([]domain.Booking, error) {
	rows := make([]domain.Booking, 0)
	if len(audienceIDs) == 0 {
		return rows, nil
	}
	sel := s.db.NewSelect().
		Model(&rows).
		Where("booking.booking_date = ?", date).
		Where("booking.status = ?", domain.BookingStatusActive).
		Where("EXISTS (SELECT 1 FROM booking_audiences AS ba WHERE ba.booking_id = booking.id AND ba.audience_id IN (?))", bun.In(audienceIDs))
	if excludeBookingID > 0 {
		sel = sel.Where("booking.id <> ?", excludeBookingID)
	}
	if err := sel.OrderExpr("booking.start_time ASC, booking.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, s.attachTargets(ctx, rows)
}

// CountActiveAtSlot counts active bookings starting exactly at start. Postgres
// refuses FOR UPDATE with aggregates, so the locking form selects ids instead.
func (s *Store) CountActiveAtSlot(ctx context.Context, resourceID int64, date, start string, forUpdate bool) (int64, error) {
	sel := s.db.NewSelect().
		Model((*domain.Booking)(nil)).
		Where("booking.resource_id = ?", resourceID).
		Where("booking.booking_date = ?", date).
		Where("booking.start_time = ?", start).
		Where("booking.status = ?", domain.BookingStatusActive)

	if !forUpdate {
		n, err := sel.Count(ctx)
		return int64(n), err
	}

	var ids []int64
	if err := sel.ColumnExpr("booking.id").For("UPDATE").Scan(ctx, &ids); err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

func (s *Store) BookingsForAudiences(ctx context.Context, audienceIDs []int64, fromDate, toDate string) ([]domain.Booking, error) {
	rows := make([]domain.Booking, 0)
	if len(audienceIDs) == 0 {
		return rows, nil
	}
	sel := s.db.NewSelect().
		Model(&rows).
		Where("EXISTS (SELECT 1 FROM booking_audiences AS ba WHERE ba.booking_id = booking.id AND ba.audience_id IN (?))", bun.In(audienceIDs))
	if fromDate != "" {
		sel = sel.Where("booking.booking_date >= ?", fromDate)
	}
	if toDate != "" {
		sel = sel.Where("booking.booking_date <= ?", toDate)
	}
	if err := sel.OrderExpr("booking.booking_date ASC, booking.start_time ASC, booking.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, s.attachTargets(ctx, rows)
}

func (s *Store) BookingsForTargets(ctx context.Context, userID int64, audienceIDs []int64) ([]domain.Booking, error) {
	rows := make([]domain.Booking, 0)
	sel := s.db.NewSelect().
		Model(&rows).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			q = q.WhereOr("EXISTS (SELECT 1 FROM booking_users AS bu WHERE bu.booking_id = booking.id AND bu.user_id = ?)", userID)
			if len(audienceIDs) > 0 {
				q = q.WhereOr("EXISTS (SELECT 1 FROM booking_audiences AS ba WHERE ba.booking_id = booking.id AND ba.audience_id IN (?))", bun.In(audienceIDs))
			}
			return q
		})
	if err := sel.OrderExpr("booking.booking_date ASC, booking.start_time ASC, booking.id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, s.attachTargets(ctx, rows)
}

func (s *Store) BookingAudienceIDs(ctx context.Context, bookingID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := s.db.NewSelect().
		Model((*domain.BookingAudience)(nil)).
		Column("audience_id").
		Where("booking_id = ?", bookingID).
		OrderExpr("audience_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) BookingUserIDs(ctx context.Context, bookingID int64) ([]int64, error) {
	ids := make([]int64, 0)
	err := s.db.NewSelect().
		Model((*domain.BookingUser)(nil)).
		Column("user_id").
		Where("booking_id = ?", bookingID).
		OrderExpr("user_id ASC").
		Scan(ctx, &ids)
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) DeleteBookingAudiences(ctx context.Context, bookingID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.BookingAudience)(nil)).
		Where("booking_id = ?", bookingID).
		Exec(ctx))
}

func (s *Store) InsertBookingAudiences(ctx context.Context, bookingID int64, audienceIDs []int64) error {
	if len(audienceIDs) == 0 {
		return nil
	}
	rows := make([]domain.BookingAudience, 0, len(audienceIDs))
	for _, id := range audienceIDs {
		rows = append(rows, domain.BookingAudience{BookingID: bookingID, AudienceID: id})
	}
	_, err := s.db.NewInsert().Model(&rows).On("CONFLICT DO NOTHING").Exec(ctx)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("booking audience: %w", store.ErrNotFound)
	}
	return err
}

func (s *Store) DeleteBookingUsers(ctx context.Context, bookingID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.BookingUser)(nil)).
		Where("booking_id = ?", bookingID).
		Exec(ctx))
}

func (s *Store) InsertBookingUsers(ctx context.Context, bookingID int64, userIDs []int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	rows := make([]domain.BookingUser, 0, len(userIDs))
	for _, id := range userIDs {
		rows = append(rows, domain.BookingUser{BookingID: bookingID, UserID: id})
	}
	_, err := s.db.NewInsert().Model(&rows).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

func (s *Store) DeleteUserFromBookings(ctx context.Context, userID int64) (int64, error) {
	return affected(s.db.NewDelete().
		Model((*domain.BookingUser)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx))
}

func (s *Store) InsertActivity(ctx context.Context, e domain.ActivityEntry) error {
	m := e
	m.ID = 0
	_, err := s.db.NewInsert().Model(&m).Exec(ctx)
	return err
}

// attachTargets fills AudienceIDs and UserIDs for a page of bookings with
// one query per junction table.
func (s *Store) attachTargets(ctx context.Context, rows []domain.Booking) error {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(rows))
	index := make(map[int64]int, len(rows))
	for i := range rows {
		ids = append(ids, rows[i].ID)
		index[rows[i].ID] = i
	}

	var audiences []domain.BookingAudience
	if err := s.db.NewSelect().
		Model(&audiences).
		Where("booking_id IN (?)", bun.In(ids)).
		OrderExpr("booking_id ASC, audience_id ASC").
		Scan(ctx); err != nil {
		return err
	}
	for _, a := range audiences {
		i := index[a.BookingID]
		rows[i].AudienceIDs = append(rows[i].AudienceIDs, a.AudienceID)
	}

	var users []domain.BookingUser
	if err := s.db.NewSelect().
		Model(&users).
		Where("booking_id IN (?)", bun.In(ids)).
		OrderExpr("booking_id ASC, user_id ASC").
		Scan(ctx); err != nil {
		return err
	}
	for _, u := range users {
		i := index[u.BookingID]
		rows[i].UserIDs = append(rows[i].UserIDs, u.UserID)
	}
	return nil
}
