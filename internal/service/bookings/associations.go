package bookings

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"groupbook/backend/internal/store"
)

// SetBookingAudiences replaces the audiences a booking targets. An empty
// list clears them.
func (s *Service) SetBookingAudiences(ctx context.Context, bookingID int64, audienceIDs []int64) error {
	err := s.tx.InBookingTx(ctx, func(ctx context.Context, repo store.BookingRepository) error {
		return replaceAudiences(ctx, repo, bookingID, audienceIDs)
	})
	s.invalidate(bookingID)
	return err
}

// SetBookingUsers replaces the users a booking targets directly.
func (s *Service) SetBookingUsers(ctx context.Context, bookingID int64, userIDs []int64) error {
	err := s.tx.InBookingTx(ctx, func(ctx context.Context, repo store.BookingRepository) error {
		return replaceUsers(ctx, repo, bookingID, userIDs)
	})
	s.invalidate(bookingID)
	return err
}

func replaceAudiences(ctx context.Context, repo store.BookingRepository, bookingID int64, ids []int64) error {
	if _, err := repo.DeleteBookingAudiences(ctx, bookingID); err != nil {
		return err
	}
	return repo.InsertBookingAudiences(ctx, bookingID, distinct(ids))
}

func replaceUsers(ctx context.Context, repo store.BookingRepository, bookingID int64, ids []int64) error {
	if _, err := repo.DeleteBookingUsers(ctx, bookingID); err != nil {
		return err
	}
	return repo.InsertBookingUsers(ctx, bookingID, distinct(ids))
}

// distinct keeps the first occurrence of each id, in order.
func distinct(ids []int64) []int64 {
	seen := mapset.NewThreadUnsafeSetWithSize[int64](len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if seen.Add(id) {
			out = append(out, id)
		}
	}
	return out
}
