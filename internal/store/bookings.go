package store

import (
	"context"

	"groupbook/backend/internal/domain"
)

// BookingQuery selects active bookings of one resource on one date. A
// non-nil Window narrows the rows to those that may collide with it.
// ForUpdate only adds a row lock; it must not change the rows returned.
type BookingQuery struct {
	ResourceID       int64
	Date             string
	Window           *domain.Interval
	ExcludeBookingID int64
	ForUpdate        bool
}

type BookingRepository interface {
	GetBooking(ctx context.Context, id int64) (domain.Booking, error)
	InsertBooking(ctx context.Context, b domain.Booking) (int64, error)
	RescheduleBooking(ctx context.Context, id int64, date, start, end string) (int64, error)
	CancelBooking(ctx context.Context, id int64, by int64) (int64, error)

	ActiveBookings(ctx context.Context, q BookingQuery) ([]domain.Booking, error)
	// ActiveBookingsForAudiences returns active bookings on date targeting
	// any of audienceIDs.
	ActiveBookingsForAudiences(ctx context.Context, date string, audienceIDs []int64, excludeBookingID int64) ([]domain.Booking, error)
	CountActiveAtSlot(ctx context.Context, resourceID int64, date, start string, forUpdate bool) (int64, error)
	BookingsForAudiences(ctx context.Context, audienceIDs []int64, fromDate, toDate string) ([]domain.Booking, error)
	BookingsForTargets(ctx context.Context, userID int64, audienceIDs []int64) ([]domain.Booking, error)

	BookingAudienceIDs(ctx context.Context, bookingID int64) ([]int64, error)
	BookingUserIDs(ctx context.Context, bookingID int64) ([]int64, error)
	DeleteBookingAudiences(ctx context.Context, bookingID int64) (int64, error)
	InsertBookingAudiences(ctx context.Context, bookingID int64, audienceIDs []int64) error
	DeleteBookingUsers(ctx context.Context, bookingID int64) (int64, error)
	InsertBookingUsers(ctx context.Context, bookingID int64, userIDs []int64) error
	DeleteUserFromBookings(ctx context.Context, userID int64) (int64, error)
}

// BookingTx runs fn with a BookingRepository bound to one store transaction.
type BookingTx interface {
	InBookingTx(ctx context.Context, fn func(ctx context.Context, repo BookingRepository) error) error
}

type ActivityRepository interface {
	InsertActivity(ctx context.Context, e domain.ActivityEntry) error
}
