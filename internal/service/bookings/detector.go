package bookings

import (
	"context"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

// Detector reports collisions between a proposed window and the active
// bookings already stored. It never rejects anything itself.
type Detector struct {
	repo store.BookingRepository
}

func NewDetector(repo store.BookingRepository) *Detector {
	return &Detector{repo: repo}
}

// ConflictQuery describes a proposed window. ForUpdate asks the store to lock
// the rows it reads; the result is the same either way.
type ConflictQuery struct {
	ResourceID       int64
	Date             string
	Start            string
	End              string
	ExcludeBookingID int64
	ForUpdate        bool
}

// Conflicts returns the active bookings of the same resource and date whose
// window collides with the proposed one. Touching windows do not collide.
func (d *Detector) Conflicts(ctx context.Context, q ConflictQuery) ([]domain.Booking, error) {
	date, window, err := normalizeWindow(q.Date, q.Start, q.End)
	if err != nil {
		return nil, err
	}
	rows, err := d.repo.ActiveBookings(ctx, store.BookingQuery{
		ResourceID:       q.ResourceID,
		Date:             date,
		Window:           &window,
		ExcludeBookingID: q.ExcludeBookingID,
		ForUpdate:        q.ForUpdate,
	})
	if err != nil {
		return nil, err
	}

	out := make([]domain.Booking, 0, len(rows))
	for _, b := range rows {
		if b.ID == q.ExcludeBookingID && q.ExcludeBookingID > 0 {
			continue
		}
		if domain.Collides(b.Window(), window) {
			out = append(out, b)
		}
	}
	return out, nil
}

// AudienceSameDayBookings returns the active bookings on date that target any
// of audienceIDs, whatever their resource or time.
func (d *Detector) AudienceSameDayBookings(ctx context.Context, date string, audienceIDs []int64, excludeBookingID int64) ([]domain.Booking, error) {
	if len(audienceIDs) == 0 {
		return []domain.Booking{}, nil
	}
	date, err := domain.ParseDate(date)
	if err != nil {
		return nil, err
	}
	return d.repo.ActiveBookingsForAudiences(ctx, date, audienceIDs, excludeBookingID)
}

// SlotAvailable reports whether fewer than capacity active bookings start at
// exactly at on date. A capacity below one counts as one.
func (d *Detector) SlotAvailable(ctx context.Context, resourceID int64, date, at string, capacity int, forUpdate bool) (bool, error) {
	if capacity < 1 {
		capacity = 1
	}
	date, err := domain.ParseDate(date)
	if err != nil {
		return false, err
	}
	at, err = domain.ParseClock(at)
	if err != nil {
		return false, err
	}
	n, err := d.repo.CountActiveAtSlot(ctx, resourceID, date, at, forUpdate)
	if err != nil {
		return false, err
	}
	return n < int64(capacity), nil
}

func normalizeWindow(date, start, end string) (string, domain.Interval, error) {
	d, err := domain.ParseDate(date)
	if err != nil {
		return "", domain.Interval{}, err
	}
	s, err := domain.ParseClock(start)
	if err != nil {
		return "", domain.Interval{}, err
	}
	e, err := domain.ParseClock(end)
	if err != nil {
		return "", domain.Interval{}, err
	}
	if e <= s {
		return "", domain.Interval{}, validationError("end time must be after start time")
	}
	return d, domain.Interval{Start: s, End: e}, nil
}
