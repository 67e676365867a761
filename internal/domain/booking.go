package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCancelled BookingStatus = "cancelled"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04:05"
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidClock = errors.New("invalid time of day")
)

// Booking reserves a resource for the half-open window [StartTime, EndTime)
// on Date. Date and times are stored zero-padded so they order lexically.
type Booking struct {
	bun.BaseModel `bun:"table:bookings,alias:booking"`

	ID          int64         `bun:"id,pk,autoincrement"`
	ResourceID  int64         `bun:"resource_id,notnull"`
	Title       string        `bun:"title,notnull"`
	Notes       string        `bun:"notes,notnull"`
	Date        string        `bun:"booking_date,notnull"`
	StartTime   string        `bun:"start_time,notnull"`
	EndTime     string        `bun:"end_time,notnull"`
	Status      BookingStatus `bun:"status,notnull"`
	CreatedBy   int64         `bun:"created_by,notnull"`
	CreatedAt   time.Time     `bun:"created_at,notnull"`
	UpdatedAt   time.Time     `bun:"updated_at,notnull"`
	CancelledAt *time.Time    `bun:"cancelled_at"`
	CancelledBy *int64        `bun:"cancelled_by"`

	AudienceIDs []int64 `bun:"-"`
	UserIDs     []int64 `bun:"-"`
}

func (b *Booking) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if b.CreatedAt.IsZero() {
			b.CreatedAt = now
		}
		if b.UpdatedAt.IsZero() {
			b.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		b.UpdatedAt = now
	}
	return nil
}

func (b *Booking) Window() Interval {
	return Interval{Start: b.StartTime, End: b.EndTime}
}

type BookingAudience struct {
	bun.BaseModel `bun:"table:booking_audiences"`

	BookingID  int64 `bun:"booking_id,pk"`
	AudienceID int64 `bun:"audience_id,pk"`
}

type BookingUser struct {
	bun.BaseModel `bun:"table:booking_users"`

	BookingID int64 `bun:"booking_id,pk"`
	UserID    int64 `bun:"user_id,pk"`
}

// Interval is a half-open [Start, End) range of "HH:MM:SS" clock values.
type Interval struct {
	Start string
	End   string
}

// Intersects reports general overlap of the existing and proposed windows.
func Intersects(existing, proposed Interval) bool {
	return existing.Start < proposed.End && existing.End > proposed.Start
}

// StartsWithin reports whether the proposed start falls inside existing.
func StartsWithin(existing, proposed Interval) bool {
	return existing.Start <= proposed.Start && proposed.Start < existing.End
}

// EndsWithin reports whether the proposed end falls inside existing. The end
// instant is exclusive, so an end equal to existing.Start does not count.
func EndsWithin(existing, proposed Interval) bool {
	return existing.Start < proposed.End && proposed.End <= existing.End
}

// Collides is true when any of the three overlap predicates holds.
func Collides(existing, proposed Interval) bool {
	return Intersects(existing, proposed) ||
		StartsWithin(existing, proposed) ||
		EndsWithin(existing, proposed)
}

// ParseDate normalizes a YYYY-MM-DD date.
func ParseDate(s string) (string, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return "", ErrInvalidDate
	}
	return t.Format(dateLayout), nil
}

// ParseClock normalizes "HH:MM" or "HH:MM:SS" to "HH:MM:SS".
func ParseClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{clockLayout, "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(clockLayout), nil
		}
	}
	return "", ErrInvalidClock
}

func DateOf(t time.Time) string {
	return t.Format(dateLayout)
}
