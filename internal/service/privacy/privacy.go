// Package privacy gathers and erases everything stored about one user.
package privacy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"groupbook/backend/internal/domain"
)

type Audiences interface {
	UserAudiences(ctx context.Context, userID int64, includeParents bool) ([]domain.Audience, error)
	RemoveUser(ctx context.Context, userID int64) (int64, error)
}

type Fields interface {
	AllForUser(ctx context.Context, userID int64) ([]domain.CustomField, error)
	UserFieldValues(ctx context.Context, userID int64) (map[string]any, error)
	DeleteUserFieldValues(ctx context.Context, userID int64) (int64, error)
}

type Bookings interface {
	ListForUser(ctx context.Context, userID int64) ([]domain.Booking, error)
	RemoveUser(ctx context.Context, userID int64) (int64, error)
}

type Service struct {
	audiences Audiences
	fields    Fields
	bookings  Bookings
	log       *slog.Logger
}

func NewService(audiences Audiences, fields Fields, bookings Bookings, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		audiences: audiences,
		fields:    fields,
		bookings:  bookings,
		log:       log.With(slog.String("component", "privacy")),
	}
}

type FieldValue struct {
	Field domain.CustomField
	Value any
	Set   bool
}

type Export struct {
	UserID    int64
	Audiences []domain.Audience
	Fields    []FieldValue
	// Values holds every stored key, including keys with no current field.
	Values   map[string]any
	Bookings []domain.Booking
}

func (s *Service) Export(ctx context.Context, userID int64) (Export, error) {
	out := Export{UserID: userID}

	audiences, err := s.audiences.UserAudiences(ctx, userID, true)
	if err != nil {
		return Export{}, fmt.Errorf("audiences: %w", err)
	}
	out.Audiences = audiences

	values, err := s.fields.UserFieldValues(ctx, userID)
	if err != nil {
		return Export{}, fmt.Errorf("field values: %w", err)
	}
	out.Values = values

	fields, err := s.fields.AllForUser(ctx, userID)
	if err != nil {
		return Export{}, fmt.Errorf("fields: %w", err)
	}
	out.Fields = make([]FieldValue, 0, len(fields))
	for _, f := range fields {
		v, ok := values[f.FieldKey]
		out.Fields = append(out.Fields, FieldValue{Field: f, Value: v, Set: ok})
	}

	bookings, err := s.bookings.ListForUser(ctx, userID)
	if err != nil {
		return Export{}, fmt.Errorf("bookings: %w", err)
	}
	out.Bookings = bookings
	return out, nil
}

type ErasureReport struct {
	Memberships  int64
	BookingLinks int64
	FieldValues  int64
}

// Erase removes the user's memberships, direct booking links and field
// values. Each step runs even if an earlier one failed; the failures are
// returned together.
func (s *Service) Erase(ctx context.Context, userID int64) (ErasureReport, error) {
	var (
		report ErasureReport
		result *multierror.Error
		err    error
	)

	if report.Memberships, err = s.audiences.RemoveUser(ctx, userID); err != nil {
		result = multierror.Append(result, fmt.Errorf("memberships: %w", err))
	}
	if report.BookingLinks, err = s.bookings.RemoveUser(ctx, userID); err != nil {
		result = multierror.Append(result, fmt.Errorf("booking links: %w", err))
	}
	if report.FieldValues, err = s.fields.DeleteUserFieldValues(ctx, userID); err != nil {
		result = multierror.Append(result, fmt.Errorf("field values: %w", err))
	}

	s.log.InfoContext(ctx, "user data erased",
		slog.Int64("user_id", userID),
		slog.Int64("memberships", report.Memberships),
		slog.Int64("booking_links", report.BookingLinks),
		slog.Int64("field_values", report.FieldValues),
	)
	return report, result.ErrorOrNil()
}
