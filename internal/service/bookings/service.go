// Package bookings detects resource conflicts and runs the booking
// lifecycle: book, reschedule, cancel and the audience/user associations.
package bookings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/identity"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
)

var ErrInvalidTransition = errors.New("invalid booking status transition")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ConflictError lists the bookings that blocked a write. It matches
// store.ErrConflict under errors.Is.
type ConflictError struct {
	BookingIDs []int64
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.BookingIDs))
	for _, id := range e.BookingIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	return fmt.Sprintf("booking conflicts with existing booking(s) %s", strings.Join(ids, ", "))
}

func (e *ConflictError) Unwrap() error {
	return store.ErrConflict
}

// AudienceLister resolves the audiences a user belongs to.
type AudienceLister interface {
	UserAudiences(ctx context.Context, userID int64, includeParents bool) ([]domain.Audience, error)
}

type Service struct {
	repo      store.BookingRepository
	tx        store.BookingTx
	audiences AudienceLister
	cache     cache.Cache
	recorder  activity.Recorder
	log       *slog.Logger
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r activity.Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

func NewService(repo store.BookingRepository, tx store.BookingTx, audiences AudienceLister, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		tx:        tx,
		audiences: audiences,
		cache:     cache.Nop(),
		recorder:  activity.Nop(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "bookings"))
	return s
}

// Detector returns a detector reading outside any transaction.
func (s *Service) Detector() *Detector {
	return NewDetector(s.repo)
}

type BookInput struct {
	ResourceID  int64
	Title       string
	Notes       string
	Date        string
	Start       string
	End         string
	AudienceIDs []int64
	UserIDs     []int64
	// AllowConflicts books even when the window collides.
	AllowConflicts bool
}

// Book checks for conflicts and inserts the booking in one transaction,
// holding row locks on the colliding rows for the duration of the check.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Booking, error) {
	if in.ResourceID <= 0 {
		return domain.Booking{}, validationError("resource_id is required")
	}
	date, window, err := normalizeWindow(in.Date, in.Start, in.End)
	if err != nil {
		return domain.Booking{}, asValidation(err)
	}

	var created domain.Booking
	err = s.tx.InBookingTx(ctx, func(ctx context.Context, repo store.BookingRepository) error {
		conflicts, err := NewDetector(repo).Conflicts(ctx, ConflictQuery{
			ResourceID: in.ResourceID,
			Date:       date,
			Start:      window.Start,
			End:        window.End,
			ForUpdate:  true,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && !in.AllowConflicts {
			return conflictError(conflicts)
		}

		b := domain.Booking{
			ResourceID: in.ResourceID,
			Title:      strings.TrimSpace(in.Title),
			Notes:      in.Notes,
			Date:       date,
			StartTime:  window.Start,
			EndTime:    window.End,
			Status:     domain.BookingStatusActive,
			CreatedBy:  identity.Actor(ctx),
		}
		id, err := repo.InsertBooking(ctx, b)
		if err != nil {
			return err
		}
		b.ID = id
		if err := replaceAudiences(ctx, repo, id, in.AudienceIDs); err != nil {
			return err
		}
		if err := replaceUsers(ctx, repo, id, in.UserIDs); err != nil {
			return err
		}
		b.AudienceIDs = distinct(in.AudienceIDs)
		b.UserIDs = distinct(in.UserIDs)
		created = b
		return nil
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.recorder.Record(ctx, activity.Event{
		Action:     "booking_created",
		ObjectType: "booking",
		ObjectID:   created.ID,
		Details: map[string]any{
			"resource_id": created.ResourceID,
			"date":        created.Date,
			"start_time":  created.StartTime,
			"end_time":    created.EndTime,
		},
	})
	return created, nil
}

type RescheduleInput struct {
	Date           string
	Start          string
	End            string
	AllowConflicts bool
}

// Reschedule moves an active booking to a new window. The booking's own row
// is excluded from the conflict check.
func (s *Service) Reschedule(ctx context.Context, id int64, in RescheduleInput) (domain.Booking, error) {
	date, window, err := normalizeWindow(in.Date, in.Start, in.End)
	if err != nil {
		return domain.Booking{}, asValidation(err)
	}

	var updated domain.Booking
	err = s.tx.InBookingTx(ctx, func(ctx context.Context, repo store.BookingRepository) error {
		b, err := repo.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingStatusActive {
			return ErrInvalidTransition
		}
		conflicts, err := NewDetector(repo).Conflicts(ctx, ConflictQuery{
			ResourceID:       b.ResourceID,
			Date:             date,
			Start:            window.Start,
			End:              window.End,
			ExcludeBookingID: id,
			ForUpdate:        true,
		})
		if err != nil {
			return err
		}
		if len(conflicts) > 0 && !in.AllowConflicts {
			return conflictError(conflicts)
		}
		n, err := repo.RescheduleBooking(ctx, id, date, window.Start, window.End)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		b.Date, b.StartTime, b.EndTime = date, window.Start, window.End
		updated = b
		return nil
	})
	s.invalidate(id)
	if err != nil {
		return domain.Booking{}, err
	}

	s.recorder.Record(ctx, activity.Event{
		Action:     "booking_rescheduled",
		ObjectType: "booking",
		ObjectID:   id,
		Details:    map[string]any{"date": date, "start_time": window.Start, "end_time": window.End},
	})
	return updated, nil
}

// Cancel moves an active booking to cancelled. Cancelling anything else
// returns ErrInvalidTransition.
func (s *Service) Cancel(ctx context.Context, id int64) error {
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return err
	}
	if b.Status != domain.BookingStatusActive {
		return ErrInvalidTransition
	}
	n, err := s.repo.CancelBooking(ctx, id, identity.Actor(ctx))
	s.invalidate(id)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	s.recorder.Record(ctx, activity.Event{Action: "booking_cancelled", ObjectType: "booking", ObjectID: id})
	return nil
}

// Get returns the booking with its audience and user ids.
func (s *Service) Get(ctx context.Context, id int64) (domain.Booking, error) {
	key := strconv.FormatInt(id, 10)
	if b, ok := cache.Lookup[domain.Booking](s.cache, cache.NSBooking, key); ok {
		return cloneBooking(b), nil
	}
	b, err := s.repo.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if b.AudienceIDs, err = s.repo.BookingAudienceIDs(ctx, id); err != nil {
		return domain.Booking{}, err
	}
	if b.UserIDs, err = s.repo.BookingUserIDs(ctx, id); err != nil {
		return domain.Booking{}, err
	}
	s.cache.Set(cache.NSBooking, key, b)
	return cloneBooking(b), nil
}

// cloneBooking detaches the id slices from the cached entry.
func cloneBooking(b domain.Booking) domain.Booking {
	b.AudienceIDs = slices.Clone(b.AudienceIDs)
	b.UserIDs = slices.Clone(b.UserIDs)
	return b
}

// ListForAudience returns bookings targeting audienceID between from and to
// inclusive. Empty bounds are open.
func (s *Service) ListForAudience(ctx context.Context, audienceID int64, from, to string) ([]domain.Booking, error) {
	var err error
	if from != "" {
		if from, err = domain.ParseDate(from); err != nil {
			return nil, asValidation(err)
		}
	}
	if to != "" {
		if to, err = domain.ParseDate(to); err != nil {
			return nil, asValidation(err)
		}
	}
	return s.repo.BookingsForAudiences(ctx, []int64{audienceID}, from, to)
}

// ListForUser returns bookings that target the user directly or through any
// audience the user belongs to, including inherited ones.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]domain.Booking, error) {
	groups, err := s.audiences.UserAudiences(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return s.repo.BookingsForTargets(ctx, userID, ids)
}

// RemoveUser unlinks userID from every booking that targets it directly.
func (s *Service) RemoveUser(ctx context.Context, userID int64) (int64, error) {
	n, err := s.repo.DeleteUserFromBookings(ctx, userID)
	if n > 0 {
		s.cache.Flush(cache.NSBooking)
	}
	return n, err
}

func (s *Service) invalidate(id int64) {
	s.cache.Delete(cache.NSBooking, strconv.FormatInt(id, 10))
}

func conflictError(conflicts []domain.Booking) error {
	ids := make([]int64, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	return &ConflictError{BookingIDs: ids}
}

func asValidation(err error) error {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return err
	}
	return validationError(err.Error())
}
