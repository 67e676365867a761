package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/identity"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
)

var ErrInvalidTransition = errors.New("invalid appointment status transition")

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

type Service struct {
	repo     store.AppointmentRepository
	recorder activity.Recorder
	log      *slog.Logger
}

type Option func(*Service)

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

func NewService(repo store.AppointmentRepository, opts ...Option) *Service {
	s := &Service{repo: repo, recorder: activity.Nop(), log: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "appointments"))
	return s
}

type CreateInput struct {
	UserID         int64
	ResourceID     int64
	Title          string
	Notes          string
	StartTime      time.Time
	EndTime        time.Time
	IdempotencyKey string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Appointment, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Appointment{}, validationError("title is required")
	}
	if in.UserID <= 0 {
		return domain.Appointment{}, validationError("user_id is required")
	}

	start := in.StartTime.UTC()
	end := in.EndTime.UTC()
	if end.Equal(start) || end.Before(start) {
		return domain.Appointment{}, validationError("end_time must be after start_time")
	}
	if end.Sub(start) > 24*time.Hour {
		return domain.Appointment{}, validationError("duration too long")
	}

	appt := domain.Appointment{
		UserID:     in.UserID,
		ResourceID: in.ResourceID,
		Title:      title,
		Notes:      in.Notes,
		StartTime:  start,
		EndTime:    end,
		Status:     domain.AppointmentStatusPending,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > 256 {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		appt.ID = IdempotentID(in.UserID, key)
	}

	created, err := s.repo.Create(ctx, appt)
	if err != nil {
		return domain.Appointment{}, err
	}
	s.recorder.Record(ctx, activity.Event{
		Action:     "appointment_created",
		ObjectType: "appointment",
		ObjectID:   in.UserID,
		Details:    map[string]any{"appointment_id": created.ID.String()},
	})
	return created, nil
}

// IdempotentID derives the appointment id for a (user, key) pair so a
// replayed create lands on the same row.
func IdempotentID(userID int64, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("groupbook:create_appointment:"+strconv.FormatInt(userID, 10)+":"+key))
}

func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.Get(ctx, appointmentID)
}

func (s *Service) List(ctx context.Context, userID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if userID <= 0 {
		return nil, validationError("user_id is required")
	}

	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}

	return s.repo.List(ctx, userID, start, end)
}

func (s *Service) Delete(ctx context.Context, userID int64, appointmentID uuid.UUID) error {
	if userID <= 0 {
		return validationError("user_id is required")
	}
	if appointmentID == uuid.Nil {
		return validationError("appointment_id is required")
	}
	return s.repo.Delete(ctx, userID, appointmentID)
}

func (s *Service) Confirm(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.AppointmentStatusConfirmed)
}

func (s *Service) Complete(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.AppointmentStatusCompleted)
}

func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.AppointmentStatusCancelled)
}

func (s *Service) MarkNoShow(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, appointmentID, domain.AppointmentStatusNoShow)
}

// transition applies to only if the current status allows it. A concurrent
// change between the read and the write surfaces as ErrInvalidTransition.
func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, to domain.AppointmentStatus) (domain.Appointment, error) {
	current, err := s.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !current.Status.CanTransitionTo(to) {
		return domain.Appointment{}, ErrInvalidTransition
	}

	updated, err := s.repo.SetStatus(ctx, appointmentID, current.Status, to, identity.Actor(ctx))
	if errors.Is(err, store.ErrConflict) {
		return domain.Appointment{}, ErrInvalidTransition
	}
	if err != nil {
		return domain.Appointment{}, err
	}

	s.log.DebugContext(ctx, "appointment status changed",
		slog.String("appointment_id", appointmentID.String()),
		slog.String("from", string(current.Status)),
		slog.String("to", string(to)),
	)
	s.recorder.Record(ctx, activity.Event{
		Action:     "appointment_" + string(to),
		ObjectType: "appointment",
		ObjectID:   updated.UserID,
		Details:    map[string]any{"appointment_id": appointmentID.String(), "from": string(current.Status)},
	})
	return updated, nil
}
