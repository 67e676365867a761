package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"groupbook/backend/internal/domain"
)

type AppointmentRepository interface {
	Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	List(ctx context.Context, userID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	Delete(ctx context.Context, userID int64, appointmentID uuid.UUID) error
	// SetStatus moves an appointment from one status to another, returning
	// ErrConflict when the stored status is no longer from.
	SetStatus(ctx context.Context, appointmentID uuid.UUID, from, to domain.AppointmentStatus, by int64) (domain.Appointment, error)
}
