package postgres

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/store"
)

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

var _ store.AppointmentRepository = (*AppointmentRepo)(nil)

func (r *AppointmentRepo) Create(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.inUserTransaction(ctx, appt.UserID, func(ctx context.Context, tx bun.Tx) error {
		a, err := createAppointment(ctx, tx, appt)
		if err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

func (r *AppointmentRepo) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var a domain.Appointment
	err := r.db.NewSelect().
		Model(&a).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, notFound(err)
	}
	return a, nil
}

func (r *AppointmentRepo) List(ctx context.Context, userID int64, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	rows := make([]domain.Appointment, 0)
	err := r.db.NewSelect().
		Model(&rows).
		Where("user_id = ?", userID).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) Delete(ctx context.Context, userID int64, appointmentID uuid.UUID) error {
	return r.inUserTransaction(ctx, userID, func(ctx context.Context, tx bun.Tx) error {
		n, err := affected(tx.NewDelete().
			Model((*domain.Appointment)(nil)).
			Where("user_id = ?", userID).
			Where("id = ?", appointmentID).
			Exec(ctx))
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

func (r *AppointmentRepo) SetStatus(ctx context.Context, appointmentID uuid.UUID, from, to domain.AppointmentStatus, by int64) (domain.Appointment, error) {
	now := time.Now().UTC()
	var out domain.Appointment
	res, err := r.db.NewUpdate().
		Model(&out).
		Set("status = ?", to).
		Set("status_changed_by = ?", by).
		Set("status_changed_at = ?", now).
		Set("updated_at = ?", now).
		Where("id = ?", appointmentID).
		Where("status = ?", from).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if isExclusionViolation(err, "appointments_no_overlap") {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if n == 0 {
		if _, err := r.Get(ctx, appointmentID); err != nil {
			return domain.Appointment{}, err
		}
		return domain.Appointment{}, store.ErrConflict
	}
	return out, nil
}

func (r *AppointmentRepo) inUserTransaction(ctx context.Context, userID int64, fn func(ctx context.Context, tx bun.Tx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockUserCalendar(ctx, tx, userID); err != nil {
			return err
		}
		return fn(ctx, tx)
	})
}

func lockUserCalendar(ctx context.Context, tx bun.Tx, userID int64) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", "appointments:"+strconv.FormatInt(userID, 10)).Exec(ctx)
	return err
}

func createAppointment(ctx context.Context, tx bun.Tx, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	n, err := affected(tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx))
	if err != nil {
		if isExclusionViolation(err, "appointments_no_overlap") {
			return domain.Appointment{}, store.ErrConflict
		}
		return domain.Appointment{}, err
	}
	if n == 1 {
		return m, nil
	}

	// Same id means the same idempotency key; replay only if nothing differs.
	var existing domain.Appointment
	if err := tx.NewSelect().Model(&existing).Where("id = ?", m.ID).Limit(1).Scan(ctx); err != nil {
		return domain.Appointment{}, err
	}
	if !sameAppointmentRequest(existing, appt) {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	return existing, nil
}

func sameAppointmentRequest(existing, requested domain.Appointment) bool {
	return existing.UserID == requested.UserID &&
		existing.ResourceID == requested.ResourceID &&
		existing.Title == requested.Title &&
		existing.Notes == requested.Notes &&
		existing.StartTime.Equal(requested.StartTime) &&
		existing.EndTime.Equal(requested.EndTime)
}
