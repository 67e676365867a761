// Package app wires the store, cache and services into one value.
package app

import (
	"log/slog"

	"github.com/uptrace/bun"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/config"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/service/appointments"
	"groupbook/backend/internal/service/audiences"
	"groupbook/backend/internal/service/bookings"
	"groupbook/backend/internal/service/fields"
	"groupbook/backend/internal/service/privacy"
	"groupbook/backend/internal/store/postgres"
)

type App struct {
	Audiences    *audiences.Service
	Fields       *fields.Service
	Bookings     *bookings.Service
	Appointments *appointments.Service
	Privacy      *privacy.Service

	cache *cache.TTLCache
}

func New(db *bun.DB, cfg config.Config, log *slog.Logger) *App {
	if log == nil {
		log = slog.Default()
	}

	st := postgres.NewStore(db)
	c := cache.New(cfg.CacheTTL)
	rec := activity.Multi(
		activity.NewSlogRecorder(log),
		activity.NewStoreRecorder(st, log),
	)

	aud := audiences.NewService(st, st,
		audiences.WithCache(c),
		audiences.WithRecorder(rec),
		audiences.WithLogger(log),
		audiences.WithMaxDepth(cfg.AudienceMaxDepth),
		audiences.WithFields(st),
	)
	fld := fields.NewService(st, aud,
		fields.WithCache(c),
		fields.WithRecorder(rec),
		fields.WithLogger(log),
	)
	bkg := bookings.NewService(st, st, aud,
		bookings.WithCache(c),
		bookings.WithRecorder(rec),
		bookings.WithLogger(log),
	)
	appts := appointments.NewService(postgres.NewAppointmentRepo(db),
		appointments.WithRecorder(rec),
		appointments.WithLogger(log),
	)

	return &App{
		Audiences:    aud,
		Fields:       fld,
		Bookings:     bkg,
		Appointments: appts,
		Privacy:      privacy.NewService(aud, fld, bkg, log),
		cache:        c,
	}
}

// Close stops the cache's expiry loop.
func (a *App) Close() {
	a.cache.Close()
}
