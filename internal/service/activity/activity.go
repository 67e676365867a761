// Package activity records who changed what. Recording is fire-and-forget:
// a failed write is logged and never reaches the caller.
package activity

import (
	"context"
	"log/slog"

	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/identity"
	"groupbook/backend/internal/store"
)

type Event struct {
	Action     string
	ObjectType string
	ObjectID   int64
	Details    map[string]any
}

type Recorder interface {
	Record(ctx context.Context, e Event)
}

type nopRecorder struct{}

func (nopRecorder) Record(context.Context, Event) {}

func Nop() Recorder {
	return nopRecorder{}
}

type SlogRecorder struct {
	log *slog.Logger
}

func NewSlogRecorder(log *slog.Logger) *SlogRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &SlogRecorder{log: log.With(slog.String("component", "activity"))}
}

func (r *SlogRecorder) Record(ctx context.Context, e Event) {
	r.log.InfoContext(ctx, "activity",
		slog.String("action", e.Action),
		slog.String("object_type", e.ObjectType),
		slog.Int64("object_id", e.ObjectID),
		slog.Int64("actor_id", identity.Actor(ctx)),
		slog.Any("details", e.Details),
	)
}

type StoreRecorder struct {
	repo store.ActivityRepository
	log  *slog.Logger
}

func NewStoreRecorder(repo store.ActivityRepository, log *slog.Logger) *StoreRecorder {
	if log == nil {
		log = slog.Default()
	}
	return &StoreRecorder{repo: repo, log: log.With(slog.String("component", "activity"))}
}

func (r *StoreRecorder) Record(ctx context.Context, e Event) {
	err := r.repo.InsertActivity(ctx, domain.ActivityEntry{
		ActorID:    identity.Actor(ctx),
		Action:     e.Action,
		ObjectType: e.ObjectType,
		ObjectID:   e.ObjectID,
		Details:    e.Details,
	})
	if err != nil {
		r.log.WarnContext(ctx, "activity write failed",
			slog.Any("err", err),
			slog.String("action", e.Action),
			slog.Int64("object_id", e.ObjectID),
		)
	}
}

type multi []Recorder

func (m multi) Record(ctx context.Context, e Event) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Multi fans every event out to each recorder in order.
func Multi(recorders ...Recorder) Recorder {
	return multi(recorders)
}
