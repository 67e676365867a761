package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type ActivityEntry struct {
	bun.BaseModel `bun:"table:activity_log"`

	ID         int64          `bun:"id,pk,autoincrement"`
	ActorID    int64          `bun:"actor_id,notnull"`
	Action     string         `bun:"action,notnull"`
	ObjectType string         `bun:"object_type,notnull"`
	ObjectID   int64          `bun:"object_id,notnull"`
	Details    map[string]any `bun:"details,type:jsonb"`
	CreatedAt  time.Time      `bun:"created_at,notnull"`
}

func (e *ActivityEntry) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return nil
}
