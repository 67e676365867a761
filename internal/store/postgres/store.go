package postgres

import (
	"context"

	"github.com/uptrace/bun"

	"groupbook/backend/internal/store"
)

// Store implements the audience, membership, field, booking and activity
// repositories on top of a bun connection or transaction.
type Store struct {
	db bun.IDB
}

func NewStore(db bun.IDB) *Store {
	return &Store{db: db}
}

var (
	_ store.AudienceRepository   = (*Store)(nil)
	_ store.MembershipRepository = (*Store)(nil)
	_ store.FieldRepository      = (*Store)(nil)
	_ store.BookingRepository    = (*Store)(nil)
	_ store.ActivityRepository   = (*Store)(nil)
	_ store.BookingTx            = (*Store)(nil)
)

// RunInTx runs fn against a Store bound to a single transaction. Row locks
// taken with FOR UPDATE inside fn are held until it returns.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, &Store{db: tx})
	})
}

func (s *Store) InBookingTx(ctx context.Context, fn func(ctx context.Context, repo store.BookingRepository) error) error {
	return s.RunInTx(ctx, func(ctx context.Context, tx *Store) error {
		return fn(ctx, tx)
	})
}
