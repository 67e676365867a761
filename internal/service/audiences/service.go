// Package audiences resolves the audience tree and its memberships behind a
// read-through cache. Every write invalidates the keys it can stale before
// returning.
package audiences

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
)

const DefaultMaxDepth = 32

var (
	ErrAlreadyMember = errors.New("user is already a member of this audience")
	ErrCycle         = errors.New("audience cannot be its own ancestor")
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// FieldRemover is the part of the field store an audience delete needs to
// drop the fields defined on each removed node.
type FieldRemover interface {
	FieldsOf(ctx context.Context, audienceID int64, activeOnly bool) ([]domain.CustomField, error)
	DeleteFieldsOf(ctx context.Context, audienceID int64) (int64, error)
}

type Service struct {
	audiences store.AudienceRepository
	members   store.MembershipRepository
	fields    FieldRemover
	cache     cache.Cache
	recorder  activity.Recorder
	log       *slog.Logger
	maxDepth  int
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

// WithFields makes Delete remove each node's custom fields and evict them
// from the shared cache.
func WithFields(f FieldRemover) Option {
	return func(s *Service) { s.fields = f }
}

// WithMaxDepth caps ancestor and descendant walks.
func WithMaxDepth(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxDepth = n
		}
	}
}

func NewService(audiences store.AudienceRepository, members store.MembershipRepository, opts ...Option) *Service {
	s := &Service{
		audiences: audiences,
		members:   members,
		cache:     cache.Nop(),
		recorder:  activity.Nop(),
		log:       slog.Default(),
		maxDepth:  DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "audiences"))
	return s
}

func idKey(id int64) string {
	return strconv.FormatInt(id, 10)
}
