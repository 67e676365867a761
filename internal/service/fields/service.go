// Package fields resolves custom field definitions through the audience
// tree and keeps each user's field values.
package fields

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/stoewer/go-strcase"

	"groupbook/backend/internal/cache"
	"groupbook/backend/internal/domain"
	"groupbook/backend/internal/service/activity"
	"groupbook/backend/internal/store"
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

// AudienceReader is the slice of the audience service this package needs.
type AudienceReader interface {
	Get(ctx context.Context, id int64) (domain.Audience, error)
	Ancestors(ctx context.Context, id int64) ([]domain.Audience, error)
	UserAudiences(ctx context.Context, userID int64, includeParents bool) ([]domain.Audience, error)
}

type Service struct {
	repo      store.FieldRepository
	audiences AudienceReader
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

func NewService(repo store.FieldRepository, audiences AudienceReader, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		audiences: audiences,
		cache:     cache.Nop(),
		recorder:  activity.Nop(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "fields"))
	return s
}

func (s *Service) ByGroup(ctx context.Context, audienceID int64, activeOnly bool) ([]domain.CustomField, error) {
	return s.repo.FieldsOf(ctx, audienceID, activeOnly)
}

// ByGroupWithAncestors returns the active fields of every audience from the
// root down to audienceID, root first, each tagged with its owning audience.
func (s *Service) ByGroupWithAncestors(ctx context.Context, audienceID int64) ([]domain.CustomField, error) {
	chain, err := s.audiences.Ancestors(ctx, audienceID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.CustomField, 0)
	for _, a := range chain {
		fields, err := s.repo.FieldsOf(ctx, a.ID, true)
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			f.SourceGroupID = a.ID
			f.SourceGroupName = a.Name
			out = append(out, f)
		}
	}
	return out, nil
}

// AllForUser unions ByGroupWithAncestors over the user's direct audiences.
// A field reached through more than one audience appears once, at its first
// position.
func (s *Service) AllForUser(ctx context.Context, userID int64) ([]domain.CustomField, error) {
	groups, err := s.audiences.UserAudiences(ctx, userID, false)
	if err != nil {
		return nil, err
	}
	seen := mapset.NewThreadUnsafeSet[int64]()
	out := make([]domain.CustomField, 0)
	for _, g := range groups {
		fields, err := s.ByGroupWithAncestors(ctx, g.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, f := range fields {
			if seen.Add(f.ID) {
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func (s *Service) Get(ctx context.Context, id int64) (domain.CustomField, error) {
	key := strconv.FormatInt(id, 10)
	if f, ok := cache.Lookup[domain.CustomField](s.cache, cache.NSField, key); ok {
		return f, nil
	}
	f, err := s.repo.GetField(ctx, id)
	if err != nil {
		return domain.CustomField{}, err
	}
	s.cache.Set(cache.NSField, key, f)
	return f, nil
}

// FieldInput creates a definition. Options and Rules accept either a string,
// stored as given, or any value that marshals to JSON.
type FieldInput struct {
	AudienceID int64
	Key        string
	Label      string
	Type       string
	Options    any
	Rules      any
	SortOrder  int
	Required   bool
	Active     *bool
}

func (s *Service) Create(ctx context.Context, in FieldInput) (int64, error) {
	label := strings.TrimSpace(in.Label)
	if label == "" {
		return 0, validationError("field label is required")
	}
	if _, err := s.audiences.Get(ctx, in.AudienceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, validationError("audience not found")
		}
		return 0, err
	}

	key := strings.TrimSpace(in.Key)
	if key == "" {
		key = DeriveKey(label)
	}
	if key == "" {
		return 0, validationError("field key could not be derived from label")
	}
	exists, err := s.repo.FieldKeyExists(ctx, in.AudienceID, key, 0)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, validationError(fmt.Sprintf("field key %q already exists in this audience", key))
	}

	options, err := encodeStructured(in.Options)
	if err != nil {
		return 0, validationError("invalid field options")
	}
	rules, err := encodeStructured(in.Rules)
	if err != nil {
		return 0, validationError("invalid validation rules")
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	id, err := s.repo.InsertField(ctx, domain.CustomField{
		AudienceID:      in.AudienceID,
		FieldKey:        key,
		FieldLabel:      label,
		FieldType:       domain.NormalizeFieldType(in.Type),
		FieldOptions:    options,
		ValidationRules: rules,
		SortOrder:       in.SortOrder,
		IsRequired:      in.Required,
		IsActive:        active,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return 0, validationError(fmt.Sprintf("field key %q already exists in this audience", key))
		}
		return 0, err
	}

	s.recorder.Record(ctx, activity.Event{
		Action:     "field_created",
		ObjectType: "custom_field",
		ObjectID:   id,
		Details:    map[string]any{"audience_id": in.AudienceID, "field_key": key},
	})
	return id, nil
}

// FieldUpdate mirrors FieldInput for partial updates; nil leaves a column
// unchanged. Options and Rules treat a typed nil map or slice as nil.
type FieldUpdate struct {
	Key       *string
	Label     *string
	Type      *string
	Options   any
	Rules     any
	SortOrder *int
	Required  *bool
	Active    *bool
}

func (s *Service) Update(ctx context.Context, id int64, in FieldUpdate) error {
	var patch store.FieldPatch
	if in.Label != nil {
		label := strings.TrimSpace(*in.Label)
		if label == "" {
			return validationError("field label cannot be empty")
		}
		patch.FieldLabel = &label
	}
	if in.Key != nil {
		key := strings.TrimSpace(*in.Key)
		if key == "" {
			return validationError("field key cannot be empty")
		}
		current, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		exists, err := s.repo.FieldKeyExists(ctx, current.AudienceID, key, id)
		if err != nil {
			return err
		}
		if exists {
			return validationError(fmt.Sprintf("field key %q already exists in this audience", key))
		}
		patch.FieldKey = &key
	}
	if in.Type != nil {
		t := domain.NormalizeFieldType(*in.Type)
		patch.FieldType = &t
	}
	if !isNil(in.Options) {
		v, err := encodeStructured(in.Options)
		if err != nil {
			return validationError("invalid field options")
		}
		patch.FieldOptions = &v
	}
	if !isNil(in.Rules) {
		v, err := encodeStructured(in.Rules)
		if err != nil {
			return validationError("invalid validation rules")
		}
		patch.ValidationRules = &v
	}
	patch.SortOrder = in.SortOrder
	patch.IsRequired = in.Required
	patch.IsActive = in.Active

	if patch.Empty() {
		return store.ErrNoChanges
	}
	n, err := s.repo.UpdateField(ctx, id, patch)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return validationError("field key already exists in this audience")
		}
		return err
	}
	s.invalidate(id)
	if n == 0 {
		return store.ErrNotFound
	}
	s.recorder.Record(ctx, activity.Event{Action: "field_updated", ObjectType: "custom_field", ObjectID: id})
	return nil
}

func (s *Service) Delete(ctx context.Context, id int64) error {
	n, err := s.repo.DeleteField(ctx, id)
	if err != nil {
		return err
	}
	s.invalidate(id)
	if n == 0 {
		return store.ErrNotFound
	}
	s.recorder.Record(ctx, activity.Event{Action: "field_deleted", ObjectType: "custom_field", ObjectID: id})
	return nil
}

// Reorder sets each field's sort_order to its index in ids. Every id is
// attempted; failures and unknown ids are returned together.
func (s *Service) Reorder(ctx context.Context, ids []int64) error {
	var result *multierror.Error
	for i, id := range ids {
		order := i
		n, err := s.repo.UpdateField(ctx, id, store.FieldPatch{SortOrder: &order})
		switch {
		case err != nil:
			result = multierror.Append(result, fmt.Errorf("reorder field %d: %w", id, err))
		case n == 0:
			result = multierror.Append(result, fmt.Errorf("reorder field %d: %w", id, store.ErrNotFound))
		}
		s.invalidate(id)
	}
	return result.ErrorOrNil()
}

func (s *Service) UserFieldValues(ctx context.Context, userID int64) (map[string]any, error) {
	return s.repo.UserFieldValues(ctx, userID)
}

// UserFieldValue reports the stored value of key and whether it was set.
func (s *Service) UserFieldValue(ctx context.Context, userID int64, key string) (any, bool, error) {
	values, err := s.repo.UserFieldValues(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// SetUserFieldValue stores one value, leaving the user's other keys intact.
func (s *Service) SetUserFieldValue(ctx context.Context, userID int64, key string, value any) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return validationError("field key is required")
	}
	return s.repo.MergeUserFieldValue(ctx, userID, key, value)
}

// DeleteUserFieldValues drops the user's whole value bag.
func (s *Service) DeleteUserFieldValues(ctx context.Context, userID int64) (int64, error) {
	return s.repo.DeleteUserFieldValues(ctx, userID)
}

func (s *Service) invalidate(id int64) {
	s.cache.Delete(cache.NSField, strconv.FormatInt(id, 10))
}

// DeriveKey turns a label into a field key: snake case, [a-z0-9_] only.
func DeriveKey(label string) string {
	snake := strcase.SnakeCase(strings.TrimSpace(label))
	var b strings.Builder
	for _, r := range snake {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ' || r == '-':
			b.WriteByte('_')
		}
	}
	return strings.Trim(collapseUnderscores(b.String()), "_")
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}

func encodeStructured(v any) (string, error) {
	if isNil(v) {
		return "", nil
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case json.RawMessage:
		return string(t), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// isNil reports whether v is nil or a typed nil map, slice, pointer or
// interface. A typed nil would otherwise encode as "null".
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Pointer, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
