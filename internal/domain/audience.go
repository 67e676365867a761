package domain

import (
	"context"
	"time"

	"github.com/uptrace/bun"
)

type AudienceStatus string

const (
	AudienceStatusActive   AudienceStatus = "active"
	AudienceStatusInactive AudienceStatus = "inactive"
)

const DefaultAudienceColor = "#3788d8"

func (s AudienceStatus) Valid() bool {
	return s == AudienceStatusActive || s == AudienceStatusInactive
}

// Audience is a node of the group tree. The tree is stored as rows keyed by
// id with ParentID as the only link; nil ParentID marks a root.
type Audience struct {
	bun.BaseModel `bun:"table:audiences,alias:audience"`

	ID            int64          `bun:"id,pk,autoincrement"`
	Name          string         `bun:"name,notnull"`
	Color         string         `bun:"color,notnull"`
	Status        AudienceStatus `bun:"status,notnull"`
	ParentID      *int64         `bun:"parent_id"`
	AllowSelfJoin bool           `bun:"allow_self_join,notnull"`
	CreatedBy     int64          `bun:"created_by,notnull"`
	CreatedAt     time.Time      `bun:"created_at,notnull"`
	UpdatedAt     time.Time      `bun:"updated_at,notnull"`

	// Children is filled by hierarchical listings only.
	Children []Audience `bun:"-"`
}

func (a *Audience) IsRoot() bool {
	return a.ParentID == nil
}

func (a *Audience) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

type AudienceMember struct {
	bun.BaseModel `bun:"table:audience_members"`

	ID         int64     `bun:"id,pk,autoincrement"`
	AudienceID int64     `bun:"audience_id,notnull"`
	UserID     int64     `bun:"user_id,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
}

func (m *AudienceMember) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok && m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	return nil
}
