// Package store persists runs and discovered job items.
package store

import (
	"context"

	"github.com/jobgrid/pipeline-cli/internal/model"
)

// ItemUpdate is a partial update; nil fields are left untouched.
type ItemUpdate struct {
	Score        *float64
	Rationale    *string
	Status       *model.ItemStatus
	SponsorMatch *string
}

// IsZero reports whether the update carries no changes.
func (u ItemUpdate) IsZero() bool {
	return u.Score == nil && u.Rationale == nil && u.Status == nil && u.SponsorMatch == nil
}

// CreateResult reports the outcome of a bulk item insert.
type CreateResult struct {
	Created int
	Skipped int
}

// ItemFilter specifies criteria for listing items.
type ItemFilter struct {
	Status       model.ItemStatus
	Scored       *bool
	MinScore     *float64
	OrderByScore bool
	Limit        int
}

// Store defines the persistence interface consumed by the pipeline. The
// pipeline never embeds storage logic; it only calls through this boundary.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	FinishRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)

	// Items
	GetAllKnownURLs(ctx context.Context) ([]string, error)
	CreateItems(ctx context.Context, items []model.DiscoveredItem) (CreateResult, error)
	GetUnscoredItems(ctx context.Context) ([]model.ScoredItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]model.ScoredItem, error)
	UpdateItem(ctx context.Context, itemID string, update ItemUpdate) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
