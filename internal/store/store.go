package store

import (
	"context"

	"github.com/me/portsched/pkg/model"
)

// Store persists simulator runs and their grant traces.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *model.Run) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)

	// Grant traces
	AppendGrants(ctx context.Context, runID string, grants []model.Grant) error
	ListGrants(ctx context.Context, runID string) ([]model.Grant, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
