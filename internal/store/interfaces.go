package store

import (
	"context"
	"errors"

	"socialpulse.app/autopilot/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ProcessedCommentStore is the durable dedup tier. A row existing for a
// comment ID means that comment must never be replied to again.
type ProcessedCommentStore interface {
	IsProcessed(ctx context.Context, commentID string) (bool, error)
	Mark(ctx context.Context, pc *model.ProcessedComment) error
	Count(ctx context.Context) (int64, error)
	ListRecent(ctx context.Context, limit int32) ([]model.ProcessedComment, error)
}

// ActivityLogStore is the append-only audit trail of engine activity.
type ActivityLogStore interface {
	Append(ctx context.Context, entry *model.ActivityEntry) error
	ListRecent(ctx context.Context, limit int32) ([]model.ActivityEntry, error)
}

// AutomationStateStore persists the durable AutomationState snapshot.
// Load returns ErrNotFound when no snapshot has ever been saved.
type AutomationStateStore interface {
	Save(ctx context.Context, snapshot *model.AutomationSnapshot) error
	Load(ctx context.Context) (*model.AutomationSnapshot, error)
}
