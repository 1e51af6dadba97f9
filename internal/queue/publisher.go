package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/store"
)

// ActivityPublisher fans activity entries out to a Redis stream so operator
// UIs can tail the engine live without polling Postgres.
type ActivityPublisher interface {
	Publish(ctx context.Context, entry *model.ActivityEntry) error
}

type redisPublisher struct {
	client *redis.Client
	stream string
}

func NewRedisPublisher(client *redis.Client, stream string) ActivityPublisher {
	return &redisPublisher{client: client, stream: stream}
}

func (p *redisPublisher) Publish(ctx context.Context, entry *model.ActivityEntry) error {
	fields := map[string]any{
		"id":         entry.ID,
		"entry_type": string(entry.Type),
		"message":    entry.Message,
		"created_at": entry.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
	if entry.CommentID != nil {
		fields["comment_id"] = *entry.CommentID
	}
	if entry.PostID != nil {
		fields["post_id"] = *entry.PostID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: 1000,
		Approx: true,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("publishing activity entry: %w", err)
	}
	return nil
}

// PublishingActivityLog decorates an ActivityLogStore so every append is also
// published to the live stream. Publish failures are logged and swallowed:
// the durable log is authoritative, the stream is best effort.
type PublishingActivityLog struct {
	next      store.ActivityLogStore
	publisher ActivityPublisher
}

func NewPublishingActivityLog(next store.ActivityLogStore, publisher ActivityPublisher) *PublishingActivityLog {
	return &PublishingActivityLog{next: next, publisher: publisher}
}

func (l *PublishingActivityLog) Append(ctx context.Context, entry *model.ActivityEntry) error {
	if err := l.next.Append(ctx, entry); err != nil {
		return err
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, entry); err != nil {
			slog.WarnContext(ctx, "failed to publish activity entry",
				"error", err,
				"entry_id", entry.ID)
		}
	}
	return nil
}

func (l *PublishingActivityLog) ListRecent(ctx context.Context, limit int32) ([]model.ActivityEntry, error) {
	return l.next.ListRecent(ctx, limit)
}
