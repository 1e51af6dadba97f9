// Package source adapts the content platform the engine polls. The engine
// only ever sees this interface; the Instagram Graph API client below is the
// one production implementation.
package source

import (
	"context"

	"socialpulse.app/autopilot/internal/model"
)

// Reply is the platform's acknowledgement of a posted reply.
type Reply struct {
	ID string
}

// Client is the content source adapter consumed by the workflow engine.
// Implementations surface failures as faults.Error values so the engine can
// classify them.
type Client interface {
	// GetAccountInfo returns the automation account's own identity,
	// used once per cycle for self-reply filtering.
	GetAccountInfo(ctx context.Context) (*model.AccountInfo, error)
	// GetAccountPosts fetches the account's most recent posts, newest first.
	GetAccountPosts(ctx context.Context, limit int) ([]model.Post, error)
	// GetRecentComments fetches comments on one post in the order the
	// platform returns them.
	GetRecentComments(ctx context.Context, postID string) ([]model.Comment, error)
	// ReplyToComment posts a public threaded reply under a comment.
	ReplyToComment(ctx context.Context, commentID, text string) (*Reply, error)
	// SendPrivateReply sends a private message to the comment's author.
	// The platform enforces a shorter length limit than public replies.
	SendPrivateReply(ctx context.Context, commentID, text string) (*Reply, error)
}
