// Package generator produces reply text for detected comments. An empty
// reply is a valid non-error result and means "nothing worth saying" - the
// engine skips the comment instead of posting.
package generator

import (
	"context"

	"socialpulse.app/autopilot/internal/model"
)

// Request carries the comment text plus the post context the model needs to
// stay on topic.
type Request struct {
	CommentText string
	CommentBy   string
	Tone        string
	PostCaption string
	PostType    model.PostType
}

// Generator is the reply-generation collaborator consumed by the workflow
// engine. Implementations surface failures as faults.Error values.
type Generator interface {
	GenerateReply(ctx context.Context, req Request) (string, error)
}
