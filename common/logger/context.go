package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Fields flow through context enrichment, so business context
// (comment_id, post_id, stage) is included in every log statement without
// each call site repeating it.
type LogFields struct {
	CommentID *string // Comment currently being processed
	PostID    *string // Post the comment belongs to
	Stage     *string // Workflow stage (e.g. "detect_comments")
	CycleID   *int64  // Poll cycle sequence number
	Component string  // Component name (e.g. "autopilot.engine.workflow")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking
// precedence. Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.CommentID != nil {
		result.CommentID = next.CommentID
	}
	if next.PostID != nil {
		result.PostID = next.PostID
	}
	if next.Stage != nil {
		result.Stage = next.Stage
	}
	if next.CycleID != nil {
		result.CycleID = next.CycleID
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{CommentID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if
// truncated. Useful for logging potentially long strings like captions or
// generated replies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
