package model

import "time"

// Stage names the workflow state machine's processing stages.
type Stage string

const (
	StageDetectComments Stage = "detect_comments"
	StageGenerateReply  Stage = "generate_reply"
	StagePostReply      Stage = "post_reply"
	StageErrorHandling  Stage = "error_handling"
)

// Stats holds the engine's monotonically increasing counters. They are reset
// only by an explicit operator action.
type Stats struct {
	CommentsDetected int64 `json:"comments_detected"`
	RepliesGenerated int64 `json:"replies_generated"`
	RepliesPosted    int64 `json:"replies_posted"`
	ErrorCount       int64 `json:"error_count"`
}

// AutomationConfig is the operator-tunable part of the engine.
type AutomationConfig struct {
	Tone                string        `json:"tone"`
	PollInterval        time.Duration `json:"poll_interval"`
	MonitorAll          bool          `json:"monitor_all"`
	SelectedPostIDs     []string      `json:"selected_post_ids"`
	MaxCommentsPerCycle int           `json:"max_comments_per_cycle"`
}

// AutomationSnapshot is the durable AutomationState. pendingComments and
// cycle-scoped errors are deliberately absent: they are rebuilt by the next
// detection pass after a restart.
type AutomationSnapshot struct {
	Running       bool             `json:"running"`
	LastCheckTime *time.Time       `json:"last_check_time,omitempty"`
	Stats         Stats            `json:"stats"`
	Config        AutomationConfig `json:"config"`
}

// AutomationStatus is the snapshot plus the live gauges a caller needs to see
// what the engine is doing right now. The gauges are not persisted.
type AutomationStatus struct {
	AutomationSnapshot

	PendingCount   int  `json:"pending_count"`
	ProcessedCount int  `json:"processed_count"`
	IsProcessing   bool `json:"is_processing"`
}

// ErrorRecord is one append-only audit entry for a failure observed by a
// workflow stage.
type ErrorRecord struct {
	Stage     Stage
	Message   string
	CommentID *string
	Timestamp time.Time
	Action    string
}

// ActivityType enumerates the activity-log entry kinds.
type ActivityType string

const (
	ActivityCommentDetected    ActivityType = "comment_detected"
	ActivityReplyPosted        ActivityType = "reply_posted"
	ActivityError              ActivityType = "error"
	ActivityAutomationStarted  ActivityType = "automation_started"
	ActivityAutomationStopped  ActivityType = "automation_stopped"
)

// ActivityEntry is one row of the append-only activity log.
type ActivityEntry struct {
	ID        int64
	Type      ActivityType
	CommentID *string
	PostID    *string
	Message   string
	CreatedAt time.Time
}
