package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"socialpulse.app/autopilot/common/id"
	"socialpulse.app/autopilot/common/logger"
	"socialpulse.app/autopilot/internal/generator"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/source"
	"socialpulse.app/autopilot/internal/store"
)

const (
	// Candidate post batch per detection pass. Allow-list mode gets a smaller
	// batch because it over-fetches and filters down to the selected IDs.
	recentPostsBatchAll      = 10
	recentPostsBatchSelected = 5

	// Private messages have a shorter platform limit than public replies.
	privateReplyMaxLen = 1000
)

// Stopper lets the workflow halt the poll loop when a stage observes a
// fatal (stop-classified) failure.
type Stopper interface {
	RequestStop(ctx context.Context, reason string)
}

// Workflow is the four-stage processing state machine. One traversal per
// scheduler tick; stages route by returning the next stage, with an empty
// stage ending the cycle.
type Workflow struct {
	source    source.Client
	generator generator.Generator
	processed store.ProcessedCommentStore
	activity  store.ActivityLogStore
	retry     *Retryer
	state     *State
	stopper   Stopper

	// Per-cycle working state. Only the single in-flight cycle touches these.
	account      *model.AccountInfo
	current      *model.Comment
	currentReply string
	fetched      bool
	deferred     bool
	cycleSeq     int64
}

func NewWorkflow(
	src source.Client,
	gen generator.Generator,
	processed store.ProcessedCommentStore,
	activity store.ActivityLogStore,
	retry *Retryer,
	state *State,
) *Workflow {
	return &Workflow{
		source:    src,
		generator: gen,
		processed: processed,
		activity:  activity,
		retry:     retry,
		state:     state,
	}
}

// SetStopper wires the scheduler in after construction (the scheduler owns
// the workflow, so this breaks the construction cycle).
func (w *Workflow) SetStopper(s Stopper) {
	w.stopper = s
}

func (w *Workflow) State() *State {
	return w.state
}

// RunCycle performs one full traversal starting at DetectComments. The queue
// populated at cycle start is drained via repeated GenerateReply/PostReply
// passes; new comments are only discovered on the next tick.
func (w *Workflow) RunCycle(ctx context.Context) {
	w.cycleSeq++
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CycleID:   logger.Ptr(w.cycleSeq),
		Component: "autopilot.engine.workflow",
	})

	w.state.BeginCycle()
	w.fetched = false
	w.deferred = false
	w.clearCurrent()

	stage := model.StageDetectComments
	for stage != "" {
		switch stage {
		case model.StageDetectComments:
			stage = w.detectComments(ctx)
		case model.StageGenerateReply:
			stage = w.generateReply(ctx)
		case model.StagePostReply:
			stage = w.postReply(ctx)
		case model.StageErrorHandling:
			stage = w.handleError(ctx)
		default:
			slog.ErrorContext(ctx, "unknown workflow stage", "stage", string(stage))
			stage = ""
		}
	}
}

// --- DetectComments ---------------------------------------------------------

func (w *Workflow) detectComments(ctx context.Context) model.Stage {
	ctx = stageCtx(ctx, model.StageDetectComments)

	// A deferral set by a later stage ends the cycle here; the unmarked
	// comments are re-detected on the next tick.
	if w.deferred {
		slog.InfoContext(ctx, "cycle deferred, ending early",
			"pending", w.state.PendingCount())
		return ""
	}

	if w.fetched {
		// Mid-cycle re-entry: just keep draining the queue.
		if w.state.PendingCount() > 0 {
			return model.StageGenerateReply
		}
		return ""
	}
	w.fetched = true

	if !w.fetchAccountInfo(ctx) {
		return model.StageErrorHandling
	}

	posts, ok := w.fetchCandidatePosts(ctx)
	if !ok {
		return model.StageErrorHandling
	}

	cfg := w.state.Config()
	for _, post := range posts {
		if stop := w.detectPostComments(ctx, post); stop {
			return model.StageErrorHandling
		}
	}

	w.state.TruncatePending(cfg.MaxCommentsPerCycle)
	w.state.SetLastCheckTime(time.Now().UTC())

	pending := w.state.PendingCount()
	slog.InfoContext(ctx, "detection pass complete",
		"posts_checked", len(posts),
		"pending", pending)

	if pending > 0 {
		return model.StageGenerateReply
	}
	return ""
}

func (w *Workflow) fetchAccountInfo(ctx context.Context) bool {
	err := w.retry.Do(ctx, "get_account_info", func(ctx context.Context) error {
		account, err := w.source.GetAccountInfo(ctx)
		if err != nil {
			return err
		}
		w.account = account
		return nil
	})
	if err == nil {
		return true
	}

	// Without our own identity we cannot filter self-replies, so the whole
	// detection pass is abandoned.
	res := Resolve(err)
	w.recordStageError(ctx, model.StageDetectComments, fmt.Sprintf("fetching account info: %v", err), nil, res)
	w.deferred = true
	if res.ShouldStop {
		w.requestStop(ctx, "authentication failure fetching account info")
	}
	return false
}

func (w *Workflow) fetchCandidatePosts(ctx context.Context) ([]model.Post, bool) {
	cfg := w.state.Config()

	limit := recentPostsBatchAll
	if !cfg.MonitorAll {
		limit = recentPostsBatchSelected
	}

	var posts []model.Post
	err := w.retry.Do(ctx, "get_account_posts", func(ctx context.Context) error {
		fetched, err := w.source.GetAccountPosts(ctx, limit)
		if err != nil {
			return err
		}
		posts = fetched
		return nil
	})
	if err != nil {
		res := Resolve(err)
		w.recordStageError(ctx, model.StageDetectComments, fmt.Sprintf("fetching posts: %v", err), nil, res)
		w.deferred = true
		if res.ShouldStop {
			w.requestStop(ctx, "authentication failure fetching posts")
		}
		return nil, false
	}

	if cfg.MonitorAll {
		return posts, true
	}

	selected := make(map[string]bool, len(cfg.SelectedPostIDs))
	for _, pid := range cfg.SelectedPostIDs {
		selected[pid] = true
	}
	filtered := posts[:0]
	for _, p := range posts {
		if selected[p.ID] {
			filtered = append(filtered, p)
		}
	}
	return filtered, true
}

// detectPostComments fetches and enqueues one post's comments. The returned
// bool is true only when a stop-classified failure must abort detection;
// any other per-post failure is swallowed so the remaining posts still get
// their pass.
func (w *Workflow) detectPostComments(ctx context.Context, post model.Post) bool {
	ctx = logger.WithLogFields(ctx, logger.LogFields{PostID: logger.Ptr(post.ID)})

	var comments []model.Comment
	err := w.retry.Do(ctx, "get_recent_comments", func(ctx context.Context) error {
		fetched, err := w.source.GetRecentComments(ctx, post.ID)
		if err != nil {
			return err
		}
		comments = fetched
		return nil
	})
	if err != nil {
		res := Resolve(err)
		w.recordStageError(ctx, model.StageDetectComments, fmt.Sprintf("fetching comments for post %s: %v", post.ID, err), nil, res)
		if res.ShouldStop {
			w.deferred = true
			w.requestStop(ctx, "authentication failure fetching comments")
			return true
		}
		slog.WarnContext(ctx, "comment fetch failed, continuing with remaining posts", "error", err)
		return false
	}

	for _, c := range comments {
		if w.isOwnComment(c) {
			continue
		}
		if w.state.IsProcessedLocal(c.ID) {
			continue
		}
		done, err := w.isProcessedDurable(ctx, c.ID)
		if err != nil {
			// Treat an unreadable dedup store as processed: replying twice is
			// worse than replying late.
			slog.WarnContext(ctx, "dedup check failed, skipping comment",
				"error", err, "comment_id", c.ID)
			continue
		}
		if done {
			w.state.MarkProcessedLocal(c.ID)
			continue
		}

		c.PostCaption = post.Caption
		c.PostType = post.MediaType
		w.state.Enqueue(c)
		w.state.AddStats(func(st *model.Stats) { st.CommentsDetected++ })
		w.appendActivity(ctx, &model.ActivityEntry{
			Type:      model.ActivityCommentDetected,
			CommentID: &c.ID,
			PostID:    &c.PostID,
			Message:   fmt.Sprintf("new comment from @%s: %s", c.Username, logger.Truncate(c.Text, 120)),
		})
	}
	return false
}

func (w *Workflow) isOwnComment(c model.Comment) bool {
	if w.account == nil {
		return false
	}
	if c.Username != "" && c.Username == w.account.Username {
		return true
	}
	return c.UserID != "" && c.UserID == w.account.ID
}

func (w *Workflow) isProcessedDurable(ctx context.Context, commentID string) (bool, error) {
	var done bool
	err := w.retry.Do(ctx, "is_comment_processed", func(ctx context.Context) error {
		processed, err := w.processed.IsProcessed(ctx, commentID)
		if err != nil {
			return err
		}
		done = processed
		return nil
	})
	return done, err
}

// --- GenerateReply ----------------------------------------------------------

func (w *Workflow) generateReply(ctx context.Context) model.Stage {
	ctx = stageCtx(ctx, model.StageGenerateReply)

	cur, ok := w.state.PeekPending()
	if !ok {
		return model.StageDetectComments
	}
	w.current = &cur
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommentID: logger.Ptr(cur.ID),
		PostID:    logger.Ptr(cur.PostID),
	})

	cfg := w.state.Config()
	var reply string
	err := w.retry.Do(ctx, "generate_reply", func(ctx context.Context) error {
		text, err := w.generator.GenerateReply(ctx, generator.Request{
			CommentText: cur.Text,
			CommentBy:   cur.Username,
			Tone:        cfg.Tone,
			PostCaption: cur.PostCaption,
			PostType:    cur.PostType,
		})
		if err != nil {
			return err
		}
		reply = text
		return nil
	})
	if err != nil {
		res := Resolve(err)
		w.recordStageError(ctx, model.StageGenerateReply, fmt.Sprintf("generating reply: %v", err), &cur.ID, res)
		if res.ShouldStop {
			w.requestStop(ctx, "authentication failure generating reply")
		}
		if res.Action == ActionSkipAndContinue {
			// Drop the head so this pass moves on; the comment stays
			// unmarked and gets another chance next cycle.
			w.state.PopPending()
		}
		if res.defers() {
			w.deferred = true
		}
		return model.StageErrorHandling
	}

	if reply == "" {
		// Soft failure: the generator chose silence. Mark the comment so it
		// is never requeued, post nothing.
		slog.InfoContext(ctx, "generator returned empty reply, skipping comment")
		w.markProcessed(ctx, cur, model.ReplyStatusSkipped, "", nil, nil)
		w.state.PopPending()
		w.recordStageError(ctx, model.StageGenerateReply, "generator returned empty reply", &cur.ID,
			Resolution{Action: ActionSkipAndContinue})
		return model.StageErrorHandling
	}

	w.currentReply = reply
	w.state.AddStats(func(st *model.Stats) { st.RepliesGenerated++ })
	slog.InfoContext(ctx, "reply generated", "reply", logger.Truncate(reply, 120))
	return model.StagePostReply
}

// --- PostReply --------------------------------------------------------------

func (w *Workflow) postReply(ctx context.Context) model.Stage {
	ctx = stageCtx(ctx, model.StagePostReply)

	if w.current == nil {
		return model.StageDetectComments
	}
	cur := *w.current
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		CommentID: logger.Ptr(cur.ID),
		PostID:    logger.Ptr(cur.PostID),
	})

	reply, delivery, err := w.deliverReply(ctx, cur, w.currentReply)
	if err != nil {
		res := resolveDelivery(err)
		w.recordStageError(ctx, model.StagePostReply, fmt.Sprintf("posting reply: %v", err), &cur.ID, res)

		if res.ShouldStop {
			w.requestStop(ctx, "authentication failure posting reply")
			w.deferred = true
			return model.StageErrorHandling
		}
		if res.Action == ActionWaitAndRetry || res.Action == ActionRetryWithBackoff {
			// Preserve the work item: unmarked, still queued, retried on a
			// later cycle.
			w.deferred = true
			return model.StageErrorHandling
		}

		// Terminal for this comment. Mark it so it is never retried
		// indefinitely, then move on to the next one.
		w.markProcessed(ctx, cur, model.ReplyStatusFailed, w.currentReply, nil, nil)
		w.state.PopPending()
		return model.StageErrorHandling
	}

	w.markProcessed(ctx, cur, model.ReplyStatusPosted, w.currentReply, &reply.ID, &delivery)
	w.state.AddStats(func(st *model.Stats) { st.RepliesPosted++ })
	w.appendActivity(ctx, &model.ActivityEntry{
		Type:      model.ActivityReplyPosted,
		CommentID: &cur.ID,
		PostID:    &cur.PostID,
		Message:   fmt.Sprintf("replied to @%s (%s): %s", cur.Username, delivery, logger.Truncate(w.currentReply, 120)),
	})
	w.state.PopPending()
	w.clearCurrent()
	return model.StageDetectComments
}

// deliverReply implements the two-tier posting strategy: public reply first,
// private-message fallback on any public failure. Both failing is reported
// as one combined failure.
func (w *Workflow) deliverReply(ctx context.Context, c model.Comment, text string) (*source.Reply, model.DeliveryType, error) {
	var reply *source.Reply
	pubErr := w.retry.Do(ctx, "reply_to_comment", func(ctx context.Context) error {
		posted, err := w.source.ReplyToComment(ctx, c.ID, text)
		if err != nil {
			return err
		}
		reply = posted
		return nil
	})
	if pubErr == nil {
		return reply, model.DeliveryPublic, nil
	}

	slog.WarnContext(ctx, "public reply failed, attempting private fallback", "error", pubErr)

	private := text
	if len(private) > privateReplyMaxLen {
		// Cut on a rune boundary so a multi-byte character is never split.
		cut := privateReplyMaxLen
		for cut > 0 && !utf8.RuneStart(private[cut]) {
			cut--
		}
		private = private[:cut]
	}
	privErr := w.retry.Do(ctx, "send_private_reply", func(ctx context.Context) error {
		posted, err := w.source.SendPrivateReply(ctx, c.ID, private)
		if err != nil {
			return err
		}
		reply = posted
		return nil
	})
	if privErr == nil {
		return reply, model.DeliveryPrivate, nil
	}

	return nil, "", &deliveryError{public: pubErr, private: privErr}
}

// deliveryError combines the public and private failures of one reply
// attempt.
type deliveryError struct {
	public  error
	private error
}

func (e *deliveryError) Error() string {
	return fmt.Sprintf("public reply failed: %v; private fallback failed: %v", e.public, e.private)
}

// resolveDelivery resolves a combined delivery failure. A credential failure
// on either tier stops automation; otherwise the private failure (the last
// attempt) drives the action.
func resolveDelivery(err error) Resolution {
	de, ok := err.(*deliveryError)
	if !ok {
		return Resolve(err)
	}
	if res := Resolve(de.public); res.ShouldStop {
		return res
	}
	return Resolve(de.private)
}

// --- ErrorHandling ----------------------------------------------------------

// handleError is pure bookkeeping: it folds the most recent error record
// into counters and the activity log. The decision to stop automation was
// already made by the stage that observed the stop-classified error.
func (w *Workflow) handleError(ctx context.Context) model.Stage {
	ctx = stageCtx(ctx, model.StageErrorHandling)

	if rec, ok := w.state.LastError(); ok {
		w.state.AddStats(func(st *model.Stats) { st.ErrorCount++ })
		w.appendActivity(ctx, &model.ActivityEntry{
			Type:      model.ActivityError,
			CommentID: rec.CommentID,
			Message:   fmt.Sprintf("[%s] %s (action=%s)", rec.Stage, rec.Message, rec.Action),
		})
	}

	w.clearCurrent()
	return model.StageDetectComments
}

// --- helpers ----------------------------------------------------------------

func (w *Workflow) markProcessed(ctx context.Context, c model.Comment, status model.ReplyStatus, reply string, replyID *string, delivery *model.DeliveryType) {
	pc := &model.ProcessedComment{
		CommentID: c.ID,
		PostID:    c.PostID,
		Username:  c.Username,
		Text:      c.Text,
		Reply:     reply,
		ReplyID:   replyID,
		Delivery:  delivery,
		Status:    status,
	}
	err := w.retry.Do(ctx, "mark_comment_processed", func(ctx context.Context) error {
		return w.processed.Mark(ctx, pc)
	})
	if err != nil {
		// The in-memory tier still protects this process; after a restart
		// the comment may be handled again (at-least-once contract).
		slog.ErrorContext(ctx, "failed to persist processed marker",
			"error", err, "comment_id", c.ID, "status", string(status))
	}
	w.state.MarkProcessedLocal(c.ID)
}

func (w *Workflow) recordStageError(ctx context.Context, stage model.Stage, message string, commentID *string, res Resolution) {
	w.state.RecordError(model.ErrorRecord{
		Stage:     stage,
		Message:   message,
		CommentID: commentID,
		Timestamp: time.Now().UTC(),
		Action:    string(res.Action),
	})
	slog.ErrorContext(ctx, "stage failure",
		"message", message,
		"action", string(res.Action),
		"should_stop", res.ShouldStop)
}

func (w *Workflow) appendActivity(ctx context.Context, entry *model.ActivityEntry) {
	entry.ID = id.New()
	entry.CreatedAt = time.Now().UTC()
	if err := w.activity.Append(ctx, entry); err != nil {
		slog.WarnContext(ctx, "failed to append activity entry",
			"error", err, "entry_type", string(entry.Type))
	}
}

func (w *Workflow) requestStop(ctx context.Context, reason string) {
	if w.stopper != nil {
		w.stopper.RequestStop(ctx, reason)
	}
}

func (w *Workflow) clearCurrent() {
	w.current = nil
	w.currentReply = ""
}

func stageCtx(ctx context.Context, stage model.Stage) context.Context {
	return logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(string(stage))})
}
