package engine_test

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"socialpulse.app/autopilot/internal/engine"
	"socialpulse.app/autopilot/internal/faults"
	"socialpulse.app/autopilot/internal/generator"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/source"
)

type mockStopper struct {
	calls  int
	reason string
}

func (m *mockStopper) RequestStop(_ context.Context, reason string) {
	m.calls++
	m.reason = reason
}

var _ = Describe("Workflow", func() {
	var (
		ctx       context.Context
		src       *mockSourceClient
		gen       *mockGenerator
		processed *memProcessedStore
		activity  *memActivityLog
		state     *engine.State
		stopper   *mockStopper
		workflow  *engine.Workflow
	)

	newComment := func(id, postID, username, text string) model.Comment {
		return model.Comment{
			ID:        id,
			PostID:    postID,
			Username:  username,
			UserID:    "user-" + username,
			Text:      text,
			Timestamp: time.Now().Add(-time.Minute),
		}
	}

	singlePost := func(comments ...model.Comment) {
		src.getAccountPostsFn = func(_ context.Context, _ int) ([]model.Post, error) {
			return []model.Post{{ID: "p1", Caption: "sunset drop", MediaType: model.PostTypeImage}}, nil
		}
		src.getRecentCommentsFn = func(_ context.Context, _ string) ([]model.Comment, error) {
			return comments, nil
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		src = &mockSourceClient{}
		gen = &mockGenerator{}
		processed = newMemProcessedStore()
		activity = &memActivityLog{}
		stopper = &mockStopper{}

		state = engine.NewState(model.AutomationConfig{
			Tone:                "friendly",
			PollInterval:        time.Minute,
			MonitorAll:          true,
			MaxCommentsPerCycle: 10,
		})
		workflow = engine.NewWorkflow(src, gen, processed, activity,
			engine.NewRetryer(engine.RetryPolicy{MaxRetries: 0}), state)
		workflow.SetStopper(stopper)
	})

	Describe("a full cycle", func() {
		It("detects, generates, and posts replies for new comments", func() {
			singlePost(
				newComment("c1", "p1", "alice", "love this!"),
				newComment("c2", "p1", "bob", "where can I buy?"),
			)

			workflow.RunCycle(ctx)

			stats := state.Stats()
			Expect(stats.CommentsDetected).To(Equal(int64(2)))
			Expect(stats.RepliesGenerated).To(Equal(int64(2)))
			Expect(stats.RepliesPosted).To(Equal(int64(2)))
			Expect(stats.ErrorCount).To(BeZero())

			Expect(src.replyCalls).To(Equal(2))
			Expect(src.privateReplyCalls).To(BeZero())

			pc := processed.get("c1")
			Expect(pc).NotTo(BeNil())
			Expect(pc.Status).To(Equal(model.ReplyStatusPosted))
			Expect(pc.Delivery).To(HaveValue(Equal(model.DeliveryPublic)))
			Expect(pc.ReplyID).To(HaveValue(Equal("reply-c1")))

			Expect(activity.byType(model.ActivityCommentDetected)).To(HaveLen(2))
			Expect(activity.byType(model.ActivityReplyPosted)).To(HaveLen(2))
			Expect(state.LastCheckTime()).NotTo(BeNil())
		})

		It("never replies to the account's own comments", func() {
			singlePost(
				model.Comment{ID: "c1", PostID: "p1", Username: "ourbrand", UserID: "acct-1", Text: "thanks all!"},
				newComment("c2", "p1", "alice", "great post"),
			)

			workflow.RunCycle(ctx)

			Expect(state.Stats().CommentsDetected).To(Equal(int64(1)))
			Expect(processed.get("c1")).To(BeNil())
			Expect(processed.get("c2")).NotTo(BeNil())
		})

		It("replies to each comment at most once across cycles", func() {
			singlePost(
				newComment("c1", "p1", "alice", "love this!"),
				newComment("c2", "p1", "bob", "me too"),
			)

			workflow.RunCycle(ctx)
			workflow.RunCycle(ctx)

			Expect(src.replyCalls).To(Equal(2))
			Expect(gen.calls).To(Equal(2))
			Expect(state.Stats().RepliesPosted).To(Equal(int64(2)))
		})

		It("skips comments already marked in the durable store", func() {
			singlePost(newComment("c1", "p1", "alice", "hello"))
			Expect(processed.Mark(ctx, &model.ProcessedComment{
				CommentID: "c1", PostID: "p1", Status: model.ReplyStatusPosted,
			})).To(Succeed())

			workflow.RunCycle(ctx)

			Expect(gen.calls).To(BeZero())
			Expect(src.replyCalls).To(BeZero())
			Expect(state.Stats().CommentsDetected).To(BeZero())
		})

		It("only checks selected posts when not monitoring all", func() {
			state.UpdateConfig(func(cfg *model.AutomationConfig) {
				cfg.MonitorAll = false
				cfg.SelectedPostIDs = []string{"p2"}
			})
			src.getAccountPostsFn = func(_ context.Context, _ int) ([]model.Post, error) {
				return []model.Post{{ID: "p1"}, {ID: "p2"}, {ID: "p3"}}, nil
			}
			var checked []string
			src.getRecentCommentsFn = func(_ context.Context, postID string) ([]model.Comment, error) {
				checked = append(checked, postID)
				return nil, nil
			}

			workflow.RunCycle(ctx)

			Expect(checked).To(Equal([]string{"p2"}))
		})

		It("bounds a cycle to the configured comment budget", func() {
			state.UpdateConfig(func(cfg *model.AutomationConfig) { cfg.MaxCommentsPerCycle = 2 })
			singlePost(
				newComment("c1", "p1", "alice", "one"),
				newComment("c2", "p1", "bob", "two"),
				newComment("c3", "p1", "carol", "three"),
			)

			workflow.RunCycle(ctx)
			Expect(state.Stats().RepliesPosted).To(Equal(int64(2)))
			Expect(processed.get("c3")).To(BeNil())

			// The overflow comment is picked up on the next cycle.
			workflow.RunCycle(ctx)
			Expect(state.Stats().RepliesPosted).To(Equal(int64(3)))
			Expect(processed.get("c3")).NotTo(BeNil())
		})

		It("continues with the remaining posts when one comment fetch fails", func() {
			src.getAccountPostsFn = func(_ context.Context, _ int) ([]model.Post, error) {
				return []model.Post{{ID: "p1"}, {ID: "p2"}}, nil
			}
			src.getRecentCommentsFn = func(_ context.Context, postID string) ([]model.Comment, error) {
				if postID == "p1" {
					return nil, faults.Transient("upstream hiccup", nil)
				}
				return []model.Comment{newComment("c2", "p2", "bob", "nice")}, nil
			}

			workflow.RunCycle(ctx)

			Expect(state.Stats().RepliesPosted).To(Equal(int64(1)))
			Expect(processed.get("c2")).NotTo(BeNil())
		})
	})

	Describe("reply generation failures", func() {
		It("marks the comment skipped when the generator declines to reply", func() {
			singlePost(newComment("c1", "p1", "spammer", "BUY FOLLOWERS NOW"))
			gen.generateFn = func(_ context.Context, _ generator.Request) (string, error) {
				return "", nil
			}

			workflow.RunCycle(ctx)

			pc := processed.get("c1")
			Expect(pc).NotTo(BeNil())
			Expect(pc.Status).To(Equal(model.ReplyStatusSkipped))
			Expect(src.replyCalls).To(BeZero())
			Expect(state.Stats().RepliesPosted).To(BeZero())
			Expect(state.Stats().RepliesGenerated).To(BeZero())
		})

		It("leaves the comment unmarked on a permanent generation failure", func() {
			singlePost(newComment("c1", "p1", "alice", "hello"))
			gen.generateFn = func(_ context.Context, _ generator.Request) (string, error) {
				return "", faults.Permanent("prompt rejected")
			}

			workflow.RunCycle(ctx)

			Expect(processed.get("c1")).To(BeNil())
			Expect(src.replyCalls).To(BeZero())
			Expect(state.Stats().ErrorCount).To(Equal(int64(1)))
		})

		It("defers the cycle on a transient generation failure", func() {
			singlePost(newComment("c1", "p1", "alice", "hello"))
			gen.generateFn = func(_ context.Context, _ generator.Request) (string, error) {
				return "", faults.Transient("model overloaded", nil)
			}

			workflow.RunCycle(ctx)

			Expect(processed.get("c1")).To(BeNil())
			Expect(state.PendingCount()).To(Equal(1))
			Expect(state.Stats().ErrorCount).To(Equal(int64(1)))
		})
	})

	Describe("posting failures", func() {
		BeforeEach(func() {
			singlePost(newComment("c1", "p1", "alice", "hello"))
		})

		It("falls back to a private reply when the public reply fails", func() {
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("comments disabled on this post")
			}

			workflow.RunCycle(ctx)

			pc := processed.get("c1")
			Expect(pc).NotTo(BeNil())
			Expect(pc.Status).To(Equal(model.ReplyStatusPosted))
			Expect(pc.Delivery).To(HaveValue(Equal(model.DeliveryPrivate)))
			Expect(pc.ReplyID).To(HaveValue(Equal("dm-c1")))
			Expect(state.Stats().RepliesPosted).To(Equal(int64(1)))
		})

		It("truncates the private fallback message", func() {
			long := strings.Repeat("x", 1500)
			gen.generateFn = func(_ context.Context, _ generator.Request) (string, error) {
				return long, nil
			}
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("comments disabled")
			}
			var sent string
			src.sendPrivateReplyFn = func(_ context.Context, _, text string) (*source.Reply, error) {
				sent = text
				return &source.Reply{ID: "dm-c1"}, nil
			}

			workflow.RunCycle(ctx)

			Expect(sent).To(HaveLen(1000))
		})

		It("truncates the private fallback on a rune boundary", func() {
			// Three bytes per rune, so the 1000-byte limit lands mid-rune.
			long := strings.Repeat("語", 400)
			gen.generateFn = func(_ context.Context, _ generator.Request) (string, error) {
				return long, nil
			}
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("comments disabled")
			}
			var sent string
			src.sendPrivateReplyFn = func(_ context.Context, _, text string) (*source.Reply, error) {
				sent = text
				return &source.Reply{ID: "dm-c1"}, nil
			}

			workflow.RunCycle(ctx)

			Expect(utf8.ValidString(sent)).To(BeTrue())
			Expect(sent).To(HaveLen(999))
		})

		It("marks the comment failed when both delivery tiers fail permanently", func() {
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("comments disabled")
			}
			src.sendPrivateReplyFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("user does not accept messages")
			}

			workflow.RunCycle(ctx)

			pc := processed.get("c1")
			Expect(pc).NotTo(BeNil())
			Expect(pc.Status).To(Equal(model.ReplyStatusFailed))
			Expect(state.Stats().RepliesPosted).To(BeZero())
			Expect(state.Stats().ErrorCount).To(Equal(int64(1)))
		})

		It("preserves the comment for a later cycle when rate limited", func() {
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.RateLimited("slow down", nil)
			}
			src.sendPrivateReplyFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.RateLimited("slow down", nil)
			}

			workflow.RunCycle(ctx)

			Expect(processed.get("c1")).To(BeNil())
			Expect(state.PendingCount()).To(Equal(1))
			Expect(stopper.calls).To(BeZero())
		})

		It("stops automation on an authentication failure", func() {
			src.replyToCommentFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Authentication("token expired")
			}
			src.sendPrivateReplyFn = func(_ context.Context, _, _ string) (*source.Reply, error) {
				return nil, faults.Permanent("nope")
			}

			workflow.RunCycle(ctx)

			Expect(stopper.calls).To(Equal(1))
			Expect(processed.get("c1")).To(BeNil())
		})
	})

	Describe("detection failures", func() {
		It("stops automation when the credential is rejected up front", func() {
			src.getAccountInfoFn = func(_ context.Context) (*model.AccountInfo, error) {
				return nil, faults.Authentication("token expired")
			}

			workflow.RunCycle(ctx)

			Expect(stopper.calls).To(Equal(1))
			Expect(gen.calls).To(BeZero())
			Expect(state.Stats().ErrorCount).To(Equal(int64(1)))
		})

		It("ends the cycle when the post listing fails", func() {
			src.getAccountPostsFn = func(_ context.Context, _ int) ([]model.Post, error) {
				return nil, faults.Transient("gateway timeout", nil)
			}

			workflow.RunCycle(ctx)

			Expect(gen.calls).To(BeZero())
			Expect(stopper.calls).To(BeZero())
			Expect(state.Stats().ErrorCount).To(Equal(int64(1)))
		})
	})
})
