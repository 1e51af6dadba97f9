package engine_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"socialpulse.app/autopilot/internal/engine"
	"socialpulse.app/autopilot/internal/faults"
	"socialpulse.app/autopilot/internal/model"
)

var _ = Describe("Scheduler", func() {
	var (
		ctx        context.Context
		src        *mockSourceClient
		gen        *mockGenerator
		processed  *memProcessedStore
		activity   *memActivityLog
		stateStore *memStateStore
		state      *engine.State
		scheduler  *engine.Scheduler
	)

	BeforeEach(func() {
		ctx = context.Background()
		src = &mockSourceClient{}
		gen = &mockGenerator{}
		processed = newMemProcessedStore()
		activity = &memActivityLog{}
		stateStore = &memStateStore{}

		state = engine.NewState(model.AutomationConfig{
			Tone:                "friendly",
			PollInterval:        time.Minute,
			MonitorAll:          true,
			MaxCommentsPerCycle: 10,
		})
		workflow := engine.NewWorkflow(src, gen, processed, activity,
			engine.NewRetryer(engine.RetryPolicy{MaxRetries: 0}), state)
		scheduler = engine.NewScheduler(workflow, stateStore, activity)
	})

	AfterEach(func() {
		scheduler.Stop(ctx)
	})

	Describe("Start", func() {
		It("runs the first cycle immediately and persists a running snapshot", func() {
			Expect(scheduler.Start(ctx)).To(Succeed())
			Expect(scheduler.Running()).To(BeTrue())

			Eventually(func() *model.AutomationSnapshot {
				return stateStore.saved()
			}).ShouldNot(BeNil())
			Eventually(func() bool {
				return stateStore.saved().Running
			}).Should(BeTrue())

			Expect(activity.byType(model.ActivityAutomationStarted)).To(HaveLen(1))
		})

		It("rejects a second start while running", func() {
			Expect(scheduler.Start(ctx)).To(Succeed())
			Expect(scheduler.Start(ctx)).To(MatchError(engine.ErrAlreadyRunning))
		})
	})

	Describe("Stop", func() {
		It("waits out the in-flight cycle and persists a stopped snapshot", func() {
			Expect(scheduler.Start(ctx)).To(Succeed())
			scheduler.Stop(ctx)

			Expect(scheduler.Running()).To(BeFalse())
			Expect(stateStore.saved().Running).To(BeFalse())
			Expect(activity.byType(model.ActivityAutomationStopped)).To(HaveLen(1))
		})

		It("is a no-op when not running", func() {
			scheduler.Stop(ctx)
			scheduler.Stop(ctx)
			Expect(scheduler.Running()).To(BeFalse())
		})

		It("does not clobber a restart's snapshot with the stop's", func() {
			Expect(scheduler.Start(ctx)).To(Succeed())

			go scheduler.Stop(ctx)
			Eventually(func() error {
				return scheduler.Start(ctx)
			}).Should(Succeed())

			Expect(scheduler.Running()).To(BeTrue())
			Consistently(func() bool {
				return stateStore.saved().Running
			}, "100ms").Should(BeTrue())
		})
	})

	Describe("Tick", func() {
		It("drops a tick while a cycle is in flight", func() {
			release := make(chan struct{})
			entered := make(chan struct{})
			src.getAccountInfoFn = func(_ context.Context) (*model.AccountInfo, error) {
				close(entered)
				<-release
				return &model.AccountInfo{ID: "acct-1", Username: "ourbrand"}, nil
			}

			done := make(chan bool, 1)
			go func() {
				done <- scheduler.Tick(ctx)
			}()
			Eventually(entered).Should(BeClosed())

			Expect(scheduler.Status().IsProcessing).To(BeTrue())
			Expect(scheduler.Tick(ctx)).To(BeFalse())

			close(release)
			Eventually(done).Should(Receive(BeTrue()))
			Expect(scheduler.Status().IsProcessing).To(BeFalse())
		})
	})

	Describe("Status", func() {
		It("reports the live queue and processed gauges", func() {
			src.getAccountPostsFn = func(_ context.Context, _ int) ([]model.Post, error) {
				return []model.Post{{ID: "post-1", Caption: "launch"}}, nil
			}
			src.getRecentCommentsFn = func(_ context.Context, _ string) ([]model.Comment, error) {
				return []model.Comment{{ID: "c1", PostID: "post-1", Username: "fan", Text: "love it"}}, nil
			}

			before := scheduler.Status()
			Expect(before.PendingCount).To(BeZero())
			Expect(before.ProcessedCount).To(BeZero())
			Expect(before.IsProcessing).To(BeFalse())

			Expect(scheduler.Tick(ctx)).To(BeTrue())

			after := scheduler.Status()
			Expect(after.PendingCount).To(BeZero())
			Expect(after.ProcessedCount).To(Equal(1))
			Expect(after.IsProcessing).To(BeFalse())
		})
	})

	Describe("UpdateConfig", func() {
		It("applies partial changes and persists them", func() {
			cfg := scheduler.UpdateConfig(ctx, func(cfg *model.AutomationConfig) {
				cfg.Tone = "witty"
			})
			Expect(cfg.Tone).To(Equal("witty"))
			Expect(cfg.PollInterval).To(Equal(time.Minute))
			Expect(stateStore.saved().Config.Tone).To(Equal("witty"))
		})

		It("clamps the poll interval to the floor", func() {
			cfg := scheduler.UpdateConfig(ctx, func(cfg *model.AutomationConfig) {
				cfg.PollInterval = time.Second
			})
			Expect(cfg.PollInterval).To(Equal(5 * time.Second))
		})
	})

	Describe("ResetStats", func() {
		It("zeroes the counters and persists", func() {
			state.AddStats(func(st *model.Stats) { st.RepliesPosted = 7 })
			scheduler.ResetStats(ctx)

			Expect(scheduler.Status().Stats).To(Equal(model.Stats{}))
			Expect(stateStore.saved().Stats).To(Equal(model.Stats{}))
		})
	})

	Describe("RestoreState", func() {
		It("treats a missing snapshot as a fresh install", func() {
			Expect(scheduler.RestoreState(ctx)).To(Succeed())
			Expect(scheduler.Running()).To(BeFalse())
		})

		It("restores counters without resuming when last stopped", func() {
			last := time.Now().Add(-time.Hour).UTC()
			Expect(stateStore.Save(ctx, &model.AutomationSnapshot{
				Running:       false,
				LastCheckTime: &last,
				Stats:         model.Stats{RepliesPosted: 42},
				Config:        state.Config(),
			})).To(Succeed())

			Expect(scheduler.RestoreState(ctx)).To(Succeed())
			Expect(scheduler.Running()).To(BeFalse())
			Expect(scheduler.Status().Stats.RepliesPosted).To(Equal(int64(42)))
		})

		It("resumes the poll loop when last running", func() {
			Expect(stateStore.Save(ctx, &model.AutomationSnapshot{
				Running: true,
				Config:  state.Config(),
			})).To(Succeed())

			Expect(scheduler.RestoreState(ctx)).To(Succeed())
			Expect(scheduler.Running()).To(BeTrue())
		})
	})

	Describe("fatal failures", func() {
		It("stops the loop when a cycle hits an authentication failure", func() {
			src.getAccountInfoFn = func(_ context.Context) (*model.AccountInfo, error) {
				return nil, faults.Authentication("token expired")
			}

			Expect(scheduler.Start(ctx)).To(Succeed())

			Eventually(scheduler.Running).Should(BeFalse())
			Eventually(func() []model.ActivityEntry {
				return activity.byType(model.ActivityAutomationStopped)
			}).Should(HaveLen(1))
			Expect(stateStore.saved().Running).To(BeFalse())
		})
	})
})
