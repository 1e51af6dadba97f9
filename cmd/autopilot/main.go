package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"socialpulse.app/autopilot/common/id"
	"socialpulse.app/autopilot/common/logger"
	"socialpulse.app/autopilot/common/otel"
	"socialpulse.app/autopilot/core/config"
	"socialpulse.app/autopilot/core/db"
	"socialpulse.app/autopilot/internal/engine"
	"socialpulse.app/autopilot/internal/generator"
	"socialpulse.app/autopilot/internal/http/middleware"
	httprouter "socialpulse.app/autopilot/internal/http/router"
	"socialpulse.app/autopilot/internal/model"
	"socialpulse.app/autopilot/internal/queue"
	"socialpulse.app/autopilot/internal/source"
	"socialpulse.app/autopilot/internal/store"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		// Can't use slog yet — OTel failed before logger setup
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "autopilot starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	database, err := db.New(ctx, cfg.DB)
	if err != nil {
		slog.ErrorContext(ctx, "failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close()
	slog.InfoContext(ctx, "database connected")

	stores, err := store.New(ctx, database.Pool(), cfg.Instagram.AccountID)
	if err != nil {
		slog.ErrorContext(ctx, "failed to initialize stores", "error", err)
		os.Exit(1)
	}

	var redisClient *redis.Client
	activityLog := stores.ActivityLog()
	if cfg.Redis.Enabled() {
		redisOpts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(redisOpts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.ErrorContext(ctx, "failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.InfoContext(ctx, "redis connected", "stream", cfg.Redis.ActivityStream)

		publisher := queue.NewRedisPublisher(redisClient, cfg.Redis.ActivityStream)
		activityLog = queue.NewPublishingActivityLog(activityLog, publisher)
	}

	igClient, err := source.NewInstagramClient(source.Config{
		AccessToken: cfg.Instagram.AccessToken,
		BaseURL:     cfg.Instagram.BaseURL,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create instagram client", "error", err)
		os.Exit(1)
	}

	replyGen, err := generator.NewOpenAI(generator.Config{
		APIKey:    cfg.ReplyLLM.APIKey,
		BaseURL:   cfg.ReplyLLM.BaseURL,
		Model:     cfg.ReplyLLM.Model,
		MaxTokens: cfg.ReplyLLM.MaxTokens,
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to create reply generator", "error", err)
		os.Exit(1)
	}

	state := engine.NewState(model.AutomationConfig{
		Tone:                cfg.Automation.Tone,
		PollInterval:        cfg.Automation.PollInterval,
		MonitorAll:          cfg.Automation.MonitorAll,
		SelectedPostIDs:     cfg.Automation.SelectedPostIDs,
		MaxCommentsPerCycle: cfg.Automation.MaxCommentsPerCycle,
	})
	workflow := engine.NewWorkflow(
		igClient,
		replyGen,
		stores.ProcessedComments(),
		activityLog,
		engine.NewRetryer(engine.DefaultRetryPolicy()),
		state,
	)
	scheduler := engine.NewScheduler(workflow, stores.AutomationState(), activityLog)

	// Resume the poll loop if the process went down while running.
	if err := scheduler.RestoreState(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to restore automation state", "error", err)
		os.Exit(1)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, scheduler, stores, redisClient)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the poll loop first so an in-flight cycle finishes and the final
	// snapshot lands before connections close.
	scheduler.Stop(shutdownCtx)

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			slog.ErrorContext(shutdownCtx, "redis close error", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func setupRouter(cfg config.Config, scheduler *engine.Scheduler, stores *store.Stores, redisClient *redis.Client) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	httprouter.SetupRoutes(router, scheduler, stores, redisClient, httprouter.RouterConfig{
		AdminAPIKey:    cfg.AdminAPIKey,
		ActivityStream: cfg.Redis.ActivityStream,
	})

	return router
}

const banner = `
 █████╗ ██╗   ██╗████████╗ ██████╗ ██████╗ ██╗██╗      ██████╗ ████████╗
██╔══██╗██║   ██║╚══██╔══╝██╔═══██╗██╔══██╗██║██║     ██╔═══██╗╚══██╔══╝
███████║██║   ██║   ██║   ██║   ██║██████╔╝██║██║     ██║   ██║   ██║
██╔══██║██║   ██║   ██║   ██║   ██║██╔═══╝ ██║██║     ██║   ██║   ██║
██║  ██║╚██████╔╝   ██║   ╚██████╔╝██║     ██║███████╗╚██████╔╝   ██║
╚═╝  ╚═╝ ╚═════╝    ╚═╝    ╚═════╝ ╚═╝     ╚═╝╚══════╝ ╚═════╝    ╚═╝
`
