// Command admin runs the one-shot operator scripts
// (backfill, reembed, reassign) and, in "serve" mode, the HTTP admin
// surface plus the dead-letter notification watcher.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/admin"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/adminapi"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/notify"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
	goredis "github.com/redis/go-redis/v9"
	"github.com/jmoiron/sqlx"
)

func main() {
	configPath := flag.String("config", "/etc/trailcam/config.yaml", "path to pipeline config")
	addr := flag.String("admin-addr", ":8082", "address for the health/metrics HTTP surface (serve mode only)")
	reembedVersion := flag.String("version", "", "target embedding_version for the reembed command")
	flag.Parse()

	command := flag.Arg(0)
	if command == "" {
		logrus.Fatal("admin: a command is required: serve | backfill | reembed | reassign")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("admin: load config")
	}
	logger := logging.NewLogger(cfg.LogLevel)

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("admin: open database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("admin: migrate")
	}

	pq := queue.NewPostgresQueue(db, cfg.MaxRetries)
	registry := inference.NewRegistry(inference.NewHTTPEngineLoader(cfg.InferenceBaseURL, cfg.InferenceTimeout(), inference.OAuth2Config{
		ClientID:     cfg.InferenceAuth.ClientID,
		ClientSecret: cfg.InferenceAuth.ClientSecret,
		TokenURL:     cfg.InferenceAuth.TokenURL,
		Scopes:       cfg.InferenceAuth.Scopes,
	}))

	jobs := &admin.Jobs{
		Images:     database.NewImageRepository(db),
		Detections: database.NewDetectionRepository(db),
		Deer:       database.NewDeerRepository(db),
		Queue:      pq,
		Engine:     registry,
		Logger:     logger,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch command {
	case "backfill":
		n, err := jobs.Backfill(ctx)
		exitJob(logger, "backfill", n, err)
	case "reassign":
		n, err := jobs.Reassign(ctx)
		exitJob(logger, "reassign", n, err)
	case "reembed":
		if *reembedVersion == "" {
			logger.Fatal("admin: reembed requires -version")
		}
		n, err := jobs.Reembed(ctx, *reembedVersion)
		exitJob(logger, "reembed", n, err)
	case "serve":
		serve(ctx, cfg, db, pq, jobs, logger, *addr)
	default:
		logger.WithField("command", command).Fatal("admin: unknown command")
	}
}

func exitJob(logger *logrus.Logger, name string, n int, err error) {
	if err != nil {
		logger.WithError(err).WithField("job", name).Fatal("admin job failed")
	}
	logger.WithField("job", name).WithField("processed", n).Info("admin job complete")
}

func serve(ctx context.Context, cfg *config.PipelineConfig, db *sqlx.DB, pq *queue.PostgresQueue, jobs *admin.Jobs, logger *logrus.Logger, addr string) {
	live := config.NewLiveConfig(cfg)

	if cfg.Slack.BotToken != "" {
		redisClient := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		n := notify.New(cfg.Slack.BotToken, cfg.Slack.Channel, redisClient, cfg.Slack.Throttle())
		watcher := &admin.DeadLetterWatcher{
			Lister:     pq,
			Notifier:   n,
			QueueNames: []string{queue.Detect, queue.ReID},
			Logger:     logger,
		}
		go watcher.Run(ctx, 30*time.Second)
	} else {
		logger.Info("admin: slack bot token not configured, dead-letter notifications disabled")
	}

	srv := &adminapi.Server{DB: db, Config: live, Jobs: jobs, Logger: logger}
	server := &http.Server{Addr: addr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("admin HTTP surface starting")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("admin: HTTP surface failed")
	}
}
