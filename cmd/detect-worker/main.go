// Command detect-worker runs the Detection Worker's dispatch loop: it
// claims pending images off the detect queue, runs them through the
// inference engine, persists detections, and hands off deer-class
// survivors to the reid queue.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/admin"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/adminapi"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/database"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/inference"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/metrics"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/pipeline/detect"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/queue"
)

func metricsOnBreakerStateChange(name string, from, to gobreaker.State) {
	metrics.OnBreakerStateChange(name, from, to)
}

func serveAdmin(addr string, srv *adminapi.Server, logger *logrus.Logger) {
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		logger.WithError(err).Warn("admin HTTP surface stopped")
	}
}

func main() {
	configPath := flag.String("config", "/etc/trailcam/config.yaml", "path to pipeline config")
	adminAddr := flag.String("admin-addr", ":8080", "address for the health/metrics HTTP surface")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("detect-worker: load config")
	}
	logger := logging.NewLogger(cfg.LogLevel)
	live := config.NewLiveConfig(cfg)

	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("detect-worker: open database")
	}
	defer db.Close()
	if err := database.Migrate(db); err != nil {
		logger.WithError(err).Fatal("detect-worker: migrate")
	}

	images := database.NewImageRepository(db)
	detections := database.NewDetectionRepository(db)
	deer := database.NewDeerRepository(db)

	pq := queue.NewPostgresQueue(db, cfg.MaxRetries)

	registry := inference.NewRegistry(inference.NewHTTPEngineLoader(cfg.InferenceBaseURL, cfg.InferenceTimeout(), inference.OAuth2Config{
		ClientID:     cfg.InferenceAuth.ClientID,
		ClientSecret: cfg.InferenceAuth.ClientSecret,
		TokenURL:     cfg.InferenceAuth.TokenURL,
		Scopes:       cfg.InferenceAuth.Scopes,
	}))
	baseEngine, err := registry.Get(cfg.EmbeddingVersion)
	if err != nil {
		logger.WithError(err).Fatal("detect-worker: load inference engine")
	}
	engine := inference.NewBreakerEngine(baseEngine, inference.BreakerConfig{
		ConsecutiveFailures: uint32(cfg.BreakerFailThreshold),
		OpenTimeout:         cfg.BreakerOpenTimeout(),
		OnStateChange:       metricsOnBreakerStateChange,
	})

	worker := &detect.Worker{
		Images:            images,
		Detections:        detections,
		DB:                db,
		Engine:            engine,
		ReIDQueue:         pq,
		Logger:            logger,
		ConfidenceFloor:   cfg.DetectorConfidence,
		IoUDedupThreshold: cfg.IoUDedupThreshold,
		RecordNonDeer:     cfg.RecordNonDeer,
	}

	wake, err := queue.ListenForWake(database.DSN(cfg.Database), queue.Detect, logger)
	if err != nil {
		logger.WithError(err).Warn("detect-worker: LISTEN/NOTIFY unavailable, falling back to pure polling")
		wake = nil
	} else {
		defer wake.Close()
	}

	dispatcher := &queue.Dispatcher{
		Queue:             pq,
		QueueName:         queue.Detect,
		Concurrency:       cfg.DetectConcurrency,
		VisibilityTimeout: cfg.DetectDeadline() * 2,
		ItemDeadline:      cfg.DetectDeadline(),
		Handler:           worker.Handle,
		Logger:            logger,
		Wake:              wake,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		done := make(chan struct{})
		go func() { <-ctx.Done(); close(done) }()
		if err := config.Watch(*configPath, live, logger, done); err != nil {
			logger.WithError(err).Warn("detect-worker: config watcher stopped")
		}
	}()

	jobs := &admin.Jobs{Images: images, Detections: detections, Deer: deer, Queue: pq, Engine: registry, Logger: logger}
	adminSrv := &adminapi.Server{DB: db, Config: live, Jobs: jobs, Logger: logger}
	go serveAdmin(*adminAddr, adminSrv, logger)

	logger.WithField("concurrency", cfg.DetectConcurrency).Info("detect-worker starting")
	dispatcher.Run(ctx)
	logger.Info("detect-worker stopped")
}
