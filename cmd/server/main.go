package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"payproof/internal/audit"
	"payproof/internal/event"
	"payproof/internal/extraction"
	"payproof/internal/extraction/ocr"
	"payproof/internal/extraction/vision"
	"payproof/internal/matching"
	"payproof/internal/obligation"
	"payproof/internal/platform/config"
	"payproof/internal/platform/httpserver"
	"payproof/internal/platform/logger"
	platformredis "payproof/internal/platform/redis"
	httptransport "payproof/internal/transport/http"
	"payproof/internal/verification"
	"payproof/internal/verification/handler"
)

// main wires the dependency graph from configuration and owns the process
// lifecycle. Pipeline logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	ctx := context.Background()

	checks := map[string]httptransport.HealthChecker{}

	// Relational stores, or in-memory for single-node runs without Postgres.
	var (
		db          *sql.DB
		submissions verification.SubmissionStore
		decisions   verification.DecisionStore
		obligations obligation.Store
		auditStore  audit.Store
		txRunner    verification.TxRunner
	)
	if cfg.Postgres.DSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Postgres.DSN)
		if err != nil {
			log.Error("open postgres", "error", err)
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			log.Error("ping postgres", "error", err)
			os.Exit(1)
		}
		submissions = verification.NewPostgresSubmissionStore(db)
		decisions = verification.NewPostgresDecisionStore(db)
		obligations = obligation.NewPostgresStore(db)
		auditStore = audit.NewPostgresStore(db)
		txRunner = verification.NewPostgresTxRunner(db)
		checks["postgres"] = pingChecker{db}
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		submissions = verification.NewMemorySubmissionStore()
		decisions = verification.NewMemoryDecisionStore()
		obligations = obligation.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		txRunner = verification.NopTxRunner{}
	}

	// Redis-backed coordination when configured, in-process otherwise.
	var (
		leaser verification.Leaser      = verification.NewMemoryLeaser()
		dedupe verification.DedupeIndex = verification.NewMemoryDedupeIndex()
		images verification.ImageStore  = verification.NewMemoryImageStore()
	)
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("connect redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		leaser = verification.NewRedisLeaser(redisClient.Client)
		dedupe = verification.NewRedisDedupeIndex(redisClient.Client)
		images = verification.NewRedisImageStore(redisClient.Client, 24*time.Hour)
		checks["redis"] = redisClient
	}

	var events event.Publisher = event.NopPublisher{}
	var kafkaPub *event.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaPub, err = event.NewKafkaPublisher(cfg.Kafka, log)
		if err != nil {
			log.Error("connect kafka", "error", err)
			os.Exit(1)
		}
		events = kafkaPub
	}

	var text extraction.TextExtractor = ocr.New(cfg.OCR, log)
	if cfg.OCR.APIKey == "" {
		log.Warn("no OCR API key configured, text extraction disabled")
		text = extraction.Disabled{Backend: "ocr"}
	}

	var structured extraction.StructuredExtractor = extraction.Disabled{Backend: "vision"}
	var visionClient *vision.Client
	if cfg.Vision.APIKey != "" {
		visionClient, err = vision.New(ctx, cfg.Vision, log)
		if err != nil {
			log.Error("init vision client", "error", err)
			os.Exit(1)
		}
		structured = visionClient
	} else {
		log.Warn("no Gemini API key configured, structured extraction disabled")
	}

	svc := verification.NewService(verification.Deps{
		Submissions: submissions,
		Decisions:   decisions,
		Obligations: obligations,
		Tx:          txRunner,
		Text:        text,
		Structured:  structured,
		Normalizer:  extraction.NewNormalizer(),
		Retriever:   matching.NewRetriever(obligations),
		Scorer:      matching.NewScorer(matching.DefaultScorerConfig()),
		Thresholds: verification.Thresholds{
			AutoApprove:       cfg.Decision.AutoApproveScore,
			Review:            cfg.Decision.ReviewScore,
			MinSeparation:     cfg.Decision.MinSeparation,
			RejectBelowReview: cfg.Decision.RejectBelowReview,
		},
		Images:        images,
		Dedupe:        dedupe,
		Audit:         audit.NewPublisher(auditStore),
		Events:        events,
		MaxImageBytes: cfg.Pipeline.MaxImageBytes,
		Logger:        log,
	})

	pool := verification.NewPool(verification.PoolConfig{
		Workers:           cfg.Pipeline.Workers,
		QueueSize:         cfg.Pipeline.QueueSize,
		SubmissionTimeout: cfg.Pipeline.SubmissionTimeout,
		LeaseTTL:          cfg.Pipeline.LeaseTTL,
		RequeueBackoff:    cfg.Pipeline.RequeueBackoff,
	}, svc, leaser, log)
	svc.AttachQueue(pool)

	poolCtx, stopPool := context.WithCancel(ctx)
	pool.Start(poolCtx)

	router := httptransport.NewRouter(httptransport.Deps{
		Verification: handler.New(svc, log, cfg.Pipeline.MaxImageBytes),
		Logger:       log,
		Checks:       checks,
	})
	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("starting payproof server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	stopPool()
	pool.Shutdown()

	if kafkaPub != nil {
		kafkaPub.Close()
	}
	if visionClient != nil {
		_ = visionClient.Close()
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}

// pingChecker adapts *sql.DB to the health check interface.
type pingChecker struct {
	db *sql.DB
}

func (p pingChecker) Health(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
