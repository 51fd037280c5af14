package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/match-service/internal/cfg"
	v1Http "github.com/DRSN-tech/match-service/internal/delivery/v1/http"
	"github.com/DRSN-tech/match-service/internal/infrastructure/kafka"
	"github.com/DRSN-tech/match-service/internal/matching"
	"github.com/DRSN-tech/match-service/internal/progress"
	s3Repo "github.com/DRSN-tech/match-service/internal/repository/minio"
	"github.com/DRSN-tech/match-service/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/match-service/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/match-service/internal/repository/qdrant"
	"github.com/DRSN-tech/match-service/internal/repository/redis"
	"github.com/DRSN-tech/match-service/internal/usecase"
	"github.com/DRSN-tech/match-service/pkg/clients"
	"github.com/DRSN-tech/match-service/pkg/closer"
	"github.com/DRSN-tech/match-service/pkg/e"
	"github.com/DRSN-tech/match-service/pkg/logger"
	"github.com/DRSN-tech/match-service/pkg/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

// App связывает конфигурацию, хранилища, движок сопоставления и транспорт.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	closer *closer.Closer

	httpSrv      *v1Http.Server
	consumer     *kafka.Consumer
	outboxWorker *kafka.OutboxWorker
}

func NewApp(cfg *config.Config, logger logger.Logger) (*App, error) {
	cl := closer.NewCloser(5 * time.Second)

	db, err := initPGDB(logger, cfg)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(_ context.Context) error {
		db.Close()
		return nil
	})

	matchRepo := pgdb.NewMatchRepo(db.Pool, pgdbConv.NewMatchConverter())
	assetRepo := pgdb.NewAssetRepo(db.Pool, pgdbConv.NewAssetConverter())
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.NewOutboxEventConverter())

	minioClient, err := clients.NewMinIOClient(cfg)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minioCtx, minioCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clients.EnsureBucket(minioCtx, minioClient, cfg.Minio.BucketName); err != nil {
		minioCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	minioCancel()

	descriptorRepo := s3Repo.NewDescriptorRepo(minioClient, cfg.Minio)

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(_ context.Context) error {
		return qdrantClient.Client.Close()
	})

	qdrantCtx, qdrantCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := clients.EnsureCollection(qdrantCtx, qdrantClient); err != nil {
		qdrantCancel()
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	qdrantCancel()

	frameSearchRepo := qdrantRepo.NewFrameSearchRepo(qdrantClient.Client, cfg.Qdrant)

	redisClient := clients.NewRedisClient(cfg.Redis)
	redisCtx, redisCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer redisCancel()
	if err := redisClient.Ping(redisCtx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(_ context.Context) error {
		return redisClient.Client.Close()
	})
	cacheRepo := redis.NewCacheRepo(redisClient, cfg.Redis, logger)

	weights := matching.Weights{
		Embedding:  cfg.Matching.EmbeddingWeight,
		Keypoint:   cfg.Matching.KeypointWeight,
		Structural: cfg.Matching.StructuralWeight,
	}
	if err := weights.Validate(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	verifier := matching.NewAffineVerifier(matching.DefaultVerifierParams())
	scorer := matching.NewScorer(verifier, weights, cfg.Matching.InliersMin, logger)
	aggregator := matching.NewAggregator(matching.Thresholds{
		MinPairScore: cfg.Matching.MinPairScore,
		BestMin:      cfg.Matching.BestMin,
		ConsMinScore: cfg.Matching.ConsMinScore,
		ConsMin:      cfg.Matching.ConsMin,
		SingleMin:    cfg.Matching.SingleMin,
	})
	retriever := matching.NewRetriever(frameSearchRepo, cfg.Matching.RetrieveTimeout, logger)

	producer, err := kafka.NewProducer(logger, cfg.Kafka)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(_ context.Context) error {
		return producer.Close()
	})

	if err := producer.EnsureTopic(10 * time.Second); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	tracker := progress.NewTracker()
	publisher, err := progress.NewPublisher(tracker, cfg.Progress.CompletionThreshold, producer, logger)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	matchingUC := usecase.NewMatchingUC(
		assetRepo,
		matchRepo,
		outboxRepo,
		cacheRepo,
		descriptorRepo,
		db.Pool,
		retriever,
		scorer,
		aggregator,
		publisher,
		logger,
		cfg.Matching.TopK,
		cfg.Matching.MaxConcurrent,
	)

	outboxWorker := kafka.NewOutboxWorker(outboxRepo, logger, producer, db.Dsn)
	consumer := kafka.NewConsumer(cfg.Kafka, matchingUC, tracker, publisher, logger)

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, logger)
	router.Init(tracker)

	httpSrv := v1Http.NewServer(r, cfg.Http)

	return &App{
		cfg:          cfg,
		logger:       logger,
		closer:       cl,
		httpSrv:      httpSrv,
		consumer:     consumer,
		outboxWorker: outboxWorker,
	}, nil
}

// Run запускает воркеры и HTTP-сервер и блокируется до сигнала остановки
// или фатальной ошибки сервера.
func (a *App) Run() error {
	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	a.outboxWorker.Start(runCtx)
	a.consumer.Start(runCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case <-shutdown:
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := a.httpSrv.Stop(shutdownCtx); err != nil {
		a.logger.Errorf(err, "HTTP server shutdown error")
	} else {
		a.logger.Infof("HTTP server stopped")
	}

	runCancel()

	if err := a.consumer.Stop(); err != nil {
		a.logger.Warnf("Consumer stop error: %v", err)
	}
	a.outboxWorker.Stop()

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.logger.Warnf("Resource shutdown: %v", err)
	}

	a.logger.Infof("Application shutdown complete")

	return appErr
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
