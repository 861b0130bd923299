package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/OpertusMundi/discovery-service/config"
	"github.com/OpertusMundi/discovery-service/pkg/discovery"
	"github.com/OpertusMundi/discovery-service/pkg/events"
	"github.com/OpertusMundi/discovery-service/pkg/graph"
	"github.com/OpertusMundi/discovery-service/pkg/kafka"
	"github.com/OpertusMundi/discovery-service/pkg/matching"
	"github.com/OpertusMundi/discovery-service/pkg/metadata"
	"github.com/OpertusMundi/discovery-service/pkg/metanome"
	"github.com/OpertusMundi/discovery-service/pkg/middleware"
	"github.com/OpertusMundi/discovery-service/pkg/orchestrator"
	"github.com/OpertusMundi/discovery-service/pkg/profiling"
	"github.com/OpertusMundi/discovery-service/pkg/queue"
	"github.com/OpertusMundi/discovery-service/pkg/redis"
	discoveryroutes "github.com/OpertusMundi/discovery-service/pkg/routes/discovery"
	"github.com/OpertusMundi/discovery-service/pkg/routes/health"
	"github.com/OpertusMundi/discovery-service/pkg/routes/ingestion"
	"github.com/OpertusMundi/discovery-service/pkg/startup"
	"github.com/OpertusMundi/discovery-service/pkg/storage"
	"github.com/OpertusMundi/discovery-service/pkg/tracing"
)

const version = "0.1.0"

// dependency adapts closures to the startup.Dependency interface.
type dependency struct {
	name  string
	deps  []string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

func (d *dependency) GetName() string     { return d.name }
func (d *dependency) DependsOn() []string { return d.deps }
func (d *dependency) Start(ctx context.Context) error {
	if d.start == nil {
		return nil
	}
	return d.start(ctx)
}
func (d *dependency) Stop(ctx context.Context) error {
	if d.stop == nil {
		return nil
	}
	return d.stop(ctx)
}

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		data, err := json.Marshal(msg)
		if err != nil {
			return
		}
		fmt.Println(string(data))
	})

	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	tracing.SetTracer(otel.Tracer(cfg.AppName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to create graph client")
		os.Exit(1)
	}

	var (
		redisClient   *redis.Client
		storageClient *storage.Client
	)

	boot := startup.New(logger, cfg.StartupMaxAttempts)
	boot.Add(&dependency{
		name: "redis",
		start: func(ctx context.Context) error {
			var err error
			redisClient, err = redis.NewClient(redis.Config{
				Host:     cfg.RedisHost,
				Port:     cfg.RedisPort,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			}, logger)
			return err
		},
		stop: func(context.Context) error { return redisClient.Close() },
	})
	boot.Add(&dependency{
		name:  "graph",
		start: graphClient.VerifyConnectivity,
		stop:  graphClient.Close,
	})
	boot.Add(&dependency{
		name: "storage",
		start: func(ctx context.Context) error {
			var err error
			storageClient, err = storage.NewClient(storage.Config{
				Endpoint:  cfg.StorageEndpoint,
				AccessKey: cfg.StorageAccessKey,
				SecretKey: cfg.StorageSecretKey,
				UseSSL:    cfg.StorageUseSSL,
				Bucket:    cfg.StorageBucket,
			}, logger)
			if err != nil {
				return err
			}
			return storageClient.Ping(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}

	nodeService := graph.NewNodeService(graphClient, logger)
	relationService := graph.NewRelationService(graphClient, logger)
	metadataStore := metadata.NewStore(redisClient, logger)

	engine := discovery.NewEngine(nodeService, relationService, discovery.Options{
		Pick: discovery.PickPolicy(cfg.PickPolicy),
		Tie:  discovery.RankTieBreak(cfg.RankTieBreak),
	}, logger)

	var emitter events.Emitter = events.NopEmitter{}
	var producer *kafka.Producer
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		emitter = events.NewKafkaEmitter(producer, logger)
	}

	backend := queue.NewRedisBackend(redisClient, cfg.QueueStream, logger)
	jobQueue := queue.NewQueue(backend, logger)

	tasks := orchestrator.NewTasks(
		storageClient,
		metadataStore,
		&orchestrator.GraphServices{Nodes: nodeService, Relations: relationService},
		engine,
		profiling.NewColumnProfiler(),
		matching.NewSchemaMatcher(),
		metanome.NewClient(metanome.Config{
			BaseURL: cfg.MetanomeBaseURL,
			Timeout: cfg.MetanomeTimeout,
		}, logger),
		emitter,
		orchestrator.Config{
			RowLimit:  cfg.RowsToUse,
			Threshold: cfg.MatchThreshold,
		},
		logger,
	)

	workerCfg := queue.DefaultWorkerConfig()
	workerCfg.Stream = cfg.QueueStream
	workerCfg.ConsumerGroup = cfg.QueueConsumerGroup
	workerCfg.BatchSize = int64(cfg.QueueBatchSize)
	workerCfg.BlockTimeout = cfg.QueueBlockTimeout
	workerCfg.MaxRetries = cfg.QueueMaxRetries
	workerCfg.WorkerCount = cfg.QueueWorkerCount

	worker := queue.NewWorker(backend, redis.NewStreams(redisClient), workerCfg, logger)
	tasks.Register(worker)
	if err := worker.Start(ctx); err != nil {
		logger.WithError(err).Error("Failed to start queue worker")
		os.Exit(1)
	}

	orch := orchestrator.NewOrchestrator(jobQueue, storageClient, metadataStore, logger)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	api := e.Group("/api/v1")
	discoveryroutes.NewHandler(engine, logger).Register(api.Group("/discovery"))
	ingestion.NewHandler(orch, tasks, jobQueue, nodeService, metadataStore, storageClient, logger).Register(api.Group("/ingestion"))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	checker := health.NewChecker(version, map[string]health.Pinger{
		"graph":   graphClient,
		"redis":   redisClient,
		"storage": storageClient,
	})
	checker.RegisterRoutes(e)
	checker.SetReady(true)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("HTTP server stopped")
			stop()
		}
	}()

	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("HTTP server shutdown failed")
	}
	if err := worker.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Worker shutdown failed")
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.WithError(err).Warn("Kafka producer close failed")
		}
	}
	if err := boot.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Dependency shutdown failed")
	}
}
