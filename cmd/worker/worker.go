package main

import (
	"context"
	"log"
	"time"

	"readstash-backend/internal/ai"
	"readstash-backend/internal/chunker"
	"readstash-backend/internal/config"
	"readstash-backend/internal/fetcher"
	"readstash-backend/internal/ingest"
	"readstash-backend/internal/linkgraph"
	"readstash-backend/internal/logger"
	"readstash-backend/internal/store"
	"readstash-backend/internal/telemetry"

	"github.com/hibiken/asynq"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger.InitLogger(cfg)

	if cfg.TracingEnabled {
		shutdown, err := telemetry.InitTracer("readstash-worker", cfg.OTLPEndpoint)
		if err != nil {
			log.Fatal("Failed to init tracer:", err)
		}
		defer shutdown()
	}

	metrics, err := telemetry.InitMetrics()
	if err != nil {
		log.Fatal("Failed to init metrics:", err)
	}

	// Connect to MongoDB
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB:", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mongoClient.Disconnect(ctx)
	}()

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		log.Fatal("Failed to connect to Redis:", err)
	}
	defer rdb.Close()

	embedder, err := ai.NewGeminiEmbedder(context.Background(), cfg)
	if err != nil {
		log.Fatal("Failed to initialize embedder:", err)
	}

	var storeOpts []store.MongoOption
	if cfg.VectorSearchEnabled {
		storeOpts = append(storeOpts, store.WithVectorSearch(cfg.VectorIndexName))
	}
	st := store.NewMongo(mongoClient, cfg.DBName, storeOpts...)

	maintainer := linkgraph.New(st)
	jobs := ingest.NewMongoJobs(mongoClient, cfg.DBName)
	registry := fetcher.NewRegistry(
		fetcher.NewArxivSource(time.Duration(cfg.FetchTimeout)*time.Second),
		fetcher.NewTweetSource(time.Duration(cfg.RenderTimeout)*time.Second),
		fetcher.NewWebpageSource(time.Duration(cfg.FetchTimeout)*time.Second),
	)

	// Redis options for Asynq
	redisOpt, err := config.AsynqRedisOpt(cfg)
	if err != nil {
		log.Fatal("Failed to resolve Redis options:", err)
	}

	// Create Asynq server
	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.IngestConcurrency,
			Queues: map[string]int{
				"ingest":  6,
				"default": 4,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("Task failed: %s, error: %v", task.Type(), err)
			}),
		},
	)

	// Create task processor
	processor := ingest.NewTaskProcessor(
		registry,
		chunker.New(cfg.MaxChunkSize, chunker.RuneCount),
		embedder,
		st,
		maintainer,
		jobs,
		rdb,
	)

	// Create mux and register handlers
	mux := asynq.NewServeMux()
	mux.Use(func(h asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			start := time.Now()
			err := h.ProcessTask(ctx, task)
			metrics.RecordTask(task.Type(), err == nil, time.Since(start).Seconds())
			return err
		})
	})
	mux.HandleFunc(ingest.TaskIngestDocument, processor.HandleIngest)

	// Periodic repair of documents whose link resolution failed
	scheduler := ingest.NewScheduler()
	repairer := ingest.NewRepairer(jobs, st, maintainer)
	if err := scheduler.ScheduleRepairSweep(repairer, time.Duration(cfg.RepairSweepMinutes)*time.Minute); err != nil {
		log.Fatal("Failed to schedule repair sweep:", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	log.Println("Starting ingestion worker...")
	log.Printf("   Concurrency: %d", cfg.IngestConcurrency)
	log.Printf("   Redis: %s", redisOpt.Addr)

	// Start the server
	if err := server.Run(mux); err != nil {
		log.Fatal("Failed to start worker:", err)
	}
}
