package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fenilmodi00/vin-backend/cache"
	"github.com/fenilmodi00/vin-backend/config"
	"github.com/fenilmodi00/vin-backend/database"
	"github.com/fenilmodi00/vin-backend/handlers"
	"github.com/fenilmodi00/vin-backend/jobs"
	"github.com/fenilmodi00/vin-backend/queue"
	"github.com/fenilmodi00/vin-backend/services"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// enrollmentBackend is a store that can also report its health.
type enrollmentBackend interface {
	services.EnrollmentStore
	handlers.Pinger
}

type enrollmentCacheBackend interface {
	services.EnrollmentCache
	handlers.Pinger
}

type queueBackend interface {
	queue.Publisher
	handlers.Pinger
}

func main() {
	// Load config
	cfg := config.LoadConfig()
	shared.ConfigureLogging(cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize enrollment store: %v", err)
	}
	defer database.Close()

	enrollmentCache, err := openCache(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize enrollment cache: %v", err)
	}

	// Registry access goes through one shared token bucket.
	limiter := shared.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.RefillPeriod)
	decoder := services.NewVinDecoder(cfg.Registry.BaseURL, shared.NewRegistryHTTPClient(cfg.Registry.Timeout), limiter)

	enrollmentService := services.NewEnrollmentService(store, enrollmentCache, cfg.Cache.TTL)
	promoter := jobs.NewStatusPromoter(jobs.ElapsedTimePolicy{Store: store, Window: cfg.Promotion.Window}, enrollmentCache)

	publisher, consumerFactory, closeQueue, err := openQueue(cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize queue: %v", err)
	}
	defer closeQueue()

	pipeline := services.NewDecodePipeline(decoder, enrollmentService, publisher,
		cfg.Queue.DeadLetterTopic, cfg.Pipeline.MaxAttempts, cfg.Pipeline.RetryBackoff)

	logrus.WithFields(logrus.Fields{
		"store":            cfg.Database.Driver,
		"redis":            cfg.UsesRedis(),
		"kafka":            cfg.UsesKafka(),
		"rate_capacity":    cfg.RateLimit.Capacity,
		"rate_period":      cfg.RateLimit.RefillPeriod,
		"pipeline_workers": cfg.Pipeline.Workers,
		"promotion_window": cfg.Promotion.Window,
	}).Info("VIN backend services initialized")

	throttle := handlers.NewClientThrottle(cfg.APIThrottle.RequestsPerSecond, cfg.APIThrottle.Burst)
	throttle.StartJanitor(ctx, 2*time.Minute)

	app := handlers.NewApp(true)
	routes := &handlers.Routes{
		Enrollment: handlers.NewEnrollmentHandler(enrollmentService),
		Decode:     handlers.NewDecodeHandler(pipeline, publisher, cfg.Queue.Topic),
		Admin:      handlers.NewAdminHandler(promoter, enrollmentService),
		Health: handlers.NewHealthHandler(map[string]handlers.Pinger{
			"store": store,
			"cache": enrollmentCache,
			"queue": publisher,
		}),
		Throttle: throttle,
	}
	routes.Register(app)

	group, groupCtx := errgroup.WithContext(ctx)

	// Start Background Jobs
	if cfg.Promotion.Enabled {
		group.Go(func() error {
			return promoter.RunEvery(groupCtx, cfg.Promotion.Interval)
		})
	}

	if cfg.Pipeline.Enabled {
		consumer, err := consumerFactory(pipeline)
		if err != nil {
			logrus.Fatalf("Failed to create queue consumer: %v", err)
		}
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	}

	group.Go(func() error {
		logrus.Infof("Server starting on port %s", cfg.Server.Port)
		return app.Listen(":" + cfg.Server.Port)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logrus.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.ShutdownGrace)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.Errorf("Server stopped with error: %v", err)
		return
	}
	logrus.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (enrollmentBackend, error) {
	if cfg.Database.Driver == config.StoreDriverMemory || cfg.Database.URL == "" {
		logrus.Warn("Using in-memory enrollment store; data is lost on restart")
		return database.NewMemoryEnrollmentStore(), nil
	}

	// Connect to database
	if err := database.Connect(cfg.Database); err != nil {
		return nil, err
	}

	// Run migrations
	if err := database.Migrate(ctx, database.DB); err != nil {
		return nil, err
	}
	return database.NewPostgresEnrollmentStore(database.DB), nil
}

func openCache(ctx context.Context, cfg *config.Config) (enrollmentCacheBackend, error) {
	if !cfg.UsesRedis() {
		memoryCache := cache.NewMemoryEnrollmentCache(cfg.Cache.MaxSize, cfg.Cache.KeyPrefix)
		memoryCache.StartJanitor(ctx, 10*time.Minute)
		return memoryCache, nil
	}

	client, err := cache.NewRedisClient(ctx, cfg.Cache.RedisURL)
	if err != nil {
		return nil, err
	}
	return cache.NewRedisEnrollmentCache(client, cfg.Cache.KeyPrefix), nil
}

func openQueue(cfg *config.Config) (queueBackend, func(queue.Handler) (queue.Consumer, error), func(), error) {
	workerOpts := queue.WorkerOptions{
		Workers:       cfg.Pipeline.Workers,
		RetryBackoff:  cfg.Pipeline.RetryBackoff,
		ShutdownGrace: cfg.Pipeline.ShutdownGrace,
	}

	if !cfg.UsesKafka() {
		logrus.Warn("No Kafka brokers configured; using in-process queue")
		broker := queue.NewMemoryBroker()
		newConsumer := func(h queue.Handler) (queue.Consumer, error) {
			return queue.NewMemoryConsumer(broker, cfg.Queue.Topic, h, workerOpts), nil
		}
		return broker, newConsumer, broker.Close, nil
	}

	producer, err := queue.NewKafkaProducer(queue.ProducerConfig{
		Brokers:         cfg.Queue.Brokers,
		ClientID:        cfg.Queue.ClientID,
		Retries:         5,
		DeliveryTimeout: 30 * time.Second,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	var consumer *queue.KafkaConsumer
	newConsumer := func(h queue.Handler) (queue.Consumer, error) {
		c, err := queue.NewKafkaConsumer(queue.ConsumerConfig{
			Brokers:  cfg.Queue.Brokers,
			ClientID: cfg.Queue.ClientID,
			GroupID:  cfg.Queue.GroupID,
			Topic:    cfg.Queue.Topic,
			Worker:   workerOpts,
		}, h)
		if err != nil {
			return nil, err
		}
		consumer = c
		return c, nil
	}
	closeAll := func() {
		if consumer != nil {
			consumer.Close()
		}
		producer.Close()
	}
	return producer, newConsumer, closeAll, nil
}
