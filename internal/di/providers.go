package di

import (
	"context"
	"fmt"
	"time"

	"RLSignal/internal/domain/models"
	domrepo "RLSignal/internal/domain/repository"
	"RLSignal/internal/handler/api"
	internalrepo "RLSignal/internal/repository"
	"RLSignal/internal/service/ratelimit"
	"RLSignal/internal/services/policy"
	"RLSignal/internal/services/simulation"
	"RLSignal/internal/usecase"
	"RLSignal/pkg/cache"
	pkgch "RLSignal/pkg/clickhouse"
	"RLSignal/pkg/config"
	xhttp "RLSignal/pkg/http"
	pkgkafka "RLSignal/pkg/kafka"
	applogger "RLSignal/pkg/logger"
	"RLSignal/pkg/metrics"
	"RLSignal/pkg/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const schemaTimeout = 10 * time.Second

// ProvideLogger builds the application logger from the logger section.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logger.Level,
		Format: cfg.Logger.Format,
		Output: cfg.Logger.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(applogger.String("env", cfg.Environment)), nil
}

// ProvideRegistry creates the Prometheus registry shared by every
// collector and served on the scrape path.
func ProvideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// ProvideMetrics creates the service metrics recorder.
func ProvideMetrics(reg *prometheus.Registry) domrepo.Metrics {
	return metrics.New(reg)
}

// ProvideClickHouseClient connects to ClickHouse and creates the database.
// It returns nil when ClickHouse is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithAddr(cfg.ClickHouse.Host, cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(cfg.ClickHouse.MaxConnections, cfg.ClickHouse.MaxConnections/2),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := client.Exec(ctx, "CREATE DATABASE IF NOT EXISTS "+cfg.ClickHouse.Database); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideCandleStore returns the ClickHouse candle history, or nil when
// ClickHouse is disabled.
func ProvideCandleStore(ch *pkgch.Client, cfg *config.Config, l *applogger.Logger) (domrepo.CandleStore, error) {
	if ch == nil {
		return nil, nil
	}
	store := internalrepo.NewCHCandleStore(ch, cfg.ClickHouse.Database, cfg.ClickHouse.CandleTable, l)
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("candle schema: %w", err)
	}
	return store, nil
}

// ProvideDecisionLog returns the ClickHouse decision audit log, or nil
// when ClickHouse is disabled.
func ProvideDecisionLog(ch *pkgch.Client, cfg *config.Config) (domrepo.DecisionLog, error) {
	if ch == nil {
		return nil, nil
	}
	log := internalrepo.NewCHDecisionLog(ch, cfg.ClickHouse.Database, cfg.ClickHouse.DecisionTable, cfg.ClickHouse.DecisionTTLDays)
	ctx, cancel := context.WithTimeout(context.Background(), schemaTimeout)
	defer cancel()
	if err := log.Init(ctx); err != nil {
		return nil, fmt.Errorf("decision log schema: %w", err)
	}
	return log, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatching(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchBytes, cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithProducerMetrics(reg),
		pkgkafka.WithProducerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaPublisher wraps the producer with the service topics.
func ProvideKafkaPublisher(producer *pkgkafka.Producer, cfg *config.Config) *internalrepo.KafkaPublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, internalrepo.KafkaTopics{
		Decisions:    cfg.Kafka.DecisionsTopic,
		TrainingJobs: cfg.Kafka.TrainingTopic,
		TrainResults: cfg.Kafka.TrainResultTopic,
	})
}

// ProvideDecisionPublisher exposes the publisher; a disabled publisher is a
// nil interface, not a typed nil.
func ProvideDecisionPublisher(p *internalrepo.KafkaPublisher) domrepo.DecisionPublisher {
	if p == nil {
		return nil
	}
	return p
}

// ProvideTrainingDispatcher is nil when Kafka is disabled so jobs run
// in-process.
func ProvideTrainingDispatcher(p *internalrepo.KafkaPublisher) domrepo.TrainingDispatcher {
	if p == nil {
		return nil
	}
	return p
}

// ProvideKafkaConsumer creates the training-job consumer, or nil when
// Kafka is disabled.
func ProvideKafkaConsumer(cfg *config.Config, reg *prometheus.Registry, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
		pkgkafka.WithConsumerMetrics(reg),
		pkgkafka.WithConsumerLogger(l),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideCache returns Redis behind an in-process layer when Redis is
// enabled, otherwise an in-process cache only.
func ProvideCache(cfg *config.Config) (cache.Service, error) {
	if !cfg.Redis.Enabled {
		return cache.NewMemoryCache(
			cache.WithMemoryMaxSize(cfg.Redis.MemorySize),
			cache.WithMemoryDefaultTTL(cfg.Redis.TTL),
		), nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPool(cfg.Redis.PoolSize, cfg.Redis.PoolSize/4, 30*time.Second),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return cache.NewLayeredCache(rc,
		cache.WithLayeredMemorySize(cfg.Redis.MemorySize),
		cache.WithLayeredMemoryTTL(30*time.Second),
	), nil
}

// ProvideJobStore persists jobs and the state snapshot in the cache.
func ProvideJobStore(c cache.Service, cfg *config.Config) domrepo.JobStore {
	return internalrepo.NewCacheJobStore(c, cfg.Redis.TTL)
}

// ProvideONNXRuntime returns an unloaded runtime; models are loaded at
// bootstrap and after every training run.
func ProvideONNXRuntime(cfg *config.Config) *policy.ONNXRuntime {
	return policy.NewONNXRuntime(cfg.Trainer.ONNXLibraryPath)
}

// ProvideLearnedPredictor serves the loaded policy.
func ProvideLearnedPredictor(rt *policy.ONNXRuntime) *policy.LearnedPredictor {
	return policy.NewLearnedPredictor(rt)
}

// ProvideTrainer delegates training to the policy service.
func ProvideTrainer(cfg *config.Config, rt *policy.ONNXRuntime) *policy.HTTPTrainer {
	base := policy.NewHTTPServiceBase(cfg.Trainer.PolicyServiceURL, cfg.Trainer.Timeout)
	return policy.NewHTTPTrainer(base, rt, policy.TrainerConfig{
		ModelDir: cfg.Trainer.ModelDir,
		MinRows:  cfg.Trainer.MinRows,
		Retries:  cfg.Trainer.Retries,
		Env: simulation.Config{
			InitialBalance:  cfg.Simulation.InitialBalance,
			TransactionCost: cfg.Simulation.TransactionCost,
			PositionSize:    cfg.Simulation.PositionSize,
			Lookback:        cfg.Simulation.Lookback,
		},
		Thresholds: models.Thresholds{
			MinSharpe:      cfg.Trainer.Thresholds.MinSharpe,
			MinWinRate:     cfg.Trainer.Thresholds.MinWinRate,
			MaxDrawdown:    cfg.Trainer.Thresholds.MaxDrawdown,
			MinTotalTrades: cfg.Trainer.Thresholds.MinTotalTrades,
		},
	})
}

// ProvideServiceState creates the service state seeded with the configured
// learning rate; a persisted snapshot replaces it at bootstrap.
func ProvideServiceState(cfg *config.Config, jobs domrepo.JobStore, l *applogger.Logger) *usecase.ServiceState {
	st := usecase.NewServiceState(cfg.Signal.ModelVersion, jobs, l)
	if cfg.Trainer.LearningRate > 0 {
		lr := cfg.Trainer.LearningRate
		st.SeedParams(models.ParamsUpdate{LearningRate: &lr})
	}
	return st
}

// ProvideJitter creates the confidence jitter source.
func ProvideJitter(cfg *config.Config) *usecase.Jitter {
	return usecase.NewJitter(cfg.Signal.JitterAmplitude, cfg.Signal.JitterSeed)
}

// ProvideDecisionUseCase assembles the prediction pipeline.
func ProvideDecisionUseCase(
	learned *policy.LearnedPredictor,
	state *usecase.ServiceState,
	jitter *usecase.Jitter,
	pub domrepo.DecisionPublisher,
	log domrepo.DecisionLog,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.DecisionUseCase {
	return usecase.NewDecisionUseCase(learned, policy.NewRuleBasedPredictor(), state, jitter, pub, log, m, l)
}

// ProvideTrainingUseCase assembles training job handling.
func ProvideTrainingUseCase(
	cfg *config.Config,
	state *usecase.ServiceState,
	trainer *policy.HTTPTrainer,
	candles domrepo.CandleStore,
	jobs domrepo.JobStore,
	pub domrepo.DecisionPublisher,
	dispatcher domrepo.TrainingDispatcher,
	m domrepo.Metrics,
	l *applogger.Logger,
) *usecase.TrainingUseCase {
	return usecase.NewTrainingUseCase(state, trainer, candles, jobs, pub, dispatcher, m, l, usecase.TrainingConfig{
		HistoryRows:      cfg.Trainer.HistoryRows,
		Timeframe:        domrepo.NormalizeTimeframe(cfg.Trainer.Timeframe),
		DefaultTimesteps: cfg.Trainer.DefaultTimesteps,
		LockTTL:          cfg.Trainer.LockTTL,
		InitialBalance:   cfg.Simulation.InitialBalance,
	})
}

// ProvideSimulateUseCase lets the loaded policy drive simulations.
func ProvideSimulateUseCase(learned *policy.LearnedPredictor, m domrepo.Metrics, l *applogger.Logger) *usecase.SimulateUseCase {
	return usecase.NewSimulateUseCase(learned, m, l)
}

// ProvideTrainJobHandler consumes the training topic.
func ProvideTrainJobHandler(cfg *config.Config, uc *usecase.TrainingUseCase) *usecase.TrainJobHandler {
	return usecase.NewTrainJobHandler(cfg.Kafka.TrainingTopic, uc)
}

// ProvideRateLimiter returns the /predict limiter, or nil when disabled.
func ProvideRateLimiter(cfg *config.Config) *ratelimit.Limiter {
	if !cfg.Server.RateLimit.Enabled {
		return nil
	}
	return ratelimit.New(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst)
}

// ProvideTrainingStream serves live training status over websocket.
func ProvideTrainingStream(cfg *config.Config, state *usecase.ServiceState, l *applogger.Logger) *api.TrainingStream {
	return api.NewTrainingStream(state, cfg.Server.CORSOrigins, l)
}

// ProvideRLHandler creates the HTTP handler.
func ProvideRLHandler(
	l *applogger.Logger,
	state *usecase.ServiceState,
	decisions *usecase.DecisionUseCase,
	training *usecase.TrainingUseCase,
	simulate *usecase.SimulateUseCase,
	limiter *ratelimit.Limiter,
	stream *api.TrainingStream,
) *api.RLHandler {
	return api.NewRLHandler(l, state, decisions, training, simulate, limiter, stream)
}

// ProvideHTTPServer creates the echo server with every handler registered.
func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, reg *prometheus.Registry, h *api.RLHandler) *xhttp.Server {
	metricsPath := ""
	if cfg.Metrics.Enabled {
		metricsPath = cfg.Metrics.Path
	}
	return xhttp.NewServer(l, []xhttp.Handler{h},
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout),
		xhttp.WithCORSOrigins(cfg.Server.CORSOrigins),
		xhttp.WithMetrics(metricsPath, reg, reg),
	)
}

// ProvideApp creates the application server. Resources close in the order
// listed: producer first so in-flight publishes flush, the model last.
func ProvideApp(
	l *applogger.Logger,
	httpServer *xhttp.Server,
	consumer *pkgkafka.Consumer,
	trainJobs *usecase.TrainJobHandler,
	training *usecase.TrainingUseCase,
	publisher *internalrepo.KafkaPublisher,
	ch *pkgch.Client,
	c cache.Service,
	rt *policy.ONNXRuntime,
) *server.App {
	var handlers []pkgkafka.MessageHandler
	if consumer != nil {
		handlers = append(handlers, trainJobs)
	}

	var resources []server.Resource
	if publisher != nil {
		resources = append(resources, server.Resource{Name: "kafka producer", Close: publisher.Close})
	}
	if ch != nil {
		resources = append(resources, server.Resource{Name: "clickhouse", Close: ch.Close})
	}
	resources = append(resources,
		server.Resource{Name: "cache", Close: c.Close},
		server.Resource{Name: "onnx runtime", Close: rt.Close},
	)

	return server.New(l, httpServer, consumer, handlers, training, resources)
}
