package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/config"
	agentrepo "github.com/Ramsey-B/clover/internal/repositories/agent"
	importrunrepo "github.com/Ramsey-B/clover/internal/repositories/importrun"
	leadrepo "github.com/Ramsey-B/clover/internal/repositories/lead"
	agentservice "github.com/Ramsey-B/clover/internal/services/agent"
	importservice "github.com/Ramsey-B/clover/internal/services/imports"
	leadservice "github.com/Ramsey-B/clover/internal/services/lead"
	"github.com/Ramsey-B/clover/pkg/cache"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/distribution"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/importer"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/redis"
	"github.com/Ramsey-B/clover/pkg/startup"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
	"github.com/Ramsey-B/clover/pkg/uploads"
)

const (
	depTracing    = "tracing"
	depDatabase   = "database"
	depMigrations = "migrations"
	depRedis      = "redis"
	depKafka      = "kafka"
	depServices   = "services"
)

// app owns every long lived dependency of a clover process.
type app struct {
	cfg     config.Config
	logger  ectologger.Logger
	startup *startup.Startup

	stopTracing tracing.ShutdownFunc

	db             database.DB
	redis          *redis.Client
	eventsProducer *kafka.Producer
	importProducer *kafka.Producer

	cache  cache.Cache
	files  *uploads.Store
	leads  *leadrepo.Repository
	agents *agentrepo.Repository
	runs   *importrunrepo.Repository

	orchestrator *importer.Orchestrator
	assigner     *distribution.Assigner
	planner      *distribution.Planner

	leadService   *leadservice.Service
	agentService  *agentservice.Service
	importService *importservice.Service
}

type appOptions struct {
	// Migrate runs the migrations dependency even when DB_MIGRATE_ON_STARTUP is false.
	Migrate bool
	// Kafka starts the producers when KAFKA_ENABLED is true.
	Kafka bool
}

func newApp(cfg config.Config, logger ectologger.Logger, opts appOptions) *app {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		startup: startup.New(logger, cfg.StartupMaxAttempts),
	}

	a.startup.Add(
		startup.Func{Name: depTracing, StartFn: a.startTracing, StopFn: a.shutdownTracing},
		startup.Func{Name: depDatabase, StartFn: a.startDatabase, StopFn: a.stopDatabase},
	)

	after := []string{depTracing, depDatabase}
	if opts.Migrate || cfg.DatabaseMigrateOnStartup {
		a.startup.Add(startup.Func{Name: depMigrations, After: []string{depDatabase}, StartFn: a.runMigrations})
		after = append(after, depMigrations)
	}
	if cfg.RedisEnabled {
		a.startup.Add(startup.Func{Name: depRedis, StartFn: a.startRedis, StopFn: a.stopRedis})
		after = append(after, depRedis)
	}
	if opts.Kafka && cfg.KafkaEnabled {
		a.startup.Add(startup.Func{Name: depKafka, StartFn: a.startKafka, StopFn: a.stopKafka})
		after = append(after, depKafka)
	}
	a.startup.Add(startup.Func{Name: depServices, After: after, StartFn: a.wire})

	return a
}

func (a *app) Start(ctx context.Context) error {
	return a.startup.Start(ctx)
}

func (a *app) Stop(ctx context.Context) error {
	return a.startup.Stop(ctx)
}

func (a *app) startTracing(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, tracing.ProviderConfig{
		ServiceName:    a.cfg.AppName,
		ServiceVersion: a.cfg.Version,
		Enabled:        a.cfg.OtelEnabled,
		Exporter: exporters.OTLPConfig{
			Endpoint: a.cfg.OtelEndpoint,
			Protocol: a.cfg.OtelProtocol,
			Insecure: a.cfg.OtelInsecure,
		},
	})
	if err != nil {
		return err
	}
	a.stopTracing = shutdown
	return nil
}

func (a *app) shutdownTracing(ctx context.Context) error {
	if a.stopTracing == nil {
		return nil
	}
	return a.stopTracing(ctx)
}

func (a *app) startDatabase(ctx context.Context) error {
	db, err := database.Connect(ctx, database.ConnectionConfig{
		DSN:             a.cfg.DatabaseDSN(),
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}, a.logger)
	if err != nil {
		return err
	}
	a.db = db
	return nil
}

func (a *app) stopDatabase(context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *app) migrationService() *database.MigrationService {
	return database.NewMigrationService(a.logger, &database.MigrationConfig{
		MigrationFolderPath: a.cfg.DatabaseMigrationFolderPath,
		Version:             a.cfg.DatabaseMigrationVersion,
		Force:               a.cfg.DatabaseMigrationForce,
		AutoRollback:        a.cfg.DatabaseMigrationAutoRollback,
	})
}

func (a *app) runMigrations(context.Context) error {
	return a.migrationService().Migrate(a.db.SQL())
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(ctx, redis.Config{
		Host:     a.cfg.RedisHost,
		Port:     a.cfg.RedisPort,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

func (a *app) producerConfig(topic string) kafka.ProducerConfig {
	return kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        topic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeoutMs) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}
}

func (a *app) startKafka(context.Context) error {
	a.eventsProducer = kafka.NewProducer(a.producerConfig(a.cfg.KafkaEventsTopic), a.logger)
	a.importProducer = kafka.NewProducer(a.producerConfig(a.cfg.KafkaImportTopic), a.logger)
	return nil
}

func (a *app) stopKafka(context.Context) error {
	var firstErr error
	for _, p := range []*kafka.Producer{a.importProducer, a.eventsProducer} {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// wire builds repositories and services on top of the started infrastructure.
func (a *app) wire(context.Context) error {
	files, err := uploads.NewStore(a.cfg.UploadDir, a.cfg.MaxUploadSize, a.logger)
	if err != nil {
		return fmt.Errorf("failed to open upload dir: %w", err)
	}
	a.files = files

	var locker importer.Locker = importer.NewLocalLocker()
	a.cache = cache.NewMemory()
	if a.redis != nil {
		a.cache = cache.NewRedis(a.redis, a.cfg.AppName+":cache:")
		locker = redis.NewLocker(a.redis, a.cfg.AppName+":lock:")
	}

	var eventPublisher, importPublisher events.Publisher
	if a.eventsProducer != nil {
		eventPublisher = a.eventsProducer
	}
	if a.importProducer != nil {
		importPublisher = a.importProducer
	}
	emitter := events.NewEmitter(eventPublisher, a.logger)

	tx := database.NewTransactor(a.db)
	a.leads = leadrepo.NewRepository(a.db, a.logger, a.cfg.ImportInsertChunkSize)
	a.agents = agentrepo.NewRepository(a.db, a.logger)
	a.runs = importrunrepo.NewRepository(a.db, a.logger)

	a.orchestrator = importer.NewOrchestrator(importer.Dependencies{
		Leads:   a.leads,
		Runs:    a.runs,
		Files:   files,
		Locker:  locker,
		Cache:   a.cache,
		Emitter: emitter,
		Logger:  a.logger,
	}, importer.Options{
		DefaultProvince: a.cfg.DefaultProvince,
		MaxLogEntries:   a.cfg.ImportMaxLogEntries,
		LockTTL:         a.cfg.ImportLockTTL,
	})

	a.assigner = distribution.NewAssigner(a.leads, a.agents, tx, a.logger)
	a.planner = distribution.NewPlanner(a.assigner, a.logger, distribution.Options{
		Cache:   a.cache,
		Emitter: emitter,
	})

	a.leadService = leadservice.NewService(a.leads, a.agents, tx, a.cache, a.cfg.StatsCacheTTL, a.logger)
	a.agentService = agentservice.NewService(a.agents, a.leads, a.logger)
	a.importService = importservice.NewService(a.orchestrator, files, a.runs, a.cache, a.logger, importservice.Options{
		PreviewRows:          a.cfg.PreviewRows,
		PreviewTTL:           a.cfg.PreviewCacheTTL,
		ImportTopicPublisher: importPublisher,
	})
	return nil
}
