// Package app wires the sorrel process: infrastructure clients, repositories,
// the candidate index, ingestion and the run orchestrator.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"

	"github.com/Ramsey-B/sorrel/config"
	"github.com/Ramsey-B/sorrel/internal/repositories/employeeprofile"
	matchrepo "github.com/Ramsey-B/sorrel/internal/repositories/match"
	"github.com/Ramsey-B/sorrel/internal/repositories/matchingconfig"
	runrepo "github.com/Ramsey-B/sorrel/internal/repositories/run"
	"github.com/Ramsey-B/sorrel/pkg/anomaly"
	"github.com/Ramsey-B/sorrel/pkg/candidateindex"
	"github.com/Ramsey-B/sorrel/pkg/database"
	"github.com/Ramsey-B/sorrel/pkg/events"
	"github.com/Ramsey-B/sorrel/pkg/graph"
	"github.com/Ramsey-B/sorrel/pkg/identifiers"
	"github.com/Ramsey-B/sorrel/pkg/ingest"
	"github.com/Ramsey-B/sorrel/pkg/kafka"
	"github.com/Ramsey-B/sorrel/pkg/matchconfig"
	"github.com/Ramsey-B/sorrel/pkg/matching"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/orchestrator"
	"github.com/Ramsey-B/sorrel/pkg/paircache"
	"github.com/Ramsey-B/sorrel/pkg/redis"
	"github.com/Ramsey-B/sorrel/pkg/routes"
	"github.com/Ramsey-B/sorrel/pkg/routes/health"
	"github.com/Ramsey-B/sorrel/pkg/startup"
	"github.com/Ramsey-B/sorrel/pkg/tracing"
)

// Version is stamped at build time
var Version = "dev"

// Options selects which long-running parts of the process start
type Options struct {
	// Consume starts the employees topic consumer
	Consume bool
	// Serve starts the HTTP server
	Serve bool
}

type IndexStats struct {
	Indexed int `json:"indexed"`
	Skipped int `json:"skipped"`
}

type App struct {
	cfg     *config.Config
	logger  ectologger.Logger
	options Options
	startup *startup.Startup

	DB       database.DB
	Redis    *redis.Client
	Producer *kafka.Producer
	Graph    *graph.Client
	Consumer *kafka.Consumer
	Server   *http.Server

	Configs      *matchconfig.Provider
	Profiles     *employeeprofile.Repository
	Matches      *matchrepo.Repository
	Runs         *runrepo.Repository
	Index        *candidateindex.Index
	Ingest       *ingest.Service
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Checker

	// IndexStats reports the startup rebuild of the candidate index
	IndexStats IndexStats

	stopTracing func(context.Context) error
}

func New(cfg *config.Config, logger ectologger.Logger, options Options) *App {
	a := &App{
		cfg:     cfg,
		logger:  logger,
		options: options,
		startup: startup.NewStartup(logger, cfg.StartupMaxAttempts),
		Health:  health.NewChecker(Version),
	}
	a.register()
	return a
}

func (a *App) register() {
	a.startup.AddDependency(&startup.Func{Name: "tracing", OnStart: a.startTracing, OnStop: a.stopTracingProvider})
	a.startup.AddDependency(&startup.Func{Name: "postgres", OnStart: a.startPostgres, OnStop: a.stopPostgres})
	a.startup.AddDependency(&startup.Func{Name: "migrations", Requires: []string{"postgres"}, OnStart: a.migrate})

	services := []string{"tracing", "migrations"}
	if a.cfg.RedisEnabled() {
		a.startup.AddDependency(&startup.Func{Name: "redis", OnStart: a.startRedis, OnStop: a.stopRedis})
		services = append(services, "redis")
	}
	if a.cfg.KafkaEnabled {
		a.startup.AddDependency(&startup.Func{Name: "kafka-producer", OnStart: a.startProducer, OnStop: a.stopProducer})
		services = append(services, "kafka-producer")
	}
	if a.cfg.GraphEnabled() {
		a.startup.AddDependency(&startup.Func{Name: "graph", OnStart: a.startGraph, OnStop: a.stopGraph})
		services = append(services, "graph")
	}
	a.startup.AddDependency(&startup.Func{Name: "services", Requires: services, OnStart: a.startServices, OnStop: a.stopServices})

	if a.options.Consume && a.cfg.KafkaEnabled {
		a.startup.AddDependency(&startup.Func{Name: "kafka-consumer", Requires: []string{"services"}, OnStart: a.startConsumer, OnStop: a.stopConsumer})
		a.Health.AddCheck("kafka", a.consumerHealth)
	}
	if a.options.Serve {
		a.startup.AddDependency(&startup.Func{Name: "http", Requires: []string{"services"}, OnStart: a.startServer, OnStop: a.stopServer})
	}
}

// Start brings every dependency up, retrying with backoff
func (a *App) Start(ctx context.Context) error {
	if err := a.startup.Start(ctx); err != nil {
		return err
	}
	a.Health.SetReady(true)
	return nil
}

// Stop shuts dependencies down in reverse order
func (a *App) Stop(ctx context.Context) error {
	a.Health.SetReady(false)
	return a.startup.Stop(ctx)
}

func (a *App) startTracing(ctx context.Context) error {
	stop, err := tracing.Init(ctx, a.cfg.Tracing(), a.logger)
	if err != nil {
		return err
	}
	a.stopTracing = stop
	return nil
}

func (a *App) stopTracingProvider(ctx context.Context) error {
	if a.stopTracing == nil {
		return nil
	}
	return a.stopTracing(ctx)
}

func (a *App) startPostgres(ctx context.Context) error {
	db, err := database.Open(ctx, a.cfg.Database(), a.logger)
	if err != nil {
		return err
	}
	a.DB = db
	a.Health.AddCheck("database", db.PingContext)
	return nil
}

func (a *App) stopPostgres(context.Context) error {
	return a.DB.Close()
}

func (a *App) migrate(ctx context.Context) error {
	instance, ok := a.DB.(*database.DatabaseInstance)
	if !ok {
		return errors.New("migrations need a *sqlx.DB connection")
	}
	return Migrate(instance.DB, a.cfg, a.logger)
}

// Migrate applies the Postgres migrations
func Migrate(db *sqlx.DB, cfg *config.Config, logger ectologger.Logger) error {
	return database.NewMigrationService(logger, cfg.Migration()).MigratePostgres(db.DB, cfg.DatabaseName)
}

func (a *App) startRedis(ctx context.Context) error {
	client, err := redis.NewClient(a.cfg.Redis(), a.logger)
	if err != nil {
		return err
	}
	a.Redis = client
	a.Health.AddCheck("redis", client.Ping)
	return nil
}

func (a *App) stopRedis(context.Context) error {
	return a.Redis.Close()
}

func (a *App) startProducer(context.Context) error {
	a.Producer = kafka.NewProducer(a.cfg.KafkaProducer(), a.logger)
	return nil
}

func (a *App) stopProducer(context.Context) error {
	return a.Producer.Close()
}

func (a *App) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(a.cfg.Graph(), a.logger)
	if err != nil {
		return err
	}
	if err := client.VerifyConnectivity(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	a.Graph = client
	a.Health.AddCheck("graph", client.VerifyConnectivity)
	return nil
}

func (a *App) stopGraph(ctx context.Context) error {
	return a.Graph.Close(ctx)
}

func (a *App) baseConfiguration() (*models.MatchingConfiguration, error) {
	if a.cfg.MatchingConfigPath == "" {
		return models.DefaultMatchingConfiguration(), nil
	}
	return matchconfig.LoadFile(a.cfg.MatchingConfigPath)
}

// nicknames loads the shared table. Configured nicknames are merged by the
// name comparator, so only the index copy gets the base entries here.
func (a *App) nicknames() (*matching.NicknameTable, error) {
	table, err := matching.DefaultNicknames()
	if err != nil {
		return nil, err
	}
	if a.cfg.NicknamesPath != "" {
		data, err := os.ReadFile(a.cfg.NicknamesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read nickname table: %w", err)
		}
		if table, err = matching.ParseNicknames(data); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// listener fans match notifications out to every configured sink
func (a *App) listener() events.Listener {
	var fanout events.Fanout
	if a.Producer != nil {
		fanout = append(fanout, events.NewEmitter(a.Producer, a.logger))
	}
	if a.Graph != nil {
		fanout = append(fanout, graph.NewProjector(a.Graph, a.logger))
	}
	if len(fanout) == 0 {
		return nil
	}
	return fanout
}

func (a *App) startServices(ctx context.Context) error {
	salts, err := a.cfg.Salts()
	if err != nil {
		return err
	}
	hasher, err := identifiers.NewHasher(salts)
	if err != nil {
		return err
	}

	base, err := a.baseConfiguration()
	if err != nil {
		return err
	}
	if err := base.Validate(); err != nil {
		return err
	}
	nicknames, err := a.nicknames()
	if err != nil {
		return err
	}
	indexNicknames := nicknames
	if len(base.Names.Nicknames) > 0 {
		indexNicknames = nicknames.With(base.Names.Nicknames)
	}

	a.Configs = matchconfig.NewProvider(base, matchingconfig.NewRepository(a.DB, a.logger), a.logger)
	a.Profiles = employeeprofile.NewRepository(a.DB, a.logger)
	a.Matches = matchrepo.NewRepository(a.DB, a.logger)
	a.Runs = runrepo.NewRepository(a.DB, a.logger)

	a.Index = candidateindex.NewIndex(a.logger, indexNicknames, salts.Version)
	indexed, skipped, err := a.Index.RebuildFrom(ctx, a.Profiles, salts.Version, 0)
	if err != nil {
		return err
	}
	a.IndexStats = IndexStats{Indexed: indexed, Skipped: skipped}
	a.Ingest = ingest.NewService(hasher, a.Configs, a.Profiles, a.Index, a.logger)

	deps := orchestrator.Dependencies{
		Profiles:   a.Profiles,
		Matches:    a.Matches,
		Runs:       a.Runs,
		Configs:    a.Configs,
		Candidates: a.Index,
		Filter:     anomaly.NewFilter(a.Index, a.logger),
		Listener:   a.listener(),
		Nicknames:  nicknames,
	}
	if a.Redis != nil {
		deps.Cache = paircache.NewRedisCache(a.Redis, a.cfg.PairCacheTTL, a.logger)
		deps.Locker = redis.NewLocker(a.Redis, "")
	}
	a.Orchestrator = orchestrator.New(deps, orchestrator.Options{}, a.logger)
	return nil
}

func (a *App) stopServices(context.Context) error {
	if a.Index != nil {
		a.Index.Close()
	}
	return nil
}

func (a *App) startConsumer(ctx context.Context) error {
	a.Consumer = kafka.NewConsumer(a.cfg.KafkaConsumer(), a.logger, a.Ingest.HandleMessage)
	return a.Consumer.Start(context.WithoutCancel(ctx))
}

func (a *App) consumerHealth(context.Context) error {
	if a.Consumer == nil || !a.Consumer.Health() {
		return errors.New("consumer is not running")
	}
	return nil
}

func (a *App) stopConsumer(context.Context) error {
	return a.Consumer.Stop()
}

func (a *App) startServer(context.Context) error {
	e := routes.New(routes.Dependencies{
		ServiceName: a.cfg.AppName,
		Runner:      a.Orchestrator,
		Configs:     a.Configs,
		Matches:     a.Matches,
		Listener:    a.listener(),
		Health:      a.Health,
	}, a.logger)

	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.Port),
		Handler:      e,
		ReadTimeout:  a.cfg.HttpServerReadTimeout,
		WriteTimeout: a.cfg.HttpServerWriteTimeout,
		IdleTimeout:  a.cfg.HttpServerIdleTimeout,
	}

	go func() {
		a.logger.Infof("HTTP server listening on %s", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("HTTP server stopped")
		}
	}()
	return nil
}

func (a *App) stopServer(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return a.Server.Shutdown(shutdownCtx)
}
