package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardarena/arena-server-go/internal/archive"
	"github.com/cardarena/arena-server-go/internal/auth"
	"github.com/cardarena/arena-server-go/internal/cache"
	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/gateway"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/persistence"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/repository"
	"github.com/cardarena/arena-server-go/internal/server"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	envFile    = flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	version    = "dev" // set via ldflags during build
)

const defaultRating = 1000

func main() {
	flag.Parse()

	// A missing .env is fine; the environment may already be set.
	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting arena server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("arena server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Info("arena server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clock := clockwork.NewRealClock()

	cat, err := loadCatalog(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	logger.Info("catalog loaded",
		zap.String("driver", cfg.Catalog.Driver),
		zap.Int("cards", len(cat.CardIDs())),
		zap.Int("arenas", len(cat.ArenaIDs())),
	)

	// Storage: Postgres when configured, otherwise in-process stores.
	var (
		queueStore matchmaking.Store
		players    ports.PlayerDirectory
		results    ports.ResultStore
	)
	if cfg.Database.URL != "" {
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		queueStore = repository.NewQueueStore(db)
		players = repository.NewPlayerRepository(db)
		results = repository.NewResultRepository(db)
	} else {
		logger.Warn("database.url not set; queue, players and results are kept in memory")
		queueStore = matchmaking.NewMemoryStore()
		players = repository.NewMemoryPlayers(starterDeck(cat), defaultRating)
		results = repository.NewMemoryResults()
	}

	deps := game.MatchDeps{
		Clock:     clock,
		Players:   players,
		Logger:    logger,
		IOTimeout: cfg.Match.IOTimeout,
	}

	var snapshots *cache.SnapshotCache
	if cfg.Redis.Addr != "" {
		snapshots, err = cache.Dial(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("snapshot cache unavailable; continuing without it", zap.Error(err))
			snapshots = nil
		} else {
			defer snapshots.Close()
			deps.Cache = snapshots
		}
	}

	var replays archive.Archive
	if cfg.Replay.Enabled {
		replays, err = openArchive(ctx, cfg.Replay, logger)
		if err != nil {
			return fmt.Errorf("open replay archive: %w", err)
		}
		deps.Archive = replays
	}

	outbox, err := persistence.NewOutbox(persistence.Config{
		Results:       results,
		Players:       players,
		RetryBase:     cfg.Persistence.RetryBase,
		RetryMax:      cfg.Persistence.RetryMax,
		MaxAttempts:   cfg.Persistence.MaxAttempts,
		SweepInterval: cfg.Persistence.SweepInterval,
		Clock:         clock,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("create outbox: %w", err)
	}
	if err := outbox.Start(); err != nil {
		return fmt.Errorf("start outbox: %w", err)
	}
	deps.Results = outbox

	hub := gateway.NewHub(clock, logger)
	deps.Notifier = hub

	registry, err := game.NewRegistry(game.RegistryConfig{
		Rules:   cfg.Rules(),
		Catalog: cat,
		Deps:    deps,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create match registry: %w", err)
	}

	queue, err := matchmaking.NewManager(matchmaking.Config{
		Modes:        cfg.Matchmaking.Modes,
		Policy:       cfg.Policy(),
		TickInterval: cfg.Matchmaking.TickInterval,
		Store:        queueStore,
		Factory:      registry,
		Clock:        clock,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("create matchmaking: %w", err)
	}
	if err := queue.Start(); err != nil {
		return fmt.Errorf("start matchmaking: %w", err)
	}
	logger.Info("matchmaking started", zap.Strings("modes", queue.Modes()))

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, clock)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}
	admin, err := auth.NewAdmin(cfg.Auth.AdminPasswordHash)
	if err != nil {
		return err
	}
	if !admin.Enabled() {
		logger.Warn("admin password hash not configured; admin RPC access disabled")
	}

	gw, err := gateway.NewServer(cfg.Server.WebSocket, gateway.Deps{
		Hub:     hub,
		Tokens:  tokens,
		Queue:   queue,
		Matches: registry,
		Players: players,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	adminDeps := server.AdminDeps{
		Matches: registry,
		Queue:   queue,
		Catalog: cat,
		Logger:  logger,
	}
	if snapshots != nil {
		adminDeps.Snapshots = snapshots
	}
	if replays != nil {
		adminDeps.Replays = replays
	}
	adminSrv, err := server.NewAdminServer(adminDeps)
	if err != nil {
		return fmt.Errorf("create admin service: %w", err)
	}
	grpcServer := server.NewGRPCServer(cfg.Server.GRPC, adminSrv, admin, logger)

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Server.GRPC.Address, err)
	}

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start WebSocket server
	wsErr := make(chan error, 1)
	go func() {
		wsErr <- gw.ListenAndServe(ctx)
	}()

	logger.Info("arena server initialized",
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case serveErr = <-wsErr:
		logger.Error("WebSocket server error", zap.Error(serveErr))
	}

	// Graceful shutdown: stop pairing, end live matches, then drain the
	// result outbox so no rating change is lost.
	logger.Info("shutting down gracefully...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	if err := queue.Stop(); err != nil {
		logger.Warn("failed to stop matchmaking", zap.Error(err))
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("matches did not close in time", zap.Error(err))
	}
	if err := outbox.Stop(shutdownCtx); err != nil {
		logger.Error("result outbox not drained", zap.Error(err))
	}
	if ctx.Err() == nil {
		// The listener already failed; only the clients are left.
		hub.CloseAll()
	} else if err := <-wsErr; err != nil {
		logger.Warn("WebSocket server shutdown error", zap.Error(err))
	}
	grpcServer.GracefulStop()
	return serveErr
}

func loadCatalog(ctx context.Context, cfg config.CatalogConfig) (*catalog.Catalog, error) {
	if cfg.Driver == "file" {
		return catalog.LoadFile(cfg.File)
	}
	db, err := catalog.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return catalog.LoadSQL(ctx, db)
}

func openArchive(ctx context.Context, cfg config.ReplayConfig, logger *zap.Logger) (archive.Archive, error) {
	if cfg.S3.Bucket != "" {
		logger.Info("archiving replays to object storage", zap.String("bucket", cfg.S3.Bucket))
		return archive.DialS3(ctx, cfg.S3, logger)
	}
	logger.Info("archiving replays to disk", zap.String("dir", cfg.Dir))
	return archive.NewDir(cfg.Dir, logger)
}

// starterDeck gives in-memory players two copies of every card.
func starterDeck(cat *catalog.Catalog) []string {
	ids := cat.CardIDs()
	return append(ids, ids...)
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
