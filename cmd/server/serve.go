package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wagerhall/wager-server/internal/chess"
	"github.com/wagerhall/wager-server/internal/config"
	"github.com/wagerhall/wager-server/internal/ledger"
	"github.com/wagerhall/wager-server/internal/match"
	"github.com/wagerhall/wager-server/internal/notify"
	"github.com/wagerhall/wager-server/internal/persistence"
	"github.com/wagerhall/wager-server/internal/repository"
	"github.com/wagerhall/wager-server/internal/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket, HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer logger.Sync()

			logger.Info("starting wager server",
				zap.String("version", version),
				zap.String("config", *configPath),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("failed to close session store", zap.Error(err))
		}
	}()

	if sweeper, ok := store.(persistence.StaleSweeper); ok {
		swept, err := sweeper.AbandonStale(ctx, time.Now())
		if err != nil {
			logger.Warn("failed to abandon stale sessions", zap.Error(err))
		} else if swept > 0 {
			logger.Info("abandoned sessions left by a previous run", zap.Int("count", swept))
		}
	}

	synchronizer := persistence.NewSynchronizer(store, persistence.Options{
		QueueSize:    cfg.Persistence.QueueSize,
		MaxAttempts:  cfg.Persistence.MaxAttempts,
		RetryBackoff: cfg.Persistence.RetryBackoff,
		WriteTimeout: cfg.Persistence.WriteTimeout,
	}, logger)

	hub := server.NewHub(logger)
	lobby := notify.Fanout{hub}
	if cfg.Events.NATSURL != "" {
		publisher, err := notify.NewNATSPublisher(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("failed to drain nats connection", zap.Error(err))
			}
		}()
		lobby = append(lobby, publisher)
	}

	balances := ledger.New(cfg.Game.StartingBalance, logger)
	manager := match.NewManager(balances, chess.NewOracle(), synchronizer, hub, lobby, match.Config{
		MinWager:       cfg.Game.MinWager,
		FeeBasisPoints: cfg.Game.FeeBasisPoints,
	}, logger)
	logger.Info("session manager initialized",
		zap.Int("starting_balance", cfg.Game.StartingBalance),
		zap.Int("min_wager", cfg.Game.MinWager),
		zap.Int("fee_basis_points", cfg.Game.FeeBasisPoints),
	)

	// The persistence worker outlives the listeners so that records written
	// while connections are torn down still reach the store.
	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()

	httpSrv := &http.Server{
		Addr: cfg.Server.HTTP.Address,
		Handler: server.NewRouter(server.RouterConfig{
			BaseContext: workerCtx,
			Logger:      logger,
			Sessions:    manager,
			Hub:         hub,
			Dispatcher:  server.NewDispatcher(manager, hub, cfg.Game.MinWager, logger),
			WebSocket:   cfg.Server.WebSocket,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, health := server.NewGRPCServer(logger)
	grpcLis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPC.Address, err)
	}

	var workers errgroup.Group
	workers.Go(func() error {
		return synchronizer.Run(workerCtx)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting HTTP server",
			zap.String("address", httpSrv.Addr),
			zap.String("websocket_path", cfg.Server.WebSocket.Path),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully...")
		health.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.HTTP.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown incomplete", zap.Error(err))
		}

		hub.CloseAll()
		waitForClients(shutdownCtx, hub)
		grpcSrv.GracefulStop()
		return nil
	})

	serveErr := g.Wait()

	stopWorker()
	if err := workers.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("persistence worker stopped with error", zap.Error(err))
	}

	logger.Info("wager server stopped", zap.Int("unflushed_records", synchronizer.Pending()))
	return serveErr
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (persistence.Store, error) {
	switch cfg.Persistence.Driver {
	case config.DriverPostgres:
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		return &pgStore{SessionRepository: repository.NewSessionRepository(db), db: db}, nil

	case config.DriverRedis:
		repo, err := repository.NewRedisSessionRepository(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		logger.Info("redis session store initialized", zap.Duration("record_ttl", cfg.Redis.RecordTTL))
		return repo, nil

	default:
		logger.Warn("using in-memory session store; records are lost on exit")
		return persistence.NewMemoryStore(), nil
	}
}

// pgStore ties the pool's lifetime to the store.
type pgStore struct {
	*repository.SessionRepository
	db *repository.DB
}

func (s *pgStore) Close() error {
	s.db.Close()
	return nil
}

// waitForClients blocks until every websocket client has been reconciled or
// ctx expires.
func waitForClients(ctx context.Context, hub *server.Hub) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for hub.Len() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
