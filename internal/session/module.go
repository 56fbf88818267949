package session

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/agrolink/chatsync/internal/archive"
	"github.com/agrolink/chatsync/internal/bus"
	"github.com/agrolink/chatsync/internal/config"
	"github.com/agrolink/chatsync/internal/directory"
	"github.com/agrolink/chatsync/internal/gateway"
	"github.com/agrolink/chatsync/internal/history"
	"github.com/agrolink/chatsync/internal/lock"
	"github.com/agrolink/chatsync/internal/logging"
	"github.com/agrolink/chatsync/internal/store"
	"github.com/agrolink/chatsync/internal/transport"
)

// Params holds the resolved launch configuration passed to the fx
// module.
type Params struct {
	Profile    string
	Credential string
	ConfigPath string // optional override for testing; empty = default
}

// Module returns the fx module for the sync daemon, composing all
// providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("session",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideArchive,
			provideGateway,
			provideTransport,
			provideLoader,
			provideDirectory,
			provideStore,
			provideRecorder,
			provideWorkers,
			provideSession,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = ConfigPath(BaseDir())
	}
	cfg, err := config.Load(path)
	if os.IsNotExist(err) {
		return config.Default(), nil
	}
	return cfg, err
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := EnsureDir(cfg.DataDir, p.Profile); err != nil {
		return nil, err
	}
	return logging.New(LogPath(cfg.DataDir, p.Profile))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *transport.Machine {
	return transport.NewMachine(b)
}

func provideLock(p Params, cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(Dir(cfg.DataDir, p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideArchive(p Params, cfg *config.Config, logger *zap.Logger) (*archive.DB, error) {
	dbPath := ArchivePath(cfg.DataDir, p.Profile)
	db, err := archive.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("archive initialized", zap.String("path", dbPath))
	return db, nil
}

func provideGateway(p Params, cfg *config.Config) *gateway.Client {
	return gateway.NewClient(cfg.APIEndpoint, p.Credential)
}

func provideTransport(cfg *config.Config, machine *transport.Machine, logger *zap.Logger) *transport.Client {
	return transport.NewClient(cfg.RealtimeEndpoint, machine, transport.Options{
		BaseDelay:   cfg.BackoffBase(),
		MaxDelay:    cfg.BackoffMax(),
		MaxAttempts: cfg.MaxReconnectAttempts,
	}, logger)
}

func provideLoader(gw *gateway.Client, db *archive.DB, cfg *config.Config, logger *zap.Logger) *history.Loader {
	return history.NewLoader(gw, db, cfg.HistoryPageSize, logger)
}

func provideDirectory(gw *gateway.Client, logger *zap.Logger) *directory.Directory {
	return directory.New(gw, logger)
}

func provideStore(cfg *config.Config) *store.Store {
	return store.New(cfg.AckTimeoutDuration(), cfg.TypingIdleDuration())
}

func provideRecorder(db *archive.DB, b *bus.Bus, logger *zap.Logger) *archive.Recorder {
	return archive.NewRecorder(db, b, logger)
}

func provideWorkers(st *store.Store, b *bus.Bus, logger *zap.Logger) *Workers {
	return NewWorkers(st, b, logger, 0)
}

func provideSession(t *transport.Client, gw *gateway.Client, loader *history.Loader, dir *directory.Directory, st *store.Store, b *bus.Bus, logger *zap.Logger) *Session {
	return New(t, gw, loader, dir, st, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, sess *Session, rec *archive.Recorder, workers *Workers, db *archive.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Archive writes and store maintenance run for the whole
			// process lifetime, not just one connection.
			rec.Start(context.Background())
			workers.Start(context.Background())

			go func() {
				if err := sess.Initialize(context.Background(), p.Credential); err != nil {
					logger.Error("session initialization failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			sess.Disconnect()
			workers.Stop()
			rec.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing archive", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
