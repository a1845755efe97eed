package daemon

import (
	"context"

	"github.com/matheus3301/aichat/internal/api"
	"github.com/matheus3301/aichat/internal/bus"
	"github.com/matheus3301/aichat/internal/config"
	"github.com/matheus3301/aichat/internal/lock"
	"github.com/matheus3301/aichat/internal/logging"
	"github.com/matheus3301/aichat/internal/profile"
	"github.com/matheus3301/aichat/internal/readstate"
	"github.com/matheus3301/aichat/internal/remote"
	"github.com/matheus3301/aichat/internal/store"
	intsync "github.com/matheus3301/aichat/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.aichat/config.toml
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	return profile.SocketPath(p.ProfileName)
}

func (p Params) configPath() string {
	if p.ConfigPath != "" {
		return p.ConfigPath
	}
	return profile.ConfigPath()
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideBus,
			provideStore,
			provideRemote,
			provideStores,
			provideTracker,
			provideController,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(p.configPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.Level())
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName), p.socketPath())
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

// provideStore depends on the lock so that only the owning daemon opens the
// state database.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	path := profile.StatePath(p.ProfileName)
	db, result, err := store.OpenMigrated(path)
	if err != nil {
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", path))
	return db, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) (*remote.Client, error) {
	return remote.New(remote.Options{
		BaseURL:      cfg.BaseURL,
		SendRoute:    cfg.SendRoute,
		ContactRoute: cfg.ContactRoute,
		Timeout:      cfg.HTTPTimeout.Duration,
	}, logger.Named("remote"))
}

func provideStores(b *bus.Bus) intsync.Stores {
	return intsync.Stores{
		Contacts: store.NewContactStore(b),
		Chats:    store.NewChatStore(b),
		Messages: store.NewMessageStore(b),
	}
}

func provideTracker(db *store.DB, b *bus.Bus, logger *zap.Logger) (*readstate.Tracker, error) {
	return readstate.New(db, b, logger.Named("readstate"))
}

func provideController(rc *remote.Client, s intsync.Stores, reads *readstate.Tracker, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *intsync.Controller {
	return intsync.NewController(rc, s, reads, b, intsync.Options{
		MessagePollInterval:  cfg.MessagePollInterval.Duration,
		ChatListPollInterval: cfg.ChatListPollInterval.Duration,
		ChatListMinInterval:  cfg.ChatListMinInterval.Duration,
	}, logger.Named("sync"))
}

func provideService(p Params, ctrl *intsync.Controller, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(ctrl, b, p.ProfileName, logger.Named("api"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, cfg *config.Config, srv *Server, lk *lock.Lock, db *store.DB, reads *readstate.Tracker, ctrl *intsync.Controller, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting",
				zap.String("profile", p.ProfileName),
				zap.String("base_url", cfg.BaseURL),
			)

			// Start gRPC server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			// Chat list polling; the first refresh runs immediately.
			ctrl.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			ctrl.Stop()
			reads.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
