package daemon

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/unishare/unisync/internal/api"
	"github.com/unishare/unisync/internal/bus"
	"github.com/unishare/unisync/internal/config"
	"github.com/unishare/unisync/internal/lock"
	"github.com/unishare/unisync/internal/logging"
	"github.com/unishare/unisync/internal/msgstore"
	"github.com/unishare/unisync/internal/profile"
	"github.com/unishare/unisync/internal/scroll"
	"github.com/unishare/unisync/internal/store"
	intsync "github.com/unishare/unisync/internal/sync"
	"github.com/unishare/unisync/internal/transport/laravel"
	"github.com/unishare/unisync/internal/unread"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
	Log        logging.Options
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideProfile,
			provideClient,
			provideEcho,
			laravel.NewTransport,
			provideController,
			providePersister,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Log)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the cache is only opened by its owner.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CachePath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideProfile(p Params, logger *zap.Logger) (*config.Profile, error) {
	cfg, err := config.LoadProfile(profile.ProfilePath(p.Profile))
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", p.Profile, err)
	}
	if err := cfg.ApplyEnv(profile.EnvPath(p.Profile)); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.Profile, err)
	}
	if cfg.Token == "" {
		logger.Warn("no API token configured; requests will be unauthenticated")
	}
	return cfg, nil
}

func provideClient(cfg *config.Profile, logger *zap.Logger) (*laravel.Client, error) {
	return laravel.NewClient(laravel.ClientConfig{
		APIURL:  cfg.APIURL,
		AuthURL: cfg.AuthURL,
		Token:   cfg.Token,
		Timeout: cfg.RequestTimeout,
	}, logger.Named("api"))
}

// provideEcho returns nil when the profile has no push URL.
func provideEcho(cfg *config.Profile, client *laravel.Client, logger *zap.Logger) *laravel.Echo {
	if cfg.PushURL == "" {
		logger.Info("push delivery disabled, relying on polling", zap.Duration("poll_interval", cfg.PollInterval))
		return nil
	}
	return laravel.NewEcho(laravel.EchoConfig{
		URL:            cfg.PushURL,
		ChannelPattern: cfg.ChannelPattern,
		EventName:      cfg.EventName,
	}, client, logger.Named("echo"))
}

func provideController(cfg *config.Profile, t *laravel.Transport, b *bus.Bus, logger *zap.Logger) *intsync.Controller {
	return intsync.New(t, msgstore.New(logger.Named("msgstore")), unread.New(), b, logger.Named("sync"), intsync.Config{
		CurrentUserID: cfg.UserID,
		PollInterval:  cfg.PollInterval,
		Policy:        scroll.NewPolicy(cfg.NearBottomThreshold, cfg.SettleWindow),
	})
}

func providePersister(cfg *config.Profile, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Persister {
	return intsync.NewPersister(db, b, logger.Named("cache"), cfg.CacheDepth)
}

func provideService(p Params, cfg *config.Profile, ctrl *intsync.Controller, echo *laravel.Echo, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Service {
	opts := api.Options{
		Profile: p.Profile,
		UserID:  cfg.UserID,
		Cache:   db,
	}
	if echo != nil {
		opts.Push = echo
	}
	return api.NewService(ctrl, b, logger.Named("api"), opts)
}

type lifecycleDeps struct {
	fx.In

	Server     *Server
	Service    *api.Service
	Lock       *lock.Lock
	DB         *store.DB
	Profile    *config.Profile
	Controller *intsync.Controller
	Persister  *intsync.Persister
	Echo       *laravel.Echo
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	var cancel context.CancelFunc
	logger := d.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var runCtx context.Context
			runCtx, cancel = context.WithCancel(context.Background())

			// Warm start from the cache before anything can emit events.
			snap, err := intsync.LoadSnapshot(d.DB, d.Profile.CacheDepth)
			if err != nil {
				logger.Warn("cache snapshot unavailable, starting cold", zap.Error(err))
			} else {
				d.Controller.Restore(snap)
				logger.Info("cache restored",
					zap.Int("chats", len(snap.Chats)),
					zap.Int("failed_sends", len(snap.Failed)))
			}

			d.Persister.Start(runCtx)
			d.Controller.Start(runCtx)

			if d.Echo != nil {
				d.Echo.OnReconnect(func() { d.Controller.HandleReconnect(runCtx) })
				d.Echo.OnStateChange(func(connected bool) {
					logger.Info("push socket state", zap.Bool("connected", connected))
				})
				go d.Echo.Run(runCtx)
			}

			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			go func() {
				chats, err := d.Controller.LoadChats(runCtx)
				if err != nil {
					logger.Warn("initial chat list load failed", zap.Error(err))
					return
				}
				logger.Info("chat list loaded", zap.Int("chats", len(chats)))
				if d.Profile.WatchAllChats && d.Echo != nil {
					if err := d.Controller.WatchAll(runCtx); err != nil {
						logger.Warn("some chats could not be watched", zap.Error(err))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			d.Service.Shutdown()
			d.Server.Stop(ctx)
			d.Controller.Close()

			if d.Echo != nil {
				if err := d.Echo.Close(); err != nil {
					logger.Debug("push socket close", zap.Error(err))
				}
			}
			var errs error
			d.Persister.Stop()
			errs = multierr.Append(errs, d.DB.Close())
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
				errs = multierr.Append(errs, err)
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return errs
		},
	})
}
