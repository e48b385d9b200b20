package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/upb/filevault/auth"
	"github.com/upb/filevault/config"
	"github.com/upb/filevault/handlers"
	"github.com/upb/filevault/identity"
	"github.com/upb/filevault/middleware"
	"github.com/upb/filevault/repositories"
	"github.com/upb/filevault/repositories/postgres"
	"github.com/upb/filevault/repositories/rediscache"
	"github.com/upb/filevault/services/files"
	"github.com/upb/filevault/services/users"
	"github.com/upb/filevault/token"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config    *config.Config
	DB        *postgres.DB
	UserCache *rediscache.UserCache
	Logger    *zap.Logger

	// Repository Factory
	RepoFactory *postgres.RepositoryFactory

	// Repositories. Users is the cached repository when Redis is configured.
	Users     repositories.UserRepository
	Files     repositories.FileRepository
	TxManager repositories.TransactionManager

	// Authentication core
	TokenCodec *token.Codec
	Normalizer *identity.Normalizer
	Reconciler *users.Reconciler
	Providers  *auth.ProviderRegistry

	// Services
	FileService *files.Service

	// HTTP
	Authenticator *middleware.Authenticator
	authHandler   *auth.Handler
}

// Option customizes dependency construction
type Option func(*options)

type options struct {
	providerOpts []auth.RegistryOption
}

// WithProviderOptions passes options to the OAuth provider registry
func WithProviderOptions(opts ...auth.RegistryOption) Option {
	return func(o *options) {
		o.providerOpts = append(o.providerOpts, opts...)
	}
}

// AuthHandler returns the auth handler for route wiring (implements handlers.AuthDeps)
func (d *Dependencies) AuthHandler() *auth.Handler {
	return d.authHandler
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	factory, err := postgres.NewRepositoryFactory(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deps, err := NewDependenciesFromFactory(ctx, cfg, factory, logger, opts...)
	if err != nil {
		_ = factory.Close()
		return nil, err
	}
	return deps, nil
}

// NewDependenciesFromFactory wires everything on top of an open repository factory
func NewDependenciesFromFactory(ctx context.Context, cfg *config.Config, factory *postgres.RepositoryFactory, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		RepoFactory: factory,
		DB:          factory.GetDB(),
	}

	deps.initRepositories()

	if err := deps.initCache(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize user cache: %w", err)
	}

	if err := deps.initAuth(cfg, o.providerOpts); err != nil {
		return nil, fmt.Errorf("failed to initialize authentication: %w", err)
	}

	deps.FileService = files.NewService(deps.Files, deps.Users, cfg.Files.MaxUploadBytes, logger)

	logger.Info("all dependencies initialized successfully",
		zap.Strings("providers", deps.Providers.Names()),
		zap.Bool("user_cache", deps.UserCache != nil))
	return deps, nil
}

// initRepositories initializes all repository instances
func (d *Dependencies) initRepositories() {
	repos := d.RepoFactory.NewRepositories()

	d.Users = repos.Users
	d.Files = repos.Files
	d.TxManager = d.RepoFactory.GetTransactionManager()

	d.Logger.Info("repositories initialized")
}

// initCache puts the Redis user cache in front of the user repository when configured
func (d *Dependencies) initCache(ctx context.Context, cfg *config.Config) error {
	if !cfg.Redis.Enabled() {
		d.Logger.Info("redis not configured, user lookups go straight to postgres")
		return nil
	}

	cache, err := rediscache.New(ctx, d.Users, cfg.Redis.URL, cfg.Redis.CacheTTL, d.Logger)
	if err != nil {
		return err
	}
	d.UserCache = cache
	d.Users = cache
	return nil
}

func (d *Dependencies) initAuth(cfg *config.Config, providerOpts []auth.RegistryOption) error {
	key, err := signingKey(cfg.Token)
	if err != nil {
		return err
	}
	if cfg.Token.SigningKey == "" {
		d.Logger.Warn("no TOKEN_SIGNING_KEY set, using a per-process key; sessions end on restart")
	}

	d.TokenCodec = token.NewCodec(key, token.WithTTL(cfg.Token.TTL))
	d.Normalizer = identity.NewNormalizer(d.Logger)
	d.Reconciler = users.NewReconciler(d.Users, d.TxManager, d.Logger)
	d.Providers = auth.NewProviderRegistry(cfg.OAuth, providerOpts...)
	d.Authenticator = middleware.NewAuthenticator(d.TokenCodec, d.Reconciler, d.Logger)

	if d.Providers.Count() == 0 {
		d.Logger.Warn("no OAuth providers configured, login endpoints disabled")
		return nil
	}

	d.authHandler = auth.NewHandler(cfg, d.Providers, d.Normalizer, d.Reconciler, d.TokenCodec, d.Logger)
	d.Logger.Info("auth handler initialized")
	return nil
}

func signingKey(cfg config.TokenConfig) (token.SigningKey, error) {
	if cfg.SigningKey != "" {
		return token.SigningKeyFromSecret(cfg.SigningKey)
	}
	return token.NewSigningKey()
}

// HealthChecks lists the dependencies probed by the readiness endpoint
func (d *Dependencies) HealthChecks() map[string]handlers.HealthChecker {
	checks := make(map[string]handlers.HealthChecker)
	if d.DB != nil {
		checks["database"] = d.DB
	}
	if d.UserCache != nil {
		checks["redis"] = d.UserCache
	}
	return checks
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.UserCache != nil {
		if err := d.UserCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}

	if d.RepoFactory != nil {
		if err := d.RepoFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		} else {
			d.Logger.Info("database connection closed")
		}
	}

	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %w", errors.Join(errs...))
	}
	return nil
}
