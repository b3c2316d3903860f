package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/relengtools/composer/internal/api"
	"github.com/relengtools/composer/internal/buildsys"
	"github.com/relengtools/composer/internal/compose"
	"github.com/relengtools/composer/internal/composetool"
	"github.com/relengtools/composer/internal/config"
	"github.com/relengtools/composer/internal/db"
	"github.com/relengtools/composer/internal/httpclient"
	"github.com/relengtools/composer/internal/mirror"
	"github.com/relengtools/composer/internal/notify"
	"github.com/relengtools/composer/internal/push"
	"github.com/relengtools/composer/internal/store"
	"github.com/relengtools/composer/internal/telemetry"
	"github.com/relengtools/composer/internal/validator"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second

	// tracerName names the tracer used for push and compose spans
	tracerName = "github.com/relengtools/composer/push"
)

// AppOption is a function that configures the application builder
//
//nolint:revive // This name is fine
type AppOption func(*appConfig) error

// appConfig collects everything needed to build the components.
// Overrides are primarily for testing; production uses the defaults derived
// from the configuration.
type appConfig struct {
	config *config.Config

	// Optional component overrides
	store     store.Store
	tags      buildsys.TagClient
	copier    composetool.ImageCopier
	publisher notify.Publisher
	mailer    notify.Mailer

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsHandler http.Handler

	logger *slog.Logger
}

func baseConfig(opts ...AppOption) (*appConfig, error) {
	cfg := &appConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetAPIAddress()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return cfg, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) AppOption {
	return func(cfg *appConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding api.address
func WithAddress(addr string) AppOption {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore injects the store instead of building one from the configuration
func WithStore(s store.Store) AppOption {
	return func(cfg *appConfig) error {
		cfg.store = s
		return nil
	}
}

// WithTagClient injects the build system client
func WithTagClient(t buildsys.TagClient) AppOption {
	return func(cfg *appConfig) error {
		cfg.tags = t
		return nil
	}
}

// WithImageCopier injects the image copier used for container and flatpak composes
func WithImageCopier(c composetool.ImageCopier) AppOption {
	return func(cfg *appConfig) error {
		cfg.copier = c
		return nil
	}
}

// WithPublisher injects the event publisher
func WithPublisher(p notify.Publisher) AppOption {
	return func(cfg *appConfig) error {
		cfg.publisher = p
		return nil
	}
}

// WithMailer injects the mailer
func WithMailer(m notify.Mailer) AppOption {
	return func(cfg *appConfig) error {
		cfg.mailer = m
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for push, compose and HTTP metrics
func WithMeterProvider(mp metric.MeterProvider) AppOption {
	return func(cfg *appConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider
func WithTracerProvider(tp trace.TracerProvider) AppOption {
	return func(cfg *appConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) AppOption {
	return func(cfg *appConfig) error {
		cfg.metricsHandler = h
		return nil
	}
}

// WithLogger sets the logger handed to every component
func WithLogger(l *slog.Logger) AppOption {
	return func(cfg *appConfig) error {
		cfg.logger = l
		return nil
	}
}

// NewComponents builds the store, the build system client and the push
// coordinator. The caller must Close the returned components.
func NewComponents(ctx context.Context, opts ...AppOption) (*Components, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	return buildComponents(ctx, b)
}

func buildComponents(ctx context.Context, b *appConfig) (*Components, error) {
	comp := &Components{Config: b.config}

	// Release whatever was opened if a later step fails
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			if err := comp.Close(); err != nil {
				b.logger.Warn("Failed to release components", "error", err)
			}
		}
	}()

	if err := buildStorage(ctx, b, comp); err != nil {
		return nil, err
	}

	comp.Tags = b.tags
	if comp.Tags == nil {
		comp.Tags = buildTagClient(b)
	}

	comp.Publisher = b.publisher
	if comp.Publisher == nil {
		publisher, closer, err := notify.NewPublisher(b.config, b.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create event publisher: %w", err)
		}
		comp.Publisher = publisher
		comp.closers = append(comp.closers, closer)
	}

	deps, err := buildComposeDeps(b, comp)
	if err != nil {
		return nil, err
	}

	coordOpts := []push.Option{
		push.WithPublisher(comp.Publisher),
		push.WithLogger(b.logger),
	}
	if b.meterProvider != nil {
		pushMetrics, err := telemetry.NewPushMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create push metrics: %w", err)
		}
		coordOpts = append(coordOpts, push.WithPushMetrics(pushMetrics))
	}
	if deps.Tracer != nil {
		coordOpts = append(coordOpts, push.WithTracer(deps.Tracer))
	}
	comp.Coordinator = push.New(b.config, comp.Store, push.NewWorkerFactory(deps, b.config), coordOpts...)

	cleanupNeeded = false
	return comp, nil
}

// buildStorage opens the configured store and seeds the configured releases
func buildStorage(ctx context.Context, b *appConfig, comp *Components) error {
	if b.store != nil {
		comp.Store = b.store
	} else {
		if b.config.GetStorageType() == config.StorageTypeDatabase {
			pool, err := db.NewPool(ctx, b.config.Database)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			comp.closers = append(comp.closers, func() error {
				pool.Close()
				return nil
			})
			comp.Store, err = store.NewStore(b.config, pool)
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
		} else {
			s, err := store.NewStore(b.config, nil)
			if err != nil {
				return fmt.Errorf("failed to create store: %w", err)
			}
			comp.Store = s
		}
	}

	if err := store.SeedReleases(ctx, comp.Store, b.config.Releases); err != nil {
		return fmt.Errorf("failed to seed releases: %w", err)
	}
	return nil
}

// buildTagClient selects the in-memory build system for "dev" and the
// XML-RPC hub otherwise
func buildTagClient(b *appConfig) buildsys.TagClient {
	bs := b.config.BuildSystem
	if bs.URL == "" || bs.URL == "dev" {
		b.logger.Warn("Using the in-memory development build system")
		return buildsys.NewDevBuildsystem()
	}
	b.logger.Info("Using build system hub", "url", bs.URL)
	return buildsys.NewKojiClient(bs.URL,
		buildsys.WithHTTPClient(httpclient.NewDefaultClient(0)),
		buildsys.WithTaskPollInterval(bs.GetTaskPollInterval()),
	)
}

// buildComposeDeps assembles the collaborators shared by every compose worker
func buildComposeDeps(b *appConfig, comp *Components) (compose.Deps, error) {
	cfg := b.config

	var waiter compose.SyncWaiter
	if cfg.Mirror != nil {
		waiter = mirror.NewWaiter(httpclient.NewDefaultClient(0), cfg.GetMirrorPollInterval(), b.logger)
	}
	invoker := composetool.NewInvoker(cfg.ComposeTool, cfg.ComposeDir, composetool.WithLogger(b.logger))
	repo := compose.NewRepoComposer(cfg, compose.InvokerTool(invoker), validator.New(b.logger), waiter)

	copier := b.copier
	if copier == nil && cfg.ContainerTool != nil {
		copier = composetool.NewSkopeoCopier(*cfg.ContainerTool, b.logger)
	}
	var image compose.Composer
	if copier != nil {
		image = compose.NewImageComposer(copier)
	} else {
		b.logger.Debug("No container tool configured, container and flatpak composes are disabled")
	}

	mailer := b.mailer
	if mailer == nil {
		mailer = notify.NewMailer(cfg.Mail, b.logger)
	}
	var from string
	if cfg.Mail != nil {
		from = cfg.Mail.From
	}

	deps := compose.Deps{
		Store:      comp.Store,
		Tags:       comp.Tags,
		Publisher:  comp.Publisher,
		Mailer:     mailer,
		Composers:  compose.NewRegistry(repo, image),
		Gate:       compose.NewRequirementsGate(cfg.Gating),
		House:      compose.NewStoreHousekeeper(comp.Store, comp.Tags, time.Now),
		UpdateInfo: compose.NewStoreUpdateInfo(comp.Store, from),
		Logger:     b.logger,
	}

	if b.meterProvider != nil {
		metrics, err := telemetry.NewComposeMetrics(b.meterProvider)
		if err != nil {
			return compose.Deps{}, fmt.Errorf("failed to create compose metrics: %w", err)
		}
		deps.Metrics = metrics
		slog.Info("Compose metrics enabled")
	}
	if b.tracerProvider != nil {
		deps.Tracer = b.tracerProvider.Tracer(tracerName)
	}
	return deps, nil
}

// NewServeApp builds the long running service: the components, a watcher
// pushing requested composes and the status API.
func NewServeApp(ctx context.Context, opts ...AppOption) (*ServeApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	comp, err := buildComponents(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to build components: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, b, comp.Store)
	if err != nil {
		if closeErr := comp.Close(); closeErr != nil {
			b.logger.Warn("Failed to release components", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	comp.Watcher = push.NewWatcher(comp.Store, comp.Coordinator, b.config.GetWatchInterval(), b.logger)

	appCtx, cancel := context.WithCancel(ctx)
	return &ServeApp{
		config:     b.config,
		components: comp,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
		logger:     b.logger,
	}, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *appConfig,
	s store.Store,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	// Use default middlewares if not provided
	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	// Tracing runs outermost so metrics and logs see the span
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			b.middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, b.middlewares...)
			slog.Info("HTTP metrics middleware enabled")
		}
	}
	if b.tracerProvider != nil {
		b.middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)}, b.middlewares...)
	}

	serverOpts := []api.ServerOption{api.WithMiddlewares(b.middlewares...)}
	if b.metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(b.metricsHandler))
	}
	router := api.NewServer(s, serverOpts...)

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
