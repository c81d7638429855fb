package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/eventops/fulfillment/internal/platform/config"
	pfirestore "github.com/eventops/fulfillment/internal/platform/firestore"
	"github.com/eventops/fulfillment/internal/platform/idempotency"
	"github.com/eventops/fulfillment/internal/platform/jobs"
	"github.com/eventops/fulfillment/internal/platform/metrics"
	"github.com/eventops/fulfillment/internal/platform/observability"
	ppostgres "github.com/eventops/fulfillment/internal/platform/postgres"
	"github.com/eventops/fulfillment/internal/platform/storage"
	"github.com/eventops/fulfillment/internal/repositories"
	firestorerepo "github.com/eventops/fulfillment/internal/repositories/firestore"
	postgresrepo "github.com/eventops/fulfillment/internal/repositories/postgres"
	"github.com/eventops/fulfillment/internal/repositories/ratefile"
	"github.com/eventops/fulfillment/internal/services"
)

const closeTimeout = 5 * time.Second

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders    services.OrderService
	Pricing   services.PricingService
	LineItems services.LineItemService
	Bookings  services.BookingService
	Reskins   services.ReskinService
	Rates     services.RateLookup
	System    services.SystemService
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
	Metrics      *metrics.Recorder
	Idempotency  idempotency.Store

	logger  *zap.Logger
	closers []namedCloser
}

type namedCloser struct {
	name  string
	close func(ctx context.Context) error
}

// Option customises container construction.
type Option func(*options)

type options struct {
	logger   *zap.Logger
	build    services.BuildInfo
	registry repositories.Registry
	events   services.OrderEventPublisher
	clock    func() time.Time
}

// WithLogger sets the base logger handed to services and publishers.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBuildInfo sets the metadata reported by health endpoints.
func WithBuildInfo(build services.BuildInfo) Option {
	return func(o *options) {
		o.build = build
	}
}

// WithRegistry bypasses storage driver selection, mainly for tests.
func WithRegistry(reg repositories.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithEventPublisher bypasses events driver selection.
func WithEventPublisher(events services.OrderEventPublisher) Option {
	return func(o *options) {
		o.events = events
	}
}

// WithClock overrides the clock shared by every service.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// NewContainer constructs the runtime dependencies selected by cfg. Resources acquired before a
// failure are released before returning.
func NewContainer(ctx context.Context, cfg config.Config, opts ...Option) (c *Container, err error) {
	o := options{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.build.StartedAt.IsZero() {
		o.build.StartedAt = o.clock().UTC()
	}

	c = &Container{
		Config:  cfg,
		Metrics: metrics.New(),
		logger:  o.logger,
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			defer cancel()
			_ = c.Close(closeCtx)
			c = nil
		}
	}()

	var checks []repositories.DependencyCheck

	store, storeCheck, err := c.buildIdempotencyStore(ctx, cfg.Redis)
	if err != nil {
		return c, err
	}
	c.Idempotency = store
	if storeCheck != nil {
		checks = append(checks, *storeCheck)
	}

	events := o.events
	if events == nil {
		var eventsCheck *repositories.DependencyCheck
		events, eventsCheck, err = c.buildEventPublisher(ctx, cfg.Events)
		if err != nil {
			return c, err
		}
		if eventsCheck != nil {
			checks = append(checks, *eventsCheck)
		}
	}

	reg := o.registry
	if reg == nil {
		reg, err = c.buildRegistry(ctx, cfg, checks)
		if err != nil {
			return c, err
		}
		c.closers = append(c.closers, namedCloser{name: "registry", close: reg.Close})
	}
	c.Repositories = reg

	references, err := c.buildReferenceVerifier(ctx, cfg.Storage)
	if err != nil {
		return c, err
	}

	svc, err := buildServices(reg, cfg, serviceInputs{
		events:     events,
		references: references,
		metrics:    c.Metrics,
		build:      o.build,
		clock:      o.clock,
		logger:     o.logger,
	})
	if err != nil {
		return c, err
	}
	c.Services = svc
	return c, nil
}

// Close releases resources in reverse acquisition order and joins their errors.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		closer := c.closers[i]
		if err := closer.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", closer.name, err))
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

func (c *Container) buildIdempotencyStore(ctx context.Context, cfg config.RedisConfig) (idempotency.Store, *repositories.DependencyCheck, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		c.logger.Info("idempotency store: in-memory")
		return idempotency.NewMemoryStore(), nil, nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	c.closers = append(c.closers, namedCloser{name: "redis", close: func(context.Context) error { return client.Close() }})
	store, err := idempotency.NewRedisStore(client, "")
	if err != nil {
		return nil, nil, fmt.Errorf("build redis idempotency store: %w", err)
	}
	if err := store.Ping(ctx); err != nil {
		c.logger.Warn("redis unreachable at startup", zap.String("addr", addr), zap.Error(err))
	}
	c.logger.Info("idempotency store: redis", zap.String("addr", addr))
	return store, &repositories.DependencyCheck{Name: "redis", Check: store.Ping}, nil
}

func (c *Container) buildEventPublisher(ctx context.Context, cfg config.EventsConfig) (services.OrderEventPublisher, *repositories.DependencyCheck, error) {
	switch cfg.Driver {
	case config.EventsDriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.PubSubProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("build pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Topic)
		topic.EnableMessageOrdering = true
		c.closers = append(c.closers, namedCloser{name: "pubsub", close: func(context.Context) error {
			topic.Stop()
			return client.Close()
		}})
		publisher, err := jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			return nil, nil, err
		}
		check := &repositories.DependencyCheck{Name: "pubsub", Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", cfg.Topic)
			}
			return nil
		}}
		return publisher, check, nil
	case config.EventsDriverKafka:
		publisher, err := jobs.NewKafkaOrderEventPublisher(cfg.KafkaBrokers, cfg.Topic)
		if err != nil {
			return nil, nil, fmt.Errorf("build kafka publisher: %w", err)
		}
		c.closers = append(c.closers, namedCloser{name: "kafka", close: func(context.Context) error { return publisher.Close() }})
		return publisher, nil, nil
	default:
		return jobs.NewLogOrderEventPublisher(c.logger.Named("events")), nil, nil
	}
}

func (c *Container) buildRegistry(ctx context.Context, cfg config.Config, checks []repositories.DependencyCheck) (repositories.Registry, error) {
	switch cfg.Storage.Driver {
	case config.StorageDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore)
		reg, err := firestorerepo.NewRegistry(provider, checks...)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	default:
		db, err := ppostgres.Connect(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Postgres.MigrateOnStart {
			if err := postgresrepo.Migrate(ctx, db); err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		reg, err := postgresrepo.NewRegistry(db, checks)
		if err != nil {
			db.Close()
			return nil, err
		}
		return reg, nil
	}
}

func (c *Container) buildReferenceVerifier(ctx context.Context, cfg config.StorageConfig) (services.ReferenceVerifier, error) {
	bucket := strings.TrimSpace(cfg.ReferenceBucket)
	if bucket == "" {
		return nil, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("build storage client: %w", err)
	}
	c.closers = append(c.closers, namedCloser{name: "storage", close: func(context.Context) error { return client.Close() }})
	checker, err := storage.NewReferenceChecker(client, bucket)
	if err != nil {
		return nil, err
	}
	return checker, nil
}

type serviceInputs struct {
	events     services.OrderEventPublisher
	references services.ReferenceVerifier
	metrics    services.Metrics
	build      services.BuildInfo
	clock      func() time.Time
	logger     *zap.Logger
}

func buildServices(reg repositories.Registry, cfg config.Config, in serviceInputs) (Services, error) {
	var svc Services

	rateRepo := reg.Rates()
	if path := strings.TrimSpace(cfg.Rates.File); path != "" {
		catalog, err := ratefile.Load(path)
		if err != nil {
			return Services{}, fmt.Errorf("load rate catalog: %w", err)
		}
		rateRepo = catalog
	}

	policy, err := services.NewCasbinRolePolicy(cfg.Security.RolePolicyFile)
	if err != nil {
		return Services{}, fmt.Errorf("build role policy: %w", err)
	}

	rates, err := services.NewRateLookup(services.RateLookupDeps{
		Rates:  rateRepo,
		TTL:    cfg.Rates.CacheTTL,
		Clock:  in.clock,
		Logger: observability.ServiceLogger(in.logger.Named("rates")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build rate lookup: %w", err)
	}
	svc.Rates = rates

	engine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Rates:     rates,
		LineItems: reg.LineItems(),
		Metrics:   in.metrics,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build pricing engine: %w", err)
	}

	if svc.Bookings, err = services.NewBookingService(services.BookingServiceDeps{
		Assets:     reg.Assets(),
		Bookings:   reg.Bookings(),
		Orders:     reg.Orders(),
		Policy:     policy,
		UnitOfWork: reg,
		Metrics:    in.metrics,
		Clock:      in.clock,
		Logger:     observability.ServiceLogger(in.logger.Named("bookings")),
	}); err != nil {
		return Services{}, fmt.Errorf("build booking service: %w", err)
	}

	if svc.Orders, err = services.NewOrderService(services.OrderServiceDeps{
		Orders:     reg.Orders(),
		History:    reg.OrderHistory(),
		Reskins:    reg.Reskins(),
		Pricing:    engine,
		Bookings:   svc.Bookings,
		Rates:      rates,
		Policy:     policy,
		UnitOfWork: reg,
		Events:     in.events,
		Metrics:    in.metrics,
		Clock:      in.clock,
		Logger:     observability.ServiceLogger(in.logger.Named("orders")),
	}); err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}

	if svc.Pricing, err = services.NewPricingService(services.PricingServiceDeps{
		Orders:     reg.Orders(),
		History:    reg.OrderHistory(),
		Reskins:    reg.Reskins(),
		Pricing:    engine,
		Bookings:   svc.Bookings,
		Policy:     policy,
		UnitOfWork: reg,
		Events:     in.events,
		Metrics:    in.metrics,
		Clock:      in.clock,
		Logger:     observability.ServiceLogger(in.logger.Named("pricing")),
	}); err != nil {
		return Services{}, fmt.Errorf("build pricing service: %w", err)
	}

	if svc.LineItems, err = services.NewLineItemService(services.LineItemServiceDeps{
		LineItems:  reg.LineItems(),
		Orders:     reg.Orders(),
		Rates:      rates,
		Policy:     policy,
		References: in.references,
		UnitOfWork: reg,
		Clock:      in.clock,
		Logger:     observability.ServiceLogger(in.logger.Named("line_items")),
	}); err != nil {
		return Services{}, fmt.Errorf("build line item service: %w", err)
	}

	if svc.Reskins, err = services.NewReskinService(services.ReskinServiceDeps{
		Reskins:    reg.Reskins(),
		Orders:     reg.Orders(),
		Policy:     policy,
		References: in.references,
		UnitOfWork: reg,
		Clock:      in.clock,
		Logger:     observability.ServiceLogger(in.logger.Named("reskins")),
	}); err != nil {
		return Services{}, fmt.Errorf("build reskin service: %w", err)
	}

	if healthRepo := reg.Health(); healthRepo != nil {
		if svc.System, err = services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            in.clock,
			Build:            in.build,
		}); err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
	}

	return svc, nil
}
