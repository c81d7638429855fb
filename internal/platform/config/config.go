package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	defaultStorageDriver        = StorageDriverPostgres
	defaultPostgresMaxConns     = 10
	defaultEventsDriver         = EventsDriverLog
	defaultEventsTopic          = "order-status-events"
	defaultRatesCacheTTL        = 5 * time.Minute
	defaultSecurityEnvironment  = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultSecurityIAPIssuer    = "https://cloud.google.com/iap"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultMetricsPath          = "/metrics"
	defaultWriteRateWindow      = time.Minute
)

// Storage drivers selectable through FULFILLMENT_STORAGE_DRIVER.
const (
	StorageDriverPostgres  = "postgres"
	StorageDriverFirestore = "firestore"
)

// Event drivers selectable through FULFILLMENT_EVENTS_DRIVER.
const (
	EventsDriverPubSub = "pubsub"
	EventsDriverKafka  = "kafka"
	EventsDriverLog    = "log"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Postgres    PostgresConfig
	Storage     StorageConfig
	Redis       RedisConfig
	Events      EventsConfig
	Rates       RatesConfig
	Security    SecurityConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Version      string

	// WriteRateLimit caps mutating requests per caller within WriteRateWindow. Zero disables it.
	WriteRateLimit  int
	WriteRateWindow time.Duration
}

// FirebaseConfig stores Firebase project settings used to verify user tokens.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PostgresConfig configures the primary relational store.
type PostgresConfig struct {
	DSN            string
	MaxConns       int
	MigrateOnStart bool
}

// StorageConfig selects the persistence backend and the bucket holding uploaded references.
type StorageConfig struct {
	Driver          string
	ReferenceBucket string
}

// RedisConfig points at the Redis instance backing idempotency keys. Empty Addr disables Redis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EventsConfig controls how order status events are published.
type EventsConfig struct {
	Driver          string
	Topic           string
	PubSubProjectID string
	KafkaBrokers    []string
}

// RatesConfig controls rate catalog caching and the optional YAML catalog.
type RatesConfig struct {
	CacheTTL time.Duration
	File     string
}

// SecurityConfig groups server-to-server authentication settings.
type SecurityConfig struct {
	Environment    string
	RolePolicyFile string
	OIDC           OIDCConfig
}

// OIDCConfig controls Google-signed token verification for internal routes.
type OIDCConfig struct {
	JWKSURL   string
	Audience  string
	Audiences map[string]string
	Issuers   []string
}

// IdempotencyConfig controls idempotency middleware behaviour.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool
	Path    string
}

// ValidationError lists the fields that are missing or out of range.
type ValidationError struct {
	fields []string
}

func (e *ValidationError) Error() string {
	return "config: missing or invalid fields [" + strings.Join(e.fields, ", ") + "]"
}

// Fields returns the offending field names.
func (e *ValidationError) Fields() []string {
	return append([]string(nil), e.fields...)
}

// Load reads configuration from the explicit env map, the process environment and the dotenv
// file, in that order of precedence, then resolves secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	e, err := options.environment()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            e.str("FULFILLMENT_SERVER_PORT", defaultPort),
			ReadTimeout:     e.duration("FULFILLMENT_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    e.duration("FULFILLMENT_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     e.duration("FULFILLMENT_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			Version:         e.str("FULFILLMENT_VERSION", "dev"),
			WriteRateLimit:  e.integer("FULFILLMENT_SERVER_WRITE_RATE_LIMIT", 0),
			WriteRateWindow: e.duration("FULFILLMENT_SERVER_WRITE_RATE_WINDOW", defaultWriteRateWindow),
		},
		Firebase: FirebaseConfig{
			ProjectID:       e.str("FULFILLMENT_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: e.str("FULFILLMENT_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    e.str("FULFILLMENT_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: e.str("FULFILLMENT_FIRESTORE_EMULATOR_HOST", ""),
		},
		Postgres: PostgresConfig{
			DSN:            e.str("FULFILLMENT_POSTGRES_DSN", ""),
			MaxConns:       e.integer("FULFILLMENT_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			MigrateOnStart: e.boolean("FULFILLMENT_POSTGRES_MIGRATE", false),
		},
		Storage: StorageConfig{
			Driver:          e.lower("FULFILLMENT_STORAGE_DRIVER", defaultStorageDriver),
			ReferenceBucket: e.str("FULFILLMENT_STORAGE_REFERENCE_BUCKET", ""),
		},
		Redis: RedisConfig{
			Addr:     e.str("FULFILLMENT_REDIS_ADDR", ""),
			Password: e.str("FULFILLMENT_REDIS_PASSWORD", ""),
			DB:       e.integer("FULFILLMENT_REDIS_DB", 0),
		},
		Events: EventsConfig{
			Driver:          e.lower("FULFILLMENT_EVENTS_DRIVER", defaultEventsDriver),
			Topic:           e.str("FULFILLMENT_EVENTS_TOPIC", defaultEventsTopic),
			PubSubProjectID: e.str("FULFILLMENT_EVENTS_PUBSUB_PROJECT_ID", ""),
			KafkaBrokers:    e.list("FULFILLMENT_EVENTS_KAFKA_BROKERS"),
		},
		Rates: RatesConfig{
			CacheTTL: e.duration("FULFILLMENT_RATES_CACHE_TTL", defaultRatesCacheTTL),
			File:     e.str("FULFILLMENT_RATES_FILE", ""),
		},
		Security: SecurityConfig{
			Environment:    e.lower("FULFILLMENT_SECURITY_ENVIRONMENT", defaultSecurityEnvironment),
			RolePolicyFile: e.str("FULFILLMENT_SECURITY_ROLE_POLICY_FILE", ""),
			OIDC: OIDCConfig{
				JWKSURL:   e.str("FULFILLMENT_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
				Audience:  e.str("FULFILLMENT_SECURITY_OIDC_AUDIENCE", ""),
				Audiences: e.pairs("FULFILLMENT_SECURITY_OIDC_AUDIENCES"),
				Issuers:   e.list("FULFILLMENT_SECURITY_OIDC_ISSUERS"),
			},
		},
		Idempotency: IdempotencyConfig{
			Header:           e.str("FULFILLMENT_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              e.duration("FULFILLMENT_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			CleanupInterval:  e.duration("FULFILLMENT_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
			CleanupBatchSize: e.integer("FULFILLMENT_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
		},
		Metrics: MetricsConfig{
			Enabled: e.boolean("FULFILLMENT_METRICS_ENABLED", true),
			Path:    e.str("FULFILLMENT_METRICS_PATH", defaultMetricsPath),
		},
	}
	cfg.applyDerivedDefaults()

	secrets := &secretFields{resolver: options.secret, resolved: make(map[string]string)}
	if err := secrets.resolve(ctx, "Postgres.DSN", &cfg.Postgres.DSN); err != nil {
		return Config{}, err
	}
	if err := secrets.resolve(ctx, "Redis.Password", &cfg.Redis.Password); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if missing := secrets.missing(options.requiredSecrets); missing != nil {
		if options.panicOnMissingSecrets {
			panic(missing)
		}
		return Config{}, missing
	}
	return cfg, nil
}

// applyDerivedDefaults fills values that default to other settings. Firestore and Pub/Sub share the
// Firebase project unless overridden.
func (c *Config) applyDerivedDefaults() {
	if c.Firestore.ProjectID == "" {
		c.Firestore.ProjectID = c.Firebase.ProjectID
	}
	if c.Events.PubSubProjectID == "" {
		c.Events.PubSubProjectID = c.Firebase.ProjectID
	}
	oidc := &c.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer, defaultSecurityIAPIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[c.Security.Environment]
	}
}

func (c Config) validate() error {
	var invalid []string
	check := func(ok bool, field string) {
		if !ok {
			invalid = append(invalid, field)
		}
	}

	check(c.Server.Port != "", "Server.Port")
	check(c.Firebase.ProjectID != "", "Firebase.ProjectID")

	switch c.Storage.Driver {
	case StorageDriverPostgres:
		check(strings.TrimSpace(c.Postgres.DSN) != "", "Postgres.DSN")
		check(c.Postgres.MaxConns > 0, "Postgres.MaxConns")
	case StorageDriverFirestore:
		check(c.Firestore.ProjectID != "", "Firestore.ProjectID")
	default:
		invalid = append(invalid, "Storage.Driver")
	}

	switch c.Events.Driver {
	case EventsDriverLog:
	case EventsDriverPubSub, EventsDriverKafka:
		check(strings.TrimSpace(c.Events.Topic) != "", "Events.Topic")
		if c.Events.Driver == EventsDriverKafka {
			check(len(c.Events.KafkaBrokers) > 0, "Events.KafkaBrokers")
		}
	default:
		invalid = append(invalid, "Events.Driver")
	}

	check(c.Rates.CacheTTL >= 0, "Rates.CacheTTL")
	check(strings.TrimSpace(c.Idempotency.Header) != "", "Idempotency.Header")
	check(c.Idempotency.TTL > 0, "Idempotency.TTL")
	check(c.Idempotency.CleanupInterval > 0, "Idempotency.CleanupInterval")
	check(c.Idempotency.CleanupBatchSize > 0, "Idempotency.CleanupBatchSize")
	check(!c.Metrics.Enabled || strings.HasPrefix(c.Metrics.Path, "/"), "Metrics.Path")

	if len(invalid) > 0 {
		return &ValidationError{fields: invalid}
	}
	return nil
}
