// Package config handles loading and validation of application configuration
// from environment variables and an optional YAML configuration file.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/NomadCrew/nomad-crew-proximity/logger"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Environment represents the application's running environment (development or production).
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Backends the proximity core can talk to.
const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"
)

// Durable device store implementations.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Notification rate-limit key scopes.
const (
	ScopePerUserGroup = "per_user_group"
	ScopePerUser      = "per_user"
)

// ServerConfig holds settings of the local control API.
type ServerConfig struct {
	Environment    Environment `mapstructure:"ENVIRONMENT" yaml:"environment"`
	Port           string      `mapstructure:"PORT" yaml:"port"`
	AllowedOrigins []string    `mapstructure:"ALLOWED_ORIGINS" yaml:"allowed_origins"`
	Version        string      `mapstructure:"VERSION" yaml:"version"`
}

// DatabaseConfig holds PostgreSQL connection details for the postgres backend.
type DatabaseConfig struct {
	Host         string `mapstructure:"HOST" yaml:"host"`
	Port         int    `mapstructure:"PORT" yaml:"port"`
	User         string `mapstructure:"USER" yaml:"user"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	Name         string `mapstructure:"NAME" yaml:"name"`
	SSLMode      string `mapstructure:"SSL_MODE" yaml:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"MAX_OPEN_CONNS" yaml:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"MAX_IDLE_CONNS" yaml:"max_idle_conns"`
	ConnMaxLife  string `mapstructure:"CONN_MAX_LIFE" yaml:"conn_max_life"`
	// NotifyChannel is the LISTEN/NOTIFY channel carrying location inserts.
	NotifyChannel string `mapstructure:"NOTIFY_CHANNEL" yaml:"notify_channel"`
}

// URL returns a postgres:// connection URL suitable for golang-migrate and
// lib/pq.
func (c *DatabaseConfig) URL() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Name,
		RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
	}
	return u.String()
}

// RedisConfig holds Redis connection details for the durable device store.
type RedisConfig struct {
	Address      string `mapstructure:"ADDRESS" yaml:"address"`
	Password     string `mapstructure:"PASSWORD" yaml:"password"`
	DB           int    `mapstructure:"DB" yaml:"db"`
	UseTLS       bool   `mapstructure:"USE_TLS" yaml:"use_tls"`
	PoolSize     int    `mapstructure:"POOL_SIZE" yaml:"pool_size"`
	MinIdleConns int    `mapstructure:"MIN_IDLE_CONNS" yaml:"min_idle_conns"`
	KeyPrefix    string `mapstructure:"KEY_PREFIX" yaml:"key_prefix"`
}

// SupabaseConfig holds the Supabase project the supabase backend talks to.
type SupabaseConfig struct {
	URL     string `mapstructure:"URL" yaml:"url"`
	AnonKey string `mapstructure:"ANON_KEY" yaml:"anon_key"`
	// AccessToken is the signed-in user's JWT. Row level security keys off it.
	AccessToken string `mapstructure:"ACCESS_TOKEN" yaml:"access_token"`
	// JWTSecret, when set, is used to verify AccessToken instead of only
	// decoding it.
	JWTSecret string `mapstructure:"JWT_SECRET" yaml:"jwt_secret"`
}

// SharingConfig holds settings of sharing sessions.
type SharingConfig struct {
	// Backend selects the Session/Proximity API implementation.
	Backend string `mapstructure:"BACKEND" yaml:"backend"`
	// UserID identifies the device owner. Derived from the Supabase access
	// token when empty.
	UserID                 string `mapstructure:"USER_ID" yaml:"user_id"`
	DefaultDurationMinutes int    `mapstructure:"DEFAULT_DURATION_MINUTES" yaml:"default_duration_minutes"`
	// FestivalID is the festival selected at boot, if any.
	FestivalID string `mapstructure:"FESTIVAL_ID" yaml:"festival_id"`
}

// ProximityConfig holds nearby query radii and cadence.
type ProximityConfig struct {
	PointOfInterestRadiusMeters  float64 `mapstructure:"POI_RADIUS_METERS" yaml:"poi_radius_meters"`
	PeerRadiusMeters             float64 `mapstructure:"PEER_RADIUS_METERS" yaml:"peer_radius_meters"`
	RefreshIntervalSeconds       int     `mapstructure:"REFRESH_INTERVAL_SECONDS" yaml:"refresh_interval_seconds"`
	RealtimePeerCap              int     `mapstructure:"REALTIME_PEER_CAP" yaml:"realtime_peer_cap"`
	LocalTrackingDistanceMeters  float64 `mapstructure:"LOCAL_TRACKING_DISTANCE_METERS" yaml:"local_tracking_distance_meters"`
	LocalTrackingIntervalSeconds int     `mapstructure:"LOCAL_TRACKING_INTERVAL_SECONDS" yaml:"local_tracking_interval_seconds"`
}

// CaptureConfig holds the foreground watcher and background agent settings.
type CaptureConfig struct {
	// Store selects the durable device store (redis or memory).
	Store                     string  `mapstructure:"STORE" yaml:"store"`
	WatchDistanceMeters       float64 `mapstructure:"WATCH_DISTANCE_METERS" yaml:"watch_distance_meters"`
	WatchIntervalSeconds      int     `mapstructure:"WATCH_INTERVAL_SECONDS" yaml:"watch_interval_seconds"`
	BackgroundDistanceMeters  float64 `mapstructure:"BACKGROUND_DISTANCE_METERS" yaml:"background_distance_meters"`
	BackgroundIntervalSeconds int     `mapstructure:"BACKGROUND_INTERVAL_SECONDS" yaml:"background_interval_seconds"`
	DeferredBatchSeconds      int     `mapstructure:"DEFERRED_BATCH_SECONDS" yaml:"deferred_batch_seconds"`
	// MaxMissedDeliveries is how many unresolvable deliveries the background
	// agent tolerates before it stops OS updates.
	MaxMissedDeliveries int `mapstructure:"MAX_MISSED_DELIVERIES" yaml:"max_missed_deliveries"`
}

// RateLimitConfig holds configuration for the sharing notification limiter.
type RateLimitConfig struct {
	// NotificationsPerWindow is how many "sharing started" notifications one
	// key may trigger per window.
	NotificationsPerWindow int `mapstructure:"NOTIFICATIONS_PER_WINDOW" yaml:"notifications_per_window"`
	// WindowSeconds is the window duration in seconds.
	WindowSeconds int `mapstructure:"WINDOW_SECONDS" yaml:"window_seconds"`
}

// NotificationConfig holds configuration for the external notification facade API.
type NotificationConfig struct {
	Enabled        bool   `mapstructure:"ENABLED" yaml:"enabled"`
	APIUrl         string `mapstructure:"API_URL" yaml:"api_url"`
	APIKey         string `mapstructure:"API_KEY" yaml:"api_key"`
	TimeoutSeconds int    `mapstructure:"TIMEOUT_SECONDS" yaml:"timeout_seconds"`
	// KeyScope is per_user_group or per_user.
	KeyScope string `mapstructure:"KEY_SCOPE" yaml:"key_scope"`
}

// WorkerPoolConfig holds configuration for the upload worker pool.
type WorkerPoolConfig struct {
	MaxWorkers             int `mapstructure:"MAX_WORKERS" yaml:"max_workers"`
	QueueSize              int `mapstructure:"QUEUE_SIZE" yaml:"queue_size"`
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS" yaml:"shutdown_timeout_seconds"`
}

// Config aggregates all application configuration sections.
type Config struct {
	Server       ServerConfig       `mapstructure:"SERVER" yaml:"server"`
	Database     DatabaseConfig     `mapstructure:"DATABASE" yaml:"database"`
	Redis        RedisConfig        `mapstructure:"REDIS" yaml:"redis"`
	Supabase     SupabaseConfig     `mapstructure:"SUPABASE" yaml:"supabase"`
	Sharing      SharingConfig      `mapstructure:"SHARING" yaml:"sharing"`
	Proximity    ProximityConfig    `mapstructure:"PROXIMITY" yaml:"proximity"`
	Capture      CaptureConfig      `mapstructure:"CAPTURE" yaml:"capture"`
	RateLimit    RateLimitConfig    `mapstructure:"RATE_LIMIT" yaml:"rate_limit"`
	Notification NotificationConfig `mapstructure:"NOTIFICATION" yaml:"notification"`
	WorkerPool   WorkerPoolConfig   `mapstructure:"WORKER_POOL" yaml:"worker_pool"`
}

// IsDevelopment returns true if the application is running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if the application is running in production environment.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// bindEnvVars binds multiple environment variables to config keys.
// Format: []{configKey, envVar}
func bindEnvVars(v *viper.Viper, bindings [][2]string) error {
	for _, b := range bindings {
		if err := v.BindEnv(b[0], b[1]); err != nil {
			return fmt.Errorf("failed to bind %s: %w", b[0], err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER.ENVIRONMENT", EnvDevelopment)
	v.SetDefault("SERVER.PORT", "8090")
	v.SetDefault("SERVER.ALLOWED_ORIGINS", []string{"*"})
	v.SetDefault("SERVER.VERSION", "dev")
	v.SetDefault("DATABASE.HOST", "localhost")
	v.SetDefault("DATABASE.PORT", 5432)
	v.SetDefault("DATABASE.USER", "postgres")
	v.SetDefault("DATABASE.PASSWORD", "")
	v.SetDefault("DATABASE.NAME", "festival_proximity")
	v.SetDefault("DATABASE.SSL_MODE", "disable")
	v.SetDefault("DATABASE.MAX_OPEN_CONNS", 5)
	v.SetDefault("DATABASE.MAX_IDLE_CONNS", 2)
	v.SetDefault("DATABASE.CONN_MAX_LIFE", "1h")
	v.SetDefault("DATABASE.NOTIFY_CHANNEL", "location_updates")
	v.SetDefault("REDIS.ADDRESS", "localhost:6379")
	v.SetDefault("REDIS.PASSWORD", "")
	v.SetDefault("REDIS.DB", 0)
	v.SetDefault("REDIS.USE_TLS", false)
	v.SetDefault("REDIS.POOL_SIZE", 3)
	v.SetDefault("REDIS.MIN_IDLE_CONNS", 1)
	v.SetDefault("REDIS.KEY_PREFIX", "device:")
	v.SetDefault("SHARING.BACKEND", BackendSupabase)
	v.SetDefault("SHARING.DEFAULT_DURATION_MINUTES", 120)
	v.SetDefault("PROXIMITY.POI_RADIUS_METERS", 500)
	v.SetDefault("PROXIMITY.PEER_RADIUS_METERS", 1000)
	v.SetDefault("PROXIMITY.REFRESH_INTERVAL_SECONDS", 30)
	v.SetDefault("PROXIMITY.REALTIME_PEER_CAP", 20)
	v.SetDefault("PROXIMITY.LOCAL_TRACKING_DISTANCE_METERS", 20)
	v.SetDefault("PROXIMITY.LOCAL_TRACKING_INTERVAL_SECONDS", 10)
	v.SetDefault("CAPTURE.STORE", StoreRedis)
	v.SetDefault("CAPTURE.WATCH_DISTANCE_METERS", 50)
	v.SetDefault("CAPTURE.WATCH_INTERVAL_SECONDS", 30)
	v.SetDefault("CAPTURE.BACKGROUND_DISTANCE_METERS", 50)
	v.SetDefault("CAPTURE.BACKGROUND_INTERVAL_SECONDS", 30)
	v.SetDefault("CAPTURE.DEFERRED_BATCH_SECONDS", 60)
	v.SetDefault("CAPTURE.MAX_MISSED_DELIVERIES", 5)
	v.SetDefault("RATE_LIMIT.NOTIFICATIONS_PER_WINDOW", 1)
	v.SetDefault("RATE_LIMIT.WINDOW_SECONDS", 300)
	v.SetDefault("NOTIFICATION.ENABLED", false)
	v.SetDefault("NOTIFICATION.API_URL", "")
	v.SetDefault("NOTIFICATION.API_KEY", "")
	v.SetDefault("NOTIFICATION.TIMEOUT_SECONDS", 10)
	v.SetDefault("NOTIFICATION.KEY_SCOPE", ScopePerUserGroup)
	v.SetDefault("WORKER_POOL.MAX_WORKERS", 4)
	v.SetDefault("WORKER_POOL.QUEUE_SIZE", 256)
	v.SetDefault("WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", 30)
	v.SetDefault("LOG_LEVEL", "info")
}

// LoadConfig loads configuration using Viper: defaults first, then the YAML
// file named by CONFIG_FILE (if any), then environment variables. The result
// is unmarshalled and validated.
func LoadConfig() (*Config, error) {
	v := viper.New()
	log := logger.GetLogger()

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	envBindings := [][2]string{
		// Server config
		{"SERVER.ENVIRONMENT", "SERVER_ENVIRONMENT"},
		{"SERVER.PORT", "PORT"},
		{"SERVER.ALLOWED_ORIGINS", "ALLOWED_ORIGINS"},
		{"SERVER.VERSION", "VERSION"},
		// Database config
		{"DATABASE.HOST", "DB_HOST"},
		{"DATABASE.PORT", "DB_PORT"},
		{"DATABASE.USER", "DB_USER"},
		{"DATABASE.PASSWORD", "DB_PASSWORD"},
		{"DATABASE.NAME", "DB_NAME"},
		{"DATABASE.SSL_MODE", "DB_SSL_MODE"},
		{"DATABASE.NOTIFY_CHANNEL", "DB_NOTIFY_CHANNEL"},
		// Redis config
		{"REDIS.ADDRESS", "REDIS_ADDRESS"},
		{"REDIS.PASSWORD", "REDIS_PASSWORD"},
		{"REDIS.DB", "REDIS_DB"},
		{"REDIS.USE_TLS", "REDIS_USE_TLS"},
		// Supabase
		{"SUPABASE.URL", "SUPABASE_URL"},
		{"SUPABASE.ANON_KEY", "SUPABASE_ANON_KEY"},
		{"SUPABASE.ACCESS_TOKEN", "SUPABASE_ACCESS_TOKEN"},
		{"SUPABASE.JWT_SECRET", "SUPABASE_JWT_SECRET"},
		// Sharing
		{"SHARING.BACKEND", "SHARING_BACKEND"},
		{"SHARING.USER_ID", "SHARING_USER_ID"},
		{"SHARING.FESTIVAL_ID", "FESTIVAL_ID"},
		// Capture
		{"CAPTURE.STORE", "CAPTURE_STORE"},
		// Rate limit config
		{"RATE_LIMIT.NOTIFICATIONS_PER_WINDOW", "RATE_LIMIT_NOTIFICATIONS_PER_WINDOW"},
		{"RATE_LIMIT.WINDOW_SECONDS", "RATE_LIMIT_WINDOW_SECONDS"},
		// Notification config
		{"NOTIFICATION.ENABLED", "NOTIFICATION_ENABLED"},
		{"NOTIFICATION.API_URL", "NOTIFICATION_API_URL"},
		{"NOTIFICATION.API_KEY", "NOTIFICATION_API_KEY"},
		{"NOTIFICATION.TIMEOUT_SECONDS", "NOTIFICATION_TIMEOUT_SECONDS"},
		{"NOTIFICATION.KEY_SCOPE", "NOTIFICATION_KEY_SCOPE"},
		// WorkerPool config
		{"WORKER_POOL.MAX_WORKERS", "WORKER_POOL_MAX_WORKERS"},
		{"WORKER_POOL.QUEUE_SIZE", "WORKER_POOL_QUEUE_SIZE"},
		{"WORKER_POOL.SHUTDOWN_TIMEOUT_SECONDS", "WORKER_POOL_SHUTDOWN_TIMEOUT_SECONDS"},
	}

	if err := bindEnvVars(v, envBindings); err != nil {
		return nil, err
	}

	if err := v.BindEnv("CONFIG_FILE"); err != nil {
		return nil, fmt.Errorf("failed to bind CONFIG_FILE: %w", err)
	}
	if path := v.GetString("CONFIG_FILE"); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		log.Infow("Loaded configuration file", "path", path)
	}

	log.Infow("Configuration loaded",
		"environment", v.GetString("SERVER.ENVIRONMENT"),
		"server_port", v.GetString("SERVER.PORT"),
		"sharing_backend", v.GetString("SHARING.BACKEND"),
		"capture_store", v.GetString("CAPTURE.STORE"),
		"refresh_interval_seconds", v.GetInt("PROXIMITY.REFRESH_INTERVAL_SECONDS"),
	)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	log.Info("Configuration validated successfully")
	return &cfg, nil
}

// DefaultConfig returns the built-in defaults without reading the
// environment or a config file. It is not validated.
func DefaultConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal failed: %w", err)
	}
	return &cfg, nil
}

// validateConfig checks if the loaded configuration values are valid.
func validateConfig(cfg *Config) error {
	log := logger.GetLogger()

	if cfg.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if !containsWildcard(cfg.Server.AllowedOrigins) {
		for _, origin := range cfg.Server.AllowedOrigins {
			if _, err := url.ParseRequestURI(origin); err != nil {
				return fmt.Errorf("invalid allowed origin '%s': %w", origin, err)
			}
		}
	}

	switch cfg.Sharing.Backend {
	case BackendSupabase:
		if err := validateSupabase(&cfg.Supabase); err != nil {
			return err
		}
		if cfg.Sharing.UserID == "" && cfg.Supabase.AccessToken == "" {
			return fmt.Errorf("either a sharing user id or a supabase access token is required")
		}
	case BackendPostgres:
		if err := validateDatabase(&cfg.Database, log); err != nil {
			return err
		}
		if cfg.Sharing.UserID == "" {
			return fmt.Errorf("sharing user id is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown sharing backend %q", cfg.Sharing.Backend)
	}
	if cfg.Sharing.DefaultDurationMinutes <= 0 {
		return fmt.Errorf("default sharing duration must be positive")
	}

	switch cfg.Capture.Store {
	case StoreRedis:
		if cfg.Redis.Address == "" {
			return fmt.Errorf("redis address is required")
		}
		if cfg.Redis.Password == "" && cfg.Redis.UseTLS {
			log.Warn("Redis password is not set, but TLS is enabled. Ensure this is correct for your Redis provider.")
		}
	case StoreMemory:
		log.Warn("Using in-memory device store, background context will not survive a restart")
	default:
		return fmt.Errorf("unknown capture store %q", cfg.Capture.Store)
	}
	if cfg.Capture.MaxMissedDeliveries <= 0 {
		return fmt.Errorf("max missed deliveries must be positive")
	}
	if cfg.Capture.WatchIntervalSeconds <= 0 || cfg.Capture.BackgroundIntervalSeconds <= 0 {
		return fmt.Errorf("capture intervals must be positive")
	}

	if err := validateProximity(&cfg.Proximity); err != nil {
		return err
	}

	if cfg.RateLimit.NotificationsPerWindow <= 0 {
		return fmt.Errorf("rate limit notifications per window must be positive")
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("rate limit window seconds must be positive")
	}

	if err := validateNotificationConfig(&cfg.Notification, log); err != nil {
		return err
	}

	if cfg.WorkerPool.MaxWorkers <= 0 {
		return fmt.Errorf("worker pool max workers must be positive")
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		return fmt.Errorf("worker pool queue size must be positive")
	}
	if cfg.WorkerPool.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("worker pool shutdown timeout must be positive")
	}

	return nil
}

func validateSupabase(cfg *SupabaseConfig) error {
	if cfg.URL == "" {
		return fmt.Errorf("supabase URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return fmt.Errorf("invalid supabase URL: %w", err)
	}
	if cfg.AnonKey == "" {
		return fmt.Errorf("supabase anon key is required")
	}
	return nil
}

func validateDatabase(cfg *DatabaseConfig, log *zap.SugaredLogger) error {
	if cfg.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if cfg.User == "" {
		return fmt.Errorf("database user is required")
	}
	if cfg.Password == "" {
		log.Warn("Database password is not set. Ensure this is intended (e.g., using trusted auth).")
	}
	if cfg.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if cfg.NotifyChannel == "" {
		return fmt.Errorf("database notify channel is required")
	}
	return nil
}

func validateProximity(cfg *ProximityConfig) error {
	if cfg.PointOfInterestRadiusMeters <= 0 || cfg.PeerRadiusMeters <= 0 {
		return fmt.Errorf("proximity radii must be positive")
	}
	if cfg.RefreshIntervalSeconds <= 0 {
		return fmt.Errorf("proximity refresh interval must be positive")
	}
	if cfg.RealtimePeerCap <= 0 {
		return fmt.Errorf("realtime peer cap must be positive")
	}
	if cfg.LocalTrackingIntervalSeconds <= 0 {
		return fmt.Errorf("local tracking interval must be positive")
	}
	return nil
}

// validateNotificationConfig validates the notification facade configuration.
// If enabled but missing API key, it auto-disables the service with a warning.
func validateNotificationConfig(cfg *NotificationConfig, log *zap.SugaredLogger) error {
	if cfg.KeyScope != ScopePerUserGroup && cfg.KeyScope != ScopePerUser {
		return fmt.Errorf("unknown notification key scope %q", cfg.KeyScope)
	}

	if !cfg.Enabled {
		return nil
	}

	if cfg.APIUrl != "" {
		if _, err := url.ParseRequestURI(cfg.APIUrl); err != nil {
			return fmt.Errorf("invalid notification API URL: %w", err)
		}
	}

	if cfg.APIKey == "" || cfg.APIUrl == "" {
		log.Warn("Notification API key or URL not set, auto-disabling notification service")
		cfg.Enabled = false
		return nil
	}

	if cfg.TimeoutSeconds <= 0 {
		return fmt.Errorf("notification timeout must be positive")
	}

	return nil
}

// containsWildcard checks if the list of allowed origins contains the wildcard "*".
func containsWildcard(origins []string) bool {
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
