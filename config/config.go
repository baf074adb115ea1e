// Package config provides configuration management for docsieve.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for docsieve.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the admin HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Bus is the signal bus configuration.
	Bus BusConfig `mapstructure:"bus" validate:"required"`

	// DeadLetter is the dead-letter store configuration.
	DeadLetter DeadLetterConfig `mapstructure:"dead_letter"`

	// Pipeline is the document-evaluation pipeline configuration.
	Pipeline PipelineConfig `mapstructure:"pipeline"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"oneof=development staging production"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the admin HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// ExposedHeaders is the list of headers exposed to the client.
	ExposedHeaders []string `mapstructure:"exposed_headers"`

	// AllowCredentials indicates whether credentials are allowed.
	AllowCredentials bool `mapstructure:"allow_credentials"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// BusConfig holds signal bus settings.
type BusConfig struct {
	// Channels are the named channels the bus owns.
	Channels []ChannelConfig `mapstructure:"channels" validate:"required,min=1,dive"`

	// Thresholds maps signal types to value-gate minimum confidence.
	// Hot-reloadable.
	Thresholds map[string]float64 `mapstructure:"thresholds" validate:"dive,keys,signal_type,endkeys,min=0,max=1"`

	// ThresholdFallback applies to types with no explicit threshold.
	// Hot-reloadable.
	ThresholdFallback float64 `mapstructure:"threshold_fallback" validate:"min=0,max=1"`

	// Dispatcher is the delivery pool configuration.
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`

	// Breaker is the per-(channel, consumer) circuit breaker configuration.
	Breaker BreakerConfig `mapstructure:"breaker"`

	// PublishRate limits publishes per second per publisher. Zero disables.
	PublishRate float64 `mapstructure:"publish_rate" validate:"min=0"`

	// PublishBurst is the per-publisher burst allowance.
	PublishBurst int `mapstructure:"publish_burst" validate:"min=0"`
}

// ChannelConfig holds one channel's settings.
type ChannelConfig struct {
	// Name is the unique channel name.
	Name string `mapstructure:"name" validate:"required,channel_name"`

	// Capacity is the maximum number of queued signals.
	Capacity int `mapstructure:"capacity" validate:"required,min=1"`

	// BackpressureThreshold is the utilization fraction at which
	// non-high-priority enqueues are rejected.
	BackpressureThreshold float64 `mapstructure:"backpressure_threshold" validate:"gt=0,lte=1"`

	// RetainHistory enables the bounded history ring.
	RetainHistory bool `mapstructure:"retain_history"`

	// HistorySize caps the history ring.
	HistorySize int `mapstructure:"history_size" validate:"min=0"`

	// HistoryMaxAge expires history entries by age. Zero disables age GC.
	HistoryMaxAge time.Duration `mapstructure:"history_max_age"`

	// OnNoConsumer is the policy when no eligible consumer is subscribed
	// (historize, deadletter).
	OnNoConsumer string `mapstructure:"on_no_consumer" validate:"omitempty,oneof=historize deadletter"`
}

// DispatcherConfig holds delivery pool settings.
type DispatcherConfig struct {
	// Workers is the size of the delivery worker pool.
	Workers int `mapstructure:"workers" validate:"min=1"`

	// MaxAttempts is the delivery retry budget per signal per consumer.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// RetryDelay is the pause between delivery attempts.
	RetryDelay time.Duration `mapstructure:"retry_delay"`

	// DeliveryTimeout bounds one handler invocation. Zero disables.
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout"`

	// MaxPendingPerConsumer caps the per-(channel, consumer) mailbox.
	MaxPendingPerConsumer int `mapstructure:"max_pending_per_consumer" validate:"min=1"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int `mapstructure:"failure_threshold" validate:"min=1"`

	// Cooldown is how long a breaker stays OPEN before allowing a probe.
	Cooldown time.Duration `mapstructure:"cooldown"`
}

// DeadLetterConfig holds dead-letter store settings.
type DeadLetterConfig struct {
	// Type is the store backend (memory, badger).
	Type string `mapstructure:"type" validate:"oneof=memory badger"`

	// MaxSize caps retained entries in the memory store. Zero means unbounded.
	MaxSize int `mapstructure:"max_size" validate:"min=0"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep"`
}

// PipelineConfig holds document-evaluation pipeline settings.
type PipelineConfig struct {
	// ChunkSize is the target chunk size in runes.
	ChunkSize int `mapstructure:"chunk_size" validate:"min=1"`

	// ChunkOverlap is the rune overlap between consecutive chunks.
	ChunkOverlap int `mapstructure:"chunk_overlap" validate:"min=0"`

	// MinEvidencePerChunk is the evidence count below which a chunk is
	// reported as sparse.
	MinEvidencePerChunk int `mapstructure:"min_evidence_per_chunk" validate:"min=0"`

	// OutlierDeviation is the score distance from the running mean that
	// flags an outlier.
	OutlierDeviation float64 `mapstructure:"outlier_deviation" validate:"min=0"`

	// RecommendThreshold is the aggregate score above which the document is
	// recommended.
	RecommendThreshold float64 `mapstructure:"recommend_threshold" validate:"min=0,max=1"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the OTLP collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout is the exporter request timeout.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are extra headers sent to the collector.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler selects the sampling strategy (ratio, always_on, always_off).
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=ratio always_on always_off"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Channels: %d}",
		c.App.Name, c.Server.Port, c.App.Environment, len(c.Bus.Channels))
}
