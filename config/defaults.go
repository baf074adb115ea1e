package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "docsieve",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bus: BusConfig{
			Channels: []ChannelConfig{
				{Name: "chunking", Capacity: 256, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 128},
				{Name: "evidence", Capacity: 512, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 128},
				{Name: "scoring", Capacity: 512, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 128},
				{Name: "aggregation", Capacity: 256, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 128},
				{Name: "recommendation", Capacity: 128, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 64},
				{Name: "integrity", Capacity: 128, BackpressureThreshold: 0.8, RetainHistory: true, HistorySize: 64},
			},
			Thresholds: map[string]float64{
				"chunk.produced":        0.0,
				"chunk.skipped":         0.0,
				"evidence.matched":      0.3,
				"evidence.sparse":       0.0,
				"score.computed":        0.2,
				"score.outlier":         0.5,
				"aggregate.rollup":      0.2,
				"aggregate.drift":       0.5,
				"recommendation.issued": 0.5,
				"integrity.flag":        0.5,
			},
			ThresholdFallback: 0.0,
			Dispatcher: DispatcherConfig{
				Workers:               8,
				MaxAttempts:           3,
				RetryDelay:            200 * time.Millisecond,
				DeliveryTimeout:       5 * time.Second,
				MaxPendingPerConsumer: 256,
			},
			Breaker: BreakerConfig{
				FailureThreshold: 5,
				Cooldown:         10 * time.Second,
			},
			PublishRate:  0,
			PublishBurst: 16,
		},
		DeadLetter: DeadLetterConfig{
			Type:    "memory",
			MaxSize: 4096,
			Badger: BadgerConfig{
				Path:              "./data/deadletter",
				SyncWrites:        true,
				ValueLogFileSize:  1073741824, // 1GB
				NumVersionsToKeep: 1,
			},
		},
		Pipeline: PipelineConfig{
			ChunkSize:           800,
			ChunkOverlap:        80,
			MinEvidencePerChunk: 1,
			OutlierDeviation:    0.35,
			RecommendThreshold:  0.6,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    10 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
	}
}
