package config

// DefaultBindAddress is the default bind address (localhost only).
const DefaultBindAddress = "127.0.0.1"

// DefaultPort is the default port for the API server.
const DefaultPort = 7787

// DefaultDashboardPort is the default port for the dashboard server.
const DefaultDashboardPort = 7788

// DefaultLogLevel is the default log level.
const DefaultLogLevel = "info"

// DefaultDataDir is the default data directory (before tilde expansion).
const DefaultDataDir = "~/.scoutman"

// DefaultConfigFilename is the name of the config file.
const DefaultConfigFilename = "scoutman.toml"

// DefaultReadTimeout is the default HTTP server read timeout in seconds.
const DefaultReadTimeout = 10

// DefaultWriteTimeout is the default HTTP server write timeout in seconds.
// It must outlast a full fallback chain.
const DefaultWriteTimeout = 300

// DefaultIdleTimeout is the default HTTP server idle timeout in seconds.
const DefaultIdleTimeout = 120

// DefaultMaxBodySize is the default maximum request body size in bytes (1 MB).
const DefaultMaxBodySize = 1 << 20

// DefaultCooldownSeconds is the default re-enable window for disabled
// generation providers.
const DefaultCooldownSeconds = 300

// DefaultMaxFailures is the default consecutive-failure threshold.
const DefaultMaxFailures = 3

// DefaultGenerationTimeout is the default generation provider timeout in seconds.
const DefaultGenerationTimeout = 60

// DefaultSearchTimeout is the default search provider timeout in seconds.
const DefaultSearchTimeout = 15

// DefaultSearchWorkers is the default search fan-out width. 1 is sequential.
const DefaultSearchWorkers = 4

// DefaultSearchMaxResults is used when a search request omits max_results.
const DefaultSearchMaxResults = 10

// DefaultSearchCacheTTL is the default fallback-search cache TTL in seconds.
const DefaultSearchCacheTTL = 3600

// DefaultSearchCacheSize is the default number of cached fallback searches.
const DefaultSearchCacheSize = 1000

// DefaultRetentionDays is the default attempt-log retention in days.
const DefaultRetentionDays = 30

// DefaultRetryMaxAttempts is the default maximum number of attempts per provider call.
const DefaultRetryMaxAttempts = 2

// DefaultRetryBaseDelayMs is the default base delay for exponential backoff in milliseconds.
const DefaultRetryBaseDelayMs = 500

// DefaultRetryMaxDelayMs is the default maximum delay for exponential backoff in milliseconds.
const DefaultRetryMaxDelayMs = 5000

// DefaultTracingExporter is the default tracing exporter type.
const DefaultTracingExporter = "otlp-grpc"

// DefaultTracingEndpoint is the default OTLP collector endpoint.
const DefaultTracingEndpoint = "localhost:4317"

// DefaultTracingServiceName is the default service name for traces.
const DefaultTracingServiceName = "scoutman"

// DefaultTracingSampleRate is the default sampling rate (1.0 = 100%).
const DefaultTracingSampleRate = 1.0

// ValidLogLevels lists the allowed log level values.
var ValidLogLevels = []string{"trace", "debug", "info", "warn", "error", "fatal"}

// ValidGenerationKinds lists the generation adapter kinds.
var ValidGenerationKinds = []string{"gemini", "openai", "anthropic"}

// ValidSearchKinds lists the search adapter kinds.
var ValidSearchKinds = []string{"serper", "google", "tavily", "exa"}

// ValidRecencies lists the search recency hints. Empty means any time.
var ValidRecencies = []string{"day", "week", "month", "year"}

// ValidExporters lists the tracing exporters.
var ValidExporters = []string{"stdout", "otlp-grpc", "otlp-http"}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:   DefaultBindAddress,
			Port:          DefaultPort,
			DashboardPort: DefaultDashboardPort,
			LogLevel:      DefaultLogLevel,
			DataDir:       DefaultDataDir,
			ReadTimeout:   DefaultReadTimeout,
			WriteTimeout:  DefaultWriteTimeout,
			IdleTimeout:   DefaultIdleTimeout,
			MaxBodySize:   DefaultMaxBodySize,
		},
		Generation: GenerationConfig{
			CooldownSeconds: DefaultCooldownSeconds,
			Providers: []GenerationTarget{
				{
					Name:             "gemini",
					Kind:             "gemini",
					KeyRef:           "keyring://scoutman/gemini",
					Enabled:          true,
					Priority:         1,
					MaxFailures:      DefaultMaxFailures,
					Timeout:          DefaultGenerationTimeout,
					Model:            "gemini-1.5-flash",
					MaxTokens:        8192,
					DefaultMaxTokens: 2048,
					ContextWindow:    1000000,
					MaxTemperature:   2.0,
				},
				{
					Name:             "groq",
					Kind:             "openai",
					KeyRef:           "keyring://scoutman/groq",
					Enabled:          true,
					Priority:         2,
					MaxFailures:      DefaultMaxFailures,
					Timeout:          30,
					Model:            "llama-3.1-70b-versatile",
					MaxTokens:        8000,
					DefaultMaxTokens: 2048,
					ContextWindow:    131072,
					MaxTemperature:   2.0,
				},
				{
					Name:             "openrouter",
					Kind:             "openai",
					KeyRef:           "keyring://scoutman/openrouter",
					Enabled:          true,
					Priority:         3,
					MaxFailures:      DefaultMaxFailures,
					Timeout:          90,
					Model:            "meta-llama/llama-3.1-70b-instruct",
					MaxTokens:        4096,
					DefaultMaxTokens: 2048,
					ContextWindow:    131072,
					MaxTemperature:   2.0,
				},
			},
		},
		Search: SearchConfig{
			Workers:           DefaultSearchWorkers,
			DefaultMaxResults: DefaultSearchMaxResults,
			CacheTTLSeconds:   DefaultSearchCacheTTL,
			CacheSize:         DefaultSearchCacheSize,
			Providers: []SearchTarget{
				{
					Name:      "serper",
					Kind:      "serper",
					KeyRef:    "keyring://scoutman/serper",
					Enabled:   true,
					Priority:  1,
					MaxErrors: DefaultMaxFailures,
					Trust:     0.2,
					Timeout:   DefaultSearchTimeout,
					Country:   "us",
					Language:  "en",
				},
				{
					Name:      "google",
					Kind:      "google",
					KeyRef:    "keyring://scoutman/google",
					Enabled:   true,
					Priority:  2,
					MaxErrors: DefaultMaxFailures,
					Trust:     0.2,
					Timeout:   DefaultSearchTimeout,
				},
				{
					Name:      "tavily",
					Kind:      "tavily",
					KeyRef:    "keyring://scoutman/tavily",
					Enabled:   true,
					Priority:  3,
					MaxErrors: DefaultMaxFailures,
					Trust:     0.1,
					Timeout:   30,
				},
				{
					Name:      "exa",
					Kind:      "exa",
					KeyRef:    "keyring://scoutman/exa",
					Enabled:   false,
					Priority:  4,
					MaxErrors: DefaultMaxFailures,
					Trust:     0.1,
					Timeout:   30,
				},
			},
		},
		Resilience: ResilienceConfig{
			RetryMaxAttempts: DefaultRetryMaxAttempts,
			RetryBaseDelayMs: DefaultRetryBaseDelayMs,
			RetryMaxDelayMs:  DefaultRetryMaxDelayMs,
		},
		Tracing: TracingConfig{
			Exporter:    DefaultTracingExporter,
			Endpoint:    DefaultTracingEndpoint,
			ServiceName: DefaultTracingServiceName,
			SampleRate:  DefaultTracingSampleRate,
		},
		Dashboard: DashboardConfig{
			Enabled:        true,
			AllowedOrigins: []string{"http://localhost:7788"},
		},
		Metrics: MetricsConfig{
			RetentionDays: DefaultRetentionDays,
			Persist:       true,
		},
	}
}
