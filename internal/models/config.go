package models

// Config holds the application configuration
type Config struct {
	Bot                  BotConfig       `json:"bot" envPrefix:"WACONSOLE_BOT_"`
	Stream               StreamConfig    `json:"stream" envPrefix:"WACONSOLE_STREAM_"`
	Timeline             TimelineConfig  `json:"timeline"`
	Directory            DirectoryConfig `json:"directory"`
	Media                MediaConfig     `json:"media"`
	Database             DatabaseConfig  `json:"database" envPrefix:"WACONSOLE_DB_"`
	Server               ServerConfig    `json:"server"`
	Tracing              TracingConfig   `json:"tracing"`
	Retry                RetryConfig     `json:"retry"`
	LogLevel             string          `json:"log_level" env:"WACONSOLE_LOG_LEVEL"`
	RetentionDays        int             `json:"retentionDays"`
	CleanupIntervalHours int             `json:"cleanupIntervalHours"`
	// Cron expression for journal cleanup; overrides CleanupIntervalHours when set
	CleanupSchedule string `json:"cleanupSchedule" env:"WACONSOLE_CLEANUP_SCHEDULE"`
}

// BotConfig points at the external bot service
type BotConfig struct {
	APIBaseURL string `json:"api_base_url" env:"API_URL"`
	StreamURL  string `json:"stream_url" env:"STREAM_URL"`
	APIKey     string `json:"api_key" env:"API_KEY"`
	TimeoutMs  int    `json:"timeout_ms" env:"TIMEOUT_MS"`
	// Consecutive REST failures before the circuit breaker opens
	BreakerMaxFailures int `json:"breakerMaxFailures"`
	BreakerCooldownSec int `json:"breakerCooldownSec"`
}

// StreamConfig controls keepalive and reconnect timing of the event stream
type StreamConfig struct {
	KeepaliveSec     int `json:"keepaliveSec" env:"KEEPALIVE_SEC"`
	ReconnectBaseMs  int `json:"reconnectBaseMs" env:"RECONNECT_BASE_MS"`
	ReconnectMaxMs   int `json:"reconnectMaxMs" env:"RECONNECT_MAX_MS"`
	ConnectTimeoutMs int `json:"connectTimeoutMs"`
}

// TimelineConfig holds message history paging settings
type TimelineConfig struct {
	PageSize int `json:"pageSize"`
}

// DirectoryConfig holds conversation listing settings
type DirectoryConfig struct {
	PageSize int `json:"pageSize"`
}

// DatabaseConfig holds the mutation journal location
type DatabaseConfig struct {
	Path string `json:"path" env:"PATH"`
}

// MediaConfig holds the client-side upload pre-check limits
type MediaConfig struct {
	MaxSizeMB    int      `json:"maxSizeMB"`
	AllowedTypes []string `json:"allowedTypes"`
}

// ServerConfig holds the dashboard API listener settings
type ServerConfig struct {
	Port            int    `json:"port" env:"WACONSOLE_PORT"`
	ReadTimeoutSec  int    `json:"readTimeoutSec"`
	WriteTimeoutSec int    `json:"writeTimeoutSec"`
	IdleTimeoutSec  int    `json:"idleTimeoutSec"`
	// Required on every /api request when set; empty leaves the API open
	APIToken string `json:"apiToken" env:"WACONSOLE_API_TOKEN"`
	// Per-client request budget; RateLimitRPS < 0 disables limiting
	RateLimitRPS   float64 `json:"rateLimitRps"`
	RateLimitBurst int     `json:"rateLimitBurst"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

// RetryConfig holds retry related configurations
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
