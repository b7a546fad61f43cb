package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"waconsole/internal/constants"
	"waconsole/internal/models"
	"waconsole/internal/validation"

	"github.com/caarlos0/env/v11"
)

var (
	ErrMissingBotURL    = models.ConfigError{Message: "missing bot API base URL"}
	ErrMissingStreamURL = models.ConfigError{Message: "missing bot stream URL"}
	ErrMissingDBPath    = models.ConfigError{Message: "missing database path"}
)

// LoadConfig reads the JSON config file, overlays WACONSOLE_* environment
// variables, fills defaults and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	if err := validation.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	applyDefaults(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyDefaults(c *models.Config) {
	if c.Bot.StreamURL == "" && c.Bot.APIBaseURL != "" {
		c.Bot.StreamURL = deriveStreamURL(c.Bot.APIBaseURL)
	}
	if c.Bot.TimeoutMs <= 0 {
		c.Bot.TimeoutMs = constants.DefaultBotTimeoutMs
	}
	if c.Bot.BreakerMaxFailures <= 0 {
		c.Bot.BreakerMaxFailures = constants.DefaultBreakerMaxFailures
	}
	if c.Bot.BreakerCooldownSec <= 0 {
		c.Bot.BreakerCooldownSec = constants.DefaultBreakerCooldownSec
	}

	if c.Stream.KeepaliveSec <= 0 {
		c.Stream.KeepaliveSec = constants.DefaultKeepaliveSec
	}
	if c.Stream.ReconnectBaseMs <= 0 {
		c.Stream.ReconnectBaseMs = constants.DefaultReconnectBaseMs
	}
	if c.Stream.ReconnectMaxMs <= 0 {
		c.Stream.ReconnectMaxMs = constants.DefaultReconnectMaxMs
	}
	if c.Stream.ConnectTimeoutMs <= 0 {
		c.Stream.ConnectTimeoutMs = constants.DefaultStreamConnectTimeoutMs
	}

	if c.Timeline.PageSize <= 0 {
		c.Timeline.PageSize = constants.DefaultTimelinePageSize
	}
	if c.Directory.PageSize <= 0 {
		c.Directory.PageSize = constants.DefaultDirectoryPageSize
	}

	if c.Media.MaxSizeMB <= 0 {
		c.Media.MaxSizeMB = constants.DefaultMaxUploadSizeMB
	}
	if len(c.Media.AllowedTypes) == 0 {
		c.Media.AllowedTypes = append([]string(nil), constants.DefaultAllowedUploadTypes...)
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = constants.DefaultRateLimitRPS
	}
	if c.Server.RateLimitBurst <= 0 {
		c.Server.RateLimitBurst = constants.DefaultRateLimitBurst
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}

	if c.RetentionDays <= 0 {
		c.RetentionDays = constants.DefaultRetentionDays
	}
	if c.CleanupIntervalHours <= 0 {
		c.CleanupIntervalHours = constants.CleanupSchedulerIntervalHours
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// deriveStreamURL maps http(s)://host/base to ws(s)://host/base/ws.
func deriveStreamURL(apiBase string) string {
	u, err := url.Parse(apiBase)
	if err != nil || u.Host == "" {
		return ""
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	return u.String()
}

func validate(c *models.Config) error {
	if c.Bot.APIBaseURL == "" {
		return ErrMissingBotURL
	}
	if u, err := url.Parse(c.Bot.APIBaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return models.ConfigError{Message: fmt.Sprintf("bot API base URL must be http(s): %s", c.Bot.APIBaseURL)}
	}
	if c.Bot.StreamURL == "" {
		return ErrMissingStreamURL
	}
	if u, err := url.Parse(c.Bot.StreamURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return models.ConfigError{Message: fmt.Sprintf("bot stream URL must be ws(s): %s", c.Bot.StreamURL)}
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Stream.ReconnectMaxMs < c.Stream.ReconnectBaseMs {
		return models.ConfigError{Message: "stream reconnectMaxMs must not be lower than reconnectBaseMs"}
	}
	if err := validation.ValidateNumericRange(c.Timeline.PageSize, "timeline pageSize", 1, constants.MaxPageSize); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateNumericRange(c.Directory.PageSize, "directory pageSize", 1, constants.MaxPageSize); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if err := validation.ValidateRetentionDays(c.RetentionDays); err != nil {
		return models.ConfigError{Message: err.Error()}
	}
	if c.CleanupSchedule != "" {
		if err := validation.ValidateCronExpression(c.CleanupSchedule); err != nil {
			return models.ConfigError{Message: err.Error()}
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return models.ConfigError{Message: "tracing sampleRate must be between 0 and 1"}
	}
	return nil
}
